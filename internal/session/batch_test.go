package session

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dunamismax/filezenith/internal/domain"
	"github.com/dunamismax/filezenith/internal/handle"
)

func TestAddFiltersNonImagesAndAcquiresPreviews(t *testing.T) {
	reg := handle.NewRegistry()
	m := NewManager(reg, time.Minute)
	b := m.Create()

	added, err := b.Add([]domain.SourceFile{
		{Name: "a.png", MimeType: "image/png", Data: []byte("a")},
		{Name: "notes.txt", MimeType: "text/plain", Data: []byte("n")},
		{Name: "b.jpg", MimeType: "image/jpeg", Data: []byte("b")},
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if added != 2 {
		t.Fatalf("expected 2 files added, got %d", added)
	}
	if reg.Len() != 2 {
		t.Fatalf("expected 2 preview handles, got %d", reg.Len())
	}

	view := b.View()
	if len(view.Pending) != 2 || view.Pending[1].Name != "b.jpg" {
		t.Fatalf("unexpected pending files %+v", view.Pending)
	}
}

func TestConvertReplacesResultsAndReleasesOldHandles(t *testing.T) {
	reg := handle.NewRegistry()
	m := NewManager(reg, time.Minute)
	b := m.Create()
	if _, err := b.Add([]domain.SourceFile{
		{Name: "a.png", MimeType: "image/png", Data: []byte("a")},
		{Name: "b.png", MimeType: "image/png", Data: []byte("b")},
	}); err != nil {
		t.Fatalf("add: %v", err)
	}

	first, err := b.Convert(context.Background(), renameConverter{}, domain.FormatJPG)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if len(first) != 2 || first[0].Name != "a.jpg" || first[1].Name != "b.jpg" {
		t.Fatalf("unexpected results %+v", first)
	}
	if reg.Len() != 4 {
		t.Fatalf("expected 2 previews + 2 results, got %d handles", reg.Len())
	}

	second, err := b.Convert(context.Background(), renameConverter{}, domain.FormatBMP)
	if err != nil {
		t.Fatalf("convert again: %v", err)
	}
	if reg.Len() != 4 {
		t.Fatalf("expected old result handles to be released, got %d handles", reg.Len())
	}
	if _, _, ok := reg.Open(first[0].HandleID); ok {
		t.Fatal("expected replaced result handle to be released")
	}
	if _, data, ok := reg.Open(second[1].HandleID); !ok || !bytes.Equal(data, []byte("B")) {
		t.Fatal("expected new result handle to serve converted bytes")
	}
}

func TestConvertFailureResetsResults(t *testing.T) {
	reg := handle.NewRegistry()
	b := NewManager(reg, time.Minute).Create()
	if _, err := b.Add([]domain.SourceFile{{Name: "a.png", MimeType: "image/png", Data: []byte("a")}}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := b.Convert(context.Background(), renameConverter{}, domain.FormatJPG); err != nil {
		t.Fatalf("convert: %v", err)
	}

	boom := errors.New("boom")
	if _, err := b.Convert(context.Background(), failingConverter{err: boom}, domain.FormatJPG); !errors.Is(err, boom) {
		t.Fatalf("expected converter error, got %v", err)
	}
	if got := len(b.View().Results); got != 0 {
		t.Fatalf("expected results to be reset, got %d", got)
	}
	if reg.Len() != 1 {
		t.Fatalf("expected only the preview handle to remain, got %d", reg.Len())
	}
}

func TestAddInvalidatesResults(t *testing.T) {
	reg := handle.NewRegistry()
	b := NewManager(reg, time.Minute).Create()
	if _, err := b.Add([]domain.SourceFile{{Name: "a.png", MimeType: "image/png", Data: []byte("a")}}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := b.Convert(context.Background(), renameConverter{}, domain.FormatJPG); err != nil {
		t.Fatalf("convert: %v", err)
	}
	if _, err := b.Add([]domain.SourceFile{{Name: "c.png", MimeType: "image/png", Data: []byte("c")}}); err != nil {
		t.Fatalf("add: %v", err)
	}

	if got := len(b.View().Results); got != 0 {
		t.Fatalf("expected results to be dropped after add, got %d", got)
	}
	if reg.Len() != 2 {
		t.Fatalf("expected 2 preview handles, got %d", reg.Len())
	}
}

func TestRemoveReleasesPreview(t *testing.T) {
	reg := handle.NewRegistry()
	b := NewManager(reg, time.Minute).Create()
	if _, err := b.Add([]domain.SourceFile{
		{Name: "a.png", MimeType: "image/png", Data: []byte("a")},
		{Name: "b.png", MimeType: "image/png", Data: []byte("b")},
	}); err != nil {
		t.Fatalf("add: %v", err)
	}
	removed := b.View().Pending[0].HandleID

	if err := b.Remove(0); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, _, ok := reg.Open(removed); ok {
		t.Fatal("expected removed preview handle to be released")
	}
	if err := b.Remove(5); !errors.Is(err, ErrIndexInvalid) {
		t.Fatalf("expected ErrIndexInvalid, got %v", err)
	}
	if view := b.View(); len(view.Pending) != 1 || view.Pending[0].Name != "b.png" {
		t.Fatalf("unexpected pending files %+v", view.Pending)
	}
}

func TestDownloadSingleAndMultiple(t *testing.T) {
	b := NewManager(nil, time.Minute).Create()
	if _, err := b.Download(time.Now()); err == nil {
		t.Fatal("expected error without results")
	}

	if _, err := b.Add([]domain.SourceFile{{Name: "a.png", MimeType: "image/png", Data: []byte("a")}}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := b.Convert(context.Background(), renameConverter{}, domain.FormatJPG); err != nil {
		t.Fatalf("convert: %v", err)
	}
	single, err := b.Download(time.Now())
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if single.Name != "a.jpg" || single.Entries != 1 {
		t.Fatalf("unexpected single download %+v", single)
	}

	if _, err := b.Add([]domain.SourceFile{{Name: "b.png", MimeType: "image/png", Data: []byte("b")}}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := b.Convert(context.Background(), renameConverter{}, domain.FormatJPG); err != nil {
		t.Fatalf("convert: %v", err)
	}
	multi, err := b.Download(time.UnixMilli(42))
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if multi.Entries != 2 || !strings.HasSuffix(multi.Name, ".zip") {
		t.Fatalf("unexpected zip download %+v", multi)
	}
}

func TestCloseReleasesEverything(t *testing.T) {
	reg := handle.NewRegistry()
	m := NewManager(reg, time.Minute)
	b := m.Create()
	other := m.Create()
	if _, err := b.Add([]domain.SourceFile{{Name: "a.png", MimeType: "image/png", Data: []byte("a")}}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := b.Convert(context.Background(), renameConverter{}, domain.FormatJPG); err != nil {
		t.Fatalf("convert: %v", err)
	}
	if _, err := other.Add([]domain.SourceFile{{Name: "z.png", MimeType: "image/png", Data: []byte("z")}}); err != nil {
		t.Fatalf("add: %v", err)
	}

	if _, ok := m.Close(b.ID()); !ok {
		t.Fatal("expected close to find the batch")
	}
	if reg.Len() != 1 {
		t.Fatalf("expected only the other batch's handle, got %d", reg.Len())
	}
	if _, err := b.Add([]domain.SourceFile{{Name: "x.png", MimeType: "image/png"}}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, ok := m.Get(b.ID()); ok {
		t.Fatal("expected closed batch to be forgotten")
	}
}

func TestSweepClosesIdleBatches(t *testing.T) {
	reg := handle.NewRegistry()
	m := NewManager(reg, time.Minute)
	clock := time.Unix(1700000000, 0)
	m.now = func() time.Time { return clock }

	idle := m.Create()
	if _, err := idle.Add([]domain.SourceFile{{Name: "a.png", MimeType: "image/png", Data: []byte("a")}}); err != nil {
		t.Fatalf("add: %v", err)
	}

	clock = clock.Add(2 * time.Minute)
	fresh := m.Create()

	if n := m.Sweep(); n != 1 {
		t.Fatalf("expected 1 batch swept, got %d", n)
	}
	if _, ok := m.Get(idle.ID()); ok {
		t.Fatal("expected idle batch to be closed")
	}
	if _, ok := m.Get(fresh.ID()); !ok {
		t.Fatal("expected fresh batch to survive")
	}
	if reg.Len() != 0 {
		t.Fatalf("expected idle batch handles to be released, got %d", reg.Len())
	}
}

type renameConverter struct{}

func (renameConverter) Convert(_ context.Context, files []domain.SourceFile, target domain.FormatSpec) ([]domain.ConversionResult, error) {
	out := make([]domain.ConversionResult, len(files))
	for i, f := range files {
		out[i] = domain.ConversionResult{
			Name:     strings.TrimSuffix(f.Name, ".png") + target.Extension,
			MimeType: target.MimeType,
			Data:     bytes.ToUpper(f.Data),
		}
	}
	return out, nil
}

type failingConverter struct {
	err error
}

func (c failingConverter) Convert(context.Context, []domain.SourceFile, domain.FormatSpec) ([]domain.ConversionResult, error) {
	return nil, c.err
}
