package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dunamismax/filezenith/internal/archive"
	"github.com/dunamismax/filezenith/internal/domain"
	"github.com/dunamismax/filezenith/internal/handle"
)

var (
	ErrBusy         = errors.New("batch conversion already running")
	ErrClosed       = errors.New("batch is closed")
	ErrNoFiles      = errors.New("batch has no pending files")
	ErrIndexInvalid = errors.New("file index out of range")
)

type Converter interface {
	Convert(ctx context.Context, files []domain.SourceFile, target domain.FormatSpec) ([]domain.ConversionResult, error)
}

type pendingFile struct {
	file    domain.SourceFile
	preview handle.Handle
}

type resultEntry struct {
	result domain.ConversionResult
	handle handle.Handle
}

// Batch holds a client's pending files and the results of the last
// conversion. Every pending file and result owns a handle in the registry.
type Batch struct {
	mu         sync.Mutex
	id         string
	registry   *handle.Registry
	pending    []pendingFile
	results    []resultEntry
	format     domain.FormatSpec
	converting bool
	closed     bool
	lastUsed   time.Time
	now        func() time.Time
}

type FileView struct {
	Index    int    `json:"index"`
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Size     int    `json:"size"`
	HandleID string `json:"handle_id"`
}

type ResultView struct {
	Name              string `json:"name"`
	MimeType          string `json:"mime_type"`
	RequestedMimeType string `json:"requested_mime_type"`
	Size              int    `json:"size"`
	Width             int    `json:"width,omitempty"`
	Height            int    `json:"height,omitempty"`
	Passthrough       bool   `json:"passthrough"`
	Substituted       bool   `json:"substituted"`
	HandleID          string `json:"handle_id"`
}

type View struct {
	ID         string       `json:"batch_id"`
	Format     string       `json:"format,omitempty"`
	Converting bool         `json:"converting"`
	Pending    []FileView   `json:"pending"`
	Results    []ResultView `json:"results"`
}

func (b *Batch) ID() string { return b.id }

// Add appends the image files among files and returns how many were kept.
// Adding files invalidates earlier results.
func (b *Batch) Add(files []domain.SourceFile) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, ErrClosed
	}
	b.touch()

	images := domain.FilterImages(files)
	for _, f := range images {
		h := b.registry.Acquire(b.id, f.Name, f.MimeType, f.Data)
		b.pending = append(b.pending, pendingFile{file: f, preview: h})
	}
	if len(images) > 0 {
		b.releaseResultsLocked()
	}
	return len(images), nil
}

func (b *Batch) Remove(index int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.touch()

	if index < 0 || index >= len(b.pending) {
		return fmt.Errorf("%w: %d", ErrIndexInvalid, index)
	}
	b.registry.Release(b.pending[index].preview.ID)
	b.pending = append(b.pending[:index], b.pending[index+1:]...)
	return nil
}

// Clear drops all pending files and results.
func (b *Batch) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.touch()
	b.clearLocked()
}

// Convert runs the converter over a snapshot of the pending files. On
// success the previous results are replaced; on failure they are released
// so the client starts over from a clean state.
func (b *Batch) Convert(ctx context.Context, conv Converter, target domain.FormatSpec) ([]ResultView, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	if b.converting {
		b.mu.Unlock()
		return nil, ErrBusy
	}
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return nil, ErrNoFiles
	}
	files := make([]domain.SourceFile, len(b.pending))
	for i, p := range b.pending {
		files[i] = p.file
	}
	b.converting = true
	b.touch()
	b.mu.Unlock()

	results, err := conv.Convert(ctx, files, target)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.converting = false
	b.releaseResultsLocked()
	if err != nil {
		return nil, err
	}
	if b.closed {
		return nil, ErrClosed
	}

	b.format = target
	b.results = make([]resultEntry, len(results))
	for i, r := range results {
		b.results[i] = resultEntry{
			result: r,
			handle: b.registry.Acquire(b.id, r.Name, r.MimeType, r.Data),
		}
	}
	return b.resultViewsLocked(), nil
}

// Download bundles the current results.
func (b *Batch) Download(now time.Time) (archive.Download, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return archive.Download{}, ErrClosed
	}
	results := make([]domain.ConversionResult, len(b.results))
	for i, r := range b.results {
		results[i] = r.result
	}
	b.touch()
	b.mu.Unlock()

	return archive.Bundle(results, now)
}

func (b *Batch) View() View {
	b.mu.Lock()
	defer b.mu.Unlock()

	v := View{
		ID:         b.id,
		Format:     b.format.Name,
		Converting: b.converting,
		Pending:    make([]FileView, len(b.pending)),
		Results:    b.resultViewsLocked(),
	}
	for i, p := range b.pending {
		v.Pending[i] = FileView{
			Index:    i,
			Name:     p.file.Name,
			MimeType: p.file.MimeType,
			Size:     len(p.file.Data),
			HandleID: p.preview.ID,
		}
	}
	return v
}

func (b *Batch) close() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.clearLocked()
	// catches handles acquired outside pending/results bookkeeping
	return b.registry.ReleaseOwner(b.id)
}

func (b *Batch) idleSince() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastUsed
}

func (b *Batch) clearLocked() {
	for _, p := range b.pending {
		b.registry.Release(p.preview.ID)
	}
	b.pending = nil
	b.releaseResultsLocked()
}

func (b *Batch) releaseResultsLocked() {
	for _, r := range b.results {
		b.registry.Release(r.handle.ID)
	}
	b.results = nil
}

func (b *Batch) resultViewsLocked() []ResultView {
	views := make([]ResultView, len(b.results))
	for i, r := range b.results {
		views[i] = ResultView{
			Name:              r.result.Name,
			MimeType:          r.result.MimeType,
			RequestedMimeType: r.result.RequestedMimeType,
			Size:              len(r.result.Data),
			Width:             r.result.Width,
			Height:            r.result.Height,
			Passthrough:       r.result.Passthrough,
			Substituted:       r.result.Substituted,
			HandleID:          r.handle.ID,
		}
	}
	return views
}

func (b *Batch) touch() {
	b.lastUsed = b.now()
}

func (b *Batch) Results() []ResultView {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.resultViewsLocked()
}
