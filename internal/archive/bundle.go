package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/dunamismax/filezenith/internal/domain"
	"github.com/klauspost/compress/zip"
)

const ZipMimeType = "application/zip"

var (
	ErrArchive   = errors.New("build archive")
	ErrNoResults = errors.New("no results to download")
)

// Download is what the client receives: either a single result or a zip of
// all of them.
type Download struct {
	Name     string
	MimeType string
	Data     []byte
	Entries  int
}

// Bundle returns the lone result as-is, or zips several results into one
// archive named after now.
func Bundle(results []domain.ConversionResult, now time.Time) (Download, error) {
	switch len(results) {
	case 0:
		return Download{}, ErrNoResults
	case 1:
		r := results[0]
		return Download{Name: r.Name, MimeType: r.MimeType, Data: r.Data, Entries: 1}, nil
	}

	var buf bytes.Buffer
	if err := WriteZip(&buf, results, now); err != nil {
		return Download{}, err
	}
	return Download{
		Name:     ZipName(now),
		MimeType: ZipMimeType,
		Data:     buf.Bytes(),
		Entries:  len(results),
	}, nil
}

func ZipName(now time.Time) string {
	return fmt.Sprintf("converted-images-%d.zip", now.UnixMilli())
}

// WriteZip streams results into w as deflated entries. Entry names are made
// unique so no result shadows another.
func WriteZip(w io.Writer, results []domain.ConversionResult, now time.Time) error {
	zw := zip.NewWriter(w)

	names := make([]string, len(results))
	for i, r := range results {
		names[i] = r.Name
	}
	names = UniqueNames(names)

	for i, r := range results {
		entry, err := zw.CreateHeader(&zip.FileHeader{
			Name:     names[i],
			Method:   zip.Deflate,
			Modified: now,
		})
		if err != nil {
			_ = zw.Close()
			return fmt.Errorf("%w: create entry %s: %v", ErrArchive, names[i], err)
		}
		if _, err := entry.Write(r.Data); err != nil {
			_ = zw.Close()
			return fmt.Errorf("%w: write entry %s: %v", ErrArchive, names[i], err)
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("%w: finalize: %v", ErrArchive, err)
	}
	return nil
}

// UniqueNames suffixes repeated names with " (n)" before the extension.
// Empty names become "file".
func UniqueNames(names []string) []string {
	out := make([]string, len(names))
	seen := make(map[string]int, len(names))
	taken := make(map[string]bool, len(names))

	for i, name := range names {
		name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), `\`, "/"))
		if name == "" || name == "." || name == "/" {
			name = "file"
		}

		candidate := name
		if taken[candidate] {
			ext := path.Ext(name)
			stem := strings.TrimSuffix(name, ext)
			for n := seen[name] + 1; ; n++ {
				candidate = fmt.Sprintf("%s (%d)%s", stem, n, ext)
				if !taken[candidate] {
					seen[name] = n
					break
				}
			}
		}
		taken[candidate] = true
		out[i] = candidate
	}
	return out
}
