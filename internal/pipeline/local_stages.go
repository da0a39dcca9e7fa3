package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/filezenith/internal/domain"
)

var (
	ErrLocalSourcesDisabled = errors.New("local_file sources are disabled")
	ErrOutsideSourceRoot    = errors.New("local source is outside the source root")
)

// ResolveLocalSource maps a local_file object key onto a path under root.
// Relative keys are joined to root; absolute keys must already lie inside it.
// An empty root disables local sources.
func ResolveLocalSource(root, key string) (string, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return "", ErrLocalSourcesDisabled
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve source root: %w", err)
	}

	key = strings.TrimSpace(key)
	full := filepath.Clean(key)
	if !filepath.IsAbs(full) {
		full = filepath.Join(absRoot, full)
	}
	if !within(absRoot, full) {
		return "", fmt.Errorf("%w: %s", ErrOutsideSourceRoot, key)
	}

	// a symlink inside the root may still point out of it
	if real, err := filepath.EvalSymlinks(full); err == nil {
		realRoot, rerr := filepath.EvalSymlinks(absRoot)
		if rerr != nil {
			realRoot = absRoot
		}
		if !within(realRoot, real) {
			return "", fmt.Errorf("%w: %s", ErrOutsideSourceRoot, key)
		}
	}
	return full, nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

type LocalFileFetcher struct {
	Root string
}

func (f LocalFileFetcher) Fetch(ctx context.Context, req Request, src domain.SourceRef) ([]byte, error) {
	if !strings.EqualFold(req.SourceType, domain.SourceTypeLocalFile) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := ResolveLocalSource(f.Root, src.ObjectKey)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read input file %s: %w", src.ObjectKey, err)
	}
	return data, nil
}

type LocalFileEmitter struct {
	OutputDir string
}

func (e LocalFileEmitter) Emit(_ context.Context, req Request, name, mimeType string, data []byte) (domain.JobOutput, error) {
	if strings.TrimSpace(e.OutputDir) == "" {
		return domain.JobOutput{}, errors.New("output directory is required")
	}

	jobDir := filepath.Join(e.OutputDir, sanitizePathToken(req.JobID))
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return domain.JobOutput{}, fmt.Errorf("create output dir: %w", err)
	}

	fullPath := filepath.Join(jobDir, sanitizeFileName(name))
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return domain.JobOutput{}, fmt.Errorf("write output file: %w", err)
	}

	return domain.JobOutput{
		Name:      name,
		ObjectKey: fullPath,
		MimeType:  mimeType,
		Bytes:     len(data),
	}, nil
}

func (LocalFileEmitter) Discard(_ context.Context, outputs []domain.JobOutput) error {
	var errs []error
	for _, o := range outputs {
		if err := os.Remove(o.ObjectKey); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
