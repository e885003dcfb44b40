package fetch

import (
	"context"
	"os"

	"github.com/Skryldev/image-loader/core"
	apperrors "github.com/Skryldev/image-loader/errors"
)

// FileFetcher reads a local file.  Reusable across loads; the engine
// deduplicates by path anyway.
type FileFetcher struct {
	path     string
	maxBytes int
}

var _ core.Fetcher = (*FileFetcher)(nil)

// NewFileFetcher builds a fetcher for path.  maxBytes bounds the accepted
// file size; zero disables the bound.
func NewFileFetcher(path string, maxBytes int) *FileFetcher {
	return &FileFetcher{path: path, maxBytes: maxBytes}
}

func (f *FileFetcher) ID() string { return "file://" + f.path }

func (f *FileFetcher) LoadData(ctx context.Context, _ core.Priority) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.New(apperrors.CategoryFetch, "fetch.file",
			apperrors.ErrLoadCancelled)
	}
	if f.maxBytes > 0 {
		if fi, err := os.Stat(f.path); err == nil && fi.Size() > int64(f.maxBytes) {
			return nil, apperrors.New(apperrors.CategoryFetch, "fetch.file",
				apperrors.ErrSourceTooLarge)
		}
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryFetch, "fetch.file", err)
	}
	return data, nil
}

// Cancel is a no-op: local reads are not worth interrupting.
func (f *FileFetcher) Cancel() {}

func (f *FileFetcher) Cleanup() {}
