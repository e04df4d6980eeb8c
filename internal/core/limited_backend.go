package core

import (
	"context"

	"github.com/JonMunkholm/csvwizard/internal/backend"
	"github.com/JonMunkholm/csvwizard/internal/wizard"
)

// limitedBackend holds an upload slot for every call that streams a file.
// JSON-only calls and status polls pass straight through.
type limitedBackend struct {
	wizard.Backend
	limiter *UploadLimiter
}

// LimitUploads wraps be so file submissions share limiter's slots.
func LimitUploads(be wizard.Backend, limiter *UploadLimiter) wizard.Backend {
	return &limitedBackend{Backend: be, limiter: limiter}
}

func (b *limitedBackend) DiscoverFields(ctx context.Context, up backend.Upload, progress backend.ProgressFunc) (*backend.Columns, error) {
	if err := b.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer b.limiter.Release()
	return b.Backend.DiscoverFields(ctx, up, progress)
}

func (b *limitedBackend) MultiExportInitial(ctx context.Context, up backend.Upload, progress backend.ProgressFunc) (string, error) {
	if err := b.limiter.Acquire(ctx); err != nil {
		return "", err
	}
	defer b.limiter.Release()
	return b.Backend.MultiExportInitial(ctx, up, progress)
}

func (b *limitedBackend) DedupDiscover(ctx context.Context, up backend.Upload, progress backend.ProgressFunc) (*backend.DedupColumns, error) {
	if err := b.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer b.limiter.Release()
	return b.Backend.DedupDiscover(ctx, up, progress)
}
