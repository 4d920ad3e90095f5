package vector

import (
	"context"

	"github.com/RohitChoukiker/medQuery/internal/apperr"
	"github.com/RohitChoukiker/medQuery/internal/config"
)

// Backend names accepted in StoreConfig.Backend.
const (
	BackendDisk     = "disk"
	BackendPGVector = "pgvector"
)

// Open creates the store selected by cfg.Backend with the given dimension.
func Open(ctx context.Context, cfg config.StoreConfig, dimensions int, opts ...Option) (Store, error) {
	switch cfg.Backend {
	case BackendDisk, "":
		return OpenDiskStore(ctx, cfg.Path, dimensions, opts...)
	case BackendPGVector:
		return OpenPGStore(ctx, cfg.DatabaseURL, cfg.Table, dimensions, opts...)
	default:
		return nil, apperr.Errorf(apperr.ConfigError, "vector.Open",
			"unknown vector store backend %q (supported: disk, pgvector)", cfg.Backend)
	}
}
