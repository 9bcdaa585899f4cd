package documents

import (
	"context"
	"io"

	"github.com/sitejournal/compliance/internal/domain/analysis"
)

// Repository port for persisting document metadata
type Repository interface {
	Save(ctx context.Context, d *QualityDocument) error
	ListByEntity(ctx context.Context, ref analysis.EntityRef, limit int) ([]*QualityDocument, error)
	LatestByEntity(ctx context.Context, ref analysis.EntityRef) (*QualityDocument, error)
}

// FileStore port for the external object storage holding document bytes
type FileStore interface {
	Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
}
