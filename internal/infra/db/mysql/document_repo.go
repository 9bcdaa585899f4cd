package mysql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/sitejournal/compliance/internal/domain/analysis"
	domain "github.com/sitejournal/compliance/internal/domain/documents"
)

type DocumentRepository struct {
	db *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// Save inserts a document record and backfills the generated id
func (r *DocumentRepository) Save(ctx context.Context, d *domain.QualityDocument) error {
	const q = `
INSERT INTO quality_documents
  (entity_kind, entity_id, file_name, content_type, size, url, object_key, uploaded_at)
VALUES (?,?,?,?,?,?,?,?);
`
	uploaded := d.UploadedAt
	if uploaded.IsZero() {
		uploaded = time.Now()
	}
	res, err := r.db.ExecContext(ctx, q,
		d.Entity.Kind, d.Entity.ID, d.FileName, d.ContentType, d.Size, d.URL, d.ObjectKey, uploaded,
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err == nil {
		d.ID = id
	}
	return nil
}

// ListByEntity returns documents for an entity, newest first
func (r *DocumentRepository) ListByEntity(ctx context.Context, ref analysis.EntityRef, limit int) ([]*domain.QualityDocument, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT id, entity_kind, entity_id, file_name, content_type, size, url, object_key, uploaded_at
FROM quality_documents
WHERE entity_kind=? AND entity_id=?
ORDER BY uploaded_at DESC, id DESC
LIMIT ?;`
	rows, err := r.db.QueryContext(ctx, q, ref.Kind, ref.ID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.QualityDocument
	for rows.Next() {
		var d domain.QualityDocument
		if err := rows.Scan(
			&d.ID, &d.Entity.Kind, &d.Entity.ID, &d.FileName, &d.ContentType,
			&d.Size, &d.URL, &d.ObjectKey, &d.UploadedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

// LatestByEntity returns the most recent document, nil when none stored
func (r *DocumentRepository) LatestByEntity(ctx context.Context, ref analysis.EntityRef) (*domain.QualityDocument, error) {
	const q = `
SELECT id, entity_kind, entity_id, file_name, content_type, size, url, object_key, uploaded_at
FROM quality_documents
WHERE entity_kind=? AND entity_id=?
ORDER BY uploaded_at DESC, id DESC
LIMIT 1;`
	var d domain.QualityDocument
	err := r.db.QueryRowContext(ctx, q, ref.Kind, ref.ID).Scan(
		&d.ID, &d.Entity.Kind, &d.Entity.ID, &d.FileName, &d.ContentType,
		&d.Size, &d.URL, &d.ObjectKey, &d.UploadedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}
