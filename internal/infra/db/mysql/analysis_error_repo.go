package mysql

import (
	"context"
	"database/sql"
	"strings"
	"time"

	domain "github.com/sitejournal/compliance/internal/domain/analysiserrors"
)

type AnalysisErrorRepository struct {
	db *sql.DB
}

func NewAnalysisErrorRepository(db *sql.DB) *AnalysisErrorRepository {
	return &AnalysisErrorRepository{db: db}
}

func (r *AnalysisErrorRepository) Save(ctx context.Context, e *domain.AnalysisError) error {
	const q = `
INSERT INTO compliance_analysis_errors
  (analysis_id, phase, attempt, message, details_json, created_at)
VALUES (?,?,?,?,?,?);
`
	msg := e.Message
	if strings.TrimSpace(msg) == "" {
		msg = "-"
	}
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := r.db.ExecContext(ctx, q,
		e.AnalysisID, e.Phase, e.Attempt, msg, jsonOrEmpty(e.DetailsJSON, "{}"), created,
	)
	return err
}

func (r *AnalysisErrorRepository) ListByAnalysis(ctx context.Context, analysisID string, limit int) ([]*domain.AnalysisError, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT id, analysis_id, phase, attempt, message, details_json, created_at
FROM compliance_analysis_errors
WHERE analysis_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ?;`
	rows, err := r.db.QueryContext(ctx, q, analysisID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.AnalysisError
	for rows.Next() {
		var e domain.AnalysisError
		if err := rows.Scan(&e.ID, &e.AnalysisID, &e.Phase, &e.Attempt, &e.Message, &e.DetailsJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
