package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	domain "github.com/sitejournal/compliance/internal/domain/analysis"
)

// AnalysisRepository mirrors the MySQL result store on Postgres placeholders.
type AnalysisRepository struct {
	db *sql.DB
}

func NewAnalysisRepository(db *sql.DB) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

func (r *AnalysisRepository) Create(ctx context.Context, a *domain.Analysis) error {
	const q = `
INSERT INTO compliance_analyses
  (id, entity_kind, entity_id, analysis_date, request_data, response_data,
   compliant, summary, non_compliances, status, error_message, attempt_count)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12);
`
	date := a.AnalysisDate
	if date.IsZero() {
		date = time.Now()
	}
	request := a.RequestData
	if request == "" {
		request = "{}"
	}
	_, err := r.db.ExecContext(ctx, q,
		a.ID, a.Entity.Kind, a.Entity.ID, date,
		request, "",
		nil, "", "[]",
		domain.StatusPending, "", 0,
	)
	return err
}

func (r *AnalysisRepository) Complete(ctx context.Context, id domain.AnalysisID, responseData string, v *domain.Verdict, nc []domain.NonCompliance, attempts int) error {
	const q = `
UPDATE compliance_analyses
SET response_data = $1,
    compliant = $2,
    summary = $3,
    non_compliances = $4,
    status = $5,
    attempt_count = $6
WHERE id = $7 AND status = $8;
`
	ncJSON, err := json.Marshal(nc)
	if err != nil {
		return fmt.Errorf("marshal non-compliances: %w", err)
	}
	res, err := r.db.ExecContext(ctx, q,
		responseData, v.Compliant, v.Summary, string(ncJSON),
		domain.StatusCompleted, attempts,
		id, domain.StatusPending,
	)
	if err != nil {
		return err
	}
	return requirePending(res, id)
}

func (r *AnalysisRepository) Fail(ctx context.Context, id domain.AnalysisID, errMsg string, attempts int) error {
	const q = `
UPDATE compliance_analyses
SET status = $1,
    error_message = $2,
    attempt_count = $3
WHERE id = $4 AND status = $5;
`
	res, err := r.db.ExecContext(ctx, q, domain.StatusFailed, errMsg, attempts, id, domain.StatusPending)
	if err != nil {
		return err
	}
	return requirePending(res, id)
}

func (r *AnalysisRepository) Get(ctx context.Context, id domain.AnalysisID) (*domain.Analysis, error) {
	const q = selectColumns + ` WHERE id=$1 LIMIT 1;`
	a, err := scanAnalysis(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return a, err
}

func (r *AnalysisRepository) LatestByEntity(ctx context.Context, ref domain.EntityRef) (*domain.Analysis, error) {
	const q = selectColumns + `
WHERE entity_kind=$1 AND entity_id=$2
ORDER BY analysis_date DESC, id DESC
LIMIT 1;`
	a, err := scanAnalysis(r.db.QueryRowContext(ctx, q, ref.Kind, ref.ID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func (r *AnalysisRepository) Paginate(ctx context.Context, page, pageSize int) ([]*domain.Analysis, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	const q = selectColumns + `
ORDER BY analysis_date DESC, id DESC
LIMIT $1 OFFSET $2;`
	rows, err := r.db.QueryContext(ctx, q, pageSize, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Analysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *AnalysisRepository) FailStalePending(ctx context.Context, errMsg string) (int64, error) {
	const q = `
UPDATE compliance_analyses
SET status = $1, error_message = $2
WHERE status = $3;
`
	res, err := r.db.ExecContext(ctx, q, domain.StatusFailed, errMsg, domain.StatusPending)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const selectColumns = `
SELECT id, entity_kind, entity_id, analysis_date, request_data, response_data,
       compliant, summary, non_compliances, status, error_message, attempt_count
FROM compliance_analyses`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnalysis(row rowScanner) (*domain.Analysis, error) {
	var a domain.Analysis
	var compliant sql.NullBool
	var summary sql.NullString
	var ncJSON string
	if err := row.Scan(
		&a.ID, &a.Entity.Kind, &a.Entity.ID, &a.AnalysisDate,
		&a.RequestData, &a.ResponseData,
		&compliant, &summary, &ncJSON,
		&a.Status, &a.ErrorMessage, &a.AttemptCount,
	); err != nil {
		return nil, err
	}
	if a.Status == domain.StatusCompleted {
		a.Result = &domain.Verdict{Compliant: compliant.Bool, Summary: summary.String}
		if err := json.Unmarshal([]byte(ncJSON), &a.NonCompliances); err != nil {
			return nil, fmt.Errorf("decode non_compliances for %s: %w", a.ID, err)
		}
	}
	return &a, nil
}

func requirePending(res sql.Result, id domain.AnalysisID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("analysis %s is not pending, refusing to overwrite terminal state", id)
	}
	return nil
}
