package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	domain "github.com/sitejournal/compliance/internal/domain/analysis"
)

// AnalysisRepository is the MySQL result store. Terminal updates are guarded
// with status='pending' in the WHERE clause so completed/failed rows can
// never be rewritten, whatever the caller does.
type AnalysisRepository struct {
	db *sql.DB
}

func NewAnalysisRepository(db *sql.DB) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

// Create inserts the pending row for a dequeued request.
func (r *AnalysisRepository) Create(ctx context.Context, a *domain.Analysis) error {
	const q = `
INSERT INTO compliance_analyses
  (id, entity_kind, entity_id, analysis_date, request_data, response_data,
   compliant, summary, non_compliances, status, error_message, attempt_count)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?);
`
	date := a.AnalysisDate
	if date.IsZero() {
		date = time.Now()
	}
	_, err := r.db.ExecContext(ctx, q,
		a.ID, a.Entity.Kind, a.Entity.ID, date,
		jsonOrEmpty(a.RequestData, "{}"), "",
		nil, "", "[]",
		domain.StatusPending, "", 0,
	)
	return err
}

// Complete writes the provider outcome and the completed transition in one
// statement.
func (r *AnalysisRepository) Complete(ctx context.Context, id domain.AnalysisID, responseData string, v *domain.Verdict, nc []domain.NonCompliance, attempts int) error {
	const q = `
UPDATE compliance_analyses
SET response_data = ?,
    compliant = ?,
    summary = ?,
    non_compliances = ?,
    status = ?,
    attempt_count = ?
WHERE id = ? AND status = ?;
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

// Fail records the terminal failure; same pending guard as Complete.
func (r *AnalysisRepository) Fail(ctx context.Context, id domain.AnalysisID, errMsg string, attempts int) error {
	const q = `
UPDATE compliance_analyses
SET status = ?,
    error_message = ?,
    attempt_count = ?
WHERE id = ? AND status = ?;
`
	res, err := r.db.ExecContext(ctx, q, domain.StatusFailed, errMsg, attempts, id, domain.StatusPending)
	if err != nil {
		return err
	}
	return requirePending(res, id)
}

// Get by ID
func (r *AnalysisRepository) Get(ctx context.Context, id domain.AnalysisID) (*domain.Analysis, error) {
	const q = selectColumns + ` WHERE id=? LIMIT 1;`
	a, err := scanAnalysis(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return a, err
}

// LatestByEntity returns the most recent record for an entity reference,
// served by the (entity_kind, entity_id, analysis_date) index.
func (r *AnalysisRepository) LatestByEntity(ctx context.Context, ref domain.EntityRef) (*domain.Analysis, error) {
	const q = selectColumns + `
WHERE entity_kind=? AND entity_id=?
ORDER BY analysis_date DESC, id DESC
LIMIT 1;`
	a, err := scanAnalysis(r.db.QueryRowContext(ctx, q, ref.Kind, ref.ID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

// Paginate returns a page of records ordered by analysis_date desc
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
LIMIT ? OFFSET ?;`
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

// FailStalePending fails every pending row; run before workers start, while
// nothing is legitimately in flight.
func (r *AnalysisRepository) FailStalePending(ctx context.Context, errMsg string) (int64, error) {
	const q = `
UPDATE compliance_analyses
SET status = ?, error_message = ?
WHERE status = ?;
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
