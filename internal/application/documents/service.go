package documents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/sitejournal/compliance/internal/application"
	appanalysis "github.com/sitejournal/compliance/internal/application/analysis"
	"github.com/sitejournal/compliance/internal/domain/analysis"
	domain "github.com/sitejournal/compliance/internal/domain/documents"
)

// ErrInvalidFileType rejects uploads outside the accepted document formats.
var ErrInvalidFileType = errors.New("invalid file type, allowed: pdf, word, images")

var allowedExtensions = map[string]bool{
	".pdf":  true,
	".doc":  true,
	".docx": true,
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// UploadStatus reported back to the upload caller
type UploadStatus string

const (
	// StatusQueued means analysis work was accepted.
	StatusQueued UploadStatus = "queued"
	// StatusDeferred means the document is stored but the queue shed the
	// analysis request; clients can trigger it later explicitly.
	StatusDeferred UploadStatus = "deferred"
)

// UploadResult is what the upload trigger returns immediately.
type UploadResult struct {
	Document   *domain.QualityDocument `json:"document"`
	AnalysisID analysis.AnalysisID     `json:"analysis_id,omitempty"`
	Status     UploadStatus            `json:"status"`
}

// Service stores quality documents and fires the analysis trigger.
type Service struct {
	Repo     domain.Repository
	Files    domain.FileStore
	Analysis *appanalysis.Service
	Clock    application.Clock
	Log      *logrus.Entry
}

// Upload validates and stores a quality document for ref, then submits a
// fire-and-forget analysis. The upload path must return quickly regardless
// of provider latency; a full queue downgrades the response to deferred
// instead of failing the stored upload.
func (s *Service) Upload(ctx context.Context, ref analysis.EntityRef, fileName, contentType string, size int64, r io.Reader) (*UploadResult, error) {
	if !ref.Valid() {
		return nil, analysis.ErrInvalidEntityRef
	}
	if size <= 0 {
		return nil, analysis.ErrEmptyDocument
	}
	ext := strings.ToLower(filepath.Ext(fileName))
	if !allowedExtensions[ext] {
		return nil, ErrInvalidFileType
	}

	key := fmt.Sprintf("%s/%d/%s-%s", ref.Kind, ref.ID, uuid.New().String(), filepath.Base(fileName))
	url, err := s.Files.Upload(ctx, key, r, size, contentType)
	if err != nil {
		return nil, fmt.Errorf("store document: %w", err)
	}

	doc := &domain.QualityDocument{
		Entity:      ref,
		FileName:    filepath.Base(fileName),
		ContentType: contentType,
		Size:        size,
		URL:         url,
		ObjectKey:   key,
		UploadedAt:  s.Clock.Now(),
	}
	if err := s.Repo.Save(ctx, doc); err != nil {
		return nil, fmt.Errorf("save document record: %w", err)
	}

	res := &UploadResult{Document: doc, Status: StatusQueued}
	id, err := s.Analysis.SubmitForAnalysis(ctx, ref, analysis.Document{
		Key:         key,
		URL:         url,
		ContentType: contentType,
	})
	if err != nil {
		if errors.Is(err, analysis.ErrBackpressure) {
			s.Log.WithField("entity", ref.String()).Warn("analysis deferred, queue full")
			res.Status = StatusDeferred
			return res, nil
		}
		return nil, err
	}
	res.AnalysisID = id
	return res, nil
}

// ListByEntity returns stored documents for an entity, newest first.
func (s *Service) ListByEntity(ctx context.Context, ref analysis.EntityRef, limit int) ([]*domain.QualityDocument, error) {
	if !ref.Valid() {
		return nil, analysis.ErrInvalidEntityRef
	}
	return s.Repo.ListByEntity(ctx, ref, limit)
}
