package documents

import (
	"time"

	"github.com/sitejournal/compliance/internal/domain/analysis"
)

// QualityDocument represents a stored compliance document for an entity
type QualityDocument struct {
	ID          int64              `json:"id"`
	Entity      analysis.EntityRef `json:"entity"`
	FileName    string             `json:"file_name"`
	ContentType string             `json:"content_type,omitempty"`
	Size        int64              `json:"size"`
	URL         string             `json:"url"`
	ObjectKey   string             `json:"object_key"`
	UploadedAt  time.Time          `json:"uploaded_at"`
}
