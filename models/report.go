package models

import (
	"encoding/json"
	"time"
)

// Severity levels for a report.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Report lifecycle statuses. Every report is created as pending; status
// transitions are performed by collaborators outside the submission core.
const (
	StatusPending            = "pending"
	StatusUnderInvestigation = "under_investigation"
	StatusResolved           = "resolved"
)

// Coarse media file kinds.
const (
	FileKindImage = "image"
	FileKindVideo = "video"
)

// Report represents a citizen-submitted incident record.
type Report struct {
	ID                int64           `json:"id"`
	UserID            *string         `json:"user_id,omitempty"` // nil when anonymous
	CrimeType         string          `json:"crime_type"`
	IsAnonymous       bool            `json:"is_anonymous"`
	Title             string          `json:"title"`
	Address           string          `json:"address"`
	Latitude          float64         `json:"latitude"`
	Longitude         float64         `json:"longitude"`
	Description       string          `json:"description"`
	Severity          string          `json:"severity"`
	Status            string          `json:"status"`
	ReportedAt        time.Time       `json:"reported_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	MediaAnalysis     json.RawMessage `json:"media_analysis,omitempty"`
	IsDetected        bool            `json:"is_detected"`
	FlaggedCategories []string        `json:"flagged_categories"`
	IsBlurred         bool            `json:"is_blurred"`
}

// MediaAsset represents the evidence file record attached to a report.
// Once persisted it is immutable; there is no update path.
type MediaAsset struct {
	ID                int64           `json:"id"`
	ReportID          int64           `json:"report_id"`
	FileURL           string          `json:"file_url"`
	FileType          string          `json:"file_type"`
	UploadedAt        time.Time       `json:"uploaded_at"`
	AnalysisResult    json.RawMessage `json:"analysis_result,omitempty"`
	IsDetected        bool            `json:"is_detected"`
	FlaggedCategories []string        `json:"flagged_categories"`
	IsBlurred         bool            `json:"is_blurred"`
}

// ReportPage is one page of the report list as served to list views.
type ReportPage struct {
	Reports    []Report `json:"reports"`
	Page       int      `json:"page"`
	TotalCount int      `json:"total_count"`
	TotalPages int      `json:"total_pages"`
}
