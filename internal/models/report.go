package models

import (
	"time"

	"github.com/google/uuid"
)

// ReportStatus is the processing state of an export job.
type ReportStatus string

const (
	ReportPending    ReportStatus = "pending"
	ReportProcessing ReportStatus = "processing"
	ReportCompleted  ReportStatus = "completed"
	ReportFailed     ReportStatus = "failed"
)

// ReportExport is an admin-requested CSV export of one month's feedback and
// tier standings, built by the worker and archived to S3.
type ReportExport struct {
	ID          uuid.UUID    `json:"id"`
	Month       MonthKey     `json:"month"`
	RequestedBy uuid.UUID    `json:"requested_by"`
	Status      ReportStatus `json:"status"`
	S3Key       string       `json:"s3_key,omitempty"`
	S3URL       string       `json:"s3_url,omitempty"`
	Error       string       `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}
