package reports

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/mentorbridge/backend/internal/middleware"
	"github.com/mentorbridge/backend/internal/models"
	"github.com/mentorbridge/backend/pkg/queue"
	"github.com/mentorbridge/backend/pkg/response"
	"github.com/mentorbridge/backend/pkg/storage"
)

// CreateRequest is the body for POST /reports.
type CreateRequest struct {
	Month string `json:"month" binding:"required"`
}

// Handler handles report export HTTP endpoints (admin only, route-guarded).
type Handler struct {
	repo   *Repository
	queue  *queue.Queue
	s3     *storage.S3
	logger *zap.Logger
}

// NewHandler creates a reports handler. s3 may be nil when object storage is
// not configured; download URLs are then omitted.
func NewHandler(repo *Repository, q *queue.Queue, s3 *storage.S3, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, queue: q, s3: s3, logger: logger}
}

// Create handles POST /reports: records the request and queues the export.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	month, err := models.ParseMonthKey(req.Month)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	requestedBy := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	rp := &models.ReportExport{Month: month, RequestedBy: requestedBy}
	if err := h.repo.Create(c.Request.Context(), rp); err != nil {
		response.Internal(c, "failed to create report")
		return
	}
	err = h.queue.EnqueueReportExport(c.Request.Context(), queue.ReportExportPayload{
		ReportID: rp.ID,
		Month:    string(month),
	})
	if err != nil {
		h.logger.Error("report enqueue failed", zap.String("report_id", rp.ID.String()), zap.Error(err))
		response.ServiceUnavailable(c, "report queue unavailable")
		return
	}
	response.Created(c, rp)
}

// List handles GET /reports.
func (h *Handler) List(c *gin.Context) {
	list, err := h.repo.List(c.Request.Context())
	if err != nil {
		response.Internal(c, "failed to list reports")
		return
	}
	response.OK(c, gin.H{"reports": list})
}

// Get handles GET /reports/:id, attaching a pre-signed download URL once the
// export has completed.
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid report id")
		return
	}
	rp, err := h.repo.GetByID(c.Request.Context(), id)
	if errors.Is(err, pgx.ErrNoRows) {
		response.NotFound(c, "report not found")
		return
	}
	if err != nil {
		response.Internal(c, "failed to load report")
		return
	}

	downloadURL := ""
	if rp.Status == models.ReportCompleted && rp.S3Key != "" && h.s3 != nil {
		downloadURL, err = h.s3.GeneratePresignedDownloadURL(c.Request.Context(), rp.S3Key, h.s3.PresignExpire())
		if err != nil {
			h.logger.Warn("presign download failed", zap.String("report_id", rp.ID.String()), zap.Error(err))
			downloadURL = ""
		}
	}
	response.OK(c, gin.H{"report": rp, "download_url": downloadURL})
}
