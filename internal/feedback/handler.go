package feedback

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mentorbridge/backend/internal/middleware"
	"github.com/mentorbridge/backend/internal/models"
	"github.com/mentorbridge/backend/internal/recognition"
	"github.com/mentorbridge/backend/pkg/response"
)

// SubmitRequest is the body for POST /facilitations/:id/feedback.
type SubmitRequest struct {
	Rating        int    `json:"rating" binding:"required"`
	FeedbackText  string `json:"feedback_text" binding:"required"`
	RecipientID   string `json:"recipient_id"`
	FeedbackMonth string `json:"feedback_month"`

	HoursContributed *int   `json:"hours_contributed"`
	TasksCompleted   string `json:"tasks_completed"`
	Highlights       string `json:"highlights"`
	Challenges       string `json:"challenges"`
	GoalsNextMonth   string `json:"goals_next_month"`
	SupportNeeded    bool   `json:"support_needed"`
	SupportDetails   string `json:"support_details"`
}

// CorrectRequest is the body for PATCH /feedback/:id.
type CorrectRequest struct {
	Rating       int    `json:"rating" binding:"required"`
	FeedbackText string `json:"feedback_text" binding:"required"`

	HoursContributed *int   `json:"hours_contributed"`
	TasksCompleted   string `json:"tasks_completed"`
	Highlights       string `json:"highlights"`
	Challenges       string `json:"challenges"`
	GoalsNextMonth   string `json:"goals_next_month"`
	SupportNeeded    bool   `json:"support_needed"`
	SupportDetails   string `json:"support_details"`
}

// Handler handles monthly feedback HTTP endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates a feedback handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrFacilitationNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, ErrForbidden):
		response.Forbidden(c, err.Error())
	case errors.Is(err, ErrDuplicateSubmission), errors.Is(err, ErrNotEligible):
		response.Conflict(c, err.Error())
	case errors.Is(err, ErrValidation):
		response.BadRequest(c, err.Error())
	default:
		response.Internal(c, "feedback operation failed")
	}
}

// Submit handles POST /facilitations/:id/feedback.
func (h *Handler) Submit(c *gin.Context) {
	facilitationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid facilitation id")
		return
	}
	submitterID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	var recipientID uuid.UUID
	if req.RecipientID != "" {
		recipientID, err = uuid.Parse(req.RecipientID)
		if err != nil {
			response.BadRequest(c, "invalid recipient id")
			return
		}
	}

	fb, err := h.svc.Submit(c.Request.Context(), SubmitInput{
		FacilitationID:   facilitationID,
		SubmitterID:      submitterID,
		RecipientID:      recipientID,
		Rating:           req.Rating,
		FeedbackText:     req.FeedbackText,
		FeedbackMonth:    req.FeedbackMonth,
		HoursContributed: req.HoursContributed,
		TasksCompleted:   req.TasksCompleted,
		Highlights:       req.Highlights,
		Challenges:       req.Challenges,
		GoalsNextMonth:   req.GoalsNextMonth,
		SupportNeeded:    req.SupportNeeded,
		SupportDetails:   req.SupportDetails,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	response.Created(c, fb)
}

// Eligibility handles GET /facilitations/:id/feedback/eligibility. It gates
// the submission UI; the unique index still decides the race.
func (h *Handler) Eligibility(c *gin.Context) {
	facilitationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid facilitation id")
		return
	}
	submitterID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	ok, month, err := h.svc.CanSubmit(c.Request.Context(), facilitationID, submitterID)
	if err != nil {
		respondError(c, err)
		return
	}
	response.OK(c, gin.H{"can_submit": ok, "month": month})
}

// List handles GET /facilitations/:id/feedback (participants and admins).
func (h *Handler) List(c *gin.Context) {
	facilitationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid facilitation id")
		return
	}
	actorID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	actorRole := models.Role(c.GetString(middleware.ContextUserRole))

	f, err := h.svc.getFacilitation(c.Request.Context(), facilitationID)
	if err != nil {
		respondError(c, err)
		return
	}
	if actorRole != models.RoleAdmin && !f.Participant(actorID) {
		response.Forbidden(c, "not a participant")
		return
	}

	list, err := h.svc.ListByFacilitation(c.Request.Context(), facilitationID)
	if err != nil {
		response.Internal(c, "failed to list feedback")
		return
	}
	response.OK(c, gin.H{"feedback": list})
}

// Correct handles PATCH /feedback/:id (original submitter only).
func (h *Handler) Correct(c *gin.Context) {
	feedbackID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid feedback id")
		return
	}
	submitterID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	var req CorrectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	fb, err := h.svc.Correct(c.Request.Context(), feedbackID, submitterID, CorrectInput{
		Rating:           req.Rating,
		FeedbackText:     req.FeedbackText,
		HoursContributed: req.HoursContributed,
		TasksCompleted:   req.TasksCompleted,
		Highlights:       req.Highlights,
		Challenges:       req.Challenges,
		GoalsNextMonth:   req.GoalsNextMonth,
		SupportNeeded:    req.SupportNeeded,
		SupportDetails:   req.SupportDetails,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	response.OK(c, fb)
}

// Average handles GET /students/:id/feedback/average?month=YYYY-MM.
func (h *Handler) Average(c *gin.Context) {
	recipientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid student id")
		return
	}
	month := models.CurrentMonth()
	if m := c.Query("month"); m != "" {
		month, err = models.ParseMonthKey(m)
		if err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}

	avg, count, err := h.svc.MonthlyAverage(c.Request.Context(), recipientID, month)
	if err != nil {
		response.Internal(c, "failed to compute monthly average")
		return
	}
	response.OK(c, gin.H{
		"month":      month,
		"average":    avg,
		"count":      count,
		"qualifying": count > 0 && avg >= recognition.QualifyingAverage,
	})
}
