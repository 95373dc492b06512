package facilitations

import (
	"errors"
	"io"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mentorbridge/backend/internal/middleware"
	"github.com/mentorbridge/backend/internal/models"
	"github.com/mentorbridge/backend/pkg/response"
)

// CreateRequest is the body for POST /facilitations.
type CreateRequest struct {
	TargetID uuid.UUID `json:"target_id" binding:"required"`
	Message  string    `json:"message"`
}

// DeclineRequest is the body for POST /facilitations/:id/decline.
type DeclineRequest struct {
	Reason string `json:"reason"`
}

// NotesRequest is the body for PATCH /facilitations/:id/notes.
type NotesRequest struct {
	AdminNotes string `json:"admin_notes"`
}

// Handler handles facilitation HTTP endpoints.
type Handler struct {
	machine *StateMachine
	repo    *Repository
}

// NewHandler creates a facilitations handler.
func NewHandler(machine *StateMachine, repo *Repository) *Handler {
	return &Handler{machine: machine, repo: repo}
}

func actor(c *gin.Context) (uuid.UUID, models.Role) {
	id := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	role := models.Role(c.GetString(middleware.ContextUserRole))
	return id, role
}

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, ErrForbidden):
		response.Forbidden(c, err.Error())
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrStaleState):
		response.Conflict(c, err.Error())
	case errors.Is(err, ErrValidation):
		response.BadRequest(c, err.Error())
	default:
		response.Internal(c, "facilitation operation failed")
	}
}

// Create handles POST /facilitations (student or mentor opens an introduction request).
func (h *Handler) Create(c *gin.Context) {
	actorID, actorRole := actor(c)

	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	f, err := h.machine.Create(c.Request.Context(), actorID, actorRole, req.TargetID, req.Message)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Created(c, f)
}

// List handles GET /facilitations. Admins see every request (optionally
// filtered by ?status=); participants see their own.
func (h *Handler) List(c *gin.Context) {
	actorID, actorRole := actor(c)
	ctx := c.Request.Context()

	if actorRole == models.RoleAdmin {
		if s := c.Query("status"); s != "" {
			status := models.FacilitationStatus(s)
			if !status.Valid() {
				response.BadRequest(c, "invalid status filter")
				return
			}
			list, err := h.repo.ListByStatus(ctx, status)
			if err != nil {
				response.Internal(c, "failed to list facilitations")
				return
			}
			response.OK(c, gin.H{"facilitations": list})
			return
		}
		list, err := h.repo.ListAll(ctx)
		if err != nil {
			response.Internal(c, "failed to list facilitations")
			return
		}
		response.OK(c, gin.H{"facilitations": list})
		return
	}

	list, err := h.repo.ListByParticipant(ctx, actorID)
	if err != nil {
		response.Internal(c, "failed to list facilitations")
		return
	}
	response.OK(c, gin.H{"facilitations": list})
}

// Get handles GET /facilitations/:id (participant or admin).
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid facilitation id")
		return
	}
	actorID, actorRole := actor(c)

	f, err := h.machine.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if actorRole != models.RoleAdmin && !f.Participant(actorID) {
		response.Forbidden(c, "not a participant")
		return
	}
	response.OK(c, f)
}

// Confirm handles POST /facilitations/:id/confirm (target confirms interest).
func (h *Handler) Confirm(c *gin.Context) {
	h.transition(c, func(ctx *gin.Context, id, actorID uuid.UUID, _ models.Role) (*models.FacilitationRequest, error) {
		return h.machine.Confirm(ctx.Request.Context(), id, actorID)
	})
}

// Decline handles POST /facilitations/:id/decline (target declines or admin rejects).
func (h *Handler) Decline(c *gin.Context) {
	var req DeclineRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	h.transition(c, func(ctx *gin.Context, id, actorID uuid.UUID, actorRole models.Role) (*models.FacilitationRequest, error) {
		return h.machine.Decline(ctx.Request.Context(), id, actorID, actorRole, req.Reason)
	})
}

// Approve handles POST /facilitations/:id/approve (admin matches the pair).
func (h *Handler) Approve(c *gin.Context) {
	h.transition(c, func(ctx *gin.Context, id, actorID uuid.UUID, actorRole models.Role) (*models.FacilitationRequest, error) {
		return h.machine.Approve(ctx.Request.Context(), id, actorID, actorRole)
	})
}

// Complete handles POST /facilitations/:id/complete (admin marks the arrangement done).
func (h *Handler) Complete(c *gin.Context) {
	h.transition(c, func(ctx *gin.Context, id, actorID uuid.UUID, actorRole models.Role) (*models.FacilitationRequest, error) {
		return h.machine.Complete(ctx.Request.Context(), id, actorID, actorRole)
	})
}

func (h *Handler) transition(c *gin.Context, apply func(*gin.Context, uuid.UUID, uuid.UUID, models.Role) (*models.FacilitationRequest, error)) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid facilitation id")
		return
	}
	actorID, actorRole := actor(c)

	f, err := apply(c, id, actorID, actorRole)
	if err != nil {
		respondError(c, err)
		return
	}
	response.OK(c, f)
}

// UpdateNotes handles PATCH /facilitations/:id/notes (admin only, route-guarded).
func (h *Handler) UpdateNotes(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid facilitation id")
		return
	}
	var req NotesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	updated, err := h.repo.UpdateAdminNotes(c.Request.Context(), id, req.AdminNotes)
	if err != nil {
		response.Internal(c, "failed to update notes")
		return
	}
	if !updated {
		response.NotFound(c, "facilitation not found")
		return
	}
	response.OK(c, gin.H{"id": id, "admin_notes": req.AdminNotes})
}
