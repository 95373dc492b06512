package recognition

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mentorbridge/backend/internal/middleware"
	"github.com/mentorbridge/backend/internal/models"
	"github.com/mentorbridge/backend/pkg/response"
)

// Handler handles recognition HTTP endpoints.
type Handler struct {
	engine *Engine
}

// NewHandler creates a recognition handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// Status handles GET /students/:id/recognition. Students may read their own
// record; mentors and admins may read any student's.
func (h *Handler) Status(c *gin.Context) {
	studentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid student id")
		return
	}
	actorID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	actorRole := models.Role(c.GetString(middleware.ContextUserRole))
	if actorRole == models.RoleStudent && actorID != studentID {
		response.Forbidden(c, "students may only view their own recognition")
		return
	}

	rt, err := h.engine.Status(c.Request.Context(), studentID)
	if err != nil {
		response.Internal(c, "failed to load recognition status")
		return
	}
	response.OK(c, gin.H{
		"recognition": rt,
		"progress":    ProgressFor(rt.ConsecutiveHighRatingMonths),
	})
}
