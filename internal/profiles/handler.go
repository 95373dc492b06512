// Package profiles is the Profile Directory surface: resolve an opaque user
// id to a display name and role, and list the populations for admin matching.
package profiles

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mentorbridge/backend/internal/auth"
	"github.com/mentorbridge/backend/internal/models"
	"github.com/mentorbridge/backend/pkg/response"
)

// Handler handles profile directory HTTP endpoints.
type Handler struct {
	users *auth.Repository
}

// NewHandler creates a profiles handler.
func NewHandler(users *auth.Repository) *Handler {
	return &Handler{users: users}
}

// Get handles GET /profiles/:id.
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid user id")
		return
	}
	u, err := h.users.GetByID(c.Request.Context(), id)
	if err != nil {
		response.NotFound(c, "profile not found")
		return
	}
	response.OK(c, u.ToPublic())
}

// List handles GET /profiles?role= (admin only, route-guarded). Used by the
// matching screens to browse a population.
func (h *Handler) List(c *gin.Context) {
	var role models.Role
	if s := c.Query("role"); s != "" {
		role = models.Role(s)
		if !role.Valid() {
			response.BadRequest(c, "invalid role filter")
			return
		}
	}
	list, err := h.users.List(c.Request.Context(), role)
	if err != nil {
		response.Internal(c, "failed to list profiles")
		return
	}
	response.OK(c, gin.H{"profiles": list})
}
