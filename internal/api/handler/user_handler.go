package handler

import (
	"net/http"

	"github.com/duelbackend/arena/internal/api/middleware"
	"github.com/duelbackend/arena/internal/domain"
	"github.com/duelbackend/arena/internal/repository"
	"github.com/gin-gonic/gin"
)

// UserHandler serves player profile reads and the gamer-tag mutation.
// Account creation itself happens implicitly via GetOrCreate the first
// time an address is seen (queue join, challenge, deposit) — there is no
// signup endpoint.
type UserHandler struct {
	users *repository.UserRepository
}

// NewUserHandler creates a UserHandler.
func NewUserHandler(users *repository.UserRepository) *UserHandler {
	return &UserHandler{users: users}
}

// GetByAddress godoc
// GET /user/:address
func (h *UserHandler) GetByAddress(c *gin.Context) {
	address := c.Param("address")
	user, err := h.users.GetByAddress(c.Request.Context(), address)
	if err != nil {
		respondDomainErr(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, user)
}

// SetGamerTag godoc
// PUT /user/gamer-tag [auth required]
func (h *UserHandler) SetGamerTag(c *gin.Context) {
	var body struct {
		GamerTag string `json:"gamerTag" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	clean, ok := domain.SanitizeGamerTag(body.GamerTag)
	if !ok {
		respondError(c, http.StatusUnprocessableEntity, "ERR_VALIDATION", "gamer tag has no printable content")
		return
	}

	address := middleware.GetAddress(c)
	if err := h.users.SetGamerTag(c.Request.Context(), address, clean); err != nil {
		respondDomainErr(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"gamerTag": clean})
}
