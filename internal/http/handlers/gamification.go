package handlers

import (
	"github.com/gin-gonic/gin"

	types "github.com/yungbote/questline-backend/internal/domain"
	"github.com/yungbote/questline-backend/internal/http/response"
	"github.com/yungbote/questline-backend/internal/platform/ctxutil"
	"github.com/yungbote/questline-backend/internal/services"
)

type GamificationHandler struct {
	game services.GamificationService
}

func NewGamificationHandler(game services.GamificationService) *GamificationHandler {
	return &GamificationHandler{game: game}
}

// GET /api/gamification/me
func (h *GamificationHandler) GetMyProgress(c *gin.Context) {
	h.progress(c, ctxutil.UserID(c.Request.Context()))
}

// GET /api/gamification/users/:id
func (h *GamificationHandler) GetUserProgress(c *gin.Context) {
	h.progress(c, c.Param("id"))
}

func (h *GamificationHandler) progress(c *gin.Context, userID string) {
	p, err := h.game.GetProgress(c.Request.Context(), userID)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"progress": p})
}

// GET /api/gamification/me/badges
func (h *GamificationHandler) ListMyBadges(c *gin.Context) {
	badges, err := h.game.ListBadges(c.Request.Context(), ctxutil.UserID(c.Request.Context()))
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"badges": badges})
}

// GET /api/gamification/badges
func (h *GamificationHandler) Catalog(c *gin.Context) {
	response.RespondOK(c, gin.H{"badges": h.game.Catalog()})
}

// GET /api/gamification/leaderboard?limit=
func (h *GamificationHandler) Leaderboard(c *gin.Context) {
	limit, err := queryLimit(c, 10, 100)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	entries, err := h.game.Leaderboard(c.Request.Context(), limit)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"entries": entries})
}

// POST /api/internal/xp
// Called by the quest service with the service key. The award result is the
// whole body so the client can decode it directly.
func (h *GamificationHandler) AwardXP(c *gin.Context) {
	var award types.XPAward
	if !response.BindJSON(c, &award) {
		return
	}
	res, err := h.game.AwardXP(c.Request.Context(), award)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, res)
}
