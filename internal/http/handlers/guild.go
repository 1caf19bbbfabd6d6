package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	guilddomain "github.com/yungbote/questline-backend/internal/domain/guild"
	"github.com/yungbote/questline-backend/internal/http/response"
	"github.com/yungbote/questline-backend/internal/services"
)

type GuildHandler struct {
	guilds services.GuildService
}

func NewGuildHandler(guilds services.GuildService) *GuildHandler {
	return &GuildHandler{guilds: guilds}
}

// POST /api/guilds
// Private guilds return their invite code here once; it is not retrievable later.
func (h *GuildHandler) Create(c *gin.Context) {
	var in services.CreateGuildInput
	if !response.BindJSON(c, &in) {
		return
	}
	out, err := h.guilds.Create(c.Request.Context(), in)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondCreated(c, out)
}

// GET /api/guilds?limit=&cursor=
func (h *GuildHandler) ListListed(c *gin.Context) {
	limit, err := queryLimit(c, 20, 100)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	page, err := h.guilds.ListListed(c.Request.Context(), limit, c.Query("cursor"))
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, page)
}

// GET /api/guilds/mine
func (h *GuildHandler) ListMine(c *gin.Context) {
	mine, err := h.guilds.ListMine(c.Request.Context())
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"guilds": mine})
}

// GET /api/guilds/:id
func (h *GuildHandler) Get(c *gin.Context) {
	g, err := h.guilds.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"guild": g})
}

// PATCH /api/guilds/:id
func (h *GuildHandler) Update(c *gin.Context) {
	var in services.UpdateGuildInput
	if !response.BindJSON(c, &in) {
		return
	}
	g, err := h.guilds.Update(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"guild": g})
}

// DELETE /api/guilds/:id
func (h *GuildHandler) Delete(c *gin.Context) {
	if err := h.guilds.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondNoContent(c)
}

// POST /api/guilds/:id/join
// The body is optional for public guilds.
func (h *GuildHandler) Join(c *gin.Context) {
	var in services.JoinGuildInput
	if err := c.ShouldBindJSON(&in); err != nil && !errors.Is(err, io.EOF) {
		response.RespondAPIError(c, err)
		return
	}
	outcome, err := h.guilds.Join(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	if outcome == guilddomain.JoinRequested {
		c.JSON(http.StatusAccepted, gin.H{"outcome": outcome})
		return
	}
	response.RespondOK(c, gin.H{"outcome": outcome})
}

// POST /api/guilds/:id/leave
func (h *GuildHandler) Leave(c *gin.Context) {
	if err := h.guilds.Leave(c.Request.Context(), c.Param("id")); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondNoContent(c)
}

// GET /api/guilds/:id/members
func (h *GuildHandler) ListMembers(c *gin.Context) {
	members, err := h.guilds.ListMembers(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"members": members})
}

// DELETE /api/guilds/:id/members/:uid
func (h *GuildHandler) RemoveMember(c *gin.Context) {
	if err := h.guilds.RemoveMember(c.Request.Context(), c.Param("id"), c.Param("uid")); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondNoContent(c)
}

type roleRequest struct {
	Role guilddomain.Role `json:"role" binding:"required,oneof=moderator member"`
}

// PUT /api/guilds/:id/members/:uid/role
func (h *GuildHandler) SetMemberRole(c *gin.Context) {
	var req roleRequest
	if !response.BindJSON(c, &req) {
		return
	}
	if err := h.guilds.SetMemberRole(c.Request.Context(), c.Param("id"), c.Param("uid"), req.Role); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondNoContent(c)
}

// GET /api/guilds/:id/requests
func (h *GuildHandler) ListJoinRequests(c *gin.Context) {
	reqs, err := h.guilds.ListJoinRequests(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"requests": reqs})
}

// POST /api/guilds/:id/requests/:uid/approve
func (h *GuildHandler) ApproveJoinRequest(c *gin.Context) {
	if err := h.guilds.ApproveJoinRequest(c.Request.Context(), c.Param("id"), c.Param("uid")); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondNoContent(c)
}

// POST /api/guilds/:id/requests/:uid/reject
func (h *GuildHandler) RejectJoinRequest(c *gin.Context) {
	if err := h.guilds.RejectJoinRequest(c.Request.Context(), c.Param("id"), c.Param("uid")); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondNoContent(c)
}

type transferRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// POST /api/guilds/:id/transfer
func (h *GuildHandler) TransferOwnership(c *gin.Context) {
	var req transferRequest
	if !response.BindJSON(c, &req) {
		return
	}
	if err := h.guilds.TransferOwnership(c.Request.Context(), c.Param("id"), req.UserID); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondNoContent(c)
}

// POST /api/guilds/:id/invite-code
func (h *GuildHandler) RotateInviteCode(c *gin.Context) {
	code, err := h.guilds.RotateInviteCode(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"invite_code": code})
}
