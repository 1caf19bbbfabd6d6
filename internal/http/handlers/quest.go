package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	types "github.com/yungbote/questline-backend/internal/domain"
	questdomain "github.com/yungbote/questline-backend/internal/domain/quest"
	"github.com/yungbote/questline-backend/internal/http/response"
	"github.com/yungbote/questline-backend/internal/services"
)

type QuestHandler struct {
	quests services.QuestService
}

func NewQuestHandler(quests services.QuestService) *QuestHandler {
	return &QuestHandler{quests: quests}
}

// POST /api/quests
func (h *QuestHandler) Create(c *gin.Context) {
	var in services.CreateQuestInput
	if !response.BindJSON(c, &in) {
		return
	}
	q, err := h.quests.Create(c.Request.Context(), in)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"quest": q})
}

// GET /api/quests?status=&limit=&cursor=
func (h *QuestHandler) List(c *gin.Context) {
	limit, err := queryLimit(c, 20, 100)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	page, err := h.quests.List(c.Request.Context(), questdomain.Filter{
		Status: questdomain.Status(c.Query("status")),
		Limit:  int32(limit),
		Cursor: c.Query("cursor"),
	})
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, page)
}

// GET /api/quests/:id?owner=
// Without owner the caller's own quest is read; another owner's quest is
// visible only when public.
func (h *QuestHandler) Get(c *gin.Context) {
	q, err := h.quests.Get(c.Request.Context(), c.Query("owner"), c.Param("id"))
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"quest": q})
}

// PATCH /api/quests/:id
func (h *QuestHandler) Update(c *gin.Context) {
	var in services.UpdateQuestInput
	if !response.BindJSON(c, &in) {
		return
	}
	q, err := h.quests.Update(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"quest": q})
}

// DELETE /api/quests/:id
func (h *QuestHandler) Delete(c *gin.Context) {
	if err := h.quests.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondNoContent(c)
}

type progressRequest struct {
	Delta int64 `json:"delta" binding:"required,min=1,max=1000"`
}

// POST /api/quests/:id/progress
func (h *QuestHandler) RecordProgress(c *gin.Context) {
	var req progressRequest
	if !response.BindJSON(c, &req) {
		return
	}
	q, err := h.quests.RecordProgress(c.Request.Context(), c.Param("id"), req.Delta)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"quest": q})
}

// POST /api/quests/:id/complete
func (h *QuestHandler) Complete(c *gin.Context) {
	res, err := h.quests.Complete(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, res)
}

func (h *QuestHandler) respondQuest(c *gin.Context, fn func(context.Context, string) (*types.Quest, error)) {
	q, err := fn(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"quest": q})
}

// POST /api/quests/:id/start
func (h *QuestHandler) Start(c *gin.Context) { h.respondQuest(c, h.quests.Start) }

// POST /api/quests/:id/cancel
func (h *QuestHandler) Cancel(c *gin.Context) { h.respondQuest(c, h.quests.Cancel) }

// POST /api/quests/:id/fail
func (h *QuestHandler) Fail(c *gin.Context) { h.respondQuest(c, h.quests.Fail) }
