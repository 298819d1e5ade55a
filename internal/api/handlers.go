// internal/api/handlers.go
package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/StoryWizard/internal/models"
	"github.com/Corphon/StoryWizard/internal/services"
)

// Handler 处理API请求
type Handler struct {
	SessionService   *services.SessionService // 会话注册表
	WizardService    *services.WizardService  // 向导状态机
	LLMService       *services.LLMService     // 生成网关
	WebSocketManager *WebSocketManager        // 状态推送
	Response         *ResponseHelper          // 响应助手
}

// NewHandler 创建API处理器
func NewHandler(
	sessionService *services.SessionService,
	wizardService *services.WizardService,
	llmService *services.LLMService,
	wsManager *WebSocketManager,
) *Handler {
	return &Handler{
		SessionService:   sessionService,
		WizardService:    wizardService,
		LLMService:       llmService,
		WebSocketManager: wsManager,
		Response:         NewResponseHelper(),
	}
}

// SessionView 会话接口返回的数据
type SessionView struct {
	SessionID string              `json:"session_id"`
	Applied   bool                `json:"applied"` // 操作是否改变了状态，越界等情况为 false
	State     *models.WizardState `json:"state,omitempty"`
}

// 请求结构
type (
	SetGenreRequest struct {
		Genre string `json:"genre" binding:"required"`
	}

	SetPlotRequest struct {
		PlotOutline string `json:"plot_outline"`
	}

	UpdateCharacterRequest struct {
		Op    string `json:"op" binding:"required"`
		Value string `json:"value"`
	}

	SetStoryTextRequest struct {
		Text string `json:"text"`
	}

	SetEditingRequest struct {
		Editing bool `json:"editing"`
	}

	RefinementRequest struct {
		Prompt *string `json:"prompt"`
	}
)

// session 取出路径中的会话，不存在时直接写出 404
func (h *Handler) session(c *gin.Context) (*services.WizardSession, bool) {
	session, err := h.SessionService.Get(c.Param("id"))
	if err != nil {
		h.Response.NotFound(c, "session")
		return nil, false
	}
	return session, true
}

func (h *Handler) view(session *services.WizardSession, state *models.WizardState, applied bool) *SessionView {
	return &SessionView{SessionID: session.ID, Applied: applied, State: state}
}

// characterIndex 解析路径中的角色索引
func (h *Handler) characterIndex(c *gin.Context) (int, bool) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		h.Response.Error(c, http.StatusBadRequest, ErrorCharacterIndex, "character index must be an integer", err.Error())
		return 0, false
	}
	return index, true
}

// CreateSession 创建新会话
func (h *Handler) CreateSession(c *gin.Context) {
	session := h.SessionService.Create()
	h.Response.Created(c, h.view(session, session.Snapshot(), true), "session created")
}

// GetSession 获取会话状态
func (h *Handler) GetSession(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	h.Response.Success(c, h.view(session, session.Snapshot(), false))
}

// DeleteSession 删除会话
func (h *Handler) DeleteSession(c *gin.Context) {
	if err := h.SessionService.Delete(c.Param("id")); err != nil {
		h.Response.NotFound(c, "session")
		return
	}
	h.Response.Success(c, gin.H{"session_id": c.Param("id")}, "session deleted")
}

// SetGenre 选择故事类型
func (h *Handler) SetGenre(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	var req SetGenreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "invalid request body", err.Error())
		return
	}

	state, err := h.WizardService.SetGenre(session, models.Genre(req.Genre))
	if err != nil {
		h.Response.AppError(c, err, nil)
		return
	}
	h.Response.Success(c, h.view(session, state, true))
}

// SetPlotOutline 编辑情节大纲
func (h *Handler) SetPlotOutline(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	var req SetPlotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "invalid request body", err.Error())
		return
	}

	state := h.WizardService.SetPlotOutline(session, req.PlotOutline)
	h.Response.Success(c, h.view(session, state, true))
}

// AddCharacter 添加角色
func (h *Handler) AddCharacter(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	state := h.WizardService.AddCharacter(session)
	h.Response.Created(c, h.view(session, state, true), "character added")
}

// UpdateCharacter 修改角色字段
func (h *Handler) UpdateCharacter(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	index, ok := h.characterIndex(c)
	if !ok {
		return
	}

	var req UpdateCharacterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "invalid request body", err.Error())
		return
	}

	update, err := models.ParseCharacterUpdate(req.Op, req.Value)
	if err != nil {
		h.Response.Error(c, http.StatusBadRequest, ErrorValidation, err.Error())
		return
	}

	state, applied := h.WizardService.UpdateCharacter(session, index, update)
	h.Response.Success(c, h.view(session, state, applied))
}

// RemoveCharacter 删除角色，第一个角色不可删除
func (h *Handler) RemoveCharacter(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	index, ok := h.characterIndex(c)
	if !ok {
		return
	}

	state, applied := h.WizardService.RemoveCharacter(session, index)
	h.Response.Success(c, h.view(session, state, applied))
}

// Next 下一步，大纲步骤时触发生成
func (h *Handler) Next(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	before := session.Snapshot()
	state, err := h.WizardService.Next(c.Request.Context(), session)
	if err != nil {
		h.Response.AppError(c, err, h.viewOrNil(session, state))
		return
	}
	h.Response.Success(c, h.view(session, state, state.Step != before.Step))
}

// Back 上一步
func (h *Handler) Back(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	state, applied := h.WizardService.Back(session)
	h.Response.Success(c, h.view(session, state, applied))
}

// Generate 生成故事
func (h *Handler) Generate(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	state, err := h.WizardService.Generate(c.Request.Context(), session)
	if err != nil {
		h.Response.AppError(c, err, h.viewOrNil(session, state))
		return
	}
	h.Response.Success(c, h.view(session, state, true), "story generated")
}

// SetStoryText 直接编辑生成结果
func (h *Handler) SetStoryText(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	var req SetStoryTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "invalid request body", err.Error())
		return
	}

	state, applied := h.WizardService.SetStoryText(session, req.Text)
	h.Response.Success(c, h.view(session, state, applied))
}

// SetEditing 切换编辑模式
func (h *Handler) SetEditing(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	var req SetEditingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "invalid request body", err.Error())
		return
	}

	state, applied := h.WizardService.SetEditing(session, req.Editing)
	h.Response.Success(c, h.view(session, state, applied))
}

// SetRefinementDraft 编辑润色草稿
func (h *Handler) SetRefinementDraft(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	var req RefinementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "invalid request body", err.Error())
		return
	}

	text := ""
	if req.Prompt != nil {
		text = *req.Prompt
	}
	state, applied := h.WizardService.SetRefinementDraft(session, text)
	h.Response.Success(c, h.view(session, state, applied))
}

// Refine 提交润色请求，请求体中的 prompt 会先写入草稿
func (h *Handler) Refine(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	// 分块传输时 ContentLength 为 -1，只要有请求体就尝试解析；空请求体按没有 prompt 处理
	if c.Request.Body != nil && c.Request.Body != http.NoBody {
		var req RefinementRequest
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			h.Response.BadRequest(c, "invalid request body", err.Error())
			return
		}
		if req.Prompt != nil {
			h.WizardService.SetRefinementDraft(session, *req.Prompt)
		}
	}

	before := session.Snapshot()
	state, err := h.WizardService.Refine(c.Request.Context(), session)
	if err != nil {
		h.Response.AppError(c, err, h.viewOrNil(session, state))
		return
	}

	// 草稿为空时不会调用生成服务
	applied := before.Refinement.PromptText != ""
	h.Response.Success(c, h.view(session, state, applied))
}

// Restart 回到第一步
func (h *Handler) Restart(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	state, applied := h.WizardService.Restart(session)
	h.Response.Success(c, h.view(session, state, applied))
}

// DismissError 关闭错误提示
func (h *Handler) DismissError(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	state := h.WizardService.DismissError(session)
	h.Response.Success(c, h.view(session, state, true))
}

// viewOrNil 失败时也返回最新状态；并发冲突时没有状态
func (h *Handler) viewOrNil(session *services.WizardSession, state *models.WizardState) interface{} {
	if state == nil {
		return nil
	}
	return h.view(session, state, false)
}
