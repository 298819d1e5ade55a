// internal/api/llm_handlers.go
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/StoryWizard/internal/config"
	"github.com/Corphon/StoryWizard/internal/llm"
	"github.com/Corphon/StoryWizard/internal/models"
)

// LLM配置和选项相关处理器
// ----------------------------------------

// UpdateLLMConfigRequest 运行时更新模型配置
type UpdateLLMConfigRequest struct {
	Provider string `json:"provider" binding:"required"`
	APIKey   string `json:"api_key"`
	Model    string `json:"model"`
	BaseURL  string `json:"base_url"`
}

// GetOptions 返回界面可选的类型、性别和性格
func (h *Handler) GetOptions(c *gin.Context) {
	h.Response.Success(c, gin.H{
		"genres":        models.Genres,
		"genders":       models.Genders,
		"personalities": models.Personalities,
		"defaults": gin.H{
			"genre":         models.DefaultGenre,
			"character":     models.InitialCharacter(),
			"new_character": models.NewCharacter(),
		},
	})
}

// GetLLMStatus 获取LLM服务状态和生成统计
func (h *Handler) GetLLMStatus(c *gin.Context) {
	ready, state := h.LLMService.GetProviderStatus()

	h.Response.Success(c, gin.H{
		"ready":       ready,
		"state":       state,
		"provider":    h.LLMService.GetProviderName(),
		"model":       h.LLMService.GetDefaultModel(),
		"generations": h.WizardService.Metrics().GetMetrics(),
		"sessions":    h.SessionService.Count(),
		"session_ttl": h.SessionService.TTL().String(),
		"websocket":   h.WebSocketManager.GetStatus(),
	})
}

// GetLLMProviders 获取已注册的提供者及其模型
func (h *Handler) GetLLMProviders(c *gin.Context) {
	providers := llm.ListProviders()
	result := make([]gin.H, 0, len(providers))
	for _, name := range providers {
		result = append(result, gin.H{
			"name":   name,
			"models": llm.GetSupportedModelsForProvider(name),
		})
	}

	h.Response.Success(c, gin.H{
		"current":   h.LLMService.GetProviderName(),
		"providers": result,
	})
}

// UpdateLLMConfig 更新LLM配置，密钥只保存在内存中
func (h *Handler) UpdateLLMConfig(c *gin.Context) {
	var req UpdateLLMConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "invalid request body", err.Error())
		return
	}

	if !containsString(llm.ListProviders(), req.Provider) {
		h.Response.Error(c, http.StatusBadRequest, ErrorLLMProviderMissing, "unsupported provider: "+req.Provider)
		return
	}

	if err := config.UpdateLLMConfig(req.Provider, map[string]string{
		"api_key":       req.APIKey,
		"default_model": req.Model,
		"base_url":      req.BaseURL,
	}); err != nil {
		h.Response.Error(c, http.StatusServiceUnavailable, ErrorLLMConfigInvalid, "failed to save LLM config", err.Error())
		return
	}

	// 用合并后的配置重建提供者，未提交的字段沿用原值
	current := config.GetCurrentConfig()
	if err := h.LLMService.UpdateProvider(current.LLMProvider, current.LLMConfig); err != nil {
		h.Response.Error(c, http.StatusBadRequest, ErrorLLMConfigInvalid, "failed to apply LLM config", err.Error())
		return
	}

	ready, state := h.LLMService.GetProviderStatus()
	h.Response.Success(c, gin.H{
		"provider": h.LLMService.GetProviderName(),
		"model":    h.LLMService.GetDefaultModel(),
		"ready":    ready,
		"state":    state,
	}, "LLM config updated")
}

// HealthCheck 存活检查
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now(),
	})
}
