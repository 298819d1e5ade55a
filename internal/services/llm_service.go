// internal/services/llm_service.go
package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Corphon/StoryWizard/internal/config"
	apperrors "github.com/Corphon/StoryWizard/internal/errors"
	"github.com/Corphon/StoryWizard/internal/llm"
	"github.com/Corphon/StoryWizard/internal/utils"
)

// Generator 生成网关，一个提示词进，一段文本出
type Generator interface {
	Generate(ctx context.Context, prompt, systemPrompt string) (string, error)
}

// LLMService 持有当前的模型提供者，并提供统一的调用入口
type LLMService struct {
	providerMutex      sync.RWMutex
	provider           llm.Provider
	providerName       string
	isReady            bool
	readyState         string
	activeDefaultModel string
}

// NewLLMService 根据当前配置创建LLM服务；缺少密钥时仍返回可用实例，调用时报告配置错误
func NewLLMService() (*LLMService, error) {
	service := createBaseLLMService()

	cfg := config.GetCurrentConfig()
	if cfg.LLMProvider == "" {
		service.readyState = "LLM provider not configured"
		return service, nil
	}

	provider, err := llm.GetProvider(cfg.LLMProvider, cfg.LLMConfig)
	if err != nil {
		service.readyState = fmt.Sprintf("Initialization failed: %v", err)
		return service, nil // 返回未就绪服务而不是错误
	}

	service.provider = provider
	service.providerName = cfg.LLMProvider
	service.activeDefaultModel = cfg.LLMConfig["default_model"]
	service.setReadiness(cfg.LLMConfig["api_key"] != "")

	return service, nil
}

// NewEmptyLLMService 创建一个没有提供者的服务实例
func NewEmptyLLMService() *LLMService {
	service := createBaseLLMService()
	service.providerName = "empty"
	service.readyState = "Standby mode: configure an API key to enable generation"
	return service
}

// NewLLMServiceWithProvider 使用指定的提供者创建服务
func NewLLMServiceWithProvider(name string, provider llm.Provider) *LLMService {
	service := createBaseLLMService()
	service.provider = provider
	service.providerName = name
	service.setReadiness(provider != nil)
	return service
}

func createBaseLLMService() *LLMService {
	return &LLMService{readyState: "Uninitialized"}
}

func (s *LLMService) setReadiness(hasKey bool) {
	s.isReady = hasKey
	if hasKey {
		s.readyState = "Ready"
	} else {
		s.readyState = "API key not configured"
	}
}

// IsReady 返回服务是否已就绪
func (s *LLMService) IsReady() bool {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.provider != nil && s.isReady
}

// GetReadyState 返回服务就绪状态描述
func (s *LLMService) GetReadyState() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.readyState
}

// GetProviderStatus 返回服务是否就绪以及可读描述
func (s *LLMService) GetProviderStatus() (bool, string) {
	if s == nil {
		return false, "LLM service not initialized"
	}
	return s.IsReady(), s.GetReadyState()
}

// UpdateProvider 更新LLM服务的提供者
func (s *LLMService) UpdateProvider(providerName string, providerConfig map[string]string) error {
	provider, err := llm.GetProvider(providerName, providerConfig)
	if err != nil {
		s.providerMutex.Lock()
		s.isReady = false
		s.readyState = fmt.Sprintf("Configuration failed: %v", err)
		s.providerMutex.Unlock()
		return apperrors.NewValidationError(fmt.Sprintf("unknown provider %q", providerName), err)
	}

	s.providerMutex.Lock()
	defer s.providerMutex.Unlock()

	s.provider = provider
	s.providerName = providerName
	s.activeDefaultModel = providerConfig["default_model"]
	s.setReadiness(providerConfig["api_key"] != "")

	utils.GetLogger().Info("LLM provider updated", map[string]interface{}{
		"provider": providerName,
		"model":    s.activeDefaultModel,
		"ready":    s.isReady,
	})
	return nil
}

// GetProvider 返回当前提供者
func (s *LLMService) GetProvider() llm.Provider {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.provider
}

// GetProviderName 返回当前提供者名称
func (s *LLMService) GetProviderName() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.providerName
}

// GetDefaultModel 返回当前默认模型
func (s *LLMService) GetDefaultModel() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.activeDefaultModel
}

// Generate 发送一次生成请求，不做重试
func (s *LLMService) Generate(ctx context.Context, prompt, systemPrompt string) (string, error) {
	s.providerMutex.RLock()
	provider := s.provider
	providerName := s.providerName
	model := s.activeDefaultModel
	s.providerMutex.RUnlock()

	if provider == nil {
		return "", apperrors.NewConfigurationError("API Key not found in environment.", nil)
	}

	start := time.Now()
	resp, err := provider.CompleteText(ctx, llm.CompletionRequest{
		Prompt:       prompt,
		SystemPrompt: systemPrompt,
		Model:        model,
	})
	if err != nil {
		utils.GetLogger().Warn("LLM call failed", map[string]interface{}{
			"provider":    providerName,
			"error_type":  string(apperrors.TypeOf(err)),
			"error":       apperrors.UserMessage(err),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		return "", err
	}

	utils.GetLogger().Debug("LLM call completed", map[string]interface{}{
		"provider":      providerName,
		"model":         resp.ModelName,
		"finish_reason": resp.FinishReason,
		"tokens":        resp.TokensUsed,
		"duration_ms":   time.Since(start).Milliseconds(),
	})
	return resp.Text, nil
}
