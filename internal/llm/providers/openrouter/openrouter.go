// internal/llm/providers/openrouter/openrouter.go
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	apperrors "github.com/Corphon/StoryWizard/internal/errors"
	"github.com/Corphon/StoryWizard/internal/llm"
)

const (
	defaultBaseURL = "https://openrouter.ai/api/v1"
	defaultModel   = "google/gemini-2.5-flash"
	defaultAppName = "StoryWizard"
)

func init() {
	llm.Register("openrouter", func() llm.Provider {
		return &Provider{
			recommendedModels: []string{
				"google/gemini-2.5-flash",
				"google/gemma-3-27b-it:free",
				"qwen/qwen3-235b-a22b:free",
				"mistralai/mistral-small-3.2-24b-instruct:free",
			},
			baseURL:      defaultBaseURL,
			defaultModel: defaultModel,
			appName:      defaultAppName,
		}
	})
}

// Provider 通过 OpenAI 兼容的 chat/completions 接口调用 OpenRouter
type Provider struct {
	apiKey            string
	baseURL           string
	client            *http.Client
	defaultModel      string
	recommendedModels []string
	httpReferer       string // 请求来源
	appName           string // 应用名称
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Model string `json:"model"` // 实际使用的模型
}

type errorResponse struct {
	Error *struct {
		Code    interface{} `json:"code"`
		Message string      `json:"message"`
	} `json:"error"`
}

// Initialize 初始化提供者；api_key 可以为空，调用时再报告配置错误
func (p *Provider) Initialize(config map[string]string) error {
	p.apiKey = strings.TrimSpace(config["api_key"])

	if p.client == nil {
		p.client = &http.Client{}
	}

	if model, exists := config["default_model"]; exists && model != "" {
		p.defaultModel = model
	}

	if baseURL, exists := config["base_url"]; exists && baseURL != "" {
		p.baseURL = strings.TrimRight(baseURL, "/")
	}

	if appName, exists := config["app_name"]; exists && appName != "" {
		p.appName = appName
	}
	p.httpReferer = config["http_referer"]

	return nil
}

func (p *Provider) GetName() string {
	return "OpenRouter"
}

func (p *Provider) GetSupportedModels() []string {
	return append([]string(nil), p.recommendedModels...)
}

// CompleteText 发送一次 chat/completions 请求，系统提示作为 system 消息
func (p *Provider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if p.apiKey == "" {
		return nil, apperrors.NewConfigurationError("API Key not found in environment.", nil)
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, apperrors.NewValidationError("prompt must not be empty", nil)
	}

	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	messages := []chatMessage{{Role: "user", Content: req.Prompt}}
	if req.SystemPrompt != "" {
		messages = append([]chatMessage{{Role: "system", Content: req.SystemPrompt}}, messages...)
	}

	jsonData, err := json.Marshal(chatRequest{Model: model, Messages: messages})
	if err != nil {
		return nil, apperrors.NewParseError("failed to encode request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, apperrors.NewConfigurationError("invalid generation endpoint", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("X-Title", p.appName)
	if p.httpReferer != "" {
		httpReq.Header.Set("HTTP-Referer", p.httpReferer)
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, apperrors.NewNetworkError("network error while contacting generation service", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, apperrors.NewNetworkError("failed to read generation response", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		var errResp errorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != nil {
			return nil, apperrors.NewServiceError(httpResp.StatusCode, errResp.Error.Message)
		}
		return nil, apperrors.NewServiceError(httpResp.StatusCode, "")
	}

	var response chatResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return nil, apperrors.NewParseError("malformed response from generation service", err)
	}

	result := &llm.CompletionResponse{
		Text:         llm.NoContentText,
		TokensUsed:   response.Usage.TotalTokens,
		ModelName:    model,
		ProviderName: p.GetName(),
	}
	if response.Model != "" {
		result.ModelName = response.Model
	}
	if len(response.Choices) > 0 {
		if text := response.Choices[0].Message.Content; text != "" {
			result.Text = text
		}
		result.FinishReason = response.Choices[0].FinishReason
	}
	return result, nil
}
