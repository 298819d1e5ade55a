// internal/llm/providers/google/google.go
package google

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	apperrors "github.com/Corphon/StoryWizard/internal/errors"
	"github.com/Corphon/StoryWizard/internal/llm"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel   = "gemini-2.5-flash-preview-09-2025"
)

func init() {
	llm.Register("google", func() llm.Provider {
		return &Provider{
			models: []string{
				"gemini-2.5-flash-preview-09-2025",
				"gemini-2.5-flash",
				"gemini-2.5-pro",
			},
			baseURL:      defaultBaseURL,
			defaultModel: defaultModel,
		}
	})
}

// Provider 通过 generateContent 接口调用 Gemini
type Provider struct {
	apiKey       string
	baseURL      string
	client       *http.Client
	defaultModel string
	models       []string
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents          []content `json:"contents"`
	SystemInstruction *content  `json:"systemInstruction,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		TotalTokenCount int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

type errorResponse struct {
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
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

	return nil
}

func (p *Provider) GetName() string {
	return "google gemini"
}

func (p *Provider) GetSupportedModels() []string {
	return append([]string(nil), p.models...)
}

// CompleteText 发送一次 generateContent 请求并返回第一段文本
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

	// 构建Gemini请求
	body := generateRequest{
		Contents: []content{{Parts: []part{{Text: req.Prompt}}}},
	}
	if req.SystemPrompt != "" {
		body.SystemInstruction = &content{Parts: []part{{Text: req.SystemPrompt}}}
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, apperrors.NewParseError("failed to encode request", err)
	}

	apiURL := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		p.baseURL, url.PathEscape(model), url.QueryEscape(p.apiKey))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, apperrors.NewConfigurationError("invalid generation endpoint", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	// 发送请求
	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, apperrors.NewNetworkError("network error while contacting generation service", stripKey(err, p.apiKey))
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, apperrors.NewNetworkError("failed to read generation response", err)
	}

	// 检查错误
	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		var errResp errorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != nil {
			return nil, apperrors.NewServiceError(httpResp.StatusCode, errResp.Error.Message)
		}
		return nil, apperrors.NewServiceError(httpResp.StatusCode, "")
	}

	// 解析响应
	var response generateResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return nil, apperrors.NewParseError("malformed response from generation service", err)
	}

	text := firstText(response)

	result := &llm.CompletionResponse{
		Text:         text,
		TokensUsed:   response.UsageMetadata.TotalTokenCount,
		ModelName:    model,
		ProviderName: p.GetName(),
	}
	if len(response.Candidates) > 0 {
		result.FinishReason = response.Candidates[0].FinishReason
	}
	return result, nil
}

// firstText 取第一个候选的第一段文本，缺失或为空时返回兜底文案
func firstText(response generateResponse) string {
	if len(response.Candidates) == 0 {
		return llm.NoContentText
	}
	parts := response.Candidates[0].Content.Parts
	if len(parts) == 0 || parts[0].Text == "" {
		return llm.NoContentText
	}
	return parts[0].Text
}

// stripKey 避免把带密钥的URL写进错误信息
func stripKey(err error, apiKey string) error {
	if err == nil || apiKey == "" {
		return err
	}
	msg := strings.ReplaceAll(err.Error(), url.QueryEscape(apiKey), "***")
	msg = strings.ReplaceAll(msg, apiKey, "***")
	return errors.New(msg)
}
