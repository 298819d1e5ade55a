// internal/api/response_helpers.go
package api

import (
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/Corphon/StoryWizard/internal/errors"
	"github.com/Corphon/StoryWizard/internal/utils"
)

// APIResponse 标准API响应格式
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"` // 用于调试和追踪
}

// APIError 标准错误格式
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ResponseHelper 响应助手类
type ResponseHelper struct{}

// NewResponseHelper 创建响应助手
func NewResponseHelper() *ResponseHelper {
	return &ResponseHelper{}
}

// Success 成功响应
func (rh *ResponseHelper) Success(c *gin.Context, data interface{}, message ...string) {
	response := &APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: rh.getRequestID(c),
	}

	if len(message) > 0 {
		response.Message = message[0]
	}

	c.JSON(http.StatusOK, response)
}

// Created 创建成功响应
func (rh *ResponseHelper) Created(c *gin.Context, data interface{}, message ...string) {
	response := &APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: rh.getRequestID(c),
	}

	if len(message) > 0 {
		response.Message = message[0]
	} else {
		response.Message = "created"
	}

	c.JSON(http.StatusCreated, response)
}

// keyPattern 匹配URL中的密钥参数
var keyPattern = regexp.MustCompile(`key=[^&\s"]+`)

// sanitizeErrorMessage 去掉错误信息中可能出现的密钥
func sanitizeErrorMessage(message string) string {
	return keyPattern.ReplaceAllString(message, "key=***")
}

// Error 错误响应
func (rh *ResponseHelper) Error(c *gin.Context, statusCode int, errorCode, message string, details ...string) {
	rh.ErrorWithData(c, statusCode, errorCode, message, nil, details...)
}

// ErrorWithData 错误响应，同时返回数据
func (rh *ResponseHelper) ErrorWithData(c *gin.Context, statusCode int, errorCode, message string, data interface{}, details ...string) {
	apiError := &APIError{
		Code:    errorCode,
		Message: sanitizeErrorMessage(message),
	}

	if len(details) > 0 {
		apiError.Details = sanitizeErrorMessage(details[0])
	}

	response := &APIResponse{
		Success:   false,
		Data:      data,
		Error:     apiError,
		Timestamp: time.Now(),
		RequestID: rh.getRequestID(c),
	}

	c.AbortWithStatusJSON(statusCode, response)
}

// AppError 根据错误类型选择状态码和错误代码
func (rh *ResponseHelper) AppError(c *gin.Context, err error, data interface{}) {
	statusCode, code := classifyError(err)
	if statusCode >= http.StatusInternalServerError {
		utils.GetLogger().Warn("Request failed", map[string]interface{}{
			"path":       c.FullPath(),
			"status":     statusCode,
			"code":       code,
			"request_id": rh.getRequestID(c),
			"error":      err.Error(),
		})
	}
	rh.ErrorWithData(c, statusCode, code, apperrors.UserMessage(err), data)
}

// BadRequest 400错误响应
func (rh *ResponseHelper) BadRequest(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusBadRequest, ErrorBadRequest, message, details...)
}

// NotFound 404错误响应
func (rh *ResponseHelper) NotFound(c *gin.Context, resource string, details ...string) {
	code := ErrorNotFound
	if resource == "session" {
		code = ErrorSessionNotFound
	}
	rh.Error(c, http.StatusNotFound, code, resource+" not found", details...)
}

// InternalError 500错误响应
func (rh *ResponseHelper) InternalError(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusInternalServerError, ErrorInternalError, message, details...)
}

// getRequestID 获取请求ID
func (rh *ResponseHelper) getRequestID(c *gin.Context) string {
	return c.GetString(RequestIDKey)
}

// classifyError 错误类型到HTTP状态码的映射
func classifyError(err error) (int, string) {
	switch apperrors.TypeOf(err) {
	case apperrors.ErrorTypeValidation:
		return http.StatusBadRequest, ErrorValidation
	case apperrors.ErrorTypeNotFound:
		return http.StatusNotFound, ErrorSessionNotFound
	case apperrors.ErrorTypeConflict:
		return http.StatusConflict, ErrorGenerationInProgress
	case apperrors.ErrorTypeRateLimited:
		return http.StatusTooManyRequests, ErrorRateLimited
	case apperrors.ErrorTypeConfiguration:
		return http.StatusServiceUnavailable, ErrorConfiguration
	case apperrors.ErrorTypeNetwork:
		return http.StatusBadGateway, ErrorNetwork
	case apperrors.ErrorTypeService:
		return http.StatusBadGateway, ErrorService
	case apperrors.ErrorTypeParse:
		return http.StatusBadGateway, ErrorParse
	default:
		return http.StatusInternalServerError, ErrorInternalError
	}
}
