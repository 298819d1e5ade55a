// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
)

// ErrorType 定义错误类型
type ErrorType string

const (
	// 生成网关错误类型
	ErrorTypeConfiguration ErrorType = "configuration_error"
	ErrorTypeNetwork       ErrorType = "network_error"
	ErrorTypeService       ErrorType = "service_error"
	ErrorTypeParse         ErrorType = "parse_error"

	// 通用错误类型
	ErrorTypeValidation  ErrorType = "validation_error"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeConflict    ErrorType = "conflict"
	ErrorTypeRateLimited ErrorType = "rate_limited"
)

// DefaultServiceMessage 服务端未返回错误信息时使用的默认消息
const DefaultServiceMessage = "API request failed"

// AppError 应用程序错误结构
type AppError struct {
	Type       ErrorType
	Message    string
	Err        error
	Code       string // 用户友好的错误代码
	StatusCode int    // 上游HTTP状态码，仅服务错误使用
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap 实现错误链接
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError 创建新的 AppError
func NewAppError(errType ErrorType, message string, originalError error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Err:     originalError,
		Code:    generateErrorCode(errType),
	}
}

// NewConfigurationError 创建配置错误（凭据缺失等）
func NewConfigurationError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeConfiguration, message, originalError)
}

// NewNetworkError 创建网络传输错误
func NewNetworkError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeNetwork, message, originalError)
}

// NewServiceError 创建上游服务错误，message 为空时使用默认消息
func NewServiceError(statusCode int, message string) *AppError {
	if message == "" {
		message = DefaultServiceMessage
	}
	appErr := NewAppError(ErrorTypeService, message, nil)
	appErr.StatusCode = statusCode
	return appErr
}

// NewParseError 创建响应解析错误
func NewParseError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeParse, message, originalError)
}

// NewValidationError 创建验证错误
func NewValidationError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeValidation, message, originalError)
}

// NewNotFoundError 创建未找到错误
func NewNotFoundError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeNotFound, message, originalError)
}

// NewConflictError 创建冲突错误
func NewConflictError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeConflict, message, originalError)
}

// NewRateLimitedError 创建限流错误
func NewRateLimitedError(message string) *AppError {
	return NewAppError(ErrorTypeRateLimited, message, nil)
}

// TypeOf 返回错误链中第一个 AppError 的类型，没有则返回空
func TypeOf(err error) ErrorType {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type
	}
	return ""
}

// IsConfigurationError 检查是否为配置错误
func IsConfigurationError(err error) bool {
	return TypeOf(err) == ErrorTypeConfiguration
}

// IsNetworkError 检查是否为网络错误
func IsNetworkError(err error) bool {
	return TypeOf(err) == ErrorTypeNetwork
}

// IsServiceError 检查是否为服务错误
func IsServiceError(err error) bool {
	return TypeOf(err) == ErrorTypeService
}

// IsParseError 检查是否为解析错误
func IsParseError(err error) bool {
	return TypeOf(err) == ErrorTypeParse
}

// IsValidationError 检查是否为验证错误
func IsValidationError(err error) bool {
	return TypeOf(err) == ErrorTypeValidation
}

// IsNotFoundError 检查是否为未找到错误
func IsNotFoundError(err error) bool {
	return TypeOf(err) == ErrorTypeNotFound
}

// IsConflictError 检查是否为冲突错误
func IsConflictError(err error) bool {
	return TypeOf(err) == ErrorTypeConflict
}

// IsGatewayError 检查是否为生成网关返回的四类错误之一
func IsGatewayError(err error) bool {
	switch TypeOf(err) {
	case ErrorTypeConfiguration, ErrorTypeNetwork, ErrorTypeService, ErrorTypeParse:
		return true
	default:
		return false
	}
}

// UserMessage 返回可直接展示给用户的错误消息
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Message
	}
	return err.Error()
}

// generateErrorCode 根据错误类型生成错误代码
func generateErrorCode(errType ErrorType) string {
	switch errType {
	case ErrorTypeConfiguration:
		return "CONFIGURATION_ERROR"
	case ErrorTypeNetwork:
		return "NETWORK_ERROR"
	case ErrorTypeService:
		return "SERVICE_ERROR"
	case ErrorTypeParse:
		return "PARSE_ERROR"
	case ErrorTypeValidation:
		return "VALIDATION_ERROR"
	case ErrorTypeNotFound:
		return "NOT_FOUND"
	case ErrorTypeConflict:
		return "CONFLICT"
	case ErrorTypeRateLimited:
		return "RATE_LIMITED"
	default:
		return "UNKNOWN_ERROR"
	}
}
