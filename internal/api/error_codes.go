// internal/api/error_codes.go
package api

// API错误代码常量
const (
	// 通用错误
	ErrorBadRequest    = "BAD_REQUEST"
	ErrorValidation    = "VALIDATION_ERROR"
	ErrorNotFound      = "NOT_FOUND"
	ErrorInternalError = "INTERNAL_ERROR"
	ErrorRateLimited   = "RATE_LIMITED"

	// 会话相关错误
	ErrorSessionNotFound      = "SESSION_NOT_FOUND"
	ErrorCharacterIndex       = "CHARACTER_INDEX_INVALID"
	ErrorGenerationInProgress = "GENERATION_IN_PROGRESS"

	// 生成网关错误
	ErrorConfiguration = "CONFIGURATION_ERROR"
	ErrorNetwork       = "NETWORK_ERROR"
	ErrorService       = "SERVICE_ERROR"
	ErrorParse         = "PARSE_ERROR"

	// LLM配置相关错误
	ErrorLLMConfigInvalid   = "LLM_CONFIG_INVALID"
	ErrorLLMProviderMissing = "LLM_PROVIDER_MISSING"
)
