// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// 默认值
const (
	DefaultPort            = "8080"
	DefaultProvider        = "google"
	DefaultModel           = "gemini-2.5-flash-preview-09-2025"
	DefaultBaseURL         = "https://generativelanguage.googleapis.com/v1beta"
	DefaultSessionTTL      = 2 * time.Hour
	DefaultCleanupInterval = 10 * time.Minute
	DefaultRateLimit       = 20 // 每分钟每个客户端的生成请求数
)

// 当前配置的单例实例
var (
	currentConfig *AppConfig
	configMutex   sync.RWMutex
)

// AppConfig 包含应用程序的运行时配置
type AppConfig struct {
	// 基础配置
	Port      string `json:"port"`
	StaticDir string `json:"static_dir"`
	LogDir    string `json:"log_dir"`
	LogLevel  string `json:"log_level"`
	DebugMode bool   `json:"debug_mode"`

	// 会话配置
	SessionTTL             time.Duration `json:"session_ttl"`
	SessionCleanupInterval time.Duration `json:"session_cleanup_interval"`
	GenerationRateLimit    int           `json:"generation_rate_limit"`
	AllowedOrigins         []string      `json:"allowed_origins"`

	// LLM相关配置，api_key 只保存在内存中
	LLMProvider string            `json:"llm_provider"`
	LLMConfig   map[string]string `json:"-"`
}

// Config 存储从环境变量读取的基础配置
type Config struct {
	Port                   string
	GeminiAPIKey           string
	LLMProvider            string
	GeminiModel            string
	GeminiBaseURL          string
	OpenRouterAPIKey       string
	OpenRouterModel        string
	OpenRouterBaseURL      string
	StaticDir              string
	LogDir                 string
	LogLevel               string
	DebugMode              bool
	SessionTTL             time.Duration
	SessionCleanupInterval time.Duration
	GenerationRateLimit    int
	AllowedOrigins         []string
}

// Load 从环境变量加载配置
func Load() (*Config, error) {
	// 尝试加载.env文件（可选）
	_ = godotenv.Load()

	config := &Config{
		Port:                   getEnv("PORT", DefaultPort),
		GeminiAPIKey:           getEnv("GEMINI_API_KEY", ""),
		LLMProvider:            getEnv("LLM_PROVIDER", DefaultProvider),
		GeminiModel:            getEnv("GEMINI_MODEL", DefaultModel),
		GeminiBaseURL:          getEnv("GEMINI_BASE_URL", DefaultBaseURL),
		OpenRouterAPIKey:       getEnv("OPENROUTER_API_KEY", ""),
		OpenRouterModel:        getEnv("OPENROUTER_MODEL", ""),
		OpenRouterBaseURL:      getEnv("OPENROUTER_BASE_URL", ""),
		StaticDir:              getEnv("STATIC_DIR", "static"),
		LogDir:                 getEnv("LOG_DIR", "logs"),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		DebugMode:              getEnvBool("DEBUG_MODE", true),
		SessionTTL:             getEnvDuration("SESSION_TTL", DefaultSessionTTL),
		SessionCleanupInterval: getEnvDuration("SESSION_CLEANUP_INTERVAL", DefaultCleanupInterval),
		GenerationRateLimit:    getEnvInt("GENERATION_RATE_LIMIT", DefaultRateLimit),
		AllowedOrigins:         getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
	}

	if _, err := strconv.Atoi(config.Port); err != nil {
		return nil, fmt.Errorf("无效的端口配置 %q: %w", config.Port, err)
	}

	return config, nil
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvBool 获取布尔类型环境变量
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt 获取整数类型环境变量
func getEnvInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvDuration 获取时间间隔类型环境变量，例如 "90m"
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(getEnv(key, ""))
	if err != nil || value <= 0 {
		return defaultValue
	}
	return value
}

// getEnvList 获取逗号分隔的列表
func getEnvList(key string, defaultValue []string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}

	items := make([]string, 0)
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return defaultValue
	}
	return items
}

// InitConfig 初始化配置管理器
func InitConfig() error {
	baseConfig, err := Load()
	if err != nil {
		return err
	}

	configMutex.Lock()
	defer configMutex.Unlock()

	currentConfig = fromBase(baseConfig)
	return nil
}

// fromBase 由基础配置构建运行时配置
func fromBase(baseConfig *Config) *AppConfig {
	return &AppConfig{
		Port:                   baseConfig.Port,
		StaticDir:              baseConfig.StaticDir,
		LogDir:                 baseConfig.LogDir,
		LogLevel:               baseConfig.LogLevel,
		DebugMode:              baseConfig.DebugMode,
		SessionTTL:             baseConfig.SessionTTL,
		SessionCleanupInterval: baseConfig.SessionCleanupInterval,
		GenerationRateLimit:    baseConfig.GenerationRateLimit,
		AllowedOrigins:         baseConfig.AllowedOrigins,
		LLMProvider:            baseConfig.LLMProvider,
		LLMConfig:              providerConfig(baseConfig),
	}
}

// providerConfig 按提供者选取对应的环境变量；留空的键由提供者使用自己的默认值
func providerConfig(baseConfig *Config) map[string]string {
	switch baseConfig.LLMProvider {
	case "openrouter":
		return map[string]string{
			"api_key":       baseConfig.OpenRouterAPIKey,
			"default_model": baseConfig.OpenRouterModel,
			"base_url":      baseConfig.OpenRouterBaseURL,
		}
	case "google":
		return map[string]string{
			"api_key":       baseConfig.GeminiAPIKey,
			"default_model": baseConfig.GeminiModel,
			"base_url":      baseConfig.GeminiBaseURL,
		}
	default:
		return map[string]string{}
	}
}

// GetCurrentConfig 返回当前配置的副本
func GetCurrentConfig() *AppConfig {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if currentConfig == nil {
		// 未初始化时直接从环境变量构建
		baseConfig, err := Load()
		if err != nil {
			baseConfig = &Config{Port: DefaultPort, LLMProvider: DefaultProvider}
		}
		return fromBase(baseConfig)
	}

	// 返回配置的副本
	configCopy := *currentConfig
	configCopy.LLMConfig = make(map[string]string, len(currentConfig.LLMConfig))
	for k, v := range currentConfig.LLMConfig {
		configCopy.LLMConfig[k] = v
	}
	configCopy.AllowedOrigins = append([]string(nil), currentConfig.AllowedOrigins...)
	return &configCopy
}

// UpdateLLMConfig 更新LLM配置；同一提供者未提供的键保留原值，切换提供者时不沿用旧值
func UpdateLLMConfig(provider string, llmConfig map[string]string) error {
	configMutex.Lock()
	defer configMutex.Unlock()

	if currentConfig == nil {
		return fmt.Errorf("配置系统未初始化")
	}

	merged := make(map[string]string, len(currentConfig.LLMConfig))
	if provider == "" || provider == currentConfig.LLMProvider {
		for k, v := range currentConfig.LLMConfig {
			merged[k] = v
		}
	}
	for k, v := range llmConfig {
		if v != "" {
			merged[k] = v
		}
	}

	if provider != "" {
		currentConfig.LLMProvider = provider
	}
	currentConfig.LLMConfig = merged
	return nil
}

// Reset 清除当前配置，仅供测试使用
func Reset() {
	configMutex.Lock()
	defer configMutex.Unlock()
	currentConfig = nil
}
