// internal/api/router.go
package api

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Corphon/StoryWizard/internal/config"
	"github.com/Corphon/StoryWizard/internal/di"
	"github.com/Corphon/StoryWizard/internal/services"
)

// RouterOptions 构建路由所需的依赖和参数
type RouterOptions struct {
	Sessions       *services.SessionService
	Wizard         *services.WizardService
	LLM            *services.LLMService
	StaticDir      string
	AllowedOrigins []string
	RateLimit      int // 每分钟每个客户端的生成请求数，<= 0 不限流
}

// Router HTTP路由及其后台组件
type Router struct {
	Engine    *gin.Engine
	Handler   *Handler
	WebSocket *WebSocketManager
	limiter   *RateLimiter
}

// Close 停止 WebSocket 管理器和限流器
func (r *Router) Close() {
	r.WebSocket.Stop()
	r.limiter.Stop()
}

// SetupRouter 从依赖注入容器获取服务并配置HTTP路由
func SetupRouter() (*Router, error) {
	cfg := config.GetCurrentConfig()
	container := di.GetContainer()

	// 只从容器获取服务，不再创建新实例
	llmService, err := di.Resolve[*services.LLMService](container, "llm")
	if err != nil {
		return nil, fmt.Errorf("LLM服务未正确初始化: %w", err)
	}

	sessionService, err := di.Resolve[*services.SessionService](container, "session")
	if err != nil {
		return nil, fmt.Errorf("会话服务未正确初始化: %w", err)
	}

	wizardService, err := di.Resolve[*services.WizardService](container, "wizard")
	if err != nil {
		return nil, fmt.Errorf("向导服务未正确初始化: %w", err)
	}

	return NewRouter(RouterOptions{
		Sessions:       sessionService,
		Wizard:         wizardService,
		LLM:            llmService,
		StaticDir:      cfg.StaticDir,
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimit:      cfg.GenerationRateLimit,
	}), nil
}

// NewRouter 创建路由并接好状态推送
func NewRouter(opts RouterOptions) *Router {
	wsManager := NewWebSocketManager()
	wsManager.Start()

	// 每次状态变化都推送给订阅者，会话过期时断开订阅
	opts.Wizard.Subscribe(wsManager.BroadcastState)
	opts.Sessions.OnRemoved(wsManager.CloseSession)

	handler := NewHandler(opts.Sessions, opts.Wizard, opts.LLM, wsManager)
	wsHandler := NewWebSocketHandler(opts.Sessions, wsManager, opts.AllowedOrigins)
	limiter := NewRateLimiter(opts.RateLimit)
	generationLimit := RateLimitByIP(limiter, handler.Response)

	r := gin.New()
	r.Use(RequestID())
	r.Use(Recovery(handler.Response))
	r.Use(RequestLogger())
	r.Use(Metrics())
	r.Use(CORS(opts.AllowedOrigins))

	// 静态页面，目录不存在时跳过
	if opts.StaticDir != "" {
		if info, err := os.Stat(opts.StaticDir); err == nil && info.IsDir() {
			r.Static("/static", opts.StaticDir)
			index := filepath.Join(opts.StaticDir, "index.html")
			if _, err := os.Stat(index); err == nil {
				r.StaticFile("/", index)
			}
		}
	}

	r.GET("/healthz", handler.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// WebSocket 支持
	r.GET("/ws/sessions/:id", wsHandler.SessionWebSocket)

	// ===============================
	// API路由组
	// ===============================
	api := r.Group("/api")
	{
		api.GET("/options", handler.GetOptions)

		// ===============================
		// LLM配置相关路由
		// ===============================
		llmGroup := api.Group("/llm")
		{
			llmGroup.GET("/status", handler.GetLLMStatus)
			llmGroup.GET("/providers", handler.GetLLMProviders)
			llmGroup.PUT("/config", handler.UpdateLLMConfig)
		}

		// ===============================
		// 会话相关路由
		// ===============================
		api.POST("/sessions", handler.CreateSession)
		sessionGroup := api.Group("/sessions/:id")
		{
			sessionGroup.GET("", handler.GetSession)
			sessionGroup.DELETE("", handler.DeleteSession)

			// 输入步骤
			sessionGroup.PUT("/genre", handler.SetGenre)
			sessionGroup.PUT("/plot", handler.SetPlotOutline)
			sessionGroup.POST("/characters", handler.AddCharacter)
			sessionGroup.PATCH("/characters/:index", handler.UpdateCharacter)
			sessionGroup.DELETE("/characters/:index", handler.RemoveCharacter)

			// 导航，next 在大纲步骤会触发生成
			sessionGroup.POST("/next", generationLimit, handler.Next)
			sessionGroup.POST("/back", handler.Back)
			sessionGroup.POST("/restart", handler.Restart)

			// 生成和润色
			sessionGroup.POST("/generate", generationLimit, handler.Generate)
			sessionGroup.PUT("/story", handler.SetStoryText)
			sessionGroup.PUT("/story/editing", handler.SetEditing)
			sessionGroup.PUT("/refinement", handler.SetRefinementDraft)
			sessionGroup.POST("/refine", generationLimit, handler.Refine)

			sessionGroup.DELETE("/error", handler.DismissError)
		}
	}

	r.NoRoute(func(c *gin.Context) {
		handler.Response.NotFound(c, "route")
	})

	return &Router{
		Engine:    r,
		Handler:   handler,
		WebSocket: wsManager,
		limiter:   limiter,
	}
}
