// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Corphon/StoryWizard/internal/api"
	"github.com/Corphon/StoryWizard/internal/config"
	"github.com/Corphon/StoryWizard/internal/di"
	"github.com/Corphon/StoryWizard/internal/services"
	"github.com/Corphon/StoryWizard/internal/utils"
)

// shutdownTimeout 等待进行中的请求结束的时间
const shutdownTimeout = 30 * time.Second

// server 可启动和关闭的HTTP服务器
type server interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// App 应用程序实例
type App struct {
	config   *config.AppConfig
	router   http.Handler
	routes   *api.Router
	server   server
	stopChan chan os.Signal
}

var (
	instance *App
	appMutex sync.Mutex
)

// GetApp 获取应用实例（单例）
func GetApp() *App {
	appMutex.Lock()
	defer appMutex.Unlock()

	if instance == nil {
		instance = &App{
			stopChan: make(chan os.Signal, 1),
		}
	}
	return instance
}

// Initialize 按顺序初始化配置、日志、服务和路由
func Initialize() error {
	if err := config.InitConfig(); err != nil {
		return fmt.Errorf("初始化配置失败: %w", err)
	}

	app := GetApp()
	app.config = config.GetCurrentConfig()

	if err := initLogger(app.config.LogDir, app.config.LogLevel); err != nil {
		return fmt.Errorf("初始化日志系统失败: %w", err)
	}

	if err := InitServices(); err != nil {
		return fmt.Errorf("初始化服务失败: %w", err)
	}

	routes, err := api.SetupRouter()
	if err != nil {
		return fmt.Errorf("设置路由失败: %w", err)
	}
	app.routes = routes
	app.router = routes.Engine
	app.server = &http.Server{
		Addr:              ":" + app.config.Port,
		Handler:           app.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return nil
}

// InitServices 按依赖顺序创建服务并注册到容器
func InitServices() error {
	cfg := config.GetCurrentConfig()
	container := di.GetContainer()

	// 1. 生成网关，缺少密钥时仍可启动，生成时报告配置错误
	llmService, err := services.NewLLMService()
	if err != nil {
		utils.GetLogger().Warn("LLM service unavailable, running in standby", map[string]interface{}{
			"error": err.Error(),
		})
		llmService = services.NewEmptyLLMService()
	}
	container.Register("llm", llmService)

	// 2. 会话注册表
	sessionService := services.NewSessionService(cfg.SessionTTL, cfg.SessionCleanupInterval)
	container.Register("session", sessionService)

	// 3. 向导状态机
	wizardService := services.NewWizardService(llmService)
	container.Register("wizard", wizardService)

	ready, state := llmService.GetProviderStatus()
	utils.GetLogger().Info("Services initialized", map[string]interface{}{
		"provider":    llmService.GetProviderName(),
		"llm_ready":   ready,
		"llm_state":   state,
		"session_ttl": cfg.SessionTTL.String(),
	})
	return nil
}

// initLogger 初始化日志系统
func initLogger(logDir, level string) error {
	if logDir == "" {
		logDir = "logs"
	}
	return utils.InitLogger(logDir, level)
}

// Run 启动服务器，收到退出信号后优雅关闭
func Run() error {
	app := GetApp()
	if app.server == nil {
		return errors.New("应用尚未初始化")
	}

	signal.Notify(app.stopChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(app.stopChan)

	serveErr := make(chan error, 1)
	go func() {
		if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	if app.config != nil {
		utils.GetLogger().Info("Server started", map[string]interface{}{"port": app.config.Port})
	}

	select {
	case err := <-serveErr:
		app.cleanup()
		return fmt.Errorf("启动服务器失败: %w", err)
	case sig := <-app.stopChan:
		utils.GetLogger().Info("Shutting down", map[string]interface{}{"signal": sig.String()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := app.server.Shutdown(ctx)
	app.cleanup()
	if err != nil {
		return fmt.Errorf("服务器强制关闭: %w", err)
	}
	return nil
}

// Stop 请求退出，效果与收到 SIGTERM 相同
func (app *App) Stop() {
	select {
	case app.stopChan <- syscall.SIGTERM:
	default:
	}
}

// cleanup 释放后台资源
func (app *App) cleanup() {
	if app.routes != nil {
		app.routes.Close()
	}

	if sessions, ok := di.GetContainer().Get("session").(*services.SessionService); ok {
		utils.GetLogger().Info("Discarding sessions", map[string]interface{}{"count": sessions.Count()})
	}

	_ = utils.GetLogger().Sync()
}

// GetConfig 获取应用配置
func (app *App) GetConfig() *config.AppConfig {
	return app.config
}

// GetDIContainer 获取依赖注入容器
func GetDIContainer() *di.Container {
	return di.GetContainer()
}

// IsDebugMode 是否处于调试模式
func IsDebugMode() bool {
	app := GetApp()
	return app.config != nil && app.config.DebugMode
}
