// cmd/server/main.go
package main

import (
	"log"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/StoryWizard/internal/app"
	"github.com/Corphon/StoryWizard/internal/config"
	"github.com/Corphon/StoryWizard/internal/di"
	_ "github.com/Corphon/StoryWizard/internal/llm/providers/google"
	_ "github.com/Corphon/StoryWizard/internal/llm/providers/openrouter"
	"github.com/Corphon/StoryWizard/internal/utils"
)

func main() {
	log.Println("🚀 启动 StoryWizard 服务器...")

	// 1. 加载基础配置，决定 gin 的运行模式
	baseConfig, err := config.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if !baseConfig.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	// 2. 初始化配置、日志、服务和路由
	if err := app.Initialize(); err != nil {
		log.Fatalf("❌ 初始化应用失败: %v", err)
	}
	log.Printf("✅ 服务初始化完成: %v", di.GetContainer().GetNames())

	if baseConfig.GeminiAPIKey == "" {
		log.Println("⚠️ 未设置 GEMINI_API_KEY，生成请求将返回配置错误")
	}

	// 3. 启动服务器，收到退出信号后优雅关闭
	log.Printf("🌐 服务器启动在端口 %s", baseConfig.Port)
	log.Printf("🔗 访问地址: http://localhost:%s", baseConfig.Port)

	if err := app.Run(); err != nil {
		utils.GetLogger().Error("Server stopped with error", map[string]interface{}{"error": err.Error()})
		log.Fatalf("❌ %v", err)
	}
	log.Println("✅ 服务器优雅关闭完成")
}
