// cmd/demo/main.go
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/Corphon/StoryWizard/internal/app"
	"github.com/Corphon/StoryWizard/internal/config"
	"github.com/Corphon/StoryWizard/internal/di"
	_ "github.com/Corphon/StoryWizard/internal/llm/providers/google"
	_ "github.com/Corphon/StoryWizard/internal/llm/providers/openrouter"
	"github.com/Corphon/StoryWizard/internal/models"
	"github.com/Corphon/StoryWizard/internal/services"
	"github.com/Corphon/StoryWizard/internal/utils"
)

var reader = bufio.NewReader(os.Stdin)

func main() {
	fmt.Println("🚀 StoryWizard Console")
	fmt.Println("======================")

	if err := config.InitConfig(); err != nil {
		log.Fatalf("❌ 初始化配置失败: %v", err)
	}
	cfg := config.GetCurrentConfig()
	if err := utils.InitLogger(cfg.LogDir, cfg.LogLevel); err != nil {
		log.Printf("⚠️ 无法初始化结构化日志: %v", err)
	}
	utils.GetLogger().Enable(cfg.DebugMode)

	if err := app.InitServices(); err != nil {
		log.Fatalf("❌ 初始化服务失败: %v", err)
	}

	container := di.GetContainer()
	sessions, err := di.Resolve[*services.SessionService](container, "session")
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	wizard, err := di.Resolve[*services.WizardService](container, "wizard")
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	session := sessions.Create()
	ctx := context.Background()

	for runStep(ctx, wizard, session) {
	}
	fmt.Println("👋 再见")
}

// runStep 显示当前步骤并处理一次输入，返回 false 表示退出
func runStep(ctx context.Context, wizard *services.WizardService, session *services.WizardSession) bool {
	state := session.Snapshot()
	if state.Error != "" {
		fmt.Printf("\n❌ %s\n", state.Error)
		wizard.DismissError(session)
	}

	switch state.Step {
	case models.StepGenre:
		genreStep(wizard, session, state)
	case models.StepCast:
		charactersStep(wizard, session, state)
	case models.StepOutline:
		outlineStep(ctx, wizard, session, state)
	case models.StepResult:
		return resultStep(ctx, wizard, session, state)
	}
	return true
}

// genreStep 第一步：选择类型
func genreStep(wizard *services.WizardService, session *services.WizardSession, state *models.WizardState) {
	fmt.Printf("\n📚 第一步：选择故事类型（当前: %s）\n", state.Config.Genre)
	for i, genre := range models.Genres {
		fmt.Printf("  %d. %s\n", i+1, genre)
	}

	choice := prompt("输入编号，回车继续: ")
	if choice == "" {
		nextStep(wizard, session)
		return
	}
	if index, ok := pick(choice, len(models.Genres)); ok {
		wizard.SetGenre(session, models.Genres[index])
	}
}

// charactersStep 第二步：编辑角色
func charactersStep(wizard *services.WizardService, session *services.WizardSession, state *models.WizardState) {
	fmt.Println("\n🎭 第二步：角色")
	for i, c := range state.Characters {
		fmt.Printf("  %d. %s\n", i+1, services.CharacterLine(c))
	}
	fmt.Println("  a 添加  e 编辑  d 删除  b 返回  回车继续")

	switch prompt("> ") {
	case "":
		nextStep(wizard, session)
	case "b":
		wizard.Back(session)
	case "a":
		wizard.AddCharacter(session)
	case "d":
		if index, ok := pick(prompt("删除第几个角色: "), len(state.Characters)); ok {
			if _, applied := wizard.RemoveCharacter(session, index); !applied {
				fmt.Println("⚠️ 第一个角色不能删除")
			}
		}
	case "e":
		index, ok := pick(prompt("编辑第几个角色: "), len(state.Characters))
		if !ok {
			return
		}
		editCharacter(wizard, session, index)
	}
}

// editCharacter 逐项编辑角色，留空表示不修改
func editCharacter(wizard *services.WizardService, session *services.WizardSession, index int) {
	if name := prompt("名字: "); name != "" {
		wizard.UpdateCharacter(session, index, models.SetName{Value: name})
	}

	if gender, ok := pick(prompt(fmt.Sprintf("性别 %v: ", models.Genders)), len(models.Genders)); ok {
		wizard.UpdateCharacter(session, index, models.SetGender{Value: models.Genders[gender]})
	}

	personality, ok := pick(prompt(fmt.Sprintf("性格 %v: ", models.Personalities)), len(models.Personalities))
	if !ok {
		return
	}
	wizard.UpdateCharacter(session, index, models.SetPersonality{Value: models.Personalities[personality]})
	if models.Personalities[personality] == models.PersonalityCustom {
		wizard.UpdateCharacter(session, index, models.SetCustomPersonality{Value: prompt("描述性格: ")})
	}
}

// outlineStep 第三步：填写大纲并生成
func outlineStep(ctx context.Context, wizard *services.WizardService, session *services.WizardSession, state *models.WizardState) {
	fmt.Println("\n📝 第三步：情节大纲")
	if state.Config.PlotOutline != "" {
		fmt.Printf("当前大纲: %s\n", state.Config.PlotOutline)
	}
	fmt.Println("输入大纲，g 生成，b 返回")

	switch input := prompt("> "); input {
	case "b":
		wizard.Back(session)
	case "g", "":
		fmt.Println("⏳ 正在生成...")
		if _, err := wizard.Next(ctx, session); err == nil {
			fmt.Println("✅ 生成完成")
		}
	default:
		wizard.SetPlotOutline(session, input)
	}
}

// resultStep 第四步：查看、编辑和润色，返回 false 表示退出
func resultStep(ctx context.Context, wizard *services.WizardService, session *services.WizardSession, state *models.WizardState) bool {
	fmt.Println("\n📖 故事")
	fmt.Println(strings.Repeat("-", 40))
	fmt.Println(state.Story.Text)
	fmt.Println(strings.Repeat("-", 40))
	fmt.Println("r 润色  e 替换正文  s 重新开始  q 退出")

	switch prompt("> ") {
	case "q":
		return false
	case "s":
		wizard.Restart(session)
	case "e":
		wizard.SetEditing(session, true)
		wizard.SetStoryText(session, prompt("新的正文: "))
		wizard.SetEditing(session, false)
	case "r":
		wizard.SetRefinementDraft(session, prompt("想要怎样修改: "))
		fmt.Println("⏳ 正在润色...")
		wizard.Refine(ctx, session)
	}
	return true
}

func nextStep(wizard *services.WizardService, session *services.WizardSession) {
	if _, err := wizard.Next(context.Background(), session); err != nil {
		fmt.Printf("❌ %v\n", err)
	}
}

// pick 把从 1 开始的编号转换为索引
func pick(input string, size int) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil || n < 1 || n > size {
		return 0, false
	}
	return n - 1, true
}

func prompt(label string) string {
	fmt.Print(label)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		fmt.Println()
		os.Exit(0)
	}
	return strings.TrimSpace(line)
}
