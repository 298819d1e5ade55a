// internal/services/prompt_builder.go
package services

import (
	"fmt"
	"strings"

	"github.com/Corphon/StoryWizard/internal/models"
)

// 系统提示
const (
	StorySystemPrompt      = "You are a creative writing assistant specialized in character-driven storytelling."
	RefinementSystemPrompt = "You are an expert editor."
)

const storyTask = `Write a compelling story based on the genre and plot outline above.
Focus heavily on how the specific personalities of the characters influence their dialogue and actions.
The characters should feel distinct.
If the plot outline is thin, expand on it creatively while staying true to the genre.`

const refinementTask = `Rewrite the story or specific sections to accommodate the user's request. Maintain the established characters.`

// EffectivePersonality 返回写入提示词的性格描述
func EffectivePersonality(c models.Character) string {
	return c.EffectivePersonality()
}

// CharacterLine 生成单个角色的描述行
func CharacterLine(c models.Character) string {
	return fmt.Sprintf("- Name: %s, Gender: %s, Personality: %s",
		c.DisplayName(), c.Gender, EffectivePersonality(c))
}

// BuildInitialPrompt 根据故事配置和角色列表构建首次生成的提示词
func BuildInitialPrompt(cfg models.StoryConfig, characters []models.Character) string {
	lines := make([]string, len(characters))
	for i, c := range characters {
		lines[i] = CharacterLine(c)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Genre: %s\n\n", cfg.Genre)
	b.WriteString("Characters:\n")
	b.WriteString(strings.Join(lines, "\n"))
	b.WriteString("\n\nPlot Outline provided by user:\n")
	b.WriteString(`"` + cfg.PlotOutline + "\"\n\n")
	b.WriteString("Task:\n")
	b.WriteString(storyTask)
	b.WriteString("\n")
	return b.String()
}

// BuildRefinementPrompt 根据当前正文和修改要求构建润色提示词
func BuildRefinementPrompt(storyText, request string) string {
	var b strings.Builder
	b.WriteString("Original Story:\n")
	b.WriteString(storyText)
	b.WriteString("\n\nUser Request for Changes:\n")
	b.WriteString(`"` + request + "\"\n\n")
	b.WriteString("Task:\n")
	b.WriteString(refinementTask)
	b.WriteString("\n")
	return b.String()
}
