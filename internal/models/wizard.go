// internal/models/wizard.go
package models

import (
	"fmt"
	"time"
)

// Step 向导步骤
type Step int

const (
	StepGenre   Step = 1 // 选择类型
	StepCast    Step = 2 // 编辑角色
	StepOutline Step = 3 // 编写大纲
	StepResult  Step = 4 // 生成结果
)

// LastInputStep 最后一个输入步骤，之后只能通过生成进入结果页
const LastInputStep = StepOutline

// String 返回步骤名称
func (s Step) String() string {
	switch s {
	case StepGenre:
		return "genre"
	case StepCast:
		return "cast"
	case StepOutline:
		return "outline"
	case StepResult:
		return "result"
	default:
		return fmt.Sprintf("step(%d)", int(s))
	}
}

// StoryConfig 故事配置
type StoryConfig struct {
	Genre       Genre  `json:"genre"`
	PlotOutline string `json:"plot_outline"`
}

// StoryDocument 生成的故事正文
type StoryDocument struct {
	Text      string `json:"text"`
	IsEditing bool   `json:"is_editing"`
}

// RefinementDraft 润色请求草稿，提交成功后清空
type RefinementDraft struct {
	PromptText string `json:"prompt_text"`
}

// WizardState 一个会话的全部向导状态
type WizardState struct {
	Step       Step            `json:"step"`
	Loading    bool            `json:"loading"`
	Error      string          `json:"error,omitempty"`
	Config     StoryConfig     `json:"config"`
	Characters []Character     `json:"characters"`
	Story      StoryDocument   `json:"story"`
	Refinement RefinementDraft `json:"refinement"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// NewWizardState 创建初始状态：第一步、默认类型、一个默认角色
func NewWizardState() *WizardState {
	return &WizardState{
		Step:       StepGenre,
		Config:     StoryConfig{Genre: DefaultGenre},
		Characters: []Character{InitialCharacter()},
		UpdatedAt:  time.Now(),
	}
}

// Clone 深拷贝状态，用于对外快照
func (s *WizardState) Clone() *WizardState {
	clone := *s
	clone.Characters = append([]Character(nil), s.Characters...)
	return &clone
}

func (s *WizardState) touch() {
	s.UpdatedAt = time.Now()
}

// SetGenre 设置故事类型
func (s *WizardState) SetGenre(genre Genre) {
	s.Config.Genre = genre
	s.touch()
}

// SetPlotOutline 原样保存情节大纲
func (s *WizardState) SetPlotOutline(text string) {
	s.Config.PlotOutline = text
	s.touch()
}

// AddCharacter 追加一个默认角色
func (s *WizardState) AddCharacter() int {
	s.Characters = append(s.Characters, NewCharacter())
	s.touch()
	return len(s.Characters) - 1
}

// UpdateCharacter 修改指定角色，索引越界时不做任何事并返回 false
func (s *WizardState) UpdateCharacter(index int, update CharacterUpdate) bool {
	if index < 0 || index >= len(s.Characters) || update == nil {
		return false
	}
	ApplyCharacterUpdate(&s.Characters[index], update)
	s.touch()
	return true
}

// RemoveCharacter 删除指定角色；第一个角色不可删除，越界同样忽略
func (s *WizardState) RemoveCharacter(index int) bool {
	if index <= 0 || index >= len(s.Characters) {
		return false
	}
	s.Characters = append(s.Characters[:index:index], s.Characters[index+1:]...)
	s.touch()
	return true
}

// AdvanceStep 前进一步，只在 1..2 之间生效；第三步的“下一步”必须走生成流程
func (s *WizardState) AdvanceStep() bool {
	if s.Loading || s.Step < StepGenre || s.Step >= LastInputStep {
		return false
	}
	s.Step++
	s.touch()
	return true
}

// RetreatStep 后退一步，第一步和结果页不生效
func (s *WizardState) RetreatStep() bool {
	if s.Loading || s.Step <= StepGenre || s.Step > LastInputStep {
		return false
	}
	s.Step--
	s.touch()
	return true
}

// ResetToStart 重新开始：只把步骤改回第一步，其余内容保持不变
func (s *WizardState) ResetToStart() bool {
	if s.Loading {
		return false
	}
	s.Step = StepGenre
	s.touch()
	return true
}

// SetStoryText 直接编辑结果正文，仅结果页且没有生成进行中时有效
func (s *WizardState) SetStoryText(text string) bool {
	if s.Loading || s.Step != StepResult {
		return false
	}
	s.Story.Text = text
	s.touch()
	return true
}

// SetEditing 切换手动编辑模式，仅结果页有效
func (s *WizardState) SetEditing(editing bool) bool {
	if s.Step != StepResult {
		return false
	}
	s.Story.IsEditing = editing
	s.touch()
	return true
}

// SetRefinementDraft 编辑润色草稿，生成进行中时忽略
func (s *WizardState) SetRefinementDraft(text string) bool {
	if s.Loading || s.Step != StepResult {
		return false
	}
	s.Refinement.PromptText = text
	s.touch()
	return true
}

// DismissError 关闭错误提示
func (s *WizardState) DismissError() {
	s.Error = ""
	s.touch()
}
