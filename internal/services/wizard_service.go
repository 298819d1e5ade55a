// internal/services/wizard_service.go
package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/Corphon/StoryWizard/internal/errors"
	"github.com/Corphon/StoryWizard/internal/metrics"
	"github.com/Corphon/StoryWizard/internal/models"
	"github.com/Corphon/StoryWizard/internal/utils"
)

// MsgGenerationInProgress 同一会话已有生成请求在进行中
const MsgGenerationInProgress = "a generation is already in progress for this session"

// StateListener 会话状态变化回调，收到的是快照
type StateListener func(sessionID string, state *models.WizardState)

// WizardService 向导状态机，负责会话状态修改和生成流程
type WizardService struct {
	generator Generator
	metrics   *GenerationMetrics

	listenersMu sync.RWMutex
	listeners   []StateListener
}

// NewWizardService 创建向导服务
func NewWizardService(generator Generator) *WizardService {
	return &WizardService{
		generator: generator,
		metrics:   NewGenerationMetrics(),
	}
}

// Subscribe 注册状态变化回调
func (w *WizardService) Subscribe(listener StateListener) {
	w.listenersMu.Lock()
	defer w.listenersMu.Unlock()
	w.listeners = append(w.listeners, listener)
}

// Metrics 返回生成统计
func (w *WizardService) Metrics() *GenerationMetrics {
	return w.metrics
}

func (w *WizardService) notify(sessionID string, state *models.WizardState) {
	w.listenersMu.RLock()
	listeners := append([]StateListener(nil), w.listeners...)
	w.listenersMu.RUnlock()

	for _, listener := range listeners {
		listener(sessionID, state)
	}
}

// publisher 返回推送指定会话快照的回调
func (w *WizardService) publisher(session *WizardSession) func(*models.WizardState) {
	return func(state *models.WizardState) {
		w.notify(session.ID, state)
	}
}

// mutate 修改会话状态，有变化时推送快照
func (w *WizardService) mutate(session *WizardSession, fn func(*models.WizardState) bool) (*models.WizardState, bool) {
	return session.update(fn, w.publisher(session))
}

// SetGenre 设置故事类型，只接受可选值
func (w *WizardService) SetGenre(session *WizardSession, genre models.Genre) (*models.WizardState, error) {
	if !models.IsValidGenre(genre) {
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown genre %q", genre), nil)
	}
	state, _ := w.mutate(session, func(s *models.WizardState) bool {
		s.SetGenre(genre)
		return true
	})
	return state, nil
}

// SetPlotOutline 设置情节大纲
func (w *WizardService) SetPlotOutline(session *WizardSession, text string) *models.WizardState {
	state, _ := w.mutate(session, func(s *models.WizardState) bool {
		s.SetPlotOutline(text)
		return true
	})
	return state
}

// AddCharacter 追加默认角色
func (w *WizardService) AddCharacter(session *WizardSession) *models.WizardState {
	state, _ := w.mutate(session, func(s *models.WizardState) bool {
		s.AddCharacter()
		return true
	})
	return state
}

// UpdateCharacter 修改角色，索引越界时返回未修改的状态
func (w *WizardService) UpdateCharacter(session *WizardSession, index int, update models.CharacterUpdate) (*models.WizardState, bool) {
	return w.mutate(session, func(s *models.WizardState) bool {
		return s.UpdateCharacter(index, update)
	})
}

// RemoveCharacter 删除角色，第一个角色和越界索引忽略
func (w *WizardService) RemoveCharacter(session *WizardSession, index int) (*models.WizardState, bool) {
	return w.mutate(session, func(s *models.WizardState) bool {
		return s.RemoveCharacter(index)
	})
}

// Next 下一步；在大纲步骤时进入生成流程
func (w *WizardService) Next(ctx context.Context, session *WizardSession) (*models.WizardState, error) {
	state := session.Snapshot()
	if state.Step == models.LastInputStep {
		return w.Generate(ctx, session)
	}
	state, _ = w.mutate(session, func(s *models.WizardState) bool {
		return s.AdvanceStep()
	})
	return state, nil
}

// Back 上一步
func (w *WizardService) Back(session *WizardSession) (*models.WizardState, bool) {
	return w.mutate(session, func(s *models.WizardState) bool {
		return s.RetreatStep()
	})
}

// Restart 回到第一步，保留已填写的内容
func (w *WizardService) Restart(session *WizardSession) (*models.WizardState, bool) {
	return w.mutate(session, func(s *models.WizardState) bool {
		return s.ResetToStart()
	})
}

// SetStoryText 直接编辑生成结果
func (w *WizardService) SetStoryText(session *WizardSession, text string) (*models.WizardState, bool) {
	return w.mutate(session, func(s *models.WizardState) bool {
		return s.SetStoryText(text)
	})
}

// SetEditing 切换编辑模式
func (w *WizardService) SetEditing(session *WizardSession, editing bool) (*models.WizardState, bool) {
	return w.mutate(session, func(s *models.WizardState) bool {
		return s.SetEditing(editing)
	})
}

// SetRefinementDraft 编辑润色草稿
func (w *WizardService) SetRefinementDraft(session *WizardSession, text string) (*models.WizardState, bool) {
	return w.mutate(session, func(s *models.WizardState) bool {
		return s.SetRefinementDraft(text)
	})
}

// DismissError 关闭错误提示
func (w *WizardService) DismissError(session *WizardSession) *models.WizardState {
	state, _ := w.mutate(session, func(s *models.WizardState) bool {
		s.DismissError()
		return true
	})
	return state
}

// generationPlan 一次生成调用所需的输入
type generationPlan struct {
	prompt       string
	systemPrompt string
}

// Generate 在大纲步骤生成故事；成功进入结果页，失败停留在大纲步骤并记录错误
func (w *WizardService) Generate(ctx context.Context, session *WizardSession) (*models.WizardState, error) {
	return w.runGeneration(ctx, session, metrics.KindStory,
		func(s *models.WizardState) (*generationPlan, error) {
			if s.Step != models.StepOutline {
				return nil, apperrors.NewValidationError("story generation is only available on the outline step", nil)
			}
			s.Error = ""
			return &generationPlan{
				prompt:       BuildInitialPrompt(s.Config, s.Characters),
				systemPrompt: StorySystemPrompt,
			}, nil
		},
		func(s *models.WizardState, text string) {
			s.Story.Text = text
			s.Step = models.StepResult
		},
	)
}

// Refine 按草稿润色当前正文；草稿为空时不调用生成服务
func (w *WizardService) Refine(ctx context.Context, session *WizardSession) (*models.WizardState, error) {
	return w.runGeneration(ctx, session, metrics.KindRefinement,
		func(s *models.WizardState) (*generationPlan, error) {
			if s.Step != models.StepResult {
				return nil, apperrors.NewValidationError("refinement is only available on the result step", nil)
			}
			if s.Refinement.PromptText == "" {
				return nil, nil
			}
			return &generationPlan{
				prompt:       BuildRefinementPrompt(s.Story.Text, s.Refinement.PromptText),
				systemPrompt: RefinementSystemPrompt,
			}, nil
		},
		func(s *models.WizardState, text string) {
			s.Story.Text = text
			s.Refinement.PromptText = ""
		},
	)
}

// runGeneration 单会话单请求：在锁内检查并设置 Loading，锁外调用生成服务，结果写回后清除 Loading
func (w *WizardService) runGeneration(
	ctx context.Context,
	session *WizardSession,
	kind string,
	plan func(*models.WizardState) (*generationPlan, error),
	apply func(*models.WizardState, string),
) (*models.WizardState, error) {
	session.mu.Lock()
	if session.state.Loading {
		session.mu.Unlock()
		w.metrics.RecordRejected(kind)
		return nil, apperrors.NewConflictError(MsgGenerationInProgress, nil)
	}
	p, err := plan(session.state)
	if err != nil || p == nil {
		snapshot := session.state.Clone()
		session.mu.Unlock()
		return snapshot, err
	}
	publish := w.publisher(session)
	session.state.Loading = true
	session.state.UpdatedAt = time.Now()
	session.unlockAndPublish(session.state.Clone(), publish)

	var (
		text   string
		genErr error
		done   bool
	)
	start := time.Now()
	w.metrics.Begin()

	// 生成服务异常退出时也要清除 Loading
	defer func() {
		if done {
			return
		}
		session.mu.Lock()
		session.state.Loading = false
		session.state.UpdatedAt = time.Now()
		session.unlockAndPublish(session.state.Clone(), publish)
		w.metrics.RecordGeneration(kind, time.Since(start), fmt.Errorf("generation aborted"))
	}()

	text, genErr = w.generator.Generate(ctx, p.prompt, p.systemPrompt)
	done = true
	duration := time.Since(start)
	w.metrics.RecordGeneration(kind, duration, genErr)

	session.mu.Lock()
	session.state.Loading = false
	if genErr != nil {
		session.state.Error = apperrors.UserMessage(genErr)
	} else {
		apply(session.state, text)
	}
	session.state.UpdatedAt = time.Now()
	snapshot := session.state.Clone()
	session.unlockAndPublish(snapshot, publish)

	fields := map[string]interface{}{
		"session_id":  session.ID,
		"kind":        kind,
		"duration_ms": duration.Milliseconds(),
	}
	if genErr != nil {
		fields["error_type"] = string(apperrors.TypeOf(genErr))
		utils.GetLogger().Warn("Generation failed", fields)
		return snapshot, genErr
	}
	fields["length"] = len(text)
	utils.GetLogger().Info("Generation completed", fields)
	return snapshot, nil
}
