package services

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	apperrors "github.com/Corphon/StoryWizard/internal/errors"
	"github.com/Corphon/StoryWizard/internal/llm"
	_ "github.com/Corphon/StoryWizard/internal/llm/providers/google"
	"github.com/Corphon/StoryWizard/internal/models"
)

// outlineSession 创建一个已经位于大纲步骤的会话
func outlineSession(t *testing.T, w *WizardService) *WizardSession {
	t.Helper()
	session := NewWizardSession("test-session")
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := w.Next(ctx, session); err != nil {
			t.Fatalf("前进失败: %v", err)
		}
	}
	if session.Snapshot().Step != models.StepOutline {
		t.Fatalf("应位于大纲步骤")
	}
	return session
}

// resultSession 创建一个已经生成过故事的会话
func resultSession(t *testing.T, w *WizardService, gen *fakeGenerator) *WizardSession {
	t.Helper()
	session := outlineSession(t, w)
	gen.text = "Original story"
	if _, err := w.Generate(context.Background(), session); err != nil {
		t.Fatalf("生成失败: %v", err)
	}
	return session
}

// googleGenerator 创建指向测试服务器的真实网关
func googleGenerator(t *testing.T, handler http.HandlerFunc) *LLMService {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	provider, err := llm.GetProvider("google", map[string]string{
		"api_key":  "test-key",
		"base_url": server.URL,
	})
	if err != nil {
		t.Fatalf("创建提供者失败: %v", err)
	}
	return NewLLMServiceWithProvider("google", provider)
}

// TestGenerateSuccess 测试生成成功进入结果页
func TestGenerateSuccess(t *testing.T) {
	gateway := googleGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"The dragon woke."}]}}]}`)
	})
	w := NewWizardService(gateway)
	session := outlineSession(t, w)

	state, err := w.Generate(context.Background(), session)
	if err != nil {
		t.Fatalf("生成失败: %v", err)
	}
	if state.Step != models.StepResult {
		t.Errorf("应进入结果页，实际: %d", state.Step)
	}
	if state.Story.Text != "The dragon woke." {
		t.Errorf("正文不正确: %q", state.Story.Text)
	}
	if state.Loading || state.Error != "" {
		t.Errorf("不应有加载或错误: %+v", state)
	}
}

// TestGenerateServiceError 测试服务错误停留在大纲步骤
func TestGenerateServiceError(t *testing.T) {
	gateway := googleGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, `{"error":{"message":"invalid key"}}`)
	})
	w := NewWizardService(gateway)
	session := outlineSession(t, w)

	state, err := w.Generate(context.Background(), session)
	if !apperrors.IsServiceError(err) {
		t.Fatalf("期望服务错误，实际: %v", err)
	}
	if state.Step != models.StepOutline {
		t.Errorf("失败后应停留在第三步，实际: %d", state.Step)
	}
	if state.Error != "invalid key" {
		t.Errorf("错误信息不正确: %q", state.Error)
	}
	if state.Loading || session.Snapshot().Loading {
		t.Error("失败后应清除加载状态")
	}
}

// TestGenerateWithoutProvider 测试未配置提供者
func TestGenerateWithoutProvider(t *testing.T) {
	w := NewWizardService(NewEmptyLLMService())
	session := outlineSession(t, w)

	state, err := w.Generate(context.Background(), session)
	if !apperrors.IsConfigurationError(err) {
		t.Fatalf("期望配置错误，实际: %v", err)
	}
	if state.Step != models.StepOutline || state.Error == "" {
		t.Errorf("状态不正确: %+v", state)
	}
}

// TestGenerateClearsPreviousError 测试生成前清除旧错误
func TestGenerateClearsPreviousError(t *testing.T) {
	gen := &fakeGenerator{text: "story", started: make(chan struct{}, 1), block: make(chan struct{})}
	w := NewWizardService(gen)
	session := outlineSession(t, w)
	session.update(func(s *models.WizardState) bool {
		s.Error = "old error"
		return true
	}, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Generate(context.Background(), session)
	}()

	<-gen.started
	if got := session.Snapshot(); got.Error != "" || !got.Loading {
		t.Errorf("生成中应已清除错误并处于加载状态: %+v", got)
	}
	close(gen.block)
	<-done
}

// TestGenerateOnlyFromOutline 测试非大纲步骤不能生成
func TestGenerateOnlyFromOutline(t *testing.T) {
	gen := &fakeGenerator{text: "story"}
	w := NewWizardService(gen)
	session := NewWizardSession("s")

	_, err := w.Generate(context.Background(), session)
	if !apperrors.IsValidationError(err) {
		t.Fatalf("期望验证错误，实际: %v", err)
	}
	if gen.callCount() != 0 {
		t.Error("不应调用生成服务")
	}
}

// TestConcurrentGenerationRejected 测试同一会话只允许一个生成请求
func TestConcurrentGenerationRejected(t *testing.T) {
	gen := &fakeGenerator{text: "story", started: make(chan struct{}, 1), block: make(chan struct{})}
	w := NewWizardService(gen)
	session := outlineSession(t, w)

	var wg sync.WaitGroup
	wg.Add(1)
	var firstErr error
	go func() {
		defer wg.Done()
		_, firstErr = w.Generate(context.Background(), session)
	}()
	<-gen.started

	for i := 0; i < 3; i++ {
		if _, err := w.Generate(context.Background(), session); !apperrors.IsConflictError(err) {
			t.Errorf("第 %d 次并发请求应被拒绝，实际: %v", i, err)
		}
	}
	if _, err := w.Next(context.Background(), session); !apperrors.IsConflictError(err) {
		t.Errorf("大纲步骤的下一步在生成中也应被拒绝，实际: %v", err)
	}

	close(gen.block)
	wg.Wait()

	if firstErr != nil {
		t.Fatalf("第一个请求应成功: %v", firstErr)
	}
	if gen.callCount() != 1 {
		t.Errorf("生成服务只应被调用一次，实际: %d", gen.callCount())
	}
	if m := w.Metrics().GetMetrics(); m["rejected_requests"].(int64) != 4 {
		t.Errorf("拒绝次数不正确: %v", m["rejected_requests"])
	}
}

// TestSessionsGenerateIndependently 测试不同会话可以同时生成
func TestSessionsGenerateIndependently(t *testing.T) {
	gen := &fakeGenerator{text: "story", started: make(chan struct{}, 2), block: make(chan struct{})}
	w := NewWizardService(gen)
	a := outlineSession(t, w)
	b := outlineSession(t, w)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, s := range []*WizardSession{a, b} {
		wg.Add(1)
		go func(i int, s *WizardSession) {
			defer wg.Done()
			_, errs[i] = w.Generate(context.Background(), s)
		}(i, s)
	}
	<-gen.started
	<-gen.started
	close(gen.block)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("会话 %d 生成失败: %v", i, err)
		}
	}
}

// TestGeneratePromptFromState 测试提示词来自会话状态
func TestGeneratePromptFromState(t *testing.T) {
	gen := &fakeGenerator{text: "story"}
	w := NewWizardService(gen)
	session := NewWizardSession("s")

	if _, err := w.SetGenre(session, models.GenreMystery); err != nil {
		t.Fatal(err)
	}
	w.UpdateCharacter(session, 0, models.SetName{Value: "Holmes"})
	w.Next(context.Background(), session)
	w.Next(context.Background(), session)
	w.SetPlotOutline(session, "A missing violin")

	state, err := w.Next(context.Background(), session)
	if err != nil {
		t.Fatalf("大纲步骤的下一步应触发生成: %v", err)
	}
	if state.Step != models.StepResult {
		t.Errorf("应进入结果页: %d", state.Step)
	}

	call := gen.lastCall()
	if call.systemPrompt != StorySystemPrompt {
		t.Errorf("系统提示不正确: %q", call.systemPrompt)
	}
	for _, want := range []string{"Genre: Mystery", "- Name: Holmes, Gender: Male, Personality: Brave", `"A missing violin"`} {
		if !strings.Contains(call.prompt, want) {
			t.Errorf("提示词缺少 %q", want)
		}
	}
}

// TestSetGenreRejectsUnknown 测试未知类型
func TestSetGenreRejectsUnknown(t *testing.T) {
	w := NewWizardService(&fakeGenerator{})
	session := NewWizardSession("s")

	if _, err := w.SetGenre(session, "Noir"); !apperrors.IsValidationError(err) {
		t.Errorf("期望验证错误，实际: %v", err)
	}
	if session.Snapshot().Config.Genre != models.GenreFantasy {
		t.Error("类型不应改变")
	}
}

// TestRefineEmptyDraft 测试空草稿不调用生成服务
func TestRefineEmptyDraft(t *testing.T) {
	gen := &fakeGenerator{}
	w := NewWizardService(gen)
	session := resultSession(t, w, gen)
	calls := gen.callCount()

	state, err := w.Refine(context.Background(), session)
	if err != nil {
		t.Fatalf("空草稿不应返回错误: %v", err)
	}
	if gen.callCount() != calls {
		t.Error("空草稿不应调用生成服务")
	}
	if state.Story.Text != "Original story" || state.Loading {
		t.Errorf("状态不应改变: %+v", state)
	}
}

// TestRefineSuccess 测试润色成功替换正文并清空草稿
func TestRefineSuccess(t *testing.T) {
	gen := &fakeGenerator{}
	w := NewWizardService(gen)
	session := resultSession(t, w, gen)

	w.SetRefinementDraft(session, "Make it funnier")
	gen.text = "Funny story"

	state, err := w.Refine(context.Background(), session)
	if err != nil {
		t.Fatalf("润色失败: %v", err)
	}
	if state.Story.Text != "Funny story" || state.Refinement.PromptText != "" {
		t.Errorf("润色结果不正确: %+v", state)
	}

	call := gen.lastCall()
	if call.systemPrompt != RefinementSystemPrompt {
		t.Errorf("系统提示不正确: %q", call.systemPrompt)
	}
	if !strings.Contains(call.prompt, "Original story") || !strings.Contains(call.prompt, `"Make it funnier"`) {
		t.Errorf("润色提示词不正确:\n%s", call.prompt)
	}
}

// TestRefineFailureKeepsText 测试润色失败保留正文和草稿
func TestRefineFailureKeepsText(t *testing.T) {
	gen := &fakeGenerator{}
	w := NewWizardService(gen)
	session := resultSession(t, w, gen)

	w.SetRefinementDraft(session, "Make it darker")
	gen.err = apperrors.NewNetworkError("network error while contacting generation service", nil)

	state, err := w.Refine(context.Background(), session)
	if !apperrors.IsNetworkError(err) {
		t.Fatalf("期望网络错误，实际: %v", err)
	}
	if state.Story.Text != "Original story" || state.Refinement.PromptText != "Make it darker" {
		t.Errorf("失败后应保留正文和草稿: %+v", state)
	}
	if state.Step != models.StepResult || state.Loading || state.Error == "" {
		t.Errorf("状态不正确: %+v", state)
	}
}

// TestRefineKeepsPreviousError 测试润色不会预先清除旧错误
func TestRefineKeepsPreviousError(t *testing.T) {
	gen := &fakeGenerator{}
	w := NewWizardService(gen)
	session := resultSession(t, w, gen)

	session.update(func(s *models.WizardState) bool {
		s.Error = "old error"
		s.Refinement.PromptText = "shorter"
		return true
	}, nil)
	gen.text = "short story"

	state, err := w.Refine(context.Background(), session)
	if err != nil {
		t.Fatal(err)
	}
	if state.Error != "old error" {
		t.Errorf("旧错误应保留: %q", state.Error)
	}
}

// TestRefineOnlyOnResult 测试非结果页不能润色
func TestRefineOnlyOnResult(t *testing.T) {
	gen := &fakeGenerator{}
	w := NewWizardService(gen)
	session := NewWizardSession("s")

	if _, err := w.Refine(context.Background(), session); !apperrors.IsValidationError(err) {
		t.Errorf("期望验证错误，实际: %v", err)
	}
}

// TestRestartKeepsContent 测试重新开始
func TestRestartKeepsContent(t *testing.T) {
	gen := &fakeGenerator{}
	w := NewWizardService(gen)
	session := resultSession(t, w, gen)

	state, applied := w.Restart(session)
	if !applied || state.Step != models.StepGenre {
		t.Fatalf("应回到第一步: %+v", state)
	}
	if state.Story.Text != "Original story" {
		t.Error("正文应保留")
	}
}

// TestListenerReceivesSnapshots 测试状态推送
func TestListenerReceivesSnapshots(t *testing.T) {
	gen := &fakeGenerator{text: "story"}
	w := NewWizardService(gen)

	var mu sync.Mutex
	var received []*models.WizardState
	w.Subscribe(func(sessionID string, state *models.WizardState) {
		mu.Lock()
		defer mu.Unlock()
		if sessionID != "test-session" {
			t.Errorf("会话ID不正确: %s", sessionID)
		}
		received = append(received, state)
	})

	session := outlineSession(t, w)
	w.Generate(context.Background(), session)

	mu.Lock()
	defer mu.Unlock()
	// 两次前进 + 加载中 + 完成
	if len(received) != 4 {
		t.Fatalf("推送次数不正确: %d", len(received))
	}
	if !received[2].Loading {
		t.Error("生成开始时应推送加载状态")
	}
	if received[3].Loading || received[3].Step != models.StepResult {
		t.Errorf("完成后状态不正确: %+v", received[3])
	}
}

// TestNoOpNotNotified 测试无变化时不推送
func TestNoOpNotNotified(t *testing.T) {
	w := NewWizardService(&fakeGenerator{})
	count := 0
	w.Subscribe(func(string, *models.WizardState) { count++ })

	session := NewWizardSession("s")
	if _, applied := w.RemoveCharacter(session, 0); applied {
		t.Error("第一个角色不可删除")
	}
	if _, applied := w.Back(session); applied {
		t.Error("第一步不能后退")
	}
	if _, applied := w.UpdateCharacter(session, 3, models.SetName{Value: "x"}); applied {
		t.Error("越界修改应被忽略")
	}
	if count != 0 {
		t.Errorf("无变化时不应推送，实际: %d", count)
	}
}

// TestNotificationsFollowMutationOrder 测试并发修改同一会话时推送顺序与修改顺序一致
func TestNotificationsFollowMutationOrder(t *testing.T) {
	w := NewWizardService(&fakeGenerator{})

	var mu sync.Mutex
	var counts []int
	w.Subscribe(func(_ string, state *models.WizardState) {
		mu.Lock()
		defer mu.Unlock()
		counts = append(counts, len(state.Characters))
	})

	session := NewWizardSession("ordered")
	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.AddCharacter(session)
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(counts) != workers {
		t.Fatalf("推送次数不正确: %d", len(counts))
	}
	for i, count := range counts {
		if count != i+2 {
			t.Fatalf("第 %d 次推送的角色数为 %d，期望 %d", i, count, i+2)
		}
	}
	if last := counts[len(counts)-1]; last != len(session.Snapshot().Characters) {
		t.Errorf("最后一次推送应是最新状态: %d", last)
	}
}
