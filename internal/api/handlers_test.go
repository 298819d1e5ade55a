package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	apperrors "github.com/Corphon/StoryWizard/internal/errors"
	"github.com/Corphon/StoryWizard/internal/models"
	"github.com/Corphon/StoryWizard/internal/services"
)

// TestSessionFlow 测试从创建到润色的完整流程
func TestSessionFlow(t *testing.T) {
	gen := &stubGenerator{text: "Once upon a time."}
	router := newTestRouter(t, gen, 0)
	h := router.Engine

	id := createSession(t, h)
	base := "/api/sessions/" + id

	steps := []struct {
		name   string
		method string
		path   string
		body   interface{}
	}{
		{"选择类型", http.MethodPut, base + "/genre", map[string]string{"genre": "Sci-Fi"}},
		{"前进到角色", http.MethodPost, base + "/next", nil},
		{"修改角色名", http.MethodPatch, base + "/characters/0", map[string]string{"op": "set_name", "value": "Ada"}},
		{"添加角色", http.MethodPost, base + "/characters", nil},
		{"设置自定义性格", http.MethodPatch, base + "/characters/1", map[string]string{"op": "set_personality", "value": "Custom"}},
		{"填写自定义性格", http.MethodPatch, base + "/characters/1", map[string]string{"op": "set_custom_personality", "value": "Quietly furious"}},
		{"前进到大纲", http.MethodPost, base + "/next", nil},
		{"填写大纲", http.MethodPut, base + "/plot", map[string]string{"plot_outline": "A ship goes missing"}},
	}
	for _, step := range steps {
		rec, envelope := doRequest(t, h, step.method, step.path, step.body)
		if rec.Code >= 300 || !envelope.Success {
			t.Fatalf("%s 失败: %d %s", step.name, rec.Code, rec.Body.String())
		}
	}

	rec, envelope := doRequest(t, h, http.MethodPost, base+"/next", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("生成失败: %d %s", rec.Code, rec.Body.String())
	}
	state := sessionView(t, envelope).State
	if state.Step != models.StepResult || state.Story.Text != "Once upon a time." {
		t.Fatalf("生成后状态不正确: %+v", state)
	}

	prompt := gen.lastPrompt()
	for _, want := range []string{"Genre: Sci-Fi", "Ada", "Quietly furious", `"A ship goes missing"`} {
		if !strings.Contains(prompt, want) {
			t.Errorf("提示词应包含 %q:\n%s", want, prompt)
		}
	}

	gen.text = "Twice upon a time."
	rec, envelope = doRequest(t, h, http.MethodPost, base+"/refine", map[string]string{"prompt": "Make it longer"})
	if rec.Code != http.StatusOK {
		t.Fatalf("润色失败: %d %s", rec.Code, rec.Body.String())
	}
	view := sessionView(t, envelope)
	if !view.Applied || view.State.Story.Text != "Twice upon a time." || view.State.Refinement.PromptText != "" {
		t.Errorf("润色后状态不正确: %+v", view)
	}
	if !strings.Contains(gen.lastPrompt(), "Once upon a time.") {
		t.Errorf("润色提示词应包含原文")
	}

	rec, envelope = doRequest(t, h, http.MethodPost, base+"/restart", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("重新开始失败: %d", rec.Code)
	}
	state = sessionView(t, envelope).State
	if state.Step != models.StepGenre {
		t.Errorf("应回到第一步，实际: %d", state.Step)
	}
	if state.Config.Genre != models.GenreSciFi || len(state.Characters) != 2 {
		t.Errorf("重新开始应保留已填写内容: %+v", state)
	}
}

// TestSessionNotFound 测试不存在的会话
func TestSessionNotFound(t *testing.T) {
	router := newTestRouter(t, &stubGenerator{}, 0)

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/sessions/missing"},
		{http.MethodPost, "/api/sessions/missing/next"},
		{http.MethodPost, "/api/sessions/missing/generate"},
		{http.MethodDelete, "/api/sessions/missing"},
	}
	for _, p := range paths {
		t.Run(p.method+" "+p.path, func(t *testing.T) {
			rec, envelope := doRequest(t, router.Engine, p.method, p.path, nil)
			if rec.Code != http.StatusNotFound {
				t.Fatalf("应返回404，实际: %d", rec.Code)
			}
			if envelope.Success || envelope.Error == nil || envelope.Error.Code != ErrorSessionNotFound {
				t.Errorf("错误代码不正确: %+v", envelope.Error)
			}
		})
	}
}

// TestDeleteSession 测试删除后不可再访问
func TestDeleteSession(t *testing.T) {
	router := newTestRouter(t, &stubGenerator{}, 0)
	id := createSession(t, router.Engine)

	if rec, _ := doRequest(t, router.Engine, http.MethodDelete, "/api/sessions/"+id, nil); rec.Code != http.StatusOK {
		t.Fatalf("删除失败: %d", rec.Code)
	}
	if rec, _ := doRequest(t, router.Engine, http.MethodGet, "/api/sessions/"+id, nil); rec.Code != http.StatusNotFound {
		t.Errorf("删除后应返回404，实际: %d", rec.Code)
	}
}

// TestInvalidInput 测试各类无效输入
func TestInvalidInput(t *testing.T) {
	router := newTestRouter(t, &stubGenerator{}, 0)
	id := createSession(t, router.Engine)
	base := "/api/sessions/" + id

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		code   string
	}{
		{"未知类型", http.MethodPut, base + "/genre", map[string]string{"genre": "Steampunk"}, ErrorValidation},
		{"缺少类型", http.MethodPut, base + "/genre", map[string]string{}, ErrorBadRequest},
		{"非数字索引", http.MethodPatch, base + "/characters/abc", map[string]string{"op": "set_name", "value": "x"}, ErrorCharacterIndex},
		{"未知操作", http.MethodPatch, base + "/characters/0", map[string]string{"op": "set_age", "value": "3"}, ErrorValidation},
		{"未知性别", http.MethodPatch, base + "/characters/0", map[string]string{"op": "set_gender", "value": "Robot"}, ErrorValidation},
		{"非大纲步骤生成", http.MethodPost, base + "/generate", nil, ErrorValidation},
		{"非结果步骤润色", http.MethodPost, base + "/refine", nil, ErrorValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, envelope := doRequest(t, router.Engine, tt.method, tt.path, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("应返回400，实际: %d %s", rec.Code, rec.Body.String())
			}
			if envelope.Error == nil || envelope.Error.Code != tt.code {
				t.Errorf("错误代码应为 %s，实际: %+v", tt.code, envelope.Error)
			}
		})
	}
}

// TestCharacterBounds 测试越界和第一个角色的删除被忽略
func TestCharacterBounds(t *testing.T) {
	router := newTestRouter(t, &stubGenerator{}, 0)
	id := createSession(t, router.Engine)
	base := "/api/sessions/" + id

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
	}{
		{"删除第一个角色", http.MethodDelete, base + "/characters/0", nil},
		{"删除越界角色", http.MethodDelete, base + "/characters/5", nil},
		{"修改越界角色", http.MethodPatch, base + "/characters/7", map[string]string{"op": "set_name", "value": "x"}},
		{"负数索引", http.MethodPatch, base + "/characters/-1", map[string]string{"op": "set_name", "value": "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, envelope := doRequest(t, router.Engine, tt.method, tt.path, tt.body)
			if rec.Code != http.StatusOK {
				t.Fatalf("应返回200，实际: %d", rec.Code)
			}
			view := sessionView(t, envelope)
			if view.Applied {
				t.Errorf("操作不应生效")
			}
			if len(view.State.Characters) != 1 || view.State.Characters[0].Name != "" {
				t.Errorf("角色列表不应变化: %+v", view.State.Characters)
			}
		})
	}
}

// TestGenerateFailureReturnsState 测试生成失败时同时返回错误和状态
func TestGenerateFailureReturnsState(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"服务错误", apperrors.NewServiceError(403, "API key not valid"), http.StatusBadGateway, ErrorService},
		{"网络错误", apperrors.NewNetworkError("connection refused", nil), http.StatusBadGateway, ErrorNetwork},
		{"解析错误", apperrors.NewParseError("invalid response", nil), http.StatusBadGateway, ErrorParse},
		{"缺少密钥", apperrors.NewConfigurationError("API Key not found in environment.", nil), http.StatusServiceUnavailable, ErrorConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(t, &stubGenerator{err: tt.err}, 0)
			id := outlineSession(t, router.Engine)

			rec, envelope := doRequest(t, router.Engine, http.MethodPost, "/api/sessions/"+id+"/generate", nil)
			if rec.Code != tt.status {
				t.Fatalf("状态码应为 %d，实际: %d", tt.status, rec.Code)
			}
			if envelope.Error == nil || envelope.Error.Code != tt.code {
				t.Fatalf("错误代码应为 %s，实际: %+v", tt.code, envelope.Error)
			}

			state := sessionView(t, envelope).State
			if state == nil {
				t.Fatal("失败时应返回状态")
			}
			if state.Step != models.StepOutline || state.Loading {
				t.Errorf("应停留在大纲步骤且不在加载中: %+v", state)
			}
			if state.Error != apperrors.UserMessage(tt.err) {
				t.Errorf("状态中的错误不正确: %q", state.Error)
			}
		})
	}
}

// TestEmptyGatewayReportsConfiguration 测试未配置密钥时由 next 触发的生成
func TestEmptyGatewayReportsConfiguration(t *testing.T) {
	gateway := services.NewEmptyLLMService()
	router := NewRouter(RouterOptions{
		Sessions: services.NewSessionService(time.Hour, time.Hour),
		Wizard:   services.NewWizardService(gateway),
		LLM:      gateway,
	})
	t.Cleanup(router.Close)

	id := outlineSession(t, router.Engine)
	rec, envelope := doRequest(t, router.Engine, http.MethodPost, "/api/sessions/"+id+"/next", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("应返回503，实际: %d", rec.Code)
	}
	if envelope.Error == nil || envelope.Error.Message != "API Key not found in environment." {
		t.Errorf("错误消息不正确: %+v", envelope.Error)
	}
	if state := sessionView(t, envelope).State; state.Error != "API Key not found in environment." {
		t.Errorf("状态中的错误不正确: %q", state.Error)
	}
}

// TestGenerationConflict 测试同一会话的并发生成被拒绝
func TestGenerationConflict(t *testing.T) {
	gen := &stubGenerator{
		text:    "done",
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	router := newTestRouter(t, gen, 0)
	id := outlineSession(t, router.Engine)
	base := "/api/sessions/" + id

	var wg sync.WaitGroup
	wg.Add(1)
	var firstCode int
	go func() {
		defer wg.Done()
		rec, _ := doRequest(t, router.Engine, http.MethodPost, base+"/generate", nil)
		firstCode = rec.Code
	}()
	<-gen.started

	rec, envelope := doRequest(t, router.Engine, http.MethodPost, base+"/generate", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("应返回409，实际: %d", rec.Code)
	}
	if envelope.Error == nil || envelope.Error.Code != ErrorGenerationInProgress {
		t.Errorf("错误代码不正确: %+v", envelope.Error)
	}

	// 生成中导航被忽略
	rec, envelope = doRequest(t, router.Engine, http.MethodPost, base+"/back", nil)
	if rec.Code != http.StatusOK || sessionView(t, envelope).Applied {
		t.Errorf("生成中不应允许后退")
	}

	_, envelope = doRequest(t, router.Engine, http.MethodGet, base, nil)
	if !sessionView(t, envelope).State.Loading {
		t.Errorf("生成中状态应为加载中")
	}

	close(gen.release)
	wg.Wait()

	if firstCode != http.StatusOK {
		t.Errorf("第一次生成应成功，实际: %d", firstCode)
	}
	_, envelope = doRequest(t, router.Engine, http.MethodGet, base, nil)
	state := sessionView(t, envelope).State
	if state.Loading || state.Step != models.StepResult {
		t.Errorf("生成结束后状态不正确: %+v", state)
	}
}

// TestRefineEmptyDraft 测试草稿为空时不调用生成服务
func TestRefineEmptyDraft(t *testing.T) {
	gen := &stubGenerator{text: "story"}
	router := newTestRouter(t, gen, 0)
	id := outlineSession(t, router.Engine)
	base := "/api/sessions/" + id

	if rec, _ := doRequest(t, router.Engine, http.MethodPost, base+"/generate", nil); rec.Code != http.StatusOK {
		t.Fatalf("生成失败: %d", rec.Code)
	}

	rec, envelope := doRequest(t, router.Engine, http.MethodPost, base+"/refine", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("应返回200，实际: %d", rec.Code)
	}
	if sessionView(t, envelope).Applied {
		t.Errorf("空草稿不应生效")
	}
	if gen.callCount() != 1 {
		t.Errorf("不应再次调用生成服务，调用次数: %d", gen.callCount())
	}
}

// TestRefineChunkedBody 测试没有 Content-Length 的请求体也会被读取
func TestRefineChunkedBody(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantApplied bool
		wantCalls   int
		wantText    string
	}{
		{"分块请求体中的prompt", `{"prompt":"make it shorter"}`, true, 2, "refined"},
		{"空请求体", "", false, 1, "story"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &stubGenerator{text: "story"}
			router := newTestRouter(t, gen, 0)
			id := outlineSession(t, router.Engine)
			base := "/api/sessions/" + id

			if rec, _ := doRequest(t, router.Engine, http.MethodPost, base+"/generate", nil); rec.Code != http.StatusOK {
				t.Fatalf("生成失败: %d", rec.Code)
			}
			gen.mu.Lock()
			gen.text = "refined"
			gen.mu.Unlock()

			req := httptest.NewRequest(http.MethodPost, base+"/refine", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			req.ContentLength = -1
			rec := httptest.NewRecorder()
			router.Engine.ServeHTTP(rec, req)
			if rec.Code != http.StatusOK {
				t.Fatalf("应返回200，实际: %d %s", rec.Code, rec.Body.String())
			}

			var envelope testEnvelope
			if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
				t.Fatalf("解码响应失败: %v", err)
			}
			view := sessionView(t, envelope)
			if view.Applied != tt.wantApplied {
				t.Errorf("applied = %v, 期望 %v", view.Applied, tt.wantApplied)
			}
			if gen.callCount() != tt.wantCalls {
				t.Errorf("生成服务调用次数 = %d, 期望 %d", gen.callCount(), tt.wantCalls)
			}
			if view.State.Story.Text != tt.wantText {
				t.Errorf("正文 = %q, 期望 %q", view.State.Story.Text, tt.wantText)
			}
		})
	}
}

// TestStoryEditing 测试结果页的直接编辑
func TestStoryEditing(t *testing.T) {
	router := newTestRouter(t, &stubGenerator{text: "story"}, 0)
	id := createSession(t, router.Engine)
	base := "/api/sessions/" + id

	// 非结果页编辑被忽略
	_, envelope := doRequest(t, router.Engine, http.MethodPut, base+"/story", map[string]string{"text": "x"})
	if sessionView(t, envelope).Applied {
		t.Errorf("非结果页编辑不应生效")
	}

	for i := 0; i < 3; i++ {
		doRequest(t, router.Engine, http.MethodPost, base+"/next", nil)
	}

	_, envelope = doRequest(t, router.Engine, http.MethodPut, base+"/story/editing", map[string]bool{"editing": true})
	if !sessionView(t, envelope).State.Story.IsEditing {
		t.Errorf("应进入编辑模式")
	}

	_, envelope = doRequest(t, router.Engine, http.MethodPut, base+"/story", map[string]string{"text": "edited"})
	if got := sessionView(t, envelope).State.Story.Text; got != "edited" {
		t.Errorf("正文应被替换，实际: %q", got)
	}

	_, envelope = doRequest(t, router.Engine, http.MethodPut, base+"/refinement", map[string]string{"prompt": "darker"})
	if got := sessionView(t, envelope).State.Refinement.PromptText; got != "darker" {
		t.Errorf("草稿不正确: %q", got)
	}
}

// TestDismissError 测试关闭错误提示
func TestDismissError(t *testing.T) {
	router := newTestRouter(t, &stubGenerator{err: apperrors.NewServiceError(500, "")}, 0)
	id := outlineSession(t, router.Engine)
	base := "/api/sessions/" + id

	doRequest(t, router.Engine, http.MethodPost, base+"/generate", nil)

	rec, envelope := doRequest(t, router.Engine, http.MethodDelete, base+"/error", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("应返回200，实际: %d", rec.Code)
	}
	if state := sessionView(t, envelope).State; state.Error != "" {
		t.Errorf("错误应被清除: %q", state.Error)
	}
}

// TestOptions 测试选项接口
func TestOptions(t *testing.T) {
	router := newTestRouter(t, &stubGenerator{}, 0)

	rec, envelope := doRequest(t, router.Engine, http.MethodGet, "/api/options", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("应返回200，实际: %d", rec.Code)
	}

	var options struct {
		Genres        []string `json:"genres"`
		Genders       []string `json:"genders"`
		Personalities []string `json:"personalities"`
		Defaults      struct {
			Genre string `json:"genre"`
		} `json:"defaults"`
	}
	if err := json.Unmarshal(envelope.Data, &options); err != nil {
		t.Fatalf("解码失败: %v", err)
	}
	if len(options.Genres) != len(models.Genres) || len(options.Genders) != len(models.Genders) {
		t.Errorf("选项数量不正确: %+v", options)
	}
	if options.Personalities[len(options.Personalities)-1] != string(models.PersonalityCustom) {
		t.Errorf("Custom 应在最后")
	}
	if options.Defaults.Genre != string(models.DefaultGenre) {
		t.Errorf("默认类型不正确: %s", options.Defaults.Genre)
	}
}

// TestHealthAndNoRoute 测试存活检查和未知路由
func TestHealthAndNoRoute(t *testing.T) {
	router := newTestRouter(t, &stubGenerator{}, 0)

	if rec, _ := doRequest(t, router.Engine, http.MethodGet, "/healthz", nil); rec.Code != http.StatusOK {
		t.Errorf("健康检查应返回200，实际: %d", rec.Code)
	}

	rec, envelope := doRequest(t, router.Engine, http.MethodGet, "/api/nothing", nil)
	if rec.Code != http.StatusNotFound || envelope.Error == nil || envelope.Error.Code != ErrorNotFound {
		t.Errorf("未知路由应返回404: %d %+v", rec.Code, envelope.Error)
	}
}
