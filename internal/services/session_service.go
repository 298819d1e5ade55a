// internal/services/session_service.go
package services

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	apperrors "github.com/Corphon/StoryWizard/internal/errors"
	"github.com/Corphon/StoryWizard/internal/metrics"
	"github.com/Corphon/StoryWizard/internal/models"
	"github.com/Corphon/StoryWizard/internal/utils"
)

// WizardSession 一个浏览器标签页对应的向导会话
type WizardSession struct {
	ID        string
	CreatedAt time.Time

	mu       sync.Mutex
	notifyMu sync.Mutex // 保证推送顺序与修改顺序一致
	state    *models.WizardState
}

// NewWizardSession 创建带初始状态的会话
func NewWizardSession(id string) *WizardSession {
	return &WizardSession{
		ID:        id,
		CreatedAt: time.Now(),
		state:     models.NewWizardState(),
	}
}

// Snapshot 返回当前状态的副本
func (s *WizardSession) Snapshot() *models.WizardState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// update 在锁内修改状态并返回修改后的快照；有变化时按修改顺序调用 publish
func (s *WizardSession) update(fn func(*models.WizardState) bool, publish func(*models.WizardState)) (*models.WizardState, bool) {
	s.mu.Lock()
	applied := fn(s.state)
	snapshot := s.state.Clone()
	if !applied || publish == nil {
		s.mu.Unlock()
		return snapshot, applied
	}
	s.unlockAndPublish(snapshot, publish)
	return snapshot, applied
}

// unlockAndPublish 调用时必须持有 mu；先取得推送锁再释放 mu
func (s *WizardSession) unlockAndPublish(snapshot *models.WizardState, publish func(*models.WizardState)) {
	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()
	publish(snapshot)
}

// SessionService 内存中的会话注册表，空闲超时后自动过期
type SessionService struct {
	cache *cache.Cache
	ttl   time.Duration

	hooksMu   sync.RWMutex
	onRemoved []func(id string)
}

// NewSessionService 创建会话注册表
func NewSessionService(ttl, cleanupInterval time.Duration) *SessionService {
	s := &SessionService{
		cache: cache.New(ttl, cleanupInterval),
		ttl:   ttl,
	}
	s.cache.OnEvicted(s.evicted)
	return s
}

func (s *SessionService) evicted(id string, _ interface{}) {
	metrics.ActiveSessions.Set(float64(s.cache.ItemCount()))
	utils.GetLogger().Debug("Session removed", map[string]interface{}{"session_id": id})

	s.hooksMu.RLock()
	hooks := append([]func(string){}, s.onRemoved...)
	s.hooksMu.RUnlock()

	for _, hook := range hooks {
		hook(id)
	}
}

// OnRemoved 注册会话删除或过期时的回调
func (s *SessionService) OnRemoved(hook func(id string)) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.onRemoved = append(s.onRemoved, hook)
}

// Create 创建新会话
func (s *SessionService) Create() *WizardSession {
	session := NewWizardSession(uuid.NewString())
	s.cache.Set(session.ID, session, cache.DefaultExpiration)
	metrics.ActiveSessions.Set(float64(s.cache.ItemCount()))

	utils.GetLogger().Info("Session created", map[string]interface{}{"session_id": session.ID})
	return session
}

// Get 获取会话并刷新过期时间
func (s *SessionService) Get(id string) (*WizardSession, error) {
	value, found := s.cache.Get(id)
	if !found {
		return nil, apperrors.NewNotFoundError("session not found", nil)
	}
	session := value.(*WizardSession)

	// Replace 不会复活已删除的会话
	_ = s.cache.Replace(id, session, cache.DefaultExpiration)
	return session, nil
}

// Delete 删除会话
func (s *SessionService) Delete(id string) error {
	if _, found := s.cache.Get(id); !found {
		return apperrors.NewNotFoundError("session not found", nil)
	}
	s.cache.Delete(id)
	return nil
}

// Count 返回当前会话数量
func (s *SessionService) Count() int {
	return s.cache.ItemCount()
}

// TTL 返回会话空闲超时
func (s *SessionService) TTL() time.Duration {
	return s.ttl
}

// DeleteExpired 立即清理过期会话
func (s *SessionService) DeleteExpired() {
	s.cache.DeleteExpired()
}
