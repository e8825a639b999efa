package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/assistant-relay/backend/internal/model/session"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionClosed   = errors.New("session closed")
	ErrQuotaExhausted  = errors.New("quota exhausted")
	ErrSessionBusy     = errors.New("session has an exchange in flight")
)

// Store 是配额状态的唯一来源。默认实现仅保存在进程内存中，
// 如需持久化或多实例共享，可以替换为其他实现而不影响编排逻辑。
type Store interface {
	Create(ctx context.Context, questions, tokenBudget int) (session.Session, error)
	Get(ctx context.Context, id string) (session.Session, error)
	Resume(ctx context.Context, id string) (session.Session, error)
	// Acquire 原子地校验会话可用并标记为进行中，同一会话同一时刻只允许一次交换。
	Acquire(ctx context.Context, id string) (session.Session, error)
	// Consume 扣减配额并关闭会话，同时释放进行中标记。
	Consume(ctx context.Context, id string, tokenCost int) (session.Session, error)
	// Release 在交换失败时释放进行中标记，不改动配额。
	Release(ctx context.Context, id string)
}

type entry struct {
	session  session.Session
	inFlight bool
}

// MemoryStore 基于 map 的进程内实现，条目在进程生命周期内不会被清理。
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*entry
	now      func() time.Time
}

// NewMemoryStore 创建空的内存会话存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*entry),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create 生成新的会话并写入存储。
func (s *MemoryStore) Create(_ context.Context, questions, tokenBudget int) (session.Session, error) {
	now := s.now()
	sess := session.Session{
		CreatedAt:          now,
		LastActivity:       now,
		RemainingQuestions: max(questions, 0),
		RemainingTokens:    max(tokenBudget, 0),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		sess.ID = uuid.NewString()
		if _, exists := s.sessions[sess.ID]; !exists {
			break
		}
	}
	s.sessions[sess.ID] = &entry{session: sess}

	return sess, nil
}

// Get 按标识查找会话。
func (s *MemoryStore) Get(_ context.Context, id string) (session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	if !ok {
		return session.Session{}, ErrSessionNotFound
	}
	return e.session, nil
}

// Resume 重新开放已关闭的会话，前提是配额仍然充足。
func (s *MemoryStore) Resume(_ context.Context, id string) (session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	if !ok {
		return session.Session{}, ErrSessionNotFound
	}

	if !e.session.Closed {
		return e.session, nil
	}
	if !e.session.HasQuota() {
		return e.session, ErrQuotaExhausted
	}

	e.session.Closed = false
	e.session.LastActivity = s.now()
	return e.session, nil
}

// Acquire 校验会话未关闭、配额为正且没有其他交换正在进行。
func (s *MemoryStore) Acquire(_ context.Context, id string) (session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	if !ok {
		return session.Session{}, ErrSessionNotFound
	}

	switch {
	case e.session.Closed:
		return e.session, ErrSessionClosed
	case !e.session.HasQuota():
		return e.session, ErrQuotaExhausted
	case e.inFlight:
		return e.session, ErrSessionBusy
	}

	e.inFlight = true
	return e.session, nil
}

// Consume 扣减一次提问和估算的 token 开销，计数器不会低于零。
func (s *MemoryStore) Consume(_ context.Context, id string, tokenCost int) (session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	if !ok {
		return session.Session{}, ErrSessionNotFound
	}

	e.session.RemainingQuestions = max(e.session.RemainingQuestions-1, 0)
	e.session.RemainingTokens = max(e.session.RemainingTokens-max(tokenCost, 0), 0)
	e.session.Closed = true
	e.session.LastActivity = s.now()
	e.inFlight = false

	return e.session, nil
}

// Release 清除进行中标记。
func (s *MemoryStore) Release(_ context.Context, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.sessions[id]; ok {
		e.inFlight = false
	}
}

// Len 返回当前持有的会话数量。
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
