package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/assistant-relay/backend/internal/metrics"
	"github.com/zhouzirui/assistant-relay/backend/internal/model/chat"
	"github.com/zhouzirui/assistant-relay/backend/internal/model/session"
	"github.com/zhouzirui/assistant-relay/backend/internal/service/assistant"
	"github.com/zhouzirui/assistant-relay/backend/internal/service/quota"
	sessionstore "github.com/zhouzirui/assistant-relay/backend/internal/service/session"
)

// 新会话的初始配额。
const (
	DefaultQuestions   = 10
	DefaultTokenBudget = 30000
)

var (
	ErrEmptyPrompt     = errors.New("prompt is empty")
	ErrSessionNotFound = sessionstore.ErrSessionNotFound
	ErrSessionClosed   = sessionstore.ErrSessionClosed
	ErrQuotaExhausted  = sessionstore.ErrQuotaExhausted
	ErrSessionBusy     = sessionstore.ErrSessionBusy
	ErrExchangeFailed  = errors.New("assistant exchange failed")
)

// Assistant 完成一次远端问答交换。
type Assistant interface {
	Exchange(ctx context.Context, prompt string, observe assistant.StatusFunc) (assistant.Reply, error)
}

// Service 组合会话配额与助手网关。
type Service struct {
	store     sessionstore.Store
	assistant Assistant
	estimator quota.Estimator
	metrics   *metrics.Metrics
}

// Option 调整 Service 的可选依赖。
type Option func(*Service)

// WithEstimator 替换默认的按字符估算器。
func WithEstimator(e quota.Estimator) Option {
	return func(s *Service) {
		if e != nil {
			s.estimator = e
		}
	}
}

// WithMetrics 记录会话和交换指标。
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewService 创建聊天编排服务。
func NewService(store sessionstore.Store, gateway Assistant, opts ...Option) *Service {
	svc := &Service{
		store:     store,
		assistant: gateway,
		estimator: quota.NewCharEstimator(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// StartSession 以默认配额创建新会话。
func (s *Service) StartSession(ctx context.Context) (session.Session, error) {
	sess, err := s.store.Create(ctx, DefaultQuestions, DefaultTokenBudget)
	if err != nil {
		return session.Session{}, fmt.Errorf("create session: %w", err)
	}

	s.metrics.SessionStarted()
	log.Info().Str("session", sess.ID).Msg("session started")
	return sess, nil
}

// ResumeSession 重新开放已关闭但仍有配额的会话。
func (s *Service) ResumeSession(ctx context.Context, sessionID string) (session.Session, error) {
	sess, err := s.store.Resume(ctx, sessionID)
	switch {
	case errors.Is(err, ErrSessionNotFound):
		s.metrics.SessionResumed(metrics.ResultNotFound)
	case errors.Is(err, ErrQuotaExhausted):
		s.metrics.SessionResumed(metrics.ResultExhausted)
	case err != nil:
		s.metrics.SessionResumed(metrics.ResultFailed)
	default:
		s.metrics.SessionResumed(metrics.ResultOK)
	}
	return sess, err
}

// Chat 在校验配额后同步执行一次助手交换。成功后扣减配额并关闭会话；
// 交换失败时配额与关闭状态保持不变。
func (s *Service) Chat(ctx context.Context, sessionID, prompt string, observe assistant.StatusFunc) (chat.Result, error) {
	if strings.TrimSpace(prompt) == "" {
		s.metrics.ChatFinished(metrics.ResultRejected)
		return chat.Result{}, ErrEmptyPrompt
	}

	if _, err := s.store.Acquire(ctx, sessionID); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			s.metrics.ChatFinished(metrics.ResultNotFound)
		} else {
			s.metrics.ChatFinished(metrics.ResultRejected)
		}
		return chat.Result{}, err
	}

	started := time.Now()
	reply, err := s.assistant.Exchange(ctx, prompt, observe)
	if err != nil {
		// 请求可能已被取消，释放标记不能依赖原 ctx。
		s.store.Release(context.WithoutCancel(ctx), sessionID)
		s.metrics.ChatFinished(metrics.ResultFailed)
		log.Error().Err(err).Str("session", sessionID).Msg("assistant exchange failed")
		return chat.Result{}, fmt.Errorf("%w: %w", ErrExchangeFailed, err)
	}
	s.metrics.ExchangeObserved(time.Since(started), reply.Polls)

	cost := s.estimator.Estimate(prompt, reply.Raw)
	sess, err := s.store.Consume(context.WithoutCancel(ctx), sessionID, cost)
	if err != nil {
		s.metrics.ChatFinished(metrics.ResultFailed)
		return chat.Result{}, fmt.Errorf("consume quota: %w", err)
	}

	s.metrics.ChatFinished(metrics.ResultOK)
	log.Info().
		Str("session", sessionID).
		Int("cost", cost).
		Int("remaining_questions", sess.RemainingQuestions).
		Int("remaining_tokens", sess.RemainingTokens).
		Msg("chat exchange completed")

	return chat.Result{
		Reply:              reply.Text,
		RemainingQuestions: sess.RemainingQuestions,
		RemainingTokens:    sess.RemainingTokens,
		SessionID:          sess.ID,
		SessionClosed:      true,
	}, nil
}
