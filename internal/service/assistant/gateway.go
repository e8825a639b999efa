package assistant

import (
	"context"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/assistant-relay/backend/internal/config"
)

// EmptyReplyPlaceholder 在会话中找不到助手消息时代替回复内容。
const EmptyReplyPlaceholder = "[empty message]"

var (
	ErrThreadUnavailable = errors.New("assistant thread unavailable")
	ErrRunUnavailable    = errors.New("assistant run unavailable")
	ErrRunFailed         = errors.New("assistant run failed")
	ErrRunTimeout        = errors.New("assistant run timed out")
)

// StatusFunc 接收轮询过程中观察到的运行状态，可以为 nil。
type StatusFunc func(status string)

// Reply 是一次完整交换的结果。
type Reply struct {
	Text     string
	Raw      string
	ThreadID string
	RunID    string
	Polls    int
}

// Gateway 按 thread -> message -> run -> poll -> messages 的顺序与远端助手完成一次问答。
type Gateway struct {
	client       openai.Client
	assistantID  string
	pollInterval time.Duration
	pollTimeout  time.Duration
}

// NewGateway 根据配置创建网关，opts 追加到 SDK 客户端选项之后。
func NewGateway(cfg config.AssistantConfig, opts ...option.RequestOption) (*Gateway, error) {
	if cfg.APIKey == "" || cfg.AssistantID == "" {
		return nil, errors.New("assistant credentials are not configured")
	}
	if cfg.PollInterval <= 0 || cfg.PollTimeout <= 0 {
		return nil, errors.New("assistant poll interval and timeout must be positive")
	}

	return &Gateway{
		client:       cfg.NewClient(opts...),
		assistantID:  cfg.AssistantID,
		pollInterval: cfg.PollInterval,
		pollTimeout:  cfg.PollTimeout,
	}, nil
}

// Exchange 发送 prompt 并等待助手回复。任何一步失败都会终止整个交换，不做重试。
func (g *Gateway) Exchange(ctx context.Context, prompt string, observe StatusFunc) (Reply, error) {
	thread, err := g.client.Beta.Threads.New(ctx, openai.BetaThreadNewParams{})
	if err != nil {
		return Reply{}, errors.Wrap(err, "create thread")
	}
	if thread == nil || thread.ID == "" {
		return Reply{}, ErrThreadUnavailable
	}

	_, err = g.client.Beta.Threads.Messages.New(ctx, thread.ID, openai.BetaThreadMessageNewParams{
		Role: openai.BetaThreadMessageNewParamsRoleUser,
		Content: openai.BetaThreadMessageNewParamsContentUnion{
			OfString: openai.String(prompt),
		},
	})
	if err != nil {
		return Reply{}, errors.Wrapf(err, "post message to thread %s", thread.ID)
	}

	run, err := g.client.Beta.Threads.Runs.New(ctx, thread.ID, openai.BetaThreadRunNewParams{
		AssistantID: g.assistantID,
	})
	if err != nil {
		return Reply{}, errors.Wrapf(err, "start run on thread %s", thread.ID)
	}
	if run == nil || run.ID == "" {
		return Reply{}, errors.Wrapf(ErrRunUnavailable, "thread %s", thread.ID)
	}

	polls, err := g.waitForRun(ctx, thread.ID, run, observe)
	if err != nil {
		return Reply{}, err
	}

	raw, err := g.latestAssistantText(ctx, thread.ID)
	if err != nil {
		return Reply{}, err
	}

	log.Debug().
		Str("thread", thread.ID).
		Str("run", run.ID).
		Int("polls", polls).
		Int("reply_len", len(raw)).
		Msg("assistant run completed")

	return Reply{
		Text:     Sanitize(raw),
		Raw:      raw,
		ThreadID: thread.ID,
		RunID:    run.ID,
		Polls:    polls,
	}, nil
}

// waitForRun 以固定间隔轮询运行状态，直到 completed / failed 或超过 pollTimeout。
// 其余状态一律视为仍在处理中。
func (g *Gateway) waitForRun(ctx context.Context, threadID string, run *openai.Run, observe StatusFunc) (int, error) {
	deadline := time.NewTimer(g.pollTimeout)
	defer deadline.Stop()

	status := run.Status
	polls := 0
	for {
		if observe != nil {
			observe(string(status))
		}

		switch status {
		case openai.RunStatusCompleted:
			return polls, nil
		case openai.RunStatusFailed:
			return polls, errors.Wrapf(ErrRunFailed, "run %s", run.ID)
		}

		select {
		case <-ctx.Done():
			return polls, errors.Wrapf(ctx.Err(), "poll run %s", run.ID)
		case <-deadline.C:
			return polls, errors.Wrapf(ErrRunTimeout, "run %s still %q after %s", run.ID, status, g.pollTimeout)
		case <-time.After(g.pollInterval):
		}

		current, err := g.client.Beta.Threads.Runs.Get(ctx, threadID, run.ID)
		if err != nil {
			return polls, errors.Wrapf(err, "retrieve run %s", run.ID)
		}
		polls++
		status = current.Status
	}
}

// latestAssistantText 返回最新一条助手消息的第一段文本。列表默认按创建时间倒序返回。
func (g *Gateway) latestAssistantText(ctx context.Context, threadID string) (string, error) {
	page, err := g.client.Beta.Threads.Messages.List(ctx, threadID, openai.BetaThreadMessageListParams{})
	if err != nil {
		return "", errors.Wrapf(err, "list messages of thread %s", threadID)
	}

	for _, msg := range page.Data {
		if msg.Role != openai.MessageRoleAssistant {
			continue
		}
		for _, part := range msg.Content {
			if part.Type == "text" && part.Text.Value != "" {
				return part.Text.Value, nil
			}
		}
		return EmptyReplyPlaceholder, nil
	}

	return EmptyReplyPlaceholder, nil
}
