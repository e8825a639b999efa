package stream

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	chatHandler "github.com/zhouzirui/assistant-relay/backend/internal/handler/chat"
	chatService "github.com/zhouzirui/assistant-relay/backend/internal/service/chat"
)

const (
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	pingInterval = 54 * time.Second

	inboundQueueSize = 8
)

// Handler 通过 WebSocket 或 SSE 提供问答，并在轮询期间推送运行状态。
type Handler struct {
	chatSvc  *chatService.Service
	upgrader websocket.Upgrader
}

// New 创建流式处理器。allowedOrigin 只约束 WebSocket 握手，为空时允许任意来源。
func New(chatSvc *chatService.Service, allowedOrigin string) *Handler {
	return &Handler{
		chatSvc: chatSvc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowedOrigin == "" || origin == allowedOrigin
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册流式问答路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/chat/ws", h.handleWebSocket)
	r.Post("/chat/stream", h.handleSSE)
}

type inboundMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Prompt    string `json:"prompt"`
}

type outgoingMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// ErrorPayload 与 HTTP 接口使用相同的状态码。
type ErrorPayload struct {
	Status int    `json:"status"`
	Error  string `json:"error"`
}

// conn 串行化写操作，gorilla/websocket 不支持并发写。
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) send(msg outgoingMessage) error {
	msg.Timestamp = time.Now().UnixMilli()

	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(msg)
}

func (c *conn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("[websocket] upgrade failed")
		return
	}
	defer ws.Close()

	c := &conn{ws: ws}

	// 升级后 r.Context() 不再感知对端断开，由读循环在读失败时取消。
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan inboundMessage, inboundQueueSize)
	go h.readLoop(ctx, cancel, c, inbound)
	go h.pingLoop(ctx, c)

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-inbound:
			if err := h.handleMessage(ctx, c, &msg); err != nil {
				log.Debug().Err(err).Msg("[websocket] write failed")
				return
			}
		}
	}
}

// readLoop 持续读取客户端帧，交换进行中也能及时处理 pong 和关闭帧。
func (h *Handler) readLoop(ctx context.Context, cancel context.CancelFunc, c *conn, inbound chan<- inboundMessage) {
	defer cancel()

	ws := c.ws
	_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		var msg inboundMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("[websocket] read error")
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(readTimeout))

		select {
		case inbound <- msg:
		case <-ctx.Done():
			return
		default:
			if err := c.send(outgoingMessage{
				Type:      "error",
				SessionID: msg.SessionID,
				Data:      ErrorPayload{Status: http.StatusTooManyRequests, Error: "too many pending messages"},
			}); err != nil {
				return
			}
		}
	}
}

func (h *Handler) handleMessage(ctx context.Context, c *conn, msg *inboundMessage) error {
	switch msg.Type {
	case "ping":
		return c.send(outgoingMessage{Type: "pong", SessionID: msg.SessionID})
	case "chat":
		return h.handleChat(ctx, c, msg)
	default:
		return c.send(outgoingMessage{
			Type: "error",
			Data: ErrorPayload{Status: http.StatusBadRequest, Error: "unsupported message type: " + msg.Type},
		})
	}
}

// handleChat 同步执行一次交换，同一连接上的问答按到达顺序处理。
func (h *Handler) handleChat(ctx context.Context, c *conn, msg *inboundMessage) error {
	observe := func(status string) {
		if err := c.send(outgoingMessage{
			Type:      "status",
			SessionID: msg.SessionID,
			Data:      map[string]string{"status": status},
		}); err != nil {
			log.Debug().Err(err).Msg("[websocket] failed to push run status")
		}
	}

	result, err := h.chatSvc.Chat(ctx, msg.SessionID, msg.Prompt, observe)
	if err != nil {
		status, message := chatHandler.ErrorStatus(err)
		return c.send(outgoingMessage{
			Type:      "error",
			SessionID: msg.SessionID,
			Data:      ErrorPayload{Status: status, Error: message},
		})
	}

	return c.send(outgoingMessage{
		Type:      "reply",
		SessionID: result.SessionID,
		Data:      result,
	})
}

func (h *Handler) pingLoop(ctx context.Context, c *conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		}
	}
}
