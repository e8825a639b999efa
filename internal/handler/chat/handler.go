package chat

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	chatService "github.com/zhouzirui/assistant-relay/backend/internal/service/chat"
	"github.com/zhouzirui/assistant-relay/backend/pkg/utils"
)

// Handler 聊天服务的HTTP处理器
type Handler struct {
	chatSvc *chatService.Service
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service) *Handler {
	return &Handler{chatSvc: chatSvc}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleChat)
}

// handleChat 转发一次提问，等待助手完成后返回清洗过的回复
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID string `json:"sessionId"`
		Prompt    string `json:"prompt"`
	}

	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.chatSvc.Chat(r.Context(), payload.SessionID, payload.Prompt, nil)
	if err != nil {
		status, message := ErrorStatus(err)
		utils.RespondError(w, status, message)
		return
	}

	utils.RespondJSON(w, http.StatusOK, result)
}

// ErrorStatus 把编排层的错误映射为 HTTP 状态码和对外提示。远端错误的细节不会返回给客户端。
func ErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, chatService.ErrEmptyPrompt):
		return http.StatusBadRequest, "prompt is empty"
	case errors.Is(err, chatService.ErrSessionNotFound):
		return http.StatusNotFound, "session not found"
	case errors.Is(err, chatService.ErrSessionClosed):
		return http.StatusForbidden, "session closed, resume it to ask again"
	case errors.Is(err, chatService.ErrQuotaExhausted):
		return http.StatusForbidden, "quota exhausted"
	case errors.Is(err, chatService.ErrSessionBusy):
		return http.StatusConflict, "a question is already in progress for this session"
	default:
		return http.StatusInternalServerError, "assistant exchange failed"
	}
}
