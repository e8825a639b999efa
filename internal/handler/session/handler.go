package session

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	chatService "github.com/zhouzirui/assistant-relay/backend/internal/service/chat"
	"github.com/zhouzirui/assistant-relay/backend/pkg/utils"
)

// Handler 会话配额的HTTP处理器
type Handler struct {
	chatSvc *chatService.Service
}

// New 创建会话处理器
func New(chatSvc *chatService.Service) *Handler {
	return &Handler{chatSvc: chatSvc}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/session/start", h.handleStart)
	r.Post("/session/resume", h.handleResume)
}

type quotaResponse struct {
	SessionID          string `json:"sessionId,omitempty"`
	OK                 bool   `json:"ok,omitempty"`
	RemainingQuestions int    `json:"remainingQuestions"`
	RemainingTokens    int    `json:"remainingTokens"`
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	sess, err := h.chatSvc.StartSession(r.Context())
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to start session")
		return
	}

	utils.RespondJSON(w, http.StatusOK, quotaResponse{
		SessionID:          sess.ID,
		RemainingQuestions: sess.RemainingQuestions,
		RemainingTokens:    sess.RemainingTokens,
	})
}

func (h *Handler) handleResume(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID string `json:"sessionId"`
	}

	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, err := h.chatSvc.ResumeSession(r.Context(), payload.SessionID)
	switch {
	case errors.Is(err, chatService.ErrSessionNotFound):
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	case errors.Is(err, chatService.ErrQuotaExhausted):
		utils.RespondError(w, http.StatusForbidden, "quota exhausted")
		return
	case err != nil:
		utils.RespondError(w, http.StatusInternalServerError, "failed to resume session")
		return
	}

	utils.RespondJSON(w, http.StatusOK, quotaResponse{
		OK:                 true,
		RemainingQuestions: sess.RemainingQuestions,
		RemainingTokens:    sess.RemainingTokens,
	})
}
