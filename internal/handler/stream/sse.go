package stream

import (
	"net/http"

	"github.com/rs/zerolog/log"

	chatHandler "github.com/zhouzirui/assistant-relay/backend/internal/handler/chat"
	"github.com/zhouzirui/assistant-relay/backend/pkg/utils"
)

// handleSSE 与 POST /chat 语义一致，但在等待期间以 SSE 推送运行状态。
// 连接建立后状态码固定为 200，失败通过 error 事件返回。
func (h *Handler) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	var payload struct {
		SessionID string `json:"sessionId"`
		Prompt    string `json:"prompt"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	observe := func(status string) {
		if err := utils.SendSSEEvent(w, flusher, "status", map[string]string{"status": status}); err != nil {
			log.Debug().Err(err).Str("session", payload.SessionID).Msg("[sse] failed to push run status")
		}
	}

	result, err := h.chatSvc.Chat(r.Context(), payload.SessionID, payload.Prompt, observe)
	if err != nil {
		status, message := chatHandler.ErrorStatus(err)
		_ = utils.SendSSEEvent(w, flusher, "error", ErrorPayload{Status: status, Error: message})
		return
	}

	if err := utils.SendSSEEvent(w, flusher, "reply", result); err != nil {
		log.Warn().Err(err).Str("session", payload.SessionID).Msg("[sse] failed to deliver reply")
	}
}
