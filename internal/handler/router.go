package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/assistant-relay/backend/internal/config"
	"github.com/zhouzirui/assistant-relay/backend/internal/handler/chat"
	"github.com/zhouzirui/assistant-relay/backend/internal/handler/session"
	"github.com/zhouzirui/assistant-relay/backend/internal/handler/stream"
	"github.com/zhouzirui/assistant-relay/backend/internal/metrics"
	middlewarePkg "github.com/zhouzirui/assistant-relay/backend/internal/middleware"
	chatService "github.com/zhouzirui/assistant-relay/backend/internal/service/chat"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(serverCfg config.ServerConfig, chatSvc *chatService.Service, m *metrics.Metrics) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.AccessLog(log.Logger)...)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(serverCfg.CORSOrigin))

	r.Get("/healthz", handleHealth)
	if m != nil {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}

	r.Route("/api", func(api chi.Router) {
		session.New(chatSvc).RegisterRoutes(api)
		chat.New(chatSvc).RegisterRoutes(api)
		stream.New(chatSvc, serverCfg.CORSOrigin).RegisterRoutes(api)
	})

	if serverCfg.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(serverCfg.StaticDir)))
	}

	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
