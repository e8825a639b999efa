package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zhouzirui/assistant-relay/backend/internal/config"
	"github.com/zhouzirui/assistant-relay/backend/internal/handler"
	"github.com/zhouzirui/assistant-relay/backend/internal/logger"
	"github.com/zhouzirui/assistant-relay/backend/internal/metrics"
	"github.com/zhouzirui/assistant-relay/backend/internal/service/assistant"
	"github.com/zhouzirui/assistant-relay/backend/internal/service/chat"
	"github.com/zhouzirui/assistant-relay/backend/internal/service/session"
)

func main() {
	if err := newRootCmd(viper.New()).Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd 创建根命令，命令行参数绑定到 v，优先级高于环境变量。
func newRootCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "assistant-relay",
		Short:         "Relay between a static front-end and a hosted assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, v)
		},
	}

	flags := cmd.Flags()
	flags.String("port", "", "listen port or host:port (env PORT)")
	flags.String("static-dir", "", "directory served at / (env STATIC_DIR)")
	flags.String("cors-origin", "", "allowed browser origin (env CORS_ORIGIN)")
	flags.String("log-level", "", "debug, info, warn or error (env LOG_LEVEL)")
	flags.Bool("log-pretty", false, "human readable console logs (env LOG_PRETTY)")

	_ = v.BindPFlag("port", flags.Lookup("port"))
	_ = v.BindPFlag("static_dir", flags.Lookup("static-dir"))
	_ = v.BindPFlag("cors_origin", flags.Lookup("cors-origin"))
	_ = v.BindPFlag("log_level", flags.Lookup("log-level"))
	_ = v.BindPFlag("log_pretty", flags.Lookup("log-pretty"))

	return cmd
}

func run(ctx context.Context, v *viper.Viper) error {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("failed to load .env file, continuing with system environment variables only")
	}

	cfg, err := config.Load(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to load configuration")
		return err
	}

	logger.New(logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})

	store := session.NewMemoryStore()
	m := metrics.NewMetrics()
	m.RegisterSessionGauge(store.Len)

	gateway, err := assistant.NewGateway(cfg.Assistant)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize assistant gateway")
		return err
	}
	log.Info().
		Str("assistant", cfg.Assistant.AssistantID).
		Dur("poll_interval", cfg.Assistant.PollInterval).
		Dur("poll_timeout", cfg.Assistant.PollTimeout).
		Msg("assistant gateway initialized")

	chatSvc := chat.NewService(store, gateway, chat.WithMetrics(m))
	router := handler.NewRouter(cfg.Server, chatSvc, m)

	return startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) error {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info().Str("addr", addr).Str("static_dir", serverCfg.StaticDir).Msg("assistant relay listening")
	if err := runServer(ctx, srv); err != nil {
		log.Error().Err(err).Msg("server error")
		return err
	}
	log.Info().Msg("server stopped")
	return nil
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
