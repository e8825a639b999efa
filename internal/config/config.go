package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/spf13/viper"
)

const (
	defaultPort         = "3000"
	defaultStaticDir    = "public"
	defaultCORSOrigin   = "https://iuliantriboi.carrd.co"
	defaultPollInterval = 1200 * time.Millisecond
	defaultPollTimeout  = 2 * time.Minute

	// assistantsBetaHeader 选择 Assistants API 的版本。
	assistantsBetaHeader = "assistants=v2"
)

var (
	ErrMissingAPIKey      = errors.New("OPENAI_API_KEY is required")
	ErrMissingAssistantID = errors.New("ASSISTANT_ID is required")
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server    ServerConfig
	Assistant AssistantConfig
	Log       LogConfig
}

// Load 从 viper 读取配置，未显式设置的键回退到同名（大写）环境变量。
func Load(v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	v.AutomaticEnv()
	setDefaults(v)

	server, err := loadServerConfig(v)
	if err != nil {
		return nil, err
	}

	assistant, err := loadAssistantConfig(v)
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, Assistant: assistant, Log: loadLogConfig(v)}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", defaultPort)
	v.SetDefault("static_dir", defaultStaticDir)
	v.SetDefault("cors_origin", defaultCORSOrigin)
	v.SetDefault("assistant_poll_interval", defaultPollInterval)
	v.SetDefault("assistant_poll_timeout", defaultPollTimeout)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_pretty", false)
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr       string
	StaticDir  string
	CORSOrigin string
}

// loadServerConfig 解析监听地址、静态资源目录和允许的跨域来源。
func loadServerConfig(v *viper.Viper) (ServerConfig, error) {
	port := getString(v, "port")
	if port == "" {
		port = defaultPort
	}

	var addr string
	switch {
	case strings.Contains(port, " "):
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	case strings.Contains(port, ":"):
		// 允许直接传入 ":3000" 或 "127.0.0.1:3000"。
		addr = port
	default:
		addr = ":" + port
	}

	origin := getString(v, "cors_origin")
	if origin == "" {
		origin = defaultCORSOrigin
	}

	return ServerConfig{
		Addr:       addr,
		StaticDir:  getString(v, "static_dir"),
		CORSOrigin: origin,
	}, nil
}

// AssistantConfig 描述远端助手运行时的凭证与轮询参数。
type AssistantConfig struct {
	APIKey       string
	AssistantID  string
	BaseURL      string
	PollInterval time.Duration
	PollTimeout  time.Duration
}

func loadAssistantConfig(v *viper.Viper) (AssistantConfig, error) {
	cfg := AssistantConfig{
		APIKey:       getString(v, "openai_api_key"),
		AssistantID:  getString(v, "assistant_id"),
		BaseURL:      getString(v, "openai_base_url"),
		PollInterval: v.GetDuration("assistant_poll_interval"),
		PollTimeout:  v.GetDuration("assistant_poll_timeout"),
	}

	if cfg.APIKey == "" {
		return AssistantConfig{}, ErrMissingAPIKey
	}
	if cfg.AssistantID == "" {
		return AssistantConfig{}, ErrMissingAssistantID
	}
	if cfg.PollInterval <= 0 {
		return AssistantConfig{}, fmt.Errorf("invalid ASSISTANT_POLL_INTERVAL value: %s", cfg.PollInterval)
	}
	if cfg.PollTimeout < cfg.PollInterval {
		return AssistantConfig{}, fmt.Errorf("ASSISTANT_POLL_TIMEOUT (%s) must not be shorter than ASSISTANT_POLL_INTERVAL (%s)", cfg.PollTimeout, cfg.PollInterval)
	}

	return cfg, nil
}

// NewClient 使用配置创建 OpenAI 客户端。SDK 自带的重试被关闭，失败直接交给调用方处理。
func (c AssistantConfig) NewClient(extra ...option.RequestOption) openai.Client {
	opts := []option.RequestOption{
		option.WithAPIKey(c.APIKey),
		option.WithHeader("OpenAI-Beta", assistantsBetaHeader),
		option.WithMaxRetries(0),
	}
	if c.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(c.BaseURL))
	}
	opts = append(opts, extra...)

	return openai.NewClient(opts...)
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Level  string
	Pretty bool
}

func loadLogConfig(v *viper.Viper) LogConfig {
	return LogConfig{
		Level:  getString(v, "log_level"),
		Pretty: v.GetBool("log_pretty"),
	}
}

// getString 读取字符串并去掉首尾空白与换行，避免复制粘贴的密钥导致请求头非法。
func getString(v *viper.Viper, key string) string {
	return strings.TrimSpace(v.GetString(key))
}
