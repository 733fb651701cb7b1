package openai

import (
	"context"
	"fmt"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/yungbote/research-agent-backend/internal/observability"
	"github.com/yungbote/research-agent-backend/internal/platform/envutil"
	"github.com/yungbote/research-agent-backend/internal/platform/logger"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Options tune one call. Zero values leave the server default in place.
type Options struct {
	Temperature float64
	MaxTokens   int
}

// Client talks to any OpenAI-compatible chat completions endpoint (LM Studio
// by default).
type Client interface {
	// GenerateText runs one system+user completion and returns the text.
	GenerateText(ctx context.Context, system, user string, opts Options) (string, error)
	// StreamChat streams deltas to onDelta and returns the full text.
	StreamChat(ctx context.Context, messages []Message, opts Options, onDelta func(delta string)) (string, error)
	Model() string
}

type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

func ConfigFromEnv() Config {
	return Config{
		BaseURL:    envutil.String("LLM_BASE_URL", "http://localhost:1234/v1"),
		APIKey:     envutil.String("LLM_API_KEY", "lm-studio"),
		Model:      envutil.String("LLM_MODEL", "local-model"),
		Timeout:    envutil.Duration("LLM_TIMEOUT_SECONDS", 120*time.Second),
		MaxRetries: envutil.Int("LLM_MAX_RETRIES", 2),
	}
}

type client struct {
	log     *logger.Logger
	api     oai.Client
	model   string
	metrics *observability.Metrics
}

func NewClient(log *logger.Logger, cfg Config, metrics *observability.Metrics) (Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("missing LLM_BASE_URL")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("missing LLM_MODEL")
	}
	opts := []option.RequestOption{option.WithBaseURL(cfg.BaseURL)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	} else {
		log.Info("LLM_API_KEY is not set, will try unauthenticated access")
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	if cfg.MaxRetries >= 0 {
		opts = append(opts, option.WithMaxRetries(cfg.MaxRetries))
	}
	c := &client{
		log:     log.With("client", "OpenAIClient"),
		api:     oai.NewClient(opts...),
		model:   cfg.Model,
		metrics: metrics,
	}
	c.log.Info("LLM client initialized", "base_url", cfg.BaseURL, "model", cfg.Model)
	return c, nil
}

func (c *client) Model() string { return c.model }

func (c *client) params(messages []oai.ChatCompletionMessageParamUnion, opts Options) oai.ChatCompletionNewParams {
	p := oai.ChatCompletionNewParams{
		Messages: messages,
		Model:    c.model,
	}
	if opts.Temperature > 0 {
		p.Temperature = oai.Float(opts.Temperature)
	}
	if opts.MaxTokens > 0 {
		p.MaxTokens = oai.Int(int64(opts.MaxTokens))
	}
	return p
}

func (c *client) GenerateText(ctx context.Context, system, user string, opts Options) (string, error) {
	start := time.Now()
	msgs := []oai.ChatCompletionMessageParamUnion{}
	if strings.TrimSpace(system) != "" {
		msgs = append(msgs, oai.SystemMessage(system))
	}
	msgs = append(msgs, oai.UserMessage(user))

	resp, err := c.api.Chat.Completions.New(ctx, c.params(msgs, opts))
	if err != nil {
		c.metrics.ObserveLLMRequest(c.model, "chat.completions", "error", time.Since(start))
		return "", fmt.Errorf("chat completion: %w", err)
	}
	c.metrics.ObserveLLMRequest(c.model, "chat.completions", "ok", time.Since(start))
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("client didn't return any content choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *client) StreamChat(ctx context.Context, messages []Message, opts Options, onDelta func(delta string)) (string, error) {
	start := time.Now()
	msgs := make([]oai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			msgs = append(msgs, oai.SystemMessage(m.Content))
		case RoleAssistant:
			msgs = append(msgs, oai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, oai.UserMessage(m.Content))
		}
	}

	stream := c.api.Chat.Completions.NewStreaming(ctx, c.params(msgs, opts))
	defer stream.Close()

	var sb strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		sb.WriteString(delta)
		if onDelta != nil {
			onDelta(delta)
		}
	}
	if err := stream.Err(); err != nil {
		c.metrics.ObserveLLMRequest(c.model, "chat.completions.stream", "error", time.Since(start))
		return sb.String(), fmt.Errorf("chat completion stream: %w", err)
	}
	c.metrics.ObserveLLMRequest(c.model, "chat.completions.stream", "ok", time.Since(start))
	c.log.Debug("stream complete", "chars", sb.Len())
	return sb.String(), nil
}
