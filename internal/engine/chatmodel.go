package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	logx "github.com/ragops-session/server/pkg/logger"
)

// ChatModelEngine answers directly from a chat model, without retrieval.
// Responses never carry sources.
type ChatModelEngine struct {
	runner   compose.Runnable[map[string]any, *schema.Message]
	system   string
	handlers einocb.Handler
}

// NewChatModelEngine compiles system prompt + history + question into a
// chain ending in cm.
func NewChatModelEngine(ctx context.Context, cm model.BaseChatModel, systemPrompt string) (*ChatModelEngine, error) {
	tpl := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{question}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(tpl).AppendChatModel(cm)

	runner, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile chat chain: %w", err)
	}
	return &ChatModelEngine{runner: runner, system: systemPrompt, handlers: NewCallbacks()}, nil
}

func (e *ChatModelEngine) vars(req *Request) map[string]any {
	v := map[string]any{
		"system":   e.system,
		"question": req.Question,
	}
	if len(req.SessionHistory) > 0 {
		v["history"] = req.SessionHistory
	}
	return v
}

func (e *ChatModelEngine) Query(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	msg, err := e.runner.Invoke(ctx, e.vars(req), compose.WithCallbacks(e.handlers))
	if err != nil {
		return nil, fmt.Errorf("chat model invoke: %w", err)
	}
	return &Response{
		Answer:    msg.Content,
		Sources:   []Source{},
		QueryTime: time.Since(start).Seconds(),
	}, nil
}

func (e *ChatModelEngine) Stream(ctx context.Context, req *Request) (*schema.StreamReader[string], error) {
	sr, err := e.runner.Stream(ctx, e.vars(req), compose.WithCallbacks(e.handlers))
	if err != nil {
		return nil, fmt.Errorf("chat model stream: %w", err)
	}
	return schema.StreamReaderWithConvert(sr, func(m *schema.Message) (string, error) {
		if m == nil || m.Content == "" {
			return "", schema.ErrNoValue
		}
		return m.Content, nil
	}), nil
}

// NewGeminiChatModel creates the response chat model backed by Gemini.
func NewGeminiChatModel(ctx context.Context, gcfg GeminiConfig, rcfg ResponseModelConfig) (*gemini.ChatModel, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  gcfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if gcfg.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = gcfg.BaseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini client")
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}

	cm, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       rcfg.Model,
		Temperature: &rcfg.Temperature,
		MaxTokens:   &rcfg.MaxTokens,
	})
	if err != nil {
		logx.Error().Err(err).Msg("Error creating response model")
		return nil, fmt.Errorf("error creating response model: %w", err)
	}
	return cm, nil
}

var _ Engine = (*ChatModelEngine)(nil)
