package engine

import (
	"context"
	"errors"
	"io"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"

	logx "github.com/ragops-session/server/pkg/logger"
)

// NewCallbacks aggregates the prompt and chat model observers.
func NewCallbacks() einocb.Handler {
	return callbackHelper.NewHandlerHelper().
		ChatModel(newModelHandler()).
		Prompt(newPromptHandler()).
		Handler()
}

func newPromptHandler() *callbackHelper.PromptCallbackHandler {
	return &callbackHelper.PromptCallbackHandler{
		OnEnd: func(ctx context.Context, info *einocb.RunInfo, output *prompt.CallbackOutput) context.Context {
			if output != nil {
				logx.Debug().Str("name", info.Name).Int("messages", len(output.Result)).Msg("prompt rendered")
			}
			return ctx
		},
		OnError: func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			logx.Error().Err(err).Str("name", info.Name).Msg("prompt render failed")
			return ctx
		},
	}
}

func newModelHandler() *callbackHelper.ModelCallbackHandler {
	return &callbackHelper.ModelCallbackHandler{
		OnStart: func(ctx context.Context, info *einocb.RunInfo, input *model.CallbackInput) context.Context {
			if input != nil {
				logx.Debug().
					Str("name", info.Name).
					Int("messages", len(input.Messages)).
					Str("question", lastUserContent(input.Messages)).
					Msg("chat model start")
			}
			return ctx
		},
		OnEnd: func(ctx context.Context, info *einocb.RunInfo, output *model.CallbackOutput) context.Context {
			logUsage(info, output)
			return ctx
		},
		OnEndWithStreamOutput: func(ctx context.Context, info *einocb.RunInfo, output *schema.StreamReader[*model.CallbackOutput]) context.Context {
			go func() {
				defer output.Close()
				var last *model.CallbackOutput
				for {
					chunk, err := output.Recv()
					if errors.Is(err, io.EOF) {
						break
					}
					if err != nil {
						return
					}
					if chunk != nil && chunk.TokenUsage != nil {
						last = chunk
					}
				}
				logUsage(info, last)
			}()
			return ctx
		},
		OnError: func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			logx.Error().Err(err).Str("name", info.Name).Msg("chat model failed")
			return ctx
		},
	}
}

func logUsage(info *einocb.RunInfo, output *model.CallbackOutput) {
	if output == nil || output.TokenUsage == nil {
		return
	}
	var modelName string
	if output.Config != nil {
		modelName = output.Config.Model
	}
	in, out, total := ComputeCost(output.TokenUsage, ResolvePricing(modelName))
	logx.Info().
		Str("name", info.Name).
		Str("model", modelName).
		Int("promptTokens", output.TokenUsage.PromptTokens).
		Int("completionTokens", output.TokenUsage.CompletionTokens).
		Float64("inputCostUSD", in).
		Float64("outputCostUSD", out).
		Float64("totalCostUSD", total).
		Msg("chat model usage")
}

func lastUserContent(msgs []*schema.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if m := msgs[i]; m != nil && m.Role == schema.User {
			return m.Content
		}
	}
	return ""
}
