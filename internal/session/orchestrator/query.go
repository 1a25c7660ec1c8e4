// Package orchestrator runs one question/answer exchange against the answer
// engine and reconciles the result with the stored conversation.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	errx "github.com/ragops-session/server/internal/core/error"
	"github.com/ragops-session/server/internal/engine"
	"github.com/ragops-session/server/internal/metrics"
	"github.com/ragops-session/server/internal/session/model"
	"github.com/ragops-session/server/internal/session/window"
	logx "github.com/ragops-session/server/pkg/logger"
)

// QueryRequest is shared by the synchronous and streaming exchanges. An empty
// ConversationID starts a new conversation.
type QueryRequest struct {
	Question            string   `json:"question"`
	ConversationID      string   `json:"conversationId,omitempty"`
	OwnerID             string   `json:"ownerId,omitempty"`
	TopK                *int     `json:"topK,omitempty"`
	SimilarityThreshold *float64 `json:"similarityThreshold,omitempty"`
}

type QueryResult struct {
	ConversationID string          `json:"conversationId"`
	Answer         string          `json:"answer"`
	Sources        []engine.Source `json:"sources"`
	QueryTime      float64         `json:"queryTime"`
}

// assistantMetadata is stored on assistant turns produced by a query.
type assistantMetadata struct {
	Sources   []engine.Source `json:"sources"`
	QueryTime float64         `json:"queryTime"`
}

type Orchestrator struct {
	store   model.ConversationStore
	policy  window.Policy
	engine  engine.Engine
	metrics *metrics.Metrics
}

// New expects eng to be bounded, normally by engine.Guard.
func New(store model.ConversationStore, policy window.Policy, eng engine.Engine, m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{store: store, policy: policy, engine: eng, metrics: m}
}

func validate(req *QueryRequest) error {
	if strings.TrimSpace(req.Question) == "" {
		return errx.Validation("question must not be empty")
	}
	return nil
}

// resolve loads the requested conversation, or creates and persists a new one.
// An unknown id is NotFound; nothing is created for it.
func (o *Orchestrator) resolve(ctx context.Context, req *QueryRequest) (*model.Conversation, error) {
	if req.ConversationID != "" {
		return o.store.GetWithTurns(ctx, req.ConversationID)
	}
	return o.store.Create(ctx, req.OwnerID, "")
}

func (o *Orchestrator) engineRequest(req *QueryRequest, conv *model.Conversation) *engine.Request {
	return &engine.Request{
		Question:            req.Question,
		SessionHistory:      o.policy.Render(conv),
		TopK:                req.TopK,
		SimilarityThreshold: req.SimilarityThreshold,
	}
}

// Query answers synchronously. A fallback answer is returned as is and leaves
// the conversation untouched; otherwise both turns, eviction and the budget
// check are saved together or not at all.
func (o *Orchestrator) Query(ctx context.Context, req *QueryRequest) (*QueryResult, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	conv, err := o.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := o.engine.Query(ctx, o.engineRequest(req, conv))
	o.metrics.EngineLatency(metrics.ModeQuery, time.Since(start))
	if err != nil {
		o.metrics.Exchange(metrics.ModeQuery, metrics.ResultError)
		return nil, errx.EngineUnavailable(err)
	}

	result := &QueryResult{
		ConversationID: conv.ID,
		Answer:         resp.Answer,
		Sources:        resp.Sources,
		QueryTime:      resp.QueryTime,
	}
	if result.Sources == nil {
		result.Sources = []engine.Source{}
	}

	if resp.Fallback {
		o.metrics.Fallback()
		o.metrics.Exchange(metrics.ModeQuery, metrics.ResultFallback)
		logx.Warn().Str("conversationID", conv.ID).Msg("query answered with fallback, conversation unchanged")
		return result, nil
	}

	meta, err := json.Marshal(assistantMetadata{Sources: result.Sources, QueryTime: result.QueryTime})
	if err != nil {
		return nil, errx.System(err)
	}

	o.store.AppendTurn(conv, model.RoleUser, req.Question, "")
	o.store.AppendTurn(conv, model.RoleAssistant, resp.Answer, string(meta))

	evicted, err := o.settle(conv)
	if err != nil {
		o.metrics.Exchange(metrics.ModeQuery, metrics.ResultError)
		return nil, err
	}
	if err := o.store.Save(ctx, conv); err != nil {
		o.metrics.Exchange(metrics.ModeQuery, metrics.ResultError)
		return nil, err
	}

	o.metrics.Evicted(evicted)
	o.metrics.Exchange(metrics.ModeQuery, metrics.ResultSuccess)
	logx.Info().
		Str("conversationID", conv.ID).
		Int("turns", len(conv.Turns)).
		Int("evicted", evicted).
		Int("sources", len(result.Sources)).
		Float64("queryTime", result.QueryTime).
		Msg("query exchange saved")
	return result, nil
}

func (o *Orchestrator) settle(conv *model.Conversation) (int, error) {
	evicted, err := o.policy.Settle(conv)
	if err != nil {
		if errors.Is(err, errx.ErrTokenLimitExceeded) {
			o.metrics.TokenLimitRejected()
		}
		logx.Warn().Err(err).Str("conversationID", conv.ID).Msg("exchange rejected, nothing saved")
		return 0, err
	}
	return evicted, nil
}
