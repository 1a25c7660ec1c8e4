package orchestrator

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	errx "github.com/ragops-session/server/internal/core/error"
	"github.com/ragops-session/server/internal/engine"
	"github.com/ragops-session/server/internal/metrics"
	"github.com/ragops-session/server/internal/session/model"
	logx "github.com/ragops-session/server/pkg/logger"
)

type EventKind string

const (
	EventMessage EventKind = "message"
	EventDone    EventKind = "done"
	EventError   EventKind = "error"
)

// Event is one item of a streamed exchange. A stream carries any number of
// message events followed by exactly one done or error event.
type Event struct {
	Kind           EventKind
	Fragment       string
	ConversationID string
	Err            *errx.AppError
}

// Stream starts a streamed exchange. Validation and lookup errors are
// returned before any event. The user turn is saved before the engine is
// called; the assistant turn is saved only when the engine completes.
//
// Cancelling ctx cancels the engine call. Closing the returned reader stops
// the exchange at the next fragment.
func (o *Orchestrator) Stream(ctx context.Context, req *QueryRequest) (*schema.StreamReader[Event], error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	conv, err := o.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	engReq := o.engineRequest(req, conv)

	// The exchange is incomplete, so no eviction or budget check yet.
	o.store.AppendTurn(conv, model.RoleUser, req.Question, "")
	if err := o.store.Save(ctx, conv); err != nil {
		return nil, err
	}
	logx.Info().Str("conversationID", conv.ID).Msg("stream exchange started")

	sr, sw := schema.Pipe[Event](16)
	ctx, cancel := context.WithCancel(ctx)
	go o.produce(ctx, cancel, conv.ID, engReq, sw)
	return sr, nil
}

func (o *Orchestrator) produce(ctx context.Context, cancel context.CancelFunc, id string, req *engine.Request, sw *schema.StreamWriter[Event]) {
	defer sw.Close()
	defer cancel()

	start := time.Now()
	fail := func(err error) {
		app := errx.From(err)
		o.metrics.Exchange(metrics.ModeStream, metrics.ResultError)
		logx.Warn().Err(err).Str("conversationID", id).Str("code", string(app.Code)).Msg("stream exchange failed")
		sw.Send(Event{Kind: EventError, ConversationID: id, Err: app}, nil)
	}

	upstream, err := o.engine.Stream(ctx, req)
	if err != nil {
		fail(err)
		return
	}
	defer upstream.Close()

	var answer strings.Builder
	for {
		frag, err := upstream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			fail(err)
			return
		}
		answer.WriteString(frag)
		o.metrics.Fragment()
		if closed := sw.Send(Event{Kind: EventMessage, Fragment: frag, ConversationID: id}, nil); closed {
			logx.Info().Str("conversationID", id).Msg("stream client went away, cancelling engine call")
			o.metrics.Exchange(metrics.ModeStream, metrics.ResultError)
			return
		}
	}
	o.metrics.EngineLatency(metrics.ModeStream, time.Since(start))

	// The answer is complete; a late disconnect must not lose it.
	if err := o.finalize(context.WithoutCancel(ctx), id, answer.String()); err != nil {
		fail(err)
		return
	}
	o.metrics.Exchange(metrics.ModeStream, metrics.ResultSuccess)
	sw.Send(Event{Kind: EventDone, ConversationID: id}, nil)
}

// finalize reloads the conversation so turns saved by other requests during
// the stream are kept, then appends the answer and settles the window.
func (o *Orchestrator) finalize(ctx context.Context, id, answer string) error {
	conv, err := o.store.GetWithTurns(ctx, id)
	if err != nil {
		return err
	}
	o.store.AppendTurn(conv, model.RoleAssistant, answer, "")

	evicted, err := o.settle(conv)
	if err != nil {
		return err
	}
	if err := o.store.Save(ctx, conv); err != nil {
		return err
	}
	o.metrics.Evicted(evicted)
	logx.Info().
		Str("conversationID", id).
		Int("turns", len(conv.Turns)).
		Int("evicted", evicted).
		Int("answerLength", len(answer)).
		Msg("stream exchange saved")
	return nil
}
