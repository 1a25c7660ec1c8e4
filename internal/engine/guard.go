package engine

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/sony/gobreaker"

	errx "github.com/ragops-session/server/internal/core/error"
	logx "github.com/ragops-session/server/pkg/logger"
)

// ErrStreamIdle is reported when the engine stops producing fragments.
var ErrStreamIdle = errors.New("engine stream idle timeout")

// Guard bounds an Engine with a call timeout, a stream inactivity timeout and
// a circuit breaker shared by both call styles.
type Guard struct {
	next     Engine
	timeout  time.Duration
	idle     time.Duration
	fallback string
	cb       *gobreaker.TwoStepCircuitBreaker
}

func NewGuard(next Engine, cfg Config) *Guard {
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	idle := cfg.StreamIdleTimeout
	if idle <= 0 {
		idle = 60 * time.Second
	}
	fallback := cfg.FallbackAnswer
	if fallback == "" {
		fallback = DefaultFallbackAnswer
	}

	cb := gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:    "answer-engine",
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logx.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})

	return &Guard{next: next, timeout: timeout, idle: idle, fallback: fallback, cb: cb}
}

// FallbackResponse is the canned answer returned when the engine cannot serve.
func (g *Guard) FallbackResponse() *Response {
	return &Response{Answer: g.fallback, Sources: []Source{}, QueryTime: 0, Fallback: true}
}

// Query never fails: any engine failure, timeout or open breaker yields the
// fallback response.
func (g *Guard) Query(ctx context.Context, req *Request) (*Response, error) {
	done, err := g.cb.Allow()
	if err != nil {
		logx.Warn().Err(err).Msg("answer engine rejected by circuit breaker")
		return g.FallbackResponse(), nil
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.next.Query(ctx, req)
	if err == nil && resp == nil {
		err = errors.New("empty engine response")
	}
	done(isSuccessful(err))
	if err != nil {
		logx.Warn().Err(err).Msg("answer engine query failed, using fallback")
		return g.FallbackResponse(), nil
	}
	return resp, nil
}

// Stream fails fast with EngineUnavailable when the breaker is open or the
// stream cannot be opened within the idle timeout. Once open, a gap longer
// than the idle timeout between fragments ends the stream with
// EngineUnavailable.
func (g *Guard) Stream(ctx context.Context, req *Request) (*schema.StreamReader[string], error) {
	done, err := g.cb.Allow()
	if err != nil {
		return nil, errx.EngineUnavailable(err)
	}

	ctx, cancel := context.WithCancel(ctx)
	deadline := time.AfterFunc(g.idle, cancel)
	upstream, err := g.next.Stream(ctx, req)
	if !deadline.Stop() {
		// The open deadline fired and cancelled ctx.
		if err == nil {
			upstream.Close()
		}
		cancel()
		done(false)
		logx.Warn().Dur("idle", g.idle).Msg("answer engine stream did not open in time")
		return nil, errx.EngineUnavailable(ErrStreamIdle)
	}
	if err != nil {
		cancel()
		done(isSuccessful(err))
		return nil, errx.EngineUnavailable(err)
	}

	sr, sw := schema.Pipe[string](16)
	go g.relay(ctx, cancel, upstream, sw, done)
	return sr, nil
}

type fragment struct {
	text string
	err  error
}

func (g *Guard) relay(ctx context.Context, cancel context.CancelFunc, upstream *schema.StreamReader[string], sw *schema.StreamWriter[string], done func(bool)) {
	defer sw.Close()
	defer cancel()

	frags := make(chan fragment)
	go func() {
		defer upstream.Close()
		for {
			text, err := upstream.Recv()
			select {
			case frags <- fragment{text: text, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	timer := time.NewTimer(g.idle)
	defer timer.Stop()

	for {
		select {
		case f := <-frags:
			if errors.Is(f.err, io.EOF) {
				done(true)
				return
			}
			if f.err != nil {
				done(isSuccessful(f.err))
				sw.Send("", errx.EngineUnavailable(f.err))
				return
			}
			if closed := sw.Send(f.text, nil); closed {
				done(true)
				return
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(g.idle)

		case <-timer.C:
			logx.Warn().Dur("idle", g.idle).Msg("answer engine stream went idle")
			done(false)
			sw.Send("", errx.EngineUnavailable(ErrStreamIdle))
			return

		case <-ctx.Done():
			done(true)
			sw.Send("", errx.EngineUnavailable(ctx.Err()))
			return
		}
	}
}

// isSuccessful keeps caller cancellations from tripping the breaker.
func isSuccessful(err error) bool {
	return err == nil || errors.Is(err, context.Canceled)
}

var _ Engine = (*Guard)(nil)
