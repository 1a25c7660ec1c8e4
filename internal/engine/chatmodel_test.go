package engine

import (
	"context"
	"math"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

type fakeChatModel struct {
	seen []*schema.Message
}

func (f *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.seen = input
	return schema.AssistantMessage("generated answer", nil), nil
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	f.seen = input
	return schema.StreamReaderFromArray([]*schema.Message{
		schema.AssistantMessage("gen", nil),
		schema.AssistantMessage("", nil),
		schema.AssistantMessage("erated", nil),
	}), nil
}

func TestChatModelEngineQuery(t *testing.T) {
	fake := &fakeChatModel{}
	e, err := NewChatModelEngine(context.Background(), fake, "be brief")
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	resp, err := e.Query(context.Background(), &Request{
		Question:       "what is {go}?",
		SessionHistory: []*schema.Message{schema.UserMessage("hi"), schema.AssistantMessage("hello", nil)},
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if resp.Answer != "generated answer" || resp.Sources == nil || len(resp.Sources) != 0 {
		t.Fatalf("unexpected response: %+v", resp)
	}

	if len(fake.seen) != 4 {
		t.Fatalf("model saw %d messages, want 4", len(fake.seen))
	}
	if fake.seen[0].Role != schema.System || fake.seen[0].Content != "be brief" {
		t.Fatalf("system = %+v", fake.seen[0])
	}
	if fake.seen[1].Content != "hi" || fake.seen[2].Content != "hello" {
		t.Fatalf("history not forwarded in order")
	}
	if fake.seen[3].Role != schema.User || fake.seen[3].Content != "what is {go}?" {
		t.Fatalf("question = %+v", fake.seen[3])
	}
}

func TestChatModelEngineWithoutHistory(t *testing.T) {
	fake := &fakeChatModel{}
	e, err := NewChatModelEngine(context.Background(), fake, "sys")
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if _, err := e.Query(context.Background(), &Request{Question: "q"}); err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(fake.seen) != 2 {
		t.Fatalf("model saw %d messages, want 2", len(fake.seen))
	}
}

func TestChatModelEngineStream(t *testing.T) {
	e, err := NewChatModelEngine(context.Background(), &fakeChatModel{}, "sys")
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	sr, err := e.Stream(context.Background(), &Request{Question: "q"})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	got, err := readAll(t, sr)
	if err != nil || got != "generated" {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestComputeCost(t *testing.T) {
	usage := &model.TokenUsage{PromptTokens: 1_000_000, CompletionTokens: 2_000_000}
	in, out, total := ComputeCost(usage, ResolvePricing("gemini-2.5-flash"))
	if !approx(in, 0.30) || !approx(out, 5.0) || !approx(total, 5.30) {
		t.Fatalf("cost = %v, %v, %v", in, out, total)
	}
	if _, _, total := ComputeCost(usage, ResolvePricing("unknown")); total != 0 {
		t.Fatalf("unknown model cost = %v", total)
	}
	if _, _, total := ComputeCost(nil, Pricing{InputPerM: 1}); total != 0 {
		t.Fatalf("nil usage cost = %v", total)
	}
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}
