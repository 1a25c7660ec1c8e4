package engine

import "time"

const (
	BackendHTTP   = "http"
	BackendGemini = "gemini"

	DefaultFallbackAnswer = "Sorry, the query service is temporarily unavailable. Please try again later."
)

// ================ Config ================
type Config struct {
	Backend           string        `envconfig:"ENGINE_BACKEND" default:"http"`
	BaseURL           string        `envconfig:"ENGINE_BASE_URL" default:"http://localhost:8000"`
	Timeout           time.Duration `envconfig:"ENGINE_TIMEOUT" default:"60s"`
	StreamIdleTimeout time.Duration `envconfig:"ENGINE_STREAM_IDLE_TIMEOUT" default:"60s"`
	BreakerFailures   uint32        `envconfig:"ENGINE_BREAKER_FAILURES" default:"5"`
	BreakerCooldown   time.Duration `envconfig:"ENGINE_BREAKER_COOLDOWN" default:"30s"`
	FallbackAnswer    string        `envconfig:"ENGINE_FALLBACK_ANSWER"`
}

type GeminiConfig struct {
	APIKey  string `envconfig:"GEMINI_API_KEY"`
	BaseURL string `envconfig:"GEMINI_BASE_URL"`
}

type ResponseModelConfig struct {
	Model        string  `envconfig:"RESPONSE_MODEL" default:"gemini-2.5-flash"`
	MaxTokens    int     `envconfig:"RESPONSE_MAX_TOKENS" default:"2000"`
	Temperature  float32 `envconfig:"RESPONSE_TEMPERATURE" default:"0.4"`
	SystemPrompt string  `envconfig:"RESPONSE_SYSTEM_PROMPT" default:"You are a helpful assistant. Answer the question using the conversation so far."`
}
