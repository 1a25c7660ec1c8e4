package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"

	errx "github.com/ragops-session/server/internal/core/error"
	logx "github.com/ragops-session/server/pkg/logger"
)

const (
	queryPath  = "/api/query"
	streamPath = "/api/query/stream"
)

// HTTPClient calls a remote answer service. It sets no client timeout of its
// own; deadlines come from the caller context (see Guard).
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(baseURL string, client *http.Client) *HTTPClient {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPClient{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

type historyEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type queryPayload struct {
	Question            string         `json:"question"`
	SessionHistory      []historyEntry `json:"session_history"`
	TopK                *int           `json:"top_k,omitempty"`
	SimilarityThreshold *float64       `json:"similarity_threshold,omitempty"`
	Stream              bool           `json:"stream"`
}

func newPayload(req *Request, stream bool) queryPayload {
	p := queryPayload{
		Question:            req.Question,
		TopK:                req.TopK,
		SimilarityThreshold: req.SimilarityThreshold,
		Stream:              stream,
	}
	for _, m := range req.SessionHistory {
		if m == nil {
			continue
		}
		p.SessionHistory = append(p.SessionHistory, historyEntry{Role: string(m.Role), Content: m.Content})
	}
	return p
}

func (c *HTTPClient) post(ctx context.Context, path string, payload queryPayload) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, errx.EngineUnavailable(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		logx.Warn().Int("status", resp.StatusCode).Str("path", path).Str("body", string(snippet)).Msg("answer engine returned an error status")
		return nil, errx.EngineUnavailable(fmt.Errorf("engine status %d", resp.StatusCode))
	}
	return resp, nil
}

func (c *HTTPClient) Query(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	resp, err := c.post(ctx, queryPath, newPayload(req, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errx.EngineUnavailable(fmt.Errorf("decode answer: %w", err))
	}
	if out.Sources == nil {
		out.Sources = []Source{}
	}
	if out.QueryTime <= 0 {
		out.QueryTime = time.Since(start).Seconds()
	}
	return &out, nil
}

// Stream relays the response body as it arrives. Event-stream bodies are
// unwrapped to their data payloads; anything else is forwarded as raw text.
func (c *HTTPClient) Stream(ctx context.Context, req *Request) (*schema.StreamReader[string], error) {
	resp, err := c.post(ctx, streamPath, newPayload(req, true))
	if err != nil {
		return nil, err
	}

	sr, sw := schema.Pipe[string](16)
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	go func() {
		defer sw.Close()
		defer resp.Body.Close()

		var err error
		if mediaType == "text/event-stream" {
			err = relayEvents(resp.Body, sw)
		} else {
			err = relayRaw(resp.Body, sw)
		}
		if err != nil {
			sw.Send("", errx.EngineUnavailable(err))
		}
	}()
	return sr, nil
}

func relayRaw(body io.Reader, sw *schema.StreamWriter[string]) error {
	buf := make([]byte, 4096)
	var pending []byte
	for {
		n, err := body.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			complete, rest := completeRunes(pending)
			if len(complete) > 0 {
				if closed := sw.Send(string(complete), nil); closed {
					return nil
				}
			}
			pending = append(pending[:0], rest...)
		}
		if err == io.EOF {
			if len(pending) > 0 {
				sw.Send(string(pending), nil)
			}
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func relayEvents(body io.Reader, sw *schema.StreamWriter[string]) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var data []string
	// flush reports whether the reader has gone away.
	flush := func() bool {
		if len(data) == 0 {
			return false
		}
		frag := strings.Join(data, "\n")
		data = data[:0]
		return sw.Send(frag, nil)
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if flush() {
				return nil
			}
		case strings.HasPrefix(line, "data:"):
			v := strings.TrimPrefix(line, "data:")
			data = append(data, strings.TrimPrefix(v, " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	flush()
	return nil
}

// completeRunes splits b before a trailing partial UTF-8 sequence.
func completeRunes(b []byte) (complete, rest []byte) {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if !utf8.FullRune(b[i:]) {
			return b[:i], b[i:]
		}
		break
	}
	return b, nil
}

var _ Engine = (*HTTPClient)(nil)
