// Package engine talks to the retrieval-and-generation service that answers
// questions. Callers only see the Engine contract; Guard bounds every call.
package engine

import (
	"context"

	"github.com/cloudwego/eino/schema"
)

// Engine answers a question given the bounded conversation history.
type Engine interface {
	Query(ctx context.Context, req *Request) (*Response, error)

	// Stream returns answer fragments in order. The reader ends with io.EOF
	// on success; any other error is terminal.
	Stream(ctx context.Context, req *Request) (*schema.StreamReader[string], error)
}

// Request is one question plus its history, oldest first.
type Request struct {
	Question            string
	SessionHistory      []*schema.Message
	TopK                *int
	SimilarityThreshold *float64
}

// Source is a retrieved chunk supporting an answer.
type Source struct {
	ChunkText       string  `json:"chunk_text"`
	SimilarityScore float64 `json:"similarity_score"`
	DocumentID      string  `json:"document_id"`
	DocumentName    string  `json:"document_name"`
	ChunkIndex      int     `json:"chunk_index"`
	PageNumber      *int    `json:"page_number,omitempty"`
	Section         string  `json:"section,omitempty"`
}

// Response is a complete answer. QueryTime is in seconds.
type Response struct {
	Answer    string   `json:"answer"`
	Sources   []Source `json:"sources"`
	QueryTime float64  `json:"query_time"`

	// Fallback marks the canned answer produced by Guard.
	Fallback bool `json:"-"`
}
