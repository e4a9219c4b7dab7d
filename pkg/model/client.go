// Package model provides the model-inference backends used by the decision
// engine. All backends implement the same Client interface; the engine never
// knows which provider is behind it.
package model

import "context"

// Request is one inference call. System carries the role framing and output
// contract; User carries the task, evidence summary and active rules.
type Request struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float32
}

// Response is the raw model output. Parsing it against the output contract
// is the decision engine's job, not the client's.
type Response struct {
	Content string
}

// Client is a model-inference backend.
type Client interface {
	// Complete performs one inference round trip. Implementations classify
	// failures via the error constructors in this package so the retry
	// wrapper can decide what is worth retrying.
	Complete(ctx context.Context, req Request) (Response, error)

	// Name identifies the backend in logs.
	Name() string
}
