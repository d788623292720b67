package llm

import "context"

// Client is the interface the orchestration layer uses to talk to the
// model backend. There is exactly one production implementation
// ([OpenAIClient]); tests substitute scripted fakes.
type Client interface {
	// CreateResponse sends a non-streaming request and returns the
	// full response once the backend has finished.
	CreateResponse(ctx context.Context, req *Request) (*Response, error)

	// StreamResponse sends a streaming request. Events are delivered
	// to callback in arrival order; a KindError event is terminal.
	StreamResponse(ctx context.Context, req *Request, callback StreamCallback) error

	// Ping checks if the backend is reachable with valid credentials.
	Ping(ctx context.Context) error
}
