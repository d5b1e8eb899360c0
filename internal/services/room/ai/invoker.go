package ai

import "context"

// Request carries everything a prompt step contributes to one model call.
type Request struct {
	// Model is the provider model identifier.
	Model string
	// Prompt is the rendered prompt text.
	Prompt string
	// SystemRole is optional system framing prepended to the prompt.
	SystemRole string
	// ResponseFormat describes the expected output shape in prose. It is
	// appended to the prompt as an instruction.
	ResponseFormat string
	// JSONMode asks the provider for a JSON object response.
	JSONMode bool
	// Context is optional serialized chat history included with the prompt.
	Context string
}

// Result is the model's reply.
type Result struct {
	// Text is the extracted output text.
	Text string
	// Raw is the provider response body, kept for telemetry.
	Raw []byte
}

// Invoker sends one request to a language model provider. Implementations
// must honor ctx cancellation; callers own retry policy.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (Result, error)
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, req Request) (Result, error)

// Invoke implements Invoker.
func (f InvokerFunc) Invoke(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}
