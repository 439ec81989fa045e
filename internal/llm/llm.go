// Package llm implements the LLMAdapter uniform interface (§4.4) over two
// provider shapes, OllamaLike and OpenAILike: an OpenAI-compatible chat
// client and a line-delimited-JSON streaming adapter for Ollama-style
// servers, unified behind one interface.
package llm

import (
	"errors"
	"strings"
	"time"
)

// Per-call deadlines (§5): Query is a single blocking round trip, Stream
// runs as long as the model keeps emitting tokens. The underlying
// http.Client's own Timeout is set to queryStreamTimeout so Stream can run
// that long; Query wraps its request in its own shorter context so it
// doesn't inherit the full streaming budget.
const (
	queryTimeout       = 30 * time.Second
	queryStreamTimeout = 120 * time.Second
)

// Params are the canonical sampling parameters; each Adapter translates them
// into its wire format.
type Params struct {
	Temperature float64
	TopP        float64
	MaxTokens   int
	Seed        int
	NumPredict  int
}

// ResponseFormat requests a structured response shape from the model.
type ResponseFormat string

const (
	ResponseFormatText       ResponseFormat = ""
	ResponseFormatJSONObject ResponseFormat = "json_object"
)

// ErrResponseFormatUnsupported is returned by adapters that cannot honor a
// requested ResponseFormat; per §4.4 this must fail fast, never silently
// ignore the request.
var ErrResponseFormatUnsupported = errors.New("llm: response format not supported by this adapter")

// Usage reports token consumption for one call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// OnToken is invoked once per non-empty streamed token. Per §5 it runs on
// the I/O goroutine and MUST NOT block.
type OnToken func(token string)

// Adapter is the uniform interface every provider implements.
type Adapter interface {
	// Query performs a blocking completion and returns the full text.
	Query(prompt string, params Params, format ResponseFormat) (string, Usage, error)
	// Stream performs a streamed completion, invoking onToken per token;
	// the returned string is the concatenation of all tokens.
	Stream(prompt string, params Params, format ResponseFormat, onToken OnToken) (string, Usage, error)
	// Embed returns one embedding vector per input text.
	Embed(texts []string, model string) ([][]float64, error)
}

// StripThinkBlocks removes all <think>...</think> blocks emitted by
// reasoning models before structured output is parsed. The same models
// emit the same reasoning-block convention regardless of wire protocol.
func StripThinkBlocks(s string) string {
	for {
		start := strings.Index(s, "<think>")
		if start == -1 {
			break
		}
		end := strings.Index(s[start:], "</think>")
		if end == -1 {
			s = s[:start]
			break
		}
		s = s[:start] + s[start+end+len("</think>"):]
	}
	return strings.TrimSpace(s)
}

// StripFences removes markdown code fences and reasoning blocks from LLM
// output so downstream JSON parsing sees only the payload.
func StripFences(s string) string {
	s = StripThinkBlocks(strings.TrimSpace(s))
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
		if i := strings.LastIndex(s, "```"); i != -1 {
			s = s[:i]
		}
	}
	return strings.TrimSpace(s)
}
