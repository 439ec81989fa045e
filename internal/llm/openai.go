package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
)

// OpenAILike is an OpenAI-compatible chat/completions + embeddings adapter:
// tiered {PREFIX}_* env var resolution falling back to shared OPENAI_*,
// with debug logging of full prompts/responses.
type OpenAILike struct {
	baseURL        string
	apiKey         string
	model          string
	embedModel     string
	label          string
	enableThinking bool
	httpClient     *http.Client
}

// NewOpenAILike creates an adapter reading only the shared OPENAI_* vars.
func NewOpenAILike() *OpenAILike {
	return NewOpenAILikeTier("")
}

// NewOpenAILikeTier creates an adapter for a named role tier (e.g.
// "PLANNER", "DEVELOPER", "REVIEWER"). For each key it first tries
// {prefix}_{KEY}, falling back to shared OPENAI_{KEY} when unset.
func NewOpenAILikeTier(prefix string) *OpenAILike {
	get := func(suffix, fallback string) string {
		if prefix != "" {
			if v := os.Getenv(prefix + "_" + suffix); v != "" {
				return v
			}
		}
		return os.Getenv(fallback)
	}
	enableThinking := prefix != "" && os.Getenv(prefix+"_ENABLE_THINKING") == "true"
	label := prefix
	if label == "" {
		label = "LLM"
	}
	return &OpenAILike{
		baseURL:        normalizeBaseURL(get("BASE_URL", "OPENAI_BASE_URL")),
		apiKey:         get("API_KEY", "OPENAI_API_KEY"),
		model:          get("MODEL", "OPENAI_MODEL"),
		embedModel:     get("EMBED_MODEL", "OPENAI_EMBED_MODEL"),
		label:          label,
		enableThinking: enableThinking,
		httpClient:     &http.Client{Timeout: queryStreamTimeout},
	}
}

func normalizeBaseURL(raw string) string {
	s := strings.TrimRight(raw, "/")
	return strings.TrimSuffix(s, "/chat/completions")
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMsg      `json:"messages"`
	EnableThinking bool           `json:"enable_thinking,omitempty"`
	Temperature    float64        `json:"temperature,omitempty"`
	TopP           float64        `json:"top_p,omitempty"`
	MaxTokens      int            `json:"max_tokens,omitempty"`
	Seed           int            `json:"seed,omitempty"`
	Stream         bool           `json:"stream,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *OpenAILike) buildRequest(prompt string, params Params, format ResponseFormat, stream bool) chatRequest {
	req := chatRequest{
		Model: c.model,
		Messages: []chatMsg{
			{Role: "user", Content: prompt},
		},
		EnableThinking: c.enableThinking,
		Temperature:    params.Temperature,
		TopP:           params.TopP,
		MaxTokens:      params.MaxTokens,
		Seed:           params.Seed,
		Stream:         stream,
	}
	if format == ResponseFormatJSONObject {
		req.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	return req
}

// Query performs a blocking chat completion.
func (c *OpenAILike) Query(prompt string, params Params, format ResponseFormat) (string, Usage, error) {
	payload := c.buildRequest(prompt, params, format, false)
	body, err := json.Marshal(payload)
	if err != nil {
		return "", Usage{}, fmt.Errorf("llm: marshal request: %w", err)
	}

	log.Printf("[%s] ── PROMPT ──\n%s\n── END PROMPT ──", c.label, prompt)

	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", Usage{}, fmt.Errorf("llm: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", Usage{}, fmt.Errorf("llm: http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", Usage{}, fmt.Errorf("llm: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", Usage{}, fmt.Errorf("llm: HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", Usage{}, fmt.Errorf("llm: unmarshal response: %w", err)
	}
	if chatResp.Error != nil {
		return "", Usage{}, fmt.Errorf("llm: API error: %s", chatResp.Error.Message)
	}
	if len(chatResp.Choices) == 0 {
		return "", Usage{}, fmt.Errorf("llm: no choices in response")
	}

	content := chatResp.Choices[0].Message.Content
	usage := Usage{
		PromptTokens:     chatResp.Usage.PromptTokens,
		CompletionTokens: chatResp.Usage.CompletionTokens,
		TotalTokens:      chatResp.Usage.TotalTokens,
	}
	log.Printf("[%s] ── RESPONSE (tokens: prompt=%d completion=%d) ──\n%s", c.label, usage.PromptTokens, usage.CompletionTokens, content)
	return content, usage, nil
}

// Stream performs an SSE-style chat completion, invoking onToken per
// delta.content chunk.
func (c *OpenAILike) Stream(prompt string, params Params, format ResponseFormat, onToken OnToken) (string, Usage, error) {
	payload := c.buildRequest(prompt, params, format, true)
	body, err := json.Marshal(payload)
	if err != nil {
		return "", Usage{}, fmt.Errorf("llm: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", Usage{}, fmt.Errorf("llm: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", Usage{}, fmt.Errorf("llm: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", Usage{}, fmt.Errorf("llm: HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var full strings.Builder
	var usage Usage
	dec := newSSEDecoder(resp.Body)
	for {
		chunk, done, err := dec.Next()
		if err != nil {
			return full.String(), usage, fmt.Errorf("llm: stream decode: %w", err)
		}
		if done {
			break
		}
		if chunk == "" {
			continue
		}
		var event struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
			Usage struct {
				PromptTokens     int `json:"prompt_tokens"`
				CompletionTokens int `json:"completion_tokens"`
				TotalTokens      int `json:"total_tokens"`
			} `json:"usage"`
		}
		if err := json.Unmarshal([]byte(chunk), &event); err != nil {
			// tolerate a malformed/partial SSE frame; the decoder already
			// buffers mid-JSON boundaries, so this means a genuinely bad frame
			continue
		}
		if event.Usage.TotalTokens > 0 {
			usage = Usage{
				PromptTokens:     event.Usage.PromptTokens,
				CompletionTokens: event.Usage.CompletionTokens,
				TotalTokens:      event.Usage.TotalTokens,
			}
		}
		for _, choice := range event.Choices {
			if choice.Delta.Content != "" {
				full.WriteString(choice.Delta.Content)
				onToken(choice.Delta.Content)
			}
		}
	}
	return full.String(), usage, nil
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Embed calls the /embeddings endpoint.
func (c *OpenAILike) Embed(texts []string, model string) ([][]float64, error) {
	if model == "" {
		model = c.embedModel
	}
	payload := embedRequest{Model: model, Input: texts}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("llm: marshal embed request: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llm: create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm: embed http request: %w", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("llm: read embed response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("llm: embed HTTP %d: %s", resp.StatusCode, string(respBody))
	}
	var er embedResponse
	if err := json.Unmarshal(respBody, &er); err != nil {
		return nil, fmt.Errorf("llm: unmarshal embed response: %w", err)
	}
	if er.Error != nil {
		return nil, fmt.Errorf("llm: embed API error: %s", er.Error.Message)
	}
	vectors := make([][]float64, len(er.Data))
	for i, d := range er.Data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}
