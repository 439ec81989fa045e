package llm

import (
	"bufio"
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

// OllamaLike talks to an Ollama-style server: line-delimited JSON framing,
// {message:{content}} for chat chunks, {response} for the generate
// endpoint, and a final {done:true} frame, per §4.4/§B. Its construction
// and logging conventions mirror OpenAILike's.
type OllamaLike struct {
	host       string
	model      string
	embedModel string
	label      string
	httpClient *http.Client
}

// NewOllamaLike reads OLLAMA_HOST (per §6) and the shared model env vars.
func NewOllamaLike() *OllamaLike {
	return NewOllamaLikeTier("")
}

// NewOllamaLikeTier mirrors OpenAILike's tiered env-var resolution.
func NewOllamaLikeTier(prefix string) *OllamaLike {
	get := func(suffix, fallback string) string {
		if prefix != "" {
			if v := os.Getenv(prefix + "_" + suffix); v != "" {
				return v
			}
		}
		return os.Getenv(fallback)
	}
	host := get("HOST", "OLLAMA_HOST")
	if host == "" {
		host = "http://localhost:11434"
	}
	label := prefix
	if label == "" {
		label = "OLLAMA"
	}
	return &OllamaLike{
		host:       strings.TrimRight(host, "/"),
		model:      get("MODEL", "OLLAMA_MODEL"),
		embedModel: get("EMBED_MODEL", "OLLAMA_EMBED_MODEL"),
		label:      label,
		httpClient: &http.Client{Timeout: queryStreamTimeout},
	}
}

type ollamaChatRequest struct {
	Model    string            `json:"model"`
	Messages []chatMsg         `json:"messages"`
	Stream   bool              `json:"stream"`
	Format   string            `json:"format,omitempty"`
	Options  ollamaChatOptions `json:"options,omitempty"`
}

type ollamaChatOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	TopP        float64 `json:"top_p,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
	Seed        int     `json:"seed,omitempty"`
}

type ollamaChatFrame struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Response      string `json:"response"`
	Done          bool   `json:"done"`
	PromptEvalCnt int    `json:"prompt_eval_count"`
	EvalCount     int    `json:"eval_count"`
}

func (c *OllamaLike) buildRequest(prompt string, params Params, format ResponseFormat, stream bool) ollamaChatRequest {
	req := ollamaChatRequest{
		Model:  c.model,
		Stream: stream,
		Messages: []chatMsg{
			{Role: "user", Content: prompt},
		},
		Options: ollamaChatOptions{
			Temperature: params.Temperature,
			TopP:        params.TopP,
			NumPredict:  params.NumPredict,
			Seed:        params.Seed,
		},
	}
	if format == ResponseFormatJSONObject {
		req.Format = "json"
	}
	return req
}

// Query performs a non-streamed chat call.
func (c *OllamaLike) Query(prompt string, params Params, format ResponseFormat) (string, Usage, error) {
	payload := c.buildRequest(prompt, params, format, false)
	body, err := json.Marshal(payload)
	if err != nil {
		return "", Usage{}, fmt.Errorf("llm: marshal request: %w", err)
	}

	log.Printf("[%s] ── PROMPT ──\n%s\n── END PROMPT ──", c.label, prompt)

	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", Usage{}, fmt.Errorf("llm: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

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

	var frame ollamaChatFrame
	if err := json.Unmarshal(respBody, &frame); err != nil {
		return "", Usage{}, fmt.Errorf("llm: unmarshal response: %w", err)
	}
	content := frame.Message.Content
	if content == "" {
		content = frame.Response
	}
	usage := Usage{
		PromptTokens:     frame.PromptEvalCnt,
		CompletionTokens: frame.EvalCount,
		TotalTokens:      frame.PromptEvalCnt + frame.EvalCount,
	}
	log.Printf("[%s] ── RESPONSE (tokens: prompt=%d completion=%d) ──\n%s", c.label, usage.PromptTokens, usage.CompletionTokens, content)
	return content, usage, nil
}

// Stream performs a streamed chat call over newline-delimited JSON frames,
// tolerating a frame split across TCP reads — bufio.Scanner buffers
// partial lines until a full line is available, satisfying §5's "tolerate
// chunk boundaries mid-JSON" requirement.
func (c *OllamaLike) Stream(prompt string, params Params, format ResponseFormat, onToken OnToken) (string, Usage, error) {
	payload := c.buildRequest(prompt, params, format, true)
	body, err := json.Marshal(payload)
	if err != nil {
		return "", Usage{}, fmt.Errorf("llm: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, c.host+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", Usage{}, fmt.Errorf("llm: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", Usage{}, fmt.Errorf("llm: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", Usage{}, fmt.Errorf("llm: HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var full strings.Builder
	var usage Usage
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var frame ollamaChatFrame
		if err := json.Unmarshal([]byte(line), &frame); err != nil {
			continue
		}
		token := frame.Message.Content
		if token == "" {
			token = frame.Response
		}
		if token != "" {
			full.WriteString(token)
			onToken(token)
		}
		if frame.Done {
			usage = Usage{
				PromptTokens:     frame.PromptEvalCnt,
				CompletionTokens: frame.EvalCount,
				TotalTokens:      frame.PromptEvalCnt + frame.EvalCount,
			}
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return full.String(), usage, fmt.Errorf("llm: stream scan: %w", err)
	}
	return full.String(), usage, nil
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

// Embed calls /api/embed with a batch of inputs.
func (c *OllamaLike) Embed(texts []string, model string) ([][]float64, error) {
	if model == "" {
		model = c.embedModel
	}
	payload := ollamaEmbedRequest{Model: model, Input: texts}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("llm: marshal embed request: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llm: create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

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
	var er ollamaEmbedResponse
	if err := json.Unmarshal(respBody, &er); err != nil {
		return nil, fmt.Errorf("llm: unmarshal embed response: %w", err)
	}
	return er.Embeddings, nil
}
