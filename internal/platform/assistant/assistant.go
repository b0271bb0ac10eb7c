// Package assistant talks to a local text-completion model served over the
// Ollama HTTP API.
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL = "http://127.0.0.1:11434"
	defaultModel   = "tinyllama"

	// HospitalPrompt frames general questions from the chat widget.
	HospitalPrompt = "You are a hospital assistant."
	// AnalyzerPrompt frames prescription summaries.
	AnalyzerPrompt = "You are a medical assistant analyzer."
)

// ErrUnavailable means no reply could be produced. Callers degrade instead
// of failing the surrounding operation.
var ErrUnavailable = errors.New("assistant unavailable")

// TextGenerator produces a single short reply for a prompt pair.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// OllamaClient calls the Ollama /api/chat endpoint.
type OllamaClient struct {
	baseURL    string
	model      string
	maxTokens  int
	httpClient *http.Client
}

func NewOllamaClient(baseURL, model string) *OllamaClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if strings.TrimSpace(model) == "" {
		model = defaultModel
	}
	return &OllamaClient{
		baseURL:    baseURL,
		model:      model,
		maxTokens:  64,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatOptions struct {
	NumPredict    int     `json:"num_predict,omitempty"`
	Temperature   float64 `json:"temperature"`
	TopP          float64 `json:"top_p"`
	RepeatPenalty float64 `json:"repeat_penalty"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  chatOptions   `json:"options"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
	Error   string      `json:"error"`
}

func (c *OllamaClient) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if strings.TrimSpace(userPrompt) == "" {
		return "", fmt.Errorf("prompt required")
	}
	req := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Options: chatOptions{
			NumPredict:    c.maxTokens,
			Temperature:   0.2,
			TopP:          0.9,
			RepeatPenalty: 1.1,
		},
	}

	var resp chatResponse
	if err := c.doJSON(ctx, "/api/chat", req, &resp); err != nil {
		return "", errors.Join(ErrUnavailable, err)
	}
	reply := CleanReply(resp.Message.Content)
	if reply == "" {
		return "", fmt.Errorf("%w: empty reply", ErrUnavailable)
	}
	return reply, nil
}

func (c *OllamaClient) doJSON(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp chatResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error != "" {
			return fmt.Errorf("ollama api error: %s", errResp.Error)
		}
		return fmt.Errorf("ollama api error: %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// CleanReply keeps the first line of model output that is not a role marker
// or prompt echo, stripped of bracket noise.
func CleanReply(raw string) string {
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		if strings.Contains(lower, "<|") || strings.HasPrefix(lower, "system:") ||
			strings.HasPrefix(lower, "user:") || strings.HasPrefix(lower, "assistant:") {
			continue
		}
		line = strings.NewReplacer("[", "", "]", "").Replace(line)
		return strings.TrimSpace(line)
	}
	return ""
}
