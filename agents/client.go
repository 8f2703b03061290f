package agents

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"loanflow/config"
	"loanflow/models"

	"github.com/go-resty/resty/v2"
)

// Message is one chat-completion message. Content is either a plain string or
// a []ContentPart when the message carries images.
type Message struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

// ContentPart is one element of a multimodal message payload.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// TextPart builds a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: "text", Text: text}
}

// ImagePart builds an inline base64 image content part.
func ImagePart(data []byte, mime string) ContentPart {
	if mime == "" {
		mime = "image/jpeg"
	}
	encoded := base64.StdEncoding.EncodeToString(data)
	return ContentPart{
		Type:     "image_url",
		ImageURL: &ImageURL{URL: fmt.Sprintf("data:%s;base64,%s", mime, encoded), Detail: "high"},
	}
}

// Completer is the minimal chat-completion capability the agents need.
// Injected so tests can substitute canned replies.
type Completer interface {
	Complete(ctx context.Context, messages []Message, temperature float64) (string, error)
}

// OpenAIClient calls the OpenAI chat completions API over HTTP.
type OpenAIClient struct {
	http  *resty.Client
	model string
}

// NewOpenAIClient builds a client from the global config, with the configured
// per-call timeout. Calls are never retried here; a failed call is surfaced
// to the caller as a normal failure mode.
func NewOpenAIClient() *OpenAIClient {
	cfg := config.AppConfig
	client := resty.New().
		SetBaseURL(cfg.OpenAIBaseURL).
		SetAuthToken(cfg.OpenAIKey).
		SetTimeout(time.Duration(cfg.OpenAITimeout) * time.Second)

	return &OpenAIClient{http: client, model: cfg.OpenAIModel}
}

// Model reports the configured model identifier, recorded on audit rows.
func (c *OpenAIClient) Model() string {
	return c.model
}

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete sends one chat completion request and returns the reply text.
func (c *OpenAIClient) Complete(ctx context.Context, messages []Message, temperature float64) (string, error) {
	body := completionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: temperature,
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post("/chat/completions")
	if err != nil {
		return "", fmt.Errorf("chat completion request failed: %w", err)
	}

	var parsed completionResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return "", fmt.Errorf("failed to parse completion response: %w", err)
	}
	if resp.StatusCode() != 200 {
		if parsed.Error != nil {
			return "", fmt.Errorf("completion API error: %s", parsed.Error.Message)
		}
		return "", fmt.Errorf("completion API error: status %d", resp.StatusCode())
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("completion API returned no choices")
	}

	return parsed.Choices[0].Message.Content, nil
}

// stripCodeFence removes markdown code fences the model sometimes wraps JSON
// replies in.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// historyText flattens a conversation into "role: content" lines for
// extraction prompts.
func historyText(history []models.ChatMessage) string {
	var b strings.Builder
	for i, m := range history {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	return b.String()
}
