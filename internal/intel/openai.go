package intel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hpungsan/cairn/internal/logging"
	"github.com/hpungsan/cairn/internal/record"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	defaultBaseURL    = "https://api.openai.com/v1"
	defaultChatModel  = "gpt-4o-mini"
	defaultEmbedModel = "text-embedding-3-small"
	requestTimeout    = 60 * time.Second
	maxErrorBody      = 1 << 10
)

// OpenAIOptions configures the HTTP backend.
type OpenAIOptions struct {
	BaseURL    string
	APIKey     string
	ChatModel  string
	EmbedModel string
	Dims       int
	HTTPClient *http.Client
}

// OpenAI talks to any OpenAI-compatible API: chat completions in JSON mode
// for classify and summarize, /embeddings for embed. Every request runs
// through one circuit breaker so a failing endpoint is not hammered.
type OpenAI struct {
	opts    OpenAIOptions
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewOpenAI returns an OpenAI backend. Empty options fall back to defaults.
func NewOpenAI(opts OpenAIOptions, logger *zap.Logger) *OpenAI {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.ChatModel == "" {
		opts.ChatModel = defaultChatModel
	}
	if opts.EmbedModel == "" {
		opts.EmbedModel = defaultEmbedModel
	}
	if opts.Dims <= 0 {
		opts.Dims = 256
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: requestTimeout}
	}

	logger = logging.OrNop(logger).Named("intel")
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "intel-openai",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})

	return &OpenAI{opts: opts, client: client, breaker: breaker, logger: logger}
}

func (o *OpenAI) Dims() int { return o.opts.Dims }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	ResponseFormat map[string]string `json:"response_format"`
	Temperature    float64           `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type embedRequest struct {
	Model      string `json:"model"`
	Input      string `json:"input"`
	Dimensions int    `json:"dimensions,omitempty"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

const classifyPrompt = `Classify the user's note. Reply with a JSON object with keys:
project (string), topic (string), type (one of idea, decision, question, task, note, issue, reflection, reminder, insight),
tags (array of short lowercase strings), sentiment (positive, negative or neutral), importance (integer 1-5), confidence (number 0-1).`

const summarizePrompt = `Summarize the user's note. Reply with a JSON object with keys:
ultra_brief (one line), executive_summary (array of up to 3 strings), detailed_summary (string),
decisions, action_items, open_questions, key_insights, people_mentioned, projects_mentioned (arrays of strings).`

// Classify asks the chat model for a classification. Hints are appended to
// the prompt and then applied over the model's answer.
func (o *OpenAI) Classify(ctx context.Context, content string, hints Hints) (*record.Classification, error) {
	prompt := classifyPrompt
	if len(hints) > 0 {
		h, _ := json.Marshal(hints)
		prompt += "\nKnown context: " + string(h)
	}

	var c record.Classification
	if err := o.chatJSON(ctx, prompt, content, &c); err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}
	if p := hints["project"]; p != "" {
		c.Project = p
	}
	if t := hints["topic"]; t != "" {
		c.Topic = t
	}
	if !record.ValidType(c.Type) {
		c.Type = record.TypeNote
	}
	c.Importance = min(max(c.Importance, 1), 5)
	c.Confidence = min(max(c.Confidence, 0), 1)
	return &c, nil
}

// Summarize asks the chat model for a structured summary.
func (o *OpenAI) Summarize(ctx context.Context, content string) (*record.Summary, error) {
	var s record.Summary
	if err := o.chatJSON(ctx, summarizePrompt, content, &s); err != nil {
		return nil, fmt.Errorf("summarize: %w", err)
	}
	return &s, nil
}

// Embed calls the embeddings endpoint through the circuit breaker.
func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	var resp embedResponse
	req := embedRequest{Model: o.opts.EmbedModel, Input: text, Dimensions: o.opts.Dims}
	if err := o.post(ctx, "/embeddings", req, &resp); err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embed: no embedding returned")
	}
	vec := resp.Data[0].Embedding
	if len(vec) != o.opts.Dims {
		return nil, fmt.Errorf("embed: got %d dimensions, want %d", len(vec), o.opts.Dims)
	}
	return vec, nil
}

func (o *OpenAI) chatJSON(ctx context.Context, system, user string, out any) error {
	req := chatRequest{
		Model: o.opts.ChatModel,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		ResponseFormat: map[string]string{"type": "json_object"},
	}
	var resp chatResponse
	if err := o.post(ctx, "/chat/completions", req, &resp); err != nil {
		return err
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("no choices returned")
	}
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), out); err != nil {
		return fmt.Errorf("model returned invalid JSON: %w", err)
	}
	return nil
}

// post sends body as JSON and decodes the response into out, through the
// circuit breaker. Non-2xx responses count as failures.
func (o *OpenAI) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	_, err = o.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.opts.BaseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if o.opts.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+o.opts.APIKey)
		}

		resp, err := o.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return nil, nil
	})
	if err != nil {
		o.logger.Debug("intel request failed", zap.String("path", path), zap.Error(err))
	}
	return err
}
