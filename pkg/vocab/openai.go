package vocab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/smith3v/wa-word-reminder/pkg/metrics"
	"github.com/sony/gobreaker/v2"
)

const maxGeneratedPerRequest = 10

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type generatedWords struct {
	Words []Word `json:"words"`
}

// OpenAIGenerator asks a chat completion model for vocabulary entries.
type OpenAIGenerator struct {
	cfg     OpenAIConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[[]Word]
}

func NewOpenAIGenerator(cfg OpenAIConfig, client *http.Client) (*OpenAIGenerator, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &OpenAIGenerator{
		cfg:    cfg,
		client: client,
		breaker: metrics.NewBreaker[[]Word](metrics.BreakerSettings{
			Name:             "openai",
			FailureThreshold: 3,
			OpenTimeout:      time.Minute,
		}, nil),
	}, nil
}

func (g *OpenAIGenerator) Generate(ctx context.Context, category string, count int, exclude []string) ([]Word, error) {
	if count <= 0 {
		return nil, nil
	}
	if count > maxGeneratedPerRequest {
		count = maxGeneratedPerRequest
	}
	words, err := g.breaker.Execute(func() ([]Word, error) {
		return g.request(ctx, category, count, exclude)
	})
	if err != nil {
		metrics.GeneratedWords.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.GeneratedWords.WithLabelValues("ok").Add(float64(len(words)))
	return words, nil
}

func (g *OpenAIGenerator) request(ctx context.Context, category string, count int, exclude []string) ([]Word, error) {
	prompt := fmt.Sprintf(
		"Generate %d useful English vocabulary words for the topic %q. "+
			"Return JSON {\"words\": [{\"word\", \"pronunciation\", \"definition\", \"example\", \"memory_aid\", \"part_of_speech\"}]}.",
		count, category,
	)
	if len(exclude) > 0 {
		prompt += " Do not use any of these words: " + strings.Join(exclude, ", ") + "."
	}

	body, err := json.Marshal(chatRequest{
		Model: g.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: "You write concise vocabulary cards for language learners."},
			{Role: "user", Content: prompt},
		},
		Temperature:    0.7,
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(g.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("openai error (status %d): %s", resp.StatusCode, parsed.Error.Message)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("openai returned status %d", resp.StatusCode)
	}
	if len(parsed.Choices) == 0 {
		return nil, errors.New("openai returned no choices")
	}

	var generated generatedWords
	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), &generated); err != nil {
		return nil, fmt.Errorf("decode generated words: %w", err)
	}

	words := make([]Word, 0, len(generated.Words))
	for _, w := range generated.Words {
		w.Word = strings.TrimSpace(w.Word)
		if w.Word == "" {
			continue
		}
		words = append(words, w)
		if len(words) == count {
			break
		}
	}
	return words, nil
}
