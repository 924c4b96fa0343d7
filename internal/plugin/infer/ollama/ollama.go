// Package ollama generates narration through a local Ollama server.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chronicle-rpg/chronicle/internal/config"
	registryinfer "github.com/chronicle-rpg/chronicle/internal/registry/infer"
	registrystore "github.com/chronicle-rpg/chronicle/internal/registry/store"
)

func init() {
	registryinfer.Register(registryinfer.Plugin{
		Name:   "ollama",
		Loader: load,
	})
}

func load(ctx context.Context) (registryinfer.Narrator, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return nil, fmt.Errorf("ollama narrator: missing config in context")
	}
	model := strings.TrimSpace(cfg.InferModelName)
	if model == "" {
		model = "llama3.1"
	}
	return &OllamaNarrator{
		baseURL:     strings.TrimRight(cfg.OllamaURL, "/"),
		model:       model,
		temperature: cfg.InferTemperature,
		maxTokens:   cfg.InferMaxTokens,
		client:      &http.Client{Timeout: cfg.InferTimeout},
	}, nil
}

type OllamaNarrator struct {
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	client      *http.Client
}

func (n *OllamaNarrator) ModelName() string { return n.model }

type generateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error"`
}

func (n *OllamaNarrator) Generate(ctx context.Context, req registryinfer.Request) (*registryinfer.Response, error) {
	model := req.Model
	if model == "" {
		model = n.model
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = n.temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = n.maxTokens
	}

	body, err := json.Marshal(generateRequest{
		Model:  model,
		Prompt: req.Prompt,
		Stream: false,
		Options: map[string]interface{}{
			"temperature": temperature,
			"num_predict": maxTokens,
		},
	})
	if err != nil {
		return nil, err
	}

	// One bounded retry: the common failure is a model that is still
	// loading on first use.
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(2 * time.Second):
			}
		}
		text, err := n.generateOnce(ctx, body)
		if err == nil {
			return &registryinfer.Response{Text: text, Model: model}, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, &registrystore.BackendUnavailableError{Backend: "ollama", Err: lastErr}
}

func (n *OllamaNarrator) generateOnce(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("generate returned status %d", resp.StatusCode)
	}

	var result generateResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if result.Error != "" {
		return "", fmt.Errorf("generate error: %s", result.Error)
	}
	return strings.TrimSpace(result.Response), nil
}

var _ registryinfer.Narrator = (*OllamaNarrator)(nil)
