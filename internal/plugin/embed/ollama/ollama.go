// Package ollama embeds text through a local Ollama server, the
// default embedding provider.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/chronicle-rpg/chronicle/internal/config"
	registryembed "github.com/chronicle-rpg/chronicle/internal/registry/embed"
	registrystore "github.com/chronicle-rpg/chronicle/internal/registry/store"
)

func init() {
	registryembed.Register(registryembed.Plugin{
		Name:   "ollama",
		Loader: load,
	})
}

func load(ctx context.Context) (registryembed.Embedder, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return nil, fmt.Errorf("ollama embedder: missing config in context")
	}
	model := strings.TrimSpace(cfg.EmbedModelName)
	if model == "" {
		model = "nomic-embed-text"
	}
	dim := cfg.EmbedDimensions
	if dim <= 0 && model == "nomic-embed-text" {
		dim = 768
	}
	return &OllamaEmbedder{
		baseURL: strings.TrimRight(cfg.OllamaURL, "/"),
		model:   model,
		dim:     dim,
		client:  &http.Client{Timeout: cfg.EmbedTimeout},
	}, nil
}

type OllamaEmbedder struct {
	baseURL string
	model   string
	dim     int
	client  *http.Client
}

func (e *OllamaEmbedder) ModelName() string { return e.model }
func (e *OllamaEmbedder) Dimension() int    { return e.dim }

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error"`
}

func (e *OllamaEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	reqBody, err := json.Marshal(embedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, &registrystore.BackendUnavailableError{Backend: "ollama", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: read response: %w", err)
	}
	if resp.StatusCode >= 500 {
		return nil, &registrystore.BackendUnavailableError{
			Backend: "ollama",
			Err:     fmt.Errorf("embed returned status %d", resp.StatusCode),
		}
	}

	var result embedResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("ollama embed: parse response: %w", err)
	}
	if result.Error != "" {
		return nil, fmt.Errorf("ollama embed error: %s", result.Error)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embed: expected %d embeddings, got %d", len(texts), len(result.Embeddings))
	}
	return result.Embeddings, nil
}

var _ registryembed.Embedder = (*OllamaEmbedder)(nil)
