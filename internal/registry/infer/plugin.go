package infer

import (
	"context"
	"fmt"
)

// Request carries the assembled context and sampling parameters for
// one generation call.
type Request struct {
	Prompt      string
	Model       string
	Temperature float64
	MaxTokens   int
}

// Response is the generated narrative.
type Response struct {
	Text  string
	Model string
}

// Narrator is the inference backend boundary. Implementations treat
// the backend as an untrusted, possibly slow collaborator: every call
// honors ctx cancellation and deadlines, and transient network
// failures get at most one bounded retry.
type Narrator interface {
	Generate(ctx context.Context, req Request) (*Response, error)
	// ModelName returns the default model identifier.
	ModelName() string
}

// Loader creates a Narrator from config.
type Loader func(ctx context.Context) (Narrator, error)

// Plugin represents an inference backend plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds an inference backend plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered inference backend plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named inference backend plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown inference backend %q; valid: %v", name, Names())
}
