package disabled

import (
	"context"
	"fmt"

	"github.com/chronicle-rpg/chronicle/internal/registry/infer"
)

func init() {
	infer.Register(infer.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (infer.Narrator, error) {
			return &disabledNarrator{}, nil
		},
	})
}

type disabledNarrator struct{}

func (d *disabledNarrator) Generate(_ context.Context, _ infer.Request) (*infer.Response, error) {
	return nil, fmt.Errorf("inference is disabled")
}

func (d *disabledNarrator) ModelName() string { return "none" }

var _ infer.Narrator = (*disabledNarrator)(nil)
