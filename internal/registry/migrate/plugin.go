// Package migrate collects the schema migrators that store and vector
// plugins register at init time. Orders are spaced out so the
// relational schema lands before the vector tables that reference it.
package migrate

import (
	"context"
	"fmt"
	"sort"

	"github.com/charmbracelet/log"
)

// Migrator brings one plugin's schema up to date. Implementations must
// be idempotent; RunAll executes on every startup.
type Migrator interface {
	Name() string
	Migrate(ctx context.Context) error
}

// Plugin pairs a migrator with its position in the run order.
type Plugin struct {
	Order    int
	Migrator Migrator
}

var plugins []Plugin

// Register adds a migrator. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// RunAll runs every registered migrator in ascending order, stopping
// at the first failure.
func RunAll(ctx context.Context) error {
	ordered := append([]Plugin(nil), plugins...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Order < ordered[j].Order })

	for _, p := range ordered {
		log.Debug("Running migration", "name", p.Migrator.Name())
		if err := p.Migrator.Migrate(ctx); err != nil {
			return fmt.Errorf("migration %s failed: %w", p.Migrator.Name(), err)
		}
	}
	return nil
}
