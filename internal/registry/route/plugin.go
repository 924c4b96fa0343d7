// Package route registers gin route loaders mounted by the serve
// command. Most endpoints mount explicitly from serve with their
// dependencies; this registry carries the ones that need nothing
// beyond the engine, like the health and metrics surface.
package route

import (
	"sort"

	"github.com/gin-gonic/gin"
)

// RouterLoader initializes routes on the gin engine.
type RouterLoader func(r *gin.Engine) error

// RouteType distinguishes API routes from operational ones.
type RouteType int

const (
	// RouteTypeMain marks routes of the campaign API.
	RouteTypeMain RouteType = iota
	// RouteTypeManagement marks health, readiness and metrics routes.
	// The service runs single-process, so they share the main listener.
	RouteTypeManagement
)

// Plugin is a route loader with its mount order and type.
type Plugin struct {
	Order  int
	Type   RouteType
	Loader RouterLoader
}

var plugins []Plugin

// Register adds a route plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

func loaders(t RouteType) []RouterLoader {
	ordered := append([]Plugin(nil), plugins...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Order < ordered[j].Order })

	var out []RouterLoader
	for _, p := range ordered {
		if p.Type == t {
			out = append(out, p.Loader)
		}
	}
	return out
}

// MainRouteLoaders returns the campaign API loaders in mount order.
func MainRouteLoaders() []RouterLoader { return loaders(RouteTypeMain) }

// ManagementRouteLoaders returns the operational loaders in mount order.
func ManagementRouteLoaders() []RouterLoader { return loaders(RouteTypeManagement) }
