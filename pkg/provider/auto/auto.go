// Package auto routes chat requests to a concrete provider and model based on
// the complexity class declared by the prompt that produced them. It lets
// callers address "provider: auto" and have the operator-maintained routing
// table decide which backend actually serves the call.
package auto

import (
	"fmt"
	"sort"
)

// DefaultClass is the routing class used when a prompt declares no
// complexity, declares an unknown one, or no prompt is involved at all.
const DefaultClass = "default"

// Route names the provider and model that should serve a complexity class.
type Route struct {
	Provider string `yaml:"provider" json:"provider"`
	Model    string `yaml:"model" json:"model"`
}

// MetaLookup resolves the complexity class declared by a prompt version.
// The second return is false when the prompt is unknown or declares nothing.
type MetaLookup interface {
	Complexity(id, version string) (string, bool)
}

// Router maps complexity classes to routes. The table is fixed at
// construction, so lookups need no locking.
type Router struct {
	table map[string]Route
	meta  MetaLookup
}

// New builds a Router from table. The table must contain a route for
// [DefaultClass]; every other class falls back to it.
func New(table map[string]Route, meta MetaLookup) (*Router, error) {
	if len(table) == 0 {
		return nil, fmt.Errorf("auto: routing table must not be empty")
	}
	def, ok := table[DefaultClass]
	if !ok {
		return nil, fmt.Errorf("auto: routing table missing %q class", DefaultClass)
	}
	if def.Provider == "" || def.Model == "" {
		return nil, fmt.Errorf("auto: %q route must name a provider and model", DefaultClass)
	}
	copied := make(map[string]Route, len(table))
	for class, r := range table {
		if r.Provider == "" || r.Model == "" {
			return nil, fmt.Errorf("auto: route for class %q must name a provider and model", class)
		}
		copied[class] = r
	}
	return &Router{table: copied, meta: meta}, nil
}

// RouteForClass returns the route for class, falling back to the default
// route for unknown classes.
func (r *Router) RouteForClass(class string) Route {
	if route, ok := r.table[class]; ok {
		return route
	}
	return r.table[DefaultClass]
}

// RouteForPrompt resolves the complexity class of the given prompt version
// and returns its route. Unknown prompts route to the default class.
func (r *Router) RouteForPrompt(id, version string) Route {
	if r.meta != nil {
		if class, ok := r.meta.Complexity(id, version); ok {
			return r.RouteForClass(class)
		}
	}
	return r.table[DefaultClass]
}

// Classes returns all configured complexity classes, sorted.
func (r *Router) Classes() []string {
	classes := make([]string, 0, len(r.table))
	for class := range r.table {
		classes = append(classes, class)
	}
	sort.Strings(classes)
	return classes
}
