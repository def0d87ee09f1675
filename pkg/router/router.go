// Package router resolves model identifiers to backend family adapters.
//
// Resolution order is: exact model id, then glob patterns ordered by
// specificity (the number of literal characters), then failure. There is no
// implicit fallback; a catch-all must be configured explicitly as "*".
package router

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/rhuss/modelbridge/pkg/api"
	"github.com/rhuss/modelbridge/pkg/debug"
	"github.com/rhuss/modelbridge/pkg/provider"
)

// Entry binds an adapter to the models it serves.
type Entry struct {
	Adapter provider.Adapter

	// Models are exact model identifiers.
	Models []string

	// Patterns are path.Match globs, e.g. "family-a-*".
	Patterns []string
}

// Route is one row of the routing table.
type Route struct {
	Match  string
	Exact  bool
	Family string
	Kind   provider.Kind
}

type pattern struct {
	glob        string
	family      string
	specificity int
}

// Router is an immutable routing table. It is safe for concurrent use.
type Router struct {
	adapters map[string]provider.Adapter
	exact    map[string]string
	patterns []pattern
}

// New builds a router from entries. Family names must be unique, and an
// exact model id or pattern may only be claimed by one family.
func New(entries ...Entry) (*Router, error) {
	r := &Router{
		adapters: make(map[string]provider.Adapter, len(entries)),
		exact:    make(map[string]string),
	}
	seenPatterns := make(map[string]string)

	for _, e := range entries {
		if e.Adapter == nil {
			return nil, fmt.Errorf("router: entry without adapter")
		}
		family := e.Adapter.Name()
		if _, dup := r.adapters[family]; dup {
			return nil, fmt.Errorf("router: family %q registered twice", family)
		}
		r.adapters[family] = e.Adapter

		for _, m := range e.Models {
			m = strings.TrimSpace(m)
			if m == "" {
				continue
			}
			if owner, dup := r.exact[m]; dup {
				return nil, fmt.Errorf("router: model %q claimed by both %q and %q", m, owner, family)
			}
			r.exact[m] = family
		}

		for _, p := range e.Patterns {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			if _, err := path.Match(p, ""); err != nil {
				return nil, fmt.Errorf("router: family %q: invalid pattern %q: %w", family, p, err)
			}
			if owner, dup := seenPatterns[p]; dup {
				return nil, fmt.Errorf("router: pattern %q claimed by both %q and %q", p, owner, family)
			}
			seenPatterns[p] = family
			r.patterns = append(r.patterns, pattern{
				glob:        p,
				family:      family,
				specificity: specificity(p),
			})
		}
	}

	sort.Slice(r.patterns, func(i, j int) bool {
		if r.patterns[i].specificity == r.patterns[j].specificity {
			return r.patterns[i].glob < r.patterns[j].glob
		}
		return r.patterns[i].specificity > r.patterns[j].specificity
	})

	return r, nil
}

// specificity counts the literal characters of a glob.
func specificity(glob string) int {
	n := 0
	escaped := false
	inClass := false
	for _, c := range glob {
		switch {
		case escaped:
			escaped = false
			n++
		case c == '\\':
			escaped = true
		case inClass:
			if c == ']' {
				inClass = false
			}
		case c == '[':
			inClass = true
		case c == '*' || c == '?':
		default:
			n++
		}
	}
	return n
}

// Resolve returns the adapter serving modelID. It performs no I/O.
func (r *Router) Resolve(modelID string) (provider.Adapter, error) {
	modelID = strings.TrimSpace(modelID)
	if modelID == "" {
		return nil, api.NewInvalidRequestError("model_id", "model_id is required")
	}

	if family, ok := r.exact[modelID]; ok {
		debug.Log("router", "exact match", "model", modelID, "family", family)
		return r.adapters[family], nil
	}

	for _, p := range r.patterns {
		if ok, _ := path.Match(p.glob, modelID); ok {
			debug.Log("router", "pattern match", "model", modelID, "pattern", p.glob, "family", p.family)
			return r.adapters[p.family], nil
		}
	}

	debug.Log("router", "no route", "model", modelID)
	return nil, api.NewUnknownModelError(modelID)
}

// Adapter returns the adapter registered under a family name.
func (r *Router) Adapter(family string) (provider.Adapter, bool) {
	a, ok := r.adapters[family]
	return a, ok
}

// Families returns the registered family names in sorted order.
func (r *Router) Families() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Routes lists the table in resolution order: exact ids alphabetically,
// then patterns by specificity.
func (r *Router) Routes() []Route {
	models := make([]string, 0, len(r.exact))
	for m := range r.exact {
		models = append(models, m)
	}
	sort.Strings(models)

	routes := make([]Route, 0, len(models)+len(r.patterns))
	for _, m := range models {
		family := r.exact[m]
		routes = append(routes, Route{Match: m, Exact: true, Family: family, Kind: r.adapters[family].Kind()})
	}
	for _, p := range r.patterns {
		routes = append(routes, Route{Match: p.glob, Family: p.family, Kind: r.adapters[p.family].Kind()})
	}
	return routes
}
