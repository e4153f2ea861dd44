// Package planner implements C8: a topological ordering of a depgraph's
// new, installable packages into a safe install sequence.
package planner

import (
	"fmt"

	"github.com/velo-pm/velo/internal/depgraph"
)

// Order returns a topological ordering of new_packages ∩
// installable_packages such that every dependency appears before its
// dependents. Packages already installed are omitted from the order but
// remain reachable in g for edge lookup. The root(s) always appear last
// among their own dependency chain.
func Order(g *depgraph.Graph) ([]string, error) {
	installable := map[string]bool{}
	for _, name := range g.InstallablePackages() {
		installable[name] = true
	}
	pending := map[string]bool{}
	for _, name := range g.NewPackages() {
		if installable[name] {
			pending[name] = true
		}
	}

	var order []string
	visited := map[string]bool{}
	inStack := map[string]bool{}

	var visit func(name string) error
	visit = func(name string) error {
		if visited[name] {
			return nil
		}
		if inStack[name] {
			return fmt.Errorf("planner: cycle detected at %q", name)
		}
		inStack[name] = true

		for _, dep := range g.Dependencies(name) {
			if !pending[dep] {
				continue // already installed or uninstallable; not part of this plan
			}
			if err := visit(dep); err != nil {
				return err
			}
		}

		inStack[name] = false
		visited[name] = true
		order = append(order, name)
		return nil
	}

	for _, root := range g.Roots {
		if !pending[root] {
			continue
		}
		if err := visit(root); err != nil {
			return nil, err
		}
	}
	// Any remaining pending nodes (transitive deps reached only via
	// other pending deps) are visited in graph order for determinism.
	for _, name := range g.AllPackages() {
		if pending[name] && !visited[name] {
			if err := visit(name); err != nil {
				return nil, err
			}
		}
	}

	return order, nil
}
