// Package depgraph implements C7: the transitive runtime-dependency
// closure over a set of requested root packages, with cycle detection
// and equivalence-aware "already installed" checks.
package depgraph

import (
	"fmt"
	"sort"

	"github.com/velo-pm/velo/internal/formula"
	"github.com/velo-pm/velo/internal/layout"
	"github.com/velo-pm/velo/internal/tapindex"
	"github.com/velo-pm/velo/internal/vlog"
)

// Node is one package in the graph.
type Node struct {
	Name        string
	Formula     *formula.Formula
	IsInstalled bool
	Installable bool
	RequiredBy  []string // dependents that brought this node in
}

// Graph is the resolved dependency graph for a set of requested roots.
type Graph struct {
	Roots    []string
	nodes    map[string]*Node
	order    []string // insertion order, stable for iteration
	equivSet map[string][]string
}

// Build computes the full transitive closure over roots, loading each
// formula from idx and checking installed state against l. Host
// determines bottle compatibility for the Installable flag. Cycles are
// broken by ignoring the back edge and logging a warning; they are not
// expected in practice.
func Build(roots []string, idx *tapindex.Index, l *layout.Layout, host formula.Host, log vlog.Logger) (*Graph, error) {
	if log == nil {
		log = vlog.NewNoop()
	}

	g := &Graph{Roots: roots, nodes: map[string]*Node{}}

	installedByBase := map[string]bool{}
	if installed, err := l.InstalledPackages(); err == nil {
		for _, name := range installed {
			installedByBase[formula.BaseName(name)] = true
		}
		g.equivSet = groupByBase(installed)
	}

	visiting := map[string]bool{}

	var visit func(name string, requiredBy string) error
	visit = func(name string, requiredBy string) error {
		if visiting[name] {
			log.Warn("dependency cycle detected; ignoring back edge", "name", name, "from", requiredBy)
			return nil
		}
		if existing, ok := g.nodes[name]; ok {
			if requiredBy != "" {
				existing.RequiredBy = appendUnique(existing.RequiredBy, requiredBy)
			}
			return nil
		}
		visiting[name] = true
		defer delete(visiting, name)

		f, err := idx.LoadFormula(name)
		if err != nil {
			return fmt.Errorf("depgraph: load formula %q: %w", name, err)
		}

		node := &Node{
			Name:        name,
			Formula:     f,
			IsInstalled: l.IsInstalled(name) || installedByBase[formula.BaseName(name)],
		}
		if _, ok := f.PreferredBottle(host); ok {
			node.Installable = true
		}
		if requiredBy != "" {
			node.RequiredBy = append(node.RequiredBy, requiredBy)
		}

		g.nodes[name] = node
		g.order = append(g.order, name)

		for _, dep := range f.RequiredDependencies() {
			if err := visit(dep.Name, name); err != nil {
				return err
			}
		}
		return nil
	}

	for _, root := range roots {
		if err := visit(root, ""); err != nil {
			return nil, err
		}
	}

	return g, nil
}

func groupByBase(names []string) map[string][]string {
	out := map[string][]string{}
	for _, n := range names {
		base := formula.BaseName(n)
		out[base] = append(out[base], n)
	}
	return out
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

// Node returns the node for name, or nil if not present in the graph.
func (g *Graph) Node(name string) *Node {
	return g.nodes[name]
}

// IsEquivalentInstalled reports whether name, or any "@slot" variant of
// the same base package, is already installed.
func (g *Graph) IsEquivalentInstalled(name string) bool {
	base := formula.BaseName(name)
	if len(g.equivSet[base]) > 0 {
		return true
	}
	if node := g.nodes[name]; node != nil {
		return node.IsInstalled
	}
	return false
}

// AllPackages returns every node name in resolution order.
func (g *Graph) AllPackages() []string {
	return append([]string(nil), g.order...)
}

// NewPackages returns nodes that are not installed (directly or via
// equivalence).
func (g *Graph) NewPackages() []string {
	var out []string
	for _, name := range g.order {
		if !g.IsEquivalentInstalled(name) {
			out = append(out, name)
		}
	}
	return out
}

// InstallablePackages returns nodes whose formula has a compatible
// bottle for the host.
func (g *Graph) InstallablePackages() []string {
	var out []string
	for _, name := range g.order {
		if g.nodes[name].Installable {
			out = append(out, name)
		}
	}
	return out
}

// UninstallablePackages returns nodes with no compatible bottle for the
// host.
func (g *Graph) UninstallablePackages() []string {
	var out []string
	for _, name := range g.order {
		if !g.nodes[name].Installable {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Dependencies returns the direct required-dependency names of name.
func (g *Graph) Dependencies(name string) []string {
	node := g.nodes[name]
	if node == nil {
		return nil
	}
	var out []string
	for _, dep := range node.Formula.RequiredDependencies() {
		out = append(out, dep.Name)
	}
	return out
}
