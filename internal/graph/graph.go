// Package graph builds the dependency graph of a resolution: nodes reachable
// from the root set through declared references, stored in an arena and
// addressed by index.
package graph

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/models"
)

// Fetcher returns the parsed document for id. It must be safe for concurrent
// use; Build calls it from several goroutines for documents of one tier.
type Fetcher func(ctx context.Context, id string) (*models.Document, error)

// Node is one document in the graph.
type Node struct {
	Index int
	ID    string
	Doc   *models.Document
	Tier  int // distance from the nearest root
	Order int // first-discovery order
	Root  bool
	// Focus narrows a root to a single anchor when the root reference
	// carried a selector.
	Focus string
	// Anchors lists the anchor selectors of incoming references in
	// discovery order, de-duplicated by normalized name.
	Anchors []string
	Edges   []int
}

// Graph is the set of nodes reachable from the roots plus their edges.
type Graph struct {
	Nodes    []*Node
	Roots    []int
	Warnings []string

	byID    map[string]int
	skipped map[string]struct{}
}

// Lookup returns the node for id.
func (g *Graph) Lookup(id string) (*Node, bool) {
	i, ok := g.byID[id]
	if !ok {
		return nil, false
	}
	return g.Nodes[i], true
}

type edge struct {
	from   int
	target string
	anchor string
}

// Build expands breadth-first from roots until no new documents are
// discovered. Documents of one tier are fetched in parallel with at most
// workers goroutines; discovery order stays deterministic. A root that cannot
// be fetched fails the build; any other unreachable document is skipped and
// recorded in Warnings.
func Build(ctx context.Context, roots []models.Reference, fetch Fetcher, workers int) (*Graph, error) {
	if len(roots) == 0 {
		return nil, errors.New("graph: empty root set")
	}
	g := &Graph{byID: make(map[string]int), skipped: make(map[string]struct{})}

	var rootIDs []string
	for _, r := range roots {
		if _, dup := g.byID[r.Target]; dup {
			continue
		}
		g.byID[r.Target] = -1
		rootIDs = append(rootIDs, r.Target)
	}
	docs, errs := fetchAll(ctx, rootIDs, fetch, workers)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for i, id := range rootIDs {
		if errs[i] != nil {
			return nil, errs[i]
		}
		n := g.add(id, docs[i], 0)
		n.Root = true
		g.Roots = append(g.Roots, n.Index)
	}
	for _, r := range roots {
		if r.Anchor == "" {
			continue
		}
		n := g.Nodes[g.byID[r.Target]]
		if n.Focus == "" {
			n.Focus = r.Anchor
		}
	}

	frontier := append([]int(nil), g.Roots...)
	for tier := 1; len(frontier) > 0; tier++ {
		var (
			edges  []edge
			queued []string
		)
		seen := make(map[string]struct{})
		for _, idx := range frontier {
			for _, ref := range g.Nodes[idx].Doc.Refs {
				if _, skip := g.skipped[ref.Target]; skip {
					continue
				}
				edges = append(edges, edge{from: idx, target: ref.Target, anchor: ref.Anchor})
				if _, known := g.byID[ref.Target]; known {
					continue
				}
				if _, dup := seen[ref.Target]; dup {
					continue
				}
				seen[ref.Target] = struct{}{}
				queued = append(queued, ref.Target)
			}
		}

		docs, errs := fetchAll(ctx, queued, fetch, workers)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		frontier = frontier[:0]
		for i, id := range queued {
			if errs[i] != nil {
				g.skipped[id] = struct{}{}
				g.Warnings = append(g.Warnings, fmt.Sprintf("skipped %s: %v", id, errs[i]))
				continue
			}
			frontier = append(frontier, g.add(id, docs[i], tier).Index)
		}

		for _, e := range edges {
			to, ok := g.byID[e.target]
			if !ok || to < 0 {
				continue
			}
			g.link(e.from, to, e.anchor)
		}
	}
	return g, nil
}

func (g *Graph) add(id string, doc *models.Document, tier int) *Node {
	n := &Node{Index: len(g.Nodes), ID: id, Doc: doc, Tier: tier, Order: len(g.Nodes)}
	g.Nodes = append(g.Nodes, n)
	g.byID[id] = n.Index
	return n
}

func (g *Graph) link(from, to int, anchor string) {
	src, dst := g.Nodes[from], g.Nodes[to]
	present := false
	for _, e := range src.Edges {
		if e == to {
			present = true
			break
		}
	}
	if !present {
		src.Edges = append(src.Edges, to)
	}
	if anchor == "" {
		return
	}
	want := models.NormalizeAnchor(anchor)
	for _, a := range dst.Anchors {
		if models.NormalizeAnchor(a) == want {
			return
		}
	}
	dst.Anchors = append(dst.Anchors, anchor)
}

// fetchAll fetches ids concurrently and returns results aligned with ids.
// Context cancellation is reported through ctx.Err by the caller.
func fetchAll(ctx context.Context, ids []string, fetch Fetcher, workers int) ([]*models.Document, []error) {
	docs := make([]*models.Document, len(ids))
	errs := make([]error, len(ids))
	if len(ids) == 0 {
		return docs, errs
	}
	if workers <= 0 {
		workers = 1
	}
	var eg errgroup.Group
	eg.SetLimit(workers)
	for i, id := range ids {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			docs[i], errs[i] = fetch(ctx, id)
			return nil
		})
	}
	_ = eg.Wait()
	return docs, errs
}

const (
	unvisited = iota
	onStack
	finished
)

// DetectCycle runs a depth-first traversal from every root, following edges
// in declaration order. Reaching a node that is still on the recursion stack
// reports CircularDependency with the path from the root through the repeated
// node.
func (g *Graph) DetectCycle() error {
	marks := make([]int, len(g.Nodes))
	var path []string

	var visit func(i int) error
	visit = func(i int) error {
		marks[i] = onStack
		path = append(path, g.Nodes[i].ID)
		for _, next := range g.Nodes[i].Edges {
			switch marks[next] {
			case onStack:
				return apperr.CircularDependency(append(append([]string(nil), path...), g.Nodes[next].ID))
			case unvisited:
				if err := visit(next); err != nil {
					return err
				}
			}
		}
		path = path[:len(path)-1]
		marks[i] = finished
		return nil
	}

	for _, r := range g.Roots {
		if marks[r] != unvisited {
			continue
		}
		if err := visit(r); err != nil {
			return err
		}
	}
	return nil
}

// Linearize returns nodes ordered by tier, then by first-discovery order.
func (g *Graph) Linearize() []*Node {
	out := make([]*Node, len(g.Nodes))
	copy(out, g.Nodes)
	// BFS discovery already yields tier-major order; the insertion sort keeps
	// the guarantee explicit without reordering equal keys.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && less(out[j], out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func less(a, b *Node) bool {
	if a.Tier != b.Tier {
		return a.Tier < b.Tier
	}
	return a.Order < b.Order
}
