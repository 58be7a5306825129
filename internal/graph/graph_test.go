package graph

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/models"
)

// vault maps ids to their outgoing references in path#Anchor form.
type vault map[string][]string

func (v vault) fetcher(calls *atomic.Int64) Fetcher {
	return func(_ context.Context, id string) (*models.Document, error) {
		if calls != nil {
			calls.Add(1)
		}
		refs, ok := v[id]
		if !ok {
			return nil, apperr.NotFound(id)
		}
		doc := &models.Document{ID: id}
		for i, raw := range refs {
			r := models.ParseReference(raw)
			r.Order = i
			doc.Refs = append(doc.Refs, r)
		}
		return doc, nil
	}
}

func ids(nodes []*Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}

func roots(targets ...string) []models.Reference {
	out := make([]models.Reference, len(targets))
	for i, t := range targets {
		out[i] = models.ParseReference(t)
	}
	return out
}

func TestBuild_TiersAndOrder(t *testing.T) {
	v := vault{
		"root": {"a", "b"},
		"a":    {"c", "b"},
		"b":    {"d"},
		"c":    nil,
		"d":    nil,
	}
	g, err := Build(context.Background(), roots("root"), v.fetcher(nil), 4)
	require.NoError(t, err)
	require.NoError(t, g.DetectCycle())

	lin := g.Linearize()
	assert.Equal(t, []string{"root", "a", "b", "c", "d"}, ids(lin))
	tiers := map[string]int{}
	for _, n := range lin {
		tiers[n.ID] = n.Tier
	}
	assert.Equal(t, map[string]int{"root": 0, "a": 1, "b": 1, "c": 2, "d": 2}, tiers)
}

func TestBuild_DeterministicAcrossWorkers(t *testing.T) {
	v := vault{"root": {"a", "b", "c", "d", "e"}}
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		v[id] = []string{"z" + id}
		v["z"+id] = nil
	}
	want := []string{"root", "a", "b", "c", "d", "e", "za", "zb", "zc", "zd", "ze"}
	for _, workers := range []int{1, 2, 8} {
		g, err := Build(context.Background(), roots("root"), v.fetcher(nil), workers)
		require.NoError(t, err)
		assert.Equal(t, want, ids(g.Linearize()), "workers=%d", workers)
	}
}

func TestBuild_FetchesEachDocumentOnce(t *testing.T) {
	v := vault{"root": {"a", "b"}, "a": {"c"}, "b": {"c"}, "c": nil}
	var calls atomic.Int64
	g, err := Build(context.Background(), roots("root"), v.fetcher(&calls), 4)
	require.NoError(t, err)
	assert.Len(t, g.Nodes, 4)
	assert.Equal(t, int64(4), calls.Load())
	require.NoError(t, g.DetectCycle(), "diamond is not a cycle")
}

func TestBuild_AnchorSelectorsRecorded(t *testing.T) {
	v := vault{"root": {"a#Login", "a#Setup", "a#login"}, "a": nil}
	g, err := Build(context.Background(), roots("root"), v.fetcher(nil), 1)
	require.NoError(t, err)
	n, ok := g.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, []string{"Login", "Setup"}, n.Anchors)
	assert.Len(t, g.Nodes[0].Edges, 1, "one edge per target")
}

func TestBuild_RootFocus(t *testing.T) {
	v := vault{"a": nil}
	g, err := Build(context.Background(), roots("a#Login"), v.fetcher(nil), 1)
	require.NoError(t, err)
	assert.Equal(t, "Login", g.Nodes[0].Focus)
	assert.True(t, g.Nodes[0].Root)
}

func TestBuild_MissingRootFails(t *testing.T) {
	_, err := Build(context.Background(), roots("nope"), vault{}.fetcher(nil), 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestBuild_MissingLeafSkippedWithWarning(t *testing.T) {
	v := vault{"root": {"ghost", "a"}, "a": {"ghost"}}
	var calls atomic.Int64
	g, err := Build(context.Background(), roots("root"), v.fetcher(&calls), 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"root", "a"}, ids(g.Linearize()))
	require.Len(t, g.Warnings, 1)
	assert.Contains(t, g.Warnings[0], "ghost")
	assert.Equal(t, int64(3), calls.Load(), "skipped target fetched once")
}

func TestBuild_MultipleRoots(t *testing.T) {
	v := vault{"r1": {"a"}, "r2": {"a", "b"}, "a": nil, "b": nil}
	g, err := Build(context.Background(), roots("r1", "r2", "r1"), v.fetcher(nil), 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "r2", "a", "b"}, ids(g.Linearize()))
	assert.Len(t, g.Roots, 2)
}

func TestBuild_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Build(ctx, roots("root"), vault{"root": nil}.fetcher(nil), 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDetectCycle_RotationIndependent(t *testing.T) {
	v := vault{"a": {"b"}, "b": {"c"}, "c": {"a"}}
	for _, entry := range []string{"a", "b", "c"} {
		v["root"] = []string{entry}
		g, err := Build(context.Background(), roots("root"), v.fetcher(nil), 2)
		require.NoError(t, err)

		err = g.DetectCycle()
		require.Error(t, err, "entry %s", entry)
		assert.ErrorIs(t, err, apperr.ErrCircularDependency)
		e := apperr.As(err)
		assert.ElementsMatch(t, []string{"a", "b", "c"}, e.Cycle, "entry %s", entry)
		assert.Equal(t, "root", e.Path[0])
		assert.Equal(t, entry, e.Path[len(e.Path)-1])
	}
}

func TestDetectCycle_ThroughRoot(t *testing.T) {
	v := vault{"root": {"a"}, "a": {"root"}}
	g, err := Build(context.Background(), roots("root"), v.fetcher(nil), 1)
	require.NoError(t, err)
	e := apperr.As(g.DetectCycle())
	require.NotNil(t, e)
	assert.Equal(t, []string{"root", "a", "root"}, e.Path)
	assert.ElementsMatch(t, []string{"root", "a"}, e.Cycle)
}

func TestDetectCycle_SelfReference(t *testing.T) {
	v := vault{"root": {"a"}, "a": {"a"}}
	g, err := Build(context.Background(), roots("root"), v.fetcher(nil), 1)
	require.NoError(t, err)
	e := apperr.As(g.DetectCycle())
	require.NotNil(t, e)
	assert.Equal(t, []string{"a"}, e.Cycle)
}

func TestDetectCycle_CycleViaAnchorReference(t *testing.T) {
	v := vault{"root": {"a#Login"}, "a": {"root#Intro"}}
	g, err := Build(context.Background(), roots("root"), v.fetcher(nil), 1)
	require.NoError(t, err)
	assert.ErrorIs(t, g.DetectCycle(), apperr.ErrCircularDependency)
}
