package budget

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/graph"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/parser"
)

func build(t *testing.T, files map[string]string, roots ...string) []*graph.Node {
	t.Helper()
	fetch := func(_ context.Context, id string) (*models.Document, error) {
		content, ok := files[id]
		if !ok {
			return nil, apperr.NotFound(id)
		}
		return parser.Parse(id, []byte(content))
	}
	var refs []models.Reference
	for _, r := range roots {
		refs = append(refs, models.ParseReference(r))
	}
	g, err := graph.Build(context.Background(), refs, fetch, 2)
	require.NoError(t, err)
	require.NoError(t, g.DetectCycle())
	return g.Linearize()
}

func scenario() map[string]string {
	filler := strings.Repeat("Background paragraph about the product. ", 40)
	return map[string]string{
		"root.md": "---\nrefs:\n  - a.md#Login\n---\n# Root\nRoot context.\n",
		"a.md":    "# Doc A\n" + filler + "\n## Login\nShort login steps.\n## Other\n" + filler + "\nSee [[b]].\n",
		"b.md":    "# File B\n" + filler + "\n",
	}
}

func TestPack_ScenarioFullBudget(t *testing.T) {
	nodes := build(t, scenario(), "root.md")
	res := Pack(nodes, 1<<20)
	assert.Equal(t, []string{"root.md", "a.md", "b.md"}, labels(res))
	assert.False(t, res.Truncated)
}

func TestPack_ScenarioAnchorFallback(t *testing.T) {
	nodes := build(t, scenario(), "root.md")
	full := Pack(nodes, 1<<20)
	rootCost, aCost, bCost := full.Segments[0].Tokens, full.Segments[1].Tokens, full.Segments[2].Tokens

	a, ok := nodes[1].Doc.FindAnchor("Login")
	require.True(t, ok)
	loginCost := anchorSegment(nodes[1], a).Tokens

	limit := fitWithMarker(rootCost+loginCost, "b.md")
	require.Less(t, limit, rootCost+aCost)
	require.Greater(t, bCost, 1)

	res := Pack(nodes, limit)
	assert.Equal(t, []string{"root.md", "a.md#Login", "truncated"}, labels(res))
	assert.True(t, res.Truncated)
	assert.LessOrEqual(t, res.Estimated, limit)
	assert.Equal(t, []string{"b.md"}, res.Omitted)
	assert.Contains(t, res.Text(), "Short login steps.")
	assert.NotContains(t, res.Text(), "# File B")
	assert.NotContains(t, res.Text(), "## Other")
}

func TestPack_RootAlwaysIncluded(t *testing.T) {
	files := map[string]string{
		"root.md": "# Root\n" + strings.Repeat("x", 400) + "\n[[a]]\n",
		"a.md":    "tiny\n",
	}
	nodes := build(t, files, "root.md")
	res := Pack(nodes, 10)
	require.Len(t, res.Segments, 2)
	assert.Equal(t, models.SegmentDocument, res.Segments[0].Kind)
	assert.True(t, res.Segments[0].Oversized)
	assert.Equal(t, models.SegmentTruncation, res.Segments[1].Kind)
	assert.Contains(t, res.Segments[1].Text, "root exceeds budget")
	assert.Equal(t, []string{"a.md"}, res.Omitted)
}

func TestPack_OversizedLoneRootStillNoted(t *testing.T) {
	nodes := build(t, map[string]string{"root.md": strings.Repeat("y", 200)}, "root.md")
	res := Pack(nodes, 5)
	assert.Equal(t, []string{"root.md", "truncated"}, labels(res))
}

func TestPack_NoReconsiderationAfterTruncation(t *testing.T) {
	files := map[string]string{
		"root.md":  "[[big]] [[small]]\n",
		"big.md":   strings.Repeat("b", 2000),
		"small.md": "s\n",
	}
	nodes := build(t, files, "root.md")
	res := Pack(nodes, 100)
	assert.Equal(t, []string{"root.md", "truncated"}, labels(res), "small.md must not be packed after truncation")
	assert.Equal(t, []string{"big.md", "small.md"}, res.Omitted)
}

func TestPack_FirstDiscoveredWinsTie(t *testing.T) {
	body := strings.Repeat("z", 100)
	files := map[string]string{
		"root.md": "[[p]] [[q]]\n",
		"p.md":    body,
		"q.md":    body,
	}
	nodes := build(t, files, "root.md")
	full := Pack(nodes, 1<<20)
	limit := fitWithMarker(full.Segments[0].Tokens+full.Segments[1].Tokens, "q.md")
	res := Pack(nodes, limit)
	assert.Equal(t, []string{"root.md", "p.md", "truncated"}, labels(res))
	assert.Equal(t, []string{"q.md"}, res.Omitted)
}

func TestPack_MarkerCostReserved(t *testing.T) {
	nodes := build(t, scenario(), "root.md")
	full := Pack(nodes, 1<<20)
	rootCost := full.Segments[0].Tokens
	a, ok := nodes[1].Doc.FindAnchor("Login")
	require.True(t, ok)
	loginCost := anchorSegment(nodes[1], a).Tokens

	// One token short of the login section plus the marker that must follow it.
	limit := fitWithMarker(rootCost+loginCost, "b.md") - 1
	res := Pack(nodes, limit)
	assert.Equal(t, []string{"root.md", "truncated"}, labels(res))
	assert.Equal(t, []string{"a.md", "b.md"}, res.Omitted)
	assert.LessOrEqual(t, res.Estimated, limit)
	assert.False(t, res.Segments[0].Oversized)
}

func TestPack_RootLeavingNoRoomForMarker(t *testing.T) {
	files := map[string]string{
		"root.md": "# Root\n" + strings.Repeat("r", 120) + "\n[[a]]\n",
		"a.md":    strings.Repeat("a", 400),
	}
	nodes := build(t, files, "root.md")
	rootCost := Pack(nodes, 1<<20).Segments[0].Tokens
	res := Pack(nodes, rootCost+1)
	assert.Equal(t, []string{"root.md", "truncated"}, labels(res))
	assert.True(t, res.Segments[0].Oversized)
	assert.Contains(t, res.Segments[1].Text, "no room")
}

func TestPack_RootFocus(t *testing.T) {
	files := map[string]string{"a.md": "# A\nintro\n## Login\nsteps\n## Other\nmore\n"}
	res := Pack(build(t, files, "a.md#login"), 1000)
	require.Len(t, res.Segments, 1)
	assert.Equal(t, "a.md#Login", res.Segments[0].Label())
	assert.NotContains(t, res.Text(), "more")
}

func TestPack_RootFocusMissingWarns(t *testing.T) {
	files := map[string]string{"a.md": "# A\n"}
	res := Pack(build(t, files, "a.md#nope"), 1000)
	assert.Equal(t, []string{"a.md"}, labels(res))
	require.Len(t, res.Warnings, 1)
}

func TestMarker_CapsListedIDs(t *testing.T) {
	var omitted []string
	for i := 0; i < 15; i++ {
		omitted = append(omitted, fmt.Sprintf("d%02d.md", i))
	}
	m := marker(omitted, 50, "")
	assert.Contains(t, m, "omitted 15")
	assert.Contains(t, m, "and 5 more")
	assert.NotContains(t, m, "d14.md")
}

// TestPack_BudgetProperty packs random acyclic graphs under random budgets:
// the estimate stays within budget unless the root is oversized, and at most
// one truncation marker is present, always last.
func TestPack_BudgetProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 200; trial++ {
		n := 2 + rng.Intn(12)
		files := make(map[string]string, n)
		for i := 0; i < n; i++ {
			var b strings.Builder
			fmt.Fprintf(&b, "# Doc %d\n%s\n", i, strings.Repeat("w ", rng.Intn(200)))
			fmt.Fprintf(&b, "## Part\n%s\n", strings.Repeat("p ", rng.Intn(40)))
			for j := i + 1; j < n; j++ {
				if rng.Intn(3) == 0 {
					fmt.Fprintf(&b, "[[d%d#Part]]\n", j)
				}
			}
			files[fmt.Sprintf("d%d.md", i)] = b.String()
		}
		nodes := build(t, files, "d0.md")
		limit := 1 + rng.Intn(600)
		res := Pack(nodes, limit)

		markers := 0
		for _, s := range res.Segments {
			if s.Kind == models.SegmentTruncation {
				markers++
			}
		}
		require.LessOrEqual(t, markers, 1, "trial %d", trial)
		if markers == 0 {
			require.LessOrEqual(t, res.Estimated, limit, "trial %d", trial)
			continue
		}
		last := res.Segments[len(res.Segments)-1]
		require.Equal(t, models.SegmentTruncation, last.Kind, "marker must be last")
		if !res.Segments[0].Oversized {
			require.LessOrEqual(t, res.Estimated, limit, "trial %d", trial)
		}
	}
}

// fitWithMarker returns the smallest budget holding base tokens plus the
// truncation marker naming omitted. The marker text embeds the budget, so the
// cost is settled iteratively.
func fitWithMarker(base int, omitted ...string) int {
	limit := base
	for i := 0; i < 4; i++ {
		limit = base + markerCost(omitted, limit)
	}
	return limit
}

func labels(r Result) []string {
	out := make([]string, len(r.Segments))
	for i, s := range r.Segments {
		out[i] = s.Label()
	}
	return out
}

func TestResult_FrameRoundTrip(t *testing.T) {
	nodes := build(t, scenario(), "root.md")
	limit := 60
	res := Pack(nodes, limit)
	assert.Equal(t, res.Text(), res.Frame(res.Bodies()))

	bodies := res.Bodies()
	bodies[0] = "replaced\n"
	framed := res.Frame(bodies)
	assert.True(t, strings.HasPrefix(framed, "<!-- source: root.md -->\nreplaced\n\n"), framed)
	if res.Truncated {
		assert.True(t, strings.HasSuffix(framed, res.Segments[len(res.Segments)-1].Text))
	}
}
