// Package budget packs a linearized dependency graph into a token-bounded
// sequence of segments in a single greedy pass.
package budget

import (
	"fmt"
	"strings"

	"github.com/starford/ansuz/internal/graph"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/parser"
)

// DefaultBudget is used when a request does not name one.
const DefaultBudget = 32000

// maxListed caps the identifiers spelled out in a truncation marker.
const maxListed = 10

// Result is the packed sequence.
type Result struct {
	Segments  []models.Segment
	Estimated int
	Truncated bool
	Omitted   []string
	Warnings  []string
}

// Text concatenates the segment texts.
func (r Result) Text() string {
	var b strings.Builder
	for _, s := range r.Segments {
		b.WriteString(s.Text)
	}
	return b.String()
}

// Bodies returns the unframed text of every segment in order. Truncation
// markers contribute an empty body.
func (r Result) Bodies() []string {
	out := make([]string, len(r.Segments))
	for i, s := range r.Segments {
		out[i] = s.Body
	}
	return out
}

// Frame renders the segments like Text but with bodies substituted for the
// segment bodies, one per segment.
func (r Result) Frame(bodies []string) string {
	var b strings.Builder
	for i, s := range r.Segments {
		if s.Kind == models.SegmentTruncation || i >= len(bodies) {
			b.WriteString(s.Text)
			continue
		}
		b.WriteString(render(s.Label(), bodies[i]))
	}
	return b.String()
}

// Pack visits nodes in order. Roots are always included. Every other node is
// included whole when it fits the remaining budget, otherwise as its first
// matched anchor that fits; when neither fits a single truncation marker is
// appended and packing stops. A node is accepted only if room remains for
// the marker that any later truncation would need, so the estimate stays
// within budget unless the roots alone overrun it.
func Pack(nodes []*graph.Node, budget int) Result {
	var res Result
	remaining := budget

	i := 0
	for ; i < len(nodes) && nodes[i].Root; i++ {
		seg := rootSegment(nodes[i], &res)
		remaining -= seg.Tokens
		res.add(seg)
	}
	reserve := markerReserve(nodes, budget)
	switch {
	case remaining < 0:
		res.oversize()
		res.truncate(nodes[i:], budget, fmt.Sprintf("root exceeds budget by %d tokens", -remaining))
		return res
	case i < len(nodes) && remaining < reserve[i]:
		res.oversize()
		res.truncate(nodes[i:], budget, "root leaves no room for referenced documents")
		return res
	}

	for ; i < len(nodes); i++ {
		n := nodes[i]
		room := remaining - reserve[i+1]
		whole := documentSegment(n)
		if whole.Tokens <= room {
			remaining -= whole.Tokens
			res.add(whole)
			continue
		}
		if seg, ok := anchorFallback(n, room); ok {
			remaining -= seg.Tokens
			res.add(seg)
			continue
		}
		res.truncate(nodes[i:], budget, "")
		return res
	}
	return res
}

// markerReserve returns, for every index j, the largest marker cost of a
// truncation at j or later; the entry past the end is zero.
func markerReserve(nodes []*graph.Node, budget int) []int {
	reserve := make([]int, len(nodes)+1)
	ids := make([]string, len(nodes))
	for j, n := range nodes {
		ids[j] = n.ID
	}
	for j := len(nodes) - 1; j >= 0; j-- {
		reserve[j] = max(reserve[j+1], markerCost(ids[j:], budget))
	}
	return reserve
}

func markerCost(omitted []string, budget int) int {
	return parser.EstimateTokens(marker(omitted, budget, ""))
}

func (r *Result) add(seg models.Segment) {
	r.Segments = append(r.Segments, seg)
	r.Estimated += seg.Tokens
}

func (r *Result) oversize() {
	for j := range r.Segments {
		r.Segments[j].Oversized = true
	}
}

func (r *Result) truncate(rest []*graph.Node, budget int, reason string) {
	r.Truncated = true
	for _, n := range rest {
		r.Omitted = append(r.Omitted, n.ID)
	}
	text := marker(r.Omitted, budget, reason)
	r.add(models.Segment{
		Kind:   models.SegmentTruncation,
		Tokens: parser.EstimateTokens(text),
		Text:   text,
	})
}

func rootSegment(n *graph.Node, res *Result) models.Segment {
	if n.Focus != "" {
		if a, ok := n.Doc.FindAnchor(n.Focus); ok {
			return anchorSegment(n, a)
		}
		res.Warnings = append(res.Warnings, fmt.Sprintf("anchor %q not found in %s, using whole document", n.Focus, n.ID))
	}
	return documentSegment(n)
}

func anchorFallback(n *graph.Node, remaining int) (models.Segment, bool) {
	for _, name := range n.Anchors {
		a, ok := n.Doc.FindAnchor(name)
		if !ok {
			continue
		}
		seg := anchorSegment(n, a)
		if seg.Tokens <= remaining {
			return seg, true
		}
	}
	return models.Segment{}, false
}

func documentSegment(n *graph.Node) models.Segment {
	body := string(n.Doc.Content)
	text := render(n.ID, body)
	return models.Segment{
		Kind:       models.SegmentDocument,
		DocumentID: n.ID,
		Tier:       n.Tier,
		Tokens:     parser.EstimateTokens(text),
		Body:       body,
		Text:       text,
	}
}

func anchorSegment(n *graph.Node, a models.Anchor) models.Segment {
	body := n.Doc.Section(a)
	text := render(n.ID+"#"+a.Name, body)
	return models.Segment{
		Kind:       models.SegmentAnchor,
		DocumentID: n.ID,
		Anchor:     a.Name,
		Tier:       n.Tier,
		Tokens:     parser.EstimateTokens(text),
		Body:       body,
		Text:       text,
	}
}

// render frames body with a source header and a trailing blank line.
func render(label, body string) string {
	var b strings.Builder
	b.Grow(len(label) + len(body) + 24)
	b.WriteString("<!-- source: ")
	b.WriteString(label)
	b.WriteString(" -->\n")
	b.WriteString(body)
	if !strings.HasSuffix(body, "\n") {
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return b.String()
}

func marker(omitted []string, budget int, reason string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<!-- truncated: budget %d tokens", budget)
	if reason != "" {
		b.WriteString("; ")
		b.WriteString(reason)
	}
	if len(omitted) > 0 {
		listed := omitted
		if len(listed) > maxListed {
			listed = listed[:maxListed]
		}
		fmt.Fprintf(&b, "; omitted %d: %s", len(omitted), strings.Join(listed, ", "))
		if extra := len(omitted) - len(listed); extra > 0 {
			fmt.Fprintf(&b, " and %d more", extra)
		}
	}
	b.WriteString(" -->\n")
	return b.String()
}
