package parser

import "github.com/starford/ansuz/internal/models"

type state int

const (
	stateScanning state = iota
	stateCapturing
	stateDone
)

// machine extracts a single heading-scoped span from an event stream.
//
// Scanning waits for the wanted heading (any heading when want is empty),
// Capturing records every following event until a heading at the same or
// shallower depth or end of input, Done ignores the rest.
type machine struct {
	state  state
	want   string
	anchor models.Anchor
}

func (m *machine) step(ev Event) {
	switch m.state {
	case stateScanning:
		if ev.Kind != EventHeading {
			return
		}
		if m.want != "" && models.NormalizeAnchor(ev.Text) != m.want {
			return
		}
		m.state = stateCapturing
		m.anchor = models.Anchor{Name: ev.Text, Depth: ev.Depth, Start: ev.Start, End: ev.End}
	case stateCapturing:
		if ev.Kind == EventHeading && ev.Depth <= m.anchor.Depth {
			m.state = stateDone
			return
		}
		m.anchor.End = ev.End
	case stateDone:
	}
}

func (m *machine) finish() {
	if m.state == stateCapturing {
		m.state = stateDone
	}
}

// ExtractAnchor returns the span of the first heading whose normalized text
// equals name.
func ExtractAnchor(events []Event, name string) (models.Anchor, bool) {
	m := &machine{want: models.NormalizeAnchor(name)}
	for _, ev := range events {
		m.step(ev)
		if m.state == stateDone {
			return m.anchor, true
		}
	}
	m.finish()
	return m.anchor, m.state == stateDone
}

// ExtractAnchors returns one span per heading in document order. A machine is
// started at every heading; the active machines form a stack by depth, so the
// pass is linear in the number of events times the heading depth.
func ExtractAnchors(events []Event) []models.Anchor {
	type slot struct {
		m   *machine
		idx int
	}
	var (
		out    []models.Anchor
		active []slot
	)
	for _, ev := range events {
		kept := active[:0]
		for _, s := range active {
			s.m.step(ev)
			if s.m.state == stateDone {
				out[s.idx] = s.m.anchor
				continue
			}
			kept = append(kept, s)
		}
		active = kept

		if ev.Kind == EventHeading {
			m := &machine{}
			m.step(ev)
			out = append(out, m.anchor)
			active = append(active, slot{m: m, idx: len(out) - 1})
		}
	}
	for _, s := range active {
		s.m.finish()
		out[s.idx] = s.m.anchor
	}
	return out
}
