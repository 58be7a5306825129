package models

// Segment kinds.
const (
	SegmentDocument   = "document"
	SegmentAnchor     = "anchor"
	SegmentTruncation = "truncation"
)

// Segment is one rendered unit of a Scene.
type Segment struct {
	Kind       string `json:"kind"`
	DocumentID string `json:"document_id,omitempty"`
	Anchor     string `json:"anchor,omitempty"`
	Tier       int    `json:"tier"`
	Tokens     int    `json:"tokens"`
	Oversized  bool   `json:"oversized,omitempty"`
	// Body is the raw document or section text; Text is Body framed with
	// its source header. Truncation markers have no Body.
	Body string `json:"-"`
	Text string `json:"-"`
}

// Label names the segment in path#Anchor form.
func (s Segment) Label() string {
	switch s.Kind {
	case SegmentAnchor:
		return s.DocumentID + "#" + s.Anchor
	case SegmentTruncation:
		return "truncated"
	default:
		return s.DocumentID
	}
}

// Scene is the pruned, redacted context buffer produced by a resolution.
type Scene struct {
	ID              string    `json:"id"`
	Roots           []string  `json:"roots"`
	Budget          int       `json:"budget"`
	Segments        []Segment `json:"segments"`
	EstimatedTokens int       `json:"estimated_tokens"`
	ExactTokens     int       `json:"exact_tokens"`
	Truncated       bool      `json:"truncated"`
	Omitted         []string  `json:"omitted,omitempty"`
	Warnings        []string  `json:"warnings,omitempty"`
	Text            string    `json:"text"`
}

// Labels lists segment labels in output order.
func (s *Scene) Labels() []string {
	out := make([]string, len(s.Segments))
	for i, seg := range s.Segments {
		out[i] = seg.Label()
	}
	return out
}
