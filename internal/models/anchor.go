package models

import "strings"

// NormalizeAnchor folds heading text into the form used for anchor matching:
// trimmed, trailing closing hashes removed, whitespace collapsed, lower case.
func NormalizeAnchor(name string) string {
	name = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(name), "#"))
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// FindAnchor returns the first anchor whose normalized name matches name.
func (d *Document) FindAnchor(name string) (Anchor, bool) {
	want := NormalizeAnchor(name)
	for _, a := range d.Anchors {
		if NormalizeAnchor(a.Name) == want {
			return a, true
		}
	}
	return Anchor{}, false
}
