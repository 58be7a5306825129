// Package parser turns raw document content into a models.Document: metadata
// block, declared references, anchors and a token estimate.
package parser

import (
	"bytes"
	"errors"
	"path"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/checksum"
	"github.com/starford/ansuz/internal/models"
)

const delim = "---"

var (
	wikilinkRe  = regexp.MustCompile(`\[\[(.*?)\]\]`)
	yamlLineRe  = regexp.MustCompile(`line (\d+)`)
	errNotMap   = errors.New("metadata block must be a mapping")
	errUnclosed = errors.New("metadata block has no closing --- line")
)

// block locates the metadata block inside content.
type block struct {
	start     int // offset of the opening delimiter
	yamlStart int // offset of the first YAML byte
	yamlEnd   int // offset of the closing delimiter line
	body      int // offset of the first body byte
	line      int // 1-based line number of the opening delimiter
}

// Parse extracts the metadata block, references, anchors and token estimate
// from content. A malformed metadata block yields an *apperr.Error of kind
// InvalidMetadata.
func Parse(id string, content []byte) (*models.Document, error) {
	doc := &models.Document{
		ID:          id,
		Fingerprint: checksum.Sum(content),
		Content:     content,
		Tokens:      EstimateTokens(string(content)),
	}

	b, ok, err := locateBlock(content)
	if err != nil {
		return nil, apperr.InvalidMetadata(apperr.Location{Path: id, Line: b.line}, err)
	}
	if ok {
		meta, err := decodeMeta(id, content[b.yamlStart:b.yamlEnd], b.line)
		if err != nil {
			return nil, err
		}
		doc.Meta = meta
		doc.BodyOffset = b.body
	}

	events := Lex(content[doc.BodyOffset:], doc.BodyOffset)
	doc.Anchors = ExtractAnchors(events)
	doc.Refs = collectRefs(id, doc.Meta.Refs, content, events)
	if doc.Meta.Title == "" {
		for _, ev := range events {
			if ev.Kind == EventHeading && ev.Depth == 1 {
				doc.Meta.Title = ev.Text
				break
			}
		}
	}
	return doc, nil
}

// locateBlock finds a metadata block opened by a "---" line at the top of
// content, after optional blank lines.
func locateBlock(content []byte) (block, bool, error) {
	lead := len(content) - len(bytes.TrimLeft(content, "\r\n"))
	b := block{start: lead, line: bytes.Count(content[:lead], []byte("\n")) + 1}

	first, next := readLine(content, lead)
	if first != delim {
		return b, false, nil
	}
	b.yamlStart = next
	for pos := next; pos < len(content); {
		line, after := readLine(content, pos)
		if line == delim {
			b.yamlEnd = pos
			b.body = after
			return b, true, nil
		}
		pos = after
	}
	return b, false, errUnclosed
}

// readLine returns the line starting at pos without its terminator, and the
// offset just past the terminator.
func readLine(content []byte, pos int) (string, int) {
	end := len(content)
	next := end
	if i := bytes.IndexByte(content[pos:], '\n'); i >= 0 {
		end = pos + i
		next = end + 1
	}
	return strings.TrimRight(string(content[pos:end]), "\r"), next
}

// decodeMeta decodes the YAML block. openLine is the file line of the opening
// delimiter, so YAML line n maps to file line openLine+n.
func decodeMeta(id string, raw []byte, openLine int) (models.Metadata, error) {
	var meta models.Metadata
	var root yaml.Node
	if err := yaml.Unmarshal(raw, &root); err != nil {
		line := openLine + 1
		if m := yamlLineRe.FindStringSubmatch(err.Error()); m != nil {
			if n, convErr := strconv.Atoi(m[1]); convErr == nil {
				line = openLine + n
			}
		}
		return meta, apperr.InvalidMetadata(apperr.Location{Path: id, Line: line}, err)
	}
	if len(root.Content) == 0 {
		return meta, nil
	}
	node := root.Content[0]
	if node.Kind != yaml.MappingNode {
		return meta, invalidAt(id, openLine, node, errNotMap)
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		switch key.Value {
		case "title", "status", "assignee":
			if val.Kind != yaml.ScalarNode {
				return meta, invalidAt(id, openLine, val, errors.New(key.Value+" must be a scalar"))
			}
			switch key.Value {
			case "title":
				meta.Title = val.Value
			case "status":
				meta.Status = val.Value
			case "assignee":
				meta.Assignee = val.Value
			}
		case "priority":
			n, err := strconv.Atoi(val.Value)
			if val.Kind != yaml.ScalarNode || err != nil {
				return meta, invalidAt(id, openLine, val, errors.New("priority must be an integer"))
			}
			meta.Priority = n
		case "tags":
			tags, err := stringList(val)
			if err != nil {
				return meta, invalidAt(id, openLine, val, err)
			}
			meta.Tags = tags
		case "refs":
			refs, err := stringList(val)
			if err != nil {
				return meta, invalidAt(id, openLine, val, err)
			}
			meta.Refs = refs
		default:
			var v any
			if err := val.Decode(&v); err != nil {
				return meta, invalidAt(id, openLine, val, err)
			}
			if meta.Extra == nil {
				meta.Extra = make(map[string]any)
			}
			meta.Extra[key.Value] = v
		}
	}
	return meta, nil
}

func invalidAt(id string, openLine int, n *yaml.Node, err error) error {
	return apperr.InvalidMetadata(apperr.Location{Path: id, Line: openLine + n.Line, Column: n.Column}, err)
}

// stringList accepts a scalar or a sequence of scalars.
func stringList(n *yaml.Node) ([]string, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		if s := strings.TrimSpace(n.Value); s != "" {
			return []string{s}, nil
		}
		return nil, nil
	case yaml.SequenceNode:
		out := make([]string, 0, len(n.Content))
		for _, item := range n.Content {
			if item.Kind != yaml.ScalarNode {
				return nil, errors.New("list items must be scalars")
			}
			if s := strings.TrimSpace(item.Value); s != "" {
				out = append(out, s)
			}
		}
		return out, nil
	default:
		return nil, errors.New("expected a string or a list of strings")
	}
}

// collectRefs merges metadata references and inline [[wikilinks]] in
// declaration order, dropping duplicates and same-document anchor links.
// Inline links are read from the lines of events outside fenced code.
func collectRefs(id string, declared []string, content []byte, events []Event) []models.Reference {
	var out []models.Reference
	seen := make(map[string]struct{})
	add := func(raw, source string) {
		if i := strings.Index(raw, "|"); i >= 0 {
			raw = raw[:i]
		}
		ref := models.ParseReference(raw)
		if ref.Target == "" {
			return
		}
		ref.Target = NormalizeID(ref.Target)
		if ref.Target == id && ref.Anchor != "" {
			return
		}
		key := ref.Target + "#" + models.NormalizeAnchor(ref.Anchor)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		ref.Source = source
		ref.Order = len(out)
		out = append(out, ref)
	}
	for _, raw := range declared {
		add(raw, models.RefMetadata)
	}
	for _, ev := range events {
		if ev.Code {
			continue
		}
		for _, m := range wikilinkRe.FindAllSubmatch(content[ev.Start:ev.End], -1) {
			add(string(m[1]), models.RefInline)
		}
	}
	return out
}

// NormalizeID maps a reference target onto a vault path: slash separated,
// cleaned, relative to the vault root, with ".md" appended when the target
// has no extension.
func NormalizeID(target string) string {
	target = strings.TrimSpace(strings.ReplaceAll(target, "\\", "/"))
	target = strings.TrimPrefix(path.Clean("/"+target), "/")
	if target != "" && path.Ext(target) == "" {
		target += ".md"
	}
	return target
}
