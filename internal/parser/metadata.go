package parser

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/starford/ansuz/internal/apperr"
)

// UpdateField sets a scalar field of the metadata block and returns the new
// content. The block is created when content has none; other keys, their
// order and the body are preserved.
func UpdateField(id string, content []byte, key, value string, numeric bool) ([]byte, error) {
	b, ok, err := locateBlock(content)
	if err != nil {
		return nil, apperr.InvalidMetadata(apperr.Location{Path: id, Line: b.line}, err)
	}

	doc := &yaml.Node{Kind: yaml.DocumentNode}
	mapping := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	if ok {
		// Validate the whole block first so a malformed header is reported
		// instead of silently rewritten.
		if _, err := decodeMeta(id, content[b.yamlStart:b.yamlEnd], b.line); err != nil {
			return nil, err
		}
		var root yaml.Node
		if err := yaml.Unmarshal(content[b.yamlStart:b.yamlEnd], &root); err != nil {
			return nil, apperr.InvalidMetadata(apperr.Location{Path: id, Line: b.line + 1}, err)
		}
		if len(root.Content) > 0 {
			doc = &root
			mapping = root.Content[0]
		}
	}
	if len(doc.Content) == 0 {
		doc.Content = []*yaml.Node{mapping}
	}

	tag := "!!str"
	if numeric {
		tag = "!!int"
	}
	val := &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: value}

	replaced := false
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			val.LineComment = mapping.Content[i+1].LineComment
			mapping.Content[i+1] = val
			replaced = true
			break
		}
	}
	if !replaced {
		mapping.Content = append(mapping.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, val)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("parser: encode metadata: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("parser: encode metadata: %w", err)
	}

	var out bytes.Buffer
	body := content
	if ok {
		out.Write(content[:b.start])
		body = content[b.body:]
	}
	out.WriteString(delim + "\n")
	out.Write(buf.Bytes())
	out.WriteString(delim + "\n")
	out.Write(body)
	return out.Bytes(), nil
}
