package mcpserver

// ReferenceSyntaxContract describes how documents declare the references the
// resolver follows. Clients read it before writing or editing documents.
const ReferenceSyntaxContract = `# Ansuz Reference Syntax

A document is a Markdown file inside the vault. Its identifier is the path
relative to the vault root, slash separated, with the ".md" extension.

## Metadata block

` + "```" + `markdown
---
title: Login flow           # OPTIONAL
status: open                # OPTIONAL, used by list_documents
priority: 2                 # OPTIONAL, must be an integer
assignee: dana              # OPTIONAL
tags: [auth, backend]       # OPTIONAL, string or list of strings
refs:                       # OPTIONAL, references followed by resolve_context
  - api/session.md
  - design/auth#Token Refresh
---
` + "```" + `

The block must be the first line of the file and must be closed by a second
` + "`---`" + ` line. A malformed block fails the document with InvalidMetadata and
the reported line number.

## References

- ` + "`path`" + ` pulls in the whole target document.
- ` + "`path#Anchor`" + ` pulls in one heading section of the target. Anchor names
  match case-insensitively and ignore surrounding whitespace.
- The ".md" extension may be omitted.
- Inline ` + "`[[path]]`" + `, ` + "`[[path#Anchor]]`" + ` and ` + "`[[path|alias]]`" + ` links in the body
  are followed after the metadata references, in order of appearance.
- ` + "`[[#Anchor]]`" + ` links inside the same document are ignored.

## Anchors

Anchors are ATX headings (` + "`#`" + ` through ` + "`######`" + `). A section runs from its
heading to the next heading of the same or a higher level, or to the end of
the document. Headings inside fenced code blocks are not anchors.

## Resolution

- Root documents are always included first.
- Direct references come before indirect ones; ties keep discovery order.
- When the budget runs short a referenced document may be reduced to the
  anchor that was asked for, then the remainder is replaced by one
  truncation marker naming the omitted documents.
- A reference cycle fails the request and reports the full path.
- Secrets are redacted from every response.
`
