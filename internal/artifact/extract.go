package artifact

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/musoukun/policyScope/internal/llm"
)

// ToolName is the tool a backend calls to hand over a finished document.
const ToolName = "artifacts"

// FallbackMarker is the attribute carried by the diagnostic document.
const FallbackMarker = "data-extraction-failure"

type Source string

const (
	SourceDocumentSpan Source = "document_span"
	SourceRawDocument  Source = "raw_document"
	SourceToolCall     Source = "tool_call"
	SourceFallback     Source = "fallback"
)

// Artifact is an extracted HTML document. It is not modified after
// extraction.
type Artifact struct {
	HTML   string `json:"html"`
	Source Source `json:"source"`
	Title  string `json:"title,omitempty"`
}

// ExtractionFailure is returned alongside the diagnostic document when no
// tier found HTML.
type ExtractionFailure struct {
	RawBytes  int `json:"raw_bytes"`
	ToolCalls int `json:"tool_calls"`
}

func (e *ExtractionFailure) Error() string {
	return fmt.Sprintf("no HTML document in backend output (%d bytes, %d tool calls)", e.RawBytes, e.ToolCalls)
}

var documentSpan = regexp.MustCompile(`(?is)<!DOCTYPE.*</html>`)

// Extract recovers an HTML document from backend output. Tiers, first match
// wins:
//  1. the greedy span from the first <!DOCTYPE to the last </html>
//  2. text that already starts with <!DOCTYPE or <html, unmodified
//  3. the code (or html) argument of an artifacts tool call
//  4. a diagnostic document embedding the raw text, with *ExtractionFailure
func Extract(text string, calls []llm.ToolCall) (Artifact, error) {
	if span := documentSpan.FindString(text); span != "" {
		return newArtifact(span, SourceDocumentSpan), nil
	}
	head := strings.ToLower(strings.TrimLeft(text, " \t\r\n"))
	if strings.HasPrefix(head, "<!doctype") || strings.HasPrefix(head, "<html") {
		return newArtifact(text, SourceRawDocument), nil
	}
	if code, ok := toolCallDocument(calls); ok {
		return newArtifact(code, SourceToolCall), nil
	}
	doc := FallbackDocument(text, calls)
	return Artifact{HTML: doc, Source: SourceFallback, Title: fallbackTitle},
		&ExtractionFailure{RawBytes: len(text), ToolCalls: len(calls)}
}

func toolCallDocument(calls []llm.ToolCall) (string, bool) {
	for _, call := range calls {
		if call.Name != ToolName {
			continue
		}
		for _, key := range []string{"code", "html"} {
			if code, ok := call.Args[key].(string); ok && strings.TrimSpace(code) != "" {
				return code, true
			}
		}
	}
	return "", false
}

func newArtifact(doc string, source Source) Artifact {
	return Artifact{HTML: doc, Source: source, Title: Title(doc)}
}

// Title returns the text of the first <title> element, or "".
func Title(doc string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(doc))
	inTitle := false
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			inTitle = string(name) == "title"
		case html.TextToken:
			if inTitle {
				return strings.TrimSpace(string(tokenizer.Text()))
			}
		case html.EndTagToken:
			inTitle = false
		}
	}
}

const fallbackTitle = "HTML extraction failed"

// FallbackDocument wraps raw backend output in a visible error page. The raw
// text is escaped and kept verbatim inside a marked <pre>.
func FallbackDocument(raw string, calls []llm.ToolCall) string {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html lang=\"ja\">\n<head>\n<meta charset=\"utf-8\">\n")
	b.WriteString("<title>" + fallbackTitle + "</title>\n</head>\n<body>\n")
	b.WriteString("<h1>HTMLコンテンツが見つかりません</h1>\n")
	b.WriteString("<p>The research backend did not return an HTML document. Its raw output is shown below.</p>\n")
	// The parser drops one newline directly after <pre>, so one is always written.
	b.WriteString("<pre " + FallbackMarker + "=\"raw\">\n")
	b.WriteString(html.EscapeString(raw))
	b.WriteString("</pre>\n")
	if len(calls) > 0 {
		if data, err := json.MarshalIndent(calls, "", "  "); err == nil {
			b.WriteString("<h2>Tool calls</h2>\n<pre " + FallbackMarker + "=\"tool-calls\">\n")
			b.WriteString(html.EscapeString(string(data)))
			b.WriteString("</pre>\n")
		}
	}
	b.WriteString("</body>\n</html>\n")
	return b.String()
}

// IsFallback reports whether doc is a diagnostic document produced by
// FallbackDocument.
func IsFallback(doc string) bool {
	_, ok := FallbackPayload(doc)
	return ok
}

// FallbackPayload returns the raw backend text embedded in a diagnostic
// document.
func FallbackPayload(doc string) (string, bool) {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return "", false
	}
	var found *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.ElementNode && n.Data == "pre" {
			for _, attr := range n.Attr {
				if attr.Key == FallbackMarker && attr.Val == "raw" {
					found = n
					return
				}
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(root)
	if found == nil {
		return "", false
	}
	var b strings.Builder
	for child := found.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == html.TextNode {
			b.WriteString(child.Data)
		}
	}
	return b.String(), true
}
