package crawler

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// ExtractText projects HTML onto plain text: tags are stripped, script and
// style bodies are dropped, whitespace within a text node collapses to
// single spaces, and each text node becomes its own line.
func ExtractText(content []byte) string {
	var z = html.NewTokenizer(bytes.NewReader(content))
	var lines []string
	var skipDepth int

	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(lines, "\n")

		case html.StartTagToken:
			var name, _ = z.TagName()
			if isHiddenElement(string(name)) {
				skipDepth++
			}

		case html.EndTagToken:
			var name, _ = z.TagName()
			if isHiddenElement(string(name)) && skipDepth > 0 {
				skipDepth--
			}

		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			if text := strings.Join(strings.Fields(string(z.Text())), " "); text != "" {
				lines = append(lines, text)
			}
		}
	}
}

func isHiddenElement(name string) bool {
	switch name {
	case "script", "style", "noscript", "template":
		return true
	}
	return false
}
