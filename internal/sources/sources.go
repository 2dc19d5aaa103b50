// Package sources separates a model answer from the source citations it
// carries. Models emit citations in several shapes; Split tries each known
// shape in order of reliability and falls back to scraping inline URLs so
// the source cache is never empty when the answer links anything at all.
package sources

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/gudastudio/groksearch/internal/session"
)

var (
	mdLinkPattern      = regexp.MustCompile(`\[([^\]]+)\]\((https?://[^)]+)\)`)
	thinkPrefixPattern = regexp.MustCompile(`(?is)^<think>\s*.*?\s*</think>`)
	urlPattern         = regexp.MustCompile(`https?://[^\s<>"'` + "`" + `，。、；：！？》）】)]+`)

	headingPattern = regexp.MustCompile(`(?im)^` +
		`(?:#{1,6}\s*)?` +
		`(?:\*\*|__)?\s*` +
		`(sources?|references?|citations?|信源|参考资料|参考|引用|来源列表|来源)` +
		`\s*(?:\*\*|__)?` +
		`(?:\s*[（(][^)\n]*[)）])?` +
		`\s*[:：]?\s*$`)

	functionPattern = regexp.MustCompile(`(?im)(^|\n)\s*` +
		`(sources|source|citations|citation|references|reference|citation_card|source_cards|source_card)` +
		`\s*\(`)

	listMarkerPattern = regexp.MustCompile(`^\s*(?:[-*]|\d+\.)\s*`)
)

// Split divides the raw model output into the prose answer and its source
// list. Recognized citation shapes, most reliable first: a trailing
// function-call block, a sources heading, a trailing <details> block, a
// trailing run of link-only lines. When none match, the answer is returned
// unchanged and inline URLs become the sources.
func Split(text string) (string, []session.Source) {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return "", nil
	}

	think, content := extractLeadingThink(raw)
	if think != "" && content == "" {
		return think, nil
	}

	for _, split := range []func(string) (string, []session.Source, bool){
		splitFunctionCall,
		splitHeading,
		splitDetailsBlock,
		splitTailLinkBlock,
	} {
		if answer, srcs, ok := split(content); ok {
			return rebuildWithThink(think, answer), srcs
		}
	}

	return rebuildWithThink(think, content), extractFromText(content)
}

// Merge concatenates source lists, deduplicating by URL with first-wins
// semantics.
func Merge(lists ...[]session.Source) []session.Source {
	seen := make(map[string]bool)
	var merged []session.Source
	for _, list := range lists {
		for _, item := range list {
			url := strings.TrimSpace(item.URL)
			if url == "" || seen[url] {
				continue
			}
			seen[url] = true
			item.URL = url
			merged = append(merged, item)
		}
	}
	return merged
}

// ExtractUniqueURLs returns every URL in the text, deduplicated, in first
// appearance order.
func ExtractUniqueURLs(text string) []string {
	seen := make(map[string]bool)
	var urls []string
	for _, m := range urlPattern.FindAllString(text, -1) {
		url := strings.TrimRight(m, ".,;:!?")
		if url == "" || seen[url] {
			continue
		}
		seen[url] = true
		urls = append(urls, url)
	}
	return urls
}

func extractLeadingThink(text string) (think, body string) {
	loc := thinkPrefixPattern.FindStringIndex(text)
	if loc == nil {
		return "", text
	}
	return strings.TrimSpace(text[:loc[1]]), strings.TrimLeft(text[loc[1]:], " \t\n\r")
}

func rebuildWithThink(think, answer string) string {
	answer = strings.TrimSpace(answer)
	if think == "" {
		return answer
	}
	if answer == "" {
		return think
	}
	return think + "\n\n" + answer
}

func splitFunctionCall(text string) (string, []session.Source, bool) {
	matches := functionPattern.FindAllStringIndex(text, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		m := matches[i]
		openParen := m[1] - 1
		args, ok := balancedCallAtEnd(text, openParen)
		if !ok {
			continue
		}
		srcs := parsePayload(args)
		if len(srcs) == 0 {
			continue
		}
		return strings.TrimRight(text[:m[0]], " \t\n\r"), srcs, true
	}
	return "", nil, false
}

// balancedCallAtEnd scans from the opening parenthesis for its matching
// close, honoring quoted strings, and accepts the call only when nothing but
// whitespace follows it.
func balancedCallAtEnd(text string, openParen int) (string, bool) {
	if openParen < 0 || openParen >= len(text) || text[openParen] != '(' {
		return "", false
	}

	depth := 1
	var inString byte
	escape := false

	for i := openParen + 1; i < len(text); i++ {
		ch := text[i]
		if inString != 0 {
			switch {
			case escape:
				escape = false
			case ch == '\\':
				escape = true
			case ch == inString:
				inString = 0
			}
			continue
		}
		switch ch {
		case '\'', '"':
			inString = ch
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				if strings.TrimSpace(text[i+1:]) != "" {
					return "", false
				}
				return text[openParen+1 : i], true
			}
		}
	}
	return "", false
}

func splitHeading(text string) (string, []session.Source, bool) {
	matches := headingPattern.FindAllStringIndex(text, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		start := matches[i][0]
		srcs := extractFromText(text[start:])
		if len(srcs) == 0 {
			continue
		}
		return strings.TrimRight(text[:start], " \t\n\r"), srcs, true
	}
	return "", nil, false
}

func splitDetailsBlock(text string) (string, []session.Source, bool) {
	lower := strings.ToLower(text)
	closeIdx := strings.LastIndex(lower, "</details>")
	if closeIdx == -1 {
		return "", nil, false
	}
	if strings.TrimSpace(text[closeIdx+len("</details>"):]) != "" {
		return "", nil, false
	}
	openIdx := strings.LastIndex(lower[:closeIdx], "<details")
	if openIdx == -1 {
		return "", nil, false
	}

	srcs := extractFromText(text[openIdx : closeIdx+len("</details>")])
	if len(srcs) < 2 {
		return "", nil, false
	}
	return strings.TrimRight(text[:openIdx], " \t\n\r"), srcs, true
}

func splitTailLinkBlock(text string) (string, []session.Source, bool) {
	lines := strings.Split(text, "\n")

	end := len(lines) - 1
	for end >= 0 && strings.TrimSpace(lines[end]) == "" {
		end--
	}
	if end < 0 {
		return "", nil, false
	}

	idx := end
	linkLike := 0
	for idx >= 0 {
		line := strings.TrimSpace(lines[idx])
		if line == "" {
			idx--
			continue
		}
		if !isLinkOnlyLine(line) {
			break
		}
		linkLike++
		idx--
	}
	if linkLike < 2 {
		return "", nil, false
	}

	block := strings.Join(lines[idx+1:end+1], "\n")
	srcs := extractFromText(block)
	if len(srcs) == 0 {
		return "", nil, false
	}
	return strings.TrimRight(strings.Join(lines[:idx+1], "\n"), " \t\n\r"), srcs, true
}

func isLinkOnlyLine(line string) bool {
	stripped := strings.TrimSpace(listMarkerPattern.ReplaceAllString(line, ""))
	if stripped == "" {
		return false
	}
	if strings.HasPrefix(stripped, "http://") || strings.HasPrefix(stripped, "https://") {
		return true
	}
	return mdLinkPattern.MatchString(stripped)
}

// parsePayload decodes the arguments of a citation function call. Valid JSON
// is normalized; anything else degrades to plain text extraction.
func parsePayload(payload string) []session.Source {
	payload = strings.TrimRight(strings.TrimSpace(payload), ";")
	if payload == "" {
		return nil
	}

	var data any
	if err := json.Unmarshal([]byte(payload), &data); err != nil {
		return extractFromText(payload)
	}

	if obj, ok := data.(map[string]any); ok {
		for _, key := range []string{"sources", "citations", "references", "urls"} {
			if v, ok := obj[key]; ok {
				return normalize(v)
			}
		}
	}
	return normalize(data)
}

func normalize(data any) []session.Source {
	var items []any
	switch v := data.(type) {
	case []any:
		items = v
	default:
		items = []any{v}
	}

	seen := make(map[string]bool)
	var out []session.Source

	for _, item := range items {
		switch v := item.(type) {
		case string:
			for _, url := range ExtractUniqueURLs(v) {
				if !seen[url] {
					seen[url] = true
					out = append(out, session.Source{URL: url})
				}
			}
		case map[string]any:
			url := firstString(v, "url", "href", "link")
			if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
				continue
			}
			if seen[url] {
				continue
			}
			seen[url] = true
			out = append(out, session.Source{
				URL:         url,
				Title:       firstString(v, "title", "name", "label"),
				Description: firstString(v, "description", "snippet", "content"),
			})
		case []any:
			// [title, url] pair form.
			if len(v) < 2 {
				continue
			}
			url, _ := v[1].(string)
			if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") || seen[url] {
				continue
			}
			seen[url] = true
			src := session.Source{URL: url}
			if title, ok := v[0].(string); ok {
				src.Title = strings.TrimSpace(title)
			}
			out = append(out, src)
		}
	}
	return out
}

func firstString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := m[key].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// extractFromText pulls markdown links first (they carry titles), then bare
// URLs, deduplicated across both passes.
func extractFromText(text string) []session.Source {
	seen := make(map[string]bool)
	var out []session.Source

	for _, m := range mdLinkPattern.FindAllStringSubmatch(text, -1) {
		url := strings.TrimSpace(m[2])
		if url == "" || seen[url] {
			continue
		}
		seen[url] = true
		out = append(out, session.Source{URL: url, Title: strings.TrimSpace(m[1])})
	}

	for _, url := range ExtractUniqueURLs(text) {
		if seen[url] {
			continue
		}
		seen[url] = true
		out = append(out, session.Source{URL: url})
	}
	return out
}
