package sources

import (
	"strings"
	"testing"

	"github.com/gudastudio/groksearch/internal/session"
)

func TestSplitFunctionCallBlock(t *testing.T) {
	text := "QUIC runs over UDP.\n\n" +
		`sources([{"title": "RFC 9000", "url": "https://rfc.example/9000"}, {"url": "https://b.example"}])`

	answer, srcs := Split(text)
	if answer != "QUIC runs over UDP." {
		t.Errorf("unexpected answer: %q", answer)
	}
	if len(srcs) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(srcs))
	}
	if srcs[0].Title != "RFC 9000" || srcs[0].URL != "https://rfc.example/9000" {
		t.Errorf("unexpected first source: %+v", srcs[0])
	}
}

func TestSplitFunctionCallMidTextIgnored(t *testing.T) {
	// A call followed by more prose is part of the answer, not a citation
	// block.
	text := "See sources([\"https://a.example\"]) for details.\n\nMore prose here."
	answer, srcs := Split(text)
	if !strings.Contains(answer, "More prose here.") {
		t.Errorf("answer truncated: %q", answer)
	}
	if len(srcs) != 1 || srcs[0].URL != "https://a.example" {
		t.Errorf("inline fallback should still find the URL: %+v", srcs)
	}
}

func TestSplitHeading(t *testing.T) {
	cases := []string{
		"The answer.\n\n## Sources\n- [A](https://a.example)\n- [B](https://b.example)",
		"The answer.\n\n**References:**\n1. [A](https://a.example)\n2. [B](https://b.example)",
		"The answer.\n\n来源\n- https://a.example\n- https://b.example",
	}
	for _, text := range cases {
		answer, srcs := Split(text)
		if answer != "The answer." {
			t.Errorf("unexpected answer for %q: %q", text[:20], answer)
		}
		if len(srcs) != 2 {
			t.Errorf("expected 2 sources, got %d for %q", len(srcs), text[:20])
		}
	}
}

func TestSplitDetailsBlock(t *testing.T) {
	text := "The answer.\n\n<details><summary>Sources</summary>\n" +
		"[A](https://a.example)\n[B](https://b.example)\n</details>"
	answer, srcs := Split(text)
	if answer != "The answer." {
		t.Errorf("unexpected answer: %q", answer)
	}
	if len(srcs) != 2 {
		t.Errorf("expected 2 sources, got %d", len(srcs))
	}

	// A details block holding fewer than two links stays in the answer.
	text = "The answer.\n\n<details>[A](https://a.example)</details>"
	answer, srcs = Split(text)
	if !strings.Contains(answer, "<details>") {
		t.Errorf("single-link details block should stay: %q", answer)
	}
	if len(srcs) != 1 {
		t.Errorf("inline fallback should find the URL, got %d", len(srcs))
	}
}

func TestSplitTailLinkBlock(t *testing.T) {
	text := "The answer.\n\n- [A](https://a.example)\n- [B](https://b.example)\n- https://c.example"
	answer, srcs := Split(text)
	if answer != "The answer." {
		t.Errorf("unexpected answer: %q", answer)
	}
	if len(srcs) != 3 {
		t.Errorf("expected 3 sources, got %d", len(srcs))
	}

	// A single trailing link is not a block.
	text = "The answer.\n\nhttps://a.example"
	answer, _ = Split(text)
	if !strings.Contains(answer, "https://a.example") {
		t.Errorf("single link should stay in answer: %q", answer)
	}
}

func TestSplitInlineFallback(t *testing.T) {
	text := "Per https://a.example the handshake takes one round trip, confirmed by [B](https://b.example) too."
	answer, srcs := Split(text)
	if answer != text {
		t.Errorf("fallback must not alter the answer: %q", answer)
	}
	if len(srcs) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(srcs))
	}
	if srcs[0].Title != "B" {
		t.Errorf("markdown link should come first with title: %+v", srcs[0])
	}
}

func TestSplitThinkPrefix(t *testing.T) {
	text := "<think>working it out</think>\nThe answer.\n\n## Sources\n- [A](https://a.example)\n- [B](https://b.example)"
	answer, srcs := Split(text)
	if !strings.HasPrefix(answer, "<think>") || !strings.Contains(answer, "The answer.") {
		t.Errorf("think prefix should be preserved ahead of answer: %q", answer)
	}
	if strings.Contains(answer, "## Sources") {
		t.Errorf("sources block should be stripped: %q", answer)
	}
	if len(srcs) != 2 {
		t.Errorf("expected 2 sources, got %d", len(srcs))
	}

	// Think-only output passes through untouched.
	answer, srcs = Split("<think>only thoughts</think>")
	if answer == "" || srcs != nil {
		t.Errorf("think-only output mishandled: %q %v", answer, srcs)
	}
}

func TestSplitEmpty(t *testing.T) {
	answer, srcs := Split("   \n ")
	if answer != "" || srcs != nil {
		t.Errorf("blank input should yield nothing, got %q %v", answer, srcs)
	}
}

func TestMerge(t *testing.T) {
	a := []session.Source{{URL: "https://a.example", Title: "first"}, {URL: "https://b.example"}}
	b := []session.Source{{URL: "https://a.example", Title: "second"}, {URL: "https://c.example"}}

	merged := Merge(a, b)
	if len(merged) != 3 {
		t.Fatalf("expected 3 merged sources, got %d", len(merged))
	}
	if merged[0].Title != "first" {
		t.Errorf("first occurrence should win: %+v", merged[0])
	}
	if merged[2].URL != "https://c.example" {
		t.Errorf("order not preserved: %+v", merged)
	}

	if got := Merge(nil, []session.Source{{URL: "  "}}); len(got) != 0 {
		t.Errorf("blank URLs should be dropped: %+v", got)
	}
}

func TestExtractUniqueURLs(t *testing.T) {
	text := "See https://a.example/path. Also https://a.example/path and https://b.example," +
		" plus 中文句子里的 https://c.example/页面。"
	urls := ExtractUniqueURLs(text)
	if len(urls) != 3 {
		t.Fatalf("expected 3 URLs, got %v", urls)
	}
	if urls[0] != "https://a.example/path" {
		t.Errorf("trailing punctuation not trimmed: %q", urls[0])
	}
	if urls[1] != "https://b.example" {
		t.Errorf("unexpected second URL: %q", urls[1])
	}
}

func TestParsePayloadDegradesToText(t *testing.T) {
	// Python-literal style payloads are not JSON; URLs still come out.
	srcs := parsePayload("[{'title': 'A', 'url': 'https://a.example'}]")
	if len(srcs) != 1 || srcs[0].URL != "https://a.example" {
		t.Errorf("expected URL via text fallback, got %+v", srcs)
	}
}
