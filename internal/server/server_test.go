package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/gudastudio/groksearch/internal/config"
	"github.com/gudastudio/groksearch/internal/engine"
	"github.com/gudastudio/groksearch/internal/extract"
	"github.com/gudastudio/groksearch/internal/observe"
	"github.com/gudastudio/groksearch/internal/provider"
	"github.com/gudastudio/groksearch/internal/session"
)

type fakeChat struct {
	answer string
}

func (f *fakeChat) Search(ctx context.Context, req provider.SearchRequest) (string, error) {
	return f.answer, nil
}

func (f *fakeChat) Reflect(ctx context.Context, query, findings string) (string, error) {
	return `{"gap": null, "supplementary_query": null}`, nil
}

func (f *fakeChat) Validate(ctx context.Context, query, findings string) (string, error) {
	return `{"consistency": "high", "conflicts": [], "confidence": 1.0}`, nil
}

func (f *fakeChat) Fetch(ctx context.Context, url string) (string, error) { return "", nil }

func (f *fakeChat) Models(ctx context.Context) ([]string, error) { return nil, nil }

type noTavily struct{}

func (noTavily) Configured() bool { return false }
func (noTavily) Search(ctx context.Context, query string, maxResults int) ([]provider.TavilyResult, error) {
	return nil, nil
}
func (noTavily) Map(ctx context.Context, req provider.MapRequest) (provider.MapResult, error) {
	return provider.MapResult{}, nil
}

type noFire struct{}

func (noFire) Configured() bool { return false }
func (noFire) Search(ctx context.Context, query string, limit int) ([]provider.FirecrawlResult, error) {
	return nil, nil
}

type noFetch struct{}

func (noFetch) Fetch(ctx context.Context, url string) (string, string, error) {
	return "", "", extract.ErrNotConfigured
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.APIKey = "test-key-12345678"
	sessions := session.New(session.Config{
		ConversationTTL:  cfg.SessionTTL,
		MaxConversations: cfg.MaxSessions,
		MaxTurns:         cfg.MaxSearchesPerSess,
		SourceTTL:        cfg.SessionTTL,
		MaxSourceSets:    cfg.SourceCacheSize,
		PlanTTL:          cfg.SessionTTL,
		MaxPlans:         cfg.MaxSessions,
	})
	obs := observe.New(io.Discard, false)
	eng := engine.New(cfg, config.NewModelCell(cfg.Model), obs, sessions,
		&fakeChat{answer: "the answer"}, noTavily{}, noFire{}, noFetch{}, nil)
	return New(eng, obs, "groksearch", "test")
}

// roundTrip feeds newline-delimited requests through Run and decodes each
// response line.
func roundTrip(t *testing.T, s *Server, lines ...string) []map[string]any {
	t.Helper()
	in := strings.NewReader(strings.Join(lines, "\n") + "\n")
	var out bytes.Buffer
	if err := s.Run(context.Background(), in, &out); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	var responses []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if line == "" {
			continue
		}
		var resp map[string]any
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			t.Fatalf("bad response line %q: %v", line, err)
		}
		responses = append(responses, resp)
	}
	return responses
}

func callLine(id int, tool string, args map[string]any) string {
	req := map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  "tools/call",
		"params":  map[string]any{"name": tool, "arguments": args},
	}
	data, _ := json.Marshal(req)
	return string(data)
}

// resultText digs the text content out of a tools/call response.
func resultText(t *testing.T, resp map[string]any) (string, bool) {
	t.Helper()
	result, ok := resp["result"].(map[string]any)
	if !ok {
		t.Fatalf("no result in %v", resp)
	}
	content := result["content"].([]any)
	text := content[0].(map[string]any)["text"].(string)
	isError, _ := result["isError"].(bool)
	return text, isError
}

func TestInitialize(t *testing.T) {
	s := newTestServer(t)
	resps := roundTrip(t, s, `{"jsonrpc": "2.0", "id": 1, "method": "initialize", "params": {}}`)
	if len(resps) != 1 {
		t.Fatalf("expected 1 response, got %d", len(resps))
	}
	result := resps[0]["result"].(map[string]any)
	if result["protocolVersion"] != protocolVersion {
		t.Errorf("protocol version = %v", result["protocolVersion"])
	}
	info := result["serverInfo"].(map[string]any)
	if info["name"] != "groksearch" {
		t.Errorf("server name = %v", info["name"])
	}
}

func TestNotificationsProduceNoResponse(t *testing.T) {
	s := newTestServer(t)
	resps := roundTrip(t, s,
		`{"jsonrpc": "2.0", "method": "notifications/initialized"}`,
		`{"jsonrpc": "2.0", "id": 1, "method": "ping"}`,
	)
	if len(resps) != 1 {
		t.Fatalf("notification must not be answered, got %d responses", len(resps))
	}
}

func TestToolsList(t *testing.T) {
	s := newTestServer(t)
	resps := roundTrip(t, s, `{"jsonrpc": "2.0", "id": 1, "method": "tools/list"}`)
	tools := resps[0]["result"].(map[string]any)["tools"].([]any)

	want := map[string]bool{
		"web_search": false, "search_followup": false, "search_reflect": false,
		"get_sources": false, "web_fetch": false, "web_map": false,
		"search_planning": false, "get_config_info": false,
		"switch_model": false, "get_session_stats": false,
	}
	for _, raw := range tools {
		name := raw.(map[string]any)["name"].(string)
		if _, known := want[name]; !known {
			t.Errorf("unexpected tool %q", name)
		}
		want[name] = true
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("tool %q missing from listing", name)
		}
	}
}

func TestUnknownMethodAndTool(t *testing.T) {
	s := newTestServer(t)
	resps := roundTrip(t, s,
		`{"jsonrpc": "2.0", "id": 1, "method": "resources/list"}`,
		callLine(2, "time_travel", nil),
	)
	for i, resp := range resps {
		errObj, ok := resp["error"].(map[string]any)
		if !ok {
			t.Fatalf("response %d should be an error: %v", i, resp)
		}
		if int(errObj["code"].(float64)) != codeMethodNotFound {
			t.Errorf("response %d code = %v", i, errObj["code"])
		}
	}
}

func TestMalformedLine(t *testing.T) {
	s := newTestServer(t)
	resps := roundTrip(t, s, `{not json`)
	errObj := resps[0]["error"].(map[string]any)
	if int(errObj["code"].(float64)) != codeParseError {
		t.Errorf("code = %v, want parse error", errObj["code"])
	}
}

func TestWebSearchCall(t *testing.T) {
	s := newTestServer(t)
	resps := roundTrip(t, s, callLine(1, "web_search", map[string]any{"query": "hello"}))

	text, isError := resultText(t, resps[0])
	if isError {
		t.Fatalf("unexpected error result: %s", text)
	}
	var out engine.SearchOutcome
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		t.Fatal(err)
	}
	if out.Content != "the answer" || out.SessionID == "" || out.ConversationID == "" {
		t.Errorf("unexpected outcome: %+v", out)
	}
}

func TestWebSearchRequiresQuery(t *testing.T) {
	s := newTestServer(t)
	resps := roundTrip(t, s, callLine(1, "web_search", map[string]any{}))
	errObj, ok := resps[0]["error"].(map[string]any)
	if !ok || int(errObj["code"].(float64)) != codeInvalidParams {
		t.Fatalf("expected invalid params, got %v", resps[0])
	}
}

func TestFollowupThroughTransport(t *testing.T) {
	s := newTestServer(t)
	first := roundTrip(t, s, callLine(1, "web_search", map[string]any{"query": "start"}))
	text, _ := resultText(t, first[0])
	var out engine.SearchOutcome
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		t.Fatal(err)
	}

	second := roundTrip(t, s, callLine(2, "search_followup", map[string]any{
		"query": "more", "conversation_id": out.ConversationID,
	}))
	text, isError := resultText(t, second[0])
	if isError {
		t.Fatalf("followup errored: %s", text)
	}

	expired := roundTrip(t, s, callLine(3, "search_followup", map[string]any{
		"query": "more", "conversation_id": "000000000000",
	}))
	text, isError = resultText(t, expired[0])
	if !isError || !strings.Contains(text, engine.ErrCodeExpired) {
		t.Errorf("expected in-band session_expired, got %s", text)
	}
}

func TestFetchWithoutProviders(t *testing.T) {
	s := newTestServer(t)
	resps := roundTrip(t, s, callLine(1, "web_fetch", map[string]any{"url": "https://example.com"}))
	text, isError := resultText(t, resps[0])
	if !isError || !strings.Contains(text, "TAVILY_API_KEY") {
		t.Errorf("expected configuration guidance, got %q", text)
	}
}

func TestPlanningThroughTransport(t *testing.T) {
	s := newTestServer(t)
	resps := roundTrip(t, s, callLine(1, "search_planning", map[string]any{
		"phase":   "intent_analysis",
		"thought": "figure out what is being asked",
		"data": map[string]any{
			"core_question":    "what changed in HTTP/3",
			"query_type":       "factual",
			"time_sensitivity": "recent",
		},
	}))
	text, isError := resultText(t, resps[0])
	if isError {
		t.Fatalf("planning submission errored: %s", text)
	}
	var prog map[string]any
	if err := json.Unmarshal([]byte(text), &prog); err != nil {
		t.Fatal(err)
	}
	sessionID := prog["session_id"].(string)
	if sessionID == "" {
		t.Fatal("no planning session id minted")
	}

	// Invalid payloads come back in-band, not as transport errors.
	bad := roundTrip(t, s, callLine(2, "search_planning", map[string]any{
		"session_id": sessionID,
		"phase":      "complexity_assessment",
		"data":       map[string]any{"level": 9},
	}))
	text, isError = resultText(t, bad[0])
	if !isError || !strings.Contains(text, "level") {
		t.Errorf("expected in-band validation error, got %q", text)
	}

	// Assembling an incomplete plan reports what is missing.
	inc := roundTrip(t, s, callLine(3, "search_planning", map[string]any{
		"session_id": sessionID, "assemble": true,
	}))
	text, isError = resultText(t, inc[0])
	if !isError || !strings.Contains(text, "missing") {
		t.Errorf("expected missing-phase report, got %q", text)
	}
}

func TestConfigInfoCall(t *testing.T) {
	s := newTestServer(t)
	resps := roundTrip(t, s, callLine(1, "get_config_info", nil))
	text, isError := resultText(t, resps[0])
	if isError {
		t.Fatalf("config info errored: %s", text)
	}
	if strings.Contains(text, "test-key-12345678") {
		t.Error("raw api key leaked into config info")
	}
}
