package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func postInbound(srv *Server, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/inbound", strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func addFragment(t *testing.T, srv *Server, agentID, content string) {
	t.Helper()
	body := fmt.Sprintf(`{"source":"faq.md","content":%q}`, content)
	rec := doRequest(t, srv, http.MethodPost, "/api/agents/"+agentID+"/fragments", "t1", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add fragment status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestInboundRequiresServiceToken(t *testing.T) {
	srv := newTestServer(newMemQuerier(), defaultTestOptions())

	if rec := postInbound(srv, "", `{}`); rec.Code != http.StatusUnauthorized {
		t.Errorf("missing token status = %d, want 401", rec.Code)
	}
	if rec := postInbound(srv, "wrong-token", `{}`); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token status = %d, want 401", rec.Code)
	}
}

func TestInboundRejectsWhenTokenUnconfigured(t *testing.T) {
	opts := defaultTestOptions()
	opts.ServiceToken = ""
	srv := newTestServer(newMemQuerier(), opts)

	if rec := postInbound(srv, "", `{}`); rec.Code != http.StatusUnauthorized {
		t.Errorf("unconfigured token must reject everything, status = %d", rec.Code)
	}
}

func TestInboundFlow(t *testing.T) {
	srv := newTestServer(newMemQuerier(), defaultTestOptions())
	agentID := createAgent(t, srv, "t1")
	addFragment(t, srv, agentID, "Refunds processed within 5 days")

	body := fmt.Sprintf(`{"agent_id":%q,"session_id":"s1","text":"how long for a refund?"}`, agentID)
	rec := postInbound(srv, testServiceToken, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("inbound status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Reply        string `json:"reply"`
		Conversation struct {
			ID       string `json:"id"`
			Resolved bool   `json:"resolved"`
			Messages []struct {
				Role    string `json:"role"`
				Ordinal int    `json:"ordinal"`
			} `json:"messages"`
		} `json:"conversation"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if !strings.Contains(resp.Reply, "Refunds processed within 5 days") {
		t.Errorf("reply not grounded: %q", resp.Reply)
	}
	if len(resp.Conversation.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(resp.Conversation.Messages))
	}
	if resp.Conversation.Messages[0].Role != "customer" || resp.Conversation.Messages[1].Role != "agent" {
		t.Errorf("unexpected roles: %+v", resp.Conversation.Messages)
	}
	// A partial match answers but does not clear the confidence bar.
	if resp.Conversation.Resolved {
		t.Fatal("grounded reply below the confidence bar must leave the conversation open")
	}

	// Same session continues the same conversation.
	body = fmt.Sprintf(`{"agent_id":%q,"session_id":"s1","text":"thanks"}`, agentID)
	rec = postInbound(srv, testServiceToken, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("second inbound status = %d", rec.Code)
	}
	var second struct {
		Conversation struct {
			ID       string `json:"id"`
			Messages []struct {
				Ordinal int `json:"ordinal"`
			} `json:"messages"`
		} `json:"conversation"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &second); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if second.Conversation.ID != resp.Conversation.ID {
		t.Errorf("open session split into two conversations")
	}
	if len(second.Conversation.Messages) != 4 {
		t.Fatalf("messages = %d, want 4", len(second.Conversation.Messages))
	}
	for i, msg := range second.Conversation.Messages {
		if msg.Ordinal != i {
			t.Errorf("message[%d].Ordinal = %d", i, msg.Ordinal)
		}
	}
}

func TestInboundConfidentAnswerAutoResolves(t *testing.T) {
	srv := newTestServer(newMemQuerier(), defaultTestOptions())
	agentID := createAgent(t, srv, "t1")
	addFragment(t, srv, agentID, "Refunds processed within 5 days")

	// A near-verbatim question scores at the top of the similarity range.
	body := fmt.Sprintf(`{"agent_id":%q,"session_id":"s1","text":"refunds processed within 5 days?"}`, agentID)
	rec := postInbound(srv, testServiceToken, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("inbound status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Conversation struct {
			ID       string `json:"id"`
			Resolved bool   `json:"resolved"`
		} `json:"conversation"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Conversation.Resolved {
		t.Fatal("confident answer must auto-resolve the conversation")
	}

	// The resolved conversation is terminal; the next message opens a new one.
	body = fmt.Sprintf(`{"agent_id":%q,"session_id":"s1","text":"one more question"}`, agentID)
	rec = postInbound(srv, testServiceToken, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("second inbound status = %d", rec.Code)
	}
	var second struct {
		Conversation struct {
			ID string `json:"id"`
		} `json:"conversation"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &second); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if second.Conversation.ID == resp.Conversation.ID {
		t.Error("message after auto-resolve must start a fresh conversation")
	}
}

func TestInboundUnknownAgent(t *testing.T) {
	srv := newTestServer(newMemQuerier(), defaultTestOptions())

	body := `{"agent_id":"7f1a0bb0-54d8-4f83-9d4c-111111111111","session_id":"s1","text":"hi"}`
	rec := postInbound(srv, testServiceToken, body)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown agent status = %d, want 404", rec.Code)
	}
}

func TestInboundBadAgentID(t *testing.T) {
	srv := newTestServer(newMemQuerier(), defaultTestOptions())

	rec := postInbound(srv, testServiceToken, `{"agent_id":"nope","session_id":"s1","text":"hi"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad agent id status = %d, want 400", rec.Code)
	}
}

func TestInboundRateLimited(t *testing.T) {
	opts := defaultTestOptions()
	opts.InboundRate = 0.001
	opts.InboundBurst = 1
	srv := newTestServer(newMemQuerier(), opts)

	first := postInbound(srv, testServiceToken, `{"agent_id":"nope"}`)
	if first.Code == http.StatusTooManyRequests {
		t.Fatal("first request should pass the limiter")
	}

	second := postInbound(srv, testServiceToken, `{"agent_id":"nope"}`)
	if second.Code != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, want 429", second.Code)
	}
	if second.Header().Get("Retry-After") == "" {
		t.Error("429 response should carry Retry-After")
	}
}
