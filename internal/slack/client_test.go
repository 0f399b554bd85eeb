package slack

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestEnvelopeNotOKSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok": false, "error": "invalid_auth"}`)
	}))
	defer srv.Close()

	c := NewClientURL("xoxp-test", srv.URL)
	_, err := c.ListChannels(context.Background())
	if err == nil {
		t.Fatal("expected not-ok response to fail")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T: %v", err, err)
	}
	if apiErr.Reason != "invalid_auth" {
		t.Fatalf("expected embedded error string, got %q", apiErr.Reason)
	}
}

func TestListChannelsSendsToken(t *testing.T) {
	var gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.FormValue("token")
		fmt.Fprint(w, `{"ok": true, "channels": [
			{"id": "C1", "name": "general", "created": 1416042849, "creator": "U1",
			 "is_general": true, "members": ["U1", "U2"],
			 "topic": {"value": "t", "creator": "U1", "last_set": 100},
			 "purpose": {"value": "p", "creator": "", "last_set": 0}}]}`)
	}))
	defer srv.Close()

	c := NewClientURL("xoxp-test", srv.URL)
	channels, err := c.ListChannels(context.Background())
	if err != nil {
		t.Fatalf("list channels: %v", err)
	}
	if gotToken != "xoxp-test" {
		t.Fatalf("token not sent, got %q", gotToken)
	}
	if len(channels) != 1 || channels[0].ID != "C1" || channels[0].Topic.Value != "t" {
		t.Fatalf("unexpected decode: %+v", channels)
	}
	if len(channels[0].Members) != 2 {
		t.Fatalf("members lost: %+v", channels[0].Members)
	}
}

func TestHistoryBoundaryCursor(t *testing.T) {
	var gotOldest, gotCount string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotOldest = r.FormValue("oldest")
		gotCount = r.FormValue("count")
		fmt.Fprint(w, `{"ok": true, "has_more": true, "messages": [
			{"type": "message", "ts": "1479147931.000001", "user": "U1", "text": "newest"},
			{"type": "message", "ts": "1479147930.000009", "user": "U2", "text": "middle"},
			{"type": "message", "ts": "1479147929.000002", "user": "U1", "text": "oldest"}]}`)
	}))
	defer srv.Close()

	c := NewClientURL("xoxp-test", srv.URL)
	page, err := c.History(context.Background(), "C1", "1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if gotOldest != "1" || gotCount != "1000" {
		t.Fatalf("unexpected paging params oldest=%q count=%q", gotOldest, gotCount)
	}
	// Wire order preserved, no resorting.
	if page.Messages[0].Text != "newest" || page.Messages[2].Text != "oldest" {
		t.Fatalf("page order changed: %+v", page.Messages)
	}
	if page.Boundary != "1479147931.000001" {
		t.Fatalf("boundary must be the first entry's ts, got %q", page.Boundary)
	}
}

func TestHistoryDrained(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok": true, "has_more": false, "messages": []}`)
	}))
	defer srv.Close()

	c := NewClientURL("xoxp-test", srv.URL)
	page, err := c.History(context.Background(), "C1", "1479147931.000001")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if page.HasMore || page.Boundary != "" || len(page.Messages) != 0 {
		t.Fatalf("expected drained page, got %+v", page)
	}
}

func TestBotInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.FormValue("bot") != "B1" {
			fmt.Fprint(w, `{"ok": false, "error": "bot_not_found"}`)
			return
		}
		fmt.Fprint(w, `{"ok": true, "bot": {"id": "B1", "name": "deploybot"}}`)
	}))
	defer srv.Close()

	c := NewClientURL("xoxp-test", srv.URL)
	bot, err := c.BotInfo(context.Background(), "B1")
	if err != nil {
		t.Fatalf("bots.info: %v", err)
	}
	if bot.ID != "B1" || bot.Name != "deploybot" {
		t.Fatalf("unexpected bot: %+v", bot)
	}

	if _, err := c.BotInfo(context.Background(), "B9"); err == nil {
		t.Fatal("expected unknown bot to fail")
	}
}

func TestTransportFailureRetriesThenSurfaces(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		// Kill the connection mid-response.
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Fatal("no hijacker")
		}
		conn, _, _ := hj.Hijack()
		conn.Close()
	}))
	defer srv.Close()

	c := NewClientURL("xoxp-test", srv.URL)
	_, err := c.ListUsers(context.Background())
	if err == nil {
		t.Fatal("expected exhausted budget to surface")
	}
	if hits != maxAttempts {
		t.Fatalf("expected %d attempts, got %d", maxAttempts, hits)
	}
}
