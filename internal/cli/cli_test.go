package cli

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"ascension/internal/game"
)

func TestSessionRoundTrip(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadSession(dir); !errors.Is(err, ErrNoSession) {
		t.Fatalf("got %v want ErrNoSession", err)
	}
	if err := SaveSession(dir, Session{UserID: "42", AdminToken: "tok"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	s, err := LoadSession(dir)
	if err != nil || s.UserID != "42" || s.AdminToken != "tok" {
		t.Fatalf("session=%+v err=%v", s, err)
	}
	if s.ActionToken() != "tok" {
		t.Fatalf("action token falls back to admin: %q", s.ActionToken())
	}
	s.APIToken = "play"
	if s.ActionToken() != "play" {
		t.Fatalf("action token=%q", s.ActionToken())
	}
	if err := ClearSession(dir); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := LoadSession(dir); !errors.Is(err, ErrNoSession) {
		t.Fatalf("after clear got %v", err)
	}
	if err := ClearSession(dir); err != nil {
		t.Fatalf("second clear: %v", err)
	}
}

func TestClientRequests(t *testing.T) {
	type call struct {
		method, path, auth string
		body               map[string]any
	}
	var calls []call
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := call{method: r.Method, path: r.URL.EscapedPath(), auth: r.Header.Get("Authorization")}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&c.body)
		}
		calls = append(calls, c)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/users/tg 1/actions":
			_ = json.NewEncoder(w).Encode(game.Result{Kind: game.ResultXPGranted, XPDelta: 22})
		case "/v1/admin/weekly-reset":
			_ = json.NewEncoder(w).Encode(game.ResetReport{Ran: true, Users: 3})
		case "/v1/users/down/actions":
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(game.Result{Kind: game.ResultFailure, Detail: "Something went wrong."})
		case "/v1/users/tg 1/activity":
			_, _ = w.Write([]byte(`{"activity":[{"kind":"xp_granted","source":"grind","xp_delta":172}]}`))
		case "/v1/leaderboard/karma":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"unknown leaderboard metric"}`))
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{})
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL + "/")
	ctx := context.Background()
	res, err := c.Act(ctx, "play", "tg 1", "grind", game.Payload{})
	if err != nil || res.XPDelta != 22 {
		t.Fatalf("act=%+v err=%v", res, err)
	}
	_, err = c.Act(ctx, "play", "down", "grind", game.Payload{})
	var downErr *APIError
	if !errors.As(err, &downErr) || downErr.Status != http.StatusServiceUnavailable || downErr.Message != "Something went wrong." {
		t.Fatalf("down act err=%v", err)
	}
	entries, err := c.Activity(ctx, "tg 1")
	if err != nil || len(entries) != 1 || entries[0].XPDelta != 172 {
		t.Fatalf("activity=%+v err=%v", entries, err)
	}
	report, err := c.WeeklyReset(ctx, "secret")
	if err != nil || !report.Ran || report.Users != 3 {
		t.Fatalf("reset=%+v err=%v", report, err)
	}
	if _, err := c.GrantSpecial(ctx, "secret", "42", "Founder"); err != nil {
		t.Fatalf("grant: %v", err)
	}

	_, err = c.Leaderboard(ctx, "karma")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest || apiErr.Message != "unknown leaderboard metric" {
		t.Fatalf("got %v", err)
	}

	want := []call{
		{method: http.MethodPost, path: "/v1/users/tg%201/actions", auth: "Bearer play"},
		{method: http.MethodPost, path: "/v1/users/down/actions", auth: "Bearer play"},
		{method: http.MethodGet, path: "/v1/users/tg%201/activity"},
		{method: http.MethodPost, path: "/v1/admin/weekly-reset", auth: "Bearer secret"},
		{method: http.MethodPost, path: "/v1/admin/users/42/special", auth: "Bearer secret"},
		{method: http.MethodGet, path: "/v1/leaderboard/karma"},
	}
	if len(calls) != len(want) {
		t.Fatalf("calls=%+v", calls)
	}
	for i, w := range want {
		if calls[i].method != w.method || calls[i].path != w.path || calls[i].auth != w.auth {
			t.Fatalf("call %d=%+v want %+v", i, calls[i], w)
		}
	}
	if calls[0].body["kind"] != "grind" || calls[4].body["badge"] != "Founder" {
		t.Fatalf("bodies: %+v / %+v", calls[0].body, calls[2].body)
	}
}
