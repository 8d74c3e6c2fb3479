package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ascension/internal/game"
	"ascension/internal/ledger"
)

// APIError is a non-2xx answer from the API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Profile(ctx context.Context, userID string) (game.Profile, error) {
	var out game.Profile
	err := c.jsonRequest(ctx, http.MethodGet, userPath(userID, "profile"), "", nil, &out)
	return out, err
}

func (c *Client) Badges(ctx context.Context, userID string) ([]game.BadgeView, error) {
	var out struct {
		Badges []game.BadgeView `json:"badges"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, userPath(userID, "badges"), "", nil, &out)
	return out.Badges, err
}

func (c *Client) Challenges(ctx context.Context, userID string) (game.ChallengeBoard, error) {
	var out game.ChallengeBoard
	err := c.jsonRequest(ctx, http.MethodGet, userPath(userID, "challenges"), "", nil, &out)
	return out, err
}

func (c *Client) Stats(ctx context.Context, userID string) (game.Stats, error) {
	var out game.Stats
	err := c.jsonRequest(ctx, http.MethodGet, userPath(userID, "stats"), "", nil, &out)
	return out, err
}

func (c *Client) Activity(ctx context.Context, userID string) ([]ledger.ActivityEntry, error) {
	var out struct {
		Activity []ledger.ActivityEntry `json:"activity"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, userPath(userID, "activity"), "", nil, &out)
	return out.Activity, err
}

func (c *Client) Leaderboard(ctx context.Context, metric string) (game.Leaderboard, error) {
	var out game.Leaderboard
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/leaderboard/"+url.PathEscape(metric), "", nil, &out)
	return out, err
}

// Act posts a player action. token is the API token or the admin token.
func (c *Client) Act(ctx context.Context, token, userID, kind string, payload game.Payload) (game.Result, error) {
	var out game.Result
	err := c.jsonRequest(ctx, http.MethodPost, userPath(userID, "actions"), token, map[string]any{
		"kind":    kind,
		"payload": payload,
	}, &out)
	return out, err
}

func (c *Client) WeeklyReset(ctx context.Context, adminToken string) (game.ResetReport, error) {
	var out game.ResetReport
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/admin/weekly-reset", adminToken, nil, &out)
	return out, err
}

func (c *Client) GrantSpecial(ctx context.Context, adminToken, userID, badge string) (game.Result, error) {
	var out game.Result
	err := c.jsonRequest(ctx, http.MethodPost, userPath(userID, "special"), adminToken, map[string]any{
		"badge": badge,
	}, &out)
	return out, err
}

func (c *Client) Health(ctx context.Context) error {
	return c.jsonRequest(ctx, http.MethodGet, "/healthz", "", nil, nil)
}

func userPath(userID, leaf string) string {
	prefix := "/v1/users/"
	if leaf == "special" {
		prefix = "/v1/admin/users/"
	}
	return prefix + url.PathEscape(userID) + "/" + leaf
}

func (c *Client) jsonRequest(ctx context.Context, method, path, token string, in any, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Message: errorMessage(raw)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func errorMessage(raw []byte) string {
	var body struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Detail != "" {
			return body.Detail
		}
	}
	return strings.TrimSpace(string(raw))
}
