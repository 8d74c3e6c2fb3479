package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var ErrNoSession = errors.New("not logged in: run `asc login` first")

// Session is the operator's local identity: which user the player commands
// act as and the bearer tokens for actions and admin calls.
type Session struct {
	UserID     string `json:"user_id"`
	APIToken   string `json:"api_token,omitempty"`
	AdminToken string `json:"admin_token,omitempty"`
}

// ActionToken is the token sent with player actions. The admin token is
// accepted there too.
func (s Session) ActionToken() string {
	if s.APIToken != "" {
		return s.APIToken
	}
	return s.AdminToken
}

func sessionPath(dir string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		return "", errors.New("session dir is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return filepath.Join(dir, "session.json"), nil
}

func SaveSession(dir string, s Session) error {
	path, err := sessionPath(dir)
	if err != nil {
		return err
	}
	body, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, body, 0o600)
}

func LoadSession(dir string) (Session, error) {
	path, err := sessionPath(dir)
	if err != nil {
		return Session{}, err
	}
	body, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Session{}, ErrNoSession
	}
	if err != nil {
		return Session{}, err
	}
	var s Session
	if err := json.Unmarshal(body, &s); err != nil {
		return Session{}, fmt.Errorf("read session: %w", err)
	}
	if strings.TrimSpace(s.UserID) == "" {
		return Session{}, ErrNoSession
	}
	return s, nil
}

func ClearSession(dir string) error {
	path, err := sessionPath(dir)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return os.Remove(path)
}
