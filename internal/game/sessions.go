package game

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const tokenLength = 12

type gameSession struct {
	token     string
	userID    string
	game      string
	expiresAt time.Time

	signalAt  time.Time
	startedAt time.Time
	explodeAt time.Time
	correct   int
	answer    string
	depth     int
}

// sessionTable holds open minigame rounds. A user has at most one open round
// per game and every round can be scored once.
type sessionTable struct {
	mu      sync.Mutex
	ttl     time.Duration
	byToken map[string]*gameSession
}

func newSessionTable(ttl time.Duration) *sessionTable {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &sessionTable{ttl: ttl, byToken: map[string]*gameSession{}}
}

func newToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:tokenLength]
}

func (t *sessionTable) open(sess *gameSession, now time.Time) *gameSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	for token, existing := range t.byToken {
		if now.After(existing.expiresAt) || (existing.userID == sess.userID && existing.game == sess.game) {
			delete(t.byToken, token)
		}
	}
	sess.token = newToken()
	sess.expiresAt = now.Add(t.ttl)
	t.byToken[sess.token] = sess
	return sess
}

// take removes and returns the round. Unknown, expired and foreign tokens all
// report ErrSessionExpired; a foreign token is left in place for its owner.
func (t *sessionTable) take(token, userID, game string, now time.Time) (*gameSession, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sess, ok := t.byToken[token]
	if !ok || sess.userID != userID || sess.game != game {
		return nil, ErrSessionExpired
	}
	delete(t.byToken, token)
	if now.After(sess.expiresAt) {
		return nil, ErrSessionExpired
	}
	return sess, nil
}

// restore hands a taken round back after its result could not be stored. A
// round the user has replaced in the meantime stays gone.
func (t *sessionTable) restore(sess *gameSession) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, existing := range t.byToken {
		if existing.userID == sess.userID && existing.game == sess.game {
			return
		}
	}
	t.byToken[sess.token] = sess
}

func (t *sessionTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byToken)
}
