package bot

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"ascension/internal/game"
	"ascension/internal/ledger"
)

// Inbound is one user interaction as seen by a transport: either a typed
// message or a button press carrying its callback id.
type Inbound struct {
	UserID   string
	ChatID   string
	Text     string
	Callback string
}

func (in Inbound) IsCallback() bool {
	return in.Callback != ""
}

type Button struct {
	Label    string `json:"label"`
	Callback string `json:"callback"`
}

// Frame is shown before the final reply text and held for Hold.
type Frame struct {
	Text string        `json:"text"`
	Hold time.Duration `json:"hold"`
}

type Reply struct {
	Text    string     `json:"text"`
	Buttons [][]Button `json:"buttons,omitempty"`
	Prelude []Frame    `json:"prelude,omitempty"`
}

// Game is the slice of game.Service the router drives.
type Game interface {
	OnAction(ctx context.Context, userID string, kind game.ActionKind, payload game.Payload) (game.Result, error)
	Profile(ctx context.Context, userID string) (game.Profile, error)
	Leaderboard(ctx context.Context, metric string) (game.Leaderboard, error)
	BadgeStatus(ctx context.Context, userID string) ([]game.BadgeView, error)
	ChallengeStatus(ctx context.Context, userID string) (game.ChallengeBoard, error)
	Stats(ctx context.Context, userID string) (game.Stats, error)
	Activity(ctx context.Context, userID string) ([]ledger.ActivityEntry, error)
	Settings(ctx context.Context, userID string) (ledger.Settings, error)
}

type Router struct {
	game  Game
	log   *slog.Logger
	now   func() time.Time
	brand string
}

type Option func(*Router)

func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// WithBrand replaces the name shown in the welcome and help screens.
func WithBrand(name string) Option {
	return func(r *Router) {
		if strings.TrimSpace(name) != "" {
			r.brand = strings.TrimSpace(name)
		}
	}
}

func NewRouter(g Game, logger *slog.Logger, opts ...Option) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{game: g, log: logger, now: time.Now, brand: "Ascension"}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle routes one interaction. It never fails: errors are logged and turned
// into a screen the user can recover from.
func (r *Router) Handle(ctx context.Context, in Inbound) Reply {
	if strings.TrimSpace(in.UserID) == "" {
		return errorScreen()
	}
	var (
		reply Reply
		err   error
	)
	if in.IsCallback() {
		reply, err = r.callback(ctx, in.UserID, strings.TrimSpace(in.Callback))
	} else {
		reply, err = r.command(ctx, in.UserID, strings.TrimSpace(in.Text))
	}
	if err != nil {
		return r.recover(in, err)
	}
	return reply
}

func (r *Router) recover(in Inbound, err error) Reply {
	switch {
	case errors.Is(err, game.ErrSessionExpired):
		return expiredScreen()
	case errors.Is(err, game.ErrInvalidPayload),
		errors.Is(err, game.ErrUnknownAction),
		errors.Is(err, ledger.ErrUnknownMetric),
		errors.Is(err, ledger.ErrUnknownBadge):
		r.log.Warn("rejected interaction", "user_id", in.UserID, "callback", in.Callback, "err", err)
		return menuScreen()
	default:
		r.log.Error("interaction failed", "user_id", in.UserID, "callback", in.Callback, "text", in.Text, "err", err)
		return errorScreen()
	}
}

func (r *Router) command(ctx context.Context, userID, text string) (Reply, error) {
	// "/grind@MyBot" in group chats addresses the same command.
	cmd, _, _ := strings.Cut(text, " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	switch strings.ToLower(cmd) {
	case "/start":
		return welcomeScreen(r.brand), nil
	case "/menu":
		return menuScreen(), nil
	case "/profile":
		return r.profile(ctx, userID)
	case "/help":
		return helpScreen(r.brand), nil
	case "/grind":
		return r.grind(ctx, userID)
	case "/badges":
		return r.badges(ctx, userID)
	case "/leaderboards", "/leaderboard":
		return r.leaderboard(ctx, string(ledger.MetricXP))
	case "/challenges":
		return r.challenges(ctx, userID)
	case "/games":
		return gamesScreen(), nil
	case "/activity":
		return r.activity(ctx, userID)
	case "/settings":
		return r.settings(ctx, userID)
	case "/stats":
		return r.stats(ctx, userID)
	}
	return menuScreen(), nil
}

func (r *Router) callback(ctx context.Context, userID, data string) (Reply, error) {
	switch {
	case strings.HasPrefix(data, "menu"):
		return menuScreen(), nil
	case data == "prof_grind", data == "grind":
		return r.grind(ctx, userID)
	case data == "prof_stats":
		return r.stats(ctx, userID)
	case strings.HasPrefix(data, "prof"):
		return r.profile(ctx, userID)
	case strings.HasPrefix(data, "badge_detail_"):
		return r.badgeDetail(ctx, userID, strings.TrimPrefix(data, "badge_detail_"))
	case strings.HasPrefix(data, "badge"):
		return r.badges(ctx, userID)
	case strings.HasPrefix(data, "lb_"):
		return r.leaderboard(ctx, strings.TrimPrefix(data, "lb_"))
	case strings.HasPrefix(data, "ch_"):
		return r.challenges(ctx, userID)
	case strings.HasPrefix(data, "act_"):
		return r.activity(ctx, userID)
	case data == "set_boards":
		return r.toggleBoards(ctx, userID)
	case strings.HasPrefix(data, "set_"):
		return r.settings(ctx, userID)
	case data == "onb_next":
		return r.onboarding(ctx, userID, game.ActionOnboardingNext, "")
	case strings.HasPrefix(data, "onb_ans_"):
		return r.onboarding(ctx, userID, game.ActionOnboardingAnswer, strings.TrimPrefix(data, "onb_ans_"))
	case strings.HasPrefix(data, "help"):
		return helpScreen(r.brand), nil
	case strings.HasPrefix(data, "games"):
		return gamesScreen(), nil
	case strings.HasPrefix(data, "tap:"):
		return r.minigame(ctx, userID, game.GameTap, strings.TrimPrefix(data, "tap:"))
	case strings.HasPrefix(data, "bomb:"):
		return r.minigame(ctx, userID, game.GameBomb, strings.TrimPrefix(data, "bomb:"))
	case strings.HasPrefix(data, "rush:"):
		return r.minigame(ctx, userID, game.GameRush, strings.TrimPrefix(data, "rush:"))
	case strings.HasPrefix(data, "door:"):
		return r.minigame(ctx, userID, game.GameCorridor, strings.TrimPrefix(data, "door:"))
	}
	return menuScreen(), nil
}

func (r *Router) profile(ctx context.Context, userID string) (Reply, error) {
	p, err := r.game.Profile(ctx, userID)
	if err != nil {
		return Reply{}, err
	}
	return profileScreen(p), nil
}

func (r *Router) stats(ctx context.Context, userID string) (Reply, error) {
	st, err := r.game.Stats(ctx, userID)
	if err != nil {
		return Reply{}, err
	}
	return statsScreen(st), nil
}

func (r *Router) activity(ctx context.Context, userID string) (Reply, error) {
	entries, err := r.game.Activity(ctx, userID)
	if err != nil {
		return Reply{}, err
	}
	return activityScreen(entries, r.now()), nil
}

func (r *Router) settings(ctx context.Context, userID string) (Reply, error) {
	set, err := r.game.Settings(ctx, userID)
	if err != nil {
		return Reply{}, err
	}
	return settingsScreen(set, ""), nil
}

func (r *Router) toggleBoards(ctx context.Context, userID string) (Reply, error) {
	res, err := r.game.OnAction(ctx, userID, game.ActionToggleBoards, game.Payload{})
	if err != nil {
		return Reply{}, err
	}
	if res.Kind == game.ResultFailure {
		return errorScreen(), nil
	}
	return settingsScreen(ledger.Settings{HideFromBoards: res.Outcome == "hidden"}, res.Detail), nil
}

func (r *Router) grind(ctx context.Context, userID string) (Reply, error) {
	res, err := r.game.OnAction(ctx, userID, game.ActionGrind, game.Payload{})
	if err != nil {
		return Reply{}, err
	}
	return grindScreen(res), nil
}

func (r *Router) badges(ctx context.Context, userID string) (Reply, error) {
	views, err := r.game.BadgeStatus(ctx, userID)
	if err != nil {
		return Reply{}, err
	}
	return badgeListScreen(views), nil
}

func (r *Router) badgeDetail(ctx context.Context, userID, name string) (Reply, error) {
	views, err := r.game.BadgeStatus(ctx, userID)
	if err != nil {
		return Reply{}, err
	}
	for _, v := range views {
		if v.Name == name {
			return badgeDetailScreen(v), nil
		}
	}
	return Reply{}, ledger.ErrUnknownBadge
}

func (r *Router) leaderboard(ctx context.Context, metric string) (Reply, error) {
	lb, err := r.game.Leaderboard(ctx, metric)
	if err != nil {
		return Reply{}, err
	}
	return leaderboardScreen(lb, r.now()), nil
}

func (r *Router) challenges(ctx context.Context, userID string) (Reply, error) {
	board, err := r.game.ChallengeStatus(ctx, userID)
	if err != nil {
		return Reply{}, err
	}
	return challengesScreen(board), nil
}

func (r *Router) onboarding(ctx context.Context, userID string, kind game.ActionKind, answer string) (Reply, error) {
	res, err := r.game.OnAction(ctx, userID, kind, game.Payload{Choice: answer})
	if err != nil {
		return Reply{}, err
	}
	return onboardingScreen(res), nil
}

// minigame handles "<game>:start" and "<game>:<token>[:<choice>]" callbacks.
func (r *Router) minigame(ctx context.Context, userID, name, rest string) (Reply, error) {
	start, play, ok := minigameActions(name)
	if !ok {
		return menuScreen(), nil
	}
	if rest == "intro" {
		return introScreen(name), nil
	}
	if rest == "start" {
		res, err := r.game.OnAction(ctx, userID, start, game.Payload{})
		if err != nil {
			return Reply{}, err
		}
		return roundScreen(name, res), nil
	}
	token, choice, _ := strings.Cut(rest, ":")
	res, err := r.game.OnAction(ctx, userID, play, game.Payload{Session: token, Choice: choice})
	if err != nil {
		return Reply{}, err
	}
	if res.Session != nil {
		// corridor teleports hand out the next round straight away
		return roundScreen(name, res), nil
	}
	return outcomeScreen(name, res), nil
}

func minigameActions(name string) (start, play game.ActionKind, ok bool) {
	switch name {
	case game.GameTap:
		return game.ActionTapStart, game.ActionTap, true
	case game.GameBomb:
		return game.ActionBombStart, game.ActionBombPick, true
	case game.GameRush:
		return game.ActionRushStart, game.ActionRushAnswer, true
	case game.GameCorridor:
		return game.ActionCorridorStart, game.ActionCorridorPick, true
	}
	return "", "", false
}

// callbackPrefix maps a game name to the prefix its buttons use.
func callbackPrefix(name string) string {
	if name == game.GameCorridor {
		return "door"
	}
	return name
}

func choiceCallback(name, token string, i int) string {
	return callbackPrefix(name) + ":" + token + ":" + strconv.Itoa(i)
}
