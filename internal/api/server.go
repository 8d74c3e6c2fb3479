package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"ascension/internal/config"
	"ascension/internal/game"
	"ascension/internal/ledger"
	"ascension/internal/store"
	"ascension/internal/telegram"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/bcrypt"
)

const telegramSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

var (
	errAdminDisabled   = errors.New("admin api disabled")
	errAdminToken      = errors.New("invalid admin token")
	errActionsDisabled = errors.New("actions api disabled")
	errAPIToken        = errors.New("invalid api token")
)

// UpdateDispatcher accepts Telegram updates for background processing.
type UpdateDispatcher interface {
	Dispatch(ctx context.Context, u telegram.Update) error
}

type Server struct {
	cfg      config.APIConfig
	log      *slog.Logger
	game     *game.Service
	updates  UpdateDispatcher
	baseCtx  context.Context
	mux      *chi.Mux
	adminKey []byte
	apiKey   []byte
}

// New wires the routes. Webhook updates are processed under baseCtx so they
// outlive the request that delivered them. updates may be nil, in which case
// the webhook route is not mounted.
func New(baseCtx context.Context, cfg config.APIConfig, logger *slog.Logger, gameSvc *game.Service, updates UpdateDispatcher) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	s := &Server{
		cfg:      cfg,
		log:      logger,
		game:     gameSvc,
		updates:  updates,
		baseCtx:  baseCtx,
		mux:      chi.NewRouter(),
		adminKey: []byte(strings.TrimSpace(cfg.AdminTokenHash)),
		apiKey:   []byte(strings.TrimSpace(cfg.APITokenHash)),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	if s.updates != nil {
		r.Post("/webhook/telegram", s.handleTelegramWebhook)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/users/{id}/profile", s.handleProfile)
		r.Get("/users/{id}/badges", s.handleBadges)
		r.Get("/users/{id}/challenges", s.handleChallenges)
		r.Get("/users/{id}/stats", s.handleStats)
		r.Get("/users/{id}/activity", s.handleActivity)
		r.Get("/users/{id}/settings", s.handleSettings)
		r.Get("/leaderboard/{metric}", s.handleLeaderboard)

		// actions accept the API token or the admin token
		r.With(s.requireToken(errActionsDisabled, errAPIToken, func() [][]byte {
			return [][]byte{s.apiKey, s.adminKey}
		})).Post("/users/{id}/actions", s.handleAction)

		r.Group(func(r chi.Router) {
			r.Use(s.requireToken(errAdminDisabled, errAdminToken, func() [][]byte {
				return [][]byte{s.adminKey}
			}))
			r.Post("/admin/weekly-reset", s.handleWeeklyReset)
			r.Post("/admin/users/{id}/special", s.handleGrantSpecial)
		})
	})
}

func (s *Server) handleTelegramWebhook(w http.ResponseWriter, r *http.Request) {
	secret := s.cfg.Telegram.WebhookSecret
	if secret != "" {
		got := r.Header.Get(telegramSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid webhook secret")
			return
		}
	}
	var u telegram.Update
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.updates.Dispatch(s.baseCtx, u); err != nil {
		s.log.Warn("telegram dispatch", "update_id", u.UpdateID, "err", err)
		writeError(w, http.StatusServiceUnavailable, "shutting down")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	out, err := s.game.Profile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBadges(w http.ResponseWriter, r *http.Request) {
	out, err := s.game.BadgeStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"badges": out})
}

func (s *Server) handleChallenges(w http.ResponseWriter, r *http.Request) {
	out, err := s.game.ChallengeStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	out, err := s.game.Stats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	out, err := s.game.Activity(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if out == nil {
		out = []ledger.ActivityEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"activity": out})
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	out, err := s.game.Settings(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	out, err := s.game.Leaderboard(r.Context(), chi.URLParam(r, "metric"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Kind    string       `json:"kind"`
		Payload game.Payload `json:"payload"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	kind, err := game.ParseAction(in.Kind)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	userID := chi.URLParam(r, "id")
	result, err := s.game.OnAction(r.Context(), userID, kind, in.Payload)
	if err != nil {
		s.log.Warn("action failed", "user_id", userID, "kind", kind, "request_id", middleware.GetReqID(r.Context()), "err", err)
		// store failures carry a user-facing result; the cause stays in the log
		if result.Kind == game.ResultFailure {
			writeJSON(w, domainStatus(err), result)
			return
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleWeeklyReset(w http.ResponseWriter, r *http.Request) {
	report, err := s.game.RunWeeklyReset(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleGrantSpecial(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Badge string `json:"badge"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := s.game.GrantSpecialBadge(r.Context(), chi.URLParam(r, "id"), strings.TrimSpace(in.Badge))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// requireToken accepts a bearer token matching any configured bcrypt hash.
// With no hash configured the route answers disabled.
func (s *Server) requireToken(disabled, invalid error, keys func() [][]byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := checkToken(bearerToken(r.Header.Get("Authorization")), disabled, invalid, keys()...); err != nil {
				status := http.StatusUnauthorized
				if errors.Is(err, disabled) {
					status = http.StatusForbidden
				}
				writeError(w, status, err.Error())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func checkToken(token string, disabled, invalid error, keys ...[]byte) error {
	configured := false
	for _, key := range keys {
		if len(key) == 0 {
			continue
		}
		configured = true
		if token != "" && bcrypt.CompareHashAndPassword(key, []byte(token)) == nil {
			return nil
		}
	}
	if !configured {
		return disabled
	}
	return invalid
}

func domainStatus(err error) int {
	switch {
	case errors.Is(err, game.ErrUnknownAction), errors.Is(err, game.ErrInvalidPayload),
		errors.Is(err, game.ErrEmptyUserID), errors.Is(err, ledger.ErrUnknownMetric),
		errors.Is(err, ledger.ErrUnknownBadge):
		return http.StatusBadRequest
	case errors.Is(err, game.ErrSessionExpired):
		return http.StatusGone
	case errors.Is(err, store.ErrConcurrentModification):
		return http.StatusConflict
	case errors.Is(err, store.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError keeps store and internal causes out of the response body;
// they can name file paths or database hosts.
func writeDomainError(w http.ResponseWriter, err error) {
	status := domainStatus(err)
	switch status {
	case http.StatusServiceUnavailable:
		writeError(w, status, "store unavailable")
	case http.StatusConflict:
		writeError(w, status, "concurrent update, try again")
	case http.StatusInternalServerError:
		writeError(w, status, "internal error")
	default:
		writeError(w, status, err.Error())
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
