package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	cl "ascension/internal/cli"
	"ascension/internal/config"
	"ascension/internal/game"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mdp/qrterminal/v3"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
)

const requestTimeout = 30 * time.Second

func main() {
	cfg, err := config.LoadCLIFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	root := &cobra.Command{
		Use:          "asc",
		Short:        "Ascension operator and player CLI",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfg.APIBaseURL, "api", cfg.APIBaseURL, "API base URL")
	root.PersistentFlags().StringVar(&cfg.SessionDir, "home", cfg.SessionDir, "directory holding session.json")

	root.AddCommand(
		newLoginCmd(&cfg),
		newLogoutCmd(&cfg),
		newProfileCmd(&cfg),
		newStatsCmd(&cfg),
		newActivityCmd(&cfg),
		newBadgesCmd(&cfg),
		newChallengesCmd(&cfg),
		newLeaderboardCmd(&cfg),
		newActCmd(&cfg),
		newWatchCmd(&cfg),
		newAdminCmd(&cfg),
		newQRCmd(),
	)

	if err := root.Execute(); err != nil {
		var apiErr *cl.APIError
		if errors.As(err, &apiErr) && apiErr.Status == 410 {
			printWarn("That game session expired. Start a new round.")
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(cfg *config.CLIConfig) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/"))
}

// userFor picks the --user flag over the saved session.
func userFor(cfg *config.CLIConfig, flag string) (string, error) {
	if strings.TrimSpace(flag) != "" {
		return strings.TrimSpace(flag), nil
	}
	s, err := cl.LoadSession(cfg.SessionDir)
	if err != nil {
		return "", err
	}
	return s.UserID, nil
}

// actionTokenFor picks the --token flag over the saved session.
func actionTokenFor(cfg *config.CLIConfig, flag string) (string, error) {
	if strings.TrimSpace(flag) != "" {
		return strings.TrimSpace(flag), nil
	}
	s, err := cl.LoadSession(cfg.SessionDir)
	if errors.Is(err, cl.ErrNoSession) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return s.ActionToken(), nil
}

func newLoginCmd(cfg *config.CLIConfig) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Save the user id and tokens to act with",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if strings.TrimSpace(userID) == "" {
				userID, err = promptRequired("User id")
				if err != nil {
					return err
				}
			}
			apiToken, err := promptSecret("API token (blank to use the admin token)")
			if err != nil {
				return err
			}
			token, err := promptSecret("Admin token (optional)")
			if err != nil {
				return err
			}
			if apiToken == "" && token == "" {
				printWarn("No token saved: actions will be rejected until you log in with one.")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			if err := newClient(cfg).Health(ctx); err != nil {
				printWarn(fmt.Sprintf("API not reachable at %s: %v", cfg.APIBaseURL, err))
			}
			if err := cl.SaveSession(cfg.SessionDir, cl.Session{UserID: strings.TrimSpace(userID), APIToken: apiToken, AdminToken: token}); err != nil {
				return err
			}
			printSuccess("Session saved for " + strings.TrimSpace(userID) + ".")
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id, e.g. a Telegram id or discord:<id>")
	return cmd
}

func newLogoutCmd(cfg *config.CLIConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.ClearSession(cfg.SessionDir); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newProfileCmd(cfg *config.CLIConfig) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show XP, rank, streak and badge count",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := userFor(cfg, user)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			p, err := newClient(cfg).Profile(ctx, userID)
			if err != nil {
				return err
			}
			renderProfile(os.Stdout, p)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id (defaults to the saved session)")
	return cmd
}

func newStatsCmd(cfg *config.CLIConfig) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show rank progress, weekly numbers and challenge count",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := userFor(cfg, user)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			st, err := newClient(cfg).Stats(ctx, userID)
			if err != nil {
				return err
			}
			renderStats(os.Stdout, st)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id (defaults to the saved session)")
	return cmd
}

func newActivityCmd(cfg *config.CLIConfig) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "activity",
		Short: "List the most recent rewards",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := userFor(cfg, user)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			entries, err := newClient(cfg).Activity(ctx, userID)
			if err != nil {
				return err
			}
			renderActivity(os.Stdout, entries, time.Now())
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id (defaults to the saved session)")
	return cmd
}

func newBadgesCmd(cfg *config.CLIConfig) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "badges",
		Short: "List badges with unlock progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := userFor(cfg, user)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			badges, err := newClient(cfg).Badges(ctx, userID)
			if err != nil {
				return err
			}
			renderBadges(os.Stdout, badges)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id (defaults to the saved session)")
	return cmd
}

func newChallengesCmd(cfg *config.CLIConfig) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "challenges",
		Short: "Show daily and weekly challenge progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := userFor(cfg, user)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			board, err := newClient(cfg).Challenges(ctx, userID)
			if err != nil {
				return err
			}
			renderChallenges(os.Stdout, board)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id (defaults to the saved session)")
	return cmd
}

func newLeaderboardCmd(cfg *config.CLIConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "leaderboard [xp|grinds|badges]",
		Short: "Show the weekly top three",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			metric := "xp"
			if len(args) == 1 {
				metric = args[0]
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			lb, err := newClient(cfg).Leaderboard(ctx, metric)
			if err != nil {
				return err
			}
			renderLeaderboard(os.Stdout, lb, time.Now())
			return nil
		},
	}
}

func newActCmd(cfg *config.CLIConfig) *cobra.Command {
	var user, tokenFlag string
	cmd := &cobra.Command{
		Use:   "act <kind> [session] [choice]",
		Short: "Send an action (grind, tap_start, tap, bomb_pick, ...)",
		Long: "Send one action. Minigame rounds return a session token; pass it back\n" +
			"with the play action, e.g. `asc act bomb_start` then `asc act bomb_pick <token> 2`.\n" +
			"Onboarding answers take the choice alone: `asc act onboarding_answer - B`.",
		Args: cobra.RangeArgs(1, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := game.ParseAction(args[0])
			if err != nil {
				return fmt.Errorf("%w: %q", err, args[0])
			}
			userID, err := userFor(cfg, user)
			if err != nil {
				return err
			}
			var payload game.Payload
			if len(args) > 1 && args[1] != "-" {
				payload.Session = args[1]
			}
			if len(args) > 2 {
				payload.Choice = args[2]
			}
			token, err := actionTokenFor(cfg, tokenFlag)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			res, err := newClient(cfg).Act(ctx, token, userID, string(kind), payload)
			if err != nil {
				return err
			}
			renderResult(os.Stdout, res)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id (defaults to the saved session)")
	cmd.Flags().StringVar(&tokenFlag, "token", "", "API token (defaults to the saved session)")
	return cmd
}

func newWatchCmd(cfg *config.CLIConfig) *cobra.Command {
	var every time.Duration
	cmd := &cobra.Command{
		Use:   "watch [xp|grinds|badges]",
		Short: "Live leaderboard in the terminal",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !term.IsTerminal(int(os.Stdout.Fd())) {
				return errors.New("watch needs an interactive terminal; use `asc leaderboard` instead")
			}
			if every < time.Second {
				every = time.Second
			}
			metric := "xp"
			if len(args) == 1 {
				metric = args[0]
			}
			client := newClient(cfg)
			model := newWatchModel(client.Leaderboard, metric, every)
			_, err := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(cmd.Context())).Run()
			if errors.Is(err, tea.ErrProgramKilled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().DurationVar(&every, "every", 5*time.Second, "refresh interval")
	return cmd
}

func newAdminCmd(cfg *config.CLIConfig) *cobra.Command {
	admin := &cobra.Command{
		Use:   "admin",
		Short: "Operator commands (need an admin token)",
	}
	adminToken := func() (string, error) {
		s, err := cl.LoadSession(cfg.SessionDir)
		if err != nil {
			return "", err
		}
		if s.AdminToken == "" {
			return "", errors.New("no admin token in session: run `asc login` and enter one")
		}
		return s.AdminToken, nil
	}

	reset := &cobra.Command{
		Use:   "reset",
		Short: "Close the current week now",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := adminToken()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			report, err := newClient(cfg).WeeklyReset(ctx, token)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Weekly reset done for %d user(s).", report.Users))
			for i, w := range report.Winners {
				fmt.Printf("%-4s %-24s %10s\n", medals[min(i, len(medals)-1)], truncate(w.UserID, 24), comma(w.Value))
				if badges := report.Unlocked[w.UserID]; len(badges) > 0 {
					printInfo("     unlocked " + strings.Join(badges, ", "))
				}
			}
			fmt.Printf("Next reset: %s\n", report.NextReset.Local().Format("Mon 2006-01-02 15:04"))
			return nil
		},
	}

	special := &cobra.Command{
		Use:   "special <user> <badge>",
		Short: "Grant a special badge",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := adminToken()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			res, err := newClient(cfg).GrantSpecial(ctx, token, args[0], args[1])
			if err != nil {
				return err
			}
			renderResult(os.Stdout, res)
			return nil
		},
	}

	hash := &cobra.Command{
		Use:   "hash-token",
		Short: "Hash a token for ASCENSION_ADMIN_TOKEN_HASH or ASCENSION_API_TOKEN_HASH",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := promptSecret("Token")
			if err != nil {
				return err
			}
			if len(token) < 12 {
				return errors.New("token must be at least 12 characters")
			}
			out, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}

	admin.AddCommand(reset, special, hash)
	return admin
}

func newQRCmd() *cobra.Command {
	var start string
	cmd := &cobra.Command{
		Use:   "qr <telegram-bot-username>",
		Short: "Print a QR code that opens the bot in Telegram",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			link := telegramLink(args[0], start)
			qrterminal.GenerateHalfBlock(link, qrterminal.L, os.Stdout)
			printInfo(link)
			return nil
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "deep-link start parameter")
	return cmd
}

func telegramLink(username, start string) string {
	link := "https://t.me/" + url.PathEscape(strings.TrimPrefix(strings.TrimSpace(username), "@"))
	if start = strings.TrimSpace(start); start != "" {
		link += "?start=" + url.QueryEscape(start)
	}
	return link
}
