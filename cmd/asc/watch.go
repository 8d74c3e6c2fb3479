package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ascension/internal/game"
	"ascension/internal/ledger"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var watchMetrics = []ledger.Metric{ledger.MetricXP, ledger.MetricGrinds, ledger.MetricBadges}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	tabStyle    = lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("245"))
	activeStyle = lipgloss.NewStyle().Padding(0, 1).Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("86"))
	rowStyle    = lipgloss.NewStyle().PaddingLeft(2)
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type fetchFunc func(ctx context.Context, metric string) (game.Leaderboard, error)

type boardMsg struct {
	metric string
	board  game.Leaderboard
	err    error
	at     time.Time
	// manual refreshes do not start another poll chain
	manual bool
}

type tickMsg time.Time

// watchModel polls one leaderboard and redraws it. Tab cycles metrics.
type watchModel struct {
	fetch   fetchFunc
	every   time.Duration
	metric  int
	spinner spinner.Model
	loading bool
	board   game.Leaderboard
	err     error
	updated time.Time
	now     func() time.Time
}

func newWatchModel(fetch fetchFunc, metric string, every time.Duration) watchModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = titleStyle
	m := watchModel{fetch: fetch, every: every, spinner: s, loading: true, now: time.Now}
	for i, wm := range watchMetrics {
		if string(wm) == strings.ToLower(metric) {
			m.metric = i
		}
	}
	return m
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.load(false))
}

func (m watchModel) load(manual bool) tea.Cmd {
	metric := string(watchMetrics[m.metric])
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		board, err := m.fetch(ctx, metric)
		return boardMsg{metric: metric, board: board, err: err, at: time.Now(), manual: manual}
	}
}

func (m watchModel) schedule() tea.Cmd {
	return tea.Tick(m.every, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "tab", "right", "l":
			m.metric = (m.metric + 1) % len(watchMetrics)
			m.loading = true
			return m, m.load(true)
		case "shift+tab", "left", "h":
			m.metric = (m.metric + len(watchMetrics) - 1) % len(watchMetrics)
			m.loading = true
			return m, m.load(true)
		case "r":
			m.loading = true
			return m, m.load(true)
		}
	case boardMsg:
		// a slow answer for the previous tab is dropped
		if msg.metric == string(watchMetrics[m.metric]) {
			m.loading = false
			m.err = msg.err
			if msg.err == nil {
				m.board = msg.board
				m.updated = msg.at
			}
		}
		if msg.manual {
			return m, nil
		}
		return m, m.schedule()
	case tickMsg:
		m.loading = true
		return m, m.load(false)
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m watchModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("ASCENSION · WEEKLY LEADERBOARD"))
	if m.loading {
		b.WriteString(" " + m.spinner.View())
	}
	b.WriteString("\n\n")

	tabs := make([]string, 0, len(watchMetrics))
	for i, wm := range watchMetrics {
		style := tabStyle
		if i == m.metric {
			style = activeStyle
		}
		tabs = append(tabs, style.Render(strings.ToUpper(string(wm))))
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, tabs...))
	b.WriteString("\n\n")

	switch {
	case m.err != nil:
		b.WriteString(errStyle.Render("error: "+m.err.Error()) + "\n")
	case m.updated.IsZero():
		b.WriteString(rowStyle.Render("loading...") + "\n")
	case len(m.board.Standings) == 0:
		b.WriteString(rowStyle.Render("Nobody on the board yet.") + "\n")
	default:
		for i, s := range m.board.Standings {
			place := fmt.Sprintf("%d", i+1)
			if i < len(medals) {
				place = medals[i]
			}
			b.WriteString(rowStyle.Render(fmt.Sprintf("%-4s %-24s %10s", place, truncate(s.UserID, 24), comma(s.Value))) + "\n")
		}
	}
	if !m.board.NextReset.IsZero() {
		b.WriteString("\n" + rowStyle.Render("Resets in "+countdown(m.board.NextReset.Sub(m.now()))) + "\n")
	}
	b.WriteString("\n" + helpStyle.Render("tab: next metric · r: refresh · q: quit") + "\n")
	return b.String()
}
