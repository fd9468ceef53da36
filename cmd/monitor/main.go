// monitor is the read-only monitoring TUI (spec §6 "CLI surface"):
// single-purpose, no sub-commands, polls a running trader process's
// /health endpoint and renders it, grounded on the
// NimbleMarkets-dbn-go bubbletea/lipgloss TUI convention.
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

const (
	exitOK        = 0
	exitInitError = 1
)

var targetAddr string

var rootCmd = &cobra.Command{
	Use:   "monitor",
	Short: "polls a trader process's /health endpoint and renders a live dashboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		p := tea.NewProgram(newModel(targetAddr), tea.WithAltScreen())
		_, err := p.Run()
		return err
	},
}

func main() {
	rootCmd.Flags().StringVar(&targetAddr, "addr", "http://localhost:9090", "trader monitoring server base URL")
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitInitError)
	}
	os.Exit(exitOK)
}

type healthSnapshot struct {
	Status                    string  `json:"status"`
	UptimeSeconds             float64 `json:"uptime_seconds"`
	MarketQueueUtilizationPct float64 `json:"market_queue_utilization_percent"`
	OrderQueueUtilizationPct  float64 `json:"order_queue_utilization_percent"`
}

type tickMsg time.Time

type healthMsg struct {
	snapshot healthSnapshot
	err      error
}

type model struct {
	addr     string
	client   *http.Client
	last     healthSnapshot
	lastErr  error
	headerSt lipgloss.Style
	okSt     lipgloss.Style
	warnSt   lipgloss.Style
}

func newModel(addr string) model {
	return model{
		addr:     addr,
		client:   &http.Client{Timeout: 2 * time.Second},
		headerSt: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")),
		okSt:     lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		warnSt:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(tickEvery(), m.poll())
}

func tickEvery() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) poll() tea.Cmd {
	return func() tea.Msg {
		resp, err := m.client.Get(m.addr + "/health")
		if err != nil {
			return healthMsg{err: err}
		}
		defer resp.Body.Close()
		var snap healthSnapshot
		if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
			return healthMsg{err: err}
		}
		return healthMsg{snapshot: snap}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "esc" || msg.String() == "q" {
			return m, tea.Quit
		}
	case tickMsg:
		return m, tea.Batch(tickEvery(), m.poll())
	case healthMsg:
		if msg.err != nil {
			m.lastErr = msg.err
		} else {
			m.last = msg.snapshot
			m.lastErr = nil
		}
	}
	return m, nil
}

func (m model) View() string {
	header := m.headerSt.Render(fmt.Sprintf("funding-spread-arb monitor — %s", m.addr))
	if m.lastErr != nil {
		return header + "\n\n" + m.warnSt.Render(fmt.Sprintf("unreachable: %v", m.lastErr)) + "\n\npress q to quit"
	}
	status := m.okSt.Render(m.last.Status)
	if m.last.Status != "ok" {
		status = m.warnSt.Render(m.last.Status)
	}
	body := fmt.Sprintf(
		"status: %s\nuptime: %.0fs\nmarket queue util: %.1f%%\norder queue util: %.1f%%",
		status, m.last.UptimeSeconds, m.last.MarketQueueUtilizationPct, m.last.OrderQueueUtilizationPct,
	)
	return header + "\n\n" + body + "\n\npress q to quit"
}
