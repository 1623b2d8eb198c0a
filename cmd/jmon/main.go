// Command jmon is a terminal monitor for a running jbus Listener: it shows
// each connected Endpoint's channel, its GBAGetProcessStatus result, and any
// in-flight JoyBoot upload percentage, refreshing live as peers connect.
package main

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/AxioDL/jbus"
)

type tickMsg time.Time

type endpointRow struct {
	chanID     byte
	status     jbus.JoyReturn
	percentage byte
}

type model struct {
	listener  *jbus.Listener
	endpoints []*jbus.Endpoint
	rows      []endpointRow
	err       error
}

func tick() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Init() tea.Cmd {
	return tea.Batch(tick(), m.waitForEndpoint())
}

// waitForEndpoint blocks (in its own goroutine, per bubbletea's tea.Cmd
// contract) until the listener pairs a new peer, then reports it as a
// message so Update can add it to the monitored set.
func (m model) waitForEndpoint() tea.Cmd {
	return func() tea.Msg {
		ep := m.listener.Accept()
		if ep == nil {
			return nil
		}
		return endpointJoinedMsg{ep}
	}
}

type endpointJoinedMsg struct{ ep *jbus.Endpoint }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}

	case endpointJoinedMsg:
		m.endpoints = append(m.endpoints, msg.ep)
		return m, m.waitForEndpoint()

	case tickMsg:
		rows := make([]endpointRow, 0, len(m.endpoints))
		for _, ep := range m.endpoints {
			status, pct := ep.GBAGetProcessStatus()
			rows = append(rows, endpointRow{chanID: ep.Chan(), status: status, percentage: pct})
		}
		m.rows = rows
		return m, tick()
	}
	return m, nil
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	barStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

func progressBar(pct byte, width int) string {
	filled := int(pct) * width / 100
	if filled > width {
		filled = width
	}
	return barStyle.Render(strings.Repeat("#", filled)) + strings.Repeat(".", width-filled)
}

func (m model) View() string {
	lines := []string{headerStyle.Render("chan  status               joyboot")}
	if len(m.rows) == 0 {
		lines = append(lines, "(waiting for peers on data/clock ports)")
	}
	for _, r := range m.rows {
		lines = append(lines, fmt.Sprintf("%4d  %-18s  [%s] %3d%%",
			r.chanID, r.status, progressBar(r.percentage, 20), r.percentage))
	}
	lines = append(lines, "", "press q to quit")
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func main() {
	logger := log.New(os.Stderr, "jmon: ", log.LstdFlags)
	l, err := jbus.NewListener(logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer l.Stop()

	if _, err := tea.NewProgram(model{listener: l}).Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
