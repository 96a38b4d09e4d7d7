package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/hochfrequenz/lake-orchestrator/internal/domain"
)

var (
	headerStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("255"))

	tabActiveStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			Underline(true)

	tabInactiveStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("244"))

	selectedStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("238"))

	publishedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	runningStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	pendingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	failedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	dimmedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

func stateStyle(s domain.RunState) lipgloss.Style {
	switch s {
	case domain.StatePublished, domain.StateSucceeded:
		return publishedStyle
	case domain.StateFailed:
		return failedStyle
	case domain.StatePending:
		return pendingStyle
	default:
		return runningStyle
	}
}

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder

	b.WriteString(headerStyle.Width(m.width).Render(m.header()))
	b.WriteString("\n")
	b.WriteString(m.renderTabs())
	b.WriteString("\n")

	var content string
	switch m.activeTab {
	case tabBatches:
		content = m.renderBatches()
	default:
		content = m.renderLakes()
	}
	b.WriteString(sectionStyle.Width(m.width - 2).Render(content))
	b.WriteString("\n")

	if m.activeTab == tabLakes {
		if detail := m.renderDetail(); detail != "" {
			b.WriteString(sectionStyle.Width(m.width - 2).Render(detail))
			b.WriteString("\n")
		}
	}

	b.WriteString(m.renderStatusBar())
	return b.String()
}

func (m Model) header() string {
	if m.batch == nil {
		return " lakesim │ no batches yet "
	}
	counts := make(map[domain.RunState]int)
	for _, r := range m.records {
		counts[r.State]++
	}
	done := counts[domain.StatePublished] + counts[domain.StateSucceeded] + counts[domain.StateFailed]
	state := "finished"
	if m.batch.Running() {
		state = "running"
	}
	return fmt.Sprintf(" lakesim │ %s %s │ %d/%d done │ published %d │ failed %d ",
		m.batch.BaseName, state, done, len(m.records), counts[domain.StatePublished], counts[domain.StateFailed])
}

func (m Model) renderTabs() string {
	tabs := []string{"Lakes", "Batches"}
	var parts []string

	for i, tab := range tabs {
		if i == m.activeTab {
			parts = append(parts, tabActiveStyle.Render(fmt.Sprintf(" %s ", tab)))
		} else {
			parts = append(parts, tabInactiveStyle.Render(fmt.Sprintf(" %s ", tab)))
		}
	}

	return strings.Join(parts, "│")
}

func (m Model) renderLakes() string {
	if len(m.records) == 0 {
		return dimmedStyle.Render("No lake runs")
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%-20s %-11s %-8s %-8s %s\n", "LAKE", "STATE", "FETCHES", "PUBLISH", "ELAPSED"))
	for i, r := range m.records {
		line := fmt.Sprintf("%-20s %s %-8d %-8d %s",
			r.LakeKey,
			stateStyle(r.State).Render(fmt.Sprintf("%-11s", r.State)),
			r.FetchAttempts,
			r.PublishAttempts,
			elapsed(r, m.lastRefresh),
		)
		if i == m.selectedRow {
			line = selectedStyle.Render(line)
		}
		b.WriteString(line + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) renderDetail() string {
	if m.selectedRow >= len(m.records) {
		return ""
	}
	r := m.records[m.selectedRow]
	if r.State != domain.StateFailed {
		if r.WorkDir == "" {
			return ""
		}
		return dimmedStyle.Render("work dir: " + r.WorkDir)
	}

	var b strings.Builder
	b.WriteString(failedStyle.Render(fmt.Sprintf("%s failed (%s)", r.LakeKey, r.FailureKind)))
	b.WriteString("\n")
	b.WriteString(r.Error)
	if r.Diagnostics != "" {
		lines := strings.Split(strings.TrimSpace(r.Diagnostics), "\n")
		if len(lines) > 8 {
			lines = lines[len(lines)-8:]
		}
		b.WriteString("\n")
		b.WriteString(warningStyle.Render(strings.Join(lines, "\n")))
	}
	return b.String()
}

func (m Model) renderBatches() string {
	if len(m.history) == 0 {
		return dimmedStyle.Render("No batches recorded")
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%-20s %-16s %-6s %-6s %-6s %s\n", "STARTED", "BASE", "TOTAL", "OK", "FAILED", "DURATION"))
	for i, batch := range m.history {
		duration := "running"
		if batch.FinishedAt != nil {
			duration = batch.FinishedAt.Sub(batch.StartedAt).Round(time.Second).String()
		}
		failed := fmt.Sprintf("%-6d", batch.Failed)
		if batch.Failed > 0 {
			failed = failedStyle.Render(failed)
		}
		line := fmt.Sprintf("%-20s %-16s %-6d %-6d %s %s",
			batch.StartedAt.Local().Format("2006-01-02 15:04"),
			truncate(batch.BaseName, 16),
			batch.Total,
			batch.Published+batch.Succeeded,
			failed,
			duration,
		)
		if i == m.selectedRow {
			line = selectedStyle.Render(line)
		}
		b.WriteString(line + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) renderStatusBar() string {
	left := " [q]uit [r]efresh [tab] switch [j/k] select "
	right := ""
	if m.err != nil {
		right = failedStyle.Render("error: " + m.err.Error())
	} else if !m.lastRefresh.IsZero() {
		right = "updated " + m.lastRefresh.Format("15:04:05") + " "
	}
	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	return statusBarStyle.Render(left + strings.Repeat(" ", gap) + right)
}

func elapsed(r domain.RunRecord, now time.Time) string {
	if r.StartedAt == nil {
		return "-"
	}
	end := now
	if r.FinishedAt != nil {
		end = *r.FinishedAt
	}
	if end.Before(*r.StartedAt) {
		return "-"
	}
	return end.Sub(*r.StartedAt).Round(time.Second).String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
