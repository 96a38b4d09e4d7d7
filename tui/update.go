package tui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, refreshCmd(m.source)
		case "j", "down":
			if m.selectedRow < m.rows()-1 {
				m.selectedRow++
			}
		case "k", "up":
			if m.selectedRow > 0 {
				m.selectedRow--
			}
		case "tab":
			m.activeTab = (m.activeTab + 1) % tabCount
			m.selectedRow = 0
		case "l":
			m.activeTab = tabLakes
			m.selectedRow = 0
		case "b":
			m.activeTab = tabBatches
			m.selectedRow = 0
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case TickMsg:
		return m, tea.Batch(refreshCmd(m.source), tickCmd(m.interval))

	case SnapshotMsg:
		m.lastRefresh = msg.At
		m.err = msg.Err
		if msg.Err != nil {
			return m, nil
		}
		if m.batch == nil || msg.Batch == nil || m.batch.ID != msg.Batch.ID {
			m.selectedRow = 0
		}
		m.batch = msg.Batch
		m.records = msg.Records
		m.history = msg.History
		if m.selectedRow >= m.rows() {
			m.selectedRow = max(m.rows()-1, 0)
		}
	}

	return m, nil
}

func (m Model) rows() int {
	if m.activeTab == tabBatches {
		return len(m.history)
	}
	return len(m.records)
}
