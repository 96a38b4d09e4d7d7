// Package tui is the terminal dashboard behind `lakesim watch`.
package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/hochfrequenz/lake-orchestrator/internal/domain"
	"github.com/hochfrequenz/lake-orchestrator/internal/runstore"
)

// Source is the part of the run store the dashboard reads
type Source interface {
	LatestBatch(ctx context.Context) (runstore.Batch, error)
	ListBatches(ctx context.Context, limit int) ([]runstore.Batch, error)
	Report(ctx context.Context, batchID string) (*domain.BatchReport, error)
}

const (
	tabLakes = iota
	tabBatches
	tabCount
)

const historyLimit = 15

// Model is the TUI application model
type Model struct {
	source   Source
	interval time.Duration

	// Data
	batch   *runstore.Batch
	records []domain.RunRecord
	history []runstore.Batch
	err     error

	// UI state
	width       int
	height      int
	activeTab   int
	selectedRow int

	lastRefresh time.Time
}

// ModelConfig holds the dashboard settings
type ModelConfig struct {
	Source   Source
	Interval time.Duration
}

// NewModel creates a new TUI model
func NewModel(cfg ModelConfig) Model {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return Model{
		source:   cfg.Source,
		interval: interval,
	}
}

// Init loads the first snapshot and starts the refresh timer
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		refreshCmd(m.source),
		tickCmd(m.interval),
	)
}

// TickMsg triggers a refresh
type TickMsg time.Time

// SnapshotMsg carries freshly loaded store content
type SnapshotMsg struct {
	Batch   *runstore.Batch
	Records []domain.RunRecord
	History []runstore.Batch
	Err     error
	At      time.Time
}

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func refreshCmd(src Source) tea.Cmd {
	return func() tea.Msg {
		return loadSnapshot(context.Background(), src)
	}
}

func loadSnapshot(ctx context.Context, src Source) SnapshotMsg {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	msg := SnapshotMsg{At: time.Now()}
	history, err := src.ListBatches(ctx, historyLimit)
	if err != nil {
		msg.Err = err
		return msg
	}
	msg.History = history
	if len(history) == 0 {
		return msg
	}

	latest := history[0]
	report, err := src.Report(ctx, latest.ID)
	if err != nil {
		msg.Err = err
		return msg
	}
	msg.Batch = &latest
	msg.Records = report.Records
	return msg
}
