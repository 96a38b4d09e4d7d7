package notify

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hochfrequenz/lake-orchestrator/internal/domain"
)

func testReport() *domain.BatchReport {
	start := time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC)
	return domain.NewBatchReport("b1", "operational", start, start.Add(90*time.Second), []domain.RunRecord{
		{LakeKey: "greifensee", State: domain.StatePublished},
		{LakeKey: "hallwil", State: domain.StateFailed, FailureKind: domain.FailureAssembly, Error: "missing air_temperature"},
		{LakeKey: "zurich", State: domain.StateFailed, FailureKind: domain.FailureTimeout, Error: "engine timed out after 6h"},
	})
}

func TestBuildSlackMessage(t *testing.T) {
	msg := BuildSlackMessage(FromReport(testReport()))

	if msg.Text != "Batch operational finished" {
		t.Errorf("Text = %q", msg.Text)
	}
	if len(msg.Attachments) != 3 {
		t.Fatalf("got %d attachments, want summary plus two failures", len(msg.Attachments))
	}

	summary := msg.Attachments[0]
	if summary.Title != "batch b1" || summary.Color != "warning" {
		t.Errorf("summary = %+v", summary)
	}
	wantFields := []SlackField{
		{Title: "base", Value: "operational", Short: true},
		{Title: "duration", Value: "1m30s", Short: true},
		{Title: "published", Value: "1", Short: true},
		{Title: "failed", Value: "2", Short: true},
	}
	if diff := cmp.Diff(wantFields, summary.Fields); diff != "" {
		t.Errorf("summary fields mismatch (-want +got):\n%s", diff)
	}

	lake := msg.Attachments[1]
	if lake.Title != "hallwil" || lake.Color != "danger" {
		t.Errorf("failure attachment = %+v", lake)
	}
	wantLake := []SlackField{
		{Title: "kind", Value: "assembly", Short: true},
		{Title: "cause", Value: "missing air_temperature"},
	}
	if diff := cmp.Diff(wantLake, lake.Fields); diff != "" {
		t.Errorf("failure fields mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildSlackMessage_CapsFailures(t *testing.T) {
	n := Notification{Title: "Batch all failed", Type: NotifyError}
	for i := 0; i < maxFailureAttachments+3; i++ {
		n.Failures = append(n.Failures, domain.Failure{LakeKey: fmt.Sprintf("lake%02d", i), Kind: domain.FailureEngine})
	}

	msg := BuildSlackMessage(n)
	if len(msg.Attachments) != maxFailureAttachments+2 {
		t.Fatalf("got %d attachments", len(msg.Attachments))
	}
	if last := msg.Attachments[len(msg.Attachments)-1]; last.Text != "and 3 more failed lakes" {
		t.Errorf("last attachment = %+v", last)
	}
}

func TestSlackNotifier_Send(t *testing.T) {
	var got SlackMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewSlackNotifier(server.URL)
	err := notifier.Send(FromReport(testReport()))

	if err != nil {
		t.Errorf("Send failed: %v", err)
	}
	if got.Text != "Batch operational finished" || len(got.Attachments) != 3 {
		t.Fatalf("payload = %+v", got)
	}
	if got.Attachments[2].Title != "zurich" || got.Attachments[2].Fields[0].Value != "timeout" {
		t.Errorf("attachment = %+v", got.Attachments[2])
	}
}

func TestSlackNotifier_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	if err := NewSlackNotifier(server.URL).Send(Notification{Title: "x"}); err == nil {
		t.Error("expected error for non-200 response")
	}
	if err := NewSlackNotifier("").Send(Notification{Title: "x"}); err != nil {
		t.Errorf("disabled notifier returned %v", err)
	}
}

func TestNotificationTypeColors(t *testing.T) {
	tests := []struct {
		typ  NotificationType
		want string
	}{
		{NotifySuccess, "good"},
		{NotifyWarning, "warning"},
		{NotifyError, "danger"},
		{NotifyInfo, "#439FE0"},
	}

	for _, tt := range tests {
		got := SlackColor(tt.typ)
		if got != tt.want {
			t.Errorf("SlackColor(%v) = %s, want %s", tt.typ, got, tt.want)
		}
	}
}

func TestFromReport(t *testing.T) {
	start := time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)

	tests := []struct {
		name      string
		records   []domain.RunRecord
		wantType  NotificationType
		wantTitle string
		wantInMsg string
	}{
		{
			name: "all ok",
			records: []domain.RunRecord{
				{LakeKey: "greifensee", State: domain.StatePublished},
				{LakeKey: "hallwil", State: domain.StateSucceeded},
			},
			wantType:  NotifySuccess,
			wantTitle: "Batch operational finished",
			wantInMsg: "2 of 2 lakes ok in 1m30s",
		},
		{
			name: "partial failure",
			records: []domain.RunRecord{
				{LakeKey: "greifensee", State: domain.StatePublished},
				{LakeKey: "hallwil", State: domain.StateFailed, FailureKind: domain.FailureEngine},
			},
			wantType:  NotifyWarning,
			wantTitle: "Batch operational finished",
			wantInMsg: "failed: hallwil (engine)",
		},
		{
			name: "all failed",
			records: []domain.RunRecord{
				{LakeKey: "hallwil", State: domain.StateFailed, FailureKind: domain.FailureTimeout},
			},
			wantType:  NotifyError,
			wantTitle: "Batch operational failed",
			wantInMsg: "0 of 1 lakes ok",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := FromReport(domain.NewBatchReport("b1", "operational", start, end, tt.records))
			if n.Type != tt.wantType {
				t.Errorf("Type = %v, want %v", n.Type, tt.wantType)
			}
			if n.Title != tt.wantTitle {
				t.Errorf("Title = %q, want %q", n.Title, tt.wantTitle)
			}
			if !strings.Contains(n.Message, tt.wantInMsg) {
				t.Errorf("Message = %q, want it to contain %q", n.Message, tt.wantInMsg)
			}
			if n.BatchID != "b1" {
				t.Errorf("BatchID = %q", n.BatchID)
			}
		})
	}
}

func TestMultiNotifier(t *testing.T) {
	var called []string

	mock1 := &mockNotifier{name: "mock1", calls: &called}
	mock2 := &mockNotifier{name: "mock2", calls: &called}

	multi := NewMultiNotifier(mock1, mock2)
	multi.Send(Notification{Title: "Test"})

	if len(called) != 2 {
		t.Errorf("Expected 2 calls, got %d", len(called))
	}
}

func TestFailuresOnly(t *testing.T) {
	var called []string
	n := FailuresOnly{Next: &mockNotifier{name: "slack", calls: &called}}

	n.Send(Notification{Type: NotifySuccess})
	n.Send(Notification{Type: NotifyWarning})
	n.Send(Notification{Type: NotifyError})

	if len(called) != 2 {
		t.Errorf("Expected 2 forwarded notifications, got %d", len(called))
	}
}

func TestFromReport_Counts(t *testing.T) {
	n := FromReport(testReport())
	want := []StateCount{{domain.StatePublished, 1}, {domain.StateFailed, 2}}
	if diff := cmp.Diff(want, n.Counts); diff != "" {
		t.Errorf("Counts mismatch (-want +got):\n%s", diff)
	}
	if len(n.Failures) != 2 || n.Failures[0].LakeKey != "hallwil" {
		t.Errorf("Failures = %+v", n.Failures)
	}
}

func TestDesktopCommand(t *testing.T) {
	n := FromReport(testReport())

	name, args := desktopCommand("linux", n)
	if name != "notify-send" {
		t.Fatalf("name = %q", name)
	}
	wantBody := "1 published, 2 failed\nhallwil: assembly\nzurich: timeout"
	if diff := cmp.Diff([]string{"--app-name", "lakesim", "--urgency", "normal", "--icon", "dialog-warning", "Batch operational finished", wantBody}, args); diff != "" {
		t.Errorf("notify-send args mismatch (-want +got):\n%s", diff)
	}

	name, args = desktopCommand("darwin", n)
	if name != "osascript" || !strings.Contains(args[1], `subtitle "batch b1"`) || !strings.Contains(args[1], `hallwil: assembly\n`) {
		t.Errorf("osascript args = %q", args)
	}

	if name, _ := desktopCommand("plan9", n); name != "" {
		t.Errorf("unsupported platform produced %q", name)
	}
}

func TestDesktopNotifier_Send(t *testing.T) {
	var ran []string
	d := NewDesktopNotifier(true)
	d.run = func(name string, args ...string) error {
		ran = append(ran, name)
		return nil
	}
	if err := d.Send(FromReport(testReport())); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if (runtime.GOOS == "linux" || runtime.GOOS == "darwin") && len(ran) != 1 {
		t.Errorf("ran = %v", ran)
	}

	ran = nil
	d.enabled = false
	d.Send(FromReport(testReport()))
	if len(ran) != 0 {
		t.Errorf("disabled notifier ran %v", ran)
	}
}

func TestEscapeAppleScript(t *testing.T) {
	got := escapeAppleScript(`lake "a" \ b`)
	want := `lake \"a\" \\ b`
	if got != want {
		t.Errorf("escapeAppleScript() = %q, want %q", got, want)
	}
}

type mockNotifier struct {
	name  string
	calls *[]string
}

func (m *mockNotifier) Send(n Notification) error {
	*m.calls = append(*m.calls, m.name)
	return nil
}
