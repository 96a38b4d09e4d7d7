package notify

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// maxDesktopFailures is how many failed lakes fit in a desktop popup.
const maxDesktopFailures = 5

// DesktopNotifier shows a popup on the operator's machine
type DesktopNotifier struct {
	enabled bool
	run     func(name string, args ...string) error
}

// NewDesktopNotifier creates a desktop notifier
func NewDesktopNotifier(enabled bool) *DesktopNotifier {
	return &DesktopNotifier{enabled: enabled, run: runCommand}
}

func runCommand(name string, args ...string) error {
	return exec.Command(name, args...).Run()
}

// Send shows the batch result. Unsupported platforms are ignored.
func (d *DesktopNotifier) Send(n Notification) error {
	if !d.enabled {
		return nil
	}
	name, args := desktopCommand(runtime.GOOS, n)
	if name == "" {
		return nil
	}
	return d.run(name, args...)
}

// desktopCommand builds the notifier invocation for goos.
func desktopCommand(goos string, n Notification) (string, []string) {
	body := desktopBody(n)
	switch goos {
	case "darwin":
		script := fmt.Sprintf(`display notification "%s" with title "%s" subtitle "%s"`,
			escapeAppleScript(body), escapeAppleScript(n.Title), escapeAppleScript("batch "+n.BatchID))
		return "osascript", []string{"-e", script}
	case "linux":
		urgency := "normal"
		if n.Type == NotifyError {
			urgency = "critical"
		}
		return "notify-send", []string{"--app-name", "lakesim", "--urgency", urgency, "--icon", IconForType(n.Type), n.Title, body}
	default:
		return "", nil
	}
}

// desktopBody is the count line plus one line per failed lake.
func desktopBody(n Notification) string {
	var counts []string
	for _, c := range n.Counts {
		counts = append(counts, fmt.Sprintf("%d %s", c.N, c.State))
	}
	lines := []string{n.Message}
	if len(counts) > 0 {
		lines = []string{strings.Join(counts, ", ")}
	}
	for i, f := range n.Failures {
		if i == maxDesktopFailures {
			lines = append(lines, fmt.Sprintf("and %d more", len(n.Failures)-i))
			break
		}
		lines = append(lines, fmt.Sprintf("%s: %s", f.LakeKey, f.Kind))
	}
	return strings.Join(lines, "\n")
}

// IconForType returns a freedesktop icon name for the notification type
func IconForType(t NotificationType) string {
	switch t {
	case NotifySuccess:
		return "dialog-positive"
	case NotifyWarning:
		return "dialog-warning"
	case NotifyError:
		return "dialog-error"
	default:
		return "dialog-information"
	}
}

func escapeAppleScript(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`).Replace(s)
}
