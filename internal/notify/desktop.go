package notify

import (
	"os/exec"
	"runtime"
	"strings"
)

// DesktopNotifier shows run outcomes as desktop notifications through
// osascript on macOS and notify-send on Linux. Other platforms are skipped.
type DesktopNotifier struct {
	enabled bool
	run     func(name string, args ...string) error
}

// NewDesktopNotifier creates a desktop notifier.
func NewDesktopNotifier(enabled bool) *DesktopNotifier {
	return &DesktopNotifier{
		enabled: enabled,
		run: func(name string, args ...string) error {
			return exec.Command(name, args...).Run()
		},
	}
}

// Send shows n. Failures of the helper binary are returned.
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

// desktopCommand returns the helper invocation for goos, or "" when the
// platform has none.
func desktopCommand(goos string, n Notification) (string, []string) {
	body := desktopBody(n)
	switch goos {
	case "darwin":
		script := `display notification "` + escapeAppleScript(body) +
			`" with title "` + escapeAppleScript(n.Title) +
			`" subtitle "` + escapeAppleScript(n.SystemName) + `"`
		return "osascript", []string{"-e", script}
	case "linux":
		return "notify-send", []string{
			"--app-name", "prompt-factory",
			"--urgency", urgency(n.Type),
			"--icon", IconForType(n.Type),
			n.Title, body,
		}
	default:
		return "", nil
	}
}

// desktopBody is the message plus the score line and the suite folder.
func desktopBody(n Notification) string {
	lines := []string{n.Message}
	if n.CompletedRoles > 0 && n.Type == NotifySuccess {
		lines = append(lines, n.Progress())
	}
	if n.ResultDir != "" && n.Type == NotifySuccess {
		lines = append(lines, n.ResultDir)
	}
	return strings.Join(lines, "\n")
}

func urgency(t NotificationType) string {
	switch t {
	case NotifyError:
		return "critical"
	case NotifySuccess, NotifyWarning:
		return "normal"
	default:
		return "low"
	}
}

// IconForType returns a freedesktop icon name for the notification type.
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
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}
