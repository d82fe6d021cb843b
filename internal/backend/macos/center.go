package macos

import (
	"context"
	"strconv"
	"strings"

	"liveactivity/internal/backend"
)

// AuthStatus mirrors UNAuthorizationStatus.
type AuthStatus int

const (
	AuthNotDetermined AuthStatus = iota
	AuthDenied
	AuthAuthorized
	AuthProvisional
	AuthEphemeral
)

func (s AuthStatus) String() string {
	switch s {
	case AuthNotDetermined:
		return "not_determined"
	case AuthDenied:
		return "denied"
	case AuthAuthorized:
		return "authorized"
	case AuthProvisional:
		return "provisional"
	case AuthEphemeral:
		return "ephemeral"
	default:
		return "unknown(" + strconv.Itoa(int(s)) + ")"
	}
}

// Message is one post to the notification center. Posts with the same
// Group replace each other.
type Message struct {
	Group    string
	Title    string
	Subtitle string
	Body     string
	Icon     string
	Sender   string // bundle id used for attribution
}

// Center is the native notification-center surface.
//
// Implementations may ignore ctx for callback-based APIs; the backend bounds
// every permission wait itself.
type Center interface {
	AuthorizationStatus(ctx context.Context) (AuthStatus, error)
	RequestAuthorization(ctx context.Context) (granted bool, err error)
	Send(ctx context.Context, m Message) error
	// Remove drops delivered notifications of a group from the notification center.
	Remove(ctx context.Context, group string) error
	OpenSettings(ctx context.Context, url string) error
}

// CommandCenter posts through terminal-notifier when it is installed and
// falls back to osascript otherwise.
//
// Both helpers are attributed to their own application bundle and macOS
// prompts for that bundle on first post, so AuthorizationStatus reports
// authorized and priming never blocks.
type CommandCenter struct {
	runner backend.Runner
}

func NewCommandCenter(r backend.Runner) *CommandCenter {
	if r == nil {
		r = backend.ExecRunner{}
	}
	return &CommandCenter{runner: r}
}

const terminalNotifier = "terminal-notifier"

func (c *CommandCenter) hasTerminalNotifier() bool {
	_, err := c.runner.LookPath(terminalNotifier)
	return err == nil
}

func (c *CommandCenter) AuthorizationStatus(context.Context) (AuthStatus, error) {
	return AuthAuthorized, nil
}

func (c *CommandCenter) RequestAuthorization(context.Context) (bool, error) { return true, nil }

func (c *CommandCenter) Send(ctx context.Context, m Message) error {
	if c.hasTerminalNotifier() {
		args := []string{"-title", m.Title, "-message", m.Body}
		if m.Subtitle != "" {
			args = append(args, "-subtitle", m.Subtitle)
		}
		if m.Group != "" {
			args = append(args, "-group", m.Group)
		}
		if m.Icon != "" {
			args = append(args, "-appIcon", m.Icon)
		}
		if m.Sender != "" {
			args = append(args, "-sender", m.Sender)
		}
		_, err := c.runner.Run(ctx, terminalNotifier, args...)
		return err
	}
	_, err := c.runner.Run(ctx, "osascript", "-e", appleScript(m))
	return err
}

func (c *CommandCenter) Remove(ctx context.Context, group string) error {
	if group == "" || !c.hasTerminalNotifier() {
		// osascript notifications cannot be withdrawn.
		return nil
	}
	_, err := c.runner.Run(ctx, terminalNotifier, "-remove", group)
	return err
}

func (c *CommandCenter) OpenSettings(ctx context.Context, url string) error {
	_, err := c.runner.Run(ctx, "open", url)
	return err
}

func appleScript(m Message) string {
	var b strings.Builder
	b.WriteString("display notification ")
	b.WriteString(quoteAS(m.Body))
	b.WriteString(" with title ")
	b.WriteString(quoteAS(m.Title))
	if m.Subtitle != "" {
		b.WriteString(" subtitle ")
		b.WriteString(quoteAS(m.Subtitle))
	}
	return b.String()
}

func quoteAS(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}
