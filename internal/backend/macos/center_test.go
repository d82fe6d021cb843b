package macos

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	have map[string]bool
	runs [][]string
}

func (r *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	r.runs = append(r.runs, append([]string{name}, args...))
	return nil, nil
}

func (r *fakeRunner) LookPath(name string) (string, error) {
	if r.have[name] {
		return "/usr/local/bin/" + name, nil
	}
	return "", errors.New("not found")
}

func TestCommandCenterTerminalNotifier(t *testing.T) {
	r := &fakeRunner{have: map[string]bool{terminalNotifier: true}}
	c := NewCommandCenter(r)

	require.NoError(t, c.Send(context.Background(), Message{
		Group: "g1", Title: "Sync", Subtitle: "upload", Body: "50%", Sender: "com.example.app",
	}))
	require.NoError(t, c.Remove(context.Background(), "g1"))

	require.Len(t, r.runs, 2)
	assert.Equal(t, []string{
		terminalNotifier, "-title", "Sync", "-message", "50%",
		"-subtitle", "upload", "-group", "g1", "-sender", "com.example.app",
	}, r.runs[0])
	assert.Equal(t, []string{terminalNotifier, "-remove", "g1"}, r.runs[1])
}

func TestCommandCenterOsascriptFallback(t *testing.T) {
	r := &fakeRunner{}
	c := NewCommandCenter(r)

	require.NoError(t, c.Send(context.Background(), Message{Title: `say "hi"`, Body: "50%"}))
	require.NoError(t, c.Remove(context.Background(), "g1"))

	require.Len(t, r.runs, 1, "osascript notifications are not removable")
	assert.Equal(t, "osascript", r.runs[0][0])
	script := r.runs[0][2]
	assert.True(t, strings.HasPrefix(script, `display notification "50%" with title "say \"hi\""`), script)
}

func TestCommandCenterOpenSettings(t *testing.T) {
	r := &fakeRunner{}
	c := NewCommandCenter(r)
	require.NoError(t, c.OpenSettings(context.Background(), DefaultSettingsURLs[1]))
	assert.Equal(t, []string{"open", DefaultSettingsURLs[1]}, r.runs[0])

	st, err := c.AuthorizationStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, AuthAuthorized, st)
}
