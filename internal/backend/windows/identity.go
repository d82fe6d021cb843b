package windows

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"liveactivity/internal/backend"
)

// ErrIdentityUnsupported is returned by the registry store on non-Windows
// builds.
var ErrIdentityUnsupported = errors.New("app identity registry requires windows")

// Identity is the AppUserModelID registration toasts are attributed to.
type Identity struct {
	AppID       string
	DisplayName string
	IconURI     string
}

// RegistryKey is the per-user key the identity is registered under.
func (id Identity) RegistryKey() string {
	return `Software\Classes\AppUserModelId\` + id.AppID
}

// IdentityStore writes and reads back the AUMID registration.
type IdentityStore interface {
	Register(id Identity) error
	Lookup(appID string) (Identity, error)
}

// identityKey is the part of a registry key that writeIdentity needs.
type identityKey interface {
	SetStringValue(name, value string) error
	DeleteValue(name string) error
}

// writeIdentity stores id in k. An empty icon removes any IconUri left by
// an earlier registration; notExist is the store's missing-value error.
func writeIdentity(k identityKey, id Identity, notExist error) error {
	if err := k.SetStringValue("DisplayName", id.DisplayName); err != nil {
		return fmt.Errorf("set DisplayName: %w", err)
	}
	if id.IconURI == "" {
		if err := k.DeleteValue("IconUri"); err != nil && !errors.Is(err, notExist) {
			return fmt.Errorf("delete IconUri: %w", err)
		}
		return nil
	}
	if err := k.SetStringValue("IconUri", id.IconURI); err != nil {
		return fmt.Errorf("set IconUri: %w", err)
	}
	return nil
}

// Shortcuts installs the Start-Menu entry for the app.
type Shortcuts interface {
	Ensure(ctx context.Context, id Identity) error
}

// PowerShellShortcuts creates a Programs shortcut through WScript.Shell.
// Toast attribution itself resolves through the registry key.
type PowerShellShortcuts struct {
	runner backend.Runner
	// Target is the executable the shortcut launches.
	Target string
}

func NewPowerShellShortcuts(r backend.Runner, target string) *PowerShellShortcuts {
	if r == nil {
		r = backend.ExecRunner{}
	}
	return &PowerShellShortcuts{runner: r, Target: target}
}

func (s *PowerShellShortcuts) Ensure(ctx context.Context, id Identity) error {
	if strings.TrimSpace(s.Target) == "" {
		return errors.New("shortcut target is empty")
	}
	q := func(v string) string { return "'" + strings.ReplaceAll(v, "'", "''") + "'" }
	script := strings.Join([]string{
		"$ErrorActionPreference = 'Stop'",
		"$lnk = Join-Path ([Environment]::GetFolderPath('Programs')) (" + q(id.DisplayName+".lnk") + ")",
		"if (Test-Path $lnk) { exit 0 }",
		"$sh = New-Object -ComObject WScript.Shell",
		"$s = $sh.CreateShortcut($lnk)",
		"$s.TargetPath = " + q(s.Target),
		"$s.Save()",
	}, "\n")
	if _, err := s.runner.Run(ctx, "powershell.exe", "-NoProfile", "-NonInteractive", "-EncodedCommand", encodeCommand(script)); err != nil {
		return fmt.Errorf("create start menu shortcut: %w", err)
	}
	return nil
}
