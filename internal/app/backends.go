package app

import (
	"fmt"
	"os"

	"liveactivity/internal/backend"
	"liveactivity/internal/backend/freedesktop"
	"liveactivity/internal/backend/macos"
	"liveactivity/internal/backend/telegram"
	"liveactivity/internal/backend/unsupported"
	"liveactivity/internal/backend/windows"
	"liveactivity/internal/config"
	"liveactivity/pkg/logx"
)

// newBackend builds the configured notification surface. The returned
// closer releases whatever the backend holds open and is never nil.
func newBackend(cfg config.BackendConfig, override string, log logx.Logger) (backend.Backend, func() error, error) {
	noop := func() error { return nil }

	name := cfg.Name
	if override != "" {
		name = override
	}
	resolved, err := backend.Resolve(name)
	if err != nil {
		return nil, noop, fmt.Errorf("backend.name: %w", err)
	}
	log = log.With(logx.String("comp", "backend"))

	switch resolved {
	case backend.NameMacOS:
		mc, err := mapMacOSConfig(cfg.MacOS)
		if err != nil {
			return nil, noop, err
		}
		return macos.New(nil, mc, log), noop, nil

	case backend.NameWindows:
		wc, err := mapWindowsConfig(cfg.Windows)
		if err != nil {
			return nil, noop, err
		}
		var deps windows.Deps
		if wc.Shortcut {
			exe, err := os.Executable()
			if err != nil {
				return nil, noop, fmt.Errorf("resolve shortcut target: %w", err)
			}
			deps.Shortcuts = windows.NewPowerShellShortcuts(nil, exe)
		}
		return windows.New(wc, deps, log), noop, nil

	case backend.NameFreedesktop:
		fc, err := mapFreedesktopConfig(cfg.Freedesktop)
		if err != nil {
			return nil, noop, err
		}
		be, err := freedesktop.Dial(fc, log)
		if err != nil {
			return nil, noop, err
		}
		return be, be.Close, nil

	case backend.NameTelegram:
		tc := mapTelegramConfig(cfg.Telegram)
		msgr, err := telegram.NewBotMessenger(tc.Token)
		if err != nil {
			return nil, noop, err
		}
		be, err := telegram.New(msgr, tc, log)
		if err != nil {
			return nil, noop, err
		}
		return be, noop, nil

	default:
		return unsupported.New(), noop, nil
	}
}
