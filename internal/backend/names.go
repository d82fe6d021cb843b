package backend

import (
	"fmt"
	"strings"
)

// Backend names accepted in configuration.
const (
	NameAuto        = "auto"
	NameMacOS       = "macos"
	NameWindows     = "windows"
	NameUnsupported = "unsupported"
	NameFreedesktop = "freedesktop"
	NameTelegram    = "telegram"
)

// Resolve maps a configured backend name to a concrete one. "auto" (or "")
// picks the build target's native backend.
func Resolve(name string) (string, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	switch n {
	case "", NameAuto:
		return platformDefault, nil
	case "darwin", "mac":
		return NameMacOS, nil
	case NameMacOS, NameWindows, NameUnsupported, NameFreedesktop, NameTelegram:
		return n, nil
	default:
		return "", fmt.Errorf("unknown backend %q", name)
	}
}

// PlatformDefault is the backend "auto" resolves to on this build target.
func PlatformDefault() string { return platformDefault }
