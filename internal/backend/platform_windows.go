//go:build windows

package backend

const platformDefault = NameWindows
