//go:build darwin

package backend

const platformDefault = NameMacOS
