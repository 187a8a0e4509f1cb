//go:build windows

package fs

var defaultStrategyNames = []string{"robocopy", "native"}
