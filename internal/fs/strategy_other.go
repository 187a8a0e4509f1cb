//go:build !windows

package fs

// rsync is preferred when installed; the native copier always works.
var defaultStrategyNames = []string{"rsync", "native"}
