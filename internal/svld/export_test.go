package svld

// SetFileOps replaces the rename and remove calls used when swapping a
// restored tree into place. A nil function keeps the current one.
func (e *RestoreEngine) SetFileOps(rename func(oldpath, newpath string) error, removeAll func(path string) error) {
	if rename != nil {
		e.rename = rename
	}
	if removeAll != nil {
		e.removeAll = removeAll
	}
}
