package svld

// PathProvider supplies the configured game save directory used when a
// caller does not name one explicitly.
type PathProvider interface {
	SourcePath() (string, error)
}

// StaticPath is a PathProvider returning a fixed path.
type StaticPath string

func (p StaticPath) SourcePath() (string, error) {
	if p == "" {
		return "", ErrNotFound
	}
	return string(p), nil
}
