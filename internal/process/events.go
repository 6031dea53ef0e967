package process

// Stream identifies which output of the child a line came from.
type Stream int

const (
	// Stdout is the child's standard output.
	Stdout Stream = iota

	// Stderr is the child's standard error.
	Stderr
)

// String returns "stdout" or "stderr".
func (s Stream) String() string {
	switch s {
	case Stdout:
		return "stdout"
	case Stderr:
		return "stderr"
	default:
		return "unknown"
	}
}

// LineEvent is one line read from one stream of the child. The line
// terminator is not included.
type LineEvent struct {
	Stream Stream
	Line   string

	// Seq is the 1-based position of the line within its stream.
	Seq int64
}
