package report

import (
	"io"
)

// Writer renders a Status.
type Writer interface {
	// Write renders st and returns the number of bytes written.
	Write(st *Status) (int, error)
}

// MultiWriter writes to multiple Writers in order.
// It stops at the first error.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter creates a Writer that writes to all provided Writers.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// Write renders st with every Writer and returns the total bytes written.
func (m *MultiWriter) Write(st *Status) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.Write(st)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// baseWriter provides common functionality for report writers.
type baseWriter struct {
	output io.Writer
}

func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}
