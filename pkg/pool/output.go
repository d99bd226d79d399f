package pool

import (
	"bytes"
	"strings"
	"sync"
)

// DefaultOutputLines is how many lines an OutputBuffer keeps
const DefaultOutputLines = 500

// OutputBuffer collects a child's output line by line. It is safe to use as
// cmd.Stdout and cmd.Stderr at the same time.
type OutputBuffer struct {
	mu      sync.RWMutex
	lines   []string
	partial bytes.Buffer
	max     int
}

// NewOutputBuffer keeps at most max lines, dropping the oldest.
// max <= 0 uses DefaultOutputLines.
func NewOutputBuffer(max int) *OutputBuffer {
	if max <= 0 {
		max = DefaultOutputLines
	}
	return &OutputBuffer{max: max}
}

// Write implements io.Writer
func (b *OutputBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.partial.Write(p)
	for {
		data := b.partial.Bytes()
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		b.appendLocked(strings.TrimRight(string(data[:i]), "\r"))
		b.partial.Next(i + 1)
	}
	return len(p), nil
}

func (b *OutputBuffer) appendLocked(line string) {
	if b.max <= 0 {
		b.max = DefaultOutputLines
	}
	b.lines = append(b.lines, line)
	if over := len(b.lines) - b.max; over > 0 {
		b.lines = append(b.lines[:0:0], b.lines[over:]...)
	}
}

// Contains reports whether any complete line contains pattern
func (b *OutputBuffer) Contains(pattern string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, line := range b.lines {
		if strings.Contains(line, pattern) {
			return true
		}
	}
	return false
}

// String returns the kept lines joined by newlines
func (b *OutputBuffer) String() string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var sb strings.Builder
	for _, line := range b.lines {
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Tail returns the last n lines
func (b *OutputBuffer) Tail(n int) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n > len(b.lines) {
		n = len(b.lines)
	}
	return append([]string(nil), b.lines[len(b.lines)-n:]...)
}

// Len returns the number of kept lines
func (b *OutputBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.lines)
}
