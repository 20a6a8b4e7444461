// Package utils holds the small filesystem and logging helpers shared by
// keeplog's packages.
package utils

import (
	"bytes"
	"io"
	"strconv"
	"sync"
)

// LogInterceptor is an io.Writer that prefixes every complete line with a
// monotonically increasing sequence number before passing it to target.
// Partial lines are held until their newline arrives or Close is called.
type LogInterceptor struct {
	mu      sync.Mutex
	target  io.Writer
	seq     uint64
	pending bytes.Buffer
}

func NewLogInterceptor(target io.Writer) *LogInterceptor {
	return &LogInterceptor{target: target}
}

// Write reports len(p) on success so callers such as slog handlers do not
// treat buffering as a short write.
func (i *LogInterceptor) Write(p []byte) (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.pending.Write(p)
	for {
		idx := bytes.IndexByte(i.pending.Bytes(), '\n')
		if idx < 0 {
			break
		}
		line := i.pending.Next(idx + 1)
		if err := i.writeLine(bytes.TrimRight(line, "\r\n")); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

func (i *LogInterceptor) writeLine(line []byte) error {
	i.seq++
	buf := make([]byte, 0, len(line)+24)
	buf = append(buf, "seq="...)
	buf = strconv.AppendUint(buf, i.seq, 10)
	buf = append(buf, ' ')
	buf = append(buf, line...)
	buf = append(buf, '\n')
	_, err := i.target.Write(buf)
	return err
}

// Close flushes a trailing partial line and closes target when it is an io.Closer.
func (i *LogInterceptor) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	var err error
	if i.pending.Len() > 0 {
		err = i.writeLine(i.pending.Bytes())
		i.pending.Reset()
	}
	if c, ok := i.target.(io.Closer); ok {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
