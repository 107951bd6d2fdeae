// Copyright (c) EDYSuperCore 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package teereader tracks the last complete line of a byte stream while
// forwarding all data to an underlying writer. Tool steps use it to
// surface the most recent output line of a long-running external tool as
// live progress without waiting for the process to exit.
package teereader

import (
	"io"
	"strings"
	"sync"
)

// LastLineWriter forwards writes to an underlying writer and tracks the
// last complete line seen. It is safe for concurrent use.
type LastLineWriter struct {
	dst    io.Writer
	onLine func(line string)

	mu       sync.RWMutex
	partial  strings.Builder
	lastLine string
}

// NewLastLineWriter wraps dst. If onLine is non-nil it is called with
// each completed non-empty line; it must not block.
func NewLastLineWriter(dst io.Writer, onLine func(line string)) *LastLineWriter {
	return &LastLineWriter{dst: dst, onLine: onLine}
}

// Write implements io.Writer. Line tracking happens on the full input
// even when the underlying writer truncates.
func (w *LastLineWriter) Write(p []byte) (int, error) {
	n, err := w.dst.Write(p)

	w.track(p)

	return n, err
}

func (w *LastLineWriter) track(p []byte) {
	w.mu.Lock()

	var completed []string

	rest := string(p)
	for {
		line, remainder, found := strings.Cut(rest, "\n")
		if !found {
			w.partial.WriteString(line)
			break
		}

		full := strings.TrimRight(w.partial.String()+line, "\r")
		w.partial.Reset()

		if strings.TrimSpace(full) != "" {
			w.lastLine = full
			completed = append(completed, full)
		}

		rest = remainder
	}

	onLine := w.onLine
	w.mu.Unlock()

	// Callback runs outside the lock so it may call LastLine.
	if onLine != nil {
		for _, line := range completed {
			onLine(line)
		}
	}
}

// LastLine returns the most recent complete non-empty line, or the
// pending partial line if no line has completed yet.
func (w *LastLineWriter) LastLine() string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.lastLine == "" {
		return strings.TrimSpace(w.partial.String())
	}

	return w.lastLine
}
