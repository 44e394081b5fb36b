/*
 * Copyright 2025 SREDiag Authors
 * Copyright 2023 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package logging is the leveled logger shared by the txbuf packages.
package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Log levels. LevelNoPrint silences every logger.
const (
	LevelTrace = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelNoPrint
)

var (
	level atomic.Int32

	magenta = string([]byte{27, 91, 57, 53, 109}) // Trace
	green   = string([]byte{27, 91, 57, 50, 109}) // Debug
	blue    = string([]byte{27, 91, 57, 52, 109}) // Info
	yellow  = string([]byte{27, 91, 57, 51, 109}) // Warn
	red     = string([]byte{27, 91, 57, 49, 109}) // Error
	reset   = string([]byte{27, 91, 48, 109})

	colors = []string{
		magenta,
		green,
		blue,
		yellow,
		red,
	}

	levelName = []string{
		"Trace",
		"Debug",
		"Info",
		"Warn",
		"Error",
	}
)

func init() {
	level.Store(LevelWarn)
	if v := os.Getenv("TXBUF_LOG_LEVEL"); v != "" {
		if n, err := ParseLevel(v); err == nil {
			level.Store(int32(n))
		}
	}
}

// SetLevel changes the level of every logger. The default level is Warn and
// the process env `TXBUF_LOG_LEVEL` also sets it.
func SetLevel(l int) {
	if l >= LevelTrace && l <= LevelNoPrint {
		level.Store(int32(l))
	}
}

// Level returns the current level.
func Level() int {
	return int(level.Load())
}

// ParseLevel accepts a level number or a level name ("warn", "Debug", "none").
func ParseLevel(s string) (int, error) {
	if n, err := strconv.Atoi(s); err == nil {
		if n < LevelTrace || n > LevelNoPrint {
			return 0, fmt.Errorf("log level %d out of range", n)
		}
		return n, nil
	}
	for i, name := range levelName {
		if strings.EqualFold(name, s) {
			return i, nil
		}
	}
	if strings.EqualFold(s, "none") {
		return LevelNoPrint, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

// Logger writes leveled, colored lines prefixed with time and caller.
type Logger struct {
	name      string
	callDepth int

	mu  sync.Mutex
	out io.Writer
}

// New returns a logger tagged with name. A nil out writes to stdout.
func New(name string, out io.Writer) *Logger {
	if out == nil {
		out = os.Stdout
	}
	return &Logger{
		name:      name,
		out:       out,
		callDepth: 4,
	}
}

// Errorf logs at error level.
func (l *Logger) Errorf(format string, a ...interface{}) {
	l.logf(LevelError, format, a...)
}

// Warnf logs at warn level.
func (l *Logger) Warnf(format string, a ...interface{}) {
	l.logf(LevelWarn, format, a...)
}

// Infof logs at info level.
func (l *Logger) Infof(format string, a ...interface{}) {
	l.logf(LevelInfo, format, a...)
}

// Debugf logs at debug level.
func (l *Logger) Debugf(format string, a ...interface{}) {
	l.logf(LevelDebug, format, a...)
}

// Tracef logs at trace level.
func (l *Logger) Tracef(format string, a ...interface{}) {
	l.logf(LevelTrace, format, a...)
}

func (l *Logger) logf(lv int, format string, a ...interface{}) {
	if l == nil || int(level.Load()) > lv {
		return
	}
	line := l.prefix(lv) + fmt.Sprintf(format, a...) + reset + "\n"
	l.mu.Lock()
	_, err := io.WriteString(l.out, line)
	l.mu.Unlock()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger %s write failed: %v\n", levelName[lv], err)
	}
}

func (l *Logger) prefix(lv int) string {
	var buffer [64]byte
	buf := bytes.NewBuffer(buffer[:0])
	_, _ = buf.WriteString(colors[lv])
	_, _ = buf.WriteString(levelName[lv])
	_ = buf.WriteByte(' ')
	_, _ = buf.WriteString(time.Now().Format("2006-01-02 15:04:05.999999"))
	_ = buf.WriteByte(' ')
	_, _ = buf.WriteString(l.location())
	_ = buf.WriteByte(' ')
	if l.name != "" {
		_, _ = buf.WriteString(l.name)
		_ = buf.WriteByte(' ')
	}
	return buf.String()
}

func (l *Logger) location() string {
	_, file, line, ok := runtime.Caller(l.callDepth)
	if !ok {
		file = "???"
		line = 0
	}
	file = filepath.Base(file)
	return file + ":" + strconv.Itoa(line)
}
