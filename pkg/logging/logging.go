/*
Copyright © 2025 Jayson Grace <jayson.e.grace@gmail.com>

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/

package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) slogLevel() slog.Level {
	switch l {
	case DebugLevel:
		return slog.LevelDebug
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type Logger struct {
	mu            sync.Mutex
	level         Level
	format        string
	consoleWriter io.Writer
	handler       *slog.Logger
}

var defaultLogger *Logger

func init() {
	defaultLogger = newLogger("text", InfoLevel, os.Stderr)
}

func newLogger(format string, level Level, w io.Writer) *Logger {
	l := &Logger{level: level, format: format, consoleWriter: w}
	l.rebuild()
	return l
}

func (l *Logger) rebuild() {
	opts := &slog.HandlerOptions{Level: l.level.slogLevel()}
	var h slog.Handler
	if l.format == "json" {
		h = slog.NewJSONHandler(l.consoleWriter, opts)
	} else {
		h = slog.NewTextHandler(l.consoleWriter, opts)
	}
	l.handler = slog.New(h)
}

// Init sets the output format (text or json) and the minimum level.
func Init(format string, level string) {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.format = format
	defaultLogger.level = parseLevel(level)
	defaultLogger.rebuild()
}

// SetOutput redirects log output, mostly for tests.
func SetOutput(w io.Writer) {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.consoleWriter = w
	defaultLogger.rebuild()
}

// Slog exposes the underlying structured logger.
func Slog() *slog.Logger {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	return defaultLogger.handler
}

func parseLevel(level string) Level {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel
	case "info":
		return InfoLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

func (l *Logger) shouldLog(level Level) bool {
	return level >= l.level
}

func (l *Logger) log(level Level, format string, args ...interface{}) {
	l.mu.Lock()
	h := l.handler
	ok := l.shouldLog(level)
	l.mu.Unlock()
	if !ok {
		return
	}
	h.Log(context.Background(), level.slogLevel(), fmt.Sprintf(format, args...))
}

func Debug(format string, args ...interface{}) {
	defaultLogger.log(DebugLevel, format, args...)
}

func Info(format string, args ...interface{}) {
	defaultLogger.log(InfoLevel, format, args...)
}

func Warn(format string, args ...interface{}) {
	defaultLogger.log(WarnLevel, format, args...)
}

func Error(format string, args ...interface{}) {
	defaultLogger.log(ErrorLevel, format, args...)
}
