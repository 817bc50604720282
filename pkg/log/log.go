// Copyright The amdgpu-test Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"

	"k8s.io/klog/v2"
)

// Level describes the severity of a log message.
type Level int

const (
	// LevelDebug is the severity for debug messages.
	LevelDebug Level = iota
	// LevelInfo is the severity for informational messages.
	LevelInfo
	// LevelWarn is the severity for warnings.
	LevelWarn
	// LevelError is the severity for errors.
	LevelError
)

// Logger is the interface for producing log messages for/from a particular source.
type Logger interface {
	// Debug formats and emits a debug message.
	Debug(format string, args ...interface{})
	// Info formats and emits an informational message.
	Info(format string, args ...interface{})
	// Warn formats and emits a warning message.
	Warn(format string, args ...interface{})
	// Error formats and emits an error message.
	Error(format string, args ...interface{})
	// Fatal formats and emits an error message and os.Exit()'s with status 1.
	Fatal(format string, args ...interface{})
	// Panic formats and emits an error message then panics with the same.
	Panic(format string, args ...interface{})

	// Debugf is an alias for Debug.
	Debugf(format string, args ...interface{})
	// Infof is an alias for Info.
	Infof(format string, args ...interface{})
	// Warnf is an alias for Warn.
	Warnf(format string, args ...interface{})
	// Errorf is an alias for Error.
	Errorf(format string, args ...interface{})

	// DebugBlock formats and emits a multiline debug message.
	DebugBlock(prefix string, format string, args ...interface{})
	// InfoBlock formats and emits a multiline information message.
	InfoBlock(prefix string, format string, args ...interface{})

	// EnableDebug enables debug messages for this Logger.
	EnableDebug(bool) bool
	// DebugEnabled checks if debug messages are enabled for this Logger.
	DebugEnabled() bool

	// Source returns the source name of this Logger.
	Source() string

	// SlogHandler returns an slog.Handler for this Logger.
	SlogHandler() slog.Handler
}

// logger implements Logger.
type logger struct {
	source string
}

// logging is the shared state of all loggers.
type logging struct {
	sync.RWMutex
	level   Level             // lowest severity emitted
	prefix  bool              // prefix messages with their source
	dbgmap  srcmap            // debug configuration by source
	debug   map[string]bool   // effective debug state by source
	loggers map[string]Logger // loggers by source
	maxlen  int               // longest source name seen
}

var (
	log = &logging{
		level:   DefaultLevel,
		dbgmap:  make(srcmap),
		debug:   make(map[string]bool),
		loggers: make(map[string]Logger),
	}
	deflog = log.get("default")
)

// Get returns the named Logger, creating it if necessary.
func Get(source string) Logger {
	return log.get(source)
}

// NewLogger is an alias for Get.
func NewLogger(source string) Logger {
	return log.get(source)
}

// Default returns the default Logger.
func Default() Logger {
	return deflog
}

// SetLevel sets the lowest severity level of emitted messages.
func SetLevel(level Level) {
	log.Lock()
	defer log.Unlock()
	log.level = level
}

// Flush flushes any pending log messages.
func Flush() {
	klog.Flush()
}

// SetupDebugToggleSignal sets up a signal handler to toggle full debugging on/off.
func SetupDebugToggleSignal(sig os.Signal) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sig)
	go func() {
		state := false
		for range ch {
			state = !state
			log.Lock()
			log.forceDebug(state)
			log.Unlock()
			deflog.Warn("forced full debugging is now %v...", state)
		}
	}()
}

func (l *logging) get(source string) Logger {
	l.Lock()
	defer l.Unlock()

	if lg, ok := l.loggers[source]; ok {
		return lg
	}

	lg := logger{source: source}
	l.loggers[source] = lg
	l.debug[source] = l.dbgmap.enabled(source)
	if len(source) > l.maxlen {
		l.maxlen = len(source)
	}

	return lg
}

func (l *logging) setDbgMap(m srcmap) {
	l.dbgmap = m
	for source := range l.loggers {
		l.debug[source] = m.enabled(source)
	}
}

func (l *logging) forceDebug(state bool) {
	if state {
		l.setDbgMap(srcmap{"*": true})
	} else {
		l.setDbgMap(make(srcmap))
	}
}

func (l *logging) setPrefix(prefix bool) {
	l.prefix = prefix
}

// enabled returns the debug state of the given source.
func (m srcmap) enabled(source string) bool {
	if state, ok := m[source]; ok {
		return state
	}
	if state, ok := m["*"]; ok {
		return state
	}
	return false
}

func (lg logger) format(format string, args ...interface{}) string {
	msg := fmt.Sprintf(format, args...)

	log.RLock()
	prefix, maxlen := log.prefix, log.maxlen
	log.RUnlock()

	if !prefix {
		return msg
	}

	return fmt.Sprintf("[%*s] %s", maxlen, lg.source, msg)
}

func (lg logger) passes(level Level) bool {
	log.RLock()
	defer log.RUnlock()
	return log.level <= level
}

func (lg logger) Debug(format string, args ...interface{}) {
	if !lg.DebugEnabled() {
		return
	}
	klog.InfoDepth(1, "D: "+lg.format(format, args...))
}

func (lg logger) Info(format string, args ...interface{}) {
	if !lg.passes(LevelInfo) {
		return
	}
	klog.InfoDepth(1, lg.format(format, args...))
}

func (lg logger) Warn(format string, args ...interface{}) {
	if !lg.passes(LevelWarn) {
		return
	}
	klog.WarningDepth(1, lg.format(format, args...))
}

func (lg logger) Error(format string, args ...interface{}) {
	klog.ErrorDepth(1, lg.format(format, args...))
}

func (lg logger) Fatal(format string, args ...interface{}) {
	klog.ErrorDepth(1, lg.format(format, args...))
	klog.Flush()
	os.Exit(1)
}

func (lg logger) Panic(format string, args ...interface{}) {
	msg := lg.format(format, args...)
	klog.ErrorDepth(1, msg)
	panic(msg)
}

func (lg logger) Debugf(format string, args ...interface{}) { lg.Debug(format, args...) }
func (lg logger) Infof(format string, args ...interface{})  { lg.Info(format, args...) }
func (lg logger) Warnf(format string, args ...interface{})  { lg.Warn(format, args...) }
func (lg logger) Errorf(format string, args ...interface{}) { lg.Error(format, args...) }

func (lg logger) DebugBlock(prefix string, format string, args ...interface{}) {
	if !lg.DebugEnabled() {
		return
	}
	for _, line := range strings.Split(fmt.Sprintf(format, args...), "\n") {
		klog.InfoDepth(1, "D: "+lg.format("%s%s", prefix, line))
	}
}

func (lg logger) InfoBlock(prefix string, format string, args ...interface{}) {
	if !lg.passes(LevelInfo) {
		return
	}
	for _, line := range strings.Split(fmt.Sprintf(format, args...), "\n") {
		klog.InfoDepth(1, lg.format("%s%s", prefix, line))
	}
}

func (lg logger) EnableDebug(state bool) bool {
	log.Lock()
	defer log.Unlock()
	prev := log.debug[lg.source]
	log.debug[lg.source] = state
	return prev
}

func (lg logger) DebugEnabled() bool {
	log.RLock()
	defer log.RUnlock()
	return log.debug[lg.source]
}

func (lg logger) Source() string {
	return lg.source
}

// loggerError returns a formatted logger-specific error.
func loggerError(format string, args ...interface{}) error {
	return fmt.Errorf("logger: "+format, args...)
}
