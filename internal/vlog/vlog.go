// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

// Package vlog implements a small structured logger for the visrpc command
// line tools. Each record is one logfmt line carrying a timestamp, a level,
// a message, and the fields attached to the logger that wrote it.
package vlog

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/go-logfmt/logfmt"
	"github.com/pkg/errors"
	"github.com/visslink/visrpc"
)

// A Level classifies the severity of a log record.
type Level int

// The levels, ordered from least to most severe.
const (
	Debug Level = iota
	Info
	Warn
	Error
)

var allLevels = []Level{Debug, Info, Warn, Error}

// String returns the lowercase name of l.
func (l Level) String() string {
	switch l {
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Warn:
		return "warn"
	case Error:
		return "error"
	}
	return fmt.Sprintf("level-%d", int(l))
}

// ParseLevel returns the level whose name is s.
func ParseLevel(s string) (Level, error) {
	for _, l := range allLevels {
		if s == l.String() {
			return l, nil
		}
	}
	return -1, errors.Errorf("unknown level %q", s)
}

// FieldError is the name of the field set by WithError.
const FieldError = "err"

// Fields carry the key/value context attached to a record.
type Fields map[string]any

// A Logger writes leveled logfmt records to a writer. Loggers derived with
// WithField share the writer with their parent, and all of them may be used
// concurrently.
type Logger struct {
	min    Level
	fields Fields

	mu *sync.Mutex // serializes writes to w
	w  io.Writer
}

// New returns a logger that writes records at or above min to w.
func New(w io.Writer, min Level) *Logger {
	return &Logger{min: min, mu: new(sync.Mutex), w: w}
}

// WithField returns a child of l that attaches the given field to every
// record it writes, in addition to the fields already present on l.
func (l *Logger) WithField(name string, value any) *Logger {
	child := &Logger{min: l.min, fields: make(Fields, len(l.fields)+1), mu: l.mu, w: l.w}
	for k, v := range l.fields {
		child.fields[k] = v
	}
	child.fields[name] = value
	return child
}

// WithError returns a child of l carrying the text of err in the "err"
// field. If err == nil it returns l unchanged.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithField(FieldError, err.Error())
}

// Debug writes msg as a debug record.
func (l *Logger) Debug(msg string) { l.log(Debug, msg) }

// Info writes msg as an info record.
func (l *Logger) Info(msg string) { l.log(Info, msg) }

// Warn writes msg as a warning record.
func (l *Logger) Warn(msg string) { l.log(Warn, msg) }

// Error writes msg as an error record.
func (l *Logger) Error(msg string) { l.log(Error, msg) }

func (l *Logger) log(level Level, msg string) {
	if level < l.min {
		return
	}
	var buf bytes.Buffer
	enc := logfmt.NewEncoder(&buf)
	enc.EncodeKeyval("time", time.Now().Format(time.RFC3339))
	enc.EncodeKeyval("level", level.String())
	enc.EncodeKeyval("msg", msg)
	for _, name := range l.fieldNames() {
		if err := enc.EncodeKeyval(name, l.fields[name]); err == logfmt.ErrUnsupportedValueType {
			enc.EncodeKeyval(name, fmt.Sprintf("<%T>", l.fields[name]))
		}
	}
	enc.EndRecord()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.w.Write(buf.Bytes())
}

// fieldNames returns the field names of l in lexical order.
func (l *Logger) fieldNames() []string {
	names := make([]string, 0, len(l.fields))
	for name := range l.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Engine adapts l to the engine's Logger type. Each line the engine emits
// becomes one debug record.
func (l *Logger) Engine() visrpc.Logger {
	return func(text string) { l.Debug(text) }
}
