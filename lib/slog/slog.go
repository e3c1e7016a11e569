// Package slog is a logger interface offering a uniformly unpleasant
// and wearying experience for application developers, users and operators.
//
// TODO replace this entirely with something else. Maybe zerolog?
package slog

import (
	"encoding/json"
	"fmt"
	"log"
	"spits/lib/core"
)

// LogRecord holds data for a single runtime log record.
type LogRecord struct {
	Msg        string           `json:"msg,omitempty"`        // Msg is an optional log message
	Error      error            `json:"error,omitempty"`      // Error is an optional error
	Details    any              `json:"details,omitempty"`    // Details are optional details
	StackTrace string           `json:"stacktrace,omitempty"` // StackTrace is optional stack trace
	TaskID     *core.TaskID     `json:"taskid,omitempty"`     // TaskID is optional id of task, if known.
	TM         *core.TMIdentity `json:"tm,omitempty"`         // TM is optional identity of a task manager, if known.
	RunID      string           `json:"runid,omitempty"`      // RunID optionally correlates records to one process lifetime.
}

// Logger is an abstract log interface for the server.
//
// Multiple goroutines may invoke methods on a Logger simultaneously.
type Logger interface {
	Info(record *LogRecord)
	Warn(record *LogRecord)
	Error(record *LogRecord)
}

// TODO make the log output less awful to read by humans and machines.
type stdlibLogShim struct{}

type errorPayload struct {
	Type  string `json:"type,omitempty"`  // Type is the error type
	Error string `json:"error,omitempty"` // Error is the error message
}

func asErrorPayload(err error) *errorPayload {
	if err == nil {
		return nil
	}
	return &errorPayload{
		Type:  fmt.Sprintf("%T", err),
		Error: err.Error(),
	}
}

type recordPayload struct {
	Msg        string           `json:"msg,omitempty"`
	Error      *errorPayload    `json:"error,omitempty"`
	Details    any              `json:"details,omitempty"`
	StackTrace string           `json:"stacktrace,omitempty"`
	TaskID     *core.TaskID     `json:"taskid,omitempty"`
	TM         *core.TMIdentity `json:"tm,omitempty"`
	RunID      string           `json:"runid,omitempty"`
	Level      string           `json:"level,omitempty"`
}

func logRecordAsSemiJSON(level string, record *LogRecord) {
	var payload recordPayload
	payload.Level = level
	if record != nil {
		payload.Msg = record.Msg
		payload.Error = asErrorPayload(record.Error)
		payload.Details = record.Details
		payload.StackTrace = record.StackTrace
		payload.TaskID = record.TaskID
		payload.TM = record.TM
		payload.RunID = record.RunID
	}

	data, _ := json.Marshal(&payload)

	// TODO put the timestamps in the JSON as well.
	log.Println(string(data))
}

func (s *stdlibLogShim) Info(record *LogRecord) {
	logRecordAsSemiJSON("info", record)
}

func (s *stdlibLogShim) Warn(record *LogRecord) {
	logRecordAsSemiJSON("warn", record)
}

func (s *stdlibLogShim) Error(record *LogRecord) {
	logRecordAsSemiJSON("error", record)
}

// GetDefaultLogger returns the default Logger.
func GetDefaultLogger() Logger {
	return &stdlibLogShim{}
}

// RecordingLogger captures all logged events in memory.
// It is designed for use as a test fixture.
type RecordingLogger struct {
	Events []Event
}

type Event struct {
	Level string
	*LogRecord
}

func (l *RecordingLogger) Info(record *LogRecord) {
	l.Events = append(l.Events, Event{Level: "info", LogRecord: record})
}

func (l *RecordingLogger) Warn(record *LogRecord) {
	l.Events = append(l.Events, Event{Level: "warn", LogRecord: record})
}

func (l *RecordingLogger) Error(record *LogRecord) {
	l.Events = append(l.Events, Event{Level: "error", LogRecord: record})
}

var _ Logger = (*RecordingLogger)(nil) // type check

// WithRunID wraps a Logger so that every record passing through it is
// stamped with runID, unless the caller already set one. Used by
// cmd/jm and cmd/tm to correlate every log line of one process
// lifetime to the uuid.UUID generated at startup (SPEC_FULL.md
// section 10), without threading the id through every call site.
func WithRunID(inner Logger, runID string) Logger {
	return &runIDLogger{inner: inner, runID: runID}
}

type runIDLogger struct {
	inner Logger
	runID string
}

func (l *runIDLogger) stamp(record *LogRecord) *LogRecord {
	if record == nil {
		record = &LogRecord{}
	}
	if record.RunID == "" {
		record.RunID = l.runID
	}
	return record
}

func (l *runIDLogger) Info(record *LogRecord)  { l.inner.Info(l.stamp(record)) }
func (l *runIDLogger) Warn(record *LogRecord)  { l.inner.Warn(l.stamp(record)) }
func (l *runIDLogger) Error(record *LogRecord) { l.inner.Error(l.stamp(record)) }

var _ Logger = (*runIDLogger)(nil) // type check
