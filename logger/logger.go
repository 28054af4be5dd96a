// Copyright (c) 2025-present Marginalia Contributors. All Rights Reserved.
// See LICENSE.txt for license information.

package logger

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Logger is the minimal logging interface used across the service.
// Key-value pairs alternate keys and values, like slog.
type Logger interface {
	Debug(msg string, keyValuePairs ...any)
	Info(msg string, keyValuePairs ...any)
	Warn(msg string, keyValuePairs ...any)
	Error(msg string, keyValuePairs ...any)
}

type logrusLogger struct {
	logger *logrus.Logger
}

// New creates a Logger backed by logrus with the given level name.
// Unknown level names fall back to info.
func New(level string) Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.JSONFormatter{})

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	l.SetLevel(parsed)

	return &logrusLogger{logger: l}
}

func (l *logrusLogger) Debug(msg string, keyValuePairs ...any) {
	l.logger.WithFields(keyValuePairsToFields(keyValuePairs)).Debug(msg)
}

func (l *logrusLogger) Info(msg string, keyValuePairs ...any) {
	l.logger.WithFields(keyValuePairsToFields(keyValuePairs)).Info(msg)
}

func (l *logrusLogger) Warn(msg string, keyValuePairs ...any) {
	l.logger.WithFields(keyValuePairsToFields(keyValuePairs)).Warn(msg)
}

func (l *logrusLogger) Error(msg string, keyValuePairs ...any) {
	l.logger.WithFields(keyValuePairsToFields(keyValuePairs)).Error(msg)
}

// keyValuePairsToFields converts key-value pairs to logrus fields. A trailing
// key without a value is recorded under "missing_value".
func keyValuePairsToFields(keyValuePairs []any) logrus.Fields {
	fields := make(logrus.Fields, len(keyValuePairs)/2)
	for i := 0; i < len(keyValuePairs)-1; i += 2 {
		key, ok := keyValuePairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", keyValuePairs[i])
		}
		fields[key] = keyValuePairs[i+1]
	}
	if len(keyValuePairs)%2 == 1 {
		fields["missing_value"] = keyValuePairs[len(keyValuePairs)-1]
	}
	return fields
}

type noopLogger struct{}

// NewNop returns a Logger that discards everything. Used in tests.
func NewNop() Logger {
	return noopLogger{}
}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
