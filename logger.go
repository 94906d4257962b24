// SPDX-License-Identifier: GPL-3.0-or-later

package sniconnect

import (
	"fmt"
	"time"
)

// Logger is the logger used by this package.
//
// The interface is compatible with [github.com/apex/log] so that
// you can pass `log.Log` directly.
type Logger interface {
	Debug(msg string)
	Debugf(format string, v ...any)
	Info(msg string)
	Infof(format string, v ...any)
	Warn(msg string)
	Warnf(format string, v ...any)
}

// DiscardLogger is a [Logger] that discards its input.
var DiscardLogger Logger = discardLogger{}

type discardLogger struct{}

func (discardLogger) Debug(msg string)               {}
func (discardLogger) Debugf(format string, v ...any) {}
func (discardLogger) Info(msg string)                {}
func (discardLogger) Infof(format string, v ...any)  {}
func (discardLogger) Warn(msg string)                {}
func (discardLogger) Warnf(format string, v ...any)  {}

// prefixLogger is a [Logger] prepending a prefix to every message.
type prefixLogger struct {
	prefix string
	logger Logger
}

var _ Logger = &prefixLogger{}

func (pl *prefixLogger) Debug(msg string) {
	pl.logger.Debug(pl.prefix + msg)
}

func (pl *prefixLogger) Debugf(format string, v ...any) {
	pl.logger.Debugf(pl.prefix+format, v...)
}

func (pl *prefixLogger) Info(msg string) {
	pl.logger.Info(pl.prefix + msg)
}

func (pl *prefixLogger) Infof(format string, v ...any) {
	pl.logger.Infof(pl.prefix+format, v...)
}

func (pl *prefixLogger) Warn(msg string) {
	pl.logger.Warn(pl.prefix + msg)
}

func (pl *prefixLogger) Warnf(format string, v ...any) {
	pl.logger.Warnf(pl.prefix+format, v...)
}

// operationLogger logs the beginning and the end of an operation.
type operationLogger struct {
	logger  Logger
	message string
	t0      time.Time
}

// newOperationLogger logs "<message>..." and returns an [*operationLogger]
// whose Stop method logs the outcome and the elapsed time.
func newOperationLogger(logger Logger, format string, v ...any) *operationLogger {
	ol := &operationLogger{
		logger:  logger,
		message: fmt.Sprintf(format, v...),
		t0:      time.Now(),
	}
	ol.logger.Debugf("%s...", ol.message)
	return ol
}

// Stop logs the outcome of the operation. The value is either a nil
// error, a non-nil error, or any other value describing the result.
func (ol *operationLogger) Stop(value any) {
	elapsed := time.Since(ol.t0)
	switch v := value.(type) {
	case nil:
		ol.logger.Debugf("%s... ok in %s", ol.message, elapsed)
	case error:
		ol.logger.Debugf("%s... %s in %s", ol.message, v.Error(), elapsed)
	default:
		ol.logger.Debugf("%s... %+v in %s", ol.message, v, elapsed)
	}
}
