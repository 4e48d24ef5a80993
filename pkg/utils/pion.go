/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 *
 * pion logging adapter, routes pion's internal logs through Logger.
 */
package utils

import (
	"github.com/pion/logging"
)

// PionLoggerFactory implements logging.LoggerFactory on top of Logger
type PionLoggerFactory struct {
	base *Logger
}

// NewPionLoggerFactory returns a factory writing through the default logger
func NewPionLoggerFactory() *PionLoggerFactory {
	return &PionLoggerFactory{base: GetLogger()}
}

// NewPionLoggerFactoryFrom returns a factory writing through base
func NewPionLoggerFactoryFrom(base *Logger) *PionLoggerFactory {
	return &PionLoggerFactory{base: base}
}

// NewLogger implements logging.LoggerFactory
func (f *PionLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &pionLogger{l: f.base.With("pion." + scope)}
}

// pionLogger maps trace to debug; pion is chatty at debug so hosts usually keep info.
type pionLogger struct {
	l *Logger
}

func (p *pionLogger) Trace(msg string)                          { p.l.Debug("%s", msg) }
func (p *pionLogger) Tracef(format string, args ...interface{}) { p.l.Debug(format, args...) }
func (p *pionLogger) Debug(msg string)                          { p.l.Debug("%s", msg) }
func (p *pionLogger) Debugf(format string, args ...interface{}) { p.l.Debug(format, args...) }
func (p *pionLogger) Info(msg string)                           { p.l.Info("%s", msg) }
func (p *pionLogger) Infof(format string, args ...interface{})  { p.l.Info(format, args...) }
func (p *pionLogger) Warn(msg string)                           { p.l.Warn("%s", msg) }
func (p *pionLogger) Warnf(format string, args ...interface{})  { p.l.Warn(format, args...) }
func (p *pionLogger) Error(msg string)                          { p.l.Error("%s", msg) }
func (p *pionLogger) Errorf(format string, args ...interface{}) { p.l.Error(format, args...) }

var _ logging.LoggerFactory = (*PionLoggerFactory)(nil)
