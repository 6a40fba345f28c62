// Copyright 2020 SEQSENSE, Inc.
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

package kvsannotator

import (
	"log"
)

// LoggerIF is satisfied by most leveled loggers, e.g. *logrus.Logger.
type LoggerIF interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
}

var logger LoggerIF = &noopLogger{}

func SetLogger(l LoggerIF) {
	logger = l
}

func Logger() LoggerIF {
	return logger
}

type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

// NewStdLogger wraps a standard library logger, dropping messages below level.
func NewStdLogger(l *log.Logger, level LogLevel) LoggerIF {
	return &stdLogger{l: l, level: level}
}

type stdLogger struct {
	l     *log.Logger
	level LogLevel
}

func (s *stdLogger) print(level LogLevel, prefix string, args ...interface{}) {
	if level < s.level {
		return
	}
	s.l.Print(append([]interface{}{prefix}, args...)...)
}

func (s *stdLogger) printf(level LogLevel, prefix, format string, args ...interface{}) {
	if level < s.level {
		return
	}
	s.l.Printf(prefix+format, args...)
}

func (s *stdLogger) Debug(args ...interface{}) { s.print(LogLevelDebug, "[DEBUG] ", args...) }
func (s *stdLogger) Info(args ...interface{})  { s.print(LogLevelInfo, "[INFO] ", args...) }
func (s *stdLogger) Warn(args ...interface{})  { s.print(LogLevelWarn, "[WARN] ", args...) }
func (s *stdLogger) Error(args ...interface{}) { s.print(LogLevelError, "[ERROR] ", args...) }

func (s *stdLogger) Debugf(format string, args ...interface{}) {
	s.printf(LogLevelDebug, "[DEBUG] ", format, args...)
}

func (s *stdLogger) Infof(format string, args ...interface{}) {
	s.printf(LogLevelInfo, "[INFO] ", format, args...)
}

func (s *stdLogger) Warnf(format string, args ...interface{}) {
	s.printf(LogLevelWarn, "[WARN] ", format, args...)
}

func (s *stdLogger) Errorf(format string, args ...interface{}) {
	s.printf(LogLevelError, "[ERROR] ", format, args...)
}

type noopLogger struct {
}

func (n *noopLogger) Debug(args ...interface{}) {
}

func (n *noopLogger) Debugf(format string, args ...interface{}) {
}

func (n *noopLogger) Info(args ...interface{}) {
}

func (n *noopLogger) Infof(format string, args ...interface{}) {
}

func (n *noopLogger) Warn(args ...interface{}) {
}

func (n *noopLogger) Warnf(format string, args ...interface{}) {
}

func (n *noopLogger) Error(args ...interface{}) {
}

func (n *noopLogger) Errorf(format string, args ...interface{}) {
}
