// Copyright 2026 SEQSENSE, Inc.
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
	"errors"
	"fmt"
)

var (
	ErrAlreadyRunning = errors.New("already running")
	ErrNotRunning     = errors.New("not running")
	ErrNotConfigured  = errors.New("not configured")
	ErrStopped        = errors.New("stopped")
)

// ConfigurationError reports an invalid or missing configuration value.
// It is fatal to the instance being configured.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration (field:%s): %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// InvalidConfigurationError is returned when a media source is configured
// with a configuration variant it does not accept.
type InvalidConfigurationError struct {
	Expected string
	Actual   string
}

func (e *InvalidConfigurationError) Error() string {
	return fmt.Sprintf("configuration must be %s, got %s", e.Expected, e.Actual)
}

// LifecycleError reports an operation requested in a state that does not
// allow it.
type LifecycleError struct {
	Op    string
	State string
	Err   error
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("%s in state %s: %v", e.Op, e.State, e.Err)
}

func (e *LifecycleError) Unwrap() error {
	return e.Err
}

// DecodeError is a per frame decoding failure.
type DecodeError struct {
	Timecode int64
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding frame (timecode:%d): %v", e.Timecode, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// EncodeError is a per frame encoding failure. Partial output is discarded.
type EncodeError struct {
	Err error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encoding frame: %v", e.Err)
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}

// FetchError aborts the processing of a single fragment.
type FetchError struct {
	FragmentNumber string
	Err            error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching fragment (fragmentNumber:%s): %v", e.FragmentNumber, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IngestionParseError marks a recognition record payload that can never be
// decoded. Such records are dropped without retry.
type IngestionParseError struct {
	Payload []byte
	Err     error
}

func (e *IngestionParseError) Error() string {
	payload := e.Payload
	if len(payload) > 64 {
		payload = payload[:64]
	}
	return fmt.Sprintf("parsing recognition record %q: %v", payload, e.Err)
}

func (e *IngestionParseError) Unwrap() error {
	return e.Err
}
