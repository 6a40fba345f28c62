// Copyright 2021 SEQSENSE, Inc.
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
	"sync"
)

// MultiError collects errors from concurrent fragment workers.
// The zero value is ready to use.
type MultiError struct {
	mu   sync.Mutex
	errs []error
}

func (me *MultiError) Error() string {
	errs := me.Errors()
	if len(errs) == 1 {
		return errs[0].Error()
	}
	str := "multiple errors:"
	for _, e := range errs {
		str += " '" + e.Error() + "'"
	}
	return str
}

func (me *MultiError) Is(err error) bool {
	for _, e := range me.Errors() {
		if errors.Is(e, err) {
			return true
		}
	}
	return false
}

func (me *MultiError) As(target interface{}) bool {
	for _, e := range me.Errors() {
		if errors.As(e, target) {
			return true
		}
	}
	return false
}

func (me *MultiError) Add(err error) {
	if err == nil {
		return
	}
	me.mu.Lock()
	me.errs = append(me.errs, err)
	me.mu.Unlock()
}

// Errors returns a copy of the collected errors.
func (me *MultiError) Errors() []error {
	me.mu.Lock()
	defer me.mu.Unlock()
	return append([]error(nil), me.errs...)
}

// ErrorOrNil returns nil if no error is collected.
func (me *MultiError) ErrorOrNil() error {
	if me == nil || len(me.Errors()) == 0 {
		return nil
	}
	return me
}
