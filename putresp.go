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
	"encoding/json"
	"fmt"
	"io"
)

const (
	FragmentEventTypeBuffering = "BUFFERING"
	FragmentEventTypeReceived  = "RECEIVED"
	FragmentEventTypePersisted = "PERSISTED"
	FragmentEventTypeError     = "ERROR"
	FragmentEventTypeIdle      = "IDLE"
)

// FragmentEvent is an acknowledgement streamed back by PutMedia.
type FragmentEvent struct {
	EventType        string
	FragmentTimecode uint64
	FragmentNumber   string // 158-bit number, handle as string
	ErrorId          int    `json:",omitempty"`
	ErrorCode        string `json:",omitempty"`
}

func (fe *FragmentEvent) IsError() bool {
	return fe.EventType == FragmentEventTypeError
}

// AsError returns nil unless the event reports an error.
func (fe *FragmentEvent) AsError() error {
	if !fe.IsError() {
		return nil
	}
	return &FragmentEventError{FragmentEvent: *fe}
}

type FragmentEventError struct {
	FragmentEvent
}

func (e *FragmentEventError) Error() string {
	return fmt.Sprintf(
		"fragment event error: { Timecode: %d, FragmentNumber: %s, ErrorId: %d, ErrorCode: %q }",
		e.FragmentTimecode, e.FragmentNumber, e.ErrorId, e.ErrorCode,
	)
}

func parseFragmentEvent(r io.Reader) ([]FragmentEvent, error) {
	dec := json.NewDecoder(r)
	var ret []FragmentEvent
	for {
		var fe FragmentEvent
		if err := dec.Decode(&fe); err != nil {
			if err == io.EOF {
				break
			}
			return ret, err
		}
		ret = append(ret, fe)
	}
	return ret, nil
}
