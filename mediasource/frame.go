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

// Package mediasource publishes locally produced H.264 frames to a sink
// through a Kinesis Video Streams media source state machine.
package mediasource

import (
	"time"

	kva "github.com/seqsense/kvsannotator"
)

// FrameFlags is a bit field of the frame properties.
type FrameFlags int

const (
	FrameFlagNone     FrameFlags = 0
	FrameFlagKeyFrame FrameFlags = 1
)

// FrameDuration is the duration set to every frame produced by the media sources.
const FrameDuration = 20 * time.Millisecond

// Frame is a frame to be sent to a Sink.
// Timestamps and duration are in hundreds of nanoseconds.
type Frame struct {
	Index                 uint64
	Flags                 FrameFlags
	DecodingTimestamp     int64
	PresentationTimestamp int64
	Duration              int64
	Data                  []byte
}

func (f *Frame) IsKeyFrame() bool {
	return f.Flags&FrameFlagKeyFrame != 0
}

// Sink receives frames from media sources.
type Sink interface {
	OnFrame(*Frame) error
}

// SinkFunc is an adapter to use a function as a Sink.
type SinkFunc func(*Frame) error

func (f SinkFunc) OnFrame(frame *Frame) error {
	return f(frame)
}

func newFrame(index uint64, now time.Time, data []byte, keyFrame bool) *Frame {
	flags := FrameFlagNone
	if keyFrame {
		flags = FrameFlagKeyFrame
	}
	ts := kva.ToHundredsOfNanos(now)
	return &Frame{
		Index:                 index,
		Flags:                 flags,
		DecodingTimestamp:     ts,
		PresentationTimestamp: ts,
		Duration:              FrameDuration.Milliseconds() * kva.HundredsOfNanosInMillisecond,
		Data:                  data,
	}
}
