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

package mediafragment

import (
	kva "github.com/seqsense/kvsannotator"
)

// Frame is a block of an archived fragment.
type Frame struct {
	*kva.FragmentMetadata

	// Track is nil if the fragment has no TrackEntry for TrackNumber.
	Track       *TrackMetadata
	TrackNumber uint64
	// Timecode is the absolute timecode of the block in milliseconds.
	Timecode int64
	KeyFrame bool
	Data     []byte
}

// TrackMetadata is the subset of a Matroska TrackEntry needed to decode
// frames of the track.
type TrackMetadata struct {
	TrackNumber  uint64
	CodecID      string
	CodecPrivate []byte
	Width        int
	Height       int
}

func newTrackMetadata(e kva.TrackEntry) *TrackMetadata {
	t := &TrackMetadata{
		TrackNumber:  e.TrackNumber,
		CodecID:      e.CodecID,
		CodecPrivate: e.CodecPrivate,
	}
	if len(e.Video) > 0 {
		t.Width = int(e.Video[0].PixelWidth)
		t.Height = int(e.Video[0].PixelHeight)
	}
	return t
}

type FrameVisitor interface {
	VisitFrame(*Frame) error
}

// FrameVisitorFunc adapts a function to FrameVisitor.
type FrameVisitorFunc func(*Frame) error

func (f FrameVisitorFunc) VisitFrame(frame *Frame) error {
	return f(frame)
}
