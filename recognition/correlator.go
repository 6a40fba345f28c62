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

package recognition

import (
	"math"

	kva "github.com/seqsense/kvsannotator"
)

// OffsetToleranceMillis is the maximum difference between the offset of a
// frame from the last key frame and the sampled offset of a record.
const OffsetToleranceMillis = 10

// Correlator matches the frames of one fragment, in decode order, to the
// records of the fragment. It is not safe for concurrent use.
type Correlator struct {
	fragmentNumber   string
	pending          []*Record
	current          *Record
	keyFrameTimecode int64
}

// NewCorrelator returns a Correlator owning records.
func NewCorrelator(fragmentNumber string, records []*Record) *Correlator {
	return &Correlator{
		fragmentNumber: fragmentNumber,
		pending:        append([]*Record(nil), records...),
	}
}

// Correlate returns the record for a frame at timecode in milliseconds.
// The first pending record whose offset is within OffsetToleranceMillis of
// the frame offset is consumed and returned with matched true. Otherwise
// the last matched record, or nil, is returned with matched false.
func (c *Correlator) Correlate(timecode int64, keyFrame bool) (rec *Record, matched bool) {
	if keyFrame {
		c.keyFrameTimecode = timecode
		kva.Logger().Debugf("Key frame (fragment:%s timecode:%d)", c.fragmentNumber, timecode)
	}
	var offset int64
	if timecode > c.keyFrameTimecode {
		offset = timecode - c.keyFrameTimecode
	}

	for i, r := range c.pending {
		if math.Abs(float64(offset)-r.FrameOffsetMillis()) > OffsetToleranceMillis {
			continue
		}
		c.pending = append(c.pending[:i], c.pending[i+1:]...)
		c.current = r
		kva.Logger().Debugf("Record matched (fragment:%s offset:%d delta:%.1f pending:%d)",
			c.fragmentNumber, offset, math.Abs(float64(offset)-r.FrameOffsetMillis()), len(c.pending))
		if len(c.pending) == 0 {
			kva.Logger().Debugf("All records consumed (fragment:%s)", c.fragmentNumber)
		}
		return r, true
	}
	return c.current, false
}

// Current returns the last matched record.
func (c *Correlator) Current() *Record {
	return c.current
}

// KeyFrameTimecode returns the timecode of the last key frame, from which
// frame offsets are measured.
func (c *Correlator) KeyFrameTimecode() int64 {
	return c.keyFrameTimecode
}

// Pending returns the number of records not matched yet.
func (c *Correlator) Pending() int {
	return len(c.pending)
}
