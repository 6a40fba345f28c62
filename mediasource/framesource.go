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

package mediasource

import (
	"sync"
	"time"

	kva "github.com/seqsense/kvsannotator"
)

// DefaultFrameRate is the frame rate of FrameSource without WithFrameRate.
const DefaultFrameRate = 30

// OnFrameDataAvailable is called by FrameSource for each submitted frame.
type OnFrameDataAvailable func(data []byte, keyFrame bool) error

// Pacer blocks the caller to limit the frame rate.
type Pacer interface {
	Wait()
}

// IntervalPacer sleeps a fixed interval.
type IntervalPacer time.Duration

func (p IntervalPacer) Wait() {
	time.Sleep(time.Duration(p))
}

// FrameRatePacer returns a Pacer sleeping one frame interval of fps.
func FrameRatePacer(fps int) IntervalPacer {
	return IntervalPacer(time.Second / time.Duration(fps))
}

type noDelay struct{}

func (noDelay) Wait() {}

// NoDelay is a Pacer which never blocks.
var NoDelay Pacer = noDelay{}

// FrameSource emits submitted frames at a fixed cadence.
type FrameSource struct {
	pacer Pacer

	mu          sync.Mutex
	running     bool
	onFrameData OnFrameDataAvailable
}

type FrameSourceOption func(*FrameSource)

// WithFrameRate paces the frames at fps.
func WithFrameRate(fps int) FrameSourceOption {
	return func(s *FrameSource) {
		if fps > 0 {
			s.pacer = FrameRatePacer(fps)
		}
	}
}

// WithPacer sets the pacing strategy. It overrides WithFrameRate.
func WithPacer(p Pacer) FrameSourceOption {
	return func(s *FrameSource) {
		s.pacer = p
	}
}

func NewFrameSource(opts ...FrameSourceOption) *FrameSource {
	s := &FrameSource{
		pacer: FrameRatePacer(DefaultFrameRate),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// OnFrameDataAvailable registers the frame callback.
func (s *FrameSource) OnFrameDataAvailable(fn OnFrameDataAvailable) {
	s.mu.Lock()
	s.onFrameData = fn
	s.mu.Unlock()
}

func (s *FrameSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return &kva.LifecycleError{Op: "start frame source", State: "running", Err: kva.ErrAlreadyRunning}
	}
	s.running = true
	return nil
}

// Stop stops the source. Stopping a stopped source is not an error.
func (s *FrameSource) Stop() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

func (s *FrameSource) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// SubmitFrame passes the frame to the registered callback and then blocks
// for one frame interval. The interval is waited even if no callback is
// registered or the callback failed.
func (s *FrameSource) SubmitFrame(data []byte, keyFrame bool) error {
	s.mu.Lock()
	fn := s.onFrameData
	s.mu.Unlock()

	var err error
	if fn != nil && len(data) > 0 {
		err = fn(data, keyFrame)
	}
	s.pacer.Wait()
	return err
}
