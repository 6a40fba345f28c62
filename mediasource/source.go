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
	"fmt"
	"sync"
	"time"

	kva "github.com/seqsense/kvsannotator"
)

// State is a lifecycle state of MediaSource.
type State int

const (
	StateUnconfigured State = iota
	StateConfigured
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "UNCONFIGURED"
	case StateConfigured:
		return "CONFIGURED"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MediaSource produces frames to a Sink.
//
// A source goes through UNCONFIGURED, CONFIGURED, RUNNING and STOPPED.
// A stopped source can not be restarted.
type MediaSource interface {
	Configure(Configuration) error
	Start() error
	// Stop stops the source. It can be called in any state and any number of times.
	Stop() error
	PutFrame(data []byte, keyFrame bool) error
	State() State
}

type SourceOption func(*sourceOptions)

type sourceOptions struct {
	pacer Pacer
	now   func() time.Time
}

// WithSourcePacer overrides the pacing of the frame source.
func WithSourcePacer(p Pacer) SourceOption {
	return func(o *sourceOptions) {
		o.pacer = p
	}
}

// WithClock sets the clock used to timestamp frames.
func WithClock(now func() time.Time) SourceOption {
	return func(o *sourceOptions) {
		o.now = now
	}
}

// source implements the state machine shared by the media source variants.
type source struct {
	name    string
	sink    Sink
	options sourceOptions

	// sendMu is held while a frame is delivered to the sink.
	sendMu      sync.Mutex
	mu          sync.Mutex
	state       State
	frameIndex  uint64
	frameSource *FrameSource
}

func newSource(name string, sink Sink, opts []SourceOption) *source {
	s := &source{
		name: name,
		sink: sink,
		options: sourceOptions{
			now: time.Now,
		},
	}
	for _, o := range opts {
		o(&s.options)
	}
	return s
}

func (s *source) configure(name string, fps int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateRunning:
		return &kva.LifecycleError{Op: "configure", State: s.state.String(), Err: kva.ErrAlreadyRunning}
	case StateStopped:
		return &kva.LifecycleError{Op: "configure", State: s.state.String(), Err: kva.ErrStopped}
	}

	opts := []FrameSourceOption{WithFrameRate(fps)}
	if s.options.pacer != nil {
		opts = append(opts, WithPacer(s.options.pacer))
	}
	s.frameSource = NewFrameSource(opts...)
	s.frameSource.OnFrameDataAvailable(s.onFrameData)
	s.name = name
	s.frameIndex = 0
	s.state = StateConfigured
	return nil
}

func (s *source) start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateUnconfigured:
		return &kva.LifecycleError{Op: "start", State: s.state.String(), Err: kva.ErrNotConfigured}
	case StateStopped:
		return &kva.LifecycleError{Op: "start", State: s.state.String(), Err: kva.ErrStopped}
	}
	if err := s.frameSource.Start(); err != nil {
		return err
	}
	s.state = StateRunning
	kva.Logger().Infof("Media source started (source:%s)", s.name)
	return nil
}

// stop waits for the frame being delivered. No frame reaches the sink
// after stop returns.
func (s *source) stop() {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frameSource != nil {
		s.frameSource.Stop()
	}
	if s.state != StateStopped {
		kva.Logger().Infof("Media source stopped (source:%s frames:%d)", s.name, s.frameIndex)
	}
	s.state = StateStopped
}

func (s *source) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// putFrame blocks the caller for one frame interval.
func (s *source) putFrame(data []byte, keyFrame bool) error {
	s.mu.Lock()
	state, fs := s.state, s.frameSource
	s.mu.Unlock()
	if state != StateRunning {
		return &kva.LifecycleError{Op: "put frame", State: state.String(), Err: kva.ErrNotRunning}
	}
	return fs.SubmitFrame(data, keyFrame)
}

func (s *source) onFrameData(data []byte, keyFrame bool) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	if s.state != StateRunning {
		state := s.state
		s.mu.Unlock()
		return &kva.LifecycleError{Op: "put frame", State: state.String(), Err: kva.ErrNotRunning}
	}
	index := s.frameIndex
	s.frameIndex++
	s.mu.Unlock()

	f := newFrame(index, s.options.now(), data, keyFrame)
	if err := s.sink.OnFrame(f); err != nil {
		return fmt.Errorf("sending frame %d: %w", index, err)
	}
	return nil
}

// CameraSource is a MediaSource publishing frames given by PutFrame.
type CameraSource struct {
	*source
	config *CameraConfiguration
}

func NewCameraSource(sink Sink, opts ...SourceOption) *CameraSource {
	return &CameraSource{
		source: newSource("camera", sink, opts),
	}
}

// Configure accepts *CameraConfiguration only.
func (s *CameraSource) Configure(c Configuration) error {
	config, ok := c.(*CameraConfiguration)
	if !ok {
		return &kva.InvalidConfigurationError{
			Expected: fmt.Sprintf("%T", config),
			Actual:   fmt.Sprintf("%T", c),
		}
	}
	if err := config.validate(); err != nil {
		return err
	}
	if err := s.configure(config.CameraID, config.FrameRate); err != nil {
		return err
	}
	s.mu.Lock()
	s.config = config
	s.mu.Unlock()
	return nil
}

// Configuration returns the applied configuration or nil if not configured.
func (s *CameraSource) Configuration() *CameraConfiguration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

func (s *CameraSource) Start() error {
	return s.start()
}

func (s *CameraSource) Stop() error {
	s.stop()
	return nil
}

// PutFrame sends the frame to the sink and blocks for one frame interval.
// Empty frames are dropped.
func (s *CameraSource) PutFrame(data []byte, keyFrame bool) error {
	return s.putFrame(data, keyFrame)
}
