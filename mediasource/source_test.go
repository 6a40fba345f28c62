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

package mediasource_test

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	kva "github.com/seqsense/kvsannotator"
	"github.com/seqsense/kvsannotator/mediasource"
)

func init() {
	kva.SetLogger(kva.NewStdLogger(log.New(os.Stderr, "", log.Lmicroseconds), kva.LogLevelDebug))
}

var (
	testIDR   = []byte{0x00, 0x00, 0x00, 0x01, 0x65, 0x88, 0x84, 0x21}
	testSlice = []byte{0x00, 0x00, 0x00, 0x01, 0x41, 0x9a, 0x21, 0x6c}
)

type frameRecorder struct {
	mu     sync.Mutex
	frames []*mediasource.Frame
	err    error
	notify chan struct{}
}

func (r *frameRecorder) OnFrame(f *mediasource.Frame) error {
	r.mu.Lock()
	r.frames = append(r.frames, f)
	r.mu.Unlock()
	if r.notify != nil {
		select {
		case r.notify <- struct{}{}:
		default:
		}
	}
	return r.err
}

func (r *frameRecorder) Frames() []*mediasource.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*mediasource.Frame(nil), r.frames...)
}

type countPacer struct {
	mu sync.Mutex
	n  int
}

func (p *countPacer) Wait() {
	p.mu.Lock()
	p.n++
	p.mu.Unlock()
}

func TestFrameSource(t *testing.T) {
	pacer := &countPacer{}
	s := mediasource.NewFrameSource(mediasource.WithPacer(pacer))

	if err := s.SubmitFrame(testIDR, true); err != nil {
		t.Fatal(err)
	}
	if pacer.n != 1 {
		t.Errorf("Frame interval must be waited without callback")
	}

	var received [][]byte
	s.OnFrameDataAvailable(func(data []byte, keyFrame bool) error {
		received = append(received, data)
		return nil
	})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); !errors.Is(err, kva.ErrAlreadyRunning) {
		t.Errorf("Expected %v, got %v", kva.ErrAlreadyRunning, err)
	}
	var errLifecycle *kva.LifecycleError
	if err := s.Start(); !errors.As(err, &errLifecycle) {
		t.Errorf("Expected LifecycleError, got %T", err)
	}

	if err := s.SubmitFrame(testSlice, false); err != nil {
		t.Fatal(err)
	}
	if err := s.SubmitFrame(nil, false); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([][]byte{testSlice}, received); diff != "" {
		t.Errorf("Unexpected frames: %s", diff)
	}
	if pacer.n != 3 {
		t.Errorf("Expected 3 waits, got %d", pacer.n)
	}

	s.Stop()
	s.Stop()
	if s.IsRunning() {
		t.Error("Source must be stopped")
	}
	if err := s.Start(); err != nil {
		t.Errorf("Stopped frame source must be restartable: %v", err)
	}
}

func TestFrameSource_CallbackError(t *testing.T) {
	pacer := &countPacer{}
	s := mediasource.NewFrameSource(mediasource.WithPacer(pacer))
	errSink := errors.New("sink failure")
	s.OnFrameDataAvailable(func([]byte, bool) error { return errSink })

	if err := s.SubmitFrame(testIDR, true); !errors.Is(err, errSink) {
		t.Errorf("Expected %v, got %v", errSink, err)
	}
	if pacer.n != 1 {
		t.Errorf("Frame interval must be waited on error")
	}
}

func TestFrameRatePacer(t *testing.T) {
	if p := mediasource.FrameRatePacer(30); time.Duration(p) != 33333333*time.Nanosecond {
		t.Errorf("Unexpected interval %v", time.Duration(p))
	}

	p := mediasource.FrameRatePacer(100)
	start := time.Now()
	p.Wait()
	if d := time.Since(start); d < 10*time.Millisecond {
		t.Errorf("Pacer must block for the frame interval, blocked %v", d)
	}
}

func newCameraConfiguration() *mediasource.CameraConfiguration {
	c := mediasource.DefaultCameraConfiguration()
	c.CodecPrivateData = []byte{0x01, 0x42, 0x00, 0x1e, 0xff}
	return c
}

func TestCameraSource(t *testing.T) {
	now := time.UnixMilli(1600000000123)
	sink := &frameRecorder{}
	s := mediasource.NewCameraSource(sink,
		mediasource.WithSourcePacer(mediasource.NoDelay),
		mediasource.WithClock(func() time.Time {
			now = now.Add(33 * time.Millisecond)
			return now
		}),
	)

	if st := s.State(); st != mediasource.StateUnconfigured {
		t.Fatalf("Expected %v, got %v", mediasource.StateUnconfigured, st)
	}
	if err := s.Start(); !errors.Is(err, kva.ErrNotConfigured) {
		t.Errorf("Expected %v, got %v", kva.ErrNotConfigured, err)
	}
	if err := s.PutFrame(testIDR, true); !errors.Is(err, kva.ErrNotRunning) {
		t.Errorf("Expected %v, got %v", kva.ErrNotRunning, err)
	}

	var errInvalid *kva.InvalidConfigurationError
	if err := s.Configure(&mediasource.ImageFileConfiguration{Dir: ".", FrameRate: 30}); !errors.As(err, &errInvalid) {
		t.Errorf("Expected InvalidConfigurationError, got %v", err)
	}
	if st := s.State(); st != mediasource.StateUnconfigured {
		t.Fatalf("Expected %v, got %v", mediasource.StateUnconfigured, st)
	}

	config := newCameraConfiguration()
	if err := s.Configure(config); err != nil {
		t.Fatal(err)
	}
	if st := s.State(); st != mediasource.StateConfigured {
		t.Fatalf("Expected %v, got %v", mediasource.StateConfigured, st)
	}
	if s.Configuration() != config {
		t.Error("Configuration must be stored")
	}
	if err := s.PutFrame(testIDR, true); !errors.Is(err, kva.ErrNotRunning) {
		t.Errorf("Expected %v, got %v", kva.ErrNotRunning, err)
	}

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if st := s.State(); st != mediasource.StateRunning {
		t.Fatalf("Expected %v, got %v", mediasource.StateRunning, st)
	}
	if err := s.Configure(config); !errors.Is(err, kva.ErrAlreadyRunning) {
		t.Errorf("Expected %v, got %v", kva.ErrAlreadyRunning, err)
	}

	for _, f := range []struct {
		data []byte
		key  bool
	}{
		{testIDR, true},
		{testSlice, false},
		{nil, false},
		{testSlice, false},
	} {
		if err := s.PutFrame(f.data, f.key); err != nil {
			t.Fatal(err)
		}
	}

	expected := []*mediasource.Frame{
		{
			Index:                 0,
			Flags:                 mediasource.FrameFlagKeyFrame,
			DecodingTimestamp:     16000000001560000,
			PresentationTimestamp: 16000000001560000,
			Duration:              200000,
			Data:                  testIDR,
		},
		{
			Index:                 1,
			Flags:                 mediasource.FrameFlagNone,
			DecodingTimestamp:     16000000001890000,
			PresentationTimestamp: 16000000001890000,
			Duration:              200000,
			Data:                  testSlice,
		},
		{
			Index:                 2,
			Flags:                 mediasource.FrameFlagNone,
			DecodingTimestamp:     16000000002220000,
			PresentationTimestamp: 16000000002220000,
			Duration:              200000,
			Data:                  testSlice,
		},
	}
	if diff := cmp.Diff(expected, sink.Frames()); diff != "" {
		t.Errorf("Unexpected frames: %s", diff)
	}

	for i := 0; i < 2; i++ {
		if err := s.Stop(); err != nil {
			t.Fatal(err)
		}
		if st := s.State(); st != mediasource.StateStopped {
			t.Fatalf("Expected %v, got %v", mediasource.StateStopped, st)
		}
	}
	if err := s.PutFrame(testIDR, true); !errors.Is(err, kva.ErrNotRunning) {
		t.Errorf("Expected %v, got %v", kva.ErrNotRunning, err)
	}
	if err := s.Start(); !errors.Is(err, kva.ErrStopped) {
		t.Errorf("Expected %v, got %v", kva.ErrStopped, err)
	}
	if err := s.Configure(config); !errors.Is(err, kva.ErrStopped) {
		t.Errorf("Expected %v, got %v", kva.ErrStopped, err)
	}
}

func TestCameraSource_FrameIndexResetOnConfigure(t *testing.T) {
	sink := &frameRecorder{}
	s := mediasource.NewCameraSource(sink, mediasource.WithSourcePacer(mediasource.NoDelay))

	if err := s.Configure(newCameraConfiguration()); err != nil {
		t.Fatal(err)
	}
	if err := s.Configure(newCameraConfiguration()); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if err := s.PutFrame(testIDR, true); err != nil {
		t.Fatal(err)
	}
	if frames := sink.Frames(); len(frames) != 1 || frames[0].Index != 0 {
		t.Errorf("Frame index must start from 0, got %+v", frames)
	}
}

func TestCameraSource_SinkError(t *testing.T) {
	errSink := errors.New("sink failure")
	s := mediasource.NewCameraSource(&frameRecorder{err: errSink}, mediasource.WithSourcePacer(mediasource.NoDelay))
	if err := s.Configure(newCameraConfiguration()); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if err := s.PutFrame(testIDR, true); !errors.Is(err, errSink) {
		t.Errorf("Expected %v, got %v", errSink, err)
	}
	if st := s.State(); st != mediasource.StateRunning {
		t.Errorf("Sink error must not change the state, got %v", st)
	}
}

type blockingSink struct {
	frameRecorder
	entered chan struct{}
	release chan struct{}
}

func (s *blockingSink) OnFrame(f *mediasource.Frame) error {
	if f.Index == 0 {
		close(s.entered)
		<-s.release
	}
	return s.frameRecorder.OnFrame(f)
}

func TestCameraSource_StopDuringDelivery(t *testing.T) {
	sink := &blockingSink{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	s := mediasource.NewCameraSource(sink, mediasource.WithSourcePacer(mediasource.NoDelay))
	if err := s.Configure(newCameraConfiguration()); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	go s.PutFrame(testIDR, true)
	<-sink.entered

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.PutFrame(testSlice, false)
	}()
	time.Sleep(50 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	time.Sleep(50 * time.Millisecond)
	close(sink.release)
	<-stopped
	delivered := len(sink.Frames())

	err := <-errCh
	if n := len(sink.Frames()); n != delivered {
		t.Errorf("Frame must not be delivered after stop, got %d frames after %d", n, delivered)
	}
	switch delivered {
	case 1:
		var errLifecycle *kva.LifecycleError
		if !errors.As(err, &errLifecycle) {
			t.Errorf("Expected LifecycleError, got %v", err)
		}
	case 2:
		if err != nil {
			t.Errorf("Frame delivered before stop must succeed, got %v", err)
		}
	default:
		t.Errorf("Unexpected number of frames %d", delivered)
	}
}

func TestCameraConfiguration_Validate(t *testing.T) {
	testCases := map[string]struct {
		modify func(*mediasource.CameraConfiguration)
		field  string
	}{
		"CameraID":  {func(c *mediasource.CameraConfiguration) { c.CameraID = "" }, "CameraID"},
		"FrameRate": {func(c *mediasource.CameraConfiguration) { c.FrameRate = 0 }, "FrameRate"},
		"Width":     {func(c *mediasource.CameraConfiguration) { c.Width = -1 }, "Width"},
		"Height":    {func(c *mediasource.CameraConfiguration) { c.Height = 0 }, "Height"},
		"BitRate":   {func(c *mediasource.CameraConfiguration) { c.BitRate = 0 }, "BitRate"},
	}
	for name, tt := range testCases {
		tt := tt
		t.Run(name, func(t *testing.T) {
			c := newCameraConfiguration()
			tt.modify(c)
			s := mediasource.NewCameraSource(&frameRecorder{})
			err := s.Configure(c)
			var errConfig *kva.ConfigurationError
			if !errors.As(err, &errConfig) {
				t.Fatalf("Expected ConfigurationError, got %v", err)
			}
			if errConfig.Field != tt.field {
				t.Errorf("Expected field %s, got %s", tt.field, errConfig.Field)
			}
			if st := s.State(); st != mediasource.StateUnconfigured {
				t.Errorf("Expected %v, got %v", mediasource.StateUnconfigured, st)
			}
		})
	}
}

func TestCameraConfiguration_TrackEntry(t *testing.T) {
	c := newCameraConfiguration()
	expected := kva.TrackEntry{
		Name:            mediasource.DefaultCameraID,
		TrackNumber:     1,
		TrackUID:        1,
		CodecID:         kva.CodecIDH264,
		CodecName:       "H.264",
		TrackType:       kva.TrackTypeVideo,
		DefaultDuration: 33333333,
		CodecPrivate:    c.CodecPrivateData,
		Video:           []kva.Video{{PixelWidth: 640, PixelHeight: 480}},
	}
	if diff := cmp.Diff(expected, c.TrackEntry()); diff != "" {
		t.Errorf("Unexpected TrackEntry: %s", diff)
	}
}

func TestParseNALAdaptation(t *testing.T) {
	testCases := map[string]struct {
		input    string
		expected mediasource.NALAdaptation
		err      bool
	}{
		"AnnexB":    {input: "ANNEXB_NALS", expected: mediasource.NALAdaptationAnnexBNALs},
		"LowerCase": {input: "annexb_nals", expected: mediasource.NALAdaptationAnnexBNALs},
		"None":      {input: "NONE", expected: mediasource.NALAdaptationNone},
		"Unknown":   {input: "AVCC", err: true},
	}
	for name, tt := range testCases {
		tt := tt
		t.Run(name, func(t *testing.T) {
			n, err := mediasource.ParseNALAdaptation(tt.input)
			if tt.err {
				if err == nil {
					t.Fatal("Expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if n != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, n)
			}
		})
	}
}

func writeFrameFiles(t *testing.T, frames ...[]byte) string {
	t.Helper()
	dir := t.TempDir()
	for i, f := range frames {
		name := fmt.Sprintf(mediasource.DefaultFilenameFormat, i)
		if err := os.WriteFile(filepath.Join(dir, name), f, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestImageFileSource(t *testing.T) {
	dir := writeFrameFiles(t, testIDR, testSlice, testSlice)

	sink := &frameRecorder{notify: make(chan struct{}, 1)}
	s := mediasource.NewImageFileSource(sink, mediasource.WithSourcePacer(mediasource.NoDelay))

	var errInvalid *kva.InvalidConfigurationError
	if err := s.Configure(newCameraConfiguration()); !errors.As(err, &errInvalid) {
		t.Errorf("Expected InvalidConfigurationError, got %v", err)
	}
	if err := s.Configure(&mediasource.ImageFileConfiguration{
		Dir:        dir,
		StartIndex: 0,
		EndIndex:   2,
		FrameRate:  30,
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	timeout := time.After(5 * time.Second)
	for len(sink.Frames()) < 4 {
		select {
		case <-sink.notify:
		case <-timeout:
			t.Fatal("Timeout")
		}
	}
	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}
	if st := s.State(); st != mediasource.StateStopped {
		t.Errorf("Expected %v, got %v", mediasource.StateStopped, st)
	}

	frames := sink.Frames()
	expectedKey := []bool{true, false, false, true}
	for i, key := range expectedKey {
		if frames[i].Index != uint64(i) {
			t.Errorf("Expected index %d, got %d", i, frames[i].Index)
		}
		if frames[i].IsKeyFrame() != key {
			t.Errorf("Frame %d: expected key frame %v", i, key)
		}
	}

	n := len(frames)
	time.Sleep(50 * time.Millisecond)
	if len(sink.Frames()) != n {
		t.Error("Frames must not be sent after Stop")
	}
}

func TestImageFileSource_MissingFile(t *testing.T) {
	dir := writeFrameFiles(t, testIDR)

	sink := &frameRecorder{notify: make(chan struct{}, 1)}
	s := mediasource.NewImageFileSource(sink, mediasource.WithSourcePacer(mediasource.NoDelay))
	if err := s.Configure(&mediasource.ImageFileConfiguration{
		Dir:       dir,
		EndIndex:  1,
		FrameRate: 30,
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	select {
	case <-sink.notify:
	case <-time.After(5 * time.Second):
		t.Fatal("Timeout")
	}
	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}
	if n := len(sink.Frames()); n != 1 {
		t.Errorf("Expected 1 frame, got %d", n)
	}
}

func TestImageFileConfiguration_Validate(t *testing.T) {
	testCases := map[string]struct {
		config *mediasource.ImageFileConfiguration
		field  string
	}{
		"Dir":       {&mediasource.ImageFileConfiguration{FrameRate: 30}, "Dir"},
		"FrameRate": {&mediasource.ImageFileConfiguration{Dir: "."}, "FrameRate"},
		"EndIndex":  {&mediasource.ImageFileConfiguration{Dir: ".", FrameRate: 30, StartIndex: 3, EndIndex: 2}, "EndIndex"},
	}
	for name, tt := range testCases {
		tt := tt
		t.Run(name, func(t *testing.T) {
			err := mediasource.NewImageFileSource(&frameRecorder{}).Configure(tt.config)
			var errConfig *kva.ConfigurationError
			if !errors.As(err, &errConfig) {
				t.Fatalf("Expected ConfigurationError, got %v", err)
			}
			if errConfig.Field != tt.field {
				t.Errorf("Expected field %s, got %s", tt.field, errConfig.Field)
			}
		})
	}
}
