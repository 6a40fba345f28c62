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

	"github.com/at-wat/ebml-go"

	kva "github.com/seqsense/kvsannotator"
	"github.com/seqsense/kvsannotator/codec"
)

// MediaPutter streams blocks to Kinesis Video Streams.
// It is implemented by *kvsannotator.Provider.
type MediaPutter interface {
	PutMedia(ch chan *kva.BlockWithBaseTimecode, chResp chan kva.FragmentEvent, opts ...kva.PutMediaOption)
}

// ProviderSink is a Sink sending frames through PutMedia API.
type ProviderSink struct {
	ch            chan *kva.BlockWithBaseTimecode
	done          chan struct{}
	nalAdaptation NALAdaptation
	trackNumber   uint64
	errs          kva.MultiError

	mu     sync.Mutex
	closed bool
}

type ProviderSinkOption func(*providerSinkOptions)

type providerSinkOptions struct {
	nalAdaptation NALAdaptation
	trackNumber   uint64
	bufferSize    int
	putMediaOpts  []kva.PutMediaOption
	onEvent       func(kva.FragmentEvent)
}

// WithNALAdaptation sets the format of the frame data. Defaults to NALAdaptationAnnexBNALs.
func WithNALAdaptation(n NALAdaptation) ProviderSinkOption {
	return func(o *providerSinkOptions) {
		o.nalAdaptation = n
	}
}

// WithTrackNumber sets the track number of the blocks. Defaults to 1.
func WithTrackNumber(n uint64) ProviderSinkOption {
	return func(o *providerSinkOptions) {
		o.trackNumber = n
	}
}

// WithBufferSize sets the number of frames buffered before OnFrame blocks.
func WithBufferSize(n int) ProviderSinkOption {
	return func(o *providerSinkOptions) {
		o.bufferSize = n
	}
}

// WithPutMediaOptions passes options to PutMedia.
func WithPutMediaOptions(opts ...kva.PutMediaOption) ProviderSinkOption {
	return func(o *providerSinkOptions) {
		o.putMediaOpts = append(o.putMediaOpts, opts...)
	}
}

// OnFragmentEvent registers a callback called for each fragment event.
func OnFragmentEvent(fn func(kva.FragmentEvent)) ProviderSinkOption {
	return func(o *providerSinkOptions) {
		o.onEvent = fn
	}
}

// NewProviderSink starts PutMedia session and returns the Sink feeding it.
// Close must be called to finish the session.
func NewProviderSink(p MediaPutter, opts ...ProviderSinkOption) *ProviderSink {
	options := &providerSinkOptions{
		nalAdaptation: NALAdaptationAnnexBNALs,
		trackNumber:   1,
		bufferSize:    30,
		onEvent:       func(kva.FragmentEvent) {},
	}
	for _, o := range opts {
		o(options)
	}

	s := &ProviderSink{
		ch:            make(chan *kva.BlockWithBaseTimecode, options.bufferSize),
		done:          make(chan struct{}),
		nalAdaptation: options.nalAdaptation,
		trackNumber:   options.trackNumber,
	}
	chResp := make(chan kva.FragmentEvent)
	putMediaOpts := append([]kva.PutMediaOption{
		kva.OnError(func(err error) {
			kva.Logger().Warnf("PutMedia failed: %v", err)
			s.errs.Add(err)
		}),
	}, options.putMediaOpts...)

	go p.PutMedia(s.ch, chResp, putMediaOpts...)
	go func() {
		defer close(s.done)
		for fe := range chResp {
			kva.Logger().Debugf("Fragment event (type:%s fragment:%s timecode:%d)",
				fe.EventType, fe.FragmentNumber, fe.FragmentTimecode)
			options.onEvent(fe)
		}
	}()
	return s
}

// OnFrame converts the frame into a block and queues it.
func (s *ProviderSink) OnFrame(f *Frame) error {
	data := f.Data
	if s.nalAdaptation == NALAdaptationAnnexBNALs {
		data = codec.AnnexBToAVCC(data)
	}
	bt := &kva.BlockWithBaseTimecode{
		Timecode: uint64(kva.HundredsOfNanosToMillis(f.PresentationTimestamp)),
		Block: ebml.Block{
			TrackNumber: s.trackNumber,
			Keyframe:    f.IsKeyFrame(),
			Data:        [][]byte{data},
		},
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &kva.LifecycleError{Op: "send frame", State: "closed", Err: kva.ErrStopped}
	}
	s.ch <- bt
	return nil
}

// Close flushes queued frames, waits for the acknowledgements and returns
// errors occurred during the session.
func (s *ProviderSink) Close() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	s.mu.Unlock()

	<-s.done
	return s.errs.ErrorOrNil()
}
