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

// Package reprocess annotates archived fragments with recognition results
// and publishes them to another stream.
package reprocess

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	kva "github.com/seqsense/kvsannotator"
	"github.com/seqsense/kvsannotator/codec"
	"github.com/seqsense/kvsannotator/mediafragment"
	"github.com/seqsense/kvsannotator/mediasource"
	"github.com/seqsense/kvsannotator/overlay"
	"github.com/seqsense/kvsannotator/recognition"
)

// Fetcher fetches archived fragments. It is implemented by *mediafragment.Client.
type Fetcher interface {
	GetMediaForFragmentList(ctx context.Context, fragments []string, visitor mediafragment.FrameVisitor, errHandler func(error)) error
}

// FrameDecoder is implemented by *codec.Decoder.
type FrameDecoder interface {
	Decode(*mediafragment.Frame) ([]*codec.Picture, error)
	Flush() ([]*codec.Picture, error)
	Close() error
}

type FrameEncoder interface {
	Encode(*image.RGBA) (*codec.EncodedFrame, error)
	Close() error
}

type DecoderFactory func() FrameDecoder

// EncoderFactory opens an encoder for images of the given size.
type EncoderFactory func(width, height int) (FrameEncoder, error)

// SinkCloser is a Sink of one output session.
type SinkCloser interface {
	mediasource.Sink
	Close() error
}

// SinkFactory opens a sink for the stream described by config.
type SinkFactory func(ctx context.Context, config *mediasource.CameraConfiguration) (SinkCloser, error)

// ProviderSinkFactory returns a SinkFactory starting a PutMedia session to
// streamID for each output.
func ProviderSinkFactory(cli *kva.Client, streamID kva.StreamID, opts ...mediasource.ProviderSinkOption) SinkFactory {
	return func(ctx context.Context, config *mediasource.CameraConfiguration) (SinkCloser, error) {
		pro, err := cli.Provider(ctx, streamID, []kva.TrackEntry{config.TrackEntry()})
		if err != nil {
			return nil, err
		}
		sinkOpts := []mediasource.ProviderSinkOption{
			mediasource.WithNALAdaptation(config.NALAdaptation),
		}
		if config.AbsoluteTimecode {
			sinkOpts = append(sinkOpts, mediasource.WithPutMediaOptions(
				kva.WithFragmentTimecodeType(kva.FragmentTimecodeTypeAbsolute),
			))
		}
		return mediasource.NewProviderSink(pro, append(sinkOpts, opts...)...), nil
	}
}

// Worker processes fragments one by one: the frames are decoded, annotated
// with the matched recognition records, encoded and published.
// A Worker can run multiple fragments concurrently, each Run owns its
// codec and output session.
type Worker struct {
	fetcher    Fetcher
	newSink    SinkFactory
	compositor overlay.Compositor
	newDecoder DecoderFactory
	newEncoder EncoderFactory
	media      mediasource.CameraConfiguration
	sourceOpts []mediasource.SourceOption
	maxTimeout time.Duration
}

type WorkerOption func(*Worker)

func WithCompositor(c overlay.Compositor) WorkerOption {
	return func(w *Worker) {
		w.compositor = c
	}
}

func WithDecoderFactory(f DecoderFactory) WorkerOption {
	return func(w *Worker) {
		w.newDecoder = f
	}
}

func WithEncoderFactory(f EncoderFactory) WorkerOption {
	return func(w *Worker) {
		w.newEncoder = f
	}
}

// WithMediaConfiguration sets the output stream configuration.
// Resolution and codec private data are overwritten by the encoded frames.
func WithMediaConfiguration(c mediasource.CameraConfiguration) WorkerOption {
	return func(w *Worker) {
		w.media = c
	}
}

// WithSourceOptions passes options to the output media source.
func WithSourceOptions(opts ...mediasource.SourceOption) WorkerOption {
	return func(w *Worker) {
		w.sourceOpts = append(w.sourceOpts, opts...)
	}
}

// WithMaxTimeout sets the time to wait for late recognition results.
// It is advisory and currently not used to cancel the processing.
func WithMaxTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) {
		w.maxTimeout = d
	}
}

func NewWorker(fetcher Fetcher, newSink SinkFactory, opts ...WorkerOption) *Worker {
	w := &Worker{
		fetcher:    fetcher,
		newSink:    newSink,
		compositor: overlay.NewRenderer(),
		newDecoder: func() FrameDecoder { return codec.NewDecoder() },
		media:      *mediasource.DefaultCameraConfiguration(),
		maxTimeout: 100 * time.Millisecond,
	}
	for _, o := range opts {
		o(w)
	}
	if w.newEncoder == nil {
		media := w.media
		w.newEncoder = func(width, height int) (FrameEncoder, error) {
			enc, err := codec.NewEncoder(width, height,
				codec.WithFrameRate(media.FrameRate),
				codec.WithBitRate(int64(media.BitRate)),
				codec.WithHardwareAcceleration(media.HardwareAccelerated),
			)
			if err != nil {
				return nil, err
			}
			return enc, nil
		}
	}
	return w
}

// Run processes one fragment with the records taken from the index.
// Failures of single frames are logged and the frames are skipped.
// Fetch failures are returned as *kva.FetchError.
func (w *Worker) Run(ctx context.Context, fragmentNumber string, records []*recognition.Record) (err error) {
	p := &fragmentProcessor{
		Worker:         w,
		ctx:            ctx,
		fragmentNumber: fragmentNumber,
		correlator:     recognition.NewCorrelator(fragmentNumber, records),
		decoder:        w.newDecoder(),
		queued:         make(map[int64]correlation),
	}
	defer func() {
		if errClose := p.close(); errClose != nil && err == nil {
			err = errClose
		}
	}()

	kva.Logger().Infof("Processing fragment (fragment:%s records:%d maxTimeout:%v)",
		fragmentNumber, len(records), w.maxTimeout)

	errFetch := w.fetcher.GetMediaForFragmentList(ctx, []string{fragmentNumber}, p, func(err error) {
		kva.Logger().Warnf("Fragment reported error (fragment:%s): %v", fragmentNumber, err)
	})
	if p.err != nil {
		return p.err
	}
	if errFetch != nil {
		return &kva.FetchError{FragmentNumber: fragmentNumber, Err: errFetch}
	}
	if err := p.flush(); err != nil {
		return err
	}
	kva.Logger().Infof("Fragment processed (fragment:%s published:%d skipped:%d unmatched:%d)",
		fragmentNumber, p.published, p.skipped, p.correlator.Pending())
	return nil
}

// fragmentProcessor holds the state of one Run.
type fragmentProcessor struct {
	*Worker
	ctx            context.Context
	fragmentNumber string
	correlator     *recognition.Correlator
	decoder        FrameDecoder

	encoder       FrameEncoder
	width, height int
	sink          SinkCloser
	source        *mediasource.CameraSource

	// queued holds the correlation of frames sent to the decoder and not
	// returned as pictures yet, by timecode.
	queued map[int64]correlation

	published, skipped int
	// err is the publishing error aborted the fetch.
	err error
}

type correlation struct {
	record  *recognition.Record
	matched bool
}

// VisitFrame correlates the frame in decode order and publishes the
// pictures completed by it.
func (p *fragmentProcessor) VisitFrame(f *mediafragment.Frame) error {
	rec, matched := p.correlator.Correlate(f.Timecode, f.KeyFrame)
	p.queued[f.Timecode] = correlation{record: rec, matched: matched}

	pics, err := p.decoder.Decode(f)
	if err != nil {
		delete(p.queued, f.Timecode)
		p.skip(f.Timecode, err)
	}
	return p.publish(pics)
}

// flush publishes the pictures delayed by the decoder.
func (p *fragmentProcessor) flush() error {
	pics, err := p.decoder.Flush()
	if err != nil {
		kva.Logger().Warnf("Failed to flush decoder (fragment:%s): %v", p.fragmentNumber, err)
	}
	if err := p.publish(pics); err != nil {
		return err
	}
	for tc := range p.queued {
		p.skip(tc, errors.New("no picture decoded"))
	}
	p.queued = make(map[int64]correlation)
	return nil
}

func (p *fragmentProcessor) publish(pics []*codec.Picture) error {
	for _, pic := range pics {
		c, ok := p.queued[pic.Timecode]
		if ok {
			delete(p.queued, pic.Timecode)
		} else {
			c = correlation{record: p.correlator.Current()}
		}
		if err := p.publishPicture(pic, c); err != nil {
			return err
		}
	}
	return nil
}

func (p *fragmentProcessor) publishPicture(pic *codec.Picture, c correlation) error {
	img := pic.Image
	b := img.Bounds()
	if err := p.ensureEncoder(b.Dx(), b.Dy()); err != nil {
		p.skip(pic.Timecode, err)
		return nil
	}

	if err := p.compositor.Composite(img, c.record); err != nil {
		kva.Logger().Warnf("Failed to annotate frame (fragment:%s timecode:%d matched:%v): %v",
			p.fragmentNumber, pic.Timecode, c.matched, err)
	}

	ef, err := p.encoder.Encode(img)
	if err != nil {
		p.skip(pic.Timecode, err)
		return nil
	}

	if p.source == nil {
		if err := p.openSource(ef.CodecPrivate, b.Dx(), b.Dy()); err != nil {
			p.err = fmt.Errorf("opening output (fragment:%s): %w", p.fragmentNumber, err)
			return p.err
		}
	}
	if err := p.source.PutFrame(ef.Data, ef.KeyFrame); err != nil {
		var errLifecycle *kva.LifecycleError
		if errors.As(err, &errLifecycle) {
			p.err = fmt.Errorf("publishing frame (fragment:%s): %w", p.fragmentNumber, err)
			return p.err
		}
		p.skip(pic.Timecode, err)
		return nil
	}
	p.published++
	return nil
}

func (p *fragmentProcessor) skip(timecode int64, err error) {
	p.skipped++
	kva.Logger().Warnf("Skipping frame (fragment:%s timecode:%d): %v", p.fragmentNumber, timecode, err)
}

// ensureEncoder (re)opens the encoder for the image size.
// The output session is closed on resize since the codec private data of
// the previous encoder is no longer valid.
func (p *fragmentProcessor) ensureEncoder(width, height int) error {
	if p.encoder != nil && p.width == width && p.height == height {
		return nil
	}
	if p.encoder != nil {
		kva.Logger().Infof("Resolution changed, reopening encoder (fragment:%s from:%dx%d to:%dx%d)",
			p.fragmentNumber, p.width, p.height, width, height)
		if err := p.closeOutput(); err != nil {
			kva.Logger().Warnf("Failed to close output (fragment:%s): %v", p.fragmentNumber, err)
		}
	}
	enc, err := p.newEncoder(width, height)
	if err != nil {
		return err
	}
	p.encoder, p.width, p.height = enc, width, height
	return nil
}

func (p *fragmentProcessor) openSource(cpd []byte, width, height int) error {
	if cpd == nil {
		return errors.New("no codec private data on the first encoded frame")
	}
	config := p.media
	config.Width, config.Height = width, height
	config.CodecPrivateData = cpd

	sink, err := p.newSink(p.ctx, &config)
	if err != nil {
		return err
	}
	source := mediasource.NewCameraSource(sink, p.sourceOpts...)
	if err := source.Configure(&config); err != nil {
		sink.Close()
		return err
	}
	if err := source.Start(); err != nil {
		sink.Close()
		return err
	}
	p.sink, p.source = sink, source
	return nil
}

// closeOutput releases the encoder and the output session.
func (p *fragmentProcessor) closeOutput() error {
	var errs kva.MultiError
	if p.source != nil {
		errs.Add(p.source.Stop())
		p.source = nil
	}
	if p.sink != nil {
		errs.Add(p.sink.Close())
		p.sink = nil
	}
	if p.encoder != nil {
		errs.Add(p.encoder.Close())
		p.encoder = nil
	}
	return errs.ErrorOrNil()
}

func (p *fragmentProcessor) close() error {
	err := p.closeOutput()
	if errDec := p.decoder.Close(); errDec != nil {
		kva.Logger().Warnf("Failed to close decoder (fragment:%s): %v", p.fragmentNumber, errDec)
	}
	return err
}
