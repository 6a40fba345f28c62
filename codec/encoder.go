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

package codec

import (
	"errors"
	"fmt"
	"image"

	"github.com/asticode/go-astiav"

	kva "github.com/seqsense/kvsannotator"
)

var ErrSizeMismatch = errors.New("image size differs from encoder size")

// hardwareEncoders are tried in order when hardware acceleration is requested.
var hardwareEncoders = []string{"h264_nvenc", "h264_qsv", "h264_vaapi", "h264_videotoolbox"}

// EncodedFrame is an Annex B access unit.
type EncodedFrame struct {
	Data     []byte
	KeyFrame bool
	// CodecPrivate is the AVCDecoderConfigurationRecord of the encoder.
	// It is set only on the first frame returned after NewEncoder.
	CodecPrivate []byte
}

type encoderOptions struct {
	frameRate   int
	bitRate     int64
	encoderName string
	hardware    bool
}

type EncoderOption func(*encoderOptions)

func WithFrameRate(fps int) EncoderOption {
	return func(o *encoderOptions) {
		o.frameRate = fps
	}
}

func WithBitRate(bps int64) EncoderOption {
	return func(o *encoderOptions) {
		o.bitRate = bps
	}
}

// WithEncoderName selects an FFmpeg encoder by name, e.g. "libopenh264".
func WithEncoderName(name string) EncoderOption {
	return func(o *encoderOptions) {
		o.encoderName = name
	}
}

// WithHardwareAcceleration prefers a hardware H.264 encoder if one is
// available. The software encoder is used otherwise.
func WithHardwareAcceleration(enable bool) EncoderOption {
	return func(o *encoderOptions) {
		o.hardware = enable
	}
}

// Encoder encodes RGBA images of a fixed size into H.264.
type Encoder struct {
	width, height int

	codecCtx *astiav.CodecContext
	srcFrame *astiav.Frame
	yuvFrame *astiav.Frame
	packet   *astiav.Packet
	scaler   *astiav.SoftwareScaleContext

	buf     []byte
	pts     int64
	cpd     []byte
	cpdSent bool
}

func findEncoder(opts *encoderOptions) *astiav.Codec {
	if opts.encoderName != "" {
		return astiav.FindEncoderByName(opts.encoderName)
	}
	if opts.hardware {
		for _, name := range hardwareEncoders {
			if c := astiav.FindEncoderByName(name); c != nil {
				return c
			}
		}
		kva.Logger().Warn("No hardware H.264 encoder available, falling back to software encoder")
	}
	if c := astiav.FindEncoderByName("libx264"); c != nil {
		return c
	}
	return astiav.FindEncoder(astiav.CodecIDH264)
}

// NewEncoder opens an encoder for width x height images.
func NewEncoder(width, height int, opts ...EncoderOption) (*Encoder, error) {
	if width <= 0 || height <= 0 {
		return nil, &kva.ConfigurationError{
			Field: "resolution",
			Err:   fmt.Errorf("invalid size %dx%d", width, height),
		}
	}
	options := &encoderOptions{
		frameRate: 30,
		bitRate:   200000,
	}
	for _, o := range opts {
		o(options)
	}

	e := &Encoder{
		width:  width,
		height: height,
		buf:    make([]byte, 0, width*height*6),
	}
	if err := e.open(options); err != nil {
		e.Close()
		return nil, &kva.EncodeError{Err: err}
	}
	return e, nil
}

func (e *Encoder) open(opts *encoderOptions) error {
	c := findEncoder(opts)
	if c == nil {
		return errors.New("H.264 encoder not found")
	}
	cc := astiav.AllocCodecContext(c)
	if cc == nil {
		return errors.New("allocating codec context")
	}
	e.codecCtx = cc
	cc.SetWidth(e.width)
	cc.SetHeight(e.height)
	cc.SetPixelFormat(astiav.PixelFormatYuv420P)
	cc.SetTimeBase(astiav.NewRational(1, opts.frameRate))
	cc.SetFramerate(astiav.NewRational(opts.frameRate, 1))
	cc.SetBitRate(opts.bitRate)
	cc.SetGopSize(opts.frameRate)
	cc.SetMaxBFrames(0)
	cc.SetFlags(cc.Flags().Add(astiav.CodecContextFlagGlobalHeader))

	dict := astiav.NewDictionary()
	defer dict.Free()
	if c.Name() == "libx264" {
		if err := dict.Set("preset", "ultrafast", astiav.NewDictionaryFlags()); err != nil {
			return err
		}
		if err := dict.Set("tune", "zerolatency", astiav.NewDictionaryFlags()); err != nil {
			return err
		}
	}
	if err := cc.Open(c, dict); err != nil {
		return fmt.Errorf("opening encoder %s: %w", c.Name(), err)
	}
	e.cpd = codecPrivateFromExtraData(cc.ExtraData())

	e.srcFrame = astiav.AllocFrame()
	e.srcFrame.SetWidth(e.width)
	e.srcFrame.SetHeight(e.height)
	e.srcFrame.SetPixelFormat(astiav.PixelFormatRgba)
	if err := e.srcFrame.AllocBuffer(1); err != nil {
		return fmt.Errorf("allocating source frame: %w", err)
	}
	e.yuvFrame = astiav.AllocFrame()
	e.yuvFrame.SetWidth(e.width)
	e.yuvFrame.SetHeight(e.height)
	e.yuvFrame.SetPixelFormat(astiav.PixelFormatYuv420P)
	if err := e.yuvFrame.AllocBuffer(1); err != nil {
		return fmt.Errorf("allocating encoder frame: %w", err)
	}
	e.packet = astiav.AllocPacket()

	ssc, err := astiav.CreateSoftwareScaleContext(
		e.width, e.height, astiav.PixelFormatRgba,
		e.width, e.height, astiav.PixelFormatYuv420P,
		astiav.NewSoftwareScaleContextFlags(astiav.SoftwareScaleContextFlagBilinear),
	)
	if err != nil {
		return fmt.Errorf("creating scale context: %w", err)
	}
	e.scaler = ssc
	kva.Logger().Debugf("Encoder opened (encoder:%s size:%dx%d fps:%d bitRate:%d)",
		c.Name(), e.width, e.height, opts.frameRate, opts.bitRate)
	return nil
}

// codecPrivateFromExtraData accepts both avcC and Annex B extradata.
func codecPrivateFromExtraData(extra []byte) []byte {
	if len(extra) == 0 {
		return nil
	}
	if extra[0] == 1 {
		if _, _, err := ParseAVCDecoderConfig(extra); err == nil {
			return append([]byte(nil), extra...)
		}
	}
	return BuildAVCDecoderConfig(ParameterSets(extra))
}

func (e *Encoder) Width() int  { return e.width }
func (e *Encoder) Height() int { return e.height }

// CodecPrivateData returns the AVCDecoderConfigurationRecord of the encoder,
// or nil before it is known.
func (e *Encoder) CodecPrivateData() []byte {
	return e.cpd
}

// Encode encodes one image. Errors are returned as *kva.EncodeError.
func (e *Encoder) Encode(img *image.RGBA) (*EncodedFrame, error) {
	if b := img.Bounds(); b.Dx() != e.width || b.Dy() != e.height {
		return nil, &kva.EncodeError{Err: fmt.Errorf("%w: %dx%d, expected %dx%d",
			ErrSizeMismatch, b.Dx(), b.Dy(), e.width, e.height)}
	}
	if err := e.srcFrame.MakeWritable(); err != nil {
		return nil, &kva.EncodeError{Err: err}
	}
	if err := e.srcFrame.Data().FromImage(img); err != nil {
		return nil, &kva.EncodeError{Err: fmt.Errorf("copying image: %w", err)}
	}
	if err := e.yuvFrame.MakeWritable(); err != nil {
		return nil, &kva.EncodeError{Err: err}
	}
	if err := e.scaler.ScaleFrame(e.srcFrame, e.yuvFrame); err != nil {
		return nil, &kva.EncodeError{Err: fmt.Errorf("scaling frame: %w", err)}
	}
	e.yuvFrame.SetPts(e.pts)
	e.pts++

	if err := e.codecCtx.SendFrame(e.yuvFrame); err != nil {
		return nil, &kva.EncodeError{Err: fmt.Errorf("sending frame: %w", err)}
	}

	e.buf = e.buf[:0]
	var key bool
	for {
		e.packet.Unref()
		if err := e.codecCtx.ReceivePacket(e.packet); err != nil {
			if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
				break
			}
			return nil, &kva.EncodeError{Err: fmt.Errorf("receiving packet: %w", err)}
		}
		e.buf = append(e.buf, e.packet.Data()...)
		key = key || e.packet.Flags().Has(astiav.PacketFlagKey)
	}
	if len(e.buf) == 0 {
		return nil, &kva.EncodeError{Err: ErrNoFrame}
	}

	ef := &EncodedFrame{
		Data:     append([]byte(nil), e.buf...),
		KeyFrame: key,
	}
	if e.cpd == nil {
		e.cpd = BuildAVCDecoderConfig(ParameterSets(ef.Data))
	}
	if !e.cpdSent && e.cpd != nil {
		ef.CodecPrivate = e.cpd
		e.cpdSent = true
	}
	return ef, nil
}

// Close releases the encoder. Pending frames are discarded.
func (e *Encoder) Close() error {
	if e.scaler != nil {
		e.scaler.Free()
		e.scaler = nil
	}
	if e.packet != nil {
		e.packet.Free()
		e.packet = nil
	}
	if e.yuvFrame != nil {
		e.yuvFrame.Free()
		e.yuvFrame = nil
	}
	if e.srcFrame != nil {
		e.srcFrame.Free()
		e.srcFrame = nil
	}
	if e.codecCtx != nil {
		e.codecCtx.Free()
		e.codecCtx = nil
	}
	return nil
}
