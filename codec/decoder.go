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

// Package codec converts H.264 access units to and from RGBA images using
// FFmpeg.
package codec

import (
	"errors"
	"fmt"
	"image"

	"github.com/asticode/go-astiav"

	kva "github.com/seqsense/kvsannotator"
	"github.com/seqsense/kvsannotator/mediafragment"
)

// ErrNoFrame is returned when the codec consumed an input without
// producing an output.
var ErrNoFrame = errors.New("no frame produced")

// Picture is a decoded image and the timecode of the frame it was decoded
// from. Pictures are returned in presentation order.
type Picture struct {
	Image    *image.RGBA
	Timecode int64
}

// Decoder decodes the frames of one track into RGBA images.
// The context is created on the first frame and reused for the following
// frames of the same track.
type Decoder struct {
	codecCtx     *astiav.CodecContext
	codecPrivate []byte
	packet       *astiav.Packet
	frame        *astiav.Frame
	rgbaFrame    *astiav.Frame
	scaler       *astiav.SoftwareScaleContext
	scaleW       int
	scaleH       int
	scaleFmt     astiav.PixelFormat
}

func NewDecoder() *Decoder {
	return &Decoder{
		packet:    astiav.AllocPacket(),
		frame:     astiav.AllocFrame(),
		rgbaFrame: astiav.AllocFrame(),
	}
}

func (d *Decoder) open(track *mediafragment.TrackMetadata) error {
	if d.codecCtx != nil {
		d.codecCtx.Free()
		d.codecCtx = nil
	}
	c := astiav.FindDecoder(astiav.CodecIDH264)
	if c == nil {
		return errors.New("H.264 decoder not found")
	}
	cc := astiav.AllocCodecContext(c)
	if cc == nil {
		return errors.New("allocating codec context")
	}
	if track != nil && len(track.CodecPrivate) > 0 {
		if err := cc.SetExtraData(track.CodecPrivate); err != nil {
			cc.Free()
			return fmt.Errorf("setting codec private data: %w", err)
		}
		d.codecPrivate = track.CodecPrivate
	} else {
		d.codecPrivate = nil
	}
	cc.SetFlags(cc.Flags().Add(astiav.CodecContextFlagLowDelay))
	cc.SetThreadCount(1)
	if err := cc.Open(c, nil); err != nil {
		cc.Free()
		return fmt.Errorf("opening decoder: %w", err)
	}
	d.codecCtx = cc
	return nil
}

func (d *Decoder) needsReopen(track *mediafragment.TrackMetadata) bool {
	if d.codecCtx == nil {
		return true
	}
	if track == nil {
		return false
	}
	return string(track.CodecPrivate) != string(d.codecPrivate)
}

// Decode sends one access unit to the decoder and returns the pictures
// completed by it. Streams with reordering delay return no picture for the
// first frames; the remaining pictures are returned by Flush.
// Data must be length prefixed if the track has codec private data,
// Annex B otherwise.
// Errors are returned as *kva.DecodeError and leave the decoder usable.
func (d *Decoder) Decode(f *mediafragment.Frame) ([]*Picture, error) {
	wrap := func(err error) error {
		return &kva.DecodeError{Timecode: f.Timecode, Err: err}
	}
	if len(f.Data) == 0 {
		return nil, wrap(errors.New("empty access unit"))
	}
	if d.needsReopen(f.Track) {
		if err := d.open(f.Track); err != nil {
			return nil, wrap(err)
		}
	}

	d.packet.Unref()
	if err := d.packet.FromData(f.Data); err != nil {
		return nil, wrap(fmt.Errorf("filling packet: %w", err))
	}
	d.packet.SetPts(f.Timecode)
	d.packet.SetDts(f.Timecode)
	if f.KeyFrame {
		d.packet.SetFlags(d.packet.Flags().Add(astiav.PacketFlagKey))
	}
	if err := d.codecCtx.SendPacket(d.packet); err != nil {
		return nil, wrap(fmt.Errorf("sending packet: %w", err))
	}

	pics, err := d.receive()
	if err != nil {
		return pics, wrap(err)
	}
	return pics, nil
}

// Flush drains the pictures delayed by reordering. The next Decode starts
// a new decoder context.
func (d *Decoder) Flush() ([]*Picture, error) {
	if d.codecCtx == nil {
		return nil, nil
	}
	defer func() {
		d.codecCtx.Free()
		d.codecCtx = nil
	}()
	if err := d.codecCtx.SendPacket(nil); err != nil {
		return nil, &kva.DecodeError{Err: fmt.Errorf("flushing decoder: %w", err)}
	}
	pics, err := d.receive()
	if err != nil {
		return pics, &kva.DecodeError{Err: err}
	}
	return pics, nil
}

func (d *Decoder) receive() ([]*Picture, error) {
	var pics []*Picture
	for {
		d.frame.Unref()
		if err := d.codecCtx.ReceiveFrame(d.frame); err != nil {
			if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
				return pics, nil
			}
			return pics, fmt.Errorf("receiving frame: %w", err)
		}
		img, err := d.toRGBA(d.frame)
		if err != nil {
			return pics, err
		}
		pics = append(pics, &Picture{Image: img, Timecode: d.frame.Pts()})
	}
}

func (d *Decoder) toRGBA(src *astiav.Frame) (*image.RGBA, error) {
	w, h, pf := src.Width(), src.Height(), src.PixelFormat()
	if d.scaler == nil || d.scaleW != w || d.scaleH != h || d.scaleFmt != pf {
		if d.scaler != nil {
			d.scaler.Free()
		}
		ssc, err := astiav.CreateSoftwareScaleContext(
			w, h, pf,
			w, h, astiav.PixelFormatRgba,
			astiav.NewSoftwareScaleContextFlags(astiav.SoftwareScaleContextFlagBilinear),
		)
		if err != nil {
			d.scaler = nil
			return nil, fmt.Errorf("creating scale context: %w", err)
		}
		d.scaler, d.scaleW, d.scaleH, d.scaleFmt = ssc, w, h, pf

		d.rgbaFrame.Unref()
		d.rgbaFrame.SetWidth(w)
		d.rgbaFrame.SetHeight(h)
		d.rgbaFrame.SetPixelFormat(astiav.PixelFormatRgba)
		if err := d.rgbaFrame.AllocBuffer(1); err != nil {
			d.scaler.Free()
			d.scaler = nil
			return nil, fmt.Errorf("allocating frame buffer: %w", err)
		}
	}

	if err := d.scaler.ScaleFrame(src, d.rgbaFrame); err != nil {
		return nil, fmt.Errorf("scaling frame: %w", err)
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	if err := d.rgbaFrame.Data().ToImage(img); err != nil {
		return nil, fmt.Errorf("copying frame: %w", err)
	}
	return img, nil
}

// Close releases the decoder context.
func (d *Decoder) Close() error {
	if d.scaler != nil {
		d.scaler.Free()
		d.scaler = nil
	}
	if d.codecCtx != nil {
		d.codecCtx.Free()
		d.codecCtx = nil
	}
	if d.rgbaFrame != nil {
		d.rgbaFrame.Free()
		d.rgbaFrame = nil
	}
	if d.frame != nil {
		d.frame.Free()
		d.frame = nil
	}
	if d.packet != nil {
		d.packet.Free()
		d.packet = nil
	}
	return nil
}
