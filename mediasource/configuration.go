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
	"errors"
	"fmt"
	"strings"
	"time"

	kva "github.com/seqsense/kvsannotator"
)

// NALAdaptation specifies the NAL unit format of the frames given to the
// media source.
type NALAdaptation int

const (
	// NALAdaptationNone passes frames to the sink as is.
	NALAdaptationNone NALAdaptation = iota
	// NALAdaptationAnnexBNALs converts Annex B frames into length prefixed NAL units.
	NALAdaptationAnnexBNALs
)

var nalAdaptationNames = map[NALAdaptation]string{
	NALAdaptationNone:       "NONE",
	NALAdaptationAnnexBNALs: "ANNEXB_NALS",
}

func (n NALAdaptation) String() string {
	if s, ok := nalAdaptationNames[n]; ok {
		return s
	}
	return fmt.Sprintf("NALAdaptation(%d)", int(n))
}

// ParseNALAdaptation parses the name of NALAdaptation.
func ParseNALAdaptation(s string) (NALAdaptation, error) {
	for n, name := range nalAdaptationNames {
		if strings.EqualFold(s, name) {
			return n, nil
		}
	}
	return NALAdaptationNone, fmt.Errorf("unknown NAL adaptation %q", s)
}

// Configuration is a configuration of one of the media source variants.
type Configuration interface {
	validate() error
}

const (
	DefaultCameraID       = "/dev/video0"
	DefaultWidth          = 640
	DefaultHeight         = 480
	DefaultBitRate        = 200000
	DefaultRetentionHours = 1
	DefaultMimeType       = "video/avc"
)

var (
	errNotPositive = errors.New("must be positive")
	errEmpty       = errors.New("must not be empty")
)

// CameraConfiguration configures CameraSource.
type CameraConfiguration struct {
	CameraID            string
	FrameRate           int
	Width               int
	Height              int
	BitRate             int
	RetentionHours      int
	HardwareAccelerated bool
	EncodingMimeType    string
	NALAdaptation       NALAdaptation
	AbsoluteTimecode    bool
	// CodecPrivateData is the AVCDecoderConfigurationRecord of the stream.
	CodecPrivateData []byte
}

// DefaultCameraConfiguration returns a configuration of 640x480 30fps
// stream at 200kbps.
func DefaultCameraConfiguration() *CameraConfiguration {
	return &CameraConfiguration{
		CameraID:         DefaultCameraID,
		FrameRate:        DefaultFrameRate,
		Width:            DefaultWidth,
		Height:           DefaultHeight,
		BitRate:          DefaultBitRate,
		RetentionHours:   DefaultRetentionHours,
		EncodingMimeType: DefaultMimeType,
		NALAdaptation:    NALAdaptationAnnexBNALs,
	}
}

func (c *CameraConfiguration) validate() error {
	switch {
	case c.CameraID == "":
		return &kva.ConfigurationError{Field: "CameraID", Err: errEmpty}
	case c.FrameRate <= 0:
		return &kva.ConfigurationError{Field: "FrameRate", Err: errNotPositive}
	case c.Width <= 0:
		return &kva.ConfigurationError{Field: "Width", Err: errNotPositive}
	case c.Height <= 0:
		return &kva.ConfigurationError{Field: "Height", Err: errNotPositive}
	case c.BitRate <= 0:
		return &kva.ConfigurationError{Field: "BitRate", Err: errNotPositive}
	}
	return nil
}

// TrackEntry returns the Matroska track of the configured stream.
func (c *CameraConfiguration) TrackEntry() kva.TrackEntry {
	return kva.TrackEntry{
		Name:            c.CameraID,
		TrackNumber:     1,
		TrackUID:        1,
		CodecID:         kva.CodecIDH264,
		CodecName:       "H.264",
		TrackType:       kva.TrackTypeVideo,
		DefaultDuration: uint64(time.Second / time.Duration(c.FrameRate)),
		CodecPrivate:    c.CodecPrivateData,
		Video: []kva.Video{{
			PixelWidth:  uint64(c.Width),
			PixelHeight: uint64(c.Height),
		}},
	}
}

// DefaultFilenameFormat is the file name format of ImageFileConfiguration.
const DefaultFilenameFormat = "frame-%03d.h264"

// ImageFileConfiguration configures ImageFileSource.
// Files named by FilenameFormat from StartIndex to EndIndex are read
// from Dir in a loop.
type ImageFileConfiguration struct {
	Dir            string
	FilenameFormat string
	StartIndex     int
	EndIndex       int
	FrameRate      int
}

func (c *ImageFileConfiguration) validate() error {
	switch {
	case c.Dir == "":
		return &kva.ConfigurationError{Field: "Dir", Err: errEmpty}
	case c.FrameRate <= 0:
		return &kva.ConfigurationError{Field: "FrameRate", Err: errNotPositive}
	case c.EndIndex < c.StartIndex:
		return &kva.ConfigurationError{Field: "EndIndex", Err: fmt.Errorf("must not be less than StartIndex %d", c.StartIndex)}
	}
	return nil
}

func (c *ImageFileConfiguration) filenameFormat() string {
	if c.FilenameFormat == "" {
		return DefaultFilenameFormat
	}
	return c.FilenameFormat
}
