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
	"encoding/binary"
	"errors"
)

// H.264 NAL unit types, ITU-T H.264 Table 7-1.
const (
	NALTypeSlice = 1
	NALTypeIDR   = 5
	NALTypeSEI   = 6
	NALTypeSPS   = 7
	NALTypePPS   = 8
	NALTypeAUD   = 9
)

var ErrInvalidDecoderConfig = errors.New("invalid AVCDecoderConfigurationRecord")

// NALType returns the type of a NAL unit without start code.
func NALType(nal []byte) byte {
	if len(nal) == 0 {
		return 0
	}
	return nal[0] & 0x1F
}

// SplitAnnexB splits an Annex B byte stream into NAL units without start
// codes. Both 3-byte and 4-byte start codes are recognized.
func SplitAnnexB(data []byte) [][]byte {
	n := len(data)
	type scPos struct {
		scStart   int
		dataStart int
	}
	var positions []scPos
	for i := 0; i+2 < n; {
		if data[i] == 0 && data[i+1] == 0 {
			if i+3 < n && data[i+2] == 0 && data[i+3] == 1 {
				positions = append(positions, scPos{scStart: i, dataStart: i + 4})
				i += 4
				continue
			}
			if data[i+2] == 1 {
				positions = append(positions, scPos{scStart: i, dataStart: i + 3})
				i += 3
				continue
			}
		}
		i++
	}

	var nals [][]byte
	for idx, pos := range positions {
		end := n
		if idx+1 < len(positions) {
			end = positions[idx+1].scStart
		}
		if pos.dataStart >= end {
			continue
		}
		nals = append(nals, data[pos.dataStart:end])
	}
	return nals
}

// ContainsIDR reports whether an Annex B access unit has an IDR slice.
func ContainsIDR(annexB []byte) bool {
	for _, nal := range SplitAnnexB(annexB) {
		if NALType(nal) == NALTypeIDR {
			return true
		}
	}
	return false
}

// AnnexBToAVCC converts an Annex B access unit into 4-byte length prefixed
// NAL units. SPS, PPS and AUD units are dropped since they are carried by
// the codec private data.
func AnnexBToAVCC(annexB []byte) []byte {
	nals := SplitAnnexB(annexB)
	var total int
	for _, nal := range nals {
		total += 4 + len(nal)
	}
	out := make([]byte, 0, total)
	for _, nal := range nals {
		switch NALType(nal) {
		case NALTypeSPS, NALTypePPS, NALTypeAUD:
			continue
		}
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(nal)))
		out = append(out, lenBuf[:]...)
		out = append(out, nal...)
	}
	return out
}

// ParameterSets returns the first SPS and PPS found in an Annex B stream.
func ParameterSets(annexB []byte) (sps, pps []byte) {
	for _, nal := range SplitAnnexB(annexB) {
		switch NALType(nal) {
		case NALTypeSPS:
			if sps == nil {
				sps = nal
			}
		case NALTypePPS:
			if pps == nil {
				pps = nal
			}
		}
	}
	return sps, pps
}

// BuildAVCDecoderConfig builds an AVCDecoderConfigurationRecord
// (ISO 14496-15 5.2.4.1.1) with 4-byte NAL lengths from an SPS and a PPS
// without start codes. It returns nil if sps or pps is too short.
func BuildAVCDecoderConfig(sps, pps []byte) []byte {
	if len(sps) < 4 || len(pps) == 0 {
		return nil
	}

	buf := make([]byte, 0, 11+len(sps)+len(pps))
	buf = append(buf, 1)      // configurationVersion
	buf = append(buf, sps[1]) // AVCProfileIndication
	buf = append(buf, sps[2]) // profile_compatibility
	buf = append(buf, sps[3]) // AVCLevelIndication
	buf = append(buf, 0xFF)   // lengthSizeMinusOne = 3
	buf = append(buf, 0xE1)   // numOfSequenceParameterSets = 1

	buf = append(buf, byte(len(sps)>>8), byte(len(sps)))
	buf = append(buf, sps...)

	buf = append(buf, 1) // numOfPictureParameterSets
	buf = append(buf, byte(len(pps)>>8), byte(len(pps)))
	buf = append(buf, pps...)

	return buf
}

// ParseAVCDecoderConfig returns the parameter sets of an
// AVCDecoderConfigurationRecord.
func ParseAVCDecoderConfig(b []byte) (sps, pps [][]byte, err error) {
	if len(b) < 6 || b[0] != 1 {
		return nil, nil, ErrInvalidDecoderConfig
	}
	readSets := func(pos, n int) ([][]byte, int, error) {
		var sets [][]byte
		for i := 0; i < n; i++ {
			if pos+2 > len(b) {
				return nil, 0, ErrInvalidDecoderConfig
			}
			l := int(binary.BigEndian.Uint16(b[pos:]))
			pos += 2
			if pos+l > len(b) {
				return nil, 0, ErrInvalidDecoderConfig
			}
			sets = append(sets, b[pos:pos+l])
			pos += l
		}
		return sets, pos, nil
	}
	sps, pos, err := readSets(6, int(b[5]&0x1F))
	if err != nil {
		return nil, nil, err
	}
	if pos >= len(b) {
		return nil, nil, ErrInvalidDecoderConfig
	}
	pps, _, err = readSets(pos+1, int(b[pos]))
	if err != nil {
		return nil, nil, err
	}
	return sps, pps, nil
}
