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
	"testing"

	"github.com/google/go-cmp/cmp"
)

var (
	testSPS = []byte{0x67, 0x42, 0xC0, 0x1E, 0xDA, 0x02, 0x80}
	testPPS = []byte{0x68, 0xCE, 0x3C, 0x80}
	testIDR = []byte{0x65, 0x88, 0x84, 0x21}
	testP   = []byte{0x41, 0x9A, 0x02}
)

func annexB(nals ...[]byte) []byte {
	var b []byte
	for i, nal := range nals {
		if i%2 == 0 {
			b = append(b, 0, 0, 0, 1)
		} else {
			b = append(b, 0, 0, 1)
		}
		b = append(b, nal...)
	}
	return b
}

func TestSplitAnnexB(t *testing.T) {
	testCases := map[string]struct {
		input    []byte
		expected [][]byte
	}{
		"Empty": {},
		"NoStartCode": {
			input: []byte{0x65, 0x88},
		},
		"MixedStartCodes": {
			input:    annexB(testSPS, testPPS, testIDR),
			expected: [][]byte{testSPS, testPPS, testIDR},
		},
		"EmptyNAL": {
			input:    append([]byte{0, 0, 0, 1}, annexB(testP)...),
			expected: [][]byte{testP},
		},
	}
	for name, tt := range testCases {
		tt := tt
		t.Run(name, func(t *testing.T) {
			if diff := cmp.Diff(tt.expected, SplitAnnexB(tt.input)); diff != "" {
				t.Errorf("Unexpected NAL units: %s", diff)
			}
		})
	}
}

func TestContainsIDR(t *testing.T) {
	if !ContainsIDR(annexB(testSPS, testPPS, testIDR)) {
		t.Error("IDR access unit must be detected")
	}
	if ContainsIDR(annexB(testP)) {
		t.Error("P slice must not be detected as IDR")
	}
}

func TestAnnexBToAVCC(t *testing.T) {
	expected := []byte{
		0, 0, 0, 4, 0x65, 0x88, 0x84, 0x21,
		0, 0, 0, 3, 0x41, 0x9A, 0x02,
	}
	actual := AnnexBToAVCC(annexB([]byte{0x09, 0xF0}, testSPS, testPPS, testIDR, testP))
	if diff := cmp.Diff(expected, actual); diff != "" {
		t.Errorf("Unexpected AVCC: %s", diff)
	}
}

func TestAVCDecoderConfig(t *testing.T) {
	sps, pps := ParameterSets(annexB(testSPS, testPPS, testIDR))
	cfg := BuildAVCDecoderConfig(sps, pps)

	expected := []byte{
		0x01, 0x42, 0xC0, 0x1E, 0xFF, 0xE1,
		0x00, 0x07, 0x67, 0x42, 0xC0, 0x1E, 0xDA, 0x02, 0x80,
		0x01, 0x00, 0x04, 0x68, 0xCE, 0x3C, 0x80,
	}
	if diff := cmp.Diff(expected, cfg); diff != "" {
		t.Fatalf("Unexpected record: %s", diff)
	}

	spss, ppss, err := ParseAVCDecoderConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([][]byte{testSPS}, spss); diff != "" {
		t.Errorf("Unexpected SPS: %s", diff)
	}
	if diff := cmp.Diff([][]byte{testPPS}, ppss); diff != "" {
		t.Errorf("Unexpected PPS: %s", diff)
	}

	t.Run("Truncated", func(t *testing.T) {
		if _, _, err := ParseAVCDecoderConfig(cfg[:10]); !errors.Is(err, ErrInvalidDecoderConfig) {
			t.Errorf("Expected ErrInvalidDecoderConfig, got %v", err)
		}
	})
	t.Run("MissingPPS", func(t *testing.T) {
		if cfg := BuildAVCDecoderConfig(testSPS, nil); cfg != nil {
			t.Errorf("Expected nil, got %v", cfg)
		}
	})
}

func TestCodecPrivateFromExtraData(t *testing.T) {
	cfg := BuildAVCDecoderConfig(testSPS, testPPS)
	testCases := map[string]struct {
		extra    []byte
		expected []byte
	}{
		"Empty":  {},
		"AVCC":   {extra: cfg, expected: cfg},
		"AnnexB": {extra: annexB(testSPS, testPPS), expected: cfg},
	}
	for name, tt := range testCases {
		tt := tt
		t.Run(name, func(t *testing.T) {
			if diff := cmp.Diff(tt.expected, codecPrivateFromExtraData(tt.extra)); diff != "" {
				t.Errorf("Unexpected codec private data: %s", diff)
			}
		})
	}
}
