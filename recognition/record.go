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

// Package recognition holds face search results of Amazon Rekognition
// Video and matches them to the frames of archived fragments.
package recognition

import (
	"encoding/json"
	"errors"
	"fmt"

	kva "github.com/seqsense/kvsannotator"
)

const millisInSecond = 1000

var (
	ErrMissingFragmentNumber = errors.New("missing fragment number")
	ErrInvalidFragmentNumber = errors.New("fragment number is not numeric")
)

// BoundingBox is a face position in ratios of the frame size.
type BoundingBox struct {
	Height float64 `json:"Height"`
	Width  float64 `json:"Width"`
	Left   float64 `json:"Left"`
	Top    float64 `json:"Top"`
}

type DetectedFace struct {
	BoundingBox BoundingBox `json:"BoundingBox"`
	Confidence  float64     `json:"Confidence"`
}

// Face is a face registered in the searched collection.
type Face struct {
	BoundingBox     BoundingBox `json:"BoundingBox"`
	FaceID          string      `json:"FaceId"`
	Confidence      float64     `json:"Confidence"`
	ImageID         string      `json:"ImageId"`
	ExternalImageID string      `json:"ExternalImageId"`
}

type MatchedFace struct {
	Similarity float64 `json:"Similarity"`
	Face       Face    `json:"Face"`
}

// FaceSearchOutput pairs a detected face with the collection faces it matched.
type FaceSearchOutput struct {
	DetectedFace DetectedFace
	MatchedFaces []MatchedFace
}

// Record is the face search result of one sampled frame.
type Record struct {
	FragmentNumber    string
	ServerTimestamp   float64
	ProducerTimestamp float64
	// FrameOffsetInSeconds is the offset of the sampled frame from the
	// start of the fragment.
	FrameOffsetInSeconds float64
	DetectedTime         float64
	FaceSearchOutputs    []FaceSearchOutput
}

// FrameOffsetMillis returns FrameOffsetInSeconds in milliseconds.
func (r *Record) FrameOffsetMillis() float64 {
	return r.FrameOffsetInSeconds * millisInSecond
}

// Validate returns an error if the record can not be keyed by fragment.
func (r *Record) Validate() error {
	if r.FragmentNumber == "" {
		return ErrMissingFragmentNumber
	}
	if !isDecimal(r.FragmentNumber) {
		return fmt.Errorf("%w: %q", ErrInvalidFragmentNumber, r.FragmentNumber)
	}
	return nil
}

func isDecimal(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

type kinesisVideo struct {
	StreamArn            string  `json:"StreamArn"`
	FragmentNumber       string  `json:"FragmentNumber"`
	ServerTimestamp      float64 `json:"ServerTimestamp"`
	ProducerTimestamp    float64 `json:"ProducerTimestamp"`
	FrameOffsetInSeconds float64 `json:"FrameOffsetInSeconds"`
}

type faceSearchResponse struct {
	DetectedFace DetectedFace  `json:"DetectedFace"`
	MatchedFaces []MatchedFace `json:"MatchedFaces"`
}

type output struct {
	InputInformation struct {
		KinesisVideo kinesisVideo `json:"KinesisVideo"`
	} `json:"InputInformation"`
	FaceSearchResponse []faceSearchResponse `json:"FaceSearchResponse"`
}

// ParseOutput decodes a Rekognition Video stream processor output record.
// Undecodable payloads and records without a numeric fragment number are
// returned as *kva.IngestionParseError.
func ParseOutput(payload []byte) (*Record, error) {
	var out output
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, &kva.IngestionParseError{Payload: payload, Err: err}
	}
	kv := out.InputInformation.KinesisVideo
	rec := &Record{
		FragmentNumber:       kv.FragmentNumber,
		ServerTimestamp:      kv.ServerTimestamp,
		ProducerTimestamp:    kv.ProducerTimestamp,
		FrameOffsetInSeconds: kv.FrameOffsetInSeconds,
		DetectedTime:         kv.ServerTimestamp + kv.FrameOffsetInSeconds*millisInSecond,
	}
	if err := rec.Validate(); err != nil {
		return nil, &kva.IngestionParseError{Payload: payload, Err: err}
	}
	for _, r := range out.FaceSearchResponse {
		rec.FaceSearchOutputs = append(rec.FaceSearchOutputs, FaceSearchOutput{
			DetectedFace: r.DetectedFace,
			MatchedFaces: r.MatchedFaces,
		})
	}
	return rec, nil
}
