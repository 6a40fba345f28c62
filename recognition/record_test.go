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

package recognition

import (
	"errors"
	"log"
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"

	kva "github.com/seqsense/kvsannotator"
)

func init() {
	kva.SetLogger(kva.NewStdLogger(log.New(os.Stderr, "", log.Lmicroseconds), kva.LogLevelDebug))
}

const sampleOutput = `{
  "InputInformation": {
    "KinesisVideo": {
      "StreamArn": "arn:aws:kinesisvideo:us-west-2:123456789012:stream/test-stream/1510552593193",
      "FragmentNumber": "91343852333181432392682062607743920146264955718",
      "ServerTimestamp": 1510552593.455,
      "ProducerTimestamp": 1510552593.193,
      "FrameOffsetInSeconds": 2.0
    }
  },
  "StreamProcessorInformation": {"Status": "RUNNING"},
  "FaceSearchResponse": [
    {
      "DetectedFace": {
        "BoundingBox": {"Height": 0.075, "Width": 0.05625, "Left": 0.428125, "Top": 0.40833333},
        "Confidence": 99.97,
        "Landmarks": [],
        "Pose": {"Pitch": 1.2, "Roll": -0.5, "Yaw": 8.2}
      },
      "MatchedFaces": [
        {
          "Similarity": 88.5,
          "Face": {
            "BoundingBox": {"Height": 0.4, "Width": 0.3, "Left": 0.2, "Top": 0.1},
            "FaceId": "d5ad2155-3a8b-4f22-a0c1-2c0a5ba2b3c4",
            "Confidence": 99.9,
            "ImageId": "7c3b2b2a-2d8f-3d35-9bd2-b3cd4f4d2a32",
            "ExternalImageId": "alice"
          }
        }
      ]
    }
  ]
}`

func TestParseOutput(t *testing.T) {
	rec, err := ParseOutput([]byte(sampleOutput))
	if err != nil {
		t.Fatal(err)
	}
	expected := &Record{
		FragmentNumber:       "91343852333181432392682062607743920146264955718",
		ServerTimestamp:      1510552593.455,
		ProducerTimestamp:    1510552593.193,
		FrameOffsetInSeconds: 2.0,
		DetectedTime:         1510552593.455 + 2000,
		FaceSearchOutputs: []FaceSearchOutput{{
			DetectedFace: DetectedFace{
				BoundingBox: BoundingBox{Height: 0.075, Width: 0.05625, Left: 0.428125, Top: 0.40833333},
				Confidence:  99.97,
			},
			MatchedFaces: []MatchedFace{{
				Similarity: 88.5,
				Face: Face{
					BoundingBox:     BoundingBox{Height: 0.4, Width: 0.3, Left: 0.2, Top: 0.1},
					FaceID:          "d5ad2155-3a8b-4f22-a0c1-2c0a5ba2b3c4",
					Confidence:      99.9,
					ImageID:         "7c3b2b2a-2d8f-3d35-9bd2-b3cd4f4d2a32",
					ExternalImageID: "alice",
				},
			}},
		}},
	}
	if diff := cmp.Diff(expected, rec); diff != "" {
		t.Errorf("Unexpected record: %s", diff)
	}
}

func TestParseOutput_Error(t *testing.T) {
	testCases := map[string]struct {
		payload string
		err     error
	}{
		"Malformed": {
			payload: `{"InputInformation": `,
		},
		"NoFragmentNumber": {
			payload: `{"InputInformation": {"KinesisVideo": {"FrameOffsetInSeconds": 1.0}}}`,
			err:     ErrMissingFragmentNumber,
		},
		"NonNumericFragmentNumber": {
			payload: `{"InputInformation": {"KinesisVideo": {"FragmentNumber": "abc"}}}`,
			err:     ErrInvalidFragmentNumber,
		},
	}
	for name, tt := range testCases {
		tt := tt
		t.Run(name, func(t *testing.T) {
			_, err := ParseOutput([]byte(tt.payload))
			var perr *kva.IngestionParseError
			if !errors.As(err, &perr) {
				t.Fatalf("Expected IngestionParseError, got %v", err)
			}
			if string(perr.Payload) != tt.payload {
				t.Errorf("Payload must be kept, got %q", perr.Payload)
			}
			if tt.err != nil && !errors.Is(err, tt.err) {
				t.Errorf("Expected %v, got %v", tt.err, err)
			}
		})
	}
}
