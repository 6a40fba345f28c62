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
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/google/go-cmp/cmp"

	kva "github.com/seqsense/kvsannotator"
	kvsm "github.com/seqsense/kvsannotator/kvsmockserver"
	"github.com/seqsense/kvsannotator/mediasource"
)

func newProvider(t *testing.T, server *kvsm.KinesisVideoServer, tracks []kva.TrackEntry) *kva.Provider {
	t.Helper()
	cli, err := kva.New(aws.Config{
		Credentials:  credentials.NewStaticCredentialsProvider("key", "secret", "token"),
		Region:       "ap-northeast-1",
		BaseEndpoint: aws.String(server.URL),
	})
	if err != nil {
		t.Fatalf("Failed to create new client: %v", err)
	}
	pro, err := cli.Provider(context.Background(), kva.StreamName("test-stream"), tracks)
	if err != nil {
		t.Fatalf("Failed to create new provider: %v", err)
	}
	return pro
}

func TestProviderSink(t *testing.T) {
	sps := []byte{0x00, 0x00, 0x00, 0x01, 0x67, 0x42, 0x00, 0x1e}
	idrAVCC := []byte{0x00, 0x00, 0x00, 0x04, 0x65, 0x88, 0x84, 0x21}
	sliceAVCC := []byte{0x00, 0x00, 0x00, 0x04, 0x41, 0x9a, 0x21, 0x6c}

	testCases := map[string]struct {
		nalAdaptation mediasource.NALAdaptation
		expected      [][]byte
	}{
		"AnnexB": {
			nalAdaptation: mediasource.NALAdaptationAnnexBNALs,
			expected:      [][]byte{idrAVCC, sliceAVCC, sliceAVCC},
		},
		"None": {
			nalAdaptation: mediasource.NALAdaptationNone,
			expected:      [][]byte{append(append([]byte{}, sps...), testIDR...), testSlice, testSlice},
		},
	}
	for name, tt := range testCases {
		tt := tt
		t.Run(name, func(t *testing.T) {
			server := kvsm.NewKinesisVideoServer()
			defer server.Close()

			config := newCameraConfiguration()
			pro := newProvider(t, server, []kva.TrackEntry{config.TrackEntry()})

			var mu sync.Mutex
			var events []kva.FragmentEvent
			sink := mediasource.NewProviderSink(pro,
				mediasource.WithNALAdaptation(tt.nalAdaptation),
				mediasource.WithPutMediaOptions(
					kva.WithFragmentTimecodeType(kva.FragmentTimecodeTypeAbsolute),
				),
				mediasource.OnFragmentEvent(func(fe kva.FragmentEvent) {
					mu.Lock()
					events = append(events, fe)
					mu.Unlock()
				}),
			)

			frames := []*mediasource.Frame{
				{Index: 0, Flags: mediasource.FrameFlagKeyFrame, PresentationTimestamp: 10000000, Data: append(append([]byte{}, sps...), testIDR...)},
				{Index: 1, PresentationTimestamp: 10330000, Data: testSlice},
				{Index: 2, PresentationTimestamp: 10660000, Data: testSlice},
			}
			for _, f := range frames {
				if err := sink.OnFrame(f); err != nil {
					t.Fatal(err)
				}
			}
			if err := sink.Close(); err != nil {
				t.Fatal(err)
			}
			if err := sink.Close(); err != nil {
				t.Fatal(err)
			}

			var errLifecycle *kva.LifecycleError
			if err := sink.OnFrame(frames[0]); !errors.As(err, &errLifecycle) {
				t.Errorf("Expected LifecycleError, got %v", err)
			}

			mu.Lock()
			if len(events) != 1 || events[0].EventType != "PERSISTED" {
				t.Errorf("Expected one PERSISTED event, got %+v", events)
			}
			mu.Unlock()

			f, ok := server.GetFragment(1000)
			if !ok {
				t.Fatal("Fragment not stored")
			}
			if diff := cmp.Diff([]kva.TrackEntry{config.TrackEntry()}, f.Tracks); diff != "" {
				t.Errorf("Unexpected tracks: %s", diff)
			}
			if n := len(f.Cluster.SimpleBlock); n != len(tt.expected) {
				t.Fatalf("Expected %d blocks, got %d", len(tt.expected), n)
			}
			for i, b := range f.Cluster.SimpleBlock {
				if b.Timecode != int16(i*33) {
					t.Errorf("Block %d: expected timecode %d, got %d", i, i*33, b.Timecode)
				}
				if b.Keyframe != (i == 0) {
					t.Errorf("Block %d: unexpected key frame flag %v", i, b.Keyframe)
				}
				if diff := cmp.Diff([][]byte{tt.expected[i]}, b.Data); diff != "" {
					t.Errorf("Block %d: unexpected data: %s", i, diff)
				}
			}
		})
	}
}

func TestProviderSink_PutMediaError(t *testing.T) {
	server := kvsm.NewKinesisVideoServer(
		kvsm.WithPutMediaHook(func(timecode uint64, f *kvsm.FragmentTest, w http.ResponseWriter) bool {
			w.WriteHeader(500)
			return false
		}),
	)
	defer server.Close()

	pro := newProvider(t, server, []kva.TrackEntry{newCameraConfiguration().TrackEntry()})
	sink := mediasource.NewProviderSink(pro,
		mediasource.WithPutMediaOptions(kva.WithFragmentTimecodeType(kva.FragmentTimecodeTypeAbsolute)),
	)
	if err := sink.OnFrame(&mediasource.Frame{Flags: mediasource.FrameFlagKeyFrame, PresentationTimestamp: 10000000, Data: testIDR}); err != nil {
		t.Fatal(err)
	}
	if err := sink.Close(); err == nil {
		t.Error("PutMedia error must be returned by Close")
	}
	if _, ok := server.GetFragment(1000); ok {
		t.Error("Fragment must not be stored")
	}
}
