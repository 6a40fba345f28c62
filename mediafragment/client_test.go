// Copyright 2025 SEQSENSE, Inc.
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

package mediafragment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/at-wat/ebml-go"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/google/go-cmp/cmp"

	kva "github.com/seqsense/kvsannotator"
	kvsm "github.com/seqsense/kvsannotator/kvsmockserver"
)

func newClient(t *testing.T, server *kvsm.KinesisVideoServer) *Client {
	t.Helper()
	cfg := aws.Config{
		Credentials:  credentials.NewStaticCredentialsProvider("key", "secret", "token"),
		Region:       "ap-northeast-1",
		BaseEndpoint: aws.String(server.URL),
	}
	cli, err := New(kva.StreamName("test-stream"), cfg)
	if err != nil {
		t.Fatalf("Failed to create new client: %v", err)
	}
	return cli
}

func TestListFragments(t *testing.T) {
	var serverTimestampOrigin float64 = 100
	server := kvsm.NewKinesisVideoServer(kvsm.WithTimestampOrigin(0, serverTimestampOrigin))
	defer server.Close()

	cli := newClient(t, server)
	ctx := context.Background()

	assertNumFragments := func(t *testing.T, num int, opt ListFragmentsOption) {
		t.Helper()
		list, err := cli.ListFragments(ctx, opt)
		if err != nil {
			t.Fatal(err)
		}
		if n := len(list.Fragments); n != num {
			t.Fatalf("Expected %d fragments, got %d fragments", num, n)
		}
	}

	assertNumFragments(t, 0, WithServerTimestampRange(time.Unix(102, 0), time.Unix(103, 0)))
	assertNumFragments(t, 0, WithProducerTimestampRange(time.Unix(2, 0), time.Unix(3, 0)))

	testData := []kvsm.FragmentTest{
		{Cluster: kvsm.ClusterTest{Timecode: 1000}},
		{Cluster: kvsm.ClusterTest{Timecode: 2000}},
		{Cluster: kvsm.ClusterTest{Timecode: 3000}},
		{Cluster: kvsm.ClusterTest{Timecode: 4000}},
	}
	for _, f := range testData {
		server.RegisterFragment(f)
	}

	assertNumFragments(t, 2, WithServerTimestampRange(time.Unix(102, 0), time.Unix(103, 0)))
	assertNumFragments(t, 2, WithProducerTimestampRange(time.Unix(2, 0), time.Unix(3, 0)))

	t.Run("ListAllFragments", func(t *testing.T) {
		list, err := cli.ListAllFragments(ctx, WithServerTimestampRange(time.Unix(100, 0), time.Unix(110, 0)))
		if err != nil {
			t.Fatal(err)
		}
		expected := []string{
			kvsm.FragmentNumberFromTimecode(1000),
			kvsm.FragmentNumberFromTimecode(2000),
			kvsm.FragmentNumberFromTimecode(3000),
			kvsm.FragmentNumberFromTimecode(4000),
		}
		if diff := cmp.Diff(expected, list.FragmentIDs()); diff != "" {
			t.Errorf("Unexpected fragment IDs: %s", diff)
		}
	})
}

type blockWithNumber struct {
	FragmentNumber string
	Timecode       int64
	KeyFrame       bool
	Data           []byte
}

func TestGetMediaForFragmentList(t *testing.T) {
	var serverTimestampOrigin float64 = 100
	server := kvsm.NewKinesisVideoServer(kvsm.WithTimestampOrigin(0, serverTimestampOrigin))
	defer server.Close()

	cli := newClient(t, server)

	newBlock := func(timecode int16, key bool) ebml.Block {
		return ebml.Block{
			TrackNumber: 1,
			Timecode:    timecode,
			Keyframe:    key,
			Data:        [][]byte{{0xaa, 0xbb, 0xcc}},
		}
	}
	testData := []kvsm.FragmentTest{
		{Cluster: kvsm.ClusterTest{
			Timecode:    1000,
			SimpleBlock: []ebml.Block{newBlock(0, true), newBlock(100, false)},
		}},
		{Cluster: kvsm.ClusterTest{
			Timecode:    2000,
			SimpleBlock: []ebml.Block{newBlock(10, true), newBlock(110, false)},
		}},
		{Cluster: kvsm.ClusterTest{
			Timecode:    3000,
			SimpleBlock: []ebml.Block{newBlock(20, true), newBlock(120, false)},
		}},
		{Cluster: kvsm.ClusterTest{
			Timecode:    4000,
			SimpleBlock: []ebml.Block{newBlock(30, true), newBlock(130, false)},
		}},
	}
	for _, f := range testData {
		server.RegisterFragment(f)
	}

	t.Run("All", func(t *testing.T) {
		var blocks []blockWithNumber
		var tracks []*TrackMetadata
		err := cli.GetMediaForFragmentList(context.Background(),
			[]string{kvsm.FragmentNumberFromTimecode(2000), kvsm.FragmentNumberFromTimecode(3000)},
			FrameVisitorFunc(func(f *Frame) error {
				blocks = append(blocks, blockWithNumber{
					FragmentNumber: f.FragmentNumber,
					Timecode:       f.Timecode,
					KeyFrame:       f.KeyFrame,
					Data:           f.Data,
				})
				tracks = append(tracks, f.Track)
				return nil
			}), func(err error) {
				t.Error(err)
			})
		if err != nil {
			t.Fatal(err)
		}

		data := []byte{0xaa, 0xbb, 0xcc}
		expectedBlocks := []blockWithNumber{
			{FragmentNumber: kvsm.FragmentNumberFromTimecode(2000), Timecode: 2010, KeyFrame: true, Data: data},
			{FragmentNumber: kvsm.FragmentNumberFromTimecode(2000), Timecode: 2110, Data: data},
			{FragmentNumber: kvsm.FragmentNumberFromTimecode(3000), Timecode: 3020, KeyFrame: true, Data: data},
			{FragmentNumber: kvsm.FragmentNumberFromTimecode(3000), Timecode: 3120, Data: data},
		}
		if diff := cmp.Diff(expectedBlocks, blocks); diff != "" {
			t.Errorf("Unexpected blocks: %s", diff)
		}
		for i, tr := range tracks {
			if tr == nil || tr.CodecID != kva.CodecIDH264 {
				t.Errorf("Unexpected track of block %d: %+v", i, tr)
			}
		}
	})

	t.Run("Abort", func(t *testing.T) {
		errAbort := errors.New("abort")
		var n int
		err := cli.GetMediaForFragmentList(context.Background(),
			[]string{kvsm.FragmentNumberFromTimecode(1000), kvsm.FragmentNumberFromTimecode(2000)},
			FrameVisitorFunc(func(f *Frame) error {
				n++
				return errAbort
			}), func(err error) {
				t.Error(err)
			})
		if !errors.Is(err, errAbort) {
			t.Errorf("Expected %v, got %v", errAbort, err)
		}
		if n != 1 {
			t.Errorf("Visitor must not be called after abort, called %d times", n)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		err := cli.GetMediaForFragmentList(context.Background(),
			[]string{"1"},
			FrameVisitorFunc(func(f *Frame) error {
				t.Error("Unexpected frame")
				return nil
			}), func(err error) {
				t.Error(err)
			})
		if err == nil {
			t.Error("Expected error")
		}
	})
}

func TestReadFrames_ProducerTimestamp(t *testing.T) {
	server := kvsm.NewKinesisVideoServer(kvsm.WithTimestampOrigin(1600000000, 1600000010))
	defer server.Close()
	server.RegisterFragment(kvsm.FragmentTest{Cluster: kvsm.ClusterTest{
		Timecode:    1500,
		SimpleBlock: []ebml.Block{{
			TrackNumber: 1, Keyframe: true, Data: [][]byte{{0x01}},
		}},
	}})

	var frames []*Frame
	err := newClient(t, server).GetMediaForFragmentList(context.Background(),
		[]string{kvsm.FragmentNumberFromTimecode(1500)},
		FrameVisitorFunc(func(f *Frame) error {
			frames = append(frames, f)
			return nil
		}), func(err error) {
			t.Error(err)
		})
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 1 {
		t.Fatalf("Expected 1 frame, got %d", len(frames))
	}
	if ts := frames[0].ProducerTimestamp; !ts.Equal(time.Unix(1600000001, 500000000)) {
		t.Errorf("Unexpected producer timestamp %v", ts)
	}
	if ts := frames[0].ServerTimestamp; !ts.Equal(time.Unix(1600000011, 500000000)) {
		t.Errorf("Unexpected server timestamp %v", ts)
	}
}
