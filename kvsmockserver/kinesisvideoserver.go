// Copyright 2020 SEQSENSE, Inc.
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

// Package kvsmockserver is an in-process Kinesis Video Streams API server
// for tests.
package kvsmockserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"time"

	"github.com/at-wat/ebml-go"
	kva "github.com/seqsense/kvsannotator"
)

type KinesisVideoServer struct {
	*httptest.Server
	fragments       map[uint64]FragmentTest
	streams         map[string]int32
	blockTime       time.Duration
	producerOrigin  float64
	serverOrigin    float64
	dataEndpointErr bool
	mu              sync.Mutex

	putMediaHook                func(uint64, *FragmentTest, http.ResponseWriter) bool
	getMediaForFragmentListHook func([]string, http.ResponseWriter) bool
}

type KinesisVideoServerOption func(*KinesisVideoServer)

func WithBlockTime(blockTime time.Duration) KinesisVideoServerOption {
	return func(s *KinesisVideoServer) {
		s.blockTime = blockTime
	}
}

func WithPutMediaHook(h func(uint64, *FragmentTest, http.ResponseWriter) bool) KinesisVideoServerOption {
	return func(s *KinesisVideoServer) {
		s.putMediaHook = h
	}
}

// WithGetMediaForFragmentListHook registers a hook called before serving
// GetMediaForFragmentList. Returning false skips the default response.
func WithGetMediaForFragmentListHook(h func([]string, http.ResponseWriter) bool) KinesisVideoServerOption {
	return func(s *KinesisVideoServer) {
		s.getMediaForFragmentListHook = h
	}
}

// WithTimestampOrigin sets the producer and server timestamps in seconds of
// the fragment registered at cluster timecode 0.
func WithTimestampOrigin(producer, server float64) KinesisVideoServerOption {
	return func(s *KinesisVideoServer) {
		s.producerOrigin = producer
		s.serverOrigin = server
	}
}

// WithDataEndpointError makes GetDataEndpoint fail.
func WithDataEndpointError() KinesisVideoServerOption {
	return func(s *KinesisVideoServer) {
		s.dataEndpointErr = true
	}
}

// WithStream registers an existing stream.
func WithStream(name string, retentionHours int32) KinesisVideoServerOption {
	return func(s *KinesisVideoServer) {
		s.streams[name] = retentionHours
	}
}

func NewKinesisVideoServer(opts ...KinesisVideoServerOption) *KinesisVideoServer {
	s := &KinesisVideoServer{
		fragments: make(map[uint64]FragmentTest),
		streams:   make(map[string]int32),
	}
	for _, opt := range opts {
		opt(s)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/getDataEndpoint", s.getDataEndpoint)
	mux.HandleFunc("/describeStream", s.describeStream)
	mux.HandleFunc("/createStream", s.createStream)
	mux.HandleFunc("/putMedia", s.putMedia)
	mux.HandleFunc("/listFragments", s.listFragments)
	mux.HandleFunc("/getMediaForFragmentList", s.getMediaForFragmentList)
	s.Server = httptest.NewServer(mux)
	return s
}

// FragmentNumberFromTimecode returns the fragment number assigned to the
// fragment registered at the cluster timecode.
func FragmentNumberFromTimecode(timecode uint64) string {
	return fmt.Sprintf("9134385233375400937141249386220411277217%07d", timecode)
}

func (s *KinesisVideoServer) GetFragment(timecode uint64) (FragmentTest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fragment, ok := s.fragments[timecode]
	return fragment, ok
}

// Fragments returns stored fragments sorted by cluster timecode.
func (s *KinesisVideoServer) Fragments() []FragmentTest {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ret []FragmentTest
	for _, f := range s.fragments {
		ret = append(ret, f)
	}
	sort.Slice(ret, func(i, j int) bool {
		return ret[i].Cluster.Timecode < ret[j].Cluster.Timecode
	})
	return ret
}

func (s *KinesisVideoServer) RegisterFragment(fragment FragmentTest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fragments[fragment.Cluster.Timecode] = fragment
}

// RetentionHours returns the retention of a created stream.
func (s *KinesisVideoServer) RetentionHours(name string) (int32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.streams[name]
	return h, ok
}

func (s *KinesisVideoServer) timestamps(timecode uint64) (producer, server float64) {
	sec := float64(timecode) / 1000
	return s.producerOrigin + sec, s.serverOrigin + sec
}

func writeError(w http.ResponseWriter, status int, errType, msg string) {
	w.Header().Set("X-Amzn-Errortype", errType)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"message": %q}`, msg)
}

func (s *KinesisVideoServer) getDataEndpoint(w http.ResponseWriter, r *http.Request) {
	if s.dataEndpointErr {
		writeError(w, 404, "ResourceNotFoundException", "stream not found")
		return
	}
	fmt.Fprintf(w, `{"DataEndpoint": "%s"}`, s.URL)
}

func (s *KinesisVideoServer) describeStream(w http.ResponseWriter, r *http.Request) {
	in := &streamInput{}
	if err := json.NewDecoder(r.Body).Decode(in); err != nil {
		writeError(w, 400, "InvalidArgumentException", err.Error())
		return
	}
	s.mu.Lock()
	h, ok := s.streams[in.StreamName]
	s.mu.Unlock()
	if !ok {
		writeError(w, 404, "ResourceNotFoundException", "stream not found")
		return
	}
	json.NewEncoder(w).Encode(&describeStreamOutput{
		StreamInfo: streamInfo{
			StreamName:           in.StreamName,
			StreamARN:            streamARN(in.StreamName),
			DataRetentionInHours: h,
			Status:               "ACTIVE",
		},
	})
}

func (s *KinesisVideoServer) createStream(w http.ResponseWriter, r *http.Request) {
	in := &streamInput{}
	if err := json.NewDecoder(r.Body).Decode(in); err != nil {
		writeError(w, 400, "InvalidArgumentException", err.Error())
		return
	}
	s.mu.Lock()
	s.streams[in.StreamName] = in.DataRetentionInHours
	s.mu.Unlock()
	json.NewEncoder(w).Encode(&createStreamOutput{StreamARN: streamARN(in.StreamName)})
}

func (s *KinesisVideoServer) putMedia(w http.ResponseWriter, r *http.Request) {
	data := &struct {
		Header  kva.EBMLHeader `ebml:"EBML"`
		Segment segment        `ebml:",size=unknown"`
	}{}

	timecodeType := kva.FragmentTimecodeType(r.Header.Get("x-amzn-fragment-timecode-type"))
	baseTimecode := uint64(0)
	if timecodeType == kva.FragmentTimecodeTypeRelative {
		startTimestamp := r.Header.Get("x-amzn-producer-start-timestamp")
		ts, err := kva.ParseTimestamp(startTimestamp)
		if err != nil {
			w.WriteHeader(500)
			fmt.Fprintf(w, "%v", err)
			return
		}
		baseTimecode = uint64(ts.UnixNano() / int64(time.Millisecond))
	}

	time.Sleep(s.blockTime)
	if err := ebml.Unmarshal(r.Body, data); err != nil {
		w.WriteHeader(500)
		fmt.Fprintf(w, "%v", err)
		return
	}

	data.Segment.Cluster.Timecode += baseTimecode
	fragment := FragmentTest{
		Tracks:  data.Segment.Tracks.TrackEntry,
		Cluster: data.Segment.Cluster,
		Tags:    data.Segment.Tags,
	}
	if s.putMediaHook != nil {
		if !s.putMediaHook(data.Segment.Cluster.Timecode, &fragment, w) {
			return
		}
	}
	s.mu.Lock()
	s.fragments[data.Segment.Cluster.Timecode] = fragment
	s.mu.Unlock()

	fmt.Fprintf(w,
		`{"EventType":"PERSISTED", "FragmentTimecode":%d, "FragmentNumber":"%s"}`,
		data.Segment.Cluster.Timecode, FragmentNumberFromTimecode(data.Segment.Cluster.Timecode),
	)
}

func (s *KinesisVideoServer) listFragments(w http.ResponseWriter, r *http.Request) {
	in := &listFragmentsInput{}
	if err := json.NewDecoder(r.Body).Decode(in); err != nil {
		writeError(w, 400, "InvalidArgumentException", err.Error())
		return
	}
	out := listFragmentsOutput{Fragments: []fragment{}}
	for _, f := range s.Fragments() {
		producer, server := s.timestamps(f.Cluster.Timecode)
		if sel := in.FragmentSelector; sel != nil && sel.TimestampRange != nil {
			ts := server
			if sel.FragmentSelectorType == "PRODUCER_TIMESTAMP" {
				ts = producer
			}
			if rng := sel.TimestampRange; (rng.StartTimestamp != nil && ts < *rng.StartTimestamp) ||
				(rng.EndTimestamp != nil && ts > *rng.EndTimestamp) {
				continue
			}
		}
		number := FragmentNumberFromTimecode(f.Cluster.Timecode)
		out.Fragments = append(out.Fragments, fragment{
			FragmentLengthInMilliseconds: f.lengthInMilliseconds(),
			FragmentNumber:               &number,
			FragmentSizeInBytes:          int64(len(f.Cluster.SimpleBlock)),
			ProducerTimestamp:            &producer,
			ServerTimestamp:              &server,
		})
	}
	if in.MaxResults != nil && int64(len(out.Fragments)) > *in.MaxResults {
		out.Fragments = out.Fragments[:*in.MaxResults]
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(&out); err != nil {
		w.WriteHeader(500)
		fmt.Fprintf(w, "%v", err)
	}
}

func (s *KinesisVideoServer) getMediaForFragmentList(w http.ResponseWriter, r *http.Request) {
	bs, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(500)
		fmt.Fprintf(w, "%v", err)
		return
	}
	in := &getMediaForFragmentListInput{}
	if err := json.Unmarshal(bs, in); err != nil {
		writeError(w, 400, "InvalidArgumentException", err.Error())
		return
	}
	if s.getMediaForFragmentListHook != nil {
		if !s.getMediaForFragmentListHook(in.Fragments, w) {
			return
		}
	}

	byNumber := make(map[string]FragmentTest)
	for _, f := range s.Fragments() {
		byNumber[FragmentNumberFromTimecode(f.Cluster.Timecode)] = f
	}

	buf := bytes.NewBuffer(nil)
	for _, number := range in.Fragments {
		f, ok := byNumber[number]
		if !ok {
			writeError(w, 404, "ResourceNotFoundException", "fragment "+number+" not found")
			return
		}
		producer, server := s.timestamps(f.Cluster.Timecode)
		tracks := f.Tracks
		if len(tracks) == 0 {
			tracks = []kva.TrackEntry{DefaultTrack}
		}
		tags := []kva.Tag{{SimpleTag: []kva.SimpleTag{
			{TagName: kva.TagNameFragmentNumber, TagString: number},
			{TagName: kva.TagNameServerTimestamp, TagString: fmt.Sprintf("%.3f", server)},
			{TagName: kva.TagNameProducerTimestamp, TagString: fmt.Sprintf("%.3f", producer)},
		}}}
		tags = append(tags, f.Tags.Tag...)

		data := &struct {
			Header  kva.EBMLHeader `ebml:"EBML"`
			Segment segment        `ebml:",size=unknown"`
		}{}
		data.Header.EBMLDocType = "matroska"
		data.Segment.Tracks = kva.Tracks{TrackEntry: tracks}
		data.Segment.Tags = TagsTest{Tag: tags}
		data.Segment.Cluster = f.Cluster
		if err := ebml.Marshal(data, buf); err != nil {
			w.WriteHeader(500)
			fmt.Fprintf(w, "%v", err)
			return
		}
	}
	w.Header().Set("Content-Type", "video/webm")
	w.Write(buf.Bytes())
}

// DefaultTrack is served for fragments registered without tracks.
var DefaultTrack = kva.TrackEntry{
	Name:        "kinesis_video",
	TrackNumber: 1,
	TrackUID:    1,
	CodecID:     kva.CodecIDH264,
	TrackType:   kva.TrackTypeVideo,
}

type segment struct {
	Info    kva.Info
	Tracks  kva.Tracks
	Tags    TagsTest
	Cluster ClusterTest `ebml:",size=unknown"`
}

type FragmentTest struct {
	Tracks  []kva.TrackEntry
	Cluster ClusterTest
	Tags    TagsTest
}

func (f FragmentTest) lengthInMilliseconds() int64 {
	var max int16
	for _, b := range f.Cluster.SimpleBlock {
		if b.Timecode > max {
			max = b.Timecode
		}
	}
	return int64(max)
}

type ClusterTest struct {
	Timecode    uint64
	Position    uint64 `ebml:",omitempty"`
	SimpleBlock []ebml.Block
}

type TagsTest struct {
	Tag []kva.Tag
}
