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

// Package mediafragment reads archived fragments of a Kinesis Video stream.
package mediafragment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/at-wat/ebml-go"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesisvideo"
	kvtypes "github.com/aws/aws-sdk-go-v2/service/kinesisvideo/types"
	kvam "github.com/aws/aws-sdk-go-v2/service/kinesisvideoarchivedmedia"
	kvam_types "github.com/aws/aws-sdk-go-v2/service/kinesisvideoarchivedmedia/types"

	kva "github.com/seqsense/kvsannotator"
)

type Client struct {
	streamID kva.StreamID
	kv       *kva.Client
	cfg      aws.Config

	mu      sync.Mutex
	clients map[kvtypes.APIName]*kvam.Client
}

type FragmentError struct {
	FragmentNumber string
	Code           string
	Message        string
}

func (e *FragmentError) Error() string {
	return fmt.Sprintf("fragmentNumber:%s code:%s message:%s", e.FragmentNumber, e.Code, e.Message)
}

// New returns a client reading fragments of streamID.
// Data endpoints are resolved on first use of each API.
func New(streamID kva.StreamID, cfg aws.Config, optFns ...func(*kinesisvideo.Options)) (*Client, error) {
	kv, err := kva.New(cfg, optFns...)
	if err != nil {
		return nil, err
	}
	return &Client{
		streamID: streamID,
		kv:       kv,
		cfg:      cfg,
		clients:  make(map[kvtypes.APIName]*kvam.Client),
	}, nil
}

func (c *Client) archivedMedia(ctx context.Context, apiName kvtypes.APIName) (*kvam.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cli, ok := c.clients[apiName]; ok {
		return cli, nil
	}
	ep, err := c.kv.DataEndpoint(ctx, c.streamID, apiName)
	if err != nil {
		return nil, err
	}
	cli := kvam.NewFromConfig(c.cfg, func(o *kvam.Options) {
		o.BaseEndpoint = aws.String(ep)
	})
	c.clients[apiName] = cli
	return cli, nil
}

// ListFragments returns a page of fragments sorted by fragment number.
func (c *Client) ListFragments(ctx context.Context, opts ...ListFragmentsOption) (*ListFragmentsOutput, error) {
	cli, err := c.archivedMedia(ctx, kvtypes.APINameListFragments)
	if err != nil {
		return nil, err
	}
	input := &kvam.ListFragmentsInput{
		StreamName: c.streamID.StreamName(),
		StreamARN:  c.streamID.StreamARN(),
	}
	for _, o := range opts {
		o(input)
	}

	out, err := cli.ListFragments(ctx, input)
	if err != nil {
		return nil, err
	}

	/*
	 * Sort fragments because they are not sorted.
	 * see: https://docs.aws.amazon.com/kinesisvideostreams/latest/dg/API_reader_ListFragments.html#API_reader_ListFragments_ResponseElements
	 *  > Results are in no specific order, even across pages.
	 */
	ret := ListFragmentsOutput{ListFragmentsOutput: out}
	ret.SortByFragmentNumber()
	return &ret, nil
}

// ListAllFragments follows NextToken and returns every fragment matching
// the options, sorted by fragment number.
func (c *Client) ListAllFragments(ctx context.Context, opts ...ListFragmentsOption) (*ListFragmentsOutput, error) {
	cli, err := c.archivedMedia(ctx, kvtypes.APINameListFragments)
	if err != nil {
		return nil, err
	}
	input := &kvam.ListFragmentsInput{
		StreamName: c.streamID.StreamName(),
		StreamARN:  c.streamID.StreamARN(),
	}
	for _, o := range opts {
		o(input)
	}

	ret := ListFragmentsOutput{ListFragmentsOutput: &kvam.ListFragmentsOutput{}}
	pages := kvam.NewListFragmentsPaginator(cli, input)
	for pages.HasMorePages() {
		out, err := pages.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		ret.Fragments = append(ret.Fragments, out.Fragments...)
	}
	ret.SortByFragmentNumber()
	return &ret, nil
}

// GetMediaForFragmentList fetches the listed fragments and passes every
// block to visitor in stream order. Blocks are not accumulated.
// Fetching stops when visitor returns an error, which is returned.
// Per-fragment errors reported by Kinesis Video Streams go to errHandler.
func (c *Client) GetMediaForFragmentList(ctx context.Context, fragments []string, visitor FrameVisitor, errHandler func(error)) error {
	cli, err := c.archivedMedia(ctx, kvtypes.APINameGetMediaForFragmentList)
	if err != nil {
		return err
	}
	out, err := cli.GetMediaForFragmentList(ctx, &kvam.GetMediaForFragmentListInput{
		Fragments:  fragments,
		StreamName: c.streamID.StreamName(),
		StreamARN:  c.streamID.StreamARN(),
	})
	if err != nil {
		return err
	}
	defer out.Payload.Close()

	err = readFrames(out.Payload, visitor, errHandler)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		// HTTP response reader returns EOF to the successful read with data
		// and ebml-go return unexpected EOF.
		// https://github.com/at-wat/ebml-go/issues/193
		return nil
	}
	return err
}

// ReadFrames parses a Matroska stream of archived fragments, as returned by
// GetMediaForFragmentList, and passes every block to visitor.
func ReadFrames(r io.Reader, visitor FrameVisitor, errHandler func(error)) error {
	return readFrames(r, visitor, errHandler)
}

type abortReader struct {
	r   io.Reader
	mu  sync.Mutex
	err error
}

func (r *abortReader) Read(b []byte) (int, error) {
	r.mu.Lock()
	err := r.err
	r.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return r.r.Read(b)
}

func (r *abortReader) abort(err error) {
	r.mu.Lock()
	if r.err == nil {
		r.err = err
	}
	r.mu.Unlock()
}

func readFrames(r io.Reader, visitor FrameVisitor, errHandler func(error)) error {
	chBlock := make(chan ebml.Block)
	chTimecode := make(chan uint64)
	chTag := make(chan *kva.Tag)
	chTracks := make(chan *kva.Tracks)

	ar := &abortReader{r: r}
	var visitErr error
	done := sync.WaitGroup{}
	done.Add(1)
	go func() {
		defer done.Done()

		tracks := make(map[uint64]*TrackMetadata)
		metadata := &kva.FragmentMetadata{}
		var baseTimecode uint64
		for {
			select {
			case t := <-chTracks:
				tracks = make(map[uint64]*TrackMetadata)
				for _, e := range t.TrackEntry {
					tracks[e.TrackNumber] = newTrackMetadata(e)
				}
			case tag := <-chTag:
				if len(tag.SimpleTag) == 0 {
					continue
				}
				switch tag.SimpleTag[0].TagName {
				case kva.TagNameFragmentNumber:
					// start new fragment
					metadata = &kva.FragmentMetadata{}
					if err := parseFragmentTag(metadata, tag); err != nil {
						errHandler(err)
					}
				default:
					// Set custom tags
					if metadata.Tags == nil {
						metadata.Tags = make(map[string]kva.SimpleTag)
					}
					for _, t := range tag.SimpleTag {
						metadata.Tags[t.TagName] = t
					}
				}
			case baseTimecode = <-chTimecode:
			case block, ok := <-chBlock:
				if !ok {
					return
				}
				if visitErr != nil {
					continue
				}
				bt := &kva.BlockWithBaseTimecode{Timecode: baseTimecode, Block: block}
				f := &Frame{
					FragmentMetadata: metadata,
					Track:            tracks[block.TrackNumber],
					TrackNumber:      block.TrackNumber,
					Timecode:         bt.AbsTimecode(),
					KeyFrame:         block.Keyframe,
					Data:             joinLaced(block.Data),
				}
				if err := visitor.VisitFrame(f); err != nil {
					visitErr = err
					ar.abort(err)
				}
			}
		}
	}()

	data := &kva.Container{}
	data.Segment.Tracks = chTracks
	data.Segment.Cluster.Timecode = chTimecode
	data.Segment.Cluster.SimpleBlock = chBlock
	data.Segment.Tags.Tag = chTag
	err := ebml.Unmarshal(ar, data)
	close(chBlock)
	done.Wait()
	if visitErr != nil {
		return visitErr
	}
	return err
}

func parseFragmentTag(metadata *kva.FragmentMetadata, tag *kva.Tag) error {
	var errs []error
	var fragErr *FragmentError
	for _, t := range tag.SimpleTag {
		switch t.TagName {
		case kva.TagNameFragmentNumber:
			metadata.FragmentNumber = t.TagString
		case kva.TagNameServerTimestamp:
			ts, err := kva.ParseTimestamp(t.TagString)
			if err != nil {
				errs = append(errs, fmt.Errorf("failed to parse server timestamp (%s): %w", t.TagString, err))
			}
			metadata.ServerTimestamp = ts
		case kva.TagNameProducerTimestamp:
			ts, err := kva.ParseTimestamp(t.TagString)
			if err != nil {
				errs = append(errs, fmt.Errorf("failed to parse producer timestamp (%s): %w", t.TagString, err))
			}
			metadata.ProducerTimestamp = ts
		case kva.TagNameExceptionErrorCode:
			if fragErr == nil {
				fragErr = &FragmentError{FragmentNumber: metadata.FragmentNumber}
			}
			fragErr.Code = t.TagString
		case kva.TagNameExceptionMessage:
			if fragErr == nil {
				fragErr = &FragmentError{FragmentNumber: metadata.FragmentNumber}
			}
			fragErr.Message = t.TagString
		}
	}
	if fragErr != nil {
		errs = append(errs, fragErr)
	}
	return errors.Join(errs...)
}

func joinLaced(data [][]byte) []byte {
	if len(data) == 1 {
		return data[0]
	}
	return bytes.Join(data, nil)
}

type ListFragmentsOption func(input *kvam.ListFragmentsInput)

func WithNextToken(nextToken *string) ListFragmentsOption {
	return func(input *kvam.ListFragmentsInput) {
		input.NextToken = nextToken
	}
}

func WithServerTimestampRange(startTime, endTime time.Time) ListFragmentsOption {
	return func(input *kvam.ListFragmentsInput) {
		input.FragmentSelector = &kvam_types.FragmentSelector{
			FragmentSelectorType: kvam_types.FragmentSelectorTypeServerTimestamp,
			TimestampRange: &kvam_types.TimestampRange{
				StartTimestamp: aws.Time(startTime),
				EndTimestamp:   aws.Time(endTime),
			},
		}
	}
}

func WithProducerTimestampRange(startTime, endTime time.Time) ListFragmentsOption {
	return func(input *kvam.ListFragmentsInput) {
		input.FragmentSelector = &kvam_types.FragmentSelector{
			FragmentSelectorType: kvam_types.FragmentSelectorTypeProducerTimestamp,
			TimestampRange: &kvam_types.TimestampRange{
				StartTimestamp: aws.Time(startTime),
				EndTimestamp:   aws.Time(endTime),
			},
		}
	}
}

func WithMaxResults(maxResults int64) ListFragmentsOption {
	return func(input *kvam.ListFragmentsInput) {
		input.MaxResults = aws.Int64(maxResults)
	}
}
