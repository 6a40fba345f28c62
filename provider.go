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

package kvsannotator

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	kvtypes "github.com/aws/aws-sdk-go-v2/service/kinesisvideo/types"

	"github.com/at-wat/ebml-go"

	"github.com/google/uuid"
)

const TimecodeScale = 1000000

// sha256 of an empty payload; PutMedia streams an unsigned body.
const emptyPayloadHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

const presignExpiry = 10 * time.Minute

// Provider streams Matroska clusters to a Kinesis Video stream through PutMedia.
type Provider struct {
	streamID StreamID
	endpoint string
	client   *Client
	tracks   []TrackEntry

	bufferPool sync.Pool
}

func (c *Client) Provider(ctx context.Context, streamID StreamID, tracks []TrackEntry) (*Provider, error) {
	ep, err := c.DataEndpoint(ctx, streamID, kvtypes.APINamePutMedia)
	if err != nil {
		return nil, err
	}
	return &Provider{
		streamID: streamID,
		endpoint: ep + "/putMedia",
		client:   c,
		tracks:   tracks,
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 1024))
			},
		},
	}, nil
}

// StreamID returns the destination stream.
func (p *Provider) StreamID() StreamID {
	return p.streamID
}

type PutMediaOptions struct {
	segmentUID             []byte
	title                  string
	fragmentTimecodeType   FragmentTimecodeType
	producerStartTimestamp string
	connectionTimeout      time.Duration
	httpClient             http.Client
	tags                   func() []SimpleTag
	onError                func(error)
	retryCount             int
	retryIntervalBase      time.Duration
}

type PutMediaOption func(*PutMediaOptions)

// PutMedia sends blocks received from ch until ch is closed.
// Fragment acknowledgements are sent to chResp, which is closed on return.
func (p *Provider) PutMedia(ch chan *BlockWithBaseTimecode, chResp chan FragmentEvent, opts ...PutMediaOption) {
	options := &PutMediaOptions{
		title:                  "kvsannotator.Provider",
		fragmentTimecodeType:   FragmentTimecodeTypeRelative,
		producerStartTimestamp: "0",
		connectionTimeout:      15 * time.Second,
		onError:                func(err error) { Logger().Error(err) },
	}
	for _, o := range opts {
		o(options)
	}

	chConn := make(chan *BlockChWithBaseTimecode)
	go p.splitConnections(ch, chConn, options)

	p.putSegments(chConn, chResp, options)
}

func (p *Provider) putSegments(ch chan *BlockChWithBaseTimecode, chResp chan FragmentEvent, opts *PutMediaOptions) {
	var wg sync.WaitGroup
	defer func() {
		wg.Wait()
		close(chResp)
	}()

	for seg := range ch {
		seg := seg
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := p.putMedia(seg.Timecode, seg.Block, seg.Tag, opts)
			if res != nil {
				defer res.Close()
			}
			if err != nil {
				opts.onError(err)
				return
			}

			fes, err := parseFragmentEvent(res)
			for _, fe := range fes {
				if errFe := fe.AsError(); errFe != nil {
					opts.onError(errFe)
				}
				chResp <- fe
			}
			if err != nil {
				opts.onError(fmt.Errorf("parsing fragment event: %w", err))
			}
		}()
	}
}

func (p *Provider) putMedia(baseTimecode chan uint64, ch chan ebml.Block, chTag chan *Tag, opts *PutMediaOptions) (io.ReadCloser, error) {
	segmentUUID := opts.segmentUID
	if segmentUUID == nil {
		var err error
		segmentUUID, err = uuid.New().MarshalBinary()
		if err != nil {
			return nil, err
		}
	}

	data := struct {
		Header  EBMLHeader   `ebml:"EBML"`
		Segment SegmentWrite `ebml:",size=unknown"`
	}{
		Header: EBMLHeader{
			EBMLVersion:            1,
			EBMLReadVersion:        1,
			EBMLMaxIDLength:        4,
			EBMLMaxSizeLength:      8,
			EBMLDocType:            "matroska",
			EBMLDocTypeVersion:     2,
			EBMLDocTypeReadVersion: 2,
		},
		Segment: SegmentWrite{
			Info: Info{
				SegmentUID:    segmentUUID,
				TimecodeScale: TimecodeScale,
				Title:         opts.title,
				MuxingApp:     "kvsannotator.Provider",
				WritingApp:    "kvsannotator.Provider",
			},
			Tracks: Tracks{
				TrackEntry: p.tracks,
			},
			Cluster: ClusterWrite{
				Timecode:    baseTimecode,
				SimpleBlock: ch,
			},
			Tags: Tags{
				Tag: chTag,
			},
		},
	}

	r, wOut := io.Pipe()
	w := io.Writer(wOut)
	var backup *bytes.Buffer
	if opts.retryCount > 0 {
		// Keep a copy of the whole segment even if the first connection
		// is closed in the middle.
		backup = p.bufferPool.Get().(*bytes.Buffer)
		defer p.bufferPool.Put(backup)
		backup.Reset()
		w = io.MultiWriter(&ignoreErrWriter{Writer: wOut}, backup)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ctxErr := &errContext{Context: ctx}
	go func() {
		defer func() {
			cancel()
			wOut.CloseWithError(io.EOF)
		}()

		buf := bufio.NewWriter(w)
		if err := ebml.Marshal(&data, buf); err != nil {
			ctxErr.err = fmt.Errorf("ebml marshalling: %w", err)
			return
		}
		if err := buf.Flush(); err != nil {
			ctxErr.err = fmt.Errorf("buffer flushing: %w", err)
			return
		}
	}()
	ret, err := p.putMediaRaw(ctxErr, r, opts)
	if err != nil && opts.retryCount > 0 {
		// Unblock the marshaller and wait until the whole segment is buffered.
		r.CloseWithError(err)
		<-ctx.Done()
		interval := opts.retryIntervalBase
		for i := 0; i < opts.retryCount; i++ {
			time.Sleep(interval)

			Logger().Infof("Retrying PutMedia (streamID:%s, retryCount:%d, err:%v)", p.streamID, i, err)
			ret, err = p.putMediaRaw(ctxErr, bytes.NewReader(backup.Bytes()), opts)
			if err == nil {
				break
			}
			interval *= 2
		}
	}
	return ret, err
}

type errContext struct {
	context.Context
	err error
}

func (c *errContext) Err() error {
	return c.err
}

func (p *Provider) putMediaRaw(ctx context.Context, r io.Reader, opts *PutMediaOptions) (io.ReadCloser, error) {
	req, err := http.NewRequest("POST", p.endpoint, r)
	if err != nil {
		return nil, fmt.Errorf("creating http request: %w", err)
	}
	if p.streamID.StreamName() != nil {
		req.Header.Set("x-amzn-stream-name", *p.streamID.StreamName())
	}
	if p.streamID.StreamARN() != nil {
		req.Header.Set("x-amzn-stream-arn", *p.streamID.StreamARN())
	}
	req.Header.Set("x-amzn-fragment-timecode-type", string(opts.fragmentTimecodeType))
	req.Header.Set("x-amzn-producer-start-timestamp", opts.producerStartTimestamp)

	if err := p.presign(req); err != nil {
		return nil, fmt.Errorf("presigning request: %w", err)
	}
	res, err := opts.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending http request: %w", err)
	}
	if res.StatusCode != 200 {
		body, err := io.ReadAll(res.Body)
		res.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("reading http response: %w", err)
		}
		return nil, fmt.Errorf("%d: %s", res.StatusCode, string(body))
	}
	<-ctx.Done()
	if err := ctx.Err(); err != nil {
		res.Body.Close()
		return nil, err
	}
	return res.Body, nil
}

func (p *Provider) presign(req *http.Request) error {
	ctx := context.Background()
	creds, err := p.client.credentials.Retrieve(ctx)
	if err != nil {
		return err
	}
	q := req.URL.Query()
	q.Set("X-Amz-Expires", strconv.Itoa(int(presignExpiry/time.Second)))
	req.URL.RawQuery = q.Encode()

	signedURI, signedHeaders, err := p.client.signer.PresignHTTP(
		ctx, creds, req, emptyPayloadHash,
		signingName, p.client.region, time.Now(),
		func(o *v4.SignerOptions) { o.DisableURIPathEscaping = true },
	)
	if err != nil {
		return err
	}
	u, err := url.Parse(signedURI)
	if err != nil {
		return err
	}
	req.URL = u
	for k, v := range signedHeaders {
		req.Header[k] = v
	}
	return nil
}

func WithSegmentUID(segmentUID []byte) PutMediaOption {
	return func(p *PutMediaOptions) {
		p.segmentUID = segmentUID
	}
}

func WithTitle(title string) PutMediaOption {
	return func(p *PutMediaOptions) {
		p.title = title
	}
}

func WithFragmentTimecodeType(fragmentTimecodeType FragmentTimecodeType) PutMediaOption {
	return func(p *PutMediaOptions) {
		p.fragmentTimecodeType = fragmentTimecodeType
	}
}

func WithProducerStartTimestamp(producerStartTimestamp time.Time) PutMediaOption {
	return func(p *PutMediaOptions) {
		p.producerStartTimestamp = ToTimestamp(producerStartTimestamp)
	}
}

func WithConnectionTimeout(timeout time.Duration) PutMediaOption {
	return func(p *PutMediaOptions) {
		p.connectionTimeout = timeout
	}
}

func WithHttpClient(client http.Client) PutMediaOption {
	return func(p *PutMediaOptions) {
		p.httpClient = client
	}
}

func WithTags(tags func() []SimpleTag) PutMediaOption {
	return func(p *PutMediaOptions) {
		p.tags = tags
	}
}

func OnError(onError func(error)) PutMediaOption {
	return func(p *PutMediaOptions) {
		p.onError = onError
	}
}

func WithPutMediaRetry(count int, intervalBase time.Duration) PutMediaOption {
	return func(p *PutMediaOptions) {
		p.retryCount = count
		p.retryIntervalBase = intervalBase
	}
}
