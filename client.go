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

package kvsannotator

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/kinesisvideo"
	kvtypes "github.com/aws/aws-sdk-go-v2/service/kinesisvideo/types"
)

const signingName = "kinesisvideo"

type Client struct {
	kv          *kinesisvideo.Client
	signer      *v4.Signer
	credentials aws.CredentialsProvider
	region      string
}

func New(cfg aws.Config, optFns ...func(*kinesisvideo.Options)) (*Client, error) {
	if cfg.Credentials == nil {
		return nil, &ConfigurationError{Field: "credentials", Err: errors.New("no credentials provider")}
	}
	if cfg.Region == "" {
		return nil, &ConfigurationError{Field: "region", Err: errors.New("region is empty")}
	}
	return &Client{
		kv:          kinesisvideo.NewFromConfig(cfg, optFns...),
		signer:      v4.NewSigner(),
		credentials: cfg.Credentials,
		region:      cfg.Region,
	}, nil
}

// DataEndpoint returns the data plane endpoint serving apiName for the stream.
func (c *Client) DataEndpoint(ctx context.Context, streamID StreamID, apiName kvtypes.APIName) (string, error) {
	ep, err := c.kv.GetDataEndpoint(ctx,
		&kinesisvideo.GetDataEndpointInput{
			APIName:    apiName,
			StreamName: streamID.StreamName(),
			StreamARN:  streamID.StreamARN(),
		},
	)
	if err != nil {
		return "", fmt.Errorf("getting %s endpoint of %s: %w", apiName, streamID, err)
	}
	if ep.DataEndpoint == nil {
		return "", fmt.Errorf("no %s endpoint returned for %s", apiName, streamID)
	}
	return *ep.DataEndpoint, nil
}

// EnsureStream creates the named stream with the given retention unless it
// already exists.
func (c *Client) EnsureStream(ctx context.Context, name string, retentionHours int32, mediaType string) error {
	_, err := c.kv.DescribeStream(ctx, &kinesisvideo.DescribeStreamInput{
		StreamName: aws.String(name),
	})
	if err == nil {
		return nil
	}
	var notFound *kvtypes.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return fmt.Errorf("describing stream %s: %w", name, err)
	}
	if _, err := c.kv.CreateStream(ctx, &kinesisvideo.CreateStreamInput{
		StreamName:           aws.String(name),
		DataRetentionInHours: aws.Int32(retentionHours),
		MediaType:            aws.String(mediaType),
	}); err != nil {
		return fmt.Errorf("creating stream %s: %w", name, err)
	}
	Logger().Infof("Stream created (stream:%s retentionHours:%d)", name, retentionHours)
	return nil
}

type StreamID interface {
	StreamARN() *string
	StreamName() *string
}

type streamID struct {
	arn  *string
	name *string
}

func StreamARN(arn string) StreamID {
	return &streamID{
		arn: &arn,
	}
}

func StreamName(name string) StreamID {
	return &streamID{
		name: &name,
	}
}

func (s *streamID) StreamARN() *string {
	return s.arn
}

func (s *streamID) StreamName() *string {
	return s.name
}

func (s *streamID) String() string {
	if s.name != nil {
		return *s.name
	}
	if s.arn != nil {
		return *s.arn
	}
	return "invalid_stream_id"
}
