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

// Package kvsannotator re-publishes archived Kinesis Video Streams fragments
// decorated with asynchronously delivered face search results.
//
// The root package holds the Kinesis Video transport: data endpoint
// resolution, the streaming PutMedia provider and the Matroska elements
// shared by the fetch and publish paths.
package kvsannotator

const (
	TagNameFragmentNumber     = "AWS_KINESISVIDEO_FRAGMENT_NUMBER"
	TagNameServerTimestamp    = "AWS_KINESISVIDEO_SERVER_TIMESTAMP"
	TagNameProducerTimestamp  = "AWS_KINESISVIDEO_PRODUCER_TIMESTAMP"
	TagNameExceptionErrorCode = "AWS_KINESISVIDEO_EXCEPTION_ERROR_CODE"
	TagNameExceptionMessage   = "AWS_KINESISVIDEO_EXCEPTION_MESSAGE"
)

const (
	// CodecIDH264 is the Matroska codec ID of AVC video with an
	// AVCDecoderConfigurationRecord as codec private data.
	CodecIDH264 = "V_MPEG4/ISO/AVC"

	// TrackTypeVideo is the Matroska TrackType of video tracks.
	TrackTypeVideo = 1
)
