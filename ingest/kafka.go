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

package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"

	kva "github.com/seqsense/kvsannotator"
)

const (
	defaultBatchSize = 100
	defaultBatchWait = time.Second
	fetchErrorDelay  = time.Second
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// BatchHandler handles the values of a batch of messages. Messages are
// committed after the handler returns nil.
type BatchHandler func(ctx context.Context, payloads [][]byte) error

// KafkaSource reads recognition events from a Kafka topic in batches.
type KafkaSource struct {
	reader    messageReader
	batchSize int
	batchWait time.Duration
}

type KafkaSourceOption func(*KafkaSource)

// WithBatchSize sets the maximum number of messages of a batch.
func WithBatchSize(n int) KafkaSourceOption {
	return func(s *KafkaSource) {
		s.batchSize = n
	}
}

// WithBatchWait sets how long to wait for following messages after the
// first message of a batch.
func WithBatchWait(d time.Duration) KafkaSourceOption {
	return func(s *KafkaSource) {
		s.batchWait = d
	}
}

func NewKafkaSource(cfg kafka.ReaderConfig, opts ...KafkaSourceOption) *KafkaSource {
	return newKafkaSource(kafka.NewReader(cfg), opts...)
}

func newKafkaSource(r messageReader, opts ...KafkaSourceOption) *KafkaSource {
	s := &KafkaSource{
		reader:    r,
		batchSize: defaultBatchSize,
		batchWait: defaultBatchWait,
	}
	for _, o := range opts {
		o(s)
	}
	if s.batchSize < 1 {
		s.batchSize = 1
	}
	return s
}

// Run passes batches to handle until ctx is canceled or handle fails.
// The reader is closed on return.
func (s *KafkaSource) Run(ctx context.Context, handle BatchHandler) error {
	defer func() {
		if err := s.reader.Close(); err != nil {
			kva.Logger().Warnf("Failed to close kafka reader: %v", err)
		}
	}()

	for {
		msgs, err := s.fetchBatch(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			kva.Logger().Errorf("Failed to read message: %v", err)
			select {
			case <-time.After(fetchErrorDelay):
			case <-ctx.Done():
				return nil
			}
		}
		if len(msgs) == 0 {
			continue
		}

		payloads := make([][]byte, len(msgs))
		for i, m := range msgs {
			payloads[i] = m.Value
		}
		kva.Logger().Debugf("Batch received (messages:%d topic:%s)", len(msgs), msgs[0].Topic)
		if err := handle(ctx, payloads); err != nil {
			return err
		}
		if err := s.reader.CommitMessages(ctx, msgs...); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			kva.Logger().Errorf("Failed to commit messages: %v", err)
		}
	}
}

func (s *KafkaSource) fetchBatch(ctx context.Context) ([]kafka.Message, error) {
	m, err := s.reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	msgs := []kafka.Message{m}

	ctxWait, cancel := context.WithTimeout(ctx, s.batchWait)
	defer cancel()
	for len(msgs) < s.batchSize {
		m, err := s.reader.FetchMessage(ctxWait)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return msgs, nil
			}
			return msgs, err
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}
