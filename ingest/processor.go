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

// Package ingest turns raw recognition event payloads into records of a
// recognition index.
package ingest

import (
	"context"
	"errors"
	"time"

	kva "github.com/seqsense/kvsannotator"
	"github.com/seqsense/kvsannotator/recognition"
)

const (
	DefaultRetries = 10
	DefaultBackoff = 3 * time.Second
)

// RecordStore receives decoded records.
type RecordStore interface {
	Add(*recognition.Record) error
}

// Processor stores each payload of a batch with a fixed number of attempts.
type Processor struct {
	store   RecordStore
	parse   func([]byte) (*recognition.Record, error)
	retries int
	backoff time.Duration
	sleep   func(context.Context, time.Duration) error
}

type ProcessorOption func(*Processor)

// WithRetries sets the number of attempts per payload.
func WithRetries(n int) ProcessorOption {
	return func(p *Processor) {
		p.retries = n
	}
}

// WithBackoff sets the delay after each failed attempt.
func WithBackoff(d time.Duration) ProcessorOption {
	return func(p *Processor) {
		p.backoff = d
	}
}

// WithParser replaces recognition.ParseOutput.
func WithParser(parse func([]byte) (*recognition.Record, error)) ProcessorOption {
	return func(p *Processor) {
		p.parse = parse
	}
}

func NewProcessor(store RecordStore, opts ...ProcessorOption) *Processor {
	p := &Processor{
		store:   store,
		parse:   recognition.ParseOutput,
		retries: DefaultRetries,
		backoff: DefaultBackoff,
		sleep:   sleepContext,
	}
	for _, o := range opts {
		o(p)
	}
	if p.retries < 1 {
		p.retries = 1
	}
	return p
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ProcessBatch stores every payload of the batch and returns the number of
// stored records. Undecodable payloads are skipped without retry. Payloads
// failing all attempts are dropped. Neither stops the batch.
func (p *Processor) ProcessBatch(ctx context.Context, payloads [][]byte) int {
	var n int
	for i, payload := range payloads {
		if ctx.Err() != nil {
			kva.Logger().Warnf("Batch processing canceled (stored:%d remaining:%d)", n, len(payloads)-i)
			break
		}
		if p.processWithRetries(ctx, payload) {
			n++
		}
	}
	return n
}

func (p *Processor) processWithRetries(ctx context.Context, payload []byte) bool {
	for i := 0; i < p.retries; i++ {
		err := p.processSingle(payload)
		if err == nil {
			return true
		}
		var perr *kva.IngestionParseError
		if errors.As(err, &perr) {
			kva.Logger().Warnf("Record does not match recognition output format, skipping: %v", err)
			return false
		}
		kva.Logger().Warnf("Failed to process record (attempt:%d/%d): %v", i+1, p.retries, err)

		if err := p.sleep(ctx, p.backoff); err != nil {
			kva.Logger().Warnf("Backoff interrupted: %v", err)
			break
		}
	}
	kva.Logger().Errorf("Couldn't process record %q, skipping", truncate(payload))
	return false
}

func (p *Processor) processSingle(payload []byte) error {
	rec, err := p.parse(payload)
	if err != nil {
		return err
	}
	if err := p.store.Add(rec); err != nil {
		return err
	}
	kva.Logger().Debugf("Recognition record stored (fragment:%s offset:%.3f faces:%d)",
		rec.FragmentNumber, rec.FrameOffsetInSeconds, len(rec.FaceSearchOutputs))
	return nil
}

func truncate(b []byte) []byte {
	if len(b) > 64 {
		return b[:64]
	}
	return b
}
