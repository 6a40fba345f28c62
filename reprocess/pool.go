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

package reprocess

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	kva "github.com/seqsense/kvsannotator"
	"github.com/seqsense/kvsannotator/recognition"
)

// FragmentRunner processes one fragment. It is implemented by *Worker.
type FragmentRunner interface {
	Run(ctx context.Context, fragmentNumber string, records []*recognition.Record) error
}

// Pool runs fragments with bounded concurrency.
// A fragment is processed by at most one run at a time.
// Submit and Dispatch block while the limit is reached.
type Pool struct {
	ctx    context.Context
	runner FragmentRunner
	group  errgroup.Group
	errs   kva.MultiError

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewPool returns a Pool running at most limit fragments at once.
// Non-positive limit means no limit.
func NewPool(ctx context.Context, runner FragmentRunner, limit int) *Pool {
	p := &Pool{
		ctx:      ctx,
		runner:   runner,
		inFlight: make(map[string]struct{}),
	}
	if limit > 0 {
		p.group.SetLimit(limit)
	}
	return p
}

// Submit schedules a fragment. A failure of the fragment does not affect
// other fragments and is returned by Wait.
// It returns false without scheduling if the fragment is being processed.
func (p *Pool) Submit(fragmentNumber string, records []*recognition.Record) bool {
	if !p.acquire(fragmentNumber) {
		return false
	}
	p.start(fragmentNumber, records, nil)
	return true
}

// Dispatch submits all fragments having records in the index.
// Records of a fragment being processed are left in the index and are
// processed by another run of the fragment after the current one returns.
func (p *Pool) Dispatch(idx *recognition.Index) int {
	var n int
	for _, fn := range idx.Fragments() {
		if !p.acquire(fn) {
			continue
		}
		records := idx.Take(fn)
		if len(records) == 0 {
			p.release(fn)
			continue
		}
		p.start(fn, records, idx)
		n++
	}
	return n
}

// Wait waits for all submitted fragments and returns their errors.
func (p *Pool) Wait() error {
	_ = p.group.Wait()
	return p.errs.ErrorOrNil()
}

func (p *Pool) acquire(fragmentNumber string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.inFlight[fragmentNumber]; ok {
		return false
	}
	p.inFlight[fragmentNumber] = struct{}{}
	return true
}

func (p *Pool) release(fragmentNumber string) {
	p.mu.Lock()
	delete(p.inFlight, fragmentNumber)
	p.mu.Unlock()
}

// next takes the records added to idx during the previous run. The fragment
// is released under the same lock so that Dispatch never misses them.
func (p *Pool) next(fragmentNumber string, idx *recognition.Index) []*recognition.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	if idx != nil && p.ctx.Err() == nil {
		if records := idx.Take(fragmentNumber); len(records) > 0 {
			return records
		}
	}
	delete(p.inFlight, fragmentNumber)
	return nil
}

func (p *Pool) start(fragmentNumber string, records []*recognition.Record, idx *recognition.Index) {
	p.group.Go(func() error {
		for {
			if err := p.runner.Run(p.ctx, fragmentNumber, records); err != nil {
				kva.Logger().Errorf("Failed to process fragment (fragment:%s): %v", fragmentNumber, err)
				p.errs.Add(err)
			}
			if records = p.next(fragmentNumber, idx); records == nil {
				return nil
			}
			kva.Logger().Infof("Processing late records (fragment:%s records:%d)", fragmentNumber, len(records))
		}
	})
}
