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

package recognition

import (
	"sort"
	"sync"
)

// Index stores records by fragment number until a worker takes them.
// It is safe for concurrent use. Records of a fragment keep insertion order.
type Index struct {
	mu      sync.Mutex
	records map[string][]*Record
}

func NewIndex() *Index {
	return &Index{
		records: make(map[string][]*Record),
	}
}

// Add appends rec to the list of its fragment.
func (i *Index) Add(rec *Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	i.records[rec.FragmentNumber] = append(i.records[rec.FragmentNumber], rec)
	return nil
}

// Take removes the records of the fragment from the index and returns them.
// Records added afterwards start a new list.
func (i *Index) Take(fragmentNumber string) []*Record {
	i.mu.Lock()
	defer i.mu.Unlock()
	recs := i.records[fragmentNumber]
	delete(i.records, fragmentNumber)
	return recs
}

// Len returns the number of fragments having records.
func (i *Index) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.records)
}

// Fragments returns the fragment numbers having records in ascending order.
func (i *Index) Fragments() []string {
	i.mu.Lock()
	ret := make([]string, 0, len(i.records))
	for fn := range i.records {
		ret = append(ret, fn)
	}
	i.mu.Unlock()

	sort.Slice(ret, func(a, b int) bool {
		if len(ret[a]) != len(ret[b]) {
			return len(ret[a]) < len(ret[b])
		}
		return ret[a] < ret[b]
	})
	return ret
}
