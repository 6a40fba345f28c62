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

package mediafragment

import (
	"sort"

	kvam "github.com/aws/aws-sdk-go-v2/service/kinesisvideoarchivedmedia"
	kvam_types "github.com/aws/aws-sdk-go-v2/service/kinesisvideoarchivedmedia/types"
)

type ListFragmentsOutput struct {
	*kvam.ListFragmentsOutput
}

// SortByFragmentNumber sorts fragments in the order of ingestion.
// Fragment numbers are compared numerically.
func (l *ListFragmentsOutput) SortByFragmentNumber() {
	sort.Sort(SortByFragmentNumber{l})
}

func (l *ListFragmentsOutput) SortByProducerTimestamp() {
	sort.Sort(SortByProducerTimestamp{l})
}

func (l ListFragmentsOutput) Len() int {
	return len(l.Fragments)
}

func (l *ListFragmentsOutput) Swap(i, j int) {
	l.Fragments[i], l.Fragments[j] = l.Fragments[j], l.Fragments[i]
}

type SortByFragmentNumber struct {
	*ListFragmentsOutput
}

func (l SortByFragmentNumber) Less(i, j int) bool {
	a, b := *l.Fragments[i].FragmentNumber, *l.Fragments[j].FragmentNumber
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

type SortByProducerTimestamp struct {
	*ListFragmentsOutput
}

func (l SortByProducerTimestamp) Less(i, j int) bool {
	return (*l.Fragments[i].ProducerTimestamp).Before(*l.Fragments[j].ProducerTimestamp)
}

// Uniq sorts fragments by producer timestamp and keeps only the longest
// fragment of each producer timestamp. Fragments re-sent by the producer
// after a connection failure share the producer timestamp.
func (l *ListFragmentsOutput) Uniq() {
	l.SortByProducerTimestamp()
	var ret []kvam_types.Fragment
	for _, f := range l.Fragments {
		if n := len(ret); n > 0 && ret[n-1].ProducerTimestamp.Equal(*f.ProducerTimestamp) {
			if f.FragmentLengthInMilliseconds > ret[n-1].FragmentLengthInMilliseconds {
				ret[n-1] = f
			}
			continue
		}
		ret = append(ret, f)
	}
	l.Fragments = ret
}

// FragmentIDs returns the fragment numbers to be passed to
// GetMediaForFragmentList.
func (l *ListFragmentsOutput) FragmentIDs() []string {
	ret := make([]string, 0, len(l.Fragments))
	for _, f := range l.Fragments {
		ret = append(ret, *f.FragmentNumber)
	}
	return ret
}
