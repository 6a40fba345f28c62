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

package mediasource

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	kva "github.com/seqsense/kvsannotator"
	"github.com/seqsense/kvsannotator/codec"
)

// ImageFileSource is a MediaSource publishing H.264 access units stored
// as files, in a loop, until stopped.
type ImageFileSource struct {
	*source
	config *ImageFileConfiguration

	done chan struct{}
	wg   sync.WaitGroup
}

func NewImageFileSource(sink Sink, opts ...SourceOption) *ImageFileSource {
	return &ImageFileSource{
		source: newSource("image-file", sink, opts),
	}
}

// Configure accepts *ImageFileConfiguration only.
func (s *ImageFileSource) Configure(c Configuration) error {
	config, ok := c.(*ImageFileConfiguration)
	if !ok {
		return &kva.InvalidConfigurationError{
			Expected: fmt.Sprintf("%T", config),
			Actual:   fmt.Sprintf("%T", c),
		}
	}
	if err := config.validate(); err != nil {
		return err
	}
	if err := s.configure(config.Dir, config.FrameRate); err != nil {
		return err
	}
	s.mu.Lock()
	s.config = config
	s.mu.Unlock()
	return nil
}

// Start starts reading the files in background.
func (s *ImageFileSource) Start() error {
	if err := s.start(); err != nil {
		return err
	}
	s.mu.Lock()
	done := make(chan struct{})
	s.done = done
	config := s.config
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(config, done)
	}()
	return nil
}

// Stop stops the source and waits until the background reader exits.
func (s *ImageFileSource) Stop() error {
	s.stop()

	s.mu.Lock()
	done := s.done
	s.done = nil
	s.mu.Unlock()
	if done != nil {
		close(done)
	}
	s.wg.Wait()
	return nil
}

// PutFrame inserts a frame between the frames read from the files.
func (s *ImageFileSource) PutFrame(data []byte, keyFrame bool) error {
	return s.putFrame(data, keyFrame)
}

func (s *ImageFileSource) run(c *ImageFileConfiguration, done chan struct{}) {
	format := c.filenameFormat()
	for i := c.StartIndex; ; i++ {
		if i > c.EndIndex {
			i = c.StartIndex
		}
		select {
		case <-done:
			return
		default:
		}

		name := filepath.Join(c.Dir, fmt.Sprintf(format, i))
		data, err := os.ReadFile(name)
		if err != nil {
			kva.Logger().Errorf("Failed to read frame file, stop reading (file:%s): %v", name, err)
			return
		}
		if err := s.putFrame(data, codec.ContainsIDR(data)); err != nil {
			var errLifecycle *kva.LifecycleError
			if errors.As(err, &errLifecycle) {
				return
			}
			kva.Logger().Warnf("Failed to put frame (file:%s): %v", name, err)
		}
	}
}
