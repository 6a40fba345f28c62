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
	"math"
	"sync"
	"time"

	"github.com/at-wat/ebml-go"
)

// Blocks are sent through a new connection when the block timecode relative
// to the cluster timecode exceeds switchConnectionTimecode. The next
// connection is prepared in advance at prepareConnectionTimecode.
const (
	prepareConnectionTimecode = 8000
	switchConnectionTimecode  = 9000
)

var immediateTimeout chan time.Time

func init() {
	immediateTimeout = make(chan time.Time)
	close(immediateTimeout)
}

type connection struct {
	*BlockChWithBaseTimecode
	baseTimecode uint64
	onceClose    sync.Once
	onceInit     sync.Once
	timeout      <-chan time.Time
}

func newConnection() *connection {
	return &connection{
		BlockChWithBaseTimecode: &BlockChWithBaseTimecode{
			Timecode: make(chan uint64, 1),
			Block:    make(chan ebml.Block),
			Tag:      make(chan *Tag, 1),
		},
		timeout: immediateTimeout,
	}
}

func (c *connection) initialize(baseTimecode uint64, opts *PutMediaOptions) {
	c.onceInit.Do(func() {
		c.baseTimecode = baseTimecode
		c.Timecode <- c.baseTimecode
		close(c.Timecode)

		if opts.tags != nil {
			c.Tag <- &Tag{SimpleTag: opts.tags()}
		}
		close(c.Tag)

		c.timeout = time.After(opts.connectionTimeout)
	})
}

func (c *connection) close() {
	// Ensure Timecode and Tag channels are closed
	c.initialize(0, &PutMediaOptions{})

	c.onceClose.Do(func() {
		close(c.Block)
	})
}

// splitConnections distributes blocks into clusters, each of them sent by
// a dedicated PutMedia connection.
func (p *Provider) splitConnections(ch chan *BlockWithBaseTimecode, chConn chan *BlockChWithBaseTimecode, opts *PutMediaOptions) {
	var conn, nextConn *connection
	defer func() {
		if conn != nil {
			conn.close()
		}
		if nextConn != nil {
			nextConn.close()
		}
		close(chConn)
	}()

	lastAbsTime := uint64(0)
	cleanConnections := func() {
		conn.close()
		conn = nil
		if nextConn != nil {
			nextConn.close()
			nextConn = nil
		}
		lastAbsTime = 0
	}
	for {
		var timeout <-chan time.Time
		if conn != nil {
			timeout = conn.timeout
		}
		select {
		case bt, ok := <-ch:
			if !ok {
				return
			}
			absTime := uint64(bt.AbsTimecode())
			if lastAbsTime != 0 {
				diff := int64(absTime - lastAbsTime)
				if diff < 0 || diff > math.MaxInt16 {
					Logger().Warnf(
						"Invalid timecode (streamID:%s timecode:%d last:%d diff:%d)",
						p.streamID, bt.AbsTimecode(), lastAbsTime, diff,
					)
					continue
				}
			}

			if conn == nil || (nextConn == nil && int16(absTime-conn.baseTimecode) > prepareConnectionTimecode) {
				Logger().Debugf("Prepare next connection (streamID:%s)", p.streamID)
				nextConn = newConnection()
				chConn <- nextConn.BlockChWithBaseTimecode
			}
			if conn == nil || int16(absTime-conn.baseTimecode) > switchConnectionTimecode {
				Logger().Debugf("Switch to next connection (streamID:%s absTime:%d)", p.streamID, absTime)
				if conn != nil {
					conn.close()
				}
				conn = nextConn
				conn.initialize(absTime, opts)
				nextConn = nil
			}
			bt.Block.Timecode = int16(absTime - conn.baseTimecode)
			select {
			case conn.Block <- bt.Block:
				lastAbsTime = absTime
			case <-conn.timeout:
				Logger().Warnf("Sending block timed out, clean connections (streamID:%s)", p.streamID)
				cleanConnections()
			}
		case <-timeout:
			Logger().Warnf("Receiving block timed out, clean connections (streamID:%s)", p.streamID)
			cleanConnections()
		}
	}
}
