// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package inputbuffer supplies the payload chunks the engine packs into
// its own points. It is an external collaborator: the engine only
// needs an InputBuffer to compile and test against, so this package
// also carries a finite byte-bounded FIFO reference implementation.
package inputbuffer

import (
	"container/list"
	"sync"
)

// InputBuffer is the engine's payload source. Push is called by
// whatever feeds payloads into this node (a mempool, an RPC handler,
// a test harness); Fetch is called by the own-point production task
// once per round to pack up to maxBytes of queued payload into a point.
type InputBuffer interface {
	// Push enqueues chunk, reporting false if doing so would exceed the
	// buffer's capacity.
	Push(chunk []byte) bool
	// Fetch removes and returns queued chunks totaling at most maxBytes.
	// A chunk larger than maxBytes is returned alone, since a point must
	// carry it whole or not at all.
	Fetch(maxBytes uint32) [][]byte
	// Len reports the number of bytes currently buffered.
	Len() uint32
}

// FIFO is a byte-bounded, order-preserving InputBuffer backed by a
// doubly linked list, sized against mpconfig.ConsensusConfig's
// PayloadBufferBytes.
type FIFO struct {
	mu       sync.Mutex
	capacity uint32
	size     uint32
	chunks   *list.List
}

var _ InputBuffer = (*FIFO)(nil)

// NewFIFO returns an empty FIFO capped at capacityBytes.
func NewFIFO(capacityBytes uint32) *FIFO {
	return &FIFO{capacity: capacityBytes, chunks: list.New()}
}

// Push appends chunk to the back of the queue.
func (f *FIFO) Push(chunk []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.size+uint32(len(chunk)) > f.capacity {
		return false
	}
	f.chunks.PushBack(chunk)
	f.size += uint32(len(chunk))
	return true
}

// Fetch drains from the front of the queue until the next chunk would
// push the running total past maxBytes, always taking at least one
// chunk if the queue is non-empty.
func (f *FIFO) Fetch(maxBytes uint32) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out [][]byte
	var used uint32
	for e := f.chunks.Front(); e != nil; {
		chunk := e.Value.([]byte)
		if len(out) > 0 && used+uint32(len(chunk)) > maxBytes {
			break
		}
		next := e.Next()
		f.chunks.Remove(e)
		f.size -= uint32(len(chunk))
		out = append(out, chunk)
		used += uint32(len(chunk))
		e = next
	}
	return out
}

// Len reports the number of bytes currently buffered.
func (f *FIFO) Len() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.size
}
