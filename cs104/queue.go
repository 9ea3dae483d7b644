// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

package cs104

import (
	"sync"
	"time"
)

// entryState is the lifecycle state of a MessageQueue slot.
type entryState uint8

const (
	stateFree entryState = iota
	stateWaiting
	stateSentUnconfirmed
)

// queueEntry is one slot of a MessageQueue ring.
type queueEntry struct {
	state     entryState
	timestamp time.Time
	payload   []byte
}

// EntryPtr is an opaque handle correlating a k-buffer slot in
// MasterConnection to the MessageQueue entry it was drawn from. It carries
// the entry's timestamp so a confirmation arriving after the slot has been
// evicted and reused is recognised as stale and silently ignored.
type EntryPtr struct {
	index     int
	timestamp time.Time
}

// MessageQueue is the persistent low-priority outbound ASDU ring described
// by the redundancy group's lowQ. Entries cycle FREE -> WAITING ->
// SENT_UNCONFIRMED -> FREE. Enqueue never fails: on overflow the oldest
// live entries are evicted to make room for the new one, including ones
// still SENT_UNCONFIRMED.
type MessageQueue struct {
	mu           sync.Mutex
	entries      []queueEntry
	first        int // index of oldest live entry, -1 if empty
	last         int // index of newest live entry, -1 if empty
	entryCounter int
}

// NewMessageQueue creates a ring able to hold up to capacity entries.
// capacity must be at least 1.
func NewMessageQueue(capacity int) *MessageQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &MessageQueue{
		entries: make([]queueEntry, capacity),
		first:   -1,
		last:    -1,
	}
}

// Enqueue copies asdu into the ring as a new WAITING entry, evicting the
// oldest entries first if the ring is full. It never fails.
func (q *MessageQueue) Enqueue(payload []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.entryCounter == len(q.entries) {
		q.evictOldestLocked()
	}

	next := 0
	if q.last >= 0 {
		next = (q.last + 1) % len(q.entries)
	}
	q.entries[next] = queueEntry{
		state:     stateWaiting,
		timestamp: time.Now(),
		payload:   append([]byte(nil), payload...),
	}
	q.last = next
	if q.first < 0 {
		q.first = next
	}
	q.entryCounter++
}

func (q *MessageQueue) evictOldestLocked() {
	if q.entryCounter == 0 {
		return
	}
	q.entries[q.first].payload = nil
	q.entries[q.first].state = stateFree
	if q.entryCounter == 1 {
		q.first, q.last = -1, -1
		q.entryCounter = 0
		return
	}
	q.first = (q.first + 1) % len(q.entries)
	q.entryCounter--
}

// NextWaiting returns the oldest WAITING entry, atomically flipping it to
// SENT_UNCONFIRMED, along with an EntryPtr the caller must present back to
// MarkConfirmed once the peer acknowledges it. Returns ok=false if no
// WAITING entry exists.
func (q *MessageQueue) NextWaiting() (ptr EntryPtr, payload []byte, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.entryCounter == 0 {
		return EntryPtr{}, nil, false
	}
	idx := q.first
	for i := 0; i < q.entryCounter; i++ {
		if q.entries[idx].state == stateWaiting {
			q.entries[idx].state = stateSentUnconfirmed
			return EntryPtr{index: idx, timestamp: q.entries[idx].timestamp}, q.entries[idx].payload, true
		}
		idx = (idx + 1) % len(q.entries)
	}
	return EntryPtr{}, nil, false
}

// MarkConfirmed marks the entry referenced by ptr FREE, unless the slot has
// since been evicted and reused (detected via the timestamp mismatch).
func (q *MessageQueue) MarkConfirmed(ptr EntryPtr) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if ptr.index < 0 || ptr.index >= len(q.entries) {
		return
	}
	e := &q.entries[ptr.index]
	if e.state != stateSentUnconfirmed || !e.timestamp.Equal(ptr.timestamp) {
		return
	}
	e.state = stateFree
}

// RevertUnconfirmedToWaiting flips every SENT_UNCONFIRMED entry back to
// WAITING. Called when an active connection bound to this queue is torn
// down, so the backlog resumes delivery through the next peer to activate.
func (q *MessageQueue) RevertUnconfirmedToWaiting() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.entryCounter == 0 {
		return
	}
	idx := q.first
	for i := 0; i < q.entryCounter; i++ {
		if q.entries[idx].state == stateSentUnconfirmed {
			q.entries[idx].state = stateWaiting
		}
		idx = (idx + 1) % len(q.entries)
	}
}

// ReleaseAll empties the queue, discarding all entries.
func (q *MessageQueue) ReleaseAll() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.entries {
		q.entries[i] = queueEntry{}
	}
	q.first, q.last = -1, -1
	q.entryCounter = 0
}

// Len reports the number of occupied slots from the oldest to the newest
// entry, for tests and metrics. Confirmed (FREE) entries stay counted until
// Enqueue evicts them.
func (q *MessageQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.entryCounter
}
