package framesource

import (
	"fmt"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// Frame is one camera frame handed to the pipeline. The pipeline borrows
// it for the duration of a processing call; ownership stays with whoever
// took it from the mailbox, who must Close it when done.
type Frame struct {
	Gray      gocv.Mat
	Color     gocv.Mat // optional; may be the empty Mat
	Width     int
	Height    int
	Timestamp time.Time
	Sequence  int64

	hasColor bool
}

// NewFrame wraps a grayscale Mat, taking ownership of it. Color starts as
// the empty Mat; strategies that need it are skipped until one is attached.
func NewFrame(gray gocv.Mat, seq int64) *Frame {
	return &Frame{
		Gray:      gray,
		Color:     gocv.NewMat(),
		Width:     gray.Cols(),
		Height:    gray.Rows(),
		Timestamp: time.Now(),
		Sequence:  seq,
		hasColor:  true,
	}
}

// WithColor attaches a color plane, taking ownership of it.
func (f *Frame) WithColor(color gocv.Mat) *Frame {
	if f.hasColor {
		f.Color.Close()
	}
	f.Color = color
	f.hasColor = true
	return f
}

// HasColor reports whether a non-empty color plane is attached.
func (f *Frame) HasColor() bool {
	return f.hasColor && !f.Color.Empty()
}

// Close releases the frame's buffers.
func (f *Frame) Close() {
	f.Gray.Close()
	if f.hasColor {
		f.Color.Close()
		f.hasColor = false
	}
}

// Mailbox is a single-slot latest-wins frame handoff. A new frame
// overwrites (and releases) any frame the worker has not picked up yet, so
// at most one detection cycle's worth of backlog ever exists and a slow
// device degrades to a lower frame rate instead of growing a queue.
type Mailbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	slot   *Frame
	closed bool

	dropped int64
}

func NewMailbox() *Mailbox {
	m := &Mailbox{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Put deposits a frame, displacing and closing any undelivered one.
// Returns an error after Close; the caller keeps ownership of the frame in
// that case.
func (m *Mailbox) Put(f *Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("mailbox closed")
	}
	if m.slot != nil {
		m.slot.Close()
		m.dropped++
	}
	m.slot = f
	m.cond.Signal()
	return nil
}

// TakeLatest blocks until a frame is available or the mailbox is closed.
// The returned frame is owned by the caller. ok is false after Close once
// the slot has drained.
func (m *Mailbox) TakeLatest() (f *Frame, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for m.slot == nil && !m.closed {
		m.cond.Wait()
	}
	if m.slot == nil {
		return nil, false
	}
	f = m.slot
	m.slot = nil
	return f, true
}

// Dropped returns how many frames were displaced before delivery.
func (m *Mailbox) Dropped() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

// Close shuts the mailbox and releases any undelivered frame. Blocked
// TakeLatest callers return with ok=false.
func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	if m.slot != nil {
		m.slot.Close()
		m.slot = nil
	}
	m.cond.Broadcast()
}
