package detect

import (
	"context"
	"image"
	"sync"
	"sync/atomic"

	"scanbridge/internal/scan"
)

// BatchSink consumes detected batches; *scan.Controller is one.
type BatchSink interface {
	OnBatch(codes []scan.DetectedCode)
}

// Stats counts frames seen by a Stream.
type Stats struct {
	Received uint64 `json:"received"`
	Decoded  uint64 `json:"decoded"`
	Dropped  uint64 `json:"dropped"`
}

// Stream is the detection subscription of one scan session. Frames are only
// decoded while the stream is active. The inbox holds a single frame and a
// newer frame overwrites an undecoded older one.
type Stream struct {
	decoder Decoder
	inbox   chan image.Image
	active  atomic.Bool

	mu   sync.RWMutex
	sink BatchSink

	received atomic.Uint64
	decoded  atomic.Uint64
	dropped  atomic.Uint64
}

// NewStream creates an inactive stream decoding with decoder.
func NewStream(decoder Decoder) *Stream {
	return &Stream{
		decoder: decoder,
		inbox:   make(chan image.Image, 1),
	}
}

// Attach sets the sink batches are delivered to.
func (s *Stream) Attach(sink BatchSink) {
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()
}

// SetActive turns frame delivery on or off. Deactivating discards any frame
// still waiting in the inbox.
func (s *Stream) SetActive(active bool) {
	s.active.Store(active)
	if !active {
		s.drain()
	}
}

// Active reports whether frames are being delivered.
func (s *Stream) Active() bool {
	return s.active.Load()
}

// Publish hands a frame to the stream without blocking. It returns false when
// the stream is inactive and the frame was discarded.
func (s *Stream) Publish(img image.Image) bool {
	s.received.Add(1)
	if !s.active.Load() {
		s.dropped.Add(1)
		return false
	}
	for {
		select {
		case s.inbox <- img:
			return true
		default:
		}
		select {
		case <-s.inbox:
			s.dropped.Add(1)
		default:
		}
	}
}

// PushBatch forwards codes detected elsewhere, such as on the device itself.
func (s *Stream) PushBatch(codes []scan.DetectedCode) bool {
	if !s.active.Load() {
		return false
	}
	s.deliver(codes)
	return true
}

// Run decodes frames until ctx is cancelled.
func (s *Stream) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			s.drain()
			return ctx.Err()
		case img := <-s.inbox:
			if !s.active.Load() {
				s.dropped.Add(1)
				continue
			}
			codes := s.decoder.Detect(img)
			s.decoded.Add(1)
			s.deliver(codes)
		}
	}
}

// Stats returns the frame counters.
func (s *Stream) Stats() Stats {
	return Stats{
		Received: s.received.Load(),
		Decoded:  s.decoded.Load(),
		Dropped:  s.dropped.Load(),
	}
}

func (s *Stream) deliver(codes []scan.DetectedCode) {
	s.mu.RLock()
	sink := s.sink
	s.mu.RUnlock()
	if sink != nil {
		sink.OnBatch(codes)
	}
}

func (s *Stream) drain() {
	for {
		select {
		case <-s.inbox:
			s.dropped.Add(1)
		default:
			return
		}
	}
}
