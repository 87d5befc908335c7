package node

import (
	"sync"
	"sync/atomic"

	"github.com/fieldwatch/telemetry-collector/pkg/models"
)

// Buffer is the node's shared in-memory batch: sensor workers append
// readings under lock, and the connection loop takes a copy on each
// pulse without clearing it until the collector has acknowledged
// receipt.
type Buffer struct {
	mu       sync.Mutex
	readings []models.Reading

	ready atomic.Bool
}

// NewBuffer returns an empty Buffer. clientReady starts false, so
// sensor workers drop readings until a connection registers.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// SetReady flips the clientReady flag sensor workers gate on.
func (b *Buffer) SetReady(ready bool) {
	b.ready.Store(ready)
}

// Ready reports whether the connection has completed its handshake.
func (b *Buffer) Ready() bool {
	return b.ready.Load()
}

// Append adds a reading to the buffer, no-op if the client isn't
// ready yet.
func (b *Buffer) Append(r models.Reading) {
	if !b.Ready() {
		return
	}
	b.mu.Lock()
	b.readings = append(b.readings, r)
	b.mu.Unlock()
}

// Snapshot copies the buffer's current contents without clearing it.
// The copy is what the connection loop serializes into a pulse
// payload.
func (b *Buffer) Snapshot() []models.Reading {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.readings) == 0 {
		return nil
	}
	out := make([]models.Reading, len(b.readings))
	copy(out, b.readings)
	return out
}

// Clear removes the first snapshotLen readings. It is only called
// after DATA_RECEIVED for the batch that was snapshotted. Sensor
// workers may append between Snapshot and Clear, so the connection
// loop passes the exact count it snapshotted and anything appended
// after the snapshot carries forward to the next batch.
func (b *Buffer) Clear(snapshotLen int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if snapshotLen >= len(b.readings) {
		b.readings = b.readings[:0]
		return
	}
	b.readings = append(b.readings[:0], b.readings[snapshotLen:]...)
}

// Len reports how many readings are currently buffered.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.readings)
}
