// Package ring implements the bounded, thread-safe audio sample buffer
// each session keeps for its most recent audio: a fixed-capacity FIFO of
// float32 samples with strict head-drop once capacity is exceeded.
package ring

import "sync"

// AudioRing holds at most maxSamples float32 samples in arrival order.
// All operations are serialized by a single lock; callers always observe
// a consistent snapshot.
type AudioRing struct {
	mu         sync.Mutex
	buf        []float32
	sampleRate int
	maxSamples int
}

// New creates an AudioRing that retains at most maxSeconds of audio at
// sampleRate.
func New(sampleRate int, maxSeconds float64) *AudioRing {
	return &AudioRing{
		sampleRate: sampleRate,
		maxSamples: int(maxSeconds * float64(sampleRate)),
	}
}

// PushPCM16 normalizes each sample by dividing by 32768 (not 32767 — this
// is symmetric for the common case and intentionally off-by-one only for
// INT16_MIN) and appends, then trims to capacity by dropping the oldest
// samples.
func (r *AudioRing) PushPCM16(samples []int16) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range samples {
		r.buf = append(r.buf, float32(s)/32768.0)
	}
	r.trimLocked()
}

// PushFloat appends samples without conversion, then trims to capacity.
func (r *AudioRing) PushFloat(samples []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf = append(r.buf, samples...)
	r.trimLocked()
}

func (r *AudioRing) trimLocked() {
	if excess := len(r.buf) - r.maxSamples; excess > 0 {
		r.buf = append(r.buf[:0], r.buf[excess:]...)
	}
}

// Get copies up to max samples from the head into a fresh slice. If
// consume is true, the copied samples are removed. It returns the copied
// slice.
func (r *AudioRing) Get(max int, consume bool) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := max
	if n > len(r.buf) {
		n = len(r.buf)
	}
	out := make([]float32, n)
	copy(out, r.buf[:n])

	if consume {
		r.buf = append(r.buf[:0], r.buf[n:]...)
	}
	return out
}

// SnapshotAll returns a copy of all currently buffered samples, without
// mutating the ring.
func (r *AudioRing) SnapshotAll() []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]float32, len(r.buf))
	copy(out, r.buf)
	return out
}

// SnapshotLastMs returns the tail of the buffer spanning
// min(ms*sampleRate/1000, size) samples.
func (r *AudioRing) SnapshotLastMs(ms int) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := int((float64(ms) / 1000.0) * float64(r.sampleRate))
	if n > len(r.buf) {
		n = len(r.buf)
	}
	if n < 0 {
		n = 0
	}
	start := len(r.buf) - n
	out := make([]float32, n)
	copy(out, r.buf[start:])
	return out
}

// Clear discards all buffered samples.
func (r *AudioRing) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = r.buf[:0]
}

// Size returns the number of samples currently buffered.
func (r *AudioRing) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}

// DurationMs returns the buffered duration in milliseconds.
func (r *AudioRing) DurationMs() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return float64(len(r.buf)) * 1000.0 / float64(r.sampleRate)
}

// HasMinDuration reports whether the buffer holds at least minMs of audio.
func (r *AudioRing) HasMinDuration(minMs int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	minSamples := int((float64(minMs) / 1000.0) * float64(r.sampleRate))
	return len(r.buf) >= minSamples
}
