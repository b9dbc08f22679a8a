// Package miccapture opens the default input device and streams fixed-size
// int16 PCM frames suitable for feeding directly to a websocket session.
package miccapture

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// Frame is one chunk of mono int16 PCM samples captured from the
// microphone at the stream's configured sample rate.
type Frame struct {
	Samples []int16
}

// Capturer owns a single portaudio input stream and emits fixed-size
// frames on Output until Stop is called.
type Capturer struct {
	stream *portaudio.Stream
	buf    []int16
	outCh  chan Frame

	mu      sync.Mutex
	running bool
}

// NewCapturer opens the default input device at sampleRate, buffering
// framesPerBuffer samples per emitted Frame.
func NewCapturer(sampleRate, framesPerBuffer int) (*Capturer, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, err
	}

	buf := make([]int16, framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), framesPerBuffer, buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, err
	}

	return &Capturer{
		stream: stream,
		buf:    buf,
		outCh:  make(chan Frame, 32),
	}, nil
}

// Output returns the channel of captured frames.
func (c *Capturer) Output() <-chan Frame { return c.outCh }

// Start begins reading from the input stream and pushing frames until ctx
// is cancelled or Stop is called.
func (c *Capturer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = true
	c.mu.Unlock()

	if err := c.stream.Start(); err != nil {
		return err
	}

	go c.readLoop(ctx)
	return nil
}

func (c *Capturer) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := c.stream.Read(); err != nil {
			slog.Debug("microphone read ended", "error", err)
			return
		}

		frame := Frame{Samples: append([]int16(nil), c.buf...)}
		select {
		case c.outCh <- frame:
		default:
			slog.Debug("mic frame buffer full, dropping frame")
		}
	}
}

// Stop stops and closes the input stream and releases portaudio.
func (c *Capturer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.running = false
	_ = c.stream.Stop()
	_ = c.stream.Close()
	_ = portaudio.Terminate()
}
