// Command micclient is a reference microphone client: it captures audio
// from the default input device and streams it to a streamcore server
// over a websocket, printing partial and final transcriptions as they
// arrive. It reconnects with backoff if the connection drops.
package main

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/coder/websocket"

	"github.com/streamcore/streamcore/internal/miccapture"
	"github.com/streamcore/streamcore/internal/resilience"
)

const (
	sampleRate      = 16000
	framesPerBuffer = 1600 // 100ms at 16kHz
)

func main() {
	url := flag.String("url", "ws://localhost:9090/ws", "streamcore server websocket URL")
	token := flag.String("token", "", "auth token, if the server requires one")
	flag.Parse()

	if *token != "" {
		*url = *url + "?token=" + *token
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutdown signal received")
		cancel()
	}()

	capturer, err := miccapture.NewCapturer(sampleRate, framesPerBuffer)
	if err != nil {
		slog.Error("failed to open microphone", "error", err)
		os.Exit(1)
	}
	defer capturer.Stop()

	if err := capturer.Start(ctx); err != nil {
		slog.Error("failed to start microphone capture", "error", err)
		os.Exit(1)
	}

	breaker := resilience.New(resilience.DefaultConfig()).WithHook(func(from, to resilience.State) {
		slog.Info("reconnect breaker transition", "from", from, "to", to)
	})

	err = resilience.Retry(ctx, resilience.StreamRetryConfig(), func() error {
		return breaker.Execute(func() error {
			return runSession(ctx, *url, capturer.Output())
		})
	})
	if err != nil && ctx.Err() == nil {
		slog.Error("session ended", "error", err)
		os.Exit(1)
	}
}

type inboundFrame struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	Model   string `json:"model"`
	Message string `json:"message"`
}

// runSession dials the server, streams frames from mic until ctx is
// cancelled or the connection drops, and prints every partial/final
// transcription frame it receives. Its return error is fed back through
// resilience.Retry to decide whether to reconnect.
func runSession(ctx context.Context, url string, mic <-chan miccapture.Frame) error {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	readErrCh := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				readErrCh <- err
				return
			}

			var frame inboundFrame
			if err := json.Unmarshal(data, &frame); err != nil {
				continue
			}
			switch frame.Type {
			case "ready":
				slog.Info("session ready", "model", frame.Model)
			case "partial":
				slog.Info("partial", "text", frame.Text)
			case "final":
				slog.Info("final", "text", frame.Text)
			case "error":
				readErrCh <- errAdmission(frame.Message)
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErrCh:
			return err
		case frame, ok := <-mic:
			if !ok {
				return nil
			}
			if err := conn.Write(ctx, websocket.MessageBinary, encodePCM16LE(frame.Samples)); err != nil {
				return err
			}
		}
	}
}

func encodePCM16LE(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

type admissionError string

func (e admissionError) Error() string { return string(e) }

func errAdmission(msg string) error { return admissionError(msg) }
