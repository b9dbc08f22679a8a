//go:build whisper

package transcribe

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/streamcore/streamcore/internal/trace"
)

// WhisperTranscriber loads one whisper.cpp model and hands out one
// long-lived whisper.Context per Open call — the pool holds these for the
// entire lifetime of a session, unlike a stateless per-call transcription
// helper, since re-creating a context on every inference is the expensive
// operation this whole scheduler exists to avoid.
type WhisperTranscriber struct {
	model whisper.Model
}

// NewWhisperTranscriber loads the model at modelPath.
func NewWhisperTranscriber(modelPath string) (*WhisperTranscriber, error) {
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("whisper model not found at %s", modelPath)
	}

	model, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load whisper model: %w", err)
	}

	trace.Logger(context.Background()).Info("whisper model loaded", "path", modelPath)
	return &WhisperTranscriber{model: model}, nil
}

// Open creates one whisper.Context to be held exclusively by a ContextPool
// slot for a session's lifetime.
func (wt *WhisperTranscriber) Open(_ context.Context, _ string, opts Options) (Context, error) {
	wctx, err := wt.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("failed to create whisper context: %w", err)
	}
	if opts.NumThreads > 0 {
		wctx.SetThreads(uint(opts.NumThreads))
	}
	return wctx, nil
}

// Close releases resources held by the context. whisper.cpp's Go bindings
// tie context lifetime to the model, so this is a no-op beyond dropping
// the reference; the model itself is closed by CloseModel at shutdown.
func (wt *WhisperTranscriber) Close(_ Context) error {
	return nil
}

// CloseModel releases the underlying whisper model. Called once at
// process shutdown after every ContextPool slot has been closed.
func (wt *WhisperTranscriber) CloseModel() error {
	return wt.model.Close()
}

// Transcribe runs one inference pass over samples using the given context.
func (wt *WhisperTranscriber) Transcribe(_ context.Context, c Context, samples []float32, opts TranscribeOptions) ([]string, error) {
	wctx, ok := c.(whisper.Context)
	if !ok {
		return nil, fmt.Errorf("transcribe: context is not a whisper.Context")
	}

	if opts.Language != "" {
		_ = wctx.SetLanguage(opts.Language)
	}
	wctx.SetTranslate(opts.Translate)
	if opts.NumThreads > 0 {
		wctx.SetThreads(uint(opts.NumThreads))
	}
	wctx.SetSplitOnWord(false)

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whisper process failed: %w", err)
	}

	var segments []string
	for {
		segment, err := wctx.NextSegment()
		if err != nil {
			break
		}
		text := strings.TrimSpace(segment.Text)
		if text != "" {
			segments = append(segments, text)
		}
		if opts.SingleSegment {
			break
		}
	}
	return segments, nil
}
