//go:build !whisper

package transcribe

import (
	"context"
	"fmt"
)

// WhisperTranscriber is a stand-in for the CGO-backed implementation when
// the binary is built without the "whisper" tag. Every call fails with a
// clear message rather than silently returning empty transcriptions.
type WhisperTranscriber struct{}

// NewWhisperTranscriber always fails on a binary built without whisper
// support.
func NewWhisperTranscriber(modelPath string) (*WhisperTranscriber, error) {
	return nil, fmt.Errorf("whisper transcription disabled (build with -tags whisper to enable)")
}

func (wt *WhisperTranscriber) Open(_ context.Context, _ string, _ Options) (Context, error) {
	return nil, fmt.Errorf("whisper transcription disabled (build with -tags whisper to enable)")
}

func (wt *WhisperTranscriber) Close(_ Context) error { return nil }

func (wt *WhisperTranscriber) CloseModel() error { return nil }

func (wt *WhisperTranscriber) Transcribe(_ context.Context, _ Context, _ []float32, _ TranscribeOptions) ([]string, error) {
	return nil, fmt.Errorf("whisper transcription disabled (build with -tags whisper to enable)")
}
