// Package scheduler drives the single background goroutine that ticks
// every session's VAD state machine, dispatches sliding-window partial
// transcriptions, and runs the finaliser when an utterance ends.
package scheduler

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/streamcore/streamcore/internal/session"
	"github.com/streamcore/streamcore/internal/trace"
	"github.com/streamcore/streamcore/internal/transcribe"
	"github.com/streamcore/streamcore/internal/vad"
)

// outboundFrame is the JSON envelope written to the wire for partial and
// final transcription results.
type outboundFrame struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func encodeFrame(frameType, text string) string {
	b, _ := json.Marshal(outboundFrame{Type: frameType, Text: text})
	return string(b)
}

const tickInterval = 10 * time.Millisecond

// Notifier is the courier-facing hook the scheduler calls once per
// outbound enqueue. Kept as a narrow interface so tests can substitute a
// recorder instead of a real courier.
type Notifier interface {
	Notify(sessionID string)
}

// Config carries the timing and inference parameters that govern one
// scheduler's tick behavior.
type Config struct {
	SampleRate       int
	StepMs           int64
	LengthMs         int64
	KeepMs           int64
	VadCheckMs       int64
	Language         string
	Translate        bool
	NumThreads       int
	VadEnabled       bool
	VadModelPath     string
	VadThreshold     float32
	SilenceTriggerMs int64
	MinSpeechMs      int64
}

// Scheduler owns the one background goroutine that drives every active
// session's speech detection and transcription.
type Scheduler struct {
	cfg         Config
	registry    *session.Registry
	transcriber transcribe.Transcriber
	detector    vad.SpeechDetector
	detectorH   vad.Detector
	detectorMu  sync.Mutex // serializes SpeechDetector calls; not assumed thread-safe
	notifier    Notifier

	lastVadTick   int64
	lastInferTick int64

	stop chan struct{}
	done chan struct{}
}

// New builds a Scheduler. If detector is nil, VAD is disabled and every
// session runs the "audio available" fallback pass instead of the state
// machine.
func New(cfg Config, registry *session.Registry, transcriber transcribe.Transcriber, detector vad.SpeechDetector, notifier Notifier) *Scheduler {
	return &Scheduler{
		cfg:         cfg,
		registry:    registry,
		transcriber: transcriber,
		detector:    detector,
		notifier:    notifier,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Start opens the speech detector (if configured) and launches the tick
// loop goroutine.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.cfg.VadEnabled && s.detector != nil {
		h, err := s.detector.Open(ctx, s.cfg.VadModelPath, vad.DetectorOptions{NumThreads: s.cfg.NumThreads})
		if err != nil {
			return err
		}
		s.detectorH = h
	}

	go s.run(ctx)
	return nil
}

// Stop signals the loop to exit and blocks until it has, then closes the
// speech detector.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done

	if s.cfg.VadEnabled && s.detector != nil && s.detectorH != nil {
		_ = s.detector.Close(s.detectorH)
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	start := time.Now()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			nowMs := time.Since(start).Milliseconds()
			s.tick(ctx, nowMs)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, nowMs int64) {
	sessions := s.registry.SnapshotActive()

	runVad := s.cfg.VadEnabled && s.detector != nil && nowMs-s.lastVadTick >= s.cfg.VadCheckMs
	if runVad {
		s.lastVadTick = nowMs
		for _, sess := range sessions {
			s.vadPass(ctx, sess, nowMs)
		}
	}

	runInfer := nowMs-s.lastInferTick >= s.cfg.StepMs
	if runInfer {
		s.lastInferTick = nowMs
		for _, sess := range sessions {
			s.inferPass(ctx, sess, nowMs)
		}
	}
}

// vadPass scores the session's most recent audio and advances its state
// machine. An empty window (nothing buffered yet this cycle) is skipped
// entirely rather than scored, since there is nothing to say anything
// about; a detector error, in contrast, is treated as probability 0
// (silence) so a single failed call degrades to "no speech" rather than
// freezing the state machine.
func (s *Scheduler) vadPass(ctx context.Context, sess *session.Session, nowMs int64) {
	window := sess.Audio.SnapshotLastMs(int(s.cfg.VadCheckMs))
	if len(window) == 0 {
		return
	}

	s.detectorMu.Lock()
	prob, err := s.detector.Probability(s.detectorH, window)
	s.detectorMu.Unlock()
	if err != nil {
		trace.Logger(ctx).Warn("vad probability failed, treating as silence", "session_id", sess.ID, "error", err)
		prob = 0
	}

	isSpeech := sess.VAD.IsSpeech(prob)
	if sess.VAD.Update(nowMs, isSpeech) {
		sess.PendingText = ""
	}
}

func (s *Scheduler) inferPass(ctx context.Context, sess *session.Session, nowMs int64) {
	if !s.cfg.VadEnabled || s.detector == nil {
		if sess.InferenceInProgress() || !sess.Audio.HasMinDuration(int(s.cfg.StepMs)) {
			return
		}
		s.runPartial(ctx, sess)
		return
	}

	switch sess.VAD.State {
	case vad.SPEAKING:
		if !sess.InferenceInProgress() {
			s.runPartial(ctx, sess)
		}
	case vad.ENDING:
		s.runFinal(ctx, sess)
	}
}

// runPartial and runFinal execute the transcriber call inline on the
// scheduler goroutine. Sessions are handled one at a time within a tick;
// BeginInference still guards against a partial from a previous tick
// still being in flight past the next one (the transcriber call can run
// longer than a single 10ms tick).
func (s *Scheduler) runPartial(ctx context.Context, sess *session.Session) {
	if !sess.BeginInference() {
		return
	}
	defer sess.EndInference()

	ctx, span := trace.StartSpan(ctx, "scheduler.partial")
	span.SetAttr("session_id", sess.ID)
	defer span.End()

	newSamples := sess.Audio.SnapshotAll()
	sess.Audio.Clear()
	if len(newSamples) == 0 {
		return
	}

	window := slideWindow(sess.WindowTail, newSamples, s.keepPlusLength())
	sess.WindowTail = window

	segments, err := s.transcriber.Transcribe(ctx, sess.ContextSlot.Ctx, window, transcribe.TranscribeOptions{
		SingleSegment: true,
		Language:      s.cfg.Language,
		Translate:     s.cfg.Translate,
		NumThreads:    s.cfg.NumThreads,
		NoContext:     true,
		NoTimestamps:  true,
	})
	if err != nil {
		trace.Logger(ctx).Warn("partial transcription failed", "session_id", sess.ID, "error", err)
		return
	}

	text := joinTrim(segments)
	if text == "" || text == sess.LastPartialText {
		return
	}

	sess.LastPartialText = text
	sess.PendingText = text
	sess.Enqueue(encodeFrame("partial", text))
	s.notifier.Notify(sess.ID)
}

func (s *Scheduler) runFinal(ctx context.Context, sess *session.Session) {
	if !sess.BeginInference() {
		return
	}
	defer sess.EndInference()

	ctx, span := trace.StartSpan(ctx, "scheduler.final")
	span.SetAttr("session_id", sess.ID)
	defer span.End()

	window := sess.WindowTail
	segments, err := s.transcriber.Transcribe(ctx, sess.ContextSlot.Ctx, window, transcribe.TranscribeOptions{
		SingleSegment: false,
		Language:      s.cfg.Language,
		Translate:     s.cfg.Translate,
		NumThreads:    s.cfg.NumThreads,
		NoContext:     true,
		NoTimestamps:  true,
	})
	if err != nil {
		trace.Logger(ctx).Warn("final transcription failed", "session_id", sess.ID, "error", err)
	} else if text := joinTrim(segments); text != "" {
		sess.Enqueue(encodeFrame("final", text))
	}

	sess.VAD.EmitFinal()
	sess.PendingText = ""
	sess.WindowTail = nil
	sess.LastPartialText = ""
	sess.Audio.Clear()

	s.notifier.Notify(sess.ID)
}

func (s *Scheduler) keepPlusLength() int {
	ms := s.cfg.KeepMs + s.cfg.LengthMs
	return int((float64(ms) / 1000.0) * float64(s.cfg.SampleRate))
}

// slideWindow builds the next inference window: up to keepPlusLength
// samples of tail context, followed by every newly arrived sample.
func slideWindow(tail, fresh []float32, keepPlusLength int) []float32 {
	upTo := keepPlusLength - len(fresh)
	if upTo < 0 {
		upTo = 0
	}
	if upTo > len(tail) {
		upTo = len(tail)
	}

	window := make([]float32, 0, upTo+len(fresh))
	window = append(window, tail[len(tail)-upTo:]...)
	window = append(window, fresh...)
	return window
}

func joinTrim(segments []string) string {
	return strings.TrimSpace(strings.Join(segments, ""))
}
