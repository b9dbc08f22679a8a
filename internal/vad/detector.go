package vad

import (
	"context"
	"encoding/json"
	"math"
	"os"

	"github.com/streamcore/streamcore/internal/trace"
)

// DetectorOptions configures an EnergyDetector at Open time.
type DetectorOptions struct {
	NumThreads int
	UseGPU     bool
}

// Detector is the opaque handle the scheduler holds for one open speech
// detector instance.
type Detector interface{}

// SpeechDetector is the capability the scheduler consumes to score a
// window of audio for speech probability.
type SpeechDetector interface {
	Open(ctx context.Context, modelPath string, opts DetectorOptions) (Detector, error)
	Close(d Detector) error
	Probability(d Detector, samples []float32) (float32, error)
}

// calibration is the optional JSON tuning file an operator may point
// vad_model_path at: {"floor": 0.01, "ceiling": 0.08}. There is no
// whisper.cpp VAD model binding exercised anywhere in the retrieved
// dependency stacks, so this detector never loads a real ML model; the
// path is accepted for interface compatibility and, when it resolves to
// a readable file, only adjusts the RMS calibration curve below.
type calibration struct {
	Floor   float64 `json:"floor"`
	Ceiling float64 `json:"ceiling"`
}

const (
	defaultFloor   = 0.01
	defaultCeiling = 0.08
)

// EnergyDetector estimates speech probability from RMS energy, normalized
// into [0,1] between a silence floor and a speech ceiling. It never
// returns a hard boolean itself — VadStateMachine owns the threshold
// decision, per the scheduler design.
type EnergyDetector struct{}

// NewEnergyDetector returns a ready-to-use EnergyDetector.
func NewEnergyDetector() *EnergyDetector {
	return &EnergyDetector{}
}

type energyHandle struct {
	floor, ceiling float64
}

// Open loads an optional calibration file at modelPath. A missing or
// malformed file is not fatal: this detector never depended on the file
// to function, so Open logs a warning and falls back to defaults rather
// than failing outright.
func (e *EnergyDetector) Open(ctx context.Context, modelPath string, _ DetectorOptions) (Detector, error) {
	h := &energyHandle{floor: defaultFloor, ceiling: defaultCeiling}
	if modelPath == "" {
		return h, nil
	}

	data, err := os.ReadFile(modelPath)
	if err != nil {
		trace.Logger(ctx).Warn("vad calibration file unreadable, using defaults", "path", modelPath, "error", err)
		return h, nil
	}

	var cal calibration
	if err := json.Unmarshal(data, &cal); err != nil {
		trace.Logger(ctx).Warn("vad calibration file malformed, using defaults", "path", modelPath, "error", err)
		return h, nil
	}
	if cal.Floor > 0 && cal.Ceiling > cal.Floor {
		h.floor, h.ceiling = cal.Floor, cal.Ceiling
	}
	return h, nil
}

func (e *EnergyDetector) Close(_ Detector) error { return nil }

// Probability computes RMS energy over samples and normalizes it into
// [0,1] between the detector's floor and ceiling.
func (e *EnergyDetector) Probability(d Detector, samples []float32) (float32, error) {
	if len(samples) == 0 {
		return 0, nil
	}
	h := d.(*energyHandle)

	var sumSquares float64
	for _, s := range samples {
		v := float64(s)
		sumSquares += v * v
	}
	rms := math.Sqrt(sumSquares / float64(len(samples)))

	if rms <= h.floor {
		return 0, nil
	}
	if rms >= h.ceiling {
		return 1, nil
	}
	return float32((rms - h.floor) / (h.ceiling - h.floor)), nil
}
