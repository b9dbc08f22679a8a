// Package config loads and validates the server's runtime configuration
// from environment variables, with an optional CLI flag layer that
// overrides them.
package config

import (
	"flag"
	"os"
	"strconv"

	"github.com/streamcore/streamcore/internal/errors"
)

// Config holds every recognized server option.
type Config struct {
	ModelPath   string
	VadModelPath string // empty disables VAD
	Language    string
	Translate   bool

	Host      string
	Port      int
	AuthToken string // empty disables the token check

	NContexts int
	NThreads  int
	UseGPU    bool
	FlashAttn bool

	StepMs           int
	LengthMs         int
	KeepMs           int
	VadCheckMs       int
	SilenceTriggerMs int
	MinSpeechMs      int
	VadThreshold     float64

	MaxRetainSeconds float64

	LogLevel          string
	ShutdownTimeoutMs int
	MetricsAddr       string
}

// Load reads Config from the environment, applying the documented
// defaults for anything unset.
func Load() *Config {
	return &Config{
		ModelPath:    getEnv("MODEL_PATH", "models/ggml-base.en.bin"),
		VadModelPath: getEnv("VAD_MODEL_PATH", ""),
		Language:     getEnv("LANGUAGE", "en"),
		Translate:    getEnvBool("TRANSLATE", false),

		Host:      getEnv("HOST", "0.0.0.0"),
		Port:      getEnvInt("PORT", 9090),
		AuthToken: getEnv("AUTH_TOKEN", ""),

		NContexts: getEnvInt("N_CONTEXTS", 2),
		NThreads:  getEnvInt("N_THREADS", 4),
		UseGPU:    getEnvBool("USE_GPU", true),
		FlashAttn: getEnvBool("FLASH_ATTN", true),

		StepMs:           getEnvInt("STEP_MS", 500),
		LengthMs:         getEnvInt("LENGTH_MS", 5000),
		KeepMs:           getEnvInt("KEEP_MS", 200),
		VadCheckMs:       getEnvInt("VAD_CHECK_MS", 30),
		SilenceTriggerMs: getEnvInt("SILENCE_TRIGGER_MS", 1000),
		MinSpeechMs:      getEnvInt("MIN_SPEECH_MS", 100),
		VadThreshold:     getEnvFloat("VAD_THRESHOLD", 0.5),

		MaxRetainSeconds: getEnvFloat("MAX_RETAIN_SECONDS", 30),

		LogLevel:          getEnv("LOG_LEVEL", "info"),
		ShutdownTimeoutMs: getEnvInt("SHUTDOWN_TIMEOUT_MS", 5000),
		MetricsAddr:       getEnv("METRICS_ADDR", ""),
	}
}

// ParseFlags overlays CLI flags onto cfg, mirroring the reference
// command-line tool's option names one for one. Flags left unset on the
// command line do not touch the corresponding field, so environment
// values still apply.
func (c *Config) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("streamcore-server", flag.ContinueOnError)

	model := fs.String("model", c.ModelPath, "path to whisper model")
	modelShort := fs.String("m", c.ModelPath, "shorthand for -model")
	port := fs.Int("port", c.Port, "port to listen on")
	portShort := fs.Int("p", c.Port, "shorthand for -port")
	contexts := fs.Int("contexts", c.NContexts, "number of parallel contexts")
	contextsShort := fs.Int("c", c.NContexts, "shorthand for -contexts")
	threads := fs.Int("threads", c.NThreads, "threads per inference")
	threadsShort := fs.Int("t", c.NThreads, "shorthand for -threads")
	language := fs.String("language", c.Language, "language code")
	languageShort := fs.String("l", c.Language, "shorthand for -language")
	step := fs.Int("step", c.StepMs, "inference step interval in ms")
	length := fs.Int("length", c.LengthMs, "audio context length in ms")
	keep := fs.Int("keep", c.KeepMs, "audio overlap in ms")
	noGPU := fs.Bool("no-gpu", !c.UseGPU, "disable GPU acceleration")
	translate := fs.Bool("translate", c.Translate, "translate to English")
	vadModel := fs.String("vad-model", c.VadModelPath, "path to VAD calibration file (enables VAD)")
	vadThreshold := fs.Float64("vad-threshold", c.VadThreshold, "speech probability threshold 0.0-1.0")
	vadSilence := fs.Int("vad-silence", c.SilenceTriggerMs, "silence duration to trigger final, in ms")

	if err := fs.Parse(args); err != nil {
		return err
	}

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if set["model"] {
		c.ModelPath = *model
	} else if set["m"] {
		c.ModelPath = *modelShort
	}
	if set["port"] {
		c.Port = *port
	} else if set["p"] {
		c.Port = *portShort
	}
	if set["contexts"] {
		c.NContexts = *contexts
	} else if set["c"] {
		c.NContexts = *contextsShort
	}
	if set["threads"] {
		c.NThreads = *threads
	} else if set["t"] {
		c.NThreads = *threadsShort
	}
	if set["language"] {
		c.Language = *language
	} else if set["l"] {
		c.Language = *languageShort
	}
	if set["step"] {
		c.StepMs = *step
	}
	if set["length"] {
		c.LengthMs = *length
	}
	if set["keep"] {
		c.KeepMs = *keep
	}
	if set["no-gpu"] {
		c.UseGPU = !*noGPU
	}
	if set["translate"] {
		c.Translate = *translate
	}
	if set["vad-model"] {
		c.VadModelPath = *vadModel
	}
	if set["vad-threshold"] {
		c.VadThreshold = *vadThreshold
	}
	if set["vad-silence"] {
		c.SilenceTriggerMs = *vadSilence
	}

	return nil
}

// Validate rejects out-of-range or missing required values, returning an
// errors.ConfigInvalid error describing the first problem found.
func (c *Config) Validate() error {
	if c.ModelPath == "" {
		return errors.New(errors.ConfigInvalid, "model_path must not be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.Newf(errors.ConfigInvalid, "port %d out of range", c.Port)
	}
	if c.NContexts < 1 {
		return errors.Newf(errors.ConfigInvalid, "n_contexts must be at least 1, got %d", c.NContexts)
	}
	if c.NThreads < 1 {
		return errors.Newf(errors.ConfigInvalid, "n_threads must be at least 1, got %d", c.NThreads)
	}
	if c.VadThreshold < 0 || c.VadThreshold > 1 {
		return errors.Newf(errors.ConfigInvalid, "vad_threshold %f out of range [0,1]", c.VadThreshold)
	}
	if c.StepMs <= 0 || c.LengthMs <= 0 || c.KeepMs < 0 || c.VadCheckMs <= 0 {
		return errors.New(errors.ConfigInvalid, "step_ms, length_ms, vad_check_ms must be positive and keep_ms non-negative")
	}
	if c.KeepMs >= c.LengthMs {
		return errors.New(errors.ConfigInvalid, "keep_ms must be less than length_ms")
	}
	if c.SilenceTriggerMs <= 0 || c.MinSpeechMs < 0 {
		return errors.New(errors.ConfigInvalid, "silence_trigger_ms must be positive and min_speech_ms non-negative")
	}
	if c.MaxRetainSeconds <= 0 {
		return errors.Newf(errors.ConfigInvalid, "max_retain_seconds must be positive, got %f", c.MaxRetainSeconds)
	}
	return nil
}

// VadEnabled reports whether a SpeechDetector should be configured: the
// operator opted in by pointing vad_model_path at a calibration file.
func (c *Config) VadEnabled() bool {
	return c.VadModelPath != ""
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return def
}
