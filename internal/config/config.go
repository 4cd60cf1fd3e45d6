package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type AudioConfig struct {
	DeviceHint      string  `yaml:"device_hint"`
	SampleRate      int     `yaml:"sample_rate"`
	Channels        int     `yaml:"channels"`
	FrameDurationMS int     `yaml:"frame_duration_ms"`
	ReadTimeoutMS   int     `yaml:"read_timeout_ms"`
	MaxReadFailures int     `yaml:"max_read_failures"`
	BufferSeconds   float64 `yaml:"buffer_seconds"`
}

func (c AudioConfig) FrameDuration() time.Duration {
	return time.Duration(c.FrameDurationMS) * time.Millisecond
}

func (c AudioConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutMS) * time.Millisecond
}

// FrameSamples is the fixed per-frame sample count derived from the
// configured frame duration.
func (c AudioConfig) FrameSamples() int {
	return c.SampleRate * c.FrameDurationMS / 1000
}

// BufferFrames is the capture buffer depth in frames: how much audio
// the pipeline holds between the device and the segmenter before
// capture would block.
func (c AudioConfig) BufferFrames() int {
	if c.BufferSeconds <= 0 || c.FrameDurationMS <= 0 {
		return 1
	}
	frames := int(c.BufferSeconds * 1000 / float64(c.FrameDurationMS))
	if frames < 1 {
		return 1
	}
	return frames
}

type VADConfig struct {
	Mode                 string  `yaml:"mode"` // mock, energy, exec
	Command              string  `yaml:"command"`
	EnergyThreshold      float64 `yaml:"energy_threshold"`
	SpeechTimeoutMS      int     `yaml:"speech_timeout_ms"`
	MinSpeechDurationMS  int     `yaml:"min_speech_duration_ms"`
	OverlapDurationMS    int     `yaml:"overlap_duration_ms"`
	MaxSegmentDurationMS int     `yaml:"max_segment_duration_ms"`
}

func (c VADConfig) SpeechTimeout() time.Duration {
	return time.Duration(c.SpeechTimeoutMS) * time.Millisecond
}

func (c VADConfig) MinSpeechDuration() time.Duration {
	return time.Duration(c.MinSpeechDurationMS) * time.Millisecond
}

func (c VADConfig) OverlapDuration() time.Duration {
	return time.Duration(c.OverlapDurationMS) * time.Millisecond
}

func (c VADConfig) MaxSegmentDuration() time.Duration {
	return time.Duration(c.MaxSegmentDurationMS) * time.Millisecond
}

type PushToTalkConfig struct {
	PreRollMS  int `yaml:"pre_roll_ms"`
	PostRollMS int `yaml:"post_roll_ms"`
}

func (c PushToTalkConfig) PreRoll() time.Duration {
	return time.Duration(c.PreRollMS) * time.Millisecond
}

func (c PushToTalkConfig) PostRoll() time.Duration {
	return time.Duration(c.PostRollMS) * time.Millisecond
}

type DispatchConfig struct {
	QueueSize int    `yaml:"queue_size"`
	Retries   int    `yaml:"retries"`
	SaveAudio bool   `yaml:"save_audio"`
	AudioDir  string `yaml:"audio_dir"`
}

type EvaluationConfig struct {
	MatchThreshold   float64 `yaml:"match_threshold"`
	NormalizeNumbers bool    `yaml:"normalize_numbers"`
}

type ResultsConfig struct {
	LogDir        string `yaml:"log_dir"`
	StorePath     string `yaml:"store_path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type STTConfig struct {
	Mode      string `yaml:"mode"` // mock, exec
	Command   string `yaml:"command"`
	ModelPath string `yaml:"model_path"`
	Language  string `yaml:"language"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

func (c STTConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Audio       AudioConfig      `yaml:"audio"`
	VAD         VADConfig        `yaml:"vad"`
	PushToTalk  PushToTalkConfig `yaml:"push_to_talk"`
	Dispatch    DispatchConfig   `yaml:"dispatch"`
	Evaluation  EvaluationConfig `yaml:"evaluation"`
	Results     ResultsConfig    `yaml:"results"`
	STT         STTConfig        `yaml:"stt"`
}

func Default() Config {
	return Config{
		RuntimeName: "readback-core",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Enabled:        true,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Audio: AudioConfig{
			SampleRate:      16000,
			Channels:        1,
			FrameDurationMS: 20,
			ReadTimeoutMS:   1000,
			MaxReadFailures: 5,
			BufferSeconds:   5.0,
		},
		VAD: VADConfig{
			Mode:                 "energy",
			EnergyThreshold:      0.015,
			SpeechTimeoutMS:      1000,
			MinSpeechDurationMS:  500,
			OverlapDurationMS:    300,
			MaxSegmentDurationMS: 30000,
		},
		PushToTalk: PushToTalkConfig{
			PreRollMS:  5000,
			PostRollMS: 5000,
		},
		Dispatch: DispatchConfig{
			QueueSize: 8,
			Retries:   1,
			SaveAudio: true,
			AudioDir:  "./data/audio",
		},
		Evaluation: EvaluationConfig{
			MatchThreshold:   0.3,
			NormalizeNumbers: true,
		},
		Results: ResultsConfig{
			LogDir:        "./data/logs",
			StorePath:     "./data/readback-results.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		STT: STTConfig{
			Mode:      "mock",
			Language:  "en",
			TimeoutMS: 45000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "READBACK_RUNTIME_NAME")
	overrideString(&cfg.Environment, "READBACK_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "READBACK_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "READBACK_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "READBACK_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "READBACK_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "READBACK_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Enabled, "READBACK_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "READBACK_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "READBACK_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "READBACK_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "READBACK_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "READBACK_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "READBACK_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "READBACK_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "READBACK_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "READBACK_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Audio.DeviceHint, "READBACK_AUDIO_DEVICE_HINT")
	overrideInt(&cfg.Audio.SampleRate, "READBACK_AUDIO_SAMPLE_RATE")
	overrideInt(&cfg.Audio.Channels, "READBACK_AUDIO_CHANNELS")
	overrideInt(&cfg.Audio.FrameDurationMS, "READBACK_AUDIO_FRAME_DURATION_MS")
	overrideInt(&cfg.Audio.ReadTimeoutMS, "READBACK_AUDIO_READ_TIMEOUT_MS")
	overrideInt(&cfg.Audio.MaxReadFailures, "READBACK_AUDIO_MAX_READ_FAILURES")
	overrideFloat(&cfg.Audio.BufferSeconds, "READBACK_AUDIO_BUFFER_SECONDS")
	overrideString(&cfg.VAD.Mode, "READBACK_VAD_MODE")
	overrideString(&cfg.VAD.Command, "READBACK_VAD_COMMAND")
	overrideFloat(&cfg.VAD.EnergyThreshold, "READBACK_VAD_ENERGY_THRESHOLD")
	overrideInt(&cfg.VAD.SpeechTimeoutMS, "READBACK_VAD_SPEECH_TIMEOUT_MS")
	overrideInt(&cfg.VAD.MinSpeechDurationMS, "READBACK_VAD_MIN_SPEECH_DURATION_MS")
	overrideInt(&cfg.VAD.OverlapDurationMS, "READBACK_VAD_OVERLAP_DURATION_MS")
	overrideInt(&cfg.VAD.MaxSegmentDurationMS, "READBACK_VAD_MAX_SEGMENT_DURATION_MS")
	overrideInt(&cfg.PushToTalk.PreRollMS, "READBACK_PTT_PRE_ROLL_MS")
	overrideInt(&cfg.PushToTalk.PostRollMS, "READBACK_PTT_POST_ROLL_MS")
	overrideInt(&cfg.Dispatch.QueueSize, "READBACK_DISPATCH_QUEUE_SIZE")
	overrideInt(&cfg.Dispatch.Retries, "READBACK_DISPATCH_RETRIES")
	overrideBool(&cfg.Dispatch.SaveAudio, "READBACK_DISPATCH_SAVE_AUDIO")
	overrideString(&cfg.Dispatch.AudioDir, "READBACK_DISPATCH_AUDIO_DIR")
	overrideFloat(&cfg.Evaluation.MatchThreshold, "READBACK_EVAL_MATCH_THRESHOLD")
	overrideBool(&cfg.Evaluation.NormalizeNumbers, "READBACK_EVAL_NORMALIZE_NUMBERS")
	overrideString(&cfg.Results.LogDir, "READBACK_RESULTS_LOG_DIR")
	overrideString(&cfg.Results.StorePath, "READBACK_RESULTS_STORE_PATH")
	overrideString(&cfg.Results.RetentionMode, "READBACK_RESULTS_RETENTION_MODE")
	overrideInt(&cfg.Results.RetentionDays, "READBACK_RESULTS_RETENTION_DAYS")
	overrideInt(&cfg.Results.MaxSessions, "READBACK_RESULTS_MAX_SESSIONS")
	overrideBool(&cfg.Results.VacuumOnStart, "READBACK_RESULTS_VACUUM_ON_START")
	overrideString(&cfg.STT.Mode, "READBACK_STT_MODE")
	overrideString(&cfg.STT.Command, "READBACK_STT_COMMAND")
	overrideString(&cfg.STT.ModelPath, "READBACK_STT_MODEL_PATH")
	overrideString(&cfg.STT.Language, "READBACK_STT_LANGUAGE")
	overrideInt(&cfg.STT.TimeoutMS, "READBACK_STT_TIMEOUT_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

// Validate rejects invalid pipeline parameters synchronously; a bad
// value never reaches a running pipeline.
func Validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	if cfg.Audio.Channels != 1 {
		return errors.New("audio.channels must be 1 (mono capture only)")
	}
	if cfg.Audio.FrameDurationMS <= 0 {
		return errors.New("audio.frame_duration_ms must be positive")
	}
	if cfg.Audio.ReadTimeoutMS <= 0 {
		return errors.New("audio.read_timeout_ms must be positive")
	}
	if cfg.Audio.MaxReadFailures <= 0 {
		return errors.New("audio.max_read_failures must be >= 1")
	}
	if cfg.Audio.BufferSeconds <= 0 {
		return errors.New("audio.buffer_seconds must be positive")
	}
	switch cfg.VAD.Mode {
	case "mock", "energy", "exec":
	default:
		return errors.New("vad.mode must be one of mock|energy|exec")
	}
	if cfg.VAD.Mode == "exec" && cfg.VAD.Command == "" {
		return errors.New("vad.command must be set when mode=exec")
	}
	if cfg.VAD.SpeechTimeoutMS <= 0 {
		return errors.New("vad.speech_timeout_ms must be positive")
	}
	if cfg.VAD.MinSpeechDurationMS <= 0 {
		return errors.New("vad.min_speech_duration_ms must be positive")
	}
	if cfg.VAD.OverlapDurationMS < 0 {
		return errors.New("vad.overlap_duration_ms must be >= 0")
	}
	if cfg.VAD.MaxSegmentDurationMS <= cfg.VAD.MinSpeechDurationMS {
		return errors.New("vad.max_segment_duration_ms must be greater than min_speech_duration_ms")
	}
	if cfg.PushToTalk.PreRollMS < 0 {
		return errors.New("push_to_talk.pre_roll_ms must be >= 0")
	}
	if cfg.PushToTalk.PostRollMS < 0 {
		return errors.New("push_to_talk.post_roll_ms must be >= 0")
	}
	if float64(cfg.PushToTalk.PreRollMS)/1000 > cfg.Audio.BufferSeconds {
		return errors.New("push_to_talk.pre_roll_ms must not exceed audio.buffer_seconds")
	}
	if cfg.Dispatch.QueueSize <= 0 {
		return errors.New("dispatch.queue_size must be >= 1")
	}
	if cfg.Dispatch.Retries < 0 {
		return errors.New("dispatch.retries must be >= 0")
	}
	if cfg.Dispatch.SaveAudio && cfg.Dispatch.AudioDir == "" {
		return errors.New("dispatch.audio_dir must not be empty when save_audio is enabled")
	}
	if cfg.Evaluation.MatchThreshold < 0 || cfg.Evaluation.MatchThreshold > 1 {
		return errors.New("evaluation.match_threshold must be within [0,1]")
	}
	switch cfg.Results.RetentionMode {
	case "ephemeral", "session", "persistent":
	default:
		return errors.New("results.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.Results.StorePath == "" && cfg.Results.RetentionMode != "ephemeral" {
		return errors.New("results.store_path must not be empty")
	}
	if cfg.Results.RetentionDays < 0 {
		return errors.New("results.retention_days must be >= 0")
	}
	switch cfg.STT.Mode {
	case "mock", "exec":
	default:
		return errors.New("stt.mode must be one of mock|exec")
	}
	if cfg.STT.Mode == "exec" && cfg.STT.Command == "" {
		return errors.New("stt.command must be set when mode=exec")
	}
	return nil
}
