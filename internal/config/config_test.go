package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.VAD.SpeechTimeoutMS != 1000 {
		t.Fatalf("expected default speech timeout 1000ms, got %d", cfg.VAD.SpeechTimeoutMS)
	}
	if cfg.VAD.MinSpeechDurationMS != 500 {
		t.Fatalf("expected default min speech duration 500ms, got %d", cfg.VAD.MinSpeechDurationMS)
	}
	if cfg.Evaluation.MatchThreshold != 0.3 {
		t.Fatalf("expected default match threshold 0.3, got %v", cfg.Evaluation.MatchThreshold)
	}
	if cfg.Audio.FrameSamples() != 320 {
		t.Fatalf("expected 320 samples per 20ms frame at 16kHz, got %d", cfg.Audio.FrameSamples())
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("READBACK_AUDIO_SAMPLE_RATE", "44100")
	t.Setenv("READBACK_AUDIO_DEVICE_HINT", "usb-headset")
	t.Setenv("READBACK_VAD_MODE", "mock")
	t.Setenv("READBACK_VAD_SPEECH_TIMEOUT_MS", "1500")
	t.Setenv("READBACK_PTT_PRE_ROLL_MS", "3000")
	t.Setenv("READBACK_DISPATCH_QUEUE_SIZE", "4")
	t.Setenv("READBACK_EVAL_MATCH_THRESHOLD", "0.5")
	t.Setenv("READBACK_RESULTS_RETENTION_MODE", "persistent")
	t.Setenv("READBACK_STT_MODE", "exec")
	t.Setenv("READBACK_STT_COMMAND", "whisper-cli --json")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Audio.SampleRate != 44100 {
		t.Fatalf("expected sample rate override, got %d", cfg.Audio.SampleRate)
	}
	if cfg.Audio.DeviceHint != "usb-headset" {
		t.Fatalf("expected device hint override, got %q", cfg.Audio.DeviceHint)
	}
	if cfg.VAD.Mode != "mock" || cfg.VAD.SpeechTimeoutMS != 1500 {
		t.Fatalf("expected vad overrides, got %+v", cfg.VAD)
	}
	if cfg.PushToTalk.PreRollMS != 3000 {
		t.Fatalf("expected pre-roll override, got %d", cfg.PushToTalk.PreRollMS)
	}
	if cfg.Dispatch.QueueSize != 4 {
		t.Fatalf("expected queue size override, got %d", cfg.Dispatch.QueueSize)
	}
	if cfg.Evaluation.MatchThreshold != 0.5 {
		t.Fatalf("expected match threshold override, got %v", cfg.Evaluation.MatchThreshold)
	}
	if cfg.Results.RetentionMode != "persistent" {
		t.Fatalf("expected retention mode override, got %q", cfg.Results.RetentionMode)
	}
	if cfg.STT.Mode != "exec" || cfg.STT.Command != "whisper-cli --json" {
		t.Fatalf("expected stt overrides, got %+v", cfg.STT)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero sample rate", func(c *Config) { c.Audio.SampleRate = 0 }},
		{"stereo capture", func(c *Config) { c.Audio.Channels = 2 }},
		{"unknown vad mode", func(c *Config) { c.VAD.Mode = "webrtc" }},
		{"exec vad without command", func(c *Config) { c.VAD.Mode = "exec"; c.VAD.Command = "" }},
		{"zero speech timeout", func(c *Config) { c.VAD.SpeechTimeoutMS = 0 }},
		{"negative overlap", func(c *Config) { c.VAD.OverlapDurationMS = -1 }},
		{"max segment below min speech", func(c *Config) { c.VAD.MaxSegmentDurationMS = 100 }},
		{"negative post roll", func(c *Config) { c.PushToTalk.PostRollMS = -1 }},
		{"pre roll beyond ring", func(c *Config) { c.PushToTalk.PreRollMS = 60000 }},
		{"zero queue size", func(c *Config) { c.Dispatch.QueueSize = 0 }},
		{"threshold above one", func(c *Config) { c.Evaluation.MatchThreshold = 1.5 }},
		{"unknown retention mode", func(c *Config) { c.Results.RetentionMode = "forever" }},
		{"exec stt without command", func(c *Config) { c.STT.Mode = "exec"; c.STT.Command = "" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := Validate(cfg); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestAudioBufferFrames(t *testing.T) {
	cfg := Default().Audio
	cfg.BufferSeconds = 2.0
	cfg.FrameDurationMS = 20
	if got := cfg.BufferFrames(); got != 100 {
		t.Fatalf("BufferFrames() = %d, want 100", got)
	}

	cfg.BufferSeconds = 0.01
	if got := cfg.BufferFrames(); got != 1 {
		t.Fatalf("sub-frame buffer clamps to 1, got %d", got)
	}
}
