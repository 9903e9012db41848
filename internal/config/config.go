package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the namespace prefix for all newscast environment variables.
const EnvPrefix = "NEWSCAST_"

const (
	EnvironmentLocal    = "local"
	EnvironmentDeployed = "deployed"

	VADProviderEnergy   = "energy"
	VADProviderDeepgram = "deepgram"
)

type VADConfig struct {
	// Enabled is the default before the user toggles it; the stored choice wins.
	Enabled                 bool    `yaml:"enabled"`
	Provider                string  `yaml:"provider" validate:"oneof=energy deepgram"`
	PositiveSpeechThreshold float64 `yaml:"positive_speech_threshold" validate:"gt=0,lte=1"`
	MinSpeechFrames         int     `yaml:"min_speech_frames" validate:"gte=1,lte=100"`
	RedemptionFrames        int     `yaml:"redemption_frames" validate:"gte=0,lte=100"`
}

// Config holds all application configuration. Secrets are loaded exclusively
// from environment variables and never appear in the config file.
type Config struct {
	Environment        string   `yaml:"environment" validate:"oneof=local deployed"`
	BackendURL         string   `yaml:"backend_url" validate:"url"`
	DeployedBackendURL string   `yaml:"deployed_backend_url" validate:"omitempty,url"`
	DBPath             string   `yaml:"db_path" validate:"required"`
	RecordingsDir      string   `yaml:"recordings_dir"`
	TranscriptDir      string   `yaml:"transcript_dir"`
	ListenAddr         string   `yaml:"listen_addr" validate:"required"`
	MicSampleRate      int      `yaml:"mic_sample_rate" validate:"gte=8000,lte=192000"`
	MicSampleRates     []int    `yaml:"mic_sample_rates"`
	FramesPerBuffer    int      `yaml:"frames_per_buffer" validate:"gte=64,lte=16384"`
	ResumeDelay        string   `yaml:"resume_delay"`
	ConnectTimeout     string   `yaml:"connect_timeout"`
	AnswerFormats      []string `yaml:"answer_formats" validate:"min=1,dive,oneof=wav mp3 pcm16"`
	AnswerPCMRate      int      `yaml:"answer_pcm_rate" validate:"gte=8000,lte=192000"`
	KeepRecordings     bool     `yaml:"keep_recordings"`

	VAD VADConfig `yaml:"vad"`

	// Secrets: env vars only, never serialized to YAML.
	AuthToken      string `yaml:"-"`
	DeepgramAPIKey string `yaml:"-"`
}

const (
	defaultResumeDelay    = 500 * time.Millisecond
	defaultConnectTimeout = 10 * time.Second
)

func defaults() Config {
	return Config{
		Environment:        EnvironmentLocal,
		BackendURL:         "http://localhost:8080",
		DeployedBackendURL: "https://newsjuiceapp.com",
		DBPath:             "data/newscast.db",
		RecordingsDir:      "data/recordings",
		TranscriptDir:      "data/transcripts",
		ListenAddr:         "127.0.0.1:8765",
		MicSampleRate:      16000,
		MicSampleRates:     []int{48000, 44100, 32000, 24000},
		FramesPerBuffer:    1024,
		ResumeDelay:        "500ms",
		ConnectTimeout:     "10s",
		AnswerFormats:      []string{"wav", "mp3", "pcm16"},
		AnswerPCMRate:      24000,
		VAD: VADConfig{
			Enabled:                 true,
			Provider:                VADProviderEnergy,
			PositiveSpeechThreshold: 0.8,
			MinSpeechFrames:         3,
			RedemptionFrames:        8,
		},
	}
}

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
}

// Load reads configuration from a YAML file (if it exists), applies
// environment variable overrides, loads secrets, and validates the result.
// Invalid values are reported as warnings and replaced by their defaults.
// It returns an error only if the file exists but cannot be read or parsed.
func Load(path string) (Config, []string, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	loadSecrets(&cfg)

	warnings := validateConfig(&cfg)
	return cfg, warnings, nil
}

// BackendBaseURL is the REST and websocket host for the selected environment.
func (c *Config) BackendBaseURL() string {
	if c.Environment == EnvironmentDeployed && c.DeployedBackendURL != "" {
		return strings.TrimRight(c.DeployedBackendURL, "/")
	}
	return strings.TrimRight(c.BackendURL, "/")
}

// WebSocketURL derives the chat endpoint from the backend URL, carrying the
// bearer token as a query parameter.
func (c *Config) WebSocketURL(token string) (string, error) {
	u, err := url.Parse(c.BackendBaseURL())
	if err != nil {
		return "", fmt.Errorf("parse backend url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("backend url %q: unsupported scheme %q", c.BackendBaseURL(), u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/chat"
	q := url.Values{}
	if token != "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ParsedResumeDelay falls back to 500ms if the value is invalid.
func (c *Config) ParsedResumeDelay() time.Duration {
	return parseDuration(c.ResumeDelay, defaultResumeDelay)
}

// ParsedConnectTimeout falls back to 10s if the value is invalid.
func (c *Config) ParsedConnectTimeout() time.Duration {
	return parseDuration(c.ConnectTimeout, defaultConnectTimeout)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

// SampleRateCandidates returns a deduplicated ordered list of sample rates
// to try: preferred rate first, then configured alternatives, then defaults.
func (c *Config) SampleRateCandidates() []int {
	hardcoded := []int{16000, 48000, 44100, 32000, 24000}

	combined := make([]int, 0, 1+len(c.MicSampleRates)+len(hardcoded))
	combined = append(combined, c.MicSampleRate)
	combined = append(combined, c.MicSampleRates...)
	combined = append(combined, hardcoded...)

	seen := make(map[int]struct{}, len(combined))
	result := make([]int, 0, len(combined))
	for _, rate := range combined {
		if rate <= 0 {
			continue
		}
		if _, ok := seen[rate]; ok {
			continue
		}
		seen[rate] = struct{}{}
		result = append(result, rate)
	}
	return result
}

func applyEnvOverrides(cfg *Config) {
	strs := map[string]*string{
		"ENVIRONMENT":          &cfg.Environment,
		"BACKEND_URL":          &cfg.BackendURL,
		"DEPLOYED_BACKEND_URL": &cfg.DeployedBackendURL,
		"DB_PATH":              &cfg.DBPath,
		"RECORDINGS_DIR":       &cfg.RecordingsDir,
		"TRANSCRIPT_DIR":       &cfg.TranscriptDir,
		"LISTEN_ADDR":          &cfg.ListenAddr,
		"RESUME_DELAY":         &cfg.ResumeDelay,
		"CONNECT_TIMEOUT":      &cfg.ConnectTimeout,
		"VAD_PROVIDER":         &cfg.VAD.Provider,
	}
	for key, dst := range strs {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	ints := map[string]*int{
		"MIC_SAMPLE_RATE":   &cfg.MicSampleRate,
		"FRAMES_PER_BUFFER": &cfg.FramesPerBuffer,
		"ANSWER_PCM_RATE":   &cfg.AnswerPCMRate,
	}
	for key, dst := range ints {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
				*dst = n
			}
		}
	}

	if v := os.Getenv(EnvPrefix + "MIC_SAMPLE_RATES"); v != "" {
		cfg.MicSampleRates = parseSampleRates(v)
	}
	if v := os.Getenv(EnvPrefix + "ANSWER_FORMATS"); v != "" {
		cfg.AnswerFormats = splitList(v)
	}
	if v := os.Getenv(EnvPrefix + "VAD_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.VAD.Enabled = b
		}
	}
	if v := os.Getenv(EnvPrefix + "KEEP_RECORDINGS"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.KeepRecordings = b
		}
	}
	if v := os.Getenv(EnvPrefix + "VAD_POSITIVE_SPEECH_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			cfg.VAD.PositiveSpeechThreshold = f
		}
	}
}

func loadSecrets(cfg *Config) {
	cfg.AuthToken = os.Getenv(EnvPrefix + "AUTH_TOKEN")
	cfg.DeepgramAPIKey = os.Getenv(EnvPrefix + "DEEPGRAM_API_KEY")
}

func validateConfig(cfg *Config) []string {
	var warnings []string
	def := defaults()

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return append(warnings, fmt.Sprintf("Config validation failed: %v", err))
		}
		for _, fe := range verrs {
			field := strings.TrimPrefix(fe.Namespace(), "Config.")
			if i := strings.Index(field, "["); i >= 0 {
				field = field[:i]
			}
			if resetField(cfg, &def, field) {
				warnings = append(warnings, fmt.Sprintf("Invalid %s %v (%s) - using default.", field, fe.Value(), fe.Tag()))
			}
		}
	}

	if _, err := time.ParseDuration(cfg.ResumeDelay); err != nil {
		warnings = append(warnings, fmt.Sprintf("Invalid resume_delay %q - using default 500ms.", cfg.ResumeDelay))
	}
	if _, err := time.ParseDuration(cfg.ConnectTimeout); err != nil {
		warnings = append(warnings, fmt.Sprintf("Invalid connect_timeout %q - using default 10s.", cfg.ConnectTimeout))
	}
	if cfg.VAD.Provider == VADProviderDeepgram && cfg.DeepgramAPIKey == "" {
		warnings = append(warnings, "Deepgram API key not configured - falling back to the energy voice activity detector. Set "+EnvPrefix+"DEEPGRAM_API_KEY.")
		cfg.VAD.Provider = VADProviderEnergy
	}
	if cfg.Environment == EnvironmentDeployed && cfg.DeployedBackendURL == "" {
		warnings = append(warnings, "environment is deployed but deployed_backend_url is empty - using backend_url.")
	}

	return warnings
}

// resetField restores one invalid field to its default. It reports whether
// the field was recognised; a field reported twice is only warned about once.
func resetField(cfg, def *Config, field string) bool {
	switch field {
	case "environment":
		cfg.Environment = def.Environment
	case "backend_url":
		cfg.BackendURL = def.BackendURL
	case "deployed_backend_url":
		cfg.DeployedBackendURL = def.DeployedBackendURL
	case "db_path":
		cfg.DBPath = def.DBPath
	case "listen_addr":
		cfg.ListenAddr = def.ListenAddr
	case "mic_sample_rate":
		cfg.MicSampleRate = def.MicSampleRate
	case "frames_per_buffer":
		cfg.FramesPerBuffer = def.FramesPerBuffer
	case "answer_formats":
		if reflect.DeepEqual(cfg.AnswerFormats, def.AnswerFormats) {
			return false
		}
		cfg.AnswerFormats = def.AnswerFormats
	case "answer_pcm_rate":
		cfg.AnswerPCMRate = def.AnswerPCMRate
	case "vad.provider":
		cfg.VAD.Provider = def.VAD.Provider
	case "vad.positive_speech_threshold":
		cfg.VAD.PositiveSpeechThreshold = def.VAD.PositiveSpeechThreshold
	case "vad.min_speech_frames":
		cfg.VAD.MinSpeechFrames = def.VAD.MinSpeechFrames
	case "vad.redemption_frames":
		cfg.VAD.RedemptionFrames = def.VAD.RedemptionFrames
	default:
		return false
	}
	return true
}

func parseSampleRates(raw string) []int {
	parts := strings.Split(raw, ",")
	seen := make(map[int]struct{}, len(parts))
	result := make([]int, 0, len(parts))

	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		rate, err := strconv.Atoi(trimmed)
		if err != nil || rate <= 0 {
			continue
		}
		if _, ok := seen[rate]; ok {
			continue
		}
		seen[rate] = struct{}{}
		result = append(result, rate)
	}

	return result
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
