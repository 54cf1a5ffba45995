// Package config loads gateway settings from defaults, an optional YAML file
// and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/satriahrh/voicegate/internal/response"
	"github.com/satriahrh/voicegate/internal/router"
	"github.com/satriahrh/voicegate/internal/session"
	"github.com/satriahrh/voicegate/internal/transcription"
)

// Provider names accepted for every backend.
const (
	ProviderMock       = "mock"
	ProviderGoogle     = "google"
	ProviderGemini     = "gemini"
	ProviderElevenLabs = "elevenlabs"
	ProviderMongo      = "mongo"
	ProviderMemory     = "memory"
	ProviderRedis      = "redis"
	ProviderNIH        = "nih"
)

type Config struct {
	Env      string `yaml:"env"`
	LogLevel string `yaml:"log_level"`

	Server        ServerConfig         `yaml:"server"`
	Auth          AuthConfig           `yaml:"auth"`
	Session       session.Config       `yaml:"session"`
	Transcription transcription.Config `yaml:"transcription"`
	Router        router.Config        `yaml:"router"`
	Response      response.Config      `yaml:"response"`
	Providers     ProvidersConfig      `yaml:"providers"`

	GoogleSpeech GoogleSpeechConfig `yaml:"google_speech"`
	Gemini       GeminiConfig       `yaml:"gemini"`
	ElevenLabs   ElevenLabsConfig   `yaml:"elevenlabs"`
	Mongo        MongoConfig        `yaml:"mongo"`
	Redis        RedisConfig        `yaml:"redis"`
	Research     ResearchConfig     `yaml:"research"`
}

type ServerConfig struct {
	Port            string        `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// IdleTimeout closes connections that sent nothing for this long.
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	// AudioFramesPerSecond and AudioBurst limit inbound audio per client.
	AudioFramesPerSecond float64       `yaml:"audio_frames_per_second"`
	AudioBurst           int           `yaml:"audio_burst"`
	LeaseTTL             time.Duration `yaml:"lease_ttl"`
	MetricsNamespace     string        `yaml:"metrics_namespace"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// ProvidersConfig selects the backend behind every capability.
type ProvidersConfig struct {
	STT     string `yaml:"stt"`
	LLM     string `yaml:"llm"`
	TTS     string `yaml:"tts"`
	Devices string `yaml:"devices"`
	Lease   string `yaml:"lease"`
	// Research backs the oncology and treatment specialists' findings.
	Research string `yaml:"research"`
	// Correction runs final transcripts through the language model.
	Correction bool `yaml:"correction"`
}

type GoogleSpeechConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
	Model           string `yaml:"model"`
}

type GeminiConfig struct {
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Temperature float32 `yaml:"temperature"`
}

type ElevenLabsConfig struct {
	APIKey  string `yaml:"api_key"`
	VoiceID string `yaml:"voice_id"`
	ModelID string `yaml:"model_id"`
	BaseURL string `yaml:"base_url"`
}

type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

type ResearchConfig struct {
	// Timeout bounds the lookup made before each research reply.
	Timeout            time.Duration `yaml:"timeout"`
	NCIBaseURL         string        `yaml:"nci_base_url"`
	PubMedBaseURL      string        `yaml:"pubmed_base_url"`
	MedlinePlusBaseURL string        `yaml:"medlineplus_base_url"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Default returns a configuration that runs fully offline on mock backends.
func Default() Config {
	return Config{
		Env:      "production",
		LogLevel: "info",
		Server: ServerConfig{
			Port:                 "8080",
			ShutdownTimeout:      10 * time.Second,
			IdleTimeout:          5 * time.Minute,
			AudioFramesPerSecond: 100,
			AudioBurst:           200,
			LeaseTTL:             time.Minute,
			MetricsNamespace:     "voicegate",
		},
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
		},
		Session:       session.DefaultConfig(),
		Transcription: transcription.DefaultConfig(),
		Router:        router.DefaultConfig(),
		Response:      response.DefaultConfig(),
		Providers: ProvidersConfig{
			STT:      ProviderMock,
			LLM:      ProviderMock,
			TTS:      ProviderMock,
			Devices:  ProviderMemory,
			Lease:    ProviderMemory,
			Research: ProviderMock,
		},
		GoogleSpeech: GoogleSpeechConfig{Model: "latest_short"},
		Gemini: GeminiConfig{
			Model:       "gemini-2.5-flash",
			Temperature: 0.7,
		},
		ElevenLabs: ElevenLabsConfig{
			VoiceID: "21m00Tcm4TlvDq8ikWAM",
			ModelID: "eleven_multilingual_v2",
			BaseURL: "https://api.elevenlabs.io/v1",
		},
		Mongo:    MongoConfig{Database: "voicegate"},
		Redis:    RedisConfig{Addr: "localhost:6379"},
		Research: ResearchConfig{Timeout: 3 * time.Second},
	}
}

// Load reads .env when present, then CONFIG_FILE, then the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return LoadFrom(os.LookupEnv)
}

// LoadFrom builds a configuration using lookup for environment variables.
func LoadFrom(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if path, ok := lookup("CONFIG_FILE"); ok && path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	e := envReader{lookup: lookup}

	e.str("APP_ENV", &c.Env)
	e.str("LOG_LEVEL", &c.LogLevel)

	e.str("PORT", &c.Server.Port)
	e.duration("SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeout)
	e.duration("SESSION_IDLE_TIMEOUT", &c.Server.IdleTimeout)
	e.float("AUDIO_FRAMES_PER_SECOND", &c.Server.AudioFramesPerSecond)
	e.integer("AUDIO_BURST", &c.Server.AudioBurst)
	e.duration("LEASE_TTL", &c.Server.LeaseTTL)

	e.str("JWT_SECRET", &c.Auth.JWTSecret)
	e.duration("TOKEN_TTL", &c.Auth.TokenTTL)

	e.float("SILENCE_THRESHOLD", &c.Session.Audio.SilenceThreshold)
	e.integer("SILENCE_FRAMES", &c.Session.Audio.SilenceFrames)
	e.duration("TURN_TIMEOUT", &c.Session.TurnTimeout)
	e.millis("CHUNK_DURATION_MS", &c.Response.ChunkDuration)
	e.millis("MAX_UNIT_WAIT_MS", &c.Response.MaxUnitWait)
	e.integer("OUTPUT_SAMPLE_RATE", &c.Response.OutputSampleRate)
	e.integer("SYNTHESIS_CONCURRENCY", &c.Response.SynthesisConcurrency)
	e.str("STT_LANGUAGE", &c.Transcription.Language)
	e.float("ROUTER_MIN_SCORE", &c.Router.MinScore)

	e.str("STT_PROVIDER", &c.Providers.STT)
	e.str("LLM_PROVIDER", &c.Providers.LLM)
	e.str("TTS_PROVIDER", &c.Providers.TTS)
	e.str("DEVICE_PROVIDER", &c.Providers.Devices)
	e.str("LEASE_PROVIDER", &c.Providers.Lease)
	e.str("RESEARCH_PROVIDER", &c.Providers.Research)
	e.boolean("TRANSCRIPT_CORRECTION", &c.Providers.Correction)

	e.str("GOOGLE_APPLICATION_CREDENTIALS", &c.GoogleSpeech.CredentialsFile)
	e.str("GOOGLE_SPEECH_MODEL", &c.GoogleSpeech.Model)
	e.str("GEMINI_API_KEY", &c.Gemini.APIKey)
	e.str("GEMINI_MODEL", &c.Gemini.Model)
	e.str("ELEVENLABS_API_KEY", &c.ElevenLabs.APIKey)
	e.str("ELEVENLABS_VOICE_ID", &c.ElevenLabs.VoiceID)
	e.str("ELEVENLABS_MODEL_ID", &c.ElevenLabs.ModelID)
	e.str("ELEVENLABS_BASE_URL", &c.ElevenLabs.BaseURL)
	e.str("MONGODB_URI", &c.Mongo.URI)
	e.str("MONGODB_DATABASE", &c.Mongo.Database)
	e.str("REDIS_ADDR", &c.Redis.Addr)
	e.str("REDIS_PASSWORD", &c.Redis.Password)
	e.integer("REDIS_DB", &c.Redis.DB)
	e.duration("RESEARCH_TIMEOUT", &c.Research.Timeout)

	return errors.Join(e.errs...)
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if c.Server.Port == "" {
		add(errors.New("server.port is required"))
	}
	if c.Server.AudioFramesPerSecond <= 0 || c.Server.AudioBurst < 1 {
		add(errors.New("server audio rate limit must be positive"))
	}
	if c.Server.IdleTimeout <= 0 {
		add(errors.New("server.idle_timeout must be positive"))
	}
	if c.Auth.JWTSecret == "" && c.Env != "development" {
		add(errors.New("JWT_SECRET is required outside development"))
	}
	if c.Auth.TokenTTL <= 0 {
		add(errors.New("auth.token_ttl must be positive"))
	}
	add(c.Session.Validate())
	add(c.Response.Validate())

	add(oneOf("providers.stt", c.Providers.STT, ProviderMock, ProviderGoogle))
	add(oneOf("providers.llm", c.Providers.LLM, ProviderMock, ProviderGemini))
	add(oneOf("providers.tts", c.Providers.TTS, ProviderMock, ProviderElevenLabs))
	add(oneOf("providers.devices", c.Providers.Devices, ProviderMemory, ProviderMongo))
	add(oneOf("providers.lease", c.Providers.Lease, ProviderMemory, ProviderRedis))
	add(oneOf("providers.research", c.Providers.Research, ProviderMock, ProviderNIH))
	if c.Research.Timeout <= 0 {
		add(errors.New("research.timeout must be positive"))
	}

	if c.Providers.LLM == ProviderGemini && c.Gemini.APIKey == "" {
		add(errors.New("GEMINI_API_KEY is required for the gemini provider"))
	}
	if c.Providers.TTS == ProviderElevenLabs && c.ElevenLabs.APIKey == "" {
		add(errors.New("ELEVENLABS_API_KEY is required for the elevenlabs provider"))
	}
	if c.Providers.Devices == ProviderMongo && c.Mongo.URI == "" {
		add(errors.New("MONGODB_URI is required for the mongo device store"))
	}
	if c.Providers.Lease == ProviderRedis && c.Redis.Addr == "" {
		add(errors.New("REDIS_ADDR is required for the redis lease"))
	}
	return errors.Join(errs...)
}

func oneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %v, got %q", field, allowed, value)
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) integer(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
}

func (e *envReader) float(key string, dst *float64) {
	if v, ok := e.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = f
	}
}

func (e *envReader) boolean(key string, dst *bool) {
	if v, ok := e.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = b
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if v, ok := e.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}
}

// millis reads a whole number of milliseconds.
func (e *envReader) millis(key string, dst *time.Duration) {
	var n int
	before := len(e.errs)
	if _, ok := e.get(key); !ok {
		return
	}
	e.integer(key, &n)
	if len(e.errs) == before {
		*dst = time.Duration(n) * time.Millisecond
	}
}
