package main

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/satriahrh/voicegate/adapters"
	"github.com/satriahrh/voicegate/adapters/llm"
	"github.com/satriahrh/voicegate/adapters/mongo"
	"github.com/satriahrh/voicegate/adapters/redis"
	"github.com/satriahrh/voicegate/adapters/research"
	"github.com/satriahrh/voicegate/adapters/stt"
	"github.com/satriahrh/voicegate/adapters/tts"
	"github.com/satriahrh/voicegate/domain/entities"
	"github.com/satriahrh/voicegate/domain/repositories"
	"github.com/satriahrh/voicegate/internal/config"
)

// backends holds the capability implementations selected by configuration.
type backends struct {
	Transcriber repositories.Transcriber
	Model       repositories.LanguageModel
	Voice       repositories.TextToSpeech
	Devices     repositories.DeviceRepository
	Lease       repositories.SessionLease
	Research    repositories.ResearchSource

	closers []func() error
}

func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func newBackends(ctx context.Context, cfg config.Config, logger *zap.Logger) (*backends, error) {
	b := &backends{}
	steps := []func(context.Context, config.Config, *zap.Logger) error{
		b.initTranscriber,
		b.initModel,
		b.initVoice,
		b.initDevices,
		b.initLease,
		b.initResearch,
	}
	for _, step := range steps {
		if err := step(ctx, cfg, logger); err != nil {
			b.Close()
			return nil, err
		}
	}
	return b, nil
}

func (b *backends) initTranscriber(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	switch cfg.Providers.STT {
	case config.ProviderGoogle:
		t, err := stt.NewGoogleTranscriber(ctx, cfg.GoogleSpeech.CredentialsFile, cfg.GoogleSpeech.Model, logger)
		if err != nil {
			return fmt.Errorf("google speech: %w", err)
		}
		b.Transcriber = t
		b.closers = append(b.closers, t.Close)
	default:
		b.Transcriber = stt.NewMockTranscriber(logger)
	}
	return nil
}

func (b *backends) initModel(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	switch cfg.Providers.LLM {
	case config.ProviderGemini:
		m, err := llm.NewGeminiModel(ctx, llm.GeminiConfig{
			APIKey:      cfg.Gemini.APIKey,
			Model:       cfg.Gemini.Model,
			Temperature: cfg.Gemini.Temperature,
		}, logger)
		if err != nil {
			return fmt.Errorf("gemini: %w", err)
		}
		b.Model = m
	default:
		b.Model = llm.NewMockLanguageModel()
	}
	return nil
}

func (b *backends) initVoice(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	switch cfg.Providers.TTS {
	case config.ProviderElevenLabs:
		v, err := tts.NewElevenLabsTTS(tts.ElevenLabsConfig{
			APIKey:       cfg.ElevenLabs.APIKey,
			APIBaseURL:   cfg.ElevenLabs.BaseURL,
			VoiceID:      cfg.ElevenLabs.VoiceID,
			ModelID:      cfg.ElevenLabs.ModelID,
			OutputFormat: fmt.Sprintf("pcm_%d", cfg.Response.OutputSampleRate),
		}, logger)
		if err != nil {
			return fmt.Errorf("eleven labs: %w", err)
		}
		b.Voice = v
	default:
		b.Voice = tts.NewToneVoice(cfg.Response.OutputSampleRate)
	}
	return nil
}

func (b *backends) initDevices(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	switch cfg.Providers.Devices {
	case config.ProviderMongo:
		client, err := mongo.NewClient(ctx, cfg.Mongo.URI, cfg.Mongo.Database, logger)
		if err != nil {
			return err
		}
		b.closers = append(b.closers, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return client.Close(ctx)
		})

		repo := mongo.NewDeviceRepository(client.Database)
		if err := repo.EnsureIndexes(ctx); err != nil {
			return fmt.Errorf("device indexes: %w", err)
		}
		b.Devices = repo
	default:
		repo := adapters.NewMemoryDeviceRepository()
		if err := seedDevices(ctx, repo); err != nil {
			return err
		}
		logger.Info("Using in-memory device registry with demo devices")
		b.Devices = repo
	}
	return nil
}

func (b *backends) initLease(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	switch cfg.Providers.Lease {
	case config.ProviderRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return fmt.Errorf("redis ping: %w", err)
		}
		b.closers = append(b.closers, client.Close)
		b.Lease = redis.NewSessionLease(client)
		logger.Info("Using Redis session lease", zap.String("addr", cfg.Redis.Addr))
	default:
		b.Lease = adapters.NewMemoryLease()
	}
	return nil
}

func (b *backends) initResearch(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	switch cfg.Providers.Research {
	case config.ProviderNIH:
		b.Research = research.NewNIHResearch(research.NIHConfig{
			NCIBaseURL:         cfg.Research.NCIBaseURL,
			PubMedBaseURL:      cfg.Research.PubMedBaseURL,
			MedlinePlusBaseURL: cfg.Research.MedlinePlusBaseURL,
			Timeout:            cfg.Research.Timeout,
		}, logger)
		logger.Info("Using NIH research sources")
	default:
		b.Research = research.NewMockResearch()
	}
	return nil
}

// seedDevices registers the demo devices used with the offline setup.
func seedDevices(ctx context.Context, repo repositories.DeviceRepository) error {
	demo := []entities.Device{
		{SerialNumber: "VOICEGATE001", SecretKey: "secret123", Model: "speaker-v1", Language: "en-US"},
		{SerialNumber: "VOICEGATE002", SecretKey: "secret456", Model: "speaker-v1", Language: "en-US"},
		{SerialNumber: "VOICEGATE003", SecretKey: "secret789", Model: "speaker-v2", Language: "en-US"},
	}
	for i := range demo {
		if err := repo.Create(ctx, &demo[i]); err != nil {
			return fmt.Errorf("seed device %s: %w", demo[i].SerialNumber, err)
		}
	}
	return nil
}
