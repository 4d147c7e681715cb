package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	Env      string `env:"ENV" env-default:"local"`
	BotToken string `env:"BOT_TOKEN"`

	Recorder Recorder
	Metadata Metadata
	S3       S3
	HTTP     HTTP
	Discord  Discord
}

type Recorder struct {
	BaseDir        string `env:"RECORDER_BASE_DIR" env-default:"voice_recordings"`
	FFmpegPath     string `env:"RECORDER_FFMPEG_PATH" env-default:"ffmpeg"`
	SampleRate     int    `env:"RECORDER_SAMPLE_RATE" env-default:"48000"`
	Channels       int    `env:"RECORDER_CHANNELS" env-default:"2"`
	Codec          string `env:"RECORDER_CODEC" env-default:"libvorbis"`
	FileExtension  string `env:"RECORDER_FILE_EXTENSION" env-default:"ogg"`
	QueueDepth     int    `env:"RECORDER_QUEUE_DEPTH" env-default:"64"`
	WriteLogEvery  int    `env:"RECORDER_WRITE_LOG_EVERY" env-default:"100"`
	DiagnosticsCap int    `env:"RECORDER_DIAGNOSTICS_CAP" env-default:"65536"`
	Decoder        string `env:"RECORDER_DECODER" env-default:"libopus"`

	TickInterval        time.Duration `env:"RECORDER_TICK_INTERVAL" env-default:"20ms"`
	SinkFinalizeTimeout time.Duration `env:"RECORDER_SINK_FINALIZE_TIMEOUT" env-default:"15s"`
	ShutdownTimeout     time.Duration `env:"RECORDER_SHUTDOWN_TIMEOUT" env-default:"30s"`
}

const (
	DecoderLibopus = "libopus"
	DecoderPion    = "pion"
)

const (
	MetadataBackendBadger = "badger"
	MetadataBackendRedis  = "redis"
)

type Metadata struct {
	Backend   string `env:"METADATA_BACKEND" env-default:"badger"`
	BadgerDir string `env:"METADATA_BADGER_DIR" env-default:"metadata"`

	RedisAddr     string `env:"METADATA_REDIS_ADDR" env-default:"localhost:6379"`
	RedisPassword string `env:"METADATA_REDIS_PASSWORD"`
	RedisDB       int    `env:"METADATA_REDIS_DB" env-default:"0"`
}

// S3 archiving is disabled when Addr is empty.
type S3 struct {
	Addr      string        `env:"STORAGE_S3_ADDR"`
	AccessKey string        `env:"STORAGE_S3_ACCESS_KEY"`
	SecretKey string        `env:"STORAGE_S3_SECRET_KEY"`
	Bucket    string        `env:"STORAGE_S3_BUCKET" env-default:"recordings"`
	Region    string        `env:"STORAGE_S3_REGION"`
	RecordTTL time.Duration `env:"STORAGE_S3_RECORD_TTL" env-default:"168h"`
}

func (s S3) Enabled() bool {
	return s.Addr != ""
}

type HTTP struct {
	Port         uint16        `env:"HTTP_PORT" env-default:"8080"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" env-default:"60s"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" env-default:"10s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" env-default:"60s"`
}

type Discord struct {
	ClientID     string `env:"DISCORD_CLIENT_ID"`
	ClientSecret string `env:"DISCORD_CLIENT_SECRET"`
}

// New loads the optional dotenv file at path and reads the environment into Config.
func New(path string) (Config, error) {
	var config Config

	if len(path) != 0 {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to load config: %w", err)
		}
	}

	if err := cleanenv.ReadEnv(&config); err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

func (c Config) Validate() error {
	var errs []error

	switch c.Env {
	case "local", "production":
	default:
		errs = append(errs, fmt.Errorf("unknown ENV %q", c.Env))
	}

	r := c.Recorder
	if r.BaseDir == "" {
		errs = append(errs, errors.New("RECORDER_BASE_DIR is required"))
	}
	if r.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("RECORDER_SAMPLE_RATE must be positive, got %d", r.SampleRate))
	}
	if r.Channels != 1 && r.Channels != 2 {
		errs = append(errs, fmt.Errorf("RECORDER_CHANNELS must be 1 or 2, got %d", r.Channels))
	}
	if r.QueueDepth <= 0 {
		errs = append(errs, fmt.Errorf("RECORDER_QUEUE_DEPTH must be positive, got %d", r.QueueDepth))
	}
	if r.Decoder != DecoderLibopus && r.Decoder != DecoderPion {
		errs = append(errs, fmt.Errorf("unknown RECORDER_DECODER %q", r.Decoder))
	}
	if r.TickInterval <= 0 {
		errs = append(errs, errors.New("RECORDER_TICK_INTERVAL must be positive"))
	}
	if r.SinkFinalizeTimeout <= 0 || r.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("recorder timeouts must be positive"))
	}
	if r.ShutdownTimeout < r.SinkFinalizeTimeout {
		errs = append(errs, fmt.Errorf(
			"RECORDER_SHUTDOWN_TIMEOUT (%s) must not be shorter than RECORDER_SINK_FINALIZE_TIMEOUT (%s)",
			r.ShutdownTimeout, r.SinkFinalizeTimeout,
		))
	}

	switch c.Metadata.Backend {
	case MetadataBackendBadger:
		if c.Metadata.BadgerDir == "" {
			errs = append(errs, errors.New("METADATA_BADGER_DIR is required for the badger backend"))
		}
	case MetadataBackendRedis:
		if c.Metadata.RedisAddr == "" {
			errs = append(errs, errors.New("METADATA_REDIS_ADDR is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown METADATA_BACKEND %q", c.Metadata.Backend))
	}

	return errors.Join(errs...)
}
