// Package config loads and validates per-binary configuration from the
// environment. Each binary calls its Load* function once at startup;
// validation reports every problem at once via joined errors.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// DB is the relational database connection block.
type DB struct {
	User string
	Pass string
	Host string
	Port int
	Name string
}

// DSN builds a pgx-compatible connection string.
func (d DB) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		url.QueryEscape(d.User), url.QueryEscape(d.Pass), d.Host, d.Port, d.Name)
}

// Broker is the AMQP connection block.
type Broker struct {
	Host string
	Port int
	User string
	Pass string

	// Heartbeat is the negotiated AMQP heartbeat interval.
	Heartbeat time.Duration
}

// URL builds the amqp:// connection URL.
func (b Broker) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/",
		url.QueryEscape(b.User), url.QueryEscape(b.Pass), b.Host, b.Port)
}

// S3 is the object storage connection block.
type S3 struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool

	// UploadsBucket holds user uploads read by the ingestors.
	UploadsBucket string

	// PodcastsBucket receives generated podcast audio.
	PodcastsBucket string
}

// Gateway is the AI Gateway service configuration.
type Gateway struct {
	ListenAddr string
	LogLevel   string

	// PromptsDir is the prompt template directory.
	PromptsDir string

	// ModelsFile is the embedding-model registry YAML path.
	ModelsFile string

	// RoutesFile is the Auto-Router routing table YAML path.
	RoutesFile string

	// OpenAIAPIKey enables the OpenAI-compatible driver.
	OpenAIAPIKey  string
	OpenAIBaseURL string

	// JinaAPIKey enables the Jina embeddings/rerank driver.
	JinaAPIKey string

	// ElevenLabsAPIKey enables the ElevenLabs TTS driver.
	ElevenLabsAPIKey string

	// AnyLLMBackend optionally enables the any-llm chat driver
	// (backend name, e.g. "anthropic"); key and base URL are read by the
	// backend from its own environment variables.
	AnyLLMBackend string

	OTLPEndpoint string
}

// Ingestor configures one ingestion worker process.
type Ingestor struct {
	DB     DB
	Broker Broker
	S3     S3

	GatewayURL string
	LogLevel   string

	// QueueName and RoutingKeys bind the consumer on the
	// file-processing exchange.
	QueueName   string
	RoutingKeys []string

	// Type and Version are stamped onto Sources on completion.
	Type    string
	Version string

	OTLPEndpoint string
}

// Generator configures the generation worker process.
type Generator struct {
	DB     DB
	Broker Broker
	S3     S3

	GatewayURL string
	LogLevel   string

	// HostAVoice and HostBVoice are the TTS voice ids for podcast hosts.
	HostAVoice string
	HostBVoice string

	// TTSPacing is the pause between per-line TTS calls.
	TTSPacing time.Duration

	OTLPEndpoint string
}

// LoadGateway reads the gateway configuration from the environment.
func LoadGateway() (*Gateway, error) {
	cfg := &Gateway{
		ListenAddr:       envOr("GATEWAY_LISTEN_ADDR", ":8000"),
		LogLevel:         envOr("LOG_LEVEL", "info"),
		PromptsDir:       envOr("PROMPTS_DIR", "prompts/config"),
		ModelsFile:       envOr("MODELS_FILE", "configs/models.yaml"),
		RoutesFile:       envOr("ROUTES_FILE", "configs/routes.yaml"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:    os.Getenv("OPENAI_BASE_URL"),
		JinaAPIKey:       os.Getenv("JINA_API_KEY"),
		ElevenLabsAPIKey: os.Getenv("ELEVENLABS_API_KEY"),
		AnyLLMBackend:    os.Getenv("ANYLLM_BACKEND"),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	var errs []error
	if cfg.OpenAIAPIKey == "" && cfg.JinaAPIKey == "" && cfg.ElevenLabsAPIKey == "" && cfg.AnyLLMBackend == "" {
		errs = append(errs, errors.New("no provider configured: set at least one of OPENAI_API_KEY, JINA_API_KEY, ELEVENLABS_API_KEY, ANYLLM_BACKEND"))
	}
	errs = append(errs, validateLogLevel(cfg.LogLevel))
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadIngestor reads an ingestion worker configuration from the environment.
func LoadIngestor() (*Ingestor, error) {
	var errs []error

	db, err := loadDB()
	errs = append(errs, err)
	broker, err := loadBroker()
	errs = append(errs, err)
	s3, err := loadS3()
	errs = append(errs, err)

	cfg := &Ingestor{
		DB:           db,
		Broker:       broker,
		S3:           s3,
		GatewayURL:   os.Getenv("AI_GATEWAY_URL"),
		LogLevel:     envOr("LOG_LEVEL", "info"),
		QueueName:    os.Getenv("INGESTOR_QUEUE_NAME"),
		RoutingKeys:  splitList(os.Getenv("INGESTOR_ROUTING_KEYS")),
		Type:         envOr("INGESTOR_TYPE", "text-go"),
		Version:      envOr("INGESTOR_VERSION", "1.0.0"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if cfg.GatewayURL == "" {
		errs = append(errs, errors.New("AI_GATEWAY_URL must be set"))
	}
	if cfg.QueueName == "" {
		errs = append(errs, errors.New("INGESTOR_QUEUE_NAME must be set"))
	}
	if len(cfg.RoutingKeys) == 0 {
		errs = append(errs, errors.New("INGESTOR_ROUTING_KEYS must list at least one routing key"))
	}
	errs = append(errs, validateLogLevel(cfg.LogLevel))
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadGenerator reads the generation worker configuration from the
// environment.
func LoadGenerator() (*Generator, error) {
	var errs []error

	db, err := loadDB()
	errs = append(errs, err)
	broker, err := loadBroker()
	errs = append(errs, err)
	s3, err := loadS3()
	errs = append(errs, err)

	cfg := &Generator{
		DB:           db,
		Broker:       broker,
		S3:           s3,
		GatewayURL:   os.Getenv("AI_GATEWAY_URL"),
		LogLevel:     envOr("LOG_LEVEL", "info"),
		HostAVoice:   os.Getenv("PODCAST_HOST_A_VOICE"),
		HostBVoice:   os.Getenv("PODCAST_HOST_B_VOICE"),
		TTSPacing:    envDuration("PODCAST_TTS_PACING", 5*time.Second),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if cfg.GatewayURL == "" {
		errs = append(errs, errors.New("AI_GATEWAY_URL must be set"))
	}
	if cfg.HostAVoice == "" {
		errs = append(errs, errors.New("PODCAST_HOST_A_VOICE must be set"))
	}
	if cfg.HostBVoice == "" {
		errs = append(errs, errors.New("PODCAST_HOST_B_VOICE must be set"))
	}
	errs = append(errs, validateLogLevel(cfg.LogLevel))
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDB reads the DB_* block.
func loadDB() (DB, error) {
	var errs []error
	db := DB{
		User: os.Getenv("DB_USER"),
		Pass: os.Getenv("DB_PASS"),
		Host: os.Getenv("DB_HOST"),
		Name: os.Getenv("DB_NAME"),
	}
	db.Port, errs = appendIntEnv(errs, "DB_PORT", 5432)
	for _, pair := range [][2]string{
		{"DB_USER", db.User}, {"DB_HOST", db.Host}, {"DB_NAME", db.Name},
	} {
		if pair[1] == "" {
			errs = append(errs, fmt.Errorf("%s must be set", pair[0]))
		}
	}
	return db, errors.Join(errs...)
}

// loadBroker reads the RABBITMQ_* block.
func loadBroker() (Broker, error) {
	var errs []error
	b := Broker{
		Host:      os.Getenv("RABBITMQ_HOST"),
		User:      envOr("RABBITMQ_USER", "guest"),
		Pass:      envOr("RABBITMQ_PASSWORD", "guest"),
		Heartbeat: envDuration("RABBITMQ_HEARTBEAT", 600*time.Second),
	}
	b.Port, errs = appendIntEnv(errs, "RABBITMQ_PORT", 5672)
	if b.Host == "" {
		errs = append(errs, errors.New("RABBITMQ_HOST must be set"))
	}
	return b, errors.Join(errs...)
}

// loadS3 reads the S3_* block.
func loadS3() (S3, error) {
	var errs []error
	s := S3{
		Endpoint:       os.Getenv("S3_ENDPOINT"),
		AccessKey:      os.Getenv("S3_ACCESS_KEY"),
		SecretKey:      os.Getenv("S3_SECRET_KEY"),
		UseSSL:         os.Getenv("S3_USE_SSL") == "true",
		UploadsBucket:  envOr("S3_UPLOADS_BUCKET", "fylr-uploads"),
		PodcastsBucket: envOr("S3_PODCASTS_BUCKET", "fylr-podcasts"),
	}
	for _, pair := range [][2]string{
		{"S3_ENDPOINT", s.Endpoint}, {"S3_ACCESS_KEY", s.AccessKey}, {"S3_SECRET_KEY", s.SecretKey},
	} {
		if pair[1] == "" {
			errs = append(errs, fmt.Errorf("%s must be set", pair[0]))
		}
	}
	return s, errors.Join(errs...)
}

func validateLogLevel(level string) error {
	switch level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("LOG_LEVEL %q is not one of debug, info, warn, error", level)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// appendIntEnv parses an integer env var, appending a parse error to errs.
func appendIntEnv(errs []error, key string, fallback int) (int, []error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, errs
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback, append(errs, fmt.Errorf("%s %q is not an integer", key, v))
	}
	return n, errs
}

// splitList splits a comma-separated env value, dropping empty elements.
func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
