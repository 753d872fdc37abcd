package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Env        string `env:"ENV" envDefault:"dev"`
	ServerPort int    `env:"SERVER_PORT" envDefault:"8080"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`

	// UploadTempDir is where multipart files are spooled before upload.
	UploadTempDir string `env:"UPLOAD_TEMP_DIR"`

	// RequireCoverImage rejects registrations without a cover image.
	// When false a missing cover image is stored as an empty reference.
	RequireCoverImage bool `env:"REQUIRE_COVER_IMAGE" envDefault:"false"`

	// CORSOrigins are the browser origins allowed to call the API with
	// credentials. Empty disables CORS.
	CORSOrigins []string `env:"CORS_ORIGIN" envSeparator:","`

	// EventsChannel is the queue/topic user events are published to.
	EventsChannel string `env:"EVENTS_CHANNEL" envDefault:"user-events"`

	Auth       AuthConfig
	Google     GoogleConfig     `envPrefix:"GOOGLE_"`
	Database   DatabaseConfig   `envPrefix:"DB_"`
	Mongo      MongoConfig      `envPrefix:"MONGO_"`
	Media      MediaConfig      `envPrefix:"MEDIA_"`
	Minio      MinioConfig      `envPrefix:"MINIO_"`
	GCS        GCSConfig        `envPrefix:"GCS_"`
	Cloudinary CloudinaryConfig `envPrefix:"CLOUDINARY_"`
	MQ         MQConfig         `envPrefix:"MQ_"`
	RabbitMQ   RabbitMQConfig   `envPrefix:"RABBITMQ_"`
	PubSub     PubSubConfig     `envPrefix:"PUBSUB_"`
}

type AuthConfig struct {
	AccessTokenSecret  string        `env:"ACCESS_TOKEN_SECRET"`
	AccessTokenExpiry  time.Duration `env:"ACCESS_TOKEN_EXPIRY" envDefault:"15m"`
	RefreshTokenSecret string        `env:"REFRESH_TOKEN_SECRET"`
	RefreshTokenExpiry time.Duration `env:"REFRESH_TOKEN_EXPIRY" envDefault:"240h"`
}

type GoogleConfig struct {
	ClientID        string `env:"CLIENT_ID"`
	CredentialsFile string `env:"CREDENTIALS_FILE"`
}

type DatabaseConfig struct {
	// Driver selects the user repository backend: postgres, mongo or memory.
	Driver   string `env:"DRIVER" envDefault:"postgres"`
	Host     string `env:"HOST" envDefault:"localhost"`
	Port     int    `env:"PORT" envDefault:"5432"`
	User     string `env:"USER" envDefault:"mytube"`
	Password string `env:"PASSWORD" envDefault:"password"`
	DBName   string `env:"NAME" envDefault:"mytube_db"`
	UseSSL   bool   `env:"USE_SSL" envDefault:"false"`
}

type MongoConfig struct {
	URI        string `env:"URI" envDefault:"mongodb://localhost:27017"`
	Database   string `env:"DATABASE" envDefault:"mytube"`
	Collection string `env:"COLLECTION" envDefault:"users"`
}

type MediaConfig struct {
	// Backend selects the media store: minio, gcs or cloudinary.
	Backend       string `env:"BACKEND" envDefault:"minio"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL"`
	KeyPrefix     string `env:"KEY_PREFIX" envDefault:"media"`
}

type MinioConfig struct {
	Endpoint  string `env:"ENDPOINT" envDefault:"localhost:9000"`
	AccessKey string `env:"ACCESS_KEY"`
	SecretKey string `env:"SECRET_KEY"`
	Bucket    string `env:"BUCKET" envDefault:"mytube-media"`
	UseSSL    bool   `env:"USE_SSL" envDefault:"false"`
}

type GCSConfig struct {
	Bucket          string `env:"BUCKET"`
	ProjectID       string `env:"PROJECT_ID"`
	CredentialsFile string `env:"CREDENTIALS_FILE"`
}

type CloudinaryConfig struct {
	CloudName string `env:"CLOUD_NAME"`
	APIKey    string `env:"API_KEY"`
	APISecret string `env:"API_SECRET"`
	Folder    string `env:"FOLDER"`
}

type MQConfig struct {
	// Backend selects the event broker: rabbitmq, pubsub, or empty to disable.
	Backend string `env:"BACKEND"`
}

type RabbitMQConfig struct {
	URL             string `env:"URL"`
	QueueDurable    bool   `env:"QUEUE_DURABLE" envDefault:"true"`
	QueueAutoDelete bool   `env:"QUEUE_AUTO_DELETE" envDefault:"false"`
	PrefetchCount   int    `env:"PREFETCH_COUNT" envDefault:"10"`
	// QueueSuffix names the shared subscriber queue: <channel><suffix>.
	QueueSuffix     string `env:"QUEUE_SUFFIX" envDefault:".consumers"`
}

type PubSubConfig struct {
	ProjectID          string `env:"PROJECT_ID"`
	CredentialsFile    string `env:"CREDENTIALS_FILE"`
	SubscriptionSuffix string `env:"SUBSCRIPTION_SUFFIX" envDefault:"-sub"`
}

// IsProduction reports whether the server runs with production settings.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

func LoadConfig() (Config, error) {
	if os.Getenv("ENV") == "" || os.Getenv("ENV") == "dev" {
		_ = godotenv.Load()
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks settings that have no usable default.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Auth.AccessTokenSecret) == "" {
		return errors.New("ACCESS_TOKEN_SECRET is required")
	}
	if strings.TrimSpace(c.Auth.RefreshTokenSecret) == "" {
		return errors.New("REFRESH_TOKEN_SECRET is required")
	}
	if c.Auth.AccessTokenExpiry <= 0 || c.Auth.RefreshTokenExpiry <= 0 {
		return errors.New("token expiry must be positive")
	}
	switch c.Database.Driver {
	case "postgres", "mongo", "memory":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	switch c.Media.Backend {
	case "minio", "gcs", "cloudinary":
	default:
		return fmt.Errorf("unsupported MEDIA_BACKEND %q", c.Media.Backend)
	}
	switch c.MQ.Backend {
	case "", "rabbitmq", "pubsub":
	default:
		return fmt.Errorf("unsupported MQ_BACKEND %q", c.MQ.Backend)
	}
	return nil
}
