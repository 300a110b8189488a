// Package config loads worker configuration. Backend endpoints and
// credentials come from the environment; the scrape policy comes from a
// YAML file so it can be tuned without rebuilding.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/teledash/teledash/internal/domain/chat"
)

// Mongo holds document-store connection settings.
type Mongo struct {
	Host     string
	User     string
	Password string
	Database string
}

// Storage holds object-store connection settings.
type Storage struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// Kafka holds task-transport settings. An empty broker list selects the
// in-process queue.
type Kafka struct {
	Brokers  []string
	Topic    string
	GroupID  string
	ClientID string
}

// OCR holds text-recognition settings.
type OCR struct {
	Enabled bool `yaml:"enabled"`
}

// ASR holds speech-recognition settings. Transcription only runs for
// attachments whose chat language matches Language.
type ASR struct {
	Enabled  bool   `yaml:"enabled"`
	Language string `yaml:"language"`
}

// Scrape is the tunable scraping policy.
type Scrape struct {
	// MaxDays bounds how far back message history is fetched; zero or
	// negative means unbounded.
	MaxDays int `yaml:"max_days"`

	// IntervalMinutes is the partitioning-round cadence. Chats scraped
	// within the last interval are excluded from the next round.
	IntervalMinutes int `yaml:"interval_minutes"`

	// AttachmentTypes is the allow-list of attachment types to download.
	AttachmentTypes []string `yaml:"attachment_types"`

	// RetentionDays bounds how long attachment files are kept in the
	// object store; zero means indefinitely and disables purging.
	RetentionDays int `yaml:"retention_days"`

	// FallbackLanguage is used for recognition when a message carries no
	// detected language.
	FallbackLanguage string `yaml:"fallback_language"`

	OCR OCR `yaml:"ocr"`
	ASR ASR `yaml:"asr"`
}

// Config is the complete worker configuration.
type Config struct {
	Mongo   Mongo
	Storage Storage
	Kafka   Kafka
	Scrape  Scrape
}

// Load reads backend settings from the environment and the scrape policy
// from the YAML file at policyPath.
func Load(policyPath string) (*Config, error) {
	cfg := Config{
		Mongo: Mongo{
			Host:     os.Getenv("MONGO_HOST"),
			User:     os.Getenv("MONGO_USER"),
			Password: os.Getenv("MONGO_PASSWORD"),
			Database: os.Getenv("MONGO_DB_NAME"),
		},
		Storage: Storage{
			Endpoint:  os.Getenv("STORAGE_ENDPOINT"),
			AccessKey: os.Getenv("STORAGE_ACCESS_KEY"),
			SecretKey: os.Getenv("STORAGE_SECRET_KEY"),
		},
		Kafka: Kafka{
			Topic:    os.Getenv("KAFKA_UNITS_TOPIC"),
			GroupID:  os.Getenv("KAFKA_GROUP_ID"),
			ClientID: os.Getenv("KAFKA_CLIENT_ID"),
		},
	}

	if v := os.Getenv("STORAGE_USE_SSL"); v != "" {
		useSSL, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("parsing STORAGE_USE_SSL: %w", err)
		}
		cfg.Storage.UseSSL = useSSL
	}

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}

	scrape, err := LoadScrape(policyPath)
	if err != nil {
		return nil, err
	}
	cfg.Scrape = *scrape

	return &cfg, nil
}

// LoadScrape reads and validates the scrape policy file.
func LoadScrape(path string) (*Scrape, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scrape policy: %w", err)
	}

	var scrape Scrape
	if err := yaml.Unmarshal(data, &scrape); err != nil {
		return nil, fmt.Errorf("parsing scrape policy: %w", err)
	}

	if err := scrape.Validate(); err != nil {
		return nil, err
	}

	return &scrape, nil
}

// Validate checks the scrape policy for values the worker cannot run with.
func (s *Scrape) Validate() error {
	if s.IntervalMinutes <= 0 {
		return fmt.Errorf("interval_minutes must be positive, got %d", s.IntervalMinutes)
	}

	for _, t := range s.AttachmentTypes {
		if _, ok := chat.KnownAttachmentTypes[chat.AttachmentType(t)]; !ok {
			return fmt.Errorf("attachment_types contains unknown type %q", t)
		}
	}

	if s.ASR.Enabled && s.ASR.Language == "" {
		return fmt.Errorf("asr.language must be set when asr is enabled")
	}

	return nil
}

// WantsAttachment reports whether the given attachment type is in the
// allow-list.
func (s *Scrape) WantsAttachment(t chat.AttachmentType) bool {
	for _, want := range s.AttachmentTypes {
		if chat.AttachmentType(want) == t {
			return true
		}
	}
	return false
}
