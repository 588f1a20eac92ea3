package eventarchive

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/feedbird/feedbird/internal/pkg/env"
)

// Config holds event archive configuration
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string // Optional for S3-compatible services
	Enabled         bool
	RetentionDays   int
}

// LoadConfig loads archive configuration from environment variables
func LoadConfig() (*Config, error) {
	retentionDays := 90
	if v, err := strconv.Atoi(env.GetEnv("EVENT_RETENTION_DAYS", "90")); err == nil && v > 0 {
		retentionDays = v
	}

	config := &Config{
		AccessKeyID:     env.GetEnv("S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: env.GetEnv("S3_SECRET_ACCESS_KEY", ""),
		Region:          env.GetEnv("S3_REGION", "us-west-001"),
		BucketName:      env.GetEnv("S3_BUCKET_NAME", ""),
		EndpointURL:     env.GetEnv("S3_ENDPOINT_URL", ""),
		Enabled:         env.GetEnv("EVENT_ARCHIVE_ENABLED", "false") == "true",
		RetentionDays:   retentionDays,
	}

	// Validate required fields if archiving is enabled
	if config.Enabled {
		if config.AccessKeyID == "" {
			return nil, errors.New("S3_ACCESS_KEY_ID is required when event archiving is enabled")
		}
		if config.SecretAccessKey == "" {
			return nil, errors.New("S3_SECRET_ACCESS_KEY is required when event archiving is enabled")
		}
		if config.BucketName == "" {
			return nil, errors.New("S3_BUCKET_NAME is required when event archiving is enabled")
		}
	}

	return config, nil
}

// IsEnabled returns true if event archiving is enabled
func (c *Config) IsEnabled() bool {
	return c.Enabled
}

// RetentionWindow returns how long processed events stay in the database.
func (c *Config) RetentionWindow() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// GetObjectKey generates a standardized S3 object key for a webhook event
func (c *Config) GetObjectKey(provider, providerEventID string, processedAt time.Time) string {
	// Format: webhook-events/<provider>/YYYY/MM/<event-id>.json
	return fmt.Sprintf("webhook-events/%s/%04d/%02d/%s.json",
		provider, processedAt.Year(), int(processedAt.Month()), providerEventID)
}
