package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/seqflow-labs/seqflow-go/internal/platform/env"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool

	// BucketData holds pipeline work dirs and results, under the
	// work/<job id> and results/<job id> prefixes.
	BucketData string
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("SEQFLOW_MINIO_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:   env.String("SEQFLOW_MINIO_ENDPOINT", "localhost:9000"),
		AccessKey:  env.String("SEQFLOW_MINIO_ACCESS_KEY", "seqflow"),
		SecretKey:  env.String("SEQFLOW_MINIO_SECRET_KEY", "seqflowminio"),
		Region:     env.String("SEQFLOW_MINIO_REGION", "us-east-1"),
		UseSSL:     useSSL,
		BucketData: env.String("SEQFLOW_MINIO_BUCKET_DATA", "pipeline-data"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.TrimSpace(c.BucketData) == "" {
		return errors.New("data bucket is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}
