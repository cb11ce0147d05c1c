package objectstore

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/yungbote/botforge-backend/internal/platform/envutil"
)

type Provider string

const (
	ProviderS3          Provider = "s3"
	ProviderGCS         Provider = "gcs"
	ProviderGCSEmulator Provider = "gcs_emulator"
	ProviderMemory      Provider = "memory"
)

type Config struct {
	Provider Provider

	Bucket        string
	PublicBaseURL string
	PresignTTL    time.Duration

	// S3 / R2
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool

	// GCS
	CredentialsJSONOrFile string
	EmulatorHost          string
}

// ConfigFromEnv reads OBJECT_STORAGE_PROVIDER and the provider-specific keys. An
// unset provider falls back to s3 when S3_BUCKET_NAME is set, gcs when GCS_BUCKET_NAME
// is set, and memory otherwise.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		Provider:        Provider(strings.ToLower(envutil.String("OBJECT_STORAGE_PROVIDER", ""))),
		PublicBaseURL:   strings.TrimRight(envutil.String("OBJECT_STORAGE_PUBLIC_BASE_URL", ""), "/"),
		PresignTTL:      envutil.Duration("OBJECT_STORAGE_PRESIGN_TTL", DefaultPresignTTL),
		Region:          envutil.String("S3_REGION", "auto"),
		Endpoint:        envutil.String("S3_ENDPOINT", ""),
		AccessKeyID:     envutil.String("S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: envutil.String("S3_SECRET_ACCESS_KEY", ""),
		UsePathStyle:    envutil.Bool("S3_USE_PATH_STYLE", false),
		EmulatorHost:    envutil.String("STORAGE_EMULATOR_HOST", ""),
	}
	cfg.CredentialsJSONOrFile = envutil.String("GOOGLE_APPLICATION_CREDENTIALS_JSON", envutil.String("GOOGLE_APPLICATION_CREDENTIALS", ""))

	s3Bucket := envutil.String("S3_BUCKET_NAME", "")
	gcsBucket := envutil.String("GCS_BUCKET_NAME", "")
	if cfg.Provider == "" {
		switch {
		case s3Bucket != "":
			cfg.Provider = ProviderS3
		case gcsBucket != "" && cfg.EmulatorHost != "":
			cfg.Provider = ProviderGCSEmulator
		case gcsBucket != "":
			cfg.Provider = ProviderGCS
		default:
			cfg.Provider = ProviderMemory
		}
	}
	switch cfg.Provider {
	case ProviderS3:
		cfg.Bucket = s3Bucket
	case ProviderGCS, ProviderGCSEmulator:
		cfg.Bucket = gcsBucket
	}
	return cfg, cfg.Validate()
}

type ConfigErrorCode string

const (
	ConfigErrorInvalidProvider     ConfigErrorCode = "invalid_provider"
	ConfigErrorMissingBucket       ConfigErrorCode = "missing_bucket"
	ConfigErrorMissingCredentials  ConfigErrorCode = "missing_credentials"
	ConfigErrorMissingEmulatorHost ConfigErrorCode = "missing_emulator_host"
	ConfigErrorInvalidURL          ConfigErrorCode = "invalid_url"
)

type ConfigError struct {
	Code     ConfigErrorCode
	Provider string
	Value    string
	Cause    error
}

func (e *ConfigError) Error() string {
	if e == nil {
		return "invalid object storage config"
	}
	switch e.Code {
	case ConfigErrorInvalidProvider:
		return fmt.Sprintf("invalid OBJECT_STORAGE_PROVIDER=%q (allowed: %q, %q, %q, %q)",
			e.Provider, ProviderS3, ProviderGCS, ProviderGCSEmulator, ProviderMemory)
	case ConfigErrorMissingBucket:
		return fmt.Sprintf("OBJECT_STORAGE_PROVIDER=%q requires a bucket name", e.Provider)
	case ConfigErrorMissingCredentials:
		return fmt.Sprintf("OBJECT_STORAGE_PROVIDER=%q requires S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY", e.Provider)
	case ConfigErrorMissingEmulatorHost:
		return fmt.Sprintf("OBJECT_STORAGE_PROVIDER=%q requires STORAGE_EMULATOR_HOST to be set", e.Provider)
	case ConfigErrorInvalidURL:
		return fmt.Sprintf("invalid URL %q; expected an absolute URL like http://localhost:4443", e.Value)
	default:
		return "invalid object storage config"
	}
}

func (e *ConfigError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func (cfg Config) Validate() error {
	p := string(cfg.Provider)
	switch cfg.Provider {
	case ProviderMemory:
		return nil
	case ProviderS3:
		if cfg.Bucket == "" {
			return &ConfigError{Code: ConfigErrorMissingBucket, Provider: p}
		}
		if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
			return &ConfigError{Code: ConfigErrorMissingCredentials, Provider: p}
		}
		if cfg.Endpoint != "" {
			if err := validateAbsURL(cfg.Endpoint); err != nil {
				return err
			}
		}
	case ProviderGCS:
		if cfg.Bucket == "" {
			return &ConfigError{Code: ConfigErrorMissingBucket, Provider: p}
		}
	case ProviderGCSEmulator:
		if cfg.Bucket == "" {
			return &ConfigError{Code: ConfigErrorMissingBucket, Provider: p}
		}
		if cfg.EmulatorHost == "" {
			return &ConfigError{Code: ConfigErrorMissingEmulatorHost, Provider: p}
		}
		if err := validateAbsURL(cfg.EmulatorHost); err != nil {
			return err
		}
	default:
		return &ConfigError{Code: ConfigErrorInvalidProvider, Provider: p}
	}
	if cfg.PublicBaseURL != "" {
		return validateAbsURL(cfg.PublicBaseURL)
	}
	return nil
}

func validateAbsURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || strings.TrimSpace(u.Scheme) == "" || strings.TrimSpace(u.Host) == "" {
		return &ConfigError{Code: ConfigErrorInvalidURL, Value: raw, Cause: err}
	}
	return nil
}
