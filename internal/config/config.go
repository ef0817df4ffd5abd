package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"aaronromeo.com/mailsweep/pkg/base"
	"gopkg.in/yaml.v3"
)

const (
	EnvConfigPath  = "MAILSWEEP_CONFIG"
	envConfirmCode = "MAILSWEEP_CONFIRM_CODE"
	envS3Endpoint  = "MAILSWEEP_S3_ENDPOINT"
	envS3Region    = "MAILSWEEP_S3_REGION"
	envS3Bucket    = "MAILSWEEP_S3_BUCKET"
	envS3Key       = "MAILSWEEP_S3_KEY"
	envS3Secret    = "MAILSWEEP_S3_SECRET"
)

// Config holds non-secret configuration loaded from YAML. Credentials stay
// in the environment, referenced by name from each account.
type Config struct {
	Accounts []base.Account `yaml:"accounts"`
	Defaults Defaults       `yaml:"defaults"`
	Audit    Audit          `yaml:"audit"`
}

// Defaults are run-level knobs consumed, not owned, by the engine.
type Defaults struct {
	MinAge      string `yaml:"min_age"`
	DryRun      *bool  `yaml:"dry_run"`
	Concurrency int    `yaml:"concurrency"`
	Interval    string `yaml:"interval"`
}

// Audit configures where deletion history lands.
type Audit struct {
	Path       string `yaml:"path"`
	ArchiveDir string `yaml:"archive_dir"`
}

// S3Env holds the object storage settings for audit archival.
type S3Env struct {
	Endpoint string
	Region   string
	Bucket   string
	Key      string
	Secret   string
}

// Load reads configuration from a YAML file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}

	for i := range cfg.Accounts {
		if cfg.Accounts[i].Provider == "" {
			cfg.Accounts[i].Provider = base.ProviderFromAddress(cfg.Accounts[i].Email)
		}
	}

	return cfg, nil
}

// Validate performs basic validation on non-secret config.
func Validate(cfg Config) error {
	if len(cfg.Accounts) == 0 {
		return errors.New("config must define at least one account")
	}
	seen := map[string]bool{}
	for i, account := range cfg.Accounts {
		if strings.TrimSpace(account.ID) == "" {
			return fmt.Errorf("account %d must define an id", i+1)
		}
		if seen[account.ID] {
			return fmt.Errorf("duplicate account id %q", account.ID)
		}
		seen[account.ID] = true
		if strings.TrimSpace(account.Email) == "" {
			return fmt.Errorf("account %q must define an email", account.ID)
		}
		if strings.TrimSpace(account.CredentialRef) == "" {
			return fmt.Errorf("account %q must define a credential_ref", account.ID)
		}
	}

	if _, err := MinAge(cfg); err != nil {
		return fmt.Errorf("invalid defaults.min_age: %w", err)
	}
	if _, err := Interval(cfg); err != nil {
		return fmt.Errorf("invalid defaults.interval: %w", err)
	}
	if cfg.Defaults.Concurrency < 0 {
		return errors.New("defaults.concurrency must not be negative")
	}
	return nil
}

// ParseRelativeDuration parses a duration, additionally accepting a "d"
// suffix for days.
func ParseRelativeDuration(value string) (time.Duration, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, nil
	}
	if strings.HasSuffix(trimmed, "d") {
		daysValue := strings.TrimSuffix(trimmed, "d")
		days, err := strconv.ParseFloat(strings.TrimSpace(daysValue), 64)
		if err != nil {
			return 0, err
		}
		if days < 0 {
			return 0, errors.New("duration must be positive")
		}
		return time.Duration(days * float64(24*time.Hour)), nil
	}
	dur, err := time.ParseDuration(trimmed)
	if err != nil {
		return 0, err
	}
	if dur < 0 {
		return 0, errors.New("duration must be positive")
	}
	return dur, nil
}

// MinAge returns the configured default minimum age, defaulting to an hour.
func MinAge(cfg Config) (time.Duration, error) {
	if strings.TrimSpace(cfg.Defaults.MinAge) == "" {
		return time.Hour, nil
	}
	return ParseRelativeDuration(cfg.Defaults.MinAge)
}

// Interval returns the scheduled cleanup interval, defaulting to an hour.
func Interval(cfg Config) (time.Duration, error) {
	if strings.TrimSpace(cfg.Defaults.Interval) == "" {
		return time.Hour, nil
	}
	return ParseRelativeDuration(cfg.Defaults.Interval)
}

// DryRunDefault reports whether runs default to dry-run. Absent config
// means dry-run: deletion must be opted into.
func DryRunDefault(cfg Config) bool {
	if cfg.Defaults.DryRun == nil {
		return true
	}
	return *cfg.Defaults.DryRun
}

// AuditPath returns the audit log location, defaulting next to the binary.
func AuditPath(cfg Config) string {
	if strings.TrimSpace(cfg.Audit.Path) == "" {
		return base.AuditLogFile
	}
	return cfg.Audit.Path
}

// ConfirmCodeMatches reports whether code unlocks live deletion. With no
// configured code live mode stays locked.
func ConfirmCodeMatches(code string) bool {
	expected := strings.TrimSpace(os.Getenv(envConfirmCode))
	if expected == "" {
		return false
	}
	return strings.TrimSpace(code) == expected
}

// S3FromEnv loads the audit archival settings. Returns ok=false when
// archival is not configured.
func S3FromEnv() (S3Env, bool, error) {
	bucket := strings.TrimSpace(os.Getenv(envS3Bucket))
	if bucket == "" {
		return S3Env{}, false, nil
	}

	missing := []string{}
	region := strings.TrimSpace(os.Getenv(envS3Region))
	if region == "" {
		missing = append(missing, envS3Region)
	}
	key := strings.TrimSpace(os.Getenv(envS3Key))
	if key == "" {
		missing = append(missing, envS3Key)
	}
	secret := strings.TrimSpace(os.Getenv(envS3Secret))
	if secret == "" {
		missing = append(missing, envS3Secret)
	}
	if len(missing) > 0 {
		return S3Env{}, false, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	return S3Env{
		Endpoint: strings.TrimSpace(os.Getenv(envS3Endpoint)),
		Region:   region,
		Bucket:   bucket,
		Key:      key,
		Secret:   secret,
	}, true, nil
}

// Summary returns a concise config summary for validation runs.
func Summary(cfg Config) string {
	minAge, _ := MinAge(cfg)
	mode := "dry-run"
	if !DryRunDefault(cfg) {
		mode = "live"
	}
	return fmt.Sprintf(
		"Config summary\n"+
			"- accounts: %d\n"+
			"- default mode: %s\n"+
			"- minimum age: %s\n"+
			"- audit log: %s",
		len(cfg.Accounts),
		mode,
		minAge,
		AuditPath(cfg),
	)
}
