package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"mtman/internal/orchestrator"
	"mtman/internal/store"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// report json key names instead of Go field names
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Validate checks field ranges and the cross-field rules the struct tags
// cannot express.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config: nil")
	}
	if err := validatorInstance().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, describe(fe))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return err
	}

	switch strings.ToLower(cfg.Store.Driver) {
	case "postgres", "postgresql", "pgx":
		if strings.TrimSpace(cfg.Store.DSN) == "" {
			return errors.New("invalid config: store.dsn is required for the postgres driver")
		}
	}

	for path, raw := range map[string]string{
		"retry_delay":        cfg.RetryDelay,
		"poll_interval":      cfg.PollInterval,
		"kill_grace":         cfg.KillGrace,
		"store.busy_timeout": cfg.Store.BusyTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
	}
	return nil
}

func describe(fe validator.FieldError) string {
	path := fe.Namespace()
	if i := strings.IndexByte(path, '.'); i >= 0 {
		path = path[i+1:]
	}
	switch fe.Tag() {
	case "gte":
		return fmt.Sprintf("%s: must be >= %s", path, fe.Param())
	case "gt":
		return fmt.Sprintf("%s: must be > %s", path, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s: must be one of [%s]", path, fe.Param())
	default:
		return fmt.Sprintf("%s: failed %q", path, fe.Tag())
	}
}

// Settings is a validated config with every default applied.
type Settings struct {
	Orchestrator orchestrator.Config
	IPCDirectory string
	LogLevel     string
	LogFile      string
	WorkerMode   string
	// Store has no RunID; the manager assigns one per run.
	Store store.Config
}

// Resolve validates cfg and applies defaults. A nil cfg yields the defaults.
func Resolve(cfg *Config) (Settings, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if err := Validate(cfg); err != nil {
		return Settings{}, err
	}

	oc := orchestrator.DefaultConfig()
	oc.ConcurrencyLimit = defaultConcurrency
	oc.TimeLimit = defaultTimeLimit
	oc.MaxRetries = defaultMaxRetries
	if cfg.ConcurrencyLimit != nil {
		oc.ConcurrencyLimit = *cfg.ConcurrencyLimit
	}
	if cfg.TimeLimitSeconds != nil {
		oc.TimeLimit = secondsToDuration(*cfg.TimeLimitSeconds)
	}
	if cfg.MaxRetries != nil {
		oc.MaxRetries = *cfg.MaxRetries
	}

	var err error
	if oc.RetryDelay, err = ParseDurationOrDefault("retry_delay", cfg.RetryDelay, defaultRetryDelay); err != nil {
		return Settings{}, err
	}
	if oc.PollInterval, err = ParseDurationOrDefault("poll_interval", cfg.PollInterval, defaultPollInterval); err != nil {
		return Settings{}, err
	}
	if oc.KillGrace, err = ParseDurationOrDefault("kill_grace", cfg.KillGrace, defaultKillGrace); err != nil {
		return Settings{}, err
	}
	oc.SpawnRatePerSec = cfg.SpawnRatePerSec
	oc.SpawnBurst = cfg.SpawnBurst

	s := Settings{
		IPCDirectory: strings.TrimSpace(cfg.IPCDirectory),
		LogLevel:     strings.ToLower(strings.TrimSpace(cfg.LogLevel)),
		LogFile:      strings.TrimSpace(cfg.LogFile),
		WorkerMode:   strings.TrimSpace(cfg.WorkerMode),
	}
	if s.IPCDirectory == "" {
		s.IPCDirectory = DefaultIPCDirectory()
	}
	if s.LogLevel == "" {
		s.LogLevel = defaultLogLevel
	}
	if s.WorkerMode == "" {
		s.WorkerMode = WorkerModeProcess
	}
	oc.WorkerLogLevel = s.LogLevel

	busy, err := ParseDurationOrDefault("store.busy_timeout", cfg.Store.BusyTimeout, defaultBusyTimeout)
	if err != nil {
		return Settings{}, err
	}
	s.Store = store.Config{
		Driver:      strings.ToLower(strings.TrimSpace(cfg.Store.Driver)),
		Dir:         s.IPCDirectory,
		Path:        strings.TrimSpace(cfg.Store.Path),
		DSN:         strings.TrimSpace(cfg.Store.DSN),
		BusyTimeout: busy,
	}
	if s.Store.Driver == "" {
		s.Store.Driver = "file"
	}
	if s.Store.Path == "" && (s.Store.Driver == "sqlite" || s.Store.Driver == "sqlite3") {
		s.Store.Path = filepath.Join(s.IPCDirectory, "mtman.db")
	}

	s.Orchestrator = oc
	return s, nil
}
