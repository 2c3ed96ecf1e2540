package cfg

import (
	"io/fs"
	"time"

	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/Blackdeer1524/TxnCoord/src/deadlock"
	"github.com/Blackdeer1524/TxnCoord/src/retry"
)

const EnvPrefix = "TXCOORD"

const (
	EnvDev  Environment = "dev"
	EnvProd Environment = "prod"

	DefaultEnv = EnvDev
)

type Environment string

func (e Environment) Validate() error {
	if e != EnvDev && e != EnvProd {
		return errors.New("environment must be either dev or prod")
	}

	return nil
}

type Config struct {
	Environment Environment `default:"dev"`

	LockTimeout       time.Duration `split_words:"true" default:"5s"`
	DetectionMode     deadlock.Mode `split_words:"true" default:"sync"`
	DetectionInterval time.Duration `split_words:"true" default:"50ms"`

	RetryMaxAttempts    int           `split_words:"true" default:"10"`
	RetryInitialBackoff time.Duration `split_words:"true" default:"1ms"`
	RetryMaxBackoff     time.Duration `split_words:"true" default:"100ms"`
	RetryMultiplier     float64       `split_words:"true" default:"2"`
	RetryJitter         float64       `split_words:"true" default:"0.2"`

	ValidateReadSet   bool  `split_words:"true" default:"false"`
	FinishedCacheSize int64 `split_words:"true" default:"10000"`
}

// Default returns the configuration used when nothing is set in the
// environment.
func Default() Config {
	p := retry.DefaultPolicy()
	return Config{
		Environment:         DefaultEnv,
		LockTimeout:         5 * time.Second,
		DetectionMode:       deadlock.ModeSynchronous,
		DetectionInterval:   50 * time.Millisecond,
		RetryMaxAttempts:    p.MaxAttempts,
		RetryInitialBackoff: p.InitialBackoff,
		RetryMaxBackoff:     p.MaxBackoff,
		RetryMultiplier:     p.Multiplier,
		RetryJitter:         p.Jitter,
		FinishedCacheSize:   10000,
	}
}

// Load reads the .env file at path (the working directory's .env when path is
// empty and the file exists) and then the TXCOORD_* environment variables.
func Load(path string) (Config, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return Config{}, errors.Wrapf(err, "load env file %q", path)
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, errors.Wrap(err, "load .env")
	}

	var c Config
	if err := envconfig.Process(EnvPrefix, &c); err != nil {
		return Config{}, errors.Wrap(err, "process env")
	}

	if err := c.Validate(); err != nil {
		return Config{}, errors.Wrap(err, "validate config")
	}
	return c, nil
}

func (c Config) Validate() error {
	if err := c.Environment.Validate(); err != nil {
		return err
	}
	if err := c.DetectionMode.Validate(); err != nil {
		return err
	}
	if c.DetectionMode == deadlock.ModePeriodic && c.DetectionInterval <= 0 {
		return errors.New("periodic detection needs a positive interval")
	}
	if err := c.RetryPolicy().Validate(); err != nil {
		return errors.Wrap(err, "retry policy")
	}
	if c.FinishedCacheSize < 1 {
		return errors.Errorf("finished cache size must be positive, got %d", c.FinishedCacheSize)
	}
	return nil
}

func (c Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:    c.RetryMaxAttempts,
		InitialBackoff: c.RetryInitialBackoff,
		MaxBackoff:     c.RetryMaxBackoff,
		Multiplier:     c.RetryMultiplier,
		Jitter:         c.RetryJitter,
	}
}
