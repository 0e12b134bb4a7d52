package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Profile names. Input and output are selected independently.
const (
	ProfileLocal  = "local"
	ProfileRemote = "remote"
)

// Config mirrors config/config.yaml.
type Config struct {
	AWS    AWSConfig     `mapstructure:"aws"`
	Local  ProfileConfig `mapstructure:"local"`
	Remote ProfileConfig `mapstructure:"remote"`
	Run    RunConfig     `mapstructure:"run"`
}

// AWSConfig feeds the S3 session. Secrets are normally supplied through the
// environment or .env rather than the YAML file.
type AWSConfig struct {
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	SessionToken    string `mapstructure:"session_token"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
}

// ProfileConfig names the data locations of one profile. Each may be a local
// path or glob, or an s3:// URI.
type ProfileConfig struct {
	SongData   string `mapstructure:"song_data"`
	LogData    string `mapstructure:"log_data"`
	OutputPath string `mapstructure:"output_path"`
}

type RunConfig struct {
	Input       string        `mapstructure:"input"`       // profile read from
	Output      string        `mapstructure:"output"`      // profile written to
	Workers     int           `mapstructure:"workers"`     // shards processed concurrently
	TimeZone    string        `mapstructure:"timezone"`    // session zone for event timestamps
	Compression string        `mapstructure:"compression"` // parquet codec
	Match       string        `mapstructure:"match"`       // exact or folded
	Timeout     time.Duration `mapstructure:"timeout"`
	StatsPath   string        `mapstructure:"stats_path"` // empty disables the stats file
	LogLevel    string        `mapstructure:"log_level"`
	LogFormat   string        `mapstructure:"log_format"` // text or json
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("aws.region", "us-west-2")
	v.SetDefault("run.input", ProfileLocal)
	v.SetDefault("run.output", ProfileLocal)
	v.SetDefault("run.workers", 4)
	v.SetDefault("run.timezone", "UTC")
	v.SetDefault("run.compression", "snappy")
	v.SetDefault("run.match", "exact")
	v.SetDefault("run.timeout", 6*time.Hour)
	v.SetDefault("run.stats_path", "etl_stats.json")
	v.SetDefault("run.log_level", "info")
	v.SetDefault("run.log_format", "text")
}

// flagKeys maps command line flags onto configuration keys.
var flagKeys = map[string]string{
	"input":     "run.input",
	"output":    "run.output",
	"workers":   "run.workers",
	"timezone":  "run.timezone",
	"log-level": "run.log_level",
	"stats":     "run.stats_path",
}

// Load reads the configuration file at path, or config/config.yaml when path is
// empty. A .env file, when present, is loaded first and the AWS_* variables
// override the file. Flags that were set on the command line win over both.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	v.SetTypeByDefaultValue(true)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	overrideFromEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func overrideFromEnv(cfg *Config) {
	if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
		cfg.AWS.AccessKeyID = v
	}
	if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
		cfg.AWS.SecretAccessKey = v
	}
	if v := os.Getenv("AWS_SESSION_TOKEN"); v != "" {
		cfg.AWS.SessionToken = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.AWS.Region = v
	}
	if v := os.Getenv("AWS_ENDPOINT_URL"); v != "" {
		cfg.AWS.Endpoint = v
	}
}

// Validate checks the run section. Profile paths are checked when a profile is
// selected, so an unused profile may stay empty.
func (c *Config) Validate() error {
	c.Run.Input = strings.ToLower(strings.TrimSpace(c.Run.Input))
	c.Run.Output = strings.ToLower(strings.TrimSpace(c.Run.Output))
	for _, name := range []string{c.Run.Input, c.Run.Output} {
		if name != ProfileLocal && name != ProfileRemote {
			return fmt.Errorf("unknown profile %q, want %q or %q", name, ProfileLocal, ProfileRemote)
		}
	}
	if c.Run.Workers < 1 {
		return fmt.Errorf("run.workers must be positive, got %d", c.Run.Workers)
	}
	if _, err := c.Run.Location(); err != nil {
		return err
	}
	return nil
}

// Profile returns the named profile.
func (c *Config) Profile(name string) (ProfileConfig, error) {
	switch strings.ToLower(name) {
	case ProfileLocal:
		return c.Local, nil
	case ProfileRemote:
		return c.Remote, nil
	default:
		return ProfileConfig{}, fmt.Errorf("unknown profile %q", name)
	}
}

// InputProfile returns the profile records are read from.
func (c *Config) InputProfile() (ProfileConfig, error) {
	p, err := c.Profile(c.Run.Input)
	if err != nil {
		return p, err
	}
	if p.SongData == "" || p.LogData == "" {
		return p, fmt.Errorf("profile %q needs song_data and log_data", c.Run.Input)
	}
	return p, nil
}

// OutputProfile returns the profile tables are written to.
func (c *Config) OutputProfile() (ProfileConfig, error) {
	p, err := c.Profile(c.Run.Output)
	if err != nil {
		return p, err
	}
	if p.OutputPath == "" {
		return p, fmt.Errorf("profile %q needs output_path", c.Run.Output)
	}
	return p, nil
}

// Location loads the session time zone.
func (r RunConfig) Location() (*time.Location, error) {
	if r.TimeZone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(r.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("invalid run.timezone %q: %w", r.TimeZone, err)
	}
	return loc, nil
}
