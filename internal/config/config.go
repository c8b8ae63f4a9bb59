// Package config loads the application configuration.
//
// Values are layered: compiled-in defaults, then an optional YAML file, then
// RECALL_ environment variables, then command-line flags. A double
// underscore in an environment variable separates nested keys, so
// RECALL_SESSION__IDLE_TIMEOUT sets session.idle_timeout.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/conorfennell/recall/internal/gamify"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "RECALL_"

// Config is the full application configuration.
type Config struct {
	DBPath      string `koanf:"db" validate:"required"`
	Listen      string `koanf:"listen" validate:"required,hostname_port"`
	Profile     string `koanf:"profile" validate:"required"`
	Timezone    string `koanf:"timezone"`
	ReposDir    string `koanf:"repos_dir" validate:"required"`
	WeightsPath string `koanf:"weights"`

	Log     LogConfig          `koanf:"log"`
	Session SessionConfig      `koanf:"session"`
	Rewards gamify.Rewards     `koanf:"rewards"`
	Curve   gamify.CurveConfig `koanf:"curve"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

// SessionConfig controls idle detection.
type SessionConfig struct {
	IdleTimeout       time.Duration `koanf:"idle_timeout" validate:"gte=0"`
	IdleEndsSession   bool          `koanf:"idle_ends_session"`
	IdleNavigatesHome bool          `koanf:"idle_navigates_home"`
	TickInterval      time.Duration `koanf:"tick_interval" validate:"gt=0"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		DBPath:   "recall.db",
		Listen:   "localhost:8080",
		Profile:  "default",
		ReposDir: "repos",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Session: SessionConfig{
			IdleTimeout:       5 * time.Minute,
			IdleEndsSession:   true,
			IdleNavigatesHome: true,
			TickInterval:      500 * time.Millisecond,
		},
		Rewards: gamify.DefaultRewards(),
		Curve:   gamify.DefaultCurveConfig(),
	}
}

// Location returns the time zone calendar days are counted in. An empty
// timezone means the local zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"db":           "db",
	"listen":       "listen",
	"profile":      "profile",
	"timezone":     "timezone",
	"repos-dir":    "repos_dir",
	"weights":      "weights",
	"log-level":    "log.level",
	"log-format":   "log.format",
	"idle-timeout": "session.idle_timeout",
}

// RegisterFlags adds the configuration flags to fs. Their defaults are
// taken from Default.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("config", "", "Path to a YAML configuration file")
	fs.String("db", d.DBPath, "Path to the SQLite database file")
	fs.String("listen", d.Listen, "Address the review API listens on")
	fs.String("profile", d.Profile, "Name of the profile being reviewed")
	fs.String("timezone", d.Timezone, "IANA time zone for streak days (default: local)")
	fs.String("repos-dir", d.ReposDir, "Directory git sources are cloned into")
	fs.String("weights", d.WeightsPath, "Path to a file with FSRS weights")
	fs.String("log-level", d.Log.Level, "Log level: debug, info, warn or error")
	fs.String("log-format", d.Log.Format, "Log format: text or json")
	fs.Duration("idle-timeout", d.Session.IdleTimeout, "Inactivity before the open item times out (0 disables)")
}

// Load builds the configuration from the file named by the --config flag,
// the environment and the flags in fs. fs may be nil.
func Load(fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if fs != nil {
		if path, _ := fs.GetString("config"); path != "" {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	if fs != nil {
		provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	cfg := Default()
	if k.Exists("curve.bands") {
		// A configured band list replaces the default one instead of
		// being merged into it element by element.
		cfg.Curve.Bands = nil
	}
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		curve := sl.Current().Interface().(gamify.CurveConfig)
		if err := curve.Validate(); err != nil {
			sl.ReportError(curve.Bands, "Bands", "bands", "curve", err.Error())
		}
	}, gamify.CurveConfig{})
	return v
}

// Validate checks every field and the consistency of the level curve.
func (c *Config) Validate() error {
	var errs []error
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("invalid config: %w", err)
		}
		for _, fe := range verrs {
			errs = append(errs, describe(fe))
		}
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func describe(fe validator.FieldError) error {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "curve":
		return fmt.Errorf("%s: %s", field, fe.Param())
	case "required":
		return fmt.Errorf("%s is required", field)
	case "oneof":
		return fmt.Errorf("%s must be one of [%s], got %q", field, fe.Param(), fe.Value())
	default:
		if fe.Param() != "" {
			return fmt.Errorf("%s failed %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value())
		}
		return fmt.Errorf("%s failed %s (got %v)", field, fe.Tag(), fe.Value())
	}
}
