package config

import (
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigtoml"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// Config describes all configuration options
type Config struct {
	TaskFile string `default:"tasks.star" toml:"task_file" env:"TASK_FILE" usage:"Name of the task script, searched from the working directory upwards"`
	Debug    bool   `default:"false" toml:"debug" env:"DEBUG" usage:"Print every log field and full error traces"`
	Log      struct {
		Level string `default:"info" toml:"level" env:"LEVEL"`
		JSON  bool   `default:"false" toml:"json" env:"JSON" usage:"Output JSON lines instead of pretty console messages"`
	} `toml:"log" env:"LOG"`
	Cache struct {
		Enabled bool   `default:"false" toml:"enabled" env:"ENABLED" usage:"Cache the evaluated task script"`
		Dir     string `default:".devtask" toml:"dir" env:"DIR" usage:"Cache directory, relative to the project root"`
	} `toml:"cache" env:"CACHE"`
	Shell struct {
		KillTimeout string `default:"2s" toml:"kill_timeout" env:"KILL_TIMEOUT" usage:"Time a command gets to exit after an interrupt before it's killed"`
	} `toml:"shell" env:"SHELL"`
}

var logLevels = map[string]zerolog.Level{
	"trace":   zerolog.TraceLevel,
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
	"fatal":   zerolog.FatalLevel,
}

// Loader initializes an empty config object and returns a new Loader for this object. Values
// are read from devtask.toml in the working directory and DEVTASK_* environment variables.
func Loader(files ...string) (*Config, *aconfig.Loader) {
	if len(files) == 0 {
		files = []string{"devtask.toml"}
	}

	cfg := Config{}
	return &cfg, aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix:        "DEVTASK",
		AllowUnknownEnvs: true,
		SkipFlags:        true,
		Files:            files,
		FileDecoders: map[string]aconfig.FileDecoder{
			".toml": aconfigtoml.New(),
		},
	})
}

// Load reads and validates the configuration
func Load(files ...string) (*Config, error) {
	cfg, loader := Loader(files...)
	err := loader.Load()
	if err != nil {
		return nil, eris.Wrap(err, "failed to load configuration")
	}

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate verifies that all config fields have valid values
func (cfg *Config) Validate() error {
	if cfg.TaskFile == "" {
		return eris.New("task_file can't be empty")
	}

	_, ok := logLevels[cfg.Log.Level]
	if !ok {
		return eris.Errorf(`Invalid value for log.level: %s`, cfg.Log.Level)
	}

	timeout, err := time.ParseDuration(cfg.Shell.KillTimeout)
	if err != nil {
		return eris.Wrapf(err, "Invalid value for shell.kill_timeout")
	}

	if timeout < 0 {
		return eris.Errorf("shell.kill_timeout must not be negative")
	}

	return nil
}

// LogLevel converts the .Log.Level field to a zerolog.Level
func (cfg *Config) LogLevel() zerolog.Level {
	return logLevels[cfg.Log.Level]
}

// KillTimeout converts .Shell.KillTimeout to a time.Duration
func (cfg *Config) KillTimeout() time.Duration {
	timeout, err := time.ParseDuration(cfg.Shell.KillTimeout)
	if err != nil {
		return 2 * time.Second
	}

	return timeout
}
