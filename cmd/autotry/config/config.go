package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// RootEnv names the installation root override.
const RootEnv = "APPOINT_DBS_PATH"

const defaultRoot = "/home/git"

type Config struct {
	Root           string         `mapstructure:"root" validate:"required"`
	Host           string         `mapstructure:"host" validate:"required,url"`
	LogLevel       string         `mapstructure:"log_level"`
	LogFile        string         `mapstructure:"log_file"`
	RecordsFile    string         `mapstructure:"records_file" validate:"required"`
	JournalDir     string         `mapstructure:"journal_dir"`
	DebugDir       string         `mapstructure:"debug_dir"`
	RequestTimeout time.Duration  `mapstructure:"request_timeout" validate:"gt=0"`
	RateEvery      time.Duration  `mapstructure:"rate_every"`
	RateBurst      int            `mapstructure:"rate_burst" validate:"gte=1"`
	Login          LoginConfig    `mapstructure:"login"`
	OCR            OCRConfig      `mapstructure:"ocr"`
	Telegram       TelegramConfig `mapstructure:"telegram"`
}

type LoginConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Backoff     time.Duration `mapstructure:"backoff"`
}

type OCRConfig struct {
	Language string `mapstructure:"language" validate:"required"`
}

type TelegramConfig struct {
	Token string `mapstructure:"token"`
	Chat  string `mapstructure:"chat"`
}

// Dir is where the records, log and journal live by default.
func (c *Config) Dir() string {
	return filepath.Join(c.Root, "autotry")
}

// Load reads settings from file, or from <root>/autotry/autotry.yaml when
// file is empty. A missing default file is not an error; every key can be
// set through AUTOTRY_<KEY> environment variables. A root set in file moves
// the default log, records and journal paths, but the default file itself is
// looked up under the root from the environment.
func Load(file string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("autotry")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("root", RootEnv); err != nil {
		return nil, err
	}

	v.SetDefault("root", defaultRoot)
	optional := file == ""
	if optional {
		file = filepath.Join(v.GetString("root"), "autotry", "autotry.yaml")
	}
	v.SetConfigFile(file)
	if err := v.ReadInConfig(); err != nil && !(optional && errors.Is(err, os.ErrNotExist)) {
		return nil, fmt.Errorf("error reading settings: %w", err)
	}

	// The settings file may move root; the default paths follow it.
	dir := filepath.Join(v.GetString("root"), "autotry")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", filepath.Join(dir, "appoint.log"))
	v.SetDefault("records_file", filepath.Join(dir, "doctors.json"))
	v.SetDefault("journal_dir", filepath.Join(dir, "journal"))
	v.SetDefault("request_timeout", 30*time.Second)
	v.SetDefault("rate_every", time.Second)
	v.SetDefault("rate_burst", 1)
	v.SetDefault("login.max_attempts", 50)
	v.SetDefault("login.backoff", 2*time.Second)
	v.SetDefault("ocr.language", "eng")
	// AutomaticEnv only sees keys viper already knows.
	for _, k := range []string{"host", "debug_dir", "telegram.token", "telegram.chat"} {
		v.SetDefault(k, "")
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error decoding settings: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	return cfg, nil
}
