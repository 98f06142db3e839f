package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the root configuration for ticketbot.
type Config struct {
	Logger      LoggerConfig      `mapstructure:"logger"`
	Browser     BrowserConfig     `mapstructure:"browser"`
	App         AppConfig         `mapstructure:"app"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Ticket      TicketConfig      `mapstructure:"ticket"`
	Timings     TimingsConfig     `mapstructure:"timings"`
	Artifacts   ArtifactsConfig   `mapstructure:"artifacts"`
	Selectors   SelectorsConfig   `mapstructure:"selectors"`
	Events      EventsConfig      `mapstructure:"events"`
	Server      ServerConfig      `mapstructure:"server"`
}

type LoggerConfig struct {
	ServiceName string      `mapstructure:"service_name"`
	Level       string      `mapstructure:"level"`
	Format      string      `mapstructure:"format"`
	LogFile     string      `mapstructure:"log_file"`
	MaxSize     int         `mapstructure:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups"`
	MaxAge      int         `mapstructure:"max_age"`
	Compress    bool        `mapstructure:"compress"`
	AddSource   bool        `mapstructure:"add_source"`
	Colors      ColorConfig `mapstructure:"colors"`
}

// ColorConfig maps log levels to terminal color names.
type ColorConfig struct {
	Debug  string `mapstructure:"debug"`
	Info   string `mapstructure:"info"`
	Warn   string `mapstructure:"warn"`
	Error  string `mapstructure:"error"`
	DPanic string `mapstructure:"dpanic"`
	Panic  string `mapstructure:"panic"`
	Fatal  string `mapstructure:"fatal"`
}

const (
	DriverPlaywright = "playwright"
	DriverRod        = "rod"
)

type BrowserConfig struct {
	Driver         string        `mapstructure:"driver"`
	Headless       bool          `mapstructure:"headless"`
	ExecutablePath string        `mapstructure:"executable_path"`
	UserAgent      string        `mapstructure:"user_agent"`
	ViewportWidth  int           `mapstructure:"viewport_width"`
	ViewportHeight int           `mapstructure:"viewport_height"`
	SlowMo         time.Duration `mapstructure:"slow_mo"`
	// SkipInstall stops the playwright driver from downloading browsers on start.
	SkipInstall bool `mapstructure:"skip_install"`
}

type AppConfig struct {
	BaseURL     string `mapstructure:"base_url"`
	ProjectName string `mapstructure:"project_name"`
}

type CredentialsConfig struct {
	Email    string `mapstructure:"email"`
	Password string `mapstructure:"password"`
}

// TicketConfig holds the ticket defaults applied when a request omits a field.
type TicketConfig struct {
	Title      string `mapstructure:"title"`
	Customer   string `mapstructure:"customer"`
	AssignedTo string `mapstructure:"assigned_to"`
}

type TimingsConfig struct {
	StepTimeout   time.Duration `mapstructure:"step_timeout"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	Settle        time.Duration `mapstructure:"settle"`
	LearnTimeout  time.Duration `mapstructure:"learn_timeout"`
	SubmitVerify  time.Duration `mapstructure:"submit_verify"`
	ManualNavWait time.Duration `mapstructure:"manual_nav_wait"`
}

type ArtifactsConfig struct {
	ScreenshotDir string `mapstructure:"screenshot_dir"`
}

type SelectorsConfig struct {
	// File is an optional YAML catalog merged over the built-in one.
	File string `mapstructure:"file"`
}

type EventsConfig struct {
	NATSURL string `mapstructure:"nats_url"`
	Subject string `mapstructure:"subject"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// Validate rejects configurations the workflow cannot run with.
func (c *Config) Validate() error {
	switch c.Browser.Driver {
	case DriverPlaywright, DriverRod:
	default:
		return fmt.Errorf("unknown browser driver %q", c.Browser.Driver)
	}
	if strings.TrimSpace(c.App.BaseURL) == "" {
		return errors.New("app.base_url must not be empty")
	}
	if c.Timings.StepTimeout <= 0 {
		return errors.New("timings.step_timeout must be positive")
	}
	if c.Timings.LearnTimeout <= 0 {
		return errors.New("timings.learn_timeout must be positive")
	}
	if c.Timings.PollInterval <= 0 {
		return errors.New("timings.poll_interval must be positive")
	}
	return nil
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.service_name", "ticketbot")
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.max_size", 10)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 28)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "red")

	v.SetDefault("browser.driver", DriverPlaywright)
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("browser.viewport_width", 1366)
	v.SetDefault("browser.viewport_height", 768)
	v.SetDefault("browser.slow_mo", 50*time.Millisecond)

	v.SetDefault("app.base_url", "https://teams.eoxs.com/")
	v.SetDefault("app.project_name", "Test Support")

	v.SetDefault("ticket.title", "Sample")

	v.SetDefault("timings.step_timeout", 10*time.Second)
	v.SetDefault("timings.poll_interval", 250*time.Millisecond)
	v.SetDefault("timings.settle", time.Second)
	v.SetDefault("timings.learn_timeout", 30*time.Second)
	v.SetDefault("timings.submit_verify", 8*time.Second)
	v.SetDefault("timings.manual_nav_wait", 60*time.Second)

	v.SetDefault("artifacts.screenshot_dir", "screenshots")
	v.SetDefault("events.subject", "ticketbot.events")
	v.SetDefault("server.addr", ":3000")
}

// NewViper returns a viper instance with defaults, env bindings and the
// optional config file applied. A missing config file is not an error.
func NewViper(cfgFile string) (*viper.Viper, error) {
	// A .env next to the binary is optional.
	_ = godotenv.Load()

	v := viper.New()
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".ticketbot"))
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("TICKETBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Legacy names used by existing deployments.
	_ = v.BindEnv("credentials.email", "TICKETBOT_CREDENTIALS_EMAIL", "TICKETBOT_EMAIL", "EOXS_EMAIL")
	_ = v.BindEnv("credentials.password", "TICKETBOT_CREDENTIALS_PASSWORD", "TICKETBOT_PASSWORD", "EOXS_PASSWORD")
	_ = v.BindEnv("browser.executable_path", "TICKETBOT_BROWSER_EXECUTABLE_PATH", "CHROME_PATH")
	_ = v.BindEnv("server.addr", "TICKETBOT_SERVER_ADDR")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// PORT is honoured for container platforms that only set a port number.
	if port := os.Getenv("PORT"); port != "" && os.Getenv("TICKETBOT_SERVER_ADDR") == "" && !v.InConfig("server.addr") {
		v.Set("server.addr", ":"+port)
	}
	return v, nil
}

// Load unmarshals v into a validated Config.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
