package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadDefaults(t *testing.T) *Config {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	cfg, err := Load(v)
	require.NoError(t, err)
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	cfg := loadDefaults(t)

	assert.Equal(t, DriverPlaywright, cfg.Browser.Driver)
	assert.False(t, cfg.Browser.Headless, "browser should be visible so a human can teach selectors")
	assert.Equal(t, "https://teams.eoxs.com/", cfg.App.BaseURL)
	assert.Equal(t, "Test Support", cfg.App.ProjectName)
	assert.Equal(t, "Sample", cfg.Ticket.Title)
	assert.Empty(t, cfg.Ticket.Customer, "customer must come from config, not code")
	assert.Empty(t, cfg.Ticket.AssignedTo, "assignee must come from config, not code")
	assert.Equal(t, 30*time.Second, cfg.Timings.LearnTimeout)
	assert.Equal(t, ":3000", cfg.Server.Addr)
}

func TestValidate(t *testing.T) {
	t.Run("unknown driver", func(t *testing.T) {
		cfg := loadDefaults(t)
		cfg.Browser.Driver = "selenium"
		assert.ErrorContains(t, cfg.Validate(), "unknown browser driver")
	})

	t.Run("empty base url", func(t *testing.T) {
		cfg := loadDefaults(t)
		cfg.App.BaseURL = "  "
		assert.Error(t, cfg.Validate())
	})

	t.Run("non-positive step timeout", func(t *testing.T) {
		cfg := loadDefaults(t)
		cfg.Timings.StepTimeout = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("rod is accepted", func(t *testing.T) {
		cfg := loadDefaults(t)
		cfg.Browser.Driver = DriverRod
		assert.NoError(t, cfg.Validate())
	})
}

func TestNewViper_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
ticket:
  customer: Acme
  assigned_to: Jane Doe
timings:
  learn_timeout: 5s
`), 0o644))

	t.Setenv("EOXS_EMAIL", "legacy@example.com")
	t.Setenv("TICKETBOT_PASSWORD", "secret")
	t.Setenv("CHROME_PATH", "/opt/chrome")
	t.Setenv("TICKETBOT_BROWSER_HEADLESS", "true")

	v, err := NewViper(file)
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "Acme", cfg.Ticket.Customer)
	assert.Equal(t, "Jane Doe", cfg.Ticket.AssignedTo)
	assert.Equal(t, 5*time.Second, cfg.Timings.LearnTimeout)
	assert.Equal(t, "legacy@example.com", cfg.Credentials.Email)
	assert.Equal(t, "secret", cfg.Credentials.Password)
	assert.Equal(t, "/opt/chrome", cfg.Browser.ExecutablePath)
	assert.True(t, cfg.Browser.Headless)
}

func TestNewViper_MissingExplicitFile(t *testing.T) {
	_, err := NewViper(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestCatalog(t *testing.T) {
	t.Run("built-in catalog carries the core targets", func(t *testing.T) {
		c := DefaultCatalog()
		for _, name := range []string{"login_trigger", "email", "password", "login_button", "create_button", "title_field", "add_button", "customer_field", "assignee_field", "save_button"} {
			assert.Contains(t, c, name)
		}
		assert.Contains(t, c.Lookup("assignee_field").Exclude, "ownership")
		assert.True(t, c.Lookup("login_trigger").Learnable)
	})

	t.Run("user entries replace built-ins by name", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "selectors.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
create_button:
  selectors: ['#new-ticket']
extra_target:
  text: [hello]
`), 0o644))

		c, err := LoadCatalog(path)
		require.NoError(t, err)
		assert.Equal(t, []string{"#new-ticket"}, c.Lookup("create_button").Selectors)
		assert.Empty(t, c.Lookup("create_button").Text)
		assert.Equal(t, []string{"hello"}, c.Lookup("extra_target").Text)
		assert.NotEmpty(t, c.Lookup("login_trigger").Selectors)
	})

	t.Run("unknown name yields empty spec", func(t *testing.T) {
		assert.Empty(t, DefaultCatalog().Lookup("missing").Selectors)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		_, err := ParseCatalog([]byte("a: [unterminated"))
		assert.Error(t, err)
	})
}
