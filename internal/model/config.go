package model

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// VisibilityMode controls how a visibility id list is interpreted.
type VisibilityMode string

const (
	// VisibilityAll shows everything; the id list is ignored.
	VisibilityAll VisibilityMode = "all"

	// VisibilityAllow shows only ids present in the list.
	VisibilityAllow VisibilityMode = "allow"

	// VisibilityDeny shows everything except ids present in the list.
	VisibilityDeny VisibilityMode = "deny"
)

// AccountConfig holds the configuration for a single issue-tracker account.
type AccountConfig struct {
	// ID is the unique identifier for this account instance.
	ID string `mapstructure:"id" yaml:"id"`

	// Name is the user-defined label for this account.
	Name string `mapstructure:"name" yaml:"name"`

	// URL is the root URL of the issue tracker.
	URL string `mapstructure:"url" yaml:"url"`

	// APIKeyRef is the keyring key under which the tracker API key is
	// stored. The secret itself never appears in the config file.
	APIKeyRef string `mapstructure:"api_key_ref" yaml:"api_key_ref"`

	// DefaultProject is the project identifier preselected when filing
	// a new issue from a message.
	DefaultProject string `mapstructure:"default_project" yaml:"default_project"`

	// DefaultTracker is the tracker id preselected for new issues.
	DefaultTracker int `mapstructure:"default_tracker" yaml:"default_tracker"`

	// ProjectVisibility and VisibleProjects filter which projects are
	// offered in the UI. Filtering is applied after fetch, so changing
	// it takes effect without invalidating the cache.
	ProjectVisibility VisibilityMode `mapstructure:"project_visibility" yaml:"project_visibility"`
	VisibleProjects   []string       `mapstructure:"visible_projects" yaml:"visible_projects"`

	// StatusVisibility and VisibleStatuses filter issue statuses the
	// same way.
	StatusVisibility VisibilityMode `mapstructure:"status_visibility" yaml:"status_visibility"`
	VisibleStatuses  []int          `mapstructure:"visible_statuses" yaml:"visible_statuses"`

	// SubjectTemplate and BodyTemplate seed the new-issue form from a
	// message's subject and body.
	SubjectTemplate string `mapstructure:"subject_template" yaml:"subject_template"`
	BodyTemplate    string `mapstructure:"body_template" yaml:"body_template"`

	// RefreshIntervalSec is how often (in seconds) the background
	// refresher recaches this account's remote data.
	RefreshIntervalSec int `mapstructure:"refresh_interval_sec" yaml:"refresh_interval_sec"`
}

// CacheConfig holds TTL settings for the remote read cache.
type CacheConfig struct {
	// TTLSec is the normal cache lifetime in seconds.
	TTLSec int `mapstructure:"ttl_sec" yaml:"ttl_sec"`

	// DebugTTLSec is the shortened lifetime used when Debug is set.
	DebugTTLSec int `mapstructure:"debug_ttl_sec" yaml:"debug_ttl_sec"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Accounts []AccountConfig `mapstructure:"accounts" yaml:"accounts"`
	Cache    CacheConfig     `mapstructure:"cache" yaml:"cache"`

	// ThreadPolicy selects how divergent per-message associations are
	// resolved: "strict-root" (default) or "partial-thread".
	ThreadPolicy string `mapstructure:"thread_policy" yaml:"thread_policy"`

	// Debug switches the cache to its short TTL.
	Debug bool `mapstructure:"debug" yaml:"debug"`
}

// CacheTTLSec returns the effective cache TTL in seconds for the current
// debug setting.
func (c *AppConfig) CacheTTLSec() int {
	if c.Debug {
		return c.Cache.DebugTTLSec
	}
	return c.Cache.TTLSec
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mailissuelink/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "mailissuelink", "config.yaml")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		Accounts: []AccountConfig{},
		Cache: CacheConfig{
			TTLSec:      30,
			DebugTTLSec: 5,
		},
		ThreadPolicy: "strict-root",
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration. Every
// account entry is validated; a config with an invalid account fails to
// load rather than surfacing broken accounts at request time.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("cache.ttl_sec", 30)
	v.SetDefault("cache.debug_ttl_sec", 5)
	v.SetDefault("thread_policy", "strict-root")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return defaultAppConfig(), nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return defaultAppConfig(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	switch cfg.ThreadPolicy {
	case "strict-root", "partial-thread":
	default:
		return nil, fmt.Errorf(
			"config %s: unknown thread_policy %q", path, cfg.ThreadPolicy,
		)
	}

	for i := range cfg.Accounts {
		acct := &cfg.Accounts[i]
		applyAccountDefaults(acct)
		if err := acct.Validate(); err != nil {
			return nil, fmt.Errorf("config %s: account %d: %w", path, i, err)
		}
	}

	return cfg, nil
}

// applyAccountDefaults fills unset optional account fields.
func applyAccountDefaults(acct *AccountConfig) {
	if acct.APIKeyRef == "" && acct.ID != "" {
		acct.APIKeyRef = "account-" + acct.ID
	}
	if acct.ProjectVisibility == "" {
		acct.ProjectVisibility = VisibilityAll
	}
	if acct.StatusVisibility == "" {
		acct.StatusVisibility = VisibilityAll
	}
	if acct.RefreshIntervalSec == 0 {
		acct.RefreshIntervalSec = 300
	}
	if acct.SubjectTemplate == "" {
		acct.SubjectTemplate = "{{subject}}"
	}
	if acct.BodyTemplate == "" {
		acct.BodyTemplate = "{{body}}"
	}
}

// Validate checks that the account has the required fields and that
// visibility modes are well-formed.
func (a *AccountConfig) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("missing id")
	}
	if a.URL == "" {
		return fmt.Errorf("account %s: missing url", a.ID)
	}
	for _, mode := range []VisibilityMode{a.ProjectVisibility, a.StatusVisibility} {
		switch mode {
		case VisibilityAll, VisibilityAllow, VisibilityDeny:
		default:
			return fmt.Errorf("account %s: unknown visibility mode %q", a.ID, mode)
		}
	}
	return nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("accounts", cfg.Accounts)
	v.Set("cache", cfg.Cache)
	v.Set("thread_policy", cfg.ThreadPolicy)
	v.Set("debug", cfg.Debug)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
