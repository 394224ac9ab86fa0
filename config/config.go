package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"
)

// Config represents the entire application configuration.
type Config struct {
	DatabasePath string         `yaml:"database_path"`
	Web          WebConfig      `yaml:"web"`
	Asana        AsanaConfig    `yaml:"asana"`
	Workflow     WorkflowConfig `yaml:"workflow"`
	FallbackText string         `yaml:"fallback_text"`
}

// WebConfig holds settings specific to the web server.
type WebConfig struct {
	ListenAddress   string `yaml:"listen_address"`
	DevelopmentMode bool   `yaml:"development_mode"`
}

// AsanaConfig holds Asana-specific settings. AccessToken may be empty,
// in which case outbound calls are skipped and logged rather than
// made. This supports local development without a live Asana account.
type AsanaConfig struct {
	AccessToken       string `yaml:"access_token"`
	WorkspaceID       string `yaml:"workspace_id"`
	TeamID            string `yaml:"team_id"`
	TemplateProjectID string `yaml:"template_project_id"` // recognized but unused
}

// WorkflowConfig selects the task template catalog used when
// populating new projects. Variant names a built-in catalog;
// CatalogPath, if set, overrides it with an on-disk yaml catalog.
type WorkflowConfig struct {
	Variant     string `yaml:"variant"`
	CatalogPath string `yaml:"catalog_path"`
}

// workflowVariants are the built-in catalog names.
var workflowVariants = []string{"industrial-automation", "panel-shop"}

// Load loads and validates the configuration from the given file path.
func Load(filePath string) (*Config, error) {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", filePath)
	}

	configFile, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	err = yaml.Unmarshal(configFile, &cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to parse YAML config file: %w", err)
	}

	if err := validateAndPrepare(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validateAndPrepare checks for required fields and sets up derived values.
func validateAndPrepare(c *Config) error {
	// General
	if c.DatabasePath == "" {
		return errors.New("database_path is missing")
	}
	if c.FallbackText == "" {
		c.FallbackText = "N/A"
	}

	// Web
	if c.Web.ListenAddress == "" {
		return errors.New("web.listen_address is missing")
	}

	// Asana. An empty access token is permitted; a configured token
	// needs a workspace to create projects in.
	ac := &c.Asana
	if ac.AccessToken != "" && ac.WorkspaceID == "" {
		return errors.New("asana.workspace_id is required when asana.access_token is set")
	}

	// Workflow
	wc := &c.Workflow
	if wc.Variant == "" {
		wc.Variant = workflowVariants[0]
	}
	var found bool
	for _, v := range workflowVariants {
		if wc.Variant == v {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf(
			"workflow.variant must be one of %s, got %q",
			strings.Join(workflowVariants, ", "),
			wc.Variant,
		)
	}
	if wc.CatalogPath != "" {
		s, err := os.Stat(wc.CatalogPath)
		if err != nil {
			return fmt.Errorf("workflow.catalog_path error: %w", err)
		}
		if s.IsDir() {
			return fmt.Errorf("workflow.catalog_path %q is a directory", wc.CatalogPath)
		}
	}

	return nil
}

// DryRun reports whether the application should skip outbound Asana
// calls for lack of an access token.
func (c *Config) DryRun() bool {
	return c.Asana.AccessToken == ""
}

// Mode describes the running mode for reporting purposes.
func (c *Config) Mode() string {
	if c.DryRun() {
		return "dry-run"
	}
	return "live"
}
