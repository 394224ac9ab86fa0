package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConfig(t *testing.T) {

	config, err := Load("config.example.yaml")
	if err != nil {
		t.Fatal(err)
	}

	if got, want := config.DatabasePath, "./oppsync.db"; got != want {
		t.Errorf("got %s want %s", got, want)
	}
	if got, want := config.Web.ListenAddress, "localhost:3000"; got != want {
		t.Errorf("got %s want %s", got, want)
	}
	if got, want := config.Workflow.Variant, "industrial-automation"; got != want {
		t.Errorf("got %s want %s", got, want)
	}
	if got, want := config.Mode(), "dry-run"; got != want {
		t.Errorf("got %s want %s", got, want)
	}
}

func TestConfigDefaults(t *testing.T) {

	yml := `
database_path: "./test.db"
web:
  listen_address: ":8080"
`
	cfgPath := writeTempConfig(t, yml)
	config, err := Load(cfgPath)
	if err != nil {
		t.Fatal(err)
	}

	if got, want := config.FallbackText, "N/A"; got != want {
		t.Errorf("fallback text: got %s want %s", got, want)
	}
	if got, want := config.Workflow.Variant, "industrial-automation"; got != want {
		t.Errorf("workflow variant: got %s want %s", got, want)
	}
	if !config.DryRun() {
		t.Error("expected dry-run mode with no access token")
	}
}

func TestConfigErrors(t *testing.T) {

	tests := []struct {
		name    string
		yml     string
		wantErr string
	}{
		{
			name:    "no database path",
			yml:     "web:\n  listen_address: \":8080\"\n",
			wantErr: "database_path",
		},
		{
			name:    "no listen address",
			yml:     "database_path: \"./test.db\"\n",
			wantErr: "listen_address",
		},
		{
			name: "token without workspace",
			yml: `
database_path: "./test.db"
web:
  listen_address: ":8080"
asana:
  access_token: "1/abcdef"
`,
			wantErr: "workspace_id",
		},
		{
			name: "unknown workflow variant",
			yml: `
database_path: "./test.db"
web:
  listen_address: ":8080"
workflow:
  variant: "unknown"
`,
			wantErr: "workflow.variant",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfgPath := writeTempConfig(t, tt.yml)
			_, err := Load(cfgPath)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfigMissingFile(t *testing.T) {
	_, err := Load("does-not-exist.yaml")
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

// writeTempConfig writes yaml content to a temporary file for testing.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}
