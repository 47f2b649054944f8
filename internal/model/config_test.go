package model

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Export.DefaultDaysBack != 30 {
		t.Errorf("DefaultDaysBack = %d, want 30", cfg.Export.DefaultDaysBack)
	}
	if cfg.Export.DefaultMaxItems != 5000 {
		t.Errorf("DefaultMaxItems = %d, want 5000", cfg.Export.DefaultMaxItems)
	}
	if !cfg.Export.ExcludeInlineImages {
		t.Error("ExcludeInlineImages should default to true")
	}
	if len(cfg.Accounts) != 0 {
		t.Errorf("default config has %d accounts, want none", len(cfg.Accounts))
	}
}

func TestConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	in := &AppConfig{
		Accounts: []AccountConfig{
			{Label: "Work", Host: "imap.example.com", Port: "993", Username: "alice", TLS: true},
			{Label: "Personal", Host: "mail.example.net", Username: "bob"},
		},
		Export: ExportConfig{
			BaseDir:             "/tmp/exports",
			DefaultDaysBack:     14,
			DefaultMaxItems:     100,
			ExcludeInlineImages: false,
		},
	}
	if err := SaveConfig(path, in); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	out, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if len(out.Accounts) != 2 {
		t.Fatalf("loaded %d accounts, want 2", len(out.Accounts))
	}
	if out.Accounts[0].Label != "Work" || out.Accounts[0].Host != "imap.example.com" {
		t.Errorf("first account = %+v", out.Accounts[0])
	}
	// Missing ports are filled with the IMAPS default.
	if out.Accounts[1].Port != "993" {
		t.Errorf("default port = %q, want 993", out.Accounts[1].Port)
	}
	if out.Export.BaseDir != "/tmp/exports" || out.Export.DefaultDaysBack != 14 {
		t.Errorf("export config = %+v", out.Export)
	}
}

func TestConfigFileNeverHoldsPasswords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := &AppConfig{
		Accounts: []AccountConfig{{Label: "Work", Host: "h", Username: "alice"}},
	}
	if err := SaveConfig(path, cfg); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, forbidden := range []string{"password", "secret"} {
		if strings.Contains(strings.ToLower(string(data)), forbidden) {
			t.Errorf("config file mentions %q:\n%s", forbidden, data)
		}
	}
}

func TestAccountByLabel(t *testing.T) {
	cfg := &AppConfig{Accounts: []AccountConfig{{Label: "Work"}, {Label: "Personal"}}}
	if got := cfg.AccountByLabel("Personal"); got == nil || got.Label != "Personal" {
		t.Errorf("AccountByLabel(Personal) = %v", got)
	}
	if got := cfg.AccountByLabel("Nope"); got != nil {
		t.Errorf("AccountByLabel(Nope) = %v, want nil", got)
	}
}
