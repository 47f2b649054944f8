package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"

	"github.com/nhle/mail-export/internal/app"
	"github.com/nhle/mail-export/internal/credential"
	"github.com/nhle/mail-export/internal/model"
	"github.com/nhle/mail-export/internal/run"
	"github.com/nhle/mail-export/internal/source"
	"github.com/nhle/mail-export/internal/source/imapmail"
)

func main() {
	cfgPath := model.DefaultConfigPath()
	cfg, err := model.LoadConfig(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mailexport: %v\n", err)
		os.Exit(1)
	}

	if len(os.Args) > 1 {
		if err := runCommand(cfg, cfgPath, os.Args[1], os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "mailexport: %v\n", err)
			os.Exit(1)
		}
		return
	}

	logger, logClose := openLogger(cfgPath)
	defer logClose()

	factory := sessionFactory(cfg, logger)
	program := tea.NewProgram(app.New(cfg, factory, logger), tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "mailexport: %v\n", err)
		os.Exit(1)
	}
}

// runCommand handles the non-interactive subcommands.
func runCommand(cfg *model.AppConfig, cfgPath, cmd string, args []string) error {
	switch cmd {
	case "set-password":
		if len(args) != 1 {
			return fmt.Errorf("usage: mailexport set-password <account-label>")
		}
		return setPassword(cfg, args[0])

	case "init":
		// Write the current (default) configuration so the user has a
		// file to edit accounts into.
		if err := model.SaveConfig(cfgPath, cfg); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", cfgPath)
		return nil

	case "help", "-h", "--help":
		usage()
		return nil

	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// setPassword prompts for an account password and stores it in the
// system keyring. Passwords never live in the config file.
func setPassword(cfg *model.AppConfig, label string) error {
	if cfg.AccountByLabel(label) == nil {
		return fmt.Errorf("no account %q in %s", label, model.DefaultConfigPath())
	}

	var password string
	prompt := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title(fmt.Sprintf("Password for %s", label)).
			EchoMode(huh.EchoModePassword).
			Value(&password),
	))
	if err := prompt.Run(); err != nil {
		return err
	}

	if err := credential.Set(credential.AccountKey(label), password); err != nil {
		return err
	}
	fmt.Printf("stored password for %s\n", label)
	return nil
}

// sessionFactory builds per-run IMAP sessions, resolving each account
// password from the keyring at session-open time.
func sessionFactory(cfg *model.AppConfig, logger *slog.Logger) run.SessionFactory {
	return func() (source.Session, error) {
		accounts := make([]imapmail.Account, 0, len(cfg.Accounts))
		for _, acct := range cfg.Accounts {
			password, err := credential.Get(credential.AccountKey(acct.Label))
			if err != nil {
				return nil, fmt.Errorf(
					"no stored password for %q; run: mailexport set-password %s: %w",
					acct.Label, acct.Label, err)
			}
			accounts = append(accounts, imapmail.Account{
				Config:   acct,
				Password: password,
			})
		}
		return imapmail.NewSession(accounts, logger), nil
	}
}

// openLogger writes structured logs next to the config file. Stdout
// belongs to the terminal UI, so the log goes to a file.
func openLogger(cfgPath string) (*slog.Logger, func()) {
	logPath := filepath.Join(filepath.Dir(cfgPath), "mailexport.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil)), func() {}
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil)), func() {}
	}

	logger := slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	return logger, func() { f.Close() }
}

func usage() {
	fmt.Println(`mailexport - filter and export emails to Excel

Usage:
  mailexport                      start the interactive UI
  mailexport init                 write a default config file
  mailexport set-password <label> store an account password in the keyring`)
}
