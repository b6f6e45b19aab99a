package cli

import (
	"bytes"
	"io"
	"os"
	"strings"
	"syscall"
	"testing"

	"golang.org/x/term"
)

// captureOutput redirects stdout while f runs and returns what was printed
func captureOutput(f func()) string {
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	f()

	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	expected := []string{
		"version", "login", "logout", "signup", "confirm", "resend",
		"reset-password", "whoami", "todos", "settings", "open", "dash",
	}

	registered := make(map[string]bool)
	for _, sub := range rootCmd.Commands() {
		registered[sub.Name()] = true
	}

	for _, name := range expected {
		if !registered[name] {
			t.Errorf("expected subcommand %q to be registered", name)
		}
	}
}

func TestLoginCommandFlags(t *testing.T) {
	cmd := NewLoginCmd()

	if cmd.Use != "login" {
		t.Errorf("expected Use to be 'login', got %s", cmd.Use)
	}
	if cmd.Flags().Lookup("email") == nil {
		t.Error("expected --email flag to exist")
	}
	if cmd.Flags().Lookup("password") == nil {
		t.Error("expected --password flag to exist")
	}
}

func TestTodosCommandSubcommands(t *testing.T) {
	cmd := NewTodosCmd()

	expected := []string{"ls", "add", "done", "rm", "watch"}
	registered := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		registered[sub.Name()] = true
	}

	for _, name := range expected {
		if !registered[name] {
			t.Errorf("expected todos subcommand %q to be registered", name)
		}
	}
}

func TestSettingsSetAndGet(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	set := NewSettingsCmd()
	set.SetArgs([]string{"set", "output", "json"})
	if err := set.Execute(); err != nil {
		t.Fatalf("settings set: %v", err)
	}

	get := NewSettingsCmd()
	get.SetArgs([]string{"get", "output"})
	out := captureOutput(func() {
		if err := get.Execute(); err != nil {
			t.Fatalf("settings get: %v", err)
		}
	})

	if strings.TrimSpace(out) != "json" {
		t.Errorf("expected 'json', got %q", out)
	}
}

func TestSettingsSetRejectsInvalidOutput(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cmd := NewSettingsCmd()
	cmd.SetArgs([]string{"set", "output", "xml"})
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected invalid output format to be rejected")
	}
}

func TestSettingsSetRejectsUnknownKey(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cmd := NewSettingsCmd()
	cmd.SetArgs([]string{"set", "color_scheme", "dark"})
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected unknown key to be rejected")
	}
}

func TestSettingsListShowsAllKeys(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cmd := NewSettingsCmd()
	cmd.SetArgs([]string{"list"})
	out := captureOutput(func() {
		if err := cmd.Execute(); err != nil {
			t.Fatalf("settings list: %v", err)
		}
	})

	for _, key := range []string{"api_url", "default_route", "output"} {
		if !strings.Contains(out, key) {
			t.Errorf("expected settings list to mention %q, got:\n%s", key, out)
		}
	}
}

func TestSignUpRejectsMalformedEmail(t *testing.T) {
	cmd := NewSignUpCmd()
	cmd.SetArgs([]string{"--email", "not-an-email", "--password", "password123", "--name", "X"})
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	err := cmd.Execute()
	if err == nil {
		t.Fatal("expected malformed email to be rejected")
	}
	if !strings.Contains(err.Error(), "not a valid email address") {
		t.Errorf("expected email validation error, got %v", err)
	}
}

func TestSignUpRejectsShortPassword(t *testing.T) {
	cmd := NewSignUpCmd()
	cmd.SetArgs([]string{"--email", "short@example.com", "--password", "short", "--name", "X"})
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	err := cmd.Execute()
	if err == nil {
		t.Fatal("expected short password to be rejected")
	}
	if !strings.Contains(err.Error(), "at least 8 characters") {
		t.Errorf("expected password validation error, got %v", err)
	}
}

func TestLoginMissingEmailNonInteractive(t *testing.T) {
	if term.IsTerminal(int(syscall.Stdin)) {
		t.Skip("requires non-interactive stdin")
	}

	t.Setenv("TODOCLOUD_EMAIL", "")
	t.Setenv("TODOCLOUD_PASSWORD", "")

	cmd := NewLoginCmd()
	cmd.SetArgs([]string{})
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	err := cmd.Execute()
	if err == nil {
		t.Fatal("expected an error without credentials")
	}
	if !strings.Contains(err.Error(), "non-interactive") {
		t.Errorf("expected non-interactive error, got %v", err)
	}
}
