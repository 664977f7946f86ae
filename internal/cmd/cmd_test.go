package cmd

import (
	"testing"
)

func TestRootCommand(t *testing.T) {
	if rootCmd == nil {
		t.Fatal("rootCmd is nil")
	}
	if rootCmd.Use != "ganaudit" {
		t.Errorf("rootCmd.Use = %q, want %q", rootCmd.Use, "ganaudit")
	}

	// Check for expected subcommands (compare by Name(), not Use which includes args)
	expectedCmds := []string{"audit", "validate", "sessions"}
	cmdMap := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		cmdMap[cmd.Name()] = true
	}
	for _, expected := range expectedCmds {
		if !cmdMap[expected] {
			t.Errorf("expected subcommand %q not found", expected)
		}
	}
}

func TestSessionsSubcommands(t *testing.T) {
	expected := []string{"list", "show", "analyze", "clean"}
	cmdMap := make(map[string]bool)
	for _, cmd := range sessionsCmd.Commands() {
		cmdMap[cmd.Name()] = true
	}
	for _, name := range expected {
		if !cmdMap[name] {
			t.Errorf("expected sessions subcommand %q not found", name)
		}
	}
}

func TestAuditFlags(t *testing.T) {
	for _, name := range []string{"file", "task", "session", "strict", "quiet", "metrics-addr"} {
		if auditCmd.Flags().Lookup(name) == nil {
			t.Errorf("audit command missing flag --%s", name)
		}
	}
}
