package cli

import (
	"testing"
)

func TestRootCommandWiring(t *testing.T) {
	root := NewRootCommand()

	want := []string{"console", "state", "queue", "check", "abort", "run", "equilibrate", "switch-pumps", "stop-flow", "expose", "stats"}
	got := map[string]bool{}
	for _, c := range root.Commands() {
		got[c.Name()] = true
	}
	for _, name := range want {
		if !got[name] {
			t.Errorf("root command missing subcommand %q", name)
		}
	}

	if f := root.PersistentFlags().Lookup("topology"); f == nil {
		t.Fatal("expected --topology persistent flag")
	}
	if f := root.PersistentFlags().Lookup("log-level"); f == nil {
		t.Fatal("expected --log-level persistent flag")
	}
}

func TestRunCommandHasSecAndBatchSubcommands(t *testing.T) {
	run := newRunCmd()
	names := map[string]bool{}
	for _, c := range run.Commands() {
		names[c.Name()] = true
	}
	if !names["sec"] || !names["batch"] {
		t.Fatalf("expected run to have sec and batch subcommands, got %v", names)
	}
}

func TestEquilibrateCommandFlags(t *testing.T) {
	cmd := newEquilibrateCmd()
	for _, name := range []string{"pump-control", "buffer-position", "purge-first", "equil-rate"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Errorf("equilibrate command missing flag --%s", name)
		}
	}
}

func TestCheckCommandHasLoginAnswerHashPasswordSubcommands(t *testing.T) {
	check := newCheckCmd()
	names := map[string]bool{}
	for _, c := range check.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"login", "answer", "hash-password"} {
		if !names[name] {
			t.Errorf("check command missing subcommand %q", name)
		}
	}
}
