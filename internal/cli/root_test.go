package cli

import (
	"testing"
	"time"

	"github.com/lazypower/confidant/internal/config"
)

func TestEngineConfigFromDefaults(t *testing.T) {
	ec := engineConfig(config.Default())
	if ec.UnlockWindow != 10*time.Minute {
		t.Errorf("UnlockWindow = %v, want 10m", ec.UnlockWindow)
	}
	if ec.HashParams.Memory != 64*1024 || ec.HashParams.Threads != 4 {
		t.Errorf("HashParams = %+v", ec.HashParams)
	}
	if ec.Search.MaxLimit != 100 {
		t.Errorf("Search.MaxLimit = %d, want 100", ec.Search.MaxLimit)
	}
}

func TestPrincipalRequiresAs(t *testing.T) {
	old := actAs
	t.Cleanup(func() { actAs = old })

	actAs = ""
	if _, err := principal(); err == nil {
		t.Fatal("expected error without --as")
	}
}

func TestPassphraseFromArg(t *testing.T) {
	got, err := passphraseArg([]string{"open sesame"})
	if err != nil || got != "open sesame" {
		t.Fatalf("passphraseArg = %q, %v", got, err)
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"serve", "relay", "import", "remember", "search", "enroll", "unlock", "lock", "audit", "cleanup", "classify"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("command %q not registered", name)
		}
	}
}
