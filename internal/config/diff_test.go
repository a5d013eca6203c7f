package config_test

import (
	"testing"

	"github.com/kavachlabs/kavach/internal/config"
)

func TestDiffEmpty(t *testing.T) {
	a := config.Defaults()
	b := config.Defaults()

	d := config.Diff(&a, &b)
	if !d.Empty() {
		t.Fatalf("diff of identical configs = %+v", d)
	}
}

func TestDiffLogLevel(t *testing.T) {
	a := config.Defaults()
	b := config.Defaults()
	b.Server.LogLevel = config.LogDebug

	d := config.Diff(&a, &b)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Fatalf("diff = %+v", d)
	}
	if d.OriginsChanged {
		t.Fatalf("origins flagged without change: %+v", d)
	}
}

func TestDiffOrigins(t *testing.T) {
	a := config.Defaults()
	b := config.Defaults()
	b.Server.OriginPatterns = []string{"console.example.com"}

	d := config.Diff(&a, &b)
	if !d.OriginsChanged || len(d.NewOrigins) != 1 {
		t.Fatalf("diff = %+v", d)
	}
}

func TestDiffIgnoresRestartOnlyFields(t *testing.T) {
	a := config.Defaults()
	b := config.Defaults()
	b.Broker.MaxSessions = 2
	b.Archive.PostgresDSN = "postgres://elsewhere/db"

	if d := config.Diff(&a, &b); !d.Empty() {
		t.Fatalf("restart-only change reported as hot-reloadable: %+v", d)
	}
}
