package main

import (
	"testing"
)

func TestMainRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	origLoadEnv := loadEnvFunc
	origFatalf := fatalf
	t.Cleanup(func() {
		loadEnvFunc = origLoadEnv
		fatalf = origFatalf
	})

	loadEnvFunc = func(...string) error { return nil }

	var gotFormat string
	fatalf = func(format string, args ...any) {
		gotFormat = format
	}

	main()
	if gotFormat != "DATABASE_URL is required" {
		t.Fatalf("expected missing DSN fatal, got %q", gotFormat)
	}
}
