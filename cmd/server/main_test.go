package main

import (
	"testing"

	"materialpos/backend/internal/config"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "short"})
	if err == nil {
		t.Fatalf("expected weak security config to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef"})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestValidateSecurityConfigProductionRules(t *testing.T) {
	base := config.Config{
		Env:         "production",
		AuthSecret:  "0123456789abcdef0123456789abcdef",
		DatabaseURL: "postgres://pos@db/pos",
	}

	wildcard := base
	wildcard.AllowedOrigin = "*"
	if err := validateSecurityConfig(wildcard); err == nil {
		t.Fatalf("expected wildcard origin to be rejected in production")
	}

	base.AllowedOrigin = "https://pos.example.la"
	if err := validateSecurityConfig(base); err != nil {
		t.Fatalf("expected production config with database to pass, got %v", err)
	}

	inMemory := base
	inMemory.DatabaseURL = ""
	t.Setenv("SEED_OWNER_PASSWORD", "")
	if err := validateSecurityConfig(inMemory); err == nil {
		t.Fatalf("expected default seed credentials to be rejected in production")
	}

	t.Setenv("SEED_OWNER_PASSWORD", "owner-secret")
	t.Setenv("SEED_SUPERVISOR_PASSWORD", "supervisor-secret")
	t.Setenv("SEED_CASHIER_PASSWORD", "cashier-secret")
	if err := validateSecurityConfig(inMemory); err != nil {
		t.Fatalf("expected seeded production config to pass, got %v", err)
	}
}
