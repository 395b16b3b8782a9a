// Copyright (c) 2026 Metosin Oy
// aws-tools - operational tunneling for private AWS databases
// This source code is licensed under the MIT license found in the LICENSE file.
package i18n

import (
	"strings"
	"testing"
)

func TestInitAndGetLang(t *testing.T) {
	Init("en")
	if GetLang() != "en" {
		t.Fatalf("expected lang 'en', got %q", GetLang())
	}
}

func TestT_BasicAndFormatting(t *testing.T) {
	Init("en")

	if got := T("session.press_any_key"); got == "session.press_any_key" || got == "" {
		t.Fatalf("expected translation, got %q", got)
	}

	got := T("session.tunnel_ready", 7432, "prod-orders-db")
	if !strings.Contains(got, "7432") || !strings.Contains(got, "prod-orders-db") {
		t.Fatalf("formatting args not applied: %q", got)
	}
}

func TestT_ArgumentsKeepPercentLiterals(t *testing.T) {
	Init("en")
	got := T("session.resolving", "bastion", "orders%ddb")
	if !strings.Contains(got, "orders%ddb") {
		t.Fatalf("argument mangled: %q", got)
	}
}

func TestT_UnknownIDFallsBack(t *testing.T) {
	Init("en")
	if got := T("no.such.message"); got != "no.such.message" {
		t.Fatalf("expected ID fallback, got %q", got)
	}
}

func TestSetLang(t *testing.T) {
	SetLang("de")
	defer SetLang("en")

	if GetLang() != "de" {
		t.Fatalf("expected lang 'de', got %q", GetLang())
	}
	if got := T("check.ok"); !strings.Contains(got, "gefunden") {
		t.Fatalf("expected German translation, got %q", got)
	}
}
