package model

import (
	"strings"
	"testing"
)

func TestRawEventValidate(t *testing.T) {
	valid := RawEvent{Type: "login", Source: "auth", Severity: SeverityHigh, Message: "failed login burst"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid event rejected: %v", err)
	}

	cases := map[string]RawEvent{
		"missing type":     {Source: "auth", Severity: SeverityLow, Message: "m"},
		"blank source":     {Type: "login", Source: "   ", Severity: SeverityLow, Message: "m"},
		"bad severity":     {Type: "login", Source: "auth", Severity: "urgent", Message: "m"},
		"missing message":  {Type: "login", Source: "auth", Severity: SeverityLow},
		"everything wrong": {},
	}
	for name, ev := range cases {
		if err := ev.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestRawEventValidateReportsAllProblems(t *testing.T) {
	err := RawEvent{Severity: "nope"}.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"type", "source", "severity", "message"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestSeverityValid(t *testing.T) {
	for _, s := range []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical} {
		if !s.Valid() {
			t.Errorf("severity %q should be valid", s)
		}
	}
	if Severity("fatal").Valid() {
		t.Error("unknown severity accepted")
	}
}
