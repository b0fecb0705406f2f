package auth

import (
	"errors"
	"testing"

	"github.com/danmuck/mcpbridge/internal/testutil/testlog"
)

func TestStaticTokenValidate(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		name    string
		stored  string
		input   string
		wantErr error
	}{
		{name: "empty token denied", stored: "", input: "abc", wantErr: ErrUnauthorized},
		{name: "mismatched token denied", stored: "abc", input: "xyz", wantErr: ErrUnauthorized},
		{name: "matching token accepted", stored: "abc", input: "abc", wantErr: nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := (StaticToken{Token: tc.stored}).Validate(tc.input)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected err %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestBearerRoundTrip(t *testing.T) {
	testlog.Start(t)
	if got := BearerHeader("  tok "); got != "Bearer tok" {
		t.Fatalf("header=%q", got)
	}
	if got := BearerHeader(" "); got != "" {
		t.Fatalf("empty credential header=%q", got)
	}

	cases := map[string]struct {
		token string
		ok    bool
	}{
		"Bearer tok":  {"tok", true},
		"bearer tok ": {"tok", true},
		"Bearer ":     {"", false},
		"Basic abc":   {"", false},
		"":            {"", false},
	}
	for header, want := range cases {
		token, ok := ParseBearer(header)
		if token != want.token || ok != want.ok {
			t.Fatalf("ParseBearer(%q)=(%q,%v) want (%q,%v)", header, token, ok, want.token, want.ok)
		}
	}
}

func TestFuncValidator(t *testing.T) {
	testlog.Start(t)
	v := FuncValidator(func(token string) error {
		if token == "ok" {
			return nil
		}
		return ErrUnauthorized
	})
	if err := v.Validate("ok"); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if err := v.Validate("no"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}
