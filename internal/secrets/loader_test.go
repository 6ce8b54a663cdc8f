package secrets

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "key")
	if err := os.WriteFile(keyFile, []byte("  from-file\n"), 0o600); err != nil {
		t.Fatalf("write key file: %v", err)
	}
	emptyFile := filepath.Join(dir, "empty")
	if err := os.WriteFile(emptyFile, []byte("\n"), 0o600); err != nil {
		t.Fatalf("write empty file: %v", err)
	}

	t.Setenv("CV_MATCHER_TEST_SECRET", " from-env ")

	tests := []struct {
		name    string
		src     Source
		expect  string
		wantErr string
	}{
		{
			name:   "file wins over value and env",
			src:    Source{Name: "api key", File: keyFile, Value: "inline", Env: "CV_MATCHER_TEST_SECRET"},
			expect: "from-file",
		},
		{
			name:   "value wins over env",
			src:    Source{Value: " inline ", Env: "CV_MATCHER_TEST_SECRET"},
			expect: "inline",
		},
		{
			name:   "env fallback",
			src:    Source{Env: "CV_MATCHER_TEST_SECRET"},
			expect: "from-env",
		},
		{
			name:    "empty file",
			src:     Source{Name: "api key", File: emptyFile},
			wantErr: "is empty",
		},
		{
			name:    "missing file",
			src:     Source{Name: "api key", File: filepath.Join(dir, "absent")},
			wantErr: "reading api key",
		},
		{
			name:    "unset env",
			src:     Source{Name: "jwt secret", Env: "CV_MATCHER_TEST_UNSET"},
			wantErr: "set CV_MATCHER_TEST_UNSET",
		},
		{
			name:    "nothing configured",
			src:     Source{},
			wantErr: "secret is not configured",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Load(tt.src)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.expect {
				t.Fatalf("expected %q, got %q", tt.expect, got)
			}
		})
	}
}

func TestOptional(t *testing.T) {
	got, err := Optional(Source{Name: "redis password", Env: "CV_MATCHER_TEST_UNSET"})
	if err != nil || got != "" {
		t.Fatalf("expected empty secret without error, got %q, %v", got, err)
	}

	t.Setenv("CV_MATCHER_TEST_REDIS", "pw")
	got, err = Optional(Source{Env: "CV_MATCHER_TEST_REDIS"})
	if err != nil || got != "pw" {
		t.Fatalf("expected pw, got %q, %v", got, err)
	}
}
