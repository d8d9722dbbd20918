package extract

import (
	"errors"
	"strings"
	"testing"

	"batchbridge/internal/apperrors"
)

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		pattern string
		wantErr string
	}{
		{
			name:    "valid pattern",
			pattern: `Submitted batch job (\d+).*`,
		},
		{
			name:    "empty pattern",
			pattern: "",
			wantErr: "pattern is empty",
		},
		{
			name:    "invalid regex",
			pattern: `([0-9]+`,
			wantErr: "invalid pattern",
		},
		{
			name:    "no capturing group",
			pattern: `\d+`,
			wantErr: "0 capturing groups",
		},
		{
			name:    "two capturing groups",
			pattern: `(\w+) (\d+)`,
			wantErr: "2 capturing groups",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tt.pattern, false)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, apperrors.ErrConfiguration) {
				t.Fatalf("expected configuration error, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}

func TestExtractor_Extract(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		pattern string
		strict  bool
		text    string
		want    string
		wantErr error
	}{
		{
			name:    "slurm submit banner",
			pattern: `Submitted batch job (\d+).*`,
			text:    "Submitted batch job 12345\n",
			want:    "12345",
		},
		{
			name:    "id amid noise",
			pattern: `job id: (\S+)`,
			text:    "INFO: connecting\njob id: sge-889\ndone\n",
			want:    "sge-889",
		},
		{
			name:    "first match wins by default",
			pattern: `(\d+)`,
			text:    "42 then 43",
			want:    "42",
		},
		{
			name:    "strict rejects multiple matches",
			pattern: `(\d+)`,
			strict:  true,
			text:    "42 then 43",
			wantErr: apperrors.ErrAmbiguousMatch,
		},
		{
			name:    "strict accepts single match",
			pattern: `(\d+)`,
			strict:  true,
			text:    "only 42 here",
			want:    "42",
		},
		{
			name:    "no match",
			pattern: `Submitted batch job (\d+)`,
			text:    "sbatch: error: invalid partition\n",
			wantErr: apperrors.ErrNoMatch,
		},
		{
			name:    "empty input",
			pattern: `(\d+)`,
			text:    "",
			wantErr: apperrors.ErrNoMatch,
		},
		{
			name:    "empty capture treated as no match",
			pattern: `id=(\d*)`,
			text:    "id= pending",
			wantErr: apperrors.ErrNoMatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e, err := New(tt.pattern, tt.strict)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got, err := e.Extract(tt.text)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Extract() = %q, want %q", got, tt.want)
			}
		})
	}
}
