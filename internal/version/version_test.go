package version

import (
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"plain version", "1.2.3", false},
		{"prerelease", "1.2.3-beta.1", false},
		{"build metadata", "1.2.3+build.5", false},
		{"empty", "", true},
		{"garbage", "not-a-version", true},
		{"too many parts", "1.2.3.4", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ver, err := Parse(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.input)
				}
				if !ver.IsZero() {
					t.Error("failed parse must return the Zero sentinel")
				}
				if !errors.Is(err, ErrVersionParseFailed{}) {
					t.Errorf("expected ErrVersionParseFailed, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) failed: %v", tt.input, err)
			}
		})
	}
}

func TestVersion_IsZero(t *testing.T) {
	tests := []struct {
		name string
		ver  Version
		want bool
	}{
		{"sentinel", Zero, true},
		{"literal zero", MustParse("0.0.0"), true},
		{"zero with prerelease", MustParse("0.0.0-beta"), false},
		{"nonzero patch", MustParse("0.0.1"), false},
		{"ordinary", MustParse("1.2.3"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ver.IsZero(); got != tt.want {
				t.Errorf("IsZero() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVersion_CoreEquals(t *testing.T) {
	tests := []struct {
		name string
		a, b Version
		want bool
	}{
		{"equal", MustParse("1.2.3"), MustParse("1.2.3"), true},
		{"prerelease ignored", MustParse("1.2.3-beta"), MustParse("1.2.3"), true},
		{"build metadata ignored", MustParse("1.2.3+abc"), MustParse("1.2.3"), true},
		{"patch differs", MustParse("1.2.4"), MustParse("1.2.3"), false},
		{"major differs", MustParse("2.2.3"), MustParse("1.2.3"), false},
		{"zero never equals", Zero, MustParse("1.2.3"), false},
		{"zero never equals itself", Zero, Zero, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.CoreEquals(tt.b); got != tt.want {
				t.Errorf("CoreEquals = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseRange(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		wantErr error
	}{
		{"caret", "^1.0.0", nil},
		{"wildcard", "*", nil},
		{"compound", ">=1.1.0 <2.0.0", nil},
		{"garbage", "not-a-range", ErrVersionParseFailed{}},
		{"empty", "", ErrEmptyRange},
		{"whitespace only", "   ", ErrEmptyRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rng, err := ParseRange(tt.expr)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRange(%q) failed: %v", tt.expr, err)
			}
			if rng.String() != tt.expr {
				t.Errorf("String() = %q, want %q", rng.String(), tt.expr)
			}
		})
	}
}

func TestRange_Matches(t *testing.T) {
	rng, err := ParseRange("^1.2.0")
	if err != nil {
		t.Fatalf("ParseRange failed: %v", err)
	}

	tests := []struct {
		ver  string
		want bool
	}{
		{"1.2.0", true},
		{"1.9.9", true},
		{"2.0.0", false},
		{"1.1.0", false},
	}

	for _, tt := range tests {
		t.Run(tt.ver, func(t *testing.T) {
			if got := rng.Matches(MustParse(tt.ver)); got != tt.want {
				t.Errorf("Matches(%s) = %v, want %v", tt.ver, got, tt.want)
			}
		})
	}

	if rng.Matches(Zero) {
		t.Error("the Zero sentinel must not satisfy any range")
	}
	if (Range{}).Matches(MustParse("1.2.3")) {
		t.Error("the zero Range must not match anything")
	}
}
