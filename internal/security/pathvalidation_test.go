package security

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	tmpDir := t.TempDir()

	safeDir := filepath.Join(tmpDir, "outputs")
	unsafeDir := filepath.Join(tmpDir, "elsewhere")
	for _, dir := range []string{filepath.Join(safeDir, "run"), unsafeDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("Failed to create %s: %v", dir, err)
		}
	}
	if err := os.Symlink(unsafeDir, filepath.Join(safeDir, "link")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	testCases := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"existing_dir", filepath.Join(safeDir, "run"), false},
		{"new_file", filepath.Join(safeDir, "run", "benchmark.json"), false},
		{"new_nested_file", filepath.Join(safeDir, "new", "deep", "a.json"), false},
		{"safe_dir_itself", safeDir, false},
		{"dot_dot_escape", filepath.Join(safeDir, "..", "elsewhere", "x"), true},
		{"sibling", filepath.Join(unsafeDir, "x"), true},
		{"through_symlink", filepath.Join(safeDir, "link", "secret.txt"), true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tc.path, safeDir)
			if tc.wantErr && err == nil {
				t.Errorf("expected error for %s", tc.path)
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error for %s: %v", tc.path, err)
			}
		})
	}

	if err := ValidatePathWithinDirectory("x", filepath.Join(tmpDir, "missing")); err == nil {
		t.Error("expected error for missing safe directory")
	}
}

func TestSanitizeFilename(t *testing.T) {
	testCases := []struct {
		input    string
		expected string
	}{
		{"psnr", "psnr"},
		{"mean_rotation_error", "mean_rotation_error"},
		{"lpips/alex", "lpips_alex"},
		{"../escape", "escape"},
		{"a  b//c", "a_b_c"},
		{"ssim-v2.1", "ssim-v2.1"},
		{"", "unknown"},
		{"///", "unknown"},
		{"σ", "unknown"},
	}
	for _, tc := range testCases {
		if got := SanitizeFilename(tc.input); got != tc.expected {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tc.input, got, tc.expected)
		}
	}

	if got := SanitizeFilename(strings.Repeat("x", 300)); len(got) != maxFilenameLen {
		t.Errorf("expected length %d, got %d", maxFilenameLen, len(got))
	}
}
