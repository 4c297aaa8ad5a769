package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithinDir(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	safe := filepath.Join(root, "out")
	other := filepath.Join(root, "elsewhere")
	require.NoError(t, os.MkdirAll(safe, 0o755))
	require.NoError(t, os.MkdirAll(other, 0o755))
	require.NoError(t, os.Symlink(other, filepath.Join(safe, "link")))

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"existing dir itself", safe, false},
		{"new file inside", filepath.Join(safe, "scan_PredictedResults.json"), false},
		{"nested new file", filepath.Join(safe, "a", "b", "c.png"), false},
		{"dot dot escape", filepath.Join(safe, "..", "elsewhere", "x.json"), true},
		{"sibling", filepath.Join(other, "x.json"), true},
		{"through symlink", filepath.Join(safe, "link", "x.json"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := WithinDir(tt.path, safe)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrOutsideDirectory)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateOutputPath(t *testing.T) {
	t.Parallel()

	a, b := t.TempDir(), t.TempDir()
	assert.NoError(t, ValidateOutputPath(filepath.Join(b, "view.html"), a, b))
	assert.ErrorIs(t, ValidateOutputPath("/definitely/not/allowed.html", a, b), ErrOutsideDirectory)

	// defaults include the temp directory
	assert.NoError(t, ValidateOutputPath(filepath.Join(os.TempDir(), "cloudsplit-view.png")))
}

func TestSanitizeFilename(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"Area_1":            "Area_1",
		"site 4 / north":    "site_4_north",
		"..hidden..":        "hidden",
		"":                  "unknown",
		"///":               "unknown",
		"scan.v2-final":     "scan.v2-final",
		"données brutes":    "donn_es_brutes",
		"__lead_and_trail_": "lead_and_trail",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeFilename(in), "input %q", in)
	}

	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a'
	}
	assert.Len(t, SanitizeFilename(string(long)), 128)
}
