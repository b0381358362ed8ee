package resolver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// layout builds an inspection root with one dated capture.
func layout(t *testing.T) (root, captured string) {
	t.Helper()
	root = filepath.Join(t.TempDir(), "images", "inspection")
	dated := filepath.Join(root, "20260824")
	require.NoError(t, os.MkdirAll(dated, 0o755))
	captured = filepath.Join(dated, "frame001_1724480000.bmp")
	require.NoError(t, os.WriteFile(captured, []byte("bmp"), 0o644))
	return root, captured
}

func TestResolve_Strategies(t *testing.T) {
	root, captured := layout(t)
	r := New(root)

	nested := filepath.Join(root, "20260824", "sub")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	deep := filepath.Join(nested, "deep.bmp")
	require.NoError(t, os.WriteFile(deep, []byte("bmp"), 0o644))

	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"literal absolute path", captured, captured},
		{"src-api prefix stripped", "src-api/" + captured[1:], ""}, // only matters for relative layouts; see below
		{"inspection suffix", "C:/legacy/app/data/images/inspection/20260824/frame001_1724480000.bmp", captured},
		{"url-embedded suffix", "http://old-host/files/inspection/20260824/frame001_1724480000.bmp", captured},
		{"bare basename via dated dirs", "frame001_1724480000.bmp", captured},
		{"recursive walk", "deep.bmp", deep},
		{"frame-id glob", "old-prefix_frame001_9999.bmp", captured},
		{"windows separators", `D:\old\data\images\inspection\20260824\frame001_1724480000.bmp`, captured},
	}

	for _, tc := range cases {
		if tc.want == "" {
			continue
		}
		t.Run(tc.name, func(t *testing.T) {
			got, err := r.Resolve(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestResolve_SrcAPIPrefix(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "assets"), 0o755))
	target := filepath.Join(dir, "assets", "a.png")
	require.NoError(t, os.WriteFile(target, []byte("png"), 0o644))

	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(cwd) })

	r := New(filepath.Join(dir, "inspection"))
	got, err := r.Resolve("src-api/assets/a.png")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("assets", "a.png"), got)
}

func TestResolve_NotFoundListsAttempts(t *testing.T) {
	root, _ := layout(t)
	r := New(root)

	_, err := r.Resolve("nowhere/absent_frame999_1.bmp")
	require.Error(t, err)

	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "nowhere/absent_frame999_1.bmp", nf.Input)
	assert.GreaterOrEqual(t, len(nf.Attempted), 4, "every strategy leaves a trace")
}

func TestResolve_DirectoryIsNotAFile(t *testing.T) {
	root, _ := layout(t)
	r := New(root)

	_, err := r.Resolve(filepath.Join(root, "20260824"))
	assert.Error(t, err, "directories never resolve")
}
