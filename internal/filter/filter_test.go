package filter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChain_Empty(t *testing.T) {
	t.Parallel()

	c := NewChain()
	assert.True(t, c.Empty())
	assert.True(t, c.Match("anything/at/all", false, 0))

	require.NoError(t, c.AddExclude("*.log"))
	assert.False(t, c.Empty())

	c2 := NewChain()
	c2.SetMinSize(1)
	assert.False(t, c2.Empty())
}

func TestChain_Match(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		rules    func(c *Chain)
		path     string
		isDir    bool
		expected bool
	}{
		{
			name:     "basename glob matches anywhere",
			rules:    func(c *Chain) { require.NoError(t, c.AddExclude("*.log")) },
			path:     "sub/deep/app.log",
			expected: false,
		},
		{
			name:     "basename glob does not cross slashes",
			rules:    func(c *Chain) { require.NoError(t, c.AddExclude("*.log")) },
			path:     "dir.log/file.txt",
			expected: true,
		},
		{
			name:     "anchored pattern matches from the root",
			rules:    func(c *Chain) { require.NoError(t, c.AddExclude("/build/out.txt")) },
			path:     "build/out.txt",
			expected: false,
		},
		{
			name:     "anchored pattern rejects deeper paths",
			rules:    func(c *Chain) { require.NoError(t, c.AddExclude("/build/out.txt")) },
			path:     "x/build/out.txt",
			expected: true,
		},
		{
			name:     "double star crosses directories",
			rules:    func(c *Chain) { require.NoError(t, c.AddExclude("logs/**/*.gz")) },
			path:     "logs/2024/01/a.gz",
			expected: false,
		},
		{
			name:     "double star matches zero directories",
			rules:    func(c *Chain) { require.NoError(t, c.AddExclude("logs/**/*.gz")) },
			path:     "logs/a.gz",
			expected: false,
		},
		{
			name: "first match wins",
			rules: func(c *Chain) {
				require.NoError(t, c.AddInclude("keep.log"))
				require.NoError(t, c.AddExclude("*.log"))
			},
			path:     "keep.log",
			expected: true,
		},
		{
			name: "order reversed changes the outcome",
			rules: func(c *Chain) {
				require.NoError(t, c.AddExclude("*.log"))
				require.NoError(t, c.AddInclude("keep.log"))
			},
			path:     "keep.log",
			expected: false,
		},
		{
			name:     "dir-only rule ignores files",
			rules:    func(c *Chain) { require.NoError(t, c.AddExclude("cache/")) },
			path:     "cache",
			expected: true,
		},
		{
			name:     "dir-only rule matches directories",
			rules:    func(c *Chain) { require.NoError(t, c.AddExclude("cache/")) },
			path:     "cache",
			isDir:    true,
			expected: false,
		},
		{
			name:     "question mark is one character",
			rules:    func(c *Chain) { require.NoError(t, c.AddExclude("file?.txt")) },
			path:     "file1.txt",
			expected: false,
		},
		{
			name:     "character class",
			rules:    func(c *Chain) { require.NoError(t, c.AddExclude("file[0-9].txt")) },
			path:     "filex.txt",
			expected: true,
		},
		{
			name:     "negated character class",
			rules:    func(c *Chain) { require.NoError(t, c.AddExclude("file[!0-9].txt")) },
			path:     "filex.txt",
			expected: false,
		},
		{
			name:     "unmatched path is included",
			rules:    func(c *Chain) { require.NoError(t, c.AddExclude("*.tmp")) },
			path:     "notes.txt",
			expected: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := NewChain()
			tt.rules(c)
			assert.Equal(t, tt.expected, c.Match(tt.path, tt.isDir, 0))
		})
	}
}

func TestChain_SizeBounds(t *testing.T) {
	t.Parallel()

	c := NewChain()
	c.SetMinSize(100)
	c.SetMaxSize(1000)

	assert.False(t, c.Match("small.bin", false, 99))
	assert.True(t, c.Match("ok.bin", false, 100))
	assert.True(t, c.Match("ok.bin", false, 1000))
	assert.False(t, c.Match("big.bin", false, 1001))

	// Size bounds never apply to directories.
	assert.True(t, c.Match("dir", true, 0))
}

func TestChain_LoadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rules")
	require.NoError(t, os.WriteFile(path, []byte(`
# comment line
+ keep.log
- *.log
*.tmp
`), 0o644))

	c := NewChain()
	require.NoError(t, c.LoadFile(path))

	assert.True(t, c.Match("keep.log", false, 0))
	assert.False(t, c.Match("other.log", false, 0))
	assert.False(t, c.Match("x.tmp", false, 0), "bare patterns exclude")
	assert.True(t, c.Match("x.txt", false, 0))
}

func TestChain_LoadFileMissing(t *testing.T) {
	t.Parallel()

	c := NewChain()
	require.Error(t, c.LoadFile(filepath.Join(t.TempDir(), "absent")))
}

func TestParseSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "0", want: 0},
		{in: "1024", want: 1024},
		{in: "100B", want: 100},
		{in: "1K", want: 1024},
		{in: "64k", want: 64 * 1024},
		{in: "8M", want: 8 << 20},
		{in: "1G", want: 1 << 30},
		{in: "2T", want: 2 << 40},
		{in: "1.5G", want: 3 << 29},
		{in: " 10M ", want: 10 << 20},
		{in: "", wantErr: true},
		{in: "M", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "10X", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSize(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
