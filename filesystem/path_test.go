package filesystem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		cwd, name, want string
	}{
		{"/", "a.txt", "/a.txt"},
		{"/docs", "a.txt", "/docs/a.txt"},
		{"/docs", "/etc/passwd", "/etc/passwd"},
		{"/docs", "..", "/"},
		{"/docs", "../../../..", "/"},
		{"/docs", "./x/../y", "/docs/y"},
		{"/", "dir/", "/dir"},
		{"", "a", "/a"},
	}
	for _, tt := range tests {
		got, err := Resolve(tt.cwd, tt.name)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "Resolve(%q, %q)", tt.cwd, tt.name)
	}
}

func TestResolveEmpty(t *testing.T) {
	_, err := Resolve("/", "")
	assert.ErrorIs(t, err, ErrEmptyPath)
}

func TestJoin(t *testing.T) {
	assert.Equal(t, "/a", Join("", "/a"))
	assert.Equal(t, "/a", Join("/", "/a"))
	assert.Equal(t, "/srv/ftp/a", Join("/srv/ftp/", "/a"))
	assert.Equal(t, "/srv/ftp", Join("/srv/ftp", "/"))
}
