package filesystem

import (
	"path"
	"strings"
)

// Resolve turns name into an absolute, cleaned path relative to cwd.
// Absolute names ignore cwd. ".." components stop at "/", so the result never leaves the root.
func Resolve(cwd, name string) (string, error) {
	if name == "" {
		return "", ErrEmptyPath
	}
	if !strings.HasPrefix(name, "/") {
		if cwd == "" {
			cwd = "/"
		}
		name = cwd + "/" + name
	}
	return path.Clean("/" + name), nil
}

// Join places an absolute provider path under a backend root directory
// ("" or "/" root leaves the path untouched).
func Join(root, p string) string {
	root = strings.TrimRight(root, "/")
	if root == "" {
		return p
	}
	if p == "/" {
		return root
	}
	return root + p
}
