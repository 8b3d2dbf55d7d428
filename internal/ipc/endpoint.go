package ipc

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// EnvSocket names the environment variable Wayfire exports to its clients.
const EnvSocket = "WAYFIRE_SOCKET"

// DefaultSocketPath is used when nothing else names a socket.
const DefaultSocketPath = "/tmp/wayfire-wayland-1.socket"

// Endpoint describes where to look for the compositor socket.
type Endpoint struct {
	// Path is an explicit socket path. The environment override wins over it.
	Path string

	// DefaultPath is the fallback when neither env nor Path is set.
	DefaultPath string

	// Discover enables scanning Dir for sockets matching Pattern when the
	// chosen path does not accept connections.
	Discover bool
	Dir      string
	Pattern  string
}

// DefaultEndpoint returns the endpoint used when no configuration exists.
func DefaultEndpoint() Endpoint {
	return Endpoint{
		DefaultPath: DefaultSocketPath,
		Dir:         "/tmp",
		Pattern:     "wayfire-wayland*",
	}
}

// Resolve picks the socket path to dial.
//
// Order: $WAYFIRE_SOCKET, then Path, then DefaultPath. When Discover is set
// and the chosen path does not accept connections, candidates in Dir are
// tried newest-name first and the first listening one is returned.
func (e Endpoint) Resolve() (string, error) {
	path := strings.TrimSpace(os.Getenv(EnvSocket))
	if path == "" {
		path = e.Path
	}
	if path == "" {
		path = e.DefaultPath
	}

	if !e.Discover || (path != "" && IsSocketListening(path)) {
		if path == "" {
			return "", ErrNoSocket
		}
		return path, nil
	}

	for _, candidate := range e.candidates() {
		if IsSocketListening(candidate) {
			return candidate, nil
		}
	}
	return "", ErrNoSocket
}

// candidates lists discovery matches, last in sort order first.
func (e Endpoint) candidates() []string {
	dir := e.Dir
	if dir == "" {
		dir = "/tmp"
	}
	pattern := e.Pattern
	if pattern == "" {
		pattern = "wayfire-wayland*"
	}

	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil
	}
	sort.Sort(sort.Reverse(sort.StringSlice(matches)))
	return matches
}
