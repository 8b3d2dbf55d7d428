package ipc

import (
	"net"
	"os"
	"time"
)

// IsSocketListening checks if something accepts connections on path.
func IsSocketListening(path string) bool {
	info, err := os.Lstat(path)
	if err != nil || info.Mode()&os.ModeSocket == 0 {
		return false
	}
	conn, err := net.DialTimeout("unix", path, time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
