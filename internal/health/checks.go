package health

import (
	"context"
	"fmt"

	"wfmenu/internal/config"
	"wfmenu/internal/ipc"
)

// ConfigCheck loads and validates the configuration file at path. A
// missing file is fine; defaults apply.
func ConfigCheck(path string) Check {
	return func(ctx context.Context) (string, error) {
		cfg, err := config.Load(path)
		if err != nil {
			return path, err
		}
		return path, cfg.Validate()
	}
}

// SocketCheck resolves the compositor socket and checks that something
// accepts connections on it.
func SocketCheck(resolve func() (string, error)) Check {
	return func(ctx context.Context) (string, error) {
		path, err := resolve()
		if err != nil {
			return "", err
		}
		if !ipc.IsSocketListening(path) {
			return path, fmt.Errorf("nothing listening on %s", path)
		}
		return path, nil
	}
}

// PingCheck reports what as the message and the ping's error as the outcome.
func PingCheck(what string, ping func(ctx context.Context) error) Check {
	return func(ctx context.Context) (string, error) {
		return what, ping(ctx)
	}
}
