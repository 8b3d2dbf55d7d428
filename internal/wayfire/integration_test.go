package wayfire

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wfmenu/internal/ipc"
	"wfmenu/internal/logging"
)

// fakeCompositor answers the watch request, pushes the given events and then
// answers every property request in order. It hangs up once all requests
// are answered.
func fakeCompositor(t *testing.T, ln net.Listener, events [][]byte, wantRequests int) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() {
		peer, err := ln.Accept()
		if err != nil {
			done <- err
			return
		}
		defer peer.Close()

		watch, err := ipc.ReadFrame(peer)
		if err != nil {
			done <- err
			return
		}
		var req struct {
			Method string `json:"method"`
		}
		if err := json.Unmarshal(watch, &req); err != nil || req.Method != MethodWatch {
			done <- fmt.Errorf("first request was %q: %v", watch, err)
			return
		}
		if err := ipc.WriteFrame(peer, []byte(`{"result":"ok"}`)); err != nil {
			done <- err
			return
		}

		for _, ev := range events {
			if err := ipc.WriteFrame(peer, ev); err != nil {
				done <- err
				return
			}
		}

		for i := 0; i < wantRequests; i++ {
			frame, err := ipc.ReadFrame(peer)
			if err != nil {
				done <- err
				return
			}
			var get struct {
				Data struct {
					ID       uint32 `json:"id"`
					Property string `json:"property"`
				} `json:"data"`
			}
			if err := json.Unmarshal(frame, &get); err != nil {
				done <- err
				return
			}
			value := fmt.Sprintf("/view/%d/%s", get.Data.ID, get.Data.Property)
			if err := ipc.WriteFrame(peer, okReply(value)); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()
	return done
}

func TestSessionOverUnixSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wayfire.sock")
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	defer ln.Close()

	server := fakeCompositor(t, ln, [][]byte{
		event(EventViewMapped, 3, ViewTypeToplevel, ""),
		event(EventViewFocused, 5, ViewTypeToplevel, "Editor"),
	}, 14)

	rec := &recorder{}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := Connect(ctx, path, rec, logging.Discard())
	require.NoError(t, err)

	err = s.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ipc.ErrClosed)
	require.NoError(t, <-server)

	require.Len(t, rec.calls, 1)
	got := rec.calls[0]
	assert.Equal(t, ViewID(5), got.ID)
	assert.Equal(t, "Editor", *got.Title)
	assert.Equal(t, "/view/5/gtk-shell-window-object-path", *got.GTKWindowObjectPath)
	assert.Equal(t, "/view/5/kde-appmenu-service-name", *got.KDEServiceName)

	// The hangup was terminal.
	assert.True(t, s.Closed())
	assert.Zero(t, s.Views())
	assert.Zero(t, s.Pending())
}

func TestRunStopsOnCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wayfire.sock")
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		peer, err := ln.Accept()
		if err != nil {
			return
		}
		accepted <- peer
	}()

	ctx, cancel := context.WithCancel(context.Background())
	s, err := Connect(ctx, path, nil, logging.Discard())
	require.NoError(t, err)

	peer := <-accepted
	defer peer.Close()

	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	cancel()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestConnectMissingSocket(t *testing.T) {
	_, err := Connect(context.Background(), filepath.Join(t.TempDir(), "absent.sock"), nil, logging.Discard())
	require.Error(t, err)
}
