package graceful

import (
	"context"
	"errors"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/operator-framework/omps/pkg/lib/log"
)

func TestShutdownRunFails(t *testing.T) {
	boom := errors.New("listen failed")
	cleaned := false
	err := Shutdown(log.Null(), time.Second, func() error {
		return boom
	}, func(context.Context) error {
		cleaned = true
		return nil
	})
	assert.Same(t, boom, err)
	assert.True(t, cleaned)
}

func TestShutdownOnSignal(t *testing.T) {
	stop := make(chan struct{})
	started := make(chan struct{})

	go func() {
		<-started
		syscall.Kill(os.Getpid(), syscall.SIGTERM)
	}()

	err := Shutdown(log.Null(), time.Second, func() error {
		close(started)
		<-stop
		return nil
	}, func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		require.True(t, ok)
		close(stop)
		return nil
	})
	require.NoError(t, err)
}
