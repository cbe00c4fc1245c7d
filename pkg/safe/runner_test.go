package safe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nanopubsub.com/pkg/logger"
	"nanopubsub.com/pkg/xerr"
)

func TestCall(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name     string
		fn       func() error
		wantCode int
		wantIs   error
	}{
		{name: "ok", fn: func() error { return nil }, wantCode: xerr.OK},
		{name: "error", fn: func() error { return boom }, wantCode: xerr.Handler, wantIs: boom},
		{name: "panic", fn: func() error { panic("handler exploded") }, wantCode: xerr.Handler},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			require.NotPanics(t, func() { err = Call(tt.fn) })
			assert.Equal(t, tt.wantCode, xerr.CodeOf(err))
			if tt.wantIs != nil {
				assert.ErrorIs(t, err, tt.wantIs)
			}
		})
	}
}

func TestGo_RecoversPanic(t *testing.T) {
	logger.Nop()

	done := make(chan struct{})
	Go(context.Background(), "panicky", func(ctx context.Context) {
		defer close(done)
		panic("worker died")
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}
}
