package web

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServe_ShutsDownOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())

	ln, err := Listen(ctx, "127.0.0.1:0")
	require.NoError(t, err)

	f := newFixture(t)
	done := make(chan error, 1)

	go func() { done <- Serve(ctx, ln, f.handler, testLogger(t)) }()

	resp, err := http.Get("http://" + ln.Addr().String() + PathHealth)
	require.NoError(t, err)

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "ok\n", string(body))

	cancel()
	require.NoError(t, <-done)

	_, err = http.Get("http://" + ln.Addr().String() + PathHealth)
	assert.Error(t, err)
}

func TestListen_BadAddress(t *testing.T) {
	_, err := Listen(t.Context(), "not-an-address")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "web: binding")
}
