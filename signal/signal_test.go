package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInterceptorShutdown(t *testing.T) {
	interceptor, err := Intercept()
	require.NoError(t, err)
	require.True(t, interceptor.Alive())

	// A second interceptor can't run alongside the first.
	_, err = Intercept()
	require.Error(t, err)

	interceptor.RequestShutdown()

	select {
	case <-interceptor.ShutdownChannel():
	case <-time.After(5 * time.Second):
		t.Fatalf("interceptor did not shut down")
	}
	require.False(t, interceptor.Alive())

	// Further requests return immediately.
	interceptor.RequestShutdown()
}
