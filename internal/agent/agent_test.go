package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironrun/provisiond/internal/config"
)

func newStandaloneHolder() *config.Holder {
	return config.NewHolder(&config.Config{
		APIURL:             "http://director.invalid",
		ListenHost:         "127.0.0.1",
		ListenPort:         0,
		AdvertiseHost:      "127.0.0.1",
		AdvertisePort:      9999,
		Standalone:         true,
		HTTPRequestTimeout: time.Second,
		LookupTimeout:      time.Second,
		LookupInterval:     10 * time.Millisecond,
	})
}

func TestNewWiresRegistryAndDispatcher(t *testing.T) {
	a := New("test-version", newStandaloneHolder())
	require.NotNil(t, a.Dispatcher())
	require.NotNil(t, a.Registry())
	assert.Contains(t, a.Dispatcher().ExtensionNames(), "standard")
	assert.Contains(t, a.Dispatcher().ExtensionNames(), "system")
	assert.Contains(t, a.Dispatcher().ExtensionNames(), "flow")
	assert.Contains(t, a.Dispatcher().ExtensionNames(), "poll")
}

func TestRunStandaloneStartsAndStopsCleanly(t *testing.T) {
	a := New("test-version", newStandaloneHolder())

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	err := a.Run(ctx, "node-standalone-1")
	require.NoError(t, err)
	assert.Contains(t, a.Dispatcher().ExtensionNames(), "rescue")
}
