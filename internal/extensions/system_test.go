package extensions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironrun/provisiond/internal/dispatcher"
)

type fakeShutdowner struct{ called bool }

func (f *fakeShutdowner) Shutdown() { f.called = true }

type fakeStopper struct{ called bool }

func (f *fakeStopper) Stop() { f.called = true }

func TestSystemLockdownShutsDownServer(t *testing.T) {
	server := &fakeShutdowner{}
	d := dispatcher.New()
	d.Register(System(server))

	_, err := d.Accept("system.lockdown", nil)
	require.NoError(t, err)
	assert.True(t, server.called)
}

func TestRescueFinalizeStopsHeartbeatAndServer(t *testing.T) {
	server := &fakeShutdowner{}
	hb := &fakeStopper{}
	d := dispatcher.New()
	d.Register(Rescue(server, hb))

	_, err := d.Accept("rescue.finalize_rescue", nil)
	require.NoError(t, err)
	assert.True(t, server.called)
	assert.True(t, hb.called)
}

func TestRescueStartRequiresPassword(t *testing.T) {
	d := dispatcher.New()
	d.Register(Rescue(&fakeShutdowner{}, &fakeStopper{}))

	_, err := d.Accept("rescue.start_rescue", map[string]any{})
	require.Error(t, err)
}
