package errs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSerializeStripsDetailsFromMessage(t *testing.T) {
	e := NewBlockDeviceError("/dev/sda is read-only")
	out := Serialize(e)
	assert.Equal(t, "Block device error", out["message"])
	assert.Equal(t, "/dev/sda is read-only", out["details"])
	assert.Equal(t, "BlockDeviceError", out["type"])
	assert.Equal(t, 500, out["code"])
}

func TestSerializeWithNoDetails(t *testing.T) {
	e := NewAgentIsBusy()
	out := Serialize(e)
	assert.Equal(t, "Agent is already running a command", out["message"])
	assert.Equal(t, "", out["details"])
}

func TestIsIncompatibleHardwareMethod(t *testing.T) {
	assert.True(t, IsIncompatibleHardwareMethod(NewIncompatibleHardwareMethodError("no ipmi")))
	assert.False(t, IsIncompatibleHardwareMethod(NewBlockDeviceError("nope")))
	assert.False(t, IsIncompatibleHardwareMethod(nil))
}

func TestIsConflict(t *testing.T) {
	assert.True(t, IsConflict(NewHeartbeatConflictError("slow down")))
	assert.False(t, IsConflict(NewHeartbeatError("boom")))
}

func TestIsInvalidContent(t *testing.T) {
	assert.True(t, IsInvalidContent(NewInvalidContentError("bad")))
	assert.True(t, IsInvalidContent(NewInvalidCommandError("bad")))
	assert.True(t, IsInvalidContent(NewInvalidCommandParamsError("bad")))
	assert.False(t, IsInvalidContent(NewCommandExecutionError("bad")))
}
