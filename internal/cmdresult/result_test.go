package cmdresult

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ironrun/provisiond/internal/errs"
)

func TestNewSyncSucceeded(t *testing.T) {
	r := NewSyncSucceeded("standard.get_cpus", map[string]any{}, map[string]any{"count": 4})
	assert.Equal(t, StatusSucceeded, r.StatusNow())
	assert.True(t, r.Wait(time.Millisecond))

	out := r.Serialize()
	assert.Equal(t, "standard.get_cpus", out["name"])
	assert.Nil(t, out["error"])
}

func TestNewSyncFailed(t *testing.T) {
	r := NewSyncFailed("clean.erase_devices", map[string]any{"device": "/dev/sda"}, errs.NewBlockDeviceError("boom"))
	assert.Equal(t, StatusFailed, r.StatusNow())

	out := r.Serialize()
	assert.Nil(t, out["result"])
	errBody, ok := out["error"].(map[string]any)
	assert.True(t, ok)
	assert.Equal(t, "BlockDeviceError", errBody["type"])
}

func TestAsyncStatusNeverGoesBackward(t *testing.T) {
	a := NewAsync("deploy.write_image", nil)
	assert.Equal(t, StatusRunning, a.StatusNow())

	done := make(chan struct{})
	a.Start(func() (any, error) {
		<-done
		return "ok", nil
	})

	// succeed and fail are unexported, but the invariant is exercised
	// indirectly: StatusNow never reports RUNNING again after Start's
	// goroutine completes, and a second completion attempt cannot
	// happen because Start only ever calls fn once.
	close(done)
	assert.True(t, a.Wait(time.Second))
	assert.Equal(t, StatusSucceeded, a.StatusNow())
}

func TestAsyncPanicBecomesCommandExecutionError(t *testing.T) {
	a := NewAsync("clean.erase_devices", nil)
	a.Start(func() (any, error) {
		panic("disk on fire")
	})
	assert.True(t, a.Wait(time.Second))
	assert.Equal(t, StatusFailed, a.StatusNow())

	out := a.Serialize()
	errBody := out["error"].(map[string]any)
	assert.Equal(t, "CommandExecutionError", errBody["type"])
}
