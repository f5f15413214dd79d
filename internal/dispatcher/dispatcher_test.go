package dispatcher

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironrun/provisiond/internal/errs"
)

func syncMethod(name string, run func(map[string]any) (any, error)) *Extension {
	return &Extension{
		Name: "test",
		Methods: map[string]*Method{
			name: {Name: name, Async: false, Run: run},
		},
	}
}

func asyncMethod(name string, run func(map[string]any) (any, error)) *Extension {
	return &Extension{
		Name: "test",
		Methods: map[string]*Method{
			name: {Name: name, Async: true, Run: run},
		},
	}
}

func TestAcceptUnknownCommand(t *testing.T) {
	d := New()
	_, err := d.Accept("nope", nil)
	require.Error(t, err)
	re := err.(errs.RESTError)
	assert.Equal(t, "InvalidCommandError", re.Type())
}

func TestAcceptSyncRunsThenInsertsTerminal(t *testing.T) {
	d := New()
	d.Register(syncMethod("echo", func(params map[string]any) (any, error) {
		return params["msg"], nil
	}))

	cr, err := d.Accept("test.echo", map[string]any{"msg": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "SUCCEEDED", string(cr.StatusNow()))

	list := d.List()
	require.Len(t, list, 1)
	assert.Equal(t, cr.ID(), list[0].ID())
}

func TestAcceptSyncFailurePreservesRESTErrorType(t *testing.T) {
	d := New()
	d.Register(syncMethod("boom", func(map[string]any) (any, error) {
		return nil, errs.NewBlockDeviceError("bad disk")
	}))

	cr, err := d.Accept("test.boom", nil)
	require.NoError(t, err) // the command was accepted; it just terminated FAILED
	assert.Equal(t, "FAILED", string(cr.StatusNow()))

	body := cr.Serialize()
	errBody := body["error"].(map[string]any)
	assert.Equal(t, "BlockDeviceError", errBody["type"])
}

func TestAcceptInvalidContentBypassesLedger(t *testing.T) {
	d := New()
	d.Register(syncMethod("bad", func(map[string]any) (any, error) {
		return nil, errs.NewInvalidContentError("malformed params")
	}))

	_, err := d.Accept("test.bad", nil)
	require.Error(t, err)
	assert.True(t, errs.IsInvalidContent(err))
	assert.Empty(t, d.List())
}

func TestAcceptRejectsWhileBusy(t *testing.T) {
	d := New()
	release := make(chan struct{})
	d.Register(asyncMethod("slow", func(map[string]any) (any, error) {
		<-release
		return "done", nil
	}))

	first, err := d.Accept("test.slow", nil)
	require.NoError(t, err)
	assert.Equal(t, "RUNNING", string(first.StatusNow()))

	_, err = d.Accept("test.slow", nil)
	require.Error(t, err)
	re := err.(errs.RESTError)
	assert.Equal(t, "AgentIsBusy", re.Type())

	close(release)
	assert.True(t, first.Wait(time.Second))
}

func TestRunNestedBypassesBusyGate(t *testing.T) {
	d := New()
	release := make(chan struct{})
	d.Register(asyncMethod("slow", func(map[string]any) (any, error) {
		<-release
		return "done", nil
	}))
	d.Register(syncMethod("echo", func(params map[string]any) (any, error) {
		return params["msg"], nil
	}))

	outer, err := d.Accept("test.slow", nil)
	require.NoError(t, err)
	assert.Equal(t, "RUNNING", string(outer.StatusNow()))

	nested, err := d.RunNested("test.echo", map[string]any{"msg": "nested"})
	require.NoError(t, err)
	assert.Equal(t, "SUCCEEDED", string(nested.StatusNow()))
	assert.Equal(t, "nested", nested.Serialize()["result"])

	close(release)
	assert.True(t, outer.Wait(time.Second))
}

func TestRunNestedRecordsFailureWithoutRejecting(t *testing.T) {
	d := New()
	d.Register(syncMethod("boom", func(map[string]any) (any, error) {
		return nil, errs.NewBlockDeviceError("bad disk")
	}))

	cr, err := d.RunNested("test.boom", nil)
	require.NoError(t, err)
	assert.Equal(t, "FAILED", string(cr.StatusNow()))
}

func TestAcceptAllowsNewCommandOnceTerminal(t *testing.T) {
	d := New()
	calls := 0
	var mu sync.Mutex
	d.Register(syncMethod("tick", func(map[string]any) (any, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil, nil
	}))

	_, err := d.Accept("test.tick", nil)
	require.NoError(t, err)
	_, err = d.Accept("test.tick", nil)
	require.NoError(t, err)

	assert.Equal(t, 2, calls)
	assert.Len(t, d.List(), 2)
}
