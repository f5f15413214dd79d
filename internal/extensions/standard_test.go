package extensions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironrun/provisiond/internal/dispatcher"
	"github.com/ironrun/provisiond/internal/hwgeneric"
	"github.com/ironrun/provisiond/internal/hwmgr"
	"github.com/ironrun/provisiond/internal/hwmgr/steps"
)

func newRegistry() *hwmgr.Registry {
	reg := hwmgr.New()
	reg.Freeze([]hwmgr.HardwareManager{hwgeneric.New()})
	return reg
}

func TestStandardGetCleanStepsListsGenericStep(t *testing.T) {
	ext := Standard(newRegistry())
	d := dispatcher.New()
	d.Register(ext)

	cr, err := d.Accept("standard.get_clean_steps", map[string]any{})
	require.NoError(t, err)
	require.Equal(t, "SUCCEEDED", string(cr.StatusNow()))

	cat := cr.Serialize()["result"].(*steps.Catalog)
	require.Contains(t, cat.Steps, "GenericHardwareManager")
	assert.Equal(t, "erase_devices", cat.Steps["GenericHardwareManager"][0].Name)
}

func TestStandardExecuteCleanStepRunsEraseDevices(t *testing.T) {
	reg := newRegistry()
	ext := Standard(reg)
	d := dispatcher.New()
	d.Register(ext)

	fingerprint := reg.VersionFingerprint()
	params := map[string]any{
		"step":                     steps.Step{Name: "erase_devices", Interface: "clean"},
		"hardware_manager_version": fingerprint,
		"args":                     map[string]any{"device": "/dev/sda"},
	}
	cr, err := d.Accept("standard.execute_clean_step", params)
	require.NoError(t, err)
	require.True(t, cr.Wait(0))
	assert.Equal(t, "SUCCEEDED", string(cr.StatusNow()))
}

// TestStandardExecuteCleanStepAcceptsWireShapedFingerprint mirrors what
// actually arrives over HTTP: encoding/json decodes the fingerprint
// object as map[string]any, never map[string]string.
func TestStandardExecuteCleanStepAcceptsWireShapedFingerprint(t *testing.T) {
	reg := newRegistry()
	ext := Standard(reg)
	d := dispatcher.New()
	d.Register(ext)

	wireFingerprint := map[string]any{}
	for k, v := range reg.VersionFingerprint() {
		wireFingerprint[k] = v
	}
	params := map[string]any{
		"step":                     map[string]any{"name": "erase_devices", "interface": "clean"},
		"hardware_manager_version": wireFingerprint,
		"args":                     map[string]any{"device": "/dev/sda"},
	}
	cr, err := d.Accept("standard.execute_clean_step", params)
	require.NoError(t, err)
	require.True(t, cr.Wait(0))
	assert.Equal(t, "SUCCEEDED", string(cr.StatusNow()))
}

// TestStandardExecuteCleanStepRejectsStaleFingerprint proves the
// version-mismatch guard still fires on a genuine mismatch once the
// fingerprint is actually being compared.
func TestStandardExecuteCleanStepRejectsStaleFingerprint(t *testing.T) {
	reg := newRegistry()
	ext := Standard(reg)
	d := dispatcher.New()
	d.Register(ext)

	params := map[string]any{
		"step":                     map[string]any{"name": "erase_devices", "interface": "clean"},
		"hardware_manager_version": map[string]any{"GenericHardwareManager": "0"},
		"args":                     map[string]any{"device": "/dev/sda"},
	}
	cr, err := d.Accept("standard.execute_clean_step", params)
	require.NoError(t, err)
	require.True(t, cr.Wait(0))
	assert.Equal(t, "FAILED", string(cr.StatusNow()))

	errBody := cr.Serialize()["error"].(map[string]any)
	assert.Equal(t, "VersionMismatch", errBody["type"])
}

func TestStandardExecuteStepRequiresStepParam(t *testing.T) {
	ext := Standard(newRegistry())
	d := dispatcher.New()
	d.Register(ext)

	_, err := d.Accept("standard.execute_clean_step", map[string]any{})
	require.Error(t, err)
}
