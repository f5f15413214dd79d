package hwgeneric

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironrun/provisiond/internal/errs"
	"github.com/ironrun/provisiond/internal/hwmgr"
	"github.com/ironrun/provisiond/internal/hwmgr/steps"
)

func TestManagerIdentity(t *testing.T) {
	m := New()
	assert.Equal(t, "GenericHardwareManager", m.Name())
	assert.Equal(t, hwmgr.SupportGeneric, m.SupportLevel())
}

func TestListNetworkInterfacesSucceeds(t *testing.T) {
	m := New()
	method := m.Methods()["list_network_interfaces"]
	result, err := method(map[string]any{})
	require.NoError(t, err)
	assert.IsType(t, []NetworkInterfaceInfo{}, result)
}

func TestGetMemoryMBReportsNonZero(t *testing.T) {
	m := New()
	method := m.Methods()["get_memory_mb"]
	result, err := method(map[string]any{})
	require.NoError(t, err)
	mb := result.(map[string]any)["memory_mb"]
	assert.Greater(t, mb, uint64(0))
}

func TestListBlockDevicesDeclinesAsIncompatible(t *testing.T) {
	m := New()
	method := m.Methods()["list_block_devices"]
	_, err := method(map[string]any{})
	require.Error(t, err)
	assert.True(t, errs.IsIncompatibleHardwareMethod(err))
}

func TestGetCleanStepsReturnsEraseDevices(t *testing.T) {
	m := New()
	method := m.Methods()["get_clean_steps"]
	result, err := method(map[string]any{})
	require.NoError(t, err)
	cleanSteps := result.([]steps.Step)
	require.Len(t, cleanSteps, 1)
	assert.Equal(t, "erase_devices", cleanSteps[0].Name)
}

func TestEraseDevicesRequiresDevice(t *testing.T) {
	m := New()
	method := m.Methods()["erase_devices"]
	_, err := method(map[string]any{})
	require.Error(t, err)
}

func TestEraseDevicesSucceedsWithDevice(t *testing.T) {
	m := New()
	method := m.Methods()["erase_devices"]
	result, err := method(map[string]any{"device": "/dev/sda"})
	require.NoError(t, err)
	assert.Equal(t, "/dev/sda", result.(map[string]any)["erased"])
}
