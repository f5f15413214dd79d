package hwimage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironrun/provisiond/internal/hwmgr"
	"github.com/ironrun/provisiond/internal/hwmgr/steps"
)

func TestManagerIdentity(t *testing.T) {
	m := New()
	assert.Equal(t, "ImageHardwareManager", m.Name())
	assert.Equal(t, hwmgr.SupportMainline, m.SupportLevel())
}

func TestGetDeploySteps(t *testing.T) {
	m := New()
	method := m.Methods()["get_deploy_steps"]
	result, err := method(map[string]any{})
	require.NoError(t, err)

	deploySteps := result.([]steps.Step)
	require.Len(t, deploySteps, 2)
	names := []string{deploySteps[0].Name, deploySteps[1].Name}
	assert.Contains(t, names, "write_image")
	assert.Contains(t, names, "build_configdrive")
}

func TestWriteImageRequiresArgs(t *testing.T) {
	m := New()
	method := m.Methods()["write_image"]
	_, err := method(map[string]any{})
	require.Error(t, err)
}

func TestBuildConfigdriveRequiresFiles(t *testing.T) {
	m := New()
	method := m.Methods()["build_configdrive"]
	_, err := method(map[string]any{"out_path": filepath.Join(t.TempDir(), "cd.iso")})
	require.Error(t, err)
}

func TestBuildConfigdriveSucceeds(t *testing.T) {
	m := New()
	method := m.Methods()["build_configdrive"]
	out := filepath.Join(t.TempDir(), "cd.iso")
	result, err := method(map[string]any{
		"out_path": out,
		"files": []any{
			map[string]any{"path": "openstack/latest/meta_data.json", "content": `{"uuid":"n1"}`},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, out, result.(map[string]any)["out_path"])
}
