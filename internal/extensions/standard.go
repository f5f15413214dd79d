// Package extensions assembles the dispatcher.Extension tables the
// director actually calls: the standard hardware/step surface (C3/C4
// wired into C5), and the supplemented system/rescue surface that ends
// the agent's serve loop.
//
// Grounded on ironic_python_agent/extensions/standard.py's method names
// (get_clean_steps, execute_clean_step, ...), reimplemented atop
// internal/hwmgr and internal/hwmgr/steps rather than a Python
// decorator table.
package extensions

import (
	"fmt"

	"github.com/ironrun/provisiond/internal/dispatcher"
	"github.com/ironrun/provisiond/internal/errs"
	"github.com/ironrun/provisiond/internal/hwmgr"
	"github.com/ironrun/provisiond/internal/hwmgr/steps"
)

// Standard builds the "standard" extension: hardware inventory passthroughs
// plus the three step-catalog phases (list + execute).
func Standard(reg *hwmgr.Registry) *dispatcher.Extension {
	methods := map[string]*dispatcher.Method{
		"get_os_install_device":   passthrough(reg, "get_os_install_device"),
		"list_network_interfaces": passthrough(reg, "list_network_interfaces"),
		"list_block_devices":      passthrough(reg, "list_block_devices"),
		"get_cpus":                passthrough(reg, "get_cpus"),
		"get_memory_mb":           passthrough(reg, "get_memory_mb"),
		"get_numa_topology":       passthrough(reg, "get_numa_topology"),
		"list_lldp_neighbors":     passthrough(reg, "list_lldp_neighbors"),

		"get_clean_steps":   listSteps(reg, steps.PhaseClean),
		"get_deploy_steps":  listSteps(reg, steps.PhaseDeploy),
		"get_service_steps": listSteps(reg, steps.PhaseService),

		"execute_clean_step":   executeStep(reg, steps.PhaseClean),
		"execute_deploy_step":  executeStep(reg, steps.PhaseDeploy),
		"execute_service_step": executeStep(reg, steps.PhaseService),
	}
	return &dispatcher.Extension{Name: "standard", Methods: methods}
}

func passthrough(reg *hwmgr.Registry, method string) *dispatcher.Method {
	return &dispatcher.Method{
		Name:  method,
		Async: false,
		Run: func(params map[string]any) (any, error) {
			return reg.Dispatch(method, params)
		},
	}
}

func listSteps(reg *hwmgr.Registry, phase steps.Phase) *dispatcher.Method {
	return &dispatcher.Method{
		Name:  fmt.Sprintf("get_%s_steps", phase),
		Async: false,
		Run: func(params map[string]any) (any, error) {
			return steps.Build(reg, phase, params)
		},
	}
}

// executeStep builds execute_<phase>_step. It expects params to carry
// "step" (the Step the director was handed by get_<phase>_steps),
// "hardware_manager_version" (that listing's fingerprint, for the
// version-mismatch guard), and whatever args the step itself needs.
func executeStep(reg *hwmgr.Registry, phase steps.Phase) *dispatcher.Method {
	return &dispatcher.Method{
		Name:  fmt.Sprintf("execute_%s_step", phase),
		Async: true,
		Validate: func(params map[string]any) error {
			if _, ok := params["step"].(steps.Step); !ok {
				if _, ok := params["step"].(map[string]any); !ok {
					return errs.NewInvalidCommandParamsError("\"step\" is required")
				}
			}
			return nil
		},
		Run: func(params map[string]any) (any, error) {
			step, err := stepFromParams(params)
			if err != nil {
				return nil, err
			}
			fingerprint := fingerprintFromParams(params)
			stepArgs, _ := params["args"].(map[string]any)
			return steps.Execute(reg, phase, step, fingerprint, stepArgs)
		},
	}
}

func stepFromParams(params map[string]any) (steps.Step, error) {
	if s, ok := params["step"].(steps.Step); ok {
		return s, nil
	}
	raw, ok := params["step"].(map[string]any)
	if !ok {
		return steps.Step{}, errs.NewInvalidCommandParamsError("\"step\" must be a step object")
	}
	name, _ := raw["name"].(string)
	if name == "" {
		return steps.Step{}, errs.NewInvalidCommandParamsError("\"step.name\" is required")
	}
	iface, _ := raw["interface"].(string)
	return steps.Step{Name: name, Interface: iface}, nil
}

// fingerprintFromParams coerces "hardware_manager_version" into
// map[string]string. encoding/json decodes a wire object as
// map[string]any, never map[string]string, so a bare type assertion
// always misses on the real HTTP path.
func fingerprintFromParams(params map[string]any) map[string]string {
	if native, ok := params["hardware_manager_version"].(map[string]string); ok {
		return native
	}
	raw, ok := params["hardware_manager_version"].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
