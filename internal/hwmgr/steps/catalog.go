// Package steps implements the per-phase step catalog (C4): collection
// across managers via DispatchAll, deduplication by a fixed tie-break
// order, version fingerprinting, and phase execution with the
// mid-cycle version-mismatch guard.
package steps

import (
	"fmt"

	"github.com/ironrun/provisiond/internal/errs"
	"github.com/ironrun/provisiond/internal/hwmgr"
)

// Phase is one of the three step catalogs the director can ask for.
type Phase string

const (
	PhaseClean   Phase = "clean"
	PhaseDeploy  Phase = "deploy"
	PhaseService Phase = "service"
)

// Step is a named atomic unit of work contributed by a hardware manager.
type Step struct {
	Name            string             `json:"name"`
	Priority        int                `json:"priority"`
	Interface       string             `json:"interface"`
	RebootRequested bool               `json:"reboot_requested"`
	Abortable       bool               `json:"abortable"`
	ArgsInfo        map[string]ArgInfo `json:"argsinfo"`
	manager         string             // owning manager, for dedup; not serialized
	managerSupport  hwmgr.SupportLevel // owning manager's support level, for dedup
}

// ArgInfo documents one step argument.
type ArgInfo struct {
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// Catalog is the response shape the director receives for a phase's
// step listing.
type Catalog struct {
	Steps                  map[string][]Step `json:"steps"`
	HardwareManagerVersion map[string]string `json:"hardware_manager_version"`
}

// Build runs dispatch_to_all_managers("get_<phase>_steps", ...), then
// deduplicates by step name using, in order: higher owning support
// level, then higher priority, then earlier manager name.
func Build(reg *hwmgr.Registry, phase Phase, args map[string]any) (*Catalog, error) {
	method := fmt.Sprintf("get_%s_steps", phase)
	raw, err := reg.DispatchAll(method, args)
	if err != nil {
		return nil, err
	}

	bySupport := make(map[string]hwmgr.SupportLevel, len(reg.Managers()))
	for _, m := range reg.Managers() {
		bySupport[m.Name()] = m.SupportLevel()
	}

	winners := make(map[string]Step) // step name -> winning step
	for managerName, v := range raw {
		stepList, ok := v.([]Step)
		if !ok {
			continue
		}
		support := bySupport[managerName]
		for _, s := range stepList {
			s.manager = managerName
			s.managerSupport = support
			existing, dup := winners[s.Name]
			if !dup || wins(s, existing) {
				winners[s.Name] = s
			}
		}
	}

	result := make(map[string][]Step)
	for _, s := range winners {
		result[s.manager] = append(result[s.manager], s)
	}

	return &Catalog{
		Steps:                  result,
		HardwareManagerVersion: reg.VersionFingerprint(),
	}, nil
}

// wins reports whether candidate beats incumbent under the fixed
// tie-break: (a) higher support level, (b) then higher priority, (c)
// then earlier manager name alphabetically.
func wins(candidate, incumbent Step) bool {
	if candidate.managerSupport != incumbent.managerSupport {
		return candidate.managerSupport > incumbent.managerSupport
	}
	if candidate.Priority != incumbent.Priority {
		return candidate.Priority > incumbent.Priority
	}
	return candidate.manager < incumbent.manager
}

// CheckVersion fails with VersionMismatch iff the fingerprint captured
// when steps were listed no longer matches the registry's current
// fingerprint.
func CheckVersion(reg *hwmgr.Registry, asOf map[string]string) error {
	current := reg.VersionFingerprint()
	if !fingerprintsEqual(asOf, current) {
		return errs.NewVersionMismatch("hardware manager versions changed since steps were listed")
	}
	return nil
}

func fingerprintsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// phaseError wraps a non-RESTError cause in the phase-specific error
// kind.
func phaseError(phase Phase, err error) error {
	if _, ok := err.(errs.RESTError); ok {
		return err
	}
	details := err.Error()
	switch phase {
	case PhaseClean:
		return errs.NewCleaningError(details)
	case PhaseDeploy:
		return errs.NewDeploymentError(details)
	case PhaseService:
		return errs.NewServicingError(details)
	default:
		return errs.NewCommandExecutionError(details)
	}
}

// Execute runs execute_<phase>_step: caches the node (left to the
// caller, which owns node state), checks the version fingerprint,
// dispatches step.Name through the registry with args, coerces a
// returned (stdout, stderr) pair into a two-element slice, and returns
// {<phase>_step, <phase>_result}.
func Execute(reg *hwmgr.Registry, phase Phase, step Step, asOfVersion map[string]string, args map[string]any) (map[string]any, error) {
	if err := CheckVersion(reg, asOfVersion); err != nil {
		return nil, err
	}

	raw, err := reg.Dispatch(step.Name, args)
	if err != nil {
		return nil, phaseError(phase, err)
	}

	result := coerceStdoutStderr(raw)

	return map[string]any{
		fmt.Sprintf("%s_step", phase):   step,
		fmt.Sprintf("%s_result", phase): result,
	}, nil
}

// coerceStdoutStderr turns a (stdout, stderr) pair into a two-element
// list; anything else passes through unchanged.
func coerceStdoutStderr(raw any) any {
	type pair interface{ StdoutStderr() (string, string) }
	if p, ok := raw.(pair); ok {
		stdout, stderr := p.StdoutStderr()
		return []string{stdout, stderr}
	}
	return raw
}
