// Package hwmgr implements the hardware-manager registry (C3): startup
// discovery, priority ranking by self-reported support level, and
// dispatch-by-method-name with IncompatibleHardwareMethodError
// fallthrough.
//
// Grounded on the aistore pack's xact/xreg/xreg.go, which resolves a
// named extension ("xaction kind") to the most specific registered
// implementation at a single lookup point; and on pkg/health.Checker's
// "self-reporting capability with a Type()/level discriminator" shape.
package hwmgr

import (
	"sort"
	"sync"

	"github.com/ironrun/provisiond/internal/errs"
	"github.com/ironrun/provisiond/internal/log"
)

// SupportLevel is a hardware manager's self-reported specificity. NONE
// means the manager does not apply on this host and is excluded at
// registration time. Higher wins ties broken by manager name ascending.
type SupportLevel int

const (
	SupportNone            SupportLevel = 0
	SupportGeneric         SupportLevel = 1
	SupportMainline        SupportLevel = 2
	SupportServiceProvider SupportLevel = 3
)

// Method is a callable exposed by a HardwareManager, keyed by name
// (e.g. "erase_devices", "get_os_install_device"). args is the raw
// params map from the command invocation; the returned value becomes
// the command result's payload.
type Method func(args map[string]any) (any, error)

// HardwareManager is implemented by every built-in and third-party
// hardware manager. SupportLevel is evaluated once at registration.
// Methods returns the manager's method table; the registry never calls
// a method the table doesn't list, so "does not expose method" is just
// a map miss.
type HardwareManager interface {
	Name() string
	Version() string
	SupportLevel() SupportLevel
	Methods() map[string]Method
}

// Registry holds the process-lifetime ordering of hardware managers.
// The ordering is computed once and is read-only thereafter, so
// dispatch is lock-free after startup.
type Registry struct {
	once     sync.Once
	managers []HardwareManager
}

// New creates an empty registry; pass the candidate managers to Freeze
// before the first Dispatch/DispatchAll call.
func New() *Registry {
	return &Registry{}
}

// Freeze asks every candidate for its support level, drops NONE, sorts
// the rest by support level descending / name ascending, and caches the
// result for the process lifetime. Safe to call more than once; later
// calls are no-ops.
func (r *Registry) Freeze(candidates []HardwareManager) {
	r.once.Do(func() {
		survivors := make([]HardwareManager, 0, len(candidates))
		for _, m := range candidates {
			lvl := m.SupportLevel()
			if lvl == SupportNone {
				log.WithComponent("hwmgr").Debug().
					Str("manager", m.Name()).Msg("manager reported NONE support, excluding")
				continue
			}
			survivors = append(survivors, m)
		}
		sort.SliceStable(survivors, func(i, j int) bool {
			si, sj := survivors[i].SupportLevel(), survivors[j].SupportLevel()
			if si != sj {
				return si > sj
			}
			return survivors[i].Name() < survivors[j].Name()
		})
		r.managers = survivors
	})
}

// Managers returns the cached, ordered list of registered managers.
func (r *Registry) Managers() []HardwareManager {
	return r.managers
}

// Dispatch iterates the cached ordering. For the first manager that
// exposes method, it is called; if it returns IncompatibleHardwareMethodError
// dispatch falls through to the next manager exposing method. Any other
// return (value or error) is the final outcome. Exhausting the list
// without a compatible manager yields HardwareManagerMethodNotFound.
func (r *Registry) Dispatch(method string, args map[string]any) (any, error) {
	logger := log.WithComponent("hwmgr")
	for _, m := range r.managers {
		fn, ok := m.Methods()[method]
		if !ok {
			logger.Debug().Str("manager", m.Name()).Str("method", method).
				Msg("manager does not expose method, skipping")
			continue
		}
		result, err := fn(args)
		if err != nil && errs.IsIncompatibleHardwareMethod(err) {
			logger.Debug().Str("manager", m.Name()).Str("method", method).
				Msg("manager incompatible with method, falling through")
			continue
		}
		return result, err
	}
	return nil, errs.NewHardwareManagerMethodNotFound(method)
}

// DispatchAll calls method on every manager that exposes it, collecting
// one entry per manager that did not raise IncompatibleHardwareMethodError.
// Used for step-listing and version queries; never for mutating
// operations.
func (r *Registry) DispatchAll(method string, args map[string]any) (map[string]any, error) {
	logger := log.WithComponent("hwmgr")
	out := make(map[string]any)
	for _, m := range r.managers {
		fn, ok := m.Methods()[method]
		if !ok {
			continue
		}
		result, err := fn(args)
		if err != nil {
			if errs.IsIncompatibleHardwareMethod(err) {
				logger.Debug().Str("manager", m.Name()).Str("method", method).
					Msg("manager incompatible with method, excluding from dispatch-all")
				continue
			}
			return nil, err
		}
		out[m.Name()] = result
	}
	return out, nil
}

// VersionFingerprint computes the {manager_name -> manager_version} map
// over every manager with SupportLevel > NONE.
func (r *Registry) VersionFingerprint() map[string]string {
	fp := make(map[string]string, len(r.managers))
	for _, m := range r.managers {
		fp[m.Name()] = m.Version()
	}
	return fp
}
