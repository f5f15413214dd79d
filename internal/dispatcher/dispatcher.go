// Package dispatcher implements command dispatch (C5): name resolution
// (`extension.method`), validator invocation, sync/async execution, and
// the single-RUNNING-command concurrency gate.
//
// Grounded on pkg/worker/worker.go's containerExecutorLoop/syncContainers
// poll-and-execute shape, adapted from "poll the manager for assigned
// work" to "accept one command per POST, guarded by a gate that protects
// acceptance, not execution".
package dispatcher

import (
	"sort"
	"strings"
	"sync"

	"github.com/ironrun/provisiond/internal/cmdresult"
	"github.com/ironrun/provisiond/internal/errs"
	"github.com/ironrun/provisiond/internal/log"
)

// Method describes one extension method: its validator, whether it runs
// synchronously, and its implementation. Grounded on
// ironic_python_agent/extensions/base.py's @async_command/@sync_command
// decorators.
type Method struct {
	Name     string
	Async    bool
	Validate func(params map[string]any) error
	ArgsInfo map[string]ArgInfo
	Run      func(params map[string]any) (any, error)
}

// ArgInfo documents a command parameter.
type ArgInfo struct {
	Description string
	Required    bool
}

// Extension groups a family of methods under one `extension.` prefix.
type Extension struct {
	Name    string
	Methods map[string]*Method
}

// Dispatcher owns the extension table, the command ledger (insertion
// order preserved), and the concurrency gate.
type Dispatcher struct {
	extensions map[string]*Extension

	gateMu sync.Mutex // protects acceptance only, never execution

	ledgerMu sync.Mutex
	order    []string
	byID     map[string]*cmdresult.CommandResult
}

// New creates an empty Dispatcher; call Register for each extension
// before serving commands.
func New() *Dispatcher {
	return &Dispatcher{
		extensions: make(map[string]*Extension),
		byID:       make(map[string]*cmdresult.CommandResult),
	}
}

// Register adds (or replaces) an extension's method table.
func (d *Dispatcher) Register(ext *Extension) {
	d.extensions[ext.Name] = ext
}

// resolve splits "extension.method" and looks it up, returning
// InvalidCommandError for anything malformed or unknown.
func (d *Dispatcher) resolve(name string) (*Method, error) {
	parts := strings.SplitN(name, ".", 2)
	if len(parts) != 2 {
		return nil, errs.NewInvalidCommandError("command name must be '<extension>.<method>'")
	}
	ext, ok := d.extensions[parts[0]]
	if !ok {
		return nil, errs.NewInvalidCommandError("unknown extension: " + parts[0])
	}
	m, ok := ext.Methods[parts[1]]
	if !ok {
		return nil, errs.NewInvalidCommandError("unknown method: " + name)
	}
	return m, nil
}

// Accept validates and runs a command:
//   - resolve the name and run its validator synchronously; a validator
//     failure (InvalidCommandParamsError) propagates unchanged and the
//     ledger is not mutated;
//   - acquire the gate; if the most recently accepted command is still
//     RUNNING, fail with AgentIsBusy without mutating the ledger;
//   - otherwise create the record, insert it into the ledger, release
//     the gate, then run the method (inline if sync, on a worker if
//     async).
func (d *Dispatcher) Accept(name string, params map[string]any) (*cmdresult.CommandResult, error) {
	logger := log.WithComponent("dispatcher")

	method, err := d.resolve(name)
	if err != nil {
		return nil, err
	}
	if method.Validate != nil {
		if verr := method.Validate(params); verr != nil {
			return nil, verr
		}
	}

	d.gateMu.Lock()
	if busy := d.mostRecentIsRunning(); busy {
		d.gateMu.Unlock()
		return nil, errs.NewAgentIsBusy()
	}

	if method.Async {
		async := cmdresult.NewAsync(name, params)
		d.insert(async.CommandResult)
		d.gateMu.Unlock()
		logger.Info().Str("command", name).Str("id", async.ID()).Msg("accepted async command")
		async.Start(func() (any, error) { return method.Run(params) })
		return async.CommandResult, nil
	}

	// Sync methods run inline, still under the gate (they are expected
	// to be quick — validators already ran above), and are inserted
	// into the ledger already terminal.
	result, runErr := d.runSyncGuarded(method, params)
	if runErr != nil && errs.IsInvalidContent(runErr) {
		// InvalidContentError and its subclasses are re-raised unchanged
		// so the HTTP layer returns 4xx; the ledger is not mutated.
		d.gateMu.Unlock()
		return nil, runErr
	}

	var record *cmdresult.SyncCommandResult
	if runErr != nil {
		re, ok := runErr.(errs.RESTError)
		if !ok {
			re = errs.NewCommandExecutionError(runErr.Error())
		}
		record = cmdresult.NewSyncFailed(name, params, re)
	} else {
		record = cmdresult.NewSyncSucceeded(name, params, result)
	}
	d.insert(record.CommandResult)
	d.gateMu.Unlock()
	logger.Info().Str("command", name).Str("id", record.ID()).
		Str("status", string(record.StatusNow())).Msg("ran sync command")
	return record.CommandResult, nil
}

// RunNested executes a named command immediately and synchronously,
// bypassing the busy-gate check Accept enforces, recording it in the
// ledger as already terminal. It exists for commands (like flow's
// start_flow) that dispatch a sequence of sub-commands from within a
// command the gate has already accepted; routing those sub-commands
// back through Accept would find the outer command still RUNNING and
// reject them as AgentIsBusy.
func (d *Dispatcher) RunNested(name string, params map[string]any) (*cmdresult.CommandResult, error) {
	method, err := d.resolve(name)
	if err != nil {
		return nil, err
	}
	if method.Validate != nil {
		if verr := method.Validate(params); verr != nil {
			return nil, verr
		}
	}

	result, runErr := d.runSyncGuarded(method, params)
	if runErr != nil && errs.IsInvalidContent(runErr) {
		return nil, runErr
	}

	var record *cmdresult.SyncCommandResult
	if runErr != nil {
		re, ok := runErr.(errs.RESTError)
		if !ok {
			re = errs.NewCommandExecutionError(runErr.Error())
		}
		record = cmdresult.NewSyncFailed(name, params, re)
	} else {
		record = cmdresult.NewSyncSucceeded(name, params, result)
	}
	d.insert(record.CommandResult)
	return record.CommandResult, nil
}

func (d *Dispatcher) runSyncGuarded(method *Method, params map[string]any) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errs.NewCommandExecutionError("panic in sync command")
		}
	}()
	return method.Run(params)
}

func (d *Dispatcher) mostRecentIsRunning() bool {
	d.ledgerMu.Lock()
	defer d.ledgerMu.Unlock()
	if len(d.order) == 0 {
		return false
	}
	last := d.byID[d.order[len(d.order)-1]]
	return last.StatusNow() == cmdresult.StatusRunning
}

func (d *Dispatcher) insert(r *cmdresult.CommandResult) {
	d.ledgerMu.Lock()
	defer d.ledgerMu.Unlock()
	d.order = append(d.order, r.ID())
	d.byID[r.ID()] = r
}

// List returns the ledger in insertion order.
func (d *Dispatcher) List() []*cmdresult.CommandResult {
	d.ledgerMu.Lock()
	defer d.ledgerMu.Unlock()
	out := make([]*cmdresult.CommandResult, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.byID[id])
	}
	return out
}

// Get returns one ledger entry by id.
func (d *Dispatcher) Get(id string) (*cmdresult.CommandResult, bool) {
	d.ledgerMu.Lock()
	defer d.ledgerMu.Unlock()
	r, ok := d.byID[id]
	return r, ok
}

// ExtensionNames returns the registered extension names, sorted, mostly
// for diagnostics/tests.
func (d *Dispatcher) ExtensionNames() []string {
	names := make([]string, 0, len(d.extensions))
	for n := range d.extensions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
