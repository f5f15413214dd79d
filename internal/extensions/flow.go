package extensions

import (
	"fmt"

	"github.com/ironrun/provisiond/internal/cmdresult"
	"github.com/ironrun/provisiond/internal/dispatcher"
	"github.com/ironrun/provisiond/internal/errs"
)

// flowTask is one {method, params} entry in a start_flow request, with
// an opt-in escape hatch from the usual stop-on-first-failure rule.
type flowTask struct {
	Method            string
	Params            map[string]any
	ContinueOnFailure bool
}

// Flow builds the "flow" extension: start_flow runs an ordered list of
// commands through d.RunNested, each recorded in the ledger as its own
// terminal command (run inline, past the busy gate), stopping at the
// first FAILED result unless that task opted into continue_on_failure.
//
// Grounded on ironic_python_agent/extensions/flow.py's
// start_flow/execute_command/result.join() loop.
func Flow(d *dispatcher.Dispatcher) *dispatcher.Extension {
	return &dispatcher.Extension{
		Name: "flow",
		Methods: map[string]*dispatcher.Method{
			"start_flow": {
				Name:  "start_flow",
				Async: true,
				Validate: func(params map[string]any) error {
					if _, err := flowTasksFromParams(params); err != nil {
						return err
					}
					return nil
				},
				Run: func(params map[string]any) (any, error) {
					tasks, err := flowTasksFromParams(params)
					if err != nil {
						return nil, err
					}
					return runFlow(d, tasks)
				},
			},
		},
	}
}

func runFlow(d *dispatcher.Dispatcher, tasks []flowTask) (any, error) {
	results := make([]map[string]any, 0, len(tasks))
	for _, task := range tasks {
		cr, err := d.RunNested(task.Method, task.Params)
		if err != nil {
			return nil, err
		}
		serialized := cr.Serialize()
		results = append(results, serialized)

		if serialized["status"] == string(cmdresult.StatusFailed) && !task.ContinueOnFailure {
			return nil, errs.NewCommandExecutionError(fmt.Sprintf("%s failed, aborting flow", task.Method))
		}
	}
	return map[string]any{"flow_results": results}, nil
}

func flowTasksFromParams(params map[string]any) ([]flowTask, error) {
	raw, ok := params["flow"].([]any)
	if !ok || len(raw) == 0 {
		return nil, errs.NewInvalidCommandParamsError("\"flow\" must be a non-empty list of {method, params} tasks")
	}

	tasks := make([]flowTask, 0, len(raw))
	for _, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			return nil, errs.NewInvalidCommandParamsError("each flow task must be an object")
		}
		method, _ := entry["method"].(string)
		if method == "" {
			return nil, errs.NewInvalidCommandParamsError("each flow task requires a \"method\" name")
		}
		taskParams, _ := entry["params"].(map[string]any)
		if taskParams == nil {
			taskParams = map[string]any{}
		}
		continueOnFailure, _ := entry["continue_on_failure"].(bool)
		tasks = append(tasks, flowTask{Method: method, Params: taskParams, ContinueOnFailure: continueOnFailure})
	}
	return tasks, nil
}
