package extensions

import (
	"github.com/ironrun/provisiond/internal/dispatcher"
	"github.com/ironrun/provisiond/internal/errs"
	"github.com/ironrun/provisiond/internal/hwmgr"
)

// StandaloneSetter is the narrow interface set_node_info needs;
// satisfied by internal/liaison.Liaison.
type StandaloneSetter interface {
	StandaloneSetNodeInfo(nodeUUID string) error
}

// Poll builds the "poll" extension: get_hardware_info aggregates
// whatever hardware probes the registered managers support,
// set_node_info is the standalone-mode substitute for a director
// lookup, rejected outright when the agent isn't running standalone.
//
// Grounded on ironic_python_agent/extensions/poll.py.
func Poll(reg *hwmgr.Registry, setter StandaloneSetter, standalone bool) *dispatcher.Extension {
	return &dispatcher.Extension{
		Name: "poll",
		Methods: map[string]*dispatcher.Method{
			"get_hardware_info": {
				Name:  "get_hardware_info",
				Async: false,
				Run: func(params map[string]any) (any, error) {
					return reg.Dispatch("list_hardware_info", params)
				},
			},
			"set_node_info": {
				Name:  "set_node_info",
				Async: false,
				Validate: func(params map[string]any) error {
					if !standalone {
						return errs.NewInvalidCommandError("node lookup data can only be set in standalone mode")
					}
					if nodeUUID, _ := params["node_uuid"].(string); nodeUUID == "" {
						return errs.NewInvalidCommandParamsError("set_node_info requires \"node_uuid\"")
					}
					return nil
				},
				Run: func(params map[string]any) (any, error) {
					nodeUUID := params["node_uuid"].(string)
					if err := setter.StandaloneSetNodeInfo(nodeUUID); err != nil {
						return nil, err
					}
					return map[string]any{"node_uuid": nodeUUID}, nil
				},
			},
		},
	}
}
