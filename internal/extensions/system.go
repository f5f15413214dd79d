package extensions

import (
	"encoding/base64"
	"fmt"
	"os"

	"golang.org/x/crypto/bcrypt"

	"github.com/ironrun/provisiond/internal/dispatcher"
	"github.com/ironrun/provisiond/internal/errs"
)

const rescuePasswordFile = "/etc/ipa-rescue-config/ipa-rescue-password"

// Shutdowner is the narrow interface the system/rescue extensions need
// to end the HTTP accept loop; satisfied by internal/httpapi.Server.
type Shutdowner interface {
	Shutdown()
}

// Stopper is the narrow interface needed to stop the heartbeater;
// satisfied by internal/heartbeat.Heartbeater.
type Stopper interface {
	Stop()
}

// System builds the "system" extension: operator-triggered shutdown of
// the agent's accept loop, used once deployment work is complete and no
// further commands are expected.
func System(server Shutdowner) *dispatcher.Extension {
	return &dispatcher.Extension{
		Name: "system",
		Methods: map[string]*dispatcher.Method{
			"lockdown": {
				Name:  "lockdown",
				Async: false,
				Run: func(params map[string]any) (any, error) {
					server.Shutdown()
					return map[string]any{"locked_down": true}, nil
				},
			},
		},
	}
}

// Rescue builds the "rescue" extension: starting rescue mode writes a
// one-time bcrypt-hashed password file for the rescue shell to
// authenticate against; finalizing rescue mode ends both the HTTP
// accept loop and the heartbeater, the same as system.lockdown plus
// heartbeat teardown.
func Rescue(server Shutdowner, heartbeat Stopper) *dispatcher.Extension {
	return &dispatcher.Extension{
		Name: "rescue",
		Methods: map[string]*dispatcher.Method{
			"start_rescue": {
				Name:  "start_rescue",
				Async: false,
				Validate: func(params map[string]any) error {
					if _, ok := params["rescue_password"].(string); !ok {
						return errs.NewInvalidCommandParamsError("\"rescue_password\" is required")
					}
					return nil
				},
				Run: func(params map[string]any) (any, error) {
					password := params["rescue_password"].(string)
					if err := writeRescuePassword(password); err != nil {
						return nil, errs.NewCommandExecutionError(err.Error())
					}
					return map[string]any{"rescue_started": true}, nil
				},
			},
			"finalize_rescue": {
				Name:  "finalize_rescue",
				Async: false,
				Run: func(params map[string]any) (any, error) {
					heartbeat.Stop()
					server.Shutdown()
					return map[string]any{"rescued": true}, nil
				},
			},
		},
	}
}

func writeRescuePassword(password string) error {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash rescue password: %w", err)
	}
	if err := os.MkdirAll("/etc/ipa-rescue-config", 0o700); err != nil {
		return fmt.Errorf("create rescue config dir: %w", err)
	}
	line := base64.StdEncoding.EncodeToString(hashed) + "\n"
	return os.WriteFile(rescuePasswordFile, []byte(line), 0o600)
}
