// Package errs implements the agent's closed error taxonomy: every kind
// the director-facing API can produce, each carrying a stable wire type
// name, an HTTP status, a fixed message, and a variable details string.
//
// Grounded on the aistore pack's cmn/cos/err.go: one small Go type per
// error kind plus a constructor, rather than a single generic error with
// a kind enum field — so a type switch or errors.As at the HTTP boundary
// is enough to recover the wire shape without re-deriving it.
package errs

import "fmt"

// RESTError is satisfied by every kind in this package. The HTTP layer
// (internal/httpapi) uses it to render {faultcode, faultstring, ...}.
type RESTError interface {
	error
	Type() string
	Code() int
	Details() string
}

type baseError struct {
	kind    string
	code    int
	message string
	details string
}

func (e *baseError) Type() string    { return e.kind }
func (e *baseError) Code() int       { return e.code }
func (e *baseError) Details() string { return e.details }
func (e *baseError) Error() string {
	if e.details == "" {
		return e.message
	}
	return fmt.Sprintf("%s: %s", e.message, e.details)
}

// Serialize renders the four-field wire object {type, code, message,
// details}. Valid for any RESTError, not only ones from this package.
func Serialize(e RESTError) map[string]any {
	return map[string]any{
		"type":    e.Type(),
		"code":    e.Code(),
		"message": baseMessage(e),
		"details": e.Details(),
	}
}

// baseMessage strips details back off Error() when the RESTError isn't
// one of our *baseError values (e.g. a test double).
func baseMessage(e RESTError) string {
	full := e.Error()
	details := e.Details()
	if details == "" {
		return full
	}
	suffix := ": " + details
	if len(full) > len(suffix) && full[len(full)-len(suffix):] == suffix {
		return full[:len(full)-len(suffix)]
	}
	return full
}

func newErr(kind string, code int, message, details string) *baseError {
	return &baseError{kind: kind, code: code, message: message, details: details}
}

// 400s

func NewInvalidContentError(details string) RESTError {
	return newErr("InvalidContentError", 400, "Invalid content", details)
}

func NewInvalidCommandError(details string) RESTError {
	return newErr("InvalidCommandError", 400, "Invalid command", details)
}

func NewInvalidCommandParamsError(details string) RESTError {
	return newErr("InvalidCommandParamsError", 400, "Invalid command parameters", details)
}

// 404

func NewRequestedObjectNotFoundError(kind, id string) RESTError {
	return newErr("RequestedObjectNotFoundError", 404, "Requested object not found",
		fmt.Sprintf("%s %s does not exist", kind, id))
}

// 500s

func NewCommandExecutionError(details string) RESTError {
	return newErr("CommandExecutionError", 500, "Command execution failed", details)
}

func NewIronicAPIError(details string) RESTError {
	return newErr("IronicAPIError", 500, "Error communicating with director", details)
}

func NewHeartbeatError(details string) RESTError {
	return newErr("HeartbeatError", 500, "Heartbeat to director failed", details)
}

func NewHeartbeatConflictError(details string) RESTError {
	return newErr("HeartbeatConflictError", 500, "Director rejected heartbeat (conflict)", details)
}

func NewHeartbeatConnectionError(details string) RESTError {
	return newErr("HeartbeatConnectionError", 500, "Could not connect to director for heartbeat", details)
}

func NewLookupNodeError(details string) RESTError {
	return newErr("LookupNodeError", 500, "Could not look up node with director", details)
}

func NewLookupAgentIPError(details string) RESTError {
	return newErr("LookupAgentIPError", 500, "Could not resolve agent advertise address", details)
}

func NewImageDownloadError(imageHref, details string) RESTError {
	return newErr("ImageDownloadError", 500, "Image download failed",
		fmt.Sprintf("%s: %s", imageHref, details))
}

func NewImageChecksumError(imageHref, details string) RESTError {
	return newErr("ImageChecksumError", 500, "Image checksum mismatch",
		fmt.Sprintf("%s: %s", imageHref, details))
}

func NewImageWriteError(device, details string) RESTError {
	return newErr("ImageWriteError", 500, "Image write failed",
		fmt.Sprintf("%s: %s", device, details))
}

func NewInvalidImage(details string) RESTError {
	return newErr("InvalidImage", 500, "Invalid image", details)
}

func NewBlockDeviceError(details string) RESTError {
	return newErr("BlockDeviceError", 500, "Block device error", details)
}

func NewBlockDeviceEraseError(details string) RESTError {
	return newErr("BlockDeviceEraseError", 500, "Block device erase failed", details)
}

func NewConfigDriveTooLargeError(details string) RESTError {
	return newErr("ConfigDriveTooLargeError", 500, "Config drive too large", details)
}

func NewConfigDriveWriteError(details string) RESTError {
	return newErr("ConfigDriveWriteError", 500, "Config drive write failed", details)
}

func NewSystemRebootError(details string) RESTError {
	return newErr("SystemRebootError", 500, "System reboot failed", details)
}

func NewUnknownNodeError() RESTError {
	return newErr("UnknownNodeError", 500, "Node identity is not yet known", "")
}

func NewHardwareManagerNotFound(method string) RESTError {
	return newErr("HardwareManagerNotFound", 500, "No hardware manager supports this method",
		method)
}

func NewHardwareManagerMethodNotFound(method string) RESTError {
	return newErr("HardwareManagerMethodNotFound", 500, "Method not found on any hardware manager",
		method)
}

// IncompatibleHardwareMethodError is the only kind recovered inside the
// core: internal/hwmgr.Registry.Dispatch catches it and falls through to
// the next manager. It must never reach the HTTP boundary.
func NewIncompatibleHardwareMethodError(details string) RESTError {
	return newErr("IncompatibleHardwareMethodError", 500, "Hardware manager is not compatible with this method", details)
}

func NewCleaningError(details string) RESTError {
	return newErr("CleaningError", 500, "Cleaning step failed", details)
}

func NewDeploymentError(details string) RESTError {
	return newErr("DeploymentError", 500, "Deploy step failed", details)
}

func NewServicingError(details string) RESTError {
	return newErr("ServicingError", 500, "Service step failed", details)
}

func NewVersionMismatch(details string) RESTError {
	return newErr("VersionMismatch", 409, "Hardware manager version fingerprint mismatch, refetch steps", details)
}

func NewAgentIsBusy() RESTError {
	return newErr("AgentIsBusy", 409, "Agent is already running a command", "")
}

func NewInspectionError(details string) RESTError {
	return newErr("InspectionError", 500, "Inspection failed", details)
}

func NewDeviceNotFound(details string) RESTError {
	return newErr("DeviceNotFound", 404, "Device not found", details)
}

// IsIncompatibleHardwareMethod reports whether err is the one kind C3's
// dispatch loop is allowed to swallow and fall through on.
func IsIncompatibleHardwareMethod(err error) bool {
	re, ok := err.(RESTError)
	return ok && re.Type() == "IncompatibleHardwareMethodError"
}

// IsConflict reports whether err is HeartbeatConflictError, the one
// kind that drives the heartbeater's escalating (rather than
// exponential) backoff series.
func IsConflict(err error) bool {
	re, ok := err.(RESTError)
	return ok && re.Type() == "HeartbeatConflictError"
}

// IsInvalidContent reports whether err is InvalidContentError or one of
// its wire subclasses (InvalidCommandError, InvalidCommandParamsError);
// the dispatcher re-raises these instead of capturing them onto a FAILED
// CommandResult.
func IsInvalidContent(err error) bool {
	re, ok := err.(RESTError)
	if !ok {
		return false
	}
	switch re.Type() {
	case "InvalidContentError", "InvalidCommandError", "InvalidCommandParamsError":
		return true
	default:
		return false
	}
}
