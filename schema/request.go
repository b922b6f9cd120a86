package schema

import "encoding/json"

// CommandKind names a daemon operation.
type CommandKind string

const (
	CommandPing             CommandKind = "ping"
	CommandListDevices      CommandKind = "list_devices"
	CommandDeviceInfo       CommandKind = "device_info"
	CommandDeviceStats      CommandKind = "device_stats"
	CommandDeviceClocksInfo CommandKind = "device_clocks_info"
	CommandSetFanControl    CommandKind = "set_fan_control"
	CommandSetClocks        CommandKind = "set_clocks"
	CommandSetPowerCap      CommandKind = "set_power_cap"
	CommandListProfiles     CommandKind = "list_profiles"
	CommandSetProfile       CommandKind = "set_profile"
	CommandCreateProfile    CommandKind = "create_profile"
	CommandDeleteProfile    CommandKind = "delete_profile"
	CommandSetProfileRule   CommandKind = "set_profile_rule"
	CommandSetAutoSwitch    CommandKind = "set_auto_switch"
)

// Request is one line-delimited JSON command sent to the daemon. Only
// the fields of the addressed command are set; everything else stays
// empty and off the wire.
type Request struct {
	Command CommandKind `json:"command"`

	// Device commands.
	ID    string       `json:"id,omitempty"`
	Fan   *FanOptions  `json:"fan,omitempty"`
	Delta *ClocksDelta `json:"delta,omitempty"`
	Cap   *float64     `json:"cap,omitempty"`

	// Profile commands. Name doubles as the selection target for
	// set_profile, where nil clears the active profile.
	Name         *string      `json:"name,omitempty"`
	Rule         *ProfileRule `json:"rule,omitempty"`
	Enabled      *bool        `json:"enabled,omitempty"`
	IncludeState bool         `json:"include_state,omitempty"`
}

// Response is the daemon reply envelope.
type Response struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data,omitempty"`
	Reason string          `json:"reason,omitempty"`
}

const (
	StatusOk    = "ok"
	StatusError = "error"
)

// OkResponse wraps a payload in a success envelope. Marshalling
// failures degrade to an error envelope so a reply always goes out.
func OkResponse(data any) Response {
	if data == nil {
		return Response{Status: StatusOk}
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return ErrorResponse(err)
	}

	return Response{Status: StatusOk, Data: raw}
}

// ErrorResponse wraps an error in a failure envelope.
func ErrorResponse(err error) Response {
	return Response{Status: StatusError, Reason: err.Error()}
}
