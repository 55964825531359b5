package models

import (
	"encoding/json"
	"fmt"
)

// Command types accepted by the engine
const (
	CommandAddDevice    = "add-device"
	CommandRemoveDevice = "remove-device"
)

// Report types emitted by the engine
const (
	ReportEventSent     = "event-sent"
	ReportDeviceRemoved = "device-removed"
	ReportError         = "error"
)

// Command is an inbound instruction for the engine
type Command struct {
	Type     string `json:"type"`
	DeviceID string `json:"deviceId"`
}

// AddDevice builds an add-device command
func AddDevice(deviceID string) Command {
	return Command{Type: CommandAddDevice, DeviceID: deviceID}
}

// RemoveDevice builds a remove-device command
func RemoveDevice(deviceID string) Command {
	return Command{Type: CommandRemoveDevice, DeviceID: deviceID}
}

// ParseCommand decodes and validates a command received from an external transport.
func ParseCommand(data []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Command{}, fmt.Errorf("failed to unmarshal command: %w", err)
	}
	switch cmd.Type {
	case CommandAddDevice, CommandRemoveDevice:
	default:
		return Command{}, fmt.Errorf("unknown command type: %q", cmd.Type)
	}
	if cmd.DeviceID == "" {
		return Command{}, fmt.Errorf("deviceId is required")
	}
	return cmd, nil
}

// Report is an outbound notification from the engine. Success is only meaningful
// for device-removed reports and is omitted otherwise.
type Report struct {
	Type      string `json:"type"`
	DeviceID  string `json:"deviceId,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Success   *bool  `json:"success,omitempty"`
	Error     string `json:"error,omitempty"`
}

// EventSent reports a successfully published event
func EventSent(deviceID, timestamp string) Report {
	return Report{Type: ReportEventSent, DeviceID: deviceID, Timestamp: timestamp}
}

// DeviceRemoved reports the outcome of a remove-device command
func DeviceRemoved(deviceID string, success bool) Report {
	return Report{Type: ReportDeviceRemoved, DeviceID: deviceID, Success: &success}
}

// ErrorReport reports a failure. deviceID may be empty for failures not tied to a device.
func ErrorReport(deviceID string, err error) Report {
	return Report{Type: ReportError, DeviceID: deviceID, Error: err.Error()}
}

// Succeeded reports whether a device-removed report was successful
func (r Report) Succeeded() bool {
	return r.Success != nil && *r.Success
}
