package models

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestParseCommand(t *testing.T) {
	t.Run("add device", func(t *testing.T) {
		cmd, err := ParseCommand([]byte(`{"type":"add-device","deviceId":"CAM-1"}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cmd != AddDevice("CAM-1") {
			t.Errorf("got %+v", cmd)
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		if _, err := ParseCommand([]byte(`{"type":"reboot","deviceId":"CAM-1"}`)); err == nil {
			t.Error("expected error for unknown type")
		}
	})

	t.Run("missing device id", func(t *testing.T) {
		if _, err := ParseCommand([]byte(`{"type":"remove-device"}`)); err == nil {
			t.Error("expected error for missing deviceId")
		}
	})

	t.Run("bad json", func(t *testing.T) {
		if _, err := ParseCommand([]byte(`{`)); err == nil {
			t.Error("expected error for bad json")
		}
	})
}

func TestReportWireShape(t *testing.T) {
	removed, _ := json.Marshal(DeviceRemoved("CAM-1", false))
	if string(removed) != `{"type":"device-removed","deviceId":"CAM-1","success":false}` {
		t.Errorf("device-removed = %s", removed)
	}

	sent, _ := json.Marshal(EventSent("CAM-1", "2024-01-01T00:00:00.000Z"))
	if strings.Contains(string(sent), "success") {
		t.Errorf("event-sent should not carry success: %s", sent)
	}

	errReport := ErrorReport("", errors.New("boom"))
	body, _ := json.Marshal(errReport)
	if string(body) != `{"type":"error","error":"boom"}` {
		t.Errorf("error = %s", body)
	}
}
