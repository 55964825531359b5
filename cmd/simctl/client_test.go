package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestAPIClient_Do(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/devices":
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			if body["deviceId"] == "CAM-001" {
				w.WriteHeader(http.StatusConflict)
				w.Write([]byte(`{"error":"Device already exists","code":"DEVICE_EXISTS"}`))
				return
			}
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"message":"ok","deviceId":"` + body["deviceId"] + `"}`))
		case r.URL.Path == "/api/devices":
			w.Write([]byte(`{"devices":["CAM-001","CAM-002"],"count":2,"timestamp":"t"}`))
		default:
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte("upstream down"))
		}
	}))
	defer srv.Close()

	api := newAPIClient(srv.URL + "/")
	ctx := context.Background()

	t.Run("decodes success", func(t *testing.T) {
		var list deviceList
		if err := api.do(ctx, http.MethodGet, "/api/devices", nil, &list); err != nil {
			t.Fatal(err)
		}
		if list.Count != 2 || len(list.Devices) != 2 {
			t.Errorf("list = %+v", list)
		}
	})

	t.Run("api error body", func(t *testing.T) {
		err := (&httpCommander{api: api}).AddDevice(ctx, "CAM-001")
		var apiErr *apiError
		if !errors.As(err, &apiErr) {
			t.Fatalf("got %v, want apiError", err)
		}
		if apiErr.Status != http.StatusConflict || apiErr.Code != "DEVICE_EXISTS" {
			t.Errorf("apiErr = %+v", apiErr)
		}
	})

	t.Run("non-json error body", func(t *testing.T) {
		err := api.do(ctx, http.MethodGet, "/other", nil, nil)
		if err == nil || !strings.Contains(err.Error(), "upstream down") {
			t.Errorf("got %v", err)
		}
	})
}

func TestApplyAll(t *testing.T) {
	var seen []string
	fn := func(_ context.Context, id string) error {
		seen = append(seen, id)
		if id == "CAM-002" {
			return &apiError{Status: http.StatusConflict, Code: "DEVICE_EXISTS"}
		}
		return nil
	}

	ok := applyAll(context.Background(), []string{"CAM-001", "CAM-002", "CAM-003"}, fn, time.Millisecond)
	if ok != 2 {
		t.Errorf("ok = %d, want 2", ok)
	}
	if len(seen) != 3 {
		t.Errorf("seen = %v", seen)
	}
}

func TestApplyAll_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	fn := func(context.Context, string) error { calls++; return nil }

	if ok := applyAll(ctx, []string{"a", "b", "c"}, fn, time.Hour); ok != 1 || calls != 1 {
		t.Errorf("ok = %d calls = %d, want 1/1", ok, calls)
	}
}
