package main

import (
	"fmt"
	"net/http"
	"testing"
)

func TestDeviceRegistration(t *testing.T) {
	setupTestDB(t)
	r := newTestRouter()
	aliceID := createTestUser(t, "alice", false)
	alice := authToken(t, aliceID)
	bobID := createTestUser(t, "bob", false)
	bob := authToken(t, bobID)

	if w, _ := doJSON(t, r, http.MethodPost, "/api/devices", alice, map[string]string{"device_name": "Phone"}); w.Code != http.StatusBadRequest {
		t.Fatalf("missing token: %d", w.Code)
	}
	if w, _ := doJSON(t, r, http.MethodPost, "/api/devices", alice, map[string]string{"device_name": "Fridge", "device_type": "fridge", "device_token": "f1"}); w.Code != http.StatusBadRequest {
		t.Fatalf("unknown device type: %d", w.Code)
	}

	body := map[string]string{"device_name": "Phone", "device_type": "mobile", "platform": "android", "device_token": "tok-1"}
	w, resp := doJSON(t, r, http.MethodPost, "/api/devices", alice, body)
	if w.Code != http.StatusCreated {
		t.Fatalf("register: %d %v", w.Code, resp)
	}
	deviceID := int(resp["device_id"].(float64))

	// same token again keeps one row
	body["device_name"] = "Pixel"
	w, resp = doJSON(t, r, http.MethodPost, "/api/devices", alice, body)
	if w.Code != http.StatusCreated || int(resp["device_id"].(float64)) != deviceID {
		t.Fatalf("re-register: %d %v", w.Code, resp)
	}

	path := fmt.Sprintf("/api/devices?device_id=%d", deviceID)
	if w, _ := doJSON(t, r, http.MethodPut, path, bob, map[string]bool{"is_active": false}); w.Code != http.StatusNotFound {
		t.Fatalf("other user's device should be hidden, got %d", w.Code)
	}
	if w, _ := doJSON(t, r, http.MethodPut, path, alice, map[string]bool{"is_active": false}); w.Code != http.StatusOK {
		t.Fatalf("deactivate: %d", w.Code)
	}
	devices, err := listDevices(db, aliceID)
	if err != nil || len(devices) != 1 || devices[0].DeviceName != "Pixel" || devices[0].IsActive {
		t.Fatalf("devices = %+v, %v", devices, err)
	}

	// the token moves when another account registers it
	if w, _ := doJSON(t, r, http.MethodPost, "/api/devices", bob, body); w.Code != http.StatusCreated {
		t.Fatalf("bob register: %d", w.Code)
	}
	if devices, _ := listDevices(db, aliceID); len(devices) != 0 {
		t.Fatalf("alice should no longer own the device: %+v", devices)
	}
	if devices, _ := listDevices(db, bobID); len(devices) != 1 || !devices[0].IsActive {
		t.Fatalf("bob devices = %+v", devices)
	}

	if w, _ := doJSON(t, r, http.MethodDelete, path, alice, nil); w.Code != http.StatusNotFound {
		t.Fatalf("alice delete after transfer: %d", w.Code)
	}
	if w, _ := doJSON(t, r, http.MethodDelete, path, bob, nil); w.Code != http.StatusOK {
		t.Fatalf("bob delete: %d", w.Code)
	}
}
