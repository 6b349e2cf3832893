package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/nerrad567/relayhub/internal/activity"
	"github.com/nerrad567/relayhub/internal/auth"
	"github.com/nerrad567/relayhub/internal/device"
)

type deviceList struct {
	Devices []device.Device `json:"devices"`
	Count   int             `json:"count"`
}

// ─── Device CRUD ────────────────────────────────────────────────────

func TestDevices_CreateGetListDelete(t *testing.T) {
	ta := newTestAPI(t, nil)
	token := ta.adminToken(t)

	w := ta.do(t, http.MethodPost, "/api/v1/devices", token, createDeviceRequest{DeviceID: "edge-01", Name: "Edge box"})
	expectStatus(t, w, http.StatusCreated)
	created := decode[device.Device](t, w)
	if created.DeviceID != "edge-01" || created.Status != device.StatusOffline {
		t.Errorf("created = %+v", created)
	}

	a := ta.waitForActivity(t, activity.TypeDeviceRegistered)
	if a.DeviceID != "edge-01" || a.Details["user_id"] == nil {
		t.Errorf("activity = %+v, want device and actor", a)
	}

	w = ta.do(t, http.MethodGet, "/api/v1/devices/edge-01", token, nil)
	expectStatus(t, w, http.StatusOK)
	if got := decode[device.Device](t, w); got.Name != "Edge box" {
		t.Errorf("name = %q, want Edge box", got.Name)
	}

	w = ta.do(t, http.MethodGet, "/api/v1/devices", token, nil)
	expectStatus(t, w, http.StatusOK)
	if list := decode[deviceList](t, w); list.Count != 1 {
		t.Errorf("count = %d, want 1", list.Count)
	}

	w = ta.do(t, http.MethodDelete, "/api/v1/devices/edge-01", token, nil)
	expectStatus(t, w, http.StatusNoContent)

	w = ta.do(t, http.MethodGet, "/api/v1/devices/edge-01", token, nil)
	expectStatus(t, w, http.StatusNotFound)

	w = ta.do(t, http.MethodDelete, "/api/v1/devices/edge-01", token, nil)
	expectStatus(t, w, http.StatusNotFound)
}

func TestDevices_CreateGeneratesID(t *testing.T) {
	ta := newTestAPI(t, nil)
	token := ta.adminToken(t)

	w := ta.do(t, http.MethodPost, "/api/v1/devices", token, createDeviceRequest{Name: "Unnamed"})
	expectStatus(t, w, http.StatusCreated)
	if got := decode[device.Device](t, w); got.DeviceID == "" {
		t.Error("device id not generated")
	}
}

func TestDevices_CreateErrors(t *testing.T) {
	ta := newTestAPI(t, nil)
	token := ta.adminToken(t)
	ta.createDevice(t, "taken")

	tests := []struct {
		name string
		body any
		want int
	}{
		{"duplicate", createDeviceRequest{DeviceID: "taken"}, http.StatusConflict},
		{"invalid id", createDeviceRequest{DeviceID: "has spaces"}, http.StatusUnprocessableEntity},
		{"malformed JSON", "[", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ta.do(t, http.MethodPost, "/api/v1/devices", token, tt.body)
			expectStatus(t, w, tt.want)
		})
	}
}

func TestDevices_ListByStatus(t *testing.T) {
	ta := newTestAPI(t, nil)
	token := ta.adminToken(t)
	ta.createDevice(t, "dev-a")
	ta.createDevice(t, "dev-b")
	if _, err := ta.devices.SetStatusIf(context.Background(), "dev-b", "", device.StatusOnline); err != nil {
		t.Fatalf("SetStatusIf() error: %v", err)
	}

	w := ta.do(t, http.MethodGet, "/api/v1/devices?status=online", token, nil)
	expectStatus(t, w, http.StatusOK)
	list := decode[deviceList](t, w)
	if list.Count != 1 || list.Devices[0].DeviceID != "dev-b" {
		t.Errorf("online devices = %+v", list.Devices)
	}

	w = ta.do(t, http.MethodGet, "/api/v1/devices?status=sleeping", token, nil)
	expectStatus(t, w, http.StatusBadRequest)
}

func TestDevices_IssueToken(t *testing.T) {
	ta := newTestAPI(t, nil)
	token := ta.adminToken(t)
	ta.createDevice(t, "dev-1")

	w := ta.do(t, http.MethodPost, "/api/v1/devices/dev-1/token", token, nil)
	expectStatus(t, w, http.StatusOK)
	resp := decode[deviceTokenResponse](t, w)
	if err := ta.tokens.VerifyDevice(resp.Token, "dev-1"); err != nil {
		t.Errorf("VerifyDevice() error = %v", err)
	}

	w = ta.do(t, http.MethodPost, "/api/v1/devices/ghost/token", token, nil)
	expectStatus(t, w, http.StatusNotFound)
}

// ─── Registration codes ─────────────────────────────────────────────

func TestRegistration_CodeRoundTrip(t *testing.T) {
	ta := newTestAPI(t, nil)
	token := ta.adminToken(t)

	w := ta.do(t, http.MethodPost, "/api/v1/registration-codes", token, createCodeRequest{DeviceName: "Lobby kiosk", TTLMinutes: 30})
	expectStatus(t, w, http.StatusCreated)
	code := decode[device.RegistrationCode](t, w)
	if code.Code == "" || code.CreatedBy == nil {
		t.Fatalf("code = %+v, want code and creator", code)
	}
	if ttl := time.Until(code.ExpiresAt); ttl < 29*time.Minute || ttl > 31*time.Minute {
		t.Errorf("expires in %v, want ~30m", ttl)
	}
	ta.waitForActivity(t, activity.TypeRegistrationCodeCreated)

	// Registration is public: the code is the credential.
	w = ta.do(t, http.MethodPost, "/api/v1/devices/register", "", registerDeviceRequest{Code: code.Code, DeviceID: "kiosk-1"})
	expectStatus(t, w, http.StatusCreated)
	resp := decode[deviceTokenResponse](t, w)
	if resp.Device == nil || resp.Device.DeviceID != "kiosk-1" || resp.Device.Name != "Lobby kiosk" {
		t.Errorf("device = %+v", resp.Device)
	}
	if err := ta.tokens.VerifyDevice(resp.Token, "kiosk-1"); err != nil {
		t.Errorf("VerifyDevice() error = %v", err)
	}

	w = ta.do(t, http.MethodPost, "/api/v1/devices/register", "", registerDeviceRequest{Code: code.Code, DeviceID: "kiosk-2"})
	expectStatus(t, w, http.StatusGone)

	if _, err := ta.devices.GetByDeviceID(context.Background(), "kiosk-2"); err == nil {
		t.Error("second redemption created a device")
	}
}

func TestRegistration_Errors(t *testing.T) {
	ta := newTestAPI(t, nil)
	ctx := context.Background()

	expired := &device.RegistrationCode{DeviceName: "old", ExpiresAt: time.Now().Add(-time.Minute)}
	if err := ta.devices.CreateRegistrationCode(ctx, expired); err != nil {
		t.Fatalf("CreateRegistrationCode() error: %v", err)
	}
	valid := &device.RegistrationCode{DeviceName: "new", ExpiresAt: time.Now().Add(time.Hour)}
	if err := ta.devices.CreateRegistrationCode(ctx, valid); err != nil {
		t.Fatalf("CreateRegistrationCode() error: %v", err)
	}
	ta.createDevice(t, "taken")

	tests := []struct {
		name string
		body any
		want int
	}{
		{"unknown code", registerDeviceRequest{Code: "NOPE-NOPE"}, http.StatusNotFound},
		{"expired code", registerDeviceRequest{Code: expired.Code}, http.StatusGone},
		{"missing code", registerDeviceRequest{}, http.StatusBadRequest},
		{"device id taken", registerDeviceRequest{Code: valid.Code, DeviceID: "taken"}, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ta.do(t, http.MethodPost, "/api/v1/devices/register", "", tt.body)
			expectStatus(t, w, tt.want)
		})
	}
}

func TestRegistrationCode_TTLBounds(t *testing.T) {
	ta := newTestAPI(t, nil)
	token := ta.adminToken(t)

	for _, ttl := range []int{-5, 7*24*60 + 1} {
		w := ta.do(t, http.MethodPost, "/api/v1/registration-codes", token, createCodeRequest{TTLMinutes: ttl})
		expectStatus(t, w, http.StatusUnprocessableEntity)
	}

	w := ta.do(t, http.MethodPost, "/api/v1/registration-codes", token, createCodeRequest{})
	expectStatus(t, w, http.StatusCreated)
	code := decode[device.RegistrationCode](t, w)
	if ttl := time.Until(code.ExpiresAt); ttl < 59*time.Minute || ttl > 61*time.Minute {
		t.Errorf("default ttl = %v, want ~1h", ttl)
	}
}

// ─── Users ──────────────────────────────────────────────────────────

func TestUsers_CreateAndList(t *testing.T) {
	ta := newTestAPI(t, nil)
	token := ta.adminToken(t)

	w := ta.do(t, http.MethodPost, "/api/v1/users", token, createUserRequest{Username: "ops", Password: "long-enough", Role: auth.RoleOperator})
	expectStatus(t, w, http.StatusCreated)
	created := decode[auth.User](t, w)
	if created.Role != auth.RoleOperator || !created.IsActive {
		t.Errorf("created = %+v", created)
	}

	a := ta.waitForActivity(t, activity.TypeUserCreated)
	if a.Details["created_user_id"] != float64(created.ID) {
		t.Errorf("activity details = %v", a.Details)
	}

	w = ta.do(t, http.MethodGet, "/api/v1/users", token, nil)
	expectStatus(t, w, http.StatusOK)
	list := decode[struct {
		Count int `json:"count"`
	}](t, w)
	if list.Count != 2 {
		t.Errorf("count = %d, want 2", list.Count)
	}

	// The new account can log in.
	w = ta.do(t, http.MethodPost, "/api/v1/auth/login", "", loginRequest{Username: "ops", Password: "long-enough"})
	expectStatus(t, w, http.StatusOK)
}

func TestUsers_CreateErrors(t *testing.T) {
	ta := newTestAPI(t, nil)
	token := ta.adminToken(t)

	tests := []struct {
		name string
		body createUserRequest
		want int
	}{
		{"short password", createUserRequest{Username: "x", Password: "short"}, http.StatusBadRequest},
		{"missing username", createUserRequest{Password: "long-enough"}, http.StatusBadRequest},
		{"bad role", createUserRequest{Username: "x", Password: "long-enough", Role: "root"}, http.StatusUnprocessableEntity},
		{"bad username", createUserRequest{Username: "with space", Password: "long-enough"}, http.StatusUnprocessableEntity},
		{"existing username", createUserRequest{Username: "admin", Password: "long-enough"}, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ta.do(t, http.MethodPost, "/api/v1/users", token, tt.body)
			expectStatus(t, w, tt.want)
		})
	}
}
