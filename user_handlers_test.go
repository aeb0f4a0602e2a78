package main

import (
	"net/http"
	"strconv"
	"strings"
	"testing"
)

func registerBody(username, email, password string) map[string]string {
	return map[string]string{"username": username, "email": email, "password": password, "confirmPassword": password}
}

func TestRegisterAndLogin(t *testing.T) {
	setupTestDB(t)
	r := newTestRouter()

	w, resp := doJSON(t, r, http.MethodPost, "/api/register", "", registerBody("dj_kate", "kate@example.com", "secret1"))
	if w.Code != http.StatusCreated || resp["success"] != true {
		t.Fatalf("register: %d %v", w.Code, resp)
	}

	w, resp = doJSON(t, r, http.MethodPost, "/api/register", "", registerBody("DJ_KATE", "other@example.com", "secret1"))
	if w.Code != http.StatusConflict || resp["success"] != false {
		t.Fatalf("duplicate username should conflict: %d %v", w.Code, resp)
	}

	w, resp = doJSON(t, r, http.MethodPost, "/api/login", "", map[string]string{"login": "dj_kate", "password": "wrong"})
	if w.Code != http.StatusUnauthorized || resp["success"] != false {
		t.Fatalf("wrong password: %d %v", w.Code, resp)
	}

	w, resp = doJSON(t, r, http.MethodPost, "/api/login", "", map[string]string{"login": "kate@example.com", "password": "secret1"})
	if w.Code != http.StatusOK {
		t.Fatalf("login: %d %v", w.Code, resp)
	}
	token, _ := resp["token"].(string)
	if token == "" {
		t.Fatalf("login returned no token: %v", resp)
	}

	w, resp = doJSON(t, r, http.MethodGet, "/api/me", token, nil)
	if w.Code != http.StatusOK || dataField(t, resp)["username"] != "dj_kate" {
		t.Fatalf("me: %d %v", w.Code, resp)
	}

	w, _ = doJSON(t, r, http.MethodPost, "/api/logout", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("logout: %d", w.Code)
	}
	w, _ = doJSON(t, r, http.MethodGet, "/api/me", token, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("revoked session should be rejected, got %d", w.Code)
	}
}

func TestRegisterValidation(t *testing.T) {
	setupTestDB(t)
	r := newTestRouter()

	bad := []map[string]string{
		registerBody("ab", "ab@example.com", "secret1"),
		registerBody("bad name", "bad@example.com", "secret1"),
		registerBody("gooduser", "not-an-email", "secret1"),
		registerBody("gooduser", "good@example.com", "short"),
		{"username": "gooduser", "email": "good@example.com", "password": "secret1", "confirmPassword": "secret2"},
		registerBody("gooduser", "good@example.com", strings.Repeat("a", 80)),
	}
	for _, body := range bad {
		if w, resp := doJSON(t, r, http.MethodPost, "/api/register", "", body); w.Code != http.StatusBadRequest {
			t.Errorf("%v: expected 400, got %d %v", body, w.Code, resp)
		}
	}
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	setupTestDB(t)
	r := newTestRouter()

	if w, _ := doJSON(t, r, http.MethodGet, "/api/playlists", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a session, got %d", w.Code)
	}
	if w, _ := doJSON(t, r, http.MethodGet, "/api/playlists", "garbage", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a bad token, got %d", w.Code)
	}

	user := authToken(t, createTestUser(t, "listener", false))
	if w, _ := doJSON(t, r, http.MethodGet, "/api/admin/users", user, nil); w.Code != http.StatusForbidden {
		t.Fatalf("non-admin should get 403, got %d", w.Code)
	}
	admin := authToken(t, createTestUser(t, "boss", true))
	if w, _ := doJSON(t, r, http.MethodGet, "/api/admin/users", admin, nil); w.Code != http.StatusOK {
		t.Fatalf("admin should list users, got %d", w.Code)
	}
}

func TestChangePasswordRevokesOldSessions(t *testing.T) {
	setupTestDB(t)
	r := newTestRouter()
	token := authToken(t, createTestUser(t, "rotator", false))

	w, _ := doJSON(t, r, http.MethodPost, "/api/change_password", token, map[string]string{"oldPassword": "Secret123", "newPassword": "weak"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("weak password should be rejected, got %d", w.Code)
	}
	w, _ = doJSON(t, r, http.MethodPost, "/api/change_password", token, map[string]string{"oldPassword": "Secret123", "newPassword": "Aa1" + strings.Repeat("x", 70)})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("password longer than 72 bytes should be rejected, got %d", w.Code)
	}
	w, resp := doJSON(t, r, http.MethodPost, "/api/change_password", token, map[string]string{"oldPassword": "Secret123", "newPassword": "Better456"})
	if w.Code != http.StatusOK {
		t.Fatalf("change password: %d %v", w.Code, resp)
	}
	fresh, _ := resp["token"].(string)

	if w, _ := doJSON(t, r, http.MethodGet, "/api/me", token, nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("old session should be revoked, got %d", w.Code)
	}
	if w, _ := doJSON(t, r, http.MethodGet, "/api/me", fresh, nil); w.Code != http.StatusOK {
		t.Fatalf("new session should work, got %d", w.Code)
	}
}

func TestAdminSuspendUser(t *testing.T) {
	setupTestDB(t)
	r := newTestRouter()
	adminID := createTestUser(t, "boss", true)
	admin := authToken(t, adminID)
	userID := createTestUser(t, "troll", false)
	user := authToken(t, userID)

	if w, _ := doJSON(t, r, http.MethodPut, "/api/admin/users/"+strconv.Itoa(adminID)+"/status", admin, map[string]string{"status": "suspended"}); w.Code != http.StatusBadRequest {
		t.Fatalf("admin should not suspend themselves, got %d", w.Code)
	}
	if w, _ := doJSON(t, r, http.MethodPut, "/api/admin/users/"+strconv.Itoa(userID)+"/status", admin, map[string]string{"status": "suspended"}); w.Code != http.StatusOK {
		t.Fatalf("suspend: %d", w.Code)
	}
	if w, _ := doJSON(t, r, http.MethodGet, "/api/me", user, nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("suspended user should be logged out, got %d", w.Code)
	}
}
