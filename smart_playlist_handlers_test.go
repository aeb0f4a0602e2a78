package main

import (
	"fmt"
	"net/http"
	"testing"
)

func TestSmartPlaylistEndpoints(t *testing.T) {
	setupTestDB(t)
	r := newTestRouter()
	ownerID := createTestUser(t, "builder", false)
	owner := authToken(t, ownerID)
	strangerID := createTestUser(t, "stranger", false)
	stranger := authToken(t, strangerID)
	admin := authToken(t, createTestUser(t, "boss", true))
	createTestTrack(t, testTrack{Title: "Drone", Artist: "A", Genre: "ambient"})

	w, resp := doJSON(t, r, http.MethodPost, "/api/smart_playlists", owner, map[string]interface{}{
		"name":     "Ambient",
		"criteria": map[string]interface{}{"conditions": []map[string]interface{}{{"type": "genre", "value": "ambient"}}},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %v", w.Code, resp)
	}
	sp := dataField(t, resp)
	id, _ := sp["id"].(string)
	if !validSmartPlaylistID(id) || sp["track_count"] != 1.0 {
		t.Fatalf("created smart playlist = %v", sp)
	}

	one := "/api/smart_playlists?playlist_id=" + id
	if w, resp := doJSON(t, r, http.MethodGet, one, owner, nil); w.Code != http.StatusOK || len(dataField(t, resp)["tracks"].([]interface{})) != 1 {
		t.Fatalf("owner get: %d %v", w.Code, resp)
	}
	if w, _ := doJSON(t, r, http.MethodGet, one, stranger, nil); w.Code != http.StatusForbidden {
		t.Fatalf("stranger get: %d", w.Code)
	}
	if w, _ := doJSON(t, r, http.MethodGet, one, admin, nil); w.Code != http.StatusOK {
		t.Fatalf("admin get: %d", w.Code)
	}
	if w, _ := doJSON(t, r, http.MethodGet, "/api/smart_playlists?playlist_id=not-an-id", owner, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("malformed id: %d", w.Code)
	}
	if w, _ := doJSON(t, r, http.MethodGet, "/api/smart_playlists?playlist_id="+newSmartPlaylistID(), owner, nil); w.Code != http.StatusNotFound {
		t.Fatalf("unknown id: %d", w.Code)
	}

	list := func(token, query string) (int, []interface{}) {
		t.Helper()
		w, resp := doJSON(t, r, http.MethodGet, "/api/smart_playlists"+query, token, nil)
		items, _ := resp["data"].([]interface{})
		return w.Code, items
	}
	if code, items := list(owner, ""); code != http.StatusOK || len(items) != 1 {
		t.Fatalf("own list: %d %v", code, items)
	}
	if code, items := list(stranger, ""); code != http.StatusOK || len(items) != 0 {
		t.Fatalf("stranger's own list: %d %v", code, items)
	}
	if code, _ := list(stranger, fmt.Sprintf("?user_id=%d", ownerID)); code != http.StatusForbidden {
		t.Fatalf("listing another user's smart playlists: %d", code)
	}
	if code, items := list(admin, fmt.Sprintf("?user_id=%d", ownerID)); code != http.StatusOK || len(items) != 1 {
		t.Fatalf("admin listing: %d %v", code, items)
	}
	if code, _ := list(owner, "?user_id=abc"); code != http.StatusBadRequest {
		t.Fatalf("bad user_id: %d", code)
	}

	createTestTrack(t, testTrack{Title: "Pad", Artist: "B", Genre: "Ambient"})
	w, resp = doJSON(t, r, http.MethodPost, "/api/smart_playlists/"+id+"/refresh", owner, nil)
	if w.Code != http.StatusOK || resp["track_count"] != 2.0 {
		t.Fatalf("refresh: %d %v", w.Code, resp)
	}

	del := "/api/smart_playlists/" + id
	if w, _ := doJSON(t, r, http.MethodDelete, del, stranger, nil); w.Code != http.StatusForbidden {
		t.Fatalf("stranger delete: %d", w.Code)
	}
	if w, _ := doJSON(t, r, http.MethodDelete, del, owner, nil); w.Code != http.StatusOK {
		t.Fatalf("delete: %d", w.Code)
	}
	var rows int
	db.QueryRow(`SELECT COUNT(*) FROM smart_playlist_tracks WHERE smart_playlist_id = ?`, id).Scan(&rows)
	if rows != 0 {
		t.Fatalf("snapshot rows should cascade, %d left", rows)
	}
	if w, _ := doJSON(t, r, http.MethodGet, one, owner, nil); w.Code != http.StatusNotFound {
		t.Fatalf("get after delete: %d", w.Code)
	}
}
