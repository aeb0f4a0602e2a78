package main

import (
	"fmt"
	"net/http"
	"testing"
)

func TestValidateTracklist(t *testing.T) {
	ok := []MixEntry{{TrackID: 1, StartTime: 0, EndTime: 120}, {TrackID: 2, StartTime: 110, EndTime: 300}}
	if err := validateTracklist(ok, 300); err != nil {
		t.Fatalf("valid tracklist rejected: %v", err)
	}
	bad := map[string][]MixEntry{
		"missing track": {{StartTime: 0, EndTime: 10}},
		"reversed":      {{TrackID: 1, StartTime: 50, EndTime: 40}},
		"negative":      {{TrackID: 1, StartTime: -5, EndTime: 10}},
		"too long":      {{TrackID: 1, StartTime: 0, EndTime: 301}},
	}
	for name, entries := range bad {
		if err := validateTracklist(entries, 300); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
	if err := validateTracklist([]MixEntry{{TrackID: 1, StartTime: 0, EndTime: 9999}}, 0); err != nil {
		t.Fatalf("zero duration should skip the bound: %v", err)
	}
}

func TestMixLifecycle(t *testing.T) {
	setupTestDB(t)
	r := newTestRouter()
	dj := authToken(t, createTestUser(t, "dj", false))
	other := authToken(t, createTestUser(t, "other", false))
	a := createTestTrack(t, testTrack{Title: "Opener", Artist: "X"})
	b := createTestTrack(t, testTrack{Title: "Closer", Artist: "Y"})

	if w, _ := doJSON(t, r, http.MethodPost, "/api/dj_mixes", dj, map[string]interface{}{"title": "No type", "duration": 600}); w.Code != http.StatusBadRequest {
		t.Fatalf("mix_type is required, got %d", w.Code)
	}

	w, resp := doJSON(t, r, http.MethodPost, "/api/dj_mixes", dj, map[string]interface{}{
		"title": " Sunset set ", "duration": 600, "mix_type": "house", "genre_tags": []string{"house", "deep"},
		"tracklist": []map[string]interface{}{
			{"track_id": a, "start_time": 0, "end_time": 300, "transition_type": "cut"},
			{"track_id": b, "start_time": 290, "end_time": 600, "transition_type": "blend"},
		},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create mix: %d %v", w.Code, resp)
	}
	mixID := int(resp["mix_id"].(float64))
	path := fmt.Sprintf("/api/dj_mixes?mix_id=%d", mixID)

	w, resp = doJSON(t, r, http.MethodGet, path, other, nil)
	mix := dataField(t, resp)
	tracklist, _ := mix["tracklist"].([]interface{})
	if w.Code != http.StatusOK || mix["title"] != "Sunset set" || mix["track_count"] != 2.0 || len(tracklist) != 2 {
		t.Fatalf("get mix: %d %v", w.Code, resp)
	}
	if first := tracklist[0].(map[string]interface{}); first["title"] != "Opener" || first["position"] != 1.0 {
		t.Fatalf("unexpected first entry %v", first)
	}

	if w, _ := doJSON(t, r, http.MethodPut, path, other, map[string]string{"title": "Stolen"}); w.Code != http.StatusForbidden {
		t.Fatalf("non-owner update: %d", w.Code)
	}
	if w, _ := doJSON(t, r, http.MethodPut, path, dj, map[string]int{"duration": 200}); w.Code != http.StatusOK {
		t.Fatalf("shorten mix: %d", w.Code)
	}
	long := map[string]interface{}{"tracklist": []map[string]interface{}{{"track_id": a, "start_time": 0, "end_time": 250}}}
	if w, _ := doJSON(t, r, http.MethodPut, path, dj, long); w.Code != http.StatusBadRequest {
		t.Fatalf("tracklist past the stored duration should fail, got %d", w.Code)
	}

	w, resp = doJSON(t, r, http.MethodPost, fmt.Sprintf("/api/dj_mixes?action=play&mix_id=%d", mixID), other, nil)
	if w.Code != http.StatusOK || resp["play_count"] != 1.0 {
		t.Fatalf("play: %d %v", w.Code, resp)
	}
	if w, _ := doJSON(t, r, http.MethodPost, "/api/dj_mixes?action=like&mix_id=999", other, nil); w.Code != http.StatusNotFound {
		t.Fatalf("like missing mix: %d", w.Code)
	}

	w, resp = doJSON(t, r, http.MethodGet, "/api/dj_mixes?mix_type=house&sort=popular", other, nil)
	if mixes, _ := resp["mixes"].([]interface{}); w.Code != http.StatusOK || len(mixes) != 1 {
		t.Fatalf("list mixes: %d %v", w.Code, resp)
	}

	if w, _ := doJSON(t, r, http.MethodDelete, path, other, nil); w.Code != http.StatusForbidden {
		t.Fatalf("non-owner delete: %d", w.Code)
	}
	if w, _ := doJSON(t, r, http.MethodDelete, path, dj, nil); w.Code != http.StatusOK {
		t.Fatalf("delete: %d", w.Code)
	}
	var rows int
	db.QueryRow(`SELECT COUNT(*) FROM mix_tracklist WHERE mix_id = ?`, mixID).Scan(&rows)
	if rows != 0 {
		t.Fatalf("tracklist rows should cascade, %d left", rows)
	}
}
