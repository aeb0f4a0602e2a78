package main

import (
	"fmt"
	"net/http"
	"testing"
)

func TestDeriveTags(t *testing.T) {
	full := Track{Genre: "Rock/Pop", Mood: "Happy", Analyzed: true}
	full.Tempo = 130
	full.Energy = 0.8
	if got, want := deriveTags(full, 20), []string{"rock/pop", "rock", "pop", "fast", "happy", "energetic", "evening"}; !equalStrings(got, want) {
		t.Fatalf("deriveTags(full) = %v, want %v", got, want)
	}

	calm := Track{Analyzed: true}
	calm.Tempo = 100
	calm.Energy = 0.1
	if got, want := deriveTags(calm, 3), []string{"medium_tempo", "calm", "night"}; !equalStrings(got, want) {
		t.Fatalf("deriveTags(calm) = %v, want %v", got, want)
	}

	// unanalysed and never played: only metadata tags
	if got := deriveTags(Track{Genre: "Jazz"}, -1); !equalStrings(got, []string{"jazz"}) {
		t.Fatalf("deriveTags(bare) = %v", got)
	}
}

func TestSmartLibraryAutoTag(t *testing.T) {
	setupTestDB(t)
	r := newTestRouter()
	token := authToken(t, createTestUser(t, "tagger", false))
	neon := createTestTrack(t, testTrack{Title: "Neon Nights", Artist: "Synth", Genre: "Synthwave", Tempo: 128, Mood: "happy"})

	body := map[string]interface{}{"action": "auto_tag", "track_ids": []int{neon, neon, 999}}
	w, resp := doJSON(t, r, http.MethodPost, "/api/smart_library", token, body)
	if w.Code != http.StatusOK {
		t.Fatalf("auto_tag: %d %v", w.Code, resp)
	}
	key := fmt.Sprint(neon)
	res := dataField(t, resp)
	if len(res) != 1 {
		t.Fatalf("unknown ids should be skipped: %v", res)
	}
	first := res[key].(map[string]interface{})
	if tags, _ := first["new_tags"].([]interface{}); len(tags) != 3 || first["total_tags"] != 3.0 {
		t.Fatalf("first run = %v", first)
	}

	_, resp = doJSON(t, r, http.MethodPost, "/api/smart_library", token, body)
	second := dataField(t, resp)[key].(map[string]interface{})
	if tags, _ := second["new_tags"].([]interface{}); len(tags) != 0 || second["total_tags"] != 3.0 {
		t.Fatalf("second run should add nothing: %v", second)
	}
	stored, err := trackTags(db, neon)
	if err != nil || !equalStrings(stored, []string{"fast", "happy", "synthwave"}) {
		t.Fatalf("stored tags = %v, %v", stored, err)
	}

	if w, _ := doJSON(t, r, http.MethodPost, "/api/smart_library", token, map[string]interface{}{"action": "auto_tag"}); w.Code != http.StatusBadRequest {
		t.Fatalf("auto_tag without tracks: %d", w.Code)
	}
}

func TestSmartLibraryManageRatings(t *testing.T) {
	setupTestDB(t)
	r := newTestRouter()
	token := authToken(t, createTestUser(t, "rater", false))
	track := createTestTrack(t, testTrack{Title: "Rated", Artist: "A"})

	rate := func(data map[string]interface{}) (int, map[string]interface{}) {
		t.Helper()
		w, resp := doJSON(t, r, http.MethodPost, "/api/smart_library", token, map[string]interface{}{
			"action": "manage_ratings", "rating_action": "rate", "rating_data": data,
		})
		return w.Code, resp
	}

	code, resp := rate(map[string]interface{}{"track_id": track, "rating": 7})
	if code != http.StatusOK {
		t.Fatalf("rate: %d %v", code, resp)
	}
	if d := dataField(t, resp); d["rating"] != 5.0 || d["average_rating"] != 5.0 {
		t.Fatalf("rating should clamp to 5: %v", d)
	}
	if code, _ := rate(map[string]interface{}{"track_id": track, "rating": 0}); code != http.StatusOK {
		t.Fatalf("low rating should clamp, got %d", code)
	}
	var stored float64
	db.QueryRow(`SELECT rating FROM track_ratings WHERE track_id = ?`, track).Scan(&stored)
	if stored != 1 {
		t.Fatalf("stored rating = %v, want 1", stored)
	}
	if code, _ := rate(map[string]interface{}{"track_id": track}); code != http.StatusBadRequest {
		t.Fatalf("missing rating: %d", code)
	}
	if code, _ := rate(map[string]interface{}{"track_id": 999, "rating": 3}); code != http.StatusNotFound {
		t.Fatalf("unknown track: %d", code)
	}

	w, resp := doJSON(t, r, http.MethodPost, "/api/smart_library", token, map[string]interface{}{
		"action": "manage_ratings", "rating_action": "get_user_ratings",
	})
	if list, _ := resp["data"].([]interface{}); w.Code != http.StatusOK || len(list) != 1 {
		t.Fatalf("get_user_ratings: %d %v", w.Code, resp)
	}
	w, resp = doJSON(t, r, http.MethodPost, "/api/smart_library", token, map[string]interface{}{
		"action": "manage_ratings", "rating_action": "get_track_ratings", "rating_data": map[string]int{"track_id": track},
	})
	if w.Code != http.StatusOK || dataField(t, resp)["total_ratings"] != 1.0 {
		t.Fatalf("get_track_ratings: %d %v", w.Code, resp)
	}
	if w, _ := doJSON(t, r, http.MethodPost, "/api/smart_library", token, map[string]interface{}{
		"action": "manage_ratings", "rating_action": "purge",
	}); w.Code != http.StatusBadRequest {
		t.Fatalf("unknown rating action: %d", w.Code)
	}
}

func TestSmartLibrarySearch(t *testing.T) {
	setupTestDB(t)
	r := newTestRouter()
	userID := createTestUser(t, "seeker", false)
	token := authToken(t, userID)
	neon := createTestTrack(t, testTrack{Title: "Neon Nights", Artist: "Synth", Genre: "Synthwave", Tempo: 128, Mood: "happy", Duration: 200})
	slow := createTestTrack(t, testTrack{Title: "Slow Burn", Artist: "Blues Man", Genre: "Blues", Tempo: 70, Duration: 300})
	if _, err := autoTagTracks(db, []int{neon}); err != nil {
		t.Fatalf("autoTagTracks: %v", err)
	}
	if _, err := rateTrack(db, userID, neon, 4.5); err != nil {
		t.Fatalf("rateTrack: %v", err)
	}
	if _, err := logPlay(db, userID, slow, 300, ListenContext{}); err != nil {
		t.Fatalf("logPlay: %v", err)
	}

	search := func(query map[string]interface{}) (int, []interface{}) {
		t.Helper()
		w, resp := doJSON(t, r, http.MethodPost, "/api/smart_library", token, map[string]interface{}{"action": "search", "query": query})
		if w.Code != http.StatusOK {
			return w.Code, nil
		}
		tracks, _ := dataField(t, resp)["tracks"].([]interface{})
		return w.Code, tracks
	}
	only := func(name string, query map[string]interface{}, want int) {
		t.Helper()
		code, tracks := search(query)
		if code != http.StatusOK || len(tracks) != 1 || tracks[0].(map[string]interface{})["id"] != float64(want) {
			t.Fatalf("%s: %d %v", name, code, tracks)
		}
	}

	only("text", map[string]interface{}{"text": "neon"}, neon)
	only("tags", map[string]interface{}{"tags": []string{"fast"}}, neon)
	only("min rating", map[string]interface{}{"min_rating": 4}, neon)
	only("tempo range", map[string]interface{}{"tempo_range": []float64{60, 80}}, slow)
	only("recently played", map[string]interface{}{"played_in_last_days": 7}, slow)

	_, tracks := search(map[string]interface{}{"text": "neon"})
	if hit := tracks[0].(map[string]interface{}); hit["user_rating"] != 4.5 {
		t.Fatalf("hit should carry the user's rating: %v", hit)
	}

	for name, bad := range map[string]map[string]interface{}{
		"empty":          {},
		"reversed tempo": {"tempo_range": []float64{130, 100}},
		"huge window":    {"played_in_last_days": 40000},
		"bad sort":       {"text": "neon", "sort": map[string]interface{}{"field": "password"}},
	} {
		if code, _ := search(bad); code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", name, code)
		}
	}

	var logged int
	db.QueryRow(`SELECT COUNT(*) FROM search_history WHERE user_id = ?`, userID).Scan(&logged)
	if logged != 6 {
		t.Fatalf("search_history rows = %d, want 6", logged)
	}
}
