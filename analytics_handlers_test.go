package main

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestDashboardAfterPlays(t *testing.T) {
	setupTestDB(t)
	r := newTestRouter()
	userID := createTestUser(t, "stats", false)
	token := authToken(t, userID)
	track := createTestTrack(t, testTrack{Title: "Loop", Artist: "Looper", Genre: "Electronic", Duration: 200})

	for _, listened := range []int{200, 20} {
		if w, resp := doJSON(t, r, http.MethodPost, "/api/listening_history", token, map[string]interface{}{
			"action": "log", "track_id": track, "duration": listened,
		}); w.Code != http.StatusOK {
			t.Fatalf("log play: %d %v", w.Code, resp)
		}
	}

	for _, rng := range []string{"7d", "all"} {
		w, resp := doJSON(t, r, http.MethodGet, "/api/analytics/dashboard?range="+rng, token, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("dashboard %s: %d %v", rng, w.Code, resp)
		}
		d := dataField(t, resp)
		if d["total_plays"] != 2.0 || d["unique_tracks"] != 1.0 || d["unique_artists"] != 1.0 || d["total_listening_time"] != 220.0 {
			t.Fatalf("dashboard %s totals = %v", rng, d)
		}
		if d["skips"] != 1.0 || d["skip_rate"] != 50.0 {
			t.Fatalf("dashboard %s skips = %v / %v", rng, d["skips"], d["skip_rate"])
		}
		tracks, _ := d["top_tracks"].([]interface{})
		if len(tracks) != 1 {
			t.Fatalf("top tracks = %v", d["top_tracks"])
		}
		if top := tracks[0].(map[string]interface{}); top["name"] != "Loop" || top["artist"] != "Looper" || top["plays"] != 2.0 {
			t.Fatalf("top track = %v", top)
		}
		artists, _ := d["top_artists"].([]interface{})
		if len(artists) != 1 || artists[0].(map[string]interface{})["name"] != "Looper" {
			t.Fatalf("top artists = %v", d["top_artists"])
		}
		genres, _ := d["top_genres"].([]interface{})
		if len(genres) != 1 || genres[0].(map[string]interface{})["genre"] != "Electronic" {
			t.Fatalf("top genres = %v", d["top_genres"])
		}
		hourly, _ := d["hourly_activity"].([]interface{})
		sum := 0.0
		for _, h := range hourly {
			sum += h.(float64)
		}
		if len(hourly) != 24 || sum != 2 {
			t.Fatalf("hourly activity = %v", hourly)
		}
		if daily, _ := d["daily"].([]interface{}); len(daily) != 1 {
			t.Fatalf("daily = %v", d["daily"])
		}
	}

	if w, _ := doJSON(t, r, http.MethodGet, "/api/analytics/dashboard?range=1y", token, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("unknown range: %d", w.Code)
	}
}

func TestDashboardCutoff(t *testing.T) {
	setupTestDB(t)
	userID := createTestUser(t, "old", false)
	track := createTestTrack(t, testTrack{Title: "Old", Artist: "A", Duration: 100})
	db.Exec(`INSERT INTO listening_history (user_id, track_id, played_at, listening_duration, completion_percentage)
		VALUES (?, ?, '2020-01-01T10:00:00Z', 100, 100)`, userID, track)

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	recent, err := buildDashboard(context.Background(), userID, "30d", now)
	if err != nil {
		t.Fatalf("buildDashboard: %v", err)
	}
	if recent.Plays != 0 || len(recent.TopTracks) != 0 {
		t.Fatalf("plays outside the range leaked in: %+v", recent)
	}
	all, err := buildDashboard(context.Background(), userID, "all", now)
	if err != nil {
		t.Fatalf("buildDashboard all: %v", err)
	}
	if all.Plays != 1 || all.HourlyActivity[10] != 1 {
		t.Fatalf("all-time dashboard = %+v", all)
	}
}

func TestArtistStats(t *testing.T) {
	setupTestDB(t)
	r := newTestRouter()
	alice := createTestUser(t, "alice", false)
	bob := createTestUser(t, "bob", false)
	hit := createTestTrack(t, testTrack{Title: "Hit", Artist: "Band", Duration: 180})
	deep := createTestTrack(t, testTrack{Title: "Deep cut", Artist: "Band", Duration: 180})
	token := authToken(t, alice)

	for _, p := range []struct{ user, track int }{{alice, hit}, {bob, hit}, {alice, deep}} {
		doJSON(t, r, http.MethodPost, "/api/listening_history", authToken(t, p.user), map[string]interface{}{
			"action": "log", "track_id": p.track, "duration": 180,
		})
	}
	if _, err := rateTrack(db, alice, hit, 4); err != nil {
		t.Fatalf("rateTrack: %v", err)
	}
	if _, err := rateTrack(db, bob, deep, 5); err != nil {
		t.Fatalf("rateTrack: %v", err)
	}

	var artistID int
	db.QueryRow(`SELECT artist_id FROM tracks WHERE id = ?`, hit).Scan(&artistID)
	w, resp := doJSON(t, r, http.MethodGet, fmt.Sprintf("/api/artist_stats/%d", artistID), token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("artist stats: %d %v", w.Code, resp)
	}
	s := dataField(t, resp)
	if s["name"] != "Band" || s["total_plays"] != 3.0 || s["unique_listeners"] != 2.0 || s["average_rating"] != 4.5 {
		t.Fatalf("artist stats = %v", s)
	}
	tops, _ := s["top_tracks"].([]interface{})
	if len(tops) != 2 || tops[0].(map[string]interface{})["name"] != "Hit" {
		t.Fatalf("top tracks = %v", s["top_tracks"])
	}
	if trend, _ := s["listening_trend"].([]interface{}); len(trend) != 1 {
		t.Fatalf("trend = %v", s["listening_trend"])
	}

	if w, _ := doJSON(t, r, http.MethodGet, "/api/artist_stats/9999", token, nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing artist: %d", w.Code)
	}
}
