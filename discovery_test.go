package main

import (
	"fmt"
	"math"
	"net/http"
	"testing"
	"time"
)

func TestAttributeScore(t *testing.T) {
	src := Track{Genre: "Rock", Mood: "Happy", AudioFeatures: AudioFeatures{Tempo: 120, Key: "C"}}
	other := Track{Genre: "rock", Mood: "Sad", AudioFeatures: AudioFeatures{Tempo: 128, Key: "C"}}

	score, f := attributeScore(src, other)
	if score != genreWeight+tempoWeight+keyWeight {
		t.Fatalf("unexpected score %d", score)
	}
	if !f.Genre || f.Mood || !f.Tempo || !f.Key {
		t.Fatalf("unexpected factors %+v", f)
	}

	// blank attributes never count as a match
	if score, _ := attributeScore(Track{}, Track{}); score != 0 {
		t.Fatalf("blank tracks should not match, got %d", score)
	}
}

func TestFeatureDistance(t *testing.T) {
	a := AudioFeatures{Energy: 0.5, Valence: 0.5, Tempo: 100}
	if d := featureDistance(a, a); d != 0 {
		t.Fatalf("distance to self should be 0, got %v", d)
	}
	b := AudioFeatures{Energy: 0.8, Valence: 0.9, Tempo: 100}
	if d := featureDistance(a, b); math.Abs(d-0.5) > 1e-9 {
		t.Fatalf("expected 0.5, got %v", d)
	}
}

func TestSummarizeHistory(t *testing.T) {
	monday := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	entries := []historyEntry{
		{TrackID: 1, Genre: "rock", Mood: "Happy", Tempo: 80, PlayedAt: monday},
		{TrackID: 2, Genre: "rock", Tempo: 100, PlayedAt: monday.Add(30 * time.Minute)},
		{TrackID: 1, Genre: "jazz", Tempo: 140, PlayedAt: monday.Add(2 * time.Hour)},
	}
	p := summarizeHistory(entries)

	if p.TotalTracks != 3 || p.UniqueTracks != 2 {
		t.Fatalf("totals = %d/%d", p.TotalTracks, p.UniqueTracks)
	}
	if math.Abs(p.GenreDistribution["rock"]-2.0/3) > 1e-9 {
		t.Fatalf("rock share = %v", p.GenreDistribution["rock"])
	}
	if p.MoodDistribution["Happy"] == 0 || len(p.MoodDistribution) != 1 {
		t.Fatalf("unexpected mood distribution %v", p.MoodDistribution)
	}
	if p.TempoPreferences["slow"] != 1 || p.TempoPreferences["medium"] != 1 || p.TempoPreferences["fast"] != 1 {
		t.Fatalf("unexpected tempo buckets %v", p.TempoPreferences)
	}
	if p.HourlyActivity[10] != 2 || p.HourlyActivity[12] != 1 {
		t.Fatalf("unexpected hourly activity %v", p.HourlyActivity)
	}
	if p.DailyActivity[0] != 3 {
		t.Fatalf("expected all plays on Monday, got %v", p.DailyActivity)
	}
	if len(p.Sessions) != 2 || len(p.Sessions[0]) != 2 || len(p.Sessions[1]) != 1 {
		t.Fatalf("expected sessions of 2 and 1 plays, got %v", p.Sessions)
	}
}

func TestSummarizeHistoryEmpty(t *testing.T) {
	p := summarizeHistory(nil)
	if p.TotalTracks != 0 || len(p.Sessions) != 0 || len(p.GenreDistribution) != 0 {
		t.Fatalf("unexpected summary for no plays: %+v", p)
	}
}

func TestTopKeys(t *testing.T) {
	got := topKeys(map[string]float64{"b": 0.3, "c": 0.5, "a": 0.5}, 2)
	if len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Fatalf("unexpected keys %v", got)
	}
}

func TestPickByDuration(t *testing.T) {
	candidates := []Track{{ID: 1, Duration: 100}, {ID: 2}, {ID: 3, Duration: 200}, {ID: 4, Duration: 50}}
	got := pickByDuration(candidates, 160)
	if len(got) != 2 || got[0].ID != 1 || got[1].ID != 4 {
		t.Fatalf("unexpected pick %+v", got)
	}
}

func TestSimilarTracks(t *testing.T) {
	setupTestDB(t)
	src := createTestTrack(t, testTrack{Title: "Source", Artist: "A", Genre: "rock", Mood: "Happy", Tempo: 120, Key: "C"})
	near := createTestTrack(t, testTrack{Title: "Close", Artist: "B", Genre: "rock", Mood: "Happy", Tempo: 125, Key: "D"})
	partial := createTestTrack(t, testTrack{Title: "Partial", Artist: "C", Genre: "rock", Mood: "Sad", Tempo: 200, Key: "C"})
	createTestTrack(t, testTrack{Title: "Unrelated", Artist: "D", Genre: "jazz"})

	_, similar, err := similarTracks(db, src, 10)
	if err != nil {
		t.Fatalf("similarTracks: %v", err)
	}
	if len(similar) != 2 || similar[0].ID != near || similar[1].ID != partial {
		t.Fatalf("unexpected similar tracks %+v", similar)
	}
	want := float64(genreWeight+moodWeight+tempoWeight) / maxSimilarity
	if math.Abs(similar[0].SimilarityScore-want) > 1e-9 {
		t.Fatalf("score = %v, want %v", similar[0].SimilarityScore, want)
	}
}

func TestTrendingTracksTimeRange(t *testing.T) {
	setupTestDB(t)
	user := createTestUser(t, "listener", false)
	recent := createTestTrack(t, testTrack{Title: "Recent", Artist: "A", Duration: 200})
	old := createTestTrack(t, testTrack{Title: "Old", Artist: "B", Duration: 200})

	now := time.Now().UTC()
	for _, p := range []struct {
		track int
		at    time.Time
	}{{recent, now.Add(-24 * time.Hour)}, {old, now.AddDate(0, 0, -20)}} {
		if _, err := db.Exec(`INSERT INTO listening_history (user_id, track_id, played_at, listening_duration, completion_percentage)
			VALUES (?, ?, ?, 200, 100)`, user, p.track, p.at.Format(time.RFC3339)); err != nil {
			t.Fatal(err)
		}
	}

	week, total, err := trendingTracks(db, TrendingOptions{TimeRange: "week", Limit: 10}, now)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || len(week) != 1 || week[0].ID != recent || week[0].RecentPlays != 1 {
		t.Fatalf("unexpected weekly trending %+v (total %d)", week, total)
	}
	month, total, _ := trendingTracks(db, TrendingOptions{TimeRange: "month", Limit: 10}, now)
	if total != 2 || len(month) != 2 {
		t.Fatalf("expected both tracks for the month, got %d", total)
	}
	if _, _, err := trendingTracks(db, TrendingOptions{TimeRange: "decade"}, now); err == nil {
		t.Fatal("expected an error for an unknown time range")
	}
}

func TestRecommendTracksFallsBackToTrending(t *testing.T) {
	setupTestDB(t)
	user := createTestUser(t, "newcomer", false)
	createTestTrack(t, testTrack{Title: "One", Artist: "A"})

	tracks, err := recommendTracks(db, user, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(tracks) != 1 {
		t.Fatalf("expected trending fallback for a user without history, got %d tracks", len(tracks))
	}
}

func TestTrendingEndpointPagination(t *testing.T) {
	setupTestDB(t)
	r := newTestRouter()
	token := authToken(t, createTestUser(t, "browser", false))
	var ids []int
	for i, genre := range []string{"pop", "pop", "rock"} {
		id := createTestTrack(t, testTrack{Title: fmt.Sprintf("Song %d", i), Artist: "A", Genre: genre})
		db.Exec(`UPDATE tracks SET play_count = ? WHERE id = ?`, 10-i, id)
		ids = append(ids, id)
	}

	page := func(query string) (int, []interface{}, map[string]interface{}) {
		t.Helper()
		w, resp := doJSON(t, r, http.MethodGet, "/api/trending"+query, token, nil)
		data, _ := resp["data"].([]interface{})
		p, _ := resp["pagination"].(map[string]interface{})
		return w.Code, data, p
	}

	code, data, p := page("?time_range=all&limit=2")
	if code != http.StatusOK || len(data) != 2 || p["total"] != 3.0 || p["has_more"] != true {
		t.Fatalf("first page: %d %v %v", code, data, p)
	}
	if first := data[0].(map[string]interface{}); first["id"] != float64(ids[0]) {
		t.Fatalf("most played first, got %v", first)
	}
	code, data, p = page("?time_range=all&limit=2&offset=2")
	if code != http.StatusOK || len(data) != 1 || p["has_more"] != false || p["offset"] != 2.0 {
		t.Fatalf("second page: %d %v %v", code, data, p)
	}
	if last := data[0].(map[string]interface{}); last["id"] != float64(ids[2]) {
		t.Fatalf("least played last, got %v", last)
	}

	if code, data, p = page("?time_range=all&genre=POP"); code != http.StatusOK || len(data) != 2 || p["total"] != 2.0 {
		t.Fatalf("genre filter: %d %v %v", code, data, p)
	}
	// nothing was played this week
	if code, data, _ = page(""); code != http.StatusOK || len(data) != 0 {
		t.Fatalf("default week window: %d %v", code, data)
	}
	if code, _, _ = page("?time_range=year"); code != http.StatusBadRequest {
		t.Fatalf("unknown time range: %d", code)
	}
}
