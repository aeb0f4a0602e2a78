package main

import (
	"fmt"
	"net/http"
	"testing"
)

func TestRateTrack(t *testing.T) {
	setupTestDB(t)
	a := createTestUser(t, "a", false)
	b := createTestUser(t, "b", false)
	track := createTestTrack(t, testTrack{Title: "Rated", Artist: "X"})

	if _, err := rateTrack(db, a, track, 5.5); err == nil {
		t.Fatal("expected out of range rating to fail")
	}
	if _, err := rateTrack(db, a, 9999, 3); err == nil {
		t.Fatal("expected missing track to fail")
	}
	rateTrack(db, a, track, 2)
	rateTrack(db, a, track, 4) // replaces the first rating
	avg, err := rateTrack(db, b, track, 4.5)
	if err != nil || avg != 4.3 {
		t.Fatalf("average = %v, %v", avg, err)
	}

	s, err := trackRatingSummary(db, track, a)
	if err != nil {
		t.Fatal(err)
	}
	if s.TotalRatings != 2 || s.MinRating != 4 || s.MaxRating != 4.5 || s.Distribution[4] != 2 || *s.UserRating != 4 {
		t.Fatalf("unexpected summary %+v", s)
	}

	list, err := userRatings(db, b, 10, 0)
	if err != nil || len(list) != 1 || list[0].Title != "Rated" {
		t.Fatalf("userRatings = %+v, %v", list, err)
	}
}

func TestTrackRatingEndpoints(t *testing.T) {
	setupTestDB(t)
	r := newTestRouter()
	token := authToken(t, createTestUser(t, "rater", false))
	track := createTestTrack(t, testTrack{Title: "Song", Artist: "Y"})
	get := fmt.Sprintf("/api/track_ratings?track_id=%d", track)

	w, resp := doJSON(t, r, http.MethodGet, get, token, nil)
	if w.Code != http.StatusOK || dataField(t, resp)["user_rating"] != nil {
		t.Fatalf("unrated track: %d %v", w.Code, resp)
	}
	if w, _ := doJSON(t, r, http.MethodPost, "/api/track_ratings", token, map[string]interface{}{"track_id": track}); w.Code != http.StatusBadRequest {
		t.Fatalf("missing rating: %d", w.Code)
	}
	w, resp = doJSON(t, r, http.MethodPut, "/api/track_ratings", token, map[string]interface{}{"track_id": track, "rating": 3.5})
	if w.Code != http.StatusOK || resp["average_rating"] != 3.5 {
		t.Fatalf("rate: %d %v", w.Code, resp)
	}
	_, resp = doJSON(t, r, http.MethodGet, get, token, nil)
	if d := dataField(t, resp); d["user_rating"] != 3.5 || d["total_ratings"] != 1.0 {
		t.Fatalf("after rating: %v", d)
	}
	if w, _ := doJSON(t, r, http.MethodGet, "/api/track_ratings?track_id=4242", token, nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing track: %d", w.Code)
	}
}
