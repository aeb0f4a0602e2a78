package main

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestRuleSetValidate(t *testing.T) {
	rs := RuleSet{Name: "  Fast ones ", Conditions: []RuleCondition{{Type: " Tempo ", Operator: ">", Value: 140.0}}}
	if err := rs.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if rs.Name != "Fast ones" || rs.Match != "all" || rs.Conditions[0].Type != "tempo" {
		t.Fatalf("rule set not normalised: %+v", rs)
	}

	days := RuleSet{Name: "Recent", Conditions: []RuleCondition{{Type: "added", Value: 7.0}}}
	if err := days.Validate(); err != nil || days.Conditions[0].Operator != "<=" {
		t.Fatalf("days rules should default to <=, got %q (%v)", days.Conditions[0].Operator, err)
	}

	bad := []RuleSet{
		{Conditions: []RuleCondition{{Type: "genre", Value: "rock"}}},
		{Name: "x"},
		{Name: "x", Match: "some", Conditions: []RuleCondition{{Type: "genre", Value: "rock"}}},
		{Name: "x", Conditions: []RuleCondition{{Type: "colour", Value: "red"}}},
		{Name: "x", Conditions: []RuleCondition{{Type: "genre", Operator: ">", Value: "rock"}}},
		{Name: "x", Conditions: []RuleCondition{{Type: "added", Operator: "=", Value: 3.0}}},
		{Name: "x", Conditions: []RuleCondition{{Type: "genre", Value: "rock"}}, Sort: &RuleSort{Field: "password"}},
	}
	for i, rs := range bad {
		if err := rs.Validate(); err == nil {
			t.Errorf("case %d: expected a validation error for %+v", i, rs)
		}
	}
}

func TestCompileDaysRuleInvertsOperator(t *testing.T) {
	now := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	frag, args, err := compileCondition(RuleCondition{Type: "added", Operator: "<=", Value: 7.0}, 1, now)
	if err != nil {
		t.Fatal(err)
	}
	// added within the last 7 days means created_at >= cutoff
	if frag != "t.created_at >= ?" || args[0] != "2024-06-03T00:00:00Z" {
		t.Fatalf("unexpected fragment %q %v", frag, args)
	}
}

func TestCompilePerUserRating(t *testing.T) {
	frag, args, err := compileCondition(RuleCondition{Type: "rating", Operator: ">=", Value: "4"}, 42, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(frag, ">= ?") || len(args) != 2 || args[0] != 42 || args[1] != 4.0 {
		t.Fatalf("unexpected rating condition %q %v", frag, args)
	}
	if _, _, err := compileCondition(RuleCondition{Type: "year", Operator: "in", Value: []interface{}{}}, 1, time.Now()); err == nil {
		t.Fatal("expected an error for an empty in list")
	}
}

func TestEvaluateRules(t *testing.T) {
	setupTestDB(t)
	user := createTestUser(t, "curator", false)
	fast := createTestTrack(t, testTrack{Title: "Fast Rock", Artist: "A", Genre: "Rock", Tempo: 160})
	createTestTrack(t, testTrack{Title: "Slow Rock", Artist: "B", Genre: "rock", Tempo: 70})
	createTestTrack(t, testTrack{Title: "Fast Jazz", Artist: "C", Genre: "jazz", Tempo: 170})
	if _, err := rateTrack(db, user, fast, 5); err != nil {
		t.Fatal(err)
	}

	all := RuleSet{Name: "Fast rock", Conditions: []RuleCondition{
		{Type: "genre", Value: "ROCK"},
		{Type: "tempo", Operator: ">", Value: 120.0},
	}}
	tracks, err := evaluateRules(db, &all, user, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(tracks) != 1 || tracks[0].ID != fast {
		t.Fatalf("match all: %+v", tracks)
	}

	all.Match = "any"
	tracks, _ = evaluateRules(db, &all, user, time.Now())
	if len(tracks) != 3 {
		t.Fatalf("match any: expected 3 tracks, got %d", len(tracks))
	}

	rated := RuleSet{Name: "Loved", Conditions: []RuleCondition{{Type: "rating", Operator: ">=", Value: 4.0}}}
	tracks, _ = evaluateRules(db, &rated, user, time.Now())
	if len(tracks) != 1 || tracks[0].ID != fast {
		t.Fatalf("rating rule: %+v", tracks)
	}
	other := createTestUser(t, "other", false)
	tracks, _ = evaluateRules(db, &rated, other, time.Now())
	if len(tracks) != 0 {
		t.Fatalf("ratings are per user, got %d tracks", len(tracks))
	}
}

func TestSmartPlaylistRefresh(t *testing.T) {
	setupTestDB(t)
	user := createTestUser(t, "owner", false)
	createTestTrack(t, testTrack{Title: "One", Artist: "A", Genre: "ambient"})

	sp, err := createSmartPlaylist(context.Background(), user, RuleSet{Name: "Ambient", Conditions: []RuleCondition{{Type: "genre", Value: "ambient"}}})
	if err != nil {
		t.Fatalf("createSmartPlaylist: %v", err)
	}
	if sp.TrackCount != 1 || sp.Description != "Smart playlist" {
		t.Fatalf("unexpected smart playlist %+v", sp)
	}

	createTestTrack(t, testTrack{Title: "Two", Artist: "B", Genre: "Ambient"})
	n, err := refreshSmartPlaylist(context.Background(), sp.ID)
	if err != nil || n != 2 {
		t.Fatalf("refresh = %d, %v", n, err)
	}
	loaded, err := loadSmartPlaylist(db, sp.ID)
	if err != nil || len(loaded.Tracks) != 2 || loaded.TrackCount != 2 {
		t.Fatalf("loaded = %+v, %v", loaded, err)
	}

	refreshed, err := refreshAllSmartPlaylists(context.Background())
	if err != nil || refreshed != 1 {
		t.Fatalf("refreshAllSmartPlaylists = %d, %v", refreshed, err)
	}
}

func TestLastPlayedRuleTreatsUnplayedAsStale(t *testing.T) {
	setupTestDB(t)
	user := createTestUser(t, "digger", false)
	now := time.Now().UTC()
	fresh := createTestTrack(t, testTrack{Title: "Fresh", Artist: "A"})
	old := createTestTrack(t, testTrack{Title: "Old", Artist: "B"})
	never := createTestTrack(t, testTrack{Title: "Never", Artist: "C"})
	db.Exec(`INSERT INTO listening_history (user_id, track_id, played_at) VALUES (?, ?, ?)`, user, fresh, now.Add(-24*time.Hour).Format(time.RFC3339))
	db.Exec(`INSERT INTO listening_history (user_id, track_id, played_at) VALUES (?, ?, ?)`, user, old, now.AddDate(0, 0, -90).Format(time.RFC3339))

	ids := func(rs RuleSet) map[int]bool {
		t.Helper()
		tracks, err := evaluateRules(db, &rs, user, now)
		if err != nil {
			t.Fatalf("evaluateRules: %v", err)
		}
		out := map[int]bool{}
		for _, tr := range tracks {
			out[tr.ID] = true
		}
		return out
	}

	stale := ids(RuleSet{Name: "Forgotten", Conditions: []RuleCondition{{Type: "last_played", Operator: ">", Value: 30.0}}})
	if len(stale) != 2 || !stale[old] || !stale[never] {
		t.Fatalf("not played in 30 days = %v", stale)
	}
	recent := ids(RuleSet{Name: "Rotation", Conditions: []RuleCondition{{Type: "last_played", Operator: "<=", Value: 7.0}}})
	if len(recent) != 1 || !recent[fresh] {
		t.Fatalf("played in the last week = %v", recent)
	}
}

func TestDaysRuleBounds(t *testing.T) {
	now := time.Now()
	for _, v := range []float64{-1, maxRuleDays + 1, 1e300} {
		if _, _, err := compileCondition(RuleCondition{Type: "added", Operator: "<=", Value: v}, 1, now); err == nil {
			t.Errorf("days value %v should be rejected", v)
		}
	}
	if _, _, err := compileCondition(RuleCondition{Type: "added", Operator: "<=", Value: float64(maxRuleDays)}, 1, now); err != nil {
		t.Fatalf("a century should be accepted: %v", err)
	}
}
