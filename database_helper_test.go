package main

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"
)

// setupTestDB points the package db at a fresh migrated in-memory database.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	if err != nil {
		t.Fatalf("failed to open in-memory sqlite: %v", err)
	}
	// one connection keeps every query on the same in-memory database
	conn.SetMaxOpenConns(1)

	prevDB, prevCfg := db, appConfig
	db = conn
	cfg := DefaultConfig()
	cfg.Security.BcryptCost = bcrypt.MinCost
	cfg.Security.JWTSecret = "test-secret"
	cfg.Library.ArtworkDir = t.TempDir()
	appConfig = cfg
	t.Cleanup(func() {
		conn.Close()
		db, appConfig = prevDB, prevCfg
	})

	if err := migrateDB(); err != nil {
		t.Fatalf("migrateDB failed: %v", err)
	}
	return conn
}

func createTestUser(t *testing.T, username string, admin bool) int {
	t.Helper()
	hash, err := hashPassword("Secret123")
	if err != nil {
		t.Fatalf("hashPassword: %v", err)
	}
	now := nowRFC3339()
	res, err := db.Exec(`INSERT INTO users (username, email, password_hash, is_admin, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		username, username+"@example.com", hash, boolToInt(admin), now, now)
	if err != nil {
		t.Fatalf("insert user %s: %v", username, err)
	}
	id, _ := res.LastInsertId()
	if _, err := db.Exec(`INSERT INTO user_stats (user_id) VALUES (?)`, id); err != nil {
		t.Fatalf("insert user_stats: %v", err)
	}
	return int(id)
}

// testTrack describes a catalog row; zero values fall back to the column defaults.
type testTrack struct {
	Title    string
	Artist   string
	Album    string
	Genre    string
	Duration int
	Energy   float64
	Valence  float64
	Dance    float64
	Tempo    float64
	Key      string
	Mood     string
	Year     int
}

func createTestTrack(t *testing.T, tr testTrack) int {
	t.Helper()
	artistID, err := findOrCreateArtist(db, tr.Artist)
	if err != nil {
		t.Fatalf("findOrCreateArtist: %v", err)
	}
	albumID, err := findOrCreateAlbum(db, tr.Album, artistID, tr.Year)
	if err != nil {
		t.Fatalf("findOrCreateAlbum: %v", err)
	}
	now := nowRFC3339()
	res, err := db.Exec(`INSERT INTO tracks (title, artist_id, album_id, genre, year, duration, energy_level, valence, danceability, tempo, key_signature, mood, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tr.Title, artistID, nullIfZero(albumID), tr.Genre, tr.Year, tr.Duration, tr.Energy, tr.Valence, tr.Dance, tr.Tempo, tr.Key, tr.Mood, now, now)
	if err != nil {
		t.Fatalf("insert track %s: %v", tr.Title, err)
	}
	id, _ := res.LastInsertId()
	return int(id)
}

func authToken(t *testing.T, userID int) string {
	t.Helper()
	var username string
	var admin bool
	if err := db.QueryRow(`SELECT username, is_admin FROM users WHERE id = ?`, userID).Scan(&username, &admin); err != nil {
		t.Fatalf("load user %d: %v", userID, err)
	}
	_, token, err := issueSession(db, userID, username, admin, "127.0.0.1")
	if err != nil {
		t.Fatalf("issueSession: %v", err)
	}
	return token
}

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return setupRouter(appConfig)
}

// doJSON sends body as JSON and decodes the response envelope.
func doJSON(t *testing.T, r http.Handler, method, path, token string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	out := map[string]interface{}{}
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("%s %s: response is not JSON: %s", method, path, w.Body.String())
		}
	}
	return w, out
}

func dataField(t *testing.T, resp map[string]interface{}) map[string]interface{} {
	t.Helper()
	data, ok := resp["data"].(map[string]interface{})
	if !ok {
		t.Fatalf("response has no data object: %v", resp)
	}
	return data
}

func TestMultiWordArtistSearchAND(t *testing.T) {
	setupTestDB(t)

	for _, name := range []string{"The Beatles", "Beatles", "The Rolling Stones"} {
		if _, err := findOrCreateArtist(db, name); err != nil {
			t.Fatalf("findOrCreateArtist(%q): %v", name, err)
		}
	}

	// both words must match, so "Beatles" alone is excluded
	artists, err := QueryArtists(db, ArtistQueryOptions{SearchTerm: "The Beatles"})
	if err != nil {
		t.Fatalf("QueryArtists failed: %v", err)
	}
	if len(artists) != 1 || artists[0].Name != "The Beatles" {
		t.Fatalf("expected only 'The Beatles' match for 'The Beatles', got: %v", artists)
	}
}

func TestFindOrCreateArtistNormalizesUnknown(t *testing.T) {
	setupTestDB(t)

	a, err := findOrCreateArtist(db, "  ")
	if err != nil {
		t.Fatal(err)
	}
	b, err := findOrCreateArtist(db, "unknown")
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatalf("blank and 'unknown' should resolve to the same artist, got %d and %d", a, b)
	}
	c, _ := findOrCreateArtist(db, "massive attack")
	d, _ := findOrCreateArtist(db, "Massive Attack")
	if c != d {
		t.Fatalf("artist lookup should be case-insensitive, got %d and %d", c, d)
	}
}

func TestFindOrCreateAlbum(t *testing.T) {
	setupTestDB(t)
	artistID, _ := findOrCreateArtist(db, "Portishead")

	id, err := findOrCreateAlbum(db, "", artistID, 0)
	if err != nil || id != 0 {
		t.Fatalf("empty title should mean no album, got id=%d err=%v", id, err)
	}
	first, err := findOrCreateAlbum(db, "Dummy", artistID, 1994)
	if err != nil {
		t.Fatal(err)
	}
	again, _ := findOrCreateAlbum(db, " Dummy ", artistID, 1994)
	if first == 0 || first != again {
		t.Fatalf("expected the same album id, got %d and %d", first, again)
	}
}

func TestQueryTracksFiltersAndCounts(t *testing.T) {
	setupTestDB(t)
	createTestTrack(t, testTrack{Title: "Glory Box", Artist: "Portishead", Album: "Dummy", Genre: "trip-hop"})
	createTestTrack(t, testTrack{Title: "Roads", Artist: "Portishead", Album: "Dummy", Genre: "trip-hop"})
	createTestTrack(t, testTrack{Title: "Teardrop", Artist: "Massive Attack", Genre: "electronic"})

	tracks, err := QueryTracks(db, TrackQueryOptions{Genre: "trip-hop", Sort: "title"})
	if err != nil {
		t.Fatalf("QueryTracks: %v", err)
	}
	if len(tracks) != 2 || tracks[0].Title != "Glory Box" {
		t.Fatalf("unexpected tracks: %+v", tracks)
	}
	n, err := CountTracks(db, TrackQueryOptions{Genre: "trip-hop"})
	if err != nil || n != 2 {
		t.Fatalf("CountTracks = %d, %v; want 2", n, err)
	}

	if _, err := QueryTracks(db, TrackQueryOptions{Sort: "password_hash"}); err == nil {
		t.Fatal("expected an error for an unsupported sort field")
	}
}

func TestGetTrackNotFound(t *testing.T) {
	setupTestDB(t)
	_, err := getTrack(db, 42)
	if status, _ := statusFor(err); status != http.StatusNotFound {
		t.Fatalf("expected 404 for a missing track, got %d (%v)", status, err)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	setupTestDB(t)
	if err := SetConfig("theme", "dark"); err != nil {
		t.Fatal(err)
	}
	if err := SetConfig("theme", "light"); err != nil {
		t.Fatal(err)
	}
	v, err := GetConfig("theme")
	if err != nil || v != "light" {
		t.Fatalf("GetConfig = %q, %v", v, err)
	}
}
