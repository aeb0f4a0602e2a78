package main

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/disintegration/imaging"
)

func fetchCover(t *testing.T, r http.Handler, token, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func coverSize(t *testing.T, w *httptest.ResponseRecorder) (int, int) {
	t.Helper()
	cfg, _, err := image.DecodeConfig(bytes.NewReader(w.Body.Bytes()))
	if err != nil {
		t.Fatalf("response is not an image: %v", err)
	}
	return cfg.Width, cfg.Height
}

func TestAlbumCoverResize(t *testing.T) {
	setupTestDB(t)
	r := newTestRouter()
	token := authToken(t, createTestUser(t, "viewer", false))
	track := createTestTrack(t, testTrack{Title: "Front", Artist: "Painter", Album: "Canvas"})
	bare := createTestTrack(t, testTrack{Title: "Plain", Artist: "Painter", Album: "Blank"})

	var albumID, bareAlbum int
	db.QueryRow(`SELECT album_id FROM tracks WHERE id = ?`, track).Scan(&albumID)
	db.QueryRow(`SELECT album_id FROM tracks WHERE id = ?`, bare).Scan(&bareAlbum)

	var src bytes.Buffer
	if err := imaging.Encode(&src, imaging.New(800, 400, color.NRGBA{R: 200, A: 255}), imaging.PNG); err != nil {
		t.Fatalf("encode source image: %v", err)
	}
	if err := saveAlbumCover(db, albumID, src.Bytes()); err != nil {
		t.Fatalf("saveAlbumCover: %v", err)
	}
	var url string
	db.QueryRow(`SELECT cover_art_url FROM albums WHERE id = ?`, albumID).Scan(&url)
	if url != albumCoverURL(albumID) {
		t.Fatalf("cover_art_url = %q", url)
	}
	if err := saveAlbumCover(db, albumID, []byte("not an image")); err == nil {
		t.Fatal("expected an error for undecodable artwork")
	}

	cases := []struct {
		query      string
		w, h       int
		resizedJPG bool
	}{
		{"", 600, 300, false},
		{"?size=100", 100, 50, true},
		{"?size=5", 32, 16, true},
		{"?size=5000", 600, 300, true},
	}
	for _, tc := range cases {
		w := fetchCover(t, r, token, albumCoverURL(albumID)+tc.query)
		if w.Code != http.StatusOK {
			t.Fatalf("cover%s: %d %s", tc.query, w.Code, w.Body.String())
		}
		if gotW, gotH := coverSize(t, w); gotW != tc.w || gotH != tc.h {
			t.Errorf("cover%s = %dx%d, want %dx%d", tc.query, gotW, gotH, tc.w, tc.h)
		}
		if tc.resizedJPG && w.Header().Get("Content-Type") != "image/jpeg" {
			t.Errorf("cover%s content type = %q", tc.query, w.Header().Get("Content-Type"))
		}
	}

	if w := fetchCover(t, r, token, albumCoverURL(bareAlbum)); w.Code != http.StatusNotFound {
		t.Fatalf("album without cover: %d", w.Code)
	}
	if w := fetchCover(t, r, token, fmt.Sprintf("/api/albums/%d/cover", 9999)); w.Code != http.StatusNotFound {
		t.Fatalf("unknown album: %d", w.Code)
	}
}
