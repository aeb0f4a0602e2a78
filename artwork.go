package main

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"net/http"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
)

const (
	storedCoverSize = 600
	minCoverSize    = 32
	maxCoverSize    = 1024
)

func albumCoverURL(albumID int) string {
	return fmt.Sprintf("/api/albums/%d/cover", albumID)
}

// saveAlbumCover decodes embedded artwork and stores a bounded JPEG copy for the album.
func saveAlbumCover(q dbtx, albumID int, data []byte) error {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("decode artwork: %w", err)
	}
	if err := os.MkdirAll(appConfig.Library.ArtworkDir, 0755); err != nil {
		return err
	}
	path := filepath.Join(appConfig.Library.ArtworkDir, fmt.Sprintf("album_%d.jpg", albumID))
	thumb := imaging.Fit(img, storedCoverSize, storedCoverSize, imaging.Lanczos)
	if err := imaging.Save(thumb, path, imaging.JPEGQuality(85)); err != nil {
		return fmt.Errorf("save artwork: %w", err)
	}
	_, err = q.Exec(`UPDATE albums SET cover_path = ?, cover_art_url = ? WHERE id = ?`, path, albumCoverURL(albumID), albumID)
	return err
}

// getAlbumCover serves an album's stored cover, resized when ?size= is given.
func getAlbumCover(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	var path string
	if err := db.QueryRow(`SELECT cover_path FROM albums WHERE id = ?`, id).Scan(&path); err != nil {
		respondError(c, err)
		return
	}
	if path == "" {
		respondError(c, notFoundf("Album has no cover art"))
		return
	}
	if _, err := os.Stat(path); err != nil {
		respondError(c, notFoundf("Cover art file is missing"))
		return
	}

	size := queryInt(c, "size", 0)
	if size <= 0 {
		c.File(path)
		return
	}
	size = clampInt(size, minCoverSize, maxCoverSize)

	img, err := imaging.Open(path)
	if err != nil {
		respondError(c, fmt.Errorf("open cover: %w", err))
		return
	}
	resized := imaging.Fit(img, size, size, imaging.Lanczos)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 85}); err != nil {
		respondError(c, fmt.Errorf("encode cover: %w", err))
		return
	}
	c.Header("Cache-Control", "public, max-age=86400")
	c.Data(http.StatusOK, "image/jpeg", buf.Bytes())
}
