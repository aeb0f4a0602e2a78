// admin_handlers.go
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

var errScanCancelled = errors.New("scan cancelled by user")

// beginScan flips scan_status to scanning; it fails with a conflict when a scan is already running.
func beginScan() error {
	isScanCancelled.Store(false)
	res, err := db.Exec(`UPDATE scan_status SET is_scanning = 1, tracks_added = 0, last_update_time = ?
		WHERE id = 1 AND is_scanning = 0`, nowRFC3339())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return conflictf("A library scan is already in progress")
	}
	return nil
}

func finishScan(added int) {
	if _, err := db.Exec(`UPDATE scan_status SET is_scanning = 0, tracks_added = ?, last_update_time = ? WHERE id = 1`,
		added, nowRFC3339()); err != nil {
		logger.WithError(err).Error("Failed to update scan status")
	}
}

func loadScanStatus() (ScanStatus, error) {
	var s ScanStatus
	var updated sql.NullString
	err := db.QueryRow(`SELECT is_scanning, tracks_added, last_update_time FROM scan_status WHERE id = 1`).
		Scan(&s.IsScanning, &s.TracksAdded, &updated)
	s.LastUpdateTime = updated.String
	return s, err
}

// importFile reads the tags of one audio file and inserts it; it reports whether a new track was added.
func importFile(ctx context.Context, path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	meta, err := tag.ReadFrom(f)
	if err != nil {
		return false, fmt.Errorf("read tags: %w", err)
	}

	title := strings.TrimSpace(meta.Title())
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	artist := meta.Artist()
	if strings.TrimSpace(meta.AlbumArtist()) != "" {
		artist = meta.AlbumArtist()
	}
	trackNo, _ := meta.Track()
	duration, err := audioDuration(path)
	if err != nil {
		logger.WithError(err).WithField("file", path).Debug("Could not read duration")
	}

	added := false
	err = withTx(ctx, func(tx *sql.Tx) error {
		artistID, err := findOrCreateArtist(tx, artist)
		if err != nil {
			return err
		}
		albumID, err := findOrCreateAlbum(tx, meta.Album(), artistID, meta.Year())
		if err != nil {
			return err
		}
		now := nowRFC3339()
		res, err := tx.Exec(`INSERT OR IGNORE INTO tracks (title, artist_id, album_id, track_number, genre, year, duration, path, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			title, artistID, nullIfZero(albumID), trackNo, strings.TrimSpace(meta.Genre()), meta.Year(), duration, path, now, now)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		added = n > 0
		if !added || albumID == 0 || meta.Picture() == nil {
			return nil
		}
		var cover string
		if err := tx.QueryRow(`SELECT cover_path FROM albums WHERE id = ?`, albumID).Scan(&cover); err != nil {
			return err
		}
		if cover == "" {
			if err := saveAlbumCover(tx, albumID, meta.Picture().Data); err != nil {
				// artwork is optional; keep the track
				logger.WithError(err).WithField("path", path).Warn("Could not store embedded artwork")
			}
		}
		return nil
	})
	return added, err
}

// scanLibraryPath walks root and imports every supported file. Unreadable files are logged and skipped.
func scanLibraryPath(ctx context.Context, root string, added *int) error {
	log := logger.WithField("path", root)
	log.Info("Library scan started")

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if isScanCancelled.Load() {
			return errScanCancelled
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			log.WithError(err).WithField("file", path).Warn("Error accessing path")
			return nil
		}
		if d.IsDir() || !appConfig.IsFormatSupported(filepath.Ext(path)) {
			return nil
		}
		ok, err := importFile(ctx, path)
		if err != nil {
			log.WithError(err).WithField("file", path).Warn("Skipping file")
			return nil
		}
		if ok {
			*added++
			// periodic progress for the status endpoint
			if *added%20 == 0 {
				db.Exec(`UPDATE scan_status SET tracks_added = ?, last_update_time = ? WHERE id = 1`, *added, nowRFC3339())
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if _, err := db.Exec(`UPDATE library_paths SET last_scan_ended = ?,
			track_count = (SELECT COUNT(*) FROM tracks WHERE path LIKE ? || '%')
		WHERE path = ?`, nowRFC3339(), root, root); err != nil {
		log.WithError(err).Warn("Failed to update library path statistics")
	}
	return nil
}

// runScan scans one library path (pathID > 0) or all of them. The caller must have called beginScan.
func runScan(ctx context.Context, pathID int) {
	added := 0
	defer func() {
		if isScanCancelled.Load() {
			logger.WithField("tracks_added", added).Info("Library scan cancelled")
			return
		}
		finishScan(added)
		logger.WithField("tracks_added", added).Info("Library scan finished")
	}()

	query := `SELECT path FROM library_paths ORDER BY path`
	args := []interface{}{}
	if pathID > 0 {
		query = `SELECT path FROM library_paths WHERE id = ?`
		args = append(args, pathID)
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		logger.WithError(err).Error("Could not list library paths")
		return
	}
	var roots []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err == nil {
			roots = append(roots, p)
		}
	}
	rows.Close()

	for _, root := range roots {
		if err := scanLibraryPath(ctx, root, &added); err != nil {
			if errors.Is(err, errScanCancelled) || errors.Is(err, context.Canceled) {
				return
			}
			logger.WithError(err).WithField("path", root).Error("Library scan failed")
		}
	}
}

// syncConfiguredLibraryPaths registers the paths listed in the config file.
func syncConfiguredLibraryPaths(paths []string) error {
	for _, p := range paths {
		p = filepath.Clean(strings.TrimSpace(p))
		if p == "." {
			continue
		}
		if _, err := db.Exec(`INSERT OR IGNORE INTO library_paths (path) VALUES (?)`, p); err != nil {
			return err
		}
	}
	return nil
}

func startAdminScan(c *gin.Context) {
	pathID := 0
	if c.Query("path_id") != "" {
		id, err := requiredQueryID(c, "path_id")
		if err != nil {
			respondError(c, err)
			return
		}
		ok, err := rowExists(db, `SELECT 1 FROM library_paths WHERE id = ?`, id)
		if err != nil {
			respondError(c, err)
			return
		}
		if !ok {
			respondError(c, notFoundf("Library path not found"))
			return
		}
		pathID = id
	}
	if err := beginScan(); err != nil {
		respondError(c, err)
		return
	}
	go runScan(context.Background(), pathID)

	logger.WithFields(logrus.Fields{"path_id": pathID, "user_id": c.GetInt("userID")}).Info("Library scan requested")
	respondWith(c, http.StatusAccepted, gin.H{"message": "Library scan started"})
}

func getScanStatus(c *gin.Context) {
	s, err := loadScanStatus()
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, s)
}

// cancelAdminScan signals a running scan to stop and clears the flag immediately,
// so a restart never leaves the status stuck on scanning.
func cancelAdminScan(c *gin.Context) {
	isScanCancelled.Store(true)
	if _, err := db.Exec(`UPDATE scan_status SET is_scanning = 0, last_update_time = ? WHERE id = 1`, nowRFC3339()); err != nil {
		respondError(c, err)
		return
	}
	logger.Info("Library scan cancellation requested")
	respondMessage(c, http.StatusOK, "Scan cancellation signal sent")
}

func listLibraryPaths(q dbtx) ([]LibraryPath, error) {
	rows, err := q.Query(`SELECT id, path, track_count, COALESCE(last_scan_ended, '') FROM library_paths ORDER BY path`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	paths := []LibraryPath{}
	for rows.Next() {
		var p LibraryPath
		if err := rows.Scan(&p.ID, &p.Path, &p.TrackCount, &p.LastScanEnded); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

func getLibraryPaths(c *gin.Context) {
	paths, err := listLibraryPaths(db)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, paths)
}

// validLibraryDir cleans p and checks that it names an existing directory.
func validLibraryDir(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", invalidf("A valid path is required")
	}
	p = filepath.Clean(p)
	info, err := os.Stat(p)
	if err != nil || !info.IsDir() {
		return "", invalidf("%s is not a readable directory", p)
	}
	return p, nil
}

func addLibraryPath(c *gin.Context) {
	var req struct {
		Path string `json:"path"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, invalidf("Invalid input"))
		return
	}
	p, err := validLibraryDir(req.Path)
	if err != nil {
		respondError(c, err)
		return
	}
	res, err := db.Exec(`INSERT OR IGNORE INTO library_paths (path) VALUES (?)`, p)
	if err != nil {
		respondError(c, err)
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		respondError(c, conflictf("This library path already exists"))
		return
	}
	id, _ := res.LastInsertId()
	refreshLibraryWatch()
	respondWith(c, http.StatusCreated, gin.H{"message": "Library path added", "id": id})
}

func updateLibraryPath(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	var req struct {
		Path string `json:"path"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, invalidf("Invalid input"))
		return
	}
	p, err := validLibraryDir(req.Path)
	if err != nil {
		respondError(c, err)
		return
	}
	res, err := db.Exec(`UPDATE library_paths SET path = ? WHERE id = ?`, p, id)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			respondError(c, conflictf("This library path already exists"))
			return
		}
		respondError(c, err)
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		respondError(c, notFoundf("Library path not found"))
		return
	}
	refreshLibraryWatch()
	respondMessage(c, http.StatusOK, "Library path updated")
}

func deleteLibraryPath(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	res, err := db.Exec(`DELETE FROM library_paths WHERE id = ?`, id)
	if err != nil {
		respondError(c, err)
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		respondError(c, notFoundf("Library path not found"))
		return
	}
	refreshLibraryWatch()
	respondMessage(c, http.StatusOK, "Library path deleted")
}

type FileItem struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// browseFiles lists the sub-directories of ?path= so admins can pick a library root.
func browseFiles(c *gin.Context) {
	path := c.DefaultQuery("path", "/")
	if path == "" {
		path = "/"
	}
	if len(path) == 2 && path[1] == ':' {
		path += "\\"
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		respondError(c, invalidf("Could not read directory: %v", err))
		return
	}
	items := []FileItem{}
	for _, entry := range entries {
		if entry.IsDir() {
			items = append(items, FileItem{Name: entry.Name(), Type: "dir"})
		}
	}
	respondOK(c, gin.H{"path": path, "items": items})
}
