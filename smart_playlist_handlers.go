package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// createSmartPlaylist validates rules, snapshots the matching tracks and stores both.
func createSmartPlaylist(ctx context.Context, userID int, rules RuleSet) (*SmartPlaylist, error) {
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(rules.Description) == "" {
		rules.Description = "Smart playlist"
	}
	now := time.Now()
	sp := &SmartPlaylist{
		ID:          newSmartPlaylistID(),
		UserID:      userID,
		Name:        rules.Name,
		Description: rules.Description,
		Rules:       rules,
		IsActive:    true,
		CreatedAt:   now.UTC().Format(time.RFC3339),
	}
	sp.LastUpdated = sp.CreatedAt

	err := withTx(ctx, func(tx *sql.Tx) error {
		tracks, err := evaluateRules(tx, &sp.Rules, userID, now)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`INSERT INTO smart_playlists (id, user_id, name, description, rules, is_active, track_count, created_at, last_updated)
			VALUES (?, ?, ?, ?, ?, 1, ?, ?, ?)`,
			sp.ID, userID, sp.Name, sp.Description, encodeJSON(sp.Rules), len(tracks), sp.CreatedAt, sp.LastUpdated); err != nil {
			return err
		}
		if err := writeSmartPlaylistTracks(tx, sp.ID, tracks); err != nil {
			return err
		}
		sp.Tracks = tracks
		sp.TrackCount = len(tracks)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sp, nil
}

func writeSmartPlaylistTracks(tx *sql.Tx, id string, tracks []Track) error {
	if _, err := tx.Exec(`DELETE FROM smart_playlist_tracks WHERE smart_playlist_id = ?`, id); err != nil {
		return err
	}
	for i, t := range tracks {
		if _, err := tx.Exec(`INSERT INTO smart_playlist_tracks (smart_playlist_id, track_id, position) VALUES (?, ?, ?)`,
			id, t.ID, i+1); err != nil {
			return err
		}
	}
	return nil
}

const smartPlaylistSelect = `SELECT id, user_id, name, description, rules, is_active, track_count, created_at, last_updated FROM smart_playlists`

func scanSmartPlaylist(row rowScanner) (*SmartPlaylist, error) {
	var sp SmartPlaylist
	var rules string
	if err := row.Scan(&sp.ID, &sp.UserID, &sp.Name, &sp.Description, &rules, &sp.IsActive, &sp.TrackCount, &sp.CreatedAt, &sp.LastUpdated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(rules), &sp.Rules); err != nil {
		logger.WithError(err).WithField("smart_playlist", sp.ID).Warn("stored rules are not valid JSON")
	}
	return &sp, nil
}

// loadSmartPlaylist returns a smart playlist with its stored tracks in position order.
func loadSmartPlaylist(q dbtx, id string) (*SmartPlaylist, error) {
	if !validSmartPlaylistID(id) {
		return nil, invalidf("Invalid smart playlist id")
	}
	sp, err := scanSmartPlaylist(q.QueryRow(smartPlaylistSelect+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundf("Smart playlist not found")
	}
	if err != nil {
		return nil, err
	}
	rows, err := q.Query(`SELECT `+trackColumns+trackFrom+`
		JOIN smart_playlist_tracks sp ON sp.track_id = t.id
		WHERE sp.smart_playlist_id = ? ORDER BY sp.position`, id)
	if err != nil {
		return nil, err
	}
	if sp.Tracks, err = collectTracks(rows); err != nil {
		return nil, err
	}
	return sp, nil
}

// refreshSmartPlaylist re-evaluates the stored rules and replaces the snapshot.
func refreshSmartPlaylist(ctx context.Context, id string) (int, error) {
	var count int
	err := withTx(ctx, func(tx *sql.Tx) error {
		sp, err := scanSmartPlaylist(tx.QueryRow(smartPlaylistSelect+` WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return notFoundf("Smart playlist not found")
		}
		if err != nil {
			return err
		}
		tracks, err := evaluateRules(tx, &sp.Rules, sp.UserID, time.Now())
		if err != nil {
			return err
		}
		if err := writeSmartPlaylistTracks(tx, id, tracks); err != nil {
			return err
		}
		count = len(tracks)
		_, err = tx.Exec(`UPDATE smart_playlists SET track_count = ?, last_updated = ? WHERE id = ?`, count, nowRFC3339(), id)
		return err
	})
	return count, err
}

// refreshAllSmartPlaylists is run by the scheduler; one broken rule set does not stop the rest.
func refreshAllSmartPlaylists(ctx context.Context) (refreshed int, err error) {
	rows, err := db.QueryContext(ctx, `SELECT id FROM smart_playlists WHERE is_active = 1`)
	if err != nil {
		return 0, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			return refreshed, ctx.Err()
		}
		n, err := refreshSmartPlaylist(ctx, id)
		if err != nil {
			logger.WithError(err).WithField("smart_playlist", id).Warn("smart playlist refresh failed")
			continue
		}
		logger.WithFields(logrus.Fields{"smart_playlist": id, "tracks": n}).Debug("smart playlist refreshed")
		refreshed++
	}
	return refreshed, nil
}

// loadOwnedSmartPlaylist enforces owner-or-admin access.
func loadOwnedSmartPlaylist(c *gin.Context, id string) (*SmartPlaylist, error) {
	sp, err := loadSmartPlaylist(db, id)
	if err != nil {
		return nil, err
	}
	if sp.UserID != c.GetInt("userID") && !c.GetBool("isAdmin") {
		return nil, forbiddenf("You do not have access to this smart playlist")
	}
	return sp, nil
}

func postSmartPlaylist(c *gin.Context) {
	var req struct {
		Name        string  `json:"name"`
		Description string  `json:"description"`
		Criteria    RuleSet `json:"criteria"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, invalidf("Invalid smart playlist definition"))
		return
	}
	rules := req.Criteria
	if strings.TrimSpace(req.Name) != "" {
		rules.Name = req.Name
	}
	if req.Description != "" {
		rules.Description = req.Description
	}
	sp, err := createSmartPlaylist(c.Request.Context(), c.GetInt("userID"), rules)
	if err != nil {
		respondError(c, err)
		return
	}
	respondWith(c, http.StatusCreated, gin.H{"message": "Smart playlist created", "data": sp})
}

func getSmartPlaylists(c *gin.Context) {
	if id := c.Query("playlist_id"); id != "" {
		sp, err := loadOwnedSmartPlaylist(c, id)
		if err != nil {
			respondError(c, err)
			return
		}
		respondOK(c, sp)
		return
	}

	userID := c.GetInt("userID")
	if raw := c.Query("user_id"); raw != "" {
		requested, err := strconv.Atoi(raw)
		if err != nil || requested <= 0 {
			respondError(c, invalidf("Invalid user_id"))
			return
		}
		if requested != userID && !c.GetBool("isAdmin") {
			respondError(c, forbiddenf("You can only list your own smart playlists"))
			return
		}
		userID = requested
	}

	rows, err := db.Query(smartPlaylistSelect+` WHERE user_id = ? ORDER BY last_updated DESC, id`, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	defer rows.Close()
	list := []*SmartPlaylist{}
	for rows.Next() {
		sp, err := scanSmartPlaylist(rows)
		if err != nil {
			respondError(c, err)
			return
		}
		list = append(list, sp)
	}
	respondOK(c, list)
}

func refreshSmartPlaylistHandler(c *gin.Context) {
	id := c.Param("id")
	if _, err := loadOwnedSmartPlaylist(c, id); err != nil {
		respondError(c, err)
		return
	}
	count, err := refreshSmartPlaylist(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondWith(c, http.StatusOK, gin.H{"message": "Smart playlist refreshed", "track_count": count})
}

func deleteSmartPlaylist(c *gin.Context) {
	id := c.Param("id")
	if _, err := loadOwnedSmartPlaylist(c, id); err != nil {
		respondError(c, err)
		return
	}
	if _, err := db.Exec(`DELETE FROM smart_playlists WHERE id = ?`, id); err != nil {
		respondError(c, err)
		return
	}
	respondWith(c, http.StatusOK, gin.H{"message": "Smart playlist deleted"})
}
