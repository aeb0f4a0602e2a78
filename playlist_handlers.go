package main

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// --- Playlist Handlers (JSON API) ---

type createPlaylistRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Visibility  string          `json:"visibility"`
	CoverImage  string          `json:"cover_image"`
	Tags        []string        `json:"tags"`
	Settings    json.RawMessage `json:"settings"`
	Tracks      []int           `json:"tracks"`
}

func normalizeTags(tags []string) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, t := range tags {
		t = sanitizeText(strings.TrimSpace(t))
		key := normalizeKey(t)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	return out
}

// mergeSettings applies a partial JSON settings object over base.
func mergeSettings(base PlaylistSettings, patch json.RawMessage) (PlaylistSettings, error) {
	if len(patch) == 0 || string(patch) == "null" {
		return base, nil
	}
	if err := json.Unmarshal(patch, &base); err != nil {
		return base, invalidf("Invalid playlist settings")
	}
	return base, nil
}

func createPlaylist(c *gin.Context) {
	var req createPlaylistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondMessage(c, http.StatusBadRequest, "Invalid input")
		return
	}
	name, err := validatePlaylistName(req.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	if req.Visibility == "" {
		req.Visibility = "private"
	}
	if !playlistVisibilities[req.Visibility] {
		respondError(c, invalidf("Visibility must be private, public or collaborative"))
		return
	}
	settings, err := mergeSettings(defaultPlaylistSettings(), req.Settings)
	if err != nil {
		respondError(c, err)
		return
	}

	userID := c.GetInt("userID")
	var playlistID int
	err = withTx(c.Request.Context(), func(tx *sql.Tx) error {
		var err error
		playlistID, err = insertPlaylist(tx, Playlist{
			UserID:      userID,
			Name:        name,
			Description: sanitizeText(req.Description),
			Visibility:  req.Visibility,
			CoverImage:  req.CoverImage,
			Tags:        normalizeTags(req.Tags),
			Settings:    settings,
		})
		if err != nil {
			return err
		}
		if len(req.Tracks) > 0 {
			_, err = appendPlaylistTracks(tx, playlistID, req.Tracks, userID)
		}
		return err
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondWith(c, http.StatusCreated, gin.H{"message": "Playlist created", "playlist_id": playlistID})
}

func getPlaylists(c *gin.Context) {
	userID := c.GetInt("userID")

	// Another user's profile only shows their non-private playlists.
	if other := queryInt(c, "user_id", 0); other > 0 && other != userID {
		rows, err := db.Query(playlistSelect+` WHERE p.user_id = ? AND p.visibility != 'private' ORDER BY p.updated_at DESC`, other)
		if err != nil {
			respondError(c, err)
			return
		}
		playlists, err := collectPlaylists(rows)
		if err != nil {
			respondError(c, err)
			return
		}
		respondOK(c, playlists)
		return
	}

	rows, err := db.Query(playlistSelect+`
		WHERE p.user_id = ? OR p.id IN (SELECT playlist_id FROM playlist_collaborators WHERE user_id = ?)
		ORDER BY p.updated_at DESC`, userID, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	playlists, err := collectPlaylists(rows)
	if err != nil {
		respondError(c, err)
		return
	}
	for i := range playlists {
		playlists[i].Role = "collaborator"
		if playlists[i].UserID == userID {
			playlists[i].Role = "owner"
		}
	}
	respondOK(c, playlists)
}

func collectPlaylists(rows *sql.Rows) ([]Playlist, error) {
	defer rows.Close()
	playlists := []Playlist{}
	for rows.Next() {
		p, err := scanPlaylist(rows)
		if err != nil {
			return nil, err
		}
		playlists = append(playlists, p)
	}
	return playlists, rows.Err()
}

func getPlaylist(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	access, err := loadPlaylistAccess(db, id, c.GetInt("userID"))
	if err != nil {
		respondError(c, err)
		return
	}
	if err := access.requireRead(); err != nil {
		respondError(c, err)
		return
	}
	p, err := loadPlaylist(db, id)
	if err != nil {
		respondError(c, err)
		return
	}
	switch {
	case access.isOwner():
		p.Role = "owner"
	case access.IsCollaborator:
		p.Role = "collaborator"
	default:
		p.Role = "viewer"
	}
	respondOK(c, p)
}

func updatePlaylist(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	var req struct {
		Name        *string         `json:"name"`
		Description *string         `json:"description"`
		Visibility  *string         `json:"visibility"`
		CoverImage  *string         `json:"cover_image"`
		Tags        []string        `json:"tags"`
		Settings    json.RawMessage `json:"settings"`
		Tracks      *[]int          `json:"tracks"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondMessage(c, http.StatusBadRequest, "Invalid input")
		return
	}

	userID := c.GetInt("userID")
	err = withTx(c.Request.Context(), func(tx *sql.Tx) error {
		access, err := loadPlaylistAccess(tx, id, userID)
		if err != nil {
			return err
		}
		if err := access.requireModify(); err != nil {
			return err
		}

		var sets []string
		var args []interface{}
		if req.Name != nil {
			if err := access.requireOwner(); err != nil {
				return err
			}
			name, err := validatePlaylistName(*req.Name)
			if err != nil {
				return err
			}
			if err := ensureUniquePlaylistName(tx, access.OwnerID, name, id); err != nil {
				return err
			}
			sets = append(sets, "name = ?")
			args = append(args, name)
		}
		if req.Description != nil {
			sets = append(sets, "description = ?")
			args = append(args, sanitizeText(*req.Description))
		}
		if req.Visibility != nil {
			if err := access.requireOwner(); err != nil {
				return err
			}
			if !playlistVisibilities[*req.Visibility] {
				return invalidf("Visibility must be private, public or collaborative")
			}
			sets = append(sets, "visibility = ?")
			args = append(args, *req.Visibility)
		}
		if req.CoverImage != nil {
			sets = append(sets, "cover_image = ?")
			args = append(args, *req.CoverImage)
		}
		if req.Tags != nil {
			sets = append(sets, "tags = ?")
			args = append(args, encodeJSON(normalizeTags(req.Tags)))
		}
		if len(req.Settings) > 0 {
			if err := access.requireOwner(); err != nil {
				return err
			}
			merged, err := mergeSettings(access.Settings, req.Settings)
			if err != nil {
				return err
			}
			sets = append(sets, "settings = ?")
			args = append(args, encodeJSON(merged))
		}
		if len(sets) == 0 && req.Tracks == nil {
			return invalidf("Nothing to update")
		}

		if len(sets) > 0 {
			sets = append(sets, "updated_at = ?")
			args = append(args, nowRFC3339(), id)
			if _, err := tx.Exec("UPDATE playlists SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...); err != nil {
				return err
			}
		}
		if req.Tracks != nil {
			return replacePlaylistTracks(tx, id, *req.Tracks, userID)
		}
		return nil
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondWith(c, http.StatusOK, gin.H{"message": "Playlist updated"})
}

func renamePlaylist(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	var req struct {
		NewName string `json:"new_name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondMessage(c, http.StatusBadRequest, "Invalid input")
		return
	}
	name, err := validatePlaylistName(req.NewName)
	if err != nil {
		respondError(c, err)
		return
	}

	access, err := loadPlaylistAccess(db, id, c.GetInt("userID"))
	if err != nil {
		respondError(c, err)
		return
	}
	if err := access.requireOwner(); err != nil {
		respondError(c, err)
		return
	}
	if err := ensureUniquePlaylistName(db, access.OwnerID, name, id); err != nil {
		respondError(c, err)
		return
	}
	if _, err := db.Exec(`UPDATE playlists SET name = ?, updated_at = ? WHERE id = ?`, name, nowRFC3339(), id); err != nil {
		respondError(c, err)
		return
	}
	respondWith(c, http.StatusOK, gin.H{"message": "Playlist renamed", "name": name})
}

func deletePlaylist(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	access, err := loadPlaylistAccess(db, id, c.GetInt("userID"))
	if err != nil {
		respondError(c, err)
		return
	}
	if err := access.requireOwner(); err != nil {
		respondError(c, err)
		return
	}
	if _, err := db.Exec(`DELETE FROM playlists WHERE id = ?`, id); err != nil {
		respondError(c, err)
		return
	}
	respondWith(c, http.StatusOK, gin.H{"message": "Playlist deleted"})
}

// modifyPlaylistTracks runs fn in a transaction after checking modify rights.
func modifyPlaylistTracks(c *gin.Context, fn func(tx *sql.Tx, playlistID, userID int) (gin.H, error)) {
	id, err := pathID(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	userID := c.GetInt("userID")
	var result gin.H
	err = withTx(c.Request.Context(), func(tx *sql.Tx) error {
		access, err := loadPlaylistAccess(tx, id, userID)
		if err != nil {
			return err
		}
		if err := access.requireModify(); err != nil {
			return err
		}
		result, err = fn(tx, id, userID)
		return err
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondWith(c, http.StatusOK, result)
}

func addPlaylistTracks(c *gin.Context) {
	var req struct {
		Tracks []int `json:"tracks"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Tracks) == 0 {
		respondError(c, invalidf("No tracks specified"))
		return
	}
	modifyPlaylistTracks(c, func(tx *sql.Tx, playlistID, userID int) (gin.H, error) {
		added, err := appendPlaylistTracks(tx, playlistID, req.Tracks, userID)
		return gin.H{"message": "Tracks added", "added": added}, err
	})
}

func removePlaylistTracksHandler(c *gin.Context) {
	var req struct {
		Tracks []int `json:"tracks"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, invalidf("No tracks specified"))
		return
	}
	modifyPlaylistTracks(c, func(tx *sql.Tx, playlistID, _ int) (gin.H, error) {
		removed, err := removePlaylistTracks(tx, playlistID, req.Tracks)
		return gin.H{"message": "Tracks removed", "removed": removed}, err
	})
}

func reorderPlaylist(c *gin.Context) {
	var req struct {
		TrackOrder []int `json:"track_order"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, invalidf("Invalid track order"))
		return
	}
	modifyPlaylistTracks(c, func(tx *sql.Tx, playlistID, _ int) (gin.H, error) {
		return gin.H{"message": "Playlist reordered"}, reorderPlaylistTracks(tx, playlistID, req.TrackOrder)
	})
}

func addPlaylistCollaborator(c *gin.Context) {
	changeCollaborator(c, true)
}

func removePlaylistCollaborator(c *gin.Context) {
	changeCollaborator(c, false)
}

func changeCollaborator(c *gin.Context, add bool) {
	id, err := pathID(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	var req struct {
		UserID int `json:"user_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID <= 0 {
		respondError(c, invalidf("user_id is required"))
		return
	}
	access, err := loadPlaylistAccess(db, id, c.GetInt("userID"))
	if err != nil {
		respondError(c, err)
		return
	}
	if err := access.requireOwner(); err != nil {
		respondError(c, err)
		return
	}

	if !add {
		if _, err := db.Exec(`DELETE FROM playlist_collaborators WHERE playlist_id = ? AND user_id = ?`, id, req.UserID); err != nil {
			respondError(c, err)
			return
		}
		respondWith(c, http.StatusOK, gin.H{"message": "Collaborator removed"})
		return
	}

	if req.UserID == access.OwnerID {
		respondError(c, invalidf("The owner is already a member of this playlist"))
		return
	}
	exists, err := rowExists(db, `SELECT 1 FROM users WHERE id = ? AND account_status = 'active'`, req.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	if !exists {
		respondError(c, notFoundf("User not found"))
		return
	}
	if _, err := db.Exec(`INSERT OR IGNORE INTO playlist_collaborators (playlist_id, user_id, added_at) VALUES (?, ?, ?)`,
		id, req.UserID, nowRFC3339()); err != nil {
		respondError(c, err)
		return
	}
	if err := notify(db, req.UserID, "playlist_invite", gin.H{"playlist_id": id, "from_user_id": access.OwnerID}); err != nil {
		logger.WithError(err).Warn("failed to store playlist invite notification")
	}
	respondWith(c, http.StatusOK, gin.H{"message": "Collaborator added"})
}

func followPlaylist(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	userID := c.GetInt("userID")
	access, err := loadPlaylistAccess(db, id, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := access.requireRead(); err != nil {
		respondError(c, err)
		return
	}
	if access.isOwner() {
		respondError(c, invalidf("You cannot follow your own playlist"))
		return
	}
	if _, err := db.Exec(`INSERT OR IGNORE INTO playlist_followers (playlist_id, user_id, followed_at) VALUES (?, ?, ?)`,
		id, userID, nowRFC3339()); err != nil {
		respondError(c, err)
		return
	}
	respondWith(c, http.StatusOK, gin.H{"message": "Playlist followed"})
}

func unfollowPlaylist(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	if _, err := db.Exec(`DELETE FROM playlist_followers WHERE playlist_id = ? AND user_id = ?`, id, c.GetInt("userID")); err != nil {
		respondError(c, err)
		return
	}
	respondWith(c, http.StatusOK, gin.H{"message": "Playlist unfollowed"})
}
