package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"unicode/utf8"
)

const maxPlaylistNameLength = 200

var playlistVisibilities = map[string]bool{"private": true, "public": true, "collaborative": true}

func defaultPlaylistSettings() PlaylistSettings {
	return PlaylistSettings{AllowComments: true, AllowCollaborative: false, SortOrder: "custom"}
}

// decodePlaylistSettings overlays the stored JSON onto the defaults.
func decodePlaylistSettings(raw string) PlaylistSettings {
	s := defaultPlaylistSettings()
	if raw != "" {
		_ = json.Unmarshal([]byte(raw), &s)
	}
	return s
}

func validatePlaylistName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", invalidf("Playlist name is required")
	}
	if utf8.RuneCountInString(name) > maxPlaylistNameLength {
		return "", invalidf("Playlist name must be at most %d characters", maxPlaylistNameLength)
	}
	return name, nil
}

// ensureUniquePlaylistName rejects a name the owner already uses on another playlist.
func ensureUniquePlaylistName(q dbtx, ownerID int, name string, exceptID int) error {
	taken, err := rowExists(q, `SELECT 1 FROM playlists WHERE user_id = ? AND name = ? AND id != ?`, ownerID, name, exceptID)
	if err != nil {
		return err
	}
	if taken {
		return conflictf("A playlist with this name already exists")
	}
	return nil
}

// insertPlaylist creates an empty playlist after checking the owner's name is free.
func insertPlaylist(q dbtx, p Playlist) (int, error) {
	if err := ensureUniquePlaylistName(q, p.UserID, p.Name, 0); err != nil {
		return 0, err
	}
	if p.Tags == nil {
		p.Tags = []string{}
	}
	now := nowRFC3339()
	res, err := q.Exec(`INSERT INTO playlists (user_id, name, description, visibility, cover_image, tags, settings, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.UserID, p.Name, p.Description, p.Visibility, p.CoverImage, encodeJSON(p.Tags), encodeJSON(p.Settings), now, now)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	return int(id), err
}

// playlistAccess captures what a given user may do with a playlist.
type playlistAccess struct {
	ID             int
	OwnerID        int
	Visibility     string
	Settings       PlaylistSettings
	IsCollaborator bool
	userID         int
}

func loadPlaylistAccess(q dbtx, playlistID, userID int) (*playlistAccess, error) {
	a := &playlistAccess{ID: playlistID, userID: userID}
	var settings string
	err := q.QueryRow(`
		SELECT p.user_id, p.visibility, p.settings,
			EXISTS(SELECT 1 FROM playlist_collaborators pc WHERE pc.playlist_id = p.id AND pc.user_id = ?)
		FROM playlists p WHERE p.id = ?`, userID, playlistID).Scan(&a.OwnerID, &a.Visibility, &settings, &a.IsCollaborator)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundf("Playlist not found")
	}
	if err != nil {
		return nil, err
	}
	a.Settings = decodePlaylistSettings(settings)
	return a, nil
}

func (a *playlistAccess) isOwner() bool { return a.OwnerID == a.userID }

func (a *playlistAccess) canRead() bool {
	return a.isOwner() || a.IsCollaborator || a.Visibility != "private"
}

func (a *playlistAccess) canModify() bool {
	return a.isOwner() || a.IsCollaborator || a.Visibility == "collaborative"
}

func (a *playlistAccess) requireRead() error {
	if !a.canRead() {
		return forbiddenf("You do not have access to this playlist")
	}
	return nil
}

func (a *playlistAccess) requireModify() error {
	if !a.canModify() {
		return forbiddenf("You do not have permission to modify this playlist")
	}
	return nil
}

func (a *playlistAccess) requireOwner() error {
	if !a.isOwner() {
		return forbiddenf("Only the playlist owner can do this")
	}
	return nil
}

// checkTracksExist returns a validation error naming the first unknown id.
func checkTracksExist(q dbtx, ids []int) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := q.Query("SELECT id FROM tracks WHERE id IN ("+placeholders(len(ids))+")", args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	found := make(map[int]bool, len(ids))
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return err
		}
		found[id] = true
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, id := range ids {
		if !found[id] {
			return invalidf("Track %d does not exist", id)
		}
	}
	return nil
}

// appendPlaylistTracks adds tracks after the current last position; tracks already present are skipped.
func appendPlaylistTracks(q dbtx, playlistID int, trackIDs []int, addedBy int) (int, error) {
	trackIDs = uniqueInts(trackIDs)
	if err := checkTracksExist(q, trackIDs); err != nil {
		return 0, err
	}

	var next int
	if err := q.QueryRow(`SELECT COALESCE(MAX(position), -1) + 1 FROM playlist_tracks WHERE playlist_id = ?`, playlistID).Scan(&next); err != nil {
		return 0, err
	}

	added := 0
	now := nowRFC3339()
	for _, trackID := range trackIDs {
		res, err := q.Exec(`INSERT OR IGNORE INTO playlist_tracks (playlist_id, track_id, position, added_at, added_by) VALUES (?, ?, ?, ?, ?)`,
			playlistID, trackID, next, now, nullIfZero(addedBy))
		if err != nil {
			return added, err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			next++
			added++
		}
	}
	return added, touchPlaylist(q, playlistID)
}

// replacePlaylistTracks rewrites the whole track list at positions 0..n-1.
func replacePlaylistTracks(q dbtx, playlistID int, trackIDs []int, addedBy int) error {
	if _, err := q.Exec(`DELETE FROM playlist_tracks WHERE playlist_id = ?`, playlistID); err != nil {
		return err
	}
	_, err := appendPlaylistTracks(q, playlistID, trackIDs, addedBy)
	return err
}

// removePlaylistTracks deletes the given tracks and closes the gaps in positions.
func removePlaylistTracks(q dbtx, playlistID int, trackIDs []int) (int, error) {
	trackIDs = uniqueInts(trackIDs)
	if len(trackIDs) == 0 {
		return 0, invalidf("No tracks specified")
	}
	args := []interface{}{playlistID}
	for _, id := range trackIDs {
		args = append(args, id)
	}
	res, err := q.Exec("DELETE FROM playlist_tracks WHERE playlist_id = ? AND track_id IN ("+placeholders(len(trackIDs))+")", args...)
	if err != nil {
		return 0, err
	}
	removed, _ := res.RowsAffected()

	current, err := playlistTrackIDs(q, playlistID)
	if err != nil {
		return 0, err
	}
	if err := writePositions(q, playlistID, current); err != nil {
		return 0, err
	}
	return int(removed), touchPlaylist(q, playlistID)
}

// reorderPlaylistTracks applies a new order; it must be a permutation of the current tracks.
func reorderPlaylistTracks(q dbtx, playlistID int, order []int) error {
	current, err := playlistTrackIDs(q, playlistID)
	if err != nil {
		return err
	}
	if len(order) != len(current) {
		return invalidf("Track order must list every track in the playlist exactly once")
	}
	inPlaylist := make(map[int]bool, len(current))
	for _, id := range current {
		inPlaylist[id] = true
	}
	seen := make(map[int]bool, len(order))
	for _, id := range order {
		if !inPlaylist[id] || seen[id] {
			return invalidf("Track order must list every track in the playlist exactly once")
		}
		seen[id] = true
	}
	if err := writePositions(q, playlistID, order); err != nil {
		return err
	}
	return touchPlaylist(q, playlistID)
}

func playlistTrackIDs(q dbtx, playlistID int) ([]int, error) {
	rows, err := q.Query(`SELECT track_id FROM playlist_tracks WHERE playlist_id = ? ORDER BY position, added_at`, playlistID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func writePositions(q dbtx, playlistID int, ordered []int) error {
	for pos, trackID := range ordered {
		if _, err := q.Exec(`UPDATE playlist_tracks SET position = ? WHERE playlist_id = ? AND track_id = ?`, pos, playlistID, trackID); err != nil {
			return err
		}
	}
	return nil
}

// touchPlaylist refreshes the cached track count and updated_at.
func touchPlaylist(q dbtx, playlistID int) error {
	_, err := q.Exec(`UPDATE playlists SET track_count = (SELECT COUNT(*) FROM playlist_tracks WHERE playlist_id = ?), updated_at = ? WHERE id = ?`,
		playlistID, nowRFC3339(), playlistID)
	return err
}

const playlistSelect = `
	SELECT p.id, p.user_id, u.username, p.name, p.description, p.visibility, p.cover_image, p.tags, p.settings,
		p.track_count,
		(SELECT COUNT(*) FROM playlist_followers pf WHERE pf.playlist_id = p.id),
		(SELECT COALESCE(SUM(t.duration), 0) FROM playlist_tracks pt JOIN tracks t ON t.id = pt.track_id WHERE pt.playlist_id = p.id),
		p.created_at, p.updated_at
	FROM playlists p JOIN users u ON u.id = p.user_id`

func scanPlaylist(row rowScanner, extra ...interface{}) (Playlist, error) {
	var p Playlist
	var tags, settings string
	dest := []interface{}{&p.ID, &p.UserID, &p.Creator, &p.Name, &p.Description, &p.Visibility, &p.CoverImage, &tags, &settings,
		&p.TrackCount, &p.FollowerCount, &p.TotalDuration, &p.CreatedAt, &p.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return p, err
	}
	p.Tags = decodeStringList(tags)
	p.Settings = decodePlaylistSettings(settings)
	return p, nil
}

// loadPlaylist returns the playlist with its ordered tracks.
func loadPlaylist(q dbtx, playlistID int) (Playlist, error) {
	p, err := scanPlaylist(q.QueryRow(playlistSelect+" WHERE p.id = ?", playlistID))
	if errors.Is(err, sql.ErrNoRows) {
		return p, notFoundf("Playlist not found")
	}
	if err != nil {
		return p, err
	}

	rows, err := q.Query(`SELECT `+trackColumns+`, pt.position, pt.added_at, COALESCE(pt.added_by, 0)
		FROM playlist_tracks pt
		JOIN tracks t ON t.id = pt.track_id
		JOIN artists ar ON ar.id = t.artist_id
		LEFT JOIN albums al ON al.id = t.album_id
		WHERE pt.playlist_id = ? ORDER BY pt.position`, playlistID)
	if err != nil {
		return p, err
	}
	defer rows.Close()

	p.Tracks = []PlaylistTrack{}
	for rows.Next() {
		var pt PlaylistTrack
		track, err := scanTrack(rows, &pt.Position, &pt.AddedAt, &pt.AddedBy)
		if err != nil {
			return p, err
		}
		pt.Track = track
		p.Tracks = append(p.Tracks, pt)
	}
	return p, rows.Err()
}
