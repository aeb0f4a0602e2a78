package main

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// skipThreshold is the completion percentage below which a play counts as skipped.
const skipThreshold = 30.0

type ListenContext struct {
	Platform   string `json:"platform"`
	DeviceType string `json:"device_type"`
	Context    string `json:"context"`
	PlaylistID int    `json:"playlist_id"`
	AlbumID    int    `json:"album_id"`
	Volume     *int   `json:"volume"`
	Quality    string `json:"quality"`
}

type PlayResult struct {
	CompletionPercentage float64 `json:"completion_percentage"`
	WasSkipped           bool    `json:"was_skipped"`
}

type HistoryEntry struct {
	ID                   int     `json:"history_id"`
	TrackID              int     `json:"track_id"`
	PlayedAt             string  `json:"played_at"`
	ListeningDuration    int     `json:"listening_duration"`
	CompletionPercentage float64 `json:"completion_percentage"`
	WasSkipped           bool    `json:"was_skipped"`
	TrackTitle           string  `json:"track_title"`
	TrackDuration        int     `json:"track_duration"`
	ArtistName           string  `json:"artist_name"`
	AlbumTitle           string  `json:"album_title"`
	PlaylistName         string  `json:"playlist_name"`
}

func completion(listened, trackDuration int) (float64, bool) {
	pct := float64(listened) / float64(trackDuration) * 100
	pct = clampFloat(pct, 0, 100)
	return pct, pct < skipThreshold
}

// logPlay records one play and updates the user's totals and the track's counters.
func logPlay(q dbtx, userID, trackID, listened int, lc ListenContext) (PlayResult, error) {
	if listened < 0 {
		return PlayResult{}, invalidf("duration must not be negative")
	}
	var trackDuration int
	err := q.QueryRow(`SELECT duration FROM tracks WHERE id = ?`, trackID).Scan(&trackDuration)
	if errors.Is(err, sql.ErrNoRows) {
		return PlayResult{}, notFoundf("Track not found")
	}
	if err != nil {
		return PlayResult{}, err
	}
	if trackDuration <= 0 {
		return PlayResult{}, invalidf("Track duration is unknown")
	}
	pct, skipped := completion(listened, trackDuration)

	if lc.Platform == "" {
		lc.Platform = "web"
	}
	if lc.Context == "" {
		lc.Context = "playlist"
	}
	if lc.Quality == "" {
		lc.Quality = "normal"
	}
	volume := 100
	if lc.Volume != nil {
		volume = clampInt(*lc.Volume, 0, 100)
	}
	var skipTime interface{}
	if skipped {
		skipTime = listened
	}

	now := nowRFC3339()
	if _, err := q.Exec(`INSERT INTO listening_history (user_id, track_id, played_at, listening_duration, completion_percentage,
			platform, device_type, listening_context, source_playlist_id, source_album_id, was_skipped, skip_time, volume_level, audio_quality)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		userID, trackID, now, listened, pct,
		lc.Platform, lc.DeviceType, lc.Context, nullIfZero(lc.PlaylistID), nullIfZero(lc.AlbumID),
		boolToInt(skipped), skipTime, volume, lc.Quality); err != nil {
		return PlayResult{}, err
	}
	if _, err := q.Exec(`UPDATE users SET total_listening_time = total_listening_time + ?,
			total_songs_played = total_songs_played + 1, last_active_at = ? WHERE id = ?`,
		listened, now, userID); err != nil {
		return PlayResult{}, err
	}
	if _, err := q.Exec(`UPDATE tracks SET play_count = play_count + 1, skip_count = skip_count + ? WHERE id = ?`,
		boolToInt(skipped), trackID); err != nil {
		return PlayResult{}, err
	}
	return PlayResult{CompletionPercentage: round1(pct), WasSkipped: skipped}, nil
}

func listeningHistory(q dbtx, userID, limit, offset int) ([]HistoryEntry, error) {
	rows, err := q.Query(`SELECT h.id, h.track_id, h.played_at, h.listening_duration, h.completion_percentage, h.was_skipped,
			t.title, t.duration, ar.name, COALESCE(al.title, ''), COALESCE(p.name, '')
		FROM listening_history h
		JOIN tracks t ON t.id = h.track_id
		JOIN artists ar ON ar.id = t.artist_id
		LEFT JOIN albums al ON al.id = t.album_id
		LEFT JOIN playlists p ON p.id = h.source_playlist_id
		WHERE h.user_id = ?
		ORDER BY h.played_at DESC, h.id DESC
		LIMIT ? OFFSET ?`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []HistoryEntry{}
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.ID, &e.TrackID, &e.PlayedAt, &e.ListeningDuration, &e.CompletionPercentage, &e.WasSkipped,
			&e.TrackTitle, &e.TrackDuration, &e.ArtistName, &e.AlbumTitle, &e.PlaylistName); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func listeningHistoryHandler(c *gin.Context) {
	req, err := readAction(c)
	if err != nil {
		respondError(c, err)
		return
	}
	userID := c.GetInt("userID")

	switch req.Action {
	case "log":
		var p struct {
			TrackID  int           `json:"track_id"`
			Duration *int          `json:"duration"`
			Context  ListenContext `json:"context"`
		}
		if err := req.decode(&p); err != nil {
			respondError(c, err)
			return
		}
		if p.TrackID <= 0 || p.Duration == nil {
			respondError(c, invalidf("track_id and duration are required"))
			return
		}
		var res PlayResult
		err := withTx(c.Request.Context(), func(tx *sql.Tx) error {
			var err error
			res, err = logPlay(tx, userID, p.TrackID, *p.Duration, p.Context)
			return err
		})
		if err != nil {
			respondError(c, err)
			return
		}
		respondWith(c, http.StatusOK, gin.H{"message": "Play recorded", "data": res})

	case "get_history":
		var p struct {
			Limit  int `json:"limit"`
			Offset int `json:"offset"`
		}
		if err := req.decode(&p); err != nil {
			respondError(c, err)
			return
		}
		limit := p.Limit
		if limit <= 0 {
			limit = 50
		}
		history, err := listeningHistory(db, userID, clampInt(limit, 1, 100), max(p.Offset, 0))
		if err != nil {
			respondError(c, err)
			return
		}
		respondOK(c, history)

	default:
		respondError(c, invalidf("Unknown action"))
	}
}
