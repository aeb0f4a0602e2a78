package main

import (
	"database/sql"
	"errors"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
)

// --- Catalog browsing ---

func listArtists(c *gin.Context) {
	limit, offset := pageParams(c, 50, 200)
	artists, err := QueryArtists(db, ArtistQueryOptions{SearchTerm: c.Query("search"), Limit: limit, Offset: offset})
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, artists)
}

func getArtist(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	var a Artist
	err = db.QueryRow(`SELECT id, name, bio, image_url FROM artists WHERE id = ?`, id).Scan(&a.ID, &a.Name, &a.Bio, &a.ImageURL)
	if errors.Is(err, sql.ErrNoRows) {
		respondError(c, notFoundf("Artist not found"))
		return
	} else if err != nil {
		respondError(c, err)
		return
	}

	albums, err := QueryAlbums(db, AlbumQueryOptions{ArtistID: id})
	if err != nil {
		respondError(c, err)
		return
	}
	topTracks, err := QueryTracks(db, TrackQueryOptions{ArtistID: id, Sort: "play_count", Desc: true, Limit: 10})
	if err != nil {
		respondError(c, err)
		return
	}

	var trackCount, totalPlays int
	var avgRating float64
	err = db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(t.play_count), 0),
			COALESCE((SELECT AVG(r.rating) FROM track_ratings r JOIN tracks t2 ON t2.id = r.track_id WHERE t2.artist_id = ?), 0)
		FROM tracks t WHERE t.artist_id = ?`, id, id).Scan(&trackCount, &totalPlays, &avgRating)
	if err != nil {
		respondError(c, err)
		return
	}
	a.AlbumCount = len(albums)
	a.TrackCount = trackCount

	respondOK(c, gin.H{
		"artist":     a,
		"albums":     albums,
		"top_tracks": topTracks,
		"stats": gin.H{
			"track_count":    trackCount,
			"total_plays":    totalPlays,
			"average_rating": round1(avgRating),
		},
	})
}

func listAlbums(c *gin.Context) {
	limit, offset := pageParams(c, 50, 200)
	albums, err := QueryAlbums(db, AlbumQueryOptions{
		ArtistID:   queryInt(c, "artist_id", 0),
		SearchTerm: c.Query("search"),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, albums)
}

func getAlbum(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	var a Album
	err = db.QueryRow(`SELECT al.id, al.title, al.artist_id, ar.name, al.release_year, al.cover_art_url
		FROM albums al JOIN artists ar ON ar.id = al.artist_id WHERE al.id = ?`, id).
		Scan(&a.ID, &a.Title, &a.ArtistID, &a.Artist, &a.ReleaseYear, &a.CoverArtURL)
	if errors.Is(err, sql.ErrNoRows) {
		respondError(c, notFoundf("Album not found"))
		return
	} else if err != nil {
		respondError(c, err)
		return
	}
	tracks, err := QueryTracks(db, TrackQueryOptions{AlbumID: id})
	if err != nil {
		respondError(c, err)
		return
	}
	a.TrackCount = len(tracks)
	respondOK(c, gin.H{"album": a, "tracks": tracks})
}

func listTracks(c *gin.Context) {
	limit, offset := pageParams(c, 50, 200)
	opts := TrackQueryOptions{
		SearchTerm: c.Query("search"),
		Genre:      c.Query("genre"),
		Mood:       c.Query("mood"),
		ArtistID:   queryInt(c, "artist_id", 0),
		AlbumID:    queryInt(c, "album_id", 0),
		Sort:       c.Query("sort"),
		Desc:       strings.EqualFold(c.Query("order"), "desc"),
		Limit:      limit,
		Offset:     offset,
	}
	tracks, err := QueryTracks(db, opts)
	if err != nil {
		respondError(c, err)
		return
	}
	total, err := CountTracks(db, opts)
	if err != nil {
		respondError(c, err)
		return
	}
	respondWith(c, http.StatusOK, gin.H{
		"data": tracks,
		"pagination": gin.H{
			"total":    total,
			"limit":    limit,
			"offset":   offset,
			"has_more": offset+len(tracks) < total,
		},
	})
}

func getTrackHandler(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	t, err := getTrack(db, id)
	if err != nil {
		respondError(c, err)
		return
	}
	moods, err := trackMoods(db, id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"track": t, "moods": moods})
}

func streamTrack(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	t, err := getTrack(db, id)
	if err != nil {
		respondError(c, err)
		return
	}
	if t.Path == "" {
		respondError(c, notFoundf("Track has no audio file"))
		return
	}
	if _, err := os.Stat(t.Path); err != nil {
		respondError(c, notFoundf("Audio file is missing"))
		return
	}
	c.File(t.Path)
}

// --- Admin track manager ---

type trackInput struct {
	Title            *string  `json:"title"`
	Artist           *string  `json:"artist"`
	Album            *string  `json:"album"`
	TrackNumber      *int     `json:"track_number"`
	Genre            *string  `json:"genre"`
	Year             *int     `json:"year"`
	Duration         *int     `json:"duration"`
	Path             *string  `json:"path"`
	Energy           *float64 `json:"energy_level"`
	Valence          *float64 `json:"valence"`
	Danceability     *float64 `json:"danceability"`
	Instrumentalness *float64 `json:"instrumentalness"`
	Acousticness     *float64 `json:"acousticness"`
	Speechiness      *float64 `json:"speechiness"`
	Loudness         *float64 `json:"loudness"`
	Tempo            *float64 `json:"tempo"`
	Key              *string  `json:"key_signature"`
	TimeSignature    *int     `json:"time_signature"`
}

// columns validates the input and returns the column assignments it carries.
func (in trackInput) columns() (map[string]interface{}, bool, error) {
	cols := map[string]interface{}{}
	analyzed := false

	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" {
			return nil, false, invalidf("Title cannot be empty")
		}
		cols["title"] = title
	}
	if in.TrackNumber != nil {
		cols["track_number"] = *in.TrackNumber
	}
	if in.Genre != nil {
		cols["genre"] = strings.TrimSpace(*in.Genre)
	}
	if in.Year != nil {
		if *in.Year < 0 || *in.Year > 9999 {
			return nil, false, invalidf("Invalid year")
		}
		cols["year"] = *in.Year
	}
	if in.Duration != nil {
		if *in.Duration < 0 {
			return nil, false, invalidf("Duration cannot be negative")
		}
		cols["duration"] = *in.Duration
	}
	if in.Path != nil {
		cols["path"] = nullIfEmpty(strings.TrimSpace(*in.Path))
	}

	unit := map[string]*float64{
		"energy_level":     in.Energy,
		"valence":          in.Valence,
		"danceability":     in.Danceability,
		"instrumentalness": in.Instrumentalness,
		"acousticness":     in.Acousticness,
		"speechiness":      in.Speechiness,
	}
	for col, v := range unit {
		if v == nil {
			continue
		}
		if *v < 0 || *v > 1 {
			return nil, false, invalidf("%s must be between 0 and 1", col)
		}
		cols[col] = *v
		analyzed = true
	}
	if in.Tempo != nil {
		if *in.Tempo < 0 || *in.Tempo > 300 {
			return nil, false, invalidf("tempo must be between 0 and 300")
		}
		cols["tempo"] = *in.Tempo
		analyzed = true
	}
	if in.Loudness != nil {
		cols["loudness"] = *in.Loudness
	}
	if in.Key != nil {
		cols["key_signature"] = strings.TrimSpace(*in.Key)
	}
	if in.TimeSignature != nil {
		cols["time_signature"] = *in.TimeSignature
	}
	if analyzed {
		cols["analyzed"] = 1
	}
	return cols, analyzed, nil
}

func adminCreateTrack(c *gin.Context) {
	var in trackInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respondMessage(c, http.StatusBadRequest, "Invalid input")
		return
	}
	if in.Title == nil || in.Artist == nil || strings.TrimSpace(*in.Artist) == "" {
		respondError(c, invalidf("Title and artist are required"))
		return
	}
	cols, _, err := in.columns()
	if err != nil {
		respondError(c, err)
		return
	}

	var trackID int64
	err = withTx(c.Request.Context(), func(tx *sql.Tx) error {
		artistID, err := findOrCreateArtist(tx, *in.Artist)
		if err != nil {
			return err
		}
		cols["artist_id"] = artistID
		if in.Album != nil {
			year := 0
			if in.Year != nil {
				year = *in.Year
			}
			albumID, err := findOrCreateAlbum(tx, *in.Album, artistID, year)
			if err != nil {
				return err
			}
			cols["album_id"] = nullIfZero(albumID)
		}
		now := nowRFC3339()
		cols["created_at"] = now
		cols["updated_at"] = now

		names := make([]string, 0, len(cols))
		args := make([]interface{}, 0, len(cols))
		for k, v := range cols {
			names = append(names, k)
			args = append(args, v)
		}
		res, err := tx.Exec("INSERT INTO tracks ("+strings.Join(names, ", ")+") VALUES ("+placeholders(len(names))+")", args...)
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint failed") {
				return conflictf("A track with this path already exists")
			}
			return err
		}
		trackID, _ = res.LastInsertId()
		return nil
	})
	if err != nil {
		respondError(c, err)
		return
	}
	t, err := getTrack(db, int(trackID))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "message": "Track created", "data": t})
}

func adminUpdateTrack(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	var in trackInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respondMessage(c, http.StatusBadRequest, "Invalid input")
		return
	}
	cols, analyzed, err := in.columns()
	if err != nil {
		respondError(c, err)
		return
	}

	err = withTx(c.Request.Context(), func(tx *sql.Tx) error {
		current, err := getTrack(tx, id)
		if err != nil {
			return err
		}
		artistID := current.ArtistID
		if in.Artist != nil {
			if artistID, err = findOrCreateArtist(tx, *in.Artist); err != nil {
				return err
			}
			cols["artist_id"] = artistID
		}
		if in.Album != nil {
			albumID, err := findOrCreateAlbum(tx, *in.Album, artistID, current.Year)
			if err != nil {
				return err
			}
			cols["album_id"] = nullIfZero(albumID)
		}
		if len(cols) == 0 {
			return invalidf("Nothing to update")
		}
		cols["updated_at"] = nowRFC3339()

		sets := make([]string, 0, len(cols))
		args := make([]interface{}, 0, len(cols)+1)
		for k, v := range cols {
			sets = append(sets, k+" = ?")
			args = append(args, v)
		}
		args = append(args, id)
		if _, err := tx.Exec("UPDATE tracks SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...); err != nil {
			return err
		}
		if analyzed {
			_, err = applyMoodClassification(tx, id)
		}
		return err
	})
	if err != nil {
		respondError(c, err)
		return
	}
	t, err := getTrack(db, id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondWith(c, http.StatusOK, gin.H{"message": "Track updated", "data": t})
}

func adminDeleteTrack(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	err = withTx(c.Request.Context(), func(tx *sql.Tx) error {
		var ids []int
		rows, err := tx.Query(`SELECT DISTINCT playlist_id FROM playlist_tracks WHERE track_id = ?`, id)
		if err != nil {
			return err
		}
		for rows.Next() {
			var pid int
			if err := rows.Scan(&pid); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, pid)
		}
		rows.Close()

		res, err := tx.Exec(`DELETE FROM tracks WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return notFoundf("Track not found")
		}
		for _, pid := range ids {
			remaining, err := playlistTrackIDs(tx, pid)
			if err != nil {
				return err
			}
			if err := writePositions(tx, pid, remaining); err != nil {
				return err
			}
			if err := touchPlaylist(tx, pid); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondWith(c, http.StatusOK, gin.H{"message": "Track deleted"})
}
