package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// dbtx is satisfied by *sql.DB and *sql.Tx so helpers can run inside a transaction.
type dbtx interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

// withTx runs fn in a transaction, rolling back on error.
func withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			logger.WithError(rbErr).Warn("transaction rollback failed")
		}
		return err
	}
	return tx.Commit()
}

// ============================================================================
// QUERY OPTIONS STRUCTURES
// ============================================================================

// ArtistQueryOptions defines options for artist queries
type ArtistQueryOptions struct {
	SearchTerm string // Multi-word AND filter on name
	Limit      int    // Limit results (0 = no limit)
	Offset     int    // Offset for pagination
}

// AlbumQueryOptions defines options for album queries
type AlbumQueryOptions struct {
	ArtistID   int    // Filter by artist (0 = any)
	SearchTerm string // Multi-word AND filter on title and artist
	Limit      int
	Offset     int
}

// TrackQueryOptions defines options for track queries
type TrackQueryOptions struct {
	SearchTerm string // Multi-word AND over title, artist and album
	Genre      string
	Mood       string
	ArtistID   int
	AlbumID    int
	IDs        []int  // Restrict to these ids
	Sort       string // Key of trackSortColumns
	Desc       bool
	Limit      int // Limit results (0 = no limit)
	Offset     int
}

// trackSortColumns whitelists client-selectable orderings.
var trackSortColumns = map[string]string{
	"title":      "t.title COLLATE NOCASE",
	"artist":     "ar.name COLLATE NOCASE",
	"album":      "al.title COLLATE NOCASE",
	"year":       "t.year",
	"duration":   "t.duration",
	"play_count": "t.play_count",
	"rating":     "t.average_rating",
	"tempo":      "t.tempo",
	"energy":     "t.energy_level",
	"added":      "t.created_at",
	"random":     "RANDOM()",
}

const defaultTrackOrder = "ar.name COLLATE NOCASE, al.title COLLATE NOCASE, t.track_number, t.title COLLATE NOCASE"

const trackColumns = `t.id, t.title, t.artist_id, ar.name, COALESCE(t.album_id, 0), COALESCE(al.title, ''),
	t.track_number, t.genre, t.year, t.duration, COALESCE(t.path, ''),
	t.energy_level, t.valence, t.danceability, t.instrumentalness, t.acousticness, t.speechiness,
	t.loudness, t.tempo, t.key_signature, t.time_signature, t.analyzed, t.mood,
	t.play_count, t.skip_count, t.like_count, t.average_rating, t.created_at`

const trackFrom = ` FROM tracks t
	JOIN artists ar ON ar.id = t.artist_id
	LEFT JOIN albums al ON al.id = t.album_id`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanTrack reads one row selected with trackColumns, followed by any extra destinations.
func scanTrack(row rowScanner, extra ...interface{}) (Track, error) {
	var t Track
	dest := []interface{}{
		&t.ID, &t.Title, &t.ArtistID, &t.Artist, &t.AlbumID, &t.Album,
		&t.TrackNumber, &t.Genre, &t.Year, &t.Duration, &t.Path,
		&t.Energy, &t.Valence, &t.Danceability, &t.Instrumentalness, &t.Acousticness, &t.Speechiness,
		&t.Loudness, &t.Tempo, &t.Key, &t.TimeSignature, &t.Analyzed, &t.Mood,
		&t.PlayCount, &t.SkipCount, &t.LikeCount, &t.AverageRating, &t.CreatedAt,
	}
	err := row.Scan(append(dest, extra...)...)
	return t, err
}

func collectTracks(rows *sql.Rows) ([]Track, error) {
	defer rows.Close()
	tracks := []Track{}
	for rows.Next() {
		t, err := scanTrack(rows)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}
	return tracks, rows.Err()
}

// likeTerms appends one "(a LIKE ? OR b LIKE ?)" group per search word.
func likeTerms(search string, columns []string, where []string, args []interface{}) ([]string, []interface{}) {
	for _, w := range strings.Fields(search) {
		var ors []string
		for _, col := range columns {
			ors = append(ors, col+" LIKE ?")
			args = append(args, "%"+w+"%")
		}
		where = append(where, "("+strings.Join(ors, " OR ")+")")
	}
	return where, args
}

func trackWhere(opts TrackQueryOptions) ([]string, []interface{}) {
	var where []string
	var args []interface{}

	where, args = likeTerms(opts.SearchTerm, []string{"t.title", "ar.name", "al.title"}, where, args)
	if opts.Genre != "" {
		where = append(where, "t.genre = ? COLLATE NOCASE")
		args = append(args, opts.Genre)
	}
	if opts.Mood != "" {
		where = append(where, "t.mood = ? COLLATE NOCASE")
		args = append(args, opts.Mood)
	}
	if opts.ArtistID > 0 {
		where = append(where, "t.artist_id = ?")
		args = append(args, opts.ArtistID)
	}
	if opts.AlbumID > 0 {
		where = append(where, "t.album_id = ?")
		args = append(args, opts.AlbumID)
	}
	if len(opts.IDs) > 0 {
		where = append(where, "t.id IN ("+placeholders(len(opts.IDs))+")")
		for _, id := range opts.IDs {
			args = append(args, id)
		}
	}
	return where, args
}

// QueryTracks fetches tracks based on provided options
func QueryTracks(q dbtx, opts TrackQueryOptions) ([]Track, error) {
	var query strings.Builder
	query.WriteString("SELECT " + trackColumns + trackFrom)

	where, args := trackWhere(opts)
	if len(where) > 0 {
		query.WriteString(" WHERE " + strings.Join(where, " AND "))
	}

	orderBy := defaultTrackOrder
	if col, ok := trackSortColumns[opts.Sort]; ok {
		orderBy = col
		if opts.Desc {
			orderBy += " DESC"
		}
		orderBy += ", t.id"
	} else if opts.Sort != "" {
		return nil, invalidf("Unsupported sort field: %s", opts.Sort)
	}
	query.WriteString(" ORDER BY " + orderBy)

	if opts.Limit > 0 {
		query.WriteString(" LIMIT ? OFFSET ?")
		args = append(args, opts.Limit, opts.Offset)
	}

	rows, err := q.Query(query.String(), args...)
	if err != nil {
		return nil, err
	}
	return collectTracks(rows)
}

// CountTracks returns the number of tracks matching the filters in opts.
func CountTracks(q dbtx, opts TrackQueryOptions) (int, error) {
	query := "SELECT COUNT(*)" + trackFrom
	where, args := trackWhere(opts)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	var n int
	err := q.QueryRow(query, args...).Scan(&n)
	return n, err
}

// getTrack loads a single track or returns a not-found error.
func getTrack(q dbtx, id int) (Track, error) {
	t, err := scanTrack(q.QueryRow("SELECT "+trackColumns+trackFrom+" WHERE t.id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return t, notFoundf("Track not found")
	}
	return t, err
}

// QueryArtists fetches artists with album and track counts.
func QueryArtists(q dbtx, opts ArtistQueryOptions) ([]Artist, error) {
	var query strings.Builder
	query.WriteString(`
		SELECT ar.id, ar.name, ar.bio, ar.image_url,
			(SELECT COUNT(*) FROM albums al WHERE al.artist_id = ar.id),
			(SELECT COUNT(*) FROM tracks t WHERE t.artist_id = ar.id)
		FROM artists ar`)

	where, args := likeTerms(opts.SearchTerm, []string{"ar.name"}, nil, nil)
	if len(where) > 0 {
		query.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	query.WriteString(" ORDER BY ar.name COLLATE NOCASE")
	if opts.Limit > 0 {
		query.WriteString(" LIMIT ? OFFSET ?")
		args = append(args, opts.Limit, opts.Offset)
	}

	rows, err := q.Query(query.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	artists := []Artist{}
	for rows.Next() {
		var a Artist
		if err := rows.Scan(&a.ID, &a.Name, &a.Bio, &a.ImageURL, &a.AlbumCount, &a.TrackCount); err != nil {
			return nil, err
		}
		artists = append(artists, a)
	}
	return artists, rows.Err()
}

// QueryAlbums fetches albums with their artist name and track count.
func QueryAlbums(q dbtx, opts AlbumQueryOptions) ([]Album, error) {
	var query strings.Builder
	query.WriteString(`
		SELECT al.id, al.title, al.artist_id, ar.name, al.release_year, al.cover_art_url,
			(SELECT COUNT(*) FROM tracks t WHERE t.album_id = al.id)
		FROM albums al
		JOIN artists ar ON ar.id = al.artist_id`)

	where, args := likeTerms(opts.SearchTerm, []string{"al.title", "ar.name"}, nil, nil)
	if opts.ArtistID > 0 {
		where = append(where, "al.artist_id = ?")
		args = append(args, opts.ArtistID)
	}
	if len(where) > 0 {
		query.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	query.WriteString(" ORDER BY ar.name COLLATE NOCASE, al.release_year, al.title COLLATE NOCASE")
	if opts.Limit > 0 {
		query.WriteString(" LIMIT ? OFFSET ?")
		args = append(args, opts.Limit, opts.Offset)
	}

	rows, err := q.Query(query.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	albums := []Album{}
	for rows.Next() {
		var a Album
		if err := rows.Scan(&a.ID, &a.Title, &a.ArtistID, &a.Artist, &a.ReleaseYear, &a.CoverArtURL, &a.TrackCount); err != nil {
			return nil, err
		}
		albums = append(albums, a)
	}
	return albums, rows.Err()
}

// findOrCreateArtist returns the id of the artist with this name, creating it when absent.
func findOrCreateArtist(q dbtx, name string) (int, error) {
	name = normalizeArtistName(strings.TrimSpace(name))
	if _, err := q.Exec(`INSERT OR IGNORE INTO artists (name, created_at) VALUES (?, ?)`, name, nowRFC3339()); err != nil {
		return 0, err
	}
	var id int
	err := q.QueryRow(`SELECT id FROM artists WHERE name = ?`, name).Scan(&id)
	return id, err
}

// findOrCreateAlbum returns the album id for (title, artist); an empty title means no album.
func findOrCreateAlbum(q dbtx, title string, artistID, year int) (int, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return 0, nil
	}
	if _, err := q.Exec(`INSERT OR IGNORE INTO albums (title, artist_id, release_year, created_at) VALUES (?, ?, ?, ?)`,
		title, artistID, year, nowRFC3339()); err != nil {
		return 0, err
	}
	var id int
	err := q.QueryRow(`SELECT id FROM albums WHERE title = ? AND artist_id = ?`, title, artistID).Scan(&id)
	return id, err
}

// rowExists reports whether SELECT 1 ... matches a row.
func rowExists(q dbtx, query string, args ...interface{}) (bool, error) {
	var one int
	err := q.QueryRow(query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// targetExists checks that a commentable/shareable entity exists.
func targetExists(q dbtx, targetType string, id int) (bool, error) {
	tables := map[string]string{
		"track":    "tracks",
		"album":    "albums",
		"playlist": "playlists",
		"artist":   "artists",
		"user":     "users",
	}
	table, ok := tables[targetType]
	if !ok {
		return false, invalidf("Invalid target type: %s", targetType)
	}
	return rowExists(q, fmt.Sprintf("SELECT 1 FROM %s WHERE id = ?", table), id)
}

// GetConfig reads a runtime value from the configuration table.
func GetConfig(key string) (string, error) {
	var value sql.NullString
	err := db.QueryRow("SELECT value FROM configuration WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value.String, err
}

// SetConfig upserts a runtime value in the configuration table.
func SetConfig(key, value string) error {
	_, err := db.Exec(`INSERT INTO configuration (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func nullIfZero(v int) interface{} {
	if v == 0 {
		return nil
	}
	return v
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
