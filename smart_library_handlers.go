package main

import (
	"database/sql"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

func smartLibrary(c *gin.Context) {
	req, err := readAction(c)
	if err != nil {
		respondError(c, err)
		return
	}
	userID := c.GetInt("userID")

	switch req.Action {
	case "create_smart_playlist":
		var p struct {
			Rules *RuleSet `json:"rules"`
		}
		if err := req.decode(&p); err != nil {
			respondError(c, err)
			return
		}
		if p.Rules == nil {
			respondError(c, invalidf("Invalid playlist rules"))
			return
		}
		sp, err := createSmartPlaylist(c.Request.Context(), userID, *p.Rules)
		if err != nil {
			respondError(c, err)
			return
		}
		respondWith(c, http.StatusCreated, gin.H{"message": "Smart playlist created", "data": sp})

	case "search":
		var p struct {
			Query *SearchQuery `json:"query"`
		}
		if err := req.decode(&p); err != nil {
			respondError(c, err)
			return
		}
		if p.Query == nil || p.Query.empty() {
			respondError(c, invalidf("No search parameters given"))
			return
		}
		res, err := advancedSearch(db, userID, p.Query, time.Now())
		if err != nil {
			respondError(c, err)
			return
		}
		respondOK(c, res)

	case "auto_tag":
		var p struct {
			TrackIDs []int `json:"track_ids"`
		}
		if err := req.decode(&p); err != nil {
			respondError(c, err)
			return
		}
		ids := uniqueInts(p.TrackIDs)
		if len(ids) == 0 {
			respondError(c, invalidf("No tracks given for tagging"))
			return
		}
		var results map[int]AutoTagResult
		err := withTx(c.Request.Context(), func(tx *sql.Tx) error {
			var err error
			results, err = autoTagTracks(tx, ids)
			return err
		})
		if err != nil {
			respondError(c, err)
			return
		}
		respondOK(c, results)

	case "manage_ratings":
		manageRatings(c, req, userID)

	default:
		respondError(c, invalidf("Unknown action"))
	}
}

func manageRatings(c *gin.Context, req *actionRequest, userID int) {
	var p struct {
		RatingAction string `json:"rating_action"`
		Data         struct {
			TrackID int      `json:"track_id"`
			Rating  *float64 `json:"rating"`
			Limit   int      `json:"limit"`
			Offset  int      `json:"offset"`
		} `json:"rating_data"`
	}
	if err := req.decode(&p); err != nil {
		respondError(c, err)
		return
	}

	switch p.RatingAction {
	case "rate":
		if p.Data.TrackID <= 0 || p.Data.Rating == nil {
			respondError(c, invalidf("track_id and rating are required"))
			return
		}
		rating := clampFloat(*p.Data.Rating, minRating, maxRating)
		var avg float64
		err := withTx(c.Request.Context(), func(tx *sql.Tx) error {
			var err error
			avg, err = rateTrack(tx, userID, p.Data.TrackID, rating)
			return err
		})
		if err != nil {
			respondError(c, err)
			return
		}
		respondOK(c, gin.H{
			"track_id":       p.Data.TrackID,
			"rating":         rating,
			"average_rating": avg,
			"timestamp":      time.Now().Unix(),
		})

	case "get_user_ratings":
		limit := p.Data.Limit
		if limit <= 0 {
			limit = 50
		}
		ratings, err := userRatings(db, userID, clampInt(limit, 1, 200), max(p.Data.Offset, 0))
		if err != nil {
			respondError(c, err)
			return
		}
		respondOK(c, ratings)

	case "get_track_ratings":
		if p.Data.TrackID <= 0 {
			respondError(c, invalidf("track_id is required"))
			return
		}
		s, err := trackRatingSummary(db, p.Data.TrackID, userID)
		if err != nil {
			respondError(c, err)
			return
		}
		respondOK(c, s)

	default:
		respondError(c, invalidf("Unknown rating action"))
	}
}

// SearchQuery is the advanced search request; every field is optional but one must be set.
type SearchQuery struct {
	Text             string    `json:"text,omitempty"`
	Tags             []string  `json:"tags,omitempty"`
	MinRating        *float64  `json:"min_rating,omitempty"`
	TempoRange       []float64 `json:"tempo_range,omitempty"`
	Key              string    `json:"key,omitempty"`
	Mood             string    `json:"mood,omitempty"`
	PlayedInLastDays *int      `json:"played_in_last_days,omitempty"`
	Sort             *RuleSort `json:"sort,omitempty"`
	Limit            int       `json:"limit,omitempty"`
}

func (q *SearchQuery) empty() bool {
	return strings.TrimSpace(q.Text) == "" && len(q.Tags) == 0 && q.MinRating == nil &&
		len(q.TempoRange) == 0 && q.Key == "" && q.Mood == "" && q.PlayedInLastDays == nil
}

// SearchHit is a track with the searching user's rating and play data.
type SearchHit struct {
	Track
	UserRating    float64  `json:"user_rating"`
	UserPlayCount int      `json:"user_play_count"`
	LastPlayed    string   `json:"last_played,omitempty"`
	Tags          []string `json:"tags"`
}

type SearchResult struct {
	Query        *SearchQuery `json:"query"`
	TotalResults int          `json:"total_results"`
	Tracks       []SearchHit  `json:"tracks"`
}

var searchSortColumns = map[string]string{
	"user_rating": "COALESCE(r.rating, 0)",
	"last_played": "ph.last_played",
	"user_plays":  "COALESCE(ph.play_count, 0)",
}

// advancedSearch runs a dynamic track query and records it in search_history.
func advancedSearch(q dbtx, userID int, sq *SearchQuery, now time.Time) (*SearchResult, error) {
	var where []string
	var whereArgs []interface{}

	where, whereArgs = likeTerms(sq.Text, []string{"t.title", "ar.name", "al.title", "t.genre"}, where, whereArgs)

	if tags := normalizeTags(sq.Tags); len(tags) > 0 {
		where = append(where, `t.id IN (SELECT track_id FROM track_tags WHERE tag_name IN (`+placeholders(len(tags))+`)
			GROUP BY track_id HAVING COUNT(DISTINCT tag_name) = ?)`)
		for _, tag := range tags {
			whereArgs = append(whereArgs, strings.ToLower(tag))
		}
		whereArgs = append(whereArgs, len(tags))
	}
	if sq.MinRating != nil {
		where = append(where, "r.rating >= ?")
		whereArgs = append(whereArgs, *sq.MinRating)
	}
	if len(sq.TempoRange) > 0 {
		if len(sq.TempoRange) != 2 || sq.TempoRange[0] > sq.TempoRange[1] {
			return nil, invalidf("tempo_range must be [min, max]")
		}
		where = append(where, "t.tempo BETWEEN ? AND ?")
		whereArgs = append(whereArgs, sq.TempoRange[0], sq.TempoRange[1])
	}
	if sq.Key != "" {
		where = append(where, "t.key_signature = ?")
		whereArgs = append(whereArgs, sq.Key)
	}
	if sq.Mood != "" {
		where = append(where, "t.mood = ? COLLATE NOCASE")
		whereArgs = append(whereArgs, sq.Mood)
	}

	historyArgs := []interface{}{userID}
	historyFilter := ""
	if sq.PlayedInLastDays != nil {
		if *sq.PlayedInLastDays <= 0 || *sq.PlayedInLastDays > maxRuleDays {
			return nil, invalidf("played_in_last_days must be between 1 and %d", maxRuleDays)
		}
		historyFilter = " AND played_at >= ?"
		historyArgs = append(historyArgs, now.AddDate(0, 0, -*sq.PlayedInLastDays).UTC().Format(time.RFC3339))
		where = append(where, "ph.track_id IS NOT NULL")
	}

	orderBy := defaultTrackOrder
	if sq.Sort != nil {
		col, ok := trackSortColumns[sq.Sort.Field]
		if !ok {
			col, ok = searchSortColumns[sq.Sort.Field]
		}
		if !ok {
			return nil, invalidf("Unsupported sort field: %s", sq.Sort.Field)
		}
		orderBy = col
		if sq.Sort.Desc {
			orderBy += " DESC"
		}
		orderBy += ", t.id"
	}
	limit := sq.Limit
	if limit <= 0 {
		limit = 50
	}
	limit = clampInt(limit, 1, 200)

	var sb strings.Builder
	sb.WriteString(`SELECT ` + trackColumns + `, COALESCE(r.rating, 0), COALESCE(ph.play_count, 0), COALESCE(ph.last_played, ''),
		COALESCE((SELECT group_concat(tt.tag_name) FROM track_tags tt WHERE tt.track_id = t.id), '')` + trackFrom + `
		LEFT JOIN track_ratings r ON r.track_id = t.id AND r.user_id = ?
		LEFT JOIN (
			SELECT track_id, COUNT(*) AS play_count, MAX(played_at) AS last_played
			FROM listening_history WHERE user_id = ?` + historyFilter + `
			GROUP BY track_id
		) ph ON ph.track_id = t.id`)
	if len(where) > 0 {
		sb.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	sb.WriteString(" ORDER BY " + orderBy + " LIMIT ?")

	args := append([]interface{}{userID}, historyArgs...)
	args = append(args, whereArgs...)
	args = append(args, limit)

	rows, err := q.Query(sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	hits := []SearchHit{}
	for rows.Next() {
		var h SearchHit
		var tags string
		t, err := scanTrack(rows, &h.UserRating, &h.UserPlayCount, &h.LastPlayed, &tags)
		if err != nil {
			return nil, err
		}
		h.Track = t
		h.Tags = []string{}
		if tags != "" {
			h.Tags = strings.Split(tags, ",")
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	if _, err := q.Exec(`INSERT INTO search_history (user_id, query_params, results_count, created_at) VALUES (?, ?, ?, ?)`,
		userID, encodeJSON(sq), len(hits), nowRFC3339()); err != nil {
		return nil, err
	}
	return &SearchResult{Query: sq, TotalResults: len(hits), Tracks: hits}, nil
}

type AutoTagResult struct {
	TrackTitle   string   `json:"track_title"`
	ExistingTags []string `json:"existing_tags"`
	NewTags      []string `json:"new_tags"`
	TotalTags    int      `json:"total_tags"`
}

// deriveTags computes automatic tags from metadata, features and the average play hour.
// avgHour is negative when the track has never been played.
func deriveTags(t Track, avgHour float64) []string {
	var tags []string
	if genre := strings.TrimSpace(t.Genre); genre != "" {
		tags = append(tags, strings.ToLower(genre))
		for _, sub := range strings.Split(genre, "/") {
			if sub = strings.TrimSpace(sub); sub != "" {
				tags = append(tags, strings.ToLower(sub))
			}
		}
	}
	if t.Tempo > 0 {
		switch {
		case t.Tempo < 90:
			tags = append(tags, "slow")
		case t.Tempo < 120:
			tags = append(tags, "medium_tempo")
		default:
			tags = append(tags, "fast")
		}
	}
	if t.Mood != "" {
		tags = append(tags, strings.ToLower(t.Mood))
	}
	if t.Analyzed {
		switch {
		case t.Energy < 0.3:
			tags = append(tags, "calm")
		case t.Energy < 0.7:
			tags = append(tags, "moderate")
		default:
			tags = append(tags, "energetic")
		}
	}
	if avgHour >= 0 {
		switch {
		case avgHour >= 5 && avgHour < 12:
			tags = append(tags, "morning")
		case avgHour >= 12 && avgHour < 17:
			tags = append(tags, "afternoon")
		case avgHour >= 17 && avgHour < 22:
			tags = append(tags, "evening")
		default:
			tags = append(tags, "night")
		}
	}

	seen := make(map[string]bool, len(tags))
	out := tags[:0]
	for _, tag := range tags {
		if !seen[tag] {
			seen[tag] = true
			out = append(out, tag)
		}
	}
	return out
}

// autoTagTracks stores derived tags that a track does not have yet. Unknown ids are skipped.
func autoTagTracks(q dbtx, ids []int) (map[int]AutoTagResult, error) {
	tracks, err := QueryTracks(q, TrackQueryOptions{IDs: ids})
	if err != nil {
		return nil, err
	}
	results := make(map[int]AutoTagResult, len(tracks))
	for _, t := range tracks {
		existing, err := trackTags(q, t.ID)
		if err != nil {
			return nil, err
		}
		avgHour := -1.0
		var avg sql.NullFloat64
		if err := q.QueryRow(`SELECT AVG(CAST(substr(played_at, 12, 2) AS INTEGER)) FROM listening_history WHERE track_id = ?`,
			t.ID).Scan(&avg); err != nil {
			return nil, err
		}
		if avg.Valid {
			avgHour = avg.Float64
		}

		have := make(map[string]bool, len(existing))
		for _, tag := range existing {
			have[tag] = true
		}
		newTags := []string{}
		now := nowRFC3339()
		for _, tag := range deriveTags(t, avgHour) {
			if have[tag] {
				continue
			}
			if _, err := q.Exec(`INSERT OR IGNORE INTO track_tags (track_id, tag_name, source, created_at) VALUES (?, ?, 'auto', ?)`,
				t.ID, tag, now); err != nil {
				return nil, err
			}
			newTags = append(newTags, tag)
		}
		results[t.ID] = AutoTagResult{
			TrackTitle:   t.Title,
			ExistingTags: existing,
			NewTags:      newTags,
			TotalTags:    len(existing) + len(newTags),
		}
	}
	return results, nil
}

func trackTags(q dbtx, trackID int) ([]string, error) {
	rows, err := q.Query(`SELECT tag_name FROM track_tags WHERE track_id = ? ORDER BY tag_name`, trackID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	tags := []string{}
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}
