package main

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// Attribute weights for similarTracks; the maximum score normalises to 1.
const (
	genreWeight     = 3
	moodWeight      = 2
	tempoWeight     = 1
	keyWeight       = 1
	maxSimilarity   = genreWeight + moodWeight + tempoWeight + keyWeight
	tempoMatchRange = 10.0
)

type MatchFactors struct {
	Genre bool `json:"genre"`
	Mood  bool `json:"mood"`
	Tempo bool `json:"tempo"`
	Key   bool `json:"key"`
}

type SimilarTrack struct {
	Track
	SimilarityScore float64      `json:"similarity_score"`
	MatchingFactors MatchFactors `json:"matching_factors"`
	Distance        float64      `json:"feature_distance"`
}

// attributeScore compares the descriptive attributes of two tracks. Blank values never match.
func attributeScore(src, t Track) (int, MatchFactors) {
	var f MatchFactors
	score := 0
	if src.Genre != "" && strings.EqualFold(src.Genre, t.Genre) {
		f.Genre = true
		score += genreWeight
	}
	if src.Mood != "" && strings.EqualFold(src.Mood, t.Mood) {
		f.Mood = true
		score += moodWeight
	}
	if src.Tempo > 0 && t.Tempo > 0 && math.Abs(src.Tempo-t.Tempo) <= tempoMatchRange {
		f.Tempo = true
		score += tempoWeight
	}
	if src.Key != "" && src.Key == t.Key {
		f.Key = true
		score += keyWeight
	}
	return score, f
}

// featureDistance is the Euclidean distance over the normalised audio features.
func featureDistance(a, b AudioFeatures) float64 {
	d := []float64{
		a.Energy - b.Energy,
		a.Valence - b.Valence,
		a.Danceability - b.Danceability,
		a.Acousticness - b.Acousticness,
		a.Instrumentalness - b.Instrumentalness,
		a.Speechiness - b.Speechiness,
		(a.Tempo - b.Tempo) / 200,
	}
	sum := 0.0
	for _, v := range d {
		sum += v * v
	}
	return math.Sqrt(sum)
}

// similarTracks ranks other tracks by attribute matches, breaking ties by feature distance.
func similarTracks(q dbtx, trackID, limit int) (Track, []SimilarTrack, error) {
	src, err := getTrack(q, trackID)
	if err != nil {
		return src, nil, err
	}
	rows, err := q.Query(`SELECT `+trackColumns+trackFrom+`
		WHERE t.id != ? AND (
			(t.genre != '' AND t.genre = ? COLLATE NOCASE) OR
			(t.mood != '' AND t.mood = ? COLLATE NOCASE) OR
			(t.tempo > 0 AND ABS(t.tempo - ?) <= ?) OR
			(t.key_signature != '' AND t.key_signature = ?))`,
		trackID, src.Genre, src.Mood, src.Tempo, tempoMatchRange, src.Key)
	if err != nil {
		return src, nil, err
	}
	candidates, err := collectTracks(rows)
	if err != nil {
		return src, nil, err
	}

	out := []SimilarTrack{}
	for _, t := range candidates {
		score, factors := attributeScore(src, t)
		if score == 0 {
			continue
		}
		out = append(out, SimilarTrack{
			Track:           t,
			SimilarityScore: float64(score) / maxSimilarity,
			MatchingFactors: factors,
			Distance:        featureDistance(src.AudioFeatures, t.AudioFeatures),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SimilarityScore != out[j].SimilarityScore {
			return out[i].SimilarityScore > out[j].SimilarityScore
		}
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return src, out, nil
}

type Neighbour struct {
	Track
	Distance float64 `json:"distance"`
}

// featureNeighbours returns the analysed tracks closest to trackID in feature space.
func featureNeighbours(q dbtx, trackID, limit int) ([]Neighbour, error) {
	src, err := getTrack(q, trackID)
	if err != nil {
		return nil, err
	}
	if !src.Analyzed {
		return nil, invalidf("Track has no audio features")
	}
	rows, err := q.Query(`SELECT `+trackColumns+trackFrom+` WHERE t.analyzed = 1 AND t.id != ?`, trackID)
	if err != nil {
		return nil, err
	}
	candidates, err := collectTracks(rows)
	if err != nil {
		return nil, err
	}
	out := make([]Neighbour, 0, len(candidates))
	for _, t := range candidates {
		out = append(out, Neighbour{Track: t, Distance: featureDistance(src.AudioFeatures, t.AudioFeatures)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// listenerProfile holds the genres and artists a user gravitates to, strongest first.
type listenerProfile struct {
	Genres    []string
	ArtistIDs []int
}

func (p listenerProfile) empty() bool { return len(p.Genres) == 0 && len(p.ArtistIDs) == 0 }

// loadListenerProfile weighs each play once and each rating of 4 or more three times.
func loadListenerProfile(q dbtx, userID int) (listenerProfile, error) {
	var p listenerProfile
	const affinity = `
		SELECT t.genre AS genre, t.artist_id AS artist_id, 1 AS weight
		FROM listening_history lh JOIN tracks t ON t.id = lh.track_id
		WHERE lh.user_id = ? AND lh.was_skipped = 0
		UNION ALL
		SELECT t.genre, t.artist_id, 3
		FROM track_ratings r JOIN tracks t ON t.id = r.track_id
		WHERE r.user_id = ? AND r.rating >= 4`

	rows, err := q.Query(`SELECT genre FROM (`+affinity+`) WHERE genre != ''
		GROUP BY genre ORDER BY SUM(weight) DESC, genre LIMIT 3`, userID, userID)
	if err != nil {
		return p, err
	}
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			rows.Close()
			return p, err
		}
		p.Genres = append(p.Genres, g)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return p, err
	}

	rows, err = q.Query(`SELECT artist_id FROM (`+affinity+`)
		GROUP BY artist_id ORDER BY SUM(weight) DESC, artist_id LIMIT 5`, userID, userID)
	if err != nil {
		return p, err
	}
	defer rows.Close()
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return p, err
		}
		p.ArtistIDs = append(p.ArtistIDs, id)
	}
	return p, rows.Err()
}

// recentWindow excludes tracks the user played lately from recommendations.
const recentWindow = 30 * 24 * time.Hour

// recommendTracks suggests tracks from the user's favourite genres and artists
// that they have not played recently. Users without history get trending tracks.
func recommendTracks(q dbtx, userID, limit int) ([]Track, error) {
	profile, err := loadListenerProfile(q, userID)
	if err != nil {
		return nil, err
	}
	if profile.empty() {
		return trendingFallback(q, limit)
	}

	var score []string
	var args []interface{}
	if len(profile.Genres) > 0 {
		score = append(score, "CASE WHEN t.genre IN ("+placeholders(len(profile.Genres))+") THEN 2 ELSE 0 END")
		for _, g := range profile.Genres {
			args = append(args, g)
		}
	}
	if len(profile.ArtistIDs) > 0 {
		score = append(score, "CASE WHEN t.artist_id IN ("+placeholders(len(profile.ArtistIDs))+") THEN 1 ELSE 0 END")
		for _, id := range profile.ArtistIDs {
			args = append(args, id)
		}
	}
	cutoff := time.Now().Add(-recentWindow).UTC().Format(time.RFC3339)
	args = append(args, userID, cutoff, limit)

	rows, err := q.Query(`SELECT `+trackColumns+` FROM (
			SELECT t.id AS track_id, (`+strings.Join(score, " + ")+`) AS relevance FROM tracks t
		) rel
		JOIN tracks t ON t.id = rel.track_id
		JOIN artists ar ON ar.id = t.artist_id
		LEFT JOIN albums al ON al.id = t.album_id
		WHERE rel.relevance > 0
		AND t.id NOT IN (SELECT track_id FROM listening_history WHERE user_id = ? AND played_at >= ?)
		ORDER BY rel.relevance DESC, t.average_rating DESC, t.play_count DESC, t.id
		LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	tracks, err := collectTracks(rows)
	if err != nil {
		return nil, err
	}
	if len(tracks) == 0 {
		return trendingFallback(q, limit)
	}
	return tracks, nil
}

func trendingFallback(q dbtx, limit int) ([]Track, error) {
	return QueryTracks(q, TrackQueryOptions{Sort: "play_count", Desc: true, Limit: limit})
}

type TrendingOptions struct {
	TimeRange string
	Genre     string
	Limit     int
	Offset    int
}

type TrendingTrack struct {
	Track
	RecentPlays  int     `json:"recent_plays"`
	RatingAvg    float64 `json:"rating_average"`
	RatingsTotal int     `json:"ratings_total"`
	CoverArtURL  string  `json:"cover_art_url"`
}

var trendingRanges = map[string]int{"week": 7, "month": 30, "all": 0}

// trendingTracks orders by play and like counts; a bounded time range keeps only tracks played inside it.
func trendingTracks(q dbtx, opts TrendingOptions, now time.Time) ([]TrendingTrack, int, error) {
	if opts.TimeRange == "" {
		opts.TimeRange = "week"
	}
	days, ok := trendingRanges[opts.TimeRange]
	if !ok {
		return nil, 0, invalidf("time_range must be week, month or all")
	}
	cutoff := ""
	if days > 0 {
		cutoff = now.AddDate(0, 0, -days).UTC().Format(time.RFC3339)
	}

	var where []string
	var args []interface{}
	if days > 0 {
		where = append(where, "EXISTS (SELECT 1 FROM listening_history lh WHERE lh.track_id = t.id AND lh.played_at >= ?)")
		args = append(args, cutoff)
	}
	if opts.Genre != "" {
		where = append(where, "t.genre = ? COLLATE NOCASE")
		args = append(args, opts.Genre)
	}
	whereSQL := ""
	if len(where) > 0 {
		whereSQL = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := q.QueryRow("SELECT COUNT(*) FROM tracks t"+whereSQL, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + trackColumns + `,
			(SELECT COUNT(*) FROM listening_history lh WHERE lh.track_id = t.id AND lh.played_at >= ?),
			COALESCE((SELECT AVG(r.rating) FROM track_ratings r WHERE r.track_id = t.id), 0),
			(SELECT COUNT(*) FROM track_ratings r WHERE r.track_id = t.id),
			COALESCE(al.cover_art_url, '')` + trackFrom + whereSQL + `
		ORDER BY t.play_count DESC, t.like_count DESC, t.id
		LIMIT ? OFFSET ?`
	fullArgs := append([]interface{}{cutoff}, args...)
	fullArgs = append(fullArgs, opts.Limit, opts.Offset)

	rows, err := q.Query(query, fullArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := []TrendingTrack{}
	for rows.Next() {
		var tt TrendingTrack
		t, err := scanTrack(rows, &tt.RecentPlays, &tt.RatingAvg, &tt.RatingsTotal, &tt.CoverArtURL)
		if err != nil {
			return nil, 0, err
		}
		tt.Track = t
		tt.RatingAvg = round1(tt.RatingAvg)
		out = append(out, tt)
	}
	return out, total, rows.Err()
}

type SessionPlay struct {
	TrackID  int    `json:"track_id"`
	PlayedAt string `json:"played_at"`
}

type ListeningPatterns struct {
	Days              int                `json:"days"`
	TotalTracks       int                `json:"total_tracks"`
	UniqueTracks      int                `json:"unique_tracks"`
	GenreDistribution map[string]float64 `json:"genre_distribution"`
	MoodDistribution  map[string]float64 `json:"mood_distribution"`
	HourlyActivity    [24]int            `json:"hourly_activity"`
	DailyActivity     [7]int             `json:"daily_activity"`
	TempoPreferences  map[string]int     `json:"tempo_preferences"`
	Sessions          [][]SessionPlay    `json:"listening_sessions"`
}

// sessionGap splits listening sessions.
const sessionGap = time.Hour

type historyEntry struct {
	TrackID  int
	Genre    string
	Mood     string
	Tempo    float64
	PlayedAt time.Time
}

// analyzePatterns summarises the last days of a user's listening history.
func analyzePatterns(q dbtx, userID, days int, now time.Time) (*ListeningPatterns, error) {
	cutoff := now.AddDate(0, 0, -days).UTC().Format(time.RFC3339)
	rows, err := q.Query(`SELECT lh.track_id, t.genre, t.mood, t.tempo, lh.played_at
		FROM listening_history lh JOIN tracks t ON t.id = lh.track_id
		WHERE lh.user_id = ? AND lh.played_at >= ?
		ORDER BY lh.played_at, lh.id`, userID, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []historyEntry
	for rows.Next() {
		var e historyEntry
		var playedAt string
		if err := rows.Scan(&e.TrackID, &e.Genre, &e.Mood, &e.Tempo, &playedAt); err != nil {
			return nil, err
		}
		if e.PlayedAt, err = time.Parse(time.RFC3339, playedAt); err != nil {
			return nil, fmt.Errorf("parse played_at %q: %w", playedAt, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	p := summarizeHistory(entries)
	p.Days = days
	return p, nil
}

// summarizeHistory expects entries in chronological order.
func summarizeHistory(entries []historyEntry) *ListeningPatterns {
	p := &ListeningPatterns{
		TotalTracks:       len(entries),
		GenreDistribution: map[string]float64{},
		MoodDistribution:  map[string]float64{},
		TempoPreferences:  map[string]int{"slow": 0, "medium": 0, "fast": 0},
		Sessions:          [][]SessionPlay{},
	}
	unique := map[int]bool{}
	var session []SessionPlay
	var last time.Time
	for _, e := range entries {
		unique[e.TrackID] = true
		if e.Genre != "" {
			p.GenreDistribution[e.Genre]++
		}
		if e.Mood != "" {
			p.MoodDistribution[e.Mood]++
		}
		p.HourlyActivity[e.PlayedAt.Hour()]++
		// Monday first
		p.DailyActivity[(int(e.PlayedAt.Weekday())+6)%7]++
		switch {
		case e.Tempo < 90:
			p.TempoPreferences["slow"]++
		case e.Tempo < 120:
			p.TempoPreferences["medium"]++
		default:
			p.TempoPreferences["fast"]++
		}

		if len(session) > 0 && e.PlayedAt.Sub(last) > sessionGap {
			p.Sessions = append(p.Sessions, session)
			session = nil
		}
		session = append(session, SessionPlay{TrackID: e.TrackID, PlayedAt: e.PlayedAt.UTC().Format(time.RFC3339)})
		last = e.PlayedAt
	}
	if len(session) > 0 {
		p.Sessions = append(p.Sessions, session)
	}
	p.UniqueTracks = len(unique)
	for k, v := range p.GenreDistribution {
		p.GenreDistribution[k] = v / float64(p.TotalTracks)
	}
	for k, v := range p.MoodDistribution {
		p.MoodDistribution[k] = v / float64(p.TotalTracks)
	}
	return p
}

// topKeys returns up to n keys with the largest shares.
func topKeys(dist map[string]float64, n int) []string {
	keys := make([]string, 0, len(dist))
	for k := range dist {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if dist[keys[i]] != dist[keys[j]] {
			return dist[keys[i]] > dist[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}

// pickByDuration keeps candidates in order while they fit in target seconds.
func pickByDuration(candidates []Track, target int) []Track {
	picked := []Track{}
	total := 0
	for _, t := range candidates {
		if t.Duration <= 0 || total+t.Duration > target {
			continue
		}
		picked = append(picked, t)
		total += t.Duration
	}
	return picked
}

type PersonalizedPlaylistRequest struct {
	Name          string `json:"name"`
	Description   string `json:"description"`
	TargetMinutes int    `json:"target_length"`
}

// createPersonalizedPlaylist fills a new private playlist with tracks from the
// user's top genres and moods of the last 30 days, up to the target length.
func createPersonalizedPlaylist(ctx context.Context, userID int, req PersonalizedPlaylistRequest, now time.Time) (Playlist, error) {
	if req.TargetMinutes <= 0 {
		req.TargetMinutes = 60
	}
	if req.TargetMinutes > 600 {
		return Playlist{}, invalidf("target_length must be at most 600 minutes")
	}
	if strings.TrimSpace(req.Name) == "" {
		req.Name = "Personalized mix " + now.UTC().Format(dateLayout)
	}
	name, err := validatePlaylistName(req.Name)
	if err != nil {
		return Playlist{}, err
	}
	if req.Description == "" {
		req.Description = "Generated from your listening history"
	}

	var playlist Playlist
	err = withTx(ctx, func(tx *sql.Tx) error {
		patterns, err := analyzePatterns(tx, userID, 30, now)
		if err != nil {
			return err
		}
		genres := topKeys(patterns.GenreDistribution, 3)
		moods := topKeys(patterns.MoodDistribution, 3)
		if len(genres) == 0 && len(moods) == 0 {
			return invalidf("Not enough listening history to personalise a playlist")
		}

		var score []string
		var args []interface{}
		if len(genres) > 0 {
			score = append(score, "WHEN t.genre IN ("+placeholders(len(genres))+") THEN 2")
			for _, g := range genres {
				args = append(args, g)
			}
		}
		if len(moods) > 0 {
			score = append(score, "WHEN t.mood IN ("+placeholders(len(moods))+") THEN 1")
			for _, m := range moods {
				args = append(args, m)
			}
		}
		relevance := "CASE " + strings.Join(score, " ") + " ELSE 0 END"
		rows, err := tx.Query(`SELECT `+trackColumns+trackFrom+`
			WHERE t.duration > 0 AND `+relevance+` > 0
			ORDER BY `+relevance+` DESC, t.average_rating DESC, t.play_count DESC, t.id`, append(args, args...)...)
		if err != nil {
			return err
		}
		candidates, err := collectTracks(rows)
		if err != nil {
			return err
		}
		picked := pickByDuration(candidates, req.TargetMinutes*60)

		id, err := insertPlaylist(tx, Playlist{
			UserID:      userID,
			Name:        name,
			Description: sanitizeText(req.Description),
			Visibility:  "private",
			Tags:        append([]string{"personalized"}, genres...),
			Settings:    defaultPlaylistSettings(),
		})
		if err != nil {
			return err
		}
		ids := make([]int, len(picked))
		for i, t := range picked {
			ids[i] = t.ID
		}
		if _, err := appendPlaylistTracks(tx, id, ids, userID); err != nil {
			return err
		}
		playlist, err = loadPlaylist(tx, id)
		return err
	})
	return playlist, err
}
