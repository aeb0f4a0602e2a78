package main

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	minRating = 1.0
	maxRating = 5.0
)

// RatingSummary aggregates all ratings of a track.
type RatingSummary struct {
	TrackID       int         `json:"track_id"`
	TotalRatings  int         `json:"total_ratings"`
	AverageRating float64     `json:"average_rating"`
	MinRating     float64     `json:"min_rating"`
	MaxRating     float64     `json:"max_rating"`
	UserRating    *float64    `json:"user_rating"`
	Distribution  map[int]int `json:"distribution"`
}

type UserRating struct {
	TrackID   int     `json:"track_id"`
	Title     string  `json:"title"`
	Artist    string  `json:"artist"`
	Rating    float64 `json:"rating"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}

// rateTrack upserts the user's rating and refreshes the cached average on the track.
func rateTrack(q dbtx, userID, trackID int, rating float64) (float64, error) {
	if rating < minRating || rating > maxRating {
		return 0, invalidf("Rating must be between 1.0 and 5.0")
	}
	if _, err := getTrack(q, trackID); err != nil {
		return 0, err
	}
	now := nowRFC3339()
	if _, err := q.Exec(`INSERT INTO track_ratings (user_id, track_id, rating, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, track_id) DO UPDATE SET rating = excluded.rating, updated_at = excluded.updated_at`,
		userID, trackID, rating, now, now); err != nil {
		return 0, err
	}
	var avg float64
	if err := q.QueryRow(`SELECT AVG(rating) FROM track_ratings WHERE track_id = ?`, trackID).Scan(&avg); err != nil {
		return 0, err
	}
	if _, err := q.Exec(`UPDATE tracks SET average_rating = ? WHERE id = ?`, avg, trackID); err != nil {
		return 0, err
	}
	return round1(avg), nil
}

func trackRatingSummary(q dbtx, trackID, userID int) (*RatingSummary, error) {
	if _, err := getTrack(q, trackID); err != nil {
		return nil, err
	}
	s := &RatingSummary{TrackID: trackID, Distribution: map[int]int{1: 0, 2: 0, 3: 0, 4: 0, 5: 0}}
	err := q.QueryRow(`SELECT COUNT(*), COALESCE(AVG(rating), 0), COALESCE(MIN(rating), 0), COALESCE(MAX(rating), 0)
		FROM track_ratings WHERE track_id = ?`, trackID).Scan(&s.TotalRatings, &s.AverageRating, &s.MinRating, &s.MaxRating)
	if err != nil {
		return nil, err
	}
	s.AverageRating = round1(s.AverageRating)

	// buckets by whole star, 4.5 counts as 4
	rows, err := q.Query(`SELECT CAST(rating AS INTEGER), COUNT(*) FROM track_ratings WHERE track_id = ? GROUP BY CAST(rating AS INTEGER)`, trackID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var star, n int
		if err := rows.Scan(&star, &n); err != nil {
			return nil, err
		}
		s.Distribution[star] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var mine float64
	err = q.QueryRow(`SELECT rating FROM track_ratings WHERE track_id = ? AND user_id = ?`, trackID, userID).Scan(&mine)
	switch {
	case err == nil:
		s.UserRating = &mine
	case !errors.Is(err, sql.ErrNoRows):
		return nil, err
	}
	return s, nil
}

func userRatings(q dbtx, userID, limit, offset int) ([]UserRating, error) {
	rows, err := q.Query(`SELECT r.track_id, t.title, ar.name, r.rating, r.created_at, r.updated_at
		FROM track_ratings r
		JOIN tracks t ON t.id = r.track_id
		JOIN artists ar ON ar.id = t.artist_id
		WHERE r.user_id = ?
		ORDER BY r.updated_at DESC, r.track_id
		LIMIT ? OFFSET ?`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []UserRating{}
	for rows.Next() {
		var r UserRating
		if err := rows.Scan(&r.TrackID, &r.Title, &r.Artist, &r.Rating, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func getTrackRating(c *gin.Context) {
	trackID, err := requiredQueryID(c, "track_id")
	if err != nil {
		respondError(c, err)
		return
	}
	s, err := trackRatingSummary(db, trackID, c.GetInt("userID"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondWith(c, http.StatusOK, gin.H{
		"data": gin.H{
			"average_rating": s.AverageRating,
			"total_ratings":  s.TotalRatings,
			"user_rating":    s.UserRating,
		},
	})
}

func putTrackRating(c *gin.Context) {
	var req struct {
		TrackID int      `json:"track_id"`
		Rating  *float64 `json:"rating"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.TrackID <= 0 || req.Rating == nil {
		respondError(c, invalidf("track_id and rating are required"))
		return
	}
	var avg float64
	err := withTx(c.Request.Context(), func(tx *sql.Tx) error {
		var err error
		avg, err = rateTrack(tx, c.GetInt("userID"), req.TrackID, *req.Rating)
		return err
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondWith(c, http.StatusOK, gin.H{"message": "Rating saved", "average_rating": avg})
}
