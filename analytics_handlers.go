package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

var dashboardRanges = map[string]int{"7d": 7, "30d": 30, "90d": 90, "all": 0}

type TopItem struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Artist string `json:"artist,omitempty"`
	Plays  int    `json:"plays"`
}

type GenreCount struct {
	Genre string `json:"genre"`
	Plays int    `json:"plays"`
}

type DailyPlays struct {
	Date          string `json:"date"`
	Plays         int    `json:"plays"`
	ListeningTime int    `json:"listening_time"`
}

type Dashboard struct {
	Range           string       `json:"range"`
	ListeningTime   int          `json:"total_listening_time"`
	Plays           int          `json:"total_plays"`
	DistinctTracks  int          `json:"unique_tracks"`
	DistinctArtists int          `json:"unique_artists"`
	Skips           int          `json:"skips"`
	SkipRate        float64      `json:"skip_rate"`
	TopTracks       []TopItem    `json:"top_tracks"`
	TopArtists      []TopItem    `json:"top_artists"`
	TopGenres       []GenreCount `json:"top_genres"`
	HourlyActivity  [24]int      `json:"hourly_activity"`
	Daily           []DailyPlays `json:"daily"`
}

// buildDashboard runs the independent aggregate queries concurrently.
func buildDashboard(ctx context.Context, userID int, rangeKey string, now time.Time) (*Dashboard, error) {
	days, ok := dashboardRanges[rangeKey]
	if !ok {
		return nil, invalidf("range must be 7d, 30d, 90d or all")
	}
	cutoff := ""
	if days > 0 {
		cutoff = now.AddDate(0, 0, -days).UTC().Format(time.RFC3339)
	}
	// every query is filtered by user and the cutoff ("" keeps all history)
	const scope = ` FROM listening_history lh JOIN tracks t ON t.id = lh.track_id
		JOIN artists ar ON ar.id = t.artist_id WHERE lh.user_id = ? AND lh.played_at >= ?`

	d := &Dashboard{Range: rangeKey}
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return db.QueryRowContext(ctx, `SELECT COALESCE(SUM(lh.listening_duration), 0), COUNT(*),
			COUNT(DISTINCT lh.track_id), COUNT(DISTINCT t.artist_id), COALESCE(SUM(lh.was_skipped), 0)`+scope,
			userID, cutoff).Scan(&d.ListeningTime, &d.Plays, &d.DistinctTracks, &d.DistinctArtists, &d.Skips)
	})
	g.Go(func() error {
		rows, err := db.QueryContext(ctx, `SELECT t.id, t.title, ar.name, COUNT(*) AS plays`+scope+`
			GROUP BY t.id ORDER BY plays DESC, t.id LIMIT 10`, userID, cutoff)
		if err != nil {
			return err
		}
		d.TopTracks, err = collectTopItems(rows, true)
		return err
	})
	g.Go(func() error {
		rows, err := db.QueryContext(ctx, `SELECT ar.id, ar.name, COUNT(*) AS plays`+scope+`
			GROUP BY ar.id ORDER BY plays DESC, ar.id LIMIT 10`, userID, cutoff)
		if err != nil {
			return err
		}
		d.TopArtists, err = collectTopItems(rows, false)
		return err
	})
	g.Go(func() error {
		rows, err := db.QueryContext(ctx, `SELECT t.genre, COUNT(*) AS plays`+scope+` AND t.genre != ''
			GROUP BY t.genre ORDER BY plays DESC, t.genre LIMIT 5`, userID, cutoff)
		if err != nil {
			return err
		}
		defer rows.Close()
		d.TopGenres = []GenreCount{}
		for rows.Next() {
			var gc GenreCount
			if err := rows.Scan(&gc.Genre, &gc.Plays); err != nil {
				return err
			}
			d.TopGenres = append(d.TopGenres, gc)
		}
		return rows.Err()
	})
	g.Go(func() error {
		rows, err := db.QueryContext(ctx, `SELECT CAST(substr(lh.played_at, 12, 2) AS INTEGER) AS hour, COUNT(*)`+scope+`
			GROUP BY hour`, userID, cutoff)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var hour, n int
			if err := rows.Scan(&hour, &n); err != nil {
				return err
			}
			if hour >= 0 && hour < 24 {
				d.HourlyActivity[hour] = n
			}
		}
		return rows.Err()
	})
	g.Go(func() error {
		rows, err := db.QueryContext(ctx, `SELECT substr(lh.played_at, 1, 10) AS day, COUNT(*), COALESCE(SUM(lh.listening_duration), 0)`+scope+`
			GROUP BY day ORDER BY day`, userID, cutoff)
		if err != nil {
			return err
		}
		defer rows.Close()
		d.Daily = []DailyPlays{}
		for rows.Next() {
			var dp DailyPlays
			if err := rows.Scan(&dp.Date, &dp.Plays, &dp.ListeningTime); err != nil {
				return err
			}
			d.Daily = append(d.Daily, dp)
		}
		return rows.Err()
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if d.Plays > 0 {
		d.SkipRate = round1(float64(d.Skips) / float64(d.Plays) * 100)
	}
	return d, nil
}

func collectTopItems(rows *sql.Rows, withArtist bool) ([]TopItem, error) {
	defer rows.Close()
	items := []TopItem{}
	for rows.Next() {
		var it TopItem
		var err error
		if withArtist {
			err = rows.Scan(&it.ID, &it.Name, &it.Artist, &it.Plays)
		} else {
			err = rows.Scan(&it.ID, &it.Name, &it.Plays)
		}
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func getDashboard(c *gin.Context) {
	d, err := buildDashboard(c.Request.Context(), c.GetInt("userID"), c.DefaultQuery("range", "30d"), time.Now())
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, d)
}

type ArtistStats struct {
	ArtistID        int          `json:"artist_id"`
	Name            string       `json:"name"`
	TotalPlays      int          `json:"total_plays"`
	UniqueListeners int          `json:"unique_listeners"`
	AverageRating   float64      `json:"average_rating"`
	TopTracks       []TopItem    `json:"top_tracks"`
	Trend           []DailyPlays `json:"listening_trend"`
}

// artistStatistics summarises an artist's audience; the trend covers the last 30 days.
func artistStatistics(ctx context.Context, artistID int, now time.Time) (*ArtistStats, error) {
	s := &ArtistStats{ArtistID: artistID}
	err := db.QueryRowContext(ctx, `SELECT name FROM artists WHERE id = ?`, artistID).Scan(&s.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundf("Artist not found")
	}
	if err != nil {
		return nil, err
	}
	cutoff := now.AddDate(0, 0, -30).UTC().Format(time.RFC3339)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return db.QueryRowContext(ctx, `SELECT COUNT(*), COUNT(DISTINCT lh.user_id)
			FROM listening_history lh JOIN tracks t ON t.id = lh.track_id WHERE t.artist_id = ?`,
			artistID).Scan(&s.TotalPlays, &s.UniqueListeners)
	})
	g.Go(func() error {
		return db.QueryRowContext(ctx, `SELECT COALESCE(AVG(r.rating), 0)
			FROM track_ratings r JOIN tracks t ON t.id = r.track_id WHERE t.artist_id = ?`,
			artistID).Scan(&s.AverageRating)
	})
	g.Go(func() error {
		rows, err := db.QueryContext(ctx, `SELECT t.id, t.title, ar.name, t.play_count
			FROM tracks t JOIN artists ar ON ar.id = t.artist_id
			WHERE t.artist_id = ? ORDER BY t.play_count DESC, t.id LIMIT 10`, artistID)
		if err != nil {
			return err
		}
		s.TopTracks, err = collectTopItems(rows, true)
		return err
	})
	g.Go(func() error {
		rows, err := db.QueryContext(ctx, `SELECT substr(lh.played_at, 1, 10) AS day, COUNT(*), COALESCE(SUM(lh.listening_duration), 0)
			FROM listening_history lh JOIN tracks t ON t.id = lh.track_id
			WHERE t.artist_id = ? AND lh.played_at >= ?
			GROUP BY day ORDER BY day`, artistID, cutoff)
		if err != nil {
			return err
		}
		defer rows.Close()
		s.Trend = []DailyPlays{}
		for rows.Next() {
			var dp DailyPlays
			if err := rows.Scan(&dp.Date, &dp.Plays, &dp.ListeningTime); err != nil {
				return err
			}
			s.Trend = append(s.Trend, dp)
		}
		return rows.Err()
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	s.AverageRating = round1(s.AverageRating)
	return s, nil
}

func getArtistStats(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	s, err := artistStatistics(c.Request.Context(), id, time.Now())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": s})
}
