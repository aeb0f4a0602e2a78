package main

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

func getTrending(c *gin.Context) {
	limit, offset := pageParams(c, 50, 100)
	opts := TrendingOptions{
		TimeRange: c.DefaultQuery("time_range", "week"),
		Genre:     c.Query("genre"),
		Limit:     limit,
		Offset:    offset,
	}
	tracks, total, err := trendingTracks(db, opts, time.Now())
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
		"filters": gin.H{"time_range": opts.TimeRange, "genre": opts.Genre},
	})
}

func musicDiscovery(c *gin.Context) {
	req, err := readAction(c)
	if err != nil {
		respondError(c, err)
		return
	}
	userID := c.GetInt("userID")

	switch req.Action {
	case "generate_recommendations":
		var p struct {
			Parameters struct {
				Limit int `json:"limit"`
			} `json:"parameters"`
		}
		if err := req.decode(&p); err != nil {
			respondError(c, err)
			return
		}
		limit := p.Parameters.Limit
		if limit <= 0 {
			limit = 20
		}
		tracks, err := recommendTracks(db, userID, clampInt(limit, 1, 100))
		if err != nil {
			respondError(c, err)
			return
		}
		respondOK(c, gin.H{
			"recommendation_id": "rec_" + GenerateBase62UUID(),
			"timestamp":         time.Now().Unix(),
			"tracks":            tracks,
		})

	case "find_similar":
		var p struct {
			TrackID int    `json:"track_id"`
			Limit   int    `json:"limit"`
			Method  string `json:"method"`
		}
		if err := req.decode(&p); err != nil {
			respondError(c, err)
			return
		}
		if p.TrackID <= 0 {
			respondError(c, invalidf("track_id is required"))
			return
		}
		limit := p.Limit
		if limit <= 0 {
			limit = 10
		}
		limit = clampInt(limit, 1, 50)
		if p.Method == "features" {
			neighbours, err := featureNeighbours(db, p.TrackID, limit)
			if err != nil {
				respondError(c, err)
				return
			}
			respondOK(c, gin.H{"track_id": p.TrackID, "similar_tracks": neighbours})
			return
		}
		src, similar, err := similarTracks(db, p.TrackID, limit)
		if err != nil {
			respondError(c, err)
			return
		}
		respondOK(c, gin.H{"source_track": src, "similar_tracks": similar})

	case "analyze_patterns":
		var p struct {
			Days int `json:"days"`
		}
		if err := req.decode(&p); err != nil {
			respondError(c, err)
			return
		}
		days := p.Days
		if days <= 0 {
			days = 30
		}
		patterns, err := analyzePatterns(db, userID, clampInt(days, 1, 365), time.Now())
		if err != nil {
			respondError(c, err)
			return
		}
		respondOK(c, patterns)

	case "create_playlist":
		var p struct {
			Parameters PersonalizedPlaylistRequest `json:"parameters"`
		}
		if err := req.decode(&p); err != nil {
			respondError(c, err)
			return
		}
		playlist, err := createPersonalizedPlaylist(c.Request.Context(), userID, p.Parameters, time.Now())
		if err != nil {
			respondError(c, err)
			return
		}
		respondWith(c, http.StatusCreated, gin.H{"message": "Playlist created", "data": playlist})

	default:
		respondError(c, invalidf("Unknown action"))
	}
}
