package main

import (
	"database/sql"
	"net/http"

	"github.com/gin-gonic/gin"
)

func moodDetection(c *gin.Context) {
	req, err := readAction(c)
	if err != nil {
		respondError(c, err)
		return
	}
	var p struct {
		TrackID       int `json:"track_id"`
		MoodID        int `json:"mood_id"`
		CurrentMoodID int `json:"current_mood_id"`
		TargetMoodID  int `json:"target_mood_id"`
		Limit         int `json:"limit"`
	}
	if err := req.decode(&p); err != nil {
		respondError(c, err)
		return
	}

	switch req.Action {
	case "analyze_track":
		if p.TrackID <= 0 {
			respondError(c, invalidf("track_id is required"))
			return
		}
		var moods []TrackMood
		err := withTx(c.Request.Context(), func(tx *sql.Tx) error {
			var err error
			moods, err = applyMoodClassification(tx, p.TrackID)
			return err
		})
		if err != nil {
			respondError(c, err)
			return
		}
		respondWith(c, http.StatusOK, gin.H{"message": "Mood analysis complete", "data": moods})

	case "get_mood_recommendations":
		if p.MoodID <= 0 {
			respondError(c, invalidf("mood_id is required"))
			return
		}
		if err := requireMood(db, p.MoodID); err != nil {
			respondError(c, err)
			return
		}
		limit := p.Limit
		if limit <= 0 {
			limit = 20
		}
		tracks, err := moodRecommendations(db, p.MoodID, clampInt(limit, 1, 50))
		if err != nil {
			respondError(c, err)
			return
		}
		respondOK(c, tracks)

	case "get_mood_transition":
		if p.CurrentMoodID <= 0 || p.TargetMoodID <= 0 {
			respondError(c, invalidf("current_mood_id and target_mood_id are required"))
			return
		}
		for _, id := range []int{p.CurrentMoodID, p.TargetMoodID} {
			if err := requireMood(db, id); err != nil {
				respondError(c, err)
				return
			}
		}
		limit := p.Limit
		if limit <= 0 {
			limit = 10
		}
		chain, err := moodTransition(db, p.CurrentMoodID, p.TargetMoodID, clampInt(limit, 1, 20))
		if err != nil {
			respondError(c, err)
			return
		}
		respondOK(c, chain)

	default:
		respondError(c, invalidf("Unknown action"))
	}
}

func listMoods(c *gin.Context) {
	rows, err := db.Query(`SELECT id, name FROM moods ORDER BY id`)
	if err != nil {
		respondError(c, err)
		return
	}
	defer rows.Close()
	moods := []Mood{}
	for rows.Next() {
		var m Mood
		if err := rows.Scan(&m.ID, &m.Name); err != nil {
			respondError(c, err)
			return
		}
		moods = append(moods, m)
	}
	respondOK(c, moods)
}

func getTrackMoods(c *gin.Context) {
	trackID, err := requiredQueryID(c, "track_id")
	if err != nil {
		respondError(c, err)
		return
	}
	if _, err := getTrack(db, trackID); err != nil {
		respondError(c, err)
		return
	}
	moods, err := trackMoods(db, trackID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, moods)
}

func postTrackMood(c *gin.Context) {
	var req struct {
		TrackID   int     `json:"track_id"`
		MoodID    int     `json:"mood_id"`
		Intensity float64 `json:"intensity"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.TrackID <= 0 || req.MoodID <= 0 {
		respondError(c, invalidf("track_id, mood_id and intensity are required"))
		return
	}
	if err := setManualMood(db, req.TrackID, req.MoodID, req.Intensity); err != nil {
		respondError(c, err)
		return
	}
	respondWith(c, http.StatusOK, gin.H{"message": "Mood saved"})
}

func deleteTrackMoodHandler(c *gin.Context) {
	trackID, err := requiredQueryID(c, "track_id")
	if err != nil {
		respondError(c, err)
		return
	}
	moodID, err := requiredQueryID(c, "mood_id")
	if err != nil {
		respondError(c, err)
		return
	}
	if err := deleteTrackMood(db, trackID, moodID); err != nil {
		respondError(c, err)
		return
	}
	respondWith(c, http.StatusOK, gin.H{"message": "Mood removed"})
}
