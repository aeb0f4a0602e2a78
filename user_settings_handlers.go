package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

type NotificationPrefs struct {
	Email bool `json:"email"`
	Push  bool `json:"push"`
}

type PrivacyPrefs struct {
	ShowActivity  bool `json:"show_activity"`
	ShowListening bool `json:"show_listening"`
}

// UserPreferences is stored as one JSON document per user.
type UserPreferences struct {
	Theme            string            `json:"theme"`
	Language         string            `json:"language"`
	AudioQuality     string            `json:"audio_quality"`
	Autoplay         bool              `json:"autoplay"`
	CrossfadeSeconds int               `json:"crossfade_seconds"`
	ExplicitContent  bool              `json:"explicit_content"`
	PreferredGenres  []string          `json:"preferred_genres"`
	DiscoveryLevel   string            `json:"discovery_level"`
	Notifications    NotificationPrefs `json:"notifications"`
	Privacy          PrivacyPrefs      `json:"privacy"`
}

func defaultPreferences() UserPreferences {
	return UserPreferences{
		Theme:           "dark",
		Language:        "en",
		AudioQuality:    "normal",
		Autoplay:        true,
		ExplicitContent: true,
		PreferredGenres: []string{},
		DiscoveryLevel:  "medium",
		Notifications:   NotificationPrefs{Email: true, Push: true},
		Privacy:         PrivacyPrefs{ShowActivity: true, ShowListening: true},
	}
}

// preferencesPatch mirrors UserPreferences with optional fields so updates only touch what was sent.
type preferencesPatch struct {
	Theme            *string   `json:"theme"`
	Language         *string   `json:"language"`
	AudioQuality     *string   `json:"audio_quality"`
	Autoplay         *bool     `json:"autoplay"`
	CrossfadeSeconds *int      `json:"crossfade_seconds"`
	ExplicitContent  *bool     `json:"explicit_content"`
	PreferredGenres  *[]string `json:"preferred_genres"`
	DiscoveryLevel   *string   `json:"discovery_level"`
	Notifications    *struct {
		Email *bool `json:"email"`
		Push  *bool `json:"push"`
	} `json:"notifications"`
	Privacy *struct {
		ShowActivity  *bool `json:"show_activity"`
		ShowListening *bool `json:"show_listening"`
	} `json:"privacy"`
}

var (
	validThemes         = map[string]bool{"light": true, "dark": true, "system": true}
	validAudioQualities = map[string]bool{"low": true, "normal": true, "high": true, "lossless": true}
	validDiscovery      = map[string]bool{"low": true, "medium": true, "high": true}
)

func (p preferencesPatch) apply(prefs *UserPreferences) error {
	if p.Theme != nil {
		if !validThemes[*p.Theme] {
			return invalidf("theme must be light, dark or system")
		}
		prefs.Theme = *p.Theme
	}
	if p.Language != nil {
		if len(*p.Language) < 2 || len(*p.Language) > 10 {
			return invalidf("language must be a language code")
		}
		prefs.Language = *p.Language
	}
	if p.AudioQuality != nil {
		if !validAudioQualities[*p.AudioQuality] {
			return invalidf("audio_quality must be low, normal, high or lossless")
		}
		prefs.AudioQuality = *p.AudioQuality
	}
	if p.Autoplay != nil {
		prefs.Autoplay = *p.Autoplay
	}
	if p.CrossfadeSeconds != nil {
		if *p.CrossfadeSeconds < 0 || *p.CrossfadeSeconds > 12 {
			return invalidf("crossfade_seconds must be between 0 and 12")
		}
		prefs.CrossfadeSeconds = *p.CrossfadeSeconds
	}
	if p.ExplicitContent != nil {
		prefs.ExplicitContent = *p.ExplicitContent
	}
	if p.PreferredGenres != nil {
		genres := []string{}
		for _, g := range *p.PreferredGenres {
			if g = normalizeKey(g); g != "" {
				genres = append(genres, g)
			}
		}
		prefs.PreferredGenres = genres
	}
	if p.DiscoveryLevel != nil {
		if !validDiscovery[*p.DiscoveryLevel] {
			return invalidf("discovery_level must be low, medium or high")
		}
		prefs.DiscoveryLevel = *p.DiscoveryLevel
	}
	if n := p.Notifications; n != nil {
		if n.Email != nil {
			prefs.Notifications.Email = *n.Email
		}
		if n.Push != nil {
			prefs.Notifications.Push = *n.Push
		}
	}
	if pv := p.Privacy; pv != nil {
		if pv.ShowActivity != nil {
			prefs.Privacy.ShowActivity = *pv.ShowActivity
		}
		if pv.ShowListening != nil {
			prefs.Privacy.ShowListening = *pv.ShowListening
		}
	}
	return nil
}

// loadPreferences decodes the stored document over the defaults, so keys added later get default values.
func loadPreferences(q dbtx, userID int) (UserPreferences, error) {
	prefs := defaultPreferences()
	var raw string
	err := q.QueryRow(`SELECT preferences FROM user_preferences WHERE user_id = ?`, userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return prefs, nil
	}
	if err != nil {
		return prefs, err
	}
	if err := json.Unmarshal([]byte(raw), &prefs); err != nil {
		logger.WithError(err).WithField("user_id", userID).Warn("Stored preferences are malformed; using defaults")
		return defaultPreferences(), nil
	}
	if prefs.PreferredGenres == nil {
		prefs.PreferredGenres = []string{}
	}
	return prefs, nil
}

func savePreferences(q dbtx, userID int, patch preferencesPatch) (UserPreferences, error) {
	prefs, err := loadPreferences(q, userID)
	if err != nil {
		return prefs, err
	}
	if err := patch.apply(&prefs); err != nil {
		return prefs, err
	}
	_, err = q.Exec(`INSERT INTO user_preferences (user_id, preferences, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET preferences = excluded.preferences, updated_at = excluded.updated_at`,
		userID, encodeJSON(prefs), nowRFC3339())
	return prefs, err
}

func userPreferencesHandler(c *gin.Context) {
	req, err := readAction(c)
	if err != nil {
		respondError(c, err)
		return
	}
	userID := c.GetInt("userID")

	switch req.Action {
	case "get", "":
		prefs, err := loadPreferences(db, userID)
		if err != nil {
			respondError(c, err)
			return
		}
		respondOK(c, prefs)

	case "update":
		var p struct {
			Preferences *preferencesPatch `json:"preferences"`
		}
		if err := req.decode(&p); err != nil {
			respondError(c, err)
			return
		}
		if p.Preferences == nil {
			respondError(c, invalidf("preferences object is required"))
			return
		}
		var prefs UserPreferences
		err := withTx(c.Request.Context(), func(tx *sql.Tx) error {
			var err error
			prefs, err = savePreferences(tx, userID, *p.Preferences)
			return err
		})
		if err != nil {
			respondError(c, err)
			return
		}
		respondWith(c, http.StatusOK, gin.H{"message": "Preferences updated", "data": prefs})

	default:
		respondError(c, invalidf("Unknown action"))
	}
}

// LibraryCounts is the catalogue size, optionally restricted to one genre.
type LibraryCounts struct {
	Artists int `json:"artists"`
	Albums  int `json:"albums"`
	Tracks  int `json:"tracks"`
}

func libraryCounts(q dbtx, genre string) (LibraryCounts, error) {
	var counts LibraryCounts
	filter := ""
	args := []interface{}{}
	if genre != "" {
		// genres are stored as "A/B" lists; match a whole component
		filter = " AND (lower(t.genre) = ? OR lower(t.genre) LIKE ? OR lower(t.genre) LIKE ? OR lower(t.genre) LIKE ?)"
		g := normalizeKey(genre)
		args = append(args, g, g+"/%", "%/"+g+"/%", "%/"+g)
	}
	err := q.QueryRow(`SELECT COUNT(DISTINCT t.artist_id), COUNT(DISTINCT t.album_id), COUNT(*)
		FROM tracks t WHERE 1=1`+filter, args...).Scan(&counts.Artists, &counts.Albums, &counts.Tracks)
	return counts, err
}

func getLibraryCounts(c *gin.Context) {
	counts, err := libraryCounts(db, c.Query("genre"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, counts)
}
