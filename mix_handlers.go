package main

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

var mixSortOrders = map[string]string{
	"recent":  "m.created_at DESC, m.id DESC",
	"popular": "m.play_count DESC, m.id DESC",
	"likes":   "m.like_count DESC, m.id DESC",
}

type mixInput struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	Duration    *int       `json:"duration"`
	BPMRange    *string    `json:"bpm_range"`
	MixType     *string    `json:"mix_type"`
	GenreTags   []string   `json:"genre_tags"`
	FilePath    *string    `json:"file_path"`
	Tracklist   []MixEntry `json:"tracklist"`
}

func (in *mixInput) validateCreate() error {
	if in.Title == nil || strings.TrimSpace(*in.Title) == "" {
		return invalidf("title is required")
	}
	if in.Duration == nil || *in.Duration <= 0 {
		return invalidf("duration must be a positive number of seconds")
	}
	if in.MixType == nil || strings.TrimSpace(*in.MixType) == "" {
		return invalidf("mix_type is required")
	}
	return nil
}

// validateTracklist checks entries against the mix duration (0 skips the bound).
func validateTracklist(entries []MixEntry, duration int) error {
	for i, e := range entries {
		if e.TrackID <= 0 {
			return invalidf("tracklist[%d]: track_id is required", i)
		}
		if e.StartTime < 0 || e.EndTime <= e.StartTime {
			return invalidf("tracklist[%d]: end_time must be after start_time", i)
		}
		if duration > 0 && e.EndTime > duration {
			return invalidf("tracklist[%d]: end_time exceeds the mix duration", i)
		}
	}
	return nil
}

func writeTracklist(q dbtx, mixID int, entries []MixEntry) error {
	ids := make([]int, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.TrackID)
	}
	if err := checkTracksExist(q, uniqueInts(ids)); err != nil {
		return err
	}
	if _, err := q.Exec(`DELETE FROM mix_tracklist WHERE mix_id = ?`, mixID); err != nil {
		return err
	}
	for i, e := range entries {
		if _, err := q.Exec(`INSERT INTO mix_tracklist (mix_id, track_id, position, start_time, end_time, transition_type, notes)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			mixID, e.TrackID, i+1, e.StartTime, e.EndTime, e.TransitionType, sanitizeText(e.Notes)); err != nil {
			return err
		}
	}
	return nil
}

func createMix(q dbtx, userID int, in mixInput) (int, error) {
	if err := in.validateCreate(); err != nil {
		return 0, err
	}
	if err := validateTracklist(in.Tracklist, *in.Duration); err != nil {
		return 0, err
	}
	var description, bpm, filePath string
	if in.Description != nil {
		description = sanitizeText(*in.Description)
	}
	if in.BPMRange != nil {
		bpm = strings.TrimSpace(*in.BPMRange)
	}
	if in.FilePath != nil {
		filePath = *in.FilePath
	}
	tags := in.GenreTags
	if tags == nil {
		tags = []string{}
	}
	now := nowRFC3339()
	res, err := q.Exec(`INSERT INTO dj_mixes (user_id, title, description, duration, bpm_range, mix_type, genre_tags, file_path, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		userID, strings.TrimSpace(*in.Title), description, *in.Duration, bpm, strings.TrimSpace(*in.MixType),
		encodeJSON(tags), filePath, now, now)
	if err != nil {
		return 0, err
	}
	id, _ := res.LastInsertId()
	if err := writeTracklist(q, int(id), in.Tracklist); err != nil {
		return 0, err
	}
	return int(id), nil
}

// updateMix applies the fields present in the request; a non-nil tracklist replaces the old one.
func updateMix(q dbtx, userID, mixID int, in mixInput) error {
	var ownerID, duration int
	err := q.QueryRow(`SELECT user_id, duration FROM dj_mixes WHERE id = ?`, mixID).Scan(&ownerID, &duration)
	if errors.Is(err, sql.ErrNoRows) {
		return notFoundf("Mix not found")
	}
	if err != nil {
		return err
	}
	if ownerID != userID {
		return forbiddenf("You can only modify your own mixes")
	}

	sets := []string{}
	args := []interface{}{}
	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" {
			return invalidf("title must not be empty")
		}
		sets = append(sets, "title = ?")
		args = append(args, title)
	}
	if in.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, sanitizeText(*in.Description))
	}
	if in.Duration != nil {
		if *in.Duration <= 0 {
			return invalidf("duration must be a positive number of seconds")
		}
		duration = *in.Duration
		sets = append(sets, "duration = ?")
		args = append(args, duration)
	}
	if in.BPMRange != nil {
		sets = append(sets, "bpm_range = ?")
		args = append(args, strings.TrimSpace(*in.BPMRange))
	}
	if in.MixType != nil {
		if strings.TrimSpace(*in.MixType) == "" {
			return invalidf("mix_type must not be empty")
		}
		sets = append(sets, "mix_type = ?")
		args = append(args, strings.TrimSpace(*in.MixType))
	}
	if in.GenreTags != nil {
		sets = append(sets, "genre_tags = ?")
		args = append(args, encodeJSON(in.GenreTags))
	}
	if in.FilePath != nil {
		sets = append(sets, "file_path = ?")
		args = append(args, *in.FilePath)
	}

	if in.Tracklist != nil {
		if err := validateTracklist(in.Tracklist, duration); err != nil {
			return err
		}
		if err := writeTracklist(q, mixID, in.Tracklist); err != nil {
			return err
		}
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, nowRFC3339(), mixID)
	_, err = q.Exec(`UPDATE dj_mixes SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	return err
}

const mixSelect = `SELECT m.id, m.user_id, u.username, m.title, m.description, m.duration, m.bpm_range, m.mix_type,
		m.genre_tags, m.file_path, m.play_count, m.like_count,
		(SELECT COUNT(*) FROM mix_tracklist mt WHERE mt.mix_id = m.id), m.created_at, m.updated_at
	FROM dj_mixes m JOIN users u ON u.id = m.user_id`

func scanMix(row rowScanner) (DJMix, error) {
	var m DJMix
	var tags string
	err := row.Scan(&m.ID, &m.UserID, &m.Creator, &m.Title, &m.Description, &m.Duration, &m.BPMRange, &m.MixType,
		&tags, &m.FilePath, &m.PlayCount, &m.LikeCount, &m.TrackCount, &m.CreatedAt, &m.UpdatedAt)
	m.GenreTags = decodeStringList(tags)
	return m, err
}

func loadMix(q dbtx, mixID int) (DJMix, error) {
	m, err := scanMix(q.QueryRow(mixSelect+` WHERE m.id = ?`, mixID))
	if errors.Is(err, sql.ErrNoRows) {
		return m, notFoundf("Mix not found")
	}
	if err != nil {
		return m, err
	}
	rows, err := q.Query(`SELECT mt.track_id, t.title, ar.name, mt.position, mt.start_time, mt.end_time, mt.transition_type, mt.notes
		FROM mix_tracklist mt
		JOIN tracks t ON t.id = mt.track_id
		JOIN artists ar ON ar.id = t.artist_id
		WHERE mt.mix_id = ? ORDER BY mt.position`, mixID)
	if err != nil {
		return m, err
	}
	defer rows.Close()
	m.Tracklist = []MixEntry{}
	for rows.Next() {
		var e MixEntry
		if err := rows.Scan(&e.TrackID, &e.Title, &e.Artist, &e.Position, &e.StartTime, &e.EndTime, &e.TransitionType, &e.Notes); err != nil {
			return m, err
		}
		m.Tracklist = append(m.Tracklist, e)
	}
	return m, rows.Err()
}

type MixFilter struct {
	MixType string
	UserID  int
	Sort    string
	Limit   int
}

func listMixes(q dbtx, f MixFilter) ([]DJMix, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	if f.MixType != "" {
		where = append(where, "m.mix_type = ?")
		args = append(args, f.MixType)
	}
	if f.UserID > 0 {
		where = append(where, "m.user_id = ?")
		args = append(args, f.UserID)
	}
	order, ok := mixSortOrders[f.Sort]
	if !ok {
		order = mixSortOrders["recent"]
	}
	args = append(args, f.Limit)
	rows, err := q.Query(mixSelect+` WHERE `+strings.Join(where, " AND ")+` ORDER BY `+order+` LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	mixes := []DJMix{}
	for rows.Next() {
		m, err := scanMix(rows)
		if err != nil {
			return nil, err
		}
		mixes = append(mixes, m)
	}
	return mixes, rows.Err()
}

func getMixes(c *gin.Context) {
	if c.Query("mix_id") != "" {
		mixID, err := requiredQueryID(c, "mix_id")
		if err != nil {
			respondError(c, err)
			return
		}
		m, err := loadMix(db, mixID)
		if err != nil {
			respondError(c, err)
			return
		}
		respondOK(c, m)
		return
	}
	limit, _ := pageParams(c, 50, 50)
	mixes, err := listMixes(db, MixFilter{
		MixType: c.Query("mix_type"),
		UserID:  queryInt(c, "user_id", 0),
		Sort:    c.DefaultQuery("sort", "recent"),
		Limit:   limit,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondWith(c, http.StatusOK, gin.H{"mixes": mixes})
}

// postMix creates a mix, or bumps its play/like counter when mix_id and action are given.
func postMix(c *gin.Context) {
	if action := c.Query("action"); action != "" {
		mixID, err := requiredQueryID(c, "mix_id")
		if err != nil {
			respondError(c, err)
			return
		}
		var column string
		switch action {
		case "play":
			column = "play_count"
		case "like":
			column = "like_count"
		default:
			respondError(c, invalidf("Unknown action"))
			return
		}
		res, err := db.Exec(`UPDATE dj_mixes SET `+column+` = `+column+` + 1 WHERE id = ?`, mixID)
		if err != nil {
			respondError(c, err)
			return
		}
		if n, _ := res.RowsAffected(); n == 0 {
			respondError(c, notFoundf("Mix not found"))
			return
		}
		var count int
		if err := db.QueryRow(`SELECT `+column+` FROM dj_mixes WHERE id = ?`, mixID).Scan(&count); err != nil {
			respondError(c, err)
			return
		}
		respondWith(c, http.StatusOK, gin.H{column: count})
		return
	}

	var in mixInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respondError(c, invalidf("Invalid input"))
		return
	}
	userID := c.GetInt("userID")
	var mixID int
	err := withTx(c.Request.Context(), func(tx *sql.Tx) error {
		var err error
		mixID, err = createMix(tx, userID, in)
		return err
	})
	if err != nil {
		respondError(c, err)
		return
	}
	logger.WithField("mix_id", mixID).Info("DJ mix created")
	respondWith(c, http.StatusCreated, gin.H{"message": "Mix created successfully", "mix_id": mixID})
}

func putMix(c *gin.Context) {
	mixID, err := requiredQueryID(c, "mix_id")
	if err != nil {
		respondError(c, err)
		return
	}
	var in mixInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respondError(c, invalidf("Invalid input"))
		return
	}
	userID := c.GetInt("userID")
	err = withTx(c.Request.Context(), func(tx *sql.Tx) error {
		return updateMix(tx, userID, mixID, in)
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondWith(c, http.StatusOK, gin.H{"message": "Mix updated successfully"})
}

func deleteMix(c *gin.Context) {
	mixID, err := requiredQueryID(c, "mix_id")
	if err != nil {
		respondError(c, err)
		return
	}
	var ownerID int
	err = db.QueryRow(`SELECT user_id FROM dj_mixes WHERE id = ?`, mixID).Scan(&ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		respondError(c, notFoundf("Mix not found"))
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	if ownerID != c.GetInt("userID") {
		respondError(c, forbiddenf("You can only delete your own mixes"))
		return
	}
	// mix_tracklist rows go with the mix via ON DELETE CASCADE
	if _, err := db.Exec(`DELETE FROM dj_mixes WHERE id = ?`, mixID); err != nil {
		respondError(c, err)
		return
	}
	respondWith(c, http.StatusOK, gin.H{"message": "Mix deleted successfully"})
}
