package main

import (
	"math"
	"sort"
)

// Mood ids seeded by migrateDB.
const (
	moodHappy     = 1
	moodSad       = 2
	moodEnergetic = 3
	moodRelaxed   = 4
	moodRomantic  = 5
	moodAngry     = 6
	moodNostalgic = 7
	moodParty     = 8
	moodFocus     = 9
)

var moodNames = func() map[int]string {
	m := make(map[int]string, len(defaultMoods))
	for _, mood := range defaultMoods {
		m[mood.ID] = mood.Name
	}
	return m
}()

func newTrackMood(id int, intensity float64) TrackMood {
	return TrackMood{Mood: Mood{ID: id, Name: moodNames[id]}, Intensity: intensity}
}

// classifyMoods applies the threshold rules to a track's features.
// Results are in rule order; a track may match none.
func classifyMoods(f AudioFeatures) []TrackMood {
	moods := []TrackMood{}

	if f.Energy > 0.8 {
		moods = append(moods, newTrackMood(moodEnergetic, f.Energy))
	} else if f.Energy < 0.3 {
		moods = append(moods, newTrackMood(moodRelaxed, 1-f.Energy))
	}

	if f.Valence > 0.7 {
		moods = append(moods, newTrackMood(moodHappy, f.Valence))
	} else if f.Valence < 0.3 {
		moods = append(moods, newTrackMood(moodSad, 1-f.Valence))
	}

	if f.Danceability > 0.7 {
		moods = append(moods, newTrackMood(moodParty, f.Danceability))
	}
	if f.Instrumentalness > 0.7 && f.Energy < 0.6 {
		moods = append(moods, newTrackMood(moodFocus, f.Instrumentalness))
	}
	if f.Acousticness > 0.7 && f.Valence < 0.5 {
		moods = append(moods, newTrackMood(moodNostalgic, f.Acousticness))
	}
	if f.Valence > 0.5 && f.Energy < 0.6 && f.Acousticness > 0.4 {
		moods = append(moods, newTrackMood(moodRomantic, (f.Valence+f.Acousticness)/2))
	}
	return moods
}

// strongestMood returns the name of the most intense mood, or "" when there is none.
func strongestMood(moods []TrackMood) string {
	best := ""
	bestIntensity := -1.0
	for _, m := range moods {
		if m.Intensity > bestIntensity {
			best, bestIntensity = m.Name, m.Intensity
		}
	}
	return best
}

// applyMoodClassification recomputes and stores the moods of one analysed track.
func applyMoodClassification(q dbtx, trackID int) ([]TrackMood, error) {
	t, err := getTrack(q, trackID)
	if err != nil {
		return nil, err
	}
	if !t.Analyzed {
		return nil, invalidf("Track has no audio features to analyse")
	}

	moods := classifyMoods(t.AudioFeatures)
	if _, err := q.Exec(`DELETE FROM track_moods WHERE track_id = ?`, trackID); err != nil {
		return nil, err
	}
	for _, m := range moods {
		if _, err := q.Exec(`INSERT INTO track_moods (track_id, mood_id, intensity) VALUES (?, ?, ?)`, trackID, m.ID, m.Intensity); err != nil {
			return nil, err
		}
	}
	if _, err := q.Exec(`UPDATE tracks SET mood = ?, updated_at = ? WHERE id = ?`, strongestMood(moods), nowRFC3339(), trackID); err != nil {
		return nil, err
	}
	return moods, nil
}

func trackMoods(q dbtx, trackID int) ([]TrackMood, error) {
	rows, err := q.Query(`SELECT m.id, m.name, tm.intensity FROM track_moods tm JOIN moods m ON m.id = tm.mood_id
		WHERE tm.track_id = ? ORDER BY tm.intensity DESC, m.id`, trackID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	moods := []TrackMood{}
	for rows.Next() {
		var m TrackMood
		if err := rows.Scan(&m.ID, &m.Name, &m.Intensity); err != nil {
			return nil, err
		}
		moods = append(moods, m)
	}
	return moods, rows.Err()
}

func requireMood(q dbtx, moodID int) error {
	ok, err := rowExists(q, `SELECT 1 FROM moods WHERE id = ?`, moodID)
	if err != nil {
		return err
	}
	if !ok {
		return notFoundf("Mood not found")
	}
	return nil
}

// MoodTrack is a track returned by mood queries together with its mood intensities.
type MoodTrack struct {
	Track
	MoodIntensity   float64 `json:"mood_intensity"`
	TargetIntensity float64 `json:"target_mood_intensity,omitempty"`
}

// moodRecommendations lists tracks strongly expressing moodID.
func moodRecommendations(q dbtx, moodID, limit int) ([]MoodTrack, error) {
	rows, err := q.Query(`SELECT `+trackColumns+`, tm.intensity`+trackFrom+`
		JOIN track_moods tm ON tm.track_id = t.id
		WHERE tm.mood_id = ? AND tm.intensity > 0.7
		ORDER BY tm.intensity DESC, t.play_count DESC, t.id
		LIMIT ?`, moodID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []MoodTrack{}
	for rows.Next() {
		var mt MoodTrack
		t, err := scanTrack(rows, &mt.MoodIntensity)
		if err != nil {
			return nil, err
		}
		mt.Track = t
		out = append(out, mt)
	}
	return out, rows.Err()
}

// moodTransition builds a chain of tracks that stay in the current mood while
// drifting toward the target: each step is within 0.2 energy and valence of
// the previous track, preferring the strongest target-mood intensity.
func moodTransition(q dbtx, currentMoodID, targetMoodID, limit int) ([]MoodTrack, error) {
	rows, err := q.Query(`SELECT `+trackColumns+`, cur.intensity, COALESCE(tgt.intensity, 0)`+trackFrom+`
		JOIN track_moods cur ON cur.track_id = t.id AND cur.mood_id = ?
		LEFT JOIN track_moods tgt ON tgt.track_id = t.id AND tgt.mood_id = ?
		ORDER BY cur.intensity DESC, t.id`, currentMoodID, targetMoodID)
	if err != nil {
		return nil, err
	}
	var candidates []MoodTrack
	for rows.Next() {
		var mt MoodTrack
		t, err := scanTrack(rows, &mt.MoodIntensity, &mt.TargetIntensity)
		if err != nil {
			rows.Close()
			return nil, err
		}
		mt.Track = t
		candidates = append(candidates, mt)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return chainTransition(candidates, limit), nil
}

// chainTransition runs the greedy walk over candidates ordered by current-mood intensity.
func chainTransition(candidates []MoodTrack, limit int) []MoodTrack {
	chain := []MoodTrack{}
	if limit <= 0 {
		return chain
	}
	used := make(map[int]bool)

	var start *MoodTrack
	for i := range candidates {
		if candidates[i].MoodIntensity > 0.5 {
			start = &candidates[i]
			break
		}
	}
	if start == nil {
		return chain
	}
	chain = append(chain, *start)
	used[start.ID] = true

	for len(chain) < limit {
		prev := chain[len(chain)-1]
		var next []MoodTrack
		for _, c := range candidates {
			if used[c.ID] {
				continue
			}
			if math.Abs(c.Energy-prev.Energy) < 0.2 && math.Abs(c.Valence-prev.Valence) < 0.2 {
				next = append(next, c)
			}
		}
		if len(next) == 0 {
			break
		}
		sort.SliceStable(next, func(i, j int) bool {
			if next[i].TargetIntensity != next[j].TargetIntensity {
				return next[i].TargetIntensity > next[j].TargetIntensity
			}
			return featureStep(prev, next[i]) < featureStep(prev, next[j])
		})
		chain = append(chain, next[0])
		used[next[0].ID] = true
	}
	return chain
}

func featureStep(a, b MoodTrack) float64 {
	return math.Hypot(a.Energy-b.Energy, a.Valence-b.Valence)
}

// setManualMood stores a user-assigned mood intensity for a track.
func setManualMood(q dbtx, trackID, moodID int, intensity float64) error {
	if intensity < 0 || intensity > 1 {
		return invalidf("Intensity must be between 0 and 1")
	}
	if _, err := getTrack(q, trackID); err != nil {
		return err
	}
	if err := requireMood(q, moodID); err != nil {
		return err
	}
	_, err := q.Exec(`INSERT INTO track_moods (track_id, mood_id, intensity) VALUES (?, ?, ?)
		ON CONFLICT(track_id, mood_id) DO UPDATE SET intensity = excluded.intensity`, trackID, moodID, intensity)
	return err
}

func deleteTrackMood(q dbtx, trackID, moodID int) error {
	res, err := q.Exec(`DELETE FROM track_moods WHERE track_id = ? AND mood_id = ?`, trackID, moodID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFoundf("Mood is not assigned to this track")
	}
	return nil
}
