package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const dateLayout = "2006-01-02"

var emailTypes = map[string]bool{"listening_digest": true, "recommendations": true}

// nextSendDate returns the next delivery day after from: tomorrow, the following Monday or the first of next month.
func nextSendDate(frequency string, from time.Time) (time.Time, error) {
	day := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	switch frequency {
	case "daily":
		return day.AddDate(0, 0, 1), nil
	case "weekly":
		ahead := (int(time.Monday) - int(day.Weekday()) + 7) % 7
		if ahead == 0 {
			ahead = 7
		}
		return day.AddDate(0, 0, ahead), nil
	case "monthly":
		return time.Date(day.Year(), day.Month()+1, 1, 0, 0, 0, 0, time.UTC), nil
	default:
		return time.Time{}, invalidf("Frequency must be daily, weekly or monthly")
	}
}

func periodDays(frequency string) int {
	switch frequency {
	case "weekly":
		return 7
	case "monthly":
		return 30
	default:
		return 1
	}
}

func periodName(frequency string) string {
	switch frequency {
	case "weekly":
		return "weekly"
	case "monthly":
		return "monthly"
	default:
		return "daily"
	}
}

// processDueEmails sends every active schedule whose next_send_date is today or earlier.
func processDueEmails(ctx context.Context, now time.Time) (sent, failed int, err error) {
	rows, err := db.QueryContext(ctx, `
		SELECT es.id, es.user_id, es.email_type, es.frequency, u.username, u.email
		FROM email_schedules es JOIN users u ON u.id = es.user_id
		WHERE es.is_active = 1 AND u.account_status = 'active' AND es.next_send_date <= ?`,
		now.UTC().Format(dateLayout))
	if err != nil {
		return 0, 0, err
	}
	type due struct {
		id, userID                        int
		emailType, frequency, name, email string
	}
	var pending []due
	for rows.Next() {
		var d due
		if err := rows.Scan(&d.id, &d.userID, &d.emailType, &d.frequency, &d.name, &d.email); err != nil {
			rows.Close()
			return 0, 0, err
		}
		pending = append(pending, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, 0, err
	}

	for _, d := range pending {
		if ctx.Err() != nil {
			return sent, failed, ctx.Err()
		}
		msg, data, buildErr := buildScheduledEmail(d.userID, d.email, d.name, d.emailType, d.frequency, now)
		status, errMsg := "sent", ""
		if buildErr == nil {
			buildErr = mailer.Send(ctx, msg)
		}
		if buildErr != nil {
			status, errMsg = "failed", buildErr.Error()
			failed++
			logger.WithError(buildErr).WithFields(logrus.Fields{"user_id": d.userID, "email_type": d.emailType}).Warn("scheduled email failed")
		} else {
			sent++
		}

		if _, err := db.ExecContext(ctx, `INSERT INTO email_logs (user_id, email_type, email_data, status, error_message, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			d.userID, d.emailType, encodeJSON(data), status, errMsg, nowRFC3339()); err != nil {
			return sent, failed, err
		}

		next, _ := nextSendDate(d.frequency, now)
		if _, err := db.ExecContext(ctx, `UPDATE email_schedules SET next_send_date = ?, last_sent_at = ? WHERE id = ?`,
			next.Format(dateLayout), nowRFC3339(), d.id); err != nil {
			return sent, failed, err
		}
	}
	return sent, failed, nil
}

func buildScheduledEmail(userID int, email, username, emailType, frequency string, now time.Time) (MailMessage, interface{}, error) {
	switch emailType {
	case "recommendations":
		tracks, err := recommendTracks(db, userID, 10)
		if err != nil {
			return MailMessage{}, nil, err
		}
		stats := DigestStats{Period: periodName(frequency)}
		for _, t := range tracks {
			stats.TopTracks = append(stats.TopTracks, fmt.Sprintf("%s - %s", t.Artist, t.Title))
		}
		msg := digestMessage(email, username, stats)
		msg.Subject = "New music picked for you"
		return msg, stats, nil
	default:
		stats, err := digestStats(userID, frequency, now)
		if err != nil {
			return MailMessage{}, nil, err
		}
		return digestMessage(email, username, stats), stats, nil
	}
}

func digestStats(userID int, frequency string, now time.Time) (DigestStats, error) {
	since := now.UTC().AddDate(0, 0, -periodDays(frequency)).Format(time.RFC3339)
	stats := DigestStats{Period: periodName(frequency)}

	var seconds int
	if err := db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(listening_duration), 0) FROM listening_history WHERE user_id = ? AND played_at >= ?`,
		userID, since).Scan(&stats.Plays, &seconds); err != nil {
		return stats, err
	}
	stats.ListeningMins = seconds / 60

	top := func(query string, dst *[]string) error {
		rows, err := db.Query(query, userID, since)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var s string
			if err := rows.Scan(&s); err != nil {
				return err
			}
			*dst = append(*dst, s)
		}
		return rows.Err()
	}
	if err := top(`SELECT ar.name || ' - ' || t.title FROM listening_history lh
		JOIN tracks t ON t.id = lh.track_id JOIN artists ar ON ar.id = t.artist_id
		WHERE lh.user_id = ? AND lh.played_at >= ? GROUP BY t.id ORDER BY COUNT(*) DESC, t.title LIMIT 5`, &stats.TopTracks); err != nil {
		return stats, err
	}
	if err := top(`SELECT ar.name FROM listening_history lh
		JOIN tracks t ON t.id = lh.track_id JOIN artists ar ON ar.id = t.artist_id
		WHERE lh.user_id = ? AND lh.played_at >= ? GROUP BY ar.id ORDER BY COUNT(*) DESC, ar.name LIMIT 5`, &stats.TopArtists); err != nil {
		return stats, err
	}
	return stats, nil
}

// --- Handlers ---

func getEmailSchedules(c *gin.Context) {
	rows, err := db.Query(`SELECT id, user_id, email_type, frequency, next_send_date, COALESCE(last_sent_at, ''), is_active
		FROM email_schedules WHERE user_id = ? ORDER BY email_type`, c.GetInt("userID"))
	if err != nil {
		respondError(c, err)
		return
	}
	defer rows.Close()

	schedules := []EmailSchedule{}
	for rows.Next() {
		var s EmailSchedule
		if err := rows.Scan(&s.ID, &s.UserID, &s.EmailType, &s.Frequency, &s.NextSendDate, &s.LastSentAt, &s.IsActive); err != nil {
			respondError(c, err)
			return
		}
		schedules = append(schedules, s)
	}
	respondOK(c, schedules)
}

func putEmailSchedule(c *gin.Context) {
	var req struct {
		EmailType string `json:"email_type"`
		Frequency string `json:"frequency"`
		IsActive  *bool  `json:"is_active"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondMessage(c, http.StatusBadRequest, "Invalid input")
		return
	}
	if !emailTypes[req.EmailType] {
		respondError(c, invalidf("Unknown email type: %s", req.EmailType))
		return
	}
	next, err := nextSendDate(req.Frequency, time.Now())
	if err != nil {
		respondError(c, err)
		return
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	_, err = db.Exec(`INSERT INTO email_schedules (user_id, email_type, frequency, next_send_date, is_active)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, email_type) DO UPDATE SET frequency = excluded.frequency,
			next_send_date = excluded.next_send_date, is_active = excluded.is_active`,
		c.GetInt("userID"), req.EmailType, req.Frequency, next.Format(dateLayout), boolToInt(active))
	if err != nil {
		respondError(c, err)
		return
	}
	respondWith(c, http.StatusOK, gin.H{"message": "Email schedule saved", "next_send_date": next.Format(dateLayout)})
}
