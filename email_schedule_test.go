package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestNextSendDate(t *testing.T) {
	wednesday := time.Date(2024, 1, 3, 15, 30, 0, 0, time.UTC)
	monday := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	cases := []struct {
		freq string
		from time.Time
		want string
	}{
		{"daily", wednesday, "2024-01-04"},
		{"weekly", wednesday, "2024-01-08"},
		{"weekly", monday, "2024-01-08"},
		{"monthly", time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), "2024-02-01"},
		{"monthly", time.Date(2024, 12, 15, 0, 0, 0, 0, time.UTC), "2025-01-01"},
	}
	for _, tc := range cases {
		got, err := nextSendDate(tc.freq, tc.from)
		if err != nil {
			t.Fatalf("%s: %v", tc.freq, err)
		}
		if got.Format(dateLayout) != tc.want {
			t.Errorf("nextSendDate(%s, %s) = %s, want %s", tc.freq, tc.from.Format(dateLayout), got.Format(dateLayout), tc.want)
		}
	}
	if _, err := nextSendDate("hourly", wednesday); err == nil {
		t.Fatal("expected an error for an unknown frequency")
	}
}

type recordingMailer struct {
	sent []MailMessage
	fail bool
}

func (m *recordingMailer) Send(_ context.Context, msg MailMessage) error {
	if m.fail {
		return errors.New("smtp unavailable")
	}
	m.sent = append(m.sent, msg)
	return nil
}

func useMailer(t *testing.T, m Mailer) {
	prev := mailer
	mailer = m
	t.Cleanup(func() { mailer = prev })
}

func TestProcessDueEmails(t *testing.T) {
	setupTestDB(t)
	rec := &recordingMailer{}
	useMailer(t, rec)

	due := createTestUser(t, "due", false)
	later := createTestUser(t, "later", false)
	track := createTestTrack(t, testTrack{Title: "Windowlicker", Artist: "Aphex Twin", Duration: 360})
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	db.Exec(`INSERT INTO listening_history (user_id, track_id, played_at, listening_duration, completion_percentage) VALUES (?, ?, ?, 360, 100)`,
		due, track, now.Add(-2*time.Hour).Format(time.RFC3339))
	db.Exec(`INSERT INTO email_schedules (user_id, email_type, frequency, next_send_date, is_active) VALUES (?, 'listening_digest', 'weekly', '2024-03-10', 1)`, due)
	db.Exec(`INSERT INTO email_schedules (user_id, email_type, frequency, next_send_date, is_active) VALUES (?, 'listening_digest', 'weekly', '2024-03-11', 1)`, later)

	sent, failed, err := processDueEmails(context.Background(), now)
	if err != nil {
		t.Fatalf("processDueEmails: %v", err)
	}
	if sent != 1 || failed != 0 || len(rec.sent) != 1 {
		t.Fatalf("sent=%d failed=%d mails=%d", sent, failed, len(rec.sent))
	}
	if rec.sent[0].To != "due@example.com" || !strings.Contains(rec.sent[0].HTML, "Windowlicker") {
		t.Fatalf("unexpected message %+v", rec.sent[0])
	}

	var next string
	db.QueryRow(`SELECT next_send_date FROM email_schedules WHERE user_id = ?`, due).Scan(&next)
	if next != "2024-03-11" {
		t.Fatalf("next_send_date = %s, want the following Monday", next)
	}
	var logs int
	db.QueryRow(`SELECT COUNT(*) FROM email_logs WHERE user_id = ? AND status = 'sent'`, due).Scan(&logs)
	if logs != 1 {
		t.Fatalf("expected one email log, got %d", logs)
	}

	// nothing is due twice on the same day
	if sent, _, _ := processDueEmails(context.Background(), now); sent != 0 {
		t.Fatalf("expected no repeat delivery, sent %d", sent)
	}
}

func TestProcessDueEmailsRecordsFailures(t *testing.T) {
	setupTestDB(t)
	useMailer(t, &recordingMailer{fail: true})
	user := createTestUser(t, "unlucky", false)
	db.Exec(`INSERT INTO email_schedules (user_id, email_type, frequency, next_send_date, is_active) VALUES (?, 'listening_digest', 'daily', '2024-01-01', 1)`, user)

	sent, failed, err := processDueEmails(context.Background(), time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
	if err != nil || sent != 0 || failed != 1 {
		t.Fatalf("sent=%d failed=%d err=%v", sent, failed, err)
	}
	var msg string
	db.QueryRow(`SELECT error_message FROM email_logs WHERE status = 'failed'`).Scan(&msg)
	if msg != "smtp unavailable" {
		t.Fatalf("unexpected error message %q", msg)
	}
}

func TestPutEmailScheduleValidates(t *testing.T) {
	setupTestDB(t)
	token := authToken(t, createTestUser(t, "scheduler", false))
	r := newTestRouter()

	w, _ := doJSON(t, r, http.MethodPut, "/api/email_schedules", token, map[string]string{"email_type": "spam", "frequency": "daily"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unknown email type: status %d", w.Code)
	}
	w, resp := doJSON(t, r, http.MethodPut, "/api/email_schedules", token, map[string]string{"email_type": "recommendations", "frequency": "weekly"})
	if w.Code != http.StatusOK || resp["next_send_date"] == nil {
		t.Fatalf("save schedule: %d %v", w.Code, resp)
	}
	w, resp = doJSON(t, r, http.MethodGet, "/api/email_schedules", token, nil)
	list, _ := resp["data"].([]interface{})
	if w.Code != http.StatusOK || len(list) != 1 {
		t.Fatalf("expected one schedule, got %d %v", w.Code, resp)
	}
}
