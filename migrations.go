package main

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// schema is applied in order; every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE COLLATE NOCASE,
		email TEXT NOT NULL UNIQUE COLLATE NOCASE,
		password_hash TEXT NOT NULL,
		is_admin INTEGER NOT NULL DEFAULT 0,
		account_status TEXT NOT NULL DEFAULT 'active',
		subscription_tier TEXT NOT NULL DEFAULT 'free',
		total_listening_time INTEGER NOT NULL DEFAULT 0,
		total_songs_played INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT,
		last_login_at TEXT,
		last_active_at TEXT
	);`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY NOT NULL,
		user_id INTEGER NOT NULL,
		client_ip TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		expires_at TEXT NOT NULL,
		revoked INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
	);`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions (user_id);`,
	`CREATE TABLE IF NOT EXISTS user_stats (
		user_id INTEGER PRIMARY KEY NOT NULL,
		followers_count INTEGER NOT NULL DEFAULT 0,
		following_count INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS artists (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE COLLATE NOCASE,
		bio TEXT NOT NULL DEFAULT '',
		image_url TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS albums (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL COLLATE NOCASE,
		artist_id INTEGER NOT NULL,
		release_year INTEGER NOT NULL DEFAULT 0,
		cover_art_url TEXT NOT NULL DEFAULT '',
		cover_path TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		UNIQUE(title, artist_id),
		FOREIGN KEY(artist_id) REFERENCES artists(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS tracks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		artist_id INTEGER NOT NULL,
		album_id INTEGER,
		track_number INTEGER NOT NULL DEFAULT 0,
		genre TEXT NOT NULL DEFAULT '',
		year INTEGER NOT NULL DEFAULT 0,
		duration INTEGER NOT NULL DEFAULT 0,
		path TEXT UNIQUE,
		energy_level REAL NOT NULL DEFAULT 0,
		valence REAL NOT NULL DEFAULT 0,
		danceability REAL NOT NULL DEFAULT 0,
		instrumentalness REAL NOT NULL DEFAULT 0,
		acousticness REAL NOT NULL DEFAULT 0,
		speechiness REAL NOT NULL DEFAULT 0,
		loudness REAL NOT NULL DEFAULT 0,
		tempo REAL NOT NULL DEFAULT 0,
		key_signature TEXT NOT NULL DEFAULT '',
		mood TEXT NOT NULL DEFAULT '',
		play_count INTEGER NOT NULL DEFAULT 0,
		skip_count INTEGER NOT NULL DEFAULT 0,
		like_count INTEGER NOT NULL DEFAULT 0,
		average_rating REAL NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		FOREIGN KEY(artist_id) REFERENCES artists(id) ON DELETE CASCADE,
		FOREIGN KEY(album_id) REFERENCES albums(id) ON DELETE SET NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_tracks_artist ON tracks (artist_id);`,
	`CREATE INDEX IF NOT EXISTS idx_tracks_album ON tracks (album_id, track_number);`,
	`CREATE INDEX IF NOT EXISTS idx_tracks_genre ON tracks (genre);`,
	`CREATE TABLE IF NOT EXISTS playlists (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		visibility TEXT NOT NULL DEFAULT 'private',
		cover_image TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '[]',
		settings TEXT NOT NULL DEFAULT '{}',
		track_count INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(user_id, name),
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS playlist_tracks (
		playlist_id INTEGER NOT NULL,
		track_id INTEGER NOT NULL,
		position INTEGER NOT NULL,
		added_at TEXT NOT NULL,
		added_by INTEGER,
		PRIMARY KEY(playlist_id, track_id),
		FOREIGN KEY(playlist_id) REFERENCES playlists(id) ON DELETE CASCADE,
		FOREIGN KEY(track_id) REFERENCES tracks(id) ON DELETE CASCADE,
		FOREIGN KEY(added_by) REFERENCES users(id) ON DELETE SET NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_playlist_tracks_order ON playlist_tracks (playlist_id, position);`,
	`CREATE TABLE IF NOT EXISTS playlist_collaborators (
		playlist_id INTEGER NOT NULL,
		user_id INTEGER NOT NULL,
		added_at TEXT NOT NULL,
		PRIMARY KEY(playlist_id, user_id),
		FOREIGN KEY(playlist_id) REFERENCES playlists(id) ON DELETE CASCADE,
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS playlist_followers (
		playlist_id INTEGER NOT NULL,
		user_id INTEGER NOT NULL,
		followed_at TEXT NOT NULL,
		PRIMARY KEY(playlist_id, user_id),
		FOREIGN KEY(playlist_id) REFERENCES playlists(id) ON DELETE CASCADE,
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS smart_playlists (
		id TEXT PRIMARY KEY NOT NULL,
		user_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		rules TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		track_count INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		last_updated TEXT NOT NULL,
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS smart_playlist_tracks (
		smart_playlist_id TEXT NOT NULL,
		track_id INTEGER NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY(smart_playlist_id, track_id),
		FOREIGN KEY(smart_playlist_id) REFERENCES smart_playlists(id) ON DELETE CASCADE,
		FOREIGN KEY(track_id) REFERENCES tracks(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS track_ratings (
		user_id INTEGER NOT NULL,
		track_id INTEGER NOT NULL,
		rating REAL NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY(user_id, track_id),
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE,
		FOREIGN KEY(track_id) REFERENCES tracks(id) ON DELETE CASCADE
	);`,
	`CREATE INDEX IF NOT EXISTS idx_track_ratings_track ON track_ratings (track_id);`,
	`CREATE TABLE IF NOT EXISTS listening_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		track_id INTEGER NOT NULL,
		played_at TEXT NOT NULL,
		listening_duration INTEGER NOT NULL DEFAULT 0,
		completion_percentage REAL NOT NULL DEFAULT 0,
		platform TEXT NOT NULL DEFAULT 'web',
		device_type TEXT NOT NULL DEFAULT '',
		listening_context TEXT NOT NULL DEFAULT 'playlist',
		source_playlist_id INTEGER,
		source_album_id INTEGER,
		was_skipped INTEGER NOT NULL DEFAULT 0,
		skip_time INTEGER,
		volume_level INTEGER NOT NULL DEFAULT 100,
		audio_quality TEXT NOT NULL DEFAULT 'normal',
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE,
		FOREIGN KEY(track_id) REFERENCES tracks(id) ON DELETE CASCADE
	);`,
	`CREATE INDEX IF NOT EXISTS idx_listening_history_user_played ON listening_history (user_id, played_at DESC);`,
	`CREATE INDEX IF NOT EXISTS idx_listening_history_track ON listening_history (track_id);`,
	`CREATE TABLE IF NOT EXISTS search_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		query_params TEXT NOT NULL,
		results_count INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS track_tags (
		track_id INTEGER NOT NULL,
		tag_name TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT 'user',
		created_at TEXT NOT NULL,
		PRIMARY KEY(track_id, tag_name),
		FOREIGN KEY(track_id) REFERENCES tracks(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS moods (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL UNIQUE
	);`,
	`CREATE TABLE IF NOT EXISTS track_moods (
		track_id INTEGER NOT NULL,
		mood_id INTEGER NOT NULL,
		intensity REAL NOT NULL,
		PRIMARY KEY(track_id, mood_id),
		FOREIGN KEY(track_id) REFERENCES tracks(id) ON DELETE CASCADE,
		FOREIGN KEY(mood_id) REFERENCES moods(id) ON DELETE CASCADE
	);`,
	`CREATE INDEX IF NOT EXISTS idx_track_moods_mood ON track_moods (mood_id, intensity DESC);`,
	`CREATE TABLE IF NOT EXISTS comments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		target_type TEXT NOT NULL,
		target_id INTEGER NOT NULL,
		content TEXT NOT NULL,
		timestamp_reference INTEGER,
		is_public INTEGER NOT NULL DEFAULT 1,
		moderation_status TEXT NOT NULL DEFAULT 'approved',
		language TEXT NOT NULL DEFAULT 'en',
		like_count INTEGER NOT NULL DEFAULT 0,
		reply_count INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
	);`,
	`CREATE INDEX IF NOT EXISTS idx_comments_target ON comments (target_type, target_id, created_at DESC);`,
	`CREATE TABLE IF NOT EXISTS comment_replies (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		comment_id INTEGER NOT NULL,
		user_id INTEGER NOT NULL,
		content TEXT NOT NULL,
		like_count INTEGER NOT NULL DEFAULT 0,
		is_flagged INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		FOREIGN KEY(comment_id) REFERENCES comments(id) ON DELETE CASCADE,
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS user_follows (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		follower_id INTEGER NOT NULL,
		following_id INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE(follower_id, following_id),
		FOREIGN KEY(follower_id) REFERENCES users(id) ON DELETE CASCADE,
		FOREIGN KEY(following_id) REFERENCES users(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		type TEXT NOT NULL,
		data TEXT NOT NULL DEFAULT '{}',
		is_read INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
	);`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications (user_id, is_read, created_at DESC);`,
	`CREATE TABLE IF NOT EXISTS shares (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		content_type TEXT NOT NULL,
		content_id INTEGER NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		recipient_id INTEGER,
		created_at TEXT NOT NULL,
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE,
		FOREIGN KEY(recipient_id) REFERENCES users(id) ON DELETE SET NULL
	);`,
	`CREATE TABLE IF NOT EXISTS dj_mixes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		duration INTEGER NOT NULL,
		bpm_range TEXT NOT NULL DEFAULT '',
		mix_type TEXT NOT NULL,
		genre_tags TEXT NOT NULL DEFAULT '[]',
		file_path TEXT NOT NULL DEFAULT '',
		play_count INTEGER NOT NULL DEFAULT 0,
		like_count INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS mix_tracklist (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		mix_id INTEGER NOT NULL,
		track_id INTEGER NOT NULL,
		position INTEGER NOT NULL,
		start_time INTEGER NOT NULL DEFAULT 0,
		end_time INTEGER NOT NULL DEFAULT 0,
		transition_type TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		FOREIGN KEY(mix_id) REFERENCES dj_mixes(id) ON DELETE CASCADE,
		FOREIGN KEY(track_id) REFERENCES tracks(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS collaboration_projects (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		creator_id INTEGER NOT NULL,
		project_type TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'open',
		deadline TEXT,
		description TEXT NOT NULL DEFAULT '',
		source_track_id INTEGER,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		FOREIGN KEY(creator_id) REFERENCES users(id) ON DELETE CASCADE,
		FOREIGN KEY(source_track_id) REFERENCES tracks(id) ON DELETE SET NULL
	);`,
	`CREATE TABLE IF NOT EXISTS project_contributions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id INTEGER NOT NULL,
		user_id INTEGER NOT NULL,
		contribution_type TEXT NOT NULL,
		file_path TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'submitted',
		created_at TEXT NOT NULL,
		reviewed_at TEXT,
		FOREIGN KEY(project_id) REFERENCES collaboration_projects(id) ON DELETE CASCADE,
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS devices (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		device_name TEXT NOT NULL,
		device_type TEXT NOT NULL DEFAULT '',
		platform TEXT NOT NULL DEFAULT '',
		device_token TEXT NOT NULL UNIQUE,
		is_active INTEGER NOT NULL DEFAULT 1,
		last_seen_at TEXT NOT NULL,
		created_at TEXT NOT NULL,
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS user_preferences (
		user_id INTEGER PRIMARY KEY NOT NULL,
		preferences TEXT NOT NULL DEFAULT '{}',
		updated_at TEXT NOT NULL,
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS email_schedules (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		email_type TEXT NOT NULL,
		frequency TEXT NOT NULL,
		next_send_date TEXT NOT NULL,
		last_sent_at TEXT,
		is_active INTEGER NOT NULL DEFAULT 1,
		UNIQUE(user_id, email_type),
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS email_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		email_type TEXT NOT NULL,
		email_data TEXT NOT NULL DEFAULT '{}',
		status TEXT NOT NULL,
		error_message TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS library_paths (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		path TEXT UNIQUE NOT NULL,
		track_count INTEGER NOT NULL DEFAULT 0,
		last_scan_ended TEXT
	);`,
	`CREATE TABLE IF NOT EXISTS scan_status (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		is_scanning INTEGER NOT NULL DEFAULT 0,
		tracks_added INTEGER NOT NULL DEFAULT 0,
		last_update_time TEXT
	);`,
	`INSERT OR IGNORE INTO scan_status (id, is_scanning, tracks_added) VALUES (1, 0, 0);`,
	`CREATE TABLE IF NOT EXISTS configuration (
		key TEXT PRIMARY KEY NOT NULL,
		value TEXT
	);`,
}

// Columns added after the first release; older databases get them via ALTER TABLE.
var columnUpgrades = []struct {
	table, column, definition string
}{
	{"users", "display_name", "TEXT NOT NULL DEFAULT ''"},
	{"users", "bio", "TEXT NOT NULL DEFAULT ''"},
	{"users", "avatar_url", "TEXT NOT NULL DEFAULT ''"},
	{"users", "email_verified", "INTEGER NOT NULL DEFAULT 0"},
	{"tracks", "time_signature", "INTEGER NOT NULL DEFAULT 4"},
	{"tracks", "analyzed", "INTEGER NOT NULL DEFAULT 0"},
}

// defaultMoods are the fixed mood ids referenced by classification.
var defaultMoods = []Mood{
	{ID: 1, Name: "Happy"},
	{ID: 2, Name: "Sad"},
	{ID: 3, Name: "Energetic"},
	{ID: 4, Name: "Relaxed"},
	{ID: 5, Name: "Romantic"},
	{ID: 6, Name: "Angry"},
	{ID: 7, Name: "Nostalgic"},
	{ID: 8, Name: "Party"},
	{ID: 9, Name: "Focus"},
}

// migrateDB performs lightweight, idempotent schema migrations
// to bring older databases up-to-date without destroying existing data.
func migrateDB() error {
	if db == nil {
		return nil
	}

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrateDB: %w (statement: %.60s)", err, strings.TrimSpace(stmt))
		}
	}

	for _, up := range columnUpgrades {
		if err := ensureColumnExists(db, up.table, up.column, up.definition); err != nil {
			return fmt.Errorf("migrateDB: ensureColumnExists %s.%s: %w", up.table, up.column, err)
		}
	}

	for _, m := range defaultMoods {
		if _, err := db.Exec(`INSERT OR IGNORE INTO moods (id, name) VALUES (?, ?)`, m.ID, m.Name); err != nil {
			return fmt.Errorf("migrateDB: seed mood %s: %w", m.Name, err)
		}
	}

	// Users created before user_stats existed need a counter row.
	if _, err := db.Exec(`INSERT OR IGNORE INTO user_stats (user_id) SELECT id FROM users`); err != nil {
		return fmt.Errorf("migrateDB: backfill user_stats: %w", err)
	}

	logger.Debug("migrateDB: completed migrations (idempotent)")
	return nil
}

// ensureColumnExists will attempt to add a column to a table if it doesn't exist.
func ensureColumnExists(db *sql.DB, table, column, definition string) error {
	exists, err := columnExists(db, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s;", table, column, definition))
	if err != nil && (strings.Contains(err.Error(), "duplicate column name") || strings.Contains(err.Error(), "already exists")) {
		return nil
	}
	return err
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ensureDefaultAdmin creates the primary admin account on an empty database.
func ensureDefaultAdmin(password string) error {
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hashed, err := hashPassword(password)
	if err != nil {
		return err
	}
	now := nowRFC3339()
	res, err := db.Exec(`INSERT INTO users (username, email, password_hash, is_admin, created_at, updated_at)
		VALUES ('admin', 'admin@localhost', ?, 1, ?, ?)`, hashed, now, now)
	if err != nil {
		return fmt.Errorf("could not create default admin user: %w", err)
	}
	id, _ := res.LastInsertId()
	if _, err := db.Exec(`INSERT OR IGNORE INTO user_stats (user_id) VALUES (?)`, id); err != nil {
		return err
	}
	logger.Warn("Default admin user created; change its password after first login")
	return nil
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
