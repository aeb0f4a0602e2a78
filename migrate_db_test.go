package main

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func tableColumns(t *testing.T, conn *sql.DB, table string) map[string]bool {
	t.Helper()
	rows, err := conn.Query(`SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		t.Fatalf("pragma %s failed: %v", table, err)
	}
	defer rows.Close()
	cols := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("scan column: %v", err)
		}
		cols[name] = true
	}
	return cols
}

func TestMigrateDB_IdempotentAndCreatesExpectedTables(t *testing.T) {
	conn := setupTestDB(t)

	// setupTestDB already migrated once
	if err := migrateDB(); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}

	for _, table := range []string{"users", "sessions", "tracks", "playlists", "smart_playlists", "listening_history",
		"comments", "comment_replies", "dj_mixes", "mix_tracklist", "collaboration_projects", "project_contributions",
		"devices", "user_preferences", "email_schedules", "library_paths", "scan_status"} {
		if len(tableColumns(t, conn, table)) == 0 {
			t.Errorf("expected table %s to exist", table)
		}
	}

	users := tableColumns(t, conn, "users")
	for _, col := range []string{"display_name", "bio", "avatar_url", "email_verified"} {
		if !users[col] {
			t.Errorf("expected users.%s, got cols=%v", col, users)
		}
	}
	if tracks := tableColumns(t, conn, "tracks"); !tracks["time_signature"] || !tracks["analyzed"] {
		t.Errorf("expected upgraded tracks columns, got cols=%v", tracks)
	}

	var moods int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM moods`).Scan(&moods); err != nil {
		t.Fatal(err)
	}
	if moods != len(defaultMoods) {
		t.Fatalf("expected %d seeded moods after two migrations, got %d", len(defaultMoods), moods)
	}
}

func TestMigrateDB_UpgradesOlderUsersTable(t *testing.T) {
	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	conn.SetMaxOpenConns(1)

	prev := db
	db = conn
	defer func() { db = prev }()

	// a users table from before profile columns and user_stats existed
	if _, err := conn.Exec(`CREATE TABLE users (
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
	)`); err != nil {
		t.Fatal(err)
	}
	if _, err := conn.Exec(`INSERT INTO users (username, email, password_hash, created_at) VALUES ('old', 'old@example.com', 'x', '2020-01-01T00:00:00Z')`); err != nil {
		t.Fatal(err)
	}

	if err := migrateDB(); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	if !tableColumns(t, conn, "users")["display_name"] {
		t.Fatal("expected display_name to be added")
	}
	var stats int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM user_stats`).Scan(&stats); err != nil || stats != 1 {
		t.Fatalf("expected a backfilled user_stats row, got %d (%v)", stats, err)
	}
}

func TestEnsureDefaultAdmin(t *testing.T) {
	setupTestDB(t)

	if err := ensureDefaultAdmin("admin"); err != nil {
		t.Fatal(err)
	}
	if err := ensureDefaultAdmin("other"); err != nil {
		t.Fatal(err)
	}
	var count int
	var hash string
	if err := db.QueryRow(`SELECT COUNT(*), MAX(password_hash) FROM users WHERE is_admin = 1`).Scan(&count, &hash); err != nil {
		t.Fatal(err)
	}
	if count != 1 || !checkPasswordHash("admin", hash) {
		t.Fatalf("expected exactly one admin with the first password, count=%d", count)
	}
}
