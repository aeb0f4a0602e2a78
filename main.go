package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/mattn/go-sqlite3"
	"github.com/robfig/cron/v3"
)

const version = "1.4.0"

var db *sql.DB
var appConfig = DefaultConfig()
var isScanCancelled atomic.Bool // signals a running library scan to stop
var scheduler *cron.Cron

func main() {
	configPath := flag.String("config", "config.toml", "path to the TOML configuration file")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	appConfig = cfg
	configureLogger(cfg.Logging)
	if cfg.Security.JWTSecret == "change-me" {
		logger.Warn("Using the default JWT secret; set security.jwt_secret or INX_JWT_SECRET")
	}

	db, err = openDB(cfg.Database)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open database")
	}
	defer db.Close()

	if err := migrateDB(); err != nil {
		logger.WithError(err).Fatal("Database migration failed")
	}
	if err := ensureDefaultAdmin(cfg.Security.DefaultAdminPassword); err != nil {
		logger.WithError(err).Fatal("Failed to create default admin")
	}
	if err := syncConfiguredLibraryPaths(cfg.Library.Paths); err != nil {
		logger.WithError(err).Fatal("Failed to register library paths")
	}
	// a scan cannot survive a restart
	if _, err := db.Exec("UPDATE scan_status SET is_scanning = 0 WHERE id = 1"); err != nil {
		logger.WithError(err).Fatal("Failed to reset scan status on startup")
	}

	mailer = newMailer(cfg.Mail)
	if err := startScheduler(cfg); err != nil {
		logger.WithError(err).Fatal("Failed to start scheduler")
	}
	defer scheduler.Stop()

	if cfg.Library.WatchForChanges {
		if err := startLibraryWatcher(); err != nil {
			logger.WithError(err).Error("Library watcher disabled")
		} else {
			defer libraryWatch.Close()
		}
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           setupRouter(cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.WithField("listen", cfg.Server.Listen).Info("InX Music server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down")
	isScanCancelled.Store(true)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeoutSeconds)*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Graceful shutdown failed")
	}
}

// openDB opens the sqlite database in WAL mode with foreign keys enforced.
func openDB(cfg DatabaseConfig) (*sql.DB, error) {
	conn, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		conn.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func corsMiddleware(origin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Session-ID")
		if origin != "*" {
			c.Header("Access-Control-Allow-Credentials", "true")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func healthCheck(c *gin.Context) {
	status := "ok"
	if err := db.PingContext(c.Request.Context()); err != nil {
		status = "database unavailable"
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "status": status, "version": version})
		return
	}
	respondWith(c, http.StatusOK, gin.H{"status": status, "version": version})
}

func setupRouter(cfg *Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(loggingMiddleware())
	r.Use(corsMiddleware(cfg.Server.CORSOrigin))

	api := r.Group("/api")
	api.GET("/health", healthCheck)
	api.POST("/register", registerUser)
	api.POST("/login", loginUser)

	auth := api.Group("")
	auth.Use(AuthMiddleware())
	{
		auth.POST("/logout", logoutUser)
		auth.POST("/change_password", changePassword)
		auth.GET("/me", getMe)
		auth.PUT("/me", updateMe)

		auth.GET("/artists", listArtists)
		auth.GET("/artists/:id", getArtist)
		auth.GET("/albums", listAlbums)
		auth.GET("/albums/:id", getAlbum)
		auth.GET("/albums/:id/cover", getAlbumCover)
		auth.GET("/tracks", listTracks)
		auth.GET("/tracks/:id", getTrackHandler)
		auth.GET("/tracks/:id/stream", streamTrack)
		auth.GET("/library/counts", getLibraryCounts)

		auth.POST("/playlists", createPlaylist)
		auth.GET("/playlists", getPlaylists)
		auth.GET("/playlists/:id", getPlaylist)
		auth.PUT("/playlists/:id", updatePlaylist)
		auth.DELETE("/playlists/:id", deletePlaylist)
		auth.POST("/playlists/:id/rename", renamePlaylist)
		auth.POST("/playlists/:id/tracks", addPlaylistTracks)
		auth.DELETE("/playlists/:id/tracks", removePlaylistTracksHandler)
		auth.PUT("/playlists/:id/order", reorderPlaylist)
		auth.POST("/playlists/:id/collaborators", addPlaylistCollaborator)
		auth.DELETE("/playlists/:id/collaborators", removePlaylistCollaborator)
		auth.POST("/playlists/:id/follow", followPlaylist)
		auth.DELETE("/playlists/:id/follow", unfollowPlaylist)

		auth.POST("/smart_library", smartLibrary)
		auth.POST("/smart_playlists", postSmartPlaylist)
		auth.GET("/smart_playlists", getSmartPlaylists)
		auth.POST("/smart_playlists/:id/refresh", refreshSmartPlaylistHandler)
		auth.DELETE("/smart_playlists/:id", deleteSmartPlaylist)

		auth.GET("/track_ratings", getTrackRating)
		auth.POST("/track_ratings", putTrackRating)
		auth.PUT("/track_ratings", putTrackRating)

		auth.POST("/mood_detection", moodDetection)
		auth.GET("/moods", listMoods)
		auth.GET("/track_moods", getTrackMoods)
		auth.POST("/track_moods", postTrackMood)
		auth.DELETE("/track_moods", deleteTrackMoodHandler)

		auth.GET("/trending", getTrending)
		auth.POST("/music_discovery", musicDiscovery)
		auth.POST("/listening_history", listeningHistoryHandler)
		auth.GET("/analytics/dashboard", getDashboard)
		auth.GET("/artist_stats/:id", getArtistStats)

		auth.POST("/social", socialHandler)
		auth.GET("/notifications", getNotifications)
		auth.POST("/notifications/read", markNotificationsRead)

		auth.GET("/comments", getComments)
		auth.POST("/comments", postComment)
		auth.DELETE("/comments", deleteComment)

		auth.GET("/dj_mixes", getMixes)
		auth.POST("/dj_mixes", postMix)
		auth.PUT("/dj_mixes", putMix)
		auth.DELETE("/dj_mixes", deleteMix)

		auth.GET("/collaborations", getCollaborations)
		auth.POST("/collaborations", postCollaboration)
		auth.PUT("/collaborations", putCollaboration)
		auth.DELETE("/collaborations", deleteCollaboration)

		auth.GET("/devices", getDevices)
		auth.POST("/devices", postDevice)
		auth.PUT("/devices", putDevice)
		auth.DELETE("/devices", deleteDevice)
		auth.POST("/user_preferences", userPreferencesHandler)
		auth.GET("/email_schedules", getEmailSchedules)
		auth.PUT("/email_schedules", putEmailSchedule)
	}

	admin := api.Group("/admin")
	admin.Use(AuthMiddleware(), adminOnly())
	{
		admin.GET("/users", adminListUsers)
		admin.PUT("/users/:id/status", adminSetUserStatus)
		admin.DELETE("/users/:id", adminDeleteUser)

		admin.POST("/tracks", adminCreateTrack)
		admin.PUT("/tracks/:id", adminUpdateTrack)
		admin.DELETE("/tracks/:id", adminDeleteTrack)

		admin.POST("/scan", startAdminScan)
		admin.GET("/scan", getScanStatus)
		admin.POST("/scan/cancel", cancelAdminScan)
		admin.GET("/library_paths", getLibraryPaths)
		admin.POST("/library_paths", addLibraryPath)
		admin.PUT("/library_paths/:id", updateLibraryPath)
		admin.DELETE("/library_paths/:id", deleteLibraryPath)
		admin.GET("/browse", browseFiles)
	}

	return r
}
