package main

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
)

const maxShareMessageLength = 500

var shareableTypes = map[string]bool{"track": true, "playlist": true, "album": true}

// notify stores a notification for userID; data is serialised as JSON.
func notify(q dbtx, userID int, typ string, data gin.H) error {
	_, err := q.Exec(`INSERT INTO notifications (user_id, type, data, created_at) VALUES (?, ?, ?, ?)`,
		userID, typ, encodeJSON(data), nowRFC3339())
	return err
}

func followUser(q dbtx, followerID, targetID int) error {
	if followerID == targetID {
		return invalidf("You cannot follow yourself")
	}
	ok, err := rowExists(q, `SELECT 1 FROM users WHERE id = ? AND account_status = 'active'`, targetID)
	if err != nil {
		return err
	}
	if !ok {
		return notFoundf("User not found")
	}
	res, err := q.Exec(`INSERT OR IGNORE INTO user_follows (follower_id, following_id, created_at) VALUES (?, ?, ?)`,
		followerID, targetID, nowRFC3339())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return conflictf("You already follow this user")
	}
	if err := adjustFollowCounts(q, followerID, targetID, 1); err != nil {
		return err
	}
	return notify(q, targetID, "new_follower", gin.H{"follower_id": followerID})
}

func unfollowUser(q dbtx, followerID, targetID int) error {
	res, err := q.Exec(`DELETE FROM user_follows WHERE follower_id = ? AND following_id = ?`, followerID, targetID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return invalidf("You are not following this user")
	}
	return adjustFollowCounts(q, followerID, targetID, -1)
}

func adjustFollowCounts(q dbtx, followerID, targetID, delta int) error {
	if _, err := q.Exec(`UPDATE user_stats SET followers_count = MAX(followers_count + ?, 0) WHERE user_id = ?`, delta, targetID); err != nil {
		return err
	}
	_, err := q.Exec(`UPDATE user_stats SET following_count = MAX(following_count + ?, 0) WHERE user_id = ?`, delta, followerID)
	return err
}

type ShareRequest struct {
	ContentType string `json:"content_type"`
	ContentID   int    `json:"content_id"`
	Message     string `json:"message"`
	RecipientID int    `json:"recipient_id"`
}

// shareContent records a share and notifies the recipient, or every follower when there is none.
func shareContent(q dbtx, userID int, req ShareRequest) (int, error) {
	if !shareableTypes[req.ContentType] {
		return 0, invalidf("content_type must be track, playlist or album")
	}
	if req.ContentID <= 0 {
		return 0, invalidf("content_id is required")
	}
	if req.ContentType == "playlist" {
		access, err := loadPlaylistAccess(q, req.ContentID, userID)
		if err != nil {
			return 0, err
		}
		if err := access.requireRead(); err != nil {
			return 0, err
		}
	} else {
		ok, err := targetExists(q, req.ContentType, req.ContentID)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, notFoundf("Shared content does not exist")
		}
	}
	msg := sanitizeText(req.Message)
	if utf8.RuneCountInString(msg) > maxShareMessageLength {
		return 0, invalidf("Message must be at most %d characters", maxShareMessageLength)
	}
	if req.RecipientID > 0 {
		ok, err := rowExists(q, `SELECT 1 FROM users WHERE id = ? AND account_status = 'active'`, req.RecipientID)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, notFoundf("Recipient not found")
		}
	}

	res, err := q.Exec(`INSERT INTO shares (user_id, content_type, content_id, message, recipient_id, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		userID, req.ContentType, req.ContentID, msg, nullIfZero(req.RecipientID), nowRFC3339())
	if err != nil {
		return 0, err
	}
	id, _ := res.LastInsertId()
	data := gin.H{"share_id": id, "user_id": userID, "content_type": req.ContentType, "content_id": req.ContentID}

	if req.RecipientID > 0 {
		return int(id), notify(q, req.RecipientID, "content_shared", data)
	}
	_, err = q.Exec(`INSERT INTO notifications (user_id, type, data, created_at)
		SELECT follower_id, 'new_share', ?, ? FROM user_follows WHERE following_id = ?`,
		encodeJSON(data), nowRFC3339(), userID)
	return int(id), err
}

type FeedUser struct {
	ID        int    `json:"user_id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url"`
}

type Activity struct {
	ID        int                    `json:"activity_id"`
	Type      string                 `json:"type"`
	User      FeedUser               `json:"user"`
	CreatedAt string                 `json:"created_at"`
	Data      map[string]interface{} `json:"data"`
}

// activityFeed merges recent shares, follows, public playlists and public comments
// of the user and everyone they follow, newest first.
func activityFeed(q dbtx, userID, limit, offset int) ([]Activity, error) {
	const circle = `(SELECT ? UNION SELECT following_id FROM user_follows WHERE follower_id = ?)`
	rows, err := q.Query(`
		SELECT a.id, a.type, a.user_id, u.username, u.avatar_url, a.created_at, a.ref_type, a.ref_id, a.body FROM (
			SELECT id, 'share' AS type, user_id, created_at, content_type AS ref_type, content_id AS ref_id, message AS body
			FROM shares WHERE user_id IN `+circle+`
			UNION ALL
			SELECT id, 'follow', follower_id, created_at, 'user', following_id, ''
			FROM user_follows WHERE follower_id IN `+circle+`
			UNION ALL
			SELECT id, 'playlist', user_id, created_at, 'playlist', id, name
			FROM playlists WHERE visibility != 'private' AND user_id IN `+circle+`
			UNION ALL
			SELECT id, 'comment', user_id, created_at, target_type, target_id, content
			FROM comments WHERE is_public = 1 AND moderation_status = 'approved' AND user_id IN `+circle+`
		) a
		JOIN users u ON u.id = a.user_id
		ORDER BY a.created_at DESC, a.type, a.id DESC
		LIMIT ? OFFSET ?`,
		userID, userID, userID, userID, userID, userID, userID, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	feed := []Activity{}
	for rows.Next() {
		var a Activity
		var refType, body string
		var refID int
		if err := rows.Scan(&a.ID, &a.Type, &a.User.ID, &a.User.Username, &a.User.AvatarURL, &a.CreatedAt, &refType, &refID, &body); err != nil {
			return nil, err
		}
		switch a.Type {
		case "share":
			a.Data = map[string]interface{}{"content_type": refType, "content_id": refID, "message": body}
		case "follow":
			a.Data = map[string]interface{}{"following_id": refID}
		case "playlist":
			a.Data = map[string]interface{}{"playlist_id": refID, "name": body}
		case "comment":
			a.Data = map[string]interface{}{"target_type": refType, "target_id": refID, "content": body}
		}
		feed = append(feed, a)
	}
	return feed, rows.Err()
}

type FollowEntry struct {
	UserID      int    `json:"user_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
	FollowedAt  string `json:"followed_at"`
}

// followList lists the followers of userID, or the users they follow when following is true.
func followList(q dbtx, userID int, following bool, limit, offset int) ([]FollowEntry, error) {
	joinCol, whereCol := "follower_id", "following_id"
	if following {
		joinCol, whereCol = "following_id", "follower_id"
	}
	rows, err := q.Query(`SELECT u.id, u.username, u.display_name, u.avatar_url, f.created_at
		FROM user_follows f JOIN users u ON u.id = f.`+joinCol+`
		WHERE f.`+whereCol+` = ?
		ORDER BY f.created_at DESC, f.id DESC
		LIMIT ? OFFSET ?`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []FollowEntry{}
	for rows.Next() {
		var e FollowEntry
		if err := rows.Scan(&e.UserID, &e.Username, &e.DisplayName, &e.AvatarURL, &e.FollowedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func socialHandler(c *gin.Context) {
	req, err := readAction(c)
	if err != nil {
		respondError(c, err)
		return
	}
	userID := c.GetInt("userID")
	var p struct {
		TargetUserID int `json:"target_user_id"`
		UserID       int `json:"user_id"`
		Limit        int `json:"limit"`
		Offset       int `json:"offset"`
		ShareRequest
	}
	if err := req.decode(&p); err != nil {
		respondError(c, err)
		return
	}
	limit := p.Limit
	if limit <= 0 {
		limit = 20
	}
	limit = clampInt(limit, 1, 100)
	offset := max(p.Offset, 0)

	switch req.Action {
	case "follow_user", "unfollow_user":
		if p.TargetUserID <= 0 {
			respondError(c, invalidf("target_user_id is required"))
			return
		}
		follow := req.Action == "follow_user"
		err := withTx(c.Request.Context(), func(tx *sql.Tx) error {
			if follow {
				return followUser(tx, userID, p.TargetUserID)
			}
			return unfollowUser(tx, userID, p.TargetUserID)
		})
		if err != nil {
			respondError(c, err)
			return
		}
		msg := "User unfollowed"
		if follow {
			msg = "User followed"
		}
		respondWith(c, http.StatusOK, gin.H{"message": msg, "data": gin.H{"follower_id": userID, "following_id": p.TargetUserID}})

	case "share_content":
		var shareID int
		err := withTx(c.Request.Context(), func(tx *sql.Tx) error {
			var err error
			shareID, err = shareContent(tx, userID, p.ShareRequest)
			return err
		})
		if err != nil {
			respondError(c, err)
			return
		}
		respondWith(c, http.StatusCreated, gin.H{"message": "Content shared", "data": gin.H{"share_id": shareID}})

	case "get_activity_feed":
		feed, err := activityFeed(db, userID, limit, offset)
		if err != nil {
			respondError(c, err)
			return
		}
		respondOK(c, feed)

	case "get_followers", "get_following":
		target := userID
		if p.UserID > 0 {
			target = p.UserID
		}
		list, err := followList(db, target, req.Action == "get_following", limit, offset)
		if err != nil {
			respondError(c, err)
			return
		}
		respondOK(c, list)

	default:
		respondError(c, invalidf("Unknown action"))
	}
}

func getNotifications(c *gin.Context) {
	userID := c.GetInt("userID")
	limit, offset := pageParams(c, 20, 100)
	query := `SELECT id, type, data, is_read, created_at FROM notifications WHERE user_id = ?`
	if c.Query("unread") == "1" || strings.EqualFold(c.Query("unread"), "true") {
		query += ` AND is_read = 0`
	}
	rows, err := db.Query(query+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, userID, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	defer rows.Close()
	list := []Notification{}
	for rows.Next() {
		var n Notification
		var data string
		if err := rows.Scan(&n.ID, &n.Type, &data, &n.IsRead, &n.CreatedAt); err != nil {
			respondError(c, err)
			return
		}
		n.Data = map[string]interface{}{}
		_ = json.Unmarshal([]byte(data), &n.Data)
		list = append(list, n)
	}
	if err := rows.Err(); err != nil {
		respondError(c, err)
		return
	}
	rows.Close()

	var unread int
	if err := db.QueryRow(`SELECT COUNT(*) FROM notifications WHERE user_id = ? AND is_read = 0`, userID).Scan(&unread); err != nil {
		respondError(c, err)
		return
	}
	respondWith(c, http.StatusOK, gin.H{"data": list, "unread_count": unread})
}

// markNotificationsRead marks the given ids, or all of the user's notifications when none are given.
func markNotificationsRead(c *gin.Context) {
	var req struct {
		IDs []int `json:"notification_ids"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, invalidf("Invalid input"))
			return
		}
	}
	userID := c.GetInt("userID")
	ids := uniqueInts(req.IDs)
	query := `UPDATE notifications SET is_read = 1 WHERE user_id = ? AND is_read = 0`
	args := []interface{}{userID}
	if len(ids) > 0 {
		query += ` AND id IN (` + placeholders(len(ids)) + `)`
		for _, id := range ids {
			args = append(args, id)
		}
	}
	res, err := db.Exec(query, args...)
	if err != nil {
		respondError(c, err)
		return
	}
	n, _ := res.RowsAffected()
	respondWith(c, http.StatusOK, gin.H{"message": "Notifications updated", "updated": n})
}
