package main

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
)

const maxCommentLength = 2000

var commentTargets = map[string]bool{"track": true, "album": true, "playlist": true, "artist": true}

type commentRequest struct {
	TargetType         string `json:"target_type"`
	TargetID           int    `json:"target_id"`
	CommentID          int    `json:"comment_id"`
	Content            string `json:"content"`
	TimestampReference *int   `json:"timestamp_reference"`
}

func cleanCommentContent(raw string) (string, error) {
	content := sanitizeText(raw)
	if content == "" {
		return "", invalidf("Comment content must not be empty")
	}
	if utf8.RuneCountInString(content) > maxCommentLength {
		return "", invalidf("Comment must be at most %d characters", maxCommentLength)
	}
	return content, nil
}

// addComment validates the target, including playlist visibility and its allow_comments setting.
func addComment(q dbtx, userID int, req commentRequest, language string) (int, error) {
	if !commentTargets[req.TargetType] {
		return 0, invalidf("target_type must be track, album, playlist or artist")
	}
	if req.TargetID <= 0 {
		return 0, invalidf("target_id is required")
	}
	content, err := cleanCommentContent(req.Content)
	if err != nil {
		return 0, err
	}
	if req.TimestampReference != nil && *req.TimestampReference < 0 {
		return 0, invalidf("timestamp_reference must not be negative")
	}

	if req.TargetType == "playlist" {
		access, err := loadPlaylistAccess(q, req.TargetID, userID)
		if err != nil {
			return 0, err
		}
		if err := access.requireRead(); err != nil {
			return 0, err
		}
		if !access.Settings.AllowComments {
			return 0, forbiddenf("Comments are disabled for this playlist")
		}
	} else {
		ok, err := targetExists(q, req.TargetType, req.TargetID)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, notFoundf("Comment target does not exist")
		}
	}

	res, err := q.Exec(`INSERT INTO comments (user_id, target_type, target_id, content, timestamp_reference, language, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		userID, req.TargetType, req.TargetID, content, req.TimestampReference, language, nowRFC3339())
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	return int(id), err
}

// addReply applies the parent comment's target rules: a playlist comment can
// only be answered by someone who can read the playlist while comments are on.
func addReply(q dbtx, userID, commentID int, raw string) (int, error) {
	var isPublic bool
	var ownerID, targetID int
	var targetType string
	err := q.QueryRow(`SELECT is_public, user_id, target_type, target_id FROM comments WHERE id = ?`, commentID).
		Scan(&isPublic, &ownerID, &targetType, &targetID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, notFoundf("Comment not found")
	}
	if err != nil {
		return 0, err
	}
	if !isPublic {
		return 0, forbiddenf("Cannot reply to a private comment")
	}
	if targetType == "playlist" {
		access, err := loadPlaylistAccess(q, targetID, userID)
		if err != nil {
			return 0, err
		}
		if err := access.requireRead(); err != nil {
			return 0, err
		}
		if !access.Settings.AllowComments {
			return 0, forbiddenf("Comments are disabled for this playlist")
		}
	}
	content, err := cleanCommentContent(raw)
	if err != nil {
		return 0, err
	}
	res, err := q.Exec(`INSERT INTO comment_replies (comment_id, user_id, content, created_at) VALUES (?, ?, ?, ?)`,
		commentID, userID, content, nowRFC3339())
	if err != nil {
		return 0, err
	}
	replyID, _ := res.LastInsertId()
	if _, err := q.Exec(`UPDATE comments SET reply_count = reply_count + 1 WHERE id = ?`, commentID); err != nil {
		return 0, err
	}
	if ownerID != userID {
		if err := notify(q, ownerID, "comment_reply", gin.H{"comment_id": commentID, "reply_id": replyID, "user_id": userID}); err != nil {
			return 0, err
		}
	}
	return int(replyID), nil
}

func listComments(q dbtx, targetType string, targetID, limit, offset int) ([]Comment, error) {
	rows, err := q.Query(`SELECT c.id, c.user_id, u.username, c.target_type, c.target_id, c.content, c.timestamp_reference,
			c.like_count, c.reply_count, c.created_at
		FROM comments c JOIN users u ON u.id = c.user_id
		WHERE c.target_type = ? AND c.target_id = ? AND c.is_public = 1 AND c.moderation_status = 'approved'
		ORDER BY c.created_at DESC, c.id DESC
		LIMIT ? OFFSET ?`, targetType, targetID, limit, offset)
	if err != nil {
		return nil, err
	}
	comments := []Comment{}
	for rows.Next() {
		var cm Comment
		var ts sql.NullInt64
		if err := rows.Scan(&cm.ID, &cm.UserID, &cm.Username, &cm.TargetType, &cm.TargetID, &cm.Content, &ts,
			&cm.LikeCount, &cm.ReplyCount, &cm.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		if ts.Valid {
			v := int(ts.Int64)
			cm.TimestampReference = &v
		}
		comments = append(comments, cm)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range comments {
		replies, err := commentReplies(q, comments[i].ID)
		if err != nil {
			return nil, err
		}
		comments[i].Replies = replies
	}
	return comments, nil
}

func commentReplies(q dbtx, commentID int) ([]CommentReply, error) {
	rows, err := q.Query(`SELECT r.id, r.comment_id, r.user_id, u.username, r.content, r.like_count, r.created_at
		FROM comment_replies r JOIN users u ON u.id = r.user_id
		WHERE r.comment_id = ? AND r.is_flagged = 0
		ORDER BY r.created_at, r.id`, commentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	replies := []CommentReply{}
	for rows.Next() {
		var r CommentReply
		if err := rows.Scan(&r.ID, &r.CommentID, &r.UserID, &r.Username, &r.Content, &r.LikeCount, &r.CreatedAt); err != nil {
			return nil, err
		}
		replies = append(replies, r)
	}
	return replies, rows.Err()
}

func getComments(c *gin.Context) {
	targetType := c.Query("target_type")
	if !commentTargets[targetType] {
		respondError(c, invalidf("target_type must be track, album, playlist or artist"))
		return
	}
	targetID, err := requiredQueryID(c, "target_id")
	if err != nil {
		respondError(c, err)
		return
	}
	if targetType == "playlist" {
		access, err := loadPlaylistAccess(db, targetID, c.GetInt("userID"))
		if err == nil {
			err = access.requireRead()
		}
		if err != nil {
			respondError(c, err)
			return
		}
	}
	limit, offset := pageParams(c, 50, 100)
	comments, err := listComments(db, targetType, targetID, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, comments)
}

func postComment(c *gin.Context) {
	var req commentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, invalidf("Invalid input"))
		return
	}
	userID := c.GetInt("userID")
	language := "en"
	if al := strings.TrimSpace(c.GetHeader("Accept-Language")); len(al) >= 2 {
		language = strings.ToLower(al[:2])
	}

	var id int
	err := withTx(c.Request.Context(), func(tx *sql.Tx) error {
		var err error
		if req.CommentID > 0 {
			id, err = addReply(tx, userID, req.CommentID, req.Content)
		} else {
			id, err = addComment(tx, userID, req, language)
		}
		return err
	})
	if err != nil {
		respondError(c, err)
		return
	}
	if req.CommentID > 0 {
		respondWith(c, http.StatusCreated, gin.H{"message": "Reply added", "reply_id": id})
		return
	}
	respondWith(c, http.StatusCreated, gin.H{"message": "Comment added", "comment_id": id})
}

func deleteComment(c *gin.Context) {
	userID := c.GetInt("userID")
	if c.Query("reply_id") != "" {
		replyID, err := requiredQueryID(c, "reply_id")
		if err != nil {
			respondError(c, err)
			return
		}
		err = withTx(c.Request.Context(), func(tx *sql.Tx) error {
			var ownerID, commentID int
			err := tx.QueryRow(`SELECT user_id, comment_id FROM comment_replies WHERE id = ?`, replyID).Scan(&ownerID, &commentID)
			if errors.Is(err, sql.ErrNoRows) {
				return notFoundf("Reply not found")
			}
			if err != nil {
				return err
			}
			if ownerID != userID {
				return forbiddenf("You can only delete your own replies")
			}
			if _, err := tx.Exec(`DELETE FROM comment_replies WHERE id = ?`, replyID); err != nil {
				return err
			}
			_, err = tx.Exec(`UPDATE comments SET reply_count = MAX(reply_count - 1, 0) WHERE id = ?`, commentID)
			return err
		})
		if err != nil {
			respondError(c, err)
			return
		}
		respondWith(c, http.StatusOK, gin.H{"message": "Reply deleted"})
		return
	}

	commentID, err := requiredQueryID(c, "comment_id")
	if err != nil {
		respondError(c, err)
		return
	}
	var ownerID int
	err = db.QueryRow(`SELECT user_id FROM comments WHERE id = ?`, commentID).Scan(&ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		respondError(c, notFoundf("Comment not found"))
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	if ownerID != userID {
		respondError(c, forbiddenf("You can only delete your own comments"))
		return
	}
	if _, err := db.Exec(`DELETE FROM comments WHERE id = ?`, commentID); err != nil {
		respondError(c, err)
		return
	}
	respondWith(c, http.StatusOK, gin.H{"message": "Comment deleted"})
}
