package main

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const sessionCookie = "session_id"

// Claims are carried in every issued token; SessionID ties the token to a revocable session row.
type Claims struct {
	UserID    int    `json:"uid"`
	Username  string `json:"username"`
	IsAdmin   bool   `json:"admin"`
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// GenerateJWT signs an HS256 token for the given session.
func GenerateJWT(userID int, username string, isAdmin bool, sessionID string, expires time.Time) (string, error) {
	claims := Claims{
		UserID:    userID,
		Username:  username,
		IsAdmin:   isAdmin,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprint(userID),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(appConfig.Security.JWTSecret))
}

func parseJWT(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(appConfig.Security.JWTSecret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// --- Sessions ---

type sessionInfo struct {
	ID       string
	UserID   int
	Username string
	IsAdmin  bool
}

func createSession(q dbtx, userID int, clientIP string) (string, time.Time, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	expires := now.Add(appConfig.TokenTTL())
	_, err := q.Exec(`INSERT INTO sessions (id, user_id, client_ip, created_at, expires_at) VALUES (?, ?, ?, ?, ?)`,
		id, userID, clientIP, now.Format(time.RFC3339), expires.Format(time.RFC3339))
	return id, expires, err
}

// loadSession resolves a live session for an active account.
func loadSession(id string) (*sessionInfo, error) {
	var s sessionInfo
	var status, expiresAt string
	var revoked bool
	err := db.QueryRow(`
		SELECT s.id, u.id, u.username, u.is_admin, u.account_status, s.expires_at, s.revoked
		FROM sessions s JOIN users u ON u.id = s.user_id
		WHERE s.id = ?`, id).Scan(&s.ID, &s.UserID, &s.Username, &s.IsAdmin, &status, &expiresAt, &revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, unauthorizedf("Session not found")
	}
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, unauthorizedf("Session has been revoked")
	}
	if exp, err := time.Parse(time.RFC3339, expiresAt); err != nil || time.Now().After(exp) {
		return nil, unauthorizedf("Session expired")
	}
	if status != "active" {
		return nil, unauthorizedf("Account is not active")
	}
	return &s, nil
}

func revokeSession(q dbtx, id string) error {
	_, err := q.Exec(`UPDATE sessions SET revoked = 1 WHERE id = ?`, id)
	return err
}

// issueSession creates a session row and its token for a freshly authenticated user.
func issueSession(q dbtx, userID int, username string, isAdmin bool, clientIP string) (sessionID, token string, err error) {
	sessionID, expires, err := createSession(q, userID, clientIP)
	if err != nil {
		return "", "", err
	}
	token, err = GenerateJWT(userID, username, isAdmin, sessionID, expires)
	if err != nil {
		return "", "", err
	}
	return sessionID, token, nil
}

// AuthMiddleware accepts a bearer token, the session cookie or the X-Session-ID header.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := ""
		if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
			claims, err := parseJWT(strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				respondMessage(c, http.StatusUnauthorized, "Invalid or expired token")
				return
			}
			sessionID = claims.SessionID
		} else if cookie, err := c.Cookie(sessionCookie); err == nil && cookie != "" {
			sessionID = cookie
		} else {
			sessionID = c.GetHeader("X-Session-ID")
		}

		if sessionID == "" {
			respondMessage(c, http.StatusUnauthorized, "Authentication required")
			return
		}

		session, err := loadSession(sessionID)
		if err != nil {
			respondError(c, err)
			return
		}

		c.Set("userID", session.UserID)
		c.Set("username", session.Username)
		c.Set("isAdmin", session.IsAdmin)
		c.Set("sessionID", session.ID)
		c.Next()
	}
}

func adminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !c.GetBool("isAdmin") {
			respondMessage(c, http.StatusForbidden, "Admin access required")
			return
		}
		c.Next()
	}
}

// --- Password Hashing ---

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), appConfig.Security.BcryptCost)
	return string(bytes), err
}

func checkPasswordHash(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
