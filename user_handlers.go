package main

import (
	"database/sql"
	"errors"
	"net/http"
	"net/mail"
	"regexp"
	"strings"
	"unicode"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

type registerRequest struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

func (r *registerRequest) validate() error {
	r.Username = strings.TrimSpace(r.Username)
	r.Email = strings.TrimSpace(r.Email)

	if r.Username == "" || r.Email == "" || r.Password == "" {
		return invalidf("All fields are required")
	}
	if r.Password != r.ConfirmPassword {
		return invalidf("Passwords do not match")
	}
	if !validEmail(r.Email) {
		return invalidf("Invalid email address")
	}
	if len(r.Username) < 3 || len(r.Username) > 50 {
		return invalidf("Username must be between 3 and 50 characters")
	}
	if len(r.Password) < 6 {
		return invalidf("Password must be at least 6 characters")
	}
	if len(r.Password) > maxPasswordBytes {
		return invalidf("Password must be at most %d bytes", maxPasswordBytes)
	}
	if !usernamePattern.MatchString(r.Username) {
		return invalidf("Username may only contain letters, digits, underscores and hyphens")
	}
	return nil
}

func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s && strings.Contains(s[strings.LastIndex(s, "@"):], ".")
}

// bcrypt refuses longer inputs.
const maxPasswordBytes = 72

// strongPassword requires 8+ characters with a lowercase letter, an uppercase letter and a digit.
func strongPassword(p string) error {
	if len(p) < 8 {
		return invalidf("New password must be at least 8 characters")
	}
	if len(p) > maxPasswordBytes {
		return invalidf("New password must be at most %d bytes", maxPasswordBytes)
	}
	var lower, upper, digit bool
	for _, r := range p {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !lower || !upper || !digit {
		return invalidf("Password must contain a lowercase letter, an uppercase letter and a digit")
	}
	return nil
}

func registerUser(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondMessage(c, http.StatusBadRequest, "Invalid input")
		return
	}
	if err := req.validate(); err != nil {
		respondError(c, err)
		return
	}

	var usernameTaken, emailTaken int
	err := db.QueryRow(`
		SELECT COALESCE(SUM(CASE WHEN username = ? THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN email = ? THEN 1 ELSE 0 END), 0)
		FROM users WHERE username = ? OR email = ?`,
		req.Username, req.Email, req.Username, req.Email).Scan(&usernameTaken, &emailTaken)
	if err != nil {
		respondError(c, err)
		return
	}
	if usernameTaken > 0 {
		respondError(c, conflictf("Username is already taken"))
		return
	}
	if emailTaken > 0 {
		respondError(c, conflictf("Email address is already registered"))
		return
	}

	hashed, err := hashPassword(req.Password)
	if err != nil {
		respondError(c, err)
		return
	}

	var userID int64
	err = withTx(c.Request.Context(), func(tx *sql.Tx) error {
		now := nowRFC3339()
		res, err := tx.Exec(`INSERT INTO users (username, email, password_hash, account_status, subscription_tier, created_at, updated_at)
			VALUES (?, ?, ?, 'active', 'free', ?, ?)`, req.Username, req.Email, hashed, now, now)
		if err != nil {
			return err
		}
		userID, _ = res.LastInsertId()
		_, err = tx.Exec(`INSERT INTO user_stats (user_id) VALUES (?)`, userID)
		return err
	})
	if err != nil {
		// Lost a race with a concurrent registration.
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			respondError(c, conflictf("Username or email is already registered"))
			return
		}
		respondError(c, err)
		return
	}

	logger.WithFields(logrus.Fields{"user_id": userID, "username": req.Username, "ip": c.ClientIP()}).Info("account created")
	respondWith(c, http.StatusCreated, gin.H{"message": "Account created", "user_id": userID})
}

func loginUser(c *gin.Context) {
	var creds struct {
		Login    string `json:"login"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&creds); err != nil {
		respondMessage(c, http.StatusBadRequest, "Invalid input")
		return
	}
	creds.Login = strings.TrimSpace(creds.Login)
	if creds.Login == "" || creds.Password == "" {
		respondError(c, invalidf("Login and password cannot be empty"))
		return
	}

	var user User
	var hashedPassword string
	err := db.QueryRow(`
		SELECT id, username, email, password_hash, is_admin, subscription_tier
		FROM users WHERE (username = ? OR email = ?) AND account_status = 'active'`,
		creds.Login, creds.Login).Scan(&user.ID, &user.Username, &user.Email, &hashedPassword, &user.IsAdmin, &user.SubscriptionTier)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		respondError(c, err)
		return
	}
	if errors.Is(err, sql.ErrNoRows) || !checkPasswordHash(creds.Password, hashedPassword) {
		logger.WithFields(logrus.Fields{"login": creds.Login, "ip": c.ClientIP()}).Warn("failed login attempt")
		respondError(c, unauthorizedf("Invalid credentials or inactive account"))
		return
	}

	sessionID, token, err := issueSession(db, user.ID, user.Username, user.IsAdmin, c.ClientIP())
	if err != nil {
		respondError(c, err)
		return
	}
	now := nowRFC3339()
	if _, err := db.Exec(`UPDATE users SET last_login_at = ?, last_active_at = ? WHERE id = ?`, now, now, user.ID); err != nil {
		logger.WithError(err).Warn("could not record login time")
	}

	c.SetCookie(sessionCookie, sessionID, int(appConfig.TokenTTL().Seconds()), "/", "", false, true)
	respondWith(c, http.StatusOK, gin.H{
		"message": "Logged in",
		"user": gin.H{
			"user_id":           user.ID,
			"username":          user.Username,
			"email":             user.Email,
			"subscription_tier": user.SubscriptionTier,
			"is_admin":          user.IsAdmin,
		},
		"session_id": sessionID,
		"token":      token,
	})
}

func logoutUser(c *gin.Context) {
	if err := revokeSession(db, c.GetString("sessionID")); err != nil {
		respondError(c, err)
		return
	}
	c.SetCookie(sessionCookie, "", -1, "/", "", false, true)
	respondWith(c, http.StatusOK, gin.H{"message": "Logged out"})
}

func changePassword(c *gin.Context) {
	var req struct {
		OldPassword string `json:"oldPassword"`
		NewPassword string `json:"newPassword"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.OldPassword == "" || req.NewPassword == "" {
		respondError(c, invalidf("Missing required fields"))
		return
	}
	if err := strongPassword(req.NewPassword); err != nil {
		respondError(c, err)
		return
	}

	userID := c.GetInt("userID")
	var username, email, hashed string
	var isAdmin bool
	err := db.QueryRow(`SELECT username, email, password_hash, is_admin FROM users WHERE id = ? AND account_status = 'active'`, userID).
		Scan(&username, &email, &hashed, &isAdmin)
	if errors.Is(err, sql.ErrNoRows) {
		respondError(c, unauthorizedf("Account is inactive or does not exist"))
		return
	} else if err != nil {
		respondError(c, err)
		return
	}
	if !checkPasswordHash(req.OldPassword, hashed) {
		respondError(c, invalidf("Current password is incorrect"))
		return
	}

	newHash, err := hashPassword(req.NewPassword)
	if err != nil {
		respondError(c, err)
		return
	}

	var sessionID, token string
	err = withTx(c.Request.Context(), func(tx *sql.Tx) error {
		now := nowRFC3339()
		res, err := tx.Exec(`UPDATE users SET password_hash = ?, updated_at = ?, last_active_at = ? WHERE id = ?`, newHash, now, now, userID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return notFoundf("User not found")
		}
		// Every existing session is invalidated; the caller continues on a fresh one.
		if _, err := tx.Exec(`UPDATE sessions SET revoked = 1 WHERE user_id = ?`, userID); err != nil {
			return err
		}
		sessionID, token, err = issueSession(tx, userID, username, isAdmin, c.ClientIP())
		return err
	})
	if err != nil {
		respondError(c, err)
		return
	}

	if err := mailer.Send(c.Request.Context(), passwordChangedMessage(email, username)); err != nil {
		logger.WithError(err).WithField("user_id", userID).Warn("password change notification not sent")
	}

	c.SetCookie(sessionCookie, sessionID, int(appConfig.TokenTTL().Seconds()), "/", "", false, true)
	respondWith(c, http.StatusOK, gin.H{"message": "Password changed", "session_id": sessionID, "token": token})
}

const userSelect = `
	SELECT u.id, u.username, u.email, u.display_name, u.bio, u.avatar_url, u.is_admin,
		u.account_status, u.subscription_tier, u.total_listening_time, u.total_songs_played,
		COALESCE(s.followers_count, 0), COALESCE(s.following_count, 0),
		u.created_at, COALESCE(u.last_login_at, '')
	FROM users u LEFT JOIN user_stats s ON s.user_id = u.id`

func scanUser(row rowScanner) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.DisplayName, &u.Bio, &u.AvatarURL, &u.IsAdmin,
		&u.AccountStatus, &u.SubscriptionTier, &u.TotalListening, &u.TotalSongsPlayed,
		&u.FollowersCount, &u.FollowingCount, &u.CreatedAt, &u.LastLoginAt)
	return u, err
}

func getUser(id int) (User, error) {
	u, err := scanUser(db.QueryRow(userSelect+" WHERE u.id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return u, notFoundf("User not found")
	}
	return u, err
}

func getMe(c *gin.Context) {
	u, err := getUser(c.GetInt("userID"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, u)
}

func updateMe(c *gin.Context) {
	var req struct {
		DisplayName *string `json:"display_name"`
		Bio         *string `json:"bio"`
		AvatarURL   *string `json:"avatar_url"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondMessage(c, http.StatusBadRequest, "Invalid input")
		return
	}

	var sets []string
	var args []interface{}
	if req.DisplayName != nil {
		name := strings.TrimSpace(*req.DisplayName)
		if len(name) > 100 {
			respondError(c, invalidf("Display name must be at most 100 characters"))
			return
		}
		sets = append(sets, "display_name = ?")
		args = append(args, sanitizeText(name))
	}
	if req.Bio != nil {
		if len(*req.Bio) > 1000 {
			respondError(c, invalidf("Bio must be at most 1000 characters"))
			return
		}
		sets = append(sets, "bio = ?")
		args = append(args, sanitizeText(*req.Bio))
	}
	if req.AvatarURL != nil {
		sets = append(sets, "avatar_url = ?")
		args = append(args, strings.TrimSpace(*req.AvatarURL))
	}
	if len(sets) == 0 {
		respondError(c, invalidf("Nothing to update"))
		return
	}

	userID := c.GetInt("userID")
	sets = append(sets, "updated_at = ?")
	args = append(args, nowRFC3339(), userID)
	if _, err := db.Exec("UPDATE users SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...); err != nil {
		respondError(c, err)
		return
	}
	u, err := getUser(userID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, u)
}

// --- Admin user management ---

func adminListUsers(c *gin.Context) {
	limit, offset := pageParams(c, 50, 200)
	rows, err := db.Query(userSelect+" ORDER BY u.id LIMIT ? OFFSET ?", limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			respondError(c, err)
			return
		}
		users = append(users, u)
	}
	respondOK(c, users)
}

func adminSetUserStatus(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || (req.Status != "active" && req.Status != "suspended") {
		respondError(c, invalidf("Status must be active or suspended"))
		return
	}
	if id == c.GetInt("userID") && req.Status != "active" {
		respondError(c, invalidf("You cannot suspend your own account"))
		return
	}

	res, err := db.Exec(`UPDATE users SET account_status = ?, updated_at = ? WHERE id = ?`, req.Status, nowRFC3339(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		respondError(c, notFoundf("User not found"))
		return
	}
	if req.Status == "suspended" {
		if _, err := db.Exec(`UPDATE sessions SET revoked = 1 WHERE user_id = ?`, id); err != nil {
			respondError(c, err)
			return
		}
	}
	respondWith(c, http.StatusOK, gin.H{"message": "User status updated"})
}

func adminDeleteUser(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	if id == 1 {
		respondError(c, forbiddenf("The primary admin account cannot be deleted"))
		return
	}
	res, err := db.Exec(`DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		respondError(c, err)
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		respondError(c, notFoundf("User not found"))
		return
	}
	respondWith(c, http.StatusOK, gin.H{"message": "User deleted"})
}
