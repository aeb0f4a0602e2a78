package main

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

var deviceTypes = map[string]bool{"": true, "desktop": true, "mobile": true, "tablet": true, "speaker": true, "tv": true, "web": true}

type deviceInput struct {
	DeviceName  *string `json:"device_name"`
	DeviceType  string  `json:"device_type"`
	Platform    string  `json:"platform"`
	DeviceToken string  `json:"device_token"`
	IsActive    *bool   `json:"is_active"`
}

// registerDevice upserts by token; a token registered by another user is moved to this one.
func registerDevice(q dbtx, userID int, in deviceInput) (int, error) {
	if in.DeviceName == nil || strings.TrimSpace(*in.DeviceName) == "" {
		return 0, invalidf("device_name is required")
	}
	token := strings.TrimSpace(in.DeviceToken)
	if token == "" {
		return 0, invalidf("device_token is required")
	}
	if !deviceTypes[in.DeviceType] {
		return 0, invalidf("Unknown device_type %q", in.DeviceType)
	}
	now := nowRFC3339()
	_, err := q.Exec(`INSERT INTO devices (user_id, device_name, device_type, platform, device_token, is_active, last_seen_at, created_at)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(device_token) DO UPDATE SET user_id = excluded.user_id, device_name = excluded.device_name,
			device_type = excluded.device_type, platform = excluded.platform, is_active = 1, last_seen_at = excluded.last_seen_at`,
		userID, strings.TrimSpace(*in.DeviceName), in.DeviceType, strings.TrimSpace(in.Platform), token, now, now)
	if err != nil {
		return 0, err
	}
	var id int
	err = q.QueryRow(`SELECT id FROM devices WHERE device_token = ?`, token).Scan(&id)
	return id, err
}

func listDevices(q dbtx, userID int) ([]Device, error) {
	rows, err := q.Query(`SELECT id, device_name, device_type, platform, device_token, is_active, last_seen_at, created_at
		FROM devices WHERE user_id = ? ORDER BY last_seen_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	devices := []Device{}
	for rows.Next() {
		var d Device
		if err := rows.Scan(&d.ID, &d.DeviceName, &d.DeviceType, &d.Platform, &d.DeviceToken, &d.IsActive, &d.LastSeenAt, &d.CreatedAt); err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

func ownedDevice(q dbtx, userID, deviceID int) error {
	var ownerID int
	err := q.QueryRow(`SELECT user_id FROM devices WHERE id = ?`, deviceID).Scan(&ownerID)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && ownerID != userID) {
		return notFoundf("Device not found")
	}
	return err
}

func getDevices(c *gin.Context) {
	devices, err := listDevices(db, c.GetInt("userID"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, devices)
}

func postDevice(c *gin.Context) {
	var in deviceInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respondError(c, invalidf("Invalid input"))
		return
	}
	id, err := registerDevice(db, c.GetInt("userID"), in)
	if err != nil {
		respondError(c, err)
		return
	}
	respondWith(c, http.StatusCreated, gin.H{"message": "Device registered", "device_id": id})
}

func putDevice(c *gin.Context) {
	userID := c.GetInt("userID")
	deviceID, err := requiredQueryID(c, "device_id")
	if err != nil {
		respondError(c, err)
		return
	}
	var in deviceInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respondError(c, invalidf("Invalid input"))
		return
	}
	if err := ownedDevice(db, userID, deviceID); err != nil {
		respondError(c, err)
		return
	}
	sets := []string{"last_seen_at = ?"}
	args := []interface{}{nowRFC3339()}
	if in.DeviceName != nil {
		name := strings.TrimSpace(*in.DeviceName)
		if name == "" {
			respondError(c, invalidf("device_name must not be empty"))
			return
		}
		sets = append(sets, "device_name = ?")
		args = append(args, name)
	}
	if in.IsActive != nil {
		sets = append(sets, "is_active = ?")
		args = append(args, boolToInt(*in.IsActive))
	}
	args = append(args, deviceID)
	if _, err := db.Exec(`UPDATE devices SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...); err != nil {
		respondError(c, err)
		return
	}
	respondWith(c, http.StatusOK, gin.H{"message": "Device updated"})
}

func deleteDevice(c *gin.Context) {
	userID := c.GetInt("userID")
	deviceID, err := requiredQueryID(c, "device_id")
	if err != nil {
		respondError(c, err)
		return
	}
	if err := ownedDevice(db, userID, deviceID); err != nil {
		respondError(c, err)
		return
	}
	if _, err := db.Exec(`DELETE FROM devices WHERE id = ?`, deviceID); err != nil {
		respondError(c, err)
		return
	}
	respondWith(c, http.StatusOK, gin.H{"message": "Device removed"})
}
