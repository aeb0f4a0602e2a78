package main

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

var (
	projectStatuses      = map[string]bool{"open": true, "in_progress": true, "completed": true, "cancelled": true}
	contributionStatuses = map[string]bool{"accepted": true, "rejected": true}
)

type projectInput struct {
	Title         *string `json:"title"`
	ProjectType   string  `json:"project_type"`
	Deadline      *string `json:"deadline"`
	Description   *string `json:"description"`
	SourceTrackID int     `json:"source_track_id"`
	Status        *string `json:"status"`
}

// parseDeadline accepts a date or an RFC3339 timestamp and stores it as RFC3339 UTC.
func parseDeadline(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC().Format(time.RFC3339), nil
	}
	if t, err := time.Parse(dateLayout, raw); err == nil {
		return t.UTC().Format(time.RFC3339), nil
	}
	return "", invalidf("deadline must be a date (YYYY-MM-DD) or RFC3339 timestamp")
}

func createProject(q dbtx, userID int, in projectInput) (int, error) {
	if in.Title == nil || strings.TrimSpace(*in.Title) == "" {
		return 0, invalidf("title is required")
	}
	if strings.TrimSpace(in.ProjectType) == "" {
		return 0, invalidf("project_type is required")
	}
	var deadline string
	if in.Deadline != nil {
		var err error
		if deadline, err = parseDeadline(*in.Deadline); err != nil {
			return 0, err
		}
	}
	if in.SourceTrackID > 0 {
		ok, err := targetExists(q, "track", in.SourceTrackID)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, notFoundf("Source track not found")
		}
	}
	var description string
	if in.Description != nil {
		description = sanitizeText(*in.Description)
	}
	now := nowRFC3339()
	res, err := q.Exec(`INSERT INTO collaboration_projects (title, creator_id, project_type, status, deadline, description, source_track_id, created_at, updated_at)
		VALUES (?, ?, ?, 'open', ?, ?, ?, ?, ?)`,
		strings.TrimSpace(*in.Title), userID, strings.TrimSpace(in.ProjectType), nullIfEmpty(deadline), description,
		nullIfZero(in.SourceTrackID), now, now)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	return int(id), err
}

func projectCreator(q dbtx, projectID int) (creatorID int, status string, err error) {
	err = q.QueryRow(`SELECT creator_id, status FROM collaboration_projects WHERE id = ?`, projectID).Scan(&creatorID, &status)
	if errors.Is(err, sql.ErrNoRows) {
		err = notFoundf("Project not found")
	}
	return creatorID, status, err
}

func updateProject(q dbtx, userID, projectID int, in projectInput) error {
	creatorID, _, err := projectCreator(q, projectID)
	if err != nil {
		return err
	}
	if creatorID != userID {
		return forbiddenf("Only the project creator can update it")
	}
	sets := []string{}
	args := []interface{}{}
	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" {
			return invalidf("title must not be empty")
		}
		sets = append(sets, "title = ?")
		args = append(args, title)
	}
	if in.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, sanitizeText(*in.Description))
	}
	if in.Deadline != nil {
		deadline, err := parseDeadline(*in.Deadline)
		if err != nil {
			return err
		}
		sets = append(sets, "deadline = ?")
		args = append(args, nullIfEmpty(deadline))
	}
	if in.Status != nil {
		if !projectStatuses[*in.Status] {
			return invalidf("status must be open, in_progress, completed or cancelled")
		}
		sets = append(sets, "status = ?")
		args = append(args, *in.Status)
	}
	if len(sets) == 0 {
		return invalidf("Nothing to update")
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, nowRFC3339(), projectID)
	_, err = q.Exec(`UPDATE collaboration_projects SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	return err
}

type contributionInput struct {
	ContributionType string `json:"contribution_type"`
	FilePath         string `json:"file_path"`
	Notes            string `json:"notes"`
}

func addContribution(q dbtx, userID, projectID int, in contributionInput) (int, error) {
	creatorID, status, err := projectCreator(q, projectID)
	if err != nil {
		return 0, err
	}
	if status != "open" {
		return 0, invalidf("Project is not accepting contributions")
	}
	if strings.TrimSpace(in.ContributionType) == "" || strings.TrimSpace(in.FilePath) == "" {
		return 0, invalidf("contribution_type and file_path are required")
	}
	res, err := q.Exec(`INSERT INTO project_contributions (project_id, user_id, contribution_type, file_path, notes, status, created_at)
		VALUES (?, ?, ?, ?, ?, 'submitted', ?)`,
		projectID, userID, strings.TrimSpace(in.ContributionType), strings.TrimSpace(in.FilePath), sanitizeText(in.Notes), nowRFC3339())
	if err != nil {
		return 0, err
	}
	id, _ := res.LastInsertId()
	if creatorID != userID {
		if err := notify(q, creatorID, "project_contribution", gin.H{"project_id": projectID, "contribution_id": id, "user_id": userID}); err != nil {
			return 0, err
		}
	}
	return int(id), nil
}

func reviewContribution(q dbtx, userID, projectID, contributionID int, status string) error {
	if !contributionStatuses[status] {
		return invalidf("status must be accepted or rejected")
	}
	creatorID, _, err := projectCreator(q, projectID)
	if err != nil {
		return err
	}
	if creatorID != userID {
		return forbiddenf("Only the project creator can review contributions")
	}
	var contributorID int
	err = q.QueryRow(`SELECT user_id FROM project_contributions WHERE id = ? AND project_id = ?`, contributionID, projectID).Scan(&contributorID)
	if errors.Is(err, sql.ErrNoRows) {
		return notFoundf("Contribution not found")
	}
	if err != nil {
		return err
	}
	if _, err := q.Exec(`UPDATE project_contributions SET status = ?, reviewed_at = ? WHERE id = ?`,
		status, nowRFC3339(), contributionID); err != nil {
		return err
	}
	return notify(q, contributorID, "contribution_reviewed", gin.H{"project_id": projectID, "contribution_id": contributionID, "status": status})
}

const projectSelect = `SELECT p.id, p.title, p.creator_id, u.username, p.project_type, p.status, COALESCE(p.deadline, ''),
		p.description, COALESCE(p.source_track_id, 0),
		(SELECT COUNT(*) FROM project_contributions pc WHERE pc.project_id = p.id), p.created_at, p.updated_at
	FROM collaboration_projects p JOIN users u ON u.id = p.creator_id`

func scanProject(row rowScanner) (CollaborationProject, error) {
	var p CollaborationProject
	err := row.Scan(&p.ID, &p.Title, &p.CreatorID, &p.Creator, &p.ProjectType, &p.Status, &p.Deadline,
		&p.Description, &p.SourceTrackID, &p.ContributionCount, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func loadProject(q dbtx, projectID int) (CollaborationProject, error) {
	p, err := scanProject(q.QueryRow(projectSelect+` WHERE p.id = ?`, projectID))
	if errors.Is(err, sql.ErrNoRows) {
		return p, notFoundf("Project not found")
	}
	if err != nil {
		return p, err
	}
	rows, err := q.Query(`SELECT c.id, c.project_id, c.user_id, u.username, c.contribution_type, c.file_path, c.notes, c.status,
			c.created_at, COALESCE(c.reviewed_at, '')
		FROM project_contributions c JOIN users u ON u.id = c.user_id
		WHERE c.project_id = ? ORDER BY c.created_at, c.id`, projectID)
	if err != nil {
		return p, err
	}
	defer rows.Close()
	p.Contributions = []Contribution{}
	for rows.Next() {
		var c Contribution
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.UserID, &c.Username, &c.ContributionType, &c.FilePath, &c.Notes, &c.Status,
			&c.CreatedAt, &c.ReviewedAt); err != nil {
			return p, err
		}
		p.Contributions = append(p.Contributions, c)
	}
	return p, rows.Err()
}

// listProjects filters by creator and status; a userID also matches projects the user contributed to.
func listProjects(q dbtx, userID int, status string, limit, offset int) ([]CollaborationProject, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	if userID > 0 {
		where = append(where, "(p.creator_id = ? OR EXISTS (SELECT 1 FROM project_contributions pc WHERE pc.project_id = p.id AND pc.user_id = ?))")
		args = append(args, userID, userID)
	}
	if status != "" {
		if !projectStatuses[status] {
			return nil, invalidf("status must be open, in_progress, completed or cancelled")
		}
		where = append(where, "p.status = ?")
		args = append(args, status)
	}
	args = append(args, limit, offset)
	rows, err := q.Query(projectSelect+` WHERE `+strings.Join(where, " AND ")+` ORDER BY p.updated_at DESC, p.id DESC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	projects := []CollaborationProject{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func getCollaborations(c *gin.Context) {
	if c.Query("project_id") != "" {
		projectID, err := requiredQueryID(c, "project_id")
		if err != nil {
			respondError(c, err)
			return
		}
		p, err := loadProject(db, projectID)
		if err != nil {
			respondError(c, err)
			return
		}
		respondOK(c, p)
		return
	}
	limit, offset := pageParams(c, 20, 100)
	projects, err := listProjects(db, queryInt(c, "user_id", 0), c.Query("status"), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, projects)
}

func postCollaboration(c *gin.Context) {
	userID := c.GetInt("userID")
	if c.Query("action") == "contribute" {
		projectID, err := requiredQueryID(c, "project_id")
		if err != nil {
			respondError(c, err)
			return
		}
		var in contributionInput
		if err := c.ShouldBindJSON(&in); err != nil {
			respondError(c, invalidf("Invalid input"))
			return
		}
		var id int
		err = withTx(c.Request.Context(), func(tx *sql.Tx) error {
			var err error
			id, err = addContribution(tx, userID, projectID, in)
			return err
		})
		if err != nil {
			respondError(c, err)
			return
		}
		respondWith(c, http.StatusCreated, gin.H{"message": "Contribution submitted", "contribution_id": id})
		return
	}
	if action := c.Query("action"); action != "" {
		respondError(c, invalidf("Unknown action"))
		return
	}

	var in projectInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respondError(c, invalidf("Invalid input"))
		return
	}
	id, err := createProject(db, userID, in)
	if err != nil {
		respondError(c, err)
		return
	}
	respondWith(c, http.StatusCreated, gin.H{"message": "Project created", "project_id": id})
}

func putCollaboration(c *gin.Context) {
	userID := c.GetInt("userID")
	projectID, err := requiredQueryID(c, "project_id")
	if err != nil {
		respondError(c, err)
		return
	}
	if c.Query("action") == "review" {
		var in struct {
			ContributionID int    `json:"contribution_id"`
			Status         string `json:"status"`
		}
		if err := c.ShouldBindJSON(&in); err != nil || in.ContributionID <= 0 {
			respondError(c, invalidf("contribution_id and status are required"))
			return
		}
		err := withTx(c.Request.Context(), func(tx *sql.Tx) error {
			return reviewContribution(tx, userID, projectID, in.ContributionID, in.Status)
		})
		if err != nil {
			respondError(c, err)
			return
		}
		respondWith(c, http.StatusOK, gin.H{"message": "Contribution reviewed"})
		return
	}

	var in projectInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respondError(c, invalidf("Invalid input"))
		return
	}
	if err := updateProject(db, userID, projectID, in); err != nil {
		respondError(c, err)
		return
	}
	respondWith(c, http.StatusOK, gin.H{"message": "Project updated"})
}

func deleteCollaboration(c *gin.Context) {
	userID := c.GetInt("userID")
	projectID, err := requiredQueryID(c, "project_id")
	if err != nil {
		respondError(c, err)
		return
	}
	creatorID, _, err := projectCreator(db, projectID)
	if err != nil {
		respondError(c, err)
		return
	}

	if c.Query("contribution_id") != "" {
		contributionID, err := requiredQueryID(c, "contribution_id")
		if err != nil {
			respondError(c, err)
			return
		}
		var contributorID int
		err = db.QueryRow(`SELECT user_id FROM project_contributions WHERE id = ? AND project_id = ?`, contributionID, projectID).Scan(&contributorID)
		if errors.Is(err, sql.ErrNoRows) {
			respondError(c, notFoundf("Contribution not found"))
			return
		}
		if err != nil {
			respondError(c, err)
			return
		}
		if contributorID != userID && creatorID != userID {
			respondError(c, forbiddenf("You cannot remove this contribution"))
			return
		}
		if _, err := db.Exec(`DELETE FROM project_contributions WHERE id = ?`, contributionID); err != nil {
			respondError(c, err)
			return
		}
		respondWith(c, http.StatusOK, gin.H{"message": "Contribution removed"})
		return
	}

	if creatorID != userID {
		respondError(c, forbiddenf("Only the project creator can delete it"))
		return
	}
	if _, err := db.Exec(`DELETE FROM collaboration_projects WHERE id = ?`, projectID); err != nil {
		respondError(c, err)
		return
	}
	respondWith(c, http.StatusOK, gin.H{"message": "Project deleted"})
}
