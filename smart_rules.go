package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RuleSet is the stored definition of a smart playlist.
type RuleSet struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Match       string          `json:"match,omitempty"`
	Conditions  []RuleCondition `json:"conditions"`
	Limit       int             `json:"limit,omitempty"`
	Sort        *RuleSort       `json:"sort,omitempty"`
}

type RuleCondition struct {
	Type     string      `json:"type"`
	Operator string      `json:"operator,omitempty"`
	Value    interface{} `json:"value"`
}

type RuleSort struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc"`
}

type ruleKind int

const (
	ruleText ruleKind = iota
	ruleNumber
	ruleDays
	ruleTag
)

type ruleField struct {
	kind ruleKind
	expr string
	// rating expressions are per-user
	perUser bool
}

var ruleFields = map[string]ruleField{
	"genre":        {kind: ruleText, expr: "t.genre"},
	"artist":       {kind: ruleText, expr: "ar.name"},
	"album":        {kind: ruleText, expr: "COALESCE(al.title, '')"},
	"mood":         {kind: ruleText, expr: "t.mood"},
	"year":         {kind: ruleNumber, expr: "t.year"},
	"tempo":        {kind: ruleNumber, expr: "t.tempo"},
	"energy":       {kind: ruleNumber, expr: "t.energy_level"},
	"valence":      {kind: ruleNumber, expr: "t.valence"},
	"danceability": {kind: ruleNumber, expr: "t.danceability"},
	"duration":     {kind: ruleNumber, expr: "t.duration"},
	"play_count":   {kind: ruleNumber, expr: "(SELECT COUNT(*) FROM listening_history lh WHERE lh.track_id = t.id)"},
	"rating": {kind: ruleNumber, perUser: true,
		expr: "COALESCE((SELECT r.rating FROM track_ratings r WHERE r.track_id = t.id AND r.user_id = ?), 0)"},
	// never-played tracks compare as the oldest possible play
	"last_played": {kind: ruleDays, expr: "COALESCE((SELECT MAX(lh.played_at) FROM listening_history lh WHERE lh.track_id = t.id), '')"},
	"added":       {kind: ruleDays, expr: "t.created_at"},
	"tag":         {kind: ruleTag},
}

var ruleOperators = map[ruleKind][]string{
	ruleText:   {"=", "!=", "contains", "in"},
	ruleNumber: {"=", "!=", "<", "<=", ">", ">=", "in"},
	ruleDays:   {"<", "<=", ">", ">="},
	ruleTag:    {"=", "!=", "contains", "in"},
}

// maxRuleDays bounds age rules to a century.
const maxRuleDays = 36500

// Age comparisons are stated in days ago; the timestamp comparison runs the other way.
var invertedOperator = map[string]string{"<": ">", "<=": ">=", ">": "<", ">=": "<="}

func operatorAllowed(kind ruleKind, op string) bool {
	for _, o := range ruleOperators[kind] {
		if o == op {
			return true
		}
	}
	return false
}

// compiledRules is a WHERE clause plus ordering ready to run against trackFrom.
type compiledRules struct {
	where   string
	args    []interface{}
	orderBy string
	limit   int
}

// Validate normalises the rule set and reports the first invalid condition.
func (rs *RuleSet) Validate() error {
	rs.Name = strings.TrimSpace(rs.Name)
	if rs.Name == "" {
		return invalidf("Smart playlist name is required")
	}
	if len(rs.Name) > maxPlaylistNameLength {
		return invalidf("Smart playlist name must be at most %d characters", maxPlaylistNameLength)
	}
	rs.Match = strings.ToLower(strings.TrimSpace(rs.Match))
	if rs.Match == "" {
		rs.Match = "all"
	}
	if rs.Match != "all" && rs.Match != "any" {
		return invalidf("match must be \"all\" or \"any\"")
	}
	if len(rs.Conditions) == 0 {
		return invalidf("At least one rule condition is required")
	}
	for i := range rs.Conditions {
		cond := &rs.Conditions[i]
		cond.Type = strings.ToLower(strings.TrimSpace(cond.Type))
		cond.Operator = strings.ToLower(strings.TrimSpace(cond.Operator))
		field, ok := ruleFields[cond.Type]
		if !ok {
			return invalidf("Unknown rule type: %s", cond.Type)
		}
		if cond.Operator == "" {
			cond.Operator = "="
			if field.kind == ruleDays {
				cond.Operator = "<="
			}
		}
		if !operatorAllowed(field.kind, cond.Operator) {
			return invalidf("Operator %q is not allowed for %s", cond.Operator, cond.Type)
		}
	}
	if rs.Limit < 0 {
		return invalidf("limit must not be negative")
	}
	if rs.Sort != nil {
		if _, ok := trackSortColumns[rs.Sort.Field]; !ok {
			return invalidf("Unsupported sort field: %s", rs.Sort.Field)
		}
	}
	return nil
}

// compile turns validated rules into a parameterised query for userID.
func (rs *RuleSet) compile(userID int, now time.Time) (*compiledRules, error) {
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	out := &compiledRules{}
	var parts []string
	for _, cond := range rs.Conditions {
		frag, args, err := compileCondition(cond, userID, now)
		if err != nil {
			return nil, err
		}
		parts = append(parts, "("+frag+")")
		out.args = append(out.args, args...)
	}
	joiner := " AND "
	if rs.Match == "any" {
		joiner = " OR "
	}
	out.where = strings.Join(parts, joiner)

	out.orderBy = "t.play_count DESC, t.average_rating DESC, t.id"
	if rs.Sort != nil {
		out.orderBy = trackSortColumns[rs.Sort.Field]
		if rs.Sort.Desc {
			out.orderBy += " DESC"
		}
		out.orderBy += ", t.id"
	}

	out.limit = appConfig.SmartPlaylists.MaxTracks
	if rs.Limit > 0 && rs.Limit < out.limit {
		out.limit = rs.Limit
	}
	return out, nil
}

func compileCondition(cond RuleCondition, userID int, now time.Time) (string, []interface{}, error) {
	field := ruleFields[cond.Type]
	op := cond.Operator

	switch field.kind {
	case ruleTag:
		return compileTagCondition(cond)

	case ruleDays:
		days, err := ruleNumberValue(cond)
		if err != nil {
			return "", nil, err
		}
		if days < 0 || days > maxRuleDays {
			return "", nil, invalidf("%s must be between 0 and %d days", cond.Type, maxRuleDays)
		}
		cutoff := now.Add(-time.Duration(days * float64(24*time.Hour))).UTC().Format(time.RFC3339)
		return field.expr + " " + invertedOperator[op] + " ?", []interface{}{cutoff}, nil
	}

	var args []interface{}
	if field.perUser {
		args = append(args, userID)
	}

	if op == "in" {
		values, err := ruleListValue(cond, field.kind)
		if err != nil {
			return "", nil, err
		}
		expr := field.expr + " IN (" + placeholders(len(values)) + ")"
		if field.kind == ruleText {
			expr = field.expr + " COLLATE NOCASE IN (" + placeholders(len(values)) + ")"
		}
		return expr, append(args, values...), nil
	}

	if field.kind == ruleText {
		s, err := ruleStringValue(cond)
		if err != nil {
			return "", nil, err
		}
		if op == "contains" {
			return field.expr + " LIKE ?", append(args, "%"+s+"%"), nil
		}
		return field.expr + " " + op + " ? COLLATE NOCASE", append(args, s), nil
	}

	n, err := ruleNumberValue(cond)
	if err != nil {
		return "", nil, err
	}
	return field.expr + " " + op + " ?", append(args, n), nil
}

func compileTagCondition(cond RuleCondition) (string, []interface{}, error) {
	const exists = "EXISTS (SELECT 1 FROM track_tags tt WHERE tt.track_id = t.id AND "
	switch cond.Operator {
	case "in":
		values, err := ruleListValue(cond, ruleText)
		if err != nil {
			return "", nil, err
		}
		return exists + "tt.tag_name IN (" + placeholders(len(values)) + "))", values, nil
	case "contains":
		s, err := ruleStringValue(cond)
		if err != nil {
			return "", nil, err
		}
		return exists + "tt.tag_name LIKE ?)", []interface{}{"%" + s + "%"}, nil
	case "!=":
		s, err := ruleStringValue(cond)
		if err != nil {
			return "", nil, err
		}
		return "NOT " + exists + "tt.tag_name = ?)", []interface{}{strings.ToLower(s)}, nil
	default:
		s, err := ruleStringValue(cond)
		if err != nil {
			return "", nil, err
		}
		return exists + "tt.tag_name = ?)", []interface{}{strings.ToLower(s)}, nil
	}
}

func ruleStringValue(cond RuleCondition) (string, error) {
	switch v := cond.Value.(type) {
	case string:
		if s := strings.TrimSpace(v); s != "" {
			return s, nil
		}
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	}
	return "", invalidf("%s requires a text value", cond.Type)
}

func ruleNumberValue(cond RuleCondition) (float64, error) {
	switch v := cond.Value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f, nil
		}
	}
	return 0, invalidf("%s requires a numeric value", cond.Type)
}

func ruleListValue(cond RuleCondition, kind ruleKind) ([]interface{}, error) {
	list, ok := cond.Value.([]interface{})
	if !ok || len(list) == 0 {
		return nil, invalidf("%s with operator in requires a non-empty list", cond.Type)
	}
	values := make([]interface{}, 0, len(list))
	for _, item := range list {
		single := RuleCondition{Type: cond.Type, Value: item}
		if kind == ruleNumber {
			n, err := ruleNumberValue(single)
			if err != nil {
				return nil, err
			}
			values = append(values, n)
			continue
		}
		s, err := ruleStringValue(single)
		if err != nil {
			return nil, err
		}
		if cond.Type == "tag" {
			s = strings.ToLower(s)
		}
		values = append(values, s)
	}
	return values, nil
}

// evaluateRules returns the tracks currently matching rs for userID.
func evaluateRules(q dbtx, rs *RuleSet, userID int, now time.Time) ([]Track, error) {
	compiled, err := rs.compile(userID, now)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s%s WHERE %s ORDER BY %s LIMIT ?",
		trackColumns, trackFrom, compiled.where, compiled.orderBy)
	rows, err := q.Query(query, append(compiled.args, compiled.limit)...)
	if err != nil {
		return nil, err
	}
	return collectTracks(rows)
}
