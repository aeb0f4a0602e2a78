package main

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// normalizeKey trims, folds case, and collapses whitespace for stable comparisons.
func normalizeKey(s string) string {
	s = strings.TrimSpace(s)
	// Collapse consecutive whitespace and normalize internal spacing
	s = strings.Join(strings.Fields(s), " ")
	return strings.ToLower(s)
}

// normalizeArtistName returns a canonical artist label ("Unknown Artist" for blanks and "unknown").
func normalizeArtistName(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" || normalizeKey(s) == "unknown" {
		return "Unknown Artist"
	}
	return s
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// queryInt parses an integer query parameter, falling back to def when absent or malformed.
func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return def
	}
	return v
}

// pageParams reads limit/offset with a default and an upper bound on limit.
func pageParams(c *gin.Context, def, max int) (limit, offset int) {
	limit = queryInt(c, "limit", def)
	if limit <= 0 {
		limit = def
	}
	limit = clampInt(limit, 1, max)
	offset = queryInt(c, "offset", 0)
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// pathID parses the :id route parameter.
func pathID(c *gin.Context, name string) (int, error) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		return 0, invalidf("Invalid %s", name)
	}
	return id, nil
}

// requiredQueryID parses a positive integer query parameter.
func requiredQueryID(c *gin.Context, key string) (int, error) {
	id, err := strconv.Atoi(c.Query(key))
	if err != nil || id <= 0 {
		return 0, invalidf("Missing or invalid %s", key)
	}
	return id, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// decodeStringList reads a JSON array column, tolerating empty or malformed values.
func decodeStringList(raw string) []string {
	list := []string{}
	if raw == "" {
		return list
	}
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return []string{}
	}
	return list
}

func encodeJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

// uniqueInts drops non-positive ids and duplicates while preserving order.
func uniqueInts(ids []int) []int {
	seen := make(map[int]bool, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if id <= 0 || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// actionRequest is the body of the action-dispatched endpoints: {"action": "...", ...}.
type actionRequest struct {
	Action string `json:"action"`
	raw    []byte
}

func readAction(c *gin.Context) (*actionRequest, error) {
	raw, err := c.GetRawData()
	if err != nil {
		return nil, invalidf("Invalid request body")
	}
	req := &actionRequest{raw: raw}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, req); err != nil {
			return nil, invalidf("Invalid JSON body")
		}
	}
	if req.Action == "" {
		req.Action = c.Query("action")
	}
	return req, nil
}

// decode unmarshals the whole body into v.
func (r *actionRequest) decode(v interface{}) error {
	if len(r.raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.raw, v); err != nil {
		return invalidf("Invalid parameters for %s", r.Action)
	}
	return nil
}
