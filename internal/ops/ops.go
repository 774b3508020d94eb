// Package ops implements cairn's operations. Each operation validates its
// input, runs against an *app.App and returns a JSON-ready output. The CLI
// and the MCP server are thin adapters over this package.
package ops

import (
	"strings"

	"github.com/hpungsan/cairn/internal/errors"
	"github.com/hpungsan/cairn/internal/record"
)

// Pagination limits
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
	DefaultStaleDays = 14
)

// Pagination contains pagination metadata for list operations.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

func listLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return min(limit, MaxListLimit)
}

// RecordSummary is the compact form of a record returned by list and search.
type RecordSummary struct {
	ID         string      `json:"id"`
	Type       record.Type `json:"type"`
	Project    string      `json:"project,omitempty"`
	Topic      string      `json:"topic,omitempty"`
	Tags       []string    `json:"tags,omitempty"`
	UltraBrief string      `json:"ultra_brief"`
	Importance int         `json:"importance"`
	Timestamp  int64       `json:"timestamp"`
}

func summarize(r *record.Record) RecordSummary {
	return RecordSummary{
		ID:         r.ID,
		Type:       r.Type,
		Project:    r.Project,
		Topic:      r.Topic,
		Tags:       r.Tags,
		UltraBrief: r.UltraBrief,
		Importance: r.Importance,
		Timestamp:  r.Timestamp.Unix(),
	}
}

// parseType validates an optional record type.
func parseType(s string) (record.Type, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", nil
	}
	t := record.Type(s)
	if !record.ValidType(t) {
		return "", errors.NewInvalidRequest("unknown type: " + s)
	}
	return t, nil
}

// parseSensitivity validates an optional sensitivity.
func parseSensitivity(s string) (record.Sensitivity, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", nil
	}
	v := record.Sensitivity(s)
	if !record.ValidSensitivity(v) {
		return "", errors.NewInvalidRequest("sensitivity must be one of public, private, confidential")
	}
	return v, nil
}
