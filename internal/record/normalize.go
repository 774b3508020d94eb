package record

import (
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

var whitespaceRegex = regexp.MustCompile(`\s+`)

// CollapseSpace trims s and collapses internal whitespace to single spaces.
func CollapseSpace(s string) string {
	return whitespaceRegex.ReplaceAllString(strings.TrimSpace(s), " ")
}

// NormalizeTags trims each tag, drops empties, and removes case-insensitive
// duplicates while keeping the first occurrence and its order.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = CollapseSpace(t)
		if t == "" {
			continue
		}
		key := strings.ToLower(t)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// NormalizeList trims entries and drops empties, keeping order and duplicates.
func NormalizeList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// NormalizeIDSet deduplicates ids and sorts them.
func NormalizeIDSet(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}

// Normalize canonicalizes a record in place before it is validated and saved.
// Timestamps are truncated to UTC so they survive a storage round trip intact.
func (r *Record) Normalize() {
	r.Project = CollapseSpace(r.Project)
	r.Topic = CollapseSpace(r.Topic)
	r.Tags = NormalizeTags(r.Tags)
	r.ExecutiveSummary = NormalizeList(r.ExecutiveSummary)
	r.Decisions = NormalizeList(r.Decisions)
	r.ActionItems = NormalizeList(r.ActionItems)
	r.OpenQuestions = NormalizeList(r.OpenQuestions)
	r.KeyInsights = NormalizeList(r.KeyInsights)
	r.PeopleMentioned = NormalizeList(r.PeopleMentioned)
	r.ProjectsMentioned = NormalizeList(r.ProjectsMentioned)
	r.RelatedIDs = NormalizeIDSet(r.RelatedIDs)

	if r.Importance == 0 {
		r.Importance = 3
	}
	if r.Sensitivity == "" {
		r.Sensitivity = SensitivityPrivate
	}
	if r.Version == 0 {
		r.Version = 1
	}
	r.Timestamp = r.Timestamp.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks struct tags (enums, ranges, id formats).
func (r *Record) Validate() error {
	return validatorInstance().Struct(r)
}

// Validate checks the file entry's struct tags.
func (f *FileEntry) Validate() error {
	return validatorInstance().Struct(f)
}

// ValidType reports whether t is a known record type.
func ValidType(t Type) bool {
	switch t {
	case TypeIdea, TypeDecision, TypeQuestion, TypeTask, TypeNote,
		TypeIssue, TypeReflection, TypeReminder, TypeInsight:
		return true
	}
	return false
}

// ValidSource reports whether s is a known source.
func ValidSource(s Source) bool {
	switch s {
	case SourceManual, SourceVoice, SourceEmail, SourceFile, SourceURL, SourceMessage, SourceImport:
		return true
	}
	return false
}

// ValidSensitivity reports whether s is a known sensitivity.
func ValidSensitivity(s Sensitivity) bool {
	switch s {
	case SensitivityPublic, SensitivityPrivate, SensitivityConfidential:
		return true
	}
	return false
}

// ValidProjectStatus reports whether s is a known project status.
func ValidProjectStatus(s ProjectStatus) bool {
	switch s {
	case ProjectActive, ProjectPaused, ProjectDone:
		return true
	}
	return false
}

// FieldErrors flattens a validator error into "field: rule" strings.
func FieldErrors(err error) []string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		if err == nil {
			return nil
		}
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		out = append(out, fe.Namespace()+": "+rule)
	}
	return out
}

// Now returns the current time in UTC. Tests replace it for deterministic timestamps.
var Now = func() time.Time { return time.Now().UTC() }
