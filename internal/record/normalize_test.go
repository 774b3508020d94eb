package record

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRecord() *Record {
	return &Record{
		ID:          uuid.NewString(),
		Timestamp:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Source:      SourceManual,
		Type:        TypeNote,
		RawContent:  "hello",
		Importance:  3,
		Confidence:  0.5,
		Sensitivity: SensitivityPrivate,
		Version:     1,
	}
}

func TestNormalizeTags(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"nil", nil, nil},
		{"all blank", []string{" ", ""}, nil},
		{"case-insensitive dedupe keeps first", []string{"Go", "go", "  sqlite ", "GO"}, []string{"Go", "sqlite"}},
		{"collapses inner space", []string{"machine   learning"}, []string{"machine learning"}},
		{"preserves order", []string{"b", "a", "c"}, []string{"b", "a", "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, NormalizeTags(tt.in)); diff != "" {
				t.Errorf("NormalizeTags() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNormalizeIDSet(t *testing.T) {
	got := NormalizeIDSet([]string{"c", "a", "c", " ", "b"})
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Nil(t, NormalizeIDSet(nil))
}

func TestNormalizeList_KeepsDuplicates(t *testing.T) {
	got := NormalizeList([]string{" ship it ", "", "ship it"})
	assert.Equal(t, []string{"ship it", "ship it"}, got)
}

func TestRecord_NormalizeDefaults(t *testing.T) {
	loc := time.FixedZone("X", 3600)
	r := &Record{
		Project:   "  DB   project ",
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 6, loc),
	}
	r.Normalize()

	assert.Equal(t, "DB project", r.Project)
	assert.Equal(t, 3, r.Importance)
	assert.Equal(t, SensitivityPrivate, r.Sensitivity)
	assert.Equal(t, 1, r.Version)
	assert.Equal(t, time.UTC, r.Timestamp.Location())
}

func TestRecord_Validate(t *testing.T) {
	require.NoError(t, validRecord().Validate())

	tests := []struct {
		name   string
		mutate func(r *Record)
	}{
		{"bad type", func(r *Record) { r.Type = "memo" }},
		{"bad source", func(r *Record) { r.Source = "fax" }},
		{"importance too high", func(r *Record) { r.Importance = 6 }},
		{"importance zero", func(r *Record) { r.Importance = 0 }},
		{"confidence above one", func(r *Record) { r.Confidence = 1.5 }},
		{"bad sensitivity", func(r *Record) { r.Sensitivity = "secret" }},
		{"missing content", func(r *Record) { r.RawContent = "" }},
		{"parent not a uuid", func(r *Record) { r.ParentID = "nope" }},
		{"related not a uuid", func(r *Record) { r.RelatedIDs = []string{"nope"} }},
		{"id not a uuid", func(r *Record) { r.ID = "123" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRecord()
			tt.mutate(r)
			err := r.Validate()
			require.Error(t, err)
			assert.NotEmpty(t, FieldErrors(err))
		})
	}
}

func TestEnumHelpers(t *testing.T) {
	assert.True(t, ValidType(TypeDecision))
	assert.False(t, ValidType("memo"))
	assert.True(t, ValidSource(SourceURL))
	assert.False(t, ValidSource(""))
	assert.True(t, ValidSensitivity(SensitivityConfidential))
	assert.True(t, ValidProjectStatus(ProjectPaused))
	assert.False(t, ValidProjectStatus("archived"))
}

func TestFileEntry_Validate(t *testing.T) {
	assert.Error(t, (&FileEntry{}).Validate())
	assert.NoError(t, (&FileEntry{Path: "/tmp/a.md"}).Validate())
}
