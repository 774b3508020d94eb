package record

import "time"

// Source is where a record's content came from.
type Source string

const (
	SourceManual  Source = "manual"
	SourceVoice   Source = "voice"
	SourceEmail   Source = "email"
	SourceFile    Source = "file"
	SourceURL     Source = "url"
	SourceMessage Source = "message"
	SourceImport  Source = "import"
)

// Type is the classification of a record.
type Type string

const (
	TypeIdea       Type = "idea"
	TypeDecision   Type = "decision"
	TypeQuestion   Type = "question"
	TypeTask       Type = "task"
	TypeNote       Type = "note"
	TypeIssue      Type = "issue"
	TypeReflection Type = "reflection"
	TypeReminder   Type = "reminder"
	TypeInsight    Type = "insight"
)

// Sensitivity controls who a record may be shown to.
type Sensitivity string

const (
	SensitivityPublic       Sensitivity = "public"
	SensitivityPrivate      Sensitivity = "private"
	SensitivityConfidential Sensitivity = "confidential"
)

// Record is a unit of stored knowledge.
// A Record exists iff its row is in the relational store; the embedding
// lives only in the vector store and is never persisted with the row.
type Record struct {
	ID        string    `json:"id" validate:"required,uuid"`
	Timestamp time.Time `json:"timestamp" validate:"required"`
	Source    Source    `json:"source" validate:"required,oneof=manual voice email file url message import"`

	Project string   `json:"project,omitempty" validate:"max=200"`
	Topic   string   `json:"topic,omitempty" validate:"max=200"`
	Type    Type     `json:"type" validate:"required,oneof=idea decision question task note issue reflection reminder insight"`
	Tags    []string `json:"tags,omitempty" validate:"max=50,dive,min=1,max=100"`

	UltraBrief       string   `json:"ultra_brief"`
	ExecutiveSummary []string `json:"executive_summary,omitempty"`
	DetailedSummary  string   `json:"detailed_summary,omitempty"`
	RawContent       string   `json:"raw_content" validate:"required"`

	Decisions         []string `json:"decisions,omitempty"`
	ActionItems       []string `json:"action_items,omitempty"`
	OpenQuestions     []string `json:"open_questions,omitempty"`
	KeyInsights       []string `json:"key_insights,omitempty"`
	PeopleMentioned   []string `json:"people_mentioned,omitempty"`
	ProjectsMentioned []string `json:"projects_mentioned,omitempty"`

	ParentID   string   `json:"parent_id,omitempty" validate:"omitempty,uuid"`
	RelatedIDs []string `json:"related_ids,omitempty" validate:"dive,uuid"`

	Language    string      `json:"language,omitempty"`
	Sentiment   string      `json:"sentiment,omitempty"`
	Importance  int         `json:"importance" validate:"gte=1,lte=5"`
	Confidence  float64     `json:"confidence" validate:"gte=0,lte=1"`
	Sensitivity Sensitivity `json:"sensitivity" validate:"required,oneof=public private confidential"`

	Version   int       `json:"version" validate:"gte=1"`
	CreatedBy string    `json:"created_by,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`

	Embedding []float32 `json:"-"`
}

// Classification is what the intelligence collaborator infers about content.
type Classification struct {
	Project    string   `json:"project"`
	Topic      string   `json:"topic"`
	Type       Type     `json:"type"`
	Tags       []string `json:"tags"`
	Sentiment  string   `json:"sentiment"`
	Importance int      `json:"importance"`
	Confidence float64  `json:"confidence"`
}

// Summary is the multi-level summary and extracted knowledge for content.
type Summary struct {
	UltraBrief        string   `json:"ultra_brief"`
	ExecutiveSummary  []string `json:"executive_summary"`
	DetailedSummary   string   `json:"detailed_summary"`
	Decisions         []string `json:"decisions"`
	ActionItems       []string `json:"action_items"`
	OpenQuestions     []string `json:"open_questions"`
	KeyInsights       []string `json:"key_insights"`
	PeopleMentioned   []string `json:"people_mentioned"`
	ProjectsMentioned []string `json:"projects_mentioned"`
}

// FileEntry is one row of the file index. Path is unique.
type FileEntry struct {
	Path         string    `json:"path" validate:"required"`
	ProjectID    string    `json:"project_id,omitempty"`
	Description  string    `json:"description,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	ContentHash  string    `json:"content_hash"`
	LastModified time.Time `json:"last_modified"`
	VectorID     string    `json:"vector_id"`
	IndexedAt    time.Time `json:"indexed_at"`
}

// ProjectStatus is the lifecycle state of a project row.
type ProjectStatus string

const (
	ProjectActive ProjectStatus = "active"
	ProjectPaused ProjectStatus = "paused"
	ProjectDone   ProjectStatus = "done"
)

// Project is maintained from record saves and read by stale-project queries.
type Project struct {
	Name       string        `json:"name"`
	Status     ProjectStatus `json:"status"`
	Importance int           `json:"importance"`
	UpdatedAt  time.Time     `json:"updated_at"`
}
