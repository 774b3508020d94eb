package intel

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
	"github.com/hpungsan/cairn/internal/record"
)

const (
	maxLocalTags   = 5
	ultraBriefMax  = 120
	executiveCount = 3
	detailedCount  = 6
	trigramWeight  = 0.5
)

// Local is a deterministic, offline backend. Embeddings are feature-hashed
// word and character-trigram counts; classification and summaries come
// from keyword rules and sentence selection.
type Local struct {
	dims int
}

// NewLocal returns a Local backend producing dims-length embeddings.
func NewLocal(dims int) *Local {
	if dims <= 0 {
		dims = 256
	}
	return &Local{dims: dims}
}

func (l *Local) Dims() int { return l.dims }

// Embed returns an L2-normalized hashed bag of words and trigrams.
// Similar spellings ("postgres", "postgresql") share trigram buckets.
func (l *Local) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float64, l.dims)
	for _, w := range words(text) {
		if stopwords[w] {
			continue
		}
		l.add(vec, "w:"+w, 1)
		padded := "^" + w + "$"
		runes := []rune(padded)
		for i := 0; i+3 <= len(runes); i++ {
			l.add(vec, "t:"+string(runes[i:i+3]), trigramWeight)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	out := make([]float32, l.dims)
	if norm == 0 {
		return out, nil
	}
	norm = math.Sqrt(norm)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out, nil
}

func (l *Local) add(vec []float64, feature string, weight float64) {
	h := xxhash.Sum64String(feature)
	idx := h % uint64(l.dims)
	if h&(1<<63) != 0 {
		weight = -weight
	}
	vec[idx] += weight
}

var (
	decisionWords = []string{"decided", "decide", "decision", "chose", "choose", "chosen", "going with", "settled on", "agreed"}
	taskWords     = []string{"todo", "to do", "need to", "must", "should", "action item"}
	insightWords  = []string{"learned", "realized", "insight", "turns out", "lesson"}
)

// typeRules are checked in order; the first match wins.
var typeRules = []struct {
	typ      record.Type
	keywords []string
}{
	{record.TypeDecision, decisionWords},
	{record.TypeIssue, []string{"bug", "broken", "error", "fails", "failing", "crash", "outage", "regression"}},
	{record.TypeReminder, []string{"remind", "reminder", "don't forget", "remember to"}},
	{record.TypeTask, taskWords},
	{record.TypeInsight, insightWords},
	{record.TypeIdea, []string{"idea", "what if", "could we", "maybe we", "brainstorm"}},
	{record.TypeReflection, []string{"i feel", "i felt", "reflecting", "looking back", "in hindsight"}},
}

var (
	positiveWords = []string{"great", "good", "happy", "excited", "love", "success", "win", "improved"}
	negativeWords = []string{"bad", "sad", "angry", "frustrated", "hate", "failure", "broken", "worried"}
	urgentWords   = []string{"urgent", "critical", "asap", "immediately", "blocker"}
)

// Classify infers type, tags and context with keyword rules. Hints for
// "project" and "topic" are taken as given.
func (l *Local) Classify(ctx context.Context, content string, hints Hints) (*record.Classification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lower := strings.ToLower(content)

	c := &record.Classification{
		Project:    hints["project"],
		Topic:      hints["topic"],
		Type:       record.TypeNote,
		Importance: 3,
		Confidence: 0.4,
		Sentiment:  sentiment(lower),
	}

	for _, rule := range typeRules {
		if containsAny(lower, rule.keywords) {
			c.Type = rule.typ
			c.Confidence = 0.7
			break
		}
	}
	if c.Type == record.TypeNote && isQuestion(content) {
		c.Type = record.TypeQuestion
		c.Confidence = 0.7
	}

	switch {
	case containsAny(lower, urgentWords):
		c.Importance = 5
	case c.Type == record.TypeDecision || c.Type == record.TypeIssue:
		c.Importance = 4
	}

	c.Tags = topTerms(content, maxLocalTags)
	if c.Topic == "" && len(c.Tags) > 0 {
		c.Topic = c.Tags[0]
	}
	return c, nil
}

// Summarize selects leading sentences for the summary levels and buckets
// sentences into knowledge lists by keyword.
func (l *Local) Summarize(ctx context.Context, content string) (*record.Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sentences := splitSentences(content)
	s := &record.Summary{}
	if len(sentences) == 0 {
		return s, nil
	}

	s.UltraBrief = truncateRunes(sentences[0], ultraBriefMax)
	s.ExecutiveSummary = append([]string{}, sentences[:min(executiveCount, len(sentences))]...)
	s.DetailedSummary = strings.Join(sentences[:min(detailedCount, len(sentences))], " ")

	for _, sent := range sentences {
		lower := strings.ToLower(sent)
		switch {
		case strings.HasSuffix(sent, "?"):
			s.OpenQuestions = append(s.OpenQuestions, sent)
		case containsAny(lower, decisionWords):
			s.Decisions = append(s.Decisions, sent)
		case containsAny(lower, taskWords):
			s.ActionItems = append(s.ActionItems, sent)
		case containsAny(lower, insightWords):
			s.KeyInsights = append(s.KeyInsights, sent)
		}
	}

	s.PeopleMentioned = prefixed(content, '@')
	s.ProjectsMentioned = prefixed(content, '#')
	return s, nil
}

var sentenceEnd = regexp.MustCompile(`([.!?])\s+`)

func splitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	marked := sentenceEnd.ReplaceAllString(text, "$1\n")
	var out []string
	for _, line := range strings.Split(marked, "\n") {
		if line = record.CollapseSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// topTerms returns the n most frequent non-stopword terms of 4+ runes,
// ties broken by first appearance.
func topTerms(text string, n int) []string {
	counts := map[string]int{}
	first := map[string]int{}
	for i, w := range words(text) {
		if stopwords[w] || utf8.RuneCountInString(w) < 4 {
			continue
		}
		if _, ok := first[w]; !ok {
			first[w] = i
		}
		counts[w]++
	}
	terms := make([]string, 0, len(counts))
	for w := range counts {
		terms = append(terms, w)
	}
	sort.Slice(terms, func(i, j int) bool {
		if counts[terms[i]] != counts[terms[j]] {
			return counts[terms[i]] > counts[terms[j]]
		}
		return first[terms[i]] < first[terms[j]]
	})
	if len(terms) > n {
		terms = terms[:n]
	}
	return terms
}

func prefixed(text string, marker byte) []string {
	var out []string
	for _, f := range strings.Fields(text) {
		if len(f) < 2 || f[0] != marker {
			continue
		}
		name := strings.TrimRightFunc(f[1:], func(r rune) bool { return unicode.IsPunct(r) })
		if name != "" {
			out = append(out, name)
		}
	}
	return record.NormalizeTags(out)
}

func sentiment(lower string) string {
	pos, neg := 0, 0
	for _, w := range words(lower) {
		for _, p := range positiveWords {
			if w == p {
				pos++
			}
		}
		for _, n := range negativeWords {
			if w == n {
				neg++
			}
		}
	}
	switch {
	case pos > neg:
		return "positive"
	case neg > pos:
		return "negative"
	default:
		return "neutral"
	}
}

func isQuestion(content string) bool {
	trimmed := strings.TrimSpace(content)
	if strings.HasSuffix(trimmed, "?") {
		return true
	}
	ws := words(trimmed)
	if len(ws) == 0 {
		return false
	}
	switch ws[0] {
	case "why", "how", "what", "when", "where", "who", "which", "should":
		return true
	}
	return false
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n-1])) + "…"
}

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "but": true,
	"of": true, "to": true, "in": true, "on": true, "for": true, "with": true,
	"at": true, "by": true, "from": true, "as": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "it": true, "its": true,
	"this": true, "that": true, "these": true, "those": true, "we": true,
	"i": true, "you": true, "they": true, "he": true, "she": true, "our": true,
	"my": true, "your": true, "their": true, "do": true, "did": true,
	"does": true, "have": true, "has": true, "had": true, "not": true,
	"so": true, "if": true, "then": true, "than": true, "there": true,
	"about": true, "into": true, "over": true, "will": true, "would": true,
	"can": true, "could": true, "just": true, "also": true, "very": true,
}
