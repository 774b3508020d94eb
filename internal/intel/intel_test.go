package intel

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/hpungsan/cairn/internal/config"
	"github.com/hpungsan/cairn/internal/record"
	"github.com/hpungsan/cairn/internal/vector"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalEmbed_DeterministicAndNormalized(t *testing.T) {
	l := NewLocal(64)
	ctx := context.Background()

	a, err := l.Embed(ctx, "PostgreSQL chosen for the ledger")
	require.NoError(t, err)
	b, err := l.Embed(ctx, "PostgreSQL chosen for the ledger")
	require.NoError(t, err)
	require.Len(t, a, 64)
	assert.Equal(t, a, b)

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)

	empty, err := l.Embed(ctx, "the and of")
	require.NoError(t, err)
	assert.Len(t, empty, 64)
}

func TestLocalEmbed_SimilarTextScoresHigher(t *testing.T) {
	l := NewLocal(256)
	ctx := context.Background()

	query, _ := l.Embed(ctx, "why did we choose Postgres")
	related, _ := l.Embed(ctx, "We chose PostgreSQL over MongoDB for the orders database")
	unrelated, _ := l.Embed(ctx, "Buy oat milk and bananas on the way home")

	assert.Greater(t, vector.Cosine(query, related), vector.Cosine(query, unrelated))
}

func TestLocalEmbed_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewLocal(8).Embed(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLocalClassify(t *testing.T) {
	l := NewLocal(32)
	ctx := context.Background()

	tests := []struct {
		name       string
		content    string
		wantType   record.Type
		importance int
	}{
		{"decision", "We decided to use PostgreSQL for billing.", record.TypeDecision, 4},
		{"question", "Why is the build so slow?", record.TypeQuestion, 3},
		{"issue", "Login is broken after the deploy", record.TypeIssue, 4},
		{"urgent task", "Need to rotate the keys, urgent", record.TypeTask, 5},
		{"plain note", "Coffee with the design team", record.TypeNote, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := l.Classify(ctx, tt.content, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, c.Type)
			assert.Equal(t, tt.importance, c.Importance)
			assert.True(t, record.ValidType(c.Type))
		})
	}
}

func TestLocalClassify_HintsWin(t *testing.T) {
	c, err := NewLocal(32).Classify(context.Background(), "Database migration database schema", Hints{"project": "atlas"})
	require.NoError(t, err)
	assert.Equal(t, "atlas", c.Project)
	require.NotEmpty(t, c.Tags)
	assert.Equal(t, "database", c.Tags[0])
	assert.Equal(t, "database", c.Topic)
}

func TestLocalSummarize(t *testing.T) {
	content := "We chose Postgres. Need to migrate the schema by Friday. Should we shard later? " +
		"Turns out JSONB is fast. Ping @alice about #atlas."

	s, err := NewLocal(32).Summarize(context.Background(), content)
	require.NoError(t, err)
	assert.Equal(t, "We chose Postgres.", s.UltraBrief)
	assert.Len(t, s.ExecutiveSummary, 3)
	assert.Equal(t, []string{"We chose Postgres."}, s.Decisions)
	assert.Equal(t, []string{"Need to migrate the schema by Friday."}, s.ActionItems)
	assert.Equal(t, []string{"Should we shard later?"}, s.OpenQuestions)
	assert.Equal(t, []string{"Turns out JSONB is fast."}, s.KeyInsights)
	assert.Equal(t, []string{"alice"}, s.PeopleMentioned)
	assert.Equal(t, []string{"atlas"}, s.ProjectsMentioned)

	empty, err := NewLocal(32).Summarize(context.Background(), "   ")
	require.NoError(t, err)
	assert.Empty(t, empty.UltraBrief)
}

func newFakeAPI(t *testing.T, dims int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		var req chatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "json_object", req.ResponseFormat["type"])

		content := `{"ultra_brief":"brief","executive_summary":["one"],"decisions":["use postgres"]}`
		if strings.HasPrefix(req.Messages[0].Content, classifyPrompt) {
			content = `{"project":"model-guess","topic":"db","type":"decision","tags":["postgres"],"importance":9,"confidence":0.8}`
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]string{"role": "assistant", "content": content}}},
		})
	})
	mux.HandleFunc("/embeddings", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req embedRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, dims, req.Dimensions)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []any{map[string]any{"embedding": make([]float32, dims)}},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestOpenAI_ClassifySummarizeEmbed(t *testing.T) {
	srv, _ := newFakeAPI(t, 8)
	o := NewOpenAI(OpenAIOptions{BaseURL: srv.URL + "/", APIKey: "test-key", Dims: 8}, nil)
	ctx := context.Background()

	c, err := o.Classify(ctx, "we picked postgres", Hints{"project": "atlas"})
	require.NoError(t, err)
	assert.Equal(t, "atlas", c.Project)
	assert.Equal(t, record.TypeDecision, c.Type)
	assert.Equal(t, 5, c.Importance)

	s, err := o.Summarize(ctx, "we picked postgres")
	require.NoError(t, err)
	assert.Equal(t, "brief", s.UltraBrief)
	assert.Equal(t, []string{"use postgres"}, s.Decisions)

	vec, err := o.Embed(ctx, "postgres")
	require.NoError(t, err)
	assert.Len(t, vec, 8)
}

func TestOpenAI_DimensionMismatch(t *testing.T) {
	srv, _ := newFakeAPI(t, 4)
	o := NewOpenAI(OpenAIOptions{BaseURL: srv.URL, APIKey: "test-key", Dims: 4}, nil)
	o.opts.Dims = 6

	_, err := o.Embed(context.Background(), "x")
	assert.ErrorContains(t, err, "dimensions")
}

func TestOpenAI_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	o := NewOpenAI(OpenAIOptions{BaseURL: srv.URL, Dims: 4}, nil)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := o.Embed(ctx, "x")
		require.ErrorContains(t, err, "status 503")
	}

	_, err := o.Embed(ctx, "x")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(5), calls.Load())
}

func TestNew_Providers(t *testing.T) {
	cfg := config.DefaultConfig()
	got, err := New(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &Local{}, got)
	assert.Equal(t, cfg.EmbedDims, got.Dims())

	cfg.Intelligence.Provider = ProviderOpenAI
	cfg.Intelligence.APIKeyEnv = "CAIRN_TEST_KEY"
	t.Setenv("CAIRN_TEST_KEY", "")
	_, err = New(cfg, nil)
	assert.ErrorContains(t, err, "CAIRN_TEST_KEY")

	t.Setenv("CAIRN_TEST_KEY", "k")
	got, err = New(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &OpenAI{}, got)

	cfg.Intelligence.Provider = "mystery"
	_, err = New(cfg, nil)
	assert.Error(t, err)
}
