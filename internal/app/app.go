// Package app owns every store handle for one process. main builds an App,
// hands it to the CLI or the MCP server, and closes it on exit.
package app

import (
	"database/sql"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hpungsan/cairn/internal/checkpoint"
	"github.com/hpungsan/cairn/internal/config"
	"github.com/hpungsan/cairn/internal/db"
	"github.com/hpungsan/cairn/internal/extract"
	"github.com/hpungsan/cairn/internal/graph"
	"github.com/hpungsan/cairn/internal/guard"
	"github.com/hpungsan/cairn/internal/intel"
	"github.com/hpungsan/cairn/internal/knowledge"
	"github.com/hpungsan/cairn/internal/logging"
	"github.com/hpungsan/cairn/internal/metrics"
	"github.com/hpungsan/cairn/internal/relational"
	"github.com/hpungsan/cairn/internal/vector"
	"go.uber.org/zap"
)

// App is the explicit context passed to every operation.
type App struct {
	BaseDir string
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *metrics.Metrics

	DB          *sql.DB
	Vectors     *vector.Store
	Relational  *relational.Store
	Graph       *graph.Store
	Guard       *guard.Guard
	Checkpoints *checkpoint.Manager
	Intel       intel.Intelligence
	Extractor   *extract.Extractor
	Knowledge   *knowledge.Store
}

// Option customises Open.
type Option func(*options)

type options struct {
	intel intel.Intelligence
}

// WithIntelligence replaces the collaborator selected by config.
func WithIntelligence(i intel.Intelligence) Option {
	return func(o *options) { o.intel = i }
}

// DefaultBaseDir returns ~/.cairn.
func DefaultBaseDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".cairn"), nil
}

// Open initialises the shared database and the vector store under baseDir
// and wires the stores together. A nil cfg means defaults.
func Open(baseDir string, cfg *config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger = logging.OrNop(logger)
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	in := o.intel
	if in == nil {
		var err error
		if in, err = intel.New(cfg, logger); err != nil {
			return nil, fmt.Errorf("failed to create intelligence provider: %w", err)
		}
	}
	if in.Dims() != cfg.EmbedDims {
		return nil, fmt.Errorf("intelligence provider produces %d dims, config wants %d", in.Dims(), cfg.EmbedDims)
	}

	conn, err := db.Init(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	db.ConfigurePool(conn, cfg)

	vectors, err := vector.Open(filepath.Join(baseDir, vector.DirName), cfg.EmbedDims, logger)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}

	m := metrics.New()
	a := &App{
		BaseDir:     baseDir,
		Config:      cfg,
		Logger:      logger,
		Metrics:     m,
		DB:          conn,
		Vectors:     vectors,
		Relational:  relational.New(conn, logger),
		Graph:       graph.New(conn, logger),
		Checkpoints: checkpoint.New(conn, m, logger),
		Intel:       in,
		Extractor:   extract.New(cfg.ExtractMaxChars),
	}
	a.Guard = guard.New(conn, guard.Options{
		FullThreshold: cfg.HashFullThresholdBytes,
		SampleBytes:   cfg.HashSampleBytes,
	}, m, logger)
	a.Knowledge = knowledge.New(knowledge.Deps{
		Relational: a.Relational,
		Vectors:    vectors,
		Graph:      a.Graph,
		Intel:      in,
		Extractor:  a.Extractor,
		Hasher:     a.Guard,
		Metrics:    m,
		Logger:     logger,
	}, knowledge.Options{
		SnippetChars:         cfg.SnippetChars,
		FallbackScore:        cfg.FallbackScore,
		ReconcileConcurrency: cfg.ReconcileConcurrency,
	})
	return a, nil
}

// ExportsDir is the default destination for exports.
func (a *App) ExportsDir() string {
	return filepath.Join(a.BaseDir, "exports")
}

// Close releases both database files.
func (a *App) Close() error {
	return stderrors.Join(a.Vectors.Close(), a.DB.Close())
}
