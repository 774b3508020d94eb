package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/cairn/internal/app"
	"github.com/hpungsan/cairn/internal/errors"
	"github.com/hpungsan/cairn/internal/ops"
	"github.com/hpungsan/cairn/internal/watch"
)

// maxStdinBytes caps content piped to add and move.
const maxStdinBytes = 4 << 20

// newCLIApp creates the CLI application with all commands.
// a may be nil when only help or version output is needed.
func newCLIApp(a *app.App) *cli.App {
	cliApp := &cli.App{
		Name:    "cairn",
		Usage:   "Personal knowledge and file memory",
		Version: Version,
		Commands: []*cli.Command{
			addCmd(a),
			getCmd(a),
			searchCmd(a),
			listCmd(a),
			updateCmd(a),
			deleteCmd(a),
			relatedCmd(a),
			exportCmd(a),
			importCmd(a),
			indexCmd(a),
			searchFilesCmd(a),
			moveCmd(a),
			checkpointsCmd(a),
			rollbackCmd(a),
			checkCmd(a),
			staleCmd(a),
			projectStatusCmd(a),
			reconcileCmd(a),
			statsCmd(a),
			watchCmd(a),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	cliApp.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return cliApp
}

// addCmd creates the add command.
func addCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:      "add",
		Usage:     "Remember a piece of text (argument or stdin)",
		ArgsUsage: "[content]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "project", Aliases: []string{"p"}, Usage: "Project hint"},
			&cli.StringFlag{Name: "topic", Aliases: []string{"t"}, Usage: "Topic hint"},
			&cli.StringFlag{Name: "source", Aliases: []string{"s"}, Value: "manual", Usage: "Source: manual|voice|email|file|url|message|import"},
			&cli.StringFlag{Name: "parent", Usage: "Parent record ID"},
			&cli.StringFlag{Name: "related", Usage: "Comma-separated related record IDs"},
			&cli.StringFlag{Name: "created-by", Usage: "Author"},
			&cli.StringFlag{Name: "sensitivity", Usage: "public|private|confidential"},
			&cli.StringFlag{Name: "language", Usage: "Content language"},
		},
		Action: func(c *cli.Context) error {
			content := strings.Join(c.Args().Slice(), " ")
			if content == "" && stdinHasData() {
				text, err := readStdin(maxStdinBytes)
				if err != nil {
					return outputError(err)
				}
				content = text
			}

			output, err := ops.Add(c.Context, a, ops.AddInput{
				Content:     content,
				Source:      c.String("source"),
				Project:     c.String("project"),
				Topic:       c.String("topic"),
				ParentID:    c.String("parent"),
				RelatedIDs:  parseList(c.String("related")),
				CreatedBy:   c.String("created-by"),
				Sensitivity: c.String("sensitivity"),
				Language:    c.String("language"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// getCmd creates the get command.
func getCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Fetch a record by ID",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "no-text", Usage: "Exclude raw content from output"},
		},
		Action: func(c *cli.Context) error {
			input := ops.GetInput{ID: c.Args().First()}
			if c.Bool("no-text") {
				includeText := false
				input.IncludeText = &includeText
			}

			output, err := ops.Get(c.Context, a, input)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// searchCmd creates the search command.
func searchCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Semantic search over records",
		ArgsUsage: "<query>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "project", Aliases: []string{"p"}, Usage: "Restrict to one project"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 10, Usage: "Max results"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Search(c.Context, a, ops.SearchInput{
				Query:   strings.Join(c.Args().Slice(), " "),
				Project: c.String("project"),
				Limit:   c.Int("limit"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// listCmd creates the list command.
func listCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List records newest first",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "project", Aliases: []string{"p"}, Usage: "Filter by project"},
			&cli.StringFlag{Name: "type", Usage: "Filter by record type"},
			&cli.StringFlag{Name: "tag", Usage: "Filter by tag"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultListLimit, Usage: "Page size"},
			&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Usage: "Items to skip"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.List(c.Context, a, ops.ListInput{
				Project: c.String("project"),
				Type:    c.String("type"),
				Tag:     c.String("tag"),
				Limit:   c.Int("limit"),
				Offset:  c.Int("offset"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// updateCmd creates the update command. Only flags that are set are applied.
func updateCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:      "update",
		Usage:     "Correct a record's classification",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "project", Aliases: []string{"p"}, Usage: "New project"},
			&cli.StringFlag{Name: "topic", Aliases: []string{"t"}, Usage: "New topic"},
			&cli.StringFlag{Name: "type", Usage: "New record type"},
			&cli.StringFlag{Name: "tags", Usage: "Replacement comma-separated tags"},
			&cli.IntFlag{Name: "importance", Usage: "1 to 5"},
			&cli.StringFlag{Name: "sensitivity", Usage: "public|private|confidential"},
		},
		Action: func(c *cli.Context) error {
			input := ops.UpdateInput{ID: c.Args().First()}
			if c.IsSet("project") {
				v := c.String("project")
				input.Project = &v
			}
			if c.IsSet("topic") {
				v := c.String("topic")
				input.Topic = &v
			}
			if c.IsSet("type") {
				v := c.String("type")
				input.Type = &v
			}
			if c.IsSet("tags") {
				tags := parseList(c.String("tags"))
				input.Tags = &tags
			}
			if c.IsSet("importance") {
				v := c.Int("importance")
				input.Importance = &v
			}
			if c.IsSet("sensitivity") {
				v := c.String("sensitivity")
				input.Sensitivity = &v
			}

			output, err := ops.Update(c.Context, a, input)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// deleteCmd creates the delete command.
func deleteCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete a record with its vector and graph node",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			output, err := ops.Delete(c.Context, a, ops.DeleteInput{ID: c.Args().First()})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// relatedCmd creates the related command.
func relatedCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:      "related",
		Usage:     "List graph neighbours of a record or node",
		ArgsUsage: "[record-id]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "node", Usage: "Graph node ID, e.g. project:atlas"},
			&cli.StringFlag{Name: "relation", Aliases: []string{"r"}, Usage: "Only this relation"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Related(c.Context, a, ops.RelatedInput{
				NodeID:   c.String("node"),
				RecordID: c.Args().First(),
				Relation: c.String("relation"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// exportCmd creates the export command.
func exportCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export records to JSONL",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Usage: "Output file path (default: ~/.cairn/exports/<project|all>-<timestamp>.jsonl)"},
			&cli.StringFlag{Name: "project", Aliases: []string{"p"}, Usage: "Export only this project"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Export(c.Context, a, ops.ExportInput{
				Path:    c.String("path"),
				Project: c.String("project"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// importCmd creates the import command.
func importCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Import records from a JSONL export",
		ArgsUsage: "<path>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Value: string(ops.ImportModeSkip), Usage: "Existing IDs: skip|replace"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Import(c.Context, a, ops.ImportInput{
				Path: c.Args().First(),
				Mode: ops.ImportMode(c.String("mode")),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// indexCmd creates the index command.
func indexCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:      "index",
		Usage:     "Index a file for file search",
		ArgsUsage: "<path>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "project", Aliases: []string{"p"}, Usage: "Project ID"},
			&cli.StringFlag{Name: "description", Aliases: []string{"d"}, Usage: "Short description"},
			&cli.StringFlag{Name: "tags", Usage: "Comma-separated tags"},
			&cli.StringFlag{Name: "content", Usage: "Text to embed instead of the file's"},
		},
		Action: func(c *cli.Context) error {
			input := ops.IndexInput{
				Path:        c.Args().First(),
				ProjectID:   c.String("project"),
				Description: c.String("description"),
				Tags:        parseList(c.String("tags")),
			}
			if c.IsSet("content") {
				v := c.String("content")
				input.Content = &v
			}

			output, err := ops.Index(c.Context, a, input)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// searchFilesCmd creates the search-files command.
func searchFilesCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:      "search-files",
		Usage:     "Find indexed files by meaning or name",
		ArgsUsage: "<query>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "project", Aliases: []string{"p"}, Usage: "Restrict to one project"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 10, Usage: "Max results"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.SearchFiles(c.Context, a, ops.SearchFilesInput{
				Query:     strings.Join(c.Args().Slice(), " "),
				ProjectID: c.String("project"),
				Limit:     c.Int("limit"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// moveCmd creates the move command. Pairs come from arguments
// (src dst [src dst ...]) or a JSON array of moves on stdin.
func moveCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:      "move",
		Usage:     "Move files and record a checkpoint",
		ArgsUsage: "<src> <dst> [<src> <dst> ...]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "description", Aliases: []string{"d"}, Usage: "Why the batch was moved"},
			&cli.StringFlag{Name: "action-type", Value: ops.DefaultMoveAction, Usage: "Checkpoint label"},
			&cli.StringFlag{Name: "reason", Usage: "Reason recorded on every argument pair"},
		},
		Action: func(c *cli.Context) error {
			moves, err := parseMoves(c.Args().Slice(), c.String("reason"))
			if err != nil {
				return outputError(err)
			}

			output, err := ops.Move(c.Context, a, ops.MoveInput{
				Moves:       moves,
				ActionType:  c.String("action-type"),
				Description: c.String("description"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// checkpointsCmd creates the checkpoints command.
func checkpointsCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:      "checkpoints",
		Usage:     "List recent checkpoints or show one",
		ArgsUsage: "[id]",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultListLimit, Usage: "Max results"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Checkpoints(c.Context, a, ops.CheckpointsInput{
				ID:    c.Args().First(),
				Limit: c.Int("limit"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// rollbackCmd creates the rollback command.
func rollbackCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:      "rollback",
		Usage:     "Reverse every move in a checkpoint",
		ArgsUsage: "<checkpoint-id>",
		Action: func(c *cli.Context) error {
			output, err := ops.Rollback(c.Context, a, ops.RollbackInput{ID: c.Args().First()})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// checkCmd creates the check command.
func checkCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:      "check",
		Usage:     "Report whether a file was already processed",
		ArgsUsage: "<path>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "purpose", Value: ops.DefaultCachePurpose, Usage: "Processing context"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Check(c.Context, a, ops.CheckInput{
				Path:    c.Args().First(),
				Purpose: c.String("purpose"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// staleCmd creates the stale command.
func staleCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "stale",
		Usage: "List active projects with no recent activity",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "days", Aliases: []string{"d"}, Value: ops.DefaultStaleDays, Usage: "Inactivity threshold"},
		},
		Action: func(c *cli.Context) error {
			days := c.Int("days")
			output, err := ops.Stale(c.Context, a, ops.StaleInput{Days: &days})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// projectStatusCmd creates the project-status command.
func projectStatusCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:      "project-status",
		Usage:     "Set a project to active, paused or done",
		ArgsUsage: "<name> <status>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return outputError(errors.NewInvalidRequest("usage: cairn project-status <name> <status>"))
			}
			output, err := ops.ProjectStatus(c.Context, a, ops.ProjectStatusInput{
				Name:   c.Args().Get(0),
				Status: c.Args().Get(1),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// reconcileCmd creates the reconcile command.
func reconcileCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "reconcile",
		Usage: "Rebuild vectors and graph edges, prune deleted files",
		Action: func(c *cli.Context) error {
			output, err := ops.Reconcile(c.Context, a)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// statsCmd creates the stats command.
func statsCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show store sizes, cache savings and counters",
		Action: func(c *cli.Context) error {
			output, err := ops.Stats(c.Context, a)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// watchCmd creates the watch command. It runs until interrupted and then
// prints the watcher's counters.
func watchCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Re-index files under directories as they change",
		ArgsUsage: "<dir> [<dir> ...]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "project", Aliases: []string{"p"}, Usage: "Project ID for indexed files"},
			&cli.DurationFlag{Name: "debounce", Value: watch.DefaultDebounce, Usage: "Quiet period before indexing"},
			&cli.StringSliceFlag{Name: "ignore", Usage: "Base-name glob to skip (repeatable)"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return outputError(errors.NewInvalidRequest("at least one directory is required"))
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			w := watch.New(a.Knowledge, a.Guard, watch.Options{
				ProjectID: c.String("project"),
				Debounce:  c.Duration("debounce"),
				Ignore:    c.StringSlice("ignore"),
			}, a.Logger)
			if err := w.Run(ctx, c.Args().Slice()...); err != nil {
				return outputError(errors.NewInvalidRequest(err.Error()))
			}
			return outputJSON(w.Stats())
		},
	}
}

// outputJSON writes output as indented JSON to stdout.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI. Internal causes stay in the log.
func outputError(err error) error {
	if cerr, ok := errors.As(err); ok {
		msg := cerr.Message
		if cerr.Code == errors.ErrInternal {
			msg = "an internal error occurred"
		}
		return cli.Exit(fmt.Sprintf("[%s] %s", cerr.Code, msg), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads at most limit bytes from stdin.
func readStdin(limit int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(os.Stdin, limit+1))
	if err != nil {
		return "", errors.NewInternal(err)
	}
	if int64(len(data)) > limit {
		return "", errors.NewInvalidRequest(fmt.Sprintf("stdin exceeds %d bytes", limit))
	}
	return strings.TrimSpace(string(data)), nil
}

// parseList splits a comma-separated string into trimmed, non-empty items.
func parseList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	items := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			items = append(items, t)
		}
	}
	return items
}

// parseMoves builds move items from src/dst argument pairs, or from a JSON
// array on stdin when there are no arguments.
func parseMoves(args []string, reason string) ([]ops.MoveItem, error) {
	if len(args) == 0 {
		if !stdinHasData() {
			return nil, errors.NewInvalidRequest("moves must be given as src/dst pairs or piped as JSON")
		}
		text, err := readStdin(maxStdinBytes)
		if err != nil {
			return nil, err
		}
		var moves []ops.MoveItem
		if err := json.Unmarshal([]byte(text), &moves); err != nil {
			return nil, errors.NewInvalidRequest("invalid moves JSON: " + err.Error())
		}
		return moves, nil
	}

	if len(args)%2 != 0 {
		return nil, errors.NewInvalidRequest("moves must be given as src/dst pairs")
	}
	moves := make([]ops.MoveItem, 0, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		moves = append(moves, ops.MoveItem{Src: args[i], Dst: args[i+1], Reason: reason})
	}
	return moves, nil
}
