package mcp

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions. Argument names match the request structs in handlers.go.

var recordAddToolDef = mcp.NewTool("record_add",
	mcp.WithDescription("Classify, summarize and embed a piece of knowledge and store it as a record. "+
		"Project and topic are hints that win over automatic classification."),
	mcp.WithString("content", mcp.Required(), mcp.Description("Raw text to remember")),
	mcp.WithString("source", mcp.Description("Where the content came from"),
		mcp.Enum("manual", "voice", "email", "file", "url", "message", "import")),
	mcp.WithString("project", mcp.Description("Project name hint")),
	mcp.WithString("topic", mcp.Description("Topic hint")),
	mcp.WithString("parent_id", mcp.Description("Record this one refines or continues")),
	mcp.WithArray("related_ids", mcp.WithStringItems(), mcp.Description("Records this one relates to")),
	mcp.WithString("created_by", mcp.Description("Author or agent name")),
	mcp.WithString("sensitivity", mcp.Description("Default private"),
		mcp.Enum("public", "private", "confidential")),
	mcp.WithString("language", mcp.Description("Content language, e.g. en")),
)

var recordGetToolDef = mcp.NewTool("record_get",
	mcp.WithDescription("Fetch one record by ID."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("id", mcp.Required(), mcp.Description("Record ID")),
	mcp.WithBoolean("include_text", mcp.Description("Include raw content (default true)")),
)

var recordSearchToolDef = mcp.NewTool("record_search",
	mcp.WithDescription("Semantic search over records. Results are ranked by similarity."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("query", mcp.Required(), mcp.Description("Natural-language query")),
	mcp.WithString("project", mcp.Description("Restrict to one project")),
	mcp.WithNumber("limit", mcp.Description("Max results (default 10, max 100)")),
)

var recordListToolDef = mcp.NewTool("record_list",
	mcp.WithDescription("List records newest first, optionally filtered by project, type or tag."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("project", mcp.Description("Filter by project")),
	mcp.WithString("type", mcp.Description("Filter by record type")),
	mcp.WithString("tag", mcp.Description("Filter by tag")),
	mcp.WithNumber("limit", mcp.Description("Page size (default 20, max 100)")),
	mcp.WithNumber("offset", mcp.Description("Items to skip")),
)

var recordUpdateToolDef = mcp.NewTool("record_update",
	mcp.WithDescription("Correct a record's classification. Content cannot be changed."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Record ID")),
	mcp.WithString("project", mcp.Description("New project")),
	mcp.WithString("topic", mcp.Description("New topic")),
	mcp.WithString("type", mcp.Description("New record type")),
	mcp.WithArray("tags", mcp.WithStringItems(), mcp.Description("Replacement tag set")),
	mcp.WithNumber("importance", mcp.Description("1 to 5")),
	mcp.WithString("sensitivity", mcp.Enum("public", "private", "confidential")),
)

var recordDeleteToolDef = mcp.NewTool("record_delete",
	mcp.WithDescription("Delete a record, its vector and its graph node."),
	mcp.WithDestructiveHintAnnotation(true),
	mcp.WithString("id", mcp.Required(), mcp.Description("Record ID")),
)

var recordRelatedToolDef = mcp.NewTool("record_related",
	mcp.WithDescription("List graph neighbours of a record or any node such as project:atlas."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("record_id", mcp.Description("Record ID (shorthand for node_id record:<id>)")),
	mcp.WithString("node_id", mcp.Description("Graph node ID")),
	mcp.WithString("relation", mcp.Description("Only edges with this relation, e.g. CHILD_OF")),
)

var recordExportToolDef = mcp.NewTool("record_export",
	mcp.WithDescription("Export records to a JSONL file."),
	mcp.WithString("path", mcp.Description("Output path (default under the exports directory)")),
	mcp.WithString("project", mcp.Description("Export only this project")),
)

var recordImportToolDef = mcp.NewTool("record_import",
	mcp.WithDescription("Import records from a JSONL export. Records are re-embedded."),
	mcp.WithString("path", mcp.Required(), mcp.Description("JSONL file to read")),
	mcp.WithString("mode", mcp.Description("What to do with existing IDs (default skip)"),
		mcp.Enum("skip", "replace")),
)

var fileIndexToolDef = mcp.NewTool("file_index",
	mcp.WithDescription("Index a file for semantic file search."),
	mcp.WithString("path", mcp.Required(), mcp.Description("Absolute file path")),
	mcp.WithString("project_id", mcp.Description("Project the file belongs to")),
	mcp.WithString("description", mcp.Description("Short description")),
	mcp.WithArray("tags", mcp.WithStringItems()),
	mcp.WithString("content", mcp.Description("Text to embed instead of extracting from the file")),
)

var fileSearchToolDef = mcp.NewTool("file_search",
	mcp.WithDescription("Find indexed files by meaning, topped up with filename matches."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("query", mcp.Required()),
	mcp.WithString("project_id", mcp.Description("Restrict to one project")),
	mcp.WithNumber("limit", mcp.Description("Max results (default 10, max 100)")),
)

var fileMoveToolDef = mcp.NewTool("file_move",
	mcp.WithDescription("Move files and record a checkpoint so the batch can be rolled back."),
	mcp.WithDestructiveHintAnnotation(true),
	mcp.WithArray("moves", mcp.Required(), mcp.Description("Moves to perform (max 500)"),
		mcp.Items(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"src":      map[string]any{"type": "string"},
				"dst":      map[string]any{"type": "string"},
				"reason":   map[string]any{"type": "string"},
				"category": map[string]any{"type": "string"},
			},
			"required": []string{"src", "dst"},
		})),
	mcp.WithString("action_type", mcp.Description("Checkpoint label (default move)")),
	mcp.WithString("description", mcp.Description("Why the batch was moved")),
)

var checkpointListToolDef = mcp.NewTool("checkpoint_list",
	mcp.WithDescription("List recent checkpoints, or fetch one by ID."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("id", mcp.Description("Checkpoint ID")),
	mcp.WithNumber("limit", mcp.Description("Max results (default 20, max 100)")),
)

var checkpointRollbackToolDef = mcp.NewTool("checkpoint_rollback",
	mcp.WithDescription("Reverse every move in a checkpoint. A checkpoint can be rolled back once."),
	mcp.WithDestructiveHintAnnotation(true),
	mcp.WithString("id", mcp.Required(), mcp.Description("Checkpoint ID")),
)

var cacheCheckToolDef = mcp.NewTool("cache_check",
	mcp.WithDescription("Hash a file and report whether it was already processed for a purpose."),
	mcp.WithString("path", mcp.Required()),
	mcp.WithString("purpose", mcp.Description("Processing context (default index)")),
)

var cacheSaveToolDef = mcp.NewTool("cache_save",
	mcp.WithDescription("Remember the result of processing a file hash for a purpose."),
	mcp.WithString("hash", mcp.Required(), mcp.Description("Hash returned by cache_check")),
	mcp.WithString("purpose", mcp.Description("Processing context (default index)")),
	mcp.WithObject("result", mcp.Required(), mcp.Description("Result to return on later hits")),
	mcp.WithNumber("cost_saved", mcp.Description("Cost avoided by each later hit")),
)

var projectStaleToolDef = mcp.NewTool("project_stale",
	mcp.WithDescription("List active projects with no activity for a number of days."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithNumber("days", mcp.Description("Inactivity threshold (default 14)")),
)

var projectStatusToolDef = mcp.NewTool("project_status",
	mcp.WithDescription("Pause, complete or reactivate a project."),
	mcp.WithString("name", mcp.Required()),
	mcp.WithString("status", mcp.Required(), mcp.Enum("active", "paused", "done")),
)

var storeReconcileToolDef = mcp.NewTool("store_reconcile",
	mcp.WithDescription("Rebuild vectors and graph edges from stored records and prune deleted files."),
	mcp.WithIdempotentHintAnnotation(true),
)

var storeStatsToolDef = mcp.NewTool("store_stats",
	mcp.WithDescription("Report store sizes, cache savings and counters."),
	mcp.WithReadOnlyHintAnnotation(true),
)
