package mcp

import (
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/hpungsan/cairn/internal/app"
)

// KnownTypes lists all valid type names.
var KnownTypes = []string{"record", "file", "checkpoint", "cache", "project", "store"}

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
// Nothing outside this table is ever dispatched.
var toolRegistry = map[string]toolEntry{
	"record_add": {
		def:     recordAddToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleAdd },
	},
	"record_get": {
		def:     recordGetToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleGet },
	},
	"record_search": {
		def:     recordSearchToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSearch },
	},
	"record_list": {
		def:     recordListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleList },
	},
	"record_update": {
		def:     recordUpdateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleUpdate },
	},
	"record_delete": {
		def:     recordDeleteToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleDelete },
	},
	"record_related": {
		def:     recordRelatedToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRelated },
	},
	"record_export": {
		def:     recordExportToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleExport },
	},
	"record_import": {
		def:     recordImportToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleImport },
	},
	"file_index": {
		def:     fileIndexToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleIndex },
	},
	"file_search": {
		def:     fileSearchToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSearchFiles },
	},
	"file_move": {
		def:     fileMoveToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleMove },
	},
	"checkpoint_list": {
		def:     checkpointListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCheckpoints },
	},
	"checkpoint_rollback": {
		def:     checkpointRollbackToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRollback },
	},
	"cache_check": {
		def:     cacheCheckToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCheck },
	},
	"cache_save": {
		def:     cacheSaveToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCacheSave },
	},
	"project_stale": {
		def:     projectStaleToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleStale },
	},
	"project_status": {
		def:     projectStatusToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleProjectStatus },
	},
	"store_reconcile": {
		def:     storeReconcileToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleReconcile },
	},
	"store_stats": {
		def:     storeStatsToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleStats },
	},
}

// AllToolNames returns all valid tool names, sorted.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// ValidateDisabledTypes returns a list of unknown type names from the given list.
func ValidateDisabledTypes(names []string) []string {
	known := make(map[string]bool, len(KnownTypes))
	for _, t := range KnownTypes {
		known[t] = true
	}

	unknown := make([]string, 0)
	for _, name := range names {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// GetTypeForTool extracts the type name from a tool name.
// Tool names follow the pattern "type_action" (e.g., "record_add" → "record").
func GetTypeForTool(toolName string) string {
	if idx := strings.Index(toolName, "_"); idx > 0 {
		return toolName[:idx]
	}
	return ""
}

// ExpandTypesToTools returns all tool names belonging to the given types.
func ExpandTypesToTools(types []string) []string {
	if len(types) == 0 {
		return nil
	}

	typeSet := make(map[string]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}

	tools := make([]string, 0)
	for name := range toolRegistry {
		if typeSet[GetTypeForTool(name)] {
			tools = append(tools, name)
		}
	}
	sort.Strings(tools)
	return tools
}

// EnabledTools resolves the registry against the disabled tools and types in
// a's config and returns the names that will be registered, sorted.
func EnabledTools(a *app.App) []string {
	disabled := make(map[string]bool)
	for _, tool := range ExpandTypesToTools(a.Config.DisabledTypes) {
		disabled[tool] = true
	}
	for _, name := range a.Config.DisabledTools {
		disabled[name] = true
	}

	enabled := make([]string, 0, len(toolRegistry))
	for _, name := range AllToolNames() {
		if !disabled[name] {
			enabled = append(enabled, name)
		}
	}
	return enabled
}

// NewServer creates a new MCP server with Cairn tools registered.
// Tools listed in DisabledTools or belonging to DisabledTypes are excluded.
// Unknown names in either list are logged and otherwise ignored.
func NewServer(a *app.App, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"cairn",
		version,
		server.WithToolCapabilities(true),
	)

	logger := a.Logger.Named("mcp")
	if unknown := ValidateDisabledTools(a.Config.DisabledTools); len(unknown) > 0 {
		logger.Warn("unknown tools in disabled_tools", zap.Strings("names", unknown))
	}
	if unknown := ValidateDisabledTypes(a.Config.DisabledTypes); len(unknown) > 0 {
		logger.Warn("unknown types in disabled_types", zap.Strings("names", unknown))
	}

	h := NewHandlers(a)
	enabled := EnabledTools(a)
	for _, name := range enabled {
		entry := toolRegistry[name]
		s.AddTool(entry.def, entry.handler(h))
	}
	logger.Debug("tools registered", zap.Int("count", len(enabled)))

	return s
}

// Run starts the MCP server using stdio transport.
func Run(a *app.App, version string) error {
	return server.ServeStdio(NewServer(a, version))
}
