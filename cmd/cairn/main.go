package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/hpungsan/cairn/internal/app"
	"github.com/hpungsan/cairn/internal/config"
	"github.com/hpungsan/cairn/internal/logging"
	"github.com/hpungsan/cairn/internal/mcp"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"add": true, "get": true, "search": true, "list": true, "update": true,
	"delete": true, "related": true, "export": true, "import": true,
	"index": true, "search-files": true, "move": true, "checkpoints": true,
	"rollback": true, "check": true, "stale": true, "project-status": true,
	"reconcile": true, "stats": true, "watch": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false // No args → MCP server
	}
	arg := os.Args[1]
	if cliCommands[arg] {
		return true
	}
	if arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" {
		return true
	}
	return false
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
    ___ __ _ (_)_ __ _ __
   / __/ _' || | '__| '_ \
  | (_| (_| || | |  | | | |
   \___\__,_||_|_|  |_| |_|

  Personal knowledge and file memory

  Usage: cairn <command> [options]
         cairn --help

  MCP server mode requires piped input.`)
}

// openApp loads config from ~/.cairn and the nearest repo .cairn, then opens
// every store under ~/.cairn.
func openApp() (*app.App, error) {
	baseDir, err := app.DefaultBaseDir()
	if err != nil {
		return nil, err
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("could not determine working directory: %w", err)
	}
	cfg, err := config.LoadWithRepo(baseDir, cwd)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	a, err := app.Open(baseDir, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return a, nil
}

func main() {
	os.Exit(run())
}

func run() int {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return 0
	}

	// Handle --help/--version before opening any store
	if isHelpOrVersion() {
		if err := newCLIApp(nil).Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		return 0
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if !isCLIMode() && len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'cairn --help' for usage.\n")
		return 1
	}

	a, err := openApp()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() {
		if err := a.Close(); err != nil {
			a.Logger.Error("close failed", zap.Error(err))
		}
		_ = a.Logger.Sync()
	}()

	if isCLIMode() {
		if err := newCLIApp(a).Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		return 0
	}

	// MCP server mode (default)
	if err := mcp.Run(a, Version); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}
