// Command agentfsctl is an operator CLI for an agentfs database: creating
// one, inspecting its state, forcing maintenance, and exporting a
// consistent snapshot.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	agentfs "github.com/agnt-run/agentfs"
	"github.com/agnt-run/agentfs/internal/dbconfig"
	. "github.com/agnt-run/agentfs/internal/logging"
)

// version is set by goreleaser via ldflags: -X main.version=...
var version = "dev"

// CLI defines the command-line interface.
type CLI struct {
	Debug bool   `help:"Enable debug logging" short:"d"`
	DB    string `help:"Path to the agentfs database file" short:"f" type:"path"`

	Init       InitCmd       `cmd:"" help:"Create a new database file"`
	Stat       StatCmd       `cmd:"" help:"Show schema version, chunk size, and tier occupancy"`
	GC         GCCmd         `cmd:"" help:"Remove orphaned inodes, chunks, and symlink rows"`
	Scrub      ScrubCmd      `cmd:"" help:"Verify chunk checksums and run SQLite's integrity check"`
	Checkpoint CheckpointCmd `cmd:"" help:"Force a WAL checkpoint"`
	Migrate    MigrateCmd    `cmd:"" help:"Re-run schema migration against the database"`
	Export     ExportCmd     `cmd:"" help:"Copy a consistent snapshot of the database to a new file"`
	Version    VersionCmd    `cmd:"" help:"Show version"`
}

// Context is passed to every command's Run method.
type Context struct {
	Debug bool
	DB    string
}

func (c *Context) openEngine() (*agentfs.Engine, error) {
	if c.DB == "" {
		return nil, fmt.Errorf("agentfsctl: --db is required (or set AGENTFS_DB)")
	}
	return agentfs.Open(dbconfig.Config{DBPath: c.DB})
}

// InitCmd creates a new database file, failing if one already exists.
type InitCmd struct{}

func (i *InitCmd) Run(ctx *Context) error {
	if ctx.DB == "" {
		return fmt.Errorf("agentfsctl: --db is required (or set AGENTFS_DB)")
	}
	e, err := agentfs.Create(dbconfig.Config{DBPath: ctx.DB})
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer e.Close()
	fmt.Printf("Created %s\n", ctx.DB)
	return nil
}

// StatCmd reports schema version, chunk size, and memory tier occupancy.
type StatCmd struct{}

func (s *StatCmd) Run(ctx *Context) error {
	e, err := ctx.openEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	info, err := e.Info(context.Background())
	if err != nil {
		return fmt.Errorf("stat: %w", err)
	}

	fmt.Printf("Database:       %s\n", info.DBPath)
	fmt.Printf("Schema version: %d\n", info.SchemaVersion)
	fmt.Printf("Chunk size:     %d bytes\n", info.ChunkSize)
	fmt.Printf("Memory tiers:   hot=%d warm=%d cold=%d\n", info.HotCount, info.WarmCount, info.ColdCount)
	fmt.Printf("Pressure:       %s\n", info.Pressure)
	return nil
}

// GCCmd removes orphaned rows left behind by unlink operations.
type GCCmd struct{}

func (g *GCCmd) Run(ctx *Context) error {
	e, err := ctx.openEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	result, err := e.GC()
	if err != nil {
		return fmt.Errorf("gc: %w", err)
	}

	fmt.Printf("Removed %d orphan inode(s), %d orphan chunk(s), %d orphan symlink(s)\n",
		result.OrphanInodes, result.OrphanData, result.OrphanSymlink)
	return nil
}

// ScrubCmd verifies chunk checksums and SQLite's own integrity check.
type ScrubCmd struct{}

func (s *ScrubCmd) Run(ctx *Context) error {
	e, err := ctx.openEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	result, err := e.Scrub()
	if err != nil {
		return fmt.Errorf("scrub: %w", err)
	}

	fmt.Printf("SQLite integrity: %v\n", result.SQLiteOK)
	fmt.Printf("Chunks verified:  %d/%d\n", result.Verified, result.Total)
	if len(result.Corrupt) > 0 {
		fmt.Printf("Corrupt chunks:\n")
		for _, c := range result.Corrupt {
			fmt.Printf("  %+v\n", c)
		}
		return fmt.Errorf("scrub: %d corrupt chunk(s) found", len(result.Corrupt))
	}
	if !result.SQLiteOK {
		return fmt.Errorf("scrub: sqlite integrity check failed")
	}
	return nil
}

// CheckpointCmd forces an immediate WAL checkpoint.
type CheckpointCmd struct {
	Truncate bool `help:"Use TRUNCATE mode instead of PASSIVE"`
}

func (c *CheckpointCmd) Run(ctx *Context) error {
	e, err := ctx.openEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.Checkpoint(c.Truncate); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	fmt.Println("Checkpoint complete")
	return nil
}

// MigrateCmd re-runs schema migration against an already-open database.
type MigrateCmd struct{}

func (m *MigrateCmd) Run(ctx *Context) error {
	e, err := ctx.openEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.Migrate(); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	fmt.Println("Schema is current")
	return nil
}

// ExportCmd copies a consistent snapshot of the database to a new file.
type ExportCmd struct {
	Dest string `arg:"" help:"Destination file path" type:"path"`
}

func (x *ExportCmd) Run(ctx *Context) error {
	e, err := ctx.openEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.Snapshot(x.Dest); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	fmt.Printf("Exported snapshot to %s\n", x.Dest)
	return nil
}

// VersionCmd shows version info.
type VersionCmd struct{}

func (v *VersionCmd) Run(ctx *Context) error {
	fmt.Printf("agentfsctl %s\n", version)
	return nil
}

func main() {
	cli := CLI{}
	kctx := kong.Parse(&cli,
		kong.Name("agentfsctl"),
		kong.Description("Operator CLI for an agentfs database"),
		kong.UsageOnError(),
	)

	level := LevelInfo
	if cli.Debug {
		level = LevelDebug
	}
	Init(&Config{Level: level, ShowCaller: false})

	dbPath := cli.DB
	if dbPath == "" {
		dbPath = os.Getenv("AGENTFS_DB")
	}

	err := kctx.Run(&Context{
		Debug: cli.Debug,
		DB:    dbPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "agentfsctl: %v\n", err)
		os.Exit(1)
	}
}
