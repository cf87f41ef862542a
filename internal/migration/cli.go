package migration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
)

// ErrUnknownCommand 未知的迁移子命令
var ErrUnknownCommand = errors.New("unknown migrate subcommand")

// CLI 迁移命令的终端输出层
type CLI struct {
	migrator Migrator
	output   io.Writer
}

// NewCLI creates a new CLI instance
func NewCLI(migrator Migrator) *CLI {
	return &CLI{migrator: migrator, output: os.Stdout}
}

// SetOutput sets the output writer for CLI messages
func (c *CLI) SetOutput(w io.Writer) {
	c.output = w
}

// Run 执行子命令：up / down / down-all / reset / steps N / goto V / force V / version / status / info
func (c *CLI) Run(ctx context.Context, sub string, args []string) error {
	switch sub {
	case "up":
		return c.RunUp(ctx)
	case "down":
		return c.RunDown(ctx)
	case "down-all":
		return c.RunDownAll(ctx)
	case "reset":
		return c.RunReset(ctx)
	case "version":
		return c.RunVersion(ctx)
	case "status":
		return c.RunStatus(ctx)
	case "info":
		return c.RunInfo(ctx)
	case "steps", "goto", "force":
		if len(args) < 1 {
			return fmt.Errorf("%s requires a numeric argument", sub)
		}
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid %s argument %q: %w", sub, args[0], err)
		}
		switch sub {
		case "steps":
			return c.RunSteps(ctx, n)
		case "goto":
			if n < 0 {
				return fmt.Errorf("goto version must be >= 0")
			}
			return c.RunGoto(ctx, uint(n))
		default:
			return c.RunForce(ctx, n)
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnknownCommand, sub)
	}
}

func (c *CLI) printCurrent(ctx context.Context, prefix string) error {
	info, err := c.migrator.Info(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.output, "%s Current version: %d\n", prefix, info.CurrentVersion)
	return nil
}

// RunUp runs all pending migrations
func (c *CLI) RunUp(ctx context.Context) error {
	fmt.Fprintln(c.output, "Running migrations...")
	if err := c.migrator.Up(ctx); err != nil {
		return err
	}
	return c.printCurrent(ctx, "Migrations complete.")
}

// RunDown rolls back the last migration
func (c *CLI) RunDown(ctx context.Context) error {
	fmt.Fprintln(c.output, "Rolling back last migration...")
	if err := c.migrator.Down(ctx); err != nil {
		return err
	}
	return c.printCurrent(ctx, "Rollback complete.")
}

// RunDownAll rolls back all migrations
func (c *CLI) RunDownAll(ctx context.Context) error {
	fmt.Fprintln(c.output, "Rolling back all migrations...")
	if err := c.migrator.DownAll(ctx); err != nil {
		return err
	}
	fmt.Fprintln(c.output, "All migrations rolled back.")
	return nil
}

// RunReset 回滚全部后重新执行
func (c *CLI) RunReset(ctx context.Context) error {
	fmt.Fprintln(c.output, "Resetting schema...")
	if err := c.migrator.Reset(ctx); err != nil {
		return err
	}
	return c.printCurrent(ctx, "Reset complete.")
}

// RunSteps applies or rolls back n migrations
func (c *CLI) RunSteps(ctx context.Context, n int) error {
	if n >= 0 {
		fmt.Fprintf(c.output, "Applying %d migration(s)...\n", n)
	} else {
		fmt.Fprintf(c.output, "Rolling back %d migration(s)...\n", -n)
	}
	if err := c.migrator.Steps(ctx, n); err != nil {
		return err
	}
	return c.printCurrent(ctx, "Complete.")
}

// RunGoto migrates to a specific version
func (c *CLI) RunGoto(ctx context.Context, version uint) error {
	fmt.Fprintf(c.output, "Migrating to version %d...\n", version)
	if err := c.migrator.Goto(ctx, version); err != nil {
		return err
	}
	return c.printCurrent(ctx, "Migration complete.")
}

// RunForce forces the migration version
func (c *CLI) RunForce(ctx context.Context, version int) error {
	fmt.Fprintf(c.output, "Forcing version to %d...\n", version)
	if err := c.migrator.Force(ctx, version); err != nil {
		return err
	}
	fmt.Fprintf(c.output, "Version forced to %d\n", version)
	return nil
}

// RunVersion shows the current migration version
func (c *CLI) RunVersion(ctx context.Context) error {
	version, dirty, err := c.migrator.Version(ctx)
	if err != nil {
		return err
	}
	if version == 0 {
		fmt.Fprintln(c.output, "No migrations applied yet.")
		return nil
	}
	suffix := ""
	if dirty {
		suffix = " (dirty)"
	}
	fmt.Fprintf(c.output, "Current version: %d%s\n", version, suffix)
	return nil
}

// RunStatus 以表格列出每个迁移
func (c *CLI) RunStatus(ctx context.Context) error {
	statuses, err := c.migrator.Status(ctx)
	if err != nil {
		return err
	}
	if len(statuses) == 0 {
		fmt.Fprintln(c.output, "No migrations found.")
		return nil
	}

	w := tabwriter.NewWriter(c.output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tSTATUS")
	applied := 0
	for _, s := range statuses {
		status := "Pending"
		switch {
		case s.Dirty:
			status = "Dirty"
		case s.Applied:
			status = "Applied"
		}
		if s.Applied {
			applied++
		}
		fmt.Fprintf(w, "%06d\t%s\t%s\n", s.Version, s.Name, status)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(c.output, "\nTotal: %d, Applied: %d, Pending: %d\n", len(statuses), applied, len(statuses)-applied)
	return nil
}

// RunInfo shows detailed migration information
func (c *CLI) RunInfo(ctx context.Context) error {
	info, err := c.migrator.Info(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.output, "Migration Information:")
	fmt.Fprintf(c.output, "  Current Version:    %d\n", info.CurrentVersion)
	fmt.Fprintf(c.output, "  Dirty:              %v\n", info.Dirty)
	fmt.Fprintf(c.output, "  Total Migrations:   %d\n", info.TotalMigrations)
	fmt.Fprintf(c.output, "  Applied Migrations: %d\n", info.AppliedMigrations)
	fmt.Fprintf(c.output, "  Pending Migrations: %d\n", info.PendingMigrations)
	return nil
}
