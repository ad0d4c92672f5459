package db

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strconv"
)

var ErrMigrateUsage = errors.New("usage: migrate <up|down|status|to N|force N>")

// RunMigrateCommand handles the 'migrate' subcommand. Output goes to out;
// a bad invocation returns ErrMigrateUsage.
func RunMigrateCommand(args []string, dbPath string, out io.Writer) error {
	if len(args) < 1 {
		PrintMigrateHelp(out)
		return ErrMigrateUsage
	}

	migrationsFS := MigrationsFS()

	// Open without running migrations; this command manages the schema.
	database, err := OpenDB(dbPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	switch action := args[0]; action {
	case "up":
		if err := database.MigrateUp(migrationsFS); err != nil {
			return err
		}
		fmt.Fprintln(out, "All migrations applied")
		return printVersion(out, database, migrationsFS)

	case "down":
		if err := database.MigrateDown(migrationsFS); err != nil {
			return err
		}
		fmt.Fprintln(out, "Rolled back one migration")
		return printVersion(out, database, migrationsFS)

	case "status":
		if err := printVersion(out, database, migrationsFS); err != nil {
			return err
		}
		latest, err := LatestMigrationVersion(migrationsFS)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Latest available: %d\n", latest)
		return nil

	case "to":
		if len(args) < 2 {
			return ErrMigrateUsage
		}
		v, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid version number %q: %w", args[1], err)
		}
		if err := database.MigrateTo(migrationsFS, uint(v)); err != nil {
			return err
		}
		return printVersion(out, database, migrationsFS)

	case "force":
		if len(args) < 2 {
			return ErrMigrateUsage
		}
		v, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version number %q: %w", args[1], err)
		}
		if err := database.MigrateForce(migrationsFS, v); err != nil {
			return err
		}
		fmt.Fprintf(out, "Forced version to %d\n", v)
		return nil

	case "help":
		PrintMigrateHelp(out)
		return nil

	default:
		fmt.Fprintf(out, "Unknown migrate action: %s\n\n", action)
		PrintMigrateHelp(out)
		return ErrMigrateUsage
	}
}

func printVersion(out io.Writer, database *DB, migrationsFS fs.FS) error {
	version, dirty, err := database.MigrateVersion(migrationsFS)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Current version: %d (dirty: %v)\n", version, dirty)
	if dirty {
		fmt.Fprintln(out, "WARNING: a migration failed mid-execution; inspect the database then run 'migrate force <version>'")
	}
	return nil
}

// PrintMigrateHelp prints usage for the migrate subcommand.
func PrintMigrateHelp(out io.Writer) {
	fmt.Fprint(out, `Usage: analyse migrate <action> [args]

Actions:
  up          apply all pending migrations
  down        roll back the most recent migration
  status      show the current and latest schema version
  to N        migrate up or down to version N
  force N     set the recorded version to N without running SQL (recovery only)
  help        show this message
`)
}
