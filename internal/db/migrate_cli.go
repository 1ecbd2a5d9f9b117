package db

import (
	"fmt"
	"io"
	"io/fs"
	"strconv"

	"github.com/banshee-data/laneguard/internal/monitoring"
)

// RunMigrateCommand handles the 'migrate' subcommand. Output goes to out.
func RunMigrateCommand(args []string, dbPath string, out io.Writer) error {
	if len(args) < 1 {
		PrintMigrateHelp(out)
		return fmt.Errorf("missing migrate action")
	}
	action := args[0]
	if action == "help" {
		PrintMigrateHelp(out)
		return nil
	}

	migrationsFS, err := getMigrationsFS()
	if err != nil {
		return err
	}

	// Open without running migrations; this command manages the schema.
	database, err := OpenDB(dbPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	switch action {
	case "up":
		monitoring.Logf("applying migrations")
		if err := database.MigrateUp(migrationsFS); err != nil {
			return err
		}
		return printVersion(out, database, migrationsFS)

	case "down":
		monitoring.Logf("reverting one migration")
		if err := database.MigrateDown(migrationsFS); err != nil {
			return err
		}
		return printVersion(out, database, migrationsFS)

	case "status":
		st, err := database.GetMigrationStatus(migrationsFS)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, "=== Migration Status ===")
		fmt.Fprintf(out, "Current version: %d\n", st.CurrentVersion)
		fmt.Fprintf(out, "Latest available: %d\n", st.LatestVersion)
		fmt.Fprintf(out, "Dirty: %v\n", st.Dirty)
		fmt.Fprintf(out, "Schema migrations table exists: %v\n", st.SchemaMigrationsExists)
		if st.Dirty {
			fmt.Fprintln(out, "\nWARNING: database is in a dirty state. Inspect it, then run: laneguard migrate force <version>")
		} else if st.CurrentVersion < st.LatestVersion {
			fmt.Fprintf(out, "\n%d migration(s) pending. Run: laneguard migrate up\n", st.LatestVersion-st.CurrentVersion)
		}
		return nil

	case "version":
		if len(args) < 2 {
			return fmt.Errorf("usage: laneguard migrate version <version_number>")
		}
		v, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid version number: %s", args[1])
		}
		if err := database.MigrateTo(migrationsFS, uint(v)); err != nil {
			return err
		}
		return printVersion(out, database, migrationsFS)

	case "force":
		if len(args) < 2 {
			return fmt.Errorf("usage: laneguard migrate force <version_number>")
		}
		v, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version number: %s", args[1])
		}
		monitoring.Logf("forcing migration version %d", v)
		if err := database.MigrateForce(migrationsFS, v); err != nil {
			return err
		}
		return printVersion(out, database, migrationsFS)

	default:
		PrintMigrateHelp(out)
		return fmt.Errorf("unknown migrate action: %s", action)
	}
}

func printVersion(out io.Writer, database *DB, migrationsFS fs.FS) error {
	version, dirty, err := database.MigrateVersion(migrationsFS)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Current version: %d (dirty: %v)\n", version, dirty)
	return nil
}

// PrintMigrateHelp writes the usage of the migrate command.
func PrintMigrateHelp(out io.Writer) {
	fmt.Fprintln(out, "Database Migration Commands")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Usage: laneguard migrate <command> [options]")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  up              Apply all pending migrations")
	fmt.Fprintln(out, "  down            Rollback one migration")
	fmt.Fprintln(out, "  status          Show current migration status and version")
	fmt.Fprintln(out, "  version <N>     Migrate to specific version N")
	fmt.Fprintln(out, "  force <N>       Force migration version to N (recovery only)")
	fmt.Fprintln(out, "  help            Show this help message")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Options:")
	fmt.Fprintln(out, "  -db <path>    Path to database file (default: laneguard.db)")
}
