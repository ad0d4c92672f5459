package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/banshee-data/boatnav/internal/config"
	"github.com/banshee-data/boatnav/internal/db"
	"github.com/banshee-data/boatnav/internal/fsutil"
	"github.com/banshee-data/boatnav/internal/report"
	"github.com/banshee-data/boatnav/internal/timeutil"
	"github.com/banshee-data/boatnav/internal/units"
	"github.com/banshee-data/boatnav/internal/version"
)

func main() {
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	command := flag.Arg(0)
	args := flag.Args()[1:]

	switch command {
	case "replay":
		handleReplay(args)
	case "runs":
		handleRuns(args)
	case "migrate":
		handleMigrate(args)
	case "version":
		fmt.Println(version.String("analyse"))
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`analyse - offline replay and tuning of boat recordings

Usage: analyse <command> [options]

Commands:
  replay     Re-run the estimator over a recording and report on it
  runs       List runs stored in a database
  migrate    Manage database schema migrations
  version    Show version
  help       Show this help message

Replay sources:
  --telem <file|dir>   telem*.json recording, or a directory (newest used)
  --kalman <file>      kalman*.json onboard estimates to overlay
  --db <path> --run <id>
                       a run stored by the boat ground station

Examples:
  # Replay the newest recording and plot it
  analyse replay --telem telem --out plots

  # Try a different drag coefficient against a stored run
  analyse replay --db boat.db --run 6f1c... --tune b1=0.12

  # Apply pending migrations
  analyse migrate --db boat.db up`)
}

func handleReplay(args []string) {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	telemPath := fs.String("telem", "", "Telemetry recording or directory of recordings")
	kalmanPath := fs.String("kalman", "", "Onboard estimate recording (defaults to the one matching -telem)")
	dbPath := fs.String("db", "", "Database holding stored runs")
	runID := fs.String("run", "", "Run ID to replay from -db (newest when empty)")
	configPath := fs.String("config", "", "Estimator tuning JSON (built-in defaults when empty)")
	outDir := fs.String("out", "", "Directory for PNG plots (no plots when empty)")
	prefix := fs.String("prefix", "replay", "File name prefix for plots")
	speedUnits := fs.String("units", units.MPS, "Speed units ("+units.GetValidUnitsString()+")")
	var tunes tuneList
	fs.Var(&tunes, "tune", "Re-run with param=value after the baseline (repeatable)")
	fs.Parse(args)

	if !units.IsValid(*speedUnits) {
		log.Fatalf("invalid --units %q, want one of %s", *speedUnits, units.GetValidUnitsString())
	}
	if (*telemPath == "") == (*dbPath == "") {
		fmt.Fprintln(os.Stderr, "Error: exactly one of --telem or --db is required")
		fs.Usage()
		os.Exit(1)
	}

	cfg := config.DefaultTuningConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load tuning config: %v", err)
		}
	}

	var in replayInput
	if *telemPath != "" {
		var err error
		in, err = loadFromFiles(fsutil.OSFileSystem{}, *telemPath, *kalmanPath)
		if err != nil {
			log.Fatalf("failed to load recording: %v", err)
		}
	} else {
		database, err := db.NewDB(*dbPath)
		if err != nil {
			log.Fatalf("failed to open database: %v", err)
		}
		defer database.Close()
		in, err = loadFromDB(database, *runID)
		if err != nil {
			log.Fatalf("failed to load run: %v", err)
		}
	}
	log.Printf("loaded %s: %d telemetry, %d onboard", in.Source, len(in.Records), len(in.Onboard))

	res, err := replay(cfg, in, tunes)
	if err != nil {
		log.Fatalf("replay failed: %v", err)
	}
	if err := res.write(os.Stdout, *speedUnits); err != nil {
		log.Fatalf("failed to write summary: %v", err)
	}

	if *outDir == "" {
		return
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatalf("failed to create %s: %v", *outDir, err)
	}
	files, err := report.RenderHistory(*outDir, *prefix, report.Input{
		Steps:        res.Baseline,
		Observations: res.Observations,
		Onboard:      in.Onboard,
	})
	if err != nil {
		log.Fatalf("failed to render plots: %v", err)
	}
	if res.Comparison != nil {
		more, err := report.RenderComparison(*outDir, *prefix, *res.Comparison)
		if err != nil {
			log.Fatalf("failed to render comparison: %v", err)
		}
		files = append(files, more...)
	}
	for _, f := range files {
		fmt.Println("wrote", f)
	}
}

func handleRuns(args []string) {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	dbPath := fs.String("db", "boat.db", "Database path")
	deleteID := fs.String("delete", "", "Delete this run and its records")
	fs.Parse(args)

	database, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer database.Close()

	if *deleteID != "" {
		if err := database.DeleteRun(*deleteID); err != nil {
			log.Fatalf("failed to delete run: %v", err)
		}
		fmt.Println("deleted", *deleteID)
		return
	}

	runs, err := database.ListRuns()
	if err != nil {
		log.Fatalf("failed to list runs: %v", err)
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tLABEL")
	for _, r := range runs {
		started := timeutil.FromSeconds(r.StartedAt).Format(time.RFC3339)
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.ID, started, r.Label)
	}
	tw.Flush()
}

func handleMigrate(args []string) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	dbPath := fs.String("db", "boat.db", "Database path")
	fs.Usage = func() { db.PrintMigrateHelp(os.Stderr) }
	fs.Parse(args)

	if err := db.RunMigrateCommand(fs.Args(), *dbPath, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
}
