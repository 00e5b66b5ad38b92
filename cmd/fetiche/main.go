package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ternarybob/arbor"

	"github.com/keltia/fetiche/internal/common"
	"github.com/keltia/fetiche/internal/engine"
)

// configPaths allows multiple -config flags, later files overriding
// earlier ones.
type configPaths []string

func (c *configPaths) String() string { return fmt.Sprintf("%v", *c) }

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles  configPaths
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")
	listWhat     = flag.String("list", "", "List one of: sources, formats, containers, tokens, storage, commands, jobs")

	logger arbor.ILogger
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be given multiple times)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	os.Exit(run())
}

// run exists so deferred shutdowns execute before the exit code is
// surfaced.
func run() int {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("fetiche %s - %s\n", common.GetFullVersion(), common.EngineBanner())
		return 0
	}

	paths := configFiles
	if len(paths) == 0 {
		if p := common.DiscoverConfig(); p != "" {
			paths = append(paths, p)
		}
	}

	cfg, err := common.LoadConfig(paths...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fetiche: %v\n", err)
		return 1
	}

	logger = common.SetupLogger(cfg)
	defer common.StopLogger()

	common.PrintBanner(cfg, logger)

	eng, err := engine.New(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Engine initialization failed")
	}
	defer eng.Shutdown()

	if *listWhat != "" {
		fmt.Println(listTable(eng, *listWhat))
		return 0
	}

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: fetiche [-config file] <job-file>...")
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	exit := 0
	for _, path := range flag.Args() {
		if err := runJobFile(ctx, eng, path); err != nil {
			logger.Error().Err(err).Str("job_file", path).Msg("Job failed")
			exit = 1
		}
		if ctx.Err() != nil {
			break
		}
	}
	return exit
}

func runJobFile(ctx context.Context, eng *engine.Engine, path string) error {
	text, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read job file %s: %w", path, err)
	}

	job, err := eng.ParseJob(string(text))
	if err != nil {
		return err
	}

	logger.Info().Str("job_file", path).Str("name", job.Name).Msg("Submitting job")
	stats, err := eng.SubmitJobAndWait(ctx, job)
	if err != nil {
		return err
	}

	logger.Info().Str("name", job.Name).Msg(stats.String())
	return nil
}

func listTable(eng *engine.Engine, what string) string {
	switch what {
	case "sources":
		return eng.ListSources()
	case "formats":
		return eng.ListFormats()
	case "containers":
		return eng.ListContainers()
	case "tokens":
		return eng.ListTokens()
	case "storage":
		return eng.ListStorage()
	case "commands":
		return eng.ListCommands()
	case "jobs":
		return eng.ListJobs()
	default:
		return fmt.Sprintf("unknown list %q", what)
	}
}
