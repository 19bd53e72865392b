package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/liliang-cn/semlake/pkg/core"
	"github.com/liliang-cn/semlake/pkg/kg"
	"github.com/liliang-cn/semlake/pkg/lake"
)

var (
	configPath string
	dbPath     string
	refPath    string
	datasets   string
	verbose    bool
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "semlake",
	Short: "Semantic catalog for tabular data lakes",
	Long: `semlake maps the columns of CSV sources to the levels of a reference
knowledge graph, keeps member profiles of every mapped column and estimates
how joinable two sources are.`,
	SilenceUsage: true,
}

// loadConfig reads the config file, if any, and applies flag overrides
func loadConfig(cmd *cobra.Command) (core.Config, error) {
	cfg := core.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = core.LoadConfig(configPath); err != nil {
			return cfg, err
		}
	}
	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.Database = dbPath
	}
	if flags.Changed("reference") {
		cfg.Reference = refPath
	}
	if flags.Changed("datasets") {
		cfg.Datasets = datasets
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, cfg.Validate()
}

// openLake opens the lake described by the flags. A nil registerer leaves
// the metrics unregistered.
func openLake(cmd *cobra.Command, reg prometheus.Registerer) (*lake.Lake, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := core.NewLoggerFromConfig(os.Stderr, cfg.Log)
	if err != nil {
		return nil, err
	}
	l, err := lake.Open(cmd.Context(), cfg,
		lake.WithLogger(logger),
		lake.WithMetrics(core.NewMetrics(reg)))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", cfg.Database, err)
	}
	return l, nil
}

// withLake runs fn on an open lake and closes it afterwards
func withLake(fn func(cmd *cobra.Command, l *lake.Lake, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		l, err := openLake(cmd, nil)
		if err != nil {
			return err
		}
		runErr := fn(cmd, l, args)
		if err := l.Close(); runErr == nil {
			runErr = err
		}
		return runErr
	}
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

var mountCmd = &cobra.Command{
	Use:   "mount <path>...",
	Short: "Mount CSV files and map their columns",
	Args:  cobra.MinimumNArgs(1),
	RunE: withLake(func(cmd *cobra.Command, l *lake.Lake, args []string) error {
		for _, p := range args {
			res, err := l.Mount(cmd.Context(), p)
			if err != nil {
				return fmt.Errorf("failed to mount %s: %w", p, err)
			}
			printMount(os.Stdout, res)
		}
		return nil
	}),
}

var unmountCmd = &cobra.Command{
	Use:   "unmount <source>",
	Short: "Remove a source from the catalog",
	Args:  cobra.ExactArgs(1),
	RunE: withLake(func(cmd *cobra.Command, l *lake.Lake, args []string) error {
		status, err := l.Unmount(cmd.Context(), core.ParseSelector(args[0]))
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", args[0], status)
		return nil
	}),
}

var syncCmd = &cobra.Command{
	Use:   "sync <source>",
	Short: "Remount a source from its location",
	Args:  cobra.ExactArgs(1),
	RunE: withLake(func(cmd *cobra.Command, l *lake.Lake, args []string) error {
		res, err := l.Sync(cmd.Context(), core.ParseSelector(args[0]))
		if err != nil {
			return err
		}
		printMount(os.Stdout, res)
		return nil
	}),
}

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List mounted sources",
	Args:  cobra.NoArgs,
	RunE: withLake(func(cmd *cobra.Command, l *lake.Lake, args []string) error {
		sources := l.ListSources()
		if jsonOutput {
			return printJSON(sources)
		}
		printSources(os.Stdout, sources)
		return nil
	}),
}

var describeCmd = &cobra.Command{
	Use:   "describe <source>",
	Short: "Show the domains of a source with their mapping and completeness",
	Args:  cobra.ExactArgs(1),
	RunE: withLake(func(cmd *cobra.Command, l *lake.Lake, args []string) error {
		d, err := l.Describe(core.ParseSelector(args[0]))
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(d)
		}
		printDescription(os.Stdout, d)
		return nil
	}),
}

var profileCmd = &cobra.Command{
	Use:   "profile <source> [domain]",
	Short: "Show the member profile of a mapped domain",
	Args:  cobra.RangeArgs(1, 2),
	RunE: withLake(func(cmd *cobra.Command, l *lake.Lake, args []string) error {
		up, _ := cmd.Flags().GetBool("up")
		all, _ := cmd.Flags().GetBool("all")
		vector, _ := cmd.Flags().GetBool("vector")
		sel := core.ParseSelector(args[0])
		mode := lake.Exact
		if up {
			mode = lake.RolledUp
		}

		if all || len(args) == 1 {
			profiles, err := l.ProfileAll(sel, mode)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(profiles)
			}
			for domain, p := range profiles {
				printProfile(os.Stdout, domain, p)
			}
			return nil
		}

		domain := args[1]
		if vector {
			members, vec, err := l.ProfileVector(sel, domain)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(map[string]interface{}{"members": members, "vector": vec})
			}
			printVector(os.Stdout, members, vec)
			return nil
		}
		p, err := l.Profile(sel, domain, mode)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(p)
		}
		printProfile(os.Stdout, "", p)
		return nil
	}),
}

var clearCmd = &cobra.Command{
	Use:   "clear [source]",
	Short: "Remove one source, or every source with --all",
	Args:  cobra.MaximumNArgs(1),
	RunE: withLake(func(cmd *cobra.Command, l *lake.Lake, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		var sel core.Selector
		if len(args) == 1 {
			sel = core.ParseSelector(args[0])
		}
		n, err := l.Clear(cmd.Context(), all, sel)
		if err != nil {
			return err
		}
		fmt.Printf("%d source(s) cleared\n", n)
		return nil
	}),
}

var joinCmd = &cobra.Command{
	Use:   "join <source> <source>",
	Short: "Estimate how much of the second source joins into the first",
	Args:  cobra.ExactArgs(2),
	RunE: withLake(func(cmd *cobra.Command, l *lake.Lake, args []string) error {
		est, err := l.Joinability(cmd.Context(), core.ParseSelector(args[0]), core.ParseSelector(args[1]))
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(est)
		}
		printEstimate(os.Stdout, args[0], args[1], est)
		return nil
	}),
}

var kgCmd = &cobra.Command{
	Use:   "kg",
	Short: "Manage the reference knowledge graph",
}

var kgImportCmd = &cobra.Command{
	Use:   "import <file.nt|file.ttl>",
	Short: "Replace the reference model with an N-Triples or Turtle file and rebuild the index",
	Args:  cobra.ExactArgs(1),
	RunE: withLake(func(cmd *cobra.Command, l *lake.Lake, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()

		st, err := l.ImportReference(cmd.Context(), f, kg.FormatOf(args[0]))
		if err != nil {
			return err
		}
		fmt.Printf("Imported %d dimensions, %d levels, %d members\n", st.Dimensions, st.Levels, st.Members)
		return nil
	}),
}

var kgLevelsCmd = &cobra.Command{
	Use:   "levels [dimension]",
	Short: "List reference levels",
	Args:  cobra.MaximumNArgs(1),
	RunE: withLake(func(cmd *cobra.Command, l *lake.Lake, args []string) error {
		dim := ""
		if len(args) == 1 {
			dim = args[0]
		}
		m := l.Model()
		levels, err := m.Levels(dim)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(levels)
		}
		printLevels(os.Stdout, m, levels)
		return nil
	}),
}

var exportCmd = &cobra.Command{
	Use:   "export [file.json]",
	Short: "Write the reference model and catalog graph as JSON",
	Args:  cobra.MaximumNArgs(1),
	RunE: withLake(func(cmd *cobra.Command, l *lake.Lake, args []string) error {
		if len(args) == 0 {
			return l.Graph().ExportJSON(cmd.Context(), os.Stdout)
		}
		f, err := os.Create(args[0])
		if err != nil {
			return err
		}
		if err := l.Graph().ExportJSON(cmd.Context(), f); err != nil {
			_ = f.Close()
			return err
		}
		return f.Close()
	}),
}

var importCmd = &cobra.Command{
	Use:   "import <file.json>",
	Short: "Replace the reference model and catalog with an exported graph",
	Args:  cobra.ExactArgs(1),
	RunE: withLake(func(cmd *cobra.Command, l *lake.Lake, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		if err := l.ImportGraph(cmd.Context(), f); err != nil {
			return err
		}
		printStats(os.Stdout, l.Stats())
		return nil
	}),
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show catalog, reference and index statistics",
	Args:  cobra.NoArgs,
	RunE: withLake(func(cmd *cobra.Command, l *lake.Lake, args []string) error {
		st := l.Stats()
		if jsonOutput {
			return printJSON(st)
		}
		printStats(os.Stdout, st)
		return nil
	}),
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <path>...",
	Short: "Map files without mounting them and report mapping effectiveness",
	Args:  cobra.MinimumNArgs(1),
	RunE: withLake(func(cmd *cobra.Command, l *lake.Lake, args []string) error {
		ev, err := l.Evaluate(cmd.Context(), args)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(ev)
		}
		printEvaluation(os.Stdout, ev)
		return nil
	}),
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "semlake.db", "Database file path")
	rootCmd.PersistentFlags().StringVar(&refPath, "reference", "", "N-Triples or Turtle reference imported when the database has none")
	rootCmd.PersistentFlags().StringVar(&datasets, "datasets", ".", "Base folder for relative source paths")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	profileCmd.Flags().Bool("up", false, "Roll the profile up one level")
	profileCmd.Flags().Bool("all", false, "Show every mapped domain")
	profileCmd.Flags().Bool("vector", false, "Show the profile aligned to the sorted level members")

	clearCmd.Flags().Bool("all", false, "Clear every source")

	consoleCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address")

	kgCmd.AddCommand(kgImportCmd, kgLevelsCmd)

	rootCmd.AddCommand(mountCmd, unmountCmd, syncCmd, sourcesCmd, describeCmd, profileCmd,
		clearCmd, joinCmd, kgCmd, exportCmd, importCmd, statsCmd, evaluateCmd, consoleCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Fatal(err)
	}
}
