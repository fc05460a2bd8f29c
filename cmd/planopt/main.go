package main

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"mit.edu/dsg/planopt"
	"mit.edu/dsg/planopt/optimizer"
	"mit.edu/dsg/planopt/plan"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var flags struct {
	settingsPath string
	catalogDir   string
	verbose      bool
	explainMode  string
}

var rootCmd = &cobra.Command{
	Use:          "planopt",
	Short:        "Optimize query plans described in YAML",
	SilenceUsage: true,
}

var optimizeCmd = &cobra.Command{
	Use:   "optimize <plan.yaml>",
	Short: "Optimize a plan and print the result",
	Args:  cobra.ExactArgs(1),
	RunE:  optimizeF,
}

var explainCmd = &cobra.Command{
	Use:   "explain <plan.yaml>",
	Short: "Optimize a plan for EXPLAIN, tolerating an exhausted rewrite budget",
	Long: `
Explain runs the same optimization as the optimize command, but when the first pass
runs out of its rewrite budget it shows the partially optimized plan instead of
failing.
`,
	Args: cobra.ExactArgs(1),
	RunE: explainF,
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Print the effective settings as TOML",
	Args:  cobra.NoArgs,
	RunE:  settingsF,
}

func init() {
	pfs := rootCmd.PersistentFlags()
	pfs.SortFlags = false
	pfs.StringVar(&flags.settingsPath, "settings", "", "path to a TOML settings file")
	pfs.StringVar(&flags.catalogDir, "catalog", "", "directory holding catalog.json")
	pfs.BoolVarP(&flags.verbose, "verbose", "v", false, "log every applied rewrite")

	explainCmd.Flags().StringVar(&flags.explainMode, "mode", string(optimizer.ExplainPlan), "explain mode: plan or pipeline")

	rootCmd.AddCommand(optimizeCmd, explainCmd, settingsCmd)
}

func newLogger() (*zap.Logger, error) {
	if flags.verbose {
		return zap.NewDevelopment()
	}
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return config.Build()
}

func loadSettings() (*optimizer.Settings, error) {
	if flags.settingsPath == "" {
		return optimizer.NewSettings(), nil
	}
	return optimizer.LoadSettings(flags.settingsPath)
}

func open(logger *zap.Logger) (*planopt.PlanOpt, error) {
	var p *planopt.PlanOpt
	if flags.catalogDir == "" {
		p = planopt.New(nil)
	} else {
		var err error
		if p, err = planopt.Open(flags.catalogDir); err != nil {
			return nil, err
		}
	}
	p.WithLogger(logger)
	return p, nil
}

func optimizeF(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	return run(cmd, args[0], settings)
}

func explainF(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	settings.Explain = optimizer.ExplainMode(flags.explainMode)
	if !settings.IsExplain() {
		return errors.Errorf("explain mode must be %q or %q", optimizer.ExplainPlan, optimizer.ExplainPipeline)
	}
	return run(cmd, args[0], settings)
}

func run(cmd *cobra.Command, path string, settings *optimizer.Settings) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	p, err := open(logger)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	tree, stats, err := p.Optimize(data, settings)
	if err != nil {
		return errors.Wrapf(err, "failed to optimize %s", path)
	}
	printResult(cmd, tree, stats)
	return nil
}

func printResult(cmd *cobra.Command, tree *plan.Tree, stats *optimizer.Stats) {
	out := cmd.OutOrStdout()
	fmt.Fprint(out, tree.Explain())
	fmt.Fprintf(out, "\nrules applied: %d (%d in local plans)\n", stats.Applied, stats.SubplanApplied)
	if len(stats.Projections) > 0 {
		fmt.Fprintf(out, "projections: %v\n", stats.Projections)
	}
	if stats.Splices > 0 {
		fmt.Fprintf(out, "local plans spliced: %d\n", stats.Splices)
	}
	if len(stats.SetsBuilt) > 0 {
		fmt.Fprintf(out, "sets built: %v\n", stats.SetsBuilt)
	}
	if stats.Explained {
		fmt.Fprintln(out, "optimization budget exhausted, plan is partially optimized")
	}
}

func settingsF(cmd *cobra.Command, _ []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	return toml.NewEncoder(cmd.OutOrStdout()).Encode(settings)
}
