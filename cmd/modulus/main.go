package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"

	"github.com/CZERTAINLY/Modulus/internal/log"
	"github.com/CZERTAINLY/Modulus/internal/model"
	"github.com/CZERTAINLY/Modulus/internal/store"
	"gopkg.in/yaml.v3"

	"github.com/spf13/cobra"
)

var (
	userConfigPath string // /default/config/path/modulus on given OS
	configPath     string // actual config file used (if loaded)
	config         model.Config
	logCloser      io.Closer

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
	flagKickstart      string // value of run --kickstart flag
)

func init() {
	d, err := os.UserConfigDir()
	if err != nil {
		panic(err)
	}
	userConfigPath = filepath.Join(d, "modulus")
}

func main() {
	// root flags
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is modulus.yaml in current directory or in "+userConfigPath)
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")
	runCmd.Flags().StringVar(&flagKickstart, "kickstart", "", "Kickstart to read before the installation, overrides the config")

	// never print messages
	rootCmd.SilenceErrors = true

	// parse or create a config, setup logging
	rootCmd.PersistentPreRunE = initModulus
	rootCmd.PersistentPostRun = func(*cobra.Command, []string) {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	}

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(kickstartCmd)
	rootCmd.AddCommand(requirementsCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		slog.Error("modulus failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "modulus",
	Short:        "Modular installer service",
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run reads the kickstart and installs the system",
	RunE:  doRun,
}

var kickstartCmd = &cobra.Command{
	Use:   "kickstart [file]",
	Short: "kickstart reads a kickstart and prints it as the modules understood it",
	Args:  cobra.MaximumNArgs(1),
	RunE:  doKickstart,
}

var requirementsCmd = &cobra.Command{
	Use:   "requirements [file]",
	Short: "requirements prints packages the installed system needs",
	Args:  cobra.MaximumNArgs(1),
	RunE:  doRequirements,
}

var statusCmd = &cobra.Command{
	Use:   "status <uuid>",
	Short: "status prints a recorded installation",
	Args:  cobra.ExactArgs(1),
	RunE:  doStatus,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provide version of a modulus",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("modulus: version info not available")
			return
		}

		if configPath != "" {
			fmt.Printf("config:  %s\n", configPath)
		}
		fmt.Printf("modulus: %s\n", info.Main.Version)
		fmt.Printf("go:      %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit:  %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:    %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:   %s\n", s.Value)
			}
		}
		fmt.Println()
	},
}

func cmdContext(cmd *cobra.Command) context.Context {
	attrs := slog.Group("modulus",
		slog.String("cmd", cmd.Name()),
		slog.Int("pid", os.Getpid()),
	)
	return log.ContextAttrs(cmd.Context(), attrs)
}

// readKickstart hands the kickstart at path to the modules. An empty path
// keeps the module defaults.
func readKickstart(ctx context.Context, inst *installer, path string) error {
	if path == "" {
		return nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading kickstart: %w", err)
	}
	report, err := inst.boss.ReadKickstart(ctx, string(b))
	if err != nil {
		return err
	}
	for _, w := range report.Warnings {
		slog.WarnContext(ctx, "kickstart", "path", path, "warning", w)
	}
	if err := report.Err(); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func doRun(cmd *cobra.Command, _ []string) error {
	ctx := cmdContext(cmd)
	inst, err := newInstaller(ctx, config)
	if err != nil {
		return err
	}
	defer inst.Close(ctx)

	path := config.Kickstart
	if flagKickstart != "" {
		path = flagKickstart
	}
	if err := readKickstart(ctx, inst, path); err != nil {
		return err
	}

	reqs, err := inst.boss.CollectRequirements(ctx)
	if err != nil {
		return fmt.Errorf("collecting requirements: %w", err)
	}
	for _, r := range reqs {
		slog.InfoContext(ctx, "requirement", "type", r.Type, "name", r.Name, "reason", r.Reason)
	}

	id, err := inst.boss.RunInstallation(ctx)
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "system installed", "installation", id)
	return nil
}

func doKickstart(cmd *cobra.Command, args []string) error {
	ctx := cmdContext(cmd)
	inst, err := newInstaller(ctx, config)
	if err != nil {
		return err
	}
	defer inst.Close(ctx)

	if len(args) == 1 {
		if err := readKickstart(ctx, inst, args[0]); err != nil {
			return err
		}
	}
	text, err := inst.boss.GenerateKickstart(ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), text)
	return err
}

func doRequirements(cmd *cobra.Command, args []string) error {
	ctx := cmdContext(cmd)
	inst, err := newInstaller(ctx, config)
	if err != nil {
		return err
	}
	defer inst.Close(ctx)

	if len(args) == 1 {
		if err := readKickstart(ctx, inst, args[0]); err != nil {
			return err
		}
	}
	reqs, err := inst.boss.CollectRequirements(ctx)
	if err != nil {
		return err
	}
	for _, r := range reqs {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", r.Type, r.Name, r.Reason)
	}
	return nil
}

func doStatus(cmd *cobra.Command, args []string) error {
	ctx := cmdContext(cmd)
	if config.Store == nil {
		return fmt.Errorf("store is not configured")
	}
	db, err := store.InitDB(ctx, config.Store.Path)
	if err != nil {
		return err
	}
	defer func() {
		_ = db.Close()
	}()
	row, err := store.Get(ctx, db, args[0])
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), row.String())
	return err
}

func initModulus(cmd *cobra.Command, _ []string) error {
	if envConfig, ok := os.LookupEnv("MODULUSCONFIG"); ok {
		configPath = envConfig
	} else if flagConfigFilePath != "" {
		configPath = flagConfigFilePath
	} else {
		for _, d := range []string{userConfigPath, "."} {
			path := filepath.Join(d, "modulus.yaml")
			if exists(path) {
				configPath = path
				break
			}
		}
	}

	// store default configuration
	if configPath == "" {
		config = model.DefaultConfig(cmd.Context())
		configPath = filepath.Join(userConfigPath, "modulus.yaml")
		if err := writeDefaultConfig(configPath, config); err != nil {
			return err
		}
	} else {
		f, err := os.Open(configPath)
		if err != nil {
			return fmt.Errorf("opening config file: %w", err)
		}
		defer func() {
			_ = f.Close()
		}()
		config, err = model.LoadConfig(f)
		if err != nil {
			for _, d := range model.CueErrDetails(err) {
				slog.Error("invalid config", d.Attr("detail"))
			}
			return fmt.Errorf("parsing config: %w", err)
		}
	}
	model.ApplyEnv(&config)

	// --verbose has a precedence over config file
	if flagVerbose {
		config.Service.Verbose = true
	}

	// initialize logging
	w, closer, err := log.Output(config.Service.Log)
	if err != nil {
		return err
	}
	logCloser = closer
	slog.SetDefault(log.New(w, config.Service.Verbose))

	slog.Debug("modulus run", "configPath", configPath)
	slog.Debug("modulus run", "config", config)
	return nil
}

func writeDefaultConfig(path string, cfg model.Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating file %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()
	if err := yaml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("storing configuration: %w", err)
	}
	return nil
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
