package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"st-go/internal/app"
	"st-go/internal/config"
	"st-go/internal/st"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an STApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "Exclude", "Drain").
func newApp(operation string) (*app.STApp, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewSTApp(cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// readPassphrase prompts on stderr and reads a passphrase with echo disabled.
func readPassphrase(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no terminal available for passphrase prompt")
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

var rootCmd = &cobra.Command{
	Use:          "st",
	Short:        "Selective local materialization of a synced tree",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		deviceID := uuid.New().String()
		cfg := config.NewConfig(deviceID, defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Device ID: %s\n", deviceID)
		fmt.Printf("Base Dir:  %s\n", defaults["base_dir"])
		fmt.Printf("Root:      %s\n", cfg.Physical.Root)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Device ID:      %s\n", cfg.DeviceID)
		fmt.Printf("Base Dir:       %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:        %s\n", cfg.LogDir)
		fmt.Printf("Root:           %s\n", cfg.Physical.Root)
		fmt.Printf("Staging:        %s (every %s, %d per tick)\n",
			cfg.Staging.Type, cfg.Staging.Interval(), cfg.Staging.Batch())
		fmt.Printf("History:        %s (encrypted: %v)\n", cfg.History.Type, cfg.History.Encrypted)
		fmt.Printf("Keep history:   %v\n", cfg.Staging.PreserveHistory)
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage history encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the key pair for encrypted history",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("KeysInit")
		if err != nil {
			return err
		}
		defer a.Close()

		first, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}
		second, err := readPassphrase("Repeat passphrase: ")
		if err != nil {
			return err
		}
		if first != second {
			return fmt.Errorf("passphrases do not match")
		}

		if err := a.SetupKeys(first); err != nil {
			return err
		}
		fmt.Println("Encryption keys created.")
		return nil
	},
}

// tree commands
var mkdirCmd = &cobra.Command{
	Use:   "mkdir PATH",
	Short: "Create a folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Mkdir")
		if err != nil {
			return err
		}
		defer a.Close()

		return a.CreateFolder(args[0])
	},
}

var anchorCmd = &cobra.Command{
	Use:   "anchor PATH STORE",
	Short: "Mount a new store at PATH",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Anchor")
		if err != nil {
			return err
		}
		defer a.Close()

		sidx, err := a.CreateAnchor(args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Store %s mounted at %s (sidx %d)\n", args[1], args[0], sidx)
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import SOURCE PATH",
	Short: "Copy a local file into the tree",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Import")
		if err != nil {
			return err
		}
		defer a.Close()

		return a.ImportFile(args[0], args[1])
	},
}

var mvCmd = &cobra.Command{
	Use:   "mv FROM TO",
	Short: "Move or rename an object",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Move")
		if err != nil {
			return err
		}
		defer a.Close()

		return a.Move(args[0], args[1])
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm PATH",
	Short: "Move an object to the trash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Delete")
		if err != nil {
			return err
		}
		defer a.Close()

		return a.Delete(args[0])
	},
}

// expulsion commands
var excludeCmd = &cobra.Command{
	Use:   "exclude PATH",
	Short: "Remove a folder from local storage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Exclude")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Exclude(args[0]); err != nil {
			return err
		}
		fmt.Printf("Excluded %s\n", args[0])
		return nil
	},
}

var includeCmd = &cobra.Command{
	Use:   "include PATH",
	Short: "Bring an excluded folder back to local storage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Include")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Include(args[0]); err != nil {
			return err
		}
		fmt.Printf("Included %s\n", args[0])
		return nil
	},
}

var excludedCmd = &cobra.Command{
	Use:   "excluded",
	Short: "List excluded paths",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("ListExcluded")
		if err != nil {
			return err
		}
		defer a.Close()

		paths, err := a.ListExcluded()
		if err != nil {
			return err
		}
		if len(paths) == 0 {
			fmt.Println("Nothing excluded.")
			return nil
		}
		for _, p := range paths {
			fmt.Println(p)
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status [PATH]",
	Short: "View materialization status",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Status")
		if err != nil {
			return err
		}
		defer a.Close()

		path := ""
		if len(args) > 0 {
			path = args[0]
		}
		statuses, err := a.Status(path)
		if err != nil {
			return err
		}

		for _, s := range statuses {
			if s.Path == "" {
				continue
			}
			fmt.Printf("%s %-6s %s\n", statusIndicator(s), s.Type, s.Path)
		}
		return nil
	},
}

// statusIndicator renders the three status columns:
// E excluded (e when inherited), M materialized, S staged.
func statusIndicator(s *st.ObjectStatus) string {
	b := []byte("   ")
	switch {
	case s.SelfExpelled:
		b[0] = 'E'
	case s.Expelled:
		b[0] = 'e'
	}
	if s.Materialized {
		b[1] = 'M'
	}
	if s.Staged {
		b[2] = 'S'
	}
	return string(b)
}

// staging commands
var drainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Clean up staged subtrees now",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp("Drain")
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.Drain(limit)
		if err != nil {
			return fmt.Errorf("drain failed after %d step(s): %w", n, err)
		}
		fmt.Printf("Processed %d step(s)\n", n)
		return nil
	},
}

var stagedCmd = &cobra.Command{
	Use:   "staged",
	Short: "List subtrees waiting for cleanup",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("StagedEntries")
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.StagedEntries()
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("Nothing staged.")
			return nil
		}
		for _, e := range entries {
			history := ""
			if e.PreserveHistory {
				history = "  [history]"
			}
			fmt.Printf("#%d  %s  %s%s\n", e.Seq, e.SOID, e.Path, history)
		}
		return nil
	},
}

var teardownCmd = &cobra.Command{
	Use:   "teardown",
	Short: "Delete stores whose anchors were excluded or removed",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("TearDownStores")
		if err != nil {
			return err
		}
		defer a.Close()

		done, err := a.TearDownStores()
		if err != nil {
			return err
		}
		fmt.Printf("Tore down %d store(s)\n", len(done))
		return nil
	},
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Drain staged cleanup in the background",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Daemon")
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return a.Daemon(ctx)
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Browse revisions kept for scrubbed files",
}

var historyListCmd = &cobra.Command{
	Use:   "list PATH",
	Short: "List revisions of a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("GetRevisions")
		if err != nil {
			return err
		}
		defer a.Close()

		revs, err := a.GetRevisions(args[0])
		if err != nil {
			return err
		}
		if len(revs) == 0 {
			fmt.Println("No revisions.")
			return nil
		}
		for _, r := range revs {
			fmt.Printf("%s  %s  %d\n", r.ID, r.CreatedAt.Format("2006-01-02 15:04:05"), r.Size)
		}
		return nil
	},
}

var historyGetCmd = &cobra.Command{
	Use:   "get PATH ID",
	Short: "Write a revision to stdout or a file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("output")

		a, err := newApp("RestoreRevision")
		if err != nil {
			return err
		}
		defer a.Close()

		var passphrase string
		if a.HistoryEncrypted() {
			if passphrase, err = readPassphrase("Passphrase: "); err != nil {
				return err
			}
		}

		w := os.Stdout
		if out != "" {
			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("creating %s: %w", out, err)
			}
			defer f.Close()
			w = f
		}
		return a.RestoreRevision(args[0], args[1], passphrase, w)
	},
}

// log command
var logCmd = &cobra.Command{
	Use:   "log",
	Short: "View operation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp("GetOperations")
		if err != nil {
			return err
		}
		defer a.Close()

		ops, err := a.GetOperations(limit)
		if err != nil {
			return err
		}

		if len(ops) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}

		for _, op := range ops {
			duration := ""
			if op.FinishedAt != nil {
				duration = op.FinishedAt.Sub(op.StartedAt).Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-15s  %s  %-8s  %-10s  %s\n",
				op.ID,
				op.Operation,
				op.StartedAt.Format("2006-01-02 15:04:05"),
				op.Status,
				duration,
				op.Parameters,
			)
		}
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	keysCmd.AddCommand(keysInitCmd)

	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyGetCmd)
	historyGetCmd.Flags().StringP("output", "o", "", "Write the revision to this file")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(mkdirCmd)
	rootCmd.AddCommand(anchorCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(mvCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(excludeCmd)
	rootCmd.AddCommand(includeCmd)
	rootCmd.AddCommand(excludedCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(drainCmd)
	drainCmd.Flags().IntP("limit", "n", 0, "Maximum number of steps (0 drains everything)")
	rootCmd.AddCommand(stagedCmd)
	rootCmd.AddCommand(teardownCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(logCmd)
	logCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")
}
