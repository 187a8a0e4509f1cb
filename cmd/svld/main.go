package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"svld/internal/app"
	"svld/internal/config"
	"svld/internal/svld"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an SvldApp. The caller must defer app.Close().
// operation identifies the CLI command being run; args are recorded with it.
func newApp(ctx context.Context, operation string, args ...string) (*app.SvldApp, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewSvldApp(ctx, cfg, app.NewBackupOperation(operation, args...))
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid backup id %q", s)
	}
	return id, nil
}

// setFlags returns the flags given on the command line as --name=value.
func setFlags(cmd *cobra.Command) []string {
	var out []string
	cmd.Flags().Visit(func(f *pflag.Flag) {
		out = append(out, "--"+f.Name+"="+f.Value.String())
	})
	return out
}

var rootCmd = &cobra.Command{
	Use:          "svld",
	Short:        "Game save snapshots",
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

		hostID := uuid.New().String()
		cfg := config.NewConfig(hostID, defaults["base_dir"])
		cfg.SourcePath, _ = cmd.Flags().GetString("source")

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Host ID:     %s\n", hostID)
		fmt.Printf("Backup root: %s\n", cfg.Vault.Root)
		if cfg.SourcePath == "" {
			fmt.Println("Set source_path to your save directory before running svld save.")
		}
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
		fmt.Printf("Host ID:     %s\n", cfg.HostID)
		fmt.Printf("Save dir:    %s\n", cfg.SourcePath)
		fmt.Printf("Backup root: %s\n", cfg.Vault.Root)
		fmt.Printf("Database:    %s %s\n", cfg.Database.Type, cfg.Database.DataDir)
		fmt.Printf("Log Dir:     %s\n", cfg.LogDir)
		fmt.Printf("Mirror:      %s\n", cfg.Mirror.Type)
		return nil
	},
}

// save command
var saveCmd = &cobra.Command{
	Use:   "save",
	Short: "Snapshot the save directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		note, _ := cmd.Flags().GetString("note")
		source, _ := cmd.Flags().GetString("source")

		a, err := newApp(cmd.Context(), "save", setFlags(cmd)...)
		if err != nil {
			return err
		}
		defer a.Close()

		start := time.Now()
		res, err := a.Save(cmd.Context(), source, name, note)
		if err != nil {
			var dup *svld.DuplicateDigestError
			if errors.As(err, &dup) {
				return fmt.Errorf("nothing to save: %w", err)
			}
			return fmt.Errorf("save failed: %w", err)
		}

		rec := res.Record
		fmt.Printf("Saved #%d %q (%s) in %s\n", rec.ID, rec.Name, humanize.Bytes(rec.Size),
			time.Since(start).Truncate(time.Millisecond))
		if res.Deduplicated {
			fmt.Println("Reused existing snapshot data.")
		}
		if res.MirrorErr != nil {
			fmt.Printf("Warning: mirror upload failed: %v\n", res.MirrorErr)
		}
		return nil
	},
}

// list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "list")
		if err != nil {
			return err
		}
		defer a.Close()

		recs, err := a.List()
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Println("No snapshots saved.")
			return nil
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.Header("ID", "Name", "Saved", "Size", "Digest", "Note")
		for _, r := range recs {
			table.Append([]string{
				strconv.FormatInt(r.ID, 10),
				r.Name,
				humanize.Time(r.SaveTime),
				humanize.Bytes(r.Size),
				r.Digest[:min(12, len(r.Digest))],
				r.MoreInfo,
			})
		}
		return table.Render()
	},
}

// restore command
var restoreCmd = &cobra.Command{
	Use:   "restore ID",
	Short: "Replace the save directory with a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		target, _ := cmd.Flags().GetString("target")
		yes, _ := cmd.Flags().GetBool("yes")

		a, err := newApp(cmd.Context(), "restore", append(args, setFlags(cmd)...)...)
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.FindBackup(id)
		if err != nil {
			return err
		}
		if !yes {
			where := target
			if where == "" {
				where = "the save directory"
			}
			ok, err := confirm(fmt.Sprintf("Replace %s with snapshot #%d %q?", where, rec.ID, rec.Name))
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("Restore cancelled.")
				return nil
			}
		}

		res, err := a.Restore(cmd.Context(), id, target, func(s svld.RestoreState) {
			if s != svld.RestoreDone && s != svld.RestoreFailed {
				fmt.Printf("  %s...\n", s)
			}
		})
		if err != nil {
			return fmt.Errorf("restore failed: %w", err)
		}
		fmt.Printf("Restored %q to %s\n", res.Name, res.Target)
		return nil
	},
}

// confirm asks a yes/no question on the terminal. It refuses to guess when
// stdin is not a terminal.
func confirm(question string) (bool, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false, errors.New("stdin is not a terminal; pass --yes to confirm")
	}
	fmt.Printf("%s [y/N] ", question)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false, nil
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

// delete command
var deleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), "delete", args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.Delete(cmd.Context(), id)
		if err != nil {
			return fmt.Errorf("delete failed: %w", err)
		}
		fmt.Printf("Deleted #%d %q\n", rec.ID, rec.Name)
		return nil
	},
}

// verify command
var verifyCmd = &cobra.Command{
	Use:   "verify ID",
	Short: "Check a stored snapshot against its digest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), "verify")
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.Verify(cmd.Context(), id)
		if err != nil {
			return err
		}
		fmt.Printf("#%d %q OK (%s)\n", rec.ID, rec.Name, rec.Digest[:min(12, len(rec.Digest))])
		return nil
	},
}

// stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show snapshot totals",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "stats")
		if err != nil {
			return err
		}
		defer a.Close()

		st, err := a.Stats()
		if err != nil {
			return err
		}
		ready := "no"
		if st.Ready {
			ready = "yes"
		}
		fmt.Printf("Snapshots:  %d\n", st.BackupCount)
		fmt.Printf("Total size: %s\n", humanize.Bytes(st.TotalSize))
		fmt.Printf("Ready:      %s\n", ready)
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View backup operation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd.Context(), "history")
		if err != nil {
			return err
		}
		defer a.Close()

		ops, err := a.GetHistory(limit)
		if err != nil {
			return err
		}

		if len(ops) == 0 {
			fmt.Println("No backup operations recorded.")
			return nil
		}

		for _, op := range ops {
			duration := ""
			if op.FinishedAt.Valid {
				d := op.FinishedAt.Time.Sub(op.StartedAt)
				duration = d.Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-8s  %s  %-8s  %-10s  %s\n",
				op.ID,
				op.Operation,
				op.StartedAt.Local().Format("2006-01-02 15:04:05"),
				op.Status,
				duration,
				op.Parameters,
			)
		}
		return nil
	},
}

// check command
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check the configured setup",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "check")
		if err != nil {
			return err
		}
		defer a.Close()

		failed := 0
		for _, r := range a.Check() {
			status := "ok"
			if r.Err != nil {
				status = "FAIL"
				failed++
			}
			fmt.Printf("%-4s  %-16s  %s\n", status, r.Name, r.Detail)
			if r.Err != nil {
				fmt.Printf("      %v\n", r.Err)
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d check(s) failed", failed)
		}
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configInitCmd.Flags().String("source", "", "Game save directory")
	configCmd.AddCommand(configListCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(saveCmd)
	saveCmd.Flags().String("name", "", "Snapshot name (default save_<timestamp>)")
	saveCmd.Flags().String("note", "", "Free-form note stored with the snapshot")
	saveCmd.Flags().String("source", "", "Save directory (default source_path from config)")
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(restoreCmd)
	restoreCmd.Flags().String("target", "", "Directory to restore into (default source_path from config)")
	restoreCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")
	rootCmd.AddCommand(checkCmd)
}
