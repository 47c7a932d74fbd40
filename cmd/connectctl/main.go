// connectctl inspects and maintains a profile's local sync store. It
// operates on the store directly, so destructive commands take the
// profile lock and refuse to run while the daemon owns it.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tarpai/connect-sync/internal/config"
	"github.com/tarpai/connect-sync/internal/lock"
	"github.com/tarpai/connect-sync/internal/profile"
	"github.com/tarpai/connect-sync/internal/record"
	"github.com/tarpai/connect-sync/internal/store"
)

var (
	profileFlag string
	jsonFlag    bool
)

func main() {
	root := &cobra.Command{
		Use:           "connectctl",
		Short:         "Inspect and maintain the local sync store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&profileFlag, "profile", "", "profile name (overrides config default)")
	root.PersistentFlags().BoolVar(&jsonFlag, "json", false, "output in JSON format")

	root.AddCommand(
		statsCmd(),
		unsyncedCmd(),
		queueCmd(),
		cleanupCmd(),
		clearCmd(),
		backendCmd(),
	)

	if err := root.Execute(); err != nil {
		var held *lock.HeldError
		if errors.As(err, &held) {
			fmt.Fprintf(os.Stderr, "error: %v (stop connectd first)\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func resolveProfile() (string, error) {
	name := profile.Resolve(profileFlag)
	if err := profile.ValidateName(name); err != nil {
		return "", err
	}
	return name, nil
}

func openStore(name string) (store.Store, error) {
	cfg, err := config.Load(profile.ConfigPath())
	if err != nil {
		cfg = config.Default()
	}
	return store.Open(store.Options{
		Backend:    cfg.Backend,
		DBPath:     profile.DBPath(name),
		KVDir:      profile.KVDir(name),
		MaxRetries: cfg.Sync.MaxRetries,
	}, zap.NewNop())
}

// withStore runs fn against the profile's store. Destructive commands set
// exclusive so the daemon cannot be mutating the same store concurrently.
func withStore(exclusive bool, fn func(name string, st store.Store) error) error {
	name, err := resolveProfile()
	if err != nil {
		return err
	}
	if err := profile.EnsureDir(name); err != nil {
		return err
	}

	if exclusive {
		lk, err := lock.Acquire(profile.Dir(name))
		if err != nil {
			return err
		}
		defer func() { _ = lk.Release() }()
	}

	st, err := openStore(name)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()
	return fn(name, st)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show record counts per collection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(false, func(name string, st store.Store) error {
				stats, err := st.Stats()
				if err != nil {
					return err
				}
				if jsonFlag {
					return printJSON(stats)
				}
				printStats(name, st.Backend(), stats)
				return nil
			})
		},
	}
}

func unsyncedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unsynced",
		Short: "Show counts of records not yet synced to the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(false, func(name string, st store.Store) error {
				stats, err := st.UnsyncedCounts()
				if err != nil {
					return err
				}
				if jsonFlag {
					return printJSON(stats)
				}
				printStats(name, st.Backend(), stats)
				return nil
			})
		},
	}
}

func printStats(name, backend string, s record.Stats) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "profile\t%s\n", name)
	fmt.Fprintf(w, "backend\t%s\n", backend)
	fmt.Fprintf(w, "groups\t%d\n", s.Groups)
	fmt.Fprintf(w, "messages\t%d\n", s.Messages)
	fmt.Fprintf(w, "prompts\t%d\n", s.Prompts)
	fmt.Fprintf(w, "categories\t%d\n", s.Categories)
	fmt.Fprintf(w, "users\t%d\n", s.Users)
	fmt.Fprintf(w, "actions\t%d\n", s.Actions)
	fmt.Fprintf(w, "total\t%d\n", s.Total)
	_ = w.Flush()
}

func queueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "List queued offline actions, pending and failed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(false, func(name string, st store.Store) error {
				pending, err := st.PendingActions()
				if err != nil {
					return err
				}
				failed, err := st.FailedActions()
				if err != nil {
					return err
				}
				if jsonFlag {
					return printJSON(map[string][]record.Action{
						"pending": pending,
						"failed":  failed,
					})
				}

				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tKIND\tRETRIES\tSTATE\tLAST ERROR")
				for _, a := range pending {
					fmt.Fprintf(w, "%s\t%s\t%d/%d\tpending\t%s\n", a.ID, a.Kind, a.RetryCount, a.MaxRetries, a.LastError)
				}
				for _, a := range failed {
					fmt.Fprintf(w, "%s\t%s\t%d/%d\tfailed\t%s\n", a.ID, a.Kind, a.RetryCount, a.MaxRetries, a.LastError)
				}
				return w.Flush()
			})
		},
	}
}

func cleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove synced offline actions older than the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(true, func(name string, st store.Store) error {
				cfg, err := config.Load(profile.ConfigPath())
				if err != nil {
					cfg = config.Default()
				}
				removed, err := st.Cleanup(cfg.Retention())
				if err != nil {
					return err
				}
				if jsonFlag {
					return printJSON(map[string]int{"removed": removed})
				}
				fmt.Printf("removed %d synced actions\n", removed)
				return nil
			})
		},
	}
}

func clearCmd() *cobra.Command {
	var actionsOnly bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete local data for the profile",
		Long:  "Deletes every local record, or only the offline action queue with --actions.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(true, func(name string, st store.Store) error {
				if actionsOnly {
					if err := st.ClearActions(); err != nil {
						return err
					}
					fmt.Println("offline action queue cleared")
					return nil
				}
				if err := st.ClearAll(); err != nil {
					return err
				}
				fmt.Println("all local data cleared")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&actionsOnly, "actions", false, "clear only the offline action queue")
	return cmd
}

func backendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backend",
		Short: "Show which store backend the profile resolves to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(false, func(name string, st store.Store) error {
				if jsonFlag {
					return printJSON(map[string]string{"profile": name, "backend": st.Backend()})
				}
				fmt.Printf("%s\t%s\n", name, st.Backend())
				return nil
			})
		},
	}
}
