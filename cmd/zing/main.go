package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/nasdf/zing"
	"github.com/nasdf/zing/config"
	"github.com/nasdf/zing/http"
	"github.com/nasdf/zing/merge"

	"github.com/spf13/cobra"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	Config string
	User   string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "zing",
		Short:         "Merge the leaves of zing collections",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "zing.yaml", "config file")
	cmd.PersistentFlags().StringVarP(&opts.User, "user", "u", os.Getenv("USER"), "user recorded in audit entries")

	cmd.AddCommand(newMergeCommand(opts))
	cmd.AddCommand(newMergeAllCommand(opts))
	cmd.AddCommand(newLeavesCommand(opts))
	cmd.AddCommand(newExportCommand(opts))
	cmd.AddCommand(newServeCommand(opts))
	return cmd
}

// open loads the configuration and opens the database.
func open(ctx context.Context, opts *rootOptions) (*zing.DB, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, err
	}
	if err := zing.ConfigureLogging(cfg.LogLevel); err != nil {
		return nil, err
	}
	return zing.Open(ctx, cfg)
}

// withDB runs fn with an open database and closes it afterwards.
func withDB(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, db *zing.DB) error) error {
	ctx := cmd.Context()
	db, err := open(ctx, opts)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(ctx, db)
}

func newMergeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "merge <collection>",
		Short: "Merge the leaves of a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd, opts, func(ctx context.Context, db *zing.DB) error {
				res, err := db.Merge(ctx, args[0], opts.User)
				if err != nil {
					return err
				}
				return printResult(cmd.OutOrStdout(), args[0], res)
			})
		},
	}
}

func newMergeAllCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "merge-all",
		Short: "Merge the leaves of every configured collection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd, opts, func(ctx context.Context, db *zing.DB) error {
				results, err := db.MergeAll(ctx, opts.User)
				for _, name := range db.Collections() {
					res, ok := results[name]
					if !ok {
						continue
					}
					if perr := printResult(cmd.OutOrStdout(), name, res); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	}
}

func newLeavesCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "leaves <collection>",
		Short: "List the leaves of a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd, opts, func(ctx context.Context, db *zing.DB) error {
				leaves, err := db.Leaves(ctx, args[0])
				if err != nil {
					return err
				}
				for _, l := range leaves {
					fmt.Fprintln(cmd.OutOrStdout(), l.String())
				}
				return nil
			})
		},
	}
}

func newExportCommand(opts *rootOptions) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export <collection>",
		Short: "Write the single leaf of a collection as a CAR file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd, opts, func(ctx context.Context, db *zing.DB) error {
				if out == "" || out == "-" {
					return db.Export(ctx, args[0], cmd.OutOrStdout())
				}
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				if err := db.Export(ctx, args[0], f); err != nil {
					f.Close()
					return err
				}
				return f.Close()
			})
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "-", "output file")
	return cmd
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve merge requests over http",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd, opts, func(ctx context.Context, db *zing.DB) error {
				return http.ListenAndServe(db, addr)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "localhost:8080", "listen address")
	return cmd
}

type resultOutput struct {
	Collection string       `json:"collection"`
	Node       string       `json:"node"`
	Ancestor   string       `json:"ancestor,omitempty"`
	State      merge.State  `json:"state"`
	Counts     merge.Counts `json:"counts"`
	Uniqified  int          `json:"uniqified"`
}

func printResult(w io.Writer, name string, res *merge.Result) error {
	out := resultOutput{
		Collection: name,
		State:      res.State,
		Counts:     res.Counts,
		Uniqified:  len(res.Uniqified),
	}
	if res.Node != nil {
		out.Node = res.Node.Hash.String()
	}
	if res.Ancestor != nil {
		out.Ancestor = res.Ancestor.String()
	}
	return json.NewEncoder(w).Encode(out)
}
