package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/aretw0/stateful/internal/config"
	"github.com/aretw0/stateful/pkg/domain"
)

var snapshotsCmd = &cobra.Command{
	Use:     "snapshots",
	Aliases: []string{"snap"},
	Short:   "Manage passivated instances",
	Long:    `List, inspect, and remove the snapshots of passivated instances in the configured store.`,
}

var snapshotsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List all snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(cmd, func(cfg *config.Config, b *config.Backend) error {
			keys, err := b.Store.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("list snapshots: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(keys) == 0 {
				fmt.Fprintln(out, "No snapshots found.")
				return nil
			}
			fmt.Fprintln(out, "Snapshots:")
			for _, k := range keys {
				fmt.Fprintln(out, "- "+k)
			}
			return nil
		})
	},
}

var snapshotsInspectCmd = &cobra.Command{
	Use:   "inspect <key>",
	Short: "Print a snapshot, with sensitive fields masked",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		return withBackend(cmd, func(cfg *config.Config, b *config.Backend) error {
			snap, err := b.Inspector(cfg.Store.MaskFields).Load(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("load snapshot %q: %w", args[0], err)
			}
			return printSnapshot(cmd.OutOrStdout(), snap, format)
		})
	},
}

var snapshotsRmCmd = &cobra.Command{
	Use:   "rm <key>...",
	Short: "Remove one or more snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		if all == (len(args) > 0) {
			return errors.New("pass either keys or --all")
		}
		return withBackend(cmd, func(cfg *config.Config, b *config.Backend) error {
			keys := args
			if all {
				var err error
				if keys, err = b.Store.List(cmd.Context()); err != nil {
					return fmt.Errorf("list snapshots: %w", err)
				}
			}

			var errs []error
			for _, key := range keys {
				if err := b.Store.Delete(cmd.Context(), key); err != nil {
					errs = append(errs, fmt.Errorf("remove %q: %w", key, err))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed snapshot '%s'\n", key)
			}
			return errors.Join(errs...)
		})
	},
}

func init() {
	rootCmd.AddCommand(snapshotsCmd)
	snapshotsCmd.AddCommand(snapshotsLsCmd)
	snapshotsCmd.AddCommand(snapshotsInspectCmd)
	snapshotsCmd.AddCommand(snapshotsRmCmd)

	snapshotsInspectCmd.Flags().StringP("format", "f", "json", "Output format: json or yaml")
	snapshotsRmCmd.Flags().Bool("all", false, "Remove every snapshot")
}

func withBackend(cmd *cobra.Command, fn func(*config.Config, *config.Backend) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	b, err := cfg.Store.Open()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer b.Close()
	return fn(cfg, b)
}

// snapshotView is a snapshot with its state decoded, for printing.
type snapshotView struct {
	Key          string    `json:"key" yaml:"key"`
	Component    string    `json:"component" yaml:"component"`
	PassivatedAt time.Time `json:"passivated_at" yaml:"passivated_at"`
	Resources    []string  `json:"resources,omitempty" yaml:"resources,omitempty"`
	State        any       `json:"state" yaml:"state"`
}

func printSnapshot(w io.Writer, snap *domain.Snapshot, format string) error {
	view := snapshotView{
		Key:          snap.Key,
		Component:    snap.ComponentID,
		PassivatedAt: snap.PassivatedAt,
		Resources:    snap.Resources,
	}
	if len(snap.State) > 0 {
		if err := json.Unmarshal(snap.State, &view.State); err != nil {
			return fmt.Errorf("decode state: %w", err)
		}
	}

	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(view); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q (want json or yaml)", format)
	}
}
