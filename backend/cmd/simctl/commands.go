package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newTrainCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "train <entity> [message]",
		Short: "Train an entity's graph",
		Long: `Train folds one message into the entity's graph. Without a message
argument every line read from stdin is trained as its own message.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entityID := args[0]
			if len(args) > 1 {
				return a.sm.Simulator.ObserveMessage(cmd.Context(), entityID, strings.Join(args[1:], " "))
			}

			trained := 0
			scanner := bufio.NewScanner(cmd.InOrStdin())
			for scanner.Scan() {
				line := scanner.Text()
				if strings.TrimSpace(line) == "" {
					continue
				}
				if err := a.sm.Simulator.ObserveMessage(cmd.Context(), entityID, line); err != nil {
					return fmt.Errorf("train line %d: %w", trained+1, err)
				}
				trained++
			}
			if err := scanner.Err(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "trained %d messages into %s\n", trained, entityID)
			return nil
		},
	}
}

func newGenerateCmd(a *app) *cobra.Command {
	var (
		seed  uint64
		count int
	)
	cmd := &cobra.Command{
		Use:   "generate <entity>",
		Short: "Generate messages from an entity's graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for i := 0; i < count; i++ {
				var seedPtr *uint64
				if cmd.Flags().Changed("seed") {
					s := seed + uint64(i)
					seedPtr = &s
				}
				text, err := a.sm.Simulator.GenerateText(cmd.Context(), args[0], seedPtr)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), text)
			}
			return nil
		},
	}
	cmd.Flags().Uint64Var(&seed, "seed", 0, "seed for a reproducible walk; message i uses seed+i")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of messages")
	return cmd
}

func newPruneCmd(a *app) *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "prune [entity]",
		Short: "Prune rare transitions",
		Long: `Prune removes transitions observed too rarely to matter. With an entity
argument only that graph is pruned; otherwise every graph whose id starts
with --prefix is swept.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				result, err := a.sm.Simulator.PruneEntity(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, result)
			}

			report, err := a.sm.Simulator.PruneAll(cmd.Context(), prefix)
			if err != nil {
				return err
			}
			if err := printJSON(cmd, report); err != nil {
				return err
			}
			if len(report.Errors) > 0 {
				return fmt.Errorf("%d entities failed to prune", len(report.Errors))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "only sweep entities whose id starts with this, e.g. a guild id followed by ':'")
	return cmd
}

func newEntitiesCmd(a *app) *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "entities",
		Short: "List entities that have a graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := a.sm.Simulator.Entities(cmd.Context(), prefix)
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "only list ids starting with this")
	return cmd
}

func newInspectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <entity>",
		Short: "Dump an entity's graph and check its invariants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := a.sm.Simulator.Inspect(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := printJSON(cmd, snap); err != nil {
				return err
			}
			if snap.Problem != "" {
				return fmt.Errorf("graph %s is corrupt: %s", args[0], snap.Problem)
			}
			return nil
		},
	}
}
