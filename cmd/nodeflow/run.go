package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/flowgraph/nodeflow/internal/app/dto"
	"github.com/flowgraph/nodeflow/internal/core/execution"
	"github.com/flowgraph/nodeflow/internal/core/graph"
)

// errRunFailed is returned after printing an execution that ended in error.
var errRunFailed = errors.New("execution failed")

func newRunCmd(root *rootOptions) *cobra.Command {
	var (
		file    string
		payload string
		varsArg []string
		debug   bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a graph file and print the execution",
		Example: `  nodeflow run --file greeting.json --payload '{"name":"Ann"}'
  nodeflow run --file order.json --var region=eu --var limit=5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			g, err := readGraph(file)
			if err != nil {
				return err
			}
			trigger := map[string]any{}
			if payload != "" {
				if err := json.Unmarshal([]byte(payload), &trigger); err != nil {
					return fmt.Errorf("payload must be a JSON object: %w", err)
				}
			}
			variables, err := parseVars(varsArg)
			if err != nil {
				return err
			}

			cfg, log, err := root.load(cmd, nil)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if _, err := a.graphs.Save(ctx, g); err != nil {
				return err
			}
			final, err := a.execs.RunSync(ctx, &dto.TriggerRequest{
				SchemaID:       g.ID,
				TriggerPayload: trigger,
				Variables:      variables,
				DebugMode:      debug,
			})
			if err != nil {
				return err
			}
			steps, err := a.execs.Steps(ctx, final.ID)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(dto.ExecutionDetail{Execution: final, Steps: steps}); err != nil {
				return err
			}
			if final.Status == execution.StatusError {
				return fmt.Errorf("%w: %s", errRunFailed, final.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "graph JSON file")
	cmd.Flags().StringVar(&payload, "payload", "", "trigger payload as a JSON object")
	cmd.Flags().StringArrayVar(&varsArg, "var", nil, "initial variable as key=value (repeatable)")
	cmd.Flags().BoolVar(&debug, "debug", false, "log every step")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newValidateCmd(root *rootOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a graph file for structural errors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			g, err := readGraph(file)
			if err != nil {
				return err
			}
			cfg, log, err := root.load(cmd, nil)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if err := a.graphs.Validate(g); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: valid (%d nodes, %d edges)\n", g.ID, len(g.Nodes), len(g.Edges))
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "graph JSON file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newNodeTypesCmd(root *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "node-types",
		Short: "List the node types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := root.load(cmd, nil)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			catalog := a.graphs.Catalog()
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(catalog)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TYPE\tLABEL\tCATEGORY\tOUTPUTS\tACTIVE")
			for _, d := range catalog {
				outs := make([]string, len(d.Outputs))
				for i, p := range d.Outputs {
					outs[i] = string(p)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\n", d.Type, d.Label, d.Category, strings.Join(outs, ","), d.Active)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the catalog as JSON")
	return cmd
}

// readGraph decodes a graph document. A missing id falls back to the file
// name without its extension.
func readGraph(path string) (*graph.Graph, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph: %w", err)
	}
	var g graph.Graph
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("decode graph %s: %w", path, err)
	}
	if g.ID == "" {
		g.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return &g, nil
}

// parseVars turns key=value pairs into variables. Values that parse as JSON
// keep their type; anything else stays a string.
func parseVars(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		key, raw, ok := strings.Cut(p, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --var %q: want key=value", p)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		out[key] = v
	}
	return out, nil
}
