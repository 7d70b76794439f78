package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/localrivet/jobwire/protocol"
)

const maxParallelDescribe = 8

type nodeDescription struct {
	Node         protocol.NodeID                 `json:"node"`
	Capabilities []protocol.CapabilityDescriptor `json:"capabilities"`
}

type describer interface {
	Describe(ctx context.Context, node protocol.NodeID) ([]protocol.CapabilityDescriptor, error)
}

func newDescribeCmd() *cobra.Command {
	var outputJSON bool
	cmd := &cobra.Command{
		Use:   "describe <node>...",
		Short: "List the capabilities nodes declare",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := connect(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			views, err := describeNodes(cmd.Context(), c.Conn(), args)
			if err != nil {
				return err
			}
			if outputJSON {
				return writeJSON(cmd.OutOrStdout(), views)
			}
			writeDescriptions(cmd.OutOrStdout(), views)
			return nil
		},
	}
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Print as JSON")
	return cmd
}

// describeNodes fetches the descriptors of every node concurrently. Results
// keep the order of nodes; the first failure cancels the rest.
func describeNodes(ctx context.Context, conn describer, nodes []string) ([]nodeDescription, error) {
	views := make([]nodeDescription, len(nodes))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelDescribe)
	for i, node := range nodes {
		g.Go(func() error {
			id := protocol.NodeID(node)
			descriptors, err := conn.Describe(ctx, id)
			if err != nil {
				return fmt.Errorf("describe %s: %w", node, err)
			}
			views[i] = nodeDescription{Node: id, Capabilities: descriptors}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return views, nil
}

func writeDescriptions(w io.Writer, views []nodeDescription) {
	for _, view := range views {
		_, _ = fmt.Fprintf(w, "%s:\n", view.Node)
		if len(view.Capabilities) == 0 {
			_, _ = fmt.Fprintln(w, "  (no capabilities)")
		}
		for _, d := range view.Capabilities {
			_, _ = fmt.Fprintf(w, "  %s\n", d)
		}
	}
}
