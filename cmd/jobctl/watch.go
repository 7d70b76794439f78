package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"github.com/localrivet/jobwire/client"
	"github.com/localrivet/jobwire/handlers/logs"
	"github.com/localrivet/jobwire/handlers/state"
	"github.com/localrivet/jobwire/handlers/structural"
	"github.com/localrivet/jobwire/protocol"
)

func newWatchCmd() *cobra.Command {
	var outputJSON bool
	cmd := &cobra.Command{
		Use:   "watch <node>...",
		Short: "Print state, log and child notifications of nodes until interrupted",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, _, err := connect(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			p := newPrinter(cmd.OutOrStdout(), outputJSON)
			for _, node := range args {
				proxy, err := c.Create(ctx, protocol.NodeID(node))
				if err != nil {
					return err
				}
				if err := watchProxy(ctx, proxy, p); err != nil {
					return err
				}
			}

			select {
			case <-ctx.Done():
			case <-c.Conn().Done():
				return fmt.Errorf("connection to job server lost")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Print one JSON object per line")
	return cmd
}

// watchProxy attaches p to every watchable capability of proxy.
func watchProxy(ctx context.Context, proxy *client.Proxy, p *printer) error {
	l := p.forNode(proxy.NodeID())
	attached := 0

	if st, ok := client.As[state.State](proxy); ok {
		if err := st.AddStateListener(ctx, l); err != nil {
			return fmt.Errorf("watch state of %s: %w", proxy.NodeID(), err)
		}
		attached++
	}
	if s, ok := client.As[structural.Structural](proxy); ok {
		if err := s.AddStructuralListener(ctx, l); err != nil {
			return fmt.Errorf("watch children of %s: %w", proxy.NodeID(), err)
		}
		attached++
	}
	if lg, ok := client.As[logs.Logs](proxy); ok {
		if err := lg.AddLogListener(ctx, l); err != nil {
			return fmt.Errorf("watch logs of %s: %w", proxy.NodeID(), err)
		}
		attached++
	}

	if attached == 0 {
		return fmt.Errorf("node %s has no watchable capability", proxy.NodeID())
	}
	return nil
}

type watchEvent struct {
	Node protocol.NodeID `json:"node"`
	Kind string          `json:"kind"`
	Data any             `json:"data"`
}

// printer writes notifications of any number of nodes to one writer and
// remembers the last state of each node.
type printer struct {
	w          io.Writer
	outputJSON bool

	mu      sync.Mutex
	states  map[protocol.NodeID]string
	changed chan struct{}
}

func newPrinter(w io.Writer, outputJSON bool) *printer {
	return &printer{
		w:          w,
		outputJSON: outputJSON,
		states:     make(map[protocol.NodeID]string),
		changed:    make(chan struct{}, 1),
	}
}

func (p *printer) forNode(node protocol.NodeID) *nodePrinter {
	return &nodePrinter{p: p, node: node}
}

func (p *printer) print(ev watchEvent, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ev.Kind == "state" {
		p.states[ev.Node] = ev.Data.(state.Event).State
		select {
		case p.changed <- struct{}{}:
		default:
		}
	}
	if p.outputJSON {
		data, err := json.Marshal(ev)
		if err != nil {
			return
		}
		_, _ = fmt.Fprintf(p.w, "%s\n", data)
		return
	}
	_, _ = fmt.Fprintf(p.w, "%-10s %-7s %s\n", ev.Node, ev.Kind, text)
}

// awaitState blocks until node has been printed in state s.
func (p *printer) awaitState(ctx context.Context, node protocol.NodeID, s string) error {
	for {
		p.mu.Lock()
		current := p.states[node]
		p.mu.Unlock()
		if current == s {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.changed:
		}
	}
}

// nodePrinter is the listener attached to the capabilities of one node.
type nodePrinter struct {
	p    *printer
	node protocol.NodeID
}

var (
	_ state.Listener      = (*nodePrinter)(nil)
	_ logs.Listener       = (*nodePrinter)(nil)
	_ structural.Listener = (*nodePrinter)(nil)
)

func (n *nodePrinter) StateChanged(ev state.Event) {
	text := ev.State
	if ev.Message != "" {
		text += " " + ev.Message
	}
	n.p.print(watchEvent{Node: n.node, Kind: "state", Data: ev}, text)
}

func (n *nodePrinter) LogLine(line logs.Line) {
	n.p.print(watchEvent{Node: n.node, Kind: "log", Data: line},
		fmt.Sprintf("#%d %-5s %s", line.Number, line.Level, line.Message))
}

func (n *nodePrinter) ChildAdded(ev structural.ChildEvent) {
	n.p.print(watchEvent{Node: n.node, Kind: "child+", Data: ev}, fmt.Sprintf("%s at %d", ev.Child, ev.Index))
}

func (n *nodePrinter) ChildRemoved(ev structural.ChildEvent) {
	n.p.print(watchEvent{Node: n.node, Kind: "child-", Data: ev}, fmt.Sprintf("%s at %d", ev.Child, ev.Index))
}
