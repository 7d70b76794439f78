package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/localrivet/jobwire/client"
	"github.com/localrivet/jobwire/handlers"
	"github.com/localrivet/jobwire/handlers/control"
	"github.com/localrivet/jobwire/handlers/logs"
	"github.com/localrivet/jobwire/handlers/state"
	"github.com/localrivet/jobwire/handlers/structural"
	"github.com/localrivet/jobwire/protocol"
	"github.com/localrivet/jobwire/transport/inmemory"
)

const demoTimeout = time.Minute

func newDemoCmd() *cobra.Command {
	var (
		step       time.Duration
		outputJSON bool
	)
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a scripted pipeline against an in-memory job server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, err := newLogger(cmd, cfg)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), demoTimeout)
			defer cancel()
			return runDemo(ctx, cmd.OutOrStdout(), logger, step, outputJSON)
		},
	}
	cmd.Flags().DurationVar(&step, "step", 200*time.Millisecond, "Pause between scripted events")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Print notifications as JSON lines")
	return cmd
}

// demoJob is a pipeline with build and test stages hosted by an in-memory
// server.
type demoJob struct {
	server *inmemory.Server

	mu       sync.Mutex
	children []protocol.NodeID
	states   map[protocol.NodeID]state.Event
	lines    map[protocol.NodeID][]logs.Line
}

const demoPipeline protocol.NodeID = "pipeline"

func newDemoJob(logger *slog.Logger) *demoJob {
	j := &demoJob{
		server:   inmemory.NewServer(inmemory.WithLogger(logger)),
		children: []protocol.NodeID{"build", "test"},
		states:   make(map[protocol.NodeID]state.Event),
		lines:    make(map[protocol.NodeID][]logs.Line),
	}

	j.server.AddNode(demoPipeline,
		protocol.Named(state.Name, state.Version),
		protocol.Named(structural.Name, structural.Version),
		protocol.Named(control.RunnableName, control.Version),
		protocol.Named(control.StoppableName, control.Version),
	).
		Handle(state.OpCurrent.Name, j.current(demoPipeline)).
		Handle(structural.OpChildren.Name, func(context.Context, []any) (any, error) {
			j.mu.Lock()
			defer j.mu.Unlock()
			return slices.Clone(j.children), nil
		}).
		Handle(control.OpRun.Name, func(context.Context, []any) (any, error) {
			j.setState(demoPipeline, "RUNNING", "started")
			return nil, nil
		}).
		Handle(control.OpStop.Name, func(context.Context, []any) (any, error) {
			j.setState(demoPipeline, "ABORTED", "stopped")
			return nil, nil
		})

	for _, child := range j.children {
		j.addStage(child)
	}
	return j
}

// addStage hosts a stage node with state and logs.
func (j *demoJob) addStage(id protocol.NodeID) {
	j.server.AddNode(id,
		protocol.Named(state.Name, state.Version),
		protocol.Named(logs.Name, logs.Version),
	).
		Handle(state.OpCurrent.Name, j.current(id)).
		Handle(logs.OpConsoleID.Name, func(context.Context, []any) (any, error) {
			return string(id) + "-console", nil
		}).
		Handle(logs.OpLogLines.Name, func(_ context.Context, args []any) (any, error) {
			if len(args) != 2 {
				return nil, fmt.Errorf("logLines takes 2 arguments, got %d", len(args))
			}
			return j.linesAfter(id, intArg(args[0]), int(intArg(args[1]))), nil
		})
	j.log(id, "INFO", "queued")
}

func (j *demoJob) current(id protocol.NodeID) inmemory.Handler {
	return func(context.Context, []any) (any, error) {
		j.mu.Lock()
		defer j.mu.Unlock()
		ev, ok := j.states[id]
		if !ok {
			ev = state.Event{State: "PENDING", Time: time.Now()}
		}
		ev.Sequence = j.server.Sequence(id, state.ChangeType.Name)
		return ev, nil
	}
}

func (j *demoJob) setState(id protocol.NodeID, s, message string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	ev := state.Event{State: s, Time: time.Now(), Message: message}
	ev.Sequence = j.server.Emit(id, state.ChangeType.Name, ev)
	j.states[id] = ev
}

func (j *demoJob) log(id protocol.NodeID, level, message string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	line := logs.Line{Level: level, Message: message}
	line.Number = j.server.Emit(id, logs.LineType.Name, line)
	j.lines[id] = append(j.lines[id], line)
}

func (j *demoJob) linesAfter(id protocol.NodeID, from int64, limit int) []logs.Line {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []logs.Line
	for _, line := range j.lines[id] {
		if line.Number > from && len(out) < limit {
			out = append(out, line)
		}
	}
	return out
}

func (j *demoJob) addChild(id protocol.NodeID) {
	j.addStage(id)

	j.mu.Lock()
	defer j.mu.Unlock()
	j.children = append(j.children, id)
	j.server.Emit(demoPipeline, structural.AddedType.Name,
		structural.ChildEvent{Index: len(j.children) - 1, Child: id})
}

func intArg(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func runDemo(ctx context.Context, out io.Writer, logger *slog.Logger, step time.Duration, outputJSON bool) error {
	job := newDemoJob(logger)
	conn := job.server.Connect()
	defer conn.Close()

	reg, err := handlers.NewRegistry(handlers.Options{})
	if err != nil {
		return err
	}
	session := client.NewSession(conn, reg, client.WithLogger(logger))
	defer session.Close()

	nodes := []string{string(demoPipeline), "build", "test"}
	views, err := describeNodes(ctx, conn, nodes)
	if err != nil {
		return err
	}
	if !outputJSON {
		writeDescriptions(out, views)
	}

	p := newPrinter(out, outputJSON)
	var pipeline *client.Proxy
	for _, node := range nodes {
		proxy, err := session.Create(ctx, protocol.NodeID(node))
		if err != nil {
			return err
		}
		if err := watchProxy(ctx, proxy, p); err != nil {
			return err
		}
		if proxy.NodeID() == demoPipeline {
			pipeline = proxy
		}
	}

	runnable, ok := client.As[control.Runnable](pipeline)
	if !ok {
		return fmt.Errorf("pipeline is not runnable")
	}
	if err := runnable.Run(ctx); err != nil {
		return err
	}

	pause := func() error {
		if step <= 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(step):
			return nil
		}
	}

	for _, stage := range []protocol.NodeID{"build", "test"} {
		job.setState(stage, "RUNNING", "")
		job.log(stage, "INFO", string(stage)+" started")
		if err := pause(); err != nil {
			return err
		}
		job.log(stage, "INFO", string(stage)+" passed")
		job.setState(stage, "SUCCEEDED", "")
		if err := pause(); err != nil {
			return err
		}
	}

	job.addChild("deploy")
	if err := pause(); err != nil {
		return err
	}
	job.setState(demoPipeline, "SUCCEEDED", "all stages passed")

	return p.awaitState(ctx, demoPipeline, "SUCCEEDED")
}
