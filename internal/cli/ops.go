package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mbp-platform/envmodel/internal/events"
	"github.com/mbp-platform/envmodel/internal/gateway"
	"github.com/mbp-platform/envmodel/internal/graph"
	"github.com/mbp-platform/envmodel/internal/lifecycle"
)

type runFunc func(o *lifecycle.Orchestrator, ctx context.Context) (*lifecycle.Operation, error)

var operations = map[string]runFunc{
	"register": (*lifecycle.Orchestrator).RegisterAll,
	"deploy":   (*lifecycle.Orchestrator).DeployAll,
	"undeploy": (*lifecycle.Orchestrator).UndeployAll,
}

func (a *app) operationCommand(use, short string) *cobra.Command {
	var concurrency int
	cmd := &cobra.Command{
		Use:   use + " NAME",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runOperation(cmd, args[0], operations[use], concurrency)
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "maximum parallel gateway calls (0 = unbounded)")
	return cmd
}

// runOperation loads the model into a fresh graph and runs one batch
// operation on it. The orchestrator saves the model when it is done.
func (a *app) runOperation(cmd *cobra.Command, name string, run runFunc, concurrency int) error {
	ctx := cmd.Context()
	m, err := gateway.ModelByName(ctx, a.gw, a.profile.Owner, name)
	if err != nil {
		return fmt.Errorf("load model %s: %s", name, gateway.Message(err))
	}
	doc, err := m.Document()
	if err != nil {
		return fmt.Errorf("decode model %s: %w", name, err)
	}
	g := graph.New()
	if err := g.Deserialize(doc); err != nil {
		return fmt.Errorf("load model %s: %w", name, err)
	}

	rec := &events.Recorder{}
	orch := lifecycle.New(g, a.gw,
		lifecycle.WithLogger(a.lg.With().Str("component", "lifecycle").Logger()),
		lifecycle.WithConcurrency(concurrency),
		lifecycle.WithPublisher(rec),
	)
	orch.SetModel(m)

	op, err := run(orch, ctx)
	if err != nil {
		return err
	}
	st := op.State()
	report(cmd.OutOrStdout(), name, st)
	summary(cmd.OutOrStdout(), rec)
	if !st.Success {
		return fmt.Errorf("%s %s finished with errors", st.Kind, name)
	}
	return nil
}
