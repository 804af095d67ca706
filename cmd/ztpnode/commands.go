package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/luca-patrignani/ztp-quorum/application"
	"github.com/luca-patrignani/ztp-quorum/common"
	"github.com/luca-patrignani/ztp-quorum/config"
	"github.com/luca-patrignani/ztp-quorum/metrics"
	"github.com/luca-patrignani/ztp-quorum/policy"
	"github.com/luca-patrignani/ztp-quorum/quorum"
	"github.com/luca-patrignani/ztp-quorum/registry"
)

// networkFlags are shared by every command that builds a network. Defaults
// only apply when neither the config file nor the environment set a value.
func networkFlags(flags *pflag.FlagSet) {
	flags.Int64("seed", 0, "Random seed, 0 for a time based one")
	flags.Int("nodes", 10, "Number of nodes")
	flags.Int("min-degree", 1, "Minimum node degree")
	flags.Int("max-degree", 6, "Maximum node degree")
	flags.Float64("ratio", 0.5, "Initial leader ratio")
	flags.Int("threshold", 50, "Reputation threshold")
	flags.Int("degree", 3, "Target average degree of the leaders")
	flags.String("storage", "memory", "Node store: memory or pebble")
	flags.String("storage-dir", "", "Directory of the pebble stores, in memory if empty")
	flags.Int("attempts", 1, "Elections to run before giving up")
}

func newElectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "elect",
		Short: "Elect a leader set and show it",
		RunE: func(cmd *cobra.Command, args []string) error {
			o, _, err := build(cmd)
			if err != nil {
				return err
			}
			defer o.Close()
			set, err := elect(cmd.Context(), cmd, o)
			if err != nil {
				return err
			}
			return renderLeaders(o.Registry, set)
		},
	}
	networkFlags(cmd.Flags())
	return cmd
}

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Elect leaders, publish a block and run access requests on it",
		RunE:  runSimulate,
	}
	flags := cmd.Flags()
	networkFlags(flags)
	flags.Int("redundancy", 3, "Holders of every fragment and chunk")
	flags.Int("chunk-size", 64, "Size of the data chunks")
	flags.Int("max-rounds", 5, "Consensus rounds before an access request is denied")
	flags.String("block", "block-1", "Block identifier")
	flags.String("file", "", "Block content, a generated record if empty")
	flags.StringSlice("approved", []string{"5"}, "Seekers in the approved list of the block")
	flags.StringSlice("seekers", []string{"5", "9"}, "Seekers requesting the block, in order")
	flags.Float64("failure-rate", 0, "Probability that a vote is lost")
	flags.Bool("metrics", false, "Show the collected metrics")
	return cmd
}

func build(cmd *cobra.Command) (*application.Orchestrator, *prometheus.Registry, error) {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, nil, fmt.Errorf("config load: %w", err)
	}
	promReg := prometheus.NewRegistry()
	m, err := metrics.New(promReg)
	if err != nil {
		return nil, nil, err
	}
	failureRate, _ := cmd.Flags().GetFloat64("failure-rate")
	o, err := application.New(cfg,
		application.WithLogger(newLogger()),
		application.WithMetrics(m),
		application.WithFailureRate(failureRate))
	if err != nil {
		return nil, nil, err
	}
	return o, promReg, nil
}

// elect retries elections that failed on the reputation draw or the degree
// loop, up to --attempts times.
func elect(ctx context.Context, cmd *cobra.Command, o *application.Orchestrator) (*quorum.LeaderSet, error) {
	attempts, _ := cmd.Flags().GetInt("attempts")
	spinner := startProgress("Electing leaders...")
	var err error
	for i := 1; i <= max(attempts, 1); i++ {
		var set *quorum.LeaderSet
		set, err = o.Elect(ctx)
		if err == nil {
			spinner.success(fmt.Sprintf("Epoch %d: %d leaders after %d iterations", set.Epoch, set.Len(), set.Iterations))
			return set, nil
		}
		if !errors.Is(err, common.ErrConvergence) && !errors.Is(err, common.ErrNoQualifyingLeaders) {
			break
		}
		spinner.update(fmt.Sprintf("Electing leaders... attempt %d failed: %v", i, err))
	}
	spinner.fail(err.Error())
	return nil, err
}

// progress shows a spinner on an interactive terminal and plain status
// lines otherwise.
type progress struct {
	spinner *pterm.SpinnerPrinter
}

func startProgress(text string) progress {
	if quiet || !term.IsTerminal(int(os.Stdout.Fd())) {
		return progress{}
	}
	spinner, _ := pterm.DefaultSpinner.Start(text)
	return progress{spinner: spinner}
}

func (p progress) update(text string) {
	if p.spinner == nil {
		pterm.Debug.Println(text)
		return
	}
	p.spinner.UpdateText(text)
}

func (p progress) success(text string) {
	if p.spinner == nil {
		pterm.Success.Println(text)
		return
	}
	p.spinner.Success(text)
}

func (p progress) fail(text string) {
	if p.spinner == nil {
		pterm.Error.Println(text)
		return
	}
	p.spinner.Fail(text)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	o, promReg, err := build(cmd)
	if err != nil {
		return err
	}
	defer o.Close()
	ctx := cmd.Context()
	flags := cmd.Flags()

	set, err := elect(ctx, cmd, o)
	if err != nil {
		return err
	}
	if err := renderLeaders(o.Registry, set); err != nil {
		return err
	}

	block, _ := flags.GetString("block")
	content, err := blockContent(flags)
	if err != nil {
		return err
	}
	approved, _ := flags.GetStringSlice("approved")
	p := policy.Policy{Name: "approved-" + block}
	dist, err := o.Publish(ctx, registry.BlockID(block), content, seekers(approved), p)
	if err != nil {
		return err
	}
	if err := renderDistribution(dist); err != nil {
		return err
	}
	if err := renderHoldings(o.Registry, o.Placement); err != nil {
		return err
	}

	requests, _ := flags.GetStringSlice("seekers")
	for _, s := range seekers(requests) {
		res, err := o.Request(ctx, s, registry.BlockID(block))
		if res == nil {
			return err
		}
		if err != nil && !errors.Is(err, common.ErrConsensusExhausted) {
			pterm.Error.Println(err)
		}
		pterm.Println(decisionBox(res))
	}
	if err := o.AccessLog.Verify(); err != nil {
		return fmt.Errorf("access log: %w", err)
	}
	if err := renderAccessLog(o.AccessLog.ByBlock(registry.BlockID(block))); err != nil {
		return err
	}

	if show, _ := flags.GetBool("metrics"); show {
		return renderMetrics(promReg)
	}
	return nil
}

func blockContent(flags *pflag.FlagSet) ([]byte, error) {
	file, _ := flags.GetString("file")
	if file != "" {
		return os.ReadFile(file)
	}
	var b bytes.Buffer
	for i := range 8 {
		fmt.Fprintf(&b, "entry %02d: patient %d, ward %c, checked\n", i, 1000+i, 'A'+i%3)
	}
	return b.Bytes(), nil
}

func seekers(ids []string) []registry.SeekerID {
	out := make([]registry.SeekerID, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, registry.SeekerID(id))
		}
	}
	return out
}
