// cqfsim runs one cycle-aligned forwarding experiment: it loads (or
// generates) a flow set, runs admission over the topology, simulates
// the admitted flows on the cycle grid and writes the results record
// at each checkpoint.
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/detsim/cqf"
)

var (
	randomFlows int
	outputFile  string
	traceFile   string
	timeout     int
	pcktCount   int
	streamName  string
)

var rootCmd = &cobra.Command{
	Use:   "cqfsim [config-file]",
	Short: "simulate cycle-aligned forwarding of admitted flows",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		configFile := "network_config.json"
		if len(args) == 1 {
			configFile = args[0]
		}
		return run(configFile)
	},
}

func init() {
	rootCmd.Flags().IntVar(&randomFlows, "random", 0,
		"generate this many random flows instead of reading them from the config")
	rootCmd.Flags().StringVar(&outputFile, "output", "simulation_results.json",
		"file the results record is written to, json or yaml by extension")
	rootCmd.Flags().StringVar(&traceFile, "trace", "",
		"optional file the per-cycle transmission trace is written to")
	rootCmd.Flags().IntVar(&timeout, "timeout", 0,
		"maximum number of cycles to simulate, 0 derives one from the delay bounds")
	rootCmd.Flags().IntVar(&pcktCount, "packets", 0,
		"packets to generate per flow, 0 selects one burst per flow")
	rootCmd.Flags().StringVar(&streamName, "stream", "cqfsim",
		"rng stream name used for random flow generation")
}

func run(configFile string) error {
	useYAML := isYAML(configFile)
	cfg, err := cqf.ReadExprCfg(configFile, useYAML, nil)
	if err != nil {
		return fmt.Errorf("reading configuration %s: %w", configFile, err)
	}

	net, err := cfg.BuildNetwork()
	if err != nil {
		return err
	}

	var flows []*cqf.Flow
	if randomFlows > 0 {
		flows, err = cqf.GenerateRandomFlows(net, randomFlows, streamName)
		if err != nil {
			return err
		}
		if err = net.BindFlows(flows); err != nil {
			return err
		}
		fmt.Printf("generated %d random flows\n", len(flows))
	} else {
		flows, err = cfg.BuildFlows(net)
		if err != nil {
			return err
		}
		fmt.Printf("loaded %d flows from configuration\n", len(flows))
	}

	T := cfg.SimParams.CycleDurationT
	tt, err := cqf.ComputeTauTable(net, T)
	if err != nil {
		return err
	}

	admitted := cqf.AdmitFlows(net, tt, T, flows)
	results := cqf.CreateResultsDesc(cfg, flows)

	for _, flow := range flows {
		if flow.Admitted {
			fmt.Printf("flow %d admitted, shaping parameter %.2f KB, path %v\n",
				flow.FlowID, flow.ShapingParameter, flow.Path)
		} else {
			fmt.Printf("flow %d not admitted\n", flow.FlowID)
		}
	}

	// checkpoint: admission decided
	if err = results.WriteToFile(outputFile); err != nil {
		return err
	}

	if admitted == 0 {
		fmt.Println("no flows were admitted, exiting")
		return nil
	}

	tm := cqf.CreateTraceManager(strings.TrimSuffix(path.Base(configFile), path.Ext(configFile)),
		traceFile != "")
	for _, id := range net.NodeIDs() {
		tm.AddName(id, fmt.Sprintf("node.%d", id), net.Nodes[id].Role.String())
	}

	// a SIGINT between cycles stops the run at the next boundary
	interrupt := make(chan struct{})
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		close(interrupt)
	}()

	timeoutCycles := timeout
	if timeoutCycles == 0 {
		timeoutCycles = cfg.SimParams.TimeoutCycles
	}
	scheduler := cqf.CreateCycleScheduler(net, tt, flows, T,
		effectiveTimeout(timeoutCycles, flows, T), pcktCountOrCfg(cfg), interrupt, tm)
	snap, simErr := scheduler.Run()

	results.UpdateCompletion(snap)
	if err = results.WriteToFile(outputFile); err != nil {
		return err
	}
	if traceFile != "" {
		tm.WriteToFile(traceFile)
	}

	fmt.Print(results.FlowSummary())
	switch snap.Cause {
	case cqf.CauseCompleted:
		fmt.Printf("all flows completed after %d cycles\n", snap.Cycle)
	case cqf.CauseTimeout:
		fmt.Printf("timeout after %d cycles, incomplete flows: %v\n",
			snap.Cycle, results.IncompleteFlows)
	case cqf.CauseInterrupted:
		fmt.Printf("interrupted at cycle %d\n", snap.Cycle)
	}

	if simErr != nil {
		if errors.Is(simErr, cqf.ErrBandwidthIntegrity) {
			return fmt.Errorf("admission model defect: %w", simErr)
		}
		return simErr
	}
	return nil
}

func effectiveTimeout(timeoutCycles int, flows []*cqf.Flow, T float64) int {
	if timeoutCycles > 0 {
		return timeoutCycles
	}
	return cqf.DefaultTimeoutCycles(flows, T)
}

func pcktCountOrCfg(cfg *cqf.ExprCfg) int {
	if pcktCount > 0 {
		return pcktCount
	}
	return cfg.SimParams.PacketCount
}

func isYAML(filename string) bool {
	switch strings.ToLower(path.Ext(filename)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
