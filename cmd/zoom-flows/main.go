package main

import (
	"fmt"
	"os"

	"ZoomSpectra/internal/config"
	"ZoomSpectra/internal/engine/manager"
	"ZoomSpectra/internal/factory"
	"ZoomSpectra/internal/pkg/logger"
	"ZoomSpectra/internal/probe/persistent"
	"ZoomSpectra/pkg/pcap"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	p2pOnly  bool
	zpktOut  string
	pcapOut  string
	textOut  string
	flowsCSV string
	typesCSV string
	rateCSV  string
)

var rootCmd = &cobra.Command{
	Use:   "zoom-flows <capture file or directory>",
	Short: "Classify Zoom flows and write packet records",
	Long: `zoom-flows reads Ethernet captures, classifies every IPv4 flow against the Zoom
server networks and the STUN window, and writes one 56-byte record per packet of a
tracked UDP flow. Directory inputs are read in capture sequence order.`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "configs/config.yaml", "config file")
	rootCmd.Flags().BoolVar(&p2pOnly, "p2p-only", false, "only keep p2p and STUN flows")
	rootCmd.Flags().StringVar(&zpktOut, "zpkt-out", "", "packet record output (.zpkt)")
	rootCmd.Flags().StringVar(&pcapOut, "pcap-out", "", "filtered capture output")
	rootCmd.Flags().StringVar(&textOut, "text-out", "", "human readable record log")
	rootCmd.Flags().StringVar(&flowsCSV, "flows", "", "flows CSV output")
	rootCmd.Flags().StringVar(&typesCSV, "types", "", "per media type volume CSV output")
	rootCmd.Flags().StringVar(&rateCSV, "rate", "", "per second rate CSV output")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	// 1. Load configuration
	cfg, err := config.LoadOrDefault(cfgFile)
	if err != nil {
		return err
	}
	if err := logger.Setup(cfg.Log); err != nil {
		return err
	}
	if cmd.Flags().Changed("p2p-only") {
		cfg.Flows.P2POnly = p2pOnly
	}
	if zpktOut == "" {
		zpktOut = cfg.Flows.RecordsPath
	}
	if pcapOut == "" {
		pcapOut = cfg.Flows.PcapPath
	}
	files := cfg.CSVFiles()
	for kind, path := range map[string]string{"flows": flowsCSV, "types": typesCSV, "rate": rateCSV} {
		if path != "" {
			files[kind] = path
		}
	}

	// 2. Open the capture, then initialize sinks and writers
	reader, err := pcap.NewReader(args[0])
	if err != nil {
		return fmt.Errorf("failed to open capture: %w", err)
	}
	defer reader.Close()

	sinks, workers, err := startWorkers([]persistent.Options{
		{Path: zpktOut, Encoding: persistent.EncodingZpkt},
		{Path: textOut, Encoding: persistent.EncodingText},
		{Path: pcapOut, Encoding: persistent.EncodingPcap},
	})
	if err != nil {
		return err
	}
	// Stop is idempotent; this only matters on the early returns below.
	defer stopWorkers(workers)

	writers, err := factory.CreateWriters(cfg)
	if err != nil {
		return err
	}
	mgr, err := manager.NewFlowManager(cfg, writers, sinks)
	if err != nil {
		writers.Close()
		return err
	}
	log.Printf("Reading %d capture file(s) from '%s'...", len(reader.Files()), args[0])

	// 3. Run the pipeline
	mgr.Start()
	readErr := reader.ReadPackets(mgr.InputChannel())
	stopErr := mgr.Stop()
	if err := stopWorkers(workers); err != nil && stopErr == nil {
		stopErr = err
	}
	if readErr != nil {
		return fmt.Errorf("failed to read capture: %w", readErr)
	}
	if stopErr != nil {
		return stopErr
	}
	log.Printf("Processed %d frames, wrote %d records.", reader.Count(), mgr.Records())
	return nil
}

// startWorkers starts one persistent worker per option with a path. If any worker
// fails to start, the ones already running are stopped before returning.
func startWorkers(opts []persistent.Options) (manager.Sinks, []*persistent.Worker, error) {
	var sinks manager.Sinks
	var workers []*persistent.Worker
	for _, o := range opts {
		if o.Path == "" {
			continue
		}
		w, err := persistent.NewWorker(o)
		if err != nil {
			stopWorkers(workers)
			return manager.Sinks{}, nil, err
		}
		workers = append(workers, w)
		if o.Encoding == persistent.EncodingPcap {
			sinks.Packets = append(sinks.Packets, w)
		} else {
			sinks.Records = append(sinks.Records, w)
		}
	}
	return sinks, workers, nil
}

// stopWorkers stops every worker and returns the first error.
func stopWorkers(workers []*persistent.Worker) error {
	var first error
	for _, w := range workers {
		if err := w.Stop(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
