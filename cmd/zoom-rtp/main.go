package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ZoomSpectra/internal/config"
	"ZoomSpectra/internal/engine/manager"
	"ZoomSpectra/internal/engine/streamaggregator"
	"ZoomSpectra/internal/pkg/logger"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile    string
	inFile     string
	fromNATS   bool
	limit      uint64
	packetsCSV string
	framesCSV  string
	statsCSV   string
	streamsCSV string
	qualityCSV string
)

var rootCmd = &cobra.Command{
	Use:   "zoom-rtp",
	Short: "Reassemble RTP streams from Zoom packet records",
	Long: `zoom-rtp replays packet records through the RTP reassembly engine and writes the
per-packet log, the per-frame log with frame rate and jitter, the per-second stream
statistics, the stream tracker and the final stream quality rows.`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "configs/config.yaml", "config file")
	rootCmd.Flags().StringVarP(&inFile, "in", "i", "", "packet record input (.zpkt)")
	rootCmd.Flags().BoolVar(&fromNATS, "nats", false, "read records from the NATS record subject until end of stream")
	rootCmd.Flags().Uint64Var(&limit, "limit", 0, "stop after this many million records (0 = all)")
	rootCmd.Flags().StringVar(&packetsCSV, "packets", "", "per packet CSV output")
	rootCmd.Flags().StringVar(&framesCSV, "frames", "", "per frame CSV output")
	rootCmd.Flags().StringVar(&statsCSV, "stats", "", "per second stream statistics CSV output")
	rootCmd.Flags().StringVar(&streamsCSV, "streams", "", "RTP stream tracker CSV output")
	rootCmd.Flags().StringVar(&qualityCSV, "quality", "", "stream quality CSV output")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if (inFile == "") == !fromNATS {
		return fmt.Errorf("exactly one of --in or --nats is required")
	}

	// 1. Load configuration
	cfg, err := config.LoadOrDefault(cfgFile)
	if err != nil {
		return err
	}
	if err := logger.Setup(cfg.Log); err != nil {
		return err
	}
	if limit > 0 {
		cfg.RTP.Limit = limit * 1_000_000
	}
	files := cfg.CSVFiles()
	for kind, path := range map[string]string{
		"packets": packetsCSV, "frames": framesCSV, "stats": statsCSV,
		"streams": streamsCSV, "quality": qualityCSV,
	} {
		if path != "" {
			files[kind] = path
		}
	}

	// 2. Run from NATS
	if fromNATS {
		agg, err := streamaggregator.NewStreamAggregator(cfg, "rtp")
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := agg.Run(ctx); err != nil {
			return err
		}
		log.Printf("Processed %d records from NATS.", agg.Received())
		return nil
	}

	// 3. Run from a record file
	f, err := os.Open(inFile)
	if err != nil {
		return fmt.Errorf("failed to open record file: %w", err)
	}
	defer f.Close()

	mgr, err := manager.NewManager(cfg, "rtp")
	if err != nil {
		return err
	}
	mgr.Start()
	n, feedErr := mgr.Feed(f)
	if err := mgr.Stop(); err != nil {
		return err
	}
	if feedErr != nil {
		return feedErr
	}
	log.Printf("Processed %d records from '%s'.", n, inFile)
	return nil
}
