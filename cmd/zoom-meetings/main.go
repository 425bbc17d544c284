package main

import (
	"fmt"
	"os"

	"ZoomSpectra/internal/config"
	"ZoomSpectra/internal/engine/manager"
	"ZoomSpectra/internal/pkg/logger"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile     string
	uniqueOut   string
	meetingsOut string
	snapshotDir string
	minPackets  uint64
)

var rootCmd = &cobra.Command{
	Use:   "zoom-meetings <record file>",
	Short: "Deduplicate Zoom media streams and group them into meetings",
	Long: `zoom-meetings reads packet records, folds the copies of each media stream that
the server relays to every participant into one unique stream, and groups the unique
streams into meetings. Results go to the configured writers.`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "configs/config.yaml", "config file")
	rootCmd.Flags().StringVar(&uniqueOut, "unique-out", "", "unique streams CSV output")
	rootCmd.Flags().StringVar(&meetingsOut, "meetings-out", "", "meetings CSV output")
	rootCmd.Flags().StringVar(&snapshotDir, "snapshot-dir", "", "snapshot root directory")
	rootCmd.Flags().Uint64Var(&minPackets, "min-packets", 0, "drop unique streams with fewer packets")
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
	if minPackets > 0 {
		cfg.Meetings.MinStreamPackets = minPackets
	}
	files := cfg.CSVFiles()
	if uniqueOut != "" {
		files["unique_streams"] = uniqueOut
	}
	if meetingsOut != "" {
		files["meetings"] = meetingsOut
	}
	if snapshotDir != "" {
		setSnapshotRoot(cfg, snapshotDir)
	}

	// 2. Initialize modules
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open record file: %w", err)
	}
	defer f.Close()

	mgr, err := manager.NewManager(cfg, "meetings")
	if err != nil {
		return err
	}

	// 3. Run
	mgr.Start()
	n, feedErr := mgr.Feed(f)
	if err := mgr.Stop(); err != nil {
		return fmt.Errorf("meetings pass failed: %w", err)
	}
	if feedErr != nil {
		return feedErr
	}
	log.Printf("Processed %d records from '%s'.", n, args[0])
	return nil
}

func setSnapshotRoot(cfg *config.Config, root string) {
	for i := range cfg.Output.Writers {
		if cfg.Output.Writers[i].Type == "snapshot" {
			cfg.Output.Writers[i].Enabled = true
			cfg.Output.Writers[i].Snapshot.RootPath = root
			return
		}
	}
	cfg.Output.Writers = append(cfg.Output.Writers, config.WriterDef{
		Type:     "snapshot",
		Enabled:  true,
		Snapshot: config.SnapshotConfig{RootPath: root},
	})
}
