package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ZoomSpectra/internal/config"
	core "ZoomSpectra/internal/core/model"
	"ZoomSpectra/internal/engine/manager"
	"ZoomSpectra/internal/engine/protocol"
	"ZoomSpectra/internal/model"
	"ZoomSpectra/internal/pkg/logger"
	"ZoomSpectra/internal/probe"
	"ZoomSpectra/pkg/pcap"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"google.golang.org/protobuf/encoding/protojson"
)

var (
	cfgFile   string
	p2pOnly   bool
	summaries bool
)

var rootCmd = &cobra.Command{
	Use:          "zoom-probe",
	Short:        "Move Zoom packet records over NATS",
	SilenceUsage: true,
}

var publishCmd = &cobra.Command{
	Use:   "publish <capture file or directory>",
	Short: "Classify a capture and publish its packet records",
	Args:  cobra.ExactArgs(1),
	RunE:  runPublish,
}

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print records or meeting summaries received from NATS",
	Args:  cobra.NoArgs,
	RunE:  runTail,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "configs/config.yaml", "config file")
	publishCmd.Flags().BoolVar(&p2pOnly, "p2p-only", false, "only publish p2p and STUN flows")
	tailCmd.Flags().BoolVar(&summaries, "summaries", false, "tail the meeting summary subject instead of records")
	rootCmd.AddCommand(publishCmd, tailCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOrDefault(cfgFile)
	if err != nil {
		return nil, err
	}
	return cfg, logger.Setup(cfg.Log)
}

func runPublish(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("p2p-only") {
		cfg.Flows.P2POnly = p2pOnly
	}

	// 1. Initialize NATS Publisher
	pub, err := probe.NewPublisher(cfg.Probe)
	if err != nil {
		return err
	}

	// 2. Classify the capture, the publisher is the only record sink
	mgr, err := manager.NewFlowManager(cfg, model.MultiWriter{}, manager.Sinks{Records: []manager.Sink{pub}})
	if err != nil {
		pub.Close()
		return err
	}
	reader, err := pcap.NewReader(args[0])
	if err != nil {
		pub.Close()
		return fmt.Errorf("failed to open capture: %w", err)
	}
	defer reader.Close()

	mgr.Start()
	readErr := reader.ReadPackets(mgr.InputChannel())
	stopErr := mgr.Stop()
	if err := pub.Close(); err != nil && stopErr == nil {
		stopErr = err
	}
	if readErr != nil {
		return fmt.Errorf("failed to read capture: %w", readErr)
	}
	return stopErr
}

func runTail(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if summaries {
		return tailSummaries(ctx, cfg.Probe)
	}

	sub, err := probe.NewSubscriber(cfg.Probe)
	if err != nil {
		return err
	}
	defer sub.Close()
	if err := sub.Start(printRecord); err != nil {
		return err
	}
	select {
	case <-sub.Done():
	case <-ctx.Done():
	}
	return nil
}

func printRecord(rec *protocol.Record) {
	kind := "other"
	switch {
	case rec.IsRTP():
		kind = fmt.Sprintf("rtp ssrc=0x%08x pt=%d seq=%d ts=%d", rec.RTP.SSRC, rec.RTP.PayloadType, rec.RTP.Sequence, rec.RTP.Timestamp)
	case rec.IsRTCP():
		kind = fmt.Sprintf("rtcp ssrc=0x%08x pt=%d", rec.RTCP.SSRC, rec.RTCP.PacketType)
	}
	flow := "srv"
	if rec.IsP2P() {
		flow = "p2p"
	}
	fmt.Printf("%d.%06d %s %s:%d > %s:%d media=0x%02x len=%d %s\n",
		rec.TS.Sec, rec.TS.Usec, flow,
		core.IPv4ToString(rec.Tuple.SrcIP), rec.Tuple.SrcPort,
		core.IPv4ToString(rec.Tuple.DstIP), rec.Tuple.DstPort,
		rec.MediaType, rec.UDPPayloadLen, kind)
}

func tailSummaries(ctx context.Context, cfg config.ProbeConfig) error {
	nc, err := nats.Connect(cfg.NATSURL, nats.Name("zoom-probe-tail"))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	sub, err := nc.Subscribe(cfg.SummarySubject, func(msg *nats.Msg) {
		ev, err := probe.DecodeSummary(msg.Data)
		if err != nil {
			log.Warnf("Dropping summary: %v", err)
			return
		}
		fmt.Println(protojson.Format(ev))
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to '%s': %w", cfg.SummarySubject, err)
	}
	defer sub.Unsubscribe()
	log.Printf("Subscribed to '%s'. Waiting for meeting summaries...", cfg.SummarySubject)
	<-ctx.Done()
	return nil
}
