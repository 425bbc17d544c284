package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LogConfig controls the logrus output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// ZoomConfig holds the protocol-level knobs shared by every pass.
type ZoomConfig struct {
	ServerNets []string `yaml:"server_nets"`
	StunWindow string   `yaml:"stun_window"`
}

// FlowsConfig configures the flow classification pass.
type FlowsConfig struct {
	P2POnly             bool   `yaml:"p2p_only"`
	RateTolerance       uint32 `yaml:"rate_tolerance"`
	SizeOfPacketChannel int    `yaml:"size_of_packet_channel"`
	RecordsPath         string `yaml:"records_path"`
	PcapPath            string `yaml:"pcap_path"`
}

// RTPConfig configures the reassembly pass.
type RTPConfig struct {
	WindowSize          int     `yaml:"window_size"`
	FrameRateCapacity   int     `yaml:"frame_rate_capacity"`
	PayloadTypes        []uint8 `yaml:"payload_types"`
	Limit               uint64  `yaml:"limit"`
	SizeOfRecordChannel int     `yaml:"size_of_record_channel"`
}

// MeetingsConfig configures the deduplication and grouping pass.
type MeetingsConfig struct {
	PayloadTypes     []uint8 `yaml:"payload_types"`
	DedupBuffer      uint32  `yaml:"dedup_buffer"`
	MinStreamPackets uint64  `yaml:"min_stream_packets"`
	Expiration       string  `yaml:"expiration"`
}

// CSVConfig maps report kinds (flows, types, rate, packets, frames, stats,
// streams, quality, unique_streams, meetings) to output files.
type CSVConfig struct {
	Files map[string]string `yaml:"files"`
}

// ClickHouseConfig holds connection details for the ClickHouse writer.
type ClickHouseConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Database  string `yaml:"database"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	BatchSize int    `yaml:"batch_size"`
}

// SnapshotConfig holds the settings for the gob snapshot writer.
type SnapshotConfig struct {
	RootPath string `yaml:"root_path"`
}

// WriterDef defines a single report writer.
type WriterDef struct {
	Type       string           `yaml:"type"`
	Enabled    bool             `yaml:"enabled"`
	CSV        CSVConfig        `yaml:"csv"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Snapshot   SnapshotConfig   `yaml:"snapshot"`
}

// OutputConfig lists the report writers.
type OutputConfig struct {
	Writers []WriterDef `yaml:"writers"`
}

// ProbeConfig holds the NATS settings for record transport and summary events.
type ProbeConfig struct {
	NATSURL        string `yaml:"nats_url"`
	Subject        string `yaml:"subject"`
	SummarySubject string `yaml:"summary_subject"`
}

// APIConfig configures the report API. Source selects the backend: snapshot reads the
// newest snapshot below SnapshotPath, clickhouse queries the tables of the ClickHouse
// writer.
type APIConfig struct {
	ListenAddr   string           `yaml:"listen_addr"`
	Source       string           `yaml:"source"`
	SnapshotPath string           `yaml:"snapshot_path"`
	ClickHouse   ClickHouseConfig `yaml:"clickhouse"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Zoom     ZoomConfig     `yaml:"zoom"`
	Flows    FlowsConfig    `yaml:"flows"`
	RTP      RTPConfig      `yaml:"rtp"`
	Meetings MeetingsConfig `yaml:"meetings"`
	Output   OutputConfig   `yaml:"output"`
	Probe    ProbeConfig    `yaml:"probe"`
	API      APIConfig      `yaml:"api"`
}

// LoadConfig reads the configuration from a YAML file and returns a Config struct
// with defaults applied to every unset field.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}

	cfg.Defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads filePath when it exists and falls back to the defaults otherwise.
func LoadOrDefault(filePath string) (*Config, error) {
	if filePath != "" {
		if _, err := os.Stat(filePath); err == nil {
			return LoadConfig(filePath)
		}
	}
	cfg := &Config{}
	cfg.Defaults()
	return cfg, nil
}

// Defaults fills every zero-valued field.
func (c *Config) Defaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if len(c.Zoom.ServerNets) == 0 {
		c.Zoom.ServerNets = append([]string(nil), DefaultServerNets...)
	}
	if c.Zoom.StunWindow == "" {
		c.Zoom.StunWindow = "300s"
	}
	if c.Flows.RateTolerance == 0 {
		c.Flows.RateTolerance = 0xffff
	}
	if c.Flows.SizeOfPacketChannel <= 0 {
		c.Flows.SizeOfPacketChannel = 10000
	}
	if c.RTP.WindowSize == 0 {
		c.RTP.WindowSize = 64
	}
	if c.RTP.FrameRateCapacity == 0 {
		c.RTP.FrameRateCapacity = 512
	}
	if len(c.RTP.PayloadTypes) == 0 {
		c.RTP.PayloadTypes = []uint8{98, 99, 110, 112, 113}
	}
	if c.RTP.SizeOfRecordChannel <= 0 {
		c.RTP.SizeOfRecordChannel = 10000
	}
	if len(c.Meetings.PayloadTypes) == 0 {
		c.Meetings.PayloadTypes = []uint8{98, 99, 112, 113}
	}
	if c.Meetings.DedupBuffer == 0 {
		c.Meetings.DedupBuffer = 3000
	}
	if c.Meetings.MinStreamPackets == 0 {
		c.Meetings.MinStreamPackets = 10
	}
	if c.Meetings.Expiration == "" {
		c.Meetings.Expiration = "1h"
	}
	if c.Probe.NATSURL == "" {
		c.Probe.NATSURL = "nats://127.0.0.1:4222"
	}
	if c.Probe.Subject == "" {
		c.Probe.Subject = "zoom.records"
	}
	if c.Probe.SummarySubject == "" {
		c.Probe.SummarySubject = "zoom.summary"
	}
	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}
	if c.API.Source == "" {
		c.API.Source = "snapshot"
	}
	if c.API.SnapshotPath == "" {
		c.API.SnapshotPath = "./snapshots"
	}
	for i := range c.Output.Writers {
		w := &c.Output.Writers[i]
		if w.Type == "clickhouse" && w.ClickHouse.BatchSize <= 0 {
			w.ClickHouse.BatchSize = 10000
		}
		if w.Type == "snapshot" && w.Snapshot.RootPath == "" {
			w.Snapshot.RootPath = "./snapshots"
		}
	}
}

// Validate checks the values that cannot be defaulted.
func (c *Config) Validate() error {
	if _, err := c.StunWindowSeconds(); err != nil {
		return err
	}
	if _, err := c.ExpirationSeconds(); err != nil {
		return err
	}
	if c.API.Source != "snapshot" && c.API.Source != "clickhouse" {
		return fmt.Errorf("api.source must be snapshot or clickhouse, got %q", c.API.Source)
	}
	n := c.RTP.WindowSize
	if n < 8 || n&(n-1) != 0 {
		return fmt.Errorf("rtp.window_size must be a power of two >= 8, got %d", n)
	}
	return nil
}

// StunWindowSeconds returns the STUN candidate lifetime in whole seconds.
func (c *Config) StunWindowSeconds() (uint32, error) {
	return parseSeconds("zoom.stun_window", c.Zoom.StunWindow)
}

// ExpirationSeconds returns the meeting correlation lifetime in whole seconds.
func (c *Config) ExpirationSeconds() (uint32, error) {
	return parseSeconds("meetings.expiration", c.Meetings.Expiration)
}

func parseSeconds(name, value string) (uint32, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, value, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s %q: negative duration", name, value)
	}
	return uint32(d / time.Second), nil
}

// CSVFiles returns the CSV file map of the first enabled csv writer, creating the writer
// definition when none exists so that command-line paths can be attached to it.
func (c *Config) CSVFiles() map[string]string {
	for i := range c.Output.Writers {
		w := &c.Output.Writers[i]
		if w.Type == "csv" {
			w.Enabled = true
			if w.CSV.Files == nil {
				w.CSV.Files = make(map[string]string)
			}
			return w.CSV.Files
		}
	}
	c.Output.Writers = append(c.Output.Writers, WriterDef{
		Type:    "csv",
		Enabled: true,
		CSV:     CSVConfig{Files: make(map[string]string)},
	})
	return c.Output.Writers[len(c.Output.Writers)-1].CSV.Files
}
