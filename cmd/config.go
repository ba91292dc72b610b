package cmd

import (
	"bytes"
	"fmt"
	"os"

	"github.com/sarchlab/hybridmem/mem/hybrid"
	"github.com/sarchlab/hybridmem/mem/memaccessagent"
	"github.com/sarchlab/hybridmem/mem/simplemedia"
	"github.com/sarchlab/hybridmem/sim/timing"
	"gopkg.in/yaml.v3"
)

// ControllerConfig holds the parameters of the hybrid controller.
type ControllerConfig struct {
	FastReadQueueSize     int    `yaml:"fast_read_queue_size"`
	FastWriteQueueSize    int    `yaml:"fast_write_queue_size"`
	BackingReadQueueSize  int    `yaml:"backing_read_queue_size"`
	BackingWriteQueueSize int    `yaml:"backing_write_queue_size"`
	FillQueueSize         int    `yaml:"fill_queue_size"`
	NumPriorities         int    `yaml:"num_priorities"`
	WriteLowWatermark     int    `yaml:"write_low_watermark"`
	WriteHighWatermark    int    `yaml:"write_high_watermark"`
	MinWritesPerSwitch    int    `yaml:"min_writes_per_switch"`
	FastPolicy            string `yaml:"fast_policy"`
	BackingPolicy         string `yaml:"backing_policy"`
	WriteAllocate         bool   `yaml:"write_allocate"`
	CommandWindow         uint64 `yaml:"command_window"`
	MaxCommandsPerWindow  int    `yaml:"max_commands_per_window"`
	FrontendLatency       uint64 `yaml:"frontend_latency"`
	BackendLatency        uint64 `yaml:"backend_latency"`
	TagCheckLatency       uint64 `yaml:"tag_check_latency"`
	CacheCapacity         uint64 `yaml:"cache_capacity"`
	LineSize              uint64 `yaml:"line_size"`
}

// MediaConfig holds the geometry and timing of one memory tier, in cycles.
type MediaConfig struct {
	Capacity  uint64 `yaml:"capacity"`
	BurstSize uint64 `yaml:"burst_size"`
	RowSize   uint64 `yaml:"row_size"`
	NumRanks  int    `yaml:"num_ranks"`
	NumBanks  int    `yaml:"num_banks"`
	TRCD      uint64 `yaml:"t_rcd"`
	TCL       uint64 `yaml:"t_cl"`
	TCWL      uint64 `yaml:"t_cwl"`
	TRP       uint64 `yaml:"t_rp"`
	TBURST    uint64 `yaml:"t_burst"`
	TRTP      uint64 `yaml:"t_rtp"`
	TWR       uint64 `yaml:"t_wr"`
	TRTW      uint64 `yaml:"t_rtw"`
	TWTR      uint64 `yaml:"t_wtr"`
	TREFI     uint64 `yaml:"t_refi"`
	TRFC      uint64 `yaml:"t_rfc"`
}

// TrafficConfig describes the random traffic sent to the controller.
type TrafficConfig struct {
	Seed          int64  `yaml:"seed"`
	NumReads      int    `yaml:"num_reads"`
	NumWrites     int    `yaml:"num_writes"`
	MaxAddress    uint64 `yaml:"max_address"`
	AccessSize    uint64 `yaml:"access_size"`
	NumPriorities int    `yaml:"num_priorities"`
}

// Config is the full description of a simulation run.
// All sections must be listed to satisfy KnownFields(true) strict parsing.
type Config struct {
	FreqMHz      float64          `yaml:"freq_mhz"`
	Controller   ControllerConfig `yaml:"controller"`
	FastMedia    MediaConfig      `yaml:"fast_media"`
	BackingMedia MediaConfig      `yaml:"backing_media"`
	Traffic      TrafficConfig    `yaml:"traffic"`
}

// DefaultConfig returns a small system that simulates in seconds: a 64 MB
// fast tier caching the first part of a 1 GB backing tier.
func DefaultConfig() Config {
	return Config{
		FreqMHz: 1000,
		Controller: ControllerConfig{
			FastReadQueueSize:     64,
			FastWriteQueueSize:    64,
			BackingReadQueueSize:  64,
			BackingWriteQueueSize: 64,
			FillQueueSize:         64,
			NumPriorities:         1,
			WriteLowWatermark:     50,
			WriteHighWatermark:    85,
			MinWritesPerSwitch:    16,
			FastPolicy:            "frfcfs",
			BackingPolicy:         "frfcfs",
			WriteAllocate:         true,
			CommandWindow:         10,
			MaxCommandsPerWindow:  4,
			FrontendLatency:       10,
			BackendLatency:        10,
			TagCheckLatency:       4,
			CacheCapacity:         64 << 20,
			LineSize:              64,
		},
		FastMedia: MediaConfig{
			Capacity: 64 << 20, BurstSize: 64, RowSize: 2048,
			NumRanks: 1, NumBanks: 16,
			TRCD: 12, TCL: 12, TCWL: 6, TRP: 12, TBURST: 2,
			TRTP: 8, TWR: 15, TRTW: 2, TWTR: 8,
			TREFI: 3900, TRFC: 260,
		},
		BackingMedia: MediaConfig{
			Capacity: 1 << 30, BurstSize: 256, RowSize: 256,
			NumRanks: 1, NumBanks: 16,
			TRCD: 60, TCL: 30, TCWL: 20, TRP: 0, TBURST: 8,
			TRTP: 8, TWR: 150, TRTW: 2, TWTR: 20,
		},
		Traffic: TrafficConfig{
			Seed:          1,
			NumReads:      10000,
			NumWrites:     10000,
			MaxAddress:    256 << 20,
			AccessSize:    64,
			NumPriorities: 1,
		},
	}
}

// LoadConfig reads a YAML file on top of the defaults. Unknown keys are
// errors so that typos do not silently fall back to defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err := decoder.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks the parameters the builders would otherwise panic on.
func (c Config) Validate() error {
	ctrl := c.Controller

	if c.FreqMHz <= 0 {
		return fmt.Errorf("freq_mhz must be positive, got %g", c.FreqMHz)
	}

	if ctrl.WriteLowWatermark >= ctrl.WriteHighWatermark {
		return fmt.Errorf(
			"write_low_watermark %d must be below write_high_watermark %d",
			ctrl.WriteLowWatermark, ctrl.WriteHighWatermark)
	}

	if ctrl.WriteHighWatermark > 100 || ctrl.WriteLowWatermark < 0 {
		return fmt.Errorf("write watermarks must be within [0, 100]")
	}

	if _, err := hybrid.ParsePolicy(ctrl.FastPolicy); err != nil {
		return fmt.Errorf("fast_policy: %w", err)
	}

	if _, err := hybrid.ParsePolicy(ctrl.BackingPolicy); err != nil {
		return fmt.Errorf("backing_policy: %w", err)
	}

	if ctrl.LineSize != c.FastMedia.BurstSize {
		return fmt.Errorf("line_size %d must equal the fast media burst size %d",
			ctrl.LineSize, c.FastMedia.BurstSize)
	}

	if ctrl.CacheCapacity > c.FastMedia.Capacity {
		return fmt.Errorf("cache_capacity %d exceeds the fast media capacity %d",
			ctrl.CacheCapacity, c.FastMedia.Capacity)
	}

	if c.Traffic.AccessSize == 0 || c.Traffic.AccessSize%4 != 0 {
		return fmt.Errorf("access_size %d must be a positive multiple of 4",
			c.Traffic.AccessSize)
	}

	if c.Traffic.MaxAddress > c.BackingMedia.Capacity {
		return fmt.Errorf("max_address 0x%x is beyond the backing media",
			c.Traffic.MaxAddress)
	}

	return nil
}

// Freq returns the clock of the simulation.
func (c Config) Freq() timing.Freq {
	return timing.Freq(c.FreqMHz) * timing.MHz
}

func (m MediaConfig) apply(b simplemedia.Builder) simplemedia.Builder {
	return b.
		WithCapacity(m.Capacity).
		WithBurstSize(m.BurstSize).
		WithRowSize(m.RowSize).
		WithNumRanks(m.NumRanks).
		WithNumBanks(m.NumBanks).
		WithTRCD(timing.VTimeInCycle(m.TRCD)).
		WithTCL(timing.VTimeInCycle(m.TCL)).
		WithTCWL(timing.VTimeInCycle(m.TCWL)).
		WithTRP(timing.VTimeInCycle(m.TRP)).
		WithTBURST(timing.VTimeInCycle(m.TBURST)).
		WithTRTP(timing.VTimeInCycle(m.TRTP)).
		WithTWR(timing.VTimeInCycle(m.TWR)).
		WithTRTW(timing.VTimeInCycle(m.TRTW)).
		WithTWTR(timing.VTimeInCycle(m.TWTR)).
		WithRefresh(timing.VTimeInCycle(m.TREFI), timing.VTimeInCycle(m.TRFC))
}

func (c ControllerConfig) apply(b hybrid.Builder) hybrid.Builder {
	fastPolicy, _ := hybrid.ParsePolicy(c.FastPolicy)
	backingPolicy, _ := hybrid.ParsePolicy(c.BackingPolicy)

	return b.
		WithFastReadQueueSize(c.FastReadQueueSize).
		WithFastWriteQueueSize(c.FastWriteQueueSize).
		WithBackingReadQueueSize(c.BackingReadQueueSize).
		WithBackingWriteQueueSize(c.BackingWriteQueueSize).
		WithFillQueueSize(c.FillQueueSize).
		WithNumPriorities(c.NumPriorities).
		WithWriteWatermarks(c.WriteLowWatermark, c.WriteHighWatermark).
		WithMinWritesPerSwitch(c.MinWritesPerSwitch).
		WithTierPolicies(fastPolicy, backingPolicy).
		WithWriteAllocate(c.WriteAllocate).
		WithCommandWindow(
			timing.VTimeInCycle(c.CommandWindow), c.MaxCommandsPerWindow).
		WithLatencies(
			timing.VTimeInCycle(c.FrontendLatency),
			timing.VTimeInCycle(c.BackendLatency),
			timing.VTimeInCycle(c.TagCheckLatency)).
		WithCacheCapacity(c.CacheCapacity).
		WithLineSize(c.LineSize)
}

func (t TrafficConfig) apply(b memaccessagent.Builder) memaccessagent.Builder {
	return b.
		WithSeed(t.Seed).
		WithReadLeft(t.NumReads).
		WithWriteLeft(t.NumWrites).
		WithMaxAddress(t.MaxAddress).
		WithAccessSize(t.AccessSize).
		WithNumPriorities(t.NumPriorities)
}
