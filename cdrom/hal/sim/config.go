package sim

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ardnew/softgdrom/cdrom/hal"
)

// Defaults applied by [Config.withDefaults].
const (
	DefaultSectorSize   = 2048
	DefaultCommandSteps = 2
	DefaultChunkStep    = 2048
	DefaultSectors      = 4096
)

// Track describes one TOC entry of the simulated disc.
type Track struct {
	Control uint8  `yaml:"control"`
	ADR     uint8  `yaml:"adr"`
	LBA     uint32 `yaml:"lba"`
}

// Disc describes the simulated medium.
type Disc struct {
	Present bool    `yaml:"present"`
	Type    int     `yaml:"type"`
	Sectors int     `yaml:"sectors"`
	Seed    uint8   `yaml:"seed"`
	Tracks  []Track `yaml:"tracks"`
}

// Config controls the simulated controller's timing and faults.
type Config struct {
	Disc Disc `yaml:"disc"`

	// SectorSize is the initial sector size before any SectorMode call.
	SectorSize int `yaml:"sector_size"`

	// CommandSteps is the number of ExecServer calls a command takes.
	CommandSteps int `yaml:"command_steps"`

	// ChunkStep is the number of bytes a PIO chunk moves per ExecServer.
	ChunkStep int `yaml:"chunk_step"`

	// RefuseSubmits makes the next N SendCommand calls return a zero handle.
	RefuseSubmits int `yaml:"refuse_submits"`

	// DiscChanges makes the next N CmdInit commands fail with disc-changed.
	DiscChanges int `yaml:"disc_changes"`

	// BusyChecks makes the next N CheckDrive calls answer busy.
	BusyChecks int `yaml:"busy_checks"`

	// Hang lists commands that never leave the processing state.
	Hang []hal.Command `yaml:"hang"`

	// IgnoreAbort makes AbortCommand have no effect.
	IgnoreAbort bool `yaml:"ignore_abort"`

	// CustomBootstrap selects the custom boot ROM signature.
	CustomBootstrap bool `yaml:"custom_bootstrap"`

	// ProtectionWords is the number of protection values seeded in system
	// memory for the DMA unlock to patch.
	ProtectionWords int `yaml:"protection_words"`

	// TickPeriod runs the ticker automatically. Zero means ticks are
	// delivered only by [Machine.Tick].
	TickPeriod time.Duration `yaml:"tick_period"`

	// ClockStep advances the clock by this much on every read. Zero uses
	// the host monotonic clock.
	ClockStep time.Duration `yaml:"clock_step"`
}

// DefaultConfig returns a configuration with a two-track disc: an audio
// track followed by a data track.
func DefaultConfig() Config {
	return Config{
		Disc: Disc{
			Present: true,
			Type:    int(hal.DiscCDROMXA),
			Sectors: DefaultSectors,
			Tracks: []Track{
				{Control: hal.CtrlAudio, ADR: 1, LBA: 150},
				{Control: hal.CtrlData, ADR: 1, LBA: 1024},
			},
		},
		SectorSize:      DefaultSectorSize,
		CommandSteps:    DefaultCommandSteps,
		ChunkStep:       DefaultChunkStep,
		ProtectionWords: 2,
		TickPeriod:      time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	if c.SectorSize <= 0 {
		c.SectorSize = DefaultSectorSize
	}
	if c.CommandSteps <= 0 {
		c.CommandSteps = DefaultCommandSteps
	}
	if c.ChunkStep <= 0 {
		c.ChunkStep = DefaultChunkStep
	}
	if c.Disc.Sectors <= 0 {
		c.Disc.Sectors = DefaultSectors
	}
	return c
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	if len(c.Disc.Tracks) > hal.MaxTracks {
		return fmt.Errorf("sim: %d tracks exceeds %d", len(c.Disc.Tracks), hal.MaxTracks)
	}
	for i, t := range c.Disc.Tracks {
		if t.LBA > 0x00ffffff {
			return fmt.Errorf("sim: track %d LBA %#x out of range", i+1, t.LBA)
		}
		if t.Control > 0x0f {
			return fmt.Errorf("sim: track %d control %#x out of range", i+1, t.Control)
		}
	}
	if c.RefuseSubmits < 0 || c.DiscChanges < 0 || c.BusyChecks < 0 {
		return fmt.Errorf("sim: fault counters must not be negative")
	}
	return nil
}

// DecodeConfig reads a YAML configuration, starting from [DefaultConfig].
func DecodeConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, fmt.Errorf("sim: decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads a YAML configuration file.
func LoadConfig(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()
	return DecodeConfig(f)
}
