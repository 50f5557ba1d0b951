package sim

import (
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/softgdrom/cdrom/hal"
)

// manualConfig returns a config whose ticker only runs on demand.
func manualConfig() Config {
	cfg := DefaultConfig()
	cfg.TickPeriod = 0
	return cfg
}

// run services the machine until h leaves the processing state.
func run(t *testing.T, m *Machine, h hal.Handle) (hal.Response, hal.CommandStatus) {
	t.Helper()
	var st hal.CommandStatus
	for i := 0; i < 100; i++ {
		m.ExecServer()
		if r := m.CheckCommand(h, &st); !r.Pending() {
			return r, st
		}
	}
	t.Fatalf("command %d never finished", h)
	return 0, st
}

// =============================================================================
// Config Tests
// =============================================================================

func TestDecodeConfig(t *testing.T) {
	const doc = `
disc:
  present: true
  type: 16
  sectors: 800
  seed: 5
  tracks:
    - {control: 0, adr: 1, lba: 150}
    - {control: 4, adr: 1, lba: 300}
    - {control: 4, adr: 1, lba: 600}
command_steps: 3
disc_changes: 2
hang: [33]
tick_period: 2ms
`
	cfg, err := DecodeConfig(strings.NewReader(doc))
	require.NoError(t, err)

	assert.Equal(t, 800, cfg.Disc.Sectors)
	assert.Equal(t, uint8(5), cfg.Disc.Seed)
	assert.Equal(t, 3, cfg.CommandSteps)
	assert.Equal(t, 2, cfg.DiscChanges)
	assert.Equal(t, []hal.Command{hal.CmdStop}, cfg.Hang)
	assert.Equal(t, 2*time.Millisecond, cfg.TickPeriod)

	// Fields left out keep their defaults.
	assert.Equal(t, DefaultSectorSize, cfg.SectorSize)
	assert.Equal(t, 2, cfg.ProtectionWords)

	want := []Track{
		{Control: 0, ADR: 1, LBA: 150},
		{Control: 4, ADR: 1, LBA: 300},
		{Control: 4, ADR: 1, LBA: 600},
	}
	if diff := cmp.Diff(want, cfg.Disc.Tracks); diff != "" {
		t.Errorf("tracks mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeConfig_Empty(t *testing.T) {
	cfg, err := DecodeConfig(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestDecodeConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown field", "bogus: 1\n"},
		{"bad control", "disc: {tracks: [{control: 16, lba: 1}]}\n"},
		{"bad lba", "disc: {tracks: [{control: 4, lba: 0x1000000}]}\n"},
		{"negative fault", "refuse_submits: -1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeConfig(strings.NewReader(tt.doc))
			assert.Error(t, err)
		})
	}
}

// =============================================================================
// Command Tests
// =============================================================================

func TestMachine_CommandSteps(t *testing.T) {
	cfg := manualConfig()
	cfg.CommandSteps = 3
	m := New(cfg)
	defer m.Close()

	h := m.SendCommand(hal.CmdStop, nil)
	require.True(t, h.Valid())

	var st hal.CommandStatus
	for i := 0; i < 2; i++ {
		m.ExecServer()
		assert.Equal(t, hal.ResponseProcessing, m.CheckCommand(h, &st))
	}
	m.ExecServer()
	assert.Equal(t, hal.ResponseCompleted, m.CheckCommand(h, &st))

	// Retired once reported.
	assert.Equal(t, hal.ResponseNoActive, m.CheckCommand(h, &st))
	assert.Zero(t, m.OpenCommands())
}

func TestMachine_Refusals(t *testing.T) {
	m := New(manualConfig())
	defer m.Close()

	m.InjectRefusals(2)
	assert.False(t, m.SendCommand(hal.CmdStop, nil).Valid())
	assert.False(t, m.SendCommand(hal.CmdStop, nil).Valid())
	assert.True(t, m.SendCommand(hal.CmdStop, nil).Valid())
	assert.Len(t, m.CallsOf(OpSend), 3)
}

func TestMachine_Overlaps(t *testing.T) {
	m := New(manualConfig())
	defer m.Close()

	m.SendCommand(hal.CmdStop, nil)
	m.SendCommand(hal.CmdPause, nil)

	assert.Equal(t, 1, m.Overlaps())
	assert.Equal(t, 2, m.MaxInFlight())
}

func TestMachine_NoDisc(t *testing.T) {
	cfg := manualConfig()
	cfg.Disc.Present = false
	m := New(cfg)
	defer m.Close()

	resp, st := run(t, m, m.SendCommand(hal.CmdInit, nil))
	assert.Equal(t, hal.ResponseFailed, resp)
	assert.Equal(t, int32(hal.SenseNoDisc), st.Err1)

	var info hal.DriveInfo
	m.CheckDrive(&info)
	assert.Equal(t, hal.StatusNoDisc, info.Status)
	assert.Equal(t, hal.DiscFail, info.Disc)
}

func TestMachine_DiscChanges(t *testing.T) {
	m := New(manualConfig())
	defer m.Close()

	m.InjectDiscChanges(1)
	resp, st := run(t, m, m.SendCommand(hal.CmdInit, nil))
	assert.Equal(t, hal.ResponseFailed, resp)
	assert.Equal(t, int32(hal.SenseDiscChanged), st.Err1)

	resp, _ = run(t, m, m.SendCommand(hal.CmdInit, nil))
	assert.Equal(t, hal.ResponseCompleted, resp)
}

func TestMachine_HangAndAbort(t *testing.T) {
	m := New(manualConfig())
	defer m.Close()

	m.SetHang(hal.CmdStop, true)
	h := m.SendCommand(hal.CmdStop, nil)
	var st hal.CommandStatus
	for i := 0; i < 10; i++ {
		m.ExecServer()
	}
	assert.Equal(t, hal.ResponseProcessing, m.CheckCommand(h, &st))

	m.SetIgnoreAbort(true)
	m.AbortCommand(h)
	assert.Equal(t, hal.ResponseProcessing, m.CheckCommand(h, &st))

	m.SetIgnoreAbort(false)
	m.AbortCommand(h)
	assert.Equal(t, hal.ResponseNoActive, m.CheckCommand(h, &st))
	assert.Len(t, m.CallsOf(OpAbort), 2)
}

func TestMachine_Read(t *testing.T) {
	cfg := manualConfig()
	cfg.Disc.Seed = 0x5a
	m := New(cfg)
	defer m.Close()

	buf := make([]byte, 2*DefaultSectorSize)
	h := m.SendCommand(hal.CmdPIORead, &hal.ReadParams{Sector: 10, Count: 2, Buf: buf})
	resp, st := run(t, m, h)
	require.Equal(t, hal.ResponseCompleted, resp)
	assert.Equal(t, int32(len(buf)), st.Size)

	assert.Equal(t, Pattern(10, 0, 0x5a), buf[0])
	assert.Equal(t, Pattern(11, 7, 0x5a), buf[DefaultSectorSize+7])
}

func TestMachine_ReadOutOfRange(t *testing.T) {
	m := New(manualConfig())
	defer m.Close()

	buf := make([]byte, DefaultSectorSize)
	h := m.SendCommand(hal.CmdPIORead, &hal.ReadParams{Sector: DefaultSectors, Count: 1, Buf: buf})
	resp, _ := run(t, m, h)
	assert.Equal(t, hal.ResponseFailed, resp)
}

func TestMachine_DMAReadRaises(t *testing.T) {
	m := New(manualConfig())
	defer m.Close()

	var hits atomic.Int32
	m.SetHandler(hal.EventGDDMA, func(hal.Event) { hits.Add(1) })
	m.Enable(hal.EventGDDMA)

	buf := make([]byte, DefaultSectorSize)
	run(t, m, m.SendCommand(hal.CmdDMARead, &hal.ReadParams{Sector: 0, Count: 1, Buf: buf}))

	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, 1, m.Raised(hal.EventGDDMA))
}

func TestMachine_TOC(t *testing.T) {
	m := New(manualConfig())
	defer m.Close()

	var toc hal.TOC
	resp, _ := run(t, m, m.SendCommand(hal.CmdGetTOC2, &hal.TOCParams{TOC: &toc}))
	require.Equal(t, hal.ResponseCompleted, resp)

	assert.Equal(t, 1, toc.FirstTrack())
	assert.Equal(t, 2, toc.LastTrack())
	assert.Equal(t, uint8(hal.CtrlData), hal.TOCCtrl(toc.Entry[1]))
	assert.Equal(t, uint32(1024), hal.TOCLBA(toc.Entry[1]))
	assert.Equal(t, uint32(DefaultSectors), hal.TOCLBA(toc.LeadOut))
}

func TestMachine_SectorMode(t *testing.T) {
	m := New(manualConfig())
	defer m.Close()

	assert.Equal(t, 0, m.SectorMode(&hal.SectorModeParams{Size: 2352}))
	assert.Equal(t, 2352, m.SectorSize())

	get := hal.SectorModeParams{Get: true}
	m.SectorMode(&get)
	assert.Equal(t, 2352, get.Size)

	assert.Equal(t, -1, m.SectorMode(&hal.SectorModeParams{Size: 0}))
	assert.Len(t, m.CallsOf(OpSectorMode), 2)
}

// =============================================================================
// Stream Tests
// =============================================================================

func TestMachine_PIOStream(t *testing.T) {
	m := New(manualConfig())
	defer m.Close()

	var notified int
	m.PIOCallback(func() { notified++ })

	h := m.SendCommand(hal.CmdPIOReadStream, &hal.StreamParams{Sector: 4, Count: 2})
	resp, _ := run(t, m, h)
	require.Equal(t, hal.ResponseStreaming, resp)

	var left int
	for i := 0; i < 2; i++ {
		buf := make([]byte, DefaultSectorSize)
		require.Equal(t, 0, m.PIOTransfer(h, &hal.Chunk{Buf: buf}))
		assert.Equal(t, 1, m.PIOCheck(h, &left))
		assert.Equal(t, DefaultSectorSize, left)

		m.ExecServer()
		assert.Equal(t, 0, m.PIOCheck(h, &left))
		assert.Equal(t, Pattern(4+i, 3, 0), buf[3])
	}
	assert.Zero(t, left)

	// The last chunk is not notified.
	assert.Equal(t, 1, notified)

	resp, _ = run(t, m, h)
	assert.Equal(t, hal.ResponseCompleted, resp)
}

func TestMachine_DMAStream(t *testing.T) {
	m := New(manualConfig())
	defer m.Close()

	done := make(chan struct{}, 4)
	m.SetHandler(hal.EventGDDMA, func(hal.Event) { done <- struct{}{} })
	m.Enable(hal.EventGDDMA)

	h := m.SendCommand(hal.CmdDMAReadStream, &hal.StreamParams{Sector: 0, Count: 1})
	resp, _ := run(t, m, h)
	require.Equal(t, hal.ResponseStreaming, resp)

	buf := make([]byte, DefaultSectorSize)
	require.Equal(t, 0, m.DMATransfer(h, &hal.Chunk{Buf: buf}))
	assert.Equal(t, -1, m.DMATransfer(h, &hal.Chunk{Buf: buf}), "second transfer while busy")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("DMA interrupt not raised")
	}

	var left int
	assert.Equal(t, 0, m.DMACheck(h, &left))
	assert.Zero(t, left)
	assert.Equal(t, Pattern(0, 100, 0), buf[100])
}

func TestMachine_PIOTransferWrongStream(t *testing.T) {
	m := New(manualConfig())
	defer m.Close()

	h := m.SendCommand(hal.CmdDMAReadStream, &hal.StreamParams{Sector: 0, Count: 1})
	run(t, m, h)

	assert.Equal(t, -1, m.PIOTransfer(h, &hal.Chunk{Buf: make([]byte, 16)}))
	assert.Equal(t, -1, m.PIOTransfer(hal.Handle(99), &hal.Chunk{Buf: make([]byte, 16)}))
}

// =============================================================================
// Platform Tests
// =============================================================================

func TestPlatform_InterruptsMasked(t *testing.T) {
	m := New(manualConfig())
	defer m.Close()

	ran := false
	assert.Nil(t, m.SetHandler(hal.EventGDDMAOverrun, func(hal.Event) { ran = true }))
	assert.False(t, m.Raise(hal.EventGDDMAOverrun))
	assert.False(t, ran)

	m.Enable(hal.EventGDDMAOverrun)
	assert.True(t, m.Raise(hal.EventGDDMAOverrun))
	assert.True(t, ran)
	assert.Equal(t, 2, m.Raised(hal.EventGDDMAOverrun))
}

func TestPlatform_Ticker(t *testing.T) {
	m := New(manualConfig())
	defer m.Close()

	var n int
	h, err := m.AddTickHandler(func() { n++ })
	require.NoError(t, err)

	m.Tick()
	m.Tick()
	assert.Equal(t, 2, n)

	require.NoError(t, m.RemoveTickHandler(h))
	assert.ErrorIs(t, m.RemoveTickHandler(h), ErrUnknownTick)
	m.Tick()
	assert.Equal(t, 2, n)
}

func TestPlatform_TickerRuns(t *testing.T) {
	m := New(DefaultConfig())
	defer m.Close()

	ticked := make(chan struct{}, 1)
	_, err := m.AddTickHandler(func() {
		select {
		case ticked <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)

	select {
	case <-ticked:
	case <-time.After(time.Second):
		t.Fatal("ticker never ran")
	}
}

func TestPlatform_ClockStep(t *testing.T) {
	cfg := manualConfig()
	cfg.ClockStep = 5 * time.Millisecond
	m := New(cfg)
	defer m.Close()

	a := m.Milliseconds()
	b := m.Milliseconds()
	assert.Equal(t, uint64(5), b-a)

	m.Advance(time.Second)
	assert.Equal(t, uint64(1005), m.Milliseconds()-b)
}

func TestPlatform_Memory(t *testing.T) {
	cfg := manualConfig()
	cfg.ProtectionWords = 3
	m := New(cfg)
	defer m.Close()

	assert.Equal(t, hal.BootstrapStandard, m.Read16(hal.BIOSBase))
	assert.Equal(t, 3, m.CountWords(hal.DMAUnlockSysMem))

	m.Read32(hal.BIOSBase)
	m.Read32(hal.BIOSBase + 4)
	assert.Equal(t, int64(2), m.BIOSReads())

	m.Write32(hal.RegDMAProtection, hal.DMAUnlockAllMem)
	assert.Equal(t, hal.DMAUnlockAllMem, m.Register(hal.RegDMAProtection))

	m.Write32(hal.SysMemBase+8, 0xdeadbeef)
	assert.Equal(t, uint32(0xdeadbeef), m.Read32(hal.SysMemBase+8))
}

func TestPlatform_CustomBootstrap(t *testing.T) {
	cfg := manualConfig()
	cfg.CustomBootstrap = true
	m := New(cfg)
	defer m.Close()

	assert.Equal(t, hal.BootstrapCustom, m.Read16(hal.BIOSBase))
}

func TestPlatform_Cache(t *testing.T) {
	m := New(manualConfig())
	defer m.Close()

	assert.Equal(t, uintptr(0x1000), m.Physical(0x1000))
	assert.False(t, m.Uncached(0x1000))
	m.SetUncached(true)
	assert.True(t, m.Uncached(0x1000))

	m.InvalidateData(0x2000, 64)
	m.FlushInstruction(0x3000, 32)
	assert.Equal(t, []Range{{0x2000, 64}}, m.Invalidated())
	assert.Equal(t, []Range{{0x3000, 32}}, m.Flushed())
}
