package hal

// MaxTracks is the number of track entries in a TOC.
const MaxTracks = 99

// TOC is the table of contents as returned by CmdGetTOC2. Each word packs
// control, ADR, track and LBA fields.
type TOC struct {
	Entry   [MaxTracks]uint32
	First   uint32
	Last    uint32
	LeadOut uint32
}

// TOCEntry builds a packed TOC word.
func TOCEntry(ctrl, adr uint8, lba uint32) uint32 {
	return uint32(ctrl&0x0f)<<28 | uint32(adr&0x0f)<<24 | lba&0x00ffffff
}

// TOCTrackWord builds a packed first/last word holding a track number.
func TOCTrackWord(ctrl, adr uint8, track uint8) uint32 {
	return uint32(ctrl&0x0f)<<28 | uint32(adr&0x0f)<<24 | uint32(track)<<16
}

// TOCLBA extracts the LBA from a packed TOC word.
func TOCLBA(w uint32) uint32 {
	return w & 0x00ffffff
}

// TOCAdr extracts the ADR field.
func TOCAdr(w uint32) uint8 {
	return uint8((w & 0x0f000000) >> 24)
}

// TOCCtrl extracts the control nibble.
func TOCCtrl(w uint32) uint8 {
	return uint8((w & 0xf0000000) >> 28)
}

// TOCTrack extracts the track number.
func TOCTrack(w uint32) uint8 {
	return uint8((w & 0x00ff0000) >> 16)
}

// Control nibble values.
const (
	CtrlAudio = 0 // Audio track
	CtrlData  = 4 // Data track
)

// FirstTrack returns the first track number.
func (t *TOC) FirstTrack() int {
	return int(TOCTrack(t.First))
}

// LastTrack returns the last track number.
func (t *TOC) LastTrack() int {
	return int(TOCTrack(t.Last))
}

// Track returns the packed entry for track n (1-indexed). Out-of-range
// tracks return false.
func (t *TOC) Track(n int) (uint32, bool) {
	if n < 1 || n > MaxTracks {
		return 0, false
	}
	return t.Entry[n-1], true
}
