package cdrom

import (
	"context"

	"github.com/ardnew/softgdrom/cdrom/hal"
)

// ReadTOC reads the table of contents of the given session.
func (d *Drive) ReadTOC(ctx context.Context, session int) (*hal.TOC, error) {
	toc := new(hal.TOC)
	if err := d.Exec(ctx, hal.CmdGetTOC2, &hal.TOCParams{Session: session, TOC: toc}); err != nil {
		return nil, err
	}
	return toc, nil
}

// LocateDataTrack returns the LBA of the last data track in toc, or zero if
// there is none or the track range is invalid.
func LocateDataTrack(toc *hal.TOC) uint32 {
	if toc == nil {
		return 0
	}
	first, last := toc.FirstTrack(), toc.LastTrack()
	if first < 1 || last > hal.MaxTracks || first > last {
		return 0
	}

	for i := last; i >= first; i-- {
		if w, _ := toc.Track(i); hal.TOCCtrl(w) == hal.CtrlData {
			return hal.TOCLBA(w)
		}
	}
	return 0
}
