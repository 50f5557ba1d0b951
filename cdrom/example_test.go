package cdrom_test

import (
	"context"
	"fmt"

	"github.com/ardnew/softgdrom/cdrom"
	"github.com/ardnew/softgdrom/cdrom/hal/sim"
)

func ExampleDrive_ReadSectors() {
	m := sim.New(sim.DefaultConfig())
	defer m.Close()

	d := cdrom.New(m.Platform(), cdrom.Options{SkipReactivation: true})
	ctx := context.Background()
	if err := d.Init(ctx); err != nil {
		fmt.Println(err)
		return
	}
	defer d.Shutdown()

	toc, err := d.ReadTOC(ctx, 0)
	if err != nil {
		fmt.Println(err)
		return
	}
	lba := int(cdrom.LocateDataTrack(toc))

	buf := cdrom.NewBuffer(2 * d.SectorSize())
	err = d.ReadSectors(ctx, buf, lba, 2, cdrom.ModeDMAIRQ)
	fmt.Println(lba, err, buf[0] == sim.Pattern(lba, 0, 0))
	// Output: 1024 <nil> true
}

func ExampleDrive_StreamRequest() {
	m := sim.New(sim.DefaultConfig())
	defer m.Close()

	d := cdrom.New(m.Platform(), cdrom.Options{SkipReactivation: true})
	ctx := context.Background()
	if err := d.Init(ctx); err != nil {
		fmt.Println(err)
		return
	}
	defer d.Shutdown()

	chunks := 0
	d.SetStreamCallback(func(context.Context) { chunks++ })

	if err := d.StreamStart(ctx, 0, 3, cdrom.ModePIO); err != nil {
		fmt.Println(err)
		return
	}
	buf := cdrom.NewBuffer(d.SectorSize())
	for i := 0; i < 3; i++ {
		if err := d.StreamRequest(ctx, buf, true); err != nil {
			fmt.Println(err)
			return
		}
	}
	fmt.Println(chunks, d.StreamStop(ctx, false))
	// Output: 3 <nil>
}
