package partition

import (
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/ostafen/bbupdate/internal/block"
	"github.com/ostafen/bbupdate/internal/env"
	"github.com/ostafen/bbupdate/pkg/dfxml"
)

// TypeString returns the partition type as shown to users: the type GUID
// for GPT entries, the hex type byte otherwise.
func (p *Partition) TypeString() string {
	if p.TypeUUID != uuid.Nil {
		return p.TypeUUID.String()
	}
	return fmt.Sprintf("0x%02x", uint8(p.DOSType))
}

// WriteReport writes the layout of t as a DFXML document.
func (t *Table) WriteReport(w io.Writer) error {
	dw := dfxml.NewDFXMLWriter(w)

	src := dfxml.Source{
		ImageFilename:  t.Blk.Name(),
		SectorSize:     block.SectorSize,
		ImageSize:      t.Blk.NumBlocks() << block.SectorShift,
		PartitionTable: t.Parser.Name(),
		DiskUUID:       t.DiskUUID,
	}
	if err := dw.WriteHeader(dfxml.NewHeader(env.AppName, env.Version, src)); err != nil {
		return err
	}

	for _, p := range t.Parts {
		obj := dfxml.PartitionObject{
			Index:    p.Num,
			Name:     p.Name,
			PartUUID: p.PartUUID,
			Type:     p.TypeString(),
			Flags:    p.Flags.String(),
			ByteRuns: dfxml.ByteRuns{Runs: []dfxml.ByteRun{{
				ImgOffset: p.FirstSec << block.SectorShift,
				Length:    p.Size << block.SectorShift,
			}}},
		}
		if err := dw.WritePartition(obj); err != nil {
			return fmt.Errorf("report partition %d: %w", p.Num, err)
		}
	}
	return dw.Close()
}
