package pipeline

import (
	"github.com/kdsys/isoimage/writer"
)

// identity builds the VolumeIdentity shared by the PVD, Joliet SVD, and
// ISO 9660:1999 EVD from Options, grounded on the teacher's
// createPrimaryVolumeDescriptor field population (iso9660/descriptors.go).
func (im *Image) identity() writer.VolumeIdentity {
	o := im.Opts
	return writer.VolumeIdentity{
		SystemIdentifier:            o.SystemIdentifier,
		VolumeIdentifier:            o.VolumeIdentifier,
		PublisherIdentifier:         o.PublisherIdentifier,
		DataPreparerIdentifier:      o.DataPreparerIdentifier,
		ApplicationIdentifier:       o.ApplicationIdentifier,
		CopyrightFileIdentifier:     o.CopyrightFileIdentifier,
		AbstractFileIdentifier:      o.AbstractFileIdentifier,
		BibliographicFileIdentifier: o.BibliographicFileIdentifier,
	}
}

func (im *Image) times() writer.VolumeTimes {
	pt := im.Opts.PVDTimes
	if pt == nil {
		return writer.VolumeTimes{
			Creation:     im.buildTime,
			Modification: im.buildTime,
			Expiration:   im.buildTime,
			Effective:    im.buildTime,
		}
	}
	return writer.VolumeTimes{
		Creation:     resolveTime(pt.Creation, im.buildTime),
		Modification: resolveTime(pt.Modification, im.buildTime),
		Expiration:   resolveTime(pt.Expiration, im.buildTime),
		Effective:    resolveTime(pt.Effective, im.buildTime),
	}
}

// renderPVD is the ECMA-119 primary volume descriptor's Render closure
// (writer.VolDescWriter), called after every writer's ComputeDataBlocks has
// run so it may reference the ECMA-119 tree's final root record and path
// table addresses.
func (im *Image) renderPVD() []byte {
	lPrimary, lBackup, mPrimary, mBackup := im.ecmaTW.PathTableLBAs()
	return writer.PrimaryVolumeDescriptor(writer.VolumeDescriptorParams{
		Identity:      im.identity(),
		Times:         im.times(),
		TotalSectors:  im.totalBlocks,
		PathTableSize: uint32(im.ecmaTW.PathTableSize()),
		PTLBAPrimaryL: lPrimary, PTLBABackupL: lBackup,
		PTLBAPrimaryM: mPrimary, PTLBABackupM: mBackup,
		RootDR: im.ecmaTW.RootDR(),
	})
}

// renderJolietSVD is the Joliet supplementary volume descriptor's Render
// closure.
func (im *Image) renderJolietSVD() []byte {
	lPrimary, lBackup, mPrimary, mBackup := im.jolietTW.PathTableLBAs()
	return writer.JolietSVD(writer.VolumeDescriptorParams{
		Identity:      im.identity(),
		Times:         im.times(),
		TotalSectors:  im.totalBlocks,
		PathTableSize: uint32(im.jolietTW.PathTableSize()),
		PTLBAPrimaryL: lPrimary, PTLBABackupL: lBackup,
		PTLBAPrimaryM: mPrimary, PTLBABackupM: mBackup,
		RootDR:         im.jolietTW.RootDR(),
		EscapeSequence: jolietEscapeLevel3[:],
	})
}

// renderISO1999EVD is the ISO 9660:1999 enhanced volume descriptor's
// Render closure.
func (im *Image) renderISO1999EVD() []byte {
	lPrimary, lBackup, mPrimary, mBackup := im.iso1999TW.PathTableLBAs()
	return writer.ISO1999EVD(writer.VolumeDescriptorParams{
		Identity:      im.identity(),
		Times:         im.times(),
		TotalSectors:  im.totalBlocks,
		PathTableSize: uint32(im.iso1999TW.PathTableSize()),
		PTLBAPrimaryL: lPrimary, PTLBABackupL: lBackup,
		PTLBAPrimaryM: mPrimary, PTLBABackupM: mBackup,
		RootDR: im.iso1999TW.RootDR(),
	})
}
