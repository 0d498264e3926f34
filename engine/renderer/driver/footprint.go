package driver

import (
	bmath "github.com/spaghettifunk/benzin/engine/math"
)

// SubresourceFootprint is the layout of one subresource inside a buffer.
type SubresourceFootprint struct {
	Format   Format
	Width    uint32
	Height   uint32
	Depth    uint32
	RowPitch uint32
}

// PlacedFootprint is a footprint at a byte offset into a buffer.
type PlacedFootprint struct {
	Offset    uint64
	Footprint SubresourceFootprint
}

// Footprints is the result of a copyable footprint query.
type Footprints struct {
	Layouts []PlacedFootprint
	// NumRows is the number of rows of each subresource.
	NumRows []uint32
	// RowSizeInBytes is the unpadded size of one row of each subresource.
	RowSizeInBytes []uint64
	// TotalBytes is the buffer size needed for every subresource, measured
	// from the base offset.
	TotalBytes uint64
}

// ComputeFootprints lays subresources out back to back with each row padded
// to limits.TexturePitchAlignment and each subresource placed at a multiple
// of limits.TexturePlacementAlignment. Buffers yield a single footprint
// covering Width bytes.
func ComputeFootprints(limits Limits, desc ResourceDesc, first, num uint32, baseOffset uint64) Footprints {
	var fp Footprints
	fp.Layouts = make([]PlacedFootprint, num)
	fp.NumRows = make([]uint32, num)
	fp.RowSizeInBytes = make([]uint64, num)

	if desc.Dimension == DimensionBuffer {
		if num > 0 {
			fp.Layouts[0] = PlacedFootprint{
				Offset: baseOffset,
				Footprint: SubresourceFootprint{
					Format:   FormatUnknown,
					Width:    uint32(desc.Width),
					Height:   1,
					Depth:    1,
					RowPitch: uint32(bmath.AlignUp(desc.Width, limits.TexturePitchAlignment)),
				},
			}
			fp.NumRows[0] = 1
			fp.RowSizeInBytes[0] = desc.Width
			fp.TotalBytes = desc.Width
		}
		return fp
	}

	mips := uint32(desc.MipLevels)
	if mips == 0 {
		mips = 1
	}
	bpp := uint64(desc.Format.BytesPerPixel())
	offset := baseOffset
	var end uint64
	for i := uint32(0); i < num; i++ {
		sub := first + i
		mip := sub % mips
		w := bmath.MipExtent(uint32(desc.Width), mip)
		h := bmath.MipExtent(desc.Height, mip)
		rowSize := uint64(w) * bpp
		pitch := bmath.AlignUp(rowSize, limits.TexturePitchAlignment)

		offset = bmath.AlignUp(offset, limits.TexturePlacementAlignment)
		fp.Layouts[i] = PlacedFootprint{
			Offset: offset,
			Footprint: SubresourceFootprint{
				Format:   desc.Format,
				Width:    w,
				Height:   h,
				Depth:    1,
				RowPitch: uint32(pitch),
			},
		}
		fp.NumRows[i] = h
		fp.RowSizeInBytes[i] = rowSize
		// the last row is not padded
		end = offset + pitch*uint64(h-1) + rowSize
		offset += pitch * uint64(h)
	}
	if num > 0 {
		fp.TotalBytes = end - baseOffset
	}
	return fp
}
