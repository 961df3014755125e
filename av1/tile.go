package av1

import "fmt"

func tileLog2(blkSize, target int) int {
	k := 0
	for blkSize<<uint(k) < target {
		k++
	}
	return k
}

// parseTileInfo consumes the tile_info structure and records the tile grid
// on fh. The grid matters to the scanner: a frame split across several tile
// group OBUs is only complete once the last tile index has gone by.
func parseTileInfo(r *BitReader, seq *SequenceHeader, fh *FrameHeader) {
	sbCols := int(fh.MiCols+15) >> 4
	sbRows := int(fh.MiRows+15) >> 4
	sbShift := 4
	if seq.Use128x128Superblock {
		sbCols = int(fh.MiCols+31) >> 5
		sbRows = int(fh.MiRows+31) >> 5
		sbShift = 5
	}
	sbSize := sbShift + 2
	maxTileWidthSb := maxTileWidth >> uint(sbSize)
	maxTileAreaSb := maxTileArea >> uint(2*sbSize)
	minLog2TileCols := tileLog2(maxTileWidthSb, sbCols)
	maxLog2TileCols := tileLog2(1, minInt(sbCols, maxTileCols))
	maxLog2TileRows := tileLog2(1, minInt(sbRows, maxTileRows))
	minLog2Tiles := maxInt(minLog2TileCols, tileLog2(maxTileAreaSb, sbRows*sbCols))

	if r.ReadFlag() { // uniform_tile_spacing_flag
		colsLog2 := minLog2TileCols
		for colsLog2 < maxLog2TileCols && r.ReadFlag() {
			colsLog2++
		}
		tileWidthSb := (sbCols + (1 << uint(colsLog2)) - 1) >> uint(colsLog2)
		cols := 0
		for startSb := 0; startSb < sbCols; startSb += tileWidthSb {
			cols++
		}
		fh.TileCols = uint32(cols)
		fh.TileColsLog2 = uint32(colsLog2)

		rowsLog2 := maxInt(minLog2Tiles-colsLog2, 0)
		for rowsLog2 < maxLog2TileRows && r.ReadFlag() {
			rowsLog2++
		}
		tileHeightSb := (sbRows + (1 << uint(rowsLog2)) - 1) >> uint(rowsLog2)
		rows := 0
		for startSb := 0; startSb < sbRows; startSb += tileHeightSb {
			rows++
		}
		fh.TileRows = uint32(rows)
		fh.TileRowsLog2 = uint32(rowsLog2)
	} else {
		widestTileSb := 0
		cols := 0
		for startSb := 0; startSb < sbCols; cols++ {
			sizeSb := int(r.ReadNS(uint32(minInt(sbCols-startSb, maxTileWidthSb)))) + 1
			widestTileSb = maxInt(sizeSb, widestTileSb)
			startSb += sizeSb
		}
		fh.TileCols = uint32(cols)
		fh.TileColsLog2 = uint32(tileLog2(1, cols))

		if minLog2Tiles > 0 {
			maxTileAreaSb = (sbRows * sbCols) >> uint(minLog2Tiles+1)
		} else {
			maxTileAreaSb = sbRows * sbCols
		}
		maxTileHeightSb := maxInt(maxTileAreaSb/widestTileSb, 1)
		rows := 0
		for startSb := 0; startSb < sbRows; rows++ {
			sizeSb := int(r.ReadNS(uint32(minInt(sbRows-startSb, maxTileHeightSb)))) + 1
			startSb += sizeSb
		}
		fh.TileRows = uint32(rows)
		fh.TileRowsLog2 = uint32(tileLog2(1, rows))
	}

	if fh.TileColsLog2 > 0 || fh.TileRowsLog2 > 0 {
		r.ReadBits(int(fh.TileRowsLog2 + fh.TileColsLog2)) // context_update_tile_id
		r.ReadBits(2)                                      // tile_size_bytes_minus_1
	}
}

// ParseTileGroupHeader reads the prefix of a standalone tile group OBU and
// returns the index of the last tile it carries, relative to the frame
// header fh that opened the frame.
func ParseTileGroupHeader(payload []byte, fh *FrameHeader) (int, error) {
	r := NewBitReader(payload)
	numTiles := fh.NumTiles()
	tgEnd := numTiles - 1
	if numTiles > 1 && r.ReadFlag() {
		bits := int(fh.TileColsLog2 + fh.TileRowsLog2)
		r.ReadBits(bits) // tg_start
		tgEnd = int(r.ReadBits(bits))
	}
	if err := r.Err(); err != nil {
		return 0, fmt.Errorf("tile group header: %w", err)
	}
	return tgEnd, nil
}
