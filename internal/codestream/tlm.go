package codestream

import "fmt"

// TileLengthIndex wraps the tile-part lengths recovered from TLM marker
// segments (Header.TileLengths) with the consistency checks and
// random-access helpers T2 needs when it wants to jump straight to a
// tile's data without scanning every SOT in between.
//
// The wire-format decode itself (ST/SP bit layout, implicit vs explicit
// tile index, 2- or 4-byte lengths) happens in parser.go's readTLM, which
// already gets it right; TileLengthIndex only adds the validation and
// lookup spec.md §4.4 asks for on top of the decoded []TileLength slice.
type TileLengthIndex struct {
	entries []TileLength
}

// NewTileLengthIndex wraps the tile lengths decoded from one or more TLM
// marker segments, in declaration order.
func NewTileLengthIndex(entries []TileLength) *TileLengthIndex {
	return &TileLengthIndex{entries: entries}
}

// Validate checks the index against the tile count derived from the SIZ
// marker. A TLM index that names a tile-part for a tile index outside
// [0, numTiles), or that fails to cover every tile in that range at least
// once, is rejected rather than silently truncated or treated as partial
// coverage: per spec's testable property 8, the entries' distinct tile
// indices must form exactly [0, numTiles), not merely stay inside it — an
// index naming only tiles {0, 2} out of 3 is just as invalid as one naming
// a tile 5 that doesn't exist.
func (t *TileLengthIndex) Validate(numTiles int) error {
	if t == nil {
		return nil
	}
	seen := make([]bool, numTiles)
	for i, e := range t.entries {
		if int(e.TileIndex) >= numTiles {
			return NewError(KindInconsistentParameters, -1, fmt.Errorf(
				"%w: TLM entry %d names tile %d, but codestream has %d tiles",
				ErrInconsistentParameters, i, e.TileIndex, numTiles))
		}
		seen[e.TileIndex] = true
	}
	for tileIndex, ok := range seen {
		if !ok {
			return NewError(KindInconsistentParameters, -1, fmt.Errorf(
				"%w: TLM index never names tile %d out of %d",
				ErrInconsistentParameters, tileIndex, numTiles))
		}
	}
	return nil
}

// SkipTo returns the byte length to advance past every tile-part
// belonging to tiles before tileIndex, letting a reader seek straight to
// a tile's first tile-part without visiting the intervening ones. It
// assumes entries are in codestream order, which the standard requires.
func (t *TileLengthIndex) SkipTo(tileIndex uint16) uint64 {
	if t == nil {
		return 0
	}
	var total uint64
	for _, e := range t.entries {
		if e.TileIndex >= tileIndex {
			break
		}
		total += uint64(e.Length)
	}
	return total
}

// LengthsForTile returns the tile-part lengths belonging to a single
// tile, in tile-part order.
func (t *TileLengthIndex) LengthsForTile(tileIndex uint16) []uint32 {
	if t == nil {
		return nil
	}
	var out []uint32
	for _, e := range t.entries {
		if e.TileIndex == tileIndex {
			out = append(out, e.Length)
		}
	}
	return out
}

// Len returns the total number of tile-part entries in the index.
func (t *TileLengthIndex) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}
