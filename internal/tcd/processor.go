package tcd

import (
	"fmt"

	"github.com/adeilla-codes/j2kcore/internal/codestream"
	"github.com/adeilla-codes/j2kcore/internal/mct"
)

// TileProcessor drives one tile through the full decode pipeline: the
// packet-header/body split of Tier-2, the parallel code-block entropy
// decode of Tier-1, the inverse wavelet transform, and finally the
// inverse multi-component transform and DC level shift. Each stage is
// its own method so a caller can drop in an alternate scheduler or skip
// stages (e.g. metadata-only reads never construct one).
type TileProcessor struct {
	header  *codestream.Header
	decoder *TileDecoder
	sched   *T1Scheduler

	tileIndex int
	tph       *codestream.TilePartHeader
	tileData  []byte

	// decodeWindow is the requested decode region in canvas coordinates;
	// all zeros means "decode everything". Set via SetDecodeWindow.
	winX0, winY0, winX1, winY1 int

	// windows holds one TileComponentWindow per component, built in init
	// once the tile's geometry is known.
	windows []*TileComponentWindow
}

// NewTileProcessor creates a processor for one tile of header, sharing
// sched across every tile of an image so worker goroutines are reused
// rather than spun up per tile.
func NewTileProcessor(header *codestream.Header, sched *T1Scheduler) *TileProcessor {
	decoder := NewTileDecoder(header)
	if sched != nil {
		decoder.SetDWTWorkers(sched.NumWorkers())
	}
	return &TileProcessor{
		header:  header,
		decoder: decoder,
		sched:   sched,
	}
}

// SetDecodeWindow restricts Decode to only the code-blocks needed to
// cover a canvas-coordinate region, per component-window coordinates
// (TileComponentWindow handles each component's own subsampling).
// Passing an empty rectangle reverts to decoding the whole tile.
func (tp *TileProcessor) SetDecodeWindow(x0, y0, x1, y1 int) {
	tp.winX0, tp.winY0, tp.winX1, tp.winY1 = x0, y0, x1, y1
}

// Decode runs every stage of the pipeline for tileIndex and returns the
// reconstructed tile. tph is the tile-part header read for this tile
// (its COD/COC/QCD/QCC overrides take precedence over the main header,
// per codestream.Header.EffectiveCodingStyle); tileData is the
// concatenated SOD payload bytes for every tile-part belonging to this
// tile, in tile-part order.
func (tp *TileProcessor) Decode(tileIndex int, tph *codestream.TilePartHeader, tileData []byte) (*Tile, error) {
	tp.prepareSodDecompress(tileIndex, tph, tileData)

	tp.init()

	if err := tp.decompressT2(); err != nil {
		return nil, fmt.Errorf("tier-2 packet decode: %w", err)
	}

	if err := tp.scheduleT1(); err != nil {
		return nil, fmt.Errorf("tier-1 entropy decode: %w", err)
	}

	tp.inverseDWT()

	return tp.decoder.Tile(), nil
}

// InverseMCTAndShift applies the inverse multi-component transform (if
// the codestream enables one) and the DC level shift to a tile's fully
// reconstructed, dequantized component data. This operates across the
// whole image's assembled component planes rather than one tile, since
// the color transform and level shift are per-sample and do not depend
// on tile boundaries; callers apply it once after every tile has been
// copied into the output buffer.
func InverseMCTAndShift(h *codestream.Header, componentData [][]int32, componentPrecision []int, componentSigned []bool) {
	if custom := resolveCustomMCT(h); custom != nil && len(componentData) >= custom.NumComponents {
		applyCustomInverseMCT(custom, componentData)
	} else if h.CodingStyle.MultipleComponentXf != 0 && len(componentData) >= 3 {
		if h.CodingStyle.IsReversible() {
			mct.InverseRCT(componentData[0], componentData[1], componentData[2])
		} else {
			compFloat := make([][]float64, 3)
			for c := 0; c < 3; c++ {
				compFloat[c] = make([]float64, len(componentData[c]))
				for i, v := range componentData[c] {
					compFloat[c][i] = float64(v)
				}
			}
			mct.InverseICT(compFloat[0], compFloat[1], compFloat[2])
			for c := 0; c < 3; c++ {
				for i, v := range compFloat[c] {
					componentData[c][i] = int32(v + 0.5)
				}
			}
		}
	}

	for c := range componentData {
		if !componentSigned[c] {
			mct.DCLevelShiftInverse(componentData[c], componentPrecision[c])
		}
	}
}

// resolveCustomMCT walks h's MCO application order looking for the first
// collection that names a decorrelation matrix, and builds the
// mct.CustomMCT it describes. Returns nil when the codestream carries no
// MCT/MCC/MCO marker segments, or none of them resolve to a usable
// decorrelation matrix (e.g. an MCC referencing a matrix array index no
// MCT segment actually declared) — callers then fall back to the built-in
// RCT/ICT path.
func resolveCustomMCT(h *codestream.Header) *mct.CustomMCT {
	for _, mco := range h.MCORecords {
		for _, collIdx := range mco.CollectionIndices {
			mcc := findMCCRecord(h.MCCRecords, collIdx)
			if mcc == nil || mcc.TransformType != codestream.MCCTransformDecorrelation {
				continue
			}
			matrixRec := findMCTRecord(h.MCTRecords, mcc.MatrixArrayIndex, codestream.MCTArrayDecorrelation)
			if matrixRec == nil {
				continue
			}
			n := len(mcc.InputComponents)
			if n == 0 || n*n != len(matrixRec.Matrix) {
				continue
			}
			var offsets []int32
			if mcc.HasOffsetArray {
				if offsetRec := findMCTRecord(h.MCTRecords, mcc.OffsetArrayIndex, codestream.MCTArrayOffset); offsetRec != nil {
					offsets = offsetRec.Offsets
				}
			}
			return mct.NewCustomMCTWithOffsets(matrixRec.Matrix, n, offsets)
		}
	}
	return nil
}

func findMCCRecord(recs []codestream.MCCRecord, index uint8) *codestream.MCCRecord {
	for i := range recs {
		if recs[i].Index == index {
			return &recs[i]
		}
	}
	return nil
}

func findMCTRecord(recs []codestream.MCTRecord, index uint8, typ codestream.MCTArrayType) *codestream.MCTRecord {
	for i := range recs {
		if recs[i].Index == index && recs[i].Type == typ {
			return &recs[i]
		}
	}
	return nil
}

// applyCustomInverseMCT replaces componentData[0:m.NumComponents] in place
// with m.Inverse applied across each sample, adding back m's per-component
// DC offset after the matrix multiply (the forward transform's offset is
// subtracted before its own matrix multiply, per MCTRecord.Offsets' doc
// comment).
func applyCustomInverseMCT(m *mct.CustomMCT, componentData [][]int32) {
	n := m.NumComponents
	if n == 0 || len(componentData[0]) == 0 {
		return
	}
	numSamples := len(componentData[0])
	transformed := make([][]int32, n)
	for r := 0; r < n; r++ {
		offset := 0.0
		if r < len(m.Offsets) {
			offset = float64(m.Offsets[r])
		}
		row := make([]int32, numSamples)
		for i := 0; i < numSamples; i++ {
			var sum float64
			for c := 0; c < n; c++ {
				sum += m.Inverse[r*n+c] * float64(componentData[c][i])
			}
			row[i] = int32(sum + offset + 0.5)
		}
		transformed[r] = row
	}
	for r := 0; r < n; r++ {
		copy(componentData[r], transformed[r])
	}
}

// prepareSodDecompress stores the raw SOD bytes and the tile-part header
// that will drive every later stage; it performs no decoding itself.
func (tp *TileProcessor) prepareSodDecompress(tileIndex int, tph *codestream.TilePartHeader, tileData []byte) {
	tp.tileIndex = tileIndex
	tp.tph = tph
	tp.tileData = tileData
	tp.decoder.SetTileHeader(tph)
}

// init allocates the tile's resolution/band/precinct/code-block tree
// from the header geometry, before any entropy-coded bytes are touched,
// and builds each component's TileComponentWindow against the requested
// decode region (the whole tile, unless SetDecodeWindow narrowed it).
func (tp *TileProcessor) init() {
	tp.decoder.InitTile(tp.tileIndex)

	tile := tp.decoder.Tile()
	if tile == nil {
		return
	}
	tp.windows = make([]*TileComponentWindow, len(tile.Components))
	for i, tc := range tile.Components {
		if tc == nil {
			continue
		}
		subX, subY := 1, 1
		if i < len(tp.header.ComponentInfo) {
			comp := tp.header.ComponentInfo[i]
			if comp.SubsamplingX > 0 {
				subX = int(comp.SubsamplingX)
			}
			if comp.SubsamplingY > 0 {
				subY = int(comp.SubsamplingY)
			}
		}
		tp.windows[i] = NewTileComponentWindow(tc,
			ceilDiv(tp.winX0, subX), ceilDiv(tp.winY0, subY),
			ceilDiv(tp.winX1, subX), ceilDiv(tp.winY1, subY))
	}
}

// precinctCovered reports whether precinct (the one precinct of
// tc.Resolutions[resIdx], per the single-precinct-per-resolution layout
// initPrecincts builds) intersects the decode window requested for
// component ci. Always true when no window was requested.
func (tp *TileProcessor) precinctCovered(ci, resIdx int, precinct *Precinct) bool {
	if ci >= len(tp.windows) || tp.windows[ci] == nil {
		return true
	}
	win := tp.windows[ci]
	if win.Empty() {
		return true
	}
	tile := tp.decoder.Tile()
	tc := tile.Components[ci]
	if resIdx >= len(tc.Resolutions) {
		return true
	}
	res := tc.Resolutions[resIdx]
	eff := tp.header.EffectiveCodingStyle(uint16(ci), tp.tph)
	numDecomps := int(eff.NumDecompositions) - res.Level
	for _, p := range win.CoveredPrecincts(res, numDecomps) {
		if p == precinct {
			return true
		}
	}
	return false
}

// decompressT2 walks every packet of the tile in progression order,
// decoding each packet's header (inclusion, zero bit-plane count, pass
// count, length) and slicing the code-block data it signals out of the
// tile's concatenated SOD bytes. When the tile-part carries a PLT packet
// length index, packets outside the requested decode window are skipped
// outright via the index's declared length rather than decoded and
// discarded; packets that are decoded have their consumed byte count
// cross-checked against the index.
func (tp *TileProcessor) decompressT2() error {
	tile := tp.decoder.Tile()
	if tile == nil {
		return fmt.Errorf("tile not initialized")
	}

	eff := tp.header.EffectiveCodingStyle(0, tp.tph)
	numComponents := len(tile.Components)
	numResolutions := eff.NumResolutions()
	numLayers := int(eff.NumLayers)
	if numLayers < 1 {
		numLayers = 1
	}

	precinctCounts := make([][][]int, numComponents)
	for c, tc := range tile.Components {
		precinctCounts[c] = make([][]int, numResolutions)
		for r := 0; r < numResolutions && r < len(tc.Resolutions); r++ {
			precinctCounts[c][r] = []int{1}
		}
	}

	order := codestream.ProgressionOrder(eff.ProgressionOrder)
	iter := NewPacketIterator(numComponents, numResolutions, numLayers, precinctCounts, order)

	sopEnabled := tp.header.CodingStyle.CodingStyle&codestream.CodingStyleSOP != 0
	ephEnabled := tp.header.CodingStyle.CodingStyle&codestream.CodingStyleEPH != 0
	if tp.tph != nil && tp.tph.CodingStyle != nil {
		sopEnabled = tp.tph.CodingStyle.CodingStyle&codestream.CodingStyleSOP != 0
		ephEnabled = tp.tph.CodingStyle.CodingStyle&codestream.CodingStyleEPH != 0
	}

	dec := NewPacketDecoder(tp.tileData)

	var plIndex *codestream.PacketLengthIndex
	if tp.tph != nil && tp.tph.PacketLengths != nil {
		plIndex = tp.tph.PacketLengths
		plIndex.Rewind()
	}

	for {
		pkt, ok := iter.Next()
		if !ok {
			break
		}

		tc := tile.Components[pkt.Component]
		if pkt.Resolution >= len(tc.Resolutions) {
			continue
		}
		res := tc.Resolutions[pkt.Resolution]
		if pkt.Precinct >= len(res.Precincts) {
			continue
		}
		precinct := res.Precincts[pkt.Precinct]

		var plLen int
		havePL := false
		if plIndex != nil {
			if l, ok := plIndex.PopNextPacketLength(); ok {
				plLen, havePL = int(l), true
			}
		}

		if havePL && !tp.precinctCovered(pkt.Component, pkt.Resolution, precinct) {
			if err := dec.SkipPacket(plLen); err != nil {
				return fmt.Errorf("packet (layer=%d res=%d comp=%d precinct=%d): %w",
					pkt.Layer, pkt.Resolution, pkt.Component, pkt.Precinct, err)
			}
			continue
		}

		if err := dec.DecodePacketChecked(precinct, pkt.Layer, sopEnabled, ephEnabled, plLen, havePL); err != nil {
			return fmt.Errorf("packet (layer=%d res=%d comp=%d precinct=%d): %w",
				pkt.Layer, pkt.Resolution, pkt.Component, pkt.Precinct, err)
		}
	}

	return nil
}

// scheduleT1 fans the tile's code-blocks out across the processor's
// T1Scheduler for entropy decode, then folds each code-block's decoded
// coefficients back into its tile-component's sample buffer so the
// inverse wavelet transform has a normal dense array to operate on.
func (tp *TileProcessor) scheduleT1() error {
	tile := tp.decoder.Tile()
	if tile == nil {
		return fmt.Errorf("tile not initialized")
	}

	sched := tp.sched
	if sched == nil {
		sched = NewT1Scheduler(1)
	}

	skip := tp.outOfWindow()
	if err := sched.RunFiltered(tile, tp.decoder.DecodeCodeBlock, skip); err != nil {
		return err
	}

	for _, tc := range tile.Components {
		q := tp.header.EffectiveQuantization(uint16(tc.Index), tp.tph)
		eff := tp.header.EffectiveCodingStyle(uint16(tc.Index), tp.tph)
		reversible := eff.IsReversible()
		assembleComponentData(tc, q.Style() == codestream.QuantizationNone || reversible)
	}

	return nil
}

// outOfWindow builds a RunFiltered skip predicate from tp.windows: a
// code-block is skipped when its band is entirely outside the decode
// window requested for its component, computed per resolution via
// TileComponentWindow.BandWindow. Returns nil (decode everything) when
// every component's window is the full tile-component.
func (tp *TileProcessor) outOfWindow() func(cb *CodeBlock) bool {
	tile := tp.decoder.Tile()
	if tile == nil || tp.windows == nil {
		return nil
	}

	allFull := true
	for _, w := range tp.windows {
		if w != nil && !w.Empty() {
			allFull = false
			break
		}
	}
	if allFull {
		return nil
	}

	inWindow := make(map[*CodeBlock]bool)
	for ci, tc := range tile.Components {
		if tc == nil || ci >= len(tp.windows) || tp.windows[ci] == nil {
			continue
		}
		win := tp.windows[ci]
		eff := tp.header.EffectiveCodingStyle(uint16(ci), tp.tph)
		for _, res := range tc.Resolutions {
			if res == nil {
				continue
			}
			numDecomps := int(eff.NumDecompositions) - res.Level
			bx0, by0, bx1, by1 := win.BandWindow(res, numDecomps)
			for _, band := range res.Bands {
				for _, cb := range band.CodeBlocks {
					if cb == nil {
						continue
					}
					if cb.X1 > bx0 && cb.Y1 > by0 && cb.X0 < bx1 && cb.Y0 < by1 {
						inWindow[cb] = true
					}
				}
			}
		}
	}

	return func(cb *CodeBlock) bool {
		return !inWindow[cb]
	}
}

// inverseDWT applies the inverse wavelet transform to every component of
// the tile now that its sample buffers hold dequantized coefficients.
func (tp *TileProcessor) inverseDWT() {
	tile := tp.decoder.Tile()
	if tile == nil {
		return
	}
	for _, tc := range tile.Components {
		if tc == nil {
			continue
		}
		tp.decoder.ApplyInverseDWT(tc)
	}
}

// assembleComponentData copies each band's decoded coefficients into the
// tile-component's flat sample buffer at the band's absolute position,
// dequantizing irreversible (9-7) subbands by their resolved step size
// as it goes. exact is true for the reversible 5-3 transform, whose
// integer coefficients need no dequantization.
func assembleComponentData(tc *TileComponent, exact bool) {
	width := tc.X1 - tc.X0
	for _, res := range tc.Resolutions {
		if res == nil {
			continue
		}
		for _, band := range res.Bands {
			for _, cb := range band.CodeBlocks {
				if cb == nil || len(cb.Coefficients) == 0 {
					continue
				}
				cbw := cb.X1 - cb.X0
				for y := cb.Y0; y < cb.Y1; y++ {
					for x := cb.X0; x < cb.X1; x++ {
						srcIdx := (y-cb.Y0)*cbw + (x - cb.X0)
						if srcIdx >= len(cb.Coefficients) {
							continue
						}
						dstIdx := (y-tc.Y0)*width + (x - tc.X0)
						if dstIdx < 0 || dstIdx >= len(tc.Data) {
							continue
						}
						v := cb.Coefficients[srcIdx]
						if !exact {
							v = int32(float64(v) * band.StepSize)
						}
						tc.Data[dstIdx] = v
					}
				}
			}
		}
	}
}
