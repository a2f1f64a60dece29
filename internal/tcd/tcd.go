// Package tcd implements the Tile Coder/Decoder for JPEG 2000.
//
// The TCD orchestrates the encoding and decoding of individual tiles,
// including:
// - Wavelet transform (DWT)
// - Quantization
// - Code-block entropy coding (T1)
// - Packet assembly (T2)
package tcd

import (
	"github.com/adeilla-codes/j2kcore/internal/bio"
	"github.com/adeilla-codes/j2kcore/internal/codestream"
	"github.com/adeilla-codes/j2kcore/internal/dwt"
	"github.com/adeilla-codes/j2kcore/internal/entropy"
)

// Tile represents a single tile in the image.
type Tile struct {
	// Tile index
	Index int

	// Tile bounds in image coordinates
	X0, Y0, X1, Y1 int

	// Components
	Components []*TileComponent
}

// TileComponent represents a single component within a tile.
type TileComponent struct {
	// Component index
	Index int

	// Component bounds (may differ due to subsampling)
	X0, Y0, X1, Y1 int

	// Resolution levels
	Resolutions []*Resolution

	// Coefficient data
	Data []int32

	// Floating point data for 9-7 transform
	DataFloat []float64
}

// Resolution represents a resolution level within a tile-component.
type Resolution struct {
	// Resolution level (0 = finest)
	Level int

	// Bounds at this resolution
	X0, Y0, X1, Y1 int

	// Number of bands (1 for LL, 3 for others)
	NumBands int

	// Bands at this resolution
	Bands []*Band

	// Precincts
	Precincts []*Precinct

	// Precinct grid dimensions
	PrecinctsX, PrecinctsY int
}

// Band represents a subband within a resolution level.
type Band struct {
	// Band type (LL, HL, LH, HH)
	Type int

	// Band bounds
	X0, Y0, X1, Y1 int

	// Quantization step size
	StepSize float64

	// Code-blocks
	CodeBlocks []*CodeBlock

	// Code-block grid dimensions
	CodeBlocksX, CodeBlocksY int
}

// Precinct represents a precinct for packet organization.
type Precinct struct {
	// Precinct index
	Index int

	// Bounds
	X0, Y0, X1, Y1 int

	// Code-blocks in this precinct, per band
	CodeBlocks [][]*CodeBlock

	// Tag trees for inclusion and IMSB
	InclusionTree *TagTree
	IMSBTree      *TagTree
}

// CodeBlock represents a code-block for entropy coding.
type CodeBlock struct {
	// Code-block index
	Index int

	// Bounds
	X0, Y0, X1, Y1 int

	// Encoded data
	Data []byte

	// Coding passes
	Passes []CodingPass

	// Number of zero bit-planes
	ZeroBitPlanes int

	// Total number of bit-planes
	TotalBitPlanes int

	// Included in previous layers
	IncludedInLayers int

	// Decoded coefficient data
	Coefficients []int32
}

// CodingPass represents a single coding pass.
type CodingPass struct {
	// Pass type (significance, refinement, cleanup)
	Type int

	// Length in bytes
	Length int

	// Cumulative length
	CumulativeLength int

	// Rate-distortion slope
	Slope float64

	// Terminated flag
	Terminated bool
}

// Pass type constants.
const (
	PassSignificance = iota
	PassRefinement
	PassCleanup
)

// TagTree implements the quad-tree ("tag tree") used by packet headers
// to signal code-block inclusion and zero bit-plane counts (Annex B.10
// of the standard). Each level halves the dimensions of the level below
// it; a node's value is the minimum of its children's values, so once an
// ancestor has been resolved during decode, descendants inherit its
// value as a floor and only the remaining distance needs signaling.
type TagTree struct {
	width  int
	height int
	levels int
	nodes  [][]tagNode

	// levelWidths[level]/levelHeights[level] are the node-grid
	// dimensions at that level; level 0 is the leaves.
	levelWidths  []int
	levelHeights []int
}

type tagNode struct {
	value int
	low   int
	known bool
}

// maxTagValue is used to seed node values before Recompute has run.
const maxTagValue = int(^uint(0) >> 1)

// NewTagTree creates a new tag tree.
func NewTagTree(width, height int) *TagTree {
	t := &TagTree{
		width:  width,
		height: height,
	}

	// Calculate number of levels
	w, h := width, height
	for w > 1 || h > 1 {
		t.levels++
		w = (w + 1) / 2
		h = (h + 1) / 2
	}
	t.levels++

	// Allocate nodes
	t.nodes = make([][]tagNode, t.levels)
	t.levelWidths = make([]int, t.levels)
	t.levelHeights = make([]int, t.levels)
	w, h = width, height
	for level := 0; level < t.levels; level++ {
		t.nodes[level] = make([]tagNode, w*h)
		for i := range t.nodes[level] {
			t.nodes[level][i].value = maxTagValue
		}
		t.levelWidths[level] = w
		t.levelHeights[level] = h
		w = (w + 1) / 2
		h = (h + 1) / 2
	}

	return t
}

// SetValue sets the value at a leaf node. Callers encoding a tag tree
// must set every leaf before calling Recompute.
func (t *TagTree) SetValue(x, y, value int) {
	t.nodes[0][y*t.width+x].value = value
}

// Recompute propagates each internal node's value to the minimum of its
// children's values, bottom-up from the leaves. Call this once after
// setting every leaf and before Encode-ing any of them.
func (t *TagTree) Recompute() {
	for level := 1; level < t.levels; level++ {
		w := t.levelWidths[level]
		h := t.levelHeights[level]
		pw := t.levelWidths[level-1]
		ph := t.levelHeights[level-1]
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				min := maxTagValue
				for dy := 0; dy < 2; dy++ {
					cy := y*2 + dy
					if cy >= ph {
						continue
					}
					for dx := 0; dx < 2; dx++ {
						cx := x*2 + dx
						if cx >= pw {
							continue
						}
						if v := t.nodes[level-1][cy*pw+cx].value; v < min {
							min = v
						}
					}
				}
				t.nodes[level][y*w+x].value = min
			}
		}
	}
}

// Reset resets the tree for a new encoding/decoding session.
func (t *TagTree) Reset() {
	for level := range t.nodes {
		for i := range t.nodes[level] {
			t.nodes[level][i].low = 0
			t.nodes[level][i].known = false
		}
	}
}

// pathToRoot returns, for leaf (x, y), the node index at each level from
// 0 (the leaf) up to levels-1 (the root).
func (t *TagTree) pathToRoot(x, y int) []int {
	path := make([]int, t.levels)
	cx, cy := x, y
	for level := 0; level < t.levels; level++ {
		path[level] = cy*t.levelWidths[level] + cx
		cx /= 2
		cy /= 2
	}
	return path
}

// Decode walks the tag tree for leaf (x, y) from the root down to the
// leaf, reading exactly the bits a conforming encoder emitted. Node
// state (low/known) persists across calls on the same tree, so queries
// against an ancestor already resolved by an earlier call reuse that
// result instead of re-reading bits.
func (t *TagTree) Decode(x, y int, r *bio.ByteStuffingReader) (int, error) {
	path := t.pathToRoot(x, y)

	low := 0
	for level := t.levels - 1; level >= 0; level-- {
		node := &t.nodes[level][path[level]]
		if node.low < low {
			node.low = low
		}
		for !node.known {
			bit, err := r.ReadBit()
			if err != nil {
				return 0, err
			}
			if bit == 1 {
				node.known = true
			} else {
				node.low++
			}
		}
		low = node.low
	}
	return low, nil
}

// Encode walks the tag tree for leaf (x, y) from the root down to the
// leaf, writing the bits needed to signal each unresolved ancestor's
// true value (set via SetValue/Recompute) relative to the floor
// inherited from its parent.
func (t *TagTree) Encode(x, y int, w *bio.ByteStuffingWriter) error {
	path := t.pathToRoot(x, y)

	low := 0
	for level := t.levels - 1; level >= 0; level-- {
		node := &t.nodes[level][path[level]]
		if node.low < low {
			node.low = low
		}
		for !node.known && node.low < node.value {
			if err := w.WriteBit(0); err != nil {
				return err
			}
			node.low++
		}
		if !node.known {
			if err := w.WriteBit(1); err != nil {
				return err
			}
			node.known = true
		}
		low = node.low
	}
	return nil
}

// TileDecoder decodes a single tile.
type TileDecoder struct {
	header     *codestream.Header
	tileHeader *codestream.TilePartHeader
	tile       *Tile
	htj2k      bool // True if using High-Throughput mode
	dwtWorkers int  // goroutines per DWT level pass; <=1 runs serially
}

// NewTileDecoder creates a new tile decoder.
func NewTileDecoder(header *codestream.Header) *TileDecoder {
	return &TileDecoder{
		header: header,
		htj2k:  header.IsHTJ2K(),
	}
}

// SetHTJ2K sets whether this decoder uses High-Throughput mode.
func (d *TileDecoder) SetHTJ2K(htj2k bool) {
	d.htj2k = htj2k
}

// SetDWTWorkers sets how many goroutines the inverse wavelet transform
// splits each level's row pass and column pass across. 0 or 1 runs the
// transform on the calling goroutine.
func (d *TileDecoder) SetDWTWorkers(workers int) {
	d.dwtWorkers = workers
}

// SetTileHeader attaches the tile-part header whose COD/COC/QCD/QCC
// overrides should take precedence over the main header for this tile,
// per the scoping rule in codestream.Header.EffectiveCodingStyle.
func (d *TileDecoder) SetTileHeader(tph *codestream.TilePartHeader) {
	d.tileHeader = tph
}

// Tile returns the current tile being decoded.
func (d *TileDecoder) Tile() *Tile {
	return d.tile
}

// InitTile initializes a tile for decoding.
func (d *TileDecoder) InitTile(tileIndex int) {
	h := d.header

	// Calculate tile bounds
	tileX := tileIndex % int(h.NumTilesX)
	tileY := tileIndex / int(h.NumTilesX)

	x0 := max(int(h.TileXOffset)+tileX*int(h.TileWidth), int(h.ImageXOffset))
	y0 := max(int(h.TileYOffset)+tileY*int(h.TileHeight), int(h.ImageYOffset))
	x1 := min(int(h.TileXOffset)+(tileX+1)*int(h.TileWidth), int(h.ImageWidth))
	y1 := min(int(h.TileYOffset)+(tileY+1)*int(h.TileHeight), int(h.ImageHeight))

	d.tile = &Tile{
		Index:      tileIndex,
		X0:         x0,
		Y0:         y0,
		X1:         x1,
		Y1:         y1,
		Components: make([]*TileComponent, h.NumComponents),
	}

	// Initialize components
	for c := 0; c < int(h.NumComponents); c++ {
		comp := h.ComponentInfo[c]

		// Apply subsampling
		cx0 := ceilDiv(x0, int(comp.SubsamplingX))
		cy0 := ceilDiv(y0, int(comp.SubsamplingY))
		cx1 := ceilDiv(x1, int(comp.SubsamplingX))
		cy1 := ceilDiv(y1, int(comp.SubsamplingY))

		tc := &TileComponent{
			Index: c,
			X0:    cx0,
			Y0:    cy0,
			X1:    cx1,
			Y1:    cy1,
		}

		// Allocate data
		width := cx1 - cx0
		height := cy1 - cy0
		tc.Data = make([]int32, width*height)

		// Initialize resolutions
		eff := h.EffectiveCodingStyle(uint16(c), d.tileHeader)
		numRes := int(eff.NumDecompositions) + 1
		tc.Resolutions = make([]*Resolution, numRes)

		for r := 0; r < numRes; r++ {
			d.initResolution(tc, r)
		}

		d.tile.Components[c] = tc
	}
}

// initResolution initializes a resolution level.
func (d *TileDecoder) initResolution(tc *TileComponent, resLevel int) {
	h := d.header.EffectiveCodingStyle(uint16(tc.Index), d.tileHeader)

	// Calculate resolution bounds
	scale := 1 << (int(h.NumDecompositions) - resLevel)
	rx0 := ceilDiv(tc.X0, scale)
	ry0 := ceilDiv(tc.Y0, scale)
	rx1 := ceilDiv(tc.X1, scale)
	ry1 := ceilDiv(tc.Y1, scale)

	res := &Resolution{
		Level: resLevel,
		X0:    rx0,
		Y0:    ry0,
		X1:    rx1,
		Y1:    ry1,
	}

	// Initialize bands
	if resLevel == 0 {
		res.NumBands = 1
		res.Bands = []*Band{d.initBand(res, entropy.BandLL, tc.Index)}
	} else {
		res.NumBands = 3
		res.Bands = []*Band{
			d.initBand(res, entropy.BandHL, tc.Index),
			d.initBand(res, entropy.BandLH, tc.Index),
			d.initBand(res, entropy.BandHH, tc.Index),
		}
	}

	d.initPrecincts(res)

	tc.Resolutions[resLevel] = res
}

// initPrecincts groups a resolution's code-blocks into precincts.
//
// Without explicit PRCW/PRCH precinct sizes (COD/COC style bit 0 unset,
// the overwhelmingly common case), the standard's default precinct size
// is 2^15 in each dimension -- larger than any realistic resolution
// extent -- which collapses to exactly one precinct per resolution
// level. That is the only layout built here; explicit sub-tile precinct
// partitioning is not implemented.
func (d *TileDecoder) initPrecincts(res *Resolution) {
	res.PrecinctsX = 1
	res.PrecinctsY = 1

	gridW, gridH := 0, 0
	for _, band := range res.Bands {
		if band.CodeBlocksX > gridW {
			gridW = band.CodeBlocksX
		}
		if band.CodeBlocksY > gridH {
			gridH = band.CodeBlocksY
		}
	}
	if gridW == 0 {
		gridW = 1
	}
	if gridH == 0 {
		gridH = 1
	}

	precinct := &Precinct{
		Index:         0,
		X0:            res.X0,
		Y0:            res.Y0,
		X1:            res.X1,
		Y1:            res.Y1,
		CodeBlocks:    make([][]*CodeBlock, len(res.Bands)),
		InclusionTree: NewTagTree(gridW, gridH),
		IMSBTree:      NewTagTree(gridW, gridH),
	}
	for i, band := range res.Bands {
		precinct.CodeBlocks[i] = band.CodeBlocks
	}

	res.Precincts = []*Precinct{precinct}
}

// initBand initializes a band.
func (d *TileDecoder) initBand(res *Resolution, bandType int, component int) *Band {
	h := d.header.EffectiveCodingStyle(uint16(component), d.tileHeader)
	q := d.header.EffectiveQuantization(uint16(component), d.tileHeader)

	band := &Band{
		Type:     bandType,
		StepSize: bandStepSize(q, res.Level, bandType),
	}

	// Calculate band bounds based on type
	switch bandType {
	case entropy.BandLL:
		band.X0 = res.X0
		band.Y0 = res.Y0
		band.X1 = res.X1
		band.Y1 = res.Y1
	case entropy.BandHL:
		band.X0 = res.X0
		band.Y0 = res.Y0
		band.X1 = res.X1
		band.Y1 = (res.Y0 + res.Y1) / 2
	case entropy.BandLH:
		band.X0 = res.X0
		band.Y0 = res.Y0
		band.X1 = (res.X0 + res.X1) / 2
		band.Y1 = res.Y1
	case entropy.BandHH:
		band.X0 = (res.X0 + res.X1) / 2
		band.Y0 = (res.Y0 + res.Y1) / 2
		band.X1 = res.X1
		band.Y1 = res.Y1
	}

	// Calculate code-block grid
	cbWidth := 1 << (h.CodeBlockWidthExp + 2)
	cbHeight := 1 << (h.CodeBlockHeightExp + 2)

	band.CodeBlocksX = ceilDiv(band.X1-band.X0, cbWidth)
	band.CodeBlocksY = ceilDiv(band.Y1-band.Y0, cbHeight)

	// Initialize code-blocks
	numCB := band.CodeBlocksX * band.CodeBlocksY
	band.CodeBlocks = make([]*CodeBlock, numCB)

	for i := 0; i < numCB; i++ {
		cbX := i % band.CodeBlocksX
		cbY := i / band.CodeBlocksX

		cb := &CodeBlock{
			Index: i,
			X0:    band.X0 + cbX*cbWidth,
			Y0:    band.Y0 + cbY*cbHeight,
			X1:    min(band.X0+(cbX+1)*cbWidth, band.X1),
			Y1:    min(band.Y0+(cbY+1)*cbHeight, band.Y1),
		}
		band.CodeBlocks[i] = cb
	}

	return band
}

// DecodeCodeBlock decodes a single code-block.
func (d *TileDecoder) DecodeCodeBlock(cb *CodeBlock, bandType int) error {
	if len(cb.Data) == 0 {
		return nil
	}

	width := cb.X1 - cb.X0
	height := cb.Y1 - cb.Y0

	if d.htj2k {
		// Use HTJ2K decoder
		htDec := entropy.GetHTDecoder(width, height)
		cb.Coefficients = htDec.Decode(cb.Data, cb.TotalBitPlanes, bandType)
		entropy.PutHTDecoder(htDec)
	} else {
		// Use standard EBCOT decoder
		t1 := entropy.NewT1(width, height)
		cb.Coefficients = t1.Decode(cb.Data, cb.TotalBitPlanes, bandType)
	}

	return nil
}

// ApplyInverseDWT applies the inverse wavelet transform.
func (d *TileDecoder) ApplyInverseDWT(tc *TileComponent) {
	h := d.header.EffectiveCodingStyle(uint16(tc.Index), d.tileHeader)
	numLevels := int(h.NumDecompositions)

	width := tc.X1 - tc.X0
	height := tc.Y1 - tc.Y0

	if h.WaveletTransform == 1 {
		// 5-3 reversible
		if d.dwtWorkers > 1 {
			dwt.ReconstructMultiLevel53Parallel(tc.Data, width, height, numLevels, d.dwtWorkers)
		} else {
			dwt.ReconstructMultiLevel53(tc.Data, width, height, numLevels)
		}
	} else {
		// 9-7 irreversible
		tc.DataFloat = make([]float64, len(tc.Data))
		for i, v := range tc.Data {
			tc.DataFloat[i] = float64(v)
		}
		if d.dwtWorkers > 1 {
			dwt.ReconstructMultiLevel97Parallel(tc.DataFloat, width, height, numLevels, d.dwtWorkers)
		} else {
			dwt.ReconstructMultiLevel97(tc.DataFloat, width, height, numLevels)
		}
		for i, v := range tc.DataFloat {
			tc.Data[i] = int32(v + 0.5)
		}
	}
}

// TileEncoder encodes a single tile.
type TileEncoder struct {
	header *codestream.Header
	tile   *Tile
	htj2k  bool // True if using High-Throughput mode
}

// NewTileEncoder creates a new tile encoder.
func NewTileEncoder(header *codestream.Header) *TileEncoder {
	return &TileEncoder{
		header: header,
		htj2k:  header.IsHTJ2K(),
	}
}

// SetHTJ2K sets whether this encoder uses High-Throughput mode.
func (e *TileEncoder) SetHTJ2K(htj2k bool) {
	e.htj2k = htj2k
}

// InitTile initializes a tile for encoding.
func (e *TileEncoder) InitTile(tileIndex int, componentData [][]int32) {
	h := e.header

	// Calculate tile bounds (same as decoder)
	tileX := tileIndex % int(h.NumTilesX)
	tileY := tileIndex / int(h.NumTilesX)

	x0 := max(int(h.TileXOffset)+tileX*int(h.TileWidth), int(h.ImageXOffset))
	y0 := max(int(h.TileYOffset)+tileY*int(h.TileHeight), int(h.ImageYOffset))
	x1 := min(int(h.TileXOffset)+(tileX+1)*int(h.TileWidth), int(h.ImageWidth))
	y1 := min(int(h.TileYOffset)+(tileY+1)*int(h.TileHeight), int(h.ImageHeight))

	e.tile = &Tile{
		Index:      tileIndex,
		X0:         x0,
		Y0:         y0,
		X1:         x1,
		Y1:         y1,
		Components: make([]*TileComponent, h.NumComponents),
	}

	// Initialize components with provided data
	for c := 0; c < int(h.NumComponents); c++ {
		comp := h.ComponentInfo[c]

		cx0 := ceilDiv(x0, int(comp.SubsamplingX))
		cy0 := ceilDiv(y0, int(comp.SubsamplingY))
		cx1 := ceilDiv(x1, int(comp.SubsamplingX))
		cy1 := ceilDiv(y1, int(comp.SubsamplingY))

		tc := &TileComponent{
			Index: c,
			X0:    cx0,
			Y0:    cy0,
			X1:    cx1,
			Y1:    cy1,
			Data:  componentData[c],
		}

		// Initialize resolutions (similar to decoder)
		numRes := int(h.CodingStyle.NumDecompositions) + 1
		tc.Resolutions = make([]*Resolution, numRes)

		e.tile.Components[c] = tc
	}
}

// ApplyForwardDWT applies the forward wavelet transform.
func (e *TileEncoder) ApplyForwardDWT(tc *TileComponent) {
	h := e.header.CodingStyle
	numLevels := int(h.NumDecompositions)

	width := tc.X1 - tc.X0
	height := tc.Y1 - tc.Y0

	if h.WaveletTransform == 1 {
		// 5-3 reversible
		dwt.DecomposeMultiLevel53(tc.Data, width, height, numLevels)
	} else {
		// 9-7 irreversible
		tc.DataFloat = make([]float64, len(tc.Data))
		for i, v := range tc.Data {
			tc.DataFloat[i] = float64(v)
		}
		dwt.DecomposeMultiLevel97(tc.DataFloat, width, height, numLevels)
		// Quantize back to integers
		for i, v := range tc.DataFloat {
			if v >= 0 {
				tc.Data[i] = int32(v + 0.5)
			} else {
				tc.Data[i] = int32(v - 0.5)
			}
		}
	}
}

// EncodeCodeBlock encodes a single code-block.
func (e *TileEncoder) EncodeCodeBlock(cb *CodeBlock, data []int32, bandType int) {
	width := cb.X1 - cb.X0
	height := cb.Y1 - cb.Y0

	if e.htj2k {
		// Use HTJ2K encoder
		htEnc := entropy.GetHTEncoder(width, height)
		htEnc.SetData(data)
		cb.Data = htEnc.Encode(bandType)
		entropy.PutHTEncoder(htEnc)
	} else {
		// Use standard EBCOT encoder
		t1 := entropy.NewT1(width, height)
		t1.SetData(data)
		cb.Data = t1.Encode(bandType)
	}
}

// bandStepSize resolves the quantization step size for the band of type
// bandType at resolution level resLevel (0 = coarsest, LL-only),
// following the subband numbering of the standard's QCD/QCC marker: index
// 0 is the LL band, and each subsequent decomposition level nb
// contributes three entries (HL, LH, HH) in that order starting at index
// 3*(nb-1)+1. Scalar-derived quantization carries a single base step
// size and derives every other subband's from it by halving per level
// closer to the LL band; scalar-none (reversible) quantization has no
// meaningful step size and returns 1.
func bandStepSize(q codestream.EffectiveQuantization, resLevel int, bandType int) float64 {
	if len(q.StepSizes) == 0 {
		return 1.0
	}

	if q.Style() == codestream.QuantizationScalarDerived {
		base := q.StepSizes[0].Value()
		if bandType == entropy.BandLL {
			return base
		}
		return base / float64(uint64(1)<<uint(resLevel))
	}

	var idx int
	if bandType == entropy.BandLL {
		idx = 0
	} else {
		nb := resLevel
		offset := 0
		switch bandType {
		case entropy.BandLH:
			offset = 1
		case entropy.BandHL:
			offset = 0
		case entropy.BandHH:
			offset = 2
		}
		idx = 3*(nb-1) + 1 + offset
	}

	if idx < 0 || idx >= len(q.StepSizes) {
		return 1.0
	}
	return q.StepSizes[idx].Value()
}

// Helper functions

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
