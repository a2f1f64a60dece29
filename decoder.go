package jpeg2000

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"image/color"
	"io"
	"log/slog"
	"runtime"

	"github.com/adeilla-codes/j2kcore/internal/box"
	"github.com/adeilla-codes/j2kcore/internal/codestream"
	"github.com/adeilla-codes/j2kcore/internal/logging"
	"github.com/adeilla-codes/j2kcore/internal/tcd"
)

// runtimeOrDefault returns cfg.Runtime, or a freshly built default
// Runtime if cfg or cfg.Runtime is nil, so decodeTiles always has a
// logger and run ID to report through.
func (cfg *Config) runtimeOrDefault() *Runtime {
	if cfg != nil && cfg.Runtime != nil && cfg.Runtime.Logger != nil {
		return cfg.Runtime
	}
	return NewRuntime()
}

// decoder handles JPEG 2000 decoding.
type decoder struct {
	r          *bufio.Reader
	format     Format
	header     *codestream.Header
	jp2Header  *box.JP2Header
	codestream []byte
}

// newDecoder creates a new decoder.
func newDecoder(r io.Reader) *decoder {
	return &decoder{
		r: bufio.NewReader(r),
	}
}

// decode decodes the image.
func (d *decoder) decode(cfg *Config) (image.Image, error) {
	// Detect format and read headers
	if err := d.readFormat(); err != nil {
		return nil, fmt.Errorf("reading format: %w", err)
	}

	// Parse codestream header
	if err := d.parseCodestream(); err != nil {
		return nil, fmt.Errorf("parsing codestream: %w", err)
	}

	// Decode tiles
	img, err := d.decodeTiles(cfg)
	if err != nil {
		return nil, fmt.Errorf("decoding tiles: %w", err)
	}

	return img, nil
}

// readMetadata reads only the metadata without decoding.
func (d *decoder) readMetadata() (*Metadata, error) {
	if err := d.readFormat(); err != nil {
		return nil, err
	}

	if err := d.parseCodestream(); err != nil {
		return nil, err
	}

	h := d.header
	m := &Metadata{
		Format:           d.format,
		Width:            int(h.ImageWidth - h.ImageXOffset),
		Height:           int(h.ImageHeight - h.ImageYOffset),
		NumComponents:    int(h.NumComponents),
		BitsPerComponent: make([]int, h.NumComponents),
		Signed:           make([]bool, h.NumComponents),
		Profile:          Profile(h.Profile),
		NumResolutions:   int(h.CodingStyle.NumDecompositions) + 1,
		NumQualityLayers: int(h.CodingStyle.NumLayers),
		TileWidth:        int(h.TileWidth),
		TileHeight:       int(h.TileHeight),
		NumTilesX:        int(h.NumTilesX),
		NumTilesY:        int(h.NumTilesY),
		Comment:          h.Comment,
		ColorSpace:       ColorSpaceUnspecified, // Default for J2K without JP2 container
	}

	for i, c := range h.ComponentInfo {
		m.BitsPerComponent[i] = c.Precision()
		m.Signed[i] = c.IsSigned()
	}

	// Get color space from JP2 header if available
	if d.jp2Header != nil && d.jp2Header.ColorSpec != nil {
		switch d.jp2Header.ColorSpec.EnumeratedColorspace {
		case box.CSBilevel1, box.CSBilevel2:
			m.ColorSpace = ColorSpaceBilevel
		case box.CSGray:
			m.ColorSpace = ColorSpaceGray
		case box.CSSRGB:
			m.ColorSpace = ColorSpaceSRGB
		case box.CSYCbCr1, box.CSsYCC:
			m.ColorSpace = ColorSpaceSYCC
		case box.CSYCbCr2:
			m.ColorSpace = ColorSpaceYCbCr2
		case box.CSYCbCr3:
			m.ColorSpace = ColorSpaceYCbCr3
		case box.CSPhotoYCC:
			m.ColorSpace = ColorSpacePhotoYCC
		case box.CSCMY:
			m.ColorSpace = ColorSpaceCMY
		case box.CSCMYK:
			m.ColorSpace = ColorSpaceCMYK
		case box.CSYCCK:
			m.ColorSpace = ColorSpaceYCCK
		case box.CSCIELab:
			m.ColorSpace = ColorSpaceCIELab
		case box.CSCIEJab:
			m.ColorSpace = ColorSpaceCIEJab
		case box.CSeSRGB:
			m.ColorSpace = ColorSpaceESRGB
		case box.CSROMMRGB:
			m.ColorSpace = ColorSpaceROMMRGB
		case box.CSYPbPr1125:
			m.ColorSpace = ColorSpaceYPbPr60
		case box.CSYPbPr1250:
			m.ColorSpace = ColorSpaceYPbPr50
		case box.CSeSYCC:
			m.ColorSpace = ColorSpaceEYCC
		default:
			// Unknown enumcs value - not supported
			m.ColorSpace = ColorSpaceUnknown
		}
		m.ICCProfile = d.jp2Header.ColorSpec.ICCProfile
	}

	return m, nil
}

// getColorSpace returns the ColorSpace from the JP2 header.
func (d *decoder) getColorSpace() ColorSpace {
	if d.jp2Header == nil || d.jp2Header.ColorSpec == nil {
		return ColorSpaceUnspecified
	}

	switch d.jp2Header.ColorSpec.EnumeratedColorspace {
	case box.CSBilevel1, box.CSBilevel2:
		return ColorSpaceBilevel
	case box.CSGray:
		return ColorSpaceGray
	case box.CSSRGB:
		return ColorSpaceSRGB
	case box.CSYCbCr1, box.CSsYCC:
		return ColorSpaceSYCC
	case box.CSYCbCr2:
		return ColorSpaceYCbCr2
	case box.CSYCbCr3:
		return ColorSpaceYCbCr3
	case box.CSPhotoYCC:
		return ColorSpacePhotoYCC
	case box.CSCMY:
		return ColorSpaceCMY
	case box.CSCMYK:
		return ColorSpaceCMYK
	case box.CSYCCK:
		return ColorSpaceYCCK
	case box.CSCIELab:
		return ColorSpaceCIELab
	case box.CSCIEJab:
		return ColorSpaceCIEJab
	case box.CSeSRGB:
		return ColorSpaceESRGB
	case box.CSROMMRGB:
		return ColorSpaceROMMRGB
	case box.CSYPbPr1125:
		return ColorSpaceYPbPr60
	case box.CSYPbPr1250:
		return ColorSpaceYPbPr50
	case box.CSeSYCC:
		return ColorSpaceEYCC
	default:
		return ColorSpaceUnknown
	}
}

// readFormat detects the file format and reads file-level structures.
func (d *decoder) readFormat() error {
	// Peek at first bytes to detect format
	magic, err := d.r.Peek(12)
	if err != nil {
		return err
	}

	// Check for JP2 signature
	if len(magic) >= 12 &&
		magic[0] == 0x00 && magic[1] == 0x00 && magic[2] == 0x00 && magic[3] == 0x0C &&
		magic[4] == 'j' && magic[5] == 'P' && magic[6] == ' ' && magic[7] == ' ' {
		d.format = FormatJP2
		return d.readJP2()
	}

	// Check for J2K codestream (SOC marker)
	if len(magic) >= 2 && magic[0] == 0xFF && magic[1] == 0x4F {
		d.format = FormatJ2K
		return d.readJ2K()
	}

	return fmt.Errorf("unrecognized file format")
}

// readJP2 reads a JP2 file.
func (d *decoder) readJP2() error {
	boxReader := box.NewReader(d.r)

	for {
		b, err := boxReader.ReadBox()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		switch b.Type {
		case box.TypeJP2Signature:
			// Verify signature
			if len(b.Contents) < 4 ||
				b.Contents[0] != 0x0D || b.Contents[1] != 0x0A ||
				b.Contents[2] != 0x87 || b.Contents[3] != 0x0A {
				return fmt.Errorf("invalid JP2 signature")
			}

		case box.TypeFileType:
			// Parse file type box
			ftyp := &box.FileTypeBox{}
			if err := ftyp.Parse(b.Contents); err != nil {
				return err
			}

		case box.TypeJP2Header:
			// Parse JP2 header
			var err error
			d.jp2Header, err = box.ParseJP2Header(b.Contents)
			if err != nil {
				return err
			}

		case box.TypeContCodestream:
			// Store codestream for later parsing
			d.codestream = b.Contents
			return nil
		}
	}

	if d.codestream == nil {
		return fmt.Errorf("no codestream found in JP2 file")
	}
	return nil
}

// readJ2K reads a raw J2K codestream.
func (d *decoder) readJ2K() error {
	// Read entire codestream
	data, err := io.ReadAll(d.r)
	if err != nil {
		return err
	}
	d.codestream = data
	return nil
}

// parseCodestream parses the codestream header.
func (d *decoder) parseCodestream() error {
	if d.codestream == nil {
		return fmt.Errorf("no codestream available")
	}

	parser := codestream.NewParser(&byteReader{data: d.codestream})
	header, err := parser.ReadHeader()
	if err != nil {
		return err
	}
	d.header = header
	return nil
}

// decodeTiles decodes all tiles and assembles the output image.
func (d *decoder) decodeTiles(cfg *Config) (image.Image, error) {
	h := d.header

	// Calculate output dimensions
	width := int(h.ImageWidth - h.ImageXOffset)
	height := int(h.ImageHeight - h.ImageYOffset)

	if cfg != nil && cfg.ReduceResolution > 0 {
		// Reduce resolution
		for i := 0; i < cfg.ReduceResolution; i++ {
			width = (width + 1) / 2
			height = (height + 1) / 2
		}
	}

	// Create output image based on number of components
	numComp := int(h.NumComponents)
	if numComp == 0 || len(h.ComponentInfo) == 0 {
		return nil, fmt.Errorf("invalid image: no components")
	}
	precision := h.ComponentInfo[0].Precision()
	signed := h.ComponentInfo[0].IsSigned()

	// Allocate component data
	componentData := make([][]int32, numComp)
	for c := 0; c < numComp; c++ {
		componentData[c] = make([]int32, width*height)
	}

	var decodeArea *image.Rectangle
	if cfg != nil && cfg.DecodeArea != nil {
		r := *cfg.DecodeArea
		canvasArea := image.Rect(
			r.Min.X+int(h.ImageXOffset), r.Min.Y+int(h.ImageYOffset),
			r.Max.X+int(h.ImageXOffset), r.Max.Y+int(h.ImageYOffset),
		)
		decodeArea = &canvasArea
	}

	tileParts, err := d.collectTileParts(neededTileIndices(h, decodeArea))
	if err != nil {
		return nil, fmt.Errorf("reading tile-part headers: %w", err)
	}

	workers := runtime.NumCPU()
	if cfg != nil && cfg.MaxWorkers > 0 {
		workers = cfg.MaxWorkers
	}
	rt := cfg.runtimeOrDefault()

	sched := tcd.NewT1Scheduler(workers)
	proc := tcd.NewTileProcessor(h, sched)
	if decodeArea != nil {
		proc.SetDecodeWindow(decodeArea.Min.X, decodeArea.Min.Y, decodeArea.Max.X, decodeArea.Max.Y)
	}

	ctx := logging.AppendCtx(context.Background(), slog.String("run_id", rt.RunID))

	numTiles := int(h.NumTilesX * h.NumTilesY)
	for tileIdx := 0; tileIdx < numTiles; tileIdx++ {
		tp, ok := tileParts[tileIdx]
		if !ok {
			continue
		}

		tile, err := proc.Decode(tileIdx, tp.header, tp.data)
		if err != nil {
			rt.Logger.ErrorContext(ctx, "tile decode failed", "tile", tileIdx, "error", err)
			return nil, fmt.Errorf("decoding tile %d: %w", tileIdx, err)
		}
		rt.Logger.DebugContext(ctx, "tile decoded", "tile", tileIdx)

		d.copyTileToOutput(tile, componentData, width, height, cfg)
	}

	precisions := make([]int, numComp)
	signedFlags := make([]bool, numComp)
	for c := 0; c < numComp; c++ {
		precisions[c] = h.ComponentInfo[c].Precision()
		signedFlags[c] = h.ComponentInfo[c].IsSigned()
	}
	tcd.InverseMCTAndShift(h, componentData, precisions, signedFlags)

	// Apply color space conversion if needed
	if d.jp2Header != nil && d.jp2Header.ColorSpec != nil {
		cs := d.getColorSpace()
		if conv := getColorConversion(cs); conv != nil {
			conv(componentData, precision)
		}
	}

	// Create output image
	return d.createImage(componentData, width, height, numComp, precision, signed)
}

// tilePartData is the concatenated SOD bytes and governing tile-part
// header for every tile-part belonging to one tile.
type tilePartData struct {
	header *codestream.TilePartHeader
	data   []byte
}

// neededTileIndices reports which tile indices intersect area, a decode
// region already translated into canvas coordinates, so collectTileParts
// can use TileLengthIndex.SkipTo to jump straight past runs of tiles the
// caller doesn't need instead of parsing and discarding each one's
// tile-part header in turn. Returns nil (meaning "every tile is needed")
// when area is nil, the usual full-image decode.
func neededTileIndices(h *codestream.Header, area *image.Rectangle) map[int]bool {
	if area == nil {
		return nil
	}
	needed := make(map[int]bool)
	for ty := uint32(0); ty < h.NumTilesY; ty++ {
		ty0 := h.TileYOffset + ty*h.TileHeight
		ty1 := ty0 + h.TileHeight
		if ty1 > h.ImageHeight {
			ty1 = h.ImageHeight
		}
		for tx := uint32(0); tx < h.NumTilesX; tx++ {
			tx0 := h.TileXOffset + tx*h.TileWidth
			tx1 := tx0 + h.TileWidth
			if tx1 > h.ImageWidth {
				tx1 = h.ImageWidth
			}
			if int(tx0) < area.Max.X && int(tx1) > area.Min.X && int(ty0) < area.Max.Y && int(ty1) > area.Min.Y {
				needed[int(ty*h.NumTilesX+tx)] = true
			}
		}
	}
	return needed
}

// collectTileParts walks the codestream's tile-part markers (SOT...SOD,
// repeated until EOC), grouping each tile-part's coded data by tile
// index. The first tile-part's header is kept as the tile's governing
// COD/COC/QCD/QCC scope; later tile-parts of the same tile ordinarily
// omit those markers and inherit it.
//
// needed restricts which tiles are actually collected; nil means every
// tile. When a TLM marker was present, tiles outside needed are skipped
// over using TileLengthIndex.SkipTo's cumulative byte offsets rather than
// being parsed and discarded: a request for a small corner of a
// many-tile image then touches only the tile-part headers it actually
// needs.
func (d *decoder) collectTileParts(needed map[int]bool) (map[int]*tilePartData, error) {
	br := &byteReader{data: d.codestream}
	parser := codestream.NewParser(br)
	header, err := parser.ReadHeader()
	if err != nil {
		return nil, err
	}

	// ReadHeader already consumed the first tile-part's SOT marker.
	tileDataStart := br.pos - 2
	posBeforeSOT := tileDataStart

	tlmIndex := header.TileLengthIndex()
	numTiles := int(header.NumTilesX * header.NumTilesY)
	nextTileHint := 0

	result := make(map[int]*tilePartData)
	for {
		if tlmIndex != nil && needed != nil && nextTileHint < numTiles && !needed[nextTileHint] {
			target := nextTileHint
			for target < numTiles && !needed[target] {
				target++
			}
			if target >= numTiles {
				break
			}
			if jumpTo := tileDataStart + int(tlmIndex.SkipTo(uint16(target))); jumpTo > br.pos && jumpTo <= len(br.data) {
				br.pos = jumpTo
				posBeforeSOT = br.pos
			}
			nextTileHint = target
		}

		tph, err := parser.ReadTilePartHeader()
		if err != nil {
			return nil, err
		}

		headerBytes := br.pos - posBeforeSOT
		dataLen := int(tph.TilePartLength) - headerBytes
		if dataLen < 0 || br.pos+dataLen > len(br.data) {
			return nil, fmt.Errorf("tile-part %d: invalid tile-part length", tph.TileIndex)
		}
		data := br.data[br.pos : br.pos+dataLen]
		br.pos += dataLen

		if needed == nil || needed[int(tph.TileIndex)] {
			entry, ok := result[int(tph.TileIndex)]
			if !ok {
				entry = &tilePartData{header: tph}
				result[int(tph.TileIndex)] = entry
			}
			entry.data = append(entry.data, data...)
		}
		nextTileHint = int(tph.TileIndex) + 1

		if br.pos >= len(br.data) {
			break
		}

		posBeforeSOT = br.pos
		marker, err := parser.ReadNextTileMarker()
		if err != nil {
			return nil, err
		}
		if marker == codestream.EOC {
			break
		}
		if marker != codestream.SOT {
			return nil, fmt.Errorf("expected SOT or EOC after tile-part, got 0x%04X", marker)
		}
	}

	return result, nil
}

// copyTileToOutput copies a decoded tile's component planes into the
// image-wide output buffers at the tile's absolute offset. When cfg
// carries a DecodeArea, each component's copy is additionally clipped to
// that region (translated through the component's subsampling and tile
// extent by tcd.TileComponentWindow) so pixels outside a requested
// windowed decode are left untouched rather than copied and discarded.
func (d *decoder) copyTileToOutput(tile *tcd.Tile, componentData [][]int32, imgWidth, imgHeight int, cfg *Config) {
	h := d.header
	var canvasX0, canvasY0, canvasX1, canvasY1 int
	if cfg != nil && cfg.DecodeArea != nil {
		r := *cfg.DecodeArea
		canvasX0 = r.Min.X + int(h.ImageXOffset)
		canvasY0 = r.Min.Y + int(h.ImageYOffset)
		canvasX1 = r.Max.X + int(h.ImageXOffset)
		canvasY1 = r.Max.Y + int(h.ImageYOffset)
	}

	for c := 0; c < len(tile.Components) && c < len(componentData); c++ {
		tc := tile.Components[c]
		if tc == nil {
			continue
		}

		wx0, wy0, wx1, wy1 := tc.X0, tc.Y0, tc.X1, tc.Y1
		if cfg != nil && cfg.DecodeArea != nil && c < len(h.ComponentInfo) {
			comp := h.ComponentInfo[c]
			win := tcd.NewTileComponentWindow(tc,
				ceilDivInt(canvasX0, int(comp.SubsamplingX)), ceilDivInt(canvasY0, int(comp.SubsamplingY)),
				ceilDivInt(canvasX1, int(comp.SubsamplingX)), ceilDivInt(canvasY1, int(comp.SubsamplingY)))
			wx0, wy0, wx1, wy1 = win.TileComponentBounds()
		}

		for y := wy0; y < wy1 && y-int(h.ImageYOffset) < imgHeight; y++ {
			for x := wx0; x < wx1 && x-int(h.ImageXOffset) < imgWidth; x++ {
				srcIdx := (y-tc.Y0)*(tc.X1-tc.X0) + (x - tc.X0)
				dstX := x - int(h.ImageXOffset)
				dstY := y - int(h.ImageYOffset)
				if dstX >= 0 && dstY >= 0 && dstX < imgWidth && dstY < imgHeight {
					dstIdx := dstY*imgWidth + dstX
					if srcIdx >= 0 && srcIdx < len(tc.Data) {
						componentData[c][dstIdx] = tc.Data[srcIdx]
					}
				}
			}
		}
	}
}

func ceilDivInt(a, b int) int {
	if b <= 0 {
		return a
	}
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// createImage creates the output image from component data.
func (d *decoder) createImage(
	componentData [][]int32,
	width, height int,
	numComp int,
	precision int,
	signed bool,
) (image.Image, error) {
	// Determine scaling factor
	maxVal := int32((1 << precision) - 1)

	switch numComp {
	case 1:
		// Grayscale
		if precision <= 8 {
			img := image.NewGray(image.Rect(0, 0, width, height))
			for y := 0; y < height; y++ {
				for x := 0; x < width; x++ {
					idx := y*width + x
					v := componentData[0][idx]
					if v < 0 {
						v = 0
					}
					if v > maxVal {
						v = maxVal
					}
					// Scale to 8-bit
					if precision != 8 {
						v = v * 255 / maxVal
					}
					img.SetGray(x, y, color.Gray{Y: uint8(v)})
				}
			}
			return img, nil
		}
		// 16-bit grayscale
		img := image.NewGray16(image.Rect(0, 0, width, height))
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				idx := y*width + x
				v := componentData[0][idx]
				if v < 0 {
					v = 0
				}
				if v > maxVal {
					v = maxVal
				}
				// Scale to 16-bit
				v = v * 65535 / maxVal
				img.SetGray16(x, y, color.Gray16{Y: uint16(v)})
			}
		}
		return img, nil

	case 3:
		// RGB
		if precision <= 8 {
			img := image.NewRGBA(image.Rect(0, 0, width, height))
			for y := 0; y < height; y++ {
				for x := 0; x < width; x++ {
					idx := y*width + x
					r := componentData[0][idx]
					g := componentData[1][idx]
					b := componentData[2][idx]

					// Clamp values
					r = clampInt32(r, 0, maxVal)
					g = clampInt32(g, 0, maxVal)
					b = clampInt32(b, 0, maxVal)

					// Scale to 8-bit
					if precision != 8 {
						r = r * 255 / maxVal
						g = g * 255 / maxVal
						b = b * 255 / maxVal
					}

					img.SetRGBA(x, y, color.RGBA{
						R: uint8(r),
						G: uint8(g),
						B: uint8(b),
						A: 255,
					})
				}
			}
			return img, nil
		}
		// 16-bit RGB
		img := image.NewRGBA64(image.Rect(0, 0, width, height))
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				idx := y*width + x
				r := componentData[0][idx]
				g := componentData[1][idx]
				b := componentData[2][idx]

				r = clampInt32(r, 0, maxVal)
				g = clampInt32(g, 0, maxVal)
				b = clampInt32(b, 0, maxVal)

				// Scale to 16-bit
				r = r * 65535 / maxVal
				g = g * 65535 / maxVal
				b = b * 65535 / maxVal

				img.SetRGBA64(x, y, color.RGBA64{
					R: uint16(r),
					G: uint16(g),
					B: uint16(b),
					A: 65535,
				})
			}
		}
		return img, nil

	case 4:
		// RGBA
		if precision <= 8 {
			img := image.NewRGBA(image.Rect(0, 0, width, height))
			for y := 0; y < height; y++ {
				for x := 0; x < width; x++ {
					idx := y*width + x
					r := clampInt32(componentData[0][idx], 0, maxVal)
					g := clampInt32(componentData[1][idx], 0, maxVal)
					b := clampInt32(componentData[2][idx], 0, maxVal)
					a := clampInt32(componentData[3][idx], 0, maxVal)

					if precision != 8 {
						r = r * 255 / maxVal
						g = g * 255 / maxVal
						b = b * 255 / maxVal
						a = a * 255 / maxVal
					}

					img.SetRGBA(x, y, color.RGBA{
						R: uint8(r),
						G: uint8(g),
						B: uint8(b),
						A: uint8(a),
					})
				}
			}
			return img, nil
		}
		// 16-bit RGBA
		img := image.NewRGBA64(image.Rect(0, 0, width, height))
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				idx := y*width + x
				r := clampInt32(componentData[0][idx], 0, maxVal)
				g := clampInt32(componentData[1][idx], 0, maxVal)
				b := clampInt32(componentData[2][idx], 0, maxVal)
				a := clampInt32(componentData[3][idx], 0, maxVal)

				r = r * 65535 / maxVal
				g = g * 65535 / maxVal
				b = b * 65535 / maxVal
				a = a * 65535 / maxVal

				img.SetRGBA64(x, y, color.RGBA64{
					R: uint16(r),
					G: uint16(g),
					B: uint16(b),
					A: uint16(a),
				})
			}
		}
		return img, nil

	default:
		return nil, fmt.Errorf("unsupported number of components: %d", numComp)
	}
}

// Helper function
func clampInt32(v, min, max int32) int32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// byteReader wraps a byte slice as an io.Reader.
type byteReader struct {
	data []byte
	pos  int
}

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}
