package tcd

// TileComponentWindow maps a requested decode region through the four
// coordinate systems a tile-component passes through on its way from the
// codestream's canvas grid to a resolution's sample buffer:
//
//   - canvas: the image's global reference grid (ImageXOffset/YOffset..
//     ImageWidth/Height), the coordinate system markers like SIZ speak in.
//   - tile-component: the canvas window divided by the component's
//     subsampling factors and clipped to the owning tile's extent.
//   - band: the tile-component window translated into one resolution
//     level's band-local origin, per equation B-15 of the standard (a
//     right-shift by the number of decomposition levels above that band,
//     with the LL special-cased to shift by zero).
//   - buffer: the band window translated so its top-left corner sits at
//     (0,0), the coordinate system a Band's flat sample slice actually
//     uses.
//
// A nil or empty canvas window (Empty() == true) means "decode
// everything"; BandWindow then returns the resolution's own full extent
// unclipped.
type TileComponentWindow struct {
	tc     *TileComponent
	x0, y0 int
	x1, y1 int
	full   bool
}

// NewTileComponentWindow builds a coordinate mapper for tc. canvasX0/Y0/X1/Y1
// is the requested decode region in canvas coordinates; pass all zeros (or
// any empty rectangle) to request the whole tile-component.
func NewTileComponentWindow(tc *TileComponent, canvasX0, canvasY0, canvasX1, canvasY1 int) *TileComponentWindow {
	w := &TileComponentWindow{tc: tc}
	if canvasX1 <= canvasX0 || canvasY1 <= canvasY0 {
		w.full = true
		return w
	}
	w.x0, w.y0, w.x1, w.y1 = canvasX0, canvasY0, canvasX1, canvasY1
	return w
}

// TileComponentBounds returns the requested window translated into this
// tile-component's own coordinate system (post-subsampling), clipped to
// the tile-component's actual extent.
func (w *TileComponentWindow) TileComponentBounds() (x0, y0, x1, y1 int) {
	if w.full || w.tc == nil {
		return w.tc.X0, w.tc.Y0, w.tc.X1, w.tc.Y1
	}
	x0 = clampInt(w.x0, w.tc.X0, w.tc.X1)
	y0 = clampInt(w.y0, w.tc.Y0, w.tc.Y1)
	x1 = clampInt(w.x1, w.tc.X0, w.tc.X1)
	y1 = clampInt(w.y1, w.tc.Y0, w.tc.Y1)
	return x0, y0, x1, y1
}

// BandWindow returns the portion of res that must be reconstructed to
// cover the requested decode region, in that resolution's own (band)
// coordinate system, per equation B-15: a tile-component coordinate v at
// decomposition depth numDecomps maps to ceil(v / 2^numDecomps) in the
// band, mirroring the ceilDiv scaling initResolution already applies when
// it derives a resolution's bounds from the tile-component's.
//
// numDecomps is the count of decomposition levels between the
// tile-component's full resolution and res (0 for the last/lowest
// resolution level, increasing toward the first).
func (w *TileComponentWindow) BandWindow(res *Resolution, numDecomps int) (x0, y0, x1, y1 int) {
	if w.full || res == nil {
		return res.X0, res.Y0, res.X1, res.Y1
	}
	tcx0, tcy0, tcx1, tcy1 := w.TileComponentBounds()
	scale := 1 << numDecomps
	x0 = clampInt(ceilDiv(tcx0, scale), res.X0, res.X1)
	y0 = clampInt(ceilDiv(tcy0, scale), res.Y0, res.Y1)
	x1 = clampInt(ceilDiv(tcx1, scale), res.X0, res.X1)
	y1 = clampInt(ceilDiv(tcy1, scale), res.Y0, res.Y1)
	return x0, y0, x1, y1
}

// Empty reports whether this window is a full-tile-component request.
func (w *TileComponentWindow) Empty() bool {
	return w.full
}

// CoveredPrecincts filters res's precincts down to those intersecting the
// requested window, so T2 decode can skip precincts the caller doesn't
// need. numDecomps is the same decomposition-depth argument BandWindow
// takes: a precinct's bounds live in res's own band-local coordinate
// system, not the tile-component's, so the comparison is made against
// BandWindow's scaled rectangle rather than TileComponentBounds directly.
// With the single-precinct-per-resolution layout initPrecincts builds
// (see its doc comment), this is an all-or-nothing filter today, but the
// intersection test is written generally so it keeps working if sub-tile
// precinct partitioning is added later.
func (w *TileComponentWindow) CoveredPrecincts(res *Resolution, numDecomps int) []*Precinct {
	if w.full || res == nil {
		return res.Precincts
	}
	bx0, by0, bx1, by1 := w.BandWindow(res, numDecomps)
	var covered []*Precinct
	for _, p := range res.Precincts {
		if p.X1 > bx0 && p.Y1 > by0 && p.X0 < bx1 && p.Y0 < by1 {
			covered = append(covered, p)
		}
	}
	return covered
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
