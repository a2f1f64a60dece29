package codestream

// EffectiveCodingStyle is the resolved set of coding-style parameters
// that apply to one component within one tile, after scoping precedence
// has been applied. It carries no component index or ComponentIndex
// field because it is already specific to the component it was resolved
// for.
type EffectiveCodingStyle struct {
	CodingStyle         uint8
	ProgressionOrder     uint8
	NumLayers            uint16
	MultipleComponentXf  uint8
	NumDecompositions    uint8
	CodeBlockWidthExp    uint8
	CodeBlockHeightExp   uint8
	CodeBlockStyle       uint8
	WaveletTransform     uint8
	PrecinctSizes        []PrecinctSize
}

// EffectiveQuantization is the resolved quantization that applies to one
// component within one tile.
type EffectiveQuantization struct {
	QuantizationStyle uint8
	NumGuardBits      uint8
	StepSizes         []StepSize
}

// EffectiveCodingStyle resolves the coding-style parameters for
// component within the tile described by tph, applying the precedence
// rule of the standard: a tile-part's own COC for the component (if
// present) wins over that tile-part's COD (if present), which wins over
// the main header's COC for the component, which wins over the main
// header's COD. tph may be nil, meaning "resolve against the main header
// only" (used before any SOT has been read, or by callers that only care
// about the main-header scope).
func (h *Header) EffectiveCodingStyle(component uint16, tph *TilePartHeader) EffectiveCodingStyle {
	base := h.CodingStyle
	if tph != nil && tph.CodingStyle != nil {
		base = *tph.CodingStyle
	}

	eff := EffectiveCodingStyle{
		CodingStyle:         base.CodingStyle,
		ProgressionOrder:    base.ProgressionOrder,
		NumLayers:           base.NumLayers,
		MultipleComponentXf: base.MultipleComponentXf,
		NumDecompositions:   base.NumDecompositions,
		CodeBlockWidthExp:   base.CodeBlockWidthExp,
		CodeBlockHeightExp:  base.CodeBlockHeightExp,
		CodeBlockStyle:      base.CodeBlockStyle,
		WaveletTransform:    base.WaveletTransform,
		PrecinctSizes:       base.PrecinctSizes,
	}

	if tph == nil || tph.CodingStyle == nil {
		if coc, ok := h.ComponentCodingStyles[component]; ok {
			eff = applyCOC(eff, coc)
		}
	}
	if tph != nil {
		if coc, ok := tph.ComponentCodingStyles[component]; ok {
			eff = applyCOC(eff, coc)
		}
	}
	return eff
}

func applyCOC(eff EffectiveCodingStyle, coc CodingStyleComponent) EffectiveCodingStyle {
	eff.CodingStyle = coc.CodingStyle
	eff.NumDecompositions = coc.NumDecompositions
	eff.CodeBlockWidthExp = coc.CodeBlockWidthExp
	eff.CodeBlockHeightExp = coc.CodeBlockHeightExp
	eff.CodeBlockStyle = coc.CodeBlockStyle
	eff.WaveletTransform = coc.WaveletTransform
	eff.PrecinctSizes = coc.PrecinctSizes
	return eff
}

// CodeBlockWidth returns the code-block width in samples.
func (e EffectiveCodingStyle) CodeBlockWidth() int {
	return 1 << (e.CodeBlockWidthExp + 2)
}

// CodeBlockHeight returns the code-block height in samples.
func (e EffectiveCodingStyle) CodeBlockHeight() int {
	return 1 << (e.CodeBlockHeightExp + 2)
}

// NumResolutions returns the number of resolution levels.
func (e EffectiveCodingStyle) NumResolutions() int {
	return int(e.NumDecompositions) + 1
}

// IsReversible returns true if the 5-3 reversible wavelet is used.
func (e EffectiveCodingStyle) IsReversible() bool {
	return e.WaveletTransform == 1
}

// EffectiveQuantization resolves the quantization parameters for
// component within the tile described by tph, following the same
// precedence rule as EffectiveCodingStyle: tile-QCC > tile-QCD >
// main-QCC > main-QCD.
func (h *Header) EffectiveQuantization(component uint16, tph *TilePartHeader) EffectiveQuantization {
	base := h.Quantization
	if tph != nil && tph.Quantization != nil {
		base = *tph.Quantization
	}

	eff := EffectiveQuantization{
		QuantizationStyle: base.QuantizationStyle,
		NumGuardBits:      base.NumGuardBits,
		StepSizes:         base.StepSizes,
	}

	if tph == nil || tph.Quantization == nil {
		if qcc, ok := h.ComponentQuantization[component]; ok {
			eff = applyQCC(eff, qcc)
		}
	}
	if tph != nil {
		if qcc, ok := tph.ComponentQuantization[component]; ok {
			eff = applyQCC(eff, qcc)
		}
	}
	return eff
}

func applyQCC(eff EffectiveQuantization, qcc QuantizationComponent) EffectiveQuantization {
	eff.QuantizationStyle = qcc.QuantizationStyle
	eff.NumGuardBits = qcc.NumGuardBits
	eff.StepSizes = qcc.StepSizes
	return eff
}

// Style returns the quantization style (0, 1, or 2).
func (e EffectiveQuantization) Style() uint8 {
	return e.QuantizationStyle & 0x1F
}

// GuardBits returns the number of guard bits.
func (e EffectiveQuantization) GuardBits() int {
	return int(e.NumGuardBits)
}
