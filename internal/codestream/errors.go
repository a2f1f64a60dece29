package codestream

import (
	"errors"
	"fmt"
)

// Kind classifies the way a codestream failed to parse, independent of the
// specific marker or byte offset involved. Callers that need to react
// differently to, say, a truncated stream versus an out-of-place marker
// should match on Kind via errors.As rather than string-matching error
// text.
type Kind int

const (
	// KindUnknown covers failures that don't fit one of the named kinds
	// below; it should not normally escape this package.
	KindUnknown Kind = iota

	// KindTruncated: fewer bytes remained than a marker segment declared.
	KindTruncated

	// KindMarkerOutOfPlace: a marker appeared in a state that doesn't
	// permit it (e.g. COD after SOD).
	KindMarkerOutOfPlace

	// KindUnsupportedMarker: a recognized marker this decoder does not
	// implement (distinct from an unknown marker code, which is skipped).
	KindUnsupportedMarker

	// KindInconsistentParameters: two header fields contradict each
	// other (e.g. QCD step-size count vs. decomposition count).
	KindInconsistentParameters

	// KindMalformedMarkerSegment: a marker segment's internal structure
	// (length field, bit layout, continuation encoding) doesn't parse.
	KindMalformedMarkerSegment

	// KindUnseekable: a Seek was required but the underlying transport
	// doesn't support it.
	KindUnseekable

	// KindEntropyDecode: the T1/HT bit-plane decoder encountered an
	// inconsistent bitstream.
	KindEntropyDecode

	// KindPacketHeaderDecode: the T2 packet-header or tag-tree decode
	// encountered an inconsistent bitstream.
	KindPacketHeaderDecode

	// KindUnsupportedFeature: a structurally valid but unimplemented
	// codestream feature (e.g. an MCT matrix size this build can't
	// invert).
	KindUnsupportedFeature
)

func (k Kind) String() string {
	switch k {
	case KindTruncated:
		return "truncated"
	case KindMarkerOutOfPlace:
		return "marker-out-of-place"
	case KindUnsupportedMarker:
		return "unsupported-marker"
	case KindInconsistentParameters:
		return "inconsistent-parameters"
	case KindMalformedMarkerSegment:
		return "malformed-marker-segment"
	case KindUnseekable:
		return "unseekable"
	case KindEntropyDecode:
		return "entropy-decode"
	case KindPacketHeaderDecode:
		return "packet-header-decode"
	case KindUnsupportedFeature:
		return "unsupported-feature"
	default:
		return "unknown"
	}
}

// Error is the error type returned for all codestream parse failures that
// can be attributed to a byte position. Offset is -1 when the failure
// isn't tied to a specific stream position (e.g. a post-parse consistency
// check).
type Error struct {
	Kind   Kind
	Offset int64
	Err    error
}

func (e *Error) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("codestream: %s at offset %d: %v", e.Kind, e.Offset, e.Err)
	}
	return fmt.Sprintf("codestream: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is allows errors.Is(err, codestream.ErrTruncated) style matching against
// the sentinels below without requiring callers to type-assert *Error.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrTruncated:
		return e.Kind == KindTruncated
	case ErrMarkerOutOfPlace:
		return e.Kind == KindMarkerOutOfPlace
	case ErrUnsupportedMarker:
		return e.Kind == KindUnsupportedMarker
	case ErrInconsistentParameters:
		return e.Kind == KindInconsistentParameters
	case ErrMalformedPLMarker:
		return e.Kind == KindMalformedMarkerSegment
	case ErrUnseekable:
		return e.Kind == KindUnseekable
	}
	return false
}

// NewError wraps err with a Kind and a byte offset for later matching and
// logging.
func NewError(kind Kind, offset int64, err error) *Error {
	return &Error{Kind: kind, Offset: offset, Err: err}
}

// Sentinel errors for errors.Is matching. These are not normally returned
// directly; they are the targets of *Error.Is comparisons above.
var (
	ErrTruncated              = errors.New("codestream: truncated")
	ErrMarkerOutOfPlace       = errors.New("codestream: marker out of place")
	ErrUnsupportedMarker      = errors.New("codestream: unsupported marker")
	ErrInconsistentParameters = errors.New("codestream: inconsistent parameters")
	ErrMalformedPLMarker      = errors.New("codestream: malformed PLT/PLM marker segment")
	ErrUnseekable             = errors.New("codestream: stream is not seekable")
)
