package codestream

import "golang.org/x/text/encoding/charmap"

// decodeLatin1 converts ISO 8859-1 (Latin-1) bytes, as declared by a COM
// marker with Rcom=1, to a UTF-8 Go string. A plain string(data) cast
// would leave bytes 0x80-0xFF as invalid UTF-8 continuation bytes rather
// than the Latin-1 code points they represent; charmap.ISO8859_1 maps
// each byte to its correct Unicode code point first.
func decodeLatin1(data []byte) (string, error) {
	return charmap.ISO8859_1.NewDecoder().String(string(data))
}
