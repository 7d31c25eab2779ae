package detect

import (
	"fmt"
	"strings"

	zxinggo "github.com/ericlevine/zxinggo"
)

// Symbology names a code type the scanner recognizes.
type Symbology string

const (
	QR      Symbology = "qr"
	Code128 Symbology = "code-128"
	EAN13   Symbology = "ean-13"
	EAN8    Symbology = "ean-8"
	Code39  Symbology = "code-39"
)

// DefaultSymbologies is the set a scan session listens for.
var DefaultSymbologies = []Symbology{QR, Code128, EAN13, EAN8, Code39}

var formats = map[Symbology]zxinggo.Format{
	QR:      zxinggo.FormatQRCode,
	Code128: zxinggo.FormatCode128,
	EAN13:   zxinggo.FormatEAN13,
	EAN8:    zxinggo.FormatEAN8,
	Code39:  zxinggo.FormatCode39,
}

// Format returns the decoder format for s.
func (s Symbology) Format() zxinggo.Format {
	return formats[s]
}

// ParseSymbologies validates names such as "qr" or "EAN-13".
func ParseSymbologies(names []string) ([]Symbology, error) {
	out := make([]Symbology, 0, len(names))
	seen := make(map[Symbology]bool, len(names))
	for _, name := range names {
		s := Symbology(strings.ToLower(strings.TrimSpace(name)))
		if _, ok := formats[s]; !ok {
			return nil, fmt.Errorf("unknown symbology: %q", name)
		}
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no symbologies given")
	}
	return out, nil
}

// symbologyOf maps a decoder format back to its name; unknown formats use the
// decoder's own spelling.
func symbologyOf(f zxinggo.Format) string {
	for s, format := range formats {
		if format == f {
			return string(s)
		}
	}
	return strings.ToLower(f.String())
}
