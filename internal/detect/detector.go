// Package detect produces batches of detected codes from camera frames and
// delivers them to a scan controller while the camera is active.
package detect

import (
	"fmt"
	"image"

	zxinggo "github.com/ericlevine/zxinggo"
	"github.com/ericlevine/zxinggo/binarizer"
	"github.com/ericlevine/zxinggo/multi"
	"github.com/sirupsen/logrus"

	// Register the 1D and QR readers.
	_ "github.com/ericlevine/zxinggo/oned"
	_ "github.com/ericlevine/zxinggo/qrcode"

	"scanbridge/internal/logging"
	"scanbridge/internal/scan"
)

// Decoder finds every code in one frame.
type Decoder interface {
	Detect(img image.Image) []scan.DetectedCode
}

// Detector decodes frames with the ZXing port.
type Detector struct {
	opts zxinggo.DecodeOptions
	log  *logrus.Entry
}

// NewDetector builds a detector restricted to the given symbologies.
func NewDetector(symbologies []Symbology, tryHarder bool) *Detector {
	if len(symbologies) == 0 {
		symbologies = DefaultSymbologies
	}
	possible := make([]zxinggo.Format, 0, len(symbologies))
	for _, s := range symbologies {
		possible = append(possible, s.Format())
	}
	return &Detector{
		opts: zxinggo.DecodeOptions{
			TryHarder:       tryHarder,
			PossibleFormats: possible,
		},
		log: logging.NewLogger("detect"),
	}
}

// Detect returns the codes found in img. Local adaptive thresholding is tried
// first since camera frames rarely have even lighting; the global histogram
// binarizer is the fallback.
func (d *Detector) Detect(img image.Image) []scan.DetectedCode {
	var source zxinggo.LuminanceSource
	if gray, ok := img.(*image.Gray); ok {
		source = zxinggo.NewGrayImageLuminanceSource(gray)
	} else {
		source = zxinggo.NewImageLuminanceSource(img)
	}

	bitmaps := []*zxinggo.BinaryBitmap{
		zxinggo.NewBinaryBitmap(binarizer.NewHybrid(source)),
		zxinggo.NewBinaryBitmap(binarizer.NewGlobalHistogram(source)),
	}
	for _, bitmap := range bitmaps {
		results, err := d.decodeMultiple(bitmap)
		if err != nil {
			continue
		}
		return toCodes(results)
	}
	return nil
}

// decodeMultiple recovers from panics that decoders may raise on malformed
// input, converting them to errors.
func (d *Detector) decodeMultiple(bitmap *zxinggo.BinaryBitmap) (results []*zxinggo.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.WithField("panic", r).Warn("decoder panic")
			results = nil
			err = fmt.Errorf("decoder panic: %v", r)
		}
	}()
	opts := d.opts
	reader := multi.NewGenericMultipleBarcodeReader(zxinggo.NewMultiFormatReader())
	return reader.DecodeMultiple(bitmap, &opts)
}

func toCodes(results []*zxinggo.Result) []scan.DetectedCode {
	codes := make([]scan.DetectedCode, 0, len(results))
	for _, r := range results {
		codes = append(codes, scan.DetectedCode{
			Value:  r.Text,
			Format: symbologyOf(r.Format),
			Frame:  boundingBox(r.Points),
		})
	}
	return codes
}

// boundingBox encloses the result points; nil when there are none.
func boundingBox(points []zxinggo.ResultPoint) *scan.Rect {
	if len(points) == 0 {
		return nil
	}
	minX, minY := points[0].X, points[0].Y
	maxX, maxY := minX, minY
	for _, p := range points[1:] {
		if p.X < minX {
			minX = p.X
		}
		if p.Y < minY {
			minY = p.Y
		}
		if p.X > maxX {
			maxX = p.X
		}
		if p.Y > maxY {
			maxY = p.Y
		}
	}
	return &scan.Rect{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}
