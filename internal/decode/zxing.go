package decode

import (
	"errors"
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/ericlevine/zxinggo"
	"github.com/ericlevine/zxinggo/binarizer"
	"go.uber.org/zap"

	"github.com/hexlattice/scanhub/api/schemas"
	"github.com/hexlattice/scanhub/internal/config"

	// Register the symbology readers the decoder dispatches to.
	_ "github.com/ericlevine/zxinggo/aztec"
	_ "github.com/ericlevine/zxinggo/datamatrix"
	_ "github.com/ericlevine/zxinggo/maxicode"
	_ "github.com/ericlevine/zxinggo/oned"
	_ "github.com/ericlevine/zxinggo/pdf417"
	_ "github.com/ericlevine/zxinggo/qrcode"
)

// correctedErrorPenalty is subtracted from a perfect confidence score for
// every symbol the error-correction pass had to repair.
const correctedErrorPenalty = 5.0

var formatNames = map[string]zxinggo.Format{
	"QR_CODE":     zxinggo.FormatQRCode,
	"PDF_417":     zxinggo.FormatPDF417,
	"CODE_128":    zxinggo.FormatCode128,
	"CODE_39":     zxinggo.FormatCode39,
	"EAN_13":      zxinggo.FormatEAN13,
	"EAN_8":       zxinggo.FormatEAN8,
	"UPC_A":       zxinggo.FormatUPCA,
	"UPC_E":       zxinggo.FormatUPCE,
	"ITF":         zxinggo.FormatITF,
	"CODABAR":     zxinggo.FormatCodabar,
	"DATA_MATRIX": zxinggo.FormatDataMatrix,
	"AZTEC":       zxinggo.FormatAztec,
}

// ZXingDecoder adapts the zxinggo multi-format reader to the Decoder
// interface. It is stateless and safe for concurrent use.
type ZXingDecoder struct {
	opts   zxinggo.DecodeOptions
	logger *zap.Logger
}

// NewZXingDecoder builds a decoder from configuration. Format names follow
// the upper-snake symbology naming ("EAN_13", "QR_CODE"); an unknown name
// is a configuration error.
func NewZXingDecoder(cfg config.DecoderConfig, logger *zap.Logger) (*ZXingDecoder, error) {
	opts := zxinggo.DecodeOptions{
		TryHarder:    cfg.TryHarder,
		AlsoInverted: cfg.AlsoInverted,
	}
	for _, name := range cfg.Formats {
		format, ok := formatNames[strings.ToUpper(strings.TrimSpace(name))]
		if !ok {
			return nil, fmt.Errorf("unknown barcode format %q", name)
		}
		opts.PossibleFormats = append(opts.PossibleFormats, format)
	}
	return &ZXingDecoder{opts: opts, logger: logger.Named("decoder")}, nil
}

// Decode scans a single frame for a barcode.
func (d *ZXingDecoder) Decode(img image.Image) (schemas.Detection, error) {
	source := zxinggo.NewImageLuminanceSource(img)
	bitmap := zxinggo.NewBinaryBitmap(binarizer.NewHybrid(source))

	opts := d.opts
	result, err := zxinggo.Decode(bitmap, &opts)
	if err != nil {
		if errors.Is(err, zxinggo.ErrNotFound) {
			return schemas.Detection{}, ErrNoCode
		}
		return schemas.Detection{}, fmt.Errorf("decode frame: %w", err)
	}

	det := schemas.Detection{
		Code:       result.Text,
		Format:     result.Format.String(),
		Confidence: confidenceOf(result),
		At:         time.Now().UTC(),
	}
	d.logger.Debug("Decoded barcode.",
		zap.String("format", det.Format),
		zap.Float64("confidence", det.Confidence))
	return det, nil
}

// confidenceOf derives a 0-100 score from the reader's error-correction
// telemetry. A clean read scores 100; each corrected symbol costs a fixed
// penalty.
func confidenceOf(result *zxinggo.Result) float64 {
	corrected := 0
	if v, ok := result.Metadata[zxinggo.MetadataErrorsCorrected]; ok {
		if n, ok := v.(int); ok {
			corrected = n
		}
	}
	score := 100.0 - correctedErrorPenalty*float64(corrected)
	if score < 0 {
		score = 0
	}
	return score
}
