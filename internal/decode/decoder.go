// Package decode turns camera frames into barcode detections and manages
// the lifecycle of a decoding session over a frame stream.
package decode

import (
	"errors"
	"image"

	"github.com/hexlattice/scanhub/api/schemas"
)

// ErrNoCode indicates the frame contained no decodable barcode. It is the
// expected outcome for most frames and is not reported as a failure.
var ErrNoCode = errors.New("no barcode in frame")

// Decoder extracts a single barcode detection from an image.
type Decoder interface {
	Decode(img image.Image) (schemas.Detection, error)
}
