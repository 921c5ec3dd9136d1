// Package schemas defines the shared data types exchanged between the
// scanner core, the product service, and the HTTP surface.
package schemas

import "time"

// Detection is a single decoded symbol produced from one video frame.
// Detections are ephemeral: the scanner discards anything below the
// configured confidence threshold before it can touch state.
type Detection struct {
	// Code is the decoded symbol payload (e.g. an EAN-13 digit string).
	Code string `json:"code"`
	// Format names the symbology that produced the code (QR_CODE, EAN_13, ...).
	Format string `json:"format"`
	// Confidence is the decoder-reported certainty, scaled 0-100.
	Confidence float64 `json:"confidence"`
	// At is the wall-clock time the frame was decoded.
	At time.Time `json:"at"`
}

// ProductRecord is one entry in the product catalog, keyed by barcode.
type ProductRecord struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Price     float64   `json:"price"`
	Stock     int       `json:"stock"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Stock mutation actions accepted by POST /products/{barcode}.
const (
	ActionIncreaseStock = "increase_stock"
	ActionDecreaseStock = "decrease_stock"
	ActionSetPrice      = "set_price"
)

// ProductAction is the request body for POST /products/{barcode}.
type ProductAction struct {
	Action   string  `json:"action"`
	Quantity int     `json:"quantity,omitempty"`
	Price    float64 `json:"price,omitempty"`
}

// APIResponse is the JSON envelope used by every HTTP endpoint.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// CameraInfo describes one enumerated video input device.
type CameraInfo struct {
	DeviceID string `json:"device_id"`
	Label    string `json:"label"`
	Default  bool   `json:"default"`
}

// ScannerStatus is the snapshot returned by GET /scanner/status.
type ScannerStatus struct {
	State     string `json:"state"`
	DeviceID  string `json:"device_id,omitempty"`
	LastCode  string `json:"last_code,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

// SwitchRequest is the body for POST /scanner/switch.
type SwitchRequest struct {
	DeviceID string `json:"device_id"`
}
