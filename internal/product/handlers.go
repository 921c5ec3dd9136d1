package product

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/hexlattice/scanhub/api/schemas"
)

// Handler serves the product catalog over HTTP.
type Handler struct {
	store  *Store
	logger *zap.Logger
}

func NewHandler(store *Store, logger *zap.Logger) *Handler {
	return &Handler{store: store, logger: logger.Named("product_api")}
}

// Register mounts the product routes on the router.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/products", h.handleList).Methods(http.MethodGet)
	r.HandleFunc("/products/{barcode}", h.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/products/{barcode}", h.handleAction).Methods(http.MethodPost)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	sendSuccess(w, h.store.List())
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	barcode := mux.Vars(r)["barcode"]
	rec, err := h.store.Get(barcode)
	if err != nil {
		sendError(w, http.StatusNotFound, ErrNotFound.Error())
		return
	}
	sendSuccess(w, rec)
}

func (h *Handler) handleAction(w http.ResponseWriter, r *http.Request) {
	barcode := mux.Vars(r)["barcode"]

	var action schemas.ProductAction
	if err := parseJSON(r, &action); err != nil {
		sendError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	rec, err := h.store.Apply(barcode, action)
	if err != nil {
		var verr *ValidationError
		switch {
		case errors.Is(err, ErrNotFound):
			sendError(w, http.StatusNotFound, ErrNotFound.Error())
		case errors.As(err, &verr):
			sendError(w, http.StatusBadRequest, verr.Reason)
		default:
			h.logger.Error("Product action failed.", zap.String("barcode", barcode), zap.Error(err))
			sendError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	sendSuccess(w, rec)
}

func parseJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func sendJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func sendSuccess(w http.ResponseWriter, data interface{}) {
	sendJSON(w, http.StatusOK, schemas.APIResponse{Success: true, Data: data})
}

func sendError(w http.ResponseWriter, statusCode int, message string) {
	sendJSON(w, statusCode, schemas.APIResponse{Success: false, Error: message})
}
