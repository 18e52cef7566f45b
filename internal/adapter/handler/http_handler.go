package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hirebirhan/amtradingplc-sub002/internal/core/domain"
	"github.com/hirebirhan/amtradingplc-sub002/internal/core/service"
)

// HTTPHandler is the JSON surface consumed by the excluded layers (sale,
// purchase and adjustment workflows, report UIs, schedulers). Authorization
// happens there; every mutating request carries an explicit actor_id.
type HTTPHandler struct {
	stock        *service.StockService
	reservations *service.ReservationService
	transfers    *service.TransferService
	reaper       *service.Reaper
}

func NewHTTPHandler(stock *service.StockService, reservations *service.ReservationService, transfers *service.TransferService, reaper *service.Reaper) *HTTPHandler {
	return &HTTPHandler{
		stock:        stock,
		reservations: reservations,
		transfers:    transfers,
		reaper:       reaper,
	}
}

func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.HealthCheck)
	mux.HandleFunc("/api/stock", h.GetStock)
	mux.HandleFunc("/api/movements", h.QueryMovements)
	mux.HandleFunc("/api/adjustments", h.RecordAdjustment)
	mux.HandleFunc("/api/reservations", h.Reserve)
	mux.HandleFunc("/api/reservations/release", h.ReleaseReservation)
	mux.HandleFunc("/api/reservations/expire", h.ExpireReservations)
	mux.HandleFunc("/api/transfers", h.Transfers)
	mux.HandleFunc("/api/transfers/approve", h.ApproveTransfer)
	mux.HandleFunc("/api/transfers/reject", h.RejectTransfer)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type stockResponse struct {
	ItemID       int64           `json:"item_id"`
	LocationType string          `json:"location_type"`
	LocationID   int64           `json:"location_id"`
	OnHand       decimal.Decimal `json:"on_hand"`
	Reserved     decimal.Decimal `json:"reserved"`
	Available    decimal.Decimal `json:"available"`
	ReorderLevel decimal.Decimal `json:"reorder_level"`
	BelowReorder bool            `json:"below_reorder"`
}

func (h *HTTPHandler) GetStock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	key, ok := keyFromQuery(w, r)
	if !ok {
		return
	}

	level, err := h.stock.GetLevel(r.Context(), key)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, stockResponse{
		ItemID:       key.ItemID,
		LocationType: string(key.LocationType),
		LocationID:   key.LocationID,
		OnHand:       level.OnHand,
		Reserved:     level.Reserved,
		Available:    level.Available,
		ReorderLevel: level.ReorderLevel,
		BelowReorder: level.BelowReorder,
	})
}

type movementResponse struct {
	ID             int64           `json:"id"`
	ItemID         int64           `json:"item_id"`
	LocationType   string          `json:"location_type"`
	LocationID     int64           `json:"location_id"`
	QuantityBefore decimal.Decimal `json:"quantity_before"`
	QuantityChange decimal.Decimal `json:"quantity_change"`
	QuantityAfter  decimal.Decimal `json:"quantity_after"`
	ReferenceType  string          `json:"reference_type"`
	ReferenceID    int64           `json:"reference_id"`
	ActorID        int64           `json:"actor_id"`
	CreatedAt      time.Time       `json:"created_at"`
}

func (h *HTTPHandler) QueryMovements(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	filter := domain.MovementFilter{
		ItemID:        parseInt64(q.Get("item_id")),
		LocationType:  domain.LocationType(q.Get("location_type")),
		LocationID:    parseInt64(q.Get("location_id")),
		ReferenceType: domain.ReferenceType(q.Get("reference_type")),
		Limit:         int(parseInt64(q.Get("limit"))),
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid from timestamp"})
			return
		}
		filter.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid to timestamp"})
			return
		}
		filter.To = t
	}

	entries, err := h.stock.QueryMovements(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]movementResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toMovementResponse(e))
	}
	writeJSON(w, http.StatusOK, out)
}

type adjustmentRequest struct {
	RequestID     string          `json:"request_id"`
	ItemID        int64           `json:"item_id"`
	LocationType  string          `json:"location_type"`
	LocationID    int64           `json:"location_id"`
	QuantityDelta decimal.Decimal `json:"quantity_change"`
	ReferenceType string          `json:"reference_type"`
	ReferenceID   int64           `json:"reference_id"`
	ActorID       int64           `json:"actor_id"`
}

func (h *HTTPHandler) RecordAdjustment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req adjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.ItemID <= 0 || req.LocationID <= 0 || req.ActorID <= 0 || req.QuantityDelta.IsZero() {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing required fields"})
		return
	}

	refType := domain.ReferenceType(req.ReferenceType)
	if refType == "" {
		refType = domain.RefAdjustment
	}
	if !refType.Valid() {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid reference type"})
		return
	}

	entry, err := h.stock.RecordMovement(r.Context(), req.RequestID, domain.Movement{
		Key: domain.StockKey{
			ItemID:       req.ItemID,
			LocationType: domain.LocationType(req.LocationType),
			LocationID:   req.LocationID,
		},
		Delta:     req.QuantityDelta,
		Reference: domain.Reference{Type: refType, ID: req.ReferenceID},
		ActorID:   req.ActorID,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toMovementResponse(entry))
}

type reserveRequest struct {
	ItemID        int64           `json:"item_id"`
	LocationType  string          `json:"location_type"`
	LocationID    int64           `json:"location_id"`
	Quantity      decimal.Decimal `json:"quantity"`
	ReferenceType string          `json:"reference_type"`
	ReferenceID   int64           `json:"reference_id"`
	TTLSeconds    int64           `json:"ttl_seconds"`
	ActorID       int64           `json:"actor_id"`
}

type reservationResponse struct {
	ID            string          `json:"id"`
	ItemID        int64           `json:"item_id"`
	LocationType  string          `json:"location_type"`
	LocationID    int64           `json:"location_id"`
	Quantity      decimal.Decimal `json:"quantity"`
	ReferenceType string          `json:"reference_type"`
	ReferenceID   int64           `json:"reference_id"`
	ExpiresAt     time.Time       `json:"expires_at"`
	CreatedAt     time.Time       `json:"created_at"`
}

func (h *HTTPHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req reserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.ItemID <= 0 || req.LocationID <= 0 || req.ActorID <= 0 ||
		!req.Quantity.IsPositive() || req.TTLSeconds <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing required fields"})
		return
	}

	res, err := h.reservations.Reserve(r.Context(), service.ReserveInput{
		Key: domain.StockKey{
			ItemID:       req.ItemID,
			LocationType: domain.LocationType(req.LocationType),
			LocationID:   req.LocationID,
		},
		Quantity:  req.Quantity,
		Reference: domain.Reference{Type: domain.ReferenceType(req.ReferenceType), ID: req.ReferenceID},
		TTL:       time.Duration(req.TTLSeconds) * time.Second,
		ActorID:   req.ActorID,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, reservationResponse{
		ID:            res.ID,
		ItemID:        res.Key.ItemID,
		LocationType:  string(res.Key.LocationType),
		LocationID:    res.Key.LocationID,
		Quantity:      res.Quantity,
		ReferenceType: string(res.Reference.Type),
		ReferenceID:   res.Reference.ID,
		ExpiresAt:     res.ExpiresAt,
		CreatedAt:     res.CreatedAt,
	})
}

type releaseRequest struct {
	ReservationID string `json:"reservation_id"`
}

func (h *HTTPHandler) ReleaseReservation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req releaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ReservationID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "reservation_id required"})
		return
	}

	if err := h.reservations.Release(r.Context(), req.ReservationID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "released"})
}

type expireRequest struct {
	DryRun bool `json:"dry_run"`
}

type expireResponse struct {
	Expired int  `json:"expired"`
	DryRun  bool `json:"dry_run"`
}

// ExpireReservations is the on-demand hook for external schedulers, and a
// dry-run report of what a sweep would release.
func (h *HTTPHandler) ExpireReservations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req expireRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}
	}

	var (
		n   int
		err error
	)
	if req.DryRun {
		n, err = h.reaper.DryRun(r.Context())
	} else {
		n, err = h.reaper.RunOnce(r.Context())
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, expireResponse{Expired: n, DryRun: req.DryRun})
}

type transferItemPayload struct {
	ItemID   int64           `json:"item_id"`
	Quantity decimal.Decimal `json:"quantity"`
	UnitCost decimal.Decimal `json:"unit_cost"`
}

type createTransferRequest struct {
	SourceType      string                `json:"source_type"`
	SourceID        int64                 `json:"source_id"`
	DestinationType string                `json:"destination_type"`
	DestinationID   int64                 `json:"destination_id"`
	Items           []transferItemPayload `json:"items"`
	Note            string                `json:"note"`
	Hold            bool                  `json:"hold"`
	HoldTTLSeconds  int64                 `json:"hold_ttl_seconds"`
	ActorID         int64                 `json:"actor_id"`
}

type transferResponse struct {
	ID              int64                 `json:"id"`
	ReferenceCode   string                `json:"reference_code"`
	SourceType      string                `json:"source_type"`
	SourceID        int64                 `json:"source_id"`
	SourceName      string                `json:"source_name,omitempty"`
	DestinationType string                `json:"destination_type"`
	DestinationID   int64                 `json:"destination_id"`
	DestinationName string                `json:"destination_name,omitempty"`
	Status          string                `json:"status"`
	Note            string                `json:"note,omitempty"`
	LastError       string                `json:"last_error,omitempty"`
	RejectReason    string                `json:"reject_reason,omitempty"`
	CreatedBy       int64                 `json:"created_by"`
	ApprovedBy      int64                 `json:"approved_by,omitempty"`
	RejectedBy      int64                 `json:"rejected_by,omitempty"`
	Items           []transferItemPayload `json:"items"`
	CreatedAt       time.Time             `json:"created_at"`
	CompletedAt     *time.Time            `json:"completed_at,omitempty"`
}

// Transfers dispatches GET (lookup/document, list) and POST (create).
func (h *HTTPHandler) Transfers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.getTransfer(w, r)
	case http.MethodPost:
		h.createTransfer(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *HTTPHandler) createTransfer(w http.ResponseWriter, r *http.Request) {
	var req createTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.SourceID <= 0 || req.DestinationID <= 0 || req.ActorID <= 0 || len(req.Items) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing required fields"})
		return
	}

	items := make([]domain.TransferItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, domain.TransferItem{
			ItemID:   item.ItemID,
			Quantity: item.Quantity,
			UnitCost: item.UnitCost,
		})
	}

	tr, err := h.transfers.Create(r.Context(), service.CreateTransferInput{
		Source:      domain.Location{Type: domain.LocationType(req.SourceType), ID: req.SourceID},
		Destination: domain.Location{Type: domain.LocationType(req.DestinationType), ID: req.DestinationID},
		Items:       items,
		Note:        req.Note,
		ActorID:     req.ActorID,
		Hold:        req.Hold,
		HoldTTL:     time.Duration(req.HoldTTLSeconds) * time.Second,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toTransferResponse(tr, "", ""))
}

func (h *HTTPHandler) getTransfer(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if code := q.Get("reference_code"); code != "" {
		tr, err := h.transfers.GetByCode(r.Context(), code)
		if err != nil {
			writeError(w, err)
			return
		}
		if tr == nil {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "transfer not found"})
			return
		}
		writeJSON(w, http.StatusOK, toTransferResponse(tr, "", ""))
		return
	}

	if id := parseInt64(q.Get("id")); id > 0 {
		doc, err := h.transfers.Document(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toTransferResponse(&doc.Transfer, doc.SourceName, doc.DestinationName))
		return
	}

	status := domain.TransferStatus(q.Get("status"))
	if status == "" {
		status = domain.TransferPending
	}
	transfers, err := h.transfers.List(r.Context(), status, int(parseInt64(q.Get("limit"))))
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]transferResponse, 0, len(transfers))
	for i := range transfers {
		out = append(out, toTransferResponse(&transfers[i], "", ""))
	}
	writeJSON(w, http.StatusOK, out)
}

type transferActionRequest struct {
	TransferID int64  `json:"transfer_id"`
	ActorID    int64  `json:"actor_id"`
	Reason     string `json:"reason"`
}

func (h *HTTPHandler) ApproveTransfer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req transferActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TransferID <= 0 || req.ActorID <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "transfer_id and actor_id required"})
		return
	}

	tr, err := h.transfers.Approve(r.Context(), req.TransferID, req.ActorID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransferResponse(tr, "", ""))
}

func (h *HTTPHandler) RejectTransfer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req transferActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TransferID <= 0 || req.ActorID <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "transfer_id and actor_id required"})
		return
	}

	tr, err := h.transfers.Reject(r.Context(), req.TransferID, req.ActorID, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransferResponse(tr, "", ""))
}

func toMovementResponse(e domain.LedgerEntry) movementResponse {
	return movementResponse{
		ID:             e.ID,
		ItemID:         e.Key.ItemID,
		LocationType:   string(e.Key.LocationType),
		LocationID:     e.Key.LocationID,
		QuantityBefore: e.QuantityBefore,
		QuantityChange: e.QuantityChange,
		QuantityAfter:  e.QuantityAfter,
		ReferenceType:  string(e.Reference.Type),
		ReferenceID:    e.Reference.ID,
		ActorID:        e.ActorID,
		CreatedAt:      e.CreatedAt,
	}
}

func toTransferResponse(tr *domain.Transfer, sourceName, destName string) transferResponse {
	items := make([]transferItemPayload, 0, len(tr.Items))
	for _, item := range tr.Items {
		items = append(items, transferItemPayload{
			ItemID:   item.ItemID,
			Quantity: item.Quantity,
			UnitCost: item.UnitCost,
		})
	}
	return transferResponse{
		ID:              tr.ID,
		ReferenceCode:   tr.ReferenceCode,
		SourceType:      string(tr.Source.Type),
		SourceID:        tr.Source.ID,
		SourceName:      sourceName,
		DestinationType: string(tr.Destination.Type),
		DestinationID:   tr.Destination.ID,
		DestinationName: destName,
		Status:          string(tr.Status),
		Note:            tr.Note,
		LastError:       tr.LastError,
		RejectReason:    tr.RejectReason,
		CreatedBy:       tr.CreatedBy,
		ApprovedBy:      tr.ApprovedBy,
		RejectedBy:      tr.RejectedBy,
		Items:           items,
		CreatedAt:       tr.CreatedAt,
		CompletedAt:     tr.CompletedAt,
	}
}

func keyFromQuery(w http.ResponseWriter, r *http.Request) (domain.StockKey, bool) {
	q := r.URL.Query()
	key := domain.StockKey{
		ItemID:       parseInt64(q.Get("item_id")),
		LocationType: domain.LocationType(q.Get("location_type")),
		LocationID:   parseInt64(q.Get("location_id")),
	}
	if key.ItemID <= 0 || key.LocationID <= 0 || !key.LocationType.Valid() {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "item_id, location_type and location_id required"})
		return domain.StockKey{}, false
	}
	return key, true
}

func parseInt64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrInsufficientAvailableStock),
		errors.Is(err, domain.ErrInvalidTransferState),
		errors.Is(err, domain.ErrDuplicateRequest):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrTransferExecutionFailed):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
