package plots

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/LandHubTZ/LandHub-Backend/internal/geo"
	"github.com/LandHubTZ/LandHub-Backend/internal/utils"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Handler struct {
	repo    *Repository
	manager *ReservationManager
}

func NewHandler(repo *Repository, manager *ReservationManager) *Handler {
	return &Handler{repo: repo, manager: manager}
}

// SearchHandler lists plots with optional filters. Defaults to available
// plots, matching what the storefront map shows.
func (h *Handler) SearchHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filters := SearchFilters{
		Search:    q.Get("search"),
		UsageType: q.Get("usage_type"),
		Status:    StatusAvailable,
	}
	if s := q.Get("status"); s != "" {
		filters.Status = Status(s)
	}
	if v := q.Get("min_price"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			http.Error(w, "Invalid min_price", http.StatusBadRequest)
			return
		}
		filters.MinPrice = &d
	}
	if v := q.Get("max_price"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			http.Error(w, "Invalid max_price", http.StatusBadRequest)
			return
		}
		filters.MaxPrice = &d
	}
	if v := q.Get("min_area"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			http.Error(w, "Invalid min_area", http.StatusBadRequest)
			return
		}
		filters.MinArea = &f
	}
	if v := q.Get("max_area"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			http.Error(w, "Invalid max_area", http.StatusBadRequest)
			return
		}
		filters.MaxArea = &f
	}
	if v := q.Get("location_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			http.Error(w, "Invalid location_id", http.StatusBadRequest)
			return
		}
		filters.LocationID = &id
	}

	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	results, err := h.repo.Search(r.Context(), filters, limit, offset)
	if err != nil {
		http.Error(w, "Failed to search plots", http.StatusInternalServerError)
		return
	}
	if results == nil {
		results = []Plot{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(results)
}

func (h *Handler) GetHandler(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "plotID"))
	if err != nil {
		http.Error(w, "Invalid plot id", http.StatusBadRequest)
		return
	}

	plot, err := h.repo.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrPlotNotFound) {
			http.Error(w, "Plot not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to fetch plot", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(plot)
}

// InAreaHandler lists available plots inside a caller-drawn polygon, for the
// "search this area" map tool. The area arrives as a GeoJSON polygon.
func (h *Handler) InAreaHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Area  geo.Polygon `json:"area"`
		Limit int         `json:"limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request format", http.StatusBadRequest)
		return
	}
	outer := body.Area.Outer()
	if len(outer) < 4 || !outer.Closed() {
		http.Error(w, "Search area must be a closed polygon", http.StatusBadRequest)
		return
	}

	results, err := h.repo.WithinArea(r.Context(), body.Area, body.Limit)
	if err != nil {
		http.Error(w, "Failed to search area", http.StatusInternalServerError)
		return
	}
	if results == nil {
		results = []Plot{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"plots": results,
		"count": len(results),
	})
}

// NearHandler lists available plots around a point, nearest first.
// radius_km defaults to 5.
func (h *Handler) NearHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	lat, latErr := strconv.ParseFloat(q.Get("lat"), 64)
	lng, lngErr := strconv.ParseFloat(q.Get("lng"), 64)
	if latErr != nil || lngErr != nil {
		http.Error(w, "lat and lng are required", http.StatusBadRequest)
		return
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		http.Error(w, "Coordinates out of range", http.StatusBadRequest)
		return
	}

	radiusKm := 5.0
	if v := q.Get("radius_km"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			http.Error(w, "Invalid radius_km", http.StatusBadRequest)
			return
		}
		radiusKm = f
	}
	limit, _ := strconv.Atoi(q.Get("limit"))

	results, err := h.repo.NearPoint(r.Context(), lat, lng, radiusKm*1000, limit)
	if err != nil {
		http.Error(w, "Failed to search near point", http.StatusInternalServerError)
		return
	}
	if results == nil {
		results = []Plot{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"plots": results,
		"count": len(results),
	})
}

// StatsHandler reports inventory counts and price spread, optionally scoped
// to one location.
func (h *Handler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	var locationID *uuid.UUID
	if v := r.URL.Query().Get("location_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			http.Error(w, "Invalid location_id", http.StatusBadRequest)
			return
		}
		locationID = &id
	}

	stats, err := h.repo.Stats(r.Context(), locationID)
	if err != nil {
		http.Error(w, "Failed to compute stats", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// LockHandler reserves a plot for the caller's cart.
func (h *Handler) LockHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := utils.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "plotID"))
	if err != nil {
		http.Error(w, "Invalid plot id", http.StatusBadRequest)
		return
	}

	plot, err := h.manager.Lock(r.Context(), id, userID)
	if err != nil {
		writeReservationError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(plot)
}

// UnlockHandler releases the caller's own reservation.
func (h *Handler) UnlockHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := utils.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "plotID"))
	if err != nil {
		http.Error(w, "Invalid plot id", http.StatusBadRequest)
		return
	}

	plot, err := h.manager.Unlock(r.Context(), id, userID)
	if err != nil {
		writeReservationError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(plot)
}

// StatusHandler is the admin/order-driven status override (e.g. marking a
// plot sold after payment clears).
func (h *Handler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "plotID"))
	if err != nil {
		http.Error(w, "Invalid plot id", http.StatusBadRequest)
		return
	}

	var body struct {
		Status Status `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request format", http.StatusBadRequest)
		return
	}
	switch body.Status {
	case StatusAvailable, StatusLocked, StatusPendingPayment, StatusSold:
	default:
		http.Error(w, "Invalid status", http.StatusBadRequest)
		return
	}

	if err := h.repo.SetStatus(r.Context(), id, body.Status); err != nil {
		if errors.Is(err, ErrPlotNotFound) {
			http.Error(w, "Plot not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to update status", http.StatusInternalServerError)
		return
	}

	plot, err := h.repo.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "Failed to fetch plot", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(plot)
}

func writeReservationError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, ErrPlotNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrNotOwner):
		status = http.StatusForbidden
	case errors.Is(err, ErrAlreadyLocked), errors.Is(err, ErrInvalidState):
		status = http.StatusConflict
	default:
		http.Error(w, "Reservation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
