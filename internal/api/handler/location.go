package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/nearping/proximity-api/internal/api/respond"
	"github.com/nearping/proximity-api/internal/location"
)

// updateRequest is the POST /location/update body. Lat/lng are pointers so
// a missing field is distinguishable from zero.
type updateRequest struct {
	UserID   string   `json:"userId"`
	Lat      *float64 `json:"lat"`
	Lng      *float64 `json:"lng"`
	Accuracy *float64 `json:"accuracy"`
}

// updateResponse is the success shape for POST /location/update.
type updateResponse struct {
	Success        bool                  `json:"success"`
	Nearby         []location.NearbyUser `json:"nearby"`
	ProximityCount int                   `json:"proximityCount"`
	Notified       bool                  `json:"notified"`
}

// ignoredResponse is the success-shaped rejection for poor-accuracy fixes.
type ignoredResponse struct {
	Success bool                  `json:"success"`
	Message string                `json:"message"`
	Nearby  []location.NearbyUser `json:"nearby"`
}

// UpdateLocation ingests a device location report.
// @Summary Update user location
// @Description Records a location fix, searches for nearby users, and runs the proximity alert hysteresis. Poor-accuracy fixes are ignored with a success-shaped response.
// @Tags location
// @Accept json
// @Produce json
// @Param request body handler.updateRequest true "Location report"
// @Success 200 {object} handler.updateResponse
// @Failure 400 {object} respond.ErrorResponse
// @Failure 500 {object} respond.ErrorResponse
// @Router /location/update [post]
func (h *Handler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.Lat == nil || req.Lng == nil {
		respond.WriteError(w, http.StatusBadRequest, "Latitude and longitude are required")
		return
	}

	outcome, err := h.svc.HandleReport(r.Context(), location.Report{
		UserID:   req.UserID,
		Lat:      *req.Lat,
		Lng:      *req.Lng,
		Accuracy: req.Accuracy,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	if outcome.Ignored {
		respond.WriteJSON(w, http.StatusOK, ignoredResponse{
			Success: false,
			Message: "Location ignored due to poor accuracy",
			Nearby:  []location.NearbyUser{},
		})
		return
	}

	respond.WriteJSON(w, http.StatusOK, updateResponse{
		Success:        true,
		Nearby:         outcome.Nearby,
		ProximityCount: outcome.ProximityCount,
		Notified:       outcome.Notified,
	})
}

// GetNearby returns active users near a point.
// @Summary Query nearby users
// @Description Returns active users within the alert radius of the given point, excluding the querying user.
// @Tags location
// @Produce json
// @Param userId query string true "Querying user id"
// @Param lat query number true "Latitude"
// @Param lng query number true "Longitude"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} respond.ErrorResponse
// @Failure 500 {object} respond.ErrorResponse
// @Router /location/nearby [get]
func (h *Handler) GetNearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := q.Get("userId")

	lat, latErr := strconv.ParseFloat(q.Get("lat"), 64)
	lng, lngErr := strconv.ParseFloat(q.Get("lng"), 64)
	if latErr != nil || lngErr != nil {
		respond.WriteError(w, http.StatusBadRequest, "Latitude and longitude are required")
		return
	}

	users, err := h.svc.Nearby(r.Context(), userID, lat, lng)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"users": users})
}

// Cleanup removes stale location records.
// @Summary Remove stale location records
// @Description Deletes records whose last update is older than the retention window.
// @Tags maintenance
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 500 {object} respond.ErrorResponse
// @Router /cleanup [delete]
func (h *Handler) Cleanup(w http.ResponseWriter, r *http.Request) {
	removed, err := h.sweeper.RemoveStale(r.Context(), h.cfg.RetentionWindow)
	if err != nil {
		h.logger.Error("cleanup sweep failed", "error", err)
		respond.WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"removed": removed,
	})
}

// writeServiceError maps the service error taxonomy onto wire responses.
// Validation problems are the client's; everything else is a generic 500
// with the cause logged.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if location.IsValidation(err) {
		respond.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.logger.Error("location request failed",
		"method", r.Method, "path", r.URL.Path, "error", err)
	respond.WriteError(w, http.StatusInternalServerError, "Internal server error")
}
