package httpapi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"sellergate.io/internal/authz"
	"sellergate.io/internal/feature"
)

type checkResponse struct {
	SellerID  string `json:"seller_id"`
	ProductID string `json:"product_id"`
	Approved  bool   `json:"approved"`
}

type bulkCheckRequest struct {
	SellerID   string   `json:"seller_id" validate:"required,max=128"`
	ProductIDs []string `json:"product_ids" validate:"required,min=1,max=500,dive,required,max=128"`
}

type warmRequest struct {
	SellerID string `json:"seller_id" validate:"required,max=128"`
}

type warmResponse struct {
	SellerID string `json:"seller_id"`
	Warmed   int    `json:"warmed"`
}

type featureState struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

func pairFromQuery(r *http.Request) (string, string, bool) {
	q := r.URL.Query()
	sellerID := strings.TrimSpace(q.Get("seller_id"))
	productID := strings.TrimSpace(q.Get("product_id"))
	return sellerID, productID, sellerID != "" && productID != ""
}

func (a *API) gateCheck(w http.ResponseWriter, r *http.Request) {
	sellerID, productID, ok := pairFromQuery(r)
	if !ok {
		writeError(w, r, http.StatusUnprocessableEntity, string(authz.CodeInvalidInput), "seller_id and product_id are required")
		return
	}
	writeJSON(w, http.StatusOK, checkResponse{
		SellerID:  sellerID,
		ProductID: productID,
		Approved:  a.gate.IsApproved(r.Context(), sellerID, productID),
	})
}

func (a *API) gateBulkCheck(w http.ResponseWriter, r *http.Request) {
	var req bulkCheckRequest
	if !a.bind(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, a.gate.BulkIsApproved(r.Context(), req.SellerID, req.ProductIDs))
}

func (a *API) gateStatus(w http.ResponseWriter, r *http.Request) {
	sellerID, productID, ok := pairFromQuery(r)
	if !ok {
		writeError(w, r, http.StatusUnprocessableEntity, string(authz.CodeInvalidInput), "seller_id and product_id are required")
		return
	}
	writeJSON(w, http.StatusOK, a.gate.Status(r.Context(), sellerID, productID))
}

func (a *API) gateWarm(w http.ResponseWriter, r *http.Request) {
	var req warmRequest
	if !a.bind(w, r, &req) {
		return
	}
	if !sellerScope(actorFrom(r), req.SellerID) {
		writeAuthzError(w, r, authz.ErrForbidden)
		return
	}
	n, err := a.gate.WarmCache(r.Context(), req.SellerID)
	if err != nil {
		a.logger.Warn("cache warm failed", zap.String("seller_id", req.SellerID), zap.Error(err))
		writeError(w, r, http.StatusServiceUnavailable, string(authz.CodeSystemError), "cache warm failed")
		return
	}
	writeJSON(w, http.StatusOK, warmResponse{SellerID: req.SellerID, Warmed: n})
}

func (a *API) getFeature(w http.ResponseWriter, r *http.Request) {
	on, err := a.flag.Enabled(r.Context())
	if err != nil {
		a.logger.Error("feature flag read failed", zap.Error(err))
		writeAuthzError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, featureState{Enabled: &on})
}

func (a *API) putFeature(w http.ResponseWriter, r *http.Request) {
	setter, ok := a.flag.(feature.Setter)
	if !ok {
		writeError(w, r, http.StatusNotImplemented, "NOT_SUPPORTED", "feature source is read-only")
		return
	}
	var req featureState
	if !a.bind(w, r, &req) {
		return
	}
	if err := setter.SetEnabled(r.Context(), *req.Enabled); err != nil {
		a.logger.Error("feature flag write failed", zap.Error(err))
		writeAuthzError(w, r, err)
		return
	}
	a.logger.Info("feature flag changed",
		zap.Bool("enabled", *req.Enabled),
		zap.String("actor_id", actorFrom(r).ID),
		zap.String("request_id", RequestIDFromContext(r.Context())),
	)
	writeJSON(w, http.StatusOK, req)
}
