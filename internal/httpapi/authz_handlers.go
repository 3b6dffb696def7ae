package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"sellergate.io/internal/audit"
	"sellergate.io/internal/authz"
)

type requestAuthorizationRequest struct {
	SellerID      string         `json:"seller_id" validate:"omitempty,max=128"`
	ProductID     string         `json:"product_id" validate:"required,max=128"`
	SupplierID    string         `json:"supplier_id" validate:"omitempty,max=128"`
	Justification string         `json:"justification" validate:"max=2000"`
	Fields        map[string]any `json:"fields"`
}

type rejectRequest struct {
	Reason       string `json:"reason" validate:"max=2000"`
	CooldownDays int    `json:"cooldown_days" validate:"gte=0,lte=3650"`
}

type revokeRequest struct {
	Reason string `json:"reason" validate:"max=2000"`
}

type auditResponse struct {
	AuthorizationID string        `json:"authorization_id"`
	Items           []audit.Entry `json:"items"`
}

func (a *API) requestAuthorization(w http.ResponseWriter, r *http.Request) {
	var req requestAuthorizationRequest
	if !a.bind(w, r, &req) {
		return
	}
	actor := actorFrom(r)
	if req.SellerID != "" && strings.TrimSpace(req.SellerID) != actor.ID {
		writeAuthzError(w, r, authz.ErrForbidden)
		return
	}
	rec, err := a.authz.Request(r.Context(), authz.RequestInput{
		SellerID:   actor.ID,
		ProductID:  req.ProductID,
		SupplierID: req.SupplierID,
		Metadata: authz.Metadata{
			Justification: req.Justification,
			Fields:        req.Fields,
		},
	})
	if err != nil {
		writeAuthzError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// visibleRecord loads the path's record. Records outside the caller's scope are
// reported as missing.
func (a *API) visibleRecord(w http.ResponseWriter, r *http.Request) (authz.Record, bool) {
	rec, err := a.authz.Get(r.Context(), chi.URLParam(r, "id"))
	if err == nil && !authz.CanView(actorFrom(r), rec) {
		err = authz.ErrNotFound
	}
	if err != nil {
		writeAuthzError(w, r, err)
		return authz.Record{}, false
	}
	return rec, true
}

func (a *API) getAuthorization(w http.ResponseWriter, r *http.Request) {
	rec, ok := a.visibleRecord(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) approveAuthorization(w http.ResponseWriter, r *http.Request) {
	rec, err := a.authz.Approve(r.Context(), chi.URLParam(r, "id"), actorFrom(r))
	if err != nil {
		writeAuthzError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) rejectAuthorization(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if !a.bind(w, r, &req) {
		return
	}
	rec, err := a.authz.Reject(r.Context(), chi.URLParam(r, "id"), actorFrom(r), req.Reason, req.CooldownDays)
	if err != nil {
		writeAuthzError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) revokeAuthorization(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if !a.bind(w, r, &req) {
		return
	}
	rec, err := a.authz.Revoke(r.Context(), chi.URLParam(r, "id"), actorFrom(r), req.Reason)
	if err != nil {
		writeAuthzError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) cancelAuthorization(w http.ResponseWriter, r *http.Request) {
	rec, err := a.authz.Cancel(r.Context(), chi.URLParam(r, "id"), actorFrom(r).ID)
	if err != nil {
		writeAuthzError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) authorizationAudit(w http.ResponseWriter, r *http.Request) {
	rec, ok := a.visibleRecord(w, r)
	if !ok {
		return
	}
	entries, err := a.authz.AuditLogs(r.Context(), rec.ID)
	if err != nil {
		writeAuthzError(w, r, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, auditResponse{AuthorizationID: rec.ID, Items: entries})
}

func (a *API) sellerLimits(w http.ResponseWriter, r *http.Request) {
	sellerID := chi.URLParam(r, "sellerID")
	if !sellerScope(actorFrom(r), sellerID) {
		writeAuthzError(w, r, authz.ErrForbidden)
		return
	}
	limits, err := a.authz.SellerLimits(r.Context(), sellerID)
	if err != nil {
		writeAuthzError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, limits)
}
