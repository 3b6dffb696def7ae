package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"sellergate.io/internal/audit"
	"sellergate.io/internal/auth"
	"sellergate.io/internal/authz"
	"sellergate.io/internal/cache"
	"sellergate.io/internal/feature"
	"sellergate.io/internal/gate"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	tokens  *auth.Tokens
	flag    *feature.Toggle
	t       *testing.T
}

type failingProbe struct{}

func (failingProbe) Check(context.Context) error { return errors.New("db unreachable") }

func newTestAPI(t *testing.T, ready readinessChecker) *apiClient {
	t.Helper()

	store := authz.NewInMemory(audit.NewInMemory())
	flag := feature.NewToggle(true)
	gateSvc := gate.New(store, cache.NewMemory(), flag)
	authzSvc, err := authz.NewService(store, audit.NewLog(store.Audit(), nil), flag,
		authz.WithInvalidator(gateSvc),
		authz.WithProductLimit(2),
	)
	if err != nil {
		t.Fatalf("new authz service: %v", err)
	}
	tokens, err := auth.NewTokens("test-secret")
	if err != nil {
		t.Fatalf("new tokens: %v", err)
	}
	api, err := New(Config{
		Authz:         authzSvc,
		Gate:          gateSvc,
		Flag:          flag,
		Tokens:        tokens,
		Ready:         ready,
		Version:       "test",
		RatePerSecond: 1000,
		RateBurst:     1000,
	})
	if err != nil {
		t.Fatalf("new api: %v", err)
	}

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		tokens:  tokens,
		flag:    flag,
		t:       t,
	}
}

func (c *apiClient) token(subject string, role authz.Role) string {
	c.t.Helper()
	tok, _, err := c.tokens.Generate(subject, role, time.Hour)
	if err != nil {
		c.t.Fatalf("generate token: %v", err)
	}
	return tok
}

func (c *apiClient) do(method, path, token string, body any) *http.Response {
	c.t.Helper()
	var payload io.Reader
	if body != nil {
		raw, ok := body.(string)
		if !ok {
			b, err := json.Marshal(body)
			if err != nil {
				c.t.Fatalf("marshal body: %v", err)
			}
			raw = string(b)
		}
		payload = bytes.NewReader([]byte(raw))
	}
	req, err := http.NewRequest(method, c.baseURL+path, payload)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	c.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response, want int) T {
	t.Helper()
	var out T
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected status %d, got %d: %s", want, resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestAuthorizationLifecycleOverHTTP(t *testing.T) {
	c := newTestAPI(t, nil)
	seller := c.token("S1", authz.RoleSeller)
	supplier := c.token("U1", authz.RoleSupplier)

	rec := decode[authz.Record](t, c.do(http.MethodPost, "/v1/authorizations", seller, map[string]any{
		"product_id":    "P1",
		"supplier_id":   "U1",
		"justification": "regional distributor",
	}), http.StatusCreated)
	if rec.Status != authz.StatusRequested || rec.SellerID != "S1" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	check := decode[checkResponse](t, c.do(http.MethodGet, "/v1/gate/check?seller_id=S1&product_id=P1", seller, nil), http.StatusOK)
	if check.Approved {
		t.Fatal("pending request must not pass the gate")
	}

	rec = decode[authz.Record](t, c.do(http.MethodPost, "/v1/authorizations/"+rec.ID+"/approve", supplier, nil), http.StatusOK)
	if rec.Status != authz.StatusApproved || rec.ApprovedBy != "U1" {
		t.Fatalf("unexpected approved record: %+v", rec)
	}

	check = decode[checkResponse](t, c.do(http.MethodGet, "/v1/gate/check?seller_id=S1&product_id=P1", seller, nil), http.StatusOK)
	if !check.Approved {
		t.Fatal("approved product must pass the gate")
	}

	bulk := decode[gate.BulkResult](t, c.do(http.MethodPost, "/v1/gate/bulk-check", supplier, map[string]any{
		"seller_id":   "S1",
		"product_ids": []string{"P1", "P2"},
	}), http.StatusOK)
	if !bulk.Results["P1"] || bulk.Results["P2"] || len(bulk.Authorized) != 1 || len(bulk.Unauthorized) != 1 {
		t.Fatalf("unexpected bulk result: %+v", bulk)
	}

	status := decode[gate.StatusResult](t, c.do(http.MethodGet, "/v1/gate/status?seller_id=S1&product_id=P1", seller, nil), http.StatusOK)
	if !status.IsAuthorized || status.Status != authz.StatusApproved || status.AuthorizationID != rec.ID {
		t.Fatalf("unexpected status: %+v", status)
	}

	logs := decode[auditResponse](t, c.do(http.MethodGet, "/v1/authorizations/"+rec.ID+"/audit", supplier, nil), http.StatusOK)
	if len(logs.Items) != 2 || logs.Items[0].Action != audit.ActionRequest || logs.Items[1].Action != audit.ActionApprove {
		t.Fatalf("unexpected audit trail: %+v", logs.Items)
	}
	if logs.Items[0].RequestID == "" {
		t.Fatal("expected audit entry to carry the request id")
	}

	limits := decode[authz.Limits](t, c.do(http.MethodGet, "/v1/sellers/S1/limits", seller, nil), http.StatusOK)
	if limits.CurrentCount != 1 || limits.MaxLimit != 2 || limits.RemainingSlots != 1 {
		t.Fatalf("unexpected limits: %+v", limits)
	}
}

func TestAuthenticationAndRoles(t *testing.T) {
	c := newTestAPI(t, nil)
	seller := c.token("S1", authz.RoleSeller)
	other := c.token("S2", authz.RoleSeller)

	resp := c.do(http.MethodGet, "/v1/gate/check?seller_id=S1&product_id=P1", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}
	resp = c.do(http.MethodGet, "/v1/gate/check?seller_id=S1&product_id=P1", "not-a-jwt", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", resp.StatusCode)
	}

	rec := decode[authz.Record](t, c.do(http.MethodPost, "/v1/authorizations", seller, map[string]any{
		"product_id": "P1",
	}), http.StatusCreated)

	resp = c.do(http.MethodPost, "/v1/authorizations/"+rec.ID+"/approve", seller, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for seller approving, got %d", resp.StatusCode)
	}
	resp = c.do(http.MethodGet, "/v1/authorizations/"+rec.ID, other, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for another seller's record, got %d", resp.StatusCode)
	}
	resp = c.do(http.MethodGet, "/v1/sellers/S1/limits", other, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for another seller's limits, got %d", resp.StatusCode)
	}
	resp = c.do(http.MethodPost, "/v1/authorizations", other, map[string]any{
		"seller_id":  "S1",
		"product_id": "P9",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 when requesting for another seller, got %d", resp.StatusCode)
	}
	resp = c.do(http.MethodGet, "/v1/admin/feature", seller, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin feature read, got %d", resp.StatusCode)
	}
}

func TestRecordsAreScopedToTheirSupplier(t *testing.T) {
	c := newTestAPI(t, nil)
	seller := c.token("S1", authz.RoleSeller)
	owner := c.token("U1", authz.RoleSupplier)
	rival := c.token("U2", authz.RoleSupplier)
	admin := c.token("root", authz.RoleAdmin)

	rec := decode[authz.Record](t, c.do(http.MethodPost, "/v1/authorizations", seller, map[string]any{
		"product_id":  "P1",
		"supplier_id": "U1",
	}), http.StatusCreated)

	for _, path := range []string{"/v1/authorizations/" + rec.ID, "/v1/authorizations/" + rec.ID + "/audit"} {
		resp := c.do(http.MethodGet, path, rival, nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("GET %s as another supplier: expected 404, got %d", path, resp.StatusCode)
		}
		for _, tok := range []string{owner, admin} {
			if resp := c.do(http.MethodGet, path, tok, nil); resp.StatusCode != http.StatusOK {
				t.Fatalf("GET %s: expected 200, got %d", path, resp.StatusCode)
			}
		}
	}
	if resp := c.do(http.MethodGet, "/v1/authorizations/"+rec.ID, seller, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("seller reading own record: expected 200, got %d", resp.StatusCode)
	}
	if resp := c.do(http.MethodGet, "/v1/authorizations/missing/audit", admin, nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("audit of unknown id: expected 404, got %d", resp.StatusCode)
	}
}

func TestFeatureToggleOverHTTP(t *testing.T) {
	c := newTestAPI(t, nil)
	admin := c.token("ops", authz.RoleAdmin)
	seller := c.token("S1", authz.RoleSeller)

	disabled := false
	decode[featureState](t, c.do(http.MethodPut, "/v1/admin/feature", admin, featureState{Enabled: &disabled}), http.StatusOK)

	body := decode[errorBody](t, c.do(http.MethodPost, "/v1/authorizations", seller, map[string]any{
		"product_id": "P1",
	}), http.StatusServiceUnavailable)
	if body.Code != string(authz.CodeFeatureDisabled) {
		t.Fatalf("unexpected error code: %+v", body)
	}

	check := decode[checkResponse](t, c.do(http.MethodGet, "/v1/gate/check?seller_id=S1&product_id=P1", seller, nil), http.StatusOK)
	if !check.Approved {
		t.Fatal("disabled gate must allow")
	}

	state := decode[featureState](t, c.do(http.MethodGet, "/v1/admin/feature", admin, nil), http.StatusOK)
	if state.Enabled == nil || *state.Enabled {
		t.Fatalf("expected disabled state, got %+v", state)
	}

	resp := c.do(http.MethodPut, "/v1/admin/feature", admin, map[string]any{})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for missing enabled, got %d", resp.StatusCode)
	}
}

func TestRejectCooldownOverHTTP(t *testing.T) {
	c := newTestAPI(t, nil)
	seller := c.token("S1", authz.RoleSeller)
	supplier := c.token("U1", authz.RoleSupplier)

	rec := decode[authz.Record](t, c.do(http.MethodPost, "/v1/authorizations", seller, map[string]any{
		"product_id":  "P1",
		"supplier_id": "U1",
	}), http.StatusCreated)

	body := decode[errorBody](t, c.do(http.MethodPost, "/v1/authorizations/"+rec.ID+"/reject", supplier, rejectRequest{
		Reason: "short",
	}), http.StatusUnprocessableEntity)
	if body.Code != string(authz.CodeReasonRequired) {
		t.Fatalf("unexpected error: %+v", body)
	}

	rec = decode[authz.Record](t, c.do(http.MethodPost, "/v1/authorizations/"+rec.ID+"/reject", supplier, rejectRequest{
		Reason:       "missing distribution licence",
		CooldownDays: 7,
	}), http.StatusOK)
	if rec.Status != authz.StatusRejected || rec.CooldownUntil == nil {
		t.Fatalf("unexpected rejected record: %+v", rec)
	}

	body = decode[errorBody](t, c.do(http.MethodPost, "/v1/authorizations", seller, map[string]any{
		"product_id": "P1",
	}), http.StatusTooManyRequests)
	if body.Code != string(authz.CodeCooldownActive) || body.DaysRemaining != 7 {
		t.Fatalf("unexpected cooldown error: %+v", body)
	}

	status := decode[gate.StatusResult](t, c.do(http.MethodGet, "/v1/gate/status?seller_id=S1&product_id=P1", seller, nil), http.StatusOK)
	if status.Status != authz.StatusRejected || status.CanRequest || status.DaysRemaining != 7 {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestRevokeAndCancelOverHTTP(t *testing.T) {
	c := newTestAPI(t, nil)
	seller := c.token("S1", authz.RoleSeller)
	admin := c.token("ops", authz.RoleAdmin)

	first := decode[authz.Record](t, c.do(http.MethodPost, "/v1/authorizations", seller, map[string]any{"product_id": "P1"}), http.StatusCreated)
	decode[authz.Record](t, c.do(http.MethodPost, "/v1/authorizations/"+first.ID+"/approve", admin, nil), http.StatusOK)

	resp := c.do(http.MethodPost, "/v1/authorizations/"+first.ID+"/revoke", admin, revokeRequest{})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for blank revoke reason, got %d", resp.StatusCode)
	}
	decode[authz.Record](t, c.do(http.MethodPost, "/v1/authorizations/"+first.ID+"/revoke", admin, revokeRequest{Reason: "counterfeit"}), http.StatusOK)

	body := decode[errorBody](t, c.do(http.MethodPost, "/v1/authorizations", seller, map[string]any{"product_id": "P1"}), http.StatusConflict)
	if body.Code != string(authz.CodePermanentlyRevoked) {
		t.Fatalf("unexpected error: %+v", body)
	}

	second := decode[authz.Record](t, c.do(http.MethodPost, "/v1/authorizations", seller, map[string]any{"product_id": "P2"}), http.StatusCreated)
	rec := decode[authz.Record](t, c.do(http.MethodPost, "/v1/authorizations/"+second.ID+"/cancel", seller, nil), http.StatusOK)
	if rec.Status != authz.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", rec.Status)
	}

	body = decode[errorBody](t, c.do(http.MethodPost, "/v1/authorizations/missing/approve", admin, nil), http.StatusNotFound)
	if body.Code != string(authz.CodeNotFound) {
		t.Fatalf("unexpected error: %+v", body)
	}
}

func TestWarmCacheOverHTTP(t *testing.T) {
	c := newTestAPI(t, nil)
	seller := c.token("S1", authz.RoleSeller)
	admin := c.token("ops", authz.RoleAdmin)

	rec := decode[authz.Record](t, c.do(http.MethodPost, "/v1/authorizations", seller, map[string]any{"product_id": "P1"}), http.StatusCreated)
	decode[authz.Record](t, c.do(http.MethodPost, "/v1/authorizations/"+rec.ID+"/approve", admin, nil), http.StatusOK)

	warmed := decode[warmResponse](t, c.do(http.MethodPost, "/v1/gate/warm", seller, warmRequest{SellerID: "S1"}), http.StatusOK)
	if warmed.Warmed != 1 {
		t.Fatalf("expected one warmed entry, got %+v", warmed)
	}
	resp := c.do(http.MethodPost, "/v1/gate/warm", seller, warmRequest{SellerID: "S2"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 warming another seller, got %d", resp.StatusCode)
	}
}

func TestRequestBodyValidation(t *testing.T) {
	c := newTestAPI(t, nil)
	seller := c.token("S1", authz.RoleSeller)

	resp := c.do(http.MethodPost, "/v1/authorizations", seller, `{"product_id":"P1","unexpected":true}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", resp.StatusCode)
	}
	resp = c.do(http.MethodPost, "/v1/authorizations", seller, `{"product_id":"P1"} {}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for trailing data, got %d", resp.StatusCode)
	}
	body := decode[errorBody](t, c.do(http.MethodPost, "/v1/authorizations", seller, map[string]any{}), http.StatusUnprocessableEntity)
	if body.Code != string(authz.CodeInvalidInput) || body.Error != "product_id failed required validation" {
		t.Fatalf("unexpected validation error: %+v", body)
	}
	resp = c.do(http.MethodPost, "/v1/gate/bulk-check", seller, map[string]any{"seller_id": "S1", "product_ids": []string{}})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for empty bulk, got %d", resp.StatusCode)
	}
	resp = c.do(http.MethodGet, "/v1/gate/check?seller_id=S1", seller, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for missing product_id, got %d", resp.StatusCode)
	}
}

func TestProbesArePublic(t *testing.T) {
	c := newTestAPI(t, nil)

	resp := c.do(http.MethodGet, "/healthz", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected healthz 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get(requestIDHeader) == "" {
		t.Fatal("expected request id header")
	}
	resp = c.do(http.MethodGet, "/readyz", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected readyz 200, got %d", resp.StatusCode)
	}
	resp = c.do(http.MethodGet, "/metrics", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected metrics 200, got %d", resp.StatusCode)
	}

	down := newTestAPI(t, failingProbe{})
	resp = down.do(http.MethodGet, "/readyz", "", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected readyz 503, got %d", resp.StatusCode)
	}
}

func TestStatusForCodes(t *testing.T) {
	cases := map[authz.Code]int{
		authz.CodeFeatureDisabled:    http.StatusServiceUnavailable,
		authz.CodeNotFound:           http.StatusNotFound,
		authz.CodeForbidden:          http.StatusForbidden,
		authz.CodeAlreadyApproved:    http.StatusConflict,
		authz.CodeAlreadyRequested:   http.StatusConflict,
		authz.CodeInvalidStatus:      http.StatusConflict,
		authz.CodePermanentlyRevoked: http.StatusConflict,
		authz.CodeLimitReached:       http.StatusTooManyRequests,
		authz.CodeCooldownActive:     http.StatusTooManyRequests,
		authz.CodeReasonRequired:     http.StatusUnprocessableEntity,
		authz.CodeInvalidInput:       http.StatusUnprocessableEntity,
		authz.CodeSystemError:        http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := statusFor(code); got != want {
			t.Fatalf("statusFor(%s) = %d, want %d", code, got, want)
		}
	}
}

func TestSystemErrorsHideCause(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	writeAuthzError(rr, req, errors.New("pq: password authentication failed"))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	var body errorBody
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != "internal error" || body.Code != string(authz.CodeSystemError) {
		t.Fatalf("unexpected body: %+v", body)
	}
}
