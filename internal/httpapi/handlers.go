package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"sellergate.io/internal/auth"
	"sellergate.io/internal/authz"
	"sellergate.io/internal/feature"
	"sellergate.io/internal/gate"
	"sellergate.io/internal/obs"
)

const (
	serviceName  = "sellergate"
	maxBodyBytes = 1 << 20
)

// Pinger is satisfied by the Postgres store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks that the backing database answers. A nil DB is always ready.
type ReadyProbe struct {
	DB Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.Ping(ctx)
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// Config wires the HTTP layer to the services it exposes.
type Config struct {
	Authz   *authz.Service
	Gate    *gate.Service
	Flag    feature.Source
	Tokens  *auth.Tokens
	Ready   readinessChecker
	Logger  *zap.Logger
	Version string

	RatePerSecond float64
	RateBurst     int
}

// API is the HTTP layer.
type API struct {
	authz    *authz.Service
	gate     *gate.Service
	flag     feature.Source
	tokens   *auth.Tokens
	ready    readinessChecker
	logger   *zap.Logger
	version  string
	validate *validator.Validate

	ratePerSec float64
	rateBurst  int
}

func New(cfg Config) (*API, error) {
	if cfg.Authz == nil || cfg.Gate == nil || cfg.Flag == nil {
		return nil, errors.New("httpapi: authz, gate and flag are required")
	}
	if cfg.Tokens == nil {
		return nil, auth.ErrMissingSecret
	}
	a := &API{
		authz:      cfg.Authz,
		gate:       cfg.Gate,
		flag:       cfg.Flag,
		tokens:     cfg.Tokens,
		ready:      cfg.Ready,
		logger:     cfg.Logger,
		version:    cfg.Version,
		validate:   newValidator(),
		ratePerSec: cfg.RatePerSecond,
		rateBurst:  cfg.RateBurst,
	}
	if a.ready == nil {
		a.ready = ReadyProbe{}
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	return a, nil
}

// Handler builds the router with the full middleware chain.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Recover(a.logger))
	r.Use(Logging(a.logger))
	r.Use(obs.Instrument)
	r.Use(SecurityHeaders)
	r.Use(RateLimit(a.ratePerSec, a.rateBurst))
	r.Use(MaxBodyBytes(maxBodyBytes))
	r.Use(a.withAuth)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, string(authz.CodeNotFound), "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	})

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Handle("/metrics", obs.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/info", a.Info)

		r.Route("/authorizations", func(r chi.Router) {
			r.With(requireRole(authz.RoleSeller)).Post("/", a.requestAuthorization)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", a.getAuthorization)
				r.With(requireRole(authz.RoleSeller)).Post("/cancel", a.cancelAuthorization)
				r.Group(func(r chi.Router) {
					r.Use(requireRole(authz.RoleSupplier, authz.RoleAdmin))
					r.Post("/approve", a.approveAuthorization)
					r.Post("/reject", a.rejectAuthorization)
					r.Post("/revoke", a.revokeAuthorization)
					r.Get("/audit", a.authorizationAudit)
				})
			})
		})
		r.Get("/sellers/{sellerID}/limits", a.sellerLimits)

		r.Route("/gate", func(r chi.Router) {
			r.Get("/check", a.gateCheck)
			r.Post("/bulk-check", a.gateBulkCheck)
			r.Get("/status", a.gateStatus)
			r.Post("/warm", a.gateWarm)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(requireRole(authz.RoleAdmin))
			r.Get("/feature", a.getFeature)
			r.Put("/feature", a.putFeature)
		})
	})
	return r
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.ready.Check(ctx); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":          serviceName,
		"time":          time.Now().UTC().Format(time.RFC3339),
		"version":       a.version,
		"product_limit": a.authz.ProductLimit(),
	})
}

// --- helpers ---

type errorBody struct {
	Error         string `json:"error"`
	Code          string `json:"code"`
	DaysRemaining int    `json:"days_remaining,omitempty"`
	RequestID     string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	writeJSON(w, status, errorBody{
		Error:     msg,
		Code:      code,
		RequestID: RequestIDFromContext(r.Context()),
	})
}

// writeAuthzError maps a command failure onto an HTTP status. System errors never
// leak their cause.
func writeAuthzError(w http.ResponseWriter, r *http.Request, err error) {
	var e *authz.Error
	if !errors.As(err, &e) {
		e = authz.ErrSystem
	}
	body := errorBody{
		Error:     e.Message,
		Code:      string(e.Code),
		RequestID: RequestIDFromContext(r.Context()),
	}
	if e.Code == authz.CodeSystemError {
		body.Error = authz.ErrSystem.Message
	}
	if e.Code == authz.CodeCooldownActive {
		body.DaysRemaining = e.DaysRemaining
	}
	writeJSON(w, statusFor(e.Code), body)
}

func statusFor(code authz.Code) int {
	switch code {
	case authz.CodeNotFound:
		return http.StatusNotFound
	case authz.CodeForbidden:
		return http.StatusForbidden
	case authz.CodeAlreadyApproved, authz.CodeAlreadyRequested,
		authz.CodeInvalidStatus, authz.CodePermanentlyRevoked:
		return http.StatusConflict
	case authz.CodeReasonRequired, authz.CodeInvalidInput:
		return http.StatusUnprocessableEntity
	case authz.CodeLimitReached, authz.CodeCooldownActive:
		return http.StatusTooManyRequests
	case authz.CodeFeatureDisabled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errors.New("request body too large")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// bind decodes and validates a request body, answering 400/422 itself on failure.
func (a *API) bind(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(r, dst); err != nil {
		writeError(w, r, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return false
	}
	if err := a.validate.Struct(dst); err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, string(authz.CodeInvalidInput), validationMessage(err))
		return false
	}
	return true
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fe.Field() + " failed " + fe.Tag() + " validation"
	}
	return err.Error()
}

func actorFrom(r *http.Request) authz.Actor {
	actor, _ := auth.ActorFromContext(r.Context())
	return actor
}
