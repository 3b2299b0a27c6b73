// Package httpapi exposes the ledger application over a JSON REST API.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	app "github.com/Atelier-Network/pinceladas_ledger/internal/app"
	"github.com/Atelier-Network/pinceladas_ledger/internal/app/domain/catalog"
	"github.com/Atelier-Network/pinceladas_ledger/internal/app/domain/ledger"
	"github.com/Atelier-Network/pinceladas_ledger/internal/app/domain/session"
	"github.com/Atelier-Network/pinceladas_ledger/internal/app/domain/voucher"
	"github.com/Atelier-Network/pinceladas_ledger/internal/app/metrics"
	"github.com/Atelier-Network/pinceladas_ledger/internal/app/services/accounts"
	ledgersvc "github.com/Atelier-Network/pinceladas_ledger/internal/app/services/ledger"
	storefrontsvc "github.com/Atelier-Network/pinceladas_ledger/internal/app/services/storefront"
	transfersvc "github.com/Atelier-Network/pinceladas_ledger/internal/app/services/transfer"
	vouchersvc "github.com/Atelier-Network/pinceladas_ledger/internal/app/services/voucher"
	"github.com/Atelier-Network/pinceladas_ledger/internal/app/storage"
)

// Options configures the HTTP surface.
type Options struct {
	// Credentials maps bearer tokens to sessions. Requests without a token
	// run as anonymous unprivileged sessions.
	Credentials map[string]Credential

	// AuditMax bounds the in-memory audit ring. Zero means the default.
	AuditMax int

	// AuditPath, when set, appends audit entries to a JSONL file.
	AuditPath string

	// RatePerSecond and RateBurst configure per-caller rate limiting.
	// Zero disables it.
	RatePerSecond float64
	RateBurst     int
}

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app   *app.Application
	audit *auditLog
}

// NewHandler returns the fully wired HTTP handler: routing plus metrics,
// rate limiting, authentication and audit recording.
func NewHandler(application *app.Application, opts Options) (http.Handler, error) {
	sink, err := newFileAuditSink(opts.AuditPath)
	if err != nil {
		return nil, err
	}

	h := &handler{
		app:   application,
		audit: newAuditLog(opts.AuditMax, sink),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/accounts", h.accounts)
	mux.HandleFunc("/accounts/", h.accountResources)
	mux.HandleFunc("/transactions/batch", h.batchTransactions)
	mux.HandleFunc("/transfers", h.transfers)
	mux.HandleFunc("/ledger", h.ledgerEntries)
	mux.HandleFunc("/vouchers", h.vouchers)
	mux.HandleFunc("/vouchers/", h.voucherResource)
	mux.HandleFunc("/items", h.items)
	mux.HandleFunc("/items/", h.itemResource)
	mux.HandleFunc("/purchases", h.purchases)
	mux.HandleFunc("/store/settings", h.storeSettings)
	mux.HandleFunc("/audit", h.auditEntries)
	mux.HandleFunc("/healthz", h.healthz)
	mux.Handle("/metrics", metrics.Handler())

	var wrapped http.Handler = h.withAuditRecording(mux)
	wrapped = withAuth(wrapped, opts.Credentials)
	wrapped = withRateLimit(wrapped, rate.Limit(opts.RatePerSecond), opts.RateBurst)
	wrapped = metrics.InstrumentHandler(wrapped)
	return wrapped, nil
}

// withAuditRecording captures one audit entry per mutating request. It runs
// inside the auth middleware so session attribution is available.
func (h *handler) withAuditRecording(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		sess := sessionFromContext(r.Context())
		h.audit.add(auditEntry{
			Time:       time.Now().UTC(),
			ActorID:    sess.ActorID,
			ActorName:  sess.ActorName,
			Privileged: sess.Privileged,
			Path:       r.URL.Path,
			Method:     r.Method,
			Status:     rec.status,
			RemoteAddr: r.RemoteAddr,
			UserAgent:  r.UserAgent(),
		})
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) accounts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var payload struct {
			Name       string `json:"name"`
			Privileged bool   `json:"privileged"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeErrorCode(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
			return
		}
		acct, err := h.app.Accounts.Register(r.Context(), sessionFromContext(r.Context()), payload.Name, payload.Privileged)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, acct)

	case http.MethodGet:
		if r.URL.Query().Get("order") == "balance" {
			ranked, err := h.app.Accounts.Ranking(r.Context())
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, ranked)
			return
		}
		accts, err := h.app.Accounts.List(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, accts)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) accountResources(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/accounts"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	accountID := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		acct, err := h.app.Accounts.Get(r.Context(), accountID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, acct)
		return
	}

	switch parts[1] {
	case "ledger":
		h.accountLedger(w, r, accountID)
	case "transactions":
		h.accountTransactions(w, r, accountID)
	case "redemptions":
		h.accountRedemptions(w, r, accountID)
	case "purchases":
		h.accountPurchases(w, r, accountID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) accountLedger(w http.ResponseWriter, r *http.Request, accountID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	entries, err := h.app.Ledger.History(r.Context(), accountID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// accountTransactions applies a privileged manual adjustment.
func (h *handler) accountTransactions(w http.ResponseWriter, r *http.Request, accountID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Amount  int64  `json:"amount"`
		Concept string `json:"concept"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	sess := sessionFromContext(r.Context())
	acct, entry, err := h.app.Ledger.Apply(r.Context(), sess, accountID, payload.Amount, payload.Concept, ledger.TypeAdjust, "")
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		Account any `json:"account"`
		Entry   any `json:"entry"`
	}{acct, entry})
}

func (h *handler) accountRedemptions(w http.ResponseWriter, r *http.Request, accountID string) {
	switch r.Method {
	case http.MethodGet:
		redemptions, err := h.app.Vouchers.ListRedemptions(r.Context(), accountID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, redemptions)

	case http.MethodPost:
		var payload struct {
			Code string `json:"code"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeErrorCode(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
			return
		}
		sess := sessionFromContext(r.Context())
		acct, redemption, err := h.app.Vouchers.Redeem(r.Context(), sess, accountID, payload.Code)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, struct {
			Account    any `json:"account"`
			Redemption any `json:"redemption"`
		}{acct, redemption})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) accountPurchases(w http.ResponseWriter, r *http.Request, accountID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		ItemID string `json:"item_id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	sess := sessionFromContext(r.Context())
	acct, purchase, err := h.app.Storefront.Purchase(r.Context(), sess, accountID, payload.ItemID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		Account  any `json:"account"`
		Purchase any `json:"purchase"`
	}{acct, purchase})
}

func (h *handler) batchTransactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		AccountIDs []string `json:"account_ids"`
		Amount     int64    `json:"amount"`
		Concept    string   `json:"concept"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	sess := sessionFromContext(r.Context())
	result, err := h.app.Ledger.ApplyBatch(r.Context(), sess, payload.AccountIDs, payload.Amount, payload.Concept)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	status := http.StatusOK
	if len(result.Failures) > 0 {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, result)
}

func (h *handler) transfers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		FromAccountID string `json:"from_account_id"`
		ToAccountID   string `json:"to_account_id"`
		Amount        int64  `json:"amount"`
		Concept       string `json:"concept"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	sess := sessionFromContext(r.Context())
	sender, err := h.app.Transfers.Transfer(r.Context(), sess, payload.FromAccountID, payload.ToAccountID, payload.Amount, payload.Concept)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		Sender any `json:"sender"`
	}{sender})
}

func (h *handler) ledgerEntries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !sessionFromContext(r.Context()).Privileged {
		writeErrorCode(w, http.StatusForbidden, "FORBIDDEN", "privileged session required")
		return
	}
	entries, err := h.app.Ledger.List(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *handler) vouchers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list, err := h.app.Vouchers.List(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)

	case http.MethodPost:
		var payload struct {
			Name     string `json:"name"`
			Cost     int64  `json:"cost"`
			Category string `json:"category"`
			Code     string `json:"code"`
			Active   *bool  `json:"active"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeErrorCode(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
			return
		}
		v := voucher.Voucher{
			Name:     payload.Name,
			Cost:     payload.Cost,
			Category: payload.Category,
			Code:     payload.Code,
			Active:   payload.Active == nil || *payload.Active,
		}
		created, err := h.app.Vouchers.Create(r.Context(), sessionFromContext(r.Context()), v)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) voucherResource(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/vouchers"), "/")
	if id == "" || strings.Contains(id, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		v, err := h.app.Vouchers.Get(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, v)

	case http.MethodPut:
		var payload struct {
			Name     string `json:"name"`
			Cost     int64  `json:"cost"`
			Category string `json:"category"`
			Code     string `json:"code"`
			Active   bool   `json:"active"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeErrorCode(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
			return
		}
		v := voucher.Voucher{
			ID:       id,
			Name:     payload.Name,
			Cost:     payload.Cost,
			Category: payload.Category,
			Code:     payload.Code,
			Active:   payload.Active,
		}
		updated, err := h.app.Vouchers.Update(r.Context(), sessionFromContext(r.Context()), v)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)

	case http.MethodDelete:
		if err := h.app.Vouchers.Delete(r.Context(), sessionFromContext(r.Context()), id); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) items(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list, err := h.app.Storefront.ListItems(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)

	case http.MethodPost:
		var payload struct {
			Name        string `json:"name"`
			Cost        int64  `json:"cost"`
			Description string `json:"description"`
			Stock       int    `json:"stock"`
			Active      *bool  `json:"active"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeErrorCode(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
			return
		}
		it := catalog.Item{
			Name:        payload.Name,
			Cost:        payload.Cost,
			Description: payload.Description,
			Stock:       payload.Stock,
			Active:      payload.Active == nil || *payload.Active,
		}
		created, err := h.app.Storefront.CreateItem(r.Context(), sessionFromContext(r.Context()), it)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) itemResource(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/items"), "/")
	if id == "" || strings.Contains(id, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		it, err := h.app.Storefront.GetItem(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, it)

	case http.MethodPut:
		var payload struct {
			Name        string `json:"name"`
			Cost        int64  `json:"cost"`
			Description string `json:"description"`
			Stock       int    `json:"stock"`
			Active      bool   `json:"active"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeErrorCode(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
			return
		}
		it := catalog.Item{
			ID:          id,
			Name:        payload.Name,
			Cost:        payload.Cost,
			Description: payload.Description,
			Stock:       payload.Stock,
			Active:      payload.Active,
		}
		updated, err := h.app.Storefront.UpdateItem(r.Context(), sessionFromContext(r.Context()), it)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)

	case http.MethodDelete:
		if err := h.app.Storefront.DeleteItem(r.Context(), sessionFromContext(r.Context()), id); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) purchases(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !sessionFromContext(r.Context()).Privileged {
		writeErrorCode(w, http.StatusForbidden, "FORBIDDEN", "privileged session required")
		return
	}
	list, err := h.app.Storefront.ListPurchases(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) storeSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		settings, err := h.app.Storefront.Settings(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, settings)

	case http.MethodPut:
		var payload struct {
			SelfService bool `json:"self_service"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeErrorCode(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
			return
		}
		settings, err := h.app.Storefront.SetSelfService(r.Context(), sessionFromContext(r.Context()), payload.SelfService)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, settings)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) auditEntries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !sessionFromContext(r.Context()).Privileged {
		writeErrorCode(w, http.StatusForbidden, "FORBIDDEN", "privileged session required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	writeJSON(w, http.StatusOK, h.audit.listLimit(limit))
}

// writeServiceError maps domain errors onto HTTP statuses and stable codes.
// Partial transfers get their own code so clients can distinguish "retry"
// from "reconcile".
func writeServiceError(w http.ResponseWriter, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case errors.Is(err, transfersvc.ErrPartialTransfer):
		status, code = http.StatusInternalServerError, "PARTIAL_FAILURE"
	case errors.Is(err, session.ErrUnauthorized):
		status, code = http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, ledgersvc.ErrInsufficientFunds):
		status, code = http.StatusConflict, "INSUFFICIENT_FUNDS"
	case errors.Is(err, accounts.ErrNameTaken):
		status, code = http.StatusConflict, "NAME_TAKEN"
	case errors.Is(err, vouchersvc.ErrAlreadyRedeemed):
		status, code = http.StatusConflict, "ALREADY_REDEEMED"
	case errors.Is(err, storefrontsvc.ErrSoldOut):
		status, code = http.StatusConflict, "SOLD_OUT"
	case errors.Is(err, storefrontsvc.ErrSelfServiceDisabled):
		status, code = http.StatusForbidden, "SELF_SERVICE_DISABLED"
	case errors.Is(err, vouchersvc.ErrInvalidCode):
		status, code = http.StatusNotFound, "INVALID_CODE"
	case errors.Is(err, storefrontsvc.ErrItemUnavailable):
		status, code = http.StatusNotFound, "ITEM_UNAVAILABLE"
	case errors.Is(err, storage.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, storage.ErrConflict):
		status, code = http.StatusServiceUnavailable, "CONFLICT"
	case errors.Is(err, ledgersvc.ErrInvalidAmount),
		errors.Is(err, ledgersvc.ErrInvalidConcept),
		errors.Is(err, ledgersvc.ErrInvalidType),
		errors.Is(err, accounts.ErrInvalidName),
		errors.Is(err, transfersvc.ErrInvalidTransfer),
		errors.Is(err, vouchersvc.ErrInvalidVoucher),
		errors.Is(err, storefrontsvc.ErrInvalidItem):
		status, code = http.StatusBadRequest, "INVALID_REQUEST"
	}
	writeErrorCode(w, status, code, err.Error())
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeErrorCode(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message, "code": code})
}
