package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	app "github.com/Atelier-Network/pinceladas_ledger/internal/app"
	"github.com/Atelier-Network/pinceladas_ledger/internal/app/domain/account"
	"github.com/Atelier-Network/pinceladas_ledger/internal/app/domain/session"
)

type testEnv struct {
	server *httptest.Server
	admin  string
	member string

	adminID  string
	memberID string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	application, err := app.New(app.Stores{}, nil)
	if err != nil {
		t.Fatalf("build application: %v", err)
	}

	adminSess := session.Session{ActorID: "bootstrap", Privileged: true}
	admin, err := application.Accounts.Register(context.Background(), adminSess, "Admin", true)
	if err != nil {
		t.Fatalf("register admin: %v", err)
	}
	member, err := application.Accounts.Register(context.Background(), adminSess, "Lucia", false)
	if err != nil {
		t.Fatalf("register member: %v", err)
	}

	handler, err := NewHandler(application, Options{
		Credentials: map[string]Credential{
			"admin-token":  {AccountID: admin.ID, Name: admin.Name, Privileged: true},
			"member-token": {AccountID: member.ID, Name: member.Name},
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return &testEnv{
		server:   server,
		admin:    "admin-token",
		member:   "member-token",
		adminID:  admin.ID,
		memberID: member.ID,
	}
}

func (e *testEnv) do(t *testing.T, method, path, token string, payload any) (*http.Response, []byte) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, e.server.URL+path, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp, raw
}

func errorCode(t *testing.T, raw []byte) string {
	t.Helper()
	var payload map[string]string
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return payload["code"]
}

func TestHandler_Lifecycle(t *testing.T) {
	env := newTestEnv(t)

	// Admin grants points to the member.
	resp, raw := env.do(t, http.MethodPost, "/accounts/"+env.memberID+"/transactions", env.admin,
		map[string]any{"amount": 100, "concept": "weekly grant"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("grant: status %d: %s", resp.StatusCode, raw)
	}

	// The member cannot grant to themselves.
	resp, raw = env.do(t, http.MethodPost, "/accounts/"+env.memberID+"/transactions", env.member,
		map[string]any{"amount": 100, "concept": "self grant"})
	if resp.StatusCode != http.StatusForbidden || errorCode(t, raw) != "FORBIDDEN" {
		t.Fatalf("self grant: status %d code %s", resp.StatusCode, errorCode(t, raw))
	}

	// P2P transfer from member to admin.
	resp, raw = env.do(t, http.MethodPost, "/transfers", env.member,
		map[string]any{"from_account_id": env.memberID, "to_account_id": env.adminID, "amount": 30, "concept": "shared supplies"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("transfer: status %d: %s", resp.StatusCode, raw)
	}

	// Overdraft transfer is rejected with a stable code.
	resp, raw = env.do(t, http.MethodPost, "/transfers", env.member,
		map[string]any{"from_account_id": env.memberID, "to_account_id": env.adminID, "amount": 500, "concept": "too much"})
	if resp.StatusCode != http.StatusConflict || errorCode(t, raw) != "INSUFFICIENT_FUNDS" {
		t.Fatalf("overdraft transfer: status %d body %s", resp.StatusCode, raw)
	}

	// Voucher round trip: create, redeem once, fail on the second attempt.
	resp, raw = env.do(t, http.MethodPost, "/vouchers", env.admin,
		map[string]any{"name": "Coffee", "cost": 10, "code": "CAFE"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create voucher: status %d: %s", resp.StatusCode, raw)
	}
	resp, raw = env.do(t, http.MethodPost, "/accounts/"+env.memberID+"/redemptions", env.member,
		map[string]any{"code": "CAFE"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("redeem: status %d: %s", resp.StatusCode, raw)
	}
	resp, raw = env.do(t, http.MethodPost, "/accounts/"+env.memberID+"/redemptions", env.member,
		map[string]any{"code": "CAFE"})
	if resp.StatusCode != http.StatusConflict || errorCode(t, raw) != "ALREADY_REDEEMED" {
		t.Fatalf("second redeem: status %d body %s", resp.StatusCode, raw)
	}

	// Store round trip: create a single-unit item, buy it, then sell out.
	resp, raw = env.do(t, http.MethodPost, "/items", env.admin,
		map[string]any{"name": "Mug", "cost": 15, "stock": 1})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create item: status %d: %s", resp.StatusCode, raw)
	}
	var item struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &item); err != nil {
		t.Fatalf("decode item: %v", err)
	}
	resp, raw = env.do(t, http.MethodPost, "/accounts/"+env.memberID+"/purchases", env.member,
		map[string]any{"item_id": item.ID})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("purchase: status %d: %s", resp.StatusCode, raw)
	}
	resp, raw = env.do(t, http.MethodPost, "/accounts/"+env.memberID+"/purchases", env.member,
		map[string]any{"item_id": item.ID})
	if resp.StatusCode != http.StatusConflict || errorCode(t, raw) != "SOLD_OUT" {
		t.Fatalf("sold out purchase: status %d body %s", resp.StatusCode, raw)
	}

	// Final member balance: 100 - 30 - 10 - 15 = 45.
	resp, raw = env.do(t, http.MethodGet, "/accounts/"+env.memberID, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get account: status %d", resp.StatusCode)
	}
	var acct account.Account
	if err := json.Unmarshal(raw, &acct); err != nil {
		t.Fatalf("decode account: %v", err)
	}
	if acct.Balance != 45 {
		t.Fatalf("member balance = %d, want 45", acct.Balance)
	}

	// The member's ledger carries one entry per movement, newest first.
	resp, raw = env.do(t, http.MethodGet, "/accounts/"+env.memberID+"/ledger", env.member, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ledger: status %d", resp.StatusCode)
	}
	var entries []map[string]any
	if err := json.Unmarshal(raw, &entries); err != nil {
		t.Fatalf("decode ledger: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("expected 4 ledger entries, got %d", len(entries))
	}
}

func TestHandler_RegistrationAndRanking(t *testing.T) {
	env := newTestEnv(t)

	resp, raw := env.do(t, http.MethodPost, "/accounts", "", map[string]any{"name": "Marco"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register: status %d: %s", resp.StatusCode, raw)
	}
	resp, raw = env.do(t, http.MethodPost, "/accounts", "", map[string]any{"name": "marco"})
	if resp.StatusCode != http.StatusConflict || errorCode(t, raw) != "NAME_TAKEN" {
		t.Fatalf("duplicate register: status %d body %s", resp.StatusCode, raw)
	}

	// Anonymous sessions cannot create privileged accounts.
	resp, raw = env.do(t, http.MethodPost, "/accounts", "", map[string]any{"name": "Root", "privileged": true})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("privileged register: status %d body %s", resp.StatusCode, raw)
	}

	resp, _ = env.do(t, http.MethodPost, "/accounts/"+env.memberID+"/transactions", env.admin,
		map[string]any{"amount": 40, "concept": "head start"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("grant: status %d", resp.StatusCode)
	}

	resp, raw = env.do(t, http.MethodGet, "/accounts?order=balance", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ranking: status %d", resp.StatusCode)
	}
	var ranked []account.Account
	if err := json.Unmarshal(raw, &ranked); err != nil {
		t.Fatalf("decode ranking: %v", err)
	}
	if len(ranked) < 3 || ranked[0].ID != env.memberID {
		t.Fatalf("unexpected ranking head: %+v", ranked)
	}
}

func TestHandler_BatchGrant(t *testing.T) {
	env := newTestEnv(t)

	resp, raw := env.do(t, http.MethodPost, "/transactions/batch", env.admin,
		map[string]any{"account_ids": []string{env.memberID, env.adminID, "missing"}, "amount": 10, "concept": "session points"})
	if resp.StatusCode != http.StatusMultiStatus {
		t.Fatalf("batch: status %d: %s", resp.StatusCode, raw)
	}
	var result struct {
		Applied  int `json:"Applied"`
		Failures []struct {
			AccountID string `json:"AccountID"`
		} `json:"Failures"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("decode batch result: %v", err)
	}
	if result.Applied != 2 || len(result.Failures) != 1 {
		t.Fatalf("unexpected batch result: %s", raw)
	}

	resp, _ = env.do(t, http.MethodPost, "/transactions/batch", env.member,
		map[string]any{"account_ids": []string{env.memberID}, "amount": 10, "concept": "nope"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("member batch: status %d", resp.StatusCode)
	}
}

func TestHandler_AuthAndAudit(t *testing.T) {
	env := newTestEnv(t)

	resp, raw := env.do(t, http.MethodGet, "/healthz", "bogus-token", nil)
	if resp.StatusCode != http.StatusUnauthorized || errorCode(t, raw) != "INVALID_TOKEN" {
		t.Fatalf("bogus token: status %d body %s", resp.StatusCode, raw)
	}

	resp, _ = env.do(t, http.MethodGet, "/audit", env.member, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("member audit access: status %d", resp.StatusCode)
	}

	// A mutating call shows up in the audit trail with attribution.
	resp, _ = env.do(t, http.MethodPost, "/accounts/"+env.memberID+"/transactions", env.admin,
		map[string]any{"amount": 5, "concept": "audited"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("grant: status %d", resp.StatusCode)
	}

	resp, raw = env.do(t, http.MethodGet, "/audit", env.admin, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("audit: status %d", resp.StatusCode)
	}
	var entries []auditEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		t.Fatalf("decode audit: %v", err)
	}
	if len(entries) == 0 {
		t.Fatalf("audit trail empty")
	}
	last := entries[len(entries)-1]
	if last.ActorID != env.adminID || !last.Privileged || last.Method != http.MethodPost {
		t.Fatalf("unexpected audit entry: %+v", last)
	}
}

func TestHandler_StoreSettingsGate(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/accounts/"+env.memberID+"/transactions", env.admin,
		map[string]any{"amount": 50, "concept": "funds"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("grant: status %d", resp.StatusCode)
	}
	resp, raw := env.do(t, http.MethodPost, "/items", env.admin,
		map[string]any{"name": "Sticker", "cost": 1, "stock": -1})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create item: status %d: %s", resp.StatusCode, raw)
	}
	var item struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &item); err != nil {
		t.Fatalf("decode item: %v", err)
	}

	resp, _ = env.do(t, http.MethodPut, "/store/settings", env.admin, map[string]any{"self_service": false})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("disable self service: status %d", resp.StatusCode)
	}

	resp, raw = env.do(t, http.MethodPost, fmt.Sprintf("/accounts/%s/purchases", env.memberID), env.member,
		map[string]any{"item_id": item.ID})
	if resp.StatusCode != http.StatusForbidden || errorCode(t, raw) != "SELF_SERVICE_DISABLED" {
		t.Fatalf("gated purchase: status %d body %s", resp.StatusCode, raw)
	}

	// Staff-mediated sales still work while the gate is closed.
	resp, raw = env.do(t, http.MethodPost, fmt.Sprintf("/accounts/%s/purchases", env.memberID), env.admin,
		map[string]any{"item_id": item.ID})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("staff purchase: status %d body %s", resp.StatusCode, raw)
	}
}
