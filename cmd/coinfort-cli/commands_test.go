package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"coinfort/cmd/internal/credential"
)

type recordedCall struct {
	method string
	path   string
	body   string
	auth   bool
}

func stubAPI(t *testing.T, result string, apiErr *apiError) *[]recordedCall {
	t.Helper()
	calls := &[]recordedCall{}
	original := apiCall
	apiCall = func(method, path string, body interface{}, requireAuth bool) (json.RawMessage, *apiError, error) {
		encoded := ""
		if body != nil {
			raw, err := json.Marshal(body)
			if err != nil {
				t.Fatalf("marshal body: %v", err)
			}
			encoded = string(raw)
		}
		*calls = append(*calls, recordedCall{method: method, path: path, body: encoded, auth: requireAuth})
		return json.RawMessage(result), apiErr, nil
	}
	t.Cleanup(func() { apiCall = original })
	return calls
}

var (
	receiverHex = common.HexToAddress("0x0000000000000000000000000000000000000052").Hex()
	assetHex    = common.HexToAddress("0x00000000000000000000000000000000000000c0").Hex()
)

func TestCommandsIssueExpectedRequests(t *testing.T) {
	cases := []struct {
		name string
		args []string
		want recordedCall
	}{
		{
			name: "account open",
			args: []string{"account", "open"},
			want: recordedCall{method: http.MethodPost, path: "/v1/accounts", auth: true},
		},
		{
			name: "tx create",
			args: []string{"tx", "create", "--receiver", receiverHex, "--asset", assetHex, "--amount", "5e3", "--timeout", "15m"},
			want: recordedCall{
				method: http.MethodPost,
				path:   "/v1/transactions",
				body:   `{"amount":"5000","asset":"` + assetHex + `","receiver":"` + receiverHex + `","timeout":900}`,
				auth:   true,
			},
		},
		{
			name: "tx close",
			args: []string{"tx", "close", "--id", "7"},
			want: recordedCall{method: http.MethodPost, path: "/v1/transactions/7/close", auth: true},
		},
		{
			name: "tx get",
			args: []string{"tx", "get", "--id", "7"},
			want: recordedCall{method: http.MethodGet, path: "/v1/transactions/7"},
		},
		{
			name: "admin tx-hold release",
			args: []string{"admin", "tx-hold", "--id", "3", "--release"},
			want: recordedCall{method: http.MethodPut, path: "/v1/admin/transactions/3/hold", body: `{"hold":false}`, auth: true},
		},
		{
			name: "admin approve",
			args: []string{"admin", "approve", "--asset", assetHex},
			want: recordedCall{method: http.MethodPost, path: "/v1/admin/assets", body: `{"asset":"` + assetHex + `"}`, auth: true},
		},
		{
			name: "oracle satisfy",
			args: []string{"oracle", "satisfy", "--id", "0"},
			want: recordedCall{method: http.MethodPost, path: "/v1/oracle/satisfied/0", auth: true},
		},
		{
			name: "token approve",
			args: []string{"token", "approve", "--asset", assetHex, "--amount", "250"},
			want: recordedCall{method: http.MethodPost, path: "/v1/tokens/" + assetHex + "/approve", body: `{"amount":"250"}`, auth: true},
		},
		{
			name: "token transfer",
			args: []string{"token", "transfer", "--asset", assetHex, "--to", receiverHex, "--amount", "1e2"},
			want: recordedCall{method: http.MethodPost, path: "/v1/tokens/" + assetHex + "/transfer", body: `{"amount":"100","to":"` + receiverHex + `"}`, auth: true},
		},
		{
			name: "journal",
			args: []string{"journal", "--type", "coinfort.transaction.closed", "--limit", "5"},
			want: recordedCall{method: http.MethodGet, path: "/v1/journal?limit=5&type=coinfort.transaction.closed"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			calls := stubAPI(t, `{"ok":true}`, nil)
			var stdout, stderr bytes.Buffer
			if code := run(tc.args, &stdout, &stderr); code != 0 {
				t.Fatalf("exit %d: %s", code, stderr.String())
			}
			if len(*calls) != 1 {
				t.Fatalf("expected one call, got %d", len(*calls))
			}
			if got := (*calls)[0]; got != tc.want {
				t.Fatalf("unexpected call:\n got %+v\nwant %+v", got, tc.want)
			}
			if !strings.Contains(stdout.String(), `"ok": true`) {
				t.Fatalf("expected pretty result, got %q", stdout.String())
			}
		})
	}
}

func TestCommandArgValidation(t *testing.T) {
	cases := []struct {
		name string
		args []string
		want string
	}{
		{"no command", nil, "Usage: coinfort-cli"},
		{"unknown command", []string{"mint"}, "Unknown command: mint"},
		{"unknown subcommand", []string{"tx", "refund"}, "Unknown tx subcommand: refund"},
		{"missing receiver", []string{"tx", "create", "--asset", assetHex, "--amount", "1", "--timeout", "900"}, "--receiver is required"},
		{"bad amount", []string{"tx", "create", "--receiver", receiverHex, "--asset", assetHex, "--amount", "1.5", "--timeout", "900"}, "--amount must be an integer"},
		{"zero amount", []string{"token", "approve", "--asset", assetHex, "--amount", "0"}, "greater than zero"},
		{"missing recipient", []string{"token", "transfer", "--asset", assetHex, "--amount", "5"}, "--to is required"},
		{"bad timeout", []string{"tx", "create", "--receiver", receiverHex, "--asset", assetHex, "--amount", "1", "--timeout", "soon"}, "--timeout must be"},
		{"bad id", []string{"tx", "close", "--id", "-1"}, "--id must be a non-negative integer"},
		{"bad role", []string{"tx", "list", "--principal", receiverHex, "--role", "judge"}, "--role must be"},
		{"missing api value", []string{"--api"}, "requires a value"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			calls := stubAPI(t, `{}`, nil)
			var stdout, stderr bytes.Buffer
			if code := run(tc.args, &stdout, &stderr); code != 1 {
				t.Fatalf("expected exit 1, got %d", code)
			}
			if !strings.Contains(stderr.String(), tc.want) {
				t.Fatalf("stderr %q does not contain %q", stderr.String(), tc.want)
			}
			if len(*calls) != 0 {
				t.Fatalf("validation failure must not reach the API")
			}
		})
	}
}

func TestAPIErrorIsReported(t *testing.T) {
	stubAPI(t, "", &apiError{Status: http.StatusConflict, Message: "no release condition met", Kind: "state"})
	var stdout, stderr bytes.Buffer
	if code := run([]string{"tx", "close", "--id", "1"}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected failure exit")
	}
	if got := stderr.String(); !strings.Contains(got, "no release condition met (state, HTTP 409)") {
		t.Fatalf("unexpected stderr %q", got)
	}
}

func TestCallAPIAgainstServer(t *testing.T) {
	var gotAuth, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		if r.URL.Path == "/v1/transactions/9/close" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"coinfort: not found: transaction not found","kind":"not_found"}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":0}`))
	}))
	defer srv.Close()

	t.Setenv(apiTokenEnv, "test-token")
	originalEndpoint, originalSource := apiEndpoint, tokenSource
	apiEndpoint = srv.URL
	tokenSource = credential.NewSource(apiTokenEnv, "")
	defer func() { apiEndpoint, tokenSource = originalEndpoint, originalSource }()

	result, apiErr, err := callAPI(http.MethodPost, "/v1/tokens/x/approve", map[string]string{"amount": "1"}, true)
	if err != nil || apiErr != nil {
		t.Fatalf("call: err=%v apiErr=%v", err, apiErr)
	}
	if string(result) != `{"id":0}` {
		t.Fatalf("unexpected result %s", result)
	}
	if gotAuth != "Bearer test-token" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if gotBody != `{"amount":"1"}` {
		t.Fatalf("unexpected body %q", gotBody)
	}

	_, apiErr, err = callAPI(http.MethodPost, "/v1/transactions/9/close", nil, false)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if apiErr == nil || apiErr.Status != http.StatusNotFound || apiErr.Kind != "not_found" {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
	if gotAuth != "" {
		t.Fatalf("unauthenticated call must not send a token")
	}
}
