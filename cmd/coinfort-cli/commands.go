package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"coinfort/crypto"
)

type command func(args []string, stdout, stderr io.Writer) int

func dispatch(group string, subs map[string]command, usage string, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage)
		return 1
	}
	run, ok := subs[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "Unknown %s subcommand: %s\n", group, args[0])
		fmt.Fprintln(stderr, usage)
		return 1
	}
	return run(args[1:], stdout, stderr)
}

func newFlagSet(name string, stderr io.Writer, usage string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, usage)
	}
	return fs
}

func printError(w io.Writer, msg string) int {
	fmt.Fprintf(w, "Error: %s\n", msg)
	return 1
}

func handleCall(stdout, stderr io.Writer, result json.RawMessage, apiErr *apiError, err error) int {
	if err != nil {
		return printError(stderr, err.Error())
	}
	if apiErr != nil {
		return printError(stderr, apiErr.Error())
	}
	writeResult(stdout, result)
	return 0
}

func writeResult(w io.Writer, result json.RawMessage) {
	var pretty interface{}
	if err := json.Unmarshal(result, &pretty); err != nil {
		fmt.Fprintln(w, strings.TrimSpace(string(result)))
		return
	}
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		fmt.Fprintln(w, strings.TrimSpace(string(result)))
		return
	}
	fmt.Fprintln(w, string(out))
}

func requireAddress(flagName, value string) (string, error) {
	if strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("--%s is required", flagName)
	}
	addr, err := crypto.ParseAddress(value)
	if err != nil {
		return "", fmt.Errorf("--%s: %v", flagName, err)
	}
	return addr.Hex(), nil
}

func requireID(value string) (uint64, error) {
	if strings.TrimSpace(value) == "" {
		return 0, fmt.Errorf("--id is required")
	}
	id, err := strconv.ParseUint(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("--id must be a non-negative integer")
	}
	return id, nil
}

// normalizeAmount accepts plain integers and the 100e18 shorthand.
func normalizeAmount(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("--amount is required")
	}
	base, exp, hasExp := strings.Cut(strings.ToLower(trimmed), "e")
	amount, ok := new(big.Int).SetString(base, 10)
	if !ok {
		return "", fmt.Errorf("--amount must be an integer, got %q", value)
	}
	if hasExp {
		power, err := strconv.ParseUint(exp, 10, 8)
		if err != nil {
			return "", fmt.Errorf("--amount exponent must be between 0 and 255")
		}
		amount.Mul(amount, new(big.Int).Exp(big.NewInt(10), new(big.Int).SetUint64(power), nil))
	}
	if amount.Sign() <= 0 {
		return "", fmt.Errorf("--amount must be greater than zero")
	}
	return amount.String(), nil
}

// parseTimeout accepts a Go duration ("15m", "72h") or plain seconds.
func parseTimeout(value string) (uint64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, fmt.Errorf("--timeout is required")
	}
	if secs, err := strconv.ParseUint(trimmed, 10, 64); err == nil {
		return secs, nil
	}
	d, err := time.ParseDuration(trimmed)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("--timeout must be seconds or a duration like 15m")
	}
	return uint64(d / time.Second), nil
}

func accountUsage() string {
	return strings.Join([]string{
		"Usage: coinfort-cli account <open|get> [flags]",
		"  open                  register the caller's account",
		"  get --principal ADDR  show an account",
	}, "\n")
}

func runAccountCommand(args []string, stdout, stderr io.Writer) int {
	return dispatch("account", map[string]command{
		"open": func(args []string, stdout, stderr io.Writer) int {
			result, apiErr, err := apiCall(http.MethodPost, "/v1/accounts", nil, true)
			return handleCall(stdout, stderr, result, apiErr, err)
		},
		"get": func(args []string, stdout, stderr io.Writer) int {
			fs := newFlagSet("account get", stderr, accountUsage())
			principal := fs.String("principal", "", "principal address (bech32 or 0x)")
			if err := fs.Parse(args); err != nil {
				return 1
			}
			addr, err := requireAddress("principal", *principal)
			if err != nil {
				return printError(stderr, err.Error())
			}
			result, apiErr, err := apiCall(http.MethodGet, "/v1/accounts/"+addr, nil, false)
			return handleCall(stdout, stderr, result, apiErr, err)
		},
	}, accountUsage(), args, stdout, stderr)
}

func txUsage() string {
	return strings.Join([]string{
		"Usage: coinfort-cli tx <create|get|close|list> [flags]",
		"  create --receiver ADDR --asset ADDR --amount N --timeout DUR",
		"  get    --id N",
		"  close  --id N",
		"  list   --principal ADDR [--role sender|receiver]",
	}, "\n")
}

func runTxCommand(args []string, stdout, stderr io.Writer) int {
	return dispatch("tx", map[string]command{
		"create": runTxCreate,
		"get": func(args []string, stdout, stderr io.Writer) int {
			return runTxByID("tx get", http.MethodGet, "", false, args, stdout, stderr)
		},
		"close": func(args []string, stdout, stderr io.Writer) int {
			return runTxByID("tx close", http.MethodPost, "/close", true, args, stdout, stderr)
		},
		"list": runTxList,
	}, txUsage(), args, stdout, stderr)
}

func runTxCreate(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("tx create", stderr, txUsage())
	var receiver, asset, amount, timeout string
	fs.StringVar(&receiver, "receiver", "", "receiver address")
	fs.StringVar(&asset, "asset", "", "approved asset id")
	fs.StringVar(&amount, "amount", "", "amount to escrow (supports 100e18 shorthand)")
	fs.StringVar(&timeout, "timeout", "", "escrow window, seconds or duration (minimum 15m)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	receiverAddr, err := requireAddress("receiver", receiver)
	if err != nil {
		return printError(stderr, err.Error())
	}
	assetAddr, err := requireAddress("asset", asset)
	if err != nil {
		return printError(stderr, err.Error())
	}
	normalized, err := normalizeAmount(amount)
	if err != nil {
		return printError(stderr, err.Error())
	}
	secs, err := parseTimeout(timeout)
	if err != nil {
		return printError(stderr, err.Error())
	}
	body := map[string]interface{}{
		"receiver": receiverAddr,
		"asset":    assetAddr,
		"amount":   normalized,
		"timeout":  secs,
	}
	result, apiErr, err := apiCall(http.MethodPost, "/v1/transactions", body, true)
	return handleCall(stdout, stderr, result, apiErr, err)
}

func runTxByID(name, method, suffix string, auth bool, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet(name, stderr, txUsage())
	idStr := fs.String("id", "", "transaction id")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	id, err := requireID(*idStr)
	if err != nil {
		return printError(stderr, err.Error())
	}
	path := "/v1/transactions/" + strconv.FormatUint(id, 10) + suffix
	result, apiErr, err := apiCall(method, path, nil, auth)
	return handleCall(stdout, stderr, result, apiErr, err)
}

func runTxList(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("tx list", stderr, txUsage())
	principal := fs.String("principal", "", "principal address")
	role := fs.String("role", "sender", "sender or receiver")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	addr, err := requireAddress("principal", *principal)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if *role != "sender" && *role != "receiver" {
		return printError(stderr, "--role must be sender or receiver")
	}
	path := "/v1/principals/" + addr + "/transactions?role=" + url.QueryEscape(*role)
	result, apiErr, err := apiCall(http.MethodGet, path, nil, false)
	return handleCall(stdout, stderr, result, apiErr, err)
}

func adminUsage() string {
	return strings.Join([]string{
		"Usage: coinfort-cli admin <approve|hold|tx-hold|manager|oracle|oracle-manager> [flags]",
		"  approve        --asset ADDR",
		"  hold           --principal ADDR [--release]",
		"  tx-hold        --id N [--release]",
		"  manager        --manager ADDR",
		"  oracle         --oracle ADDR",
		"  oracle-manager --manager ADDR",
	}, "\n")
}

func runAdminCommand(args []string, stdout, stderr io.Writer) int {
	return dispatch("admin", map[string]command{
		"approve": func(args []string, stdout, stderr io.Writer) int {
			return runAddressBody("admin approve", "asset", http.MethodPost, "/v1/admin/assets", args, stdout, stderr)
		},
		"manager": func(args []string, stdout, stderr io.Writer) int {
			return runAddressBody("admin manager", "manager", http.MethodPut, "/v1/admin/manager", args, stdout, stderr)
		},
		"oracle": func(args []string, stdout, stderr io.Writer) int {
			return runAddressBody("admin oracle", "oracle", http.MethodPut, "/v1/admin/oracle", args, stdout, stderr)
		},
		"oracle-manager": func(args []string, stdout, stderr io.Writer) int {
			return runAddressBody("admin oracle-manager", "manager", http.MethodPut, "/v1/admin/oracle/manager", args, stdout, stderr)
		},
		"hold":    runAccountHold,
		"tx-hold": runTransactionHold,
	}, adminUsage(), args, stdout, stderr)
}

func runAddressBody(name, field, method, path string, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet(name, stderr, adminUsage())
	value := fs.String(field, "", field+" address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	addr, err := requireAddress(field, *value)
	if err != nil {
		return printError(stderr, err.Error())
	}
	result, apiErr, err := apiCall(method, path, map[string]string{field: addr}, true)
	return handleCall(stdout, stderr, result, apiErr, err)
}

func runAccountHold(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("admin hold", stderr, adminUsage())
	principal := fs.String("principal", "", "principal to hold")
	release := fs.Bool("release", false, "lift the hold instead of placing it")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	addr, err := requireAddress("principal", *principal)
	if err != nil {
		return printError(stderr, err.Error())
	}
	body := map[string]bool{"hold": !*release}
	result, apiErr, err := apiCall(http.MethodPut, "/v1/admin/accounts/"+addr+"/hold", body, true)
	return handleCall(stdout, stderr, result, apiErr, err)
}

func runTransactionHold(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("admin tx-hold", stderr, adminUsage())
	idStr := fs.String("id", "", "transaction id")
	release := fs.Bool("release", false, "lift the hold instead of placing it")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	id, err := requireID(*idStr)
	if err != nil {
		return printError(stderr, err.Error())
	}
	body := map[string]bool{"hold": !*release}
	path := "/v1/admin/transactions/" + strconv.FormatUint(id, 10) + "/hold"
	result, apiErr, err := apiCall(http.MethodPut, path, body, true)
	return handleCall(stdout, stderr, result, apiErr, err)
}

func oracleUsage() string {
	return strings.Join([]string{
		"Usage: coinfort-cli oracle <satisfy|status> [flags]",
		"  satisfy --id N   record that the condition of transaction N holds",
		"  status           show the linked and served oracle",
	}, "\n")
}

func runOracleCommand(args []string, stdout, stderr io.Writer) int {
	return dispatch("oracle", map[string]command{
		"satisfy": func(args []string, stdout, stderr io.Writer) int {
			return runTxByIDPath("oracle satisfy", "/v1/oracle/satisfied/", oracleUsage(), args, stdout, stderr)
		},
		"status": func(args []string, stdout, stderr io.Writer) int {
			result, apiErr, err := apiCall(http.MethodGet, "/v1/oracle", nil, false)
			return handleCall(stdout, stderr, result, apiErr, err)
		},
	}, oracleUsage(), args, stdout, stderr)
}

func runTxByIDPath(name, prefix, usage string, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet(name, stderr, usage)
	idStr := fs.String("id", "", "transaction id")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	id, err := requireID(*idStr)
	if err != nil {
		return printError(stderr, err.Error())
	}
	result, apiErr, err := apiCall(http.MethodPost, prefix+strconv.FormatUint(id, 10), nil, true)
	return handleCall(stdout, stderr, result, apiErr, err)
}

func tokenUsage() string {
	return strings.Join([]string{
		"Usage: coinfort-cli token <approve|transfer|balance|custody> [flags]",
		"  approve  --asset ADDR --amount N          allow the escrow custody to pull N",
		"  transfer --asset ADDR --to ADDR --amount N",
		"  balance  --asset ADDR --principal ADDR",
		"  custody  --asset ADDR                     amount currently escrowed",
	}, "\n")
}

func runTokenCommand(args []string, stdout, stderr io.Writer) int {
	return dispatch("token", map[string]command{
		"approve":  runTokenApprove,
		"transfer": runTokenTransfer,
		"balance":  runTokenBalance,
		"custody": func(args []string, stdout, stderr io.Writer) int {
			fs := newFlagSet("token custody", stderr, tokenUsage())
			asset := fs.String("asset", "", "asset id")
			if err := fs.Parse(args); err != nil {
				return 1
			}
			addr, err := requireAddress("asset", *asset)
			if err != nil {
				return printError(stderr, err.Error())
			}
			result, apiErr, err := apiCall(http.MethodGet, "/v1/custody/"+addr, nil, false)
			return handleCall(stdout, stderr, result, apiErr, err)
		},
	}, tokenUsage(), args, stdout, stderr)
}

func runTokenApprove(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("token approve", stderr, tokenUsage())
	asset := fs.String("asset", "", "asset id")
	amount := fs.String("amount", "", "allowance granted to the escrow custody")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	addr, err := requireAddress("asset", *asset)
	if err != nil {
		return printError(stderr, err.Error())
	}
	normalized, err := normalizeAmount(*amount)
	if err != nil {
		return printError(stderr, err.Error())
	}
	result, apiErr, err := apiCall(http.MethodPost, "/v1/tokens/"+addr+"/approve", map[string]string{"amount": normalized}, true)
	return handleCall(stdout, stderr, result, apiErr, err)
}

func runTokenTransfer(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("token transfer", stderr, tokenUsage())
	asset := fs.String("asset", "", "asset id")
	to := fs.String("to", "", "recipient address")
	amount := fs.String("amount", "", "amount to move from the caller")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	addr, err := requireAddress("asset", *asset)
	if err != nil {
		return printError(stderr, err.Error())
	}
	recipient, err := requireAddress("to", *to)
	if err != nil {
		return printError(stderr, err.Error())
	}
	normalized, err := normalizeAmount(*amount)
	if err != nil {
		return printError(stderr, err.Error())
	}
	body := map[string]string{"to": recipient, "amount": normalized}
	result, apiErr, err := apiCall(http.MethodPost, "/v1/tokens/"+addr+"/transfer", body, true)
	return handleCall(stdout, stderr, result, apiErr, err)
}

func runTokenBalance(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("token balance", stderr, tokenUsage())
	asset := fs.String("asset", "", "asset id")
	principal := fs.String("principal", "", "holder address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	assetAddr, err := requireAddress("asset", *asset)
	if err != nil {
		return printError(stderr, err.Error())
	}
	holder, err := requireAddress("principal", *principal)
	if err != nil {
		return printError(stderr, err.Error())
	}
	result, apiErr, err := apiCall(http.MethodGet, "/v1/tokens/"+assetAddr+"/balances/"+holder, nil, false)
	return handleCall(stdout, stderr, result, apiErr, err)
}

func runJournalCommand(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("journal", stderr, "Usage: coinfort-cli journal [--after N] [--type TYPE] [--limit N]")
	after := fs.Int64("after", 0, "only events with a greater sequence number")
	eventType := fs.String("type", "", "filter by event type")
	limit := fs.Int("limit", 0, "maximum number of events (server default when 0)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	query := url.Values{}
	if *after > 0 {
		query.Set("after", strconv.FormatInt(*after, 10))
	}
	if t := strings.TrimSpace(*eventType); t != "" {
		query.Set("type", t)
	}
	if *limit > 0 {
		query.Set("limit", strconv.Itoa(*limit))
	}
	path := "/v1/journal"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}
	result, apiErr, err := apiCall(http.MethodGet, path, nil, false)
	return handleCall(stdout, stderr, result, apiErr, err)
}
