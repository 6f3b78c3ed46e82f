package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"coinfort/cmd/internal/credential"
)

const (
	apiEndpointEnv = "COINFORT_API"
	apiTokenEnv    = "COINFORT_TOKEN"
)

type apiError struct {
	Status  int    `json:"-"`
	Message string `json:"error"`
	Kind    string `json:"kind"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s (%s, HTTP %d)", e.Message, e.Kind, e.Status)
}

var (
	apiEndpoint = defaultAPIEndpoint()
	tokenSource = credential.NewSource(apiTokenEnv, "Enter API bearer token: ")
	httpClient  = &http.Client{Timeout: 15 * time.Second}

	// apiCall is swapped out by tests.
	apiCall = callAPI
)

func defaultAPIEndpoint() string {
	if v := strings.TrimSpace(os.Getenv(apiEndpointEnv)); v != "" {
		return strings.TrimRight(v, "/")
	}
	return "http://localhost:8646"
}

// callAPI performs a JSON request against the daemon. A non-2xx response is
// returned as *apiError; transport failures come back as the plain error.
func callAPI(method, path string, body interface{}, requireAuth bool) (json.RawMessage, *apiError, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, nil, err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, apiEndpoint+path, reader)
	if err != nil {
		return nil, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requireAuth {
		token, err := tokenSource.Get()
		if err != nil {
			return nil, nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &apiError{Status: resp.StatusCode}
		if err := json.Unmarshal(data, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
			if apiErr.Message == "" {
				apiErr.Message = http.StatusText(resp.StatusCode)
			}
		}
		return nil, apiErr, nil
	}
	return json.RawMessage(data), nil, nil
}
