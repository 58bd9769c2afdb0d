package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const defaultTimeout = 30 * time.Second

// Config holds a single export target's connection settings.
type Config struct {
	Host    string
	APIKey  string
	Timeout time.Duration
}

// client is the shared HTTP plumbing for export targets.
type client struct {
	host   string
	apiKey string
	http   *http.Client
}

func newClient(cfg Config) client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return client{
		host:   strings.TrimRight(cfg.Host, "/"),
		apiKey: cfg.APIKey,
		http:   &http.Client{Timeout: timeout},
	}
}

// doJSON sends a JSON request and decodes the response body into out
// when out is non-nil. Non-2xx responses come back as the status code
// plus a body excerpt.
func (c client) doJSON(ctx context.Context, method, path string, payload, out any) (int, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.host+path, body)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("%s %s returned %d: %s", method, path, resp.StatusCode, excerpt(data))
	}
	if out != nil && len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// uploadMultipart PUTs a file as a multipart form.
func (c client) uploadMultipart(ctx context.Context, path, fieldName, filePath string, extraFields map[string]string) error {
	data, err := readFile(filePath)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile(fieldName, filepath.Base(filePath))
	if err != nil {
		return fmt.Errorf("failed to build multipart form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("failed to write multipart form: %w", err)
	}
	for k, v := range extraFields {
		if err := writer.WriteField(k, v); err != nil {
			return fmt.Errorf("failed to write multipart field: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close multipart form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.host+path, &buf)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("PUT %s returned %d: %s", path, resp.StatusCode, excerpt(body))
	}
	return nil
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image %s: %w", path, err)
	}
	return data, nil
}

func excerpt(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

// durationMinutes converts an ISO 8601 duration like "PT1H30M" to
// whole minutes. Unparseable input yields 0.
func durationMinutes(iso string) int {
	s := strings.ToUpper(strings.TrimSpace(iso))
	s = strings.TrimPrefix(s, "PT")
	if s == "" {
		return 0
	}

	minutes := 0
	num := ""
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9' || r == '.':
			num += string(r)
		case r == 'H':
			if v, err := strconv.ParseFloat(num, 64); err == nil {
				minutes += int(v * 60)
			}
			num = ""
		case r == 'M':
			if v, err := strconv.ParseFloat(num, 64); err == nil {
				minutes += int(v)
			}
			num = ""
		case r == 'S':
			num = ""
		default:
			return 0
		}
	}
	return minutes
}

// parseAmount converts a quantity string to a number Tandoor accepts.
// Fractions like "1/2" and comma decimals are handled; anything else
// returns ok=false and the ingredient goes out amountless.
func parseAmount(quantity string) (float64, bool) {
	s := strings.TrimSpace(strings.ReplaceAll(quantity, ",", "."))
	if s == "" {
		return 0, false
	}
	if num, denom, found := strings.Cut(s, "/"); found {
		n, err1 := strconv.ParseFloat(strings.TrimSpace(num), 64)
		d, err2 := strconv.ParseFloat(strings.TrimSpace(denom), 64)
		if err1 == nil && err2 == nil && d != 0 {
			return n / d, true
		}
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
