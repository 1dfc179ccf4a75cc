// Package parser provides the client for the external document-parsing
// capability (PDF/DOCX/TXT to plain text).
package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/normatech/normrag/internal/config"
	"github.com/normatech/normrag/internal/errors"
)

// supportedTypes are the file extensions the capability accepts.
var supportedTypes = map[string]struct{}{
	".pdf":  {},
	".docx": {},
	".txt":  {},
}

// Result is the parse outcome.
type Result struct {
	Success bool   `json:"success"`
	Text    string `json:"text"`
	Pages   int    `json:"pages,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Client calls the parsing service over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a parser client from configuration.
func NewClient(cfg config.ParserConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// SupportedType reports whether filename has a parseable extension.
func SupportedType(filename string) bool {
	idx := strings.LastIndex(filename, ".")
	if idx < 0 {
		return false
	}
	_, ok := supportedTypes[strings.ToLower(filename[idx:])]
	return ok
}

// ParseDocument extracts plain text from document bytes. Unsupported file
// types are InputInvalid; transport failures are Transient; a parser-side
// failure is Upstream.
func (c *Client) ParseDocument(ctx context.Context, content []byte, filename string) (string, error) {
	if !SupportedType(filename) {
		return "", errors.Newf(errors.KindInputInvalid, "unsupported file type: %s", filename)
	}
	if len(content) == 0 {
		return "", errors.New(errors.KindInputInvalid, "empty file content")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", errors.Wrap(errors.KindFatal, "build multipart request", err)
	}
	if _, err := part.Write(content); err != nil {
		return "", errors.Wrap(errors.KindFatal, "build multipart request", err)
	}
	if err := mw.Close(); err != nil {
		return "", errors.Wrap(errors.KindFatal, "build multipart request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/parse", &body)
	if err != nil {
		return "", errors.Wrap(errors.KindFatal, "create request", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", errors.Wrap(errors.KindTransient, "parser service unavailable", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", errors.Newf(errors.KindTransient, "parser service status %d: %s", resp.StatusCode, string(msg))
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", errors.Wrap(errors.KindUpstream, "decode parser response", err)
	}
	if !result.Success {
		return "", errors.Newf(errors.KindUpstream, "parse failed: %s", result.Error)
	}
	if strings.TrimSpace(result.Text) == "" {
		return "", errors.New(errors.KindInputInvalid, "document contains no extractable text")
	}
	return result.Text, nil
}
