// Package upload implements the fire-and-forget handbook submission to the
// external helper endpoint. It is deliberately decoupled from the call
// session: uploading a new dealer handbook never touches the live room.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// fieldName is the multipart form field the helper endpoint expects.
const fieldName = "pdf"

// maxDiagnosticBody caps how much of an error response body is surfaced to
// the operator.
const maxDiagnosticBody = 512

// Result is the one-line outcome shown to the operator.
type Result struct {
	OK     bool   `json:"ok"`
	Status string `json:"status"`
}

// Client submits one file per call to the helper endpoint as multipart form
// data.
type Client struct {
	endpoint string
	http     *http.Client
}

func NewClient(endpoint string) *Client {
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

// Send uploads a single file. It never returns an error: every failure mode
// is mapped to an operator-readable status line, distinguishing HTTP-level
// rejection (status code plus response body) from transport-level failure.
func (c *Client) Send(ctx context.Context, filename string, file io.Reader) Result {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile(fieldName, filename)
	if err == nil {
		_, err = io.Copy(part, file)
	}
	if err == nil {
		err = writer.Close()
	}
	if err != nil {
		log.Printf("Upload: building request failed: %v", err)
		return Result{Status: fmt.Sprintf("upload failed: could not read %s", filename)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		log.Printf("Upload: bad endpoint %q: %v", c.endpoint, err)
		return Result{Status: "upload failed: invalid upload endpoint"}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		log.Printf("Upload: request to %s failed: %v", c.endpoint, err)
		return Result{Status: "upload failed: could not reach the handbook helper"}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxDiagnosticBody))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		diag := strings.TrimSpace(string(raw))
		if diag == "" {
			diag = resp.Status
		}
		return Result{Status: fmt.Sprintf("upload failed: HTTP %d: %s", resp.StatusCode, diag)}
	}

	return Result{OK: true, Status: successStatus(filename, raw)}
}

// successStatus folds the helper's response detail into the status line when
// it is present. The helper replies {"status":"ok","bytes_written":N,
// "filename":...}; anything else still counts as success on a 2xx.
func successStatus(filename string, raw []byte) string {
	var detail struct {
		BytesWritten int    `json:"bytes_written"`
		Filename     string `json:"filename"`
	}
	if err := json.Unmarshal(raw, &detail); err == nil && detail.BytesWritten > 0 {
		name := detail.Filename
		if name == "" {
			name = filename
		}
		return fmt.Sprintf("uploaded %s (%d bytes)", name, detail.BytesWritten)
	}
	return fmt.Sprintf("uploaded %s", filename)
}
