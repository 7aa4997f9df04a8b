// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package localcore

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/bureau-foundation/pingkit/lib/upload"
	"github.com/bureau-foundation/pingkit/lib/version"
)

// buildRequest turns a stored ping into an upload request. The body is
// gzipped when that makes it smaller.
func buildRequest(record *pingRecord, now time.Time) (upload.PingRequest, error) {
	body, err := record.payload()
	if err != nil {
		return upload.PingRequest{}, err
	}

	headers := map[string]string{
		"Content-Type":      "application/json; charset=utf-8",
		"Date":              now.UTC().Format(http.TimeFormat),
		"User-Agent":        version.UserAgent(),
		"X-Telemetry-Agent": version.TelemetryAgent(),
	}

	compressed, err := gzipBody(body)
	if err != nil {
		return upload.PingRequest{}, err
	}
	if len(compressed) < len(body) {
		body = compressed
		headers["Content-Encoding"] = "gzip"
	}
	headers["Content-Length"] = strconv.Itoa(len(body))

	return upload.PingRequest{
		DocumentID: record.DocumentID,
		Path:       record.Path,
		Body:       body,
		Headers:    headers,
	}, nil
}

func gzipBody(body []byte) ([]byte, error) {
	var buffer bytes.Buffer
	writer := gzip.NewWriter(&buffer)
	if _, err := writer.Write(body); err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	return buffer.Bytes(), nil
}
