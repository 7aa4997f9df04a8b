// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/bureau-foundation/pingkit/lib/netutil"
)

// HTTPUploader POSTs pings over HTTP(S). It supports no capabilities,
// so any ping that requires one is answered with Incapable.
type HTTPUploader struct {
	client *http.Client
	logger *slog.Logger
}

// NewHTTPUploader creates an uploader whose requests time out after
// timeout. Redirects are not followed; a 3xx is reported as-is.
func NewHTTPUploader(timeout time.Duration, logger *slog.Logger) *HTTPUploader {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	client := cleanhttp.DefaultPooledClient()
	client.Timeout = timeout
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &HTTPUploader{client: client, logger: logger}
}

// Upload sends request and maps the outcome to a Result.
func (u *HTTPUploader) Upload(ctx context.Context, request Request) Result {
	if len(request.Capabilities) > 0 {
		u.logger.Debug("ping requires unsupported capabilities",
			"capabilities", request.Capabilities,
		)
		return Incapable()
	}

	target, err := url.Parse(request.URL)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		u.logger.Error("unusable upload URL", "url", request.URL, "error", err)
		return UnrecoverableFailure()
	}

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(request.Body))
	if err != nil {
		u.logger.Error("building upload request", "url", request.URL, "error", err)
		return UnrecoverableFailure()
	}
	for name, value := range request.Headers {
		if http.CanonicalHeaderKey(name) == "Content-Length" {
			continue
		}
		httpRequest.Header.Set(name, value)
	}

	response, err := u.client.Do(httpRequest)
	if err != nil {
		u.logger.Info("upload request failed", "url", request.URL, "error", err)
		return RecoverableFailure()
	}
	defer netutil.DrainAndClose(response.Body)

	if response.StatusCode >= 400 && response.StatusCode < 500 {
		u.logger.Warn("server rejected ping",
			"url", request.URL,
			"status", response.StatusCode,
			"body", netutil.ErrorBody(response.Body),
		)
	}
	return StatusResult(response.StatusCode)
}
