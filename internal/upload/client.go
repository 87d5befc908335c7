// Package upload implements the collector's external data-repository
// uploader: it ships a closed hourly CSV file, together with the
// static sensor-template file, to the configured campaign endpoint.
package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/fieldwatch/telemetry-collector/pkg/config"
)

// Client implements writer.Uploader against the external
// data-repository's upload endpoint.
type Client struct {
	cfg  config.UploadConfig
	http *http.Client
}

// New builds a Client. The underlying HTTP client retries idempotent
// failures up to cfg.MaxRetries times, since an hourly file is only
// shipped once and a transient network blip shouldn't strand it on
// disk.
func New(cfg config.UploadConfig) *Client {
	rc := retryablehttp.NewClient()
	rc.Logger = nil
	rc.RetryMax = cfg.MaxRetries
	rc.HTTPClient.Timeout = cfg.RequestTimeout

	return &Client{cfg: cfg, http: rc.StandardClient()}
}

// Upload ships path (the closed hourly CSV) and templatePath (the
// static sensor schema) as a multipart request tagged with
// campaignID and stationID.
func (c *Client) Upload(ctx context.Context, path, templatePath, campaignID string, stationID int) error {
	if c.cfg.BaseURL == "" {
		return fmt.Errorf("upload: no BASE_URL configured")
	}

	body, contentType, err := buildMultipart(path, templatePath, campaignID, stationID)
	if err != nil {
		return fmt.Errorf("upload: building request body: %w", err)
	}

	endpoint := fmt.Sprintf("%s/campaigns/%s/stations/%d/observations", c.cfg.BaseURL, campaignID, stationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	if c.cfg.UserID != "" {
		req.SetBasicAuth(c.cfg.UserID, c.cfg.Password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("upload: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("upload: unexpected status %d: %s", resp.StatusCode, respBody)
	}
	return nil
}

// buildMultipart assembles the data file, the sensor template, and
// the campaign/station routing fields into one multipart body.
func buildMultipart(path, templatePath, campaignID string, stationID int) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)

	if err := attachFile(mw, "file", path); err != nil {
		return nil, "", err
	}
	if templatePath != "" {
		if err := attachFile(mw, "template", templatePath); err != nil {
			return nil, "", err
		}
	}
	if err := mw.WriteField("campaignId", campaignID); err != nil {
		return nil, "", err
	}
	if err := mw.WriteField("stationId", fmt.Sprintf("%d", stationID)); err != nil {
		return nil, "", err
	}

	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf, mw.FormDataContentType(), nil
}

func attachFile(mw *multipart.Writer, field, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	part, err := mw.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}
