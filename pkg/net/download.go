package net

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

const (
	maxIdleConns     = 10
	timeoutInSeconds = 60
	clientAgent      = "txrisk"

	defaultFileName = "data.csv"
)

var (
	reqTransport = &http.Transport{
		MaxIdleConns:          maxIdleConns,
		IdleConnTimeout:       timeoutInSeconds * time.Second,
		DisableCompression:    true,
		DisableKeepAlives:     false,
		ResponseHeaderTimeout: time.Duration(timeoutInSeconds) * time.Second,
	}

	ErrorURLNotFound = errors.New("URL not found")
)

// IsURL reports whether src is an http or https URL.
func IsURL(src string) bool {
	s := strings.ToLower(src)
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// GetHTTPClient returns a client sharing the package transport.
func GetHTTPClient() *http.Client {
	return &http.Client{
		Timeout:   time.Duration(timeoutInSeconds) * time.Second,
		Transport: reqTransport,
	}
}

func getResp(ctx context.Context, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating HTTP Get request: %w", err)
	}

	req.Header.Set("User-Agent", clientAgent)

	return GetHTTPClient().Do(req) //nolint:gosec // URL comes from the operator's --data flag
}

// Download saves the content at u to the file at target.
func Download(ctx context.Context, u string, target string) (retErr error) {
	resp, err := getResp(ctx, u)
	if err != nil {
		return fmt.Errorf("error executing HTTP Get request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrorURLNotFound
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("error downloading file (status: %d - %s): %s", resp.StatusCode, resp.Status, u)
	}

	out, err := os.Create(target)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && retErr == nil {
			retErr = fmt.Errorf("closing file: %w", cerr)
		}
	}()

	if _, err = io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("error saving downloaded content to file: %w", err)
	}

	return nil
}

// Fetch returns a local path for src. Local paths are returned as is.
// URLs are downloaded into dir under their own file name so a .gz
// extension still selects decompression.
func Fetch(ctx context.Context, src, dir string) (string, error) {
	if !IsURL(src) {
		return src, nil
	}

	u, err := url.Parse(src)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %s: %w", src, err)
	}

	name := path.Base(u.Path)
	if name == "." || name == ".." || name == "/" || name == "" {
		name = defaultFileName
	}

	target := filepath.Join(dir, name)
	if err := Download(ctx, src, target); err != nil {
		return "", fmt.Errorf("error downloading %s: %w", src, err)
	}
	return target, nil
}
