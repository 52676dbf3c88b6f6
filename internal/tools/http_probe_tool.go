package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	httpProbeTimeout   = 10 * time.Second
	httpProbeBodyCap   = 64 * 1024
	httpProbeUserAgent = "redline-probe/1.0"
)

var titlePattern = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

// NewHTTPProbeTool creates the http_probe tool. No mutex key.
func NewHTTPProbeTool() *Tool {
	return &Tool{
		Name:        "http_probe",
		DisplayName: "HTTP Probe",
		Description: "Fetch a URL and report status code, server header, content type and page title. Follows redirects.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"url": map[string]interface{}{
					"type":        "string",
					"description": "URL to probe, e.g. http://10.0.0.5:8080/",
				},
			},
			"required": []string{"url"},
		},
		Execute: executeHTTPProbe,
	}
}

func executeHTTPProbe(ctx context.Context, req Request) (string, error) {
	rawURL, ok := req.Args["url"].(string)
	if !ok || strings.TrimSpace(rawURL) == "" {
		return "", fmt.Errorf("url argument is required")
	}
	rawURL = strings.TrimSpace(rawURL)
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		rawURL = "http://" + rawURL
	}

	ctx, cancel := context.WithTimeout(ctx, httpProbeTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	httpReq.Header.Set("User-Agent", httpProbeUserAgent)

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("probe failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, httpProbeBodyCap))

	var b strings.Builder
	fmt.Fprintf(&b, "GET %s\n", rawURL)
	fmt.Fprintf(&b, "Status: %s\n", resp.Status)
	if resp.Request != nil && resp.Request.URL.String() != rawURL {
		fmt.Fprintf(&b, "Final URL: %s\n", resp.Request.URL)
	}
	if server := resp.Header.Get("Server"); server != "" {
		fmt.Fprintf(&b, "Server: %s\n", server)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		fmt.Fprintf(&b, "Content-Type: %s\n", ct)
	}
	if m := titlePattern.FindSubmatch(body); m != nil {
		title := strings.TrimSpace(string(m[1]))
		if len(title) > 200 {
			title = title[:200]
		}
		if title != "" {
			fmt.Fprintf(&b, "Title: %s\n", title)
		}
	}
	fmt.Fprintf(&b, "Body bytes read: %d", len(body))
	return b.String(), nil
}
