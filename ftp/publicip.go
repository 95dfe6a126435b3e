package ftp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// PublicIpUrl is the url to get the public ip of the server
const PublicIpUrl = "https://api.ipify.org"

// GetServerPublicIP asks url (PublicIpUrl when empty) for the address this host is seen from,
// to be announced in passive replies behind NAT.
func GetServerPublicIP(ctx context.Context, url string) (string, error) {
	if url == "" {
		url = PublicIpUrl
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("error getting public ip: %w", err)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("error getting public ip: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("error getting public ip: unexpected status %s", res.Status)
	}
	body, err := io.ReadAll(io.LimitReader(res.Body, 64))
	if err != nil {
		return "", fmt.Errorf("error reading public ip: %w", err)
	}
	return strings.TrimSpace(string(body)), nil
}
