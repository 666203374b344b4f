// Package badip loads the externally maintained inbound/outbound bad-IP
// blocklists at startup.
package badip

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nulpointcorp/edgeguard/internal/config"
)

// fetchTimeout is the reference bound for the startup blocklist fetch
// (spec.md §5).
const fetchTimeout = 30 * time.Second

// Lists holds the loaded inbound/outbound bad-IP sets. Immutable after
// Load returns.
type Lists struct {
	Inbound  map[string]struct{}
	Outbound map[string]struct{}
}

// Contains reports inbound/outbound membership for ip.
func (l *Lists) Contains(ip string) (inbound, outbound bool) {
	if l == nil {
		return false, false
	}
	_, inbound = l.Inbound[ip]
	_, outbound = l.Outbound[ip]
	return inbound, outbound
}

// Load fetches whichever of the inbound/outbound lists blockInbound and
// blockOutbound enable, from the URLs in cfg.
// A fetch failure is a fatal startup error: requests from an IP the
// operator intended to block must never silently pass because the
// source list failed to load.
func Load(ctx context.Context, cfg config.BadIPListConfig, blockInbound, blockOutbound bool) (*Lists, error) {
	lists := &Lists{
		Inbound:  map[string]struct{}{},
		Outbound: map[string]struct{}{},
	}

	client := &http.Client{Timeout: fetchTimeout}

	if blockInbound {
		set, err := fetchList(ctx, client, cfg.InboundURL)
		if err != nil {
			return nil, fmt.Errorf("badip: fetch inbound list: %w", err)
		}
		lists.Inbound = set
	}

	if blockOutbound {
		set, err := fetchList(ctx, client, cfg.OutboundURL)
		if err != nil {
			return nil, fmt.Errorf("badip: fetch outbound list: %w", err)
		}
		lists.Outbound = set
	}

	return lists, nil
}

func fetchList(ctx context.Context, client *http.Client, url string) (map[string]struct{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	set := make(map[string]struct{})
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		set[line] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return set, nil
}
