package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/evetabi/resolution/internal/domain"
	"github.com/go-resty/resty/v2"
)

// EvidenceProber checks that evidence URLs are reachable before a resolution
// is applied. Probe results are advisory: a dead link produces a warning in
// the audit trail, never a rejected resolution, because sources routinely
// disappear after the fact.
type EvidenceProber struct {
	client *resty.Client
}

// NewEvidenceProber creates a prober whose requests time out after timeout.
func NewEvidenceProber(timeout time.Duration) *EvidenceProber {
	client := resty.New().
		SetTimeout(timeout).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(5)).
		SetHeader("User-Agent", "resolution-engine/1.0")
	return &EvidenceProber{client: client}
}

type probeResult struct {
	index   int
	warning string
}

// Probe HEADs every evidence URL concurrently and returns warnings for the
// ones that failed, in evidence order.
func (p *EvidenceProber) Probe(ctx context.Context, items []domain.Evidence) []string {
	ch := make(chan probeResult, len(items))
	probes := 0
	for i, item := range items {
		if item.URL == "" {
			continue
		}
		probes++
		go func(idx int, url string) {
			resp, err := p.client.R().SetContext(ctx).Head(url)
			switch {
			case err != nil:
				ch <- probeResult{idx, fmt.Sprintf("evidence url %s unreachable: %v", url, err)}
			case resp.StatusCode() >= 400:
				ch <- probeResult{idx, fmt.Sprintf("evidence url %s returned status %d", url, resp.StatusCode())}
			default:
				ch <- probeResult{index: idx}
			}
		}(i, item.URL)
	}

	var results []probeResult
	for i := 0; i < probes; i++ {
		if r := <-ch; r.warning != "" {
			results = append(results, r)
		}
	}
	sort.Slice(results, func(a, b int) bool { return results[a].index < results[b].index })

	warnings := make([]string, 0, len(results))
	for _, r := range results {
		warnings = append(warnings, r.warning)
	}
	return warnings
}
