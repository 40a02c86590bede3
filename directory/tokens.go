package directory

import (
	"context"

	"github.com/trustfabric/device-trust-gateway/metrics"
	"github.com/trustfabric/device-trust-gateway/trust"
)

// GetToken returns a trust token for the given host. A cached token younger
// than trust.CacheTimeout is returned annotated as cache-sourced with a fresh
// read timestamp and no network call; otherwise a new token is fetched from
// the local management API and cached. Hosts on the down-device list fail
// with trust.ErrHostUnavailable before any fetch is attempted.
func (d *Directory) GetToken(ctx context.Context, host string) (*trust.Token, error) {
	if d.downSet.Contains(host) {
		return nil, trust.ErrHostUnavailable
	}

	now := d.now()

	d.tokenMu.Lock()
	entry, ok := d.tokenCache[host]
	if ok && now.Sub(entry.fetchedAt) < trust.CacheTimeout {
		token := entry.token
		token.FromCache = true
		token.FromCacheTimestamp = now.UnixMilli()
		d.tokenMu.Unlock()
		d.log.Debug("retrieved token from cache", "host", host,
			"remainingMs", (trust.CacheTimeout - now.Sub(entry.fetchedAt)).Milliseconds())
		metrics.TokenCacheHits.Inc()
		return &token, nil
	}
	d.tokenMu.Unlock()

	token, err := d.local.FetchToken(ctx, host)
	if err != nil {
		return nil, err
	}
	metrics.TokenFetches.Inc()

	// stamp after the fetch, a slow fetch must not shorten the TTL
	d.tokenMu.Lock()
	d.tokenCache[host] = tokenEntry{token: *token, fetchedAt: d.now()}
	d.tokenMu.Unlock()

	result := *token
	return &result, nil
}

// FlushTokenCache removes the token cache entry for host together with every
// target cache entry whose cached host matches. Cache consistency is
// host-keyed: once a token entry is gone, the UUIDs depending on it cannot
// be recovered, so their target entries go too.
func (d *Directory) FlushTokenCache(host string) {
	d.tokenMu.Lock()
	delete(d.tokenCache, host)
	d.tokenMu.Unlock()

	d.targetMu.Lock()
	for uuid, entry := range d.targetCache {
		if entry.target.TargetHost == host {
			delete(d.targetCache, uuid)
		}
	}
	d.targetMu.Unlock()
}

// FlushAllCaches clears the token cache and the target cache.
func (d *Directory) FlushAllCaches() {
	d.tokenMu.Lock()
	d.tokenCache = make(map[string]tokenEntry)
	d.tokenMu.Unlock()

	d.targetMu.Lock()
	d.targetCache = make(map[string]targetEntry)
	d.targetMu.Unlock()
}
