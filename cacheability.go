package httpcache

import "net/http"

// IsResponseCacheable applies the full cacheability policy of this package
// to one origin exchange: the existing Cache-Control/must-understand/
// Authorization rules of canStore, plus three extra storage-time checks
// that canStore alone does not make:
//
//   - a response whose Content-Length disagrees with its actual body size
//     is refused (the entry would be unreplayable),
//   - a response carrying more than one Date, Expires, or Age header is
//     refused as ambiguous rather than guessing which value is authoritative,
//   - a response to a request whose URI has a query component is refused
//     unless it carries an explicit freshness indicator (max-age, s-maxage,
//     or Expires) — without one, this package assigns no heuristic
//     freshness to query URIs, so keeping such an entry would only ever
//     serve require-revalidation stale data.
//
// maxObjectSize, if positive, additionally caps len(entry.Body).
func IsResponseCacheable(entry *CacheEntry, req *http.Request, isPublicCache bool, maxObjectSize int64) bool {
	reqCC := parseCacheControl(req.Header, GetLogger())
	respCC := parseCacheControl(entry.Header, GetLogger())

	if !canStore(req, reqCC, respCC, isPublicCache, entry.StatusCode, GetLogger()) {
		return false
	}

	if !entry.ContentLengthMatchesActual() {
		GetLogger().Debug("refusing to cache response with mismatched Content-Length",
			"url", req.URL.String())
		return false
	}

	for _, name := range []string{"Date", "Expires", headerAge} {
		if len(entry.Header[http.CanonicalHeaderKey(name)]) > 1 {
			GetLogger().Debug("refusing to cache response with duplicated header",
				"url", req.URL.String(), "header", name)
			return false
		}
	}

	if req.URL != nil && req.URL.RawQuery != "" {
		_, hasMaxAge := respCC[cacheControlMaxAge]
		_, hasSMaxAge := respCC[cacheControlSMaxAge]
		hasExpires := len(entry.Header[http.CanonicalHeaderKey("Expires")]) == 1
		if !hasMaxAge && !hasSMaxAge && !hasExpires {
			GetLogger().Debug("refusing to cache query URI without explicit freshness",
				"url", req.URL.String())
			return false
		}
	}

	if maxObjectSize > 0 && int64(len(entry.Body)) > maxObjectSize {
		GetLogger().Debug("refusing to cache response exceeding max object size",
			"url", req.URL.String(), "size", len(entry.Body), "limit", maxObjectSize)
		return false
	}

	return true
}
