package httpcache

import "net/http"

// BuildConditionalRequest returns a request that revalidates entry: req with
// If-None-Match and/or If-Modified-Since set from entry's validators,
// provided the caller has not already supplied its own. If entry carries no
// validator, or req already sets both, req is returned unchanged.
func BuildConditionalRequest(entry *CacheEntry, req *http.Request) *http.Request {
	etag := entry.Header.Get(headerETag)
	lastModified := entry.Header.Get(headerLastModified)

	needsEtag := etag != "" && req.Header.Get("If-None-Match") == ""
	needsLastModified := lastModified != "" && req.Header.Get("If-Modified-Since") == ""

	if !needsEtag && !needsLastModified {
		return req
	}

	req2 := cloneRequest(req)
	if needsEtag {
		req2.Header.Set("if-none-match", etag)
	}
	if needsLastModified {
		req2.Header.Set("if-modified-since", lastModified)
	}
	return req2
}

// UpdateEntry merges a 304 (Not Modified) revalidation response into cached,
// per RFC 9111 Section 4.3.4: cached's stored headers are overwritten with
// revalidated's end-to-end headers, its Age is recomputed at now, and the
// body is carried over unchanged. cached is never mutated; the result is a
// new CacheEntry.
func UpdateEntry(cached *CacheEntry, revalidated *CacheEntry) *CacheEntry {
	merged := cloneHeader(cached.Header)
	for _, name := range getEndToEndHeaders(revalidated.Header) {
		merged[name] = append([]string(nil), revalidated.Header[name]...)
	}

	next := &CacheEntry{
		RequestDate:   revalidated.RequestDate,
		ResponseDate:  revalidated.ResponseDate,
		Proto:         revalidated.Proto,
		StatusCode:    cached.StatusCode,
		ReasonPhrase:  cached.ReasonPhrase,
		Header:        merged,
		Body:          cached.Body,
		RequestMethod: cached.RequestMethod,
		VariantMap:    cached.VariantMap,
	}

	if age, err := calculateAge(next.Header, GetLogger()); err == nil {
		next.Header.Set(headerAge, formatAge(age))
	}

	return next
}
