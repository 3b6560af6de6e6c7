// Package httpcache provides a http.RoundTripper implementation that works as a
// mostly RFC 9111 compliant cache for HTTP responses.
package httpcache

import (
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
)

// MaxAge is the sentinel returned for an Age header that is present but
// cannot be parsed as a non-negative integer. RFC 9111 treats such a header
// as absent for freshness purposes, but callers that want to distinguish
// "absent" from "unparseable" can compare against this constant.
const MaxAge = 2147483648

// HeaderField is an ordered (name, value) pair as received on the wire.
// Cache Entry headers are matched case-insensitively but the original
// casing is preserved for replay.
type HeaderField struct {
	Name  string
	Value string
}

// CacheEntry is an immutable value holding one cached response: status,
// headers, body, the request/response timestamps that bracket the origin
// exchange, and (for an entry with a Vary header) a map from variant key to
// the cache key of the child leaf entry.
//
// An entry is either a leaf (VariantMap empty, Body meaningful) or an index
// (VariantMap non-empty; Body is a placeholder). Updates never mutate an
// entry in place: UpdateEntry and the variant-indexing logic in Store always
// produce a new value.
type CacheEntry struct {
	RequestDate   time.Time
	ResponseDate  time.Time
	Proto         string
	StatusCode    int
	ReasonPhrase  string
	Header        http.Header
	Body          []byte
	RequestMethod string
	VariantMap    map[string]string
}

// cloneHeader returns a deep copy of h so CacheEntry values stay immutable
// after construction.
func cloneHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, vs := range h {
		cp := make([]string, len(vs))
		copy(cp, vs)
		out[k] = cp
	}
	return out
}

// NewCacheEntry builds an immutable entry from the components of an origin
// exchange. The header and body are copied so the caller may reuse or
// discard its buffers afterward.
func NewCacheEntry(method string, statusCode int, reason, proto string, header http.Header, body []byte, requestDate, responseDate time.Time) *CacheEntry {
	b := make([]byte, len(body))
	copy(b, body)
	return &CacheEntry{
		RequestDate:   requestDate,
		ResponseDate:  responseDate,
		Proto:         proto,
		StatusCode:    statusCode,
		ReasonPhrase:  reason,
		Header:        cloneHeader(header),
		Body:          b,
		RequestMethod: method,
	}
}

// HasVariants reports whether e is an index entry (carries a non-empty
// VariantMap) rather than a leaf.
func (e *CacheEntry) HasVariants() bool {
	return len(e.VariantMap) > 0
}

// IsRevalidatable reports whether the entry carries a strong validator
// (ETag or Last-Modified) that a conditional request can reference.
func (e *CacheEntry) IsRevalidatable() bool {
	return e.Header.Get(headerETag) != "" || e.Header.Get(headerLastModified) != ""
}

// dateHeader parses the entry's Date header, returning the zero Time and
// false when the header is absent, duplicated, or unparseable.
func (e *CacheEntry) dateHeader() (time.Time, bool) {
	if len(e.Header[http.CanonicalHeaderKey("Date")]) != 1 {
		return time.Time{}, false
	}
	t, err := http.ParseTime(e.Header.Get("Date"))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// ageHeaderSeconds parses the Age header per the sentinel rules of §4.A:
// an absent value yields 0 and a malformed value yields MaxAge.
func (e *CacheEntry) ageHeaderSeconds() int64 {
	values := e.Header[http.CanonicalHeaderKey(headerAge)]
	if len(values) == 0 {
		return 0
	}
	n, err := strconv.ParseInt(strings.TrimSpace(values[0]), 10, 64)
	if err != nil || n < 0 {
		return MaxAge
	}
	return n
}

// ContentLengthMatchesActual reports whether a present, parseable
// Content-Length header agrees with len(Body). A missing or unparseable
// header (sentinel −1) is treated as matching since there is nothing to
// contradict.
func (e *CacheEntry) ContentLengthMatchesActual() bool {
	cl := e.contentLength()
	if cl < 0 {
		return true
	}
	return cl == int64(len(e.Body))
}

// contentLength returns the parsed Content-Length header, or −1 if absent
// or unparseable.
func (e *CacheEntry) contentLength() int64 {
	v := e.Header.Get("Content-Length")
	if v == "" {
		return -1
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return -1
	}
	return n
}

// ApparentAge computes max(0, response_date − Date), or MaxAge seconds if
// the entry carries no usable Date header.
func (e *CacheEntry) ApparentAge() time.Duration {
	date, ok := e.dateHeader()
	if !ok {
		return time.Duration(MaxAge) * time.Second
	}
	d := e.ResponseDate.Sub(date)
	if d < 0 {
		return 0
	}
	return d
}

// CorrectedReceivedAge is max(apparent_age, Age_header).
func (e *CacheEntry) CorrectedReceivedAge() time.Duration {
	apparent := e.ApparentAge()
	age := time.Duration(e.ageHeaderSeconds()) * time.Second
	if age > apparent {
		return age
	}
	return apparent
}

// ResponseDelay is response_date − request_date.
func (e *CacheEntry) ResponseDelay() time.Duration {
	d := e.ResponseDate.Sub(e.RequestDate)
	if d < 0 {
		return 0
	}
	return d
}

// CorrectedInitialAge is corrected_received_age + response_delay.
func (e *CacheEntry) CorrectedInitialAge() time.Duration {
	return e.CorrectedReceivedAge() + e.ResponseDelay()
}

// ResidentTime is now − response_date.
func (e *CacheEntry) ResidentTime(now time.Time) time.Duration {
	d := now.Sub(e.ResponseDate)
	if d < 0 {
		return 0
	}
	return d
}

// CurrentAge is corrected_initial_age + resident_time, evaluated at now.
func (e *CacheEntry) CurrentAge(now time.Time) time.Duration {
	return e.CorrectedInitialAge() + e.ResidentTime(now)
}

// FreshnessLifetime implements §3: s-maxage (shared caches only) takes
// precedence over max-age, which takes precedence over Expires−Date; a
// shared cache presented with both max-age and s-maxage uses whichever is
// smaller (the more restrictive). Absent all three, lifetime is zero.
func (e *CacheEntry) FreshnessLifetime(shared bool) time.Duration {
	cc := parseCacheControl(e.Header, GetLogger())

	maxAge, hasMaxAge := parseDirectiveSeconds(cc, cacheControlMaxAge)
	sMaxAge, hasSMaxAge := parseDirectiveSeconds(cc, cacheControlSMaxAge)

	if shared && hasSMaxAge {
		if hasMaxAge && maxAge < sMaxAge {
			return maxAge
		}
		return sMaxAge
	}
	if hasMaxAge {
		return maxAge
	}

	date, ok := e.dateHeader()
	if !ok {
		return 0
	}
	expiresValues := e.Header[http.CanonicalHeaderKey("Expires")]
	if len(expiresValues) != 1 {
		return 0
	}
	expires, err := http.ParseTime(expiresValues[0])
	if err != nil {
		return 0
	}
	d := expires.Sub(date)
	if d < 0 {
		return 0
	}
	return d
}

// parseDirectiveSeconds parses a Cache-Control directive value (max-age,
// s-maxage) as non-negative integer seconds. A non-numeric value is
// treated as absent (the directive is ignored, per §4.A), never as zero.
func parseDirectiveSeconds(cc cacheControl, name string) (time.Duration, bool) {
	v, ok := cc[name]
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}

// IsFresh reports freshness_lifetime > current_age evaluated at now.
func (e *CacheEntry) IsFresh(now time.Time, shared bool) bool {
	return e.FreshnessLifetime(shared) > e.CurrentAge(now)
}

// entryFromResponse builds a CacheEntry describing resp as it will be
// stored: body is the fully-read response body, and the request/response
// timestamps come from the X-Request-Time/X-Response-Time headers that
// performRequest stamps onto every round trip.
func entryFromResponse(resp *http.Response, req *http.Request, body []byte) *CacheEntry {
	reqDate, _ := time.Parse(time.RFC3339, resp.Header.Get(XRequestTime))
	respDate, _ := time.Parse(time.RFC3339, resp.Header.Get(XResponseTime))
	return NewCacheEntry(req.Method, resp.StatusCode, resp.Status, resp.Proto, resp.Header, body, reqDate, respDate)
}

// variantTokens returns the sorted, lower-cased, trimmed tokens of the
// entry's Vary header.
func (e *CacheEntry) variantTokens() []string {
	raw := headerAllCommaSepValues(e.Header, "vary")
	tokens := make([]string, 0, len(raw))
	for _, t := range raw {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)
	return tokens
}
