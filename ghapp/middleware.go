// Copyright 2025 Bluenote Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ghapp

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/gregjones/httpcache"
	"github.com/rcrowley/go-metrics"
	"github.com/rs/zerolog"
)

const (
	MetricsKeyRequests    = "github.requests"
	MetricsKeyRequests2xx = "github.requests.2xx"
	MetricsKeyRequests3xx = "github.requests.3xx"
	MetricsKeyRequests4xx = "github.requests.4xx"
	MetricsKeyRequests5xx = "github.requests.5xx"

	MetricsKeyRequestsCached = "github.requests.cached"

	MetricsKeyRateLimit          = "github.rate.limit"
	MetricsKeyRateLimitRemaining = "github.rate.remaining"
)

// ClientMetrics creates client middleware that records metrics about all
// requests. It also defines the metrics in the provided registry.
func ClientMetrics(registry metrics.Registry) ClientMiddleware {
	for _, key := range []string{
		MetricsKeyRequests,
		MetricsKeyRequests2xx,
		MetricsKeyRequests3xx,
		MetricsKeyRequests4xx,
		MetricsKeyRequests5xx,
		MetricsKeyRequestsCached,
	} {
		// Use GetOrRegister for thread-safety when creating multiple
		// RoundTrippers that share the same registry
		metrics.GetOrRegisterCounter(key, registry)
	}

	return func(next http.RoundTripper) http.RoundTripper {
		return roundTripperFunc(func(r *http.Request) (*http.Response, error) {
			installationID := InstallationFromContext(r.Context())

			res, err := next.RoundTrip(r)

			if res != nil {
				registry.Get(MetricsKeyRequests).(metrics.Counter).Inc(1)
				if key := bucketStatus(res.StatusCode); key != "" {
					registry.Get(key).(metrics.Counter).Inc(1)
				}

				if res.Header.Get(httpcache.XFromCache) != "" {
					registry.Get(MetricsKeyRequestsCached).(metrics.Counter).Inc(1)
				}

				limitMetric := fmt.Sprintf("%s[installation:%d]", MetricsKeyRateLimit, installationID)
				remainingMetric := fmt.Sprintf("%s[installation:%d]", MetricsKeyRateLimitRemaining, installationID)

				updateRegistryForHeader(res.Header, "X-RateLimit-Limit", metrics.GetOrRegisterGauge(limitMetric, registry))
				updateRegistryForHeader(res.Header, "X-RateLimit-Remaining", metrics.GetOrRegisterGauge(remainingMetric, registry))
			}

			return res, err
		})
	}
}

func updateRegistryForHeader(headers http.Header, header string, metric metrics.Gauge) {
	headerString := headers.Get(header)
	if headerString != "" {
		headerVal, err := strconv.ParseInt(headerString, 10, 64)
		if err == nil {
			metric.Update(headerVal)
		}
	}
}

func bucketStatus(status int) string {
	switch {
	case status >= 200 && status < 300:
		return MetricsKeyRequests2xx
	case status >= 300 && status < 400:
		return MetricsKeyRequests3xx
	case status >= 400 && status < 500:
		return MetricsKeyRequests4xx
	case status >= 500 && status < 600:
		return MetricsKeyRequests5xx
	}
	return ""
}

// ClientLogging creates client middleware that logs request and response
// information at the given level. If the request fails without creating a
// response, it is logged with a status code of -1. The middleware uses a
// logger from the request context.
func ClientLogging(lvl zerolog.Level, opts ...ClientLoggingOption) ClientMiddleware {
	var options clientLoggingOptions
	for _, opt := range opts {
		opt(&options)
	}

	return func(next http.RoundTripper) http.RoundTripper {
		return roundTripperFunc(func(r *http.Request) (*http.Response, error) {
			var err error
			var reqBody []byte

			if pathMatches(r, options.requestBodyPatterns) {
				if r, reqBody, err = captureRequestBody(r); err != nil {
					return nil, err
				}
			}

			start := time.Now()
			res, err := next.RoundTrip(r)
			elapsed := time.Since(start)

			evt := zerolog.Ctx(r.Context()).WithLevel(lvl).
				Str("method", r.Method).
				Str("path", r.URL.String()).
				Dur("elapsed", elapsed)

			if reqBody != nil {
				evt.Bytes("request_body", reqBody)
			}

			if res != nil {
				evt.Int("status", res.StatusCode).
					Bool("cached", res.Header.Get(httpcache.XFromCache) != "")

				size := res.ContentLength
				if pathMatches(r, options.responseBodyPatterns) {
					var resBody []byte
					if res, resBody, err = captureResponseBody(res); err != nil {
						return res, err
					}
					if size < 0 {
						size = int64(len(resBody))
					}
					evt.Int64("size", size).Bytes("response_body", resBody)
				} else {
					evt.Int64("size", size)
				}
			} else {
				evt.Int("status", -1).
					Int64("size", -1).
					Bool("cached", false)
			}

			evt.Msg("github_request")
			return res, err
		})
	}
}

// ClientLoggingOption controls behavior of client request logs.
type ClientLoggingOption func(*clientLoggingOptions)

type clientLoggingOptions struct {
	requestBodyPatterns  []*regexp.Regexp
	responseBodyPatterns []*regexp.Regexp
}

// LogRequestBody enables request body logging for requests to paths
// matching any of the regular expressions in patterns. It panics if any
// of the patterns is not a valid regular expression.
func LogRequestBody(patterns ...string) ClientLoggingOption {
	regexps := compilePatterns(patterns)
	return func(opts *clientLoggingOptions) {
		opts.requestBodyPatterns = regexps
	}
}

// LogResponseBody enables response body logging for requests to paths
// matching any of the regular expressions in patterns. It panics if any
// of the patterns is not a valid regular expression.
func LogResponseBody(patterns ...string) ClientLoggingOption {
	regexps := compilePatterns(patterns)
	return func(opts *clientLoggingOptions) {
		opts.responseBodyPatterns = regexps
	}
}

func compilePatterns(pats []string) []*regexp.Regexp {
	regexps := make([]*regexp.Regexp, len(pats))
	for i, p := range pats {
		regexps[i] = regexp.MustCompile(p)
	}
	return regexps
}

func pathMatches(r *http.Request, pats []*regexp.Regexp) bool {
	for _, pat := range pats {
		if pat.MatchString(r.URL.Path) {
			return true
		}
	}
	return false
}

// captureRequestBody returns the request bytes without consuming the
// body the transport will send.
func captureRequestBody(r *http.Request) (*http.Request, []byte, error) {
	switch {
	case r.Body == nil || r.Body == http.NoBody:
		return r, []byte{}, nil

	case r.GetBody != nil:
		br, err := r.GetBody()
		if err != nil {
			return r, nil, err
		}
		body, err := io.ReadAll(br)
		_ = br.Close()
		return r, body, err

	default:
		body, err := io.ReadAll(r.Body)
		_ = r.Body.Close()
		if err != nil {
			return r, nil, err
		}
		rCopy := r.Clone(r.Context())
		rCopy.Body = io.NopCloser(bytes.NewReader(body))
		return rCopy, body, nil
	}
}

func captureResponseBody(res *http.Response) (*http.Response, []byte, error) {
	body, err := io.ReadAll(res.Body)
	_ = res.Body.Close()
	if err != nil {
		return res, nil, err
	}

	res.Body = io.NopCloser(bytes.NewReader(body))
	return res, body, nil
}

// ClientCache creates client middleware that caches GitHub responses
// using conditional requests. When alwaysValidate is set, cached
// responses are revalidated with GitHub even if they are still fresh,
// trading a request for a guaranteed-current answer that usually costs no
// rate limit.
func ClientCache(alwaysValidate bool, cache httpcache.Cache) ClientMiddleware {
	return func(next http.RoundTripper) http.RoundTripper {
		t := httpcache.NewTransport(cache)
		t.Transport = next
		if !alwaysValidate {
			return t
		}
		return roundTripperFunc(func(r *http.Request) (*http.Response, error) {
			r = cloneRequest(r)
			r.Header.Set("Cache-Control", "no-cache")
			return t.RoundTrip(r)
		})
	}
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (fn roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return fn(r)
}
