package pipeline

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/sitegate/pkg/auth"
	"github.com/platinummonkey/sitegate/pkg/httputil"
)

// Header names used by the HTTP transport
const (
	HeaderSessionID          = "X-Session-ID"
	HeaderCorrelationID      = "X-Correlation-ID"
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRetryAfter         = "Retry-After"
	HeaderTokenRefresh       = "X-Token-Refresh"
)

const (
	projectIDVar  = "projectId"
	resourceIDVar = "id"
)

// Handler adapts op to net/http. Path variables projectId and id fill the
// request's project and resource ids.
func (p *Pipeline) Handler(op *Operation) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := RequestFromHTTP(r, p.proxies)
		WriteResponse(w, p.Execute(r.Context(), op, req))
	})
}

// RequestFromHTTP builds a Request from an HTTP request. Forwarding headers
// count only when the peer is one of proxies.
func RequestFromHTTP(r *http.Request, proxies *httputil.TrustedProxies) *Request {
	req := &Request{
		SessionID:     r.Header.Get(HeaderSessionID),
		OriginIP:      proxies.ClientIP(r),
		CorrelationID: r.Header.Get(HeaderCorrelationID),
		Params:        map[string]string{},
		Metadata:      map[string]string{},
	}
	if ua := r.UserAgent(); ua != "" {
		req.Metadata["userAgent"] = ua
	}

	if header := r.Header.Get("Authorization"); header != "" {
		token, err := auth.ExtractBearer(header)
		if err != nil {
			req.CredentialError = err
		}
		req.Credential = token
	}

	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			req.Params[key] = values[0]
		}
	}
	vars := mux.Vars(r)
	for key, value := range vars {
		req.Params[key] = value
	}
	req.ProjectID = vars[projectIDVar]
	req.ResourceID = vars[resourceIDVar]

	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		var body map[string]any
		if err := httputil.ParseJSON(r, &body); err != nil {
			req.BodyError = err
		} else {
			req.Body = body
		}
	}
	return req
}

// WriteResponse writes resp with its status and transport headers
func WriteResponse(w http.ResponseWriter, resp *Response) {
	h := w.Header()
	if resp.CorrelationID != "" {
		h.Set(HeaderCorrelationID, resp.CorrelationID)
	}
	if d := resp.RateLimit; d != nil && d.Limit > 0 {
		h.Set(HeaderRateLimitLimit, strconv.Itoa(d.Limit))
		h.Set(HeaderRateLimitRemaining, strconv.Itoa(d.Remaining))
		h.Set(HeaderRateLimitReset, strconv.FormatInt(d.ResetAt.Unix(), 10))
	}
	if resp.RetryAfter > 0 {
		h.Set(HeaderRetryAfter, strconv.Itoa(resp.RetryAfter))
	}
	if resp.RefreshRecommended {
		h.Set(HeaderTokenRefresh, "recommended")
	}

	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	httputil.WriteJSON(w, status, resp)
}
