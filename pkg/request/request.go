// Package request builds and serializes outbound HTTP/1.1 requests
// (spec §4.3).
package request

import (
	"encoding/base64"
	"strconv"
	"strings"

	"github.com/nilcode/httplite/pkg/constants"
	"github.com/nilcode/httplite/pkg/proxyconf"
	"github.com/nilcode/httplite/pkg/urlmodel"
)

const userAgent = "httplite/1.0"

// header is one name/value pair, preserving caller-supplied casing for
// output while remaining case-insensitive for lookup (spec §3).
type header struct {
	name  string
	value string
}

// Request is an immutable-once-sent description of an outbound HTTP/1.1
// request.
type Request struct {
	Method string
	URL    *urlmodel.URL
	Body   []byte

	Timeout        int64 // nanoseconds, 0 = no timeout
	Proxy          *proxyconf.Config
	MaxRedirects   int
	MaxHeadersSize int // 0 = unlimited
	MaxStatusLine  int // 0 = unlimited

	headers []header
}

// New creates a Request for method against an absolute URL.
func New(method, rawURL string) (*Request, error) {
	u, err := urlmodel.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	return &Request{
		Method:       strings.ToUpper(method),
		URL:          u,
		MaxRedirects: constants.DefaultMaxRedirects,
	}, nil
}

// SetHeader appends a header, replacing any existing one with the same
// name (case-insensitive).
func (r *Request) SetHeader(name, value string) *Request {
	for i, h := range r.headers {
		if strings.EqualFold(h.name, name) {
			r.headers[i].value = value
			return r
		}
	}
	r.headers = append(r.headers, header{name, value})
	return r
}

// SetHeaders appends or replaces several headers at once, in map
// iteration order.
func (r *Request) SetHeaders(h map[string]string) *Request {
	for name, value := range h {
		r.SetHeader(name, value)
	}
	return r
}

// Header returns the value set for name (case-insensitive) and whether it
// was found.
func (r *Request) Header(name string) (string, bool) {
	for _, h := range r.headers {
		if strings.EqualFold(h.name, name) {
			return h.value, true
		}
	}
	return "", false
}

// SetBody sets the request body.
func (r *Request) SetBody(body []byte) *Request {
	r.Body = body
	return r
}

// SetQueryParam appends "name=value" to the URL's raw query, joined with
// "&" (spec §6: "appends k=v to query with & separator").
func (r *Request) SetQueryParam(name, value string) *Request {
	pair := name + "=" + value
	if r.URL.HasQuery && r.URL.RawQuery != "" {
		r.URL.RawQuery += "&" + pair
	} else {
		r.URL.RawQuery = pair
	}
	r.URL.HasQuery = true
	return r
}

// SetTimeout sets the total request timeout.
func (r *Request) SetTimeout(nanos int64) *Request {
	r.Timeout = nanos
	return r
}

// SetProxy sets the proxy descriptor used to reach the target.
func (r *Request) SetProxy(proxy *proxyconf.Config) *Request {
	r.Proxy = proxy
	return r
}

// SetRedirectLimit overrides the default 100-hop redirect cap.
func (r *Request) SetRedirectLimit(n int) *Request {
	r.MaxRedirects = n
	return r
}

// SetMaxHeadersSize caps the response header block size; 0 means unlimited.
func (r *Request) SetMaxHeadersSize(n int) *Request {
	r.MaxHeadersSize = n
	return r
}

// SetMaxStatusLineSize caps the response status-line length; 0 means
// unlimited.
func (r *Request) SetMaxStatusLineSize(n int) *Request {
	r.MaxStatusLine = n
	return r
}

// Serialize renders the request line, headers, blank line, and body
// exactly as spec §4.3 describes. usingProxy must be true when the
// connection is a plain-http hop through a proxy, which switches the
// request line to absolute form.
func (r *Request) Serialize(usingProxy bool) []byte {
	return r.SerializeAgainst(r.URL, usingProxy)
}

// SerializeAgainst renders the request the same way as Serialize, but
// against an explicit target URL rather than r.URL. The redirect driver
// uses this to resend the same method/headers/body at each hop without
// mutating the original request (spec §4.6).
func (r *Request) SerializeAgainst(u *urlmodel.URL, usingProxy bool) []byte {
	var b strings.Builder

	target := u.RequestTarget()
	if usingProxy && u.Scheme == "http" {
		target = u.AbsoluteForm()
	}
	b.WriteString(r.Method)
	b.WriteByte(' ')
	b.WriteString(target)
	b.WriteString(" HTTP/1.1\r\n")

	r.writeDefaultedHeaders(&b, u)

	for _, h := range r.headers {
		b.WriteString(h.name)
		b.WriteString(": ")
		b.WriteString(h.value)
		b.WriteString("\r\n")
	}

	b.WriteString("\r\n")
	b.Write(r.Body)

	return []byte(b.String())
}

// writeDefaultedHeaders emits Host/Accept/User-Agent/Connection/
// Content-Length/Proxy-Authorization for any name the caller did not
// already set (spec §4.3 step 2).
func (r *Request) writeDefaultedHeaders(b *strings.Builder, u *urlmodel.URL) {
	if _, ok := r.Header("Host"); !ok {
		b.WriteString("Host: ")
		b.WriteString(u.HostHeader())
		b.WriteString("\r\n")
	}
	if _, ok := r.Header("Accept"); !ok {
		b.WriteString("Accept: */*\r\n")
	}
	if _, ok := r.Header("User-Agent"); !ok {
		b.WriteString("User-Agent: ")
		b.WriteString(userAgent)
		b.WriteString("\r\n")
	}
	if _, ok := r.Header("Connection"); !ok {
		b.WriteString("Connection: Close\r\n")
	}
	if _, ok := r.Header("Content-Length"); !ok {
		b.WriteString("Content-Length: ")
		b.WriteString(strconv.Itoa(len(r.Body)))
		b.WriteString("\r\n")
	}
	if r.Proxy != nil && r.Proxy.Username != "" {
		if _, ok := r.Header("Proxy-Authorization"); !ok {
			b.WriteString("Proxy-Authorization: Basic ")
			b.WriteString(base64.StdEncoding.EncodeToString([]byte(r.Proxy.Username + ":" + r.Proxy.Password)))
			b.WriteString("\r\n")
		}
	}
}
