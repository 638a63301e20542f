// Package transport dials a target host, optionally tunneling through an
// upstream proxy, and upgrades the resulting stream to TLS (spec §4.2).
//
// Every request opens a fresh connection: there is no pooling or reuse
// across requests, so Transport carries no long-lived state beyond its
// resolver and TLS collaborator configuration.
package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/nilcode/httplite/pkg/errors"
	"github.com/nilcode/httplite/pkg/proxyconf"
	"github.com/nilcode/httplite/pkg/timing"
	"github.com/nilcode/httplite/pkg/tlsconfig"
	netproxy "golang.org/x/net/proxy"
)

// HostEncoder normalizes a hostname to ASCII before DNS resolution and SNI
// (spec §6's "encode_hostname" collaborator). The default is an idna-backed
// encoder (see IDNAHostEncoder); tests may substitute an identity encoder.
type HostEncoder interface {
	Encode(host string) (string, error)
}

// Config describes one connection attempt: target, optional proxy, TLS
// knobs, and the deadline every blocking step must respect.
type Config struct {
	Scheme string // "http" or "https"
	Host   string
	Port   int

	Proxy *proxyconf.Config

	// TLS
	SNI                string // overrides Host for the TLS ServerName
	InsecureSkipVerify bool
	RootCAs            *x509.CertPool
	ClientCertPEM      []byte
	ClientKeyPEM       []byte
	MinTLSVersion      uint16
	MaxTLSVersion      uint16

	HostEncoder HostEncoder

	// Deadline is the absolute instant by which the whole Connect call
	// (DNS, every dial attempt, and the TLS handshake) must complete.
	// Zero means no limit.
	Deadline time.Time
}

// ConnectionMetadata records what Connect actually did, surfaced to callers
// through Response connection metadata (spec §3 supplemented features).
type ConnectionMetadata struct {
	ConnectedIP        string
	ConnectedPort      int
	NegotiatedProtocol string

	LocalAddr  string
	RemoteAddr string

	TLSVersion     string
	TLSCipherSuite string
	TLSServerName  string
	TLSResumed     bool

	ProxyUsed bool
	ProxyType string
	ProxyAddr string
}

// Transport dials connections. It is safe for concurrent use; it holds no
// per-connection state between calls.
type Transport struct {
	resolver *net.Resolver
}

// New creates a Transport using net.DefaultResolver.
func New() *Transport {
	return &Transport{resolver: net.DefaultResolver}
}

// NewWithResolver creates a Transport using a caller-supplied resolver,
// e.g. to point DNS lookups at a test fake.
func NewWithResolver(resolver *net.Resolver) *Transport {
	return &Transport{resolver: resolver}
}

// Connect resolves config.Host (unless it's a proxy hop or an IP literal),
// dials it directly or through config.Proxy, and upgrades to TLS if
// config.Scheme is "https". It returns the resulting stream and metadata
// describing what happened.
func (t *Transport) Connect(ctx context.Context, config Config, timer *timing.Timer) (net.Conn, *ConnectionMetadata, error) {
	if err := validateConfig(config); err != nil {
		return nil, nil, err
	}

	if config.HostEncoder != nil {
		encoded, err := config.HostEncoder.Encode(config.Host)
		if err != nil {
			return nil, nil, errors.NewIOError("encode_hostname", config.Host, config.Port, err)
		}
		config.Host = encoded
	}

	meta := &ConnectionMetadata{}
	host := config.Host

	if config.Proxy != nil {
		conn, err := t.connectViaProxy(ctx, config, timer, meta)
		if err != nil {
			return nil, nil, err
		}
		return t.finish(ctx, conn, config, timer, meta)
	}

	conn, err := t.dialDirect(ctx, host, config.Port, config.Deadline, timer)
	if err != nil {
		return nil, nil, err
	}
	return t.finish(ctx, conn, config, timer, meta)
}

func (t *Transport) finish(ctx context.Context, conn net.Conn, config Config, timer *timing.Timer, meta *ConnectionMetadata) (net.Conn, *ConnectionMetadata, error) {
	if conn.LocalAddr() != nil {
		meta.LocalAddr = conn.LocalAddr().String()
	}
	if conn.RemoteAddr() != nil {
		meta.RemoteAddr = conn.RemoteAddr().String()
	}

	if strings.EqualFold(config.Scheme, "https") {
		tlsConn, err := t.upgradeTLS(ctx, conn, config, timer, meta)
		if err != nil {
			conn.Close()
			return nil, nil, err
		}
		return tlsConn, meta, nil
	}

	meta.NegotiatedProtocol = "HTTP/1.1"
	return conn, meta, nil
}

func validateConfig(config Config) error {
	if config.Host == "" {
		return errors.NewIOError("connect", "", 0, fmt.Errorf("host cannot be empty"))
	}
	if config.Port <= 0 || config.Port > 65535 {
		return errors.NewIOError("connect", config.Host, config.Port, fmt.Errorf("port must be between 1 and 65535"))
	}
	if config.Scheme != "http" && config.Scheme != "https" {
		return errors.NewIOError("connect", config.Host, config.Port, fmt.Errorf("scheme must be http or https"))
	}
	return nil
}

// dialDirect resolves host and attempts each returned address in order,
// per spec §4.2: "Attempt connections in order with a per-attempt deadline
// computed from the remaining total timeout; if every address fails,
// surface the last underlying error."
func (t *Transport) dialDirect(ctx context.Context, host string, port int, deadline time.Time, timer *timing.Timer) (net.Conn, error) {
	addrs, err := t.resolve(ctx, host, deadline, timer)
	if err != nil {
		return nil, err
	}

	timer.StartTCP()
	defer timer.EndTCP()

	var lastErr error
	for _, addr := range addrs {
		remaining, terr := errors.RemainingOrTimeout("dial", deadline)
		if terr != nil {
			return nil, terr
		}

		dialer := &net.Dialer{}
		dialCtx := ctx
		var cancel context.CancelFunc
		if !deadline.IsZero() {
			dialCtx, cancel = context.WithTimeout(ctx, remaining)
		}
		conn, dialErr := dialer.DialContext(dialCtx, "tcp", net.JoinHostPort(addr, strconv.Itoa(port)))
		if cancel != nil {
			cancel()
		}
		if dialErr == nil {
			return conn, nil
		}
		lastErr = dialErr
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no addresses to dial")
	}
	return nil, errors.NewIOError("dial", host, port, lastErr)
}

// resolve returns host itself if it's already an IP literal, otherwise asks
// the resolver for the set of addresses to try in order.
func (t *Transport) resolve(ctx context.Context, host string, deadline time.Time, timer *timing.Timer) ([]string, error) {
	if ip := net.ParseIP(strings.Trim(host, "[]")); ip != nil {
		return []string{ip.String()}, nil
	}

	timer.StartDNS()
	defer timer.EndDNS()

	remaining, terr := errors.RemainingOrTimeout("resolve", deadline)
	if terr != nil {
		return nil, terr
	}

	lookupCtx := ctx
	var cancel context.CancelFunc
	if !deadline.IsZero() {
		lookupCtx, cancel = context.WithTimeout(ctx, remaining)
		defer cancel()
	}

	ipAddrs, err := t.resolver.LookupIPAddr(lookupCtx, host)
	if err != nil {
		return nil, errors.NewIOError("resolve", host, 0, err)
	}
	if len(ipAddrs) == 0 {
		return nil, errors.NewIOError("resolve", host, 0, fmt.Errorf("no addresses found"))
	}

	addrs := make([]string, len(ipAddrs))
	for i, a := range ipAddrs {
		addrs[i] = a.IP.String()
	}
	return addrs, nil
}

// upgradeTLS hands conn to the TLS collaborator, using config.Host (or the
// IP literal itself) for SNI and verification, per spec §4.2.
func (t *Transport) upgradeTLS(ctx context.Context, conn net.Conn, config Config, timer *timing.Timer, meta *ConnectionMetadata) (net.Conn, error) {
	timer.StartTLS()
	defer timer.EndTLS()

	serverName := config.Host
	if config.SNI != "" {
		serverName = config.SNI
	}

	tlsConfig := &tls.Config{
		ServerName:         serverName,
		InsecureSkipVerify: config.InsecureSkipVerify,
		RootCAs:            config.RootCAs,
		MinVersion:         tls.VersionTLS12,
		NextProtos:         []string{"http/1.1"},
	}
	if config.MinTLSVersion != 0 {
		tlsConfig.MinVersion = config.MinTLSVersion
	}
	if config.MaxTLSVersion != 0 {
		tlsConfig.MaxVersion = config.MaxTLSVersion
	}
	tlsconfig.ApplyCipherSuites(tlsConfig, tlsConfig.MinVersion)

	if len(config.ClientCertPEM) > 0 && len(config.ClientKeyPEM) > 0 {
		cert, err := tls.X509KeyPair(config.ClientCertPEM, config.ClientKeyPEM)
		if err != nil {
			return nil, errors.NewIOError("tls_handshake", config.Host, config.Port, fmt.Errorf("parsing client certificate: %w", err))
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	remaining, terr := errors.RemainingOrTimeout("tls_handshake", config.Deadline)
	if terr != nil {
		return nil, terr
	}

	handshakeCtx := ctx
	var cancel context.CancelFunc
	if !config.Deadline.IsZero() {
		handshakeCtx, cancel = context.WithTimeout(ctx, remaining)
		defer cancel()
	}

	tlsConn := tls.Client(conn, tlsConfig)
	if err := tlsConn.HandshakeContext(handshakeCtx); err != nil {
		return nil, errors.NewIOError("tls_handshake", config.Host, config.Port, err)
	}

	state := tlsConn.ConnectionState()
	meta.TLSVersion = tlsconfig.GetVersionName(state.Version)
	meta.TLSCipherSuite = tlsconfig.GetCipherSuiteName(state.CipherSuite)
	meta.TLSServerName = serverName
	meta.TLSResumed = state.DidResume
	meta.NegotiatedProtocol = state.NegotiatedProtocol
	if meta.NegotiatedProtocol == "" {
		meta.NegotiatedProtocol = "HTTP/1.1"
	}

	return tlsConn, nil
}

// connectViaProxy implements spec §4.2's proxy branch: HTTP CONNECT
// tunneling only when the target scheme is https; for plain http the
// connection to the proxy is itself the connection the request is sent
// over (the request package emits the absolute-form request line).
func (t *Transport) connectViaProxy(ctx context.Context, config Config, timer *timing.Timer, meta *ConnectionMetadata) (net.Conn, error) {
	proxy := config.Proxy
	meta.ProxyUsed = true
	meta.ProxyType = proxy.Scheme
	meta.ProxyAddr = proxy.Addr()

	timer.StartTCP()
	defer timer.EndTCP()

	switch proxy.Scheme {
	case "socks4":
		return t.connectViaSOCKS4(ctx, proxy, config, timer)
	case "socks5":
		return t.connectViaSOCKS5(ctx, proxy, config, timer)
	default: // "http"
		return t.connectViaHTTPProxy(ctx, proxy, config, timer)
	}
}

// connectViaHTTPProxy dials the proxy, and for an https target sends a
// CONNECT request per spec §4.2. For an http target it returns the raw
// proxy connection: the request serializer is responsible for writing the
// absolute-form request line over it.
func (t *Transport) connectViaHTTPProxy(ctx context.Context, proxy *proxyconf.Config, config Config, timer *timing.Timer) (net.Conn, error) {
	conn, err := t.dialDirect(ctx, proxy.Host, proxy.Port, config.Deadline, timer)
	if err != nil {
		return nil, errors.NewBadProxyError("connect", proxy.Addr(), err)
	}

	if !strings.EqualFold(config.Scheme, "https") {
		return conn, nil
	}

	targetAddr := net.JoinHostPort(config.Host, strconv.Itoa(config.Port))

	var req strings.Builder
	fmt.Fprintf(&req, "CONNECT %s HTTP/1.1\r\n", targetAddr)
	fmt.Fprintf(&req, "Host: %s\r\n", targetAddr)
	if proxy.Username != "" {
		auth := basicAuth(proxy.Username, proxy.Password)
		fmt.Fprintf(&req, "Proxy-Authorization: Basic %s\r\n", auth)
	}
	req.WriteString("\r\n")

	remaining, terr := errors.RemainingOrTimeout("proxy_connect", config.Deadline)
	if terr != nil {
		conn.Close()
		return nil, terr
	}
	if remaining > 0 {
		conn.SetDeadline(time.Now().Add(remaining))
		defer conn.SetDeadline(time.Time{})
	}

	if _, err := conn.Write([]byte(req.String())); err != nil {
		conn.Close()
		return nil, errors.NewBadProxyError("connect", proxy.Addr(), err)
	}

	reader := bufio.NewReader(conn)
	statusLine, err := reader.ReadString('\n')
	if err != nil {
		conn.Close()
		return nil, errors.NewBadProxyError("connect", proxy.Addr(), err)
	}
	if !isSuccessfulConnect(statusLine) {
		conn.Close()
		return nil, errors.NewBadProxyError("connect", proxy.Addr(), fmt.Errorf("proxy CONNECT failed: %s", strings.TrimSpace(statusLine)))
	}
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			conn.Close()
			return nil, errors.NewBadProxyError("connect", proxy.Addr(), err)
		}
		if line == "\r\n" || line == "\n" {
			break
		}
	}

	if reader.Buffered() > 0 {
		return &bufferedConn{Conn: conn, r: reader}, nil
	}
	return conn, nil
}

// isSuccessfulConnect reports whether a CONNECT response status line
// carries a 2xx code (spec §4.2 accepts any 2xx, not just 200).
func isSuccessfulConnect(statusLine string) bool {
	fields := strings.Fields(statusLine)
	if len(fields) < 2 {
		return false
	}
	code, err := strconv.Atoi(fields[1])
	return err == nil && code >= 200 && code < 300
}

func basicAuth(user, pass string) string {
	return base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
}

// bufferedConn wraps a net.Conn whose bufio.Reader may still hold bytes
// read past the CONNECT response's blank line (pipelined by an eager
// proxy); Read drains that buffer before falling through to the raw conn.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (b *bufferedConn) Read(p []byte) (int, error) {
	return b.r.Read(p)
}

// connectViaSOCKS4 implements the SOCKS4 CONNECT handshake (RFC 1928
// predecessor): IPv4 only, DNS resolved locally, optional user-ID field.
func (t *Transport) connectViaSOCKS4(ctx context.Context, proxy *proxyconf.Config, config Config, timer *timing.Timer) (net.Conn, error) {
	addrs, err := t.resolve(ctx, config.Host, config.Deadline, timer)
	if err != nil {
		return nil, errors.NewBadProxyError("connect", proxy.Addr(), fmt.Errorf("resolving target for SOCKS4: %w", err))
	}
	var targetIP net.IP
	for _, a := range addrs {
		if ip4 := net.ParseIP(a).To4(); ip4 != nil {
			targetIP = ip4
			break
		}
	}
	if targetIP == nil {
		return nil, errors.NewBadProxyError("connect", proxy.Addr(), fmt.Errorf("no IPv4 address for %s (SOCKS4 requires IPv4)", config.Host))
	}

	conn, err := t.dialDirect(ctx, proxy.Host, proxy.Port, config.Deadline, timer)
	if err != nil {
		return nil, errors.NewBadProxyError("connect", proxy.Addr(), err)
	}

	remaining, terr := errors.RemainingOrTimeout("proxy_connect", config.Deadline)
	if terr != nil {
		conn.Close()
		return nil, terr
	}
	if remaining > 0 {
		conn.SetDeadline(time.Now().Add(remaining))
		defer conn.SetDeadline(time.Time{})
	}

	req := []byte{0x04, 0x01, byte(config.Port >> 8), byte(config.Port & 0xFF)}
	req = append(req, targetIP...)
	if proxy.Username != "" {
		req = append(req, []byte(proxy.Username)...)
	}
	req = append(req, 0x00)

	if _, err := conn.Write(req); err != nil {
		conn.Close()
		return nil, errors.NewBadProxyError("connect", proxy.Addr(), err)
	}

	resp := make([]byte, 8)
	if _, err := io.ReadFull(conn, resp); err != nil {
		conn.Close()
		return nil, errors.NewBadProxyError("connect", proxy.Addr(), err)
	}
	if resp[1] != 0x5A {
		conn.Close()
		return nil, errors.NewBadProxyError("connect", proxy.Addr(), fmt.Errorf("SOCKS4 request rejected, status 0x%02X", resp[1]))
	}

	return conn, nil
}

// connectViaSOCKS5 delegates the handshake to golang.org/x/net/proxy,
// which implements RFC 1928 including optional username/password auth.
func (t *Transport) connectViaSOCKS5(ctx context.Context, proxy *proxyconf.Config, config Config, timer *timing.Timer) (net.Conn, error) {
	var auth *netproxy.Auth
	if proxy.Username != "" {
		auth = &netproxy.Auth{User: proxy.Username, Password: proxy.Password}
	}

	remaining, terr := errors.RemainingOrTimeout("proxy_connect", config.Deadline)
	if terr != nil {
		return nil, terr
	}

	dialer, err := netproxy.SOCKS5("tcp", proxy.Addr(), auth, &net.Dialer{Timeout: remaining})
	if err != nil {
		return nil, errors.NewBadProxyError("connect", proxy.Addr(), err)
	}

	targetAddr := net.JoinHostPort(config.Host, strconv.Itoa(config.Port))
	dialCtx := ctx
	if !config.Deadline.IsZero() {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithDeadline(ctx, config.Deadline)
		defer cancel()
	}
	var conn net.Conn
	if cd, ok := dialer.(netproxy.ContextDialer); ok {
		conn, err = cd.DialContext(dialCtx, "tcp", targetAddr)
	} else {
		conn, err = dialer.Dial("tcp", targetAddr)
	}
	if err != nil {
		return nil, errors.NewBadProxyError("connect", proxy.Addr(), err)
	}
	return conn, nil
}
