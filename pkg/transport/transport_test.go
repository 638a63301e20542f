package transport

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/nilcode/httplite/pkg/proxyconf"
	"github.com/nilcode/httplite/pkg/timing"
)

func listenTCP(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	return ln
}

func TestConnectDirect(t *testing.T) {
	ln := listenTCP(t)
	defer ln.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
	}()

	addr := ln.Addr().(*net.TCPAddr)
	tr := New()
	conn, meta, err := tr.Connect(context.Background(), Config{
		Scheme: "http",
		Host:   addr.IP.String(),
		Port:   addr.Port,
	}, timing.NewTimer())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	if meta.NegotiatedProtocol != "HTTP/1.1" {
		t.Errorf("NegotiatedProtocol = %q, want HTTP/1.1", meta.NegotiatedProtocol)
	}
	<-done
}

// rewriteHostEncoder ignores the input host and always returns to, proving
// Connect dials whatever Encode returns rather than the raw Config.Host.
type rewriteHostEncoder struct{ to string }

func (r rewriteHostEncoder) Encode(string) (string, error) { return r.to, nil }

func TestConnectUsesHostEncoder(t *testing.T) {
	ln := listenTCP(t)
	defer ln.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Close()
	}()

	addr := ln.Addr().(*net.TCPAddr)
	tr := New()
	conn, _, err := tr.Connect(context.Background(), Config{
		Scheme:      "http",
		Host:        "this-name-does-not-resolve.invalid",
		Port:        addr.Port,
		HostEncoder: rewriteHostEncoder{to: addr.IP.String()},
	}, timing.NewTimer())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()
	<-done
}

func TestConnectRespectsDeadline(t *testing.T) {
	tr := New()
	_, _, err := tr.Connect(context.Background(), Config{
		Scheme:   "http",
		Host:     "127.0.0.1",
		Port:     1,
		Deadline: time.Now().Add(-time.Second),
	}, timing.NewTimer())
	if err == nil {
		t.Fatal("expected an error for an already-expired deadline")
	}
}

func TestConnectViaHTTPProxyTunnelsHTTPS(t *testing.T) {
	ln := listenTCP(t)
	defer ln.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		reader := bufio.NewReader(conn)
		line, _ := reader.ReadString('\n')
		if !strings.HasPrefix(line, "CONNECT ") {
			t.Errorf("expected a CONNECT request line, got %q", line)
		}
		for {
			l, err := reader.ReadString('\n')
			if err != nil || l == "\r\n" {
				break
			}
		}
		conn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n"))
	}()

	addr := ln.Addr().(*net.TCPAddr)
	tr := New()
	conn, meta, err := tr.Connect(context.Background(), Config{
		Scheme:             "https",
		Host:               "origin.example",
		Port:               443,
		InsecureSkipVerify: true,
		Proxy: &proxyconf.Config{
			Scheme: "http",
			Host:   addr.IP.String(),
			Port:   addr.Port,
		},
	}, timing.NewTimer())

	// The fake proxy never completes a real TLS handshake past the CONNECT
	// response, so the handshake itself is expected to fail; what this test
	// verifies is that the CONNECT tunnel was attempted and the proxy saw it.
	<-done
	if err == nil {
		conn.Close()
	}
	if meta != nil && !meta.ProxyUsed {
		t.Error("ProxyUsed should be true once a proxy is configured")
	}
}

func TestConnectViaHTTPProxyPlainHTTPSkipsConnect(t *testing.T) {
	ln := listenTCP(t)
	defer ln.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Close()
	}()

	addr := ln.Addr().(*net.TCPAddr)
	tr := New()
	conn, meta, err := tr.Connect(context.Background(), Config{
		Scheme: "http",
		Host:   "origin.example",
		Port:   80,
		Proxy: &proxyconf.Config{
			Scheme: "http",
			Host:   addr.IP.String(),
			Port:   addr.Port,
		},
	}, timing.NewTimer())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()
	if !meta.ProxyUsed || meta.ProxyAddr != addr.IP.String()+":"+strconv.Itoa(addr.Port) {
		t.Errorf("unexpected proxy metadata: %+v", meta)
	}
	<-done
}

func TestConnectViaSOCKS4(t *testing.T) {
	ln := listenTCP(t)
	defer ln.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		req := make([]byte, 9)
		if _, err := readFull(conn, req); err != nil {
			return
		}
		conn.Write([]byte{0x00, 0x5A, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00})
	}()

	addr := ln.Addr().(*net.TCPAddr)
	tr := New()
	conn, _, err := tr.Connect(context.Background(), Config{
		Scheme: "http",
		Host:   "127.0.0.1",
		Port:   9999,
		Proxy: &proxyconf.Config{
			Scheme: "socks4",
			Host:   addr.IP.String(),
			Port:   addr.Port,
		},
	}, timing.NewTimer())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()
	<-done
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestIdentityHostEncoder(t *testing.T) {
	enc := IdentityHostEncoder{}
	got, err := enc.Encode("example.com")
	if err != nil || got != "example.com" {
		t.Fatalf("Encode() = %q, %v", got, err)
	}
}

func TestIDNAHostEncoderASCIIPassthrough(t *testing.T) {
	enc := IDNAHostEncoder{}
	got, err := enc.Encode("example.com")
	if err != nil || got != "example.com" {
		t.Fatalf("Encode() = %q, %v", got, err)
	}
}
