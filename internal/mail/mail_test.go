package mail

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// relayCert borrows the httptest certificate, which is valid for 127.0.0.1.
func relayCert(t *testing.T) (tls.Certificate, *x509.CertPool) {
	t.Helper()
	srv := httptest.NewTLSServer(nil)
	t.Cleanup(srv.Close)
	pool := x509.NewCertPool()
	pool.AddCert(srv.Certificate())
	return srv.TLS.Certificates[0], pool
}

// fakeSMTP accepts one session and returns the DATA payload. When cert is
// nil the relay never offers STARTTLS.
func fakeSMTP(t *testing.T, cert *tls.Certificate) (string, <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	out := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		r := bufio.NewReader(conn)
		reply := func(s string) { _, _ = conn.Write([]byte(s + "\r\n")) }
		secured := false

		reply("220 localhost ESMTP")
		var data strings.Builder
		inData := false
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			if inData {
				if line == ".\r\n" {
					inData = false
					out <- data.String()
					reply("250 OK")
					continue
				}
				data.WriteString(line)
				continue
			}
			cmd := strings.ToUpper(strings.TrimSpace(line))
			switch {
			case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
				if cert != nil && !secured {
					reply("250-localhost")
					reply("250 STARTTLS")
				} else {
					reply("250 localhost")
				}
			case strings.HasPrefix(cmd, "STARTTLS") && cert != nil:
				reply("220 ready")
				tlsConn := tls.Server(conn, &tls.Config{Certificates: []tls.Certificate{*cert}})
				if err := tlsConn.Handshake(); err != nil {
					return
				}
				conn = tlsConn
				r = bufio.NewReader(conn)
				secured = true
			case strings.HasPrefix(cmd, "MAIL") && !secured:
				out <- ""
				reply("530 must issue STARTTLS first")
			case strings.HasPrefix(cmd, "DATA"):
				inData = true
				reply("354 go ahead")
			case strings.HasPrefix(cmd, "QUIT"):
				reply("221 bye")
				return
			default:
				reply("250 OK")
			}
		}
	}()
	return ln.Addr().String(), out
}

func splitAddr(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split %s: %v", addr, err)
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		t.Fatalf("port %s: %v", port, err)
	}
	return host, p
}

func TestSMTPSenderDeliversOverSTARTTLS(t *testing.T) {
	cert, pool := relayCert(t)
	addr, out := fakeSMTP(t, &cert)
	host, port := splitAddr(t, addr)

	s, err := NewSMTPSender(SMTPConfig{
		Host:      host,
		Port:      port,
		From:      "no-reply@rideauth.test",
		Timeout:   2 * time.Second,
		TLSConfig: &tls.Config{ServerName: host, RootCAs: pool, MinVersion: tls.VersionTLS12},
	})
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	if err := s.Send(context.Background(), "ana@example.com", "Verify your RideAuth email", "code 123456"); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case msg := <-out:
		for _, want := range []string{"ana@example.com", "Subject: Verify your RideAuth email", "code 123456"} {
			if !strings.Contains(msg, want) {
				t.Fatalf("message missing %q:\n%s", want, msg)
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestSMTPSenderRefusesRelayWithoutSTARTTLS(t *testing.T) {
	addr, out := fakeSMTP(t, nil)
	host, port := splitAddr(t, addr)

	s, err := NewSMTPSender(SMTPConfig{Host: host, Port: port, From: "no-reply@rideauth.test", Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	if err := s.Send(context.Background(), "ana@example.com", "Your code", "code 123456"); err == nil {
		t.Fatal("expected send to fail when the relay cannot upgrade to TLS")
	}

	select {
	case msg := <-out:
		if strings.Contains(msg, "123456") {
			t.Fatal("code crossed the wire in clear text")
		}
	default:
	}
}

func TestSMTPSenderRejectsHeaderInjection(t *testing.T) {
	s, err := NewSMTPSender(SMTPConfig{Host: "127.0.0.1", From: "a@b.c"})
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	err = s.Send(context.Background(), "ana@example.com\r\nBcc: x@evil.test", "s", "b")
	if !errors.Is(err, errHeaderInjection) {
		t.Fatalf("expected errHeaderInjection, got %v", err)
	}
}

func TestNewSMTPSenderRequiresHostAndFrom(t *testing.T) {
	if _, err := NewSMTPSender(SMTPConfig{Host: "smtp.example.com"}); err == nil {
		t.Fatal("expected error without from address")
	}
}

func TestLogSenderNeverLogsBody(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	s := NewLogSender(zap.New(core))

	if err := s.Send(context.Background(), "ana@example.com", "Verify", "your code is 987654"); err != nil {
		t.Fatalf("send: %v", err)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	for k, v := range entries[0].ContextMap() {
		if s, ok := v.(string); ok && strings.Contains(s, "987654") {
			t.Fatalf("field %s leaked the code", k)
		}
	}
}
