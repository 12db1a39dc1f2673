package notify_test

import (
	"context"
	"errors"
	"net"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/artpar/quotaguard/adapters/notify"
)

// fakeSMTP accepts one session and records the envelope and body.
type fakeSMTP struct {
	l    net.Listener
	mu   sync.Mutex
	from string
	to   string
	data string
	done chan struct{}
}

func startSMTP(t *testing.T) *fakeSMTP {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &fakeSMTP{l: l, done: make(chan struct{})}
	t.Cleanup(func() { l.Close() })
	go s.serve()
	return s
}

func (s *fakeSMTP) port() int {
	return s.l.Addr().(*net.TCPAddr).Port
}

func (s *fakeSMTP) serve() {
	defer close(s.done)
	conn, err := s.l.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	tp := textproto.NewConn(conn)
	tp.PrintfLine("220 localhost ESMTP")
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}
		upper := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upper, "EHLO"), strings.HasPrefix(upper, "HELO"):
			tp.PrintfLine("250 localhost")
		case strings.HasPrefix(upper, "MAIL FROM:"):
			s.mu.Lock()
			s.from = strings.Trim(line[len("MAIL FROM:"):], "<> ")
			s.mu.Unlock()
			tp.PrintfLine("250 OK")
		case strings.HasPrefix(upper, "RCPT TO:"):
			s.mu.Lock()
			s.to = strings.Trim(line[len("RCPT TO:"):], "<> ")
			s.mu.Unlock()
			tp.PrintfLine("250 OK")
		case upper == "DATA":
			tp.PrintfLine("354 End data with <CR><LF>.<CR><LF>")
			body, err := tp.ReadDotBytes()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.data = string(body)
			s.mu.Unlock()
			tp.PrintfLine("250 OK")
		case upper == "QUIT":
			tp.PrintfLine("221 Bye")
			return
		default:
			tp.PrintfLine("250 OK")
		}
	}
}

func TestEmail_Notify(t *testing.T) {
	srv := startSMTP(t)

	e, err := notify.NewEmail(notify.SMTPConfig{
		Host:    "127.0.0.1",
		Port:    srv.port(),
		From:    "alerts@quotaguard.test",
		UseTLS:  true,
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewEmail: %v", err)
	}

	if err := e.Notify(context.Background(), sample); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	select {
	case <-srv.done:
	case <-time.After(5 * time.Second):
		t.Fatal("smtp session did not finish")
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.from != "alerts@quotaguard.test" {
		t.Errorf("MAIL FROM = %q, want alerts@quotaguard.test", srv.from)
	}
	if srv.to != "u1@example.com" {
		t.Errorf("RCPT TO = %q, want u1@example.com", srv.to)
	}
	for _, want := range []string{
		"Subject: Daily quota 95% reached (starter plan)",
		"Hello User One,",
		"You have used 95.5% of your daily quota.",
		"Remaining: 45 requests",
	} {
		if !strings.Contains(srv.data, want) {
			t.Errorf("message missing %q:\n%s", want, srv.data)
		}
	}
}

func TestEmail_NoContact(t *testing.T) {
	e, err := notify.NewEmail(notify.SMTPConfig{Host: "127.0.0.1", From: "a@b.test"})
	if err != nil {
		t.Fatalf("NewEmail: %v", err)
	}

	n := sample
	n.Email = ""
	if err := e.Notify(context.Background(), n); !errors.Is(err, notify.ErrNoContact) {
		t.Errorf("Notify without email = %v, want ErrNoContact", err)
	}
}

func TestEmail_ConnectionError(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	e, err := notify.NewEmail(notify.SMTPConfig{Host: "127.0.0.1", Port: port, From: "a@b.test", Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewEmail: %v", err)
	}
	if err := e.Notify(context.Background(), sample); err == nil {
		t.Error("expected dial error")
	}
}

func TestNewEmail_RequiresHost(t *testing.T) {
	if _, err := notify.NewEmail(notify.SMTPConfig{}); err == nil {
		t.Error("expected error without host")
	}
}

func TestEmail_MessageWithoutName(t *testing.T) {
	e, err := notify.NewEmail(notify.SMTPConfig{Host: "smtp.test", From: "a@b.test"})
	if err != nil {
		t.Fatalf("NewEmail: %v", err)
	}

	n := sample
	n.Name = ""
	msg, err := e.Message(n)
	if err != nil {
		t.Fatalf("Message: %v", err)
	}
	if !strings.Contains(string(msg), "Hello,\n") {
		t.Errorf("greeting without name not rendered:\n%s", msg)
	}
	if !strings.Contains(string(msg), "From: quotaguard <a@b.test>\r\n") {
		t.Errorf("default sender name missing:\n%s", msg)
	}
}
