package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"golang.org/x/net/proxy"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	// ProxyAddress routes connections through a SOCKS5 proxy when set.
	ProxyAddress  string
	ProxyUser     string
	ProxyPassword string
	DialTimeout   time.Duration
}

type SMTPSender struct {
	Config SMTPConfig
}

var _ Sender = (*SMTPSender)(nil)

func (s *SMTPSender) dial(ctx context.Context) (net.Conn, error) {
	cfg := s.Config
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if cfg.ProxyAddress == "" {
		d := net.Dialer{}
		return d.DialContext(ctx, "tcp", addr)
	}

	var auth *proxy.Auth
	if cfg.ProxyUser != "" && cfg.ProxyPassword != "" {
		auth = &proxy.Auth{User: cfg.ProxyUser, Password: cfg.ProxyPassword}
	}
	dialer, err := proxy.SOCKS5("tcp", cfg.ProxyAddress, auth, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("create SOCKS5 dialer: %w", err)
	}
	cd, ok := dialer.(proxy.ContextDialer)
	if !ok {
		return dialer.Dial("tcp", addr)
	}
	conn, err := cd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("SOCKS5 connection to %s: %w", addr, err)
	}
	return conn, nil
}

// Send delivers e in one SMTP session. STARTTLS is used whenever the server
// offers it.
func (s *SMTPSender) Send(ctx context.Context, e *Email) error {
	if e.To == nil {
		return fmt.Errorf("email without recipient")
	}
	msg, err := Compose(e)
	if err != nil {
		return fmt.Errorf("compose: %w", err)
	}

	conn, err := s.dial(ctx)
	if err != nil {
		return err
	}
	c, err := smtp.NewClient(conn, s.Config.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: s.Config.Host}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if s.Config.Username != "" {
		auth := smtp.PlainAuth("", s.Config.Username, s.Config.Password, s.Config.Host)
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	from := ""
	if e.From != nil {
		from = e.From.Address
	}
	if err := c.Mail(from); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	if err := c.Rcpt(e.To.Address); err != nil {
		return fmt.Errorf("RCPT TO %s: %w", e.To.Address, err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("end DATA: %w", err)
	}
	return c.Quit()
}
