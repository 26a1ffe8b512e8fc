package request

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

type ProxyType string

const (
	ProxySOCKS5 ProxyType = "socks5"
	ProxyHTTP   ProxyType = "http"
)

type Proxy struct {
	Host string    `json:"host"`
	Port int       `json:"port"`
	Type ProxyType `json:"type"`
}

func (p Proxy) Validate() error {
	if strings.TrimSpace(p.Host) == "" {
		return errors.New("proxy host is required")
	}
	if p.Port <= 0 || p.Port > 65535 {
		return fmt.Errorf("proxy port %d out of range", p.Port)
	}
	if p.Type != ProxySOCKS5 && p.Type != ProxyHTTP {
		return fmt.Errorf("unsupported proxy type %q", p.Type)
	}
	return nil
}

func (p Proxy) Addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

func (p Proxy) String() string {
	return string(p.Type) + "://" + p.Addr()
}

// ParseProxy reads "socks5://host:port" or "http://host:port". An empty
// string means no proxy.
func ParseProxy(raw string) (*Proxy, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse proxy: %w", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		return nil, fmt.Errorf("parse proxy port %q: %w", u.Port(), err)
	}
	p := &Proxy{Host: u.Hostname(), Port: port, Type: ProxyType(strings.ToLower(u.Scheme))}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
