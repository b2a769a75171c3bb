// Package util holds small helpers shared by the CLI and the backend: proxy-aware HTTP
// clients, path expansion and secret masking for log output.
package util

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

// DefaultHTTPTimeout bounds every provider call made through NewHTTPClient.
const DefaultHTTPTimeout = 30 * time.Second

// NewHTTPClient returns a client routed through proxyURL, or a direct client when
// proxyURL is empty.
func NewHTTPClient(proxyURL string) (*http.Client, error) {
	client := &http.Client{Timeout: DefaultHTTPTimeout}
	if strings.TrimSpace(proxyURL) == "" {
		return client, nil
	}
	transport, err := proxyTransport(proxyURL)
	if err != nil {
		return nil, err
	}
	client.Transport = transport
	return client, nil
}

// SetProxy configures httpClient to use proxyURL. SOCKS5, HTTP and HTTPS proxies are
// supported; an unusable proxy leaves the client untouched and is logged.
func SetProxy(proxyURL string, httpClient *http.Client) *http.Client {
	if strings.TrimSpace(proxyURL) == "" {
		return httpClient
	}
	transport, err := proxyTransport(proxyURL)
	if err != nil {
		log.Errorf("proxy ignored: %v", err)
		return httpClient
	}
	httpClient.Transport = transport
	return httpClient
}

func proxyTransport(rawURL string) (*http.Transport, error) {
	proxyURL, errParse := url.Parse(strings.TrimSpace(rawURL))
	if errParse != nil {
		return nil, fmt.Errorf("parse proxy url: %w", errParse)
	}
	switch proxyURL.Scheme {
	case "socks5", "socks5h":
		var proxyAuth *proxy.Auth
		if proxyURL.User != nil {
			username := proxyURL.User.Username()
			password, _ := proxyURL.User.Password()
			proxyAuth = &proxy.Auth{User: username, Password: password}
		}
		dialer, errSOCKS5 := proxy.SOCKS5("tcp", proxyURL.Host, proxyAuth, proxy.Direct)
		if errSOCKS5 != nil {
			return nil, fmt.Errorf("create SOCKS5 dialer: %w", errSOCKS5)
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.Proxy = nil
		if ctxDialer, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = ctxDialer.DialContext
		} else {
			transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
		return transport, nil
	case "http", "https":
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		return transport, nil
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", proxyURL.Scheme)
	}
}
