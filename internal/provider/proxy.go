package provider

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"

	"golang.org/x/net/proxy"
)

// NewHTTPClient returns the client used for provider traffic. With a SOCKS5
// address every connection is dialed through the proxy; without one the
// default transport is used. No client timeout is set.
func NewHTTPClient(socksAddr string) (*http.Client, error) {
	socksAddr = strings.TrimSpace(socksAddr)
	if socksAddr == "" {
		return &http.Client{}, nil
	}

	dialer, err := proxy.SOCKS5("tcp", socksAddr, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("socks5 dialer %s: %w", socksAddr, err)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			return cd.DialContext(ctx, network, addr)
		}
		return dialer.Dial(network, addr)
	}

	return &http.Client{Transport: transport}, nil
}
