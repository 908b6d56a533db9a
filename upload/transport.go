package upload

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/attendify/faceenroll/envutil"
	"github.com/fereidani/httpdecompressor"
	"github.com/rs/dnscache"
)

const (
	defaultDialTimeout         = 30 * time.Second
	defaultDialKeepAlive       = 30 * time.Second
	defaultIdleConnTimeout     = 90 * time.Second
	defaultTLSHandshakeTimeout = 10 * time.Second
	defaultMaxIdleConns        = 16
)

var dnsResolver = &dnscache.Resolver{}

// NewClient builds the HTTP client used for uploads. It caches DNS lookups
// and decodes compressed responses. Tunables come from ENROLL_HTTP_*
// environment variables.
func NewClient(ctx context.Context) *http.Client {
	return &http.Client{
		Transport: &decompressor{roundTripper: newTransport(ctx)},
	}
}

func newTransport(ctx context.Context) *http.Transport {
	dialTimeout := envutil.Duration(ctx, "ENROLL_HTTP_DIAL_TIMEOUT",
		envutil.Default(defaultDialTimeout)).
		ValueOrElse(defaultDialTimeout)

	keepAlive := envutil.Duration(ctx, "ENROLL_HTTP_DIAL_KEEPALIVE",
		envutil.Default(defaultDialKeepAlive)).
		ValueOrElse(defaultDialKeepAlive)

	maxIdleConns := envutil.Int(ctx, "ENROLL_HTTP_MAX_IDLE_CONNS",
		envutil.Default(defaultMaxIdleConns)).
		ValueOrElse(defaultMaxIdleConns)

	dnsCache := envutil.Bool(ctx, "ENROLL_HTTP_DNS_CACHE",
		envutil.Default(true)).
		ValueOrElse(true)

	trans := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        maxIdleConns,
		IdleConnTimeout:     defaultIdleConnTimeout,
		TLSHandshakeTimeout: defaultTLSHandshakeTimeout,
		DisableCompression:  true,
	}

	dialer := &net.Dialer{
		Timeout:   dialTimeout,
		KeepAlive: keepAlive,
	}

	if dnsCache {
		trans.DialContext = cachedDialer(dialer)
	} else {
		trans.DialContext = dialer.DialContext
	}

	return trans
}

func cachedDialer(dialer *net.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (conn net.Conn, err error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}

		ips, err := dnsResolver.LookupHost(ctx, host)
		if err != nil {
			return nil, err
		}

		for _, ip := range ips {
			conn, err = dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
			if err == nil {
				return conn, nil
			}
		}

		return nil, err
	}
}

// decompressor decodes gzip, deflate, br and zstd response bodies so
// rejection excerpts are readable.
type decompressor struct {
	roundTripper http.RoundTripper
}

func (d *decompressor) RoundTrip(request *http.Request) (*http.Response, error) {
	rsp, err := d.roundTripper.RoundTrip(request)
	if err != nil {
		return rsp, err
	}

	origBody := rsp.Body

	bodyReader, err := httpdecompressor.Reader(rsp)
	if err != nil {
		_ = origBody.Close()

		return nil, err
	}

	if bodyReader == origBody {
		return rsp, nil
	}

	rsp.Body = &decodedBody{Reader: bodyReader, decoder: bodyReader, orig: origBody}
	rsp.Header.Del("Content-Encoding")
	rsp.ContentLength = -1

	return rsp, nil
}

// decodedBody closes the decoder before the underlying body.
type decodedBody struct {
	io.Reader

	decoder io.Closer
	orig    io.Closer
}

func (b *decodedBody) Close() error {
	decErr := b.decoder.Close()
	origErr := b.orig.Close()

	if decErr != nil {
		return decErr
	}

	return origErr
}
