package api

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/fedikit/masto/internal/util"
)

// Transport abstracts the HTTP send mechanism. It is injectable for testing
// and for routing authenticated versus anonymous request paths.
type Transport interface {
	// Do executes a single HTTP request.
	Do(req *http.Request) (*http.Response, error)
	// Close releases any connections held by the transport.
	Close()
}

// TransportFactory produces a transport with an externally managed lifetime.
// The executor never closes factory-produced transports.
type TransportFactory func() (Transport, error)

// clientTransport adapts an *http.Client to the Transport interface.
type clientTransport struct {
	client *http.Client
}

func (t *clientTransport) Do(req *http.Request) (*http.Response, error) {
	return t.client.Do(req)
}

func (t *clientTransport) Close() {
	t.client.CloseIdleConnections()
}

// WrapClient exposes an existing *http.Client as a Transport.
func WrapClient(client *http.Client) Transport {
	return &clientTransport{client: client}
}

// TransportOptions configures construction of the default anonymous
// transport. All fields are optional.
type TransportOptions struct {
	// ProxyURL routes requests through a SOCKS5/HTTP/HTTPS proxy.
	ProxyURL string
	// PinnedSPKIHashes enables certificate pinning: each entry is the
	// base64 encoding of the SHA-256 digest of a server certificate's
	// SubjectPublicKeyInfo. When non-empty, a connection is accepted only
	// if some presented certificate matches a pin.
	PinnedSPKIHashes []string
	// DisableCompression turns off transparent gzip/brotli/zstd response
	// decoding.
	DisableCompression bool
}

// NewDefaultTransport builds the anonymous transport used when neither an
// authenticated client nor an injected factory is available. Certificate
// pinning is orthogonal to authentication and applies to whichever requests
// flow through this transport.
func NewDefaultTransport(opts TransportOptions) Transport {
	httpClient := &http.Client{}
	if opts.ProxyURL != "" {
		httpClient = util.SetProxy(opts.ProxyURL, httpClient)
	}

	if len(opts.PinnedSPKIHashes) > 0 {
		base, ok := httpClient.Transport.(*http.Transport)
		if !ok {
			base = &http.Transport{}
		}
		base.TLSClientConfig = pinnedTLSConfig(opts.PinnedSPKIHashes)
		httpClient.Transport = base
	}

	if !opts.DisableCompression {
		httpClient.Transport = newDecompressionRoundTripper(httpClient.Transport)
	}
	return &clientTransport{client: httpClient}
}

// pinnedTLSConfig builds a TLS configuration that verifies the peer chain
// normally and additionally requires an SPKI pin match.
func pinnedTLSConfig(pins []string) *tls.Config {
	pinSet := make(map[string]struct{}, len(pins))
	for _, pin := range pins {
		pinSet[pin] = struct{}{}
	}
	return &tls.Config{
		VerifyPeerCertificate: func(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error {
			for _, raw := range rawCerts {
				cert, err := x509.ParseCertificate(raw)
				if err != nil {
					continue
				}
				digest := sha256.Sum256(cert.RawSubjectPublicKeyInfo)
				if _, ok := pinSet[base64.StdEncoding.EncodeToString(digest[:])]; ok {
					return nil
				}
			}
			return fmt.Errorf("masto api: no presented certificate matches a pinned key")
		},
	}
}
