package api

import (
	"io"
	"net/http"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// decompressionRoundTripper advertises compressed encodings and transparently
// decodes the response body, so closures always see plain bytes regardless of
// what the server negotiated.
type decompressionRoundTripper struct {
	base http.RoundTripper
}

func newDecompressionRoundTripper(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &decompressionRoundTripper{base: base}
}

func (t *decompressionRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept-Encoding") == "" {
		// Setting the header manually opts out of net/http's automatic
		// gzip handling, so all listed encodings are decoded here.
		req.Header.Set("Accept-Encoding", "gzip, br, zstd")
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		reader, errGzip := gzip.NewReader(resp.Body)
		if errGzip != nil {
			return resp, nil
		}
		resp.Body = &decodedBody{reader: reader, underlying: resp.Body}
	case "br":
		resp.Body = &decodedBody{reader: io.NopCloser(brotli.NewReader(resp.Body)), underlying: resp.Body}
	case "zstd":
		decoder, errZstd := zstd.NewReader(resp.Body)
		if errZstd != nil {
			return resp, nil
		}
		resp.Body = &decodedBody{reader: decoder.IOReadCloser(), underlying: resp.Body}
	default:
		return resp, nil
	}

	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	return resp, nil
}

// decodedBody closes both the decoder and the underlying network body.
type decodedBody struct {
	reader     io.ReadCloser
	underlying io.ReadCloser
}

func (b *decodedBody) Read(p []byte) (int, error) {
	return b.reader.Read(p)
}

func (b *decodedBody) Close() error {
	errReader := b.reader.Close()
	if errUnderlying := b.underlying.Close(); errUnderlying != nil {
		return errUnderlying
	}
	return errReader
}
