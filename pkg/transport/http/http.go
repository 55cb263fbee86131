// Package http implements transport.ConnectionFactory for plain HTTP storage nodes.
//
// Downloads are GET requests, content lengths come from HEAD, and uploads are
// streamed PUT requests: bytes written to the upload flow through a pipe into
// the request body while it is in flight, and Close waits for the node's
// response.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/textproto"
	"sync"
	"time"

	"github.com/marmos91/moji/internal/logger"
	"github.com/marmos91/moji/pkg/tracker"
	"github.com/marmos91/moji/pkg/transport"
)

// errAborted is delivered to the request body when an upload is aborted.
var errAborted = errors.New("upload aborted")

// HTTPTransportConfig configures the HTTP transport.
type HTTPTransportConfig struct {
	// Timeout bounds connection setup and the wait for response headers.
	// It does not bound how long a body may take to stream.
	// Default: 30s
	Timeout time.Duration

	// MaxIdleConns is the size of the keep-alive connection pool.
	// Default: 100
	MaxIdleConns int

	// ContinueTimeout is how long an upload waits for the node's
	// 100 Continue before sending the body anyway.
	// Default: 1s
	ContinueTimeout time.Duration

	// Client overrides the HTTP client entirely (for tests). When set,
	// Timeout and MaxIdleConns are ignored.
	Client *http.Client
}

func (c *HTTPTransportConfig) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 100
	}
	if c.ContinueTimeout <= 0 {
		c.ContinueTimeout = time.Second
	}
}

// HTTPTransport transfers content to and from HTTP storage nodes.
//
// Thread Safety:
// Safe for concurrent use; each transfer uses its own request.
type HTTPTransport struct {
	client          *http.Client
	continueTimeout time.Duration
}

// NewHTTPTransport creates an HTTP transport.
func NewHTTPTransport(cfg HTTPTransportConfig) *HTTPTransport {
	cfg.applyDefaults()
	if cfg.Client != nil {
		return &HTTPTransport{client: cfg.Client, continueTimeout: cfg.ContinueTimeout}
	}

	return &HTTPTransport{
		continueTimeout: cfg.ContinueTimeout,
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           (&net.Dialer{Timeout: cfg.Timeout, KeepAlive: 30 * time.Second}).DialContext,
				MaxIdleConns:          cfg.MaxIdleConns,
				MaxIdleConnsPerHost:   cfg.MaxIdleConns,
				IdleConnTimeout:       90 * time.Second,
				ResponseHeaderTimeout: cfg.Timeout,
				ExpectContinueTimeout: cfg.ContinueTimeout,
			},
		},
	}
}

// requestError classifies a failed round trip.
func requestError(ctx context.Context, method, url string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s %s: %w", method, url, ctxErr)
	}
	return fmt.Errorf("%s %s: %w: %v", method, url, transport.ErrUnavailable, err)
}

// statusError maps a non-success response to a transport error.
func statusError(method, url string, resp *http.Response) error {
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s %s: %w", method, url, transport.ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w: %s", method, url, transport.ErrRejected, resp.Status)
}

func success(resp *http.Response) bool {
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// drain discards the rest of a response body so the connection can be reused.
func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	_ = resp.Body.Close()
}

func (t *HTTPTransport) OpenRead(ctx context.Context, dest tracker.Destination) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, dest.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", transport.ErrInvalidDestination, dest.URL, err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, requestError(ctx, http.MethodGet, dest.URL, err)
	}
	if !success(resp) {
		drain(resp)
		return nil, statusError(http.MethodGet, dest.URL, resp)
	}

	return resp.Body, nil
}

func (t *HTTPTransport) ContentLength(ctx context.Context, dest tracker.Destination) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, dest.URL, nil)
	if err != nil {
		return 0, fmt.Errorf("%w %q: %v", transport.ErrInvalidDestination, dest.URL, err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, requestError(ctx, http.MethodHead, dest.URL, err)
	}
	defer drain(resp)

	if !success(resp) {
		return 0, statusError(http.MethodHead, dest.URL, resp)
	}
	if resp.ContentLength < 0 {
		return 0, fmt.Errorf("HEAD %s: %w: no content length in response", dest.URL, transport.ErrRejected)
	}
	return resp.ContentLength, nil
}

// OpenWrite sends the PUT request headers with "Expect: 100-continue" and
// returns once the node accepted the transfer, or with the node's answer if
// it refused or could not be reached.
//
// Nodes that never send 100 Continue are treated as accepting once
// ContinueTimeout has passed after the headers were written.
func (t *HTTPTransport) OpenWrite(ctx context.Context, dest tracker.Destination, expectedLength int64) (transport.Upload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()

	var body io.Reader = pr
	if expectedLength == 0 {
		body = http.NoBody
	}

	u := &httpUpload{
		url:            dest.URL,
		expectedLength: expectedLength,
		pw:             pw,
		cancel:         cancel,
		done:           make(chan struct{}),
	}

	accepted := make(chan struct{})
	var acceptOnce sync.Once
	accept := func() { acceptOnce.Do(func() { close(accepted) }) }

	trace := &httptrace.ClientTrace{
		Got100Continue: accept,
		Got1xxResponse: func(code int, _ textproto.MIMEHeader) error {
			if code == http.StatusContinue {
				accept()
			}
			return nil
		},
		WroteHeaders: func() {
			timer := time.AfterFunc(t.continueTimeout, accept)
			context.AfterFunc(reqCtx, func() { timer.Stop() })
		},
	}

	req, err := http.NewRequestWithContext(httptrace.WithClientTrace(reqCtx, trace), http.MethodPut, dest.URL, body)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w %q: %v", transport.ErrInvalidDestination, dest.URL, err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if expectedLength != 0 {
		req.Header.Set("Expect", "100-continue")
	}
	if expectedLength > 0 {
		req.ContentLength = expectedLength
	}

	go func() {
		defer close(u.done)

		resp, err := t.client.Do(req)
		if err != nil {
			err = requestError(reqCtx, http.MethodPut, dest.URL, err)
		} else {
			if !success(resp) {
				err = statusError(http.MethodPut, dest.URL, resp)
			}
			drain(resp)
		}

		u.err = err
		if err != nil {
			_ = pr.CloseWithError(err)
		} else {
			_ = pr.Close()
		}
	}()

	select {
	case <-accepted:
		logger.Debug("http transport: PUT %s accepted (expected length %d)", dest.URL, expectedLength)
		return u, nil
	case <-u.done:
		// The node answered before any body byte was sent
		if u.err != nil {
			cancel()
			return nil, u.err
		}
		return u, nil
	case <-ctx.Done():
		u.finishOnce.Do(u.abort)
		return nil, fmt.Errorf("PUT %s: %w", dest.URL, ctx.Err())
	}
}

// httpUpload streams written bytes into an in-flight PUT request.
type httpUpload struct {
	url            string
	expectedLength int64
	written        int64

	pw     *io.PipeWriter
	cancel context.CancelFunc

	// done is closed when the request finished; err is its outcome
	done chan struct{}
	err  error

	finishOnce sync.Once
}

func (u *httpUpload) Write(p []byte) (int, error) {
	if u.expectedLength >= 0 && u.written+int64(len(p)) > u.expectedLength {
		return 0, fmt.Errorf("PUT %s: %w (expected %d bytes)", u.url, transport.ErrShortWrite, u.expectedLength)
	}

	n, err := u.pw.Write(p)
	u.written += int64(n)
	if err != nil {
		// The pipe only reports that the request stopped reading; the
		// request outcome carries the cause
		<-u.done
		if u.err != nil {
			return n, u.err
		}
		return n, fmt.Errorf("PUT %s: %w: node closed the request body", u.url, transport.ErrRejected)
	}
	return n, nil
}

func (u *httpUpload) Close() error {
	var err error
	u.finishOnce.Do(func() { err = u.commit() })
	return err
}

// commit ends the request body and waits for the node's verdict.
func (u *httpUpload) commit() error {
	if u.expectedLength >= 0 && u.written != u.expectedLength {
		u.abort()
		return fmt.Errorf("PUT %s: %w (expected %d, got %d)",
			u.url, transport.ErrShortWrite, u.expectedLength, u.written)
	}

	_ = u.pw.Close()
	<-u.done
	u.cancel()
	return u.err
}

func (u *httpUpload) Abort() error {
	u.finishOnce.Do(u.abort)
	return nil
}

// abort fails the request body and waits for the request goroutine to exit.
func (u *httpUpload) abort() {
	_ = u.pw.CloseWithError(errAborted)
	u.cancel()
	<-u.done
}
