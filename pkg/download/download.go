package download

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/pkgmng/pkgmng/pkg/logging"
)

const userAgent = "pkgmng/1.0"

// Error reports a download that exhausted its retries, carrying the URL and
// the last underlying cause.
type Error struct {
	URL string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("downloading %s: %v", e.URL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Client downloads single artifacts over HTTP(S) with retries, chunked reads
// and coarse progress reporting.
type Client struct {
	httpClient *http.Client
	log        logging.Logger
	timeout    time.Duration
	retries    int
	chunkSize  int
}

// New returns a Client bounded by timeout on connection establishment,
// response headers and each body read. retries is the total number of
// attempts per fetch.
func New(log logging.Logger, timeout time.Duration, retries, chunkSize int) *Client {
	httpClient := &http.Client{
		Transport: &http.Transport{
			DialContext:           (&net.Dialer{Timeout: timeout}).DialContext,
			ResponseHeaderTimeout: timeout,
			Proxy:                 http.ProxyFromEnvironment,
		},
	}
	return NewWithHTTP(log, httpClient, timeout, retries, chunkSize)
}

// NewWithHTTP is like New but with a caller-supplied HTTP client, used by
// tests to inject failures.
func NewWithHTTP(log logging.Logger, httpClient *http.Client, timeout time.Duration, retries, chunkSize int) *Client {
	return &Client{
		httpClient: httpClient,
		log:        log,
		timeout:    timeout,
		retries:    retries,
		chunkSize:  chunkSize,
	}
}

// Fetch downloads url into dest. On a network or HTTP failure it retries up
// to the configured attempt count with exponential backoff (2^attempt
// seconds); each attempt truncates dest, so a partial file from a failed
// attempt is never appended to. After the final failed attempt it returns an
// *Error naming the URL.
func (c *Client) Fetch(ctx context.Context, url, dest string) error {
	var lastErr error
	for attempt := 0; attempt < c.retries; attempt++ {
		err := c.attempt(ctx, url, dest)
		if err == nil {
			c.log.Info("Download completed successfully")
			return nil
		}
		lastErr = err
		c.log.Error(fmt.Sprintf("Download attempt %d failed: %v", attempt+1, err))

		if attempt < c.retries-1 {
			wait := time.Duration(1<<attempt) * time.Second
			c.log.Info(fmt.Sprintf("Retrying in %v...", wait))
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return &Error{URL: url, Err: ctx.Err()}
			}
		}
	}
	return &Error{URL: url, Err: lastErr}
}

func (c *Client) attempt(ctx context.Context, url, dest string) error {
	c.log.Info("Downloading from: " + url)

	// The request gets its own cancelable context so a stalled body read can
	// abort this attempt without touching the caller's context.
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %s", resp.Status)
	}

	total := resp.ContentLength
	if total > 0 {
		c.log.Info(fmt.Sprintf("File size: %.2f MB", float64(total)/(1024*1024)))
	}

	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer f.Close()

	// Arm a watchdog so a server that stops sending mid-body cannot block
	// the read loop past the configured timeout. Each successful read
	// rewinds it; on expiry the request context is canceled and the
	// in-flight read returns an error.
	watchdog := time.AfterFunc(c.timeout, cancel)
	defer watchdog.Stop()

	var (
		downloaded  int64
		lastPercent = -1
		buf         = make([]byte, c.chunkSize)
	)
	for {
		n, readErr := resp.Body.Read(buf)
		watchdog.Reset(c.timeout)
		if n > 0 {
			if _, err := f.Write(buf[:n]); err != nil {
				return err
			}
			downloaded += int64(n)

			if total > 0 {
				percent := int(downloaded * 100 / total)
				if percent != lastPercent && percent%10 == 0 {
					c.log.Info(fmt.Sprintf("Download progress: %d%%", percent))
					lastPercent = percent
				}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			if reqCtx.Err() != nil && ctx.Err() == nil {
				return fmt.Errorf("transfer stalled: no data received for %v", c.timeout)
			}
			return readErr
		}
	}

	return f.Sync()
}
