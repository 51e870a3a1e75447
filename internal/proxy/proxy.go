package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/convoyhq/gateway/internal/circuitbreaker"
	"github.com/convoyhq/gateway/internal/middleware"
	"github.com/convoyhq/gateway/internal/retry"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Proxy dispatches requests to one downstream target. The outbound call is
// wrapped by the retry policy, and the breaker sees only the final outcome
// of the retried call, so a request that exhausts its retries costs the
// breaker a single failure.
type Proxy struct {
	target          *url.URL
	rp              *httputil.ReverseProxy
	breaker         *circuitbreaker.Breaker
	retrier         *retry.Policy
	retryableStatus map[int]bool
	logger          *zap.Logger
}

func New(target string, breaker *circuitbreaker.Breaker, retrier *retry.Policy, retryableStatus []int, logger *zap.Logger) (*Proxy, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid target %s: %w", target, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	rp := httputil.NewSingleHostReverseProxy(u)
	rp.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		if cp, ok := w.(*capture); ok {
			cp.transportErr = err
		}
	}

	statuses := make(map[int]bool, len(retryableStatus))
	for _, s := range retryableStatus {
		statuses[s] = true
	}

	return &Proxy{
		target:          u,
		rp:              rp,
		breaker:         breaker,
		retrier:         retrier,
		retryableStatus: statuses,
		logger:          logger,
	}, nil
}

// Handle forwards the request downstream. Nothing is written to the client
// until the call's final outcome is known; failed attempts stay in their
// buffers so a later attempt can replace them.
func (p *Proxy) Handle(c *gin.Context) {
	if err := p.breaker.Allow(); err != nil {
		c.String(http.StatusServiceUnavailable, "service temporarily unavailable")
		c.Abort()
		return
	}

	ctx := c.Request.Context()
	logger := middleware.Logger(c)

	// Buffer the body once so every attempt can replay it. A read error
	// means the client sent a truncated upload; forwarding the partial
	// body would hand the downstream a request the client never made.
	var body []byte
	if c.Request.Body != nil {
		var err error
		body, err = io.ReadAll(c.Request.Body)
		c.Request.Body.Close()
		if err != nil {
			// No attempt was made; release the admission (it may have
			// been the half-open probe slot) without judging the target
			p.breaker.Record(circuitbreaker.OutcomeCanceled)
			logger.Warn("failed to read request body", zap.Error(err))
			c.String(http.StatusBadRequest, "failed to read request body")
			c.Abort()
			return
		}
	}

	var final *capture
	err := p.retrier.Do(ctx, func(ctx context.Context) error {
		cp := newCapture()
		final = cp

		req := c.Request.Clone(ctx)
		if body != nil {
			req.Body = io.NopCloser(bytes.NewReader(body))
			req.ContentLength = int64(len(body))
		}
		req.Header.Set(middleware.HeaderCorrelationID, middleware.CorrelationID(c))
		req.Header.Set("X-Forwarded-Host", c.Request.Host)

		p.rp.ServeHTTP(cp, req)

		if cp.transportErr != nil {
			return retry.Retryable(fmt.Errorf("downstream %s: %w", p.target.Host, cp.transportErr))
		}
		if p.retryableStatus[cp.status] {
			return retry.Retryable(fmt.Errorf("downstream %s returned %d", p.target.Host, cp.status))
		}
		return nil
	})

	if ctx.Err() != nil {
		// The client went away; the target told us nothing.
		p.breaker.Record(circuitbreaker.OutcomeCanceled)
		c.Abort()
		return
	}

	failed := err != nil || final == nil || final.transportErr != nil || final.status >= http.StatusInternalServerError

	if !failed {
		p.breaker.Record(circuitbreaker.OutcomeSuccess)
		final.flush(c)
		return
	}

	p.breaker.Record(circuitbreaker.OutcomeFailure)
	logger.Error("downstream call failed",
		zap.String("target", p.target.Host),
		zap.Error(err),
	)

	if final != nil && final.transportErr == nil && final.status != 0 {
		// The downstream answered with its final error status; pass it on.
		final.flush(c)
	} else {
		c.String(http.StatusBadGateway, "bad gateway")
	}
	c.Abort()
}

func (p *Proxy) Target() string {
	return p.target.String()
}

// capture buffers one attempt's response so it can be discarded on retry
// and written out only when it is the call's final answer.
type capture struct {
	header       http.Header
	body         bytes.Buffer
	status       int
	transportErr error
}

func newCapture() *capture {
	return &capture{header: make(http.Header)}
}

func (cp *capture) Header() http.Header {
	return cp.header
}

func (cp *capture) WriteHeader(code int) {
	if cp.status == 0 {
		cp.status = code
	}
}

func (cp *capture) Write(b []byte) (int, error) {
	if cp.status == 0 {
		cp.status = http.StatusOK
	}
	return cp.body.Write(b)
}

// flush copies the captured response to the client. The correlation header
// set by the pipeline stays authoritative.
func (cp *capture) flush(c *gin.Context) {
	for k, vv := range cp.header {
		if k == middleware.HeaderCorrelationID {
			continue
		}
		for _, v := range vv {
			c.Writer.Header().Add(k, v)
		}
	}

	status := cp.status
	if status == 0 {
		status = http.StatusOK
	}

	c.Writer.WriteHeader(status)
	c.Writer.Write(cp.body.Bytes())
}
