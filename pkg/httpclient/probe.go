package httpclient

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

var (
	//DefaultProbeDelay is the pause between two connection attempts
	DefaultProbeDelay = time.Second
	//DefaultProbeTimeout bounds one connection attempt
	DefaultProbeTimeout = 5 * time.Second
)

//Probe waits for a daemon to answer on URL. It tries at most MaxRetry times
//with a fixed Delay between attempts and then fails with Failure.
type Probe struct {
	URL      string
	Header   http.Header
	MaxRetry int
	Delay    time.Duration
	Timeout  time.Duration
	Failure  string
	Log      *logrus.Entry
	//OnAttempt is called before each attempt with the number of failed attempts so far
	OnAttempt func(failures int)
}

//Wait blocks until the daemon answers 200, the attempts are exhausted or ctx is done
func (p Probe) Wait(ctx context.Context) error {
	delay := p.Delay
	if delay <= 0 {
		delay = DefaultProbeDelay
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	retryMax := p.MaxRetry - 1
	if retryMax < 0 {
		retryMax = 0
	}
	failure := p.Failure
	if failure == "" {
		failure = "not responding (url=" + p.URL + ")"
	}

	client := retryablehttp.NewClient()
	client.HTTPClient.Timeout = timeout
	client.RetryMax = retryMax
	client.RetryWaitMin = delay
	client.RetryWaitMax = delay
	client.Backoff = func(min, _ time.Duration, _ int, _ *http.Response) time.Duration {
		return min
	}
	client.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if err != nil {
			return true, nil
		}
		return resp.StatusCode != http.StatusOK, nil
	}
	client.ErrorHandler = func(resp *http.Response, err error, _ int) (*http.Response, error) {
		if resp != nil {
			resp.Body.Close()
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, errors.New(failure)
	}
	client.RequestLogHook = func(_ retryablehttp.Logger, _ *http.Request, attempt int) {
		if p.OnAttempt != nil {
			p.OnAttempt(attempt)
		}
	}
	if p.Log != nil {
		client.Logger = leveledLogger{p.Log}
	} else {
		client.Logger = nil
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return err
	}
	for k, vv := range p.Header {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	resp.Body.Close()
	return nil
}

//leveledLogger routes retryablehttp traces to logrus at debug level
type leveledLogger struct {
	log *logrus.Entry
}

func (l leveledLogger) fields(kv []interface{}) *logrus.Entry {
	f := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			f[k] = kv[i+1]
		}
	}
	return l.log.WithFields(f)
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.fields(kv).Debug(msg) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.fields(kv).Debug(msg) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.fields(kv).Debug(msg) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.fields(kv).Debug(msg) }
