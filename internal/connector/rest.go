package connector

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/goldpoll/goldpoll/internal/config"
	"github.com/pkg/errors"
)

// REST is for REST API connection.
type REST struct {
	Client *http.Client
}

var rest REST

// InitREST initializes http client with configured values.
func InitREST(cfg *config.REST) *REST {
	if rest.Client == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.MaxIdleConns = cfg.MaxIdleConns
		transport.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
		rest = REST{
			Client: &http.Client{
				Timeout:   time.Duration(cfg.ReqTimeoutSec) * time.Second,
				Transport: transport,
			},
		}
	}
	return &rest
}

// GetREST returns already prepared http client instance.
func GetREST() (*REST, error) {
	if rest.Client == nil {
		return nil, errors.New("REST connection is not yet prepared")
	}
	return &rest, nil
}

// Request creates a new GET request for the given url.
func (r *REST) Request(ctx context.Context, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return req, nil
}

// Do sends the request and checks for a success status code.
// Caller is responsible for closing the response body on nil error.
func (r *REST) Do(req *http.Request) (*http.Response, error) {
	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, errors.Errorf("got %v status code from %v", resp.StatusCode, req.URL.Host)
	}
	return resp, nil
}

// CacheBust adds a no-cache header and a nocache query param to the request
// so an intermediary never serves a stale cached copy of the page.
func CacheBust(req *http.Request) {
	req.Header.Set("Cache-Control", "no-cache")
	q := req.URL.Query()
	q.Set("nocache", strconv.FormatInt(time.Now().Unix(), 10))
	req.URL.RawQuery = q.Encode()
}
