package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	// Default http client timeout in secs.
	defaultHttpClientTimeout = 10
)

type (
	// Client is the base for http calls.
	Client struct {
		httpClient    *http.Client
		Debug         bool
		BaseUrl       string
		RequestFilter RequestFilter
	}

	RequestFilter func(reqConfig *ReqConfig) (req *http.Request, err error)

	// ReqConfig models the http request data.
	ReqConfig struct {
		ctx    context.Context
		method string
		url    string
		query  url.Values
	}

	// StatusError is returned for any non 200 response.
	StatusError struct {
		URL        string
		StatusCode int
		Body       string
	}
)

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s: '%s'", e.StatusCode, e.URL, e.Body)
}

// NewClient returns a new HTTP client.
func NewClient(baseUrl string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: defaultHttpClientTimeout * time.Second},
		BaseUrl:    baseUrl,
		RequestFilter: func(reqConfig *ReqConfig) (*http.Request, error) {
			req, err := http.NewRequestWithContext(reqConfig.ctx, reqConfig.method, reqConfig.url, nil)
			if err != nil {
				return nil, err
			}
			req.Header.Add("Accept", "application/json, text/plain")
			return req, nil
		},
	}
}

// Do prepares and processes the HTTP request and returns the raw response
// body. Query parameters are always encoded through url.Values.
func (c *Client) Do(ctx context.Context, method, resource string, query url.Values) ([]byte, error) {
	var rawurl string
	if strings.HasPrefix(resource, "http") {
		rawurl = resource
	} else {
		rawurl = strings.TrimSuffix(c.BaseUrl, "/") + "/" + strings.TrimPrefix(resource, "/")
	}
	if len(query) > 0 {
		rawurl += "?" + query.Encode()
	}

	if c.RequestFilter == nil {
		return nil, errors.New("request filter was not set")
	}

	req, err := c.RequestFilter(&ReqConfig{
		ctx:    ctx,
		method: method,
		url:    rawurl,
		query:  query,
	})
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, errors.New("error: nil request")
	}

	if c.Debug {
		c.dumpRequest(req)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if c.Debug {
		c.dumpResponse(resp)
	}

	response, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "error reading response from %s", req.URL)
	}

	if resp.StatusCode != http.StatusOK {
		return response, &StatusError{
			URL:        req.URL.String(),
			StatusCode: resp.StatusCode,
			Body:       string(response),
		}
	}
	return response, nil
}

func (c *Client) dumpRequest(r *http.Request) {
	dump, err := httputil.DumpRequestOut(r, true)
	if err != nil {
		log.Debugf("dumpReq err: %v", err)
	} else {
		log.Debugf("dumpReq ok: %s", dump)
	}
}

func (c *Client) dumpResponse(r *http.Response) {
	dump, err := httputil.DumpResponse(r, false)
	if err != nil {
		log.Debugf("dumpResponse err: %v", err)
	} else {
		log.Debugf("dumpResponse ok: %s", dump)
	}
}
