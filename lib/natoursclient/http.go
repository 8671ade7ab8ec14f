package natoursclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/steinarvk/natours/lib/apierror"
	"github.com/steinarvk/natours/lib/docstore"
	"github.com/steinarvk/natours/lib/natoursapi"
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

func (c *Client) APIBase() string {
	scheme := c.Scheme
	if scheme == "" {
		scheme = "https"
	}

	if c.Port != 0 {
		return fmt.Sprintf("%s://%s:%d/api/v1", scheme, c.Host, c.Port)
	} else {
		return fmt.Sprintf("%s://%s/api/v1", scheme, c.Host)
	}
}

func (c *Client) APIPath(suffix string) string {
	base := c.APIBase()
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(suffix, "/")
}

func (c *Client) httpClient() HTTPDoer {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// do sends a request and decodes a JSON response into out. Error responses
// come back as apierror values carrying the server's status and message.
func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.APIPath(path), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var errResp natoursapi.ErrorResponse
		message := strings.TrimSpace(string(data))
		if err := json.Unmarshal(data, &errResp); err == nil && errResp.Message != "" {
			message = errResp.Message
		}
		return apierror.New(
			apierror.WithErrorID("server-error"),
			apierror.WithHTTPCode(resp.StatusCode),
			apierror.WithPublicMessage(message),
		)
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("error parsing response to %s %s: %w", method, path, err)
	}
	return nil
}

// List fetches a page of a collection. query uses the same bracket syntax
// as the server.
func (c *Client) List(ctx context.Context, collection string, query natoursapi.QueryRequest) (*natoursapi.ListResponse, error) {
	path := url.PathEscape(collection)
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var rv natoursapi.ListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &rv); err != nil {
		return nil, err
	}
	return &rv, nil
}

func (c *Client) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	var rv natoursapi.DocumentResponse
	if err := c.do(ctx, http.MethodGet, url.PathEscape(collection)+"/"+url.PathEscape(id), nil, &rv); err != nil {
		return nil, err
	}
	return rv.Data, nil
}

func (c *Client) Create(ctx context.Context, collection string, doc docstore.Document) (docstore.Document, error) {
	var rv natoursapi.CreatedResponse
	if err := c.do(ctx, http.MethodPost, url.PathEscape(collection), doc, &rv); err != nil {
		return nil, err
	}
	return rv.Data.Data, nil
}

func (c *Client) Delete(ctx context.Context, collection, id string) error {
	return c.do(ctx, http.MethodDelete, url.PathEscape(collection)+"/"+url.PathEscape(id), nil, nil)
}
