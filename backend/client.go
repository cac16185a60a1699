// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aifimmunology/hise/config"
	"github.com/aifimmunology/hise/core"
)

// An Authorizer supplies the server hosting HISE services and the headers
// that authorize requests to them.
type Authorizer interface {
	Server(ctx context.Context) (string, error)
	Headers(ctx context.Context) (http.Header, error)
}

// A Client issues requests to HISE services on behalf of an Authorizer.
type Client struct {
	Http http.Client
	Auth Authorizer
}

// Creates a client using the configured request timeout.
func NewClient(auth Authorizer) *Client {
	timeout := time.Duration(config.Workspace.Timeout) * time.Second
	return &Client{
		Http: SecureHttpClient(timeout),
		Auth: auth,
	}
}

// A file attached to a multipart request
type FilePart struct {
	// form field name
	Field string
	// path of the file on disk
	Path string
}

// Returns the server for the given service. A TEST_<SERVICE>_SERVER
// environment variable takes precedence over the configuration, which takes
// precedence over the server advertised to the session.
func (c *Client) server(ctx context.Context, service string) (string, error) {
	if server := os.Getenv(fmt.Sprintf("TEST_%s_SERVER", strings.ToUpper(service))); server != "" {
		return server, nil
	}
	if server := config.Services[service].Server; server != "" {
		return server, nil
	}
	return c.Auth.Server(ctx)
}

// Builds the URL for a named resource path of a service, with an optional
// resource appended to the path and optional query arguments. Local servers
// are addressed over plain HTTP.
func (c *Client) URL(ctx context.Context, service, pathName, resource string,
	args url.Values) (string, error) {
	serviceConfig, found := config.Services[service]
	if !found {
		return "", &UnknownResourceError{Service: service}
	}
	path, found := serviceConfig.Path(pathName)
	if !found {
		return "", &UnknownResourceError{Service: service, Path: pathName}
	}
	server, err := c.server(ctx, service)
	if err != nil {
		return "", err
	}
	scheme := "https"
	if strings.Contains(server, "localhost") || strings.HasPrefix(server, "127.0.0.1") {
		scheme = "http"
	}
	u := fmt.Sprintf("%s://%s/%s", scheme, server, path)
	if resource != "" {
		u += "/" + resource
	}
	if len(args) > 0 {
		u += "?" + args.Encode()
	}
	return u, nil
}

// performs a GET request on the given URL, returning the response body
func (c *Client) Get(ctx context.Context, u string) ([]byte, error) {
	slog.Debug(fmt.Sprintf("GET: %s", u))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, req)
}

// performs a POST request with the given JSON-encoded body (nil for none),
// returning the response body
func (c *Client) Post(ctx context.Context, u string, body any) ([]byte, error) {
	return c.sendJSON(ctx, http.MethodPost, u, body)
}

// performs a PUT request with the given JSON-encoded body, returning the
// response body
func (c *Client) Put(ctx context.Context, u string, body any) ([]byte, error) {
	return c.sendJSON(ctx, http.MethodPut, u, body)
}

// performs a DELETE request, returning the response body
func (c *Client) Delete(ctx context.Context, u string) ([]byte, error) {
	return c.sendJSON(ctx, http.MethodDelete, u, nil)
}

func (c *Client) sendJSON(ctx context.Context, method, u string, body any) ([]byte, error) {
	slog.Debug(fmt.Sprintf("%s: %s", method, u))
	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(ctx, req)
}

// performs a multipart POST request carrying the given form fields and files,
// returning the response body
func (c *Client) PostMultipart(ctx context.Context, u string, fields map[string]string,
	files []FilePart) ([]byte, error) {
	slog.Debug(fmt.Sprintf("POST (multipart): %s", u))
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return nil, err
		}
	}
	for _, file := range files {
		if err := attach(writer, file); err != nil {
			return nil, err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return c.do(ctx, req)
}

func attach(writer *multipart.Writer, file FilePart) error {
	f, err := os.Open(file.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	part, err := writer.CreateFormFile(file.Field, filepath.Base(file.Path))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}

// Downloads the resource at the given URL into a file at the given path,
// creating its directory if needed, and returns the number of bytes written.
// No file is left at the path if the download fails.
func (c *Client) Download(ctx context.Context, u, path string) (int64, error) {
	slog.Debug(fmt.Sprintf("GET (download): %s", u))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return 0, err
	}
	resp, err := c.send(ctx, req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return 0, responseError(req, resp.StatusCode, resp.Status, data)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return 0, err
	}
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, resp.Body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		// don't leave a truncated file behind
		os.Remove(path)
		return 0, &core.BackendError{
			Method:  req.Method,
			URL:     req.URL.String(),
			Message: fmt.Sprintf("download interrupted: %s", err),
		}
	}
	return n, nil
}

// attaches authorization headers and sends the request
func (c *Client) send(ctx context.Context, req *http.Request) (*http.Response, error) {
	headers, err := c.Auth.Headers(ctx)
	if err != nil {
		return nil, err
	}
	for key, values := range headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.Http.Do(req)
	if err != nil {
		return nil, &core.BackendError{
			Method:  req.Method,
			URL:     req.URL.String(),
			Message: err.Error(),
		}
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, req *http.Request) ([]byte, error) {
	resp, err := c.send(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case 200:
		return data, nil
	default:
		return nil, responseError(req, resp.StatusCode, resp.Status, data)
	}
}

// here's how HISE services report errors in response bodies
type errorResponse struct {
	Errors []struct {
		Message string `json:"Message"`
	} `json:"Errors"`
}

// builds a BackendError from a non-success response, taking the message from
// the body's first reported error if there is one
func responseError(req *http.Request, status int, reason string, body []byte) error {
	message := strings.TrimSpace(strings.TrimPrefix(reason, fmt.Sprintf("%d", status)))
	var errResp errorResponse
	if json.Unmarshal(body, &errResp) == nil && len(errResp.Errors) > 0 {
		message = errResp.Errors[0].Message
	}
	return &core.BackendError{
		Method:  req.Method,
		URL:     req.URL.String(),
		Status:  status,
		Message: message,
	}
}
