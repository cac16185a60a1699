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

package auth

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aifimmunology/hise/backend"
	"github.com/aifimmunology/hise/config"
)

// metadata paths describing the notebook instance
const (
	InstanceNamePath = "name"
	ClientIdPath     = "attributes/iap-client-id"
	AccountGuidPath  = "attributes/currentAccountGuid"
	IdentityPath     = "service-accounts/default/identity"
	ServerIdPath     = "attributes/hise-server"
)

// this type represents a proxy for the instance metadata service, which
// describes the virtual machine hosting the notebook
type MetadataServer struct {
	// base URL of the metadata service
	URL string
	// HTTP client used for requests
	Client http.Client
	// values returned for paths the service can't provide
	Defaults map[string]string
}

// constructs a proxy to the configured metadata service
func NewMetadataServer() *MetadataServer {
	instanceName := os.Getenv("TEST_INSTANCE_NAME")
	if instanceName == "" {
		instanceName = "local-testing-instance"
	}
	defaults := map[string]string{
		InstanceNamePath: instanceName,
		ServerIdPath:     config.Auth.DefaultServer,
	}
	if clientId, set := os.LookupEnv("AUTH_CLIENT_ID"); set {
		defaults[ClientIdPath] = clientId
	}
	return &MetadataServer{
		URL:      config.Auth.MetadataURL,
		Client:   backend.SecureHttpClient(5 * time.Second),
		Defaults: defaults,
	}
}

// fetches the value at the given path (which may carry a query string),
// falling back to a default if the service can't provide it
func (server *MetadataServer) Get(ctx context.Context, path string) (string, error) {
	value, err := server.get(ctx, path)
	if err == nil {
		return value, nil
	}
	if value, found := server.Defaults[path]; found {
		slog.Info(fmt.Sprintf("Returning default value for %s", path))
		return value, nil
	}
	return "", &MetadataError{Path: path, Message: err.Error()}
}

func (server *MetadataServer) get(ctx context.Context, path string) (string, error) {
	resource := fmt.Sprintf("%s/%s", strings.TrimSuffix(server.URL, "/"), path)
	slog.Debug(fmt.Sprintf("GET: %s", resource))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resource, http.NoBody)
	if err != nil {
		return "", err
	}
	req.Header.Set("Metadata-Flavor", "Google")
	resp, err := server.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != 200 {
		return "", fmt.Errorf("Request to %s failed with status %d. %s", path,
			resp.StatusCode, string(body))
	}
	return string(body), nil
}
