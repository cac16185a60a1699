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
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/aifimmunology/hise/config"
)

// the environment variable naming a command that generates tokens outside of
// an IDE instance; its presence puts the SDK in debug mode
const TokenGeneratorEnv = "TOKEN_GENERATOR"

// identity tokens are refreshed when they expire within this margin
const tokenRefreshMargin = time.Minute

// A Session describes the notebook instance on whose behalf requests are made.
// It is passed explicitly to every component that needs to identify the
// caller, and it remembers values obtained from the metadata service.
type Session struct {
	// the notebook being executed (recorded with uploads)
	Notebook string

	metadata *MetadataServer
	values   map[string]string
	token    string
	identity Identity
}

// Creates a session for the instance described by the given metadata service.
// The notebook is taken from the configuration.
func NewSession(metadata *MetadataServer) *Session {
	return &Session{
		Notebook: config.Workspace.Notebook,
		metadata: metadata,
		values:   make(map[string]string),
	}
}

// Returns true if the session is running outside an IDE instance, in which
// case tokens come from the token generator and some workspace checks are
// skipped.
func (s *Session) Debug() bool {
	_, set := os.LookupEnv(TokenGeneratorEnv)
	return set
}

func (s *Session) lookup(ctx context.Context, path string) (string, error) {
	if value, found := s.values[path]; found {
		return value, nil
	}
	value, err := s.metadata.Get(ctx, path)
	if err != nil {
		return "", err
	}
	s.values[path] = value
	return value, nil
}

// Returns the server hosting the HISE services for this instance.
func (s *Session) Server(ctx context.Context) (string, error) {
	return s.lookup(ctx, ServerIdPath)
}

// Returns the name of the notebook instance.
func (s *Session) InstanceName(ctx context.Context) (string, error) {
	return s.lookup(ctx, InstanceNamePath)
}

// Returns the headers that authorize a request from this instance.
func (s *Session) Headers(ctx context.Context) (http.Header, error) {
	headers := http.Header{}
	if s.Debug() {
		token, err := generateToken(ctx)
		if err != nil {
			return nil, err
		}
		// both headers are set so the same token works for dev and local
		// servers
		headers.Set("InstanceAccountGuid", config.Auth.DebugAccountGuid)
		headers.Set("Authorization", "Bearer "+token)
		headers.Set("hise_invoker_token", token)
		return headers, nil
	}

	token, err := s.identityToken(ctx)
	if err != nil {
		return nil, err
	}
	accountGuid, err := s.lookup(ctx, AccountGuidPath)
	if err != nil {
		return nil, err
	}
	headers.Set("Authorization", "Bearer "+token)
	headers.Set("InstanceAccountGuid", accountGuid)
	return headers, nil
}

// Returns the claims of the instance's current identity token.
func (s *Session) Identity(ctx context.Context) (Identity, error) {
	if _, err := s.identityToken(ctx); err != nil {
		return Identity{}, err
	}
	return s.identity, nil
}

// returns an identity token for the instance, fetching a new one when the
// current one is about to expire
func (s *Session) identityToken(ctx context.Context) (string, error) {
	if s.token != "" && !s.identity.ExpiresWithin(tokenRefreshMargin) {
		return s.token, nil
	}
	clientId, err := s.lookup(ctx, ClientIdPath)
	if err != nil {
		return "", err
	}
	args := url.Values{"format": {"full"}, "audience": {clientId}}
	token, err := s.metadata.Get(ctx, fmt.Sprintf("%s?%s", IdentityPath, args.Encode()))
	if err != nil {
		return "", err
	}
	identity, err := ParseIdentity(token)
	if err != nil {
		return "", err
	}
	s.token, s.identity = token, identity
	return token, nil
}

// runs the token generator command and returns its output
func generateToken(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", os.Getenv(TokenGeneratorEnv))
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("running token generator: %w", err)
	}
	return strings.TrimRight(string(out), "\r\n "), nil
}
