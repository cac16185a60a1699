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
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// The claims of an identity token issued to a notebook instance.
type Identity struct {
	// the service account or user the token was issued to
	Subject string
	// email address of the service account or user (if any)
	Email string
	// the audiences (client IDs) for which the token is valid
	Audience []string
	// expiration time (zero if the token doesn't expire)
	Expires time.Time
}

// Returns true if the identity's token expires within the given margin.
func (id Identity) ExpiresWithin(margin time.Duration) bool {
	if id.Expires.IsZero() {
		return false
	}
	return time.Until(id.Expires) < margin
}

// Reads the claims of an identity token. The token's signature is not checked:
// it's verified by the services that receive it.
func ParseIdentity(token string) (Identity, error) {
	claims := jwt.MapClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(token, claims)
	if err != nil {
		return Identity{}, &InvalidTokenError{Message: err.Error()}
	}
	var id Identity
	if id.Subject, err = claims.GetSubject(); err != nil {
		return Identity{}, &InvalidTokenError{Message: err.Error()}
	}
	if audience, err := claims.GetAudience(); err == nil {
		id.Audience = audience
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		id.Expires = exp.Time
	}
	id.Email, _ = claims["email"].(string)
	return id, nil
}

// indicates that an identity token couldn't be read
type InvalidTokenError struct {
	Message string
}

func (e InvalidTokenError) Error() string {
	return fmt.Sprintf("Invalid identity token: %s", e.Message)
}

// indicates that a metadata value could not be retrieved and has no default
type MetadataError struct {
	Path, Message string
}

func (e MetadataError) Error() string {
	return fmt.Sprintf("No default value found for %s (%s). Cannot continue", e.Path, e.Message)
}
