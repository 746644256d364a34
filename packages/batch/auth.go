package batch

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/abdul-hamid-achik/hitbatch/packages/auth/oauth2"
	"github.com/abdul-hamid-achik/hitbatch/packages/core/env"
)

const authorizationHeader = "Authorization"

// Auth adds an Authorization header to every entry of a file that does not
// set one itself. All fields accept templates.
type Auth struct {
	Type     string `yaml:"type" validate:"required,oneof=basic bearer oauth2"`
	Token    string `yaml:"token,omitempty" validate:"required_if=Type bearer"`
	Username string `yaml:"username,omitempty" validate:"required_if=Type basic"`
	Password string `yaml:"password,omitempty"`

	TokenURL     string   `yaml:"tokenUrl,omitempty" validate:"required_if=Type oauth2"`
	ClientID     string   `yaml:"clientId,omitempty"`
	ClientSecret string   `yaml:"clientSecret,omitempty"`
	Scopes       []string `yaml:"scopes,omitempty"`
	Grant        string   `yaml:"grant,omitempty" validate:"omitempty,oneof=client_credentials password"`
}

func (a *Auth) resolve(r *env.Resolver) (*Auth, error) {
	out := *a
	var errs []error
	for _, field := range []*string{&out.Token, &out.Username, &out.Password, &out.TokenURL, &out.ClientID, &out.ClientSecret} {
		v, err := r.Resolve(*field)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*field = v
	}
	if len(a.Scopes) > 0 {
		out.Scopes = make([]string, len(a.Scopes))
		for i, s := range a.Scopes {
			v, err := r.Resolve(s)
			if err != nil {
				errs = append(errs, err)
			}
			out.Scopes[i] = v
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("auth: %w", errors.Join(errs...))
	}
	return &out, nil
}

// header computes the Authorization value, fetching an OAuth2 token with
// tokens when needed.
func (a *Auth) header(ctx context.Context, tokens *oauth2.Provider) (string, error) {
	switch a.Type {
	case "basic":
		creds := base64.StdEncoding.EncodeToString([]byte(a.Username + ":" + a.Password))
		return "Basic " + creds, nil
	case "bearer":
		return "Bearer " + a.Token, nil
	case "oauth2":
		token, err := tokens.Token(ctx, &oauth2.Config{
			TokenURL:     a.TokenURL,
			ClientID:     a.ClientID,
			ClientSecret: a.ClientSecret,
			Scopes:       a.Scopes,
			Username:     a.Username,
			Password:     a.Password,
			GrantType:    oauth2.GrantType(a.Grant),
		})
		if err != nil {
			return "", fmt.Errorf("auth: %w", err)
		}
		return token.Header(), nil
	}
	return "", fmt.Errorf("auth: unknown type %q", a.Type)
}

// applyAuthorization sets value as the Authorization header of every entry of f
// without one.
func applyAuthorization(f *File, value string) {
	for i := range f.Requests {
		e := &f.Requests[i]
		if hasHeader(e.Headers, authorizationHeader) {
			continue
		}
		headers := make(map[string]string, len(e.Headers)+1)
		for k, v := range e.Headers {
			headers[k] = v
		}
		headers[authorizationHeader] = value
		e.Headers = headers
	}
}

func hasHeader(headers map[string]string, name string) bool {
	for k := range headers {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}
