package batch

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	nethttp "net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdul-hamid-achik/hitbatch/packages/assertions"
	"github.com/abdul-hamid-achik/hitbatch/packages/client"
	"github.com/abdul-hamid-achik/hitbatch/packages/core/env"
	"github.com/abdul-hamid-achik/hitbatch/packages/core/interruptible"
	hhttp "github.com/abdul-hamid-achik/hitbatch/packages/http"
	"github.com/abdul-hamid-achik/hitbatch/packages/snapshot"
	"github.com/abdul-hamid-achik/hitbatch/packages/transport"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParse(t *testing.T) {
	content := `
name: smoke
requests:
  - name: health
    url: http://localhost:8080/health
    expect:
      status: 200
      json:
        status: ok
        checks.#: 2
      body:
        - path: version
          op: startsWith
          value: "1."
      schema: '{"type": "object"}'
  - name: create
    method: post
    url: http://localhost:8080/items
    headers:
      Content-Type: application/json
    body: '{"name": "x"}'
    compress: true
`
	f, err := Parse([]byte(content))
	require.NoError(t, err)

	assert.Equal(t, "smoke", f.Name)
	require.Len(t, f.Requests, 2)
	assert.Equal(t, ".", f.BaseDir())

	health := f.Requests[0]
	assert.Equal(t, 200, health.Expect.Status)

	list := health.Assertions()
	require.Len(t, list, 5)
	assert.Equal(t, "status == 200", list[0].String())
	assert.Equal(t, "body.checks.# == 2", list[1].String())
	assert.Equal(t, "body.status == ok", list[2].String())
	assert.Equal(t, assertions.OpStartsWith, list[3].Operator)
	assert.Equal(t, "body.version", list[3].Subject)
	assert.Equal(t, assertions.OpSchema, list[4].Operator)

	create := f.Requests[1]
	assert.True(t, create.Compress)
	assert.Nil(t, create.Assertions())
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantMsg string
	}{
		{name: "not yaml", content: "name: [", wantMsg: "failed to parse batch"},
		{name: "missing name", content: "requests:\n  - name: a\n    url: http://x.test/\n", wantMsg: "name"},
		{name: "no requests", content: "name: empty\n", wantMsg: "requests"},
		{name: "bad url", content: "name: b\nrequests:\n  - name: a\n    url: not a url\n", wantMsg: "requests[0].url"},
		{name: "bad method", content: "name: b\nrequests:\n  - name: a\n    method: TRACE\n    url: http://x.test/\n", wantMsg: "requests[0].method"},
		{name: "bad status", content: "name: b\nrequests:\n  - name: a\n    url: http://x.test/\n    expect:\n      status: 42\n", wantMsg: "status"},
		{name: "bad operator", content: "name: b\nrequests:\n  - name: a\n    url: http://x.test/\n    expect:\n      body:\n        - path: id\n          op: '~='\n", wantMsg: "requests[0].expect.body[0]: unknown operator: ~="},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestParseFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "smoke.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: s\nrequests:\n  - name: a\n    url: http://x.test/\n"), 0644))

	f, err := ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, path, f.Path)
	assert.Equal(t, dir, f.BaseDir())

	_, err = ParseFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestIsBatchFile(t *testing.T) {
	assert.True(t, IsBatchFile("a.yaml"))
	assert.True(t, IsBatchFile("dir/b.YML"))
	assert.False(t, IsBatchFile("c.http"))
	assert.False(t, IsBatchFile("yaml"))
}

func TestBuildRequests(t *testing.T) {
	f := &File{
		Name: "mixed",
		Requests: []Entry{
			{Name: "ok", URL: "https://example.com/a"},
			{Name: "get with body", URL: "https://example.com/b", Body: "x"},
			{Name: "post", Method: "POST", URL: "https://example.com/c", Body: "hello"},
			{Name: "content length", Method: "POST", URL: "https://example.com/d", Headers: map[string]string{"Content-Length": "1"}},
			{Name: "ftp", URL: "ftp://example.com/e"},
		},
	}

	reqs, errs := BuildRequests(f)
	require.Len(t, reqs, 5)
	require.Len(t, errs, 5)

	assert.NoError(t, errs[0])
	assert.Equal(t, hhttp.MethodGet, reqs[0].Method())

	assert.ErrorIs(t, errs[1], hhttp.ErrInvalidArgument)
	assert.Nil(t, reqs[1])

	require.NoError(t, errs[2])
	assert.Equal(t, "5", reqs[2].ExtraHeaders().Get("Content-Length"))

	assert.ErrorIs(t, errs[3], hhttp.ErrInvalidArgument)
	assert.ErrorIs(t, errs[4], hhttp.ErrInvalidArgument)
}

func newTestRunner(t *testing.T, shouldAbort func() bool, opts ...RunnerOption) *Runner {
	t.Helper()

	api := transport.Acquire(transport.WithLogger(quietLogger()))
	t.Cleanup(func() { _ = api.Close() })

	timing := interruptible.TimingConfig{
		PollingPeriod:          5 * time.Millisecond,
		GracefulShutdownPeriod: 500 * time.Millisecond,
		ExtendedShutdownPeriod: time.Second,
	}
	ir := interruptible.NewRunner(shouldAbort, timing,
		interruptible.WithLogger(quietLogger()),
		interruptible.WithExitFunc(func(int) {}))
	t.Cleanup(ir.Close)

	c := client.NewClient(api,
		client.WithLogger(quietLogger()),
		client.WithPollTimeout(10*time.Millisecond))
	return NewRunner(c, ir, append([]RunnerOption{WithLogger(quietLogger())}, opts...)...)
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		switch r.URL.Path {
		case "/health":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "version": "1.4.2", "checks": []string{"db", "cache"}})
		case "/items":
			data, _ := io.ReadAll(r.Body)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(nethttp.StatusCreated)
			_, _ = w.Write(data)
		case "/token":
			if id, secret, ok := r.BasicAuth(); !ok || id != "app" || secret != "s3cret" {
				w.WriteHeader(nethttp.StatusUnauthorized)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "abc", "token_type": "bearer", "expires_in": 60})
		case "/whoami":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{"auth": r.Header.Get("Authorization")})
		default:
			nethttp.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestRunner_Run(t *testing.T) {
	server := newServer(t)

	f := &File{
		Name: "smoke",
		Requests: []Entry{
			{
				Name: "health",
				URL:  server.URL + "/health",
				Expect: &Expect{
					Status: 200,
					JSON:   map[string]any{"status": "ok", "checks.#": 2},
					Body:   []Check{{Path: "version", Op: "startsWith", Value: "1."}},
					Schema: `{"type": "object", "required": ["status"]}`,
				},
			},
			{
				Name:   "create",
				Method: "post",
				URL:    server.URL + "/items",
				Body:   `{"name": "widget"}`,
				Expect: &Expect{JSON: map[string]any{"name": "widget"}},
			},
			{
				Name:   "expected missing",
				URL:    server.URL + "/gone",
				Expect: &Expect{Status: 404},
			},
			{Name: "unexpected missing", URL: server.URL + "/nope"},
			{Name: "not built", URL: server.URL + "/health", Body: "body on get"},
			{
				Name:   "wrong value",
				URL:    server.URL + "/health",
				Expect: &Expect{JSON: map[string]any{"status": "down"}},
			},
		},
	}

	result, err := newTestRunner(t, nil).Run(context.Background(), f)
	require.NoError(t, err)
	require.Len(t, result.Results, 6)

	assert.Equal(t, "smoke", result.Name)
	assert.Equal(t, 3, result.Passed)
	assert.Equal(t, 3, result.Failed)
	assert.Positive(t, result.Usage.Sent)
	assert.Positive(t, result.Usage.Received)

	health := result.Results[0]
	assert.True(t, health.Passed, "%+v", health.Assertions)
	assert.Equal(t, 200, health.Code)
	assert.Len(t, health.Assertions, 5)

	create := result.Results[1]
	assert.True(t, create.Passed)
	assert.Equal(t, "POST", create.Method)
	assert.Equal(t, 201, create.Code)

	gone := result.Results[2]
	assert.True(t, gone.Passed)
	assert.NoError(t, gone.Error)
	assert.Equal(t, 404, gone.Code)

	nope := result.Results[3]
	assert.False(t, nope.Passed)
	assert.ErrorIs(t, nope.Error, hhttp.ErrNotFound)
	assert.Equal(t, 404, nope.Code)

	notBuilt := result.Results[4]
	assert.False(t, notBuilt.Passed)
	assert.ErrorIs(t, notBuilt.Error, hhttp.ErrInvalidArgument)
	assert.Equal(t, -1, notBuilt.Code)

	wrong := result.Results[5]
	assert.False(t, wrong.Passed)
	require.Len(t, wrong.Assertions, 1)
	assert.Equal(t, "expected down, got ok", wrong.Assertions[0].Message)
}

func TestRunner_RunFile_SchemaFromFile(t *testing.T) {
	server := newServer(t)
	dir := t.TempDir()

	schema := `{"type": "object", "required": ["status", "version"]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "health.json"), []byte(schema), 0644))

	content := "name: schema\nrequests:\n  - name: health\n    url: " + server.URL + "/health\n    expect:\n      schema: health.json\n"
	path := filepath.Join(dir, "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	result, err := newTestRunner(t, nil).RunFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, path, result.File)
	assert.Equal(t, 1, result.Passed)
}

func TestRunner_RunFile_ParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: bad\n"), 0644))

	_, err := newTestRunner(t, nil).RunFile(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing file")
}

func TestRunner_Run_Cancelled(t *testing.T) {
	server := newServer(t)
	f := &File{Name: "cancelled", Requests: []Entry{{Name: "health", URL: server.URL + "/health"}}}

	result, err := newTestRunner(t, func() bool { return true }).Run(context.Background(), f)

	var cancelled *interruptible.CancelledError
	require.ErrorAs(t, err, &cancelled)
	assert.Equal(t, interruptible.StageBeforeStart, cancelled.Stage)
	require.NotNil(t, result)
	assert.Zero(t, result.Passed)
}

func TestRunner_Run_NothingBuildable(t *testing.T) {
	f := &File{Name: "none", Requests: []Entry{{Name: "ftp", URL: "ftp://example.com/"}}}

	result, err := newTestRunner(t, nil).Run(context.Background(), f)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Zero(t, result.Usage.Sent)
}

func TestFile_Resolve(t *testing.T) {
	f := &File{
		Name:      "vars",
		Variables: map[string]string{"base": "https://api.example.com", "token": "from-file"},
		Requests: []Entry{
			{Name: "a", URL: "{{base}}/a", Headers: map[string]string{"Authorization": "Bearer {{token}}"}},
			{Name: "b", URL: "{{base}}/b", Body: "{{missing}}"},
		},
	}

	r := env.NewResolver()
	r.SetVariable("token", "from-cli")

	resolved, errs := f.Resolve(r)
	require.Len(t, errs, 2)

	assert.NoError(t, errs[0])
	assert.Equal(t, "https://api.example.com/a", resolved.Requests[0].URL)
	assert.Equal(t, "Bearer from-cli", resolved.Requests[0].Headers["Authorization"])

	assert.ErrorIs(t, errs[1], env.ErrUnresolved)
	assert.Contains(t, errs[1].Error(), "body")

	assert.Equal(t, "{{base}}/a", f.Requests[0].URL, "original is not modified")
	_, ok := r.GetVariable("base")
	assert.False(t, ok, "resolver is not modified")
}

func TestRunner_Run_Variables(t *testing.T) {
	server := newServer(t)

	content := `
name: templated
variables:
  base: http://placeholder
requests:
  - name: health
    url: "{{base}}/health"
    headers:
      X-Request-Id: "{{uuid()}}"
  - name: unresolved
    url: "{{base}}/health?v={{version}}"
`
	f, err := Parse([]byte(content))
	require.NoError(t, err)

	resolver := env.NewResolver()
	resolver.SetVariable("base", server.URL)

	result, err := newTestRunner(t, nil, WithResolver(resolver)).Run(context.Background(), f)
	require.NoError(t, err)

	assert.True(t, result.Results[0].Passed)
	assert.Equal(t, server.URL+"/health", result.Results[0].URL)

	assert.False(t, result.Results[1].Passed)
	assert.ErrorIs(t, result.Results[1].Error, env.ErrUnresolved)
	assert.Equal(t, -1, result.Results[1].Code)
}

func TestRunner_Run_Auth(t *testing.T) {
	server := newServer(t)

	tests := []struct {
		name     string
		auth     *Auth
		wantAuth string
		wantErr  string
	}{
		{name: "bearer", auth: &Auth{Type: "bearer", Token: "{{token}}"}, wantAuth: "Bearer t0k"},
		{name: "basic", auth: &Auth{Type: "basic", Username: "ada", Password: "pw"}, wantAuth: "Basic YWRhOnB3"},
		{
			name:     "oauth2",
			auth:     &Auth{Type: "oauth2", TokenURL: server.URL + "/token", ClientID: "app", ClientSecret: "s3cret"},
			wantAuth: "Bearer abc",
		},
		{
			name:    "oauth2 rejected",
			auth:    &Auth{Type: "oauth2", TokenURL: server.URL + "/token", ClientID: "app", ClientSecret: "wrong"},
			wantErr: "token request failed",
		},
		{name: "unresolved", auth: &Auth{Type: "bearer", Token: "{{missing}}"}, wantErr: "auth:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &File{
				Name: "auth",
				Auth: tt.auth,
				Requests: []Entry{
					{Name: "whoami", URL: server.URL + "/whoami"},
					{Name: "own header", URL: server.URL + "/whoami", Headers: map[string]string{"authorization": "Custom x"}},
				},
			}
			resolver := env.NewResolver()
			resolver.SetVariable("token", "t0k")

			result, err := newTestRunner(t, nil, WithResolver(resolver)).Run(context.Background(), f)
			require.NoError(t, err)

			if tt.wantErr != "" {
				require.Error(t, result.Results[0].Error)
				assert.Contains(t, result.Results[0].Error.Error(), tt.wantErr)
				assert.Equal(t, 0, result.Passed)
				return
			}
			require.True(t, result.Results[0].Passed)
			assert.Equal(t, tt.wantAuth, result.Results[0].Response.JSON("auth").String())
			assert.Equal(t, "Custom x", result.Results[1].Response.JSON("auth").String())
		})
	}
}

func TestParse_Auth(t *testing.T) {
	_, err := Parse([]byte(`
name: auth
auth:
  type: bearer
requests:
  - name: a
    url: https://example.com
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth.token")

	f, err := Parse([]byte(`
name: auth
auth:
  type: oauth2
  tokenUrl: "{{base}}/token"
  clientId: app
  scopes: [read]
requests:
  - name: a
    url: https://example.com
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"read"}, f.Auth.Scopes)
}

func TestRunner_Run_Snapshot(t *testing.T) {
	server := newServer(t)
	path := filepath.Join(t.TempDir(), "snap.yaml")
	f := &File{
		Name: "snap",
		Path: path,
		Requests: []Entry{{
			Name:   "health",
			URL:    server.URL + "/health",
			Expect: &Expect{Snapshot: "body"},
		}},
	}

	result, err := newTestRunner(t, nil).Run(context.Background(), f)
	require.NoError(t, err)
	assert.False(t, result.Results[0].Passed, "no snapshot recorded yet")

	result, err = newTestRunner(t, nil, WithSnapshots(snapshot.NewManager(true))).Run(context.Background(), f)
	require.NoError(t, err)
	require.True(t, result.Results[0].Passed)
	last := result.Results[0].Assertions[len(result.Results[0].Assertions)-1]
	assert.Equal(t, "snapshot", last.Operator)
	assert.Equal(t, "new snapshot created", last.Message)

	result, err = newTestRunner(t, nil).Run(context.Background(), f)
	require.NoError(t, err)
	assert.True(t, result.Results[0].Passed)
	assert.FileExists(t, snapshot.Path(path))
}
