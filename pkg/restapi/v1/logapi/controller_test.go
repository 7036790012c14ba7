/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package logapi_test

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"github.com/agentgrant/consent/pkg/restapi/v1/logapi"
)

func TestController(t *testing.T) {
	router := &routerStub{}

	assert.NotNil(t, logapi.NewController(router))
	assert.Equal(t, []string{"/loglevels"}, router.paths)
}

func TestPostLogLevels(t *testing.T) {
	t.Run("changed log level", func(t *testing.T) {
		c := logapi.NewController(&routerStub{})

		body := newMockReader([]byte("DEBUG"))

		assert.NoError(t, c.PostLogLevels(echoContext(body)))
	})

	t.Run("invalid log level", func(t *testing.T) {
		c := logapi.NewController(&routerStub{})

		body := newMockReader([]byte("INVALID"))

		err := c.PostLogLevels(echoContext(body))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "logger: invalid log level")
	})

	t.Run("failed to read request", func(t *testing.T) {
		c := logapi.NewController(&routerStub{})

		err := c.PostLogLevels(echoContext(newMockReader([]byte("")).withError(fmt.Errorf("reader error"))))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read body: reader error")
	})
}

type routerStub struct {
	paths []string
}

func (r *routerStub) POST(path string, _ echo.HandlerFunc, _ ...echo.MiddlewareFunc) *echo.Route {
	r.paths = append(r.paths, path)

	return &echo.Route{Method: http.MethodPost, Path: path}
}

func echoContext(body io.Reader) echo.Context {
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/", body)
	req.Header.Set(echo.HeaderContentType, echo.MIMETextPlain)

	rec := httptest.NewRecorder()
	return e.NewContext(req, rec)
}

type mockReader struct {
	io.Reader
	err error
}

func newMockReader(value []byte) *mockReader {
	return &mockReader{Reader: bytes.NewBuffer(value)}
}

func (r *mockReader) withError(err error) *mockReader {
	r.err = err

	return r
}

func (r *mockReader) Read(p []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}

	return r.Reader.Read(p)
}

func (r *mockReader) Close() error {
	return nil
}
