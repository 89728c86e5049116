// Copyright (C) 2021 Michael J. Fromberger. All Rights Reserved.

package jhttp_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/corvida/rpcengine/handler"
	"github.com/corvida/rpcengine/jhttp"
)

func TestGetter(t *testing.T) {
	mux := handler.Map{
		"concat": handler.NewPos(func(ctx context.Context, a, b string) string {
			return a + b
		}, "first", "second"),
	}
	setup := func(t *testing.T) (*http.Client, func(string) string) {
		g := jhttp.NewGetter(mux, nil)
		t.Cleanup(func() { checkClose(t, g) })

		hsrv := httptest.NewServer(g)
		t.Cleanup(hsrv.Close)
		return hsrv.Client(), func(pathQuery string) string {
			return hsrv.URL + "/" + pathQuery
		}
	}
	t.Run("OK", func(t *testing.T) {
		hcli, url := setup(t)
		got := mustGet(t, hcli, url("concat?second=world&first=hello"), http.StatusOK)
		const want = `"helloworld"`
		if got != want {
			t.Errorf("Response body: got %#q, want %#q", got, want)
		}
	})
	t.Run("NotFound", func(t *testing.T) {
		hcli, url := setup(t)
		got := mustGet(t, hcli, url("nonesuch"), http.StatusNotFound)
		const want = `"code":-32601` // MethodNotFound
		if !strings.Contains(got, want) {
			t.Errorf("Response body: got %#q, want %#q", got, want)
		}
	})
	t.Run("InternalError", func(t *testing.T) {
		hcli, url := setup(t)
		got := mustGet(t, hcli, url("concat?third=c"), http.StatusInternalServerError)
		const want = `"code":-32602` // InvalidParams
		if !strings.Contains(got, want) {
			t.Errorf("Response body: got %#q, want %#q", got, want)
		}
	})
}

func TestGetter_parseRequest(t *testing.T) {
	mux := handler.Map{
		"format": handler.NewPos(func(ctx context.Context, a string, b int) string {
			return fmt.Sprintf("%s-%d", a, b)
		}, "tag", "value"),
	}

	setup := func(t *testing.T) (*http.Client, func(string) string) {
		g := jhttp.NewGetter(mux, &jhttp.GetterOptions{
			ParseRequest: func(req *http.Request) (string, any, error) {
				if err := req.ParseForm(); err != nil {
					return "", nil, err
				}
				tag := req.Form.Get("tag")
				val, err := strconv.ParseInt(req.Form.Get("value"), 10, 64)
				if err != nil && req.Form.Get("value") != "" {
					return "", nil, fmt.Errorf("invalid number: %w", err)
				}
				return strings.TrimPrefix(req.URL.Path, "/x/"), map[string]any{
					"tag":   tag,
					"value": val,
				}, nil
			},
		})
		t.Cleanup(func() { checkClose(t, g) })

		hsrv := httptest.NewServer(g)
		t.Cleanup(hsrv.Close)
		return hsrv.Client(), func(pathQuery string) string {
			return hsrv.URL + "/" + pathQuery
		}
	}
	t.Run("OK", func(t *testing.T) {
		hcli, url := setup(t)
		got := mustGet(t, hcli, url("x/format?tag=foo&value=25"), http.StatusOK)
		const want = `"foo-25"`
		if got != want {
			t.Errorf("Response body: got %#q, want %#q", got, want)
		}
	})
	t.Run("NotFound", func(t *testing.T) {
		hcli, url := setup(t)

		// N.B. Missing path prefix.
		got := mustGet(t, hcli, url("format"), http.StatusNotFound)
		const want = `"code":-32601` // MethodNotFound
		if !strings.Contains(got, want) {
			t.Errorf("Response body: got %#q, want %#q", got, want)
		}
	})
}

func mustGet(t *testing.T, cli *http.Client, url string, code int) string {
	t.Helper()
	rsp, err := cli.Get(url)
	if err != nil {
		t.Fatalf("GET request failed: %v", err)
	}
	body, err := io.ReadAll(rsp.Body)
	rsp.Body.Close()
	if err != nil {
		t.Errorf("Reading GET body: %v", err)
	}
	if got := rsp.StatusCode; got != code {
		t.Errorf("GET response code: got %v, want %v", got, code)
	}
	return string(body)
}
