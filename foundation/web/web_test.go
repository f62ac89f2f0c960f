package web_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/ledgercore/node/foundation/validate"
	"github.com/ledgercore/node/foundation/web"
	"github.com/stretchr/testify/require"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

type request struct {
	Address string `json:"address" validate:"required"`
	Amount  uint64 `json:"amount" validate:"gt=0"`
}

func Test_App(t *testing.T) {
	shutdown := make(chan os.Signal, 1)

	var order []string
	mw := func(name string) web.Middleware {
		return func(handler web.Handler) web.Handler {
			return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
				order = append(order, name)
				return handler(ctx, w, r)
			}
		}
	}

	app := web.NewApp(shutdown, mw("app"))

	app.Handle(http.MethodGet, "v1", "/echo/:id", func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		v, err := web.GetValues(ctx)
		if err != nil {
			return err
		}

		resp := struct {
			ID      string `json:"id"`
			TraceID string `json:"trace_id"`
		}{
			ID:      web.Param(r, "id"),
			TraceID: v.TraceID,
		}
		return web.Respond(ctx, w, resp, http.StatusOK)
	}, mw("route"))

	var decodeErr error
	app.Handle(http.MethodPost, "v1", "/decode", func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		var req request
		decodeErr = web.Decode(r, &req)
		return web.Respond(ctx, w, nil, http.StatusNoContent)
	})

	app.Handle(http.MethodGet, "", "/fatal", func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		return web.NewShutdownError("integrity issue")
	})

	t.Log("Given the need to route requests through middleware.")
	{
		w := httptest.NewRecorder()
		app.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/echo/42", nil))

		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "application/json", w.Header().Get("Content-Type"))
		require.Contains(t, w.Body.String(), `"id":"42"`)
		require.Regexp(t, `"trace_id":"[0-9a-f-]{36}"`, w.Body.String())
		require.Equal(t, []string{"app", "route"}, order)
		t.Logf("\t%s\tShould run app then route middleware and expose params.", success)
	}

	t.Log("Given the need to validate request documents.")
	{
		w := httptest.NewRecorder()
		body := strings.NewReader(`{"address":"","amount":0}`)
		app.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/decode", body))

		require.Equal(t, http.StatusNoContent, w.Code)
		fields := validate.GetFieldErrors(decodeErr).Fields()
		if _, exists := fields["address"]; !exists {
			t.Fatalf("\t%s\tShould report the address field: %v", failed, decodeErr)
		}
		require.Contains(t, fields, "amount")
		t.Logf("\t%s\tShould report field errors by JSON name.", success)

		w = httptest.NewRecorder()
		body = strings.NewReader(`{"address":"a","amount":1,"extra":true}`)
		app.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/decode", body))
		require.Error(t, decodeErr)
		require.False(t, validate.IsFieldErrors(decodeErr))
		t.Logf("\t%s\tShould refuse unknown fields.", success)
	}

	t.Log("Given a handler reporting an integrity issue.")
	{
		w := httptest.NewRecorder()
		app.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/fatal", nil))

		select {
		case <-shutdown:
			t.Logf("\t%s\tShould signal a shutdown.", success)
		default:
			t.Fatalf("\t%s\tShould signal a shutdown.", failed)
		}
	}
}
