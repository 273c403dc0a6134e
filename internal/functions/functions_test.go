package functions

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPInvoker(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody DocumentRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &gotBody)
		if gotBody.PropertyID == "boom" {
			http.Error(w, "generation failed", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	inv := NewHTTPInvoker(srv.URL+"/", "service-key", nil)
	out, err := inv.Invoke(context.Background(), GenerateForm50162, DocumentRequest{UserID: "u1", PropertyID: "p1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(out))
	assert.Equal(t, "/functions/v1/generate-form-50-162", gotPath)
	assert.Equal(t, "Bearer service-key", gotAuth)
	assert.Equal(t, DocumentRequest{UserID: "u1", PropertyID: "p1"}, gotBody)

	_, err = inv.Invoke(context.Background(), GenerateServicesAgreement, DocumentRequest{PropertyID: "boom"})
	var ferr *Error
	require.True(t, errors.As(err, &ferr))
	assert.Equal(t, http.StatusInternalServerError, ferr.Status)
	assert.Equal(t, GenerateServicesAgreement, ferr.Function)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(GenerateForm50162, func(_ context.Context, payload json.RawMessage) (any, error) {
		var req DocumentRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		return map[string]string{"property": req.PropertyID}, nil
	})
	assert.Equal(t, []string{GenerateForm50162}, r.Names())

	out, err := r.Invoke(context.Background(), GenerateForm50162, DocumentRequest{PropertyID: "p9"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"property":"p9"}`, string(out))

	_, err = r.Invoke(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, ErrUnknownFunction)
}
