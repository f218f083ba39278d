package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type reloaderFunc func() error

func (f reloaderFunc) Reload() error { return f() }

func TestReloadHandler(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantBody string
	}{
		{name: "applied", wantCode: http.StatusNoContent},
		{
			name:     "invalid config keeps previous",
			err:      errors.New("lease: unknown provider \"os\""),
			wantCode: http.StatusUnprocessableEntity,
			wantBody: "unknown provider",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			h := NewReloadHandler(slog.Default(), reloaderFunc(func() error {
				calls++
				return tt.err
			}))

			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/reload", nil))

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, 1, calls)
			if tt.wantBody != "" {
				assert.Contains(t, w.Body.String(), tt.wantBody)
			} else {
				assert.Empty(t, w.Body.String())
			}
		})
	}
}
