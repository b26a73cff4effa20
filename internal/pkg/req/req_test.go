package req

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sketchroom/internal/pkg/errs"
)

type sample struct {
	Name string `json:"name"`
}

func TestBindJSON(t *testing.T) {
	t.Parallel()

	t.Run("valid body", func(t *testing.T) {
		t.Parallel()

		r := httptest.NewRequest("POST", "/", strings.NewReader(`{"name":"Ada"}`))
		r.Header.Set("Content-Type", "application/json")

		var dst sample
		require.Nil(t, BindJSON(r, &dst))
		assert.Equal(t, "Ada", dst.Name)
	})

	t.Run("wrong content type", func(t *testing.T) {
		t.Parallel()

		r := httptest.NewRequest("POST", "/", strings.NewReader(`{"name":"Ada"}`))
		r.Header.Set("Content-Type", "text/plain")

		var dst sample
		customErr := BindJSON(r, &dst)
		require.NotNil(t, customErr)
		assert.Equal(t, errs.ErrUnsupportedMediaType, customErr.Code)
	})

	t.Run("malformed json", func(t *testing.T) {
		t.Parallel()

		r := httptest.NewRequest("POST", "/", strings.NewReader(`{"name":`))
		r.Header.Set("Content-Type", "application/json")

		var dst sample
		customErr := BindJSON(r, &dst)
		require.NotNil(t, customErr)
		assert.Equal(t, errs.ErrInvalidJSONFormat, customErr.Code)
	})

	t.Run("unknown field", func(t *testing.T) {
		t.Parallel()

		r := httptest.NewRequest("POST", "/", strings.NewReader(`{"name":"Ada","extra":1}`))
		r.Header.Set("Content-Type", "application/json")

		var dst sample
		customErr := BindJSON(r, &dst)
		require.NotNil(t, customErr)
		assert.Equal(t, errs.ErrInvalidJSONFormat, customErr.Code)
	})

	t.Run("trailing content", func(t *testing.T) {
		t.Parallel()

		r := httptest.NewRequest("POST", "/", strings.NewReader(`{"name":"Ada"}{"name":"Ben"}`))
		r.Header.Set("Content-Type", "application/json")

		var dst sample
		customErr := BindJSON(r, &dst)
		require.NotNil(t, customErr)
		assert.Equal(t, errs.ErrExtraContentInBody, customErr.Code)
	})

	t.Run("oversized body", func(t *testing.T) {
		t.Parallel()

		huge := `{"name":"` + strings.Repeat("a", MaxRequestBodyBytes) + `"}`
		r := httptest.NewRequest("POST", "/", strings.NewReader(huge))
		r.Header.Set("Content-Type", "application/json")

		var dst sample
		customErr := BindJSON(r, &dst)
		require.NotNil(t, customErr)
		assert.Equal(t, errs.ErrRequestEntityTooLarge, customErr.Code)
	})
}
