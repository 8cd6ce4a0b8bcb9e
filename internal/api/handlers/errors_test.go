package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"orgregistry/internal/catalog"
	"orgregistry/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name     string
		err      error
		wantCode int
		wantBody string
	}{
		{"user not found", services.ErrUserNotFound, http.StatusNotFound, services.ErrUserNotFound.Error()},
		{"wrapped group not found", fmt.Errorf("lookup: %w", services.ErrGroupNotFound), http.StatusNotFound, "lookup"},
		{"duplicate name", services.ErrDuplicateName, http.StatusConflict, services.ErrDuplicateName.Error()},
		{"user exists", services.ErrUserExists, http.StatusConflict, services.ErrUserExists.Error()},
		{"not deletable", services.ErrGroupNotDeletable, http.StatusBadRequest, services.ErrGroupNotDeletable.Error()},
		{"protected", services.ErrGroupProtected, http.StatusBadRequest, services.ErrGroupProtected.Error()},
		{"in use", services.ErrGroupInUse, http.StatusBadRequest, services.ErrGroupInUse.Error()},
		{"last admin", services.ErrLastAdministrator, http.StatusBadRequest, services.ErrLastAdministrator.Error()},
		{"invalid catalog", fmt.Errorf("%w: bad", catalog.ErrInvalid), http.StatusBadRequest, "bad"},
		{"unexpected", errors.New("disk on fire"), http.StatusInternalServerError, "Failed to do it"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

			respondError(c, tt.err, "Failed to do it")

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantBody)
			if tt.wantCode == http.StatusInternalServerError {
				assert.NotContains(t, w.Body.String(), "disk on fire")
			}
		})
	}
}

func TestParseID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	for _, tt := range []struct {
		param string
		want  uint
		ok    bool
	}{
		{"42", 42, true},
		{"0", 0, false},
		{"-1", 0, false},
		{"abc", 0, false},
	} {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Params = gin.Params{{Key: "id", Value: tt.param}}

		id, ok := parseID(c)
		assert.Equal(t, tt.ok, ok, tt.param)
		assert.Equal(t, tt.want, id, tt.param)
		if !ok {
			assert.Equal(t, http.StatusBadRequest, w.Code)
		}
	}
}

func TestParseDate(t *testing.T) {
	d, err := parseDate("")
	require.NoError(t, err)
	assert.True(t, d.IsZero())

	d, err = parseDate("2026-03-14")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), d)

	_, err = parseDate("14/03/2026")
	assert.Error(t, err)
}
