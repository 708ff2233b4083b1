package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/invoices/backend/internal/interfaces/http/dto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bindTestRequest struct {
	Number  string   `json:"number" binding:"required,max=5"`
	Country string   `json:"country" binding:"omitempty,len=2"`
	Items   []string `json:"items" binding:"required,min=1"`
}

func newBindRouter() *gin.Engine {
	SetupValidator()
	router := gin.New()
	router.POST("/test", func(c *gin.Context) {
		var req bindTestRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			HandleBindError(c, err)
			return
		}
		c.Status(http.StatusOK)
	})
	return router
}

func decodeError(t *testing.T, body string) *dto.ErrorInfo {
	t.Helper()
	var resp dto.Response
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	require.NotNil(t, resp.Error)
	return resp.Error
}

func TestHandleBindError_FieldDetails(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{"number":"toolong","country":"ESP","items":[]}`))
	req.Header.Set("Content-Type", "application/json")
	newBindRouter().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	info := decodeError(t, w.Body.String())
	assert.Equal(t, dto.ErrCodeValidation, info.Code)

	fields := map[string]string{}
	for _, d := range info.Details {
		fields[d.Field] = d.Message
	}
	assert.Equal(t, "Must be at most 5 characters", fields["number"])
	assert.Equal(t, "Must be exactly 2 characters", fields["country"])
	assert.Equal(t, "Must contain at least 1 entries", fields["items"])
}

func TestHandleBindError_MalformedJSON(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{"number":`))
	req.Header.Set("Content-Type", "application/json")
	newBindRouter().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, dto.ErrCodeInvalidJSON, decodeError(t, w.Body.String()).Code)
}
