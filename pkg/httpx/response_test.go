package httpx

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestOK_JSONEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	OK(c, map[string]int{"n": 1})

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Success bool           `json:"success"`
		Data    map[string]int `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, 1, body.Data["n"])
}

func TestWriteObject_Protobuf(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.Header.Set("Content-Type", "application/x-protobuf")

	msg, err := structpb.NewStruct(map[string]interface{}{"sequence_number": 42})
	require.NoError(t, err)
	WriteObject(c, http.StatusOK, msg)

	decoded := &structpb.Struct{}
	require.NoError(t, proto.Unmarshal(w.Body.Bytes(), decoded))
	assert.Equal(t, 42.0, decoded.Fields["sequence_number"].GetNumberValue())
}

func TestAbort(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	Abort(c, http.StatusForbidden, "admin only")

	assert.True(t, c.IsAborted())
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.JSONEq(t, `{"success":false,"message":"admin only"}`, w.Body.String())
}
