package json

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalToBufferTrimsNewline(t *testing.T) {
	buf, err := MarshalToBuffer(map[string]interface{}{"name": "a<b", "config": map[string]int{"tasks.max": 1}})
	require.NoError(t, err)
	defer PutBuffer(buf)

	assert.Equal(t, `{"config":{"tasks.max":1},"name":"a<b"}`, buf.String())
}

func TestDecode(t *testing.T) {
	var out struct {
		Connector struct {
			State string `json:"state"`
		} `json:"connector"`
	}
	require.NoError(t, Decode(strings.NewReader(`{"connector":{"state":"RUNNING"}}`), &out))
	assert.Equal(t, "RUNNING", out.Connector.State)
}
