package charset

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodec_Windows1251(t *testing.T) {
	c, err := New("windows-1251")
	require.NoError(t, err)
	assert.Equal(t, "windows-1251", c.Name())

	encoded := c.Encode("Иванов")
	assert.Equal(t, []byte{0xC8, 0xE2, 0xE0, 0xED, 0xEE, 0xE2}, []byte(encoded))

	decoded, err := c.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, "Иванов", decoded)
}

func TestCodec_EncodeReplacesUnsupported(t *testing.T) {
	c, err := New("cp1251")
	require.NoError(t, err)

	encoded := c.Encode("Пётр ✓")
	decoded, err := c.Decode(encoded)
	require.NoError(t, err)
	assert.Contains(t, decoded, "Пётр ")
	assert.NotContains(t, decoded, "✓")
}

func TestCodec_UTF8IsIdentity(t *testing.T) {
	for _, label := range []string{"", "utf-8", "UTF8"} {
		c, err := New(label)
		require.NoError(t, err)
		assert.Equal(t, UTF8, c.Name())
		assert.Equal(t, "Пётр", c.Encode("Пётр"))

		var buf bytes.Buffer
		_, err = c.NewWriter(&buf).Write([]byte("Пётр"))
		require.NoError(t, err)
		assert.Equal(t, "Пётр", buf.String())
	}
}

func TestCodec_DecodeMap(t *testing.T) {
	c, err := New("windows-1251")
	require.NoError(t, err)

	got, err := c.DecodeMap(map[string]string{"name": c.Encode("Ильич"), "sum": "10"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"name": "Ильич", "sum": "10"}, got)
}

func TestCodec_NewWriter(t *testing.T) {
	c, err := New("windows-1251")
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = c.NewWriter(&buf).Write([]byte("Дог"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0xC4, 0xEE, 0xE3}, buf.Bytes())
}

func TestNew_Unsupported(t *testing.T) {
	_, err := New("klingon-8")
	assert.Error(t, err)
}
