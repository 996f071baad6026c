package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeWriter_JSONAndLevel(t *testing.T) {
	var buf bytes.Buffer
	InitializeWriter(&buf, "warn", "json")
	t.Cleanup(func() { defaultLogger = nil })

	Info("ignorado")
	ExternalServiceResult("ledger", "executeSale", errors.New("timeout"), "handle", 3)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "ledger", entry["service"])
	assert.Equal(t, "executeSale", entry["operation"])
	assert.Equal(t, "timeout", entry["error"])
}

func TestWithFlow(t *testing.T) {
	var buf bytes.Buffer
	InitializeWriter(&buf, "info", "text")
	t.Cleanup(func() { defaultLogger = nil })

	WithFlow("sale", "boat-1", "tx-1").Info("passo")
	out := buf.String()
	assert.Contains(t, out, "flow=sale")
	assert.Contains(t, out, "uuid=boat-1")
	assert.Contains(t, out, "transaction_id=tx-1")
}
