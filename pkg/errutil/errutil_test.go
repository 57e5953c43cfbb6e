package errutil_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ApexAZ/zentropy-sub008/pkg/errutil"
)

func TestLogError_WithOopsError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	err := oops.Code("SESSION_CREATE_FAILED").
		With("credential_id", "01HX").
		Errorf("insert failed")

	errutil.LogError(context.Background(), logger, "login failed", err, "op", "login")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "login failed", entry["msg"])
	assert.Equal(t, "SESSION_CREATE_FAILED", entry["code"])
	assert.Equal(t, "login", entry["op"])
	assert.Contains(t, entry, "context")
}

func TestLogError_WithStandardError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	errutil.LogError(context.Background(), logger, "logout failed", errors.New("connection reset"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "connection reset", entry["error"])
	assert.NotContains(t, entry, "code")
}

func TestCode(t *testing.T) {
	sentinel := errors.New("not found")

	assert.Equal(t, "CREDENTIAL_NOT_FOUND", errutil.Code(oops.Code("CREDENTIAL_NOT_FOUND").Wrap(sentinel)))
	assert.Equal(t, "", errutil.Code(sentinel))
	assert.ErrorIs(t, oops.Code("CREDENTIAL_NOT_FOUND").Wrap(sentinel), sentinel)
}
