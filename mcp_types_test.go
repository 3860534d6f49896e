// Copyright (C) 2025 mcp-go authors. All rights reserved.
//
// mcp-go is licensed under the Apache License Version 2.0.

package mcp

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetaFlattensProgressToken(t *testing.T) {
	meta := &Meta{
		ProgressToken:    "tok-1",
		AdditionalFields: map[string]interface{}{"trace": "abc"},
	}
	data, err := json.Marshal(meta)
	require.NoError(t, err)

	var decoded Meta
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "tok-1", decoded.ProgressToken)
	assert.Equal(t, "abc", decoded.AdditionalFields["trace"])
	// progressToken must not leak into the custom fields.
	_, leaked := decoded.AdditionalFields["progressToken"]
	assert.False(t, leaked)
}

func TestNotificationParamsWireShape(t *testing.T) {
	params := NotificationParams{
		Meta:             map[string]interface{}{"progressToken": "tok-2"},
		AdditionalFields: map[string]interface{}{"level": "info"},
	}
	data, err := json.Marshal(params)
	require.NoError(t, err)
	assert.JSONEq(t, `{"_meta":{"progressToken":"tok-2"},"level":"info"}`, string(data))

	var decoded NotificationParams
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "tok-2", decoded.Meta["progressToken"])
	assert.Equal(t, "info", decoded.AdditionalFields["level"])

	// Empty params still marshal to an object, never null.
	empty, err := json.Marshal(NotificationParams{})
	require.NoError(t, err)
	assert.Equal(t, "{}", string(empty))
}

func TestDefaultRootsProviderNormalizesURIs(t *testing.T) {
	provider := NewDefaultRootsProvider()
	provider.AddRoot("/srv/project", "project")
	provider.AddRoot("relative/dir", "rel")
	provider.AddRoot("file:///already/uri", "uri")

	roots := provider.GetRoots()
	require.Len(t, roots, 3)
	assert.Equal(t, "file:///srv/project", roots[0].URI)
	assert.Equal(t, "file:///relative/dir", roots[1].URI)
	assert.Equal(t, "file:///already/uri", roots[2].URI)

	// Removal accepts the plain path form too.
	provider.RemoveRoot("/srv/project")
	roots = provider.GetRoots()
	require.Len(t, roots, 2)
	assert.Equal(t, "rel", roots[0].Name)

	// Callers get a copy, not the backing slice.
	roots[0].Name = "mutated"
	assert.Equal(t, "rel", provider.GetRoots()[0].Name)
}
