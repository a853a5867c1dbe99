// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshal_SortsKeysAtEveryDepth(t *testing.T) {
	v := map[string]any{
		"zeta":  1,
		"alpha": map[string]any{"b": true, "a": nil},
		"mid":   []any{map[string]any{"y": "1", "x": "2"}},
	}

	got, err := Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":{"a":null,"b":true},"mid":[{"x":"2","y":"1"}],"zeta":1}`, string(got))
}

func TestMarshal_StructFieldOrderIrrelevant(t *testing.T) {
	type ab struct {
		A int    `json:"a"`
		B string `json:"b"`
	}
	type ba struct {
		B string `json:"b"`
		A int    `json:"a"`
	}

	equal, err := Equal(ab{A: 1, B: "x"}, ba{B: "x", A: 1})
	require.NoError(t, err)
	assert.True(t, equal)
}

func TestMarshal_PreservesLargeIntegers(t *testing.T) {
	got, err := Marshal(map[string]any{"n": uint64(1<<63 + 1)})
	require.NoError(t, err)
	assert.Equal(t, `{"n":9223372036854775809}`, string(got))
}

func TestMarshal_NoHTMLEscaping(t *testing.T) {
	got, err := Marshal(map[string]string{"k": "<a&b>"})
	require.NoError(t, err)
	assert.Equal(t, `{"k":"<a&b>"}`, string(got))
}

func TestHash_SeparatorsCannotCollide(t *testing.T) {
	// Naive "a|b" concatenation would make these collide.
	h1, err := Hash([]string{"a|b", "c"})
	require.NoError(t, err)
	h2, err := Hash([]string{"a", "b|c"})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)

	h3, err := Hash(map[string]string{"k": `v","x":"y`})
	require.NoError(t, err)
	h4, err := Hash(map[string]string{"k": "v", "x": "y"})
	require.NoError(t, err)
	assert.NotEqual(t, h3, h4)
}

func TestHash_CoversNestedCollections(t *testing.T) {
	base := map[string]any{"inventory": []string{"sword", "shield"}}
	reordered := map[string]any{"inventory": []string{"shield", "sword"}}

	h1, err := Hash(base)
	require.NoError(t, err)
	h2, err := Hash(reordered)
	require.NoError(t, err)

	assert.Len(t, h1, HashLength)
	assert.NotEqual(t, h1, h2, "element order is content")
}

func TestHash_Unmarshalable(t *testing.T) {
	_, err := Hash(map[string]any{"f": func() {}})
	require.Error(t, err)
}
