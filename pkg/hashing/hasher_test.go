// Copyright 2025 The replaygate Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package hashing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/replaygate/pkg/docs"
)

func TestCompute_Purity(t *testing.T) {
	instr := docs.NewInstructions("be terse")
	d := []docs.Document{docs.Text("hello"), docs.RoleText(docs.RoleUser, "world")}

	h1, err := Compute(instr, d)
	require.NoError(t, err)
	h2, err := Compute(instr, d)
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
}

func TestCompute_OrderSensitive(t *testing.T) {
	instr := docs.Instructions{}
	a := []docs.Document{docs.Text("one"), docs.Text("two")}
	b := []docs.Document{docs.Text("two"), docs.Text("one")}

	ha, err := Compute(instr, a)
	require.NoError(t, err)
	hb, err := Compute(instr, b)
	require.NoError(t, err)

	assert.NotEqual(t, ha, hb)
}

func TestCompute_InstructionsAffectHash(t *testing.T) {
	d := []docs.Document{docs.Text("hi")}

	withInstr, err := Compute(docs.NewInstructions("x"), d)
	require.NoError(t, err)
	without, err := Compute(docs.Instructions{}, d)
	require.NoError(t, err)

	assert.NotEqual(t, withInstr, without)
}

func TestCompute_ImageBytesParticipate(t *testing.T) {
	d1 := []docs.Document{docs.Image("image/png", []byte{1, 2, 3})}
	d2 := []docs.Document{docs.Image("image/png", []byte{1, 2, 4})}

	h1, err := Compute(docs.Instructions{}, d1)
	require.NoError(t, err)
	h2, err := Compute(docs.Instructions{}, d2)
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
}

func TestCompute_FunctionCallVariants(t *testing.T) {
	req := docs.FunctionCallRequest("thinking", []docs.FunctionCall{{Name: "lookup", Arguments: `{"q":"x"}`, CallID: "c1"}})
	out := docs.FunctionCallOutput("c1", "result")

	hReq, err := Compute(docs.Instructions{}, []docs.Document{req})
	require.NoError(t, err)
	hOut, err := Compute(docs.Instructions{}, []docs.Document{out})
	require.NoError(t, err)

	assert.NotEqual(t, hReq, hOut)
}

func TestCompute_UnsupportedVariant(t *testing.T) {
	bad := docs.Document{Kind: docs.Kind(99)}
	_, err := Compute(docs.Instructions{}, []docs.Document{bad})
	require.ErrorIs(t, err, ErrInvalidDocument)
}
