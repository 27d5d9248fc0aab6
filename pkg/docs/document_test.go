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

package docs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConstructors_SetExpectedKind(t *testing.T) {
	assert.Equal(t, KindText, Text("hi").Kind)
	assert.Equal(t, KindRoleText, RoleText(RoleUser, "hi").Kind)
	assert.Equal(t, KindImage, Image("image/png", []byte{1, 2}).Kind)
	assert.Equal(t, KindFunctionCallRequest, FunctionCallRequest("", nil).Kind)
	assert.Equal(t, KindFunctionCallOutput, FunctionCallOutput("call-1", "42").Kind)
}

func TestNewInstructions_EmptyStringIsAbsentNotPresentEmpty(t *testing.T) {
	absent := NewInstructions("")
	assert.False(t, absent.Present)
	assert.Empty(t, absent.Text)

	present := NewInstructions("be terse")
	assert.True(t, present.Present)
	assert.Equal(t, "be terse", present.Text)
}

func TestFunctionCallRequest_PreservesCallOrder(t *testing.T) {
	calls := []FunctionCall{
		{Name: "a", Arguments: "{}", CallID: "1"},
		{Name: "b", Arguments: "{}", CallID: "2"},
	}
	d := FunctionCallRequest("thinking...", calls)
	assert.Equal(t, "thinking...", d.PrecedingText)
	assert.Equal(t, calls, d.Calls)
}
