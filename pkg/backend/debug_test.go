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

package backend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/replaygate/pkg/callid"
	"github.com/kadirpekel/replaygate/pkg/docs"
	"github.com/kadirpekel/replaygate/pkg/provider"
)

func TestDebugBackend_ResolvesImmediately(t *testing.T) {
	ds := openTestDatastore(t)
	be := NewDebugBackend(ds)

	adapter := provider.NewDebugAdapter()
	adapter.Responses["ping"] = "pong"

	id := callid.Identifier{AgentName: "writer", DocHash: "h1", SeqID: 0}
	params := provider.CommonQueryParameters{Documents: []docs.Document{docs.Text("ping")}}

	handle, err := be.SubmitQuery(context.Background(), adapter, params, id)
	require.NoError(t, err)
	require.NotNil(t, handle)

	v, err := handle.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "pong", v)
}
