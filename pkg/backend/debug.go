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

import "github.com/kadirpekel/replaygate/pkg/datastore"

// NewDebugBackend returns a Backend that resolves every submission
// synchronously and immediately, with no throttling and no batching —
// grounded on batch_backend.py's DebugBatchBackend, a stand-in the
// Python original used so tests never have to wait on a real batch
// round trip. A SyncBackend with no throttle already has exactly that
// property, so this is a thin named constructor rather than a new
// type: callers exercising Agent.AskLLM in a test get a backend that
// reads clearly as "the debug one" without caring that it happens to
// share its implementation with the sync strategy.
func NewDebugBackend(store datastore.Store) Backend {
	return NewSyncBackend(store, nil, false, NewMetrics())
}
