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

package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// DebugAdapter is a synchronous, in-memory test fake implementing
// SyncAdapter, AsyncAdapter, and BatchAdapter. It echoes each request's
// instructions/document text back as the response text, optionally via a
// fixed-response table keyed by that same text, so tests can assert
// cache-hit/miss behavior without a real upstream. Grounded on the Python
// original's DebugBatchBackend, which exists for the same reason.
type DebugAdapter struct {
	mu        sync.Mutex
	Responses map[string]string // prompt -> canned response; default echoes
	CallCount int

	// submitted batch lines, decoded and keyed by the batch UUID SubmitBatch
	// assigns.
	batches map[string][]batchLine
}

type batchLine struct {
	customID string
	prompt   string
}

// NewDebugAdapter constructs an empty DebugAdapter.
func NewDebugAdapter() *DebugAdapter {
	return &DebugAdapter{
		Responses: make(map[string]string),
		batches:   make(map[string][]batchLine),
	}
}

func (d *DebugAdapter) ProviderType() string { return "debug" }

func (d *DebugAdapter) DefaultIdentity() Identity {
	return Identity{Label: "debug-model", ProviderType: "debug", ModelName: "debug-model"}
}

func (d *DebugAdapter) promptOf(params CommonQueryParameters) string {
	var sb strings.Builder
	if params.Instructions.Present {
		sb.WriteString(params.Instructions.Text)
		sb.WriteString("|")
	}
	for _, doc := range params.Documents {
		sb.WriteString(doc.Text)
	}
	return sb.String()
}

func (d *DebugAdapter) respond(prompt string) string {
	if r, ok := d.Responses[prompt]; ok {
		return r
	}
	return prompt
}

// PrepareSyncCall implements SyncAdapter.
func (d *DebugAdapter) PrepareSyncCall(_ context.Context, params CommonQueryParameters) ([]byte, error) {
	d.mu.Lock()
	d.CallCount++
	d.mu.Unlock()
	return []byte(d.respond(d.promptOf(params))), nil
}

// PrepareAsyncCall implements AsyncAdapter; it resolves immediately.
func (d *DebugAdapter) PrepareAsyncCall(ctx context.Context, params CommonQueryParameters) ([]byte, error) {
	return d.PrepareSyncCall(ctx, params)
}

// PrepareBatchCall implements BatchAdapter: it encodes the custom_id and the
// prompt into an opaque line the debug SubmitBatch recognizes.
func (d *DebugAdapter) PrepareBatchCall(params CommonQueryParameters, customID string) ([]byte, error) {
	return []byte(customID + "\x00" + d.promptOf(params)), nil
}

// SubmitBatch implements BatchAdapter. It immediately "accepts" the batch
// and makes it available for download on the next call.
func (d *DebugAdapter) SubmitBatch(_ context.Context, lines [][]byte, _ string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	batchUUID := uuid.NewString()

	var parsed []batchLine
	for _, line := range lines {
		parts := strings.SplitN(string(line), "\x00", 2)
		if len(parts) != 2 {
			return "", fmt.Errorf("debug adapter: malformed batch line")
		}
		parsed = append(parsed, batchLine{customID: parts[0], prompt: parts[1]})
	}
	d.batches[batchUUID] = parsed
	return batchUUID, nil
}

// DownloadBatch implements BatchAdapter: every submitted batch is "ready"
// as soon as it's asked for, since this fake has no real network latency.
func (d *DebugAdapter) DownloadBatch(_ context.Context, batchUUID string) ([]BatchResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	lines, ok := d.batches[batchUUID]
	if !ok {
		return nil, fmt.Errorf("debug adapter: unknown batch %s", batchUUID)
	}

	results := make([]BatchResult, 0, len(lines))
	for _, line := range lines {
		results = append(results, BatchResult{
			CustomID: line.customID,
			Status:   BatchReady,
			ParsedResponses: []ParsedResponse{{
				Text:     d.respond(line.prompt),
				CustomID: line.customID,
			}},
		})
	}
	return results, nil
}

// ParseResponse implements Adapter: the raw bytes already are the text.
func (d *DebugAdapter) ParseResponse(raw []byte) (ParsedResponse, error) {
	return ParsedResponse{Text: string(raw)}, nil
}

var (
	_ SyncAdapter  = (*DebugAdapter)(nil)
	_ AsyncAdapter = (*DebugAdapter)(nil)
	_ BatchAdapter = (*DebugAdapter)(nil)
	_ Adapter      = (*DebugAdapter)(nil)
)
