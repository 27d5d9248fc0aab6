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

// Package provider defines the narrow adapter contract (C5) the core
// consumes from each upstream LLM provider, plus a generic name-keyed
// registry for wiring adapters into a gateway. Concrete wire encoding for
// any real provider (OpenAI, Anthropic, Google, ...) is outside this
// repository's scope; only the interface and a test fake live here.
package provider

import (
	"context"

	"github.com/kadirpekel/replaygate/pkg/docs"
)

// FunctionCall is one function invocation found in a parsed response.
type FunctionCall struct {
	Name      string
	Arguments string
	CallID    string
}

// ParsedResponse is the provider-neutral record every adapter must reduce
// its raw wire response to.
type ParsedResponse struct {
	Text          string
	ResponseID    string
	CustomID      string
	Metadata      map[string]any
	FunctionCalls []FunctionCall
}

// Identity is the LLM Identity record: a short label plus its provider
// family and canonical model name.
type Identity struct {
	Label        string
	ProviderType string
	ModelName    string
}

// CommonQueryParameters is what the core hands an adapter for both
// synchronous and asynchronous submission.
type CommonQueryParameters struct {
	Instructions docs.Instructions
	Documents    []docs.Document
	LLM          Identity
	TextFormat   string
	Tools        []string
}

// BatchStatus is the outcome of downloading one batch result.
type BatchStatus string

const (
	BatchReady BatchStatus = "ready"
	BatchError BatchStatus = "error"
)

// BatchResult is one downloaded line from a completed (or failed) batch
// job, keyed back to its original call by CustomID, whether it is ready or
// errored.
type BatchResult struct {
	CustomID        string
	Status          BatchStatus
	RawOutput       []byte
	ParsedResponses []ParsedResponse
	ErrorMessage    string
	ErrorCode       int
}

// SyncAdapter is implemented by providers that support synchronous,
// caller-thread submission.
type SyncAdapter interface {
	PrepareSyncCall(ctx context.Context, params CommonQueryParameters) ([]byte, error)
}

// AsyncAdapter is implemented by providers that support concurrent,
// cancellable submission.
type AsyncAdapter interface {
	PrepareAsyncCall(ctx context.Context, params CommonQueryParameters) ([]byte, error)
}

// BatchAdapter is implemented by providers that support deferred batch
// submission.
type BatchAdapter interface {
	PrepareBatchCall(params CommonQueryParameters, customID string) ([]byte, error)
	SubmitBatch(ctx context.Context, lines [][]byte, modelName string) (batchUUID string, err error)
	DownloadBatch(ctx context.Context, batchUUID string) ([]BatchResult, error)
}

// Adapter is the full contract a provider may implement. A provider need
// only implement the sub-interfaces its execution strategies require;
// callers type-assert for the ones they need.
type Adapter interface {
	ProviderType() string
	DefaultIdentity() Identity
	ParseResponse(raw []byte) (ParsedResponse, error)
}

// IsCompatible reports whether an LLM identity's provider family matches
// this adapter's. AskLLM fails fast with agent.ErrProviderIncompatible
// otherwise.
func IsCompatible(a Adapter, id Identity) bool {
	return id.ProviderType == "" || id.ProviderType == a.ProviderType()
}
