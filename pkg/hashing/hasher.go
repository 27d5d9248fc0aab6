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

// Package hashing computes the Doc-Hash: a deterministic content
// fingerprint over instructions plus an ordered list of documents, used as
// the cache key's content-addressed component.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/kadirpekel/replaygate/pkg/docs"
)

// ErrInvalidDocument is returned when Compute encounters a Document whose
// Kind it does not recognize.
var ErrInvalidDocument = errors.New("hashing: unsupported document variant")

// Compute returns the lowercase hex-encoded SHA-256 digest over
// instructions (if present) followed by each document's type-specific
// bytes, in order (function-call variants are prefixed by a literal type
// tag; text, role-tagged text and images are not). Equal inputs always yield equal output;
// it never consults wall-clock time, session, or sequence state (I4).
func Compute(instructions docs.Instructions, documents []docs.Document) (string, error) {
	h := sha256.New()

	if instructions.Present {
		h.Write([]byte(instructions.Text))
	}

	for _, d := range documents {
		if err := writeDocument(h, d); err != nil {
			return "", err
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// DocumentHash returns the hex-encoded SHA-256 digest of a single
// document, taken over the same bytes Compute writes for that document
// into the overall doc hash. Used for provenance bookkeeping (pairing each
// document with its own hash), not for cache lookups.
func DocumentHash(d docs.Document) (string, error) {
	h := sha256.New()
	if err := writeDocument(h, d); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

type byteWriter interface {
	Write(p []byte) (int, error)
}

func writeDocument(h byteWriter, d docs.Document) error {
	switch d.Kind {
	case docs.KindText:
		h.Write([]byte(d.Text))

	case docs.KindRoleText:
		h.Write([]byte(d.Role))
		h.Write([]byte(d.Text))

	case docs.KindImage:
		// Images use their encoded bytes directly; the media type is not
		// hashed so that re-encoding to an equivalent container doesn't
		// change identity beyond what the caller already decided by
		// supplying the same bytes.
		h.Write(d.ImageBytes)

	case docs.KindFunctionCallRequest:
		h.Write([]byte("function_call"))
		h.Write([]byte(d.PrecedingText))
		for _, call := range d.Calls {
			h.Write([]byte(fmt.Sprintf("%s(%s)#%s", call.Name, call.Arguments, call.CallID)))
		}

	case docs.KindFunctionCallOutput:
		h.Write([]byte("function_call_output"))
		h.Write([]byte(d.Content))
		h.Write([]byte(d.CallID))

	default:
		return ErrInvalidDocument
	}

	return nil
}
