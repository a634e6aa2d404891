// Copyright 2025-2026 The scanstream Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ingest

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScanRequestMissingFields(t *testing.T) {
	assert := assert.New(t)

	type testCase struct {
		payload string
		missing []string
	}
	cases := []testCase{
		{
			payload: `{"id":"s1","tagId":"t1","stationId":"st1","timestamp":1700000000000}`,
			missing: []string{},
		},
		{
			payload: `{}`,
			missing: []string{"id", "tagId", "stationId", "timestamp"},
		},
		{
			payload: `{"tagId":"t1"}`,
			missing: []string{"id", "stationId", "timestamp"},
		},
		// Empty strings and zero count as absent
		{
			payload: `{"id":"","tagId":"t1","stationId":"","timestamp":0}`,
			missing: []string{"id", "stationId", "timestamp"},
		},
		// Timestamp as a numeric string is accepted
		{
			payload: `{"id":"s1","tagId":"t1","stationId":"st1","timestamp":"1700000000000"}`,
			missing: []string{},
		},
		// Timestamp which can not coerce to a number counts as missing
		{
			payload: `{"id":"s1","tagId":"t1","stationId":"st1","timestamp":"yesterday"}`,
			missing: []string{"timestamp"},
		},
		{
			payload: `{"id":"s1","tagId":"t1","stationId":"st1","timestamp":null}`,
			missing: []string{"timestamp"},
		},
	}

	for idx, oneCase := range cases {
		var request scanRequest
		assert.Nilf(json.Unmarshal([]byte(oneCase.payload), &request), "Case %d", idx)
		assert.Equalf(oneCase.missing, request.missingFields(), "Case %d", idx)
	}
}

func TestEpochMillisCoercion(t *testing.T) {
	assert := assert.New(t)

	// Numeric values pass through
	val, ok := coerceEpochMillis(float64(1700000000000))
	assert.True(ok)
	assert.Equal(int64(1700000000000), val)

	// Numeric strings are parsed
	val, ok = coerceEpochMillis("1700000000000")
	assert.True(ok)
	assert.Equal(int64(1700000000000), val)

	// Timestamps far in the past or future are not second-guessed
	val, ok = coerceEpochMillis(float64(-1000))
	assert.True(ok)
	assert.Equal(int64(-1000), val)

	// Falsy and uncoercible values are rejected
	for _, bad := range []interface{}{nil, float64(0), "", "not-a-number", true} {
		_, ok := coerceEpochMillis(bad)
		assert.Falsef(ok, "value %v", bad)
	}
}
