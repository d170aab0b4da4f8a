// Copyright 2025 The Pipebench Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package loadgen

import (
	"fmt"
	"math/rand"
)

const (
	// Pipes is the number of pipes exposed by the service. Pipe ids are 1-based.
	Pipes = 3

	// DefaultServerAddr is used when no server address argument is given.
	DefaultServerAddr = "127.0.0.1:8080"

	tokenLength = 16
	tokenChars  = "abcdefghijklmnopqrstuvwxyz"
)

// Modifiers lists every modifier the service knows about.
var Modifiers = []string{"slow", "double", "min", "shuffle", "reverse"}

// BaseURL builds the API base URL for a host:port address. The address is
// not validated; a bogus one surfaces later as a failed request.
func BaseURL(serverAddr string) string {
	return fmt.Sprintf("http://%s/api", serverAddr)
}

// NewToken generates a bearer token for users that did not bring their own.
func NewToken(rng *rand.Rand) string {
	b := make([]byte, tokenLength)
	for i := range b {
		b[i] = tokenChars[rng.Intn(len(tokenChars))]
	}
	return string(b)
}
