// Copyright Hostsnap, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package snapshot

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
)

// multisetDigest computes an order-independent digest of a record
// collection. Each record is hashed by its JSON encoding with FNV-1a and
// the per-record digests are combined with wrapping addition, so two
// collections digest equal iff they hold the same records with the same
// multiplicities, regardless of order. Hash collisions are possible but
// vanishingly unlikely, which is an accepted trade-off against comparing
// full record sets on every refresh.
func multisetDigest[T any](records []T) (uint64, error) {
	// Mix in the length so the empty collection digests differently
	// from nothing at all.
	sum := uint64(len(records))
	for i := range records {
		data, err := json.Marshal(records[i])
		if err != nil {
			return 0, fmt.Errorf("failed to encode record %d: %w", i, err)
		}
		h := fnv.New64a()
		h.Write(data)
		sum += h.Sum64()
	}
	return sum, nil
}
