// Package ir provides the shared value and model representations for navq.
//
// This package contains type definitions and canonical encoding only. All
// other internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - IRValue is a sealed sum type; runtime rows use plain Go values
//   - Canonical JSON (RFC 8785 ordering, NFC strings) is the only encoding
//     used for content-addressed identity
//   - All JSON tags use snake_case
package ir
