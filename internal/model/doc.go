// Package model provides the data types shared by every progsync package.
//
// This package contains type definitions only. All other internal packages
// import model; model imports nothing internal.
//
// Key design constraints:
//   - Identity is immutable for a session's lifetime
//   - SectionCompletionRecords are append-only; only Durability may change
//   - All JSON tags use snake_case
//   - Timestamps are serialized in UTC so cached values are byte-stable
package model
