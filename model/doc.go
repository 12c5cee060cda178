// Package model defines core types used throughout textgo.
//
// # Identity Types
//
//   - DocID: Stable, caller-assigned document identifier (uint64)
//   - SegmentID: Unique identifier for a segment (uint64)
//   - Ordinal: Dense, segment-local document number (uint32)
//   - Version: Monotonic counter of published snapshots (uint64)
//   - Location: Physical address (SegmentID, Ordinal)
//
// # Data Types
//
//   - Document: DocID plus an ordered list of fields
//   - FieldValue: Text, Number, Bool or Date
//   - Hit: Search result (DocID, Score)
//
// # Document Builder
//
//	doc := model.NewDocument(42).
//	    Text("title", "hello world").
//	    Number("year", 2024).
//	    Build()
package model
