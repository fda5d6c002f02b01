// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package eval evaluates ternary expression trees with confidence.
//
// Two evaluators share one combination path:
//
//	Scalar    post-order recursion on the calling goroutine
//	Parallel  a per-call pool of work-stealing goroutines
//
// For every internal node both apply the same steps:
//
//  1. Aggregate the children. AND stops at a FALSE left operand; OR stops
//     at a TRUE left operand whose confidence reaches θ; IMPLY stops when
//     not(left) is TRUE with confidence reaching θ. Otherwise the full
//     ternary rule and confidence rule apply.
//  2. Coerce the value through the controller.
//  3. Feed the correctness signal of the coerced result to the controller.
//
// Leaves are returned as stored and are never coerced.
//
// Parallel scheduling:
//
//	All reachable nodes are pushed onto worker 0's deque before any worker
//	starts, in reverse post-order, so worker 0's LIFO pops yield children
//	before parents and it never waits on a dependency. Other workers steal
//	from the top (parents first) and wait on pending children with the
//	backoff policy. A worker that finds every deque empty leaves the pool;
//	the last one to leave raises the termination flag. The caller waits
//	for the root result, ctx, or the timeout (5s by default), then joins
//	every worker before returning.
//
// Both evaluators write results back into the tree's internal nodes, and
// both always return a usable truth: failures come back as UNKNOWN with
// zero confidence together with a Status and an error.
package eval
