// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package threshold provides the adaptive decision threshold that decides
// when a low-confidence ternary result is coerced to UNKNOWN.
//
// Model:
//
//	θ         decision threshold in (0, 1)
//	α, β      Beta-style success/failure counters, seeded from θ
//	k         sigmoid steepness
//	midpoint  sigmoid midpoint, always equal to the current θ
//	table     101 samples of 1/(1+exp(-k(x-midpoint))) for x in [0, 1]
//
//	Coerce(v, c):
//	  c >= θ or disabled      → v
//	  1 - table(c) > 0.8      → UNKNOWN
//	  otherwise               → v
//
//	Update(ok):
//	  α++ or β++
//	  θ = 0.9·θ + 0.1·α/(α+β)
//	  midpoint = θ, table regenerated
//
// A second 101-entry table maps reading variance to a fusion weight;
// it is rebuilt whenever the variance threshold widens.
//
// Thread Safety:
//
//	Writers serialize on a mutex and publish an immutable snapshot
//	(θ, midpoint, both tables) through an atomic pointer. Readers never
//	lock and never observe a torn (θ, table) pair, though a reader racing
//	an update may see either side of it.
//
// Callers own controllers explicitly; there is no package-level instance.
// Inject Static or a disabled Adaptive to freeze adaptation in tests.
package threshold
