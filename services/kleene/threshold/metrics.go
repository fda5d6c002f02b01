// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package threshold

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	coercionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kleene_threshold_coercions_total",
		Help: "Results forced to UNKNOWN because of low confidence",
	})

	updatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kleene_threshold_updates_total",
		Help: "Threshold updates by correctness signal",
	}, []string{"signal"})

	varianceWideningsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kleene_threshold_variance_widenings_total",
		Help: "Times the fusion variance threshold was widened",
	})
)
