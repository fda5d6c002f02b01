// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSpinner_MachineModeIsSilent(t *testing.T) {
	out, errOut := capture(t, PersonalityMachine)

	s := NewSpinner("working")
	s.Start()
	assert.False(t, s.Running())
	s.Stop()

	assert.Empty(t, out.String())
	assert.Empty(t, errOut.String())
}

func TestSpinner_AnimatesOnDiagnosticStream(t *testing.T) {
	out, errOut := capture(t, PersonalityStandard)

	s := NewSpinner("evaluating").WithType(SpinnerTernary)
	s.Start()
	s.Start()
	assert.True(t, s.Running())
	time.Sleep(3 * spinnerInterval)
	s.UpdateMessage("almost")
	time.Sleep(3 * spinnerInterval)
	s.Stop()
	s.Stop()

	assert.False(t, s.Running())
	assert.Empty(t, out.String())
	assert.Contains(t, errOut.String(), "evaluating")
	assert.Contains(t, errOut.String(), "almost")
	assert.Contains(t, errOut.String(), "\r\033[K")
}

func TestSpinner_Restart(t *testing.T) {
	capture(t, PersonalityStandard)

	s := NewSpinner("again")
	for range 3 {
		s.Start()
		s.Stop()
	}
	assert.False(t, s.Running())
}

func TestProgressSpinner_Increment(t *testing.T) {
	capture(t, PersonalityMachine)

	p := NewProgressSpinner("trees", 8)
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Increment()
		}()
	}
	wg.Wait()

	assert.Equal(t, 8, p.Current())
	assert.Equal(t, "trees (8/8)", p.message)
}
