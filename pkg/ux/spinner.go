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
	"fmt"
	"sync"
	"time"
)

// SpinnerType selects the animation frames.
type SpinnerType int

const (
	SpinnerDots SpinnerType = iota
	SpinnerTernary
	SpinnerCompass
)

var spinnerFrames = map[SpinnerType][]string{
	SpinnerDots:    {"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
	SpinnerTernary: {"F", "U", "T", "U"},
	SpinnerCompass: {"◐", "◓", "◑", "◒"},
}

const spinnerInterval = 80 * time.Millisecond

// Spinner animates a status line on the diagnostic stream. It is silent
// in machine mode so piped output stays clean.
//
// Thread Safety: Start, Stop and UpdateMessage are safe for concurrent use.
type Spinner struct {
	mu       sync.Mutex
	message  string
	spinType SpinnerType
	running  bool
	stop     chan struct{}
	done     chan struct{}
}

// NewSpinner creates a stopped spinner.
func NewSpinner(message string) *Spinner {
	return &Spinner{message: message, spinType: SpinnerDots}
}

// WithType sets the animation. Call before Start.
func (s *Spinner) WithType(t SpinnerType) *Spinner {
	s.spinType = t
	return s
}

// Start begins animating. A running spinner is left alone.
func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || GetPersonality().Level == PersonalityMachine {
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop(s.stop, s.done)
}

func (s *Spinner) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	frames := spinnerFrames[s.spinType]
	ticker := time.NewTicker(spinnerInterval)
	defer ticker.Stop()

	_, errOut := writers()
	for i := 0; ; i = (i + 1) % len(frames) {
		select {
		case <-stop:
			fmt.Fprint(errOut, "\r\033[K")
			return
		case <-ticker.C:
			s.mu.Lock()
			msg := s.message
			s.mu.Unlock()
			fmt.Fprintf(errOut, "\r%s %s", Styles.Highlight.Render(frames[i]), msg)
		}
	}
}

// Stop clears the line and waits for the animation to exit.
func (s *Spinner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stop, done := s.stop, s.done
	s.mu.Unlock()

	close(stop)
	<-done
}

// UpdateMessage replaces the status text.
func (s *Spinner) UpdateMessage(message string) {
	s.mu.Lock()
	s.message = message
	s.mu.Unlock()
}

// Running reports whether the animation is active.
func (s *Spinner) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// ProgressSpinner is a spinner with a current/total counter.
type ProgressSpinner struct {
	*Spinner
	label   string
	mu      sync.Mutex
	current int
	total   int
}

// NewProgressSpinner creates a stopped progress spinner.
func NewProgressSpinner(label string, total int) *ProgressSpinner {
	p := &ProgressSpinner{label: label, total: total}
	p.Spinner = NewSpinner(p.format(0))
	return p
}

func (p *ProgressSpinner) format(current int) string {
	return fmt.Sprintf("%s (%d/%d)", p.label, current, p.total)
}

// Increment advances the counter by one and returns the new value.
func (p *ProgressSpinner) Increment() int {
	p.mu.Lock()
	p.current++
	current := p.current
	p.mu.Unlock()
	p.UpdateMessage(p.format(current))
	return current
}

// Current returns the counter.
func (p *ProgressSpinner) Current() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}
