// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command kleene evaluates three-valued expression trees and fuses sensor
// readings with an adaptive confidence threshold.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AleutianAI/kleene/pkg/ux"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if closeErr := app.close(closeCtx); closeErr != nil && err == nil {
		err = closeErr
	}

	if err != nil {
		ux.Error(err.Error())
		cancel()
		os.Exit(exitCode(err))
	}
}
