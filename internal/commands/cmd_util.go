// Copyright (c) Kalynt contributors.
// Licensed under the MIT License.

package commands

import (
	"os"

	"github.com/Hermes-Lekkas/Kalynt-sub001/pkg/logger"
)

// ErrorExit logs the error, flushes the log sink, and exits with the given code.
func ErrorExit(log *logger.Logger, err error, exitCode int) {
	log.Error(err, "command failed")
	log.Flush()
	os.Exit(exitCode)
}
