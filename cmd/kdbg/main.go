/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Kalynt contributors. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package main

import (
	"context"
	"os"

	"github.com/Hermes-Lekkas/Kalynt-sub001/internal/commands"
	"github.com/Hermes-Lekkas/Kalynt-sub001/pkg/logger"
	"github.com/Hermes-Lekkas/Kalynt-sub001/pkg/resiliency"
)

const (
	errCommandError = 1
	errSetup        = 2
	errPanic        = 3
)

func main() {
	log := logger.New("kdbg")

	defer func() {
		panicErr := resiliency.MakePanicError(recover(), log.Logger)
		if panicErr != nil {
			os.Stderr.WriteString(panicErr.Error() + "\n")
			log.Flush()
			os.Exit(errPanic)
		}
	}()

	ctx := context.Background()

	root, err := commands.NewRootCmd(log)
	if err != nil {
		commands.ErrorExit(log, err, errSetup)
	}

	err = root.ExecuteContext(ctx)
	if err != nil {
		commands.ErrorExit(log, err, errCommandError)
	} else {
		log.Flush()
	}
}
