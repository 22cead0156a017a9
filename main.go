// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"github.com/geocoug/pg-upsert/cmd"
	"github.com/geocoug/pg-upsert/internal/pgerrors"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)

		kind, ok := pgerrors.KindOf(err)
		if !ok {
			os.Exit(1)
		}
		os.Exit(kind.ExitCode())
	}
}
