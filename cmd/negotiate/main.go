// SPDX-License-Identifier: Apache-2.0

// Command negotiate performs HTTP requests authenticated with the Negotiate scheme.
package main

import (
	"github.com/golang-auth/go-sspi/cmd/negotiate/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		commands.Exit(err)
	}
}
