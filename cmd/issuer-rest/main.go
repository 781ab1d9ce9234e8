/*
Copyright Educred Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"github.com/spf13/cobra"
	"github.com/trustbloc/logutil-go/pkg/log"

	"github.com/educred/issuer/cmd/issuer-rest/startcmd"
)

var logger = log.New("issuer-rest")

func main() {
	rootCmd := &cobra.Command{
		Use: "issuer-rest",
	}

	rootCmd.AddCommand(startcmd.NewStartCmd())

	if err := rootCmd.Execute(); err != nil {
		logger.Fatal("run issuer-rest", log.WithError(err))
	}
}
