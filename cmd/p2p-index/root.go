package main

import (
	"os"

	"p2p-index/pkg/logger"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "p2p-index",
	Short: "P2P content distribution",
	Long:  `A peer-to-peer content distribution network with a UDP directory ("index") service and TCP peer-to-peer downloads.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logger.Sugar.Error(err)
		os.Exit(1)
	}
}
