// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"log"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/netpoke/netpoke/internal/logger"
	"github.com/netpoke/netpoke/pkg/config"
	"github.com/netpoke/netpoke/pkg/netpoke"
)

// NewCmdRun creates a new run command
func NewCmdRun() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run netpoke",
		Long:  `netpoke will be started with the provided configuration`,
		Run:   run(),
	}
}

// run is the entry point to start netpoke
func run() func(cmd *cobra.Command, args []string) {
	return func(cmd *cobra.Command, args []string) {
		ctx, cancel := logger.NewContextWithLogger(context.Background())
		defer cancel()

		cfg := config.NewConfig()
		if err := viper.Unmarshal(cfg); err != nil {
			log.Panic(err)
		}

		if err := cfg.Validate(ctx); err != nil {
			log.Panic(err)
		}

		server, err := netpoke.New(cfg)
		if err != nil {
			log.Panic(err)
		}

		log.Println("running netpoke")
		if err := server.Run(ctx); err != nil {
			log.Panic(err)
		}
	}
}
