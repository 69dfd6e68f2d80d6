// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"flag"
	"log"

	"github.com/relabs-tech/bci_runtime/internal/app"
	"github.com/relabs-tech/bci_runtime/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to bci.conf (defaults apply when empty)")
	flag.Parse()

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("config: %v", err)
	}

	log.Println("starting SSVEP BCI runtime")
	if err := app.RunBCI(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
