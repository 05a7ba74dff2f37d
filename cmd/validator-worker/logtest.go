package main

import (
	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"
)

// logTestCommand emits one line at every severity so an operator can
// confirm the configured log handler and verbosity before wiring up a
// collector.
var logTestCommand = &cli.Command{
	Name:  "logtest",
	Usage: "emit one line at every log level and exit",
	Action: func(_ *cli.Context) error {
		log.Trace("trace message")
		log.Debug("debug message")
		log.Info("info message")
		log.Warn("warn message")
		log.Error("error message")
		return nil
	},
}
