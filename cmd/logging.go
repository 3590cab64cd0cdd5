package cmd

import (
	"github.com/urfave/cli"
	"github.com/yenchenlin/orthographic-ngp/log"
)

var logger = log.New("orthographic-ngp")

func setupLogging(ctx *cli.Context) {
	if ctx.GlobalBool("v") {
		log.SetLevel(log.Info)
	}

	if ctx.GlobalBool("vv") {
		log.SetLevel(log.Debug)
	}
}
