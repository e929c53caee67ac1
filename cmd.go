package main

import (
	"github.com/urfave/cli/v2"
)

var commands = []*cli.Command{
	{
		Name:   "replay",
		Usage:  "Stream historical candles through the engines and log every event",
		Action: replay,
		Flags:  append(sourceFlags, redisFlag),
	}, {
		Name:   "stats",
		Usage:  "Replay historical candles and print a summary per level type",
		Action: stats,
		Flags:  sourceFlags,
	}, {
		Name:   "serve",
		Usage:  "Run the HTTP API and event stream, optionally warmed up from history",
		Action: serve,
		Flags:  append(sourceFlags, redisFlag),
	}, {
		Name:   "import",
		Usage:  "Load a CSV file into the PostgreSQL candle table",
		Action: importCandles,
		Flags:  []cli.Flag{requiredCSVFlag, requiredSymbolFlag, periodFlag},
	}, {
		Name:   "token",
		Usage:  "Issue a bearer token for bar ingestion",
		Action: token,
		Flags:  []cli.Flag{subjectFlag, ttlFlag},
	}, {
		Name:   "init-config",
		Usage:  "Write a sample configuration file",
		Action: initConfig,
		Flags:  []cli.Flag{outputFlag},
	},
}
