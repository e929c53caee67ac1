package main

import (
	"time"

	"github.com/urfave/cli/v2"
)

var (
	globalFlags = []cli.Flag{
		&cli.PathFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Value:   "config.yaml",
			Usage:   "YAML configuration file; missing files fall back to defaults",
			EnvVars: []string{"PDARRAY_CONFIG"},
		},
		&cli.BoolFlag{
			Name:  "debug",
			Usage: "Debug level console logging",
		},
	}

	csvFlag = &cli.PathFlag{
		Name:  "csv",
		Usage: "CSV file with time,open,high,low,close columns",
	}
	requiredCSVFlag = &cli.PathFlag{
		Name:     "csv",
		Usage:    "CSV file with time,open,high,low,close columns",
		Required: true,
	}
	symbolFlag = &cli.StringFlag{
		Name:    "symbol",
		Usage:   "Read candles of this symbol from PostgreSQL",
		EnvVars: []string{"PDARRAY_SYMBOL"},
	}
	requiredSymbolFlag = &cli.StringFlag{
		Name:     "symbol",
		Usage:    "Symbol the candles belong to",
		Required: true,
		EnvVars:  []string{"PDARRAY_SYMBOL"},
	}
	periodFlag = &cli.StringFlag{
		Name:  "period",
		Value: "1m",
		Usage: "Period label of the stored candles",
	}
	fromFlag = &cli.TimestampFlag{
		Name:   "from",
		Usage:  "First candle open time (inclusive), 2006-01-02",
		Layout: "2006-01-02",
	}
	toFlag = &cli.TimestampFlag{
		Name:   "to",
		Usage:  "Last candle open time (exclusive), 2006-01-02",
		Layout: "2006-01-02",
	}
	keyLevelFlag = &cli.StringSliceFlag{
		Name:  "key-level",
		Usage: "Marker as index:price:high|low:label, e.g. 0:104.5:high:PDH",
	}
	redisFlag = &cli.BoolFlag{
		Name:  "redis",
		Usage: "Publish every event to the configured Redis channel",
	}
	subjectFlag = &cli.StringFlag{
		Name:  "subject",
		Value: "feeder",
		Usage: "Token subject",
	}
	ttlFlag = &cli.DurationFlag{
		Name:  "ttl",
		Value: 30 * 24 * time.Hour,
		Usage: "Token lifetime; 0 issues a token without expiry",
	}
	outputFlag = &cli.PathFlag{
		Name:  "output",
		Value: "config.yaml",
		Usage: "Where to write the sample configuration",
	}

	sourceFlags = []cli.Flag{csvFlag, symbolFlag, periodFlag, fromFlag, toFlag, keyLevelFlag}
)
