// rqhist runs one historical query against the configured provider and
// prints the normalized records as JSON lines, one per record.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"time"

	"github.com/joho/godotenv"

	"rqbridge/config"
	"rqbridge/datafeed"
	"rqbridge/logger"
	"rqbridge/models"
	"rqbridge/rqclient"
)

func main() {
	log := logger.GetLogger()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", config.DefaultPath, "Path to configuration file")
	symbol := flag.String("symbol", "", "Instrument code, e.g. 600000 or rb2510")
	exchange := flag.String("exchange", "", "Platform exchange, e.g. SSE or SHFE")
	interval := flag.String("interval", "d", "Bar interval: 1m, 1h, d, or tick")
	start := flag.String("start", "", "Range start, YYYY-MM-DD")
	end := flag.String("end", "", "Range end, YYYY-MM-DD")
	flag.Parse()

	if *symbol == "" || *exchange == "" || *start == "" || *end == "" {
		flag.Usage()
		os.Exit(2)
	}

	startTime, err := time.ParseInLocation("2006-01-02", *start, models.ChinaTZ)
	if err != nil {
		log.WithError(err).Error("invalid -start")
		os.Exit(2)
	}
	endTime, err := time.ParseInLocation("2006-01-02", *end, models.ChinaTZ)
	if err != nil {
		log.WithError(err).Error("invalid -end")
		os.Exit(2)
	}

	cfg, err := config.LoadConfig(config.ResolvePath(*configPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, "stderr", 0); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	ctx := context.Background()
	feed := datafeed.New(cfg, rqclient.New(cfg))

	req := models.HistoryRequest{
		Symbol:   *symbol,
		Exchange: models.Exchange(*exchange),
		Interval: models.Interval(*interval),
		Start:    startTime,
		End:      endTime,
	}

	enc := json.NewEncoder(os.Stdout)

	if req.Interval == models.IntervalTick {
		for _, tick := range feed.QueryTickHistory(ctx, req) {
			if err := enc.Encode(tick); err != nil {
				log.WithError(err).Error("encode tick")
				os.Exit(1)
			}
		}
		return
	}

	for _, bar := range feed.QueryBarHistory(ctx, req) {
		if err := enc.Encode(bar); err != nil {
			log.WithError(err).Error("encode bar")
			os.Exit(1)
		}
	}
}
