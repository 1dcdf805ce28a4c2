// Command inspector prints an order's journal history or a market's
// reference data and top of book.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/goerajat/online-betting-sub000/internal/config"
	"github.com/goerajat/online-betting-sub000/internal/exchange"
	"github.com/goerajat/online-betting-sub000/internal/repository"
)

func main() {
	journalPath := flag.String("journal", "", "order journal file (default from config)")
	orderID := flag.String("order", "", "print the journal history of this order")
	ticker := flag.String("market", "", "print reference data for this market ticker")
	event := flag.String("event", "", "list the markets of this event ticker")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch {
	case *orderID != "":
		path := *journalPath
		if path == "" {
			cfg, err := config.Load()
			if err != nil {
				log.Fatalf("load config: %v", err)
			}
			path = cfg.Journal.Path
		}
		if path == "" {
			log.Fatal("no journal path configured")
		}
		printHistory(ctx, path, *orderID)
	case *ticker != "" || *event != "":
		cfg, err := config.Load()
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		client, err := exchange.NewClient(exchange.Options{BaseURL: baseURL(cfg), Timeout: cfg.Exchange.Timeout})
		if err != nil {
			log.Fatalf("create client: %v", err)
		}
		if *ticker != "" {
			m, err := client.GetMarket(ctx, *ticker)
			if err != nil {
				log.Fatalf("get market: %v", err)
			}
			dump(m)
			return
		}
		ev, err := client.GetEvent(ctx, *event)
		if err != nil {
			log.Fatalf("get event: %v", err)
		}
		fmt.Printf("%s  %s  (%d markets)\n", ev.EventTicker, ev.Title, len(ev.Markets))
		for _, m := range ev.Markets {
			fmt.Printf("  %-32s %-8s bid %s ask %s vol %d\n",
				m.Ticker, m.Status, cents(m.YesBid), cents(m.YesAsk), m.Volume)
		}
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func printHistory(ctx context.Context, path, orderID string) {
	j, err := repository.OpenOrderJournal(path)
	if err != nil {
		log.Fatalf("open journal: %v", err)
	}
	defer j.Close()

	entries, err := j.History(ctx, orderID)
	if err != nil {
		log.Fatalf("read journal: %v", err)
	}
	if len(entries) == 0 {
		fmt.Printf("no journal entries for %s\n", orderID)
		return
	}
	for _, e := range entries {
		o := e.Order
		fmt.Printf("%s  %-16s %-8s %s %s %s @ %s  remaining %d filled %d\n",
			e.RecordedAt.Format(time.RFC3339), e.Kind, o.Status, o.Ticker, o.Action, o.Side,
			cents(o.Price()), o.RemainingCount, o.FillCount)
	}
}

func baseURL(cfg *config.Config) string {
	if cfg.Exchange.BaseURL != "" {
		return cfg.Exchange.BaseURL
	}
	if cfg.Exchange.Env == "prod" {
		return exchange.ProdBaseURL
	}
	return exchange.DemoBaseURL
}

func cents(c int) string {
	return "$" + decimal.New(int64(c), -2).StringFixed(2)
}

func dump(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
