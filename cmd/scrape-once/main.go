package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"dealhunter/internal/cache"
	"dealhunter/internal/catalog"
	"dealhunter/internal/database"
	"dealhunter/internal/executor"
	"dealhunter/internal/models"
	"dealhunter/internal/monitor"
	"dealhunter/internal/services/webstore"
)

var (
	dbURL    = flag.String("db", "", "database connection string")
	itemID   = flag.Uint("item", 0, "tracked item id to scrape")
	retailer = flag.String("retailer", "", "limit the scrape to one retailer id")
	baseURL  = flag.String("base-url", "https://api.webstore.example.com", "storefront API base URL")
	apiKey   = flag.String("api-key", "", "storefront API key")
	timeout  = flag.Duration("timeout", 60*time.Second, "overall scrape timeout")
)

// logSink prints would-be purchases instead of executing them; a
// one-shot scrape never buys anything.
type logSink struct{}

func (logSink) Submit(intent executor.Intent) (*models.Purchase, error) {
	log.Printf("[ScrapeOnce] buy verdict: %s on %s at %.2f x%d (not executed)",
		intent.ItemName, intent.RetailerID, intent.Price, intent.Quantity)
	return nil, nil
}

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if *itemID == 0 {
		log.Fatal("[ScrapeOnce] -item is required")
	}

	db, err := database.Initialize(*dbURL)
	if err != nil {
		log.Fatalf("[ScrapeOnce] database initialization failed: %v", err)
	}

	provider := webstore.NewClient(*baseURL, *apiKey)
	defer provider.Close()

	orch := monitor.New(catalog.New(db), provider, cache.NewStore(), logSink{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	results, err := orch.ManualScrape(ctx, *itemID, *retailer)
	if err != nil {
		log.Fatalf("[ScrapeOnce] scrape failed: %v", err)
	}

	for _, res := range results {
		if !res.Success {
			log.Printf("  %s: probe failed: %s", res.RetailerID, res.Error)
			continue
		}
		price := "no price"
		if res.Price != nil {
			price = fmt.Sprintf("%.2f", *res.Price)
		}
		log.Printf("  %s: %s, in stock: %v (%s)", res.RetailerID, price, res.InStock, res.Title)
	}
}
