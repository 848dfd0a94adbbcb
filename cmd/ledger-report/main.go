package main

import (
	"flag"
	"log"
	"os"

	"dealhunter/internal/database"
	"dealhunter/internal/ledger"
	"dealhunter/internal/report"
)

var (
	dbURL = flag.String("db", "", "database connection string")
	out   = flag.String("out", "purchases.xlsx", "output file path")
	limit = flag.Int("limit", 0, "max purchases to export (0 = all)")
)

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)

	db, err := database.Initialize(*dbURL)
	if err != nil {
		log.Fatalf("[LedgerReport] database initialization failed: %v", err)
	}

	purchases, err := ledger.New(db).List(*limit)
	if err != nil {
		log.Fatalf("[LedgerReport] failed to load purchases: %v", err)
	}
	log.Printf("[LedgerReport] exporting %d purchases", len(purchases))

	f, err := os.Create(*out)
	if err != nil {
		log.Fatalf("[LedgerReport] failed to create %s: %v", *out, err)
	}
	defer f.Close()

	if err := report.WritePurchases(f, purchases); err != nil {
		log.Fatalf("[LedgerReport] export failed: %v", err)
	}

	log.Printf("[LedgerReport] wrote %s", *out)
}
