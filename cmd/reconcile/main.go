package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"pawpool/internal/gateway"
	"pawpool/internal/ledger"
	"pawpool/internal/pool"
	"pawpool/internal/repository/postgres"
	"pawpool/pkg/config"
	"pawpool/pkg/logger"
)

// reconcile replays the pool ledger against Postgres and exits 1 when the
// recorded snapshots or payment placements disagree with it.
func main() {
	asJSON := flag.Bool("json", false, "print the report as JSON")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall deadline")
	flag.Parse()

	cfg := config.Load()
	log := logger.New("pool-reconcile")
	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL environment variable is required", nil)
	}

	db, err := sqlx.Connect("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatal("Failed to connect to database", map[string]interface{}{"error": err.Error()})
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	// Reconciliation never pays out; the gateway is wired but unused.
	gw := gateway.NewPayMongoClient(cfg.Gateway.BaseURL, cfg.Gateway.SecretKey, cfg.Gateway.RefundReason, cfg.Gateway.Timeout, log)
	svc := pool.NewService(postgres.NewPoolRepository(db), gw, nil, nil, pool.ConfigFrom(cfg), log)

	report, err := svc.Reconcile(ctx)
	if err != nil {
		log.Fatal("Reconciliation failed", map[string]interface{}{"error": err.Error()})
	}
	stats, err := svc.GetPoolStatistics(ctx, time.Now().UTC())
	if err != nil {
		log.Fatal("Failed to load pool statistics", map[string]interface{}{"error": err.Error()})
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(map[string]interface{}{"ok": report.OK(), "report": report, "statistics": stats}); err != nil {
			log.Fatal("Failed to encode report", map[string]interface{}{"error": err.Error()})
		}
	} else {
		printReport(report, stats)
	}

	if !report.OK() {
		os.Exit(1)
	}
}

func printReport(report *ledger.Report, stats *pool.PoolStatistics) {
	fmt.Println("POOL LEDGER RECONCILIATION")
	fmt.Printf("Time:               %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Printf("Entries checked:    %d\n", report.Checked)
	fmt.Printf("Recorded balance:   %s\n", report.Balance.StringFixed(2))
	fmt.Printf("Recomputed balance: %s\n", report.Recomputed.StringFixed(2))
	fmt.Printf("Frozen:             %s\n", stats.FrozenAmount.StringFixed(2))
	fmt.Printf("Pending releases:   %s\n", stats.PendingReleases.StringFixed(2))
	fmt.Printf("Platform revenue:   %s\n", stats.PlatformRevenue.StringFixed(2))

	for _, d := range report.Discrepancies {
		fmt.Printf("  entry %s seq=%d %s/%s recorded=%s expected=%s: %s\n",
			d.TransactionID, d.Sequence, d.Type, d.Status,
			d.Recorded.StringFixed(2), d.Expected.StringFixed(2), d.Reason)
	}
	for _, p := range report.Payments {
		fmt.Printf("  payment %s pool_status=%s expected one of %v\n", p.PaymentID, p.Actual, p.Expected)
	}

	if report.OK() {
		fmt.Println("Status: OK")
	} else {
		fmt.Println("Status: DISCREPANCIES FOUND")
	}
}
