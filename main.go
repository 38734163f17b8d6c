package main

import (
	"log"
)

func main() {
	cfg := LoadConfig()

	db, err := InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to init database: %v", err)
	}
	defer db.Close()

	matcher := NewGlossaryMatcher(db, NewMemoryTermCache())
	gate := NewRateGate(cfg.RequestsPerMinute, nil)
	notifier := NewNotifier(cfg)
	orch := NewOrchestrator(db, cfg, gate, matcher, notifier)
	runner := NewBatchRunner(db, cfg, matcher, orch)

	log.Println("Starting Localization QA Bot...")
	if _, err := StartQAScheduler(cfg, runner); err != nil {
		log.Fatalf("QA scheduler error: %v", err)
	}

	select {}
}
