/*
 * @module service/init
 * @description Service bootstrap: database connection, migrations, global service wiring
 * @architecture Layered architecture - service layer
 * @documentReference dev_docs/backend_requirements.md
 * @stateFlow Runs at application startup before the API serves traffic
 * @rules The API only starts after every dependency initialized successfully
 * @dependencies gorm.io/gorm, gorm.io/driver/postgres
 * @refs dev_docs/model.md
 */

package service

import (
	"fmt"
	"log"
	"log/slog"
	"os"

	"nhlrecon-service/service/database"
	"nhlrecon-service/service/distributed_lock"
	"nhlrecon-service/service/events"
	"nhlrecon-service/service/facts"
	"nhlrecon-service/service/reconciliation"
	"nhlrecon-service/service/scheduler"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var (
	DB                       *gorm.DB
	GlobalRuleRegistry       *reconciliation.RuleRegistry
	GlobalOrchestrator       *reconciliation.Orchestrator
	GlobalDiscrepancyService *reconciliation.DiscrepancyService
	GlobalQualityScorer      *reconciliation.QualityScorer
	GlobalSummaryService     *reconciliation.SummaryService
	GlobalExportService      *reconciliation.ExportService
	GlobalFactResolver       facts.Resolver
	GlobalEventPublisher     *events.KafkaPublisher
	GlobalScheduler          *scheduler.Scheduler
	GlobalLock               distributed_lock.DistributedLock
)

func init() {
	initDatabase()
	runMigrations()
	initServices()
}

// initDatabase opens the postgres connection.
func initDatabase() {
	var dsn string

	// DATABASE_URL wins over the individual variables
	if databaseURL := os.Getenv("DATABASE_URL"); databaseURL != "" {
		dsn = databaseURL
	} else {
		host := getEnvWithDefault("DB_HOST", "localhost")
		port := getEnvWithDefault("DB_PORT", "5432")
		user := getEnvWithDefault("DB_USER", "postgres")
		password := getEnvWithDefault("DB_PASSWORD", "postgres")
		dbname := getEnvWithDefault("DB_NAME", "nhlrecon")
		sslmode := getEnvWithDefault("DB_SSLMODE", "disable")
		schema := getEnvWithDefault("DB_SCHEMA", "public")

		dsn = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s search_path=%s TimeZone=UTC",
			host, port, user, password, dbname, sslmode, schema)
	}

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}

	log.Println("database connected")
}

// getEnvWithDefault returns the env value or the default when unset.
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// runMigrations applies the schema and seeds the built-in rule catalog.
func runMigrations() {
	log.Println("running database migrations...")

	if err := database.AutoMigrate(DB); err != nil {
		log.Fatalf("database migration failed: %v", err)
	}
	log.Println("schema migration complete")

	if err := database.InitializeData(DB); err != nil {
		log.Fatalf("seeding built-in rules failed: %v", err)
	}
	log.Println("built-in rule seed complete")
}

// initServices wires the engine's service graph.
func initServices() {
	var err error
	GlobalLock, err = distributed_lock.NewRedisLock()
	if err != nil {
		// Single-instance deployments run fine without redis; the database
		// scope guard still enforces run exclusivity.
		slog.Warn("redis unavailable, running without distributed lock", "error", err)
		GlobalLock = nil
	}

	GlobalFactResolver = facts.NewDBResolver(DB)
	GlobalRuleRegistry = reconciliation.NewRuleRegistry(DB)
	GlobalDiscrepancyService = reconciliation.NewDiscrepancyService(DB)
	GlobalQualityScorer = reconciliation.NewQualityScorer(DB)
	GlobalSummaryService = reconciliation.NewSummaryService(DB, GlobalQualityScorer, GlobalDiscrepancyService)
	GlobalExportService = reconciliation.NewExportService(DB)

	GlobalEventPublisher = events.NewKafkaPublisher()

	var publisher reconciliation.RunEventPublisher
	if GlobalEventPublisher != nil {
		publisher = GlobalEventPublisher
	}
	GlobalOrchestrator = reconciliation.NewOrchestrator(
		DB, GlobalRuleRegistry, GlobalFactResolver,
		GlobalDiscrepancyService, GlobalQualityScorer,
		publisher, GlobalLock)

	GlobalScheduler = scheduler.New(GlobalOrchestrator, GlobalLock)
	if GlobalScheduler != nil {
		if err := GlobalScheduler.Start(); err != nil {
			log.Fatalf("starting validation scheduler failed: %v", err)
		}
	}

	log.Println("service initialization complete")
}
