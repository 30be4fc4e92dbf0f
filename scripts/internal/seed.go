package internal

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meterline/meterline/internal/api/dto"
	"github.com/meterline/meterline/internal/cache"
	"github.com/meterline/meterline/internal/config"
	keygen "github.com/meterline/meterline/internal/idempotency"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/metrics"
	"github.com/meterline/meterline/internal/postgres"
	"github.com/meterline/meterline/internal/repository"
	"github.com/meterline/meterline/internal/service"
	"github.com/meterline/meterline/internal/types"
)

// SeedDemoOrganisation provisions a development organisation end to end:
// organisation, project with a fresh API key, billing config, and global
// pricing plus minimum-charge rules. The API key is printed once.
func SeedDemoOrganisation() error {
	cfg, err := config.NewConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.NewLogger(cfg)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}

	db, err := postgres.NewDB(cfg, log)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer db.Close()

	client := postgres.NewClient(db, log)
	memCache := cache.NewInMemoryCache(cfg)

	params := service.ServiceParams{
		Logger:            log,
		Config:            cfg,
		DB:                client,
		Cache:             memCache,
		Metrics:           metrics.NewMetrics(),
		KeyGen:            keygen.NewGenerator(),
		OrganisationRepo:  repository.NewOrganisationRepository(client, log, memCache),
		ProjectRepo:       repository.NewProjectRepository(client, log, memCache),
		PricingRepo:       repository.NewPricingRepository(client, log),
		MinimumChargeRepo: repository.NewMinimumChargeRepository(client, log),
		BillingConfigRepo: repository.NewBillingConfigRepository(client, log, memCache),
		AuditLogRepo:      repository.NewAuditLogRepository(client, log),
	}

	organisations := service.NewOrganisationService(params)
	projects := service.NewProjectService(params)
	pricing := service.NewPricingService(params)

	ctx := types.SetUserID(context.Background(), "seed-script")

	org, err := organisations.Create(ctx, &dto.CreateOrganisationRequest{
		Name:     "Demo Organisation",
		Currency: "INR",
	})
	if err != nil {
		return fmt.Errorf("create organisation: %w", err)
	}
	ctx = types.SetOrganisationID(ctx, org.ID)

	project, err := projects.Create(ctx, &dto.CreateProjectRequest{Name: "production"})
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}

	if _, err := pricing.UpsertBillingConfig(ctx, &dto.UpsertBillingConfigRequest{
		TaxRate:              decimal.RequireFromString("0.18"),
		Currency:             "INR",
		PaymentTermsDays:     15,
		MinimumChargeEnabled: true,
	}); err != nil {
		return fmt.Errorf("create billing config: %w", err)
	}

	effectiveFrom := time.Now().UTC().AddDate(0, 0, -30)

	rules := []*dto.CreatePricingRuleRequest{
		{MetricName: "api_calls", Unit: "count", PricePerUnit: decimal.RequireFromString("0.001"), Currency: "INR", EffectiveFrom: effectiveFrom},
		{MetricName: "storage", Unit: "gb_hours", PricePerUnit: decimal.RequireFromString("0.05"), Currency: "INR", EffectiveFrom: effectiveFrom},
		{MetricName: "compute", Unit: "cpu_seconds", PricePerUnit: decimal.RequireFromString("0.0002"), Currency: "INR", EffectiveFrom: effectiveFrom},
	}
	for _, rule := range rules {
		if _, err := pricing.CreateRule(ctx, rule); err != nil {
			return fmt.Errorf("create pricing rule %s/%s: %w", rule.MetricName, rule.Unit, err)
		}
	}

	if _, err := pricing.CreateMinimumCharge(ctx, &dto.CreateMinimumChargeRequest{
		MinimumAmount: decimal.RequireFromString("1000"),
		Currency:      "INR",
		EffectiveFrom: effectiveFrom,
	}); err != nil {
		return fmt.Errorf("create minimum charge: %w", err)
	}

	fmt.Println("Seed completed")
	fmt.Printf("  organisation_id: %s\n", org.ID)
	fmt.Printf("  project_id:      %s\n", project.ID)
	fmt.Printf("  api_key:         %s (store it now; only the hash is kept)\n", project.APIKey)
	return nil
}
