package service

import (
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/meterline/meterline/internal/api/dto"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/testutil"
	"github.com/meterline/meterline/internal/types"
)

type PricingServiceSuite struct {
	testutil.BaseServiceTestSuite
	service PricingService
}

func TestPricingService(t *testing.T) {
	suite.Run(t, new(PricingServiceSuite))
}

func (s *PricingServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.service = NewPricingService(newTestParams(&s.BaseServiceTestSuite))
}

func (s *PricingServiceSuite) ruleRequest(org *string, price string) *dto.CreatePricingRuleRequest {
	return &dto.CreatePricingRuleRequest{
		OrganisationID: org,
		MetricName:     "api_calls",
		Unit:           "call",
		PricePerUnit:   decimal.RequireFromString(price),
		Currency:       "INR",
		EffectiveFrom:  time.Now().UTC().AddDate(0, 0, -1),
	}
}

func (s *PricingServiceSuite) TestCreateRuleForOwnOrganisation() {
	resp, err := s.service.CreateRule(s.GetContext(),
		s.ruleRequest(lo.ToPtr(testutil.TestOrganisationID), "0.001"))
	s.Require().NoError(err)
	s.Equal("api_calls", resp.MetricName)
	s.False(resp.IsGlobal())
	s.Nil(resp.EffectiveTo, "new rules are open-ended")
}

func (s *PricingServiceSuite) TestCreateRuleRejectsForeignOrganisation() {
	_, err := s.service.CreateRule(s.GetContext(), s.ruleRequest(lo.ToPtr("org_other"), "0.001"))
	s.Require().Error(err)
	s.True(ierr.IsPermissionDenied(err))
}

func (s *PricingServiceSuite) TestGlobalRuleNeedsOwnerRole() {
	// The suite context carries the owner role.
	_, err := s.service.CreateRule(s.GetContext(), s.ruleRequest(nil, "0.001"))
	s.Require().NoError(err)

	adminCtx := types.SetUserRole(s.GetContext(), types.UserRoleAdmin)
	_, err = s.service.CreateRule(adminCtx, s.ruleRequest(nil, "0.002"))
	s.Require().Error(err)
	s.True(ierr.IsPermissionDenied(err))
}

func (s *PricingServiceSuite) TestCreateRuleRejectsNegativePrice() {
	_, err := s.service.CreateRule(s.GetContext(),
		s.ruleRequest(lo.ToPtr(testutil.TestOrganisationID), "-0.001"))
	s.Require().Error(err)
	s.True(ierr.IsValidation(err))
}

func (s *PricingServiceSuite) TestListRulesIncludesGlobalRules() {
	_, err := s.service.CreateRule(s.GetContext(),
		s.ruleRequest(lo.ToPtr(testutil.TestOrganisationID), "0.001"))
	s.Require().NoError(err)
	_, err = s.service.CreateRule(s.GetContext(), s.ruleRequest(nil, "0.002"))
	s.Require().NoError(err)

	foreign := s.ruleRequest(lo.ToPtr("org_other"), "0.003").ToPricingRule()
	s.Require().NoError(s.GetStores().PricingRepo.Create(s.GetContext(), foreign))

	list, err := s.service.ListRules(s.GetContext())
	s.Require().NoError(err)
	s.Equal(2, list.Total, "own and global rules, never another organisation's")
}

func (s *PricingServiceSuite) TestCloseRuleEndsWindowWithoutEditingPrice() {
	created, err := s.service.CreateRule(s.GetContext(),
		s.ruleRequest(lo.ToPtr(testutil.TestOrganisationID), "0.001"))
	s.Require().NoError(err)

	closeAt := time.Now().UTC()
	resp, err := s.service.CloseRule(s.GetContext(), created.ID, closeAt)
	s.Require().NoError(err)
	s.Require().NotNil(resp.EffectiveTo)
	s.True(resp.EffectiveTo.Equal(closeAt))
	s.True(resp.PricePerUnit.Equal(decimal.RequireFromString("0.001")), "closing never rewrites the price")

	// The rule still prices instants inside its window.
	effective, err := s.GetStores().PricingRepo.ListEffective(
		s.GetContext(), testutil.TestOrganisationID, closeAt.Add(-time.Hour))
	s.Require().NoError(err)
	s.Len(effective, 1)

	effective, err = s.GetStores().PricingRepo.ListEffective(
		s.GetContext(), testutil.TestOrganisationID, closeAt)
	s.Require().NoError(err)
	s.Empty(effective, "the close instant itself is outside the half-open window")
}

func (s *PricingServiceSuite) TestCloseRuleTwiceRejected() {
	created, err := s.service.CreateRule(s.GetContext(),
		s.ruleRequest(lo.ToPtr(testutil.TestOrganisationID), "0.001"))
	s.Require().NoError(err)

	_, err = s.service.CloseRule(s.GetContext(), created.ID, time.Now().UTC())
	s.Require().NoError(err)

	_, err = s.service.CloseRule(s.GetContext(), created.ID, time.Now().UTC().Add(time.Hour))
	s.Require().Error(err)
	s.True(ierr.IsInvalidOperation(err))
}

func (s *PricingServiceSuite) TestCloseRuleBeforeWindowOpensRejected() {
	created, err := s.service.CreateRule(s.GetContext(),
		s.ruleRequest(lo.ToPtr(testutil.TestOrganisationID), "0.001"))
	s.Require().NoError(err)

	_, err = s.service.CloseRule(s.GetContext(), created.ID, created.EffectiveFrom.Add(-time.Hour))
	s.Require().Error(err)
	s.True(ierr.IsValidation(err))
}

func (s *PricingServiceSuite) TestCreateMinimumCharge() {
	resp, err := s.service.CreateMinimumCharge(s.GetContext(), &dto.CreateMinimumChargeRequest{
		OrganisationID: lo.ToPtr(testutil.TestOrganisationID),
		MinimumAmount:  decimal.NewFromInt(1000),
		Currency:       "inr",
		EffectiveFrom:  time.Now().UTC().AddDate(0, 0, -1),
	})
	s.Require().NoError(err)
	s.Equal("INR", resp.Currency)
	s.True(resp.MinimumAmount.Equal(decimal.NewFromInt(1000)))
}

func (s *PricingServiceSuite) TestUpsertBillingConfigDefaultsPaymentTerms() {
	resp, err := s.service.UpsertBillingConfig(s.GetContext(), &dto.UpsertBillingConfigRequest{
		TaxRate:  decimal.RequireFromString("0.18"),
		Currency: "INR",
	})
	s.Require().NoError(err)
	s.Equal(s.GetConfig().Billing.PaymentTermsDays, resp.PaymentTermsDays)

	got, err := s.service.GetBillingConfig(s.GetContext())
	s.Require().NoError(err)
	s.Equal(testutil.TestOrganisationID, got.OrganisationID)
	s.True(got.TaxRate.Equal(decimal.RequireFromString("0.18")))
}

func (s *PricingServiceSuite) TestUpsertBillingConfigRejectsTaxRateOverOne() {
	_, err := s.service.UpsertBillingConfig(s.GetContext(), &dto.UpsertBillingConfigRequest{
		TaxRate: decimal.RequireFromString("1.5"),
	})
	s.Require().Error(err)
	s.True(ierr.IsValidation(err))
}

func (s *PricingServiceSuite) TestUpsertBillingConfigReplacesExisting() {
	_, err := s.service.UpsertBillingConfig(s.GetContext(), &dto.UpsertBillingConfigRequest{
		TaxRate:          decimal.RequireFromString("0.18"),
		PaymentTermsDays: 15,
	})
	s.Require().NoError(err)

	_, err = s.service.UpsertBillingConfig(s.GetContext(), &dto.UpsertBillingConfigRequest{
		TaxRate:          decimal.Zero,
		PaymentTermsDays: 30,
	})
	s.Require().NoError(err)

	got, err := s.service.GetBillingConfig(s.GetContext())
	s.Require().NoError(err)
	s.True(got.TaxRate.IsZero(), "zero tax rate is a valid override")
	s.Equal(30, got.PaymentTermsDays)
}
