package reports_test

import (
	"context"
	"math/rand"
	"testing"

	"github.com/mmdatafocus/books_ledger/config"
	"github.com/mmdatafocus/books_ledger/ledgertest"
	"github.com/mmdatafocus/books_ledger/models"
	"github.com/mmdatafocus/books_ledger/models/reports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fixture struct {
	db    *gorm.DB
	ctx   context.Context
	chart ledgertest.Chart
}

func newFixture(t *testing.T, businessId string) fixture {
	t.Helper()
	ledgertest.UseConfig(t, *config.DefaultLedgerConfig())
	db := ledgertest.OpenDB(t)
	ctx := ledgertest.Context(businessId)
	return fixture{db: db, ctx: ctx, chart: ledgertest.SeedChart(t, ctx, db)}
}

func (f fixture) post(t *testing.T, month, day int, debitCode, creditCode string, amount int64) {
	t.Helper()
	ledgertest.Post(t, f.ctx, f.db, ledgertest.Date(2024, 1, 1).AddDate(0, month-1, day-1),
		ledgertest.Dr(f.chart.ID(debitCode), amount), ledgertest.Cr(f.chart.ID(creditCode), amount))
}

// trading posts a January opening and a February of trading with every kind of activity.
func (f fixture) trading(t *testing.T) {
	t.Helper()
	f.post(t, 1, 2, "1020", "3000", 2000) // capital introduced
	f.post(t, 1, 10, "1010", "4000", 100)

	f.post(t, 2, 1, "1010", "4000", 1000)
	f.post(t, 2, 2, "4010", "1010", 50)
	f.post(t, 2, 3, "5000", "1200", 300)
	f.post(t, 2, 4, "6010", "1010", 200)
	f.post(t, 2, 5, "6100", "1590", 30)
	f.post(t, 2, 6, "7000", "1020", 20)
	f.post(t, 2, 7, "1020", "4900", 40)
	f.post(t, 2, 8, "1020", "8000", 10)
	f.post(t, 2, 9, "1510", "1020", 500)
	f.post(t, 2, 10, "1020", "2500", 800)
}

func requireTotal(t *testing.T, s *reports.Statement, name string, expected int64) {
	t.Helper()
	amount, ok := s.Total(name)
	require.True(t, ok, "total %q present", name)
	ledgertest.RequireDecimal(t, expected, amount, name)
}

func TestBalanceSheet_OwnerFundedBusinessWithUnpaidExpense(t *testing.T) {
	f := newFixture(t, "biz-bs")
	f.post(t, 3, 1, "1010", "3000", 1000)
	f.post(t, 3, 2, "6010", "2010", 200)

	bs, err := reports.GetBalanceSheet(f.ctx, f.db, ledgertest.Date(2024, 3, 31), true)
	require.NoError(t, err)
	ledgertest.RequireDecimal(t, 1000, bs.TotalAssets, "assets")
	ledgertest.RequireDecimal(t, 200, bs.TotalLiabilities, "liabilities")
	ledgertest.RequireDecimal(t, 800, bs.TotalEquity, "equity")
	assert.True(t, bs.IsBalanced)
	requireTotal(t, &bs.Statement, reports.TotalLiabilitiesEquity, 1000)

	equity := bs.Section(reports.SectionEquity)
	require.NotNil(t, equity)
	last := equity.Lines[len(equity.Lines)-1]
	assert.Equal(t, "Current Year Earnings", last.Name)
	ledgertest.RequireDecimal(t, -200, last.Amount, "current year earnings")

	assets := bs.Section(reports.SectionAssets)
	require.Len(t, assets.Lines, 1, "empty subtrees are dropped")
	assert.Equal(t, "1000", assets.Lines[0].Code)
	require.Len(t, assets.Lines[0].Children, 1)
	assert.Equal(t, "1000.1010", assets.Lines[0].Children[0].Code)

	require.NotNil(t, bs.Comparative)
	assert.True(t, bs.Comparative.PeriodEnd.Equal(ledgertest.Date(2023, 3, 31)))
	ledgertest.RequireDecimal(t, 0, bs.Comparative.TotalAssets, "comparative assets")
	assert.True(t, bs.Comparative.IsBalanced)
}

func TestBalanceSheet_SplitsEarningsAtFiscalYearStart(t *testing.T) {
	f := newFixture(t, "biz-bs-fy")
	cfg := *config.DefaultLedgerConfig()
	cfg.FiscalYearStartMonth = 4
	ledgertest.UseConfig(t, cfg)

	f.post(t, 3, 15, "1010", "4000", 700) // fiscal 2023
	f.post(t, 5, 15, "1010", "4000", 250) // fiscal 2024
	f.post(t, 5, 20, "6020", "1010", 50)

	bs, err := reports.GetBalanceSheet(f.ctx, f.db, ledgertest.Date(2024, 6, 30), false)
	require.NoError(t, err)
	assert.Nil(t, bs.Comparative)
	equity := bs.Section(reports.SectionEquity)
	require.GreaterOrEqual(t, len(equity.Lines), 2)
	prior, current := equity.Lines[len(equity.Lines)-2], equity.Lines[len(equity.Lines)-1]
	ledgertest.RequireDecimal(t, 700, prior.Amount, "prior years' earnings")
	ledgertest.RequireDecimal(t, 200, current.Amount, "current year earnings")
	ledgertest.RequireDecimal(t, 900, bs.TotalAssets, "assets")
	assert.True(t, bs.IsBalanced)
}

func TestStatements_RandomBalancedLedgerStaysBalanced(t *testing.T) {
	f := newFixture(t, "biz-random")
	codes := []string{"1010", "1020", "1100", "1200", "1510", "1590", "2010", "2100", "2500",
		"3000", "3100", "4000", "4010", "4900", "5000", "6010", "6020", "6100", "7000", "8000", "8500"}
	rng := rand.New(rand.NewSource(20240229))
	for i := 0; i < 60; i++ {
		debit := codes[rng.Intn(len(codes))]
		credit := codes[rng.Intn(len(codes))]
		if debit == credit {
			continue
		}
		f.post(t, 1+rng.Intn(12), 1+rng.Intn(28), debit, credit, int64(1+rng.Intn(5000)))
	}

	for _, month := range []int{1, 6, 12} {
		asOf := ledgertest.Date(2024, 1, 1).AddDate(0, month, -1)
		bs, err := reports.GetBalanceSheet(f.ctx, f.db, asOf, false)
		require.NoError(t, err)
		assert.True(t, bs.IsBalanced, "balance sheet at %s", asOf)
		tb, err := reports.GetTrialBalance(f.ctx, f.db, asOf)
		require.NoError(t, err)
		assert.True(t, tb.IsBalanced, "trial balance at %s", asOf)
		assert.True(t, tb.TotalDebit.Equal(tb.TotalCredit))
	}
}

func TestIncomeStatement_SectionsComparativeAndYearToDate(t *testing.T) {
	f := newFixture(t, "biz-is")
	f.trading(t)

	is, err := reports.GetIncomeStatement(f.ctx, f.db, ledgertest.Date(2024, 2, 1), ledgertest.Date(2024, 2, 29), true, true)
	require.NoError(t, err)
	ledgertest.RequireDecimal(t, 950, is.Revenue, "revenue net of discounts")
	ledgertest.RequireDecimal(t, 300, is.CostOfGoodsSold, "cost of goods sold")
	ledgertest.RequireDecimal(t, 650, is.GrossProfit, "gross profit")
	ledgertest.RequireDecimal(t, 230, is.OperatingExpenses, "operating expenses")
	ledgertest.RequireDecimal(t, 420, is.OperatingIncome, "operating income")
	ledgertest.RequireDecimal(t, -30, is.OtherNet, "other net")
	ledgertest.RequireDecimal(t, 450, is.NetIncome, "net income")
	requireTotal(t, &is.Statement, reports.TotalNetIncome, 450)

	revenue := is.Section(reports.SectionRevenue)
	require.Len(t, revenue.Lines, 1)
	assert.Equal(t, "4000", revenue.Lines[0].Code)
	require.Len(t, revenue.Lines[0].Children, 1)
	ledgertest.RequireDecimal(t, -50, revenue.Lines[0].Children[0].Amount, "discounts")

	require.NotNil(t, is.Comparative)
	assert.True(t, is.Comparative.PeriodEnd.Equal(ledgertest.Date(2024, 1, 31)))
	ledgertest.RequireDecimal(t, 100, is.Comparative.NetIncome, "January net income")
	require.NotNil(t, is.YearToDate)
	assert.True(t, is.YearToDate.PeriodStart.Equal(ledgertest.Date(2024, 1, 1)))
	ledgertest.RequireDecimal(t, 550, is.YearToDate.NetIncome, "year to date")

	_, err = reports.GetIncomeStatement(f.ctx, f.db, ledgertest.Date(2024, 3, 1), ledgertest.Date(2024, 2, 1), false, false)
	require.ErrorIs(t, err, models.ErrInvalidDateRange)
}

func TestCashFlowStatement_ClosesAndClassifies(t *testing.T) {
	f := newFixture(t, "biz-cf")
	f.trading(t)

	cf, err := reports.GetCashFlowStatement(f.ctx, f.db, ledgertest.Date(2024, 2, 1), ledgertest.Date(2024, 2, 29), true)
	require.NoError(t, err)
	ledgertest.RequireDecimal(t, 2100, cf.BeginningCash, "beginning cash")
	ledgertest.RequireDecimal(t, 780, cf.Operating, "operating")
	ledgertest.RequireDecimal(t, -500, cf.Investing, "investing")
	ledgertest.RequireDecimal(t, 800, cf.Financing, "financing")
	ledgertest.RequireDecimal(t, 1080, cf.NetChange, "net change")
	ledgertest.RequireDecimal(t, 3180, cf.EndingCash, "ending cash")
	assert.True(t, cf.BeginningCash.Add(cf.NetChange).Equal(cf.EndingCash))
	requireTotal(t, &cf.Statement, reports.TotalEndingCash, 3180)

	operating := cf.Section(reports.SectionOperating)
	var names []string
	for _, l := range operating.Lines {
		names = append(names, l.Name)
	}
	assert.Equal(t, []string{"Net Income", "Change in Inventory", "Add back: Depreciation Expense"}, names)

	investing := cf.Section(reports.SectionInvesting)
	require.Len(t, investing.Lines, 1)
	assert.Equal(t, "1500", investing.Lines[0].Code, "equipment rolls up under fixed assets")

	// The preceding 29 days are Jan 3 to Jan 31, after the capital was introduced.
	require.NotNil(t, cf.Comparative)
	ledgertest.RequireDecimal(t, 2000, cf.Comparative.BeginningCash, "comparative beginning cash")
	ledgertest.RequireDecimal(t, 100, cf.Comparative.Operating, "comparative operating")
	ledgertest.RequireDecimal(t, 0, cf.Comparative.Financing, "comparative financing")
	ledgertest.RequireDecimal(t, 2100, cf.Comparative.EndingCash, "comparative ending cash")
}

func TestCashFlowStatement_RequiresCashAccount(t *testing.T) {
	ledgertest.UseConfig(t, *config.DefaultLedgerConfig())
	db := ledgertest.OpenDB(t)
	ctx := ledgertest.Context("biz-no-cash")
	_, err := models.CreateAccount(ctx, db, &models.NewAccount{Code: "4000", Name: "Sales", AccountType: models.AccountTypeRevenue})
	require.NoError(t, err)

	_, err = reports.GetCashFlowStatement(ctx, db, ledgertest.Date(2024, 1, 1), ledgertest.Date(2024, 1, 31), false)
	require.ErrorIs(t, err, models.ErrNoCashAccountConfigured)
}

func TestStatements_CancelledContextWritesNothing(t *testing.T) {
	f := newFixture(t, "biz-cancelled")
	f.trading(t)

	counts := func() (events, snapshots int64) {
		require.NoError(t, f.db.Model(&models.LedgerEventRecord{}).Count(&events).Error)
		require.NoError(t, f.db.Model(&models.AccountBalance{}).Count(&snapshots).Error)
		return events, snapshots
	}
	eventsBefore, snapshotsBefore := counts()

	ctx, cancel := context.WithCancel(f.ctx)
	cancel()

	bs, err := reports.GetBalanceSheet(ctx, f.db, ledgertest.Date(2024, 2, 29), true)
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, bs)

	cf, err := reports.GetCashFlowStatement(ctx, f.db, ledgertest.Date(2024, 2, 1), ledgertest.Date(2024, 2, 29), true)
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, cf)

	eventsAfter, snapshotsAfter := counts()
	assert.Equal(t, eventsBefore, eventsAfter, "no outbox rows")
	assert.Equal(t, snapshotsBefore, snapshotsAfter, "no balance snapshots")

	// Same inputs on a live context still report.
	_, err = reports.GetBalanceSheet(f.ctx, f.db, ledgertest.Date(2024, 2, 29), true)
	require.NoError(t, err)
}

func TestTrialBalanceAndAccountLedger(t *testing.T) {
	f := newFixture(t, "biz-tb")
	f.trading(t)

	tb, err := reports.GetTrialBalance(f.ctx, f.db, ledgertest.Date(2024, 2, 29))
	require.NoError(t, err)
	assert.True(t, tb.IsBalanced)
	rows := map[string]*reports.TrialBalanceRow{}
	for _, r := range tb.Rows {
		rows[r.Code] = r
	}
	require.Contains(t, rows, "1500.1590")
	ledgertest.RequireDecimal(t, 30, rows["1500.1590"].Credit, "accumulated depreciation")
	ledgertest.RequireDecimal(t, 850, rows["1000.1010"].Debit, "cash on hand")
	ledgertest.RequireDecimal(t, 1100, rows["4000"].Credit, "sales")
	assert.NotContains(t, rows, "6000.6020", "zero balances are omitted")

	ledger, err := reports.GetAccountLedger(f.ctx, f.db, f.chart.ID("1010"), ledgertest.Date(2024, 2, 1), ledgertest.Date(2024, 2, 29))
	require.NoError(t, err)
	ledgertest.RequireDecimal(t, 100, ledger.Opening, "opening")
	require.Len(t, ledger.Lines, 3)
	for i, expected := range []int64{1100, 1050, 850} {
		ledgertest.RequireDecimal(t, expected, ledger.Lines[i].Balance, "running balance")
	}
	assert.Equal(t, "test entry", ledger.Lines[0].Description)
	ledgertest.RequireDecimal(t, 850, ledger.Closing, "closing")
	ledgertest.RequireDecimal(t, 1000, ledger.Debit, "debits")
	ledgertest.RequireDecimal(t, 250, ledger.Credit, "credits")
}

func TestReports_IgnoreOtherBusinesses(t *testing.T) {
	f := newFixture(t, "biz-mine")
	f.post(t, 1, 5, "1010", "3000", 1000)

	other := ledgertest.Context("biz-theirs")
	ledgertest.SeedChart(t, other, f.db)
	tb, err := reports.GetTrialBalance(other, f.db, ledgertest.Date(2024, 12, 31))
	require.NoError(t, err)
	assert.Empty(t, tb.Rows)
	bs, err := reports.GetBalanceSheet(other, f.db, ledgertest.Date(2024, 12, 31), false)
	require.NoError(t, err)
	ledgertest.RequireDecimal(t, 0, bs.TotalAssets, "other business assets")
}
