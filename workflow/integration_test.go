package workflow_test

import (
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mmdatafocus/books_ledger/config"
	"github.com/mmdatafocus/books_ledger/ledgertest"
	"github.com/mmdatafocus/books_ledger/models"
	"github.com/mmdatafocus/books_ledger/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs posting and period close against MySQL and Redis so SELECT ... FOR UPDATE,
// the Redis account locks and GET_LOCK are exercised for real.
func TestIntegration_MySQLRedis_PostingAndClose(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not found in PATH")
	}

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })
	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "ledger_test")
	t.Setenv("REDIS_ADDRESS", "127.0.0.1:"+redisPort)

	ledgertest.UseConfig(t, *config.DefaultLedgerConfig())
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	require.NotNil(t, db)
	require.NoError(t, models.MigrateTable(db))

	ctx := ledgertest.Context("biz-integration")
	config.ConnectRedisWithRetry(ctx)
	require.NotNil(t, config.GetRedisLock())
	require.NoError(t, config.GetRedisDB().Ping(ctx).Err())
	t.Cleanup(func() { _ = config.CloseRedis() })

	chart := ledgertest.SeedChart(t, ctx, db)
	_, err := models.GenerateFiscalYear(ctx, db, 2024, time.January)
	require.NoError(t, err)

	cash := chart.ID("1010")
	const n = 20
	drafts := make([]*models.JournalEntry, n)
	for i := range drafts {
		credit := chart.ID("4000")
		if i%2 == 1 {
			credit = chart.ID("4900")
		}
		drafts[i] = ledgertest.Draft(t, ctx, db, ledgertest.Date(2024, 1, 1+i),
			ledgertest.Dr(cash, 25), ledgertest.Cr(credit, 25))
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for _, d := range drafts {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			_, err := workflow.PostJournalEntry(ctx, db, id, "")
			errs <- err
		}(d.ID)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	balance, err := models.BalanceAsOf(ctx, db, cash, ledgertest.Date(2024, 1, 31))
	require.NoError(t, err)
	ledgertest.RequireDecimal(t, 25*n, balance, "cash")

	// Two closes race; GET_LOCK lets exactly one write snapshots.
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, _, err := workflow.ClosePeriod(ctx, db, ledgertest.Date(2024, 1, 31), "")
			results <- err
		}()
	}
	var closeErrs []error
	for i := 0; i < 2; i++ {
		if err := <-results; err != nil {
			closeErrs = append(closeErrs, err)
		}
	}
	require.Len(t, closeErrs, 1)
	assert.ErrorIs(t, closeErrs[0], models.ErrPeriodAlreadyClosed)

	late := ledgertest.Draft(t, ctx, db, ledgertest.Date(2024, 2, 1), ledgertest.Dr(cash, 5), ledgertest.Cr(chart.ID("4000"), 5))
	_, err = workflow.PostJournalEntry(ctx, db, late.ID, "")
	require.NoError(t, err)
	_, err = models.CreateJournalEntry(ctx, db, &models.NewJournalEntry{
		EntryDate:   ledgertest.Date(2024, 1, 31),
		Description: "backdated",
		Lines:       []models.NewJournalEntryLine{ledgertest.Dr(cash, 5), ledgertest.Cr(chart.ID("4000"), 5)},
	})
	require.ErrorIs(t, err, models.ErrPeriodClosed)

	pending, err := models.ListLedgerEvents(ctx, db, models.OutboxPublishStatusPending, 0)
	require.NoError(t, err)
	assert.Len(t, pending, n+2)
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("ledger-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := dockerRun("exec", name, "redis-cli", "ping"); err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("ledger-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=ledger_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent"); err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// "127.0.0.1:49154\n"
	m := regexp.MustCompile(`:(\d+)`).FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	b, err := exec.Command("docker", args...).CombinedOutput()
	return string(b), err
}
