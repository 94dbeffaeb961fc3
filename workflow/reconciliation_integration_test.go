package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/collections_backend/config"
	"bitbucket.org/mmdatafocus/collections_backend/models"
	"bitbucket.org/mmdatafocus/collections_backend/utils"
	"bitbucket.org/mmdatafocus/collections_backend/whatsapp"
	"bitbucket.org/mmdatafocus/collections_backend/workflow"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func TestIngestionAndReconciliation_EndToEnd(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "collections_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()
	db := config.GetDB()

	master, err := models.CreateMaster(ctx, &models.NewMaster{
		Name:     "Sentreso Test",
		Email:    "ops@sentreso.test",
		Timezone: "Africa/Dakar",
	})
	if err != nil {
		t.Fatalf("create master: %v", err)
	}
	ctx = utils.SetMasterIdInContext(ctx, master.ID.String())

	// --- ingestion: same phone in three formats is one agent ---

	rows := []workflow.PaymentRow{
		{CustomerName: "Moussa Diop", PhoneNumber: "00221771234567", Amount: "5000", PaymentDate: "2026-03-01", Reference: "ING-001"},
		{CustomerName: "Moussa Diop", PhoneNumber: "+221771234567", Amount: "7500", PaymentDate: "2026-03-02", Reference: "ING-002"},
		{CustomerName: "Moussa Diop", PhoneNumber: "221771234567", Amount: "2500", PaymentDate: "2026-03-03", Reference: "ING-003"},
		{CustomerName: "Bad Row", PhoneNumber: "+221771234568", Amount: "abc", PaymentDate: "2026-03-03", Reference: "ING-BAD"},
	}
	results := workflow.IngestPayments(ctx, master, rows, nil, nil)
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	for i := 0; i < 3; i++ {
		if results[i].Error != "" {
			t.Fatalf("row %d failed: %s", i, results[i].Error)
		}
		if results[i].CollectionId == 0 {
			t.Fatalf("row %d missing collection id", i)
		}
	}
	if results[3].Error == "" {
		t.Fatal("malformed row must carry an error")
	}

	agents, err := models.GetAgents(ctx, nil)
	if err != nil {
		t.Fatalf("get agents: %v", err)
	}
	if len(agents) != 1 {
		t.Fatalf("expected 1 agent for the normalized phone, got %d", len(agents))
	}
	if agents[0].WhatsappNumber != "+221771234567" {
		t.Fatalf("expected normalized number, got %q", agents[0].WhatsappNumber)
	}

	// Ingested collections are paid with paid_at set and a closed match.
	c1, err := models.GetCollection(ctx, results[0].CollectionId)
	if err != nil {
		t.Fatalf("get collection: %v", err)
	}
	if c1.Status != models.CollectionStatusPaid {
		t.Fatalf("expected paid, got %q", c1.Status)
	}
	if c1.PaidAt == nil {
		t.Fatal("paid collection must have paid_at")
	}
	if len(c1.Notes) == 0 {
		t.Fatal("ingested collection must carry a provenance note")
	}

	unmatched, err := models.GetUnmatchedPayments(db, ctx, master.ID.String(), nil)
	if err != nil {
		t.Fatalf("get unmatched: %v", err)
	}
	if len(unmatched) != 0 {
		t.Fatalf("ingested payments must be matched, %d left open", len(unmatched))
	}

	// --- re-submitting the batch skips settled rows ---

	retry := workflow.IngestPayments(ctx, master, rows[:3], nil, nil)
	for i, res := range retry {
		if res.Error != "" {
			t.Fatalf("retry row %d failed: %s", i, res.Error)
		}
		if !res.AlreadyIngested {
			t.Fatalf("retry row %d must be skipped as already ingested", i)
		}
	}
	var collectionCount int64
	if err := db.Model(&models.Collection{}).
		Where("master_id = ?", master.ID.String()).
		Count(&collectionCount).Error; err != nil {
		t.Fatalf("count collections: %v", err)
	}
	if collectionCount != 3 {
		t.Fatalf("retry must not create collections: expected 3, got %d", collectionCount)
	}

	// --- matching engine ---

	agent, err := models.CreateAgent(ctx, &models.NewAgent{
		Name:           "Awa Ndiaye",
		WhatsappNumber: "+221779876543",
	})
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}

	// Two 5000 obligations with different due dates: the earliest-due one
	// must win. A 9000 obligation stays untouched by a 3000 payment.
	early, err := models.CreateCollection(ctx, &models.NewCollection{
		AgentId: agent.ID,
		Amount:  decimal.NewFromInt(5000),
		DueDate: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("create collection: %v", err)
	}
	late, err := models.CreateCollection(ctx, &models.NewCollection{
		AgentId: agent.ID,
		Amount:  decimal.NewFromInt(5000),
		DueDate: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("create collection: %v", err)
	}
	if _, err := models.CreateCollection(ctx, &models.NewCollection{
		AgentId: agent.ID,
		Amount:  decimal.NewFromInt(9000),
		DueDate: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("create collection: %v", err)
	}

	if _, err := models.RecordPayment(ctx, &models.NewPaymentMatch{
		AgentId:              agent.ID,
		Amount:               decimal.NewFromInt(5000),
		TransactionReference: "PAY-5000",
	}); err != nil {
		t.Fatalf("record payment: %v", err)
	}
	if _, err := models.RecordPayment(ctx, &models.NewPaymentMatch{
		AgentId:              agent.ID,
		Amount:               decimal.NewFromInt(3000),
		TransactionReference: "PAY-3000",
	}); err != nil {
		t.Fatalf("record payment: %v", err)
	}

	record, err := workflow.Reconcile(ctx, master.ID.String(), nil)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if record.Status != models.ReconciliationStatusCompleted {
		t.Fatalf("expected completed run, got %q", record.Status)
	}
	if record.TotalPayments != 2 || record.MatchedPayments != 1 || record.UnmatchedPayments != 1 {
		t.Fatalf("unexpected totals: total=%d matched=%d unmatched=%d",
			record.TotalPayments, record.MatchedPayments, record.UnmatchedPayments)
	}
	if record.TotalAmount.StringFixed(2) != "8000.00" {
		t.Fatalf("expected scanned amount 8000.00, got %s", record.TotalAmount.StringFixed(2))
	}

	earlyAfter, err := models.GetCollection(ctx, early.ID)
	if err != nil {
		t.Fatalf("get collection: %v", err)
	}
	if earlyAfter.Status != models.CollectionStatusPaid {
		t.Fatalf("earliest-due collection must be paid, got %q", earlyAfter.Status)
	}
	if earlyAfter.PaidAt == nil {
		t.Fatal("matched collection must have paid_at")
	}
	if earlyAfter.TransactionReference != "PAY-5000" {
		t.Fatalf("expected reference PAY-5000, got %q", earlyAfter.TransactionReference)
	}
	lateAfter, err := models.GetCollection(ctx, late.ID)
	if err != nil {
		t.Fatalf("get collection: %v", err)
	}
	if lateAfter.Status != models.CollectionStatusPending {
		t.Fatalf("later-due collection must stay pending, got %q", lateAfter.Status)
	}
	if lateAfter.PaidAt != nil {
		t.Fatal("pending collection must not have paid_at")
	}

	// --- re-run is a no-op ---

	rerun, err := workflow.Reconcile(ctx, master.ID.String(), nil)
	if err != nil {
		t.Fatalf("reconcile rerun: %v", err)
	}
	if rerun.MatchedPayments != 0 {
		t.Fatalf("rerun matched %d payments, expected 0", rerun.MatchedPayments)
	}
	if rerun.TotalPayments != 1 {
		t.Fatalf("rerun scanned %d payments, expected the single open 3000", rerun.TotalPayments)
	}

	// --- terminal statuses reject further transitions ---

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := workflow.AcquireAgentMutationLock(tx, master.ID.String(), agent.ID); err != nil {
			return err
		}
		defer workflow.ReleaseAgentMutationLock(tx, master.ID.String(), agent.ID)
		return earlyAfter.MarkPaid(tx, ctx, "PAY-AGAIN", models.PaymentMethodCash, "")
	})
	if !errors.Is(err, utils.ErrInvalidStateTransition) {
		t.Fatalf("expected ErrInvalidStateTransition, got %v", err)
	}
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return earlyAfter.Cancel(tx, ctx, "")
	})
	if !errors.Is(err, utils.ErrInvalidStateTransition) {
		t.Fatalf("expected ErrInvalidStateTransition on cancel, got %v", err)
	}

	// --- a deactivated agent who pays again is reactivated, not duplicated ---

	if _, err := models.DeactivateAgent(ctx, agents[0].ID); err != nil {
		t.Fatalf("deactivate agent: %v", err)
	}
	reactivated := workflow.IngestPayments(ctx, master, []workflow.PaymentRow{
		{CustomerName: "Moussa Diop", PhoneNumber: "+221771234567", Amount: "1000", PaymentDate: "2026-03-10", Reference: "ING-004"},
	}, nil, nil)
	if reactivated[0].Error != "" {
		t.Fatalf("ingest for deactivated agent failed: %s", reactivated[0].Error)
	}
	if reactivated[0].AgentId != agents[0].ID {
		t.Fatalf("expected reuse of agent %d, got %d", agents[0].ID, reactivated[0].AgentId)
	}
	agentAfter, err := models.GetAgent(ctx, agents[0].ID)
	if err != nil {
		t.Fatalf("get reactivated agent: %v", err)
	}
	if agentAfter.IsActive == nil || !*agentAfter.IsActive {
		t.Fatal("paying agent must be reactivated")
	}

	// --- recording the same transaction reference twice is idempotent ---

	first, err := models.RecordPayment(ctx, &models.NewPaymentMatch{
		AgentId:              agent.ID,
		Amount:               decimal.NewFromInt(4200),
		TransactionReference: "PAY-DUP",
	})
	if err != nil {
		t.Fatalf("record payment: %v", err)
	}
	second, err := models.RecordPayment(ctx, &models.NewPaymentMatch{
		AgentId:              agent.ID,
		Amount:               decimal.NewFromInt(4200),
		TransactionReference: "PAY-DUP",
	})
	if err != nil {
		t.Fatalf("repeat record payment: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("duplicate reference must return the existing row: %d vs %d", first.ID, second.ID)
	}

	// --- notes get consecutive sequence numbers ---

	noted, err := models.CreateCollection(ctx, &models.NewCollection{
		AgentId: agent.ID,
		Amount:  decimal.NewFromInt(1100),
		DueDate: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("create collection: %v", err)
	}
	if err := noted.AppendNote(db, ctx, "first note"); err != nil {
		t.Fatalf("append note: %v", err)
	}
	if err := noted.AppendNote(db, ctx, "second note"); err != nil {
		t.Fatalf("append note: %v", err)
	}
	notedAfter, err := models.GetCollection(ctx, noted.ID)
	if err != nil {
		t.Fatalf("get collection: %v", err)
	}
	if len(notedAfter.Notes) != 2 || notedAfter.Notes[0].Seq != 1 || notedAfter.Notes[1].Seq != 2 {
		t.Fatalf("expected notes with seq 1,2, got %+v", notedAfter.Notes)
	}

	// --- agent lookup by number resolves any accepted phone format ---

	byNumber, err := models.GetAgentByWhatsappNumber(ctx, master.ID.String(), "00221779876543")
	if err != nil {
		t.Fatalf("agent by number: %v", err)
	}
	if byNumber.ID != agent.ID {
		t.Fatalf("expected agent %d, got %d", agent.ID, byNumber.ID)
	}

	// --- reminders stamp the collection and record the send ---

	sender := &fakeSender{messageId: "wamid.test-123"}
	message, err := workflow.SendCollectionReminder(ctx, late.ID, sender)
	if err != nil {
		t.Fatalf("send reminder: %v", err)
	}
	if message.Status != models.MessageStatusSent {
		t.Fatalf("expected sent message, got %q", message.Status)
	}
	if message.MessageId != "wamid.test-123" {
		t.Fatalf("expected provider message id, got %q", message.MessageId)
	}
	if sender.textCalls != 1 {
		t.Fatalf("expected one text send without a configured template, got %d", sender.textCalls)
	}
	lateReminded, err := models.GetCollection(ctx, late.ID)
	if err != nil {
		t.Fatalf("get collection: %v", err)
	}
	if lateReminded.LastReminderSent == nil {
		t.Fatal("reminder must stamp last_reminder_sent")
	}

	// A gateway failure is recorded on the message, not surfaced as an error.
	failing := &fakeSender{err: errors.New("gateway unavailable")}
	failed, err := workflow.SendCollectionReminder(ctx, late.ID, failing)
	if err != nil {
		t.Fatalf("send reminder with failing gateway: %v", err)
	}
	if failed.Status != models.MessageStatusFailed {
		t.Fatalf("expected failed message, got %q", failed.Status)
	}
	if failed.ErrorMessage == "" {
		t.Fatal("failed message must record the gateway error")
	}
}

type fakeSender struct {
	messageId     string
	err           error
	textCalls     int
	templateCalls int
}

func (f *fakeSender) SendText(ctx context.Context, toNumber string, content string) (string, error) {
	f.textCalls++
	return f.messageId, f.err
}

func (f *fakeSender) SendTemplate(ctx context.Context, toNumber string, templateName string, languageCode string, params whatsapp.TemplateParams) (string, error) {
	f.templateCalls++
	return f.messageId, f.err
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("collections-test-redis-%d", time.Now().UnixNano())
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
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("collections-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=collections_test",
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
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
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
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
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
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
