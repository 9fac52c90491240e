package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ocecdr/cdrpush/internal/batch"
	"github.com/ocecdr/cdrpush/internal/config"
	"github.com/ocecdr/cdrpush/internal/domain"
	"github.com/ocecdr/cdrpush/internal/infra/postgresql"
	"github.com/ocecdr/cdrpush/internal/mailer"
	"github.com/ocecdr/cdrpush/internal/observability"
	"github.com/ocecdr/cdrpush/internal/publish"
	"github.com/ocecdr/cdrpush/internal/queue"
	"github.com/ocecdr/cdrpush/internal/repository"
)

type options struct {
	docs     string
	jobs     string
	failed   bool
	docType  string
	all      bool
	expand   bool
	treatNew bool
	name     string
	pubType  string
	email    string
}

func main() {
	var opts options
	flag.StringVar(&opts.docs, "docs", "", "comma-separated document ids to re-push")
	flag.StringVar(&opts.jobs, "jobs", "", "comma-separated prior job ids whose documents to re-push")
	flag.BoolVar(&opts.failed, "failed", false, "with -jobs, take only the documents those jobs failed to transfer")
	flag.StringVar(&opts.docType, "doctype", "", "document type to re-push")
	flag.BoolVar(&opts.all, "all", false, "with -doctype, take every publishable document, not just those on the gateway")
	flag.BoolVar(&opts.expand, "expand", false, "widen the selection with linked documents")
	flag.BoolVar(&opts.treatNew, "new", false, "treat every document as new to the gateway")
	flag.StringVar(&opts.name, "name", "", "job name (default Republish)")
	flag.StringVar(&opts.pubType, "pubtype", string(domain.PubTypeHotfixExport), "publication type for the push job")
	flag.StringVar(&opts.email, "email", "", "address for the job report")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel, "republish")
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	jobID, err := run(cfg, logger, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "republish failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("queued push job %d\n", jobID)
}

func run(cfg *config.Config, logger *zap.Logger, opts options) (int64, error) {
	criteria, err := buildCriteria(opts)
	if err != nil {
		return 0, err
	}

	pubType, err := domain.ParsePubTypeFromString(opts.pubType)
	if err != nil {
		return 0, err
	}

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN, 4)
	if err != nil {
		return 0, fmt.Errorf("postgres initialization failed: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return 0, fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	manager, err := batch.NewManager(repository.NewGormJobRepo(db), logger)
	if err != nil {
		return 0, err
	}
	selector, err := publish.NewSelector(repository.NewGormDocRepo(db), logger)
	if err != nil {
		return 0, err
	}
	republisher, err := publish.NewRepublisher(selector, manager, logger)
	if err != nil {
		return 0, err
	}

	if notices, err := mailer.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom, logger); err == nil {
		republisher.SetMailer(notices)
	} else {
		logger.Warn("mailer unavailable, failure notices disabled", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	jobID, err := republisher.Republish(ctx, publish.RepublishRequest{
		Criteria:    criteria,
		ExpandLinks: opts.expand,
		TreatNew:    opts.treatNew,
		JobName:     opts.name,
		PubType:     pubType,
		Email:       opts.email,
	})
	if err != nil {
		return 0, err
	}

	announceJob(ctx, cfg, logger, jobID, opts)
	return jobID, nil
}

// announceJob tells the daemon a job is waiting. Best effort: the job record
// is authoritative and the daemon also polls.
func announceJob(ctx context.Context, cfg *config.Config, logger *zap.Logger, jobID int64, opts options) {
	broker, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Warn("broker unavailable, job event not published", zap.Error(err))
		return
	}
	publisher := queue.NewRabbitMQPublisher(broker)
	defer publisher.Close()

	name := opts.name
	if name == "" {
		name = "Republish"
	}
	msg := queue.JobMessage{
		JobID:         jobID,
		Name:          name,
		Command:       "batchjob",
		Event:         queue.EventJobQueued,
		CorrelationID: uuid.NewString(),
		OccurredAt:    time.Now().UTC(),
	}
	if err := publisher.Publish(ctx, queue.JobsQueueName, msg); err != nil {
		logger.Warn("failed to publish job event", zap.Int64("job_id", jobID), zap.Error(err))
	}
}

func buildCriteria(opts options) (publish.Criteria, error) {
	criteria := publish.Criteria{
		FailedOnly:     opts.failed,
		DocType:        strings.TrimSpace(opts.docType),
		AllPublishable: opts.all,
	}

	ids, err := parseIDList(opts.docs)
	if err != nil {
		return publish.Criteria{}, fmt.Errorf("invalid -docs value: %w", err)
	}
	for _, id := range ids {
		criteria.DocIDs = append(criteria.DocIDs, int(id))
	}

	jobIDs, err := parseIDList(opts.jobs)
	if err != nil {
		return publish.Criteria{}, fmt.Errorf("invalid -jobs value: %w", err)
	}
	criteria.JobIDs = jobIDs

	return criteria, nil
}

func parseIDList(raw string) ([]int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var ids []int64
	for _, item := range strings.Split(raw, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(item), 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("%q is not a positive integer", item)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
