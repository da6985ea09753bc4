// cmd/tools/mailctl/main.go
//
// mailctl is the operator CLI for the mail engine. Sending commands spin up
// an in-process engine (queue, worker, transport) and block until the task
// reaches a terminal state; inspection commands read the shared status
// snapshot.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"event-mailer/internal/badge"
	"event-mailer/internal/common/config"
	"event-mailer/internal/common/database"
	"event-mailer/internal/common/logger"
	"event-mailer/internal/common/observability"
	"event-mailer/internal/mailer/ledger"
	"event-mailer/internal/mailer/notify"
	"event-mailer/internal/mailer/queue"
	"event-mailer/internal/mailer/render"
	"event-mailer/internal/mailer/transport"
	"event-mailer/internal/mailer/worker"
	"event-mailer/internal/models"
	"event-mailer/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		help()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "send":
		err = cmdSend(os.Args[2:])
	case "test":
		err = cmdTest(os.Args[2:])
	case "send-qr":
		err = cmdSendQR(os.Args[2:])
	case "status":
		err = cmdStatus(os.Args[2:])
	case "batch":
		err = cmdGrouped("batch", os.Args[2:])
	case "group":
		err = cmdGrouped("group", os.Args[2:])
	case "stats":
		err = cmdStats(os.Args[2:])
	case "prune":
		err = cmdPrune(os.Args[2:])
	case "cancel":
		err = cmdCancel(os.Args[2:])
	case "help", "-h", "--help":
		help()
	default:
		fmt.Printf("Unknown command: %s\n\n", os.Args[1])
		help()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func help() {
	fmt.Println(`mailctl - operator CLI for the event mail engine

Usage:
  mailctl send    -file request.json        Enqueue and deliver one email
  mailctl test    -recipient addr [...]     Send a diagnostic email
  mailctl send-qr -id TS-0042 [...]         Send a participant's QR badge
  mailctl status  -task <task_id>           Show one task's delivery record
  mailctl batch   -id <batch_id>            Show all tasks in a batch
  mailctl group   -id <group_id>            Show all tasks in a group
  mailctl stats                             Show aggregate delivery counts
  mailctl prune   -days 30                  Drop old sent/cancelled records
  mailctl cancel  -task <task_id>           Close out a stale queued record`)
}

// engine is a complete in-process delivery stack for one-shot sends.
type engine struct {
	cfg     *config.Config
	service *notify.Service
	ledger  *ledger.Ledger
	worker  *worker.Worker
	closers []func()
}

func buildEngine() (*engine, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log := logger.NewStructured(cfg.Logging.Level, cfg.Logging.Format)
	obs := observability.New("mailctl")

	e := &engine{cfg: cfg}
	e.closers = append(e.closers, obs.Shutdown)

	snapStore, closeStore, err := openSnapshotStore(cfg)
	if err != nil {
		return nil, err
	}
	if closeStore != nil {
		e.closers = append(e.closers, closeStore)
	}

	e.ledger = ledger.New(snapStore, log)
	if err := e.ledger.Restore(context.Background()); err != nil {
		return nil, err
	}

	var mailTransport transport.Transport
	if cfg.Mail.Provider == "ses" {
		mailTransport, err = transport.NewSESTransport(context.Background(), cfg.Mail.SES, log)
		if err != nil {
			return nil, err
		}
	} else {
		mailTransport = transport.NewSMTPTransport(cfg.Mail.SMTP, config.GetDuration(cfg.Engine.SendTimeout), log)
	}

	renderer, err := render.New()
	if err != nil {
		return nil, err
	}

	q := queue.New()
	e.service = notify.NewService(q, e.ledger, renderer, cfg.Site, cfg.Engine.MaxAttempts, log)
	e.worker = worker.New(q, e.ledger, mailTransport, obs, log, worker.Options{
		MaxAttempts:    cfg.Engine.MaxAttempts,
		DequeueTimeout: config.GetDuration(cfg.Engine.DequeueTimeout),
		SendTimeout:    config.GetDuration(cfg.Engine.SendTimeout),
		SaveInterval:   time.Duration(cfg.Engine.StatusSaveInterval) * time.Second,
	})
	e.worker.Start()
	return e, nil
}

func (e *engine) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.worker.Stop(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

// waitForTerminal polls the ledger until the task settles or the deadline
// passes, then prints the final record.
func (e *engine) waitForTerminal(taskID string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s := e.ledger.Get(taskID); s != nil && s.IsTerminal() {
			printJSON(s)
			if s.Status != models.StatusSent {
				return fmt.Errorf("task %s finished as %s", taskID, s.Status)
			}
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("task %s did not settle within %s", taskID, timeout)
}

func cmdSend(args []string) error {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	file := fs.String("file", "", "Path to an enqueue request JSON document")
	wait := fs.Duration("wait", 2*time.Minute, "How long to wait for delivery")
	fs.Parse(args)

	if *file == "" {
		return fmt.Errorf("-file is required")
	}
	doc, err := os.ReadFile(*file)
	if err != nil {
		return err
	}

	e, err := buildEngine()
	if err != nil {
		return err
	}
	defer e.close()

	taskID, err := e.service.EnqueueFromRequest(doc)
	if err != nil {
		return err
	}
	fmt.Printf("Queued: %s\n", taskID)
	return e.waitForTerminal(taskID, *wait)
}

func cmdTest(args []string) error {
	fs := flag.NewFlagSet("test", flag.ExitOnError)
	recipient := fs.String("recipient", "", "Recipient address")
	template := fs.String("template", "test_email", "Template name")
	subject := fs.String("subject", "", "Override subject")
	message := fs.String("message", "", "Override message body")
	wait := fs.Duration("wait", 2*time.Minute, "How long to wait for delivery")
	fs.Parse(args)

	if *recipient == "" {
		return fmt.Errorf("-recipient is required")
	}

	e, err := buildEngine()
	if err != nil {
		return err
	}
	defer e.close()

	result := e.service.SendTestEmail(*recipient, *template, *subject, *message, models.PriorityHigh, "")
	printJSON(result)
	if !result.Success {
		return fmt.Errorf("%s", result.Message)
	}
	return e.waitForTerminal(result.TaskID, *wait)
}

func cmdSendQR(args []string) error {
	fs := flag.NewFlagSet("send-qr", flag.ExitOnError)
	uniqueID := fs.String("id", "", "Participant unique id")
	email := fs.String("email", "", "Override recipient address")
	generate := fs.Bool("generate", false, "Generate the badge QR if missing")
	badgeDir := fs.String("badge-dir", "storage/badges", "Badge output directory")
	wait := fs.Duration("wait", 2*time.Minute, "How long to wait for delivery")
	fs.Parse(args)

	if *uniqueID == "" {
		return fmt.Errorf("-id is required")
	}

	e, err := buildEngine()
	if err != nil {
		return err
	}
	defer e.close()

	pg, err := database.NewPostgres(e.cfg.Database.Postgres)
	if err != nil {
		return err
	}
	defer pg.Close()

	ctx := context.Background()
	registrations := store.NewRegistrationStore(pg.DB)
	participant, err := registrations.GetParticipant(ctx, *uniqueID)
	if err != nil {
		return err
	}

	if participant.QRCodePath == "" && *generate {
		gen := badge.NewGenerator(*badgeDir, e.cfg.Site.EventName)
		path, err := gen.Generate(participant)
		if err != nil {
			return err
		}
		if err := registrations.SetQRCodePath(ctx, participant.UniqueID, path); err != nil {
			return err
		}
		participant.QRCodePath = path
		fmt.Printf("Generated badge: %s\n", path)
	}

	recipient := *email
	if recipient == "" {
		recipient = participant.Email
	}

	taskID, err := e.service.SendQRCode(recipient, participant, models.PriorityHigh, "")
	if err != nil {
		return err
	}
	fmt.Printf("Queued: %s\n", taskID)
	return e.waitForTerminal(taskID, *wait)
}

// openLedger loads the snapshot for read/maintenance commands without
// starting a worker.
func openLedger() (*ledger.Ledger, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	log := logger.NewStructured(cfg.Logging.Level, cfg.Logging.Format)

	snapStore, closeStore, err := openSnapshotStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	if closeStore == nil {
		closeStore = func() {}
	}

	l := ledger.New(snapStore, log)
	if err := l.Restore(context.Background()); err != nil {
		closeStore()
		return nil, nil, err
	}
	return l, closeStore, nil
}

func openSnapshotStore(cfg *config.Config) (ledger.SnapshotStore, func(), error) {
	if cfg.Engine.Snapshot.Backend == "redis" {
		redis, err := database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return nil, nil, err
		}
		return ledger.NewRedisStore(redis.Client, cfg.Engine.Snapshot.Key), func() { redis.Close() }, nil
	}
	return ledger.NewFileStore(cfg.Engine.Snapshot.Path), nil, nil
}

func cmdStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	taskID := fs.String("task", "", "Task id")
	fs.Parse(args)

	if *taskID == "" {
		return fmt.Errorf("-task is required")
	}

	l, closeFn, err := openLedger()
	if err != nil {
		return err
	}
	defer closeFn()

	s := l.Get(*taskID)
	if s == nil {
		return fmt.Errorf("no record for task %s", *taskID)
	}
	printJSON(s)
	return nil
}

func cmdGrouped(kind string, args []string) error {
	fs := flag.NewFlagSet(kind, flag.ExitOnError)
	id := fs.String("id", "", kind+" id")
	fs.Parse(args)

	if *id == "" {
		return fmt.Errorf("-id is required")
	}

	l, closeFn, err := openLedger()
	if err != nil {
		return err
	}
	defer closeFn()

	var entries []*models.DeliveryStatus
	if kind == "batch" {
		entries = l.QueryByBatch(*id)
	} else {
		entries = l.QueryByGroup(*id)
	}

	out := map[string]interface{}{
		"id":    *id,
		"total": len(entries),
		"tasks": entries,
	}
	printJSON(out)
	return nil
}

func cmdStats(args []string) error {
	l, closeFn, err := openLedger()
	if err != nil {
		return err
	}
	defer closeFn()

	printJSON(l.Stats())
	return nil
}

func cmdPrune(args []string) error {
	fs := flag.NewFlagSet("prune", flag.ExitOnError)
	days := fs.Int("days", 30, "Retention window in days")
	fs.Parse(args)

	l, closeFn, err := openLedger()
	if err != nil {
		return err
	}
	defer closeFn()

	removed := l.Prune(time.Duration(*days) * 24 * time.Hour)
	if err := l.Snapshot(context.Background()); err != nil {
		return err
	}
	fmt.Printf("Removed %d records older than %d days\n", removed, *days)
	return nil
}

// cmdCancel closes out a record that is still marked queued in the
// snapshot. Tasks live in a running daemon's queue are out of reach from a
// separate process; those settle as at-most-once on the daemon side.
func cmdCancel(args []string) error {
	fs := flag.NewFlagSet("cancel", flag.ExitOnError)
	taskID := fs.String("task", "", "Task id")
	fs.Parse(args)

	if *taskID == "" {
		return fmt.Errorf("-task is required")
	}

	l, closeFn, err := openLedger()
	if err != nil {
		return err
	}
	defer closeFn()

	cancelled := false
	l.Update(*taskID, func(s *models.DeliveryStatus) {
		if s.Status == models.StatusQueued {
			s.Status = models.StatusCancelled
			cancelled = true
		}
	})
	if !cancelled {
		return fmt.Errorf("task %s is not in a cancellable state", *taskID)
	}
	if err := l.Snapshot(context.Background()); err != nil {
		return err
	}
	fmt.Printf("Cancelled: %s\n", *taskID)
	return nil
}

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(data))
}
