package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/lucmann/autotry/cmd/autotry/booking"
	"github.com/lucmann/autotry/cmd/autotry/config"
	"github.com/lucmann/autotry/cmd/autotry/hospital"
	"github.com/lucmann/autotry/cmd/autotry/journal"
	"github.com/lucmann/autotry/cmd/autotry/logging"
	"github.com/lucmann/autotry/cmd/autotry/records"
	"github.com/lucmann/autotry/cmd/autotry/telegram"
	"github.com/lucmann/autotry/cmd/autotry/vcode"
	"github.com/lucmann/autotry/cmd/autotry/vcode/tesseract"
	"github.com/lucmann/autotry/cmd/autotry/wait"
)

var (
	flagDoctor    = flag.String("doctor", "", "doctor name in the records file")
	flagPatient   = flag.String("patient", "", "patient name in the records file")
	flagConfig    = flag.String("config", "", "settings file (default $APPOINT_DBS_PATH/autotry/autotry.yaml)")
	flagDryRun    = flag.Bool("dry-run", false, "list the free time slots without booking or paying")
	flagNoJournal = flag.Bool("no-journal", false, "do not record the run nor guard against paying twice")
)

func main() {
	flag.Parse()
	if *flagDoctor == "" || *flagPatient == "" {
		log.Fatal("-doctor or -patient are empty")
	}

	cfg, err := config.Load(*flagConfig)
	if err != nil {
		log.Fatalf("ERROR %s", err)
	}

	logger, closer, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		log.Fatalf("ERROR %s", err)
	}

	err = run(notifyExit(context.Background()), cfg, logger)
	_ = closer.Close()
	if err != nil {
		log.Printf("ERROR %s", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	store, err := records.Load(cfg.RecordsFile)
	if err != nil {
		return err
	}
	doctor, err := store.Doctor(*flagDoctor)
	if err != nil {
		return err
	}
	patient, err := store.Patient(*flagPatient)
	if err != nil {
		return err
	}

	client, err := hospital.NewClient(cfg.Host,
		hospital.WithTimeout(cfg.RequestTimeout),
		hospital.WithRateLimit(cfg.RateEvery, cfg.RateBurst),
		hospital.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	engine, err := tesseract.New(cfg.OCR.Language)
	if err != nil {
		return err
	}
	readerOpts := []vcode.ReaderOption{vcode.WithLogger(logger)}
	if cfg.DebugDir != "" {
		if err := os.MkdirAll(cfg.DebugDir, 0o755); err != nil {
			return fmt.Errorf("error creating debug dir: %w", err)
		}
		readerOpts = append(readerOpts, vcode.WithDebugDir(cfg.DebugDir))
	}

	params := booking.Params{
		Client:  client,
		Reader:  vcode.NewReader(engine, readerOpts...),
		Doctor:  doctor,
		Patient: patient,
		Booking: store.Booking(),
		Retry: booking.RetryPolicy{
			MaxAttempts: cfg.Login.MaxAttempts,
			Backoff:     cfg.Login.Backoff,
		},
		DryRun: *flagDryRun,
		Log:    logger,
	}

	if !*flagNoJournal && cfg.JournalDir != "" {
		j, err := openJournal(cfg.JournalDir)
		if err != nil {
			return err
		}
		defer j.Close()
		params.Journal = j
	}

	sender := telegram.NewSender(cfg.Telegram.Token, cfg.Telegram.Chat)
	if sender.Enabled() {
		params.Notifier = sender
	}

	workflow, err := booking.New(params)
	if err != nil {
		return err
	}

	out, err := execute(ctx, workflow)
	if err != nil {
		logger.WithError(err).WithField("state", workflow.State().String()).Error("run failed")
		return err
	}

	report(os.Stdout, out)
	logger.WithFields(logrus.Fields{"run_id": out.RunID, "paid": out.Paid}).Info("run finished")

	return nil
}

// execute runs the workflow and returns only after Run has, so the caller
// may read its state and close the journal even when ctx was cancelled.
func execute(ctx context.Context, workflow *booking.Workflow) (*booking.Outcome, error) {
	var out *booking.Outcome
	wg := &wait.Group{}
	wg.Add(func() error {
		var err error
		out, err = workflow.Run(ctx)
		return err
	})
	if err := wg.Wait(ctx); err != nil {
		return out, err
	}

	return out, nil
}

func openJournal(dir string) (*journal.Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("error creating journal dir: %w", err)
	}
	return journal.Open(dir)
}

func report(w io.Writer, out *booking.Outcome) {
	if out.Paid {
		fmt.Fprintf(w, "paid %s on schedule %s (attempt %d, run %s)\n", out.Slot, out.SchmID, out.Attempts, out.RunID)
		return
	}
	fmt.Fprintf(w, "schedule %s has %d free slot(s):\n", out.SchmID, len(out.Slots))
	for _, t := range out.Slots {
		fmt.Fprintf(w, "  %s\n", t)
	}
}

func notifyExit(ctx context.Context) context.Context {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		<-sigChan
		cancel()
	}()

	return ctx
}
