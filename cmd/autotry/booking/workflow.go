package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/lucmann/autotry/cmd/autotry/hospital"
	"github.com/lucmann/autotry/cmd/autotry/journal"
	"github.com/lucmann/autotry/cmd/autotry/records"
	"github.com/lucmann/autotry/cmd/autotry/vcode"
)

type Client interface {
	VerificationImage(ctx context.Context) ([]byte, error)
	Login(ctx context.Context, r hospital.LoginRequest) (*hospital.Response, error)
	SearchDoctorAppointments(ctx context.Context, doctorID string) (*hospital.ScheduleResponse, error)
	ConfirmAppoint(ctx context.Context, r hospital.ConfirmRequest) (*hospital.Response, error)
	ConfirmTimes(ctx context.Context, s hospital.Slot) ([]hospital.TimePart, error)
	ClinicPay(ctx context.Context, r hospital.PayRequest) (*hospital.Response, error)
}

type CodeReader interface {
	Read(ctx context.Context, raw []byte) vcode.Result
}

type Journal interface {
	Record(runID, step, detail string) error
	MarkPaid(key string, p journal.Payment) error
	Paid(key string) (journal.Payment, bool, error)
}

type Notifier interface {
	SendMessage(ctx context.Context, message string) error
}

// RetryPolicy bounds the login loop. MaxAttempts <= 0 retries until ctx ends.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

type State int

const (
	Init State = iota
	LoggedIn
	ScheduleResolved
	Booked
	SlotsFetched
	Paying
	Done
)

func (s State) String() string {
	switch s {
	case Init:
		return "init"
	case LoggedIn:
		return "logged-in"
	case ScheduleResolved:
		return "schedule-resolved"
	case Booked:
		return "booked"
	case SlotsFetched:
		return "slots-fetched"
	case Paying:
		return "paying"
	case Done:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type Params struct {
	Client  Client
	Reader  CodeReader
	Doctor  records.Doctor
	Patient records.Patient
	Booking records.Booking
	Retry   RetryPolicy

	// DryRun stops Run after listing the time slots.
	DryRun   bool
	Log      logrus.FieldLogger
	Journal  Journal
	Notifier Notifier
}

// Outcome summarizes a Run.
type Outcome struct {
	RunID    string
	SchmID   string
	Slots    []hospital.TimePart
	Slot     *hospital.TimePart
	Attempts int
	Paid     bool
}

// Workflow books one doctor for one patient. It is not safe for concurrent
// use and must not share its Client with another Workflow.
type Workflow struct {
	runID    string
	client   Client
	reader   CodeReader
	doctor   records.Doctor
	patient  records.Patient
	booking  records.Booking
	retry    RetryPolicy
	dryRun   bool
	log      logrus.FieldLogger
	journal  Journal
	notifier Notifier
	state    State
}

func New(p Params) (*Workflow, error) {
	if p.Client == nil {
		return nil, errors.New("booking: nil client")
	}
	if p.Reader == nil {
		return nil, errors.New("booking: nil verification code reader")
	}
	if p.Log == nil {
		p.Log = logrus.StandardLogger()
	}

	runID := uuid.NewString()
	return &Workflow{
		runID:    runID,
		client:   p.Client,
		reader:   p.Reader,
		doctor:   p.Doctor,
		patient:  p.Patient,
		booking:  p.Booking,
		retry:    p.Retry,
		dryRun:   p.DryRun,
		log:      p.Log.WithFields(logrus.Fields{"component": "booking", "run_id": runID}),
		journal:  p.Journal,
		notifier: p.Notifier,
	}, nil
}

func (w *Workflow) RunID() string { return w.runID }

func (w *Workflow) State() State { return w.state }

// SchmID is empty until ResolveSchedule succeeds.
func (w *Workflow) SchmID() string { return w.doctor.SchmID }

// Login signs the patient in, fetching a fresh verification code for every
// attempt. A login counts as successful only when the server answers with
// ResultCode 1.
func (w *Workflow) Login(ctx context.Context, policy RetryPolicy) error {
	var limiter *rate.Limiter
	if policy.Backoff > 0 {
		limiter = rate.NewLimiter(rate.Every(policy.Backoff), 1)
	}

	var last error
	attempt := 0
	for policy.MaxAttempts <= 0 || attempt < policy.MaxAttempts {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return &LoginError{Attempts: attempt, Err: errors.Join(err, last)}
			}
		}
		attempt++

		retry, err := w.tryLogin(ctx)
		if err == nil {
			w.state = LoggedIn
			w.record("login", fmt.Sprintf("attempt %d", attempt))
			return nil
		}
		last = err
		w.log.WithError(err).WithField("attempt", attempt).Error("login attempt failed")

		if !retry {
			return &LoginError{Attempts: attempt, Err: err}
		}
		if ctx.Err() != nil {
			return &LoginError{Attempts: attempt, Err: errors.Join(ctx.Err(), last)}
		}
	}

	w.record("login", fmt.Sprintf("exhausted after %d attempts", attempt))
	return &LoginError{Attempts: attempt, Err: fmt.Errorf("%w: %w", ErrLoginExhausted, last)}
}

func (w *Workflow) tryLogin(ctx context.Context) (retry bool, err error) {
	raw, err := w.client.VerificationImage(ctx)
	if err != nil {
		return true, err
	}

	res := w.reader.Read(ctx, raw)
	if res.Outcome != vcode.Ok {
		err := res.Err
		if err == nil {
			err = fmt.Errorf("verification code %s", res.Outcome)
		}
		return res.Outcome == vcode.Transient, err
	}

	resp, err := w.client.Login(ctx, hospital.LoginRequest{
		LoginName:  w.patient.LoginName,
		Password:   w.patient.Password,
		VerifyCode: res.Code,
	})
	if err != nil {
		return true, err
	}
	if !resp.OK() {
		return true, fmt.Errorf("%w: code %d %s", ErrLoginRejected, resp.ResultCode, resp.ResultMsg)
	}

	return false, nil
}

// ResolveSchedule picks the last appointment of the last result group and
// keeps its schedule id.
func (w *Workflow) ResolveSchedule(ctx context.Context) (string, error) {
	resp, err := w.client.SearchDoctorAppointments(ctx, w.doctor.DoctorID)
	if err != nil {
		return "", &ScheduleError{DoctorID: w.doctor.DoctorID, Err: err}
	}

	id, err := lastSchmID(resp.ResultData)
	if err != nil {
		return "", &ScheduleError{DoctorID: w.doctor.DoctorID, Err: err}
	}

	w.doctor.SchmID = id
	w.state = ScheduleResolved
	w.log.WithField("schm_id", id).Info("schedule resolved")
	w.record("schedule", id)

	return id, nil
}

func lastSchmID(groups []*hospital.ScheduleGroup) (string, error) {
	if len(groups) == 0 {
		return "", ErrNoSchedule
	}
	group := groups[len(groups)-1]
	if group == nil || len(group.Appointments) == 0 {
		return "", fmt.Errorf("%w: last group has no appointments", ErrNoSchedule)
	}
	appt := group.Appointments[len(group.Appointments)-1]
	if appt == nil || appt.SchmID == "" {
		return "", fmt.Errorf("%w: last appointment has no SchmId", ErrNoSchedule)
	}

	return string(appt.SchmID), nil
}

func (w *Workflow) slot() hospital.Slot {
	return hospital.Slot{
		ClinicLabelID: w.doctor.ClinicLabelID,
		ClinicDate:    w.doctor.ClinicDate,
		NoonID:        w.doctor.Noon,
		NoonText:      w.doctor.NoonText,
		SchmID:        w.doctor.SchmID,
	}
}

func (w *Workflow) requireSchedule() error {
	if w.doctor.SchmID == "" {
		return ErrScheduleUnresolved
	}
	return nil
}

// Book confirms the resolved schedule. The server's answer is logged but
// does not decide success; only transport failures are errors.
func (w *Workflow) Book(ctx context.Context) error {
	if err := w.requireSchedule(); err != nil {
		return err
	}

	resp, err := w.client.ConfirmAppoint(ctx, hospital.ConfirmRequest{
		Slot:         w.slot(),
		HospitalGUID: w.booking.HospitalGUID,
	})
	if err != nil {
		return fmt.Errorf("error booking %s: %w", w.doctor.SchmID, err)
	}

	if resp == nil {
		w.log.Info("confirmation answered with a page")
		w.record("book", "page")
	} else {
		w.log.WithFields(logrus.Fields{"code": resp.ResultCode, "msg": resp.ResultMsg}).Info("confirmation answered")
		w.record("book", fmt.Sprintf("code %d %s", resp.ResultCode, resp.ResultMsg))
	}
	w.state = Booked

	return nil
}

// AppointTimes lists the free time parts of the resolved schedule.
func (w *Workflow) AppointTimes(ctx context.Context) ([]hospital.TimePart, error) {
	if err := w.requireSchedule(); err != nil {
		return nil, err
	}

	times, err := w.client.ConfirmTimes(ctx, w.slot())
	if err != nil {
		return nil, fmt.Errorf("error listing times of %s: %w", w.doctor.SchmID, err)
	}
	w.state = SlotsFetched
	w.record("times", fmt.Sprintf("%d free", len(times)))

	return times, nil
}

// Pay tries to pay for t. It reports true only for ResultCode 1.
func (w *Workflow) Pay(ctx context.Context, t hospital.TimePart) (bool, error) {
	if err := w.requireSchedule(); err != nil {
		return false, err
	}
	w.state = Paying

	resp, err := w.client.ClinicPay(ctx, hospital.PayRequest{
		Slot:          w.slot(),
		IDCode:        w.patient.IDCode,
		IDType:        w.patient.IDType,
		PatientID:     w.patient.PatientID,
		OperateType:   w.booking.OperateType,
		AppointmentID: w.booking.AppointmentID,
		PayChannel:    w.booking.PayChannel,
		PayType:       w.booking.PayType,
		Time:          t,
	})
	if err != nil {
		w.record("pay", fmt.Sprintf("%s error", t))
		return false, &PaymentError{Slot: t, Err: err}
	}

	w.record("pay", fmt.Sprintf("%s code %d", t, resp.ResultCode))
	return resp.OK(), nil
}

// Run logs in, resolves and books the schedule, then pays the free time
// parts in server order until one goes through. Booking happens before
// payment and is not undone when every payment fails.
func (w *Workflow) Run(ctx context.Context) (*Outcome, error) {
	out := &Outcome{RunID: w.runID}
	log := w.log.WithField("doctor", w.doctor.DoctorID)

	if w.journal != nil && !w.dryRun {
		p, found, err := w.journal.Paid(w.bookingKey())
		if err != nil {
			return out, err
		}
		if found {
			return out, fmt.Errorf("%w by run %s for %s-%s", ErrAlreadyPaid, p.RunID, p.Start, p.End)
		}
	}

	if err := w.Login(ctx, w.retry); err != nil {
		return out, err
	}

	id, err := w.ResolveSchedule(ctx)
	if err != nil {
		return out, err
	}
	out.SchmID = id

	if !w.dryRun {
		if err := w.Book(ctx); err != nil {
			return out, err
		}
	}

	times, err := w.AppointTimes(ctx)
	if err != nil {
		return out, err
	}
	out.Slots = times
	log.WithField("slots", len(times)).Info("time slots fetched")

	if w.dryRun {
		w.state = Done
		return out, nil
	}

	var payErr error
	for i := range times {
		t := times[i]
		out.Attempts++

		ok, err := w.Pay(ctx, t)
		if err != nil {
			log.WithError(err).Error("payment failed")
			payErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if !ok {
			log.WithField("slot", t.String()).Info("payment declined")
			continue
		}

		out.Slot = &t
		out.Paid = true
		w.state = Done
		log.WithField("slot", t.String()).Info("payment accepted")
		w.paid(ctx, t)

		return out, nil
	}

	w.state = Done
	if payErr != nil {
		return out, errors.Join(ErrNoSlotPaid, payErr)
	}

	return out, ErrNoSlotPaid
}

func (w *Workflow) paid(ctx context.Context, t hospital.TimePart) {
	if w.journal != nil {
		err := w.journal.MarkPaid(w.bookingKey(), journal.Payment{
			RunID:  w.runID,
			SchmID: w.doctor.SchmID,
			Start:  t.StartTime,
			End:    t.EndTime,
		})
		if err != nil {
			w.log.WithError(err).Error("error journaling payment")
		}
	}

	if w.notifier != nil {
		msg := fmt.Sprintf("✅ *%s* %s %s\n%s", w.doctor.ClinicDate, w.doctor.NoonText, t, w.patient.LoginName)
		if err := w.notifier.SendMessage(ctx, msg); err != nil {
			w.log.WithError(err).Error("error sending notification")
		}
	}
}

func (w *Workflow) bookingKey() string {
	return strings.Join([]string{
		strings.ToLower(w.patient.LoginName),
		w.doctor.DoctorID,
		w.doctor.ClinicDate,
		w.doctor.Noon,
	}, "|")
}

func (w *Workflow) record(step, detail string) {
	if w.journal == nil {
		return
	}
	if err := w.journal.Record(w.runID, step, detail); err != nil {
		w.log.WithError(err).Error("error journaling step")
	}
}
