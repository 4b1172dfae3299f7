package vcode

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrEngineUnavailable is wrapped by engines that cannot recognize anything
// at all, e.g. missing language data. Retrying does not help.
var ErrEngineUnavailable = errors.New("ocr engine unavailable")

// Engine turns an encoded image into text.
type Engine interface {
	Recognize(ctx context.Context, png []byte) (string, error)
}

type Outcome int

const (
	Ok Outcome = iota
	Transient
	Fatal
)

func (o Outcome) String() string {
	switch o {
	case Ok:
		return "ok"
	case Transient:
		return "transient"
	case Fatal:
		return "fatal"
	}
	return "unknown"
}

// Result of a single read. Code may be empty or wrong even when Outcome is Ok.
type Result struct {
	Code    string
	Outcome Outcome
	Err     error
}

type Reader struct {
	engine   Engine
	log      logrus.FieldLogger
	debugDir string
}

type ReaderOption func(*Reader)

// WithDebugDir keeps every binarized image under dir with a unique name.
func WithDebugDir(dir string) ReaderOption {
	return func(r *Reader) { r.debugDir = dir }
}

func WithLogger(log logrus.FieldLogger) ReaderOption {
	return func(r *Reader) { r.log = log }
}

func NewReader(engine Engine, opts ...ReaderOption) *Reader {
	r := &Reader{
		engine: engine,
		log:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.WithField("component", "vcode")

	return r
}

// Read preprocesses raw and runs it through the engine.
func (r *Reader) Read(ctx context.Context, raw []byte) Result {
	bin, err := Preprocess(raw)
	if err != nil {
		r.log.WithError(err).Error("verification image rejected")
		return Result{Outcome: Transient, Err: err}
	}

	png, err := EncodePNG(bin)
	if err != nil {
		r.log.WithError(err).Error("verification image rejected")
		return Result{Outcome: Transient, Err: err}
	}
	r.keep(png)

	text, err := r.engine.Recognize(ctx, png)
	if err != nil {
		r.log.WithError(err).Error("ocr failed")
		if errors.Is(err, ErrEngineUnavailable) {
			return Result{Outcome: Fatal, Err: err}
		}
		return Result{Outcome: Transient, Err: err}
	}

	code := digits(text)
	r.log.Infof("Verification Code %s", code)

	return Result{Code: code, Outcome: Ok}
}

func (r *Reader) keep(png []byte) {
	if r.debugDir == "" {
		return
	}

	path := filepath.Join(r.debugDir, "vcode-"+uuid.NewString()+".png")
	if err := os.WriteFile(path, png, 0o644); err != nil {
		r.log.WithError(err).Error("error keeping verification image")
		return
	}
	r.log.WithField("path", path).Debug("verification image kept")
}

func digits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}
