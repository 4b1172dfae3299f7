// Package journal keeps a local record of booking runs and the payments they
// made, so a rerun does not pay twice for the same visit.
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xujiajun/nutsdb"
)

const (
	bucketSteps = "steps"
	bucketPaid  = "paid"
)

type Step struct {
	Seq    int       `json:"seq"`
	Name   string    `json:"step"`
	Detail string    `json:"detail"`
	At     time.Time `json:"at"`
}

type Payment struct {
	RunID  string    `json:"run_id"`
	SchmID string    `json:"schm_id"`
	Start  string    `json:"start"`
	End    string    `json:"end"`
	At     time.Time `json:"at"`
}

type Journal struct {
	db  *nutsdb.DB
	now func() time.Time

	mu  sync.Mutex
	seq map[string]int
}

func Open(dir string) (*Journal, error) {
	opt := nutsdb.DefaultOptions
	opt.Dir = dir

	db, err := nutsdb.Open(opt)
	if err != nil {
		return nil, fmt.Errorf("error opening journal %s: %w", dir, err)
	}

	return &Journal{
		db:  db,
		now: time.Now,
		seq: make(map[string]int),
	}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// Record appends a step of run runID.
func (j *Journal) Record(runID, name, detail string) error {
	j.mu.Lock()
	j.seq[runID]++
	seq := j.seq[runID]
	j.mu.Unlock()

	value, err := json.Marshal(Step{Seq: seq, Name: name, Detail: detail, At: j.now()})
	if err != nil {
		return err
	}
	key := []byte(fmt.Sprintf("%s/%06d", runID, seq))

	if err := j.db.Update(func(tx *nutsdb.Tx) error {
		return tx.Put(bucketSteps, key, value, 0)
	}); err != nil {
		return fmt.Errorf("error recording step %s of %s: %w", name, runID, err)
	}

	return nil
}

// Steps returns the steps of runID in the order they were recorded.
func (j *Journal) Steps(runID string) ([]Step, error) {
	var steps []Step
	prefix := runID + "/"

	err := j.db.View(func(tx *nutsdb.Tx) error {
		entries, err := tx.GetAll(bucketSteps)
		if notFound(err) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("error reading steps of %s: %w", runID, err)
		}
		for _, e := range entries {
			if !strings.HasPrefix(string(e.Key), prefix) {
				continue
			}
			var s Step
			if err := json.Unmarshal(e.Value, &s); err != nil {
				return fmt.Errorf("error decoding step %s: %w", e.Key, err)
			}
			steps = append(steps, s)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(steps, func(a, b int) bool { return steps[a].Seq < steps[b].Seq })

	return steps, nil
}

// MarkPaid remembers that booking key has been paid.
func (j *Journal) MarkPaid(key string, p Payment) error {
	if p.At.IsZero() {
		p.At = j.now()
	}
	value, err := json.Marshal(p)
	if err != nil {
		return err
	}

	if err := j.db.Update(func(tx *nutsdb.Tx) error {
		return tx.Put(bucketPaid, []byte(key), value, 0)
	}); err != nil {
		return fmt.Errorf("error marking %s paid: %w", key, err)
	}

	return nil
}

// Paid returns the payment recorded for booking key, if any.
func (j *Journal) Paid(key string) (Payment, bool, error) {
	var (
		p     Payment
		found bool
	)

	err := j.db.View(func(tx *nutsdb.Tx) error {
		e, err := tx.Get(bucketPaid, []byte(key))
		if notFound(err) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("error reading payment %s: %w", key, err)
		}
		if err := json.Unmarshal(e.Value, &p); err != nil {
			return fmt.Errorf("error decoding payment %s: %w", key, err)
		}
		found = true
		return nil
	})
	if err != nil {
		return Payment{}, false, err
	}

	return p, found, nil
}

// notFound reports whether err only means an empty bucket or a missing key.
// nutsdb answers a bucket it has never seen with an unexported error.
func notFound(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, nutsdb.ErrKeyNotFound) ||
		errors.Is(err, nutsdb.ErrNotFoundKey) ||
		errors.Is(err, nutsdb.ErrBucketEmpty) ||
		strings.HasPrefix(err.Error(), "not found bucket:")
}
