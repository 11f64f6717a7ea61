package reconcile

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/dirsync/internal/job"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return t0.Add(time.Duration(sec) * time.Second) }

// fakeRecord is an Entity whose fields are plain string values
type fakeRecord struct {
	key      string
	modified time.Time
	active   bool
	values   map[string]string
}

func rec(key string, sec int, values map[string]string) *fakeRecord {
	if values == nil {
		values = map[string]string{}
	}
	return &fakeRecord{key: key, modified: at(sec), active: true, values: values}
}

func (r *fakeRecord) Key() string { return r.key }
func (r *fakeRecord) ModifiedAt() time.Time { return r.modified }
func (r *fakeRecord) Active() bool { return r.active }
func (r *fakeRecord) SetActive(active bool) { r.active = active }
func (r *fakeRecord) UnsetValue(name string) { delete(r.values, name) }

func (r *fakeRecord) Value(name string) (string, bool) {
	v, ok := r.values[name]
	return v, ok
}

func (r *fakeRecord) SetValue(name, value string) {
	r.values[name] = value
}

func (r *fakeRecord) clone() *fakeRecord {
	c := *r
	c.values = make(map[string]string, len(r.values))
	for k, v := range r.values {
		c.values[k] = v
	}
	return &c
}

// fakeStore is a Store[*fakeRecord] counting writes
type fakeStore struct {
	mu      sync.Mutex
	records map[string]*fakeRecord

	creates, updates, deletes int

	loadErr   error
	createErr error
	deleteErr error
}

func newStore(records ...*fakeRecord) *fakeStore {
	s := &fakeStore{records: make(map[string]*fakeRecord)}
	for _, r := range records {
		s.records[NormalizeKey(r.key)] = r
	}
	return s
}

func (s *fakeStore) LoadAll(_ context.Context, filter KeyFilter) ([]*fakeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}

	out := make([]*fakeRecord, 0, len(s.records))
	for _, r := range s.records {
		if filter.Match(r.key) {
			out = append(out, r.clone())
		}
	}
	return out, nil
}

func (s *fakeStore) LoadByKey(_ context.Context, key string) (*fakeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}

	r, ok := s.records[NormalizeKey(key)]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return r.clone(), nil
}

func (s *fakeStore) Create(_ context.Context, r *fakeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	if _, ok := s.records[NormalizeKey(r.key)]; ok {
		return ErrAlreadyExists
	}
	s.creates++
	s.records[NormalizeKey(r.key)] = r.clone()
	return nil
}

func (s *fakeStore) Update(_ context.Context, r *fakeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates++
	s.records[NormalizeKey(r.key)] = r.clone()
	return nil
}

func (s *fakeStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	if _, ok := s.records[NormalizeKey(key)]; !ok {
		return ErrRecordNotFound
	}
	s.deletes++
	delete(s.records, NormalizeKey(key))
	return nil
}

func (s *fakeStore) writes() int { return s.creates + s.updates + s.deletes }

// copyConverter copies fields one to one; the value "bad" fails validation
type copyConverter struct {
	fields []string
}

func (c copyConverter) Create(_ context.Context, source *fakeRecord) (*Result[*fakeRecord], error) {
	target := &fakeRecord{key: source.key, modified: source.modified, values: map[string]string{}}
	return c.convert(source, target), nil
}

func (c copyConverter) Update(_ context.Context, source, current *fakeRecord) (*Result[*fakeRecord], error) {
	return c.convert(source, current.clone()), nil
}

func (c copyConverter) convert(source, target *fakeRecord) *Result[*fakeRecord] {
	res := NewResult(target)
	target.SetActive(source.Active())

	for _, f := range c.fields {
		v, ok := source.Value(f)
		if !ok {
			res.AddProblem(AttributeMissingOnSource{Attribute: f, Field: f})
			continue
		}
		res.Set(f, v)
		if v == "bad" {
			res.AddProblem(InvalidFieldValue{Field: f, Violation: Violation{Rule: "required", Value: v, Message: "bad value"}})
		}
	}
	return res
}

// recordingScheduler keeps cast jobs in order
type recordingScheduler struct {
	jobs []*job.Job
}

func (s *recordingScheduler) Cast(_ context.Context, j *job.Job) error {
	s.jobs = append(s.jobs, j)
	return nil
}

func (s *recordingScheduler) kinds() []string {
	out := make([]string, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.Kind())
	}
	sort.Strings(out)
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// runOnce selects and runs j with the executor's transition rules
func runOnce(j *job.Job) error {
	if j.Status() == job.StatusRescheduled {
		if err := j.Requeue(); err != nil {
			return err
		}
	}
	if err := j.Transition(job.StatusSelected); err != nil {
		return err
	}
	return job.Run(context.Background(), j, discardLogger())
}
