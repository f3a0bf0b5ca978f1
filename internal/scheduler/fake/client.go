// Package fake provides an in-memory scheduler for tests.
package fake

import (
	"context"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/armadaproject/slurmcompose/internal/scheduler"
)

type Job struct {
	Id     string
	Name   string
	Script string
	Status scheduler.Status
}

// Client is a scheduler.Client backed by a map. Job ids are assigned sequentially from 1.
// Failures can be injected per operation.
type Client struct {
	mutex  sync.Mutex
	nextId int
	jobs   map[string]*Job

	SubmitError error
	// Cancel errors by job id
	CancelErrors map[string]error
	QueryError   error
	ListError    error

	Submitted []string
	Cancelled []string
	Queries   int
}

func NewClient() *Client {
	return &Client{
		nextId:       1,
		jobs:         map[string]*Job{},
		CancelErrors: map[string]error{},
	}
}

func (c *Client) Submit(_ context.Context, name string, script string) (string, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.SubmitError != nil {
		return "", c.SubmitError
	}
	id := strconv.Itoa(c.nextId)
	c.nextId++
	c.jobs[id] = &Job{Id: id, Name: name, Script: script, Status: scheduler.StatusPending}
	c.Submitted = append(c.Submitted, id)
	return id, nil
}

func (c *Client) Query(_ context.Context, jobId string) (scheduler.Status, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.Queries++
	if c.QueryError != nil {
		return scheduler.StatusUnknown, c.QueryError
	}
	job, ok := c.jobs[jobId]
	if !ok {
		return scheduler.StatusUnknown, nil
	}
	return job.Status, nil
}

func (c *Client) Cancel(_ context.Context, jobId string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if err := c.CancelErrors[jobId]; err != nil {
		return err
	}
	job, ok := c.jobs[jobId]
	if !ok || job.Status.IsTerminal() {
		return errors.WithStack(scheduler.ErrJobNotFound)
	}
	job.Status = scheduler.StatusCancelled
	c.Cancelled = append(c.Cancelled, jobId)
	return nil
}

func (c *Client) List(_ context.Context) ([]scheduler.LiveJob, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.ListError != nil {
		return nil, c.ListError
	}
	ids := maps.Keys(c.jobs)
	slices.Sort(ids)
	result := []scheduler.LiveJob{}
	for _, id := range ids {
		job := c.jobs[id]
		if job.Status.IsActive() {
			result = append(result, scheduler.LiveJob{JobId: job.Id, Name: job.Name, Status: job.Status})
		}
	}
	return result, nil
}

// AddJob places a job directly on the scheduler, as if submitted by an earlier process.
func (c *Client) AddJob(id string, name string, status scheduler.Status) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.jobs[id] = &Job{Id: id, Name: name, Status: status}
	if n, err := strconv.Atoi(id); err == nil && n >= c.nextId {
		c.nextId = n + 1
	}
}

// SetStatus changes the status of a known job, e.g. to simulate completion.
func (c *Client) SetStatus(id string, status scheduler.Status) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if job, ok := c.jobs[id]; ok {
		job.Status = status
	}
}

// Job returns a copy of the job with the given id.
func (c *Client) Job(id string) (Job, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	job, ok := c.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// ActiveCount returns the number of pending or running jobs.
func (c *Client) ActiveCount() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	count := 0
	for _, job := range c.jobs {
		if job.Status.IsActive() {
			count++
		}
	}
	return count
}

func (c *Client) SubmittedIds() []string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return slices.Clone(c.Submitted)
}

func (c *Client) CancelledIds() []string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return slices.Clone(c.Cancelled)
}

// FailSubmissions makes every subsequent Submit fail with err, or succeed again if err is nil.
func (c *Client) FailSubmissions(err error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.SubmitError = err
}

// FailQueries makes every subsequent Query fail with err, or succeed again if err is nil.
func (c *Client) FailQueries(err error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.QueryError = err
}

// FailCancel makes cancellation of jobId fail with err, or succeed again if err is nil.
func (c *Client) FailCancel(jobId string, err error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if err == nil {
		delete(c.CancelErrors, jobId)
		return
	}
	c.CancelErrors[jobId] = err
}
