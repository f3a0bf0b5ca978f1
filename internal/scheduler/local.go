package scheduler

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// LocalClient runs scripts as background bash processes on the local machine. Job ids are process
// ids. It is meant for development on machines without Slurm.
type LocalClient struct {
	scriptDir string
	shell     string
	mutex     sync.Mutex
	// Processes started by this client, keyed by pid
	started map[int]*localProcess
}

type localProcess struct {
	name   string
	exited bool
}

func NewLocalClient(scriptDir string) *LocalClient {
	return &LocalClient{
		scriptDir: scriptDir,
		shell:     "bash",
		started:   map[int]*localProcess{},
	}
}

func (c *LocalClient) Submit(_ context.Context, name string, script string) (string, error) {
	path, err := writeScript(c.scriptDir, name, script)
	if err != nil {
		return "", err
	}
	base := path[:len(path)-len(filepath.Ext(path))]
	stdout, err := os.Create(base + ".log")
	if err != nil {
		return "", errors.WithStack(err)
	}
	defer stdout.Close()
	stderr, err := os.Create(base + ".err")
	if err != nil {
		return "", errors.WithStack(err)
	}
	defer stderr.Close()

	// Not bound to ctx; the job outlives the call that started it.
	cmd := exec.Command(c.shell, path)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return "", errors.Wrapf(err, "error starting %s", path)
	}

	pid := cmd.Process.Pid
	process := &localProcess{name: name}
	c.mutex.Lock()
	c.started[pid] = process
	c.mutex.Unlock()

	go func() {
		err := cmd.Wait()
		c.mutex.Lock()
		process.exited = true
		c.mutex.Unlock()
		log.WithField("jobId", pid).Debugf("Local job exited: %v", err)
	}()
	return strconv.Itoa(pid), nil
}

func (c *LocalClient) Query(_ context.Context, jobId string) (Status, error) {
	pid, err := strconv.Atoi(jobId)
	if err != nil {
		return StatusUnknown, errors.Errorf("invalid local job id %q", jobId)
	}
	if c.alive(pid) {
		return StatusRunning, nil
	}
	return StatusUnknown, nil
}

func (c *LocalClient) Cancel(_ context.Context, jobId string) error {
	pid, err := strconv.Atoi(jobId)
	if err != nil {
		return errors.Errorf("invalid local job id %q", jobId)
	}
	if !c.alive(pid) {
		return errors.WithStack(ErrJobNotFound)
	}
	// Signal the whole process group so that children of the script go too.
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return errors.WithStack(ErrJobNotFound)
		}
		return errors.Wrapf(err, "error signalling process %d", pid)
	}
	return nil
}

// List returns the live processes started by this client.
func (c *LocalClient) List(_ context.Context) ([]LiveJob, error) {
	c.mutex.Lock()
	pids := maps.Keys(c.started)
	c.mutex.Unlock()
	slices.Sort(pids)

	jobs := []LiveJob{}
	for _, pid := range pids {
		if !c.alive(pid) {
			continue
		}
		c.mutex.Lock()
		name := c.started[pid].name
		c.mutex.Unlock()
		jobs = append(jobs, LiveJob{JobId: strconv.Itoa(pid), Name: name, Status: StatusRunning})
	}
	return jobs, nil
}

func (c *LocalClient) alive(pid int) bool {
	c.mutex.Lock()
	process, ok := c.started[pid]
	exited := ok && process.exited
	c.mutex.Unlock()
	if exited {
		return false
	}
	return syscall.Kill(pid, syscall.Signal(0)) == nil
}
