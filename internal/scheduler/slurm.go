package scheduler

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Runner executes an external command and returns its stdout.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec. A non-zero exit is returned as an error carrying stderr.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), errors.Wrapf(err, "%s %s: %s", name, strings.Join(args, " "), strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

type SlurmConfig struct {
	// User whose jobs are listed by List
	User string
	// Directory submitted scripts are written to
	ScriptDir string
	// Upper bound on each external command
	Timeout time.Duration
	// How far back sacct is asked to look for finished jobs
	HistoryWindow string
}

// SlurmClient drives Slurm through sbatch, squeue, sacct and scancel.
type SlurmClient struct {
	config SlurmConfig
	runner Runner
}

func NewSlurmClient(config SlurmConfig, runner Runner) *SlurmClient {
	if config.HistoryWindow == "" {
		config.HistoryWindow = "now-30days"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &SlurmClient{config: config, runner: runner}
}

func (c *SlurmClient) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}
	log.WithField("command", name).Debugf("Running %s %s", name, strings.Join(args, " "))
	return c.runner.Run(ctx, name, args...)
}

func (c *SlurmClient) Submit(ctx context.Context, name string, script string) (string, error) {
	path, err := writeScript(c.config.ScriptDir, name, script)
	if err != nil {
		return "", err
	}
	out, err := c.run(ctx, "sbatch", path)
	if err != nil {
		return "", err
	}
	return parseSubmitOutput(out)
}

// parseSubmitOutput extracts the job id from "Submitted batch job <id>".
func parseSubmitOutput(out []byte) (string, error) {
	fields := strings.Fields(string(out))
	if len(fields) == 0 {
		return "", errors.New("sbatch returned no output")
	}
	jobId := fields[len(fields)-1]
	for _, r := range jobId {
		if r < '0' || r > '9' {
			return "", errors.Errorf("unable to parse job id from sbatch output %q", strings.TrimSpace(string(out)))
		}
	}
	return jobId, nil
}

// Query asks squeue first and falls back to sacct once the job has left the queue.
func (c *SlurmClient) Query(ctx context.Context, jobId string) (Status, error) {
	out, err := c.run(ctx, "squeue", "-j", jobId, "-h", "-o", "%t")
	if err != nil && len(bytes.TrimSpace(out)) == 0 && !isInvalidJobId(err) {
		return StatusUnknown, err
	}
	if status := strings.TrimSpace(string(out)); status != "" {
		return ParseStatus(status), nil
	}

	out, err = c.run(ctx, "sacct", "-j", jobId, "-n", "-X", "-o", "State", "--starttime", c.config.HistoryWindow)
	if err != nil {
		return StatusUnknown, err
	}
	return ParseStatus(string(out)), nil
}

func (c *SlurmClient) Cancel(ctx context.Context, jobId string) error {
	_, err := c.run(ctx, "scancel", jobId)
	if err != nil {
		if isInvalidJobId(err) {
			return errors.WithStack(ErrJobNotFound)
		}
		return err
	}
	return nil
}

func (c *SlurmClient) List(ctx context.Context) ([]LiveJob, error) {
	out, err := c.run(ctx, "squeue", "-u", c.config.User, "-h", "-o", "%i|%j|%t")
	if err != nil {
		return nil, err
	}
	return parseListOutput(out), nil
}

func parseListOutput(out []byte) []LiveJob {
	jobs := []LiveJob{}
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		parts := strings.SplitN(strings.TrimSpace(scanner.Text()), "|", 3)
		if len(parts) != 3 {
			continue
		}
		jobs = append(jobs, LiveJob{JobId: parts[0], Name: parts[1], Status: ParseStatus(parts[2])})
	}
	return jobs
}

// Slurm reports jobs it has already purged as "Invalid job id specified".
func isInvalidJobId(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "invalid job id")
}

func writeScript(dir string, name string, script string) (string, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "error creating script directory %s", dir)
	}
	file, err := os.CreateTemp(dir, sanitizeFileName(name)+"-*.sh")
	if err != nil {
		return "", errors.Wrap(err, "error creating script file")
	}
	defer file.Close()
	if _, err := file.WriteString(script); err != nil {
		return "", errors.Wrapf(err, "error writing script %s", file.Name())
	}
	if err := file.Chmod(0o755); err != nil {
		return "", errors.Wrapf(err, "error making script %s executable", file.Name())
	}
	return filepath.Clean(file.Name()), nil
}

func sanitizeFileName(name string) string {
	if name == "" {
		return "job"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, name)
}
