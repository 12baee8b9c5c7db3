package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/seqflow-labs/seqflow-go/internal/pipelines"
)

// LocalExecutor drives a Nextflow binary on the orchestrator host. Each
// run gets its own launch directory under runsDir; the engine's pid file
// and a small run manifest live there.
type LocalExecutor struct {
	bin     string
	runsDir string

	// command runs a binary in dir and returns its combined output.
	// Overridable in tests.
	command func(ctx context.Context, dir, name string, args ...string) ([]byte, error)
}

func NewLocalExecutor(bin, runsDir string) (*LocalExecutor, error) {
	bin = strings.TrimSpace(bin)
	if bin == "" {
		bin = "nextflow"
	}
	if _, err := exec.LookPath(bin); err != nil {
		return nil, fmt.Errorf("nextflow binary not found: %w", err)
	}
	runsDir = strings.TrimSpace(runsDir)
	if runsDir == "" {
		return nil, errors.New("runs dir is required")
	}
	if err := os.MkdirAll(runsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create runs dir: %w", err)
	}
	return &LocalExecutor{
		bin:     bin,
		runsDir: runsDir,
		command: runCommand,
	}, nil
}

func runCommand(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

func (e *LocalExecutor) Kind() string {
	return "local"
}

type runManifest struct {
	RunName   string `json:"run_name"`
	JobID     string `json:"job_id"`
	WorkDir   string `json:"work_dir"`
	OutputDir string `json:"output_dir"`
}

func (e *LocalExecutor) Launch(ctx context.Context, req LaunchRequest) (LaunchResult, error) {
	if strings.TrimSpace(req.JobID) == "" {
		return LaunchResult{}, errors.New("job id is required")
	}
	if err := req.Pipeline.Validate(); err != nil {
		return LaunchResult{}, fmt.Errorf("%w: %v", ErrLaunchRejected, err)
	}

	runName := "sf-" + uuid.NewString()[:13]
	runDir := filepath.Join(e.runsDir, runName)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return LaunchResult{}, fmt.Errorf("create run dir: %w", err)
	}

	manifest := runManifest{
		RunName:   runName,
		JobID:     req.JobID,
		WorkDir:   req.WorkDir,
		OutputDir: req.OutputDir,
	}
	if err := writeManifest(runDir, manifest); err != nil {
		return LaunchResult{}, err
	}

	args := []string{"-bg", "run", req.Pipeline.Repo,
		"-name", runName,
		"-work-dir", req.WorkDir,
	}
	if rev := strings.TrimSpace(req.Pipeline.Revision); rev != "" {
		args = append(args, "-r", rev)
	}
	if profile := strings.TrimSpace(req.Pipeline.Profile); profile != "" {
		args = append(args, "-profile", profile)
	}
	args = append(args, "--outdir", req.OutputDir)
	args = append(args, paramArgs(req.Pipeline, req.Params)...)

	out, err := e.command(ctx, runDir, e.bin, args...)
	if err != nil {
		return LaunchResult{}, fmt.Errorf("%w: nextflow run failed: %v: %s",
			ErrLaunchRejected, err, strings.TrimSpace(string(out)))
	}
	return LaunchResult{ExternalID: runName, WorkDir: req.WorkDir}, nil
}

// paramArgs renders pipeline defaults overlaid with the job's parameters
// as --key value pairs, in stable order.
func paramArgs(pipeline pipelines.Pipeline, params map[string]any) []string {
	merged := make(map[string]string, len(pipeline.Defaults)+len(params))
	for k, v := range pipeline.Defaults {
		merged[k] = v
	}
	for k, v := range params {
		key := strings.TrimSpace(k)
		if key == "" {
			continue
		}
		merged[key] = fmt.Sprintf("%v", v)
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		args = append(args, "--"+k, merged[k])
	}
	return args
}

func (e *LocalExecutor) Poll(ctx context.Context, externalID string) (Observation, error) {
	runName := strings.TrimSpace(externalID)
	if runName == "" {
		return Observation{}, errors.New("external id is required")
	}
	runDir := filepath.Join(e.runsDir, runName)
	manifest, err := readManifest(runDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Observation{}, fmt.Errorf("%w: %s", ErrRunNotFound, runName)
		}
		return Observation{}, err
	}

	out, err := e.command(ctx, runDir, e.bin, "log", runName, "-f", "status")
	status := strings.ToUpper(strings.TrimSpace(string(out)))
	if err == nil && status != "" && status != "-" {
		obs := Observation{Status: status}
		if status == "OK" {
			obs.OutputDir = manifest.OutputDir
		}
		return obs, nil
	}

	// No final status recorded yet; fall back to the engine process.
	pid, pidErr := readPidFile(runDir)
	if pidErr != nil {
		return Observation{Status: "failed", Message: "engine pid file missing"}, nil
	}
	if processAlive(pid) {
		return Observation{Status: "running"}, nil
	}
	return Observation{Status: "failed", Message: "engine process exited without a final status"}, nil
}

func (e *LocalExecutor) Cancel(ctx context.Context, externalID string) error {
	runName := strings.TrimSpace(externalID)
	if runName == "" {
		return errors.New("external id is required")
	}
	runDir := filepath.Join(e.runsDir, runName)
	pid, err := readPidFile(runDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runName)
		}
		return err
	}
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			// Already gone; a later poll reports the final status.
			return nil
		}
		return fmt.Errorf("signal engine process: %w", err)
	}
	return nil
}

func writeManifest(runDir string, manifest runManifest) error {
	raw, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(runDir, "run.json"), raw, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

func readManifest(runDir string) (runManifest, error) {
	raw, err := os.ReadFile(filepath.Join(runDir, "run.json"))
	if err != nil {
		return runManifest{}, err
	}
	var manifest runManifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return runManifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	return manifest, nil
}

func readPidFile(runDir string) (int, error) {
	raw, err := os.ReadFile(filepath.Join(runDir, ".nextflow.pid"))
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid file: %q", strings.TrimSpace(string(raw)))
	}
	return pid, nil
}

func processAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
