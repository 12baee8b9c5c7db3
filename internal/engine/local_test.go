package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/seqflow-labs/seqflow-go/internal/pipelines"
)

type commandCall struct {
	dir  string
	name string
	args []string
}

func newTestExecutor(t *testing.T, out string, err error) (*LocalExecutor, *[]commandCall) {
	t.Helper()
	calls := &[]commandCall{}
	return &LocalExecutor{
		bin:     "nextflow",
		runsDir: t.TempDir(),
		command: func(_ context.Context, dir, name string, args ...string) ([]byte, error) {
			*calls = append(*calls, commandCall{dir: dir, name: name, args: args})
			return []byte(out), err
		},
	}, calls
}

func testPipeline() pipelines.Pipeline {
	return pipelines.Pipeline{
		ID:       "rnaseq",
		Name:     "RNA-Seq",
		Repo:     "https://github.com/nf-core/rnaseq",
		Revision: "3.14.0",
		Profile:  "docker",
		Defaults: map[string]string{"genome": "GRCh38"},
	}
}

func TestLocalLaunchBuildsCommand(t *testing.T) {
	exec, calls := newTestExecutor(t, "", nil)

	result, err := exec.Launch(context.Background(), LaunchRequest{
		JobID:     "job-1",
		Pipeline:  testPipeline(),
		Params:    map[string]any{"aligner": "star_salmon", "genome": "GRCm39"},
		WorkDir:   "s3://pipeline-data/work/job-1",
		OutputDir: "s3://pipeline-data/results/job-1",
	})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if !strings.HasPrefix(result.ExternalID, "sf-") {
		t.Errorf("external id = %q", result.ExternalID)
	}
	if len(*calls) != 1 {
		t.Fatalf("command calls = %d, want 1", len(*calls))
	}

	joined := strings.Join((*calls)[0].args, " ")
	for _, fragment := range []string{
		"-bg run https://github.com/nf-core/rnaseq",
		"-name " + result.ExternalID,
		"-work-dir s3://pipeline-data/work/job-1",
		"-r 3.14.0",
		"-profile docker",
		"--outdir s3://pipeline-data/results/job-1",
		// Job params override pipeline defaults, rendered in sorted order.
		"--aligner star_salmon --genome GRCm39",
	} {
		if !strings.Contains(joined, fragment) {
			t.Errorf("command %q missing %q", joined, fragment)
		}
	}

	manifest, err := readManifest(filepath.Join(exec.runsDir, result.ExternalID))
	if err != nil {
		t.Fatalf("readManifest: %v", err)
	}
	if manifest.JobID != "job-1" || manifest.OutputDir != "s3://pipeline-data/results/job-1" {
		t.Errorf("manifest = %+v", manifest)
	}
}

func TestLocalLaunchRejectsInvalidPipeline(t *testing.T) {
	exec, calls := newTestExecutor(t, "", nil)
	_, err := exec.Launch(context.Background(), LaunchRequest{
		JobID:    "job-1",
		Pipeline: pipelines.Pipeline{ID: "broken"},
	})
	if !errors.Is(err, ErrLaunchRejected) {
		t.Fatalf("err = %v, want ErrLaunchRejected", err)
	}
	if len(*calls) != 0 {
		t.Error("invalid pipeline must not reach the engine binary")
	}
}

func TestLocalLaunchCommandFailure(t *testing.T) {
	exec, _ := newTestExecutor(t, "Unknown revision", errors.New("exit status 1"))
	_, err := exec.Launch(context.Background(), LaunchRequest{
		JobID:    "job-1",
		Pipeline: testPipeline(),
	})
	if !errors.Is(err, ErrLaunchRejected) {
		t.Fatalf("err = %v, want ErrLaunchRejected", err)
	}
	if !strings.Contains(err.Error(), "Unknown revision") {
		t.Errorf("engine output not surfaced: %v", err)
	}
}

func TestLocalPollFinalStatus(t *testing.T) {
	exec, _ := newTestExecutor(t, "OK\n", nil)
	runDir := filepath.Join(exec.runsDir, "sf-run")
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := writeManifest(runDir, runManifest{
		RunName:   "sf-run",
		JobID:     "job-1",
		OutputDir: "s3://pipeline-data/results/job-1",
	}); err != nil {
		t.Fatal(err)
	}

	obs, err := exec.Poll(context.Background(), "sf-run")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if obs.Status != "OK" {
		t.Errorf("status = %q", obs.Status)
	}
	if obs.OutputDir != "s3://pipeline-data/results/job-1" {
		t.Errorf("output dir = %q, final status must carry the manifest location", obs.OutputDir)
	}
}

func TestLocalPollUnknownRun(t *testing.T) {
	exec, _ := newTestExecutor(t, "", nil)
	_, err := exec.Poll(context.Background(), "sf-missing")
	if !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("err = %v, want ErrRunNotFound", err)
	}
}

func TestLocalPollNoStatusNoPid(t *testing.T) {
	exec, _ := newTestExecutor(t, "-\n", nil)
	runDir := filepath.Join(exec.runsDir, "sf-run")
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := writeManifest(runDir, runManifest{RunName: "sf-run", JobID: "job-1"}); err != nil {
		t.Fatal(err)
	}

	obs, err := exec.Poll(context.Background(), "sf-run")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if obs.Status != "failed" {
		t.Errorf("status = %q, a run without status or pid file has died", obs.Status)
	}
}

func TestLocalPollAliveProcess(t *testing.T) {
	exec, _ := newTestExecutor(t, "", errors.New("no log entry"))
	runDir := filepath.Join(exec.runsDir, "sf-run")
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := writeManifest(runDir, runManifest{RunName: "sf-run", JobID: "job-1"}); err != nil {
		t.Fatal(err)
	}
	// Our own pid is as alive as it gets.
	pid := []byte(strconv.Itoa(os.Getpid()))
	if err := os.WriteFile(filepath.Join(runDir, ".nextflow.pid"), pid, 0o644); err != nil {
		t.Fatal(err)
	}

	obs, err := exec.Poll(context.Background(), "sf-run")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if obs.Status != "running" {
		t.Errorf("status = %q, want running while the process is alive", obs.Status)
	}
}

func TestLocalCancelUnknownRun(t *testing.T) {
	exec, _ := newTestExecutor(t, "", nil)
	if err := exec.Cancel(context.Background(), "sf-missing"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("err = %v, want ErrRunNotFound", err)
	}
}
