package toolkit

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestExecRunner_CapturesStreamsSeparately(t *testing.T) {
	r := &ExecRunner{}
	res, err := r.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "echo out; echo err >&2"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(res.Stdout) != "out" {
		t.Errorf("expected stdout 'out', got %q", res.Stdout)
	}
	if strings.TrimSpace(res.Stderr) != "err" {
		t.Errorf("expected stderr 'err', got %q", res.Stderr)
	}
	if res.ExitCode != 0 {
		t.Errorf("expected exit code 0, got %d", res.ExitCode)
	}
}

func TestExecRunner_Stdin(t *testing.T) {
	r := &ExecRunner{}
	res, err := r.Run(context.Background(), Command{Name: "cat", Stdin: strings.NewReader("kind: Deployment")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Stdout != "kind: Deployment" {
		t.Errorf("expected stdin echoed, got %q", res.Stdout)
	}
}

func TestExecRunner_NonZeroExit(t *testing.T) {
	r := &ExecRunner{}
	res, err := r.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "echo partial; echo boom >&2; exit 3"}})
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("expected *CommandError, got %v", err)
	}
	if res.ExitCode != 3 || cmdErr.TimedOut {
		t.Errorf("unexpected result %+v (timed out %v)", res, cmdErr.TimedOut)
	}
	msg := err.Error()
	for _, want := range []string{"exit code 3", "stdout:\npartial", "stderr:\nboom"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected %q in %q", want, msg)
		}
	}
}

func TestExecRunner_Timeout(t *testing.T) {
	r := &ExecRunner{Timeout: 100 * time.Millisecond}
	start := time.Now()
	_, err := r.Run(context.Background(), Command{Name: "sleep", Args: []string{"5"}})
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) || !cmdErr.TimedOut {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if time.Since(start) > 4*time.Second {
		t.Errorf("runner did not stop the command promptly")
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("expected 'timed out' in %q", err.Error())
	}
}

func TestExecRunner_MissingBinary(t *testing.T) {
	r := &ExecRunner{}
	_, err := r.Run(context.Background(), Command{Name: "definitely-not-a-real-binary-xyz"})
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("expected *CommandError, got %v", err)
	}
	if cmdErr.TimedOut {
		t.Error("missing binary should not be reported as a timeout")
	}
}

func TestCommandString(t *testing.T) {
	c := Command{Name: "kubectl", Args: []string{"apply", "-f", "-"}}
	if c.String() != "kubectl apply -f -" {
		t.Errorf("unexpected %q", c.String())
	}
}
