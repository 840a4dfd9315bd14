package toolkit

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"
)

func testPod(ns, name, ip string, phase corev1.PodPhase, created time.Time) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: ns, CreationTimestamp: metav1.NewTime(created)},
		Status:     corev1.PodStatus{Phase: phase, PodIP: ip},
	}
}

func TestGetPods_Table(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	cs := fake.NewSimpleClientset(
		testPod("kube-system", "coredns-1", "10.0.0.2", corev1.PodRunning, now.Add(-2*time.Hour)),
		testPod("default", "web-1", "", corev1.PodPending, now.Add(-5*time.Minute)),
	)
	tool := &GetPodsTool{Kube: NewStaticKubeHandle(cs), Now: func() time.Time { return now }}

	out, err := tool.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lines := strings.Split(out, "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header plus 2 rows, got %q", out)
	}
	if !strings.HasPrefix(lines[0], "NAME") || !strings.Contains(lines[0], "NAMESPACE") {
		t.Errorf("unexpected header %q", lines[0])
	}
	// default sorts before kube-system
	if !strings.HasPrefix(lines[1], "web-1") || !strings.Contains(lines[1], "<none>") || !strings.Contains(lines[1], "5 minutes") {
		t.Errorf("unexpected first row %q", lines[1])
	}
	if !strings.Contains(lines[2], "10.0.0.2") || !strings.Contains(lines[2], "Running") {
		t.Errorf("unexpected second row %q", lines[2])
	}
}

func TestGetPods_Empty(t *testing.T) {
	tool := &GetPodsTool{Kube: NewStaticKubeHandle(fake.NewSimpleClientset())}
	out, err := tool.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "No pods found." {
		t.Errorf("unexpected output %q", out)
	}
}

func TestGetPods_UnauthorizedInvalidatesClient(t *testing.T) {
	builds := 0
	cs := fake.NewSimpleClientset()
	cs.PrependReactor("list", "pods", func(k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, apierrors.NewUnauthorized("token expired")
	})
	handle := &KubeHandle{build: func(KubeConfig) (kubernetes.Interface, error) {
		builds++
		return cs, nil
	}}
	tool := &GetPodsTool{Kube: handle}

	for i := 0; i < 2; i++ {
		if _, err := tool.Execute(context.Background(), nil); err == nil {
			t.Fatal("expected unauthorized error")
		}
	}
	if builds != 2 {
		t.Errorf("expected the client to be rebuilt after Unauthorized, got %d builds", builds)
	}
}

func TestKubeHandle_CachesClient(t *testing.T) {
	builds := 0
	handle := &KubeHandle{build: func(KubeConfig) (kubernetes.Interface, error) {
		builds++
		return fake.NewSimpleClientset(), nil
	}}
	handle.Client()
	handle.Client()
	if builds != 1 {
		t.Errorf("expected 1 build, got %d", builds)
	}
	handle.Invalidate()
	handle.Client()
	if builds != 2 {
		t.Errorf("expected rebuild after Invalidate, got %d", builds)
	}
}

func TestKubeHandle_BuildError(t *testing.T) {
	handle := &KubeHandle{build: func(KubeConfig) (kubernetes.Interface, error) {
		return nil, errors.New("no kubeconfig")
	}}
	tool := &GetPodsTool{Kube: handle}
	if _, err := tool.Execute(context.Background(), nil); err == nil || !strings.Contains(err.Error(), "no kubeconfig") {
		t.Fatalf("expected build error, got %v", err)
	}
}

func TestCreateDemoNginx(t *testing.T) {
	cs := fake.NewSimpleClientset()
	tool := &CreateDemoNginxTool{Kube: NewStaticKubeHandle(cs)}

	out, err := tool.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(out, "Nginx demo is up!") || strings.Contains(out, "already") {
		t.Errorf("unexpected output %q", out)
	}

	pod, err := cs.CoreV1().Pods("default").Get(context.Background(), "nginx-demo", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("pod not created: %v", err)
	}
	if pod.Labels["app"] != "nginx-demo" {
		t.Errorf("unexpected pod labels %v", pod.Labels)
	}
	svc, err := cs.CoreV1().Services("default").Get(context.Background(), "nginx-demo", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("service not created: %v", err)
	}
	if svc.Spec.Type != corev1.ServiceTypeLoadBalancer || svc.Spec.Selector["app"] != "nginx-demo" {
		t.Errorf("unexpected service spec %+v", svc.Spec)
	}

	// A second run finds both objects and still succeeds.
	out, err = tool.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error on rerun: %v", err)
	}
	if !strings.Contains(out, "pod already existed") || !strings.Contains(out, "service already existed") {
		t.Errorf("expected already-existed notes, got %q", out)
	}
}

type recordedCommand struct {
	Command
	stdin string
}

type fakeRunner struct {
	calls []recordedCommand
	fail  map[string]error // keyed by first argument
	out   map[string]string
}

func (f *fakeRunner) Run(_ context.Context, c Command) (Result, error) {
	rec := recordedCommand{Command: c}
	if c.Stdin != nil {
		b, _ := io.ReadAll(c.Stdin)
		rec.stdin = string(b)
	}
	f.calls = append(f.calls, rec)
	key := ""
	if len(c.Args) > 0 {
		key = c.Args[0]
	}
	if err := f.fail[key]; err != nil {
		return Result{ExitCode: 1}, err
	}
	return Result{Stdout: f.out[key]}, nil
}

func TestApplyDeployment(t *testing.T) {
	runner := &fakeRunner{out: map[string]string{
		"apply":   "deployment.apps/api configured\n",
		"rollout": "deployment \"api\" successfully rolled out\n",
	}}
	tool := &ApplyDeploymentTool{Runner: runner}

	out, err := tool.Execute(context.Background(), map[string]any{
		"name": "api", "image": "ghcr.io/acme/api:1.2", "replicas": float64(3), "port": "8080",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "configured") || !strings.Contains(out, "successfully rolled out") {
		t.Errorf("unexpected output %q", out)
	}
	if len(runner.calls) != 2 {
		t.Fatalf("expected 2 kubectl calls, got %d", len(runner.calls))
	}

	apply := runner.calls[0]
	if apply.Name != "kubectl" || strings.Join(apply.Args, " ") != "apply -f -" {
		t.Errorf("unexpected apply command %s", apply.Command)
	}
	var manifest map[string]any
	if err := yaml.Unmarshal([]byte(apply.stdin), &manifest); err != nil {
		t.Fatalf("manifest is not YAML: %v", err)
	}
	if manifest["kind"] != "Deployment" {
		t.Errorf("unexpected manifest %v", manifest)
	}
	spec := manifest["spec"].(map[string]any)
	if spec["replicas"] != 3 {
		t.Errorf("expected 3 replicas, got %v", spec["replicas"])
	}
	if !strings.Contains(apply.stdin, "containerPort: 8080") || !strings.Contains(apply.stdin, "image: ghcr.io/acme/api:1.2") {
		t.Errorf("unexpected manifest:\n%s", apply.stdin)
	}

	rollout := runner.calls[1]
	want := "rollout status deployment/api -n default --timeout=60s"
	if strings.Join(rollout.Args, " ") != want {
		t.Errorf("expected %q, got %q", want, strings.Join(rollout.Args, " "))
	}
}

func TestApplyDeployment_Validation(t *testing.T) {
	tool := &ApplyDeploymentTool{Runner: &fakeRunner{}}
	if _, err := tool.Execute(context.Background(), map[string]any{"name": "api"}); err == nil {
		t.Error("expected error without image")
	}
	if _, err := tool.Execute(context.Background(), map[string]any{"name": "api", "image": "x", "replicas": 1.5}); err == nil {
		t.Error("expected error for fractional replicas")
	}
}

func TestApplyDeployment_RolloutFailureCarriesOutput(t *testing.T) {
	runner := &fakeRunner{fail: map[string]error{
		"rollout": &CommandError{Command: "kubectl rollout status", Result: Result{ExitCode: 1, Stderr: "error: deployment exceeded its progress deadline"}},
	}}
	tool := &ApplyDeploymentTool{Runner: runner, Kubectl: "/usr/local/bin/kubectl"}

	_, err := tool.Execute(context.Background(), map[string]any{"name": "api", "image": "nginx"})
	if err == nil {
		t.Fatal("expected rollout error")
	}
	if !strings.Contains(err.Error(), "progress deadline") {
		t.Errorf("expected stderr in error, got %q", err.Error())
	}
	if runner.calls[0].Name != "/usr/local/bin/kubectl" {
		t.Errorf("expected custom kubectl path, got %q", runner.calls[0].Name)
	}
}

func TestRenderDeployment_OmitsPortWhenZero(t *testing.T) {
	out, err := RenderDeployment("worker", "jobs", "busybox", 1, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := string(out)
	if strings.Contains(s, "ports") {
		t.Errorf("expected no ports section:\n%s", s)
	}
	if !strings.Contains(s, "namespace: jobs") || !strings.HasPrefix(s, "apiVersion: apps/v1") {
		t.Errorf("unexpected manifest:\n%s", s)
	}
}
