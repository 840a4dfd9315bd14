package toolkit

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
)

// KubeConfig locates the cluster. An empty Kubeconfig falls back to
// $KUBECONFIG, then ~/.kube/config, then in-cluster configuration.
type KubeConfig struct {
	Kubeconfig string
}

// KubeConfigFromEnv reads KUBECONFIG.
func KubeConfigFromEnv() KubeConfig {
	return KubeConfig{Kubeconfig: os.Getenv("KUBECONFIG")}
}

func (c KubeConfig) path() string {
	if c.Kubeconfig != "" {
		return c.Kubeconfig
	}
	if home, err := os.UserHomeDir(); err == nil {
		p := filepath.Join(home, ".kube", "config")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// KubeHandle lazily builds a clientset and caches it until Invalidate is called.
type KubeHandle struct {
	mu     sync.Mutex
	cfg    KubeConfig
	client kubernetes.Interface
	build  func(KubeConfig) (kubernetes.Interface, error)
}

// NewKubeHandle returns a handle that builds clients from cfg.
func NewKubeHandle(cfg KubeConfig) *KubeHandle {
	return &KubeHandle{cfg: cfg, build: buildClientset}
}

// NewStaticKubeHandle wraps an existing client, e.g. a fake clientset.
func NewStaticKubeHandle(client kubernetes.Interface) *KubeHandle {
	return &KubeHandle{
		client: client,
		build:  func(KubeConfig) (kubernetes.Interface, error) { return client, nil },
	}
}

func buildClientset(cfg KubeConfig) (kubernetes.Interface, error) {
	restCfg, err := clientcmd.BuildConfigFromFlags("", cfg.path())
	if err != nil {
		return nil, fmt.Errorf("kubernetes: load config: %w", err)
	}
	cs, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("kubernetes: create client: %w", err)
	}
	return cs, nil
}

// Client returns the cached clientset, building it on first use.
func (h *KubeHandle) Client() (kubernetes.Interface, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.client != nil {
		return h.client, nil
	}
	cs, err := h.build(h.cfg)
	if err != nil {
		return nil, err
	}
	h.client = cs
	return cs, nil
}

// Invalidate drops the cached clientset so the next call rereads the kubeconfig.
func (h *KubeHandle) Invalidate() {
	h.mu.Lock()
	h.client = nil
	h.mu.Unlock()
}

// --- get_pods ---

// GetPodsTool lists pods in every namespace.
type GetPodsTool struct {
	Kube *KubeHandle
	Now  func() time.Time
}

func (t *GetPodsTool) Name() string { return "get_pods" }
func (t *GetPodsTool) Description() string {
	return "List all Kubernetes pods across namespaces with their phase and IP"
}
func (t *GetPodsTool) Parameters() map[string]any { return emptySchema() }

func (t *GetPodsTool) Execute(ctx context.Context, _ map[string]any) (string, error) {
	cs, err := t.Kube.Client()
	if err != nil {
		return "", err
	}
	pods, err := cs.CoreV1().Pods("").List(ctx, metav1.ListOptions{})
	if err != nil {
		if apierrors.IsUnauthorized(err) {
			// Credentials may have rotated; reread the kubeconfig next time.
			t.Kube.Invalidate()
		}
		return "", fmt.Errorf("get_pods: %w", err)
	}
	if len(pods.Items) == 0 {
		return "No pods found.", nil
	}

	items := pods.Items
	sort.Slice(items, func(i, j int) bool {
		if items[i].Namespace != items[j].Namespace {
			return items[i].Namespace < items[j].Namespace
		}
		return items[i].Name < items[j].Name
	})

	now := time.Now()
	if t.Now != nil {
		now = t.Now()
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tNAMESPACE\tPHASE\tIP\tAGE")
	for _, p := range items {
		ip := p.Status.PodIP
		if ip == "" {
			ip = "<none>"
		}
		age := "-"
		if !p.CreationTimestamp.IsZero() {
			age = humanize.RelTime(p.CreationTimestamp.Time, now, "", "")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", p.Name, p.Namespace, p.Status.Phase, ip, strings.TrimSpace(age))
	}
	w.Flush()
	return strings.TrimRight(buf.String(), "\n"), nil
}

// --- create_demo_nginx ---

const demoNginxName = "nginx-demo"

// CreateDemoNginxTool creates a labelled nginx pod and a LoadBalancer service in default.
type CreateDemoNginxTool struct {
	Kube *KubeHandle
}

func (t *CreateDemoNginxTool) Name() string { return "create_demo_nginx" }
func (t *CreateDemoNginxTool) Description() string {
	return "Create a demo Nginx pod and LoadBalancer service in the default namespace"
}
func (t *CreateDemoNginxTool) Parameters() map[string]any { return emptySchema() }

func (t *CreateDemoNginxTool) Execute(ctx context.Context, _ map[string]any) (string, error) {
	cs, err := t.Kube.Client()
	if err != nil {
		return "", err
	}
	labels := map[string]string{"app": demoNginxName}

	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: demoNginxName, Labels: labels},
		Spec: corev1.PodSpec{
			Containers: []corev1.Container{{
				Name:            "nginx",
				Image:           "docker.io/library/nginx:latest",
				ImagePullPolicy: corev1.PullIfNotPresent,
				Ports:           []corev1.ContainerPort{{ContainerPort: 80}},
			}},
		},
	}
	var notes []string
	if _, err := cs.CoreV1().Pods("default").Create(ctx, pod, metav1.CreateOptions{}); err != nil {
		if !apierrors.IsAlreadyExists(err) {
			return "", fmt.Errorf("create_demo_nginx: pod: %w", err)
		}
		notes = append(notes, "pod already existed")
	}

	svc := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{Name: demoNginxName, Labels: labels},
		Spec: corev1.ServiceSpec{
			Type:     corev1.ServiceTypeLoadBalancer,
			Selector: labels,
			Ports:    []corev1.ServicePort{{Port: 80, TargetPort: intstr.FromInt32(80)}},
		},
	}
	if _, err := cs.CoreV1().Services("default").Create(ctx, svc, metav1.CreateOptions{}); err != nil {
		if !apierrors.IsAlreadyExists(err) {
			return "", fmt.Errorf("create_demo_nginx: service: %w", err)
		}
		notes = append(notes, "service already existed")
	}

	msg := "Nginx demo is up! Service default/" + demoNginxName + " (LoadBalancer, port 80)."
	if len(notes) > 0 {
		msg += " Note: " + strings.Join(notes, ", ") + "."
	}
	return msg, nil
}

// --- apply_deployment ---

// ApplyDeploymentTool renders a Deployment manifest, applies it with kubectl and
// waits for the rollout. The rollout wait is bounded to 60 seconds.
type ApplyDeploymentTool struct {
	Runner  Runner
	Kubectl string // default "kubectl"
}

func (t *ApplyDeploymentTool) Name() string { return "apply_deployment" }
func (t *ApplyDeploymentTool) Description() string {
	return "Create or update a Kubernetes Deployment with the given image and wait for it to roll out"
}
func (t *ApplyDeploymentTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":      map[string]any{"type": "string", "description": "Deployment name"},
			"image":     map[string]any{"type": "string", "description": "Container image"},
			"replicas":  map[string]any{"type": "integer", "description": "Replica count (default 1)"},
			"namespace": map[string]any{"type": "string", "description": "Namespace (default \"default\")"},
			"port":      map[string]any{"type": "integer", "description": "Container port to expose"},
		},
		"required": []string{"name", "image"},
	}
}

// manifest types keep yaml.v3 field order stable.
type deploymentManifest struct {
	APIVersion string             `yaml:"apiVersion"`
	Kind       string             `yaml:"kind"`
	Metadata   manifestMeta       `yaml:"metadata"`
	Spec       deploymentSpecYAML `yaml:"spec"`
}

type manifestMeta struct {
	Name      string            `yaml:"name"`
	Namespace string            `yaml:"namespace,omitempty"`
	Labels    map[string]string `yaml:"labels,omitempty"`
}

type deploymentSpecYAML struct {
	Replicas int `yaml:"replicas"`
	Selector struct {
		MatchLabels map[string]string `yaml:"matchLabels"`
	} `yaml:"selector"`
	Template struct {
		Metadata manifestMeta `yaml:"metadata"`
		Spec     struct {
			Containers []containerYAML `yaml:"containers"`
		} `yaml:"spec"`
	} `yaml:"template"`
}

type containerYAML struct {
	Name  string     `yaml:"name"`
	Image string     `yaml:"image"`
	Ports []portYAML `yaml:"ports,omitempty"`
}

type portYAML struct {
	ContainerPort int `yaml:"containerPort"`
}

// RenderDeployment builds the YAML manifest applied by apply_deployment.
func RenderDeployment(name, namespace, image string, replicas, port int) ([]byte, error) {
	labels := map[string]string{"app": name}
	m := deploymentManifest{
		APIVersion: "apps/v1",
		Kind:       "Deployment",
		Metadata:   manifestMeta{Name: name, Namespace: namespace, Labels: labels},
	}
	m.Spec.Replicas = replicas
	m.Spec.Selector.MatchLabels = labels
	m.Spec.Template.Metadata = manifestMeta{Labels: labels}
	c := containerYAML{Name: name, Image: image}
	if port > 0 {
		c.Ports = []portYAML{{ContainerPort: port}}
	}
	m.Spec.Template.Spec.Containers = []containerYAML{c}

	out, err := yaml.Marshal(&m)
	if err != nil {
		return nil, fmt.Errorf("render deployment: %w", err)
	}
	return out, nil
}

func (t *ApplyDeploymentTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	name := getString(params, "name")
	image := getString(params, "image")
	if name == "" || image == "" {
		return "", fmt.Errorf("apply_deployment: name and image are required")
	}
	namespace := getString(params, "namespace")
	if namespace == "" {
		namespace = "default"
	}
	replicas, err := getInt(params, "replicas", 1)
	if err != nil {
		return "", fmt.Errorf("apply_deployment: %w", err)
	}
	port, err := getInt(params, "port", 0)
	if err != nil {
		return "", fmt.Errorf("apply_deployment: %w", err)
	}

	manifest, err := RenderDeployment(name, namespace, image, replicas, port)
	if err != nil {
		return "", err
	}

	kubectl := t.Kubectl
	if kubectl == "" {
		kubectl = "kubectl"
	}

	applied, err := t.Runner.Run(ctx, Command{
		Name:  kubectl,
		Args:  []string{"apply", "-f", "-"},
		Stdin: bytes.NewReader(manifest),
	})
	if err != nil {
		return "", fmt.Errorf("apply_deployment: %w", err)
	}

	rollout, err := t.Runner.Run(ctx, Command{
		Name: kubectl,
		Args: []string{"rollout", "status", "deployment/" + name, "-n", namespace, "--timeout=60s"},
	})
	if err != nil {
		return "", fmt.Errorf("apply_deployment: rollout: %w", err)
	}

	return fmt.Sprintf("%s\n%s", strings.TrimSpace(applied.Stdout), strings.TrimSpace(rollout.Stdout)), nil
}
