package toolkit

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/luthermonson/go-proxmox"
)

// ProxmoxConfig holds API-token credentials for a Proxmox VE cluster.
type ProxmoxConfig struct {
	Host       string // host, host:port or https://host:port
	User       string // e.g. root@pam
	TokenName  string
	TokenValue string
	Insecure   bool // skip TLS verification for self-signed certificates
}

// ProxmoxConfigFromEnv reads PROXMOX_HOST, PROXMOX_USER, PROXMOX_TOKEN_NAME,
// PROXMOX_TOKEN_VALUE and PROXMOX_VERIFY_SSL.
func ProxmoxConfigFromEnv() ProxmoxConfig {
	verify := true
	if v := os.Getenv("PROXMOX_VERIFY_SSL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			verify = b
		}
	}
	return ProxmoxConfig{
		Host:       os.Getenv("PROXMOX_HOST"),
		User:       os.Getenv("PROXMOX_USER"),
		TokenName:  os.Getenv("PROXMOX_TOKEN_NAME"),
		TokenValue: os.Getenv("PROXMOX_TOKEN_VALUE"),
		Insecure:   !verify,
	}
}

// Validate reports the first missing setting.
func (c ProxmoxConfig) Validate() error {
	var missing []string
	if c.Host == "" {
		missing = append(missing, "PROXMOX_HOST")
	}
	if c.User == "" {
		missing = append(missing, "PROXMOX_USER")
	}
	if c.TokenName == "" {
		missing = append(missing, "PROXMOX_TOKEN_NAME")
	}
	if c.TokenValue == "" {
		missing = append(missing, "PROXMOX_TOKEN_VALUE")
	}
	if len(missing) > 0 {
		return fmt.Errorf("proxmox: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// BaseURL returns the API root, defaulting to https and port 8006.
func (c ProxmoxConfig) BaseURL() string {
	host := strings.TrimRight(c.Host, "/")
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	u, err := url.Parse(host)
	if err == nil && u.Port() == "" {
		u.Host += ":8006"
		host = u.String()
	}
	return host + "/api2/json"
}

// ProxmoxClient wraps the go-proxmox API client with the queries the tools need.
type ProxmoxClient struct {
	api *proxmox.Client
}

// NewProxmoxClient validates cfg and creates a client. httpClient may be nil.
func NewProxmoxClient(cfg ProxmoxConfig, httpClient *http.Client) (*ProxmoxClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if httpClient == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if cfg.Insecure {
			// #nosec G402 -- opt-in via PROXMOX_VERIFY_SSL=false for self-signed clusters
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		httpClient = &http.Client{Timeout: 30 * time.Second, Transport: transport}
	}
	api := proxmox.NewClient(cfg.BaseURL(),
		proxmox.WithHTTPClient(httpClient),
		proxmox.WithAPIToken(cfg.User+"!"+cfg.TokenName, cfg.TokenValue),
	)
	return &ProxmoxClient{api: api}, nil
}

// ProxmoxVM is one guest from the cluster resource list.
type ProxmoxVM struct {
	ID     int
	Name   string
	Node   string
	Type   string // qemu or lxc
	Status string
}

// Running reports whether the guest is running.
func (v ProxmoxVM) Running() bool { return v.Status == "running" }

// VMs lists every guest in the cluster ordered by ID.
func (c *ProxmoxClient) VMs(ctx context.Context) ([]ProxmoxVM, error) {
	cluster, err := c.api.Cluster(ctx)
	if err != nil {
		return nil, fmt.Errorf("proxmox: cluster status: %w", err)
	}
	resources, err := cluster.Resources(ctx, "vm")
	if err != nil {
		return nil, fmt.Errorf("proxmox: cluster resources: %w", err)
	}
	var vms []ProxmoxVM
	for _, r := range resources {
		if r == nil || (r.Type != "qemu" && r.Type != "lxc") {
			continue
		}
		vms = append(vms, ProxmoxVM{
			ID:     int(r.VMID),
			Name:   r.Name,
			Node:   r.Node,
			Type:   r.Type,
			Status: r.Status,
		})
	}
	sort.Slice(vms, func(i, j int) bool { return vms[i].ID < vms[j].ID })
	return vms, nil
}

// VM finds a guest by ID.
func (c *ProxmoxClient) VM(ctx context.Context, id string) (ProxmoxVM, error) {
	vmid, err := strconv.Atoi(strings.TrimSpace(id))
	if err != nil {
		return ProxmoxVM{}, fmt.Errorf("proxmox: invalid vm id %q", id)
	}
	vms, err := c.VMs(ctx)
	if err != nil {
		return ProxmoxVM{}, err
	}
	for _, vm := range vms {
		if vm.ID == vmid {
			return vm, nil
		}
	}
	return ProxmoxVM{}, fmt.Errorf("proxmox: vm %d not found", vmid)
}

// SetPower starts or stops a virtual machine and returns the task UPID.
func (c *ProxmoxClient) SetPower(ctx context.Context, vm ProxmoxVM, action string) (string, error) {
	if vm.Type == "lxc" {
		return "", fmt.Errorf("proxmox: guest %d is a container, only virtual machines can be powered on or off", vm.ID)
	}
	node, err := c.api.Node(ctx, vm.Node)
	if err != nil {
		return "", fmt.Errorf("proxmox: node %s: %w", vm.Node, err)
	}
	guest, err := node.VirtualMachine(ctx, vm.ID)
	if err != nil {
		return "", fmt.Errorf("proxmox: vm %d: %w", vm.ID, err)
	}

	var task *proxmox.Task
	switch action {
	case "start":
		task, err = guest.Start(ctx)
	case "stop":
		task, err = guest.Stop(ctx)
	default:
		return "", fmt.Errorf("proxmox: unknown power action %q", action)
	}
	if err != nil {
		return "", fmt.Errorf("proxmox: %s vm %d: %w", action, vm.ID, err)
	}
	if task == nil {
		return "", nil
	}
	return string(task.UPID), nil
}

// ProxmoxNode is one cluster node with its load.
type ProxmoxNode struct {
	Node   string
	Status string
	CPU    float64
	MaxCPU int
	Mem    uint64
	MaxMem uint64
	Uptime int64
}

// Nodes lists cluster nodes.
func (c *ProxmoxClient) Nodes(ctx context.Context) ([]ProxmoxNode, error) {
	statuses, err := c.api.Nodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("proxmox: nodes: %w", err)
	}
	nodes := make([]ProxmoxNode, 0, len(statuses))
	for _, n := range statuses {
		if n == nil {
			continue
		}
		nodes = append(nodes, ProxmoxNode{
			Node:   n.Node,
			Status: n.Status,
			CPU:    float64(n.CPU),
			MaxCPU: int(n.MaxCPU),
			Mem:    uint64(n.Mem),
			MaxMem: uint64(n.MaxMem),
			Uptime: int64(n.Uptime),
		})
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Node < nodes[j].Node })
	return nodes, nil
}

// ProxmoxUser is one access user.
type ProxmoxUser struct {
	UserID  string
	Enabled bool
	Email   string
	Comment string
}

// Users lists access users.
func (c *ProxmoxClient) Users(ctx context.Context) ([]ProxmoxUser, error) {
	list, err := c.api.Users(ctx)
	if err != nil {
		return nil, fmt.Errorf("proxmox: users: %w", err)
	}
	users := make([]ProxmoxUser, 0, len(list))
	for _, u := range list {
		if u == nil {
			continue
		}
		// The API reports enable as 0/1; go-proxmox may surface it as a bool.
		enable := fmt.Sprint(u.Enable)
		users = append(users, ProxmoxUser{
			UserID:  u.UserID,
			Enabled: enable == "1" || enable == "true",
			Email:   u.Email,
			Comment: u.Comment,
		})
	}
	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })
	return users, nil
}

// --- tools ---

// Proxmox builds a client per call from freshly loaded configuration.
type Proxmox struct {
	LoadConfig func() ProxmoxConfig // default ProxmoxConfigFromEnv
	HTTPClient *http.Client
}

func (p *Proxmox) client() (*ProxmoxClient, error) {
	load := p.LoadConfig
	if load == nil {
		load = ProxmoxConfigFromEnv
	}
	return NewProxmoxClient(load(), p.HTTPClient)
}

// Tools returns every Proxmox tool.
func (p *Proxmox) Tools() []Tool {
	return []Tool{
		&proxmoxVMsTool{p},
		&proxmoxNodesTool{p},
		&proxmoxUsersTool{p},
		&proxmoxPowerTool{p: p, action: "start"},
		&proxmoxPowerTool{p: p, action: "stop"},
	}
}

type proxmoxVMsTool struct{ p *Proxmox }

func (t *proxmoxVMsTool) Name() string { return "get_proxmox_virtual_machines" }
func (t *proxmoxVMsTool) Description() string {
	return "List every Proxmox virtual machine with its node and whether it is running"
}
func (t *proxmoxVMsTool) Parameters() map[string]any { return emptySchema() }

func (t *proxmoxVMsTool) Execute(ctx context.Context, _ map[string]any) (string, error) {
	c, err := t.p.client()
	if err != nil {
		return "", err
	}
	vms, err := c.VMs(ctx)
	if err != nil {
		return "", err
	}
	if len(vms) == 0 {
		return "No virtual machines found.", nil
	}
	var b strings.Builder
	for _, vm := range vms {
		fmt.Fprintf(&b, "Id: %d, Node: %s, Running: %t\n", vm.ID, vm.Node, vm.Running())
	}
	return b.String(), nil
}

type proxmoxNodesTool struct{ p *Proxmox }

func (t *proxmoxNodesTool) Name() string { return "get_proxmox_nodes" }
func (t *proxmoxNodesTool) Description() string {
	return "List Proxmox cluster nodes with status and resource usage"
}
func (t *proxmoxNodesTool) Parameters() map[string]any { return emptySchema() }

func (t *proxmoxNodesTool) Execute(ctx context.Context, _ map[string]any) (string, error) {
	c, err := t.p.client()
	if err != nil {
		return "", err
	}
	nodes, err := c.Nodes(ctx)
	if err != nil {
		return "", err
	}
	if len(nodes) == 0 {
		return "No nodes found.", nil
	}
	var b strings.Builder
	for _, n := range nodes {
		fmt.Fprintf(&b, "%s: %s, cpu %.1f%% of %d, mem %s / %s, up %s\n",
			n.Node, n.Status, n.CPU*100, n.MaxCPU,
			humanize.IBytes(n.Mem), humanize.IBytes(n.MaxMem),
			(time.Duration(n.Uptime) * time.Second).String())
	}
	return b.String(), nil
}

type proxmoxUsersTool struct{ p *Proxmox }

func (t *proxmoxUsersTool) Name() string               { return "get_proxmox_users" }
func (t *proxmoxUsersTool) Description() string        { return "List Proxmox access users" }
func (t *proxmoxUsersTool) Parameters() map[string]any { return emptySchema() }

func (t *proxmoxUsersTool) Execute(ctx context.Context, _ map[string]any) (string, error) {
	c, err := t.p.client()
	if err != nil {
		return "", err
	}
	users, err := c.Users(ctx)
	if err != nil {
		return "", err
	}
	if len(users) == 0 {
		return "No users found.", nil
	}
	var b strings.Builder
	for _, u := range users {
		fmt.Fprintf(&b, "%s (enabled: %t)", u.UserID, u.Enabled)
		if u.Email != "" {
			fmt.Fprintf(&b, " <%s>", u.Email)
		}
		if u.Comment != "" {
			fmt.Fprintf(&b, " %s", u.Comment)
		}
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// proxmoxPowerTool starts or stops a guest, short-circuiting when it is
// already in the requested state.
type proxmoxPowerTool struct {
	p      *Proxmox
	action string
}

func (t *proxmoxPowerTool) Name() string { return t.action + "_proxmox_virtual_machine" }
func (t *proxmoxPowerTool) Description() string {
	if t.action == "start" {
		return "Start a Proxmox virtual machine, given its ID."
	}
	return "Stop a Proxmox virtual machine, given its ID."
}
func (t *proxmoxPowerTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"vm_id": map[string]any{"type": "string", "description": "Numeric VM ID, e.g. \"101\""},
		},
		"required": []string{"vm_id"},
	}
}

func (t *proxmoxPowerTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	id := getString(params, "vm_id")
	if id == "" {
		return "", fmt.Errorf("%s: vm_id is required", t.Name())
	}
	c, err := t.p.client()
	if err != nil {
		return "", err
	}
	vm, err := c.VM(ctx, id)
	if err != nil {
		return "", err
	}

	if t.action == "start" && vm.Running() {
		return fmt.Sprintf("VM %s is already running.", id), nil
	}
	if t.action == "stop" && !vm.Running() {
		return fmt.Sprintf("VM %s is already stopped.", id), nil
	}

	upid, err := c.SetPower(ctx, vm, t.action)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("VM %s %s requested on node %s (task %s).", id, t.action, vm.Node, upid), nil
}
