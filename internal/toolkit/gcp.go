package toolkit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	billing "cloud.google.com/go/billing/apiv1"
	"cloud.google.com/go/billing/apiv1/billingpb"
	budgets "cloud.google.com/go/billing/budgets/apiv1"
	"cloud.google.com/go/billing/budgets/apiv1/budgetspb"
	"github.com/dustin/go-humanize"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/api/serviceusage/v1"
)

// GCPConfig selects the project and the service-account key used to reach it.
type GCPConfig struct {
	CredentialsFile string // empty uses Application Default Credentials
	ProjectID       string
}

// GCPConfigFromEnv reads GOOGLE_APPLICATION_CREDENTIALS and GCP_PROJECT_ID.
func GCPConfigFromEnv() GCPConfig {
	return GCPConfig{
		CredentialsFile: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		ProjectID:       os.Getenv("GCP_PROJECT_ID"),
	}
}

func (c GCPConfig) clientOptions() []option.ClientOption {
	if c.CredentialsFile == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsFile(c.CredentialsFile)}
}

// BillingAPI is the slice of Cloud Billing the tools use.
type BillingAPI interface {
	ProjectBillingInfo(ctx context.Context, projectID string) (*billingpb.ProjectBillingInfo, error)
	Budgets(ctx context.Context, billingAccountID string) ([]*budgetspb.Budget, error)
	Close() error
}

// ServiceUsageAPI enables Google APIs on a project.
type ServiceUsageAPI interface {
	Enable(ctx context.Context, projectID, service string) (operation string, err error)
}

const gcpCallTimeout = 30 * time.Second

type cloudBilling struct {
	billing *billing.CloudBillingClient
	budgets *budgets.BudgetClient
}

func newCloudBilling(ctx context.Context, cfg GCPConfig) (BillingAPI, error) {
	bc, err := billing.NewCloudBillingClient(ctx, cfg.clientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("gcp: billing client: %w", err)
	}
	bud, err := budgets.NewBudgetClient(ctx, cfg.clientOptions()...)
	if err != nil {
		bc.Close()
		return nil, fmt.Errorf("gcp: budget client: %w", err)
	}
	return &cloudBilling{billing: bc, budgets: bud}, nil
}

func (c *cloudBilling) ProjectBillingInfo(ctx context.Context, projectID string) (*billingpb.ProjectBillingInfo, error) {
	return c.billing.GetProjectBillingInfo(ctx, &billingpb.GetProjectBillingInfoRequest{
		Name: "projects/" + projectID,
	}, gax.WithTimeout(gcpCallTimeout))
}

func (c *cloudBilling) Budgets(ctx context.Context, billingAccountID string) ([]*budgetspb.Budget, error) {
	it := c.budgets.ListBudgets(ctx, &budgetspb.ListBudgetsRequest{Parent: "billingAccounts/" + billingAccountID},
		gax.WithTimeout(gcpCallTimeout))
	var out []*budgetspb.Budget
	for {
		b, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
}

func (c *cloudBilling) Close() error {
	return errors.Join(c.billing.Close(), c.budgets.Close())
}

type cloudServiceUsage struct {
	cfg GCPConfig
}

func (s *cloudServiceUsage) Enable(ctx context.Context, projectID, service string) (string, error) {
	svc, err := serviceusage.NewService(ctx, s.cfg.clientOptions()...)
	if err != nil {
		return "", fmt.Errorf("gcp: serviceusage client: %w", err)
	}
	name := fmt.Sprintf("projects/%s/services/%s", projectID, service)
	op, err := svc.Services.Enable(name, &serviceusage.EnableServiceRequest{}).Context(ctx).Do()
	if err != nil {
		return "", err
	}
	return op.Name, nil
}

// GCP builds API clients per call from freshly loaded configuration.
type GCP struct {
	LoadConfig      func() GCPConfig                                          // default GCPConfigFromEnv
	NewBilling      func(context.Context, GCPConfig) (BillingAPI, error)      // default Cloud Billing + Budgets clients
	NewServiceUsage func(context.Context, GCPConfig) (ServiceUsageAPI, error) // default serviceusage/v1
}

func (g *GCP) config() GCPConfig {
	if g.LoadConfig != nil {
		return g.LoadConfig()
	}
	return GCPConfigFromEnv()
}

func (g *GCP) billing(ctx context.Context, cfg GCPConfig) (BillingAPI, error) {
	if g.NewBilling != nil {
		return g.NewBilling(ctx, cfg)
	}
	return newCloudBilling(ctx, cfg)
}

func (g *GCP) serviceUsage(ctx context.Context, cfg GCPConfig) (ServiceUsageAPI, error) {
	if g.NewServiceUsage != nil {
		return g.NewServiceUsage(ctx, cfg)
	}
	return &cloudServiceUsage{cfg: cfg}, nil
}

// Tools returns every GCP tool.
func (g *GCP) Tools() []Tool {
	return []Tool{&gcpBillingTool{g}, &gcpForecastTool{g}, &gcpEnableAPITool{g}}
}

const gcpMissingProject = "Please set GCP_PROJECT_ID to your GCP project ID."

func billingAccountID(info *billingpb.ProjectBillingInfo) string {
	name := info.GetBillingAccountName()
	return name[strings.LastIndex(name, "/")+1:]
}

type gcpBillingTool struct{ g *GCP }

func (t *gcpBillingTool) Name() string { return "get_gcp_billing_accounts" }
func (t *gcpBillingTool) Description() string {
	return "Show whether billing is enabled for the GCP project and which billing account it uses."
}
func (t *gcpBillingTool) Parameters() map[string]any { return emptySchema() }

func (t *gcpBillingTool) Execute(ctx context.Context, _ map[string]any) (string, error) {
	cfg := t.g.config()
	if cfg.ProjectID == "" {
		return gcpMissingProject, nil
	}
	api, err := t.g.billing(ctx, cfg)
	if err != nil {
		return "", err
	}
	defer api.Close()

	info, err := api.ProjectBillingInfo(ctx, cfg.ProjectID)
	if err != nil {
		return "", fmt.Errorf("get_gcp_billing_accounts: %w", err)
	}
	return fmt.Sprintf("project: %s\nbilling_enabled: %t\nbilling_account: %s",
		cfg.ProjectID, info.GetBillingEnabled(), billingAccountID(info)), nil
}

type gcpForecastTool struct{ g *GCP }

func (t *gcpForecastTool) Name() string { return "get_gcp_forecast" }
func (t *gcpForecastTool) Description() string {
	return "List your GCP Budgets (i.e. your planned/forecast thresholds) for the current project."
}
func (t *gcpForecastTool) Parameters() map[string]any { return emptySchema() }

func (t *gcpForecastTool) Execute(ctx context.Context, _ map[string]any) (string, error) {
	cfg := t.g.config()
	if cfg.ProjectID == "" {
		return gcpMissingProject, nil
	}
	api, err := t.g.billing(ctx, cfg)
	if err != nil {
		return "", err
	}
	defer api.Close()

	info, err := api.ProjectBillingInfo(ctx, cfg.ProjectID)
	if err != nil {
		return "", fmt.Errorf("could not fetch project billing info: %w", err)
	}
	account := billingAccountID(info)
	if account == "" {
		return fmt.Sprintf("Project %s has no billing account attached.", cfg.ProjectID), nil
	}

	list, err := api.Budgets(ctx, account)
	if err != nil {
		return "", fmt.Errorf("could not list budgets for billingAccounts/%s: %w", account, err)
	}
	if len(list) == 0 {
		return fmt.Sprintf("No budgets defined for billing account %s.", account), nil
	}

	var b strings.Builder
	for _, budget := range list {
		display := budget.GetDisplayName()
		if display == "" {
			display = "<unnamed>"
		}
		amount := "[no fixed amount]"
		if spec := budget.GetAmount(); spec != nil {
			if m := spec.GetSpecifiedAmount(); m != nil {
				amount = formatMoney(m.GetUnits(), m.GetNanos(), m.GetCurrencyCode())
			} else if spec.GetLastPeriodAmount() != nil {
				amount = "[last period amount]"
			}
		}
		fmt.Fprintf(&b, "%s: %s\n", display, amount)
	}
	return b.String(), nil
}

// formatMoney renders a google.type.Money value, e.g. "$1,250.50" or "1,250.50 EUR".
func formatMoney(units int64, nanos int32, currency string) string {
	value := float64(units) + float64(nanos)/1e9
	formatted := humanize.FormatFloat("#,###.##", value)
	if currency == "" || currency == "USD" {
		return "$" + formatted
	}
	return formatted + " " + currency
}

type gcpEnableAPITool struct{ g *GCP }

func (t *gcpEnableAPITool) Name() string { return "enable_gcp_api" }
func (t *gcpEnableAPITool) Description() string {
	return "Enable a Google API (e.g. cloudbilling.googleapis.com) on the configured GCP project"
}
func (t *gcpEnableAPITool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"api_service": map[string]any{"type": "string", "description": "Service name, e.g. billingbudgets.googleapis.com"},
		},
		"required": []string{"api_service"},
	}
}

func (t *gcpEnableAPITool) Execute(ctx context.Context, params map[string]any) (string, error) {
	service := getString(params, "api_service")
	if service == "" {
		return "", fmt.Errorf("enable_gcp_api: api_service is required")
	}
	cfg := t.g.config()
	if cfg.ProjectID == "" {
		return gcpMissingProject, nil
	}
	api, err := t.g.serviceUsage(ctx, cfg)
	if err != nil {
		return "", err
	}
	op, err := api.Enable(ctx, cfg.ProjectID, service)
	if err != nil {
		return "", fmt.Errorf("enable_gcp_api: %w", err)
	}
	return fmt.Sprintf("Enabled %s on project %s (operation: %s).", service, cfg.ProjectID, op), nil
}
