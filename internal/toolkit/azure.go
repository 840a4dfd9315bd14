package toolkit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/costmanagement/armcostmanagement"
	"github.com/dustin/go-humanize"
)

const azureForecastTimeout = 60 * time.Second

// AzureConfig holds service-principal credentials and the subscription to query.
type AzureConfig struct {
	TenantID       string
	ClientID       string
	ClientSecret   string
	SubscriptionID string
}

// AzureConfigFromEnv reads AZURE_TENANT_ID, AZURE_CLIENT_ID, AZURE_CLIENT_SECRET
// and AZURE_SUBSCRIPTION_ID.
func AzureConfigFromEnv() AzureConfig {
	return AzureConfig{
		TenantID:       os.Getenv("AZURE_TENANT_ID"),
		ClientID:       os.Getenv("AZURE_CLIENT_ID"),
		ClientSecret:   os.Getenv("AZURE_CLIENT_SECRET"),
		SubscriptionID: os.Getenv("AZURE_SUBSCRIPTION_ID"),
	}
}

func newClientSecretCredential(cfg AzureConfig) (azcore.TokenCredential, error) {
	cred, err := azidentity.NewClientSecretCredential(cfg.TenantID, cfg.ClientID, cfg.ClientSecret, nil)
	if err != nil {
		return nil, fmt.Errorf("azure: credential: %w", err)
	}
	return cred, nil
}

// AzureForecastTool returns the month-to-date daily usage forecast of a subscription.
type AzureForecastTool struct {
	LoadConfig    func() AzureConfig                                // default AzureConfigFromEnv
	Credential    func(AzureConfig) (azcore.TokenCredential, error) // default client-secret credential
	ClientOptions *arm.ClientOptions                                // nil uses the public cloud
}

func (t *AzureForecastTool) Name() string { return "get_azure_forecast" }
func (t *AzureForecastTool) Description() string {
	return "Forecast this month's Azure usage cost for the configured subscription"
}
func (t *AzureForecastTool) Parameters() map[string]any { return emptySchema() }

// forecastDefinition asks for the daily usage cost of the current month.
func forecastDefinition() armcostmanagement.ForecastDefinition {
	return armcostmanagement.ForecastDefinition{
		Type:      to.Ptr(armcostmanagement.ForecastTypeUsage),
		Timeframe: to.Ptr(armcostmanagement.ForecastTimeframeTypeMonthToDate),
		Dataset: &armcostmanagement.QueryDataset{
			Granularity: to.Ptr(armcostmanagement.GranularityTypeDaily),
			Aggregation: map[string]*armcostmanagement.QueryAggregation{
				"totalCost": {
					Name:     to.Ptr("Cost"),
					Function: to.Ptr(armcostmanagement.FunctionTypeSum),
				},
			},
		},
	}
}

func (t *AzureForecastTool) Execute(ctx context.Context, _ map[string]any) (string, error) {
	load := t.LoadConfig
	if load == nil {
		load = AzureConfigFromEnv
	}
	cfg := load()
	if cfg.SubscriptionID == "" {
		return "AZURE_SUBSCRIPTION_ID is not set.", nil
	}

	newCred := t.Credential
	if newCred == nil {
		newCred = newClientSecretCredential
	}
	cred, err := newCred(cfg)
	if err != nil {
		return "", err
	}

	client, err := armcostmanagement.NewForecastClient(cred, t.ClientOptions)
	if err != nil {
		return "", fmt.Errorf("get_azure_forecast: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, azureForecastTimeout)
	defer cancel()

	resp, err := client.Usage(ctx, "subscriptions/"+cfg.SubscriptionID, forecastDefinition(), nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) {
			return "", fmt.Errorf("could not retrieve forecast (HTTP %d %s): %w", respErr.StatusCode, respErr.ErrorCode, err)
		}
		return "", fmt.Errorf("could not retrieve forecast, check your Azure credentials: %w", err)
	}
	return summarizeForecast(cfg.SubscriptionID, resp.Properties), nil
}

// summarizeForecast sums the cost column and lists the daily rows.
func summarizeForecast(subscription string, props *armcostmanagement.QueryProperties) string {
	if props == nil {
		props = &armcostmanagement.QueryProperties{}
	}
	costCol, dateCol, typeCol, currencyCol := -1, -1, -1, -1
	for i, c := range props.Columns {
		if c == nil || c.Name == nil {
			continue
		}
		switch strings.ToLower(*c.Name) {
		case "cost", "costusd", "pretaxcost", "totalcost":
			if costCol < 0 {
				costCol = i
			}
		case "usagedate":
			dateCol = i
		case "coststatus":
			typeCol = i
		case "currency":
			currencyCol = i
		}
	}
	if costCol < 0 {
		return fmt.Sprintf("Azure forecast for subscription %s returned no cost column.", subscription)
	}

	var total float64
	currency := ""
	var lines []string
	for _, row := range props.Rows {
		cost, ok := number(cell(row, costCol))
		if !ok {
			continue
		}
		total += cost
		if currencyCol >= 0 && currency == "" {
			currency, _ = cell(row, currencyCol).(string)
		}
		line := humanize.FormatFloat("#,###.##", cost)
		if dateCol >= 0 {
			line = fmt.Sprintf("%v: %s", formatUsageDate(cell(row, dateCol)), line)
		}
		if typeCol >= 0 {
			line += fmt.Sprintf(" (%v)", cell(row, typeCol))
		}
		lines = append(lines, line)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Azure usage forecast for subscription %s (month to date, daily)\n", subscription)
	fmt.Fprintf(&b, "totalCost: %s", humanize.FormatFloat("#,###.##", total))
	if currency != "" {
		b.WriteString(" " + currency)
	}
	b.WriteString("\n")
	for _, l := range lines {
		b.WriteString("  " + l + "\n")
	}
	return b.String()
}

func cell(row []any, i int) any {
	if i < 0 || i >= len(row) {
		return nil
	}
	return row[i]
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// formatUsageDate renders the yyyymmdd integer Cost Management uses for dates.
func formatUsageDate(v any) string {
	if f, ok := v.(float64); ok {
		s := fmt.Sprintf("%.0f", f)
		if d, err := time.Parse("20060102", s); err == nil {
			return d.Format("2006-01-02")
		}
		return s
	}
	return fmt.Sprint(v)
}
