package hosting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/splax/pagesmith/internal/domain"
)

const (
	graphQLPath     = "/graphql"
	analyticsDate   = "2006-01-02"
	rumDailyLimit   = 1000
	rumTopLimit     = 10
	rumDevicesLimit = 5
)

// AnalyticsSite is a web analytics site registered for a hostname.
type AnalyticsSite struct {
	SiteTag   string `json:"site_tag"`
	SiteToken string `json:"site_token"`
	Host      string `json:"host"`
}

type createSiteRequest struct {
	Host        string `json:"host"`
	AutoInstall bool   `json:"auto_install"`
}

// CreateAnalyticsSite registers host for web analytics. The beacon is
// embedded by the exporter, so automatic installation stays off.
func (c *Client) CreateAnalyticsSite(ctx context.Context, host string) (*AnalyticsSite, error) {
	var out AnalyticsSite
	if err := c.doJSON(ctx, http.MethodPost, c.accountPath("rum", "site_info"), createSiteRequest{Host: host}, &out); err != nil {
		return nil, err
	}
	if out.Host == "" {
		out.Host = host
	}
	return &out, nil
}

// DeleteAnalyticsSite removes a web analytics site.
func (c *Client) DeleteAnalyticsSite(ctx context.Context, siteTag string) error {
	return c.doJSON(ctx, http.MethodDelete, c.accountPath("rum", "site_info", siteTag), nil, nil)
}

// rumFilter narrows page load events to one site and an inclusive date range.
type rumFilter struct {
	SiteTag string `json:"siteTag"`
	DateGeq string `json:"date_geq"`
	DateLeq string `json:"date_leq"`
}

type analyticsVariables struct {
	AccountTag string    `json:"accountTag"`
	Filter     rumFilter `json:"filter"`
}

type graphQLRequest struct {
	Query     string             `json:"query"`
	Variables analyticsVariables `json:"variables"`
}

// rumSummaryQuery reads every series of a summary in one round trip. Only
// variables change between calls.
var rumSummaryQuery = buildRUMQuery([]rumSeries{
	{alias: "daily", limit: rumDailyLimit, orderBy: "date_ASC", dimension: "date"},
	{alias: "topPaths", limit: rumTopLimit, orderBy: "sum_visits_DESC", dimension: "requestPath"},
	{alias: "topCountries", limit: rumTopLimit, orderBy: "sum_visits_DESC", dimension: "countryName"},
	{alias: "devices", limit: rumDevicesLimit, orderBy: "sum_visits_DESC", dimension: "deviceType"},
})

type rumSeries struct {
	alias     string
	limit     int
	orderBy   string
	dimension string
}

func buildRUMQuery(series []rumSeries) string {
	var b strings.Builder
	b.WriteString("query SiteAnalytics($accountTag: string, $filter: AccountRumPageloadEventsAdaptiveGroupsFilter_InputObject) {\n")
	b.WriteString("  viewer {\n    accounts(filter: {accountTag: $accountTag}) {\n")
	for _, s := range series {
		fmt.Fprintf(&b, "      %s: rumPageloadEventsAdaptiveGroups(limit: %d, filter: $filter, orderBy: [%s]) {\n", s.alias, s.limit, s.orderBy)
		fmt.Fprintf(&b, "        count\n        sum { visits }\n        dimensions { %s }\n      }\n", s.dimension)
	}
	b.WriteString("    }\n  }\n}")
	return b.String()
}

type rumGroup struct {
	Count int64 `json:"count"`
	Sum   struct {
		Visits int64 `json:"visits"`
	} `json:"sum"`
	Dimensions struct {
		Date        string `json:"date"`
		RequestPath string `json:"requestPath"`
		CountryName string `json:"countryName"`
		DeviceType  string `json:"deviceType"`
	} `json:"dimensions"`
}

type rumAccount struct {
	Daily        []rumGroup `json:"daily"`
	TopPaths     []rumGroup `json:"topPaths"`
	TopCountries []rumGroup `json:"topCountries"`
	Devices      []rumGroup `json:"devices"`
}

type graphQLResponse struct {
	Data struct {
		Viewer struct {
			Accounts []rumAccount `json:"accounts"`
		} `json:"viewer"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// AnalyticsSummary reads visits for siteTag between since and until, inclusive by day.
func (c *Client) AnalyticsSummary(ctx context.Context, siteTag string, since, until time.Time) (*domain.AnalyticsSummary, error) {
	payload, err := json.Marshal(graphQLRequest{
		Query: rumSummaryQuery,
		Variables: analyticsVariables{
			AccountTag: c.accountID,
			Filter: rumFilter{
				SiteTag: siteTag,
				DateGeq: since.UTC().Format(analyticsDate),
				DateLeq: until.UTC().Format(analyticsDate),
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encode analytics query: %w", err)
	}

	var resp graphQLResponse
	err = c.send(ctx, http.MethodPost, graphQLPath, "application/json", bytes.NewReader(payload), func(status int, data []byte) error {
		return c.decodeGraphQL(status, data, &resp)
	})
	if err != nil {
		return nil, err
	}

	summary := &domain.AnalyticsSummary{
		SiteTag:      siteTag,
		Since:        since,
		Until:        until,
		Daily:        []domain.DailyTraffic{},
		TopPages:     []domain.PageTraffic{},
		TopCountries: []domain.CountryTraffic{},
		Devices:      []domain.DeviceTraffic{},
	}
	if len(resp.Data.Viewer.Accounts) == 0 {
		return summary, nil
	}
	account := resp.Data.Viewer.Accounts[0]
	for _, g := range account.Daily {
		summary.TotalVisits += g.Sum.Visits
		summary.TotalPageViews += g.Count
		summary.Daily = append(summary.Daily, domain.DailyTraffic{Date: g.Dimensions.Date, Visits: g.Sum.Visits, PageViews: g.Count})
	}
	for _, g := range account.TopPaths {
		summary.TopPages = append(summary.TopPages, domain.PageTraffic{Path: g.Dimensions.RequestPath, Visits: g.Sum.Visits, PageViews: g.Count})
	}
	for _, g := range account.TopCountries {
		summary.TopCountries = append(summary.TopCountries, domain.CountryTraffic{Country: g.Dimensions.CountryName, Visits: g.Sum.Visits})
	}
	for _, g := range account.Devices {
		summary.Devices = append(summary.Devices, domain.DeviceTraffic{Type: g.Dimensions.DeviceType, Visits: g.Sum.Visits})
	}
	return summary, nil
}

// decodeGraphQL handles the GraphQL response shape, which carries no REST envelope.
func (c *Client) decodeGraphQL(status int, data []byte, out *graphQLResponse) error {
	decodeErr := json.Unmarshal(data, out)
	if status >= http.StatusBadRequest || decodeErr != nil {
		apiErr := &APIError{Status: status, Message: strings.TrimSpace(string(data))}
		if decodeErr == nil && len(out.Errors) > 0 {
			apiErr.Message = out.Errors[0].Message
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(status)
		}
		return apiErr.wrap()
	}
	if len(out.Errors) > 0 {
		// Query errors arrive with a 200; report them as a client error so the breaker ignores them.
		c.logger.Debug("analytics query rejected", "message", out.Errors[0].Message)
		return (&APIError{Status: http.StatusUnprocessableEntity, Message: out.Errors[0].Message}).wrap()
	}
	return nil
}
