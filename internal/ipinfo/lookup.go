package ipinfo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// Info is the coarse geo record shown next to a connection.
type Info struct {
	IP      string `json:"ip"`
	Country string `json:"country"`
	Region  string `json:"region"`
	City    string `json:"city"`
	ISP     string `json:"isp"`
}

// Resolver looks up geo information. Lookup never fails: an unresolvable address
// comes back as an "Unknown" record.
type Resolver interface {
	Lookup(ctx context.Context, ip string) Info
}

// Provider is one geo API. URL builds the request URL for an address.
type Provider struct {
	Name string
	URL  func(ip string) string
}

// DefaultProviders are tried in order.
var DefaultProviders = []Provider{
	{Name: "ipapi.co", URL: func(ip string) string { return "https://ipapi.co/" + url.PathEscape(ip) + "/json/" }},
	{Name: "ip-api.com", URL: func(ip string) string { return "http://ip-api.com/json/" + url.PathEscape(ip) }},
}

// HTTPResolver queries geo providers over HTTP, falling through to the next provider on error.
type HTTPResolver struct {
	client    *http.Client
	providers []Provider
	log       zerolog.Logger
}

func NewHTTPResolver(providers []Provider, timeout time.Duration, logger zerolog.Logger) *HTTPResolver {
	if len(providers) == 0 {
		providers = DefaultProviders
	}
	return &HTTPResolver{
		client:    &http.Client{Timeout: timeout},
		providers: providers,
		log:       logger,
	}
}

func LocalInfo(ip string) Info {
	return Info{IP: ip, Country: "Local", Region: "Development", City: "Localhost", ISP: "Local Network"}
}

func UnknownInfo(ip string) Info {
	return Info{IP: ip, Country: "Unknown", Region: "Unknown", City: "Unknown", ISP: "Unknown"}
}

func (r *HTTPResolver) Lookup(ctx context.Context, ip string) Info {
	if IsLocal(ip) {
		return LocalInfo(ip)
	}
	for _, p := range r.providers {
		info, err := r.query(ctx, p, ip)
		if err != nil {
			r.log.Debug().Err(err).Str("provider", p.Name).Str("ip", ip).Msg("[ipinfo] provider failed")
			continue
		}
		if info.Country != "" {
			return info
		}
	}
	return UnknownInfo(ip)
}

// providerResponse covers the field names used by the default providers.
type providerResponse struct {
	Country     string `json:"country"`
	CountryName string `json:"country_name"`
	Region      string `json:"region"`
	RegionName  string `json:"regionName"`
	City        string `json:"city"`
	ISP         string `json:"isp"`
	Org         string `json:"org"`
}

func (r *HTTPResolver) query(ctx context.Context, p Provider, ip string) (Info, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL(ip), nil)
	if err != nil {
		return Info{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return Info{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Info{}, fmt.Errorf("%s: HTTP %d", p.Name, resp.StatusCode)
	}

	var pr providerResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&pr); err != nil {
		return Info{}, fmt.Errorf("%s: decode: %w", p.Name, err)
	}

	info := Info{IP: ip, Country: pr.CountryName, Region: pr.Region, City: pr.City, ISP: pr.ISP}
	if info.Country == "" {
		info.Country = pr.Country
	}
	if pr.RegionName != "" {
		info.Region = pr.RegionName
	}
	if info.ISP == "" {
		info.ISP = pr.Org
	}
	return info, nil
}

// StaticResolver answers every lookup without network access.
type StaticResolver struct{}

func (StaticResolver) Lookup(_ context.Context, ip string) Info {
	if IsLocal(ip) {
		return LocalInfo(ip)
	}
	return UnknownInfo(ip)
}
