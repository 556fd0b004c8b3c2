package decode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"MotoMind-Vision/internal/vin"
)

const defaultNHTSABaseURL = "https://vpic.nhtsa.dot.gov/api"

// NHTSAProvider queries a vPIC style endpoint that returns a flat key/value
// set per VIN. Field names are provider specific; unknown fields land in Extras.
type NHTSAProvider struct {
	baseURL    string
	httpClient *http.Client
}

// NewNHTSAProvider creates the provider. The decoder's context timeout bounds
// every request, so the client needs no timeout of its own.
func NewNHTSAProvider(baseURL string, client *http.Client) *NHTSAProvider {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultNHTSABaseURL
	}
	if client == nil {
		client = &http.Client{}
	}
	return &NHTSAProvider{baseURL: baseURL, httpClient: client}
}

// Name implements Provider.
func (*NHTSAProvider) Name() string { return ProviderNHTSA }

// Decode implements Provider.
func (p *NHTSAProvider) Decode(ctx context.Context, v string) (vin.DecodedVehicleInfo, error) {
	endpoint := fmt.Sprintf("%s/vehicles/DecodeVinValues/%s?format=json", p.baseURL, url.PathEscape(v))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return vin.DecodedVehicleInfo{}, fmt.Errorf("build decode request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return vin.DecodedVehicleInfo{}, fmt.Errorf("request decode provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return vin.DecodedVehicleInfo{}, fmt.Errorf("decode provider returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded struct {
		Results []map[string]any `json:"Results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return vin.DecodedVehicleInfo{}, fmt.Errorf("parse decode response: %w", err)
	}
	if len(decoded.Results) == 0 {
		return vin.DecodedVehicleInfo{}, errors.New("decode response contains no results")
	}
	return fromValues(v, decoded.Results[0]), nil
}

// fromValues maps the well-known vPIC fields. Empty values are dropped.
func fromValues(v string, values map[string]any) vin.DecodedVehicleInfo {
	info := vin.DecodedVehicleInfo{VIN: v, Source: ProviderNHTSA, Extras: map[string]string{}}
	for key, raw := range values {
		value := stringify(raw)
		if value == "" || value == "Not Applicable" {
			continue
		}
		switch key {
		case "Make":
			info.Make = value
		case "Model":
			info.Model = value
		case "ModelYear":
			if year, err := strconv.Atoi(value); err == nil {
				info.Year = year
			}
		case "Trim":
			info.Trim = value
		case "EngineModel":
			info.Engine = value
		case "DisplacementL":
			info.Extras["displacementL"] = value
		case "BodyClass":
			info.BodyClass = value
		case "FuelTypePrimary":
			info.FuelType = value
		case "Manufacturer":
			info.Manufacturer = value
		case "PlantCountry":
			info.Country = value
		case "VIN":
		default:
			info.Extras[lowerFirst(key)] = value
		}
	}
	if info.Engine == "" {
		if displacement := info.Extras["displacementL"]; displacement != "" {
			info.Engine = displacement + "L"
		}
	}
	return info
}

func stringify(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
