package decode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNHTSAProviderDecode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/vehicles/DecodeVinValues/"+hondaVIN {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("format") != "json" {
			t.Errorf("format query missing")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"Count":1,"Message":"Results returned successfully","Results":[{
			"VIN":"1HGCM82633A004352","Make":"HONDA","Model":"Accord","ModelYear":"2003",
			"Trim":"EX-V6","DisplacementL":"3.0","BodyClass":"Coupe","FuelTypePrimary":"Gasoline",
			"Manufacturer":"AMERICAN HONDA MOTOR CO., INC.","PlantCountry":"UNITED STATES (USA)",
			"Doors":"2","ErrorCode":"0","Series":"","Turbo":"Not Applicable"}]}`))
	}))
	defer server.Close()

	p := NewNHTSAProvider(server.URL+"/", server.Client())
	info, err := p.Decode(context.Background(), hondaVIN)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.Make != "HONDA" || info.Model != "Accord" || info.Year != 2003 || info.Trim != "EX-V6" {
		t.Fatalf("decoded = %+v", info)
	}
	if info.Engine != "3.0L" || info.BodyClass != "Coupe" || info.FuelType != "Gasoline" {
		t.Fatalf("decoded = %+v", info)
	}
	if info.Extras["doors"] != "2" || info.Extras["errorCode"] != "0" {
		t.Fatalf("extras = %v", info.Extras)
	}
	if _, ok := info.Extras["series"]; ok {
		t.Fatalf("empty values must be dropped")
	}
	if _, ok := info.Extras["turbo"]; ok {
		t.Fatalf("not applicable values must be dropped")
	}
}

func TestNHTSAProviderErrors(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"status": func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
		},
		"garbage": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("<html>"))
		},
		"empty": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"Results":[]}`))
		},
	}
	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(handler)
			defer server.Close()
			_, err := NewNHTSAProvider(server.URL, server.Client()).Decode(context.Background(), hondaVIN)
			if err == nil {
				t.Fatalf("expected error")
			}
			if name == "status" && !strings.Contains(err.Error(), "429") {
				t.Fatalf("status not reported: %v", err)
			}
		})
	}
}
