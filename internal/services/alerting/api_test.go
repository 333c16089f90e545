package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/LeonardoBeccarini/agro_telemetry/internal/model/entities"
	"github.com/LeonardoBeccarini/agro_telemetry/internal/storage"
)

func TestAlertRoutes(t *testing.T) {
	db, err := storage.Open("sqlite", filepath.Join(t.TempDir(), "alerts.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	a := testAlert("a1")
	a.Date, a.Time = "2024-06-01", "10:00:00"
	a.CreatedAt = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	if err := db.InsertAlert(context.Background(), a); err != nil {
		t.Fatal(err)
	}

	r := chi.NewRouter()
	Routes(r, db)
	srv := httptest.NewServer(r)
	defer srv.Close()

	list := func(query string) []entities.Alert {
		t.Helper()
		resp, err := http.Get(srv.URL + "/alerts" + query)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		var out []entities.Alert
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatal(err)
		}
		return out
	}
	if got := list("?unread=true"); len(got) != 1 || got[0].ID != "a1" || got[0].Leida {
		t.Fatalf("unread list: %+v", got)
	}

	put := func(id string) int {
		t.Helper()
		req, _ := http.NewRequest(http.MethodPut, srv.URL+"/alerts/"+id+"/read", nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}
	if code := put("a1"); code != http.StatusNoContent {
		t.Fatalf("ack status = %d", code)
	}
	if code := put("missing"); code != http.StatusNotFound {
		t.Fatalf("missing status = %d", code)
	}
	if got := list("?unread=true"); len(got) != 0 {
		t.Fatalf("acknowledged alert still unread: %+v", got)
	}

	resp, _ := http.Get(srv.URL + "/alerts?limit=abc")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d", resp.StatusCode)
	}
}
