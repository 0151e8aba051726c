package store_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"landflow/internal/store"
	"landflow/internal/workflow"
	landflowsdk "landflow/sdk/go"
)

func TestRemoteListWorkflows(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v0/workflows" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode([]map[string]any{{
			"id":                  "wf-1",
			"landowner_id":        "owner-1",
			"title":               "North Ridge Solar",
			"energy_category":     "solar",
			"capacity_mw":         100,
			"price_per_mwh":       40,
			"contract_term_years": 20,
			"state":               "submitted",
		}})
	}))
	defer srv.Close()

	remote := store.NewRemote(landflowsdk.New(srv.URL))
	items, err := remote.ListWorkflows(context.Background())
	if err != nil {
		t.Fatalf("list workflows: %v", err)
	}
	if len(items) != 1 || items[0].ID != "wf-1" || items[0].Title != "North Ridge Solar" {
		t.Fatalf("workflows = %+v", items)
	}
	if got := workflow.ContractValue(items[0]); got != 100.0*40*8760*20 {
		t.Fatalf("contract value = %f", got)
	}
}

func TestRemoteUpdateWorkflowState(t *testing.T) {
	var gotPath, gotState string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.Method + " " + r.URL.Path
		body, _ := io.ReadAll(r.Body)
		var req struct {
			State string `json:"state"`
		}
		json.Unmarshal(body, &req)
		gotState = req.State
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	remote := store.NewRemote(landflowsdk.New(srv.URL))
	if err := remote.UpdateWorkflowState(context.Background(), "wf-1", workflow.StateVerifiedByAdmin); err != nil {
		t.Fatalf("update state: %v", err)
	}
	if gotPath != "PATCH /v0/workflows/wf-1/state" || gotState != "verified_by_admin" {
		t.Fatalf("request = %s state=%s", gotPath, gotState)
	}
}
