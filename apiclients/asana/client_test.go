package asana

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"

	"oppsync/config"
)

// setup creates a test environment for running API client tests. It returns a request
// multiplexer for registering handlers, the Client configured to use the test server,
// and a teardown function to close the server.
func setup(t *testing.T) (mux *http.ServeMux, client *Client, teardown func()) {

	t.Helper()

	mux = http.NewServeMux()
	server := httptest.NewServer(mux)

	logger := slog.New(slog.NewTextHandler(
		os.Stdout,
		&slog.HandlerOptions{Level: slog.LevelWarn},
	))

	client = &Client{
		httpClient:  server.Client(),
		baseURL:     server.URL,
		workspaceID: "1200000000000001",
		teamID:      "1200000000000002",
		log:         logger,
	}

	teardown = func() {
		server.Close()
	}

	return mux, client, teardown
}

func TestCreateProject(t *testing.T) {

	mux, client, teardown := setup(t)
	defer teardown()

	var gotBody projectRequest
	mux.HandleFunc("/projects", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("got method %s want POST", r.Method)
		}
		b, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(b, &gotBody); err != nil {
			t.Fatalf("request body unmarshal error: %v", err)
		}
		fmt.Fprint(w, `{"data": {"gid": "1201", "name": "Acme - Line Upgrade - ($60,000)"}}`)
	})

	projectID, err := client.CreateProject(
		context.Background(),
		"Acme - Line Upgrade - ($60,000)",
		"Pipeliner ID: OPP-901",
		"dark-orange",
		false,
	)
	if err != nil {
		t.Fatalf("CreateProject error: %v", err)
	}
	if got, want := projectID, "1201"; got != want {
		t.Errorf("got %q want %q", got, want)
	}

	wantData := ProjectData{
		Name:      "Acme - Line Upgrade - ($60,000)",
		Notes:     "Pipeliner ID: OPP-901",
		Color:     "dark-orange",
		Workspace: "1200000000000001",
		Team:      "1200000000000002",
	}
	if diff := cmp.Diff(wantData, gotBody.Data); diff != "" {
		t.Errorf("unexpected project data diff:\n%v", diff)
	}
}

func TestCreateProjectOmitsNoneColor(t *testing.T) {

	mux, client, teardown := setup(t)
	defer teardown()

	mux.HandleFunc("/projects", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		var raw map[string]map[string]any
		if err := json.Unmarshal(b, &raw); err != nil {
			t.Fatalf("request body unmarshal error: %v", err)
		}
		if _, ok := raw["data"]["color"]; ok {
			t.Error("color should be omitted for \"none\"")
		}
		fmt.Fprint(w, `{"data": {"gid": "1202"}}`)
	})

	_, err := client.CreateProject(context.Background(), "New Opportunity", "", "none", false)
	if err != nil {
		t.Fatalf("CreateProject error: %v", err)
	}
}

func TestCreateProjectAPIError(t *testing.T) {

	mux, client, teardown := setup(t)
	defer teardown()

	mux.HandleFunc("/projects", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"errors": [{"message": "Not Authorized"}]}`)
	})

	_, err := client.CreateProject(context.Background(), "x", "", "", false)
	if err == nil {
		t.Fatal("expected error from 401 response")
	}
}

func TestListSectionsPagination(t *testing.T) {

	mux, client, teardown := setup(t)
	defer teardown()

	mux.HandleFunc("/projects/1201/sections", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("offset") == "" {
			fmt.Fprint(w, `{
				"data": [{"gid": "901", "name": "Planning"}, {"gid": "902", "name": "Engineering"}],
				"next_page": {"offset": "abc123", "path": "", "uri": ""}
			}`)
			return
		}
		fmt.Fprint(w, `{"data": [{"gid": "903", "name": "Testing"}], "next_page": null}`)
	})

	sections, err := client.ListSections(context.Background(), "1201")
	if err != nil {
		t.Fatalf("ListSections error: %v", err)
	}

	want := []Section{
		{GID: "901", Name: "Planning"},
		{GID: "902", Name: "Engineering"},
		{GID: "903", Name: "Testing"},
	}
	if diff := cmp.Diff(want, sections); diff != "" {
		t.Errorf("unexpected sections diff:\n%v", diff)
	}
}

func TestCreateTaskMemberships(t *testing.T) {

	mux, client, teardown := setup(t)
	defer teardown()

	var gotBody taskRequest
	mux.HandleFunc("/tasks", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = taskRequest{}
		if err := json.Unmarshal(b, &gotBody); err != nil {
			t.Fatalf("request body unmarshal error: %v", err)
		}
		fmt.Fprint(w, `{"data": {"gid": "777", "name": "Electrical design"}}`)
	})

	// In a section: placed by membership.
	err := client.CreateTask(context.Background(), "1201", "902", "Electrical design", "notes", "2026-06-30")
	if err != nil {
		t.Fatalf("CreateTask error: %v", err)
	}
	wantMemberships := []Membership{{Project: "1201", Section: "902"}}
	if diff := cmp.Diff(wantMemberships, gotBody.Data.Memberships); diff != "" {
		t.Errorf("unexpected memberships diff:\n%v", diff)
	}
	if gotBody.Data.Projects != nil {
		t.Errorf("projects should be empty when a section is given, got %v", gotBody.Data.Projects)
	}
	if got, want := gotBody.Data.DueOn, "2026-06-30"; got != want {
		t.Errorf("got %q want %q", got, want)
	}

	// Unfiled: placed by project.
	err = client.CreateTask(context.Background(), "1201", "", "Site survey", "", "")
	if err != nil {
		t.Fatalf("CreateTask error: %v", err)
	}
	if diff := cmp.Diff([]string{"1201"}, gotBody.Data.Projects); diff != "" {
		t.Errorf("unexpected projects diff:\n%v", diff)
	}
	if gotBody.Data.Memberships != nil {
		t.Errorf("memberships should be empty when unfiled, got %v", gotBody.Data.Memberships)
	}
}

func TestUpdateProject(t *testing.T) {

	mux, client, teardown := setup(t)
	defer teardown()

	mux.HandleFunc("/projects/1201", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "PUT" {
			t.Errorf("got method %s want PUT", r.Method)
		}
		fmt.Fprint(w, `{"data": {"gid": "1201"}}`)
	})

	err := client.UpdateProject(context.Background(), "1201", "new name", "new notes")
	if err != nil {
		t.Fatalf("UpdateProject error: %v", err)
	}
}

func TestDryRunMakesNoCalls(t *testing.T) {

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	cfg := &config.Config{} // no access token
	client := NewClient(context.Background(), cfg, logger)

	if !client.DryRun() {
		t.Fatal("expected dry-run client")
	}

	// Each op returns its zero value without a network call; any call
	// would panic on the nil httpClient.
	projectID, err := client.CreateProject(context.Background(), "x", "", "", false)
	if err != nil || projectID != "" {
		t.Errorf("got (%q, %v) want empty and nil", projectID, err)
	}
	if err := client.UpdateProject(context.Background(), "1", "x", ""); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if _, err := client.CreateSection(context.Background(), "1", "x"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if sections, err := client.ListSections(context.Background(), "1"); err != nil || sections != nil {
		t.Errorf("got (%v, %v) want nil and nil", sections, err)
	}
	if err := client.CreateTask(context.Background(), "1", "", "x", "", ""); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
