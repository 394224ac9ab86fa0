// Package relay implements the webhook dispatcher: it routes inbound
// Pipeliner entity/action events to the create, update and activity
// workflows that mirror opportunities into Asana projects.
package relay

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"oppsync/apiclients/asana"
	"oppsync/config"
	"oppsync/db"
	"oppsync/pipeliner"
	"oppsync/workflow"
)

// ProjectGateway is the outbound surface of the Asana client used by
// the dispatcher. Narrowed to an interface for testing with fakes.
type ProjectGateway interface {
	CreateProject(ctx context.Context, name, notes, color string, public bool) (string, error)
	UpdateProject(ctx context.Context, projectID, name, notes string) error
	CreateSection(ctx context.Context, projectID, name string) (string, error)
	ListSections(ctx context.Context, projectID string) ([]asana.Section, error)
	CreateTask(ctx context.Context, projectID, sectionID, name, notes, dueOn string) error
	DryRun() bool
}

// MappingStore is the persistence surface used by the dispatcher.
type MappingStore interface {
	GetProject(ctx context.Context, opportunityID string) (string, error)
	PutProject(ctx context.Context, opportunityID, projectID string) (winner string, inserted bool, err error)
	DeliveryInsert(ctx context.Context, d db.Delivery) error
}

// fallbackTaskName is used for activities delivered without a subject.
const fallbackTaskName = "New Activity"

// Service orchestrates webhook deliveries. Each delivery is handled
// start to finish on the calling goroutine; deliveries for the same
// opportunity arriving concurrently are serialized by the mapping
// store's compare-and-set.
type Service struct {
	cfg      *config.Config
	gateway  ProjectGateway
	store    MappingStore
	catalogs *workflow.Store
	log      *slog.Logger
	now      func() time.Time
}

// NewService creates a dispatcher Service.
func NewService(
	cfg *config.Config,
	gateway ProjectGateway,
	store MappingStore,
	catalogs *workflow.Store,
	logger *slog.Logger,
) *Service {
	return &Service{
		cfg:      cfg,
		gateway:  gateway,
		store:    store,
		catalogs: catalogs,
		log:      logger,
		now:      time.Now,
	}
}

// Dispatch routes an inbound event by its (entity, action) pair,
// matched case-insensitively. Unmatched pairs are logged and audited
// but produce no side effect and no error: the delivery still counts
// as successful. Only a failed project creation returns an error.
func (s *Service) Dispatch(ctx context.Context, event *pipeliner.Event) error {

	entity := strings.ToLower(strings.TrimSpace(event.Entity))
	action := strings.ToLower(strings.TrimSpace(event.Action))

	switch {
	case entity == "opportunity" && (action == "create" || action == "created"):
		o, err := event.DecodeOpportunity()
		if err != nil {
			s.ignore(ctx, event, fmt.Sprintf("undecodable opportunity data: %v", err))
			return nil
		}
		return s.opportunityCreated(ctx, event, o)

	case entity == "opportunity" && (action == "update" || action == "updated"):
		o, err := event.DecodeOpportunity()
		if err != nil {
			s.ignore(ctx, event, fmt.Sprintf("undecodable opportunity data: %v", err))
			return nil
		}
		return s.opportunityUpdated(ctx, event, o)

	case entity == "activity" && (action == "create" || action == "created"):
		a, err := event.DecodeActivity()
		if err != nil {
			s.ignore(ctx, event, fmt.Sprintf("undecodable activity data: %v", err))
			return nil
		}
		return s.activityCreated(ctx, event, a)
	}

	s.ignore(ctx, event, fmt.Sprintf("unrecognized entity/action pair %q/%q", event.Entity, event.Action))
	return nil
}

// opportunityCreated runs the create workflow: one project plus its
// full section and task template, synchronously, within the delivery.
// An opportunity already mapped to a project is routed to the update
// workflow instead since CRMs redeliver create events.
func (s *Service) opportunityCreated(ctx context.Context, event *pipeliner.Event, o *pipeliner.Opportunity) error {

	if o.ID != "" {
		if _, err := s.store.GetProject(ctx, o.ID); err == nil {
			s.log.Info(fmt.Sprintf("opportunity %s already mapped, treating create as update", o.ID))
			return s.opportunityUpdated(ctx, event, o)
		}
	}

	name := pipeliner.ProjectName(o)
	notes := pipeliner.ProjectNotes(o, s.cfg.FallbackText, s.now())
	color := pipeliner.ProjectColor(float64(o.Value))

	// Project creation failure is fatal to the whole delivery; the
	// per-item section and task loops below are not.
	projectID, err := s.gateway.CreateProject(ctx, name, notes, color, false)
	if err != nil {
		s.audit(ctx, event, o.ID, db.OutcomeFailed, fmt.Sprintf("project create: %v", err))
		return fmt.Errorf("project create for opportunity %q: %w", o.ID, err)
	}
	if projectID == "" {
		// Dry-run: no project exists to populate or map.
		s.audit(ctx, event, o.ID, db.OutcomeSkipped, "dry-run, no outbound call made")
		return nil
	}

	catalog := s.catalogs.Catalog()
	sectionOutcomes := s.populateSections(ctx, projectID, catalog)
	taskOutcomes := s.populateTasks(ctx, projectID, catalog)

	if o.ID != "" {
		winner, inserted, err := s.store.PutProject(ctx, o.ID, projectID)
		switch {
		case err != nil:
			s.log.Error(fmt.Sprintf("mapping write for opportunity %s failed: %v", o.ID, err))
		case !inserted:
			// A concurrent delivery won the compare-and-set; the
			// project created here is a duplicate.
			s.log.Warn(fmt.Sprintf(
				"opportunity %s already mapped to project %s, project %s is a duplicate",
				o.ID, winner, projectID,
			))
		}
	}

	detail := fmt.Sprintf(
		"project %s %q: %s sections, %s tasks",
		projectID, name, sectionOutcomes, taskOutcomes,
	)
	s.log.Info("opportunity created: " + detail)
	s.audit(ctx, event, o.ID, db.OutcomeCreated, detail)
	return nil
}

// opportunityUpdated mutates the mapped project's name and notes in
// place. With no stored mapping the delivery falls back to the create
// workflow. Update failures are logged and swallowed: the delivery
// still reports success.
func (s *Service) opportunityUpdated(ctx context.Context, event *pipeliner.Event, o *pipeliner.Opportunity) error {

	if o.ID == "" {
		s.log.Warn("opportunity update without an id, falling back to create")
		return s.opportunityCreated(ctx, event, o)
	}

	projectID, err := s.store.GetProject(ctx, o.ID)
	if errors.Is(err, sql.ErrNoRows) {
		s.log.Info(fmt.Sprintf("no project mapped to opportunity %s, falling back to create", o.ID))
		return s.opportunityCreated(ctx, event, o)
	}
	if err != nil {
		s.log.Error(fmt.Sprintf("mapping lookup for opportunity %s failed: %v", o.ID, err))
		s.audit(ctx, event, o.ID, db.OutcomeFailed, fmt.Sprintf("mapping lookup: %v", err))
		return nil
	}

	if s.gateway.DryRun() {
		s.audit(ctx, event, o.ID, db.OutcomeSkipped, "dry-run, no outbound call made")
		return nil
	}

	name := pipeliner.ProjectName(o)
	notes := pipeliner.ProjectNotes(o, s.cfg.FallbackText, s.now())

	if err := s.gateway.UpdateProject(ctx, projectID, name, notes); err != nil {
		s.log.Error(fmt.Sprintf("project update for opportunity %s failed: %v", o.ID, err))
		s.audit(ctx, event, o.ID, db.OutcomeFailed, fmt.Sprintf("project update: %v", err))
		return nil
	}

	s.audit(ctx, event, o.ID, db.OutcomeUpdated, fmt.Sprintf("project %s renamed %q", projectID, name))
	return nil
}

// activityCreated appends a single unfiled task to the project mapped
// to the activity's opportunity. Activities that cannot be resolved to
// a project are dropped and audited.
func (s *Service) activityCreated(ctx context.Context, event *pipeliner.Event, a *pipeliner.Activity) error {

	if a.OpportunityID == "" {
		s.log.Warn("activity without an opportunity id dropped")
		s.audit(ctx, event, "", db.OutcomeDropped, "no opportunity id")
		return nil
	}

	projectID, err := s.store.GetProject(ctx, a.OpportunityID)
	if errors.Is(err, sql.ErrNoRows) {
		s.log.Warn(fmt.Sprintf("activity for unmapped opportunity %s dropped", a.OpportunityID))
		s.audit(ctx, event, a.OpportunityID, db.OutcomeDropped, "no mapping for opportunity")
		return nil
	}
	if err != nil {
		s.log.Error(fmt.Sprintf("mapping lookup for opportunity %s failed: %v", a.OpportunityID, err))
		s.audit(ctx, event, a.OpportunityID, db.OutcomeFailed, fmt.Sprintf("mapping lookup: %v", err))
		return nil
	}

	if s.gateway.DryRun() {
		s.audit(ctx, event, a.OpportunityID, db.OutcomeSkipped, "dry-run, no outbound call made")
		return nil
	}

	name := a.Subject
	if name == "" {
		name = fallbackTaskName
	}
	notes := pipeliner.TaskNotes(a, s.cfg.FallbackText, s.now())
	var dueOn string
	if !a.DueDate.IsZero() {
		dueOn = a.DueDate.Format("2006-01-02")
	}

	if err := s.gateway.CreateTask(ctx, projectID, "", name, notes, dueOn); err != nil {
		s.log.Error(fmt.Sprintf("activity task create for opportunity %s failed: %v", a.OpportunityID, err))
		s.audit(ctx, event, a.OpportunityID, db.OutcomeFailed, fmt.Sprintf("task create: %v", err))
		return nil
	}

	s.audit(ctx, event, a.OpportunityID, db.OutcomeTaskAdded, fmt.Sprintf("task %q added to project %s", name, projectID))
	return nil
}

// populateSections creates the catalog's sections in order. Each
// failure is logged and skipped independently: section creation never
// fails the parent workflow.
func (s *Service) populateSections(ctx context.Context, projectID string, catalog *workflow.Catalog) itemOutcomes {
	outcomes := itemOutcomes{}
	for _, name := range catalog.SectionNames() {
		_, err := s.gateway.CreateSection(ctx, projectID, name)
		if err != nil {
			s.log.Error(fmt.Sprintf("section %q create failed: %v", name, err))
		}
		outcomes = append(outcomes, itemOutcome{Name: name, Err: err})
	}
	return outcomes
}

// populateTasks creates the catalog's tasks, each placed in its
// section where the section can be resolved by name and unfiled
// otherwise. Partial success is the normal completion mode: per-task
// failures are logged and the loop continues.
func (s *Service) populateTasks(ctx context.Context, projectID string, catalog *workflow.Catalog) itemOutcomes {

	// Resolve section name to id before task placement. On failure the
	// tasks are created unfiled rather than failing the workflow.
	sectionIDs := map[string]string{}
	sections, err := s.gateway.ListSections(ctx, projectID)
	if err != nil {
		s.log.Error(fmt.Sprintf("section list for project %s failed, creating tasks unfiled: %v", projectID, err))
	}
	for _, section := range sections {
		sectionIDs[section.Name] = section.GID
	}

	outcomes := itemOutcomes{}
	for _, section := range catalog.Sections {
		sectionID := sectionIDs[section.Name]
		for _, task := range section.Tasks {
			err := s.gateway.CreateTask(ctx, projectID, sectionID, task.Name, task.Notes, "")
			if err != nil {
				s.log.Error(fmt.Sprintf("task %q create failed: %v", task.Name, err))
			}
			outcomes = append(outcomes, itemOutcome{Name: task.Name, Err: err})
		}
	}
	return outcomes
}

// itemOutcome is the per-item result of a best-effort loop.
type itemOutcome struct {
	Name string
	Err  error
}

// itemOutcomes summarises a best-effort loop.
type itemOutcomes []itemOutcome

// String reports outcomes as "succeeded/total", eg "7/8".
func (io itemOutcomes) String() string {
	var ok int
	for _, o := range io {
		if o.Err == nil {
			ok++
		}
	}
	return fmt.Sprintf("%d/%d", ok, len(io))
}

// ignore logs and audits a delivery that produces no side effect.
func (s *Service) ignore(ctx context.Context, event *pipeliner.Event, detail string) {
	s.log.Info(fmt.Sprintf("delivery ignored: %s", detail))
	s.audit(ctx, event, "", db.OutcomeIgnored, detail)
}

// audit records the delivery outcome; audit failures are logged, never
// surfaced, since the delivery itself has already been handled.
func (s *Service) audit(ctx context.Context, event *pipeliner.Event, opportunityID, outcome, detail string) {
	err := s.store.DeliveryInsert(ctx, db.Delivery{
		Entity:        event.Entity,
		Action:        event.Action,
		OpportunityID: opportunityID,
		Outcome:       outcome,
		Detail:        detail,
	})
	if err != nil {
		s.log.Error(fmt.Sprintf("delivery audit write failed: %v", err))
	}
}

// SampleOpportunity returns the synthetic opportunity used by the test
// trigger endpoint and CLI command.
func SampleOpportunity() *pipeliner.Opportunity {
	return &pipeliner.Opportunity{
		ID:            "TEST-0001",
		Name:          "Acme Line Upgrade",
		AccountName:   "Acme Corp",
		Value:         60000,
		Probability:   70,
		Stage:         "Proposal",
		Owner:         "Test Owner",
		Description:   "Synthetic opportunity generated by the test trigger.",
		JobNumber:     "J-TEST",
		JobStatus:     "Quoted",
		EquipmentType: "Conveyor",
		Facility:      "Plant 1",
	}
}

// NewTestEvent wraps an opportunity in a synthetic "created" event.
func NewTestEvent(o *pipeliner.Opportunity) (*pipeliner.Event, error) {
	data, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("could not marshal test opportunity: %w", err)
	}
	return &pipeliner.Event{
		Entity: "Opportunity",
		Action: "created",
		Data:   data,
	}, nil
}
