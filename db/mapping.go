package db

// mapping.go deals with the opportunity-to-project mapping store and
// the delivery audit log.

import (
	"context"
	"database/sql"
	"fmt"
)

// Delivery outcome values recorded in the audit log.
const (
	OutcomeCreated   = "created"    // a project was created
	OutcomeUpdated   = "updated"    // an existing project was updated
	OutcomeTaskAdded = "task-added" // an activity task was appended
	OutcomeIgnored   = "ignored"    // unrecognized entity/action pair
	OutcomeDropped   = "dropped"    // no mapping to resolve against
	OutcomeFailed    = "failed"     // the delivery failed
	OutcomeSkipped   = "skipped"    // dry-run, no outbound call made
)

// Mapping is the association of a Pipeliner opportunity with the Asana
// project created for it.
type Mapping struct {
	OpportunityID string `db:"opportunity_id"`
	ProjectID     string `db:"project_id"`
	CreatedAt     string `db:"created_at"`
}

// Delivery is one audited inbound webhook delivery.
type Delivery struct {
	ID            int    `db:"id"`
	ReceivedAt    string `db:"received_at"`
	Entity        string `db:"entity"`
	Action        string `db:"action"`
	OpportunityID string `db:"opportunity_id"`
	Outcome       string `db:"outcome"`
	Detail        string `db:"detail"`
}

// GetProject returns the project id mapped to the given opportunity,
// or sql.ErrNoRows if no mapping is stored.
func (db *DB) GetProject(ctx context.Context, opportunityID string) (string, error) {

	stmt := db.mappingGetStmt
	namedArgs := map[string]any{
		"OpportunityID": opportunityID,
	}
	if err := stmt.verifyArgs(namedArgs); err != nil {
		return "", err
	}

	var mapping Mapping
	err := stmt.GetContext(ctx, &mapping, namedArgs)
	logQuery("mapping_get", stmt, namedArgs, err)
	if err == sql.ErrNoRows {
		return "", sql.ErrNoRows
	}
	if err != nil {
		return "", fmt.Errorf("mapping select error: %w", err)
	}
	return mapping.ProjectID, nil
}

// PutProject records the project created for an opportunity with
// compare-and-set semantics: if a concurrent delivery already mapped
// the opportunity, the stored project id wins and is returned with
// inserted false. The caller can then treat its own project as a
// duplicate.
func (db *DB) PutProject(ctx context.Context, opportunityID, projectID string) (winner string, inserted bool, err error) {

	stmt := db.mappingPutStmt
	namedArgs := map[string]any{
		"OpportunityID": opportunityID,
		"ProjectID":     projectID,
	}
	if err := stmt.verifyArgs(namedArgs); err != nil {
		return "", false, err
	}

	res, err := stmt.ExecContext(ctx, namedArgs)
	logQuery("mapping_put", stmt, namedArgs, err)
	if err != nil {
		return "", false, fmt.Errorf("mapping insert error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", false, fmt.Errorf("mapping insert rows affected error: %w", err)
	}
	if n == 1 {
		return projectID, true, nil
	}

	// Lost the race: read back the winning row.
	winner, err = db.GetProject(ctx, opportunityID)
	if err != nil {
		return "", false, fmt.Errorf("mapping winner read-back error: %w", err)
	}
	return winner, false, nil
}

// MappingsGet lists stored mappings, newest first, returning
// sql.ErrNoRows if none are stored.
func (db *DB) MappingsGet(ctx context.Context, limit int) ([]Mapping, error) {

	stmt := db.mappingsGetStmt
	namedArgs := map[string]any{
		"HereLimit": limit,
	}
	if err := stmt.verifyArgs(namedArgs); err != nil {
		return nil, err
	}

	var mappings []Mapping
	err := stmt.SelectContext(ctx, &mappings, namedArgs)
	logQuery("mappings", stmt, namedArgs, err)
	if err != nil {
		return nil, fmt.Errorf("mappings select error: %w", err)
	}
	if len(mappings) == 0 {
		return nil, sql.ErrNoRows
	}
	return mappings, nil
}

// DeliveryInsert records the outcome of an inbound webhook delivery in
// the audit log.
func (db *DB) DeliveryInsert(ctx context.Context, d Delivery) error {

	stmt := db.deliveryInsertStmt
	namedArgs := map[string]any{
		"Entity":        d.Entity,
		"Action":        d.Action,
		"OpportunityID": d.OpportunityID,
		"Outcome":       d.Outcome,
		"Detail":        d.Detail,
	}
	if err := stmt.verifyArgs(namedArgs); err != nil {
		return err
	}

	_, err := stmt.ExecContext(ctx, namedArgs)
	logQuery("delivery_insert", stmt, namedArgs, err)
	if err != nil {
		return fmt.Errorf("delivery insert error: %w", err)
	}
	return nil
}

// DeliveriesGet lists recent deliveries, newest first, returning
// sql.ErrNoRows if none are recorded.
func (db *DB) DeliveriesGet(ctx context.Context, limit int) ([]Delivery, error) {

	stmt := db.deliveriesGetStmt
	namedArgs := map[string]any{
		"HereLimit": limit,
	}
	if err := stmt.verifyArgs(namedArgs); err != nil {
		return nil, err
	}

	var deliveries []Delivery
	err := stmt.SelectContext(ctx, &deliveries, namedArgs)
	logQuery("deliveries", stmt, namedArgs, err)
	if err != nil {
		return nil, fmt.Errorf("deliveries select error: %w", err)
	}
	if len(deliveries) == 0 {
		return nil, sql.ErrNoRows
	}
	return deliveries, nil
}
