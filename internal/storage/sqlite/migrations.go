package sqlite

// Schema defines the SQLite database schema
const Schema = `
-- SLA definition catalog
CREATE TABLE IF NOT EXISTS sla_definitions (
	id TEXT PRIMARY KEY,
	slug TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	objective_type TEXT NOT NULL,
	target_numeric REAL NOT NULL,
	threshold_operator TEXT NOT NULL,
	window_minutes INTEGER NOT NULL,
	enabled BOOLEAN NOT NULL DEFAULT 1,
	query TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Monitored units, one per definition/scope pair, created lazily on first
-- evaluation
CREATE TABLE IF NOT EXISTS sla_instances (
	id TEXT PRIMARY KEY,
	definition_id TEXT NOT NULL,
	workflow_id TEXT NOT NULL DEFAULT '',
	entity_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'active',
	last_evaluated TIMESTAMP,
	current_value REAL NOT NULL DEFAULT 0,
	breach_count INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (definition_id, workflow_id, entity_id),
	FOREIGN KEY (definition_id) REFERENCES sla_definitions(id)
);

CREATE INDEX IF NOT EXISTS idx_instances_definition ON sla_instances(definition_id);
CREATE INDEX IF NOT EXISTS idx_instances_status ON sla_instances(status);

-- Breach episodes. The partial unique index is the shared-resource policy:
-- at most one open or acknowledged breach per instance, enforced here so
-- concurrent evaluators need no application-level locking.
CREATE TABLE IF NOT EXISTS breaches (
	id TEXT PRIMARY KEY,
	sla_instance_id TEXT NOT NULL,
	breach_value REAL NOT NULL,
	target_value REAL NOT NULL,
	severity TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'open',
	detected_at TIMESTAMP NOT NULL,
	acknowledged_at TIMESTAMP,
	acknowledged_by TEXT NOT NULL DEFAULT '',
	resolved_at TIMESTAMP,
	resolution_notes TEXT NOT NULL DEFAULT '',
	escalation_level INTEGER NOT NULL DEFAULT 1,
	FOREIGN KEY (sla_instance_id) REFERENCES sla_instances(id)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_breaches_one_open
	ON breaches(sla_instance_id) WHERE status IN ('open', 'acknowledged');
CREATE INDEX IF NOT EXISTS idx_breaches_status ON breaches(status);
CREATE INDEX IF NOT EXISTS idx_breaches_severity ON breaches(severity);
CREATE INDEX IF NOT EXISTS idx_breaches_detected_at ON breaches(detected_at DESC);

-- Append-only event envelopes. fanned_out_at marks that delivery attempts
-- were materialized; delivered_count is the only other mutable column.
CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	version INTEGER NOT NULL DEFAULT 1,
	occurred_at TIMESTAMP NOT NULL,
	data_json TEXT NOT NULL,
	source TEXT NOT NULL DEFAULT '',
	schema TEXT NOT NULL DEFAULT '',
	delivered_count INTEGER NOT NULL DEFAULT 0,
	fanned_out_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
CREATE INDEX IF NOT EXISTS idx_events_occurred_at ON events(occurred_at DESC);
CREATE INDEX IF NOT EXISTS idx_events_unfanned ON events(created_at) WHERE fanned_out_at IS NULL;

-- Webhook subscriptions
CREATE TABLE IF NOT EXISTS endpoints (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL,
	secret TEXT NOT NULL DEFAULT '',
	secret_hash TEXT NOT NULL DEFAULT '',
	active BOOLEAN NOT NULL DEFAULT 1,
	events_json TEXT NOT NULL DEFAULT '[]',
	failure_count INTEGER NOT NULL DEFAULT 0,
	last_failure_at TIMESTAMP,
	last_success_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_endpoints_active ON endpoints(active);

-- Delivery attempt audit trail, one row per HTTP call made or scheduled
CREATE TABLE IF NOT EXISTS delivery_attempts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id TEXT NOT NULL,
	endpoint_id TEXT NOT NULL,
	attempt_number INTEGER NOT NULL DEFAULT 1,
	status TEXT NOT NULL DEFAULT 'pending',
	response_status INTEGER NOT NULL DEFAULT 0,
	response_body TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	latency_ms INTEGER NOT NULL DEFAULT 0,
	next_attempt_at TIMESTAMP NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	FOREIGN KEY (event_id) REFERENCES events(id),
	FOREIGN KEY (endpoint_id) REFERENCES endpoints(id)
);

CREATE INDEX IF NOT EXISTS idx_attempts_due ON delivery_attempts(status, next_attempt_at);
CREATE INDEX IF NOT EXISTS idx_attempts_event ON delivery_attempts(event_id);
CREATE INDEX IF NOT EXISTS idx_attempts_endpoint ON delivery_attempts(endpoint_id);
`
