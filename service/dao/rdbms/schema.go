package rdbms

// Schema lists the MySQL DDL statements backing the store. active_key holds
// the transaction id while an instance is Requested and NULL afterwards; its
// UNIQUE index enforces one active instance per transaction. row_seq orders
// instances of a transaction by insertion since created_at may tie.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS approval_instance (
  id             VARCHAR(64)  NOT NULL PRIMARY KEY,
  row_seq        BIGINT       NOT NULL AUTO_INCREMENT,
  transaction_id VARCHAR(128) NOT NULL,
  active_key     VARCHAR(128) NULL,
  workflow       VARCHAR(128) NOT NULL DEFAULT '',
  status         VARCHAR(16)  NOT NULL,
  initiator_id   VARCHAR(128) NOT NULL,
  version        INT          NOT NULL,
  current_order  INT          NOT NULL,
  history_seq    INT          NOT NULL DEFAULT 0,
  criteria       JSON         NULL,
  conditions     JSON         NULL,
  created_at     DATETIME(6)  NOT NULL,
  updated_at     DATETIME(6)  NOT NULL,
  finalized_at   DATETIME(6)  NULL,
  UNIQUE KEY uk_approval_instance_seq (row_seq),
  UNIQUE KEY uk_approval_instance_active (active_key),
  KEY ix_approval_instance_tx (transaction_id, row_seq)
)`,
	`CREATE TABLE IF NOT EXISTS approval_step (
  instance_id VARCHAR(64)  NOT NULL,
  id          VARCHAR(64)  NOT NULL,
  role        VARCHAR(128) NOT NULL,
  step_order  INT          NOT NULL,
  parallel    TINYINT(1)   NOT NULL DEFAULT 0,
  status      VARCHAR(16)  NOT NULL,
  acted_by    VARCHAR(128) NULL,
  acted_at    DATETIME(6)  NULL,
  comment     TEXT         NULL,
  PRIMARY KEY (instance_id, id)
)`,
	`CREATE TABLE IF NOT EXISTS approval_history (
  instance_id    VARCHAR(64)  NOT NULL,
  seq            INT          NOT NULL,
  id             VARCHAR(64)  NOT NULL,
  transaction_id VARCHAR(128) NOT NULL,
  actor_id       VARCHAR(128) NOT NULL,
  action_type    VARCHAR(16)  NOT NULL,
  step_id        VARCHAR(64)  NULL,
  comment        TEXT         NULL,
  created_at     DATETIME(6)  NOT NULL,
  PRIMARY KEY (instance_id, seq)
)`,
}

const (
	instanceColumns = "id, transaction_id, workflow, status, initiator_id, version, current_order, criteria, conditions, created_at, updated_at, finalized_at"
	stepColumns     = "id, role, step_order, parallel, status, acted_by, acted_at, comment"
	historyColumns  = "seq, id, instance_id, transaction_id, actor_id, action_type, step_id, comment, created_at"

	insertInstanceSQL = "INSERT INTO approval_instance (id, transaction_id, active_key, workflow, status, initiator_id, version, current_order, history_seq, criteria, conditions, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
	insertStepSQL     = "INSERT INTO approval_step (instance_id, " + stepColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)"
	insertHistorySQL  = "INSERT INTO approval_history (" + historyColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)"

	touchInstanceSQL  = "UPDATE approval_instance SET version = version + 1, history_seq = history_seq + ?, updated_at = ? WHERE id = ?"
	updateStepSQL     = "UPDATE approval_step SET status = ?, acted_by = ?, acted_at = ?, comment = ? WHERE instance_id = ? AND id = ? AND status = ?"
	stepStatusSQL     = "SELECT status FROM approval_step WHERE instance_id = ? AND id = ?"
	advanceSQL        = "UPDATE approval_instance SET status = COALESCE(NULLIF(?, ''), status), active_key = IF(?, NULL, active_key), current_order = ?, finalized_at = COALESCE(?, finalized_at), updated_at = ?, version = version + 1, history_seq = history_seq + ? WHERE id = ? AND version = ?"
	versionSQL        = "SELECT version FROM approval_instance WHERE id = ?"
	cancelPendingSQL  = "UPDATE approval_step SET status = ? WHERE instance_id = ? AND status = ?"
	bumpHistorySQL    = "UPDATE approval_instance SET history_seq = history_seq + 1 WHERE id = ?"
	historySeqSQL     = "SELECT history_seq FROM approval_instance WHERE id = ?"
	latestInstanceSQL = "SELECT " + instanceColumns + " FROM approval_instance WHERE transaction_id = ? ORDER BY row_seq DESC LIMIT 1"
	listInstancesSQL  = "SELECT " + instanceColumns + " FROM approval_instance i WHERE NOT EXISTS (SELECT 1 FROM approval_instance x WHERE x.transaction_id = i.transaction_id AND x.row_seq > i.row_seq) ORDER BY transaction_id, row_seq DESC"
	selectStepsSQL    = "SELECT " + stepColumns + " FROM approval_step WHERE instance_id = ? ORDER BY step_order, id"
	selectHistorySQL  = "SELECT " + historyColumns + " FROM approval_history WHERE instance_id = ? ORDER BY seq"
)
