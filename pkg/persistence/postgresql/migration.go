package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Flow definitions, immutable per (id, version)
			CREATE TABLE flows (
				id VARCHAR(255) NOT NULL,
				version INTEGER NOT NULL,
				name VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL,
				start_node_id VARCHAR(255) NOT NULL,
				nodes JSONB NOT NULL DEFAULT '[]',
				edges JSONB NOT NULL DEFAULT '[]',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (id, version)
			);

			CREATE INDEX idx_flows_status ON flows(status);

			-- Flow sessions, one row per runtime instance
			CREATE TABLE flow_sessions (
				id VARCHAR(255) PRIMARY KEY,
				flow_id VARCHAR(255) NOT NULL,
				flow_version INTEGER NOT NULL,
				conversation_id VARCHAR(255) NOT NULL,
				contact_id VARCHAR(255) NOT NULL DEFAULT '',
				channel_type VARCHAR(100) NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL,
				current_node_id VARCHAR(255) NOT NULL DEFAULT '',
				trigger_node_id VARCHAR(255) NOT NULL DEFAULT '',
				execution_path JSONB NOT NULL DEFAULT '[]',
				branch_history JSONB NOT NULL DEFAULT '[]',
				session_data JSONB NOT NULL DEFAULT '{}',
				node_state JSONB NOT NULL DEFAULT '{}',
				waiting_context JSONB,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				last_activity_at TIMESTAMP WITH TIME ZONE NOT NULL,
				paused_at TIMESTAMP WITH TIME ZONE,
				resumed_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				expires_at TIMESTAMP WITH TIME ZONE,
				node_executions INTEGER NOT NULL DEFAULT 0,
				user_interactions INTEGER NOT NULL DEFAULT 0,
				error_count INTEGER NOT NULL DEFAULT 0,
				last_error TEXT NOT NULL DEFAULT '',
				schema_version INTEGER NOT NULL DEFAULT 1
			);

			-- At most one live session per (flow, conversation)
			CREATE UNIQUE INDEX idx_flow_sessions_live
				ON flow_sessions(flow_id, conversation_id)
				WHERE status IN ('active', 'waiting', 'paused');

			CREATE INDEX idx_flow_sessions_conversation ON flow_sessions(conversation_id);
			CREATE INDEX idx_flow_sessions_status ON flow_sessions(status);
			CREATE INDEX idx_flow_sessions_last_activity ON flow_sessions(last_activity_at);

			-- Session cursors, exactly one per session
			CREATE TABLE session_cursors (
				session_id VARCHAR(255) PRIMARY KEY REFERENCES flow_sessions(id) ON DELETE CASCADE,
				current_node_id VARCHAR(255) NOT NULL DEFAULT '',
				previous_node_id VARCHAR(255) NOT NULL DEFAULT '',
				next_node_ids JSONB NOT NULL DEFAULT '[]',
				loop_counts JSONB NOT NULL DEFAULT '{}',
				wait JSONB,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				schema_version INTEGER NOT NULL DEFAULT 1
			);

			CREATE INDEX idx_session_cursors_wait_timeout
				ON session_cursors(((wait->>'timeout_at')::timestamptz))
				WHERE wait IS NOT NULL;

			-- Scoped variables; the empty-string qualifiers make the
			-- uniqueness constraint scope-aware without NULL special cases
			CREATE TABLE session_variables (
				id VARCHAR(255) PRIMARY KEY,
				scope VARCHAR(50) NOT NULL,
				key VARCHAR(255) NOT NULL,
				value BYTEA,
				value_type VARCHAR(50) NOT NULL DEFAULT 'json',
				encrypted BOOLEAN NOT NULL DEFAULT FALSE,
				session_id VARCHAR(255) NOT NULL DEFAULT '',
				flow_id VARCHAR(255) NOT NULL DEFAULT '',
				node_id VARCHAR(255) NOT NULL DEFAULT '',
				contact_id VARCHAR(255) NOT NULL DEFAULT '',
				expires_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				UNIQUE (scope, key, session_id, flow_id, node_id, contact_id)
			);

			CREATE INDEX idx_session_variables_session ON session_variables(session_id);
			CREATE INDEX idx_session_variables_contact ON session_variables(contact_id);
			CREATE INDEX idx_session_variables_expires ON session_variables(expires_at);

			-- Append-only node execution audit trail
			CREATE TABLE step_executions (
				id VARCHAR(255) PRIMARY KEY,
				session_id VARCHAR(255) NOT NULL,
				node_id VARCHAR(255) NOT NULL,
				node_type VARCHAR(100) NOT NULL,
				order_index INTEGER NOT NULL,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				finished_at TIMESTAMP WITH TIME ZONE,
				duration_ms BIGINT NOT NULL DEFAULT 0,
				status VARCHAR(50) NOT NULL,
				input JSONB,
				output JSONB,
				error_message TEXT NOT NULL DEFAULT '',
				retry_count INTEGER NOT NULL DEFAULT 0,
				max_retries INTEGER NOT NULL DEFAULT 0
			);

			CREATE INDEX idx_step_executions_session ON step_executions(session_id, order_index, started_at);

			-- Follow-up schedules, always pinned to an absolute instant
			CREATE TABLE follow_up_schedules (
				id VARCHAR(255) PRIMARY KEY,
				session_id VARCHAR(255) NOT NULL,
				flow_id VARCHAR(255) NOT NULL DEFAULT '',
				node_id VARCHAR(255) NOT NULL DEFAULT '',
				condition VARCHAR(100) NOT NULL,
				scheduled_for TIMESTAMP WITH TIME ZONE NOT NULL,
				cron_expression VARCHAR(255) NOT NULL DEFAULT '',
				channel_type VARCHAR(100) NOT NULL DEFAULT '',
				content JSONB,
				status VARCHAR(50) NOT NULL,
				attempts INTEGER NOT NULL DEFAULT 0,
				max_attempts INTEGER NOT NULL DEFAULT 3,
				last_attempt_at TIMESTAMP WITH TIME ZONE,
				last_error TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_follow_up_schedules_due ON follow_up_schedules(status, scheduled_for);
			CREATE INDEX idx_follow_up_schedules_session ON follow_up_schedules(session_id);
		`,
	}
}
