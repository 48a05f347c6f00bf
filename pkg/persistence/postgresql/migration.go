package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Workflow definitions, stored whole as JSONB
			CREATE TABLE workflows (
				id VARCHAR(255) PRIMARY KEY,
				platform VARCHAR(255),
				body JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				expires_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflows_platform ON workflows(platform);
			CREATE INDEX idx_workflows_expires_at ON workflows(expires_at);

			-- Execution records
			CREATE TABLE executions (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL,
				body JSONB NOT NULL,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				expires_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_executions_workflow_id ON executions(workflow_id);
			CREATE INDEX idx_executions_status ON executions(status);
			CREATE INDEX idx_executions_expires_at ON executions(expires_at);
		`,
	}
}
