package handler

type WorkflowParams struct {
	Workflow string `param:"workflow"`
}

type RunParams struct {
	RunID string `param:"run_id"`
	Job   string `param:"job"`
}

type ListRunsParams struct {
	Workflow string `query:"workflow"`
	Page     int64  `query:"page"`
	PerPage  int64  `query:"per_page"`
}
