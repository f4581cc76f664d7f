package ingest

import "time"

// AccountReport summarizes one account within a run.
type AccountReport struct {
	Email         string `json:"email"`
	Candidates    int    `json:"candidates"`
	Skipped       int    `json:"skipped"`
	Processed     int    `json:"processed"`
	Filtered      int    `json:"filtered"`
	JobsFound     int    `json:"jobs_found"`
	JobsEnqueued  int    `json:"jobs_enqueued"`
	FetchErrors   int    `json:"fetch_errors"`
	MessageErrors int    `json:"message_errors"`
	HistoryID     string `json:"history_id,omitempty"`
	Error         string `json:"error,omitempty"`
}

// RunReport summarizes one ingestion run.
type RunReport struct {
	RunID             string          `json:"run_id"`
	StartedAt         time.Time       `json:"started_at"`
	FinishedAt        time.Time       `json:"finished_at"`
	Accounts          []AccountReport `json:"accounts"`
	MessagesProcessed int             `json:"messages_processed"`
	JobsFound         int             `json:"jobs_found"`
	JobsEnqueued      int             `json:"jobs_enqueued"`
	Errors            int             `json:"errors"`
}

func (r *RunReport) add(account AccountReport) {
	r.Accounts = append(r.Accounts, account)
	r.MessagesProcessed += account.Processed
	r.JobsFound += account.JobsFound
	r.JobsEnqueued += account.JobsEnqueued
	r.Errors += account.FetchErrors + account.MessageErrors
	if account.Error != "" {
		r.Errors++
	}
}
