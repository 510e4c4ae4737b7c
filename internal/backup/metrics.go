package backup

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	backupsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dbvault",
		Name:      "backups_completed_total",
		Help:      "Backups completed successfully, by trigger.",
	}, []string{"trigger"})

	backupsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dbvault",
		Name:      "backups_failed_total",
		Help:      "Backups that ended in FAILED, by trigger.",
	}, []string{"trigger"})

	restoresCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dbvault",
		Name:      "restores_completed_total",
		Help:      "Restores completed successfully, by mode.",
	}, []string{"mode"})

	restoresFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dbvault",
		Name:      "restores_failed_total",
		Help:      "Restores that ended in FAILED, by mode.",
	}, []string{"mode"})

	scheduleRuns = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dbvault",
		Name:      "schedule_runs_total",
		Help:      "Backups started by the scheduler.",
	})

	retentionDeletes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dbvault",
		Name:      "retention_deletes_total",
		Help:      "Backups removed by retention cleanup.",
	})
)
