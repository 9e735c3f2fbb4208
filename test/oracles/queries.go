package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Oracle is a query that must return no rows while the system is healthy.
type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_single_dispute_per_round",
			SQL: `SELECT client_id, bureau, round, COUNT(*) FROM disputes
                  GROUP BY client_id, bureau, round HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_single_open_prep_task",
			SQL: `SELECT dedupe_key, COUNT(*) FROM tasks
                  WHERE status = 'OPEN' AND dedupe_key IS NOT NULL
                  GROUP BY dedupe_key HAVING COUNT(*) > 1`,
		},
		{
			Name: "O3_round_suggested_once",
			SQL: `SELECT client_id, detail, COUNT(*) FROM activity_logs
                  WHERE action = 'ROUND_SUGGESTED'
                  GROUP BY client_id, detail HAVING COUNT(*) > 1`,
		},
		{
			Name: "O4_reminder_sent_once",
			SQL: `SELECT client_id, detail, COUNT(*) FROM activity_logs
                  WHERE action = 'REMINDER_SENT'
                  GROUP BY client_id, detail HAVING COUNT(*) > 1`,
		},
		{
			Name: "O5_reminder_log_matches_activity",
			SQL: `SELECT r.dispute_id, r.day_mark FROM reminder_logs r
                  JOIN disputes d ON d.id = r.dispute_id
                  WHERE NOT EXISTS (
                      SELECT 1 FROM activity_logs a
                      WHERE a.action = 'REMINDER_SENT' AND a.client_id = d.client_id
                        AND a.detail = d.bureau || ' R' || d.round || ' ' || r.day_mark || 'd')`,
		},
		{
			Name: "O6_job_imported_once",
			SQL: `SELECT s.provider, s.n, j.n FROM
                      (SELECT provider, COUNT(*) AS n FROM report_snapshots GROUP BY provider) s
                  JOIN (SELECT provider, COUNT(*) AS n FROM provider_jobs WHERE status = 'DONE' GROUP BY provider) j
                      ON j.provider = s.provider
                  WHERE s.n <> j.n`,
		},
		{
			Name: "O7_round_cap",
			SQL:  `SELECT id, round FROM disputes WHERE round NOT BETWEEN 1 AND 3`,
		},
		{
			Name: "O8_activity_append_only_guard",
			SQL: `SELECT 'missing_append_only_trigger' AS detail
                  WHERE NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'activity_logs_no_mutation')`,
		},
	}
}

// Run executes every oracle and returns the first one that found rows,
// with that row rendered as text. An empty name means all passed.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		if rows.Next() {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
	}
	return "", "", nil
}
