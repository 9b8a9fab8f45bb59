package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"sitepilot/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound     = errors.New("not found")
	ErrUnknownTable = errors.New("unknown table")
)

func (r Repo) InsertCompany(ctx context.Context, c domain.Company) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO companies(id,name,status,created_at) VALUES (?,?,?,?)`,
		c.ID, c.Name, c.Status, c.CreatedAt)
	return err
}

func (r Repo) GetCompany(ctx context.Context, id string) (domain.Company, error) {
	var c domain.Company
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,status,created_at FROM companies WHERE id=?`, id).
		Scan(&c.ID, &c.Name, &c.Status, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) UpsertMembership(ctx context.Context, m domain.Membership) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO company_members(company_id,user_id,role,active,created_at) VALUES (?,?,?,?,?)
ON CONFLICT(company_id,user_id) DO UPDATE SET role=excluded.role, active=excluded.active`,
		m.CompanyID, m.UserID, m.Role, boolToInt(m.Active), m.CreatedAt)
	return err
}

// ActiveMembership returns the caller's single active company membership.
// Every write downstream of the orchestrator is scoped to this company.
func (r Repo) ActiveMembership(ctx context.Context, userID string) (domain.Membership, error) {
	var m domain.Membership
	var active int
	err := r.DB.QueryRowContext(ctx,
		`SELECT company_id,user_id,role,active,created_at FROM company_members WHERE user_id=? AND active=1 ORDER BY created_at LIMIT 1`,
		userID).Scan(&m.CompanyID, &m.UserID, &m.Role, &active, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	m.Active = active != 0
	return m, err
}

func (r Repo) InsertProject(ctx context.Context, p domain.Project) error {
	if p.SchemaVariant == "" {
		p.SchemaVariant = "standard"
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO projects(id,company_id,name,status,schema_variant,created_at) VALUES (?,?,?,?,?,?)`,
		p.ID, p.CompanyID, p.Name, p.Status, p.SchemaVariant, p.CreatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	var p domain.Project
	err := r.DB.QueryRowContext(ctx, `SELECT id,company_id,name,status,schema_variant,created_at FROM projects WHERE id=?`, id).
		Scan(&p.ID, &p.CompanyID, &p.Name, &p.Status, &p.SchemaVariant, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) ListProjects(ctx context.Context, companyID string) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,company_id,name,status,schema_variant,created_at FROM projects WHERE company_id=? ORDER BY created_at DESC`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.CompanyID, &p.Name, &p.Status, &p.SchemaVariant, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func scanTask(rows *sql.Rows) (domain.Task, error) {
	var t domain.Task
	var desc, priority, assigned, start, due sql.NullString
	err := rows.Scan(&t.ID, &t.ProjectID, &t.CompanyID, &t.Title, &desc, &t.Status, &priority,
		&assigned, &start, &due, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return t, err
	}
	t.Description = desc.String
	t.Priority = priority.String
	if assigned.Valid {
		t.AssignedTo = &assigned.String
	}
	if start.Valid {
		t.StartDate = &start.String
	}
	if due.Valid {
		t.DueDate = &due.String
	}
	return t, nil
}

// ListTasks reads from the task table the routing policy picked for the
// project.
func (r Repo) ListTasks(ctx context.Context, table, projectID string) ([]domain.Task, error) {
	if table != "tasks" && table != "project_tasks" {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,project_id,company_id,title,description,status,priority,assigned_to,start_date,due_date,created_by,created_at,updated_at FROM `+
			table+` WHERE project_id=? ORDER BY created_at DESC, id DESC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) CountTasks(ctx context.Context, table, projectID string) (int, error) {
	if table != "tasks" && table != "project_tasks" {
		return 0, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table+` WHERE project_id=?`, projectID).Scan(&n)
	return n, err
}

func (r Repo) ProjectBudgetTotal(ctx context.Context, projectID string) (float64, error) {
	var total sql.NullFloat64
	err := r.DB.QueryRowContext(ctx, `SELECT SUM(amount) FROM cost_tracking WHERE project_id=?`, projectID).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total.Float64, nil
}

func (r Repo) ListQualityChecks(ctx context.Context, projectID string) ([]domain.QualityCheck, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,project_id,name,status,due_date,created_at,updated_at FROM quality_checks WHERE project_id=? ORDER BY created_at, id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.QualityCheck
	for rows.Next() {
		var q domain.QualityCheck
		var due sql.NullString
		if err := rows.Scan(&q.ID, &q.ProjectID, &q.Name, &q.Status, &due, &q.CreatedAt, &q.UpdatedAt); err != nil {
			return nil, err
		}
		if due.Valid {
			q.DueDate = &due.String
		}
		res = append(res, q)
	}
	return res, rows.Err()
}

func (r Repo) InsertQualityCheck(ctx context.Context, q domain.QualityCheck) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO quality_checks(id,project_id,name,status,due_date,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		q.ID, q.ProjectID, q.Name, q.Status, nullableStr(q.DueDate), q.CreatedAt, q.UpdatedAt)
	return err
}

func nullableStr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
